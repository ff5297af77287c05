package lib

// Flag constants
const (
	URGFlag uint8 = 1 << 5
	ACKFlag uint8 = 1 << 4
	PSHFlag uint8 = 1 << 3
	RSTFlag uint8 = 1 << 2
	SYNFlag uint8 = 1 << 1
	FINFlag uint8 = 1 << 0
)

const (
	Red   = "\033[31m"
	Green = "\033[32m"
	Reset = "\033[0m"
)

const (
	ProtocolTCP           = 6
	IpVersion4            = 4
	IpHeaderLength        = 20 // options never emitted
	TcpHeaderLength       = 20 //options not included
	TcpPseudoHeaderLength = 12
	DefaultTTL            = 64
	DefaultWindowSize     = 5840
	DefaultRecvBufferSize = 4096
)
