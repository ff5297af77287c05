package config

import (
	"net"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPeerAddr        = "127.0.0.1:65534"
	DefaultLocalIP         = "127.0.0.1"
	ClientPortLower        = 32768
	ClientPortUpper        = 60999
	DefaultTTL             = 64
	DefaultWindowSize      = 5840
	DefaultRecvBufferSize  = 4096
	DefaultDataBufferSize  = 64 * 1024
	DefaultPayloadPoolSize = 64
	DefaultPreferredMSS    = 1460
)

// Socket backends understood by the client.
const (
	BackendSyscall   = "syscall"   // raw descriptor driven through x/sys/unix
	BackendRawConn   = "rawconn"   // x/net/ipv4 RawConn
	BackendRawSocket = "rawsocket" // connection from a rawsocket core
)

// Config is the on-disk configuration of the raw TCP client.
type Config struct {
	PeerAddr        string `yaml:"peer_addr"`         // peer in ip:port form
	LocalIP         string `yaml:"local_ip"`          // source address written into outgoing IP headers
	LocalPort       int    `yaml:"local_port"`        // 0 means allocate from the client port range
	ClientPortLower int    `yaml:"client_port_lower"` // lower bound of the local port pool
	ClientPortUpper int    `yaml:"client_port_upper"` // upper bound of the local port pool
	TTL             uint8  `yaml:"ttl"`
	WindowSize      uint16 `yaml:"window_size"`
	RecvBufferSize  int    `yaml:"recv_buffer_size"`  // size of the raw receive buffer
	DataBufferSize  int    `yaml:"data_buffer_size"`  // size of the received application data ring buffer
	PayloadPoolSize int    `yaml:"payload_pool_size"` // number of outgoing payload chunks in the ring pool
	PreferredMSS    int    `yaml:"preferred_mss"`     // size of each payload chunk
	SocketBackend   string `yaml:"socket_backend"`
	FilterRst       bool   `yaml:"filter_rst"`        // install an iptables rule dropping kernel RSTs to the peer
	FilterComment   string `yaml:"filter_comment"`    // comment used to tag the filtering rules
	AppendNewline   bool   `yaml:"append_newline"`    // terminate every data payload with a line break
	VerifyChecksum  bool   `yaml:"verify_checksum"`   // drop inbound segments with a bad TCP checksum
	Debug           bool   `yaml:"debug"`
	PoolDebug       bool   `yaml:"pool_debug"`
}

func DefaultConfig() *Config {
	return &Config{
		PeerAddr:        DefaultPeerAddr,
		LocalIP:         DefaultLocalIP,
		ClientPortLower: ClientPortLower,
		ClientPortUpper: ClientPortUpper,
		TTL:             DefaultTTL,
		WindowSize:      DefaultWindowSize,
		RecvBufferSize:  DefaultRecvBufferSize,
		DataBufferSize:  DefaultDataBufferSize,
		PayloadPoolSize: DefaultPayloadPoolSize,
		PreferredMSS:    DefaultPreferredMSS,
		SocketBackend:   BackendSyscall,
		FilterRst:       true,
		FilterComment:   "RAWTCP: ",
		AppendNewline:   true,
	}
}

// LoadConfig reads a yaml file on top of the defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	conf := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return conf, nil
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate checks the values that cannot be repaired later on.
func (c *Config) Validate() error {
	host, port, err := net.SplitHostPort(c.PeerAddr)
	if err != nil {
		return errors.Wrapf(err, "invalid peer address %q", c.PeerAddr)
	}
	if ip := net.ParseIP(host); ip == nil || ip.To4() == nil {
		return errors.Errorf("peer address %q is not an IPv4 address", c.PeerAddr)
	}
	if p, err := strconv.Atoi(port); err != nil || p <= 0 || p > 65535 {
		return errors.Errorf("invalid peer port in %q", c.PeerAddr)
	}
	if ip := net.ParseIP(c.LocalIP); ip == nil || ip.To4() == nil {
		return errors.Errorf("local ip %q is not an IPv4 address", c.LocalIP)
	}
	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return errors.Errorf("invalid local port %d", c.LocalPort)
	}
	if c.ClientPortLower <= 0 || c.ClientPortUpper > 65535 || c.ClientPortLower > c.ClientPortUpper {
		return errors.Errorf("invalid client port range %d-%d", c.ClientPortLower, c.ClientPortUpper)
	}
	if c.RecvBufferSize < 40 {
		return errors.Errorf("receive buffer size %d cannot hold an IP and a TCP header", c.RecvBufferSize)
	}
	if c.DataBufferSize <= 0 || c.PayloadPoolSize <= 0 || c.PreferredMSS <= 0 {
		return errors.New("buffer and pool sizes must be positive")
	}
	switch c.SocketBackend {
	case BackendSyscall, BackendRawConn, BackendRawSocket:
	default:
		return errors.Errorf("unknown socket backend %q", c.SocketBackend)
	}
	return nil
}
