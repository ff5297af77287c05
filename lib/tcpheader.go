package lib

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// TCPHeader is a fixed 20-byte TCP header. Fields are in host order.
type TCPHeader struct {
	SrcPort    uint16
	DstPort    uint16
	Seq        uint32
	Ack        uint32
	DataOffset uint8 // header length in 32-bit words
	Flags      uint8
	Window     uint16
	Checksum   uint16
	Urgent     uint16
}

// NewTCPHeader returns a header with a random initial sequence number and no flags set.
func NewTCPHeader(srcPort, dstPort uint16) (*TCPHeader, error) {
	isn, err := GenerateISN()
	if err != nil {
		return nil, errors.Wrap(err, "generate initial sequence number")
	}
	return &TCPHeader{
		SrcPort:    srcPort,
		DstPort:    dstPort,
		Seq:        isn,
		Ack:        0,
		DataOffset: TcpHeaderLength / 4,
		Flags:      0,
		Window:     DefaultWindowSize,
		Checksum:   0,
		Urgent:     0,
	}, nil
}

func GenerateISN() (uint32, error) {
	// Generate a random 32-bit value
	var isn uint32
	err := binary.Read(randReader, binary.BigEndian, &isn)
	if err != nil {
		return 0, err
	}
	return isn, nil
}

func (h *TCPHeader) HeaderLen() int {
	return int(h.DataOffset) * 4
}

// HasFlags reports whether every bit of mask is set.
func (h *TCPHeader) HasFlags(mask uint8) bool {
	return h.Flags&mask == mask
}

// MarshalTo writes the 20-byte wire image of h into buf.
func (h *TCPHeader) MarshalTo(buf []byte) error {
	if len(buf) < TcpHeaderLength {
		return errors.Wrapf(ErrShortBuffer, "tcp header needs %d bytes, got %d", TcpHeaderLength, len(buf))
	}
	binary.BigEndian.PutUint16(buf[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], h.DstPort)
	binary.BigEndian.PutUint32(buf[4:8], h.Seq)
	binary.BigEndian.PutUint32(buf[8:12], h.Ack)
	buf[12] = (TcpHeaderLength / 4) << 4
	buf[13] = h.Flags
	binary.BigEndian.PutUint16(buf[14:16], h.Window)
	binary.BigEndian.PutUint16(buf[16:18], h.Checksum)
	binary.BigEndian.PutUint16(buf[18:20], h.Urgent)
	return nil
}

// ParseTCPHeader decodes the header at the front of data. Options are skipped
// but the data offset must fit in data.
func ParseTCPHeader(data []byte) (*TCPHeader, error) {
	if len(data) < TcpHeaderLength {
		return nil, errors.Wrapf(ErrShortBuffer, "tcp header: have %d bytes", len(data))
	}
	doff := data[12] >> 4
	if doff < TcpHeaderLength/4 || int(doff)*4 > len(data) {
		return nil, errors.Wrapf(ErrShortBuffer, "tcp data offset %d with %d bytes", int(doff)*4, len(data))
	}
	return &TCPHeader{
		SrcPort:    binary.BigEndian.Uint16(data[0:2]),
		DstPort:    binary.BigEndian.Uint16(data[2:4]),
		Seq:        binary.BigEndian.Uint32(data[4:8]),
		Ack:        binary.BigEndian.Uint32(data[8:12]),
		DataOffset: doff,
		Flags:      data[13] & 0x3f,
		Window:     binary.BigEndian.Uint16(data[14:16]),
		Checksum:   binary.BigEndian.Uint16(data[16:18]),
		Urgent:     binary.BigEndian.Uint16(data[18:20]),
	}, nil
}

var flagNames = []struct {
	flag uint8
	name string
}{
	{URGFlag, "URG"},
	{ACKFlag, "ACK"},
	{PSHFlag, "PSH"},
	{RSTFlag, "RST"},
	{SYNFlag, "SYN"},
	{FINFlag, "FIN"},
}

// FlagString renders the flag bits, e.g. "SYN|ACK".
func FlagString(flags uint8) string {
	var names []string
	for _, f := range flagNames {
		if flags&f.flag != 0 {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, "|")
}

func (h *TCPHeader) String() string {
	return fmt.Sprintf("TCP{%d -> %d seq=%d ack=%d doff=%d flags=%s win=%d csum=%#04x urg=%d}",
		h.SrcPort, h.DstPort, h.Seq, h.Ack, h.DataOffset, FlagString(h.Flags), h.Window, h.Checksum, h.Urgent)
}
