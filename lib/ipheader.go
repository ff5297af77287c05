package lib

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"

	"github.com/pkg/errors"
)

// IPHeader holds an IPv4 header with every field in host order. Options are
// neither emitted nor interpreted.
type IPHeader struct {
	Version     uint8
	IHL         uint8 // header length in 32-bit words
	TOS         uint8
	TotalLength uint16
	ID          uint16
	FragOff     uint16 // flags and fragment offset
	TTL         uint8
	Protocol    uint8
	Checksum    uint16
	Src         netip.Addr
	Dst         netip.Addr
}

// NewIPHeader returns a header for a TCP segment carrying payloadLen bytes.
func NewIPHeader(payloadLen int, src, dst string) (*IPHeader, error) {
	srcAddr, err := parseIPv4(src)
	if err != nil {
		return nil, err
	}
	dstAddr, err := parseIPv4(dst)
	if err != nil {
		return nil, err
	}
	id, err := randomUint16()
	if err != nil {
		return nil, errors.Wrap(err, "generate ip identification")
	}

	return &IPHeader{
		Version:     IpVersion4,
		IHL:         IpHeaderLength / 4,
		TOS:         0,
		TotalLength: uint16(IpHeaderLength + TcpHeaderLength + payloadLen),
		ID:          id,
		FragOff:     0,
		TTL:         DefaultTTL,
		Protocol:    ProtocolTCP,
		Checksum:    0,
		Src:         srcAddr,
		Dst:         dstAddr,
	}, nil
}

// HeaderLen is the header size in bytes as announced by IHL.
func (h *IPHeader) HeaderLen() int {
	return int(h.IHL) * 4
}

// MarshalTo writes the 20-byte wire image of h into buf.
func (h *IPHeader) MarshalTo(buf []byte) error {
	if len(buf) < IpHeaderLength {
		return errors.Wrapf(ErrShortBuffer, "ip header needs %d bytes, got %d", IpHeaderLength, len(buf))
	}
	if !h.Src.Is4() || !h.Dst.Is4() {
		return errors.Wrap(ErrInvalidAddress, "ip header addresses must be IPv4")
	}

	buf[0] = h.Version<<4 | (IpHeaderLength/4)&0x0f
	buf[1] = h.TOS
	binary.BigEndian.PutUint16(buf[2:4], h.TotalLength)
	binary.BigEndian.PutUint16(buf[4:6], h.ID)
	binary.BigEndian.PutUint16(buf[6:8], h.FragOff)
	buf[8] = h.TTL
	buf[9] = h.Protocol
	binary.BigEndian.PutUint16(buf[10:12], h.Checksum)
	src, dst := h.Src.As4(), h.Dst.As4()
	copy(buf[12:16], src[:])
	copy(buf[16:20], dst[:])
	return nil
}

// ParseIPHeader decodes the header at the front of data. The length announced
// by IHL must fit in data.
func ParseIPHeader(data []byte) (*IPHeader, error) {
	if len(data) < IpHeaderLength {
		return nil, errors.Wrapf(ErrShortBuffer, "ip header: have %d bytes", len(data))
	}
	version := data[0] >> 4
	if version != IpVersion4 {
		return nil, errors.Wrapf(ErrNotIPv4, "version %d", version)
	}
	ihl := data[0] & 0x0f
	if ihl < IpHeaderLength/4 || int(ihl)*4 > len(data) {
		return nil, errors.Wrapf(ErrShortBuffer, "ip header length %d with %d bytes", int(ihl)*4, len(data))
	}

	h := &IPHeader{
		Version:     version,
		IHL:         ihl,
		TOS:         data[1],
		TotalLength: binary.BigEndian.Uint16(data[2:4]),
		ID:          binary.BigEndian.Uint16(data[4:6]),
		FragOff:     binary.BigEndian.Uint16(data[6:8]),
		TTL:         data[8],
		Protocol:    data[9],
		Checksum:    binary.BigEndian.Uint16(data[10:12]),
		Src:         netip.AddrFrom4([4]byte(data[12:16])),
		Dst:         netip.AddrFrom4([4]byte(data[16:20])),
	}
	return h, nil
}

func (h *IPHeader) String() string {
	return fmt.Sprintf("IP{%s -> %s ver=%d ihl=%d tos=%d len=%d id=%d frag=%#04x ttl=%d proto=%d csum=%#04x}",
		h.Src, h.Dst, h.Version, h.IHL, h.TOS, h.TotalLength, h.ID, h.FragOff, h.TTL, h.Protocol, h.Checksum)
}

func parseIPv4(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, errors.Wrapf(ErrInvalidAddress, "%q is not an IPv4 dotted quad", s)
	}
	return addr, nil
}

// randReader is the source for IP identifications and initial sequence numbers.
var randReader io.Reader = rand.Reader

func randomUint16() (uint16, error) {
	var v uint16
	if err := binary.Read(randReader, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}
