package lib

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// PseudoHeader is the IPv4 pseudo header covered by the TCP checksum.
type PseudoHeader struct {
	Src       [4]byte
	Dst       [4]byte
	Protocol  uint8
	TCPLength uint16 // header plus payload
}

func NewPseudoHeader(ip *IPHeader, tcpLength int) PseudoHeader {
	return PseudoHeader{
		Src:       ip.Src.As4(),
		Dst:       ip.Dst.As4(),
		Protocol:  ip.Protocol,
		TCPLength: uint16(tcpLength),
	}
}

// MarshalTo assembles the pseudo header into a TcpPseudoHeaderLength buffer.
func (ph PseudoHeader) MarshalTo(buffer []byte) error {
	if len(buffer) != TcpPseudoHeaderLength {
		return errors.Errorf("tcp pseudo header buffer length(%d) is not %d", len(buffer), TcpPseudoHeaderLength)
	}
	copy(buffer[0:4], ph.Src[:])
	copy(buffer[4:8], ph.Dst[:])
	buffer[8] = 0
	buffer[9] = ph.Protocol
	binary.BigEndian.PutUint16(buffer[10:12], ph.TCPLength)
	return nil
}

func (ph PseudoHeader) Bytes() []byte {
	buf := make([]byte, TcpPseudoHeaderLength)
	_ = ph.MarshalTo(buf)
	return buf
}

// SegmentChecksum computes the TCP checksum of segment (header and payload)
// under the pseudo header derived from ip. The checksum field of segment must
// be zero.
func SegmentChecksum(ip *IPHeader, segment []byte) uint16 {
	ph := NewPseudoHeader(ip, len(segment))
	return CalculateChecksum(ph.Bytes(), segment)
}

// VerifySegmentChecksum checks a received TCP segment against its pseudo header.
func VerifySegmentChecksum(ip *IPHeader, segment []byte) bool {
	if len(segment) < TcpHeaderLength {
		return false
	}
	ph := NewPseudoHeader(ip, len(segment))
	return ChecksumIsValid(ph.Bytes(), segment)
}
