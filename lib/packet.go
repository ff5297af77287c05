package lib

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"

	rp "github.com/Clouded-Sabre/ringpool/lib"
	"github.com/pkg/errors"
)

// Packet is one outgoing IPv4/TCP datagram. Transitions mutate it in place and
// return it so they can be chained; the wire image is rebuilt by Serialize.
type Packet struct {
	IP      *IPHeader
	TCP     *TCPHeader
	Payload []byte

	buf   []byte      // wire image of the last Serialize
	dirty bool        // fields changed since buf was built
	chunk *rp.Element // pooled storage backing Payload, if any
}

// NewPacket builds a flagless packet from src:srcPort to dst:dstPort with a
// random initial sequence number.
func NewPacket(src string, srcPort uint16, dst string, dstPort uint16) (*Packet, error) {
	ip, err := NewIPHeader(0, src, dst)
	if err != nil {
		return nil, err
	}
	tcp, err := NewTCPHeader(srcPort, dstPort)
	if err != nil {
		return nil, err
	}
	return &Packet{IP: ip, TCP: tcp, dirty: true}, nil
}

// ToSyn turns the packet into the opening segment of the three-way handshake.
func (p *Packet) ToSyn() *Packet {
	p.TCP.Flags = SYNFlag
	p.dirty = true
	return p
}

// ToHandshakeAck answers a SYN+ACK: our sequence is what the peer acknowledged
// and we acknowledge the peer's SYN.
func (p *Packet) ToHandshakeAck(peerAck, peerSeq uint32) *Packet {
	p.TCP.Flags = ACKFlag
	p.TCP.Seq = peerAck
	p.TCP.Ack = SeqIncrement(peerSeq)
	p.dirty = true
	return p
}

// ToTeardownAck answers the peer's FIN+ACK. The FIN bit mirrors the peer's.
func (p *Packet) ToTeardownAck(peerAck, peerSeq uint32, peerFin bool) *Packet {
	p.TCP.Flags = ACKFlag
	if peerFin {
		p.TCP.Flags |= FINFlag
	}
	p.TCP.Seq = SeqIncrement(peerAck)
	p.TCP.Ack = SeqIncrement(peerSeq)
	p.dirty = true
	return p
}

// ToDataAck acknowledges payloadLen bytes received at peerSeq.
func (p *Packet) ToDataAck(peerSeq, peerAck uint32, payloadLen int) *Packet {
	p.TCP.Flags = ACKFlag
	p.TCP.Seq = peerAck
	p.TCP.Ack = SeqIncrementBy(peerSeq, uint32(payloadLen))
	p.dirty = true
	return p
}

// ToPush sets PSH+ACK and replaces the payload with a copy of data.
func (p *Packet) ToPush(data []byte) *Packet {
	p.TCP.Flags = PSHFlag | ACKFlag
	p.setPayload(data)
	p.dirty = true
	return p
}

func (p *Packet) ToFin() *Packet {
	p.TCP.Flags = FINFlag | ACKFlag
	p.dirty = true
	return p
}

// WithNumbers stamps the sequence and acknowledgment numbers of a locally
// initiated segment.
func (p *Packet) WithNumbers(seq, ack uint32) *Packet {
	p.TCP.Seq = seq
	p.TCP.Ack = ack
	p.dirty = true
	return p
}

// Len is the size of the serialized packet.
func (p *Packet) Len() int {
	return IpHeaderLength + TcpHeaderLength + len(p.Payload)
}

// Serialize zeroes both checksums, recomputes the TCP checksum over pseudo
// header, header and payload, then the IP checksum over the IP header, and
// returns the wire image. The returned slice is reused by later calls.
func (p *Packet) Serialize() ([]byte, error) {
	if !p.dirty && p.buf != nil {
		return p.buf, nil
	}

	tcpLength := TcpHeaderLength + len(p.Payload)
	total := IpHeaderLength + tcpLength
	if total > 0xffff {
		return nil, errors.Errorf("packet of %d bytes exceeds the IPv4 total length", total)
	}

	p.IP.IHL = IpHeaderLength / 4
	p.IP.TotalLength = uint16(total)
	p.IP.Checksum = 0
	p.TCP.DataOffset = TcpHeaderLength / 4
	p.TCP.Checksum = 0

	if cap(p.buf) < total {
		p.buf = make([]byte, total)
	}
	buf := p.buf[:total]

	if err := p.IP.MarshalTo(buf[:IpHeaderLength]); err != nil {
		return nil, err
	}
	segment := buf[IpHeaderLength:]
	if err := p.TCP.MarshalTo(segment[:TcpHeaderLength]); err != nil {
		return nil, err
	}
	copy(segment[TcpHeaderLength:], p.Payload)

	p.TCP.Checksum = SegmentChecksum(p.IP, segment)
	binary.BigEndian.PutUint16(segment[16:18], p.TCP.Checksum)

	p.IP.Checksum = CalculateChecksum(buf[:IpHeaderLength])
	binary.BigEndian.PutUint16(buf[10:12], p.IP.Checksum)

	p.buf = buf
	p.dirty = false
	return buf, nil
}

// ChecksumIsValid reports whether both checksums of the current wire image verify.
func (p *Packet) ChecksumIsValid() bool {
	frame, err := p.Serialize()
	if err != nil {
		return false
	}
	return ChecksumIsValid(frame[:IpHeaderLength]) && VerifySegmentChecksum(p.IP, frame[IpHeaderLength:])
}

// Release returns the pooled payload storage. The payload is unusable afterwards.
func (p *Packet) Release() {
	p.ReturnChunk()
	p.Payload = nil
}

func (p *Packet) ReturnChunk() {
	if p.chunk != nil {
		Pool.ReturnElement(p.chunk)
		p.chunk = nil
	}
}

func (p *Packet) setPayload(data []byte) {
	p.ReturnChunk()
	if len(data) == 0 {
		p.Payload = nil
		return
	}

	if Pool != nil {
		if chunk := Pool.GetElement(); chunk != nil {
			err := chunk.Data.(*Payload).Copy(data)
			if err == nil {
				p.chunk = chunk
				p.Payload = chunk.Data.(*Payload).GetSlice()
				return
			}
			log.Println("Packet.setPayload:", err)
			Pool.ReturnElement(chunk)
		}
	}
	p.Payload = bytes.Clone(data)
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s %s payload=%d", p.IP, p.TCP, len(p.Payload))
}
