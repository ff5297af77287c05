package socket

import (
	"net"
	"net/netip"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
)

// RawConnSocket sends and receives through an ipv4.RawConn, which sets
// IP_HDRINCL itself.
type RawConnSocket struct {
	conn        *ipv4.RawConn
	recvTimeout time.Duration
}

func OpenRawConn(localIP string, recvTimeout time.Duration) (*RawConnSocket, error) {
	c, err := net.ListenPacket("ip4:tcp", localIP)
	if err != nil {
		return nil, errors.Wrapf(err, "listen ip4:tcp on %s", localIP)
	}
	r, err := ipv4.NewRawConn(c)
	if err != nil {
		c.Close()
		return nil, errors.Wrap(err, "create raw conn")
	}
	return &RawConnSocket{conn: r, recvTimeout: recvTimeout}, nil
}

// Recvfrom reassembles header and payload into buf.
func (s *RawConnSocket) Recvfrom(buf []byte) (int, error) {
	if s.recvTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.recvTimeout)); err != nil {
			return 0, errors.Wrap(err, "set read deadline")
		}
	}
	h, payload, _, err := s.conn.ReadFrom(buf)
	if err != nil {
		return 0, errors.Wrap(err, "read raw conn")
	}
	hdr, err := h.Marshal()
	if err != nil {
		return 0, errors.Wrap(err, "marshal received header")
	}
	if len(hdr)+len(payload) > len(buf) {
		return 0, errors.Errorf("datagram of %d bytes does not fit in %d", len(hdr)+len(payload), len(buf))
	}
	// payload may alias buf just after the header, so move it first
	copy(buf[len(hdr):], payload)
	copy(buf, hdr)
	return len(hdr) + len(payload), nil
}

func (s *RawConnSocket) Sendto(frame []byte, peer netip.AddrPort) (int, error) {
	h, err := ipv4.ParseHeader(frame)
	if err != nil {
		return 0, errors.Wrap(err, "parse outgoing header")
	}
	h.Dst = net.IP(peer.Addr().AsSlice())
	if err := s.conn.WriteTo(h, frame[h.Len:], nil); err != nil {
		return 0, errors.Wrapf(err, "write to %s", peer)
	}
	return len(frame), nil
}

func (s *RawConnSocket) Close() error {
	return s.conn.Close()
}
