package socket

import (
	"net"
	"net/netip"
	"time"

	"github.com/Clouded-Sabre/raw-tcp/lib"
	rs "github.com/Clouded-Sabre/rawsocket/lib"
	"github.com/pkg/errors"
)

// RSCoreSocket goes through a rawsocket core. Connections from the core carry
// bare TCP segments: the IPv4 header is stripped on send and rebuilt on
// receive, and the kernel or the pcap session supplies the one on the wire.
type RSCoreSocket struct {
	conn        rs.RawConnection
	local       netip.Addr
	recvTimeout time.Duration
}

// OpenRSCore listens for TCP on localIP through core.
func OpenRSCore(core rs.RSCore, localIP string, recvTimeout time.Duration) (*RSCoreSocket, error) {
	if core == nil {
		return nil, errors.New("rawsocket backend needs a rawsocket core")
	}
	local, err := netip.ParseAddr(localIP)
	if err != nil || !local.Is4() {
		return nil, errors.Wrapf(lib.ErrInvalidAddress, "local ip %q", localIP)
	}
	conn, err := core.ListenIP("ip4:tcp", &net.IPAddr{IP: net.IP(local.AsSlice())})
	if err != nil {
		return nil, errors.Wrapf(err, "rawsocket listen ip4:tcp on %s", localIP)
	}
	return newRSCoreSocket(conn, local, recvTimeout), nil
}

func newRSCoreSocket(conn rs.RawConnection, local netip.Addr, recvTimeout time.Duration) *RSCoreSocket {
	return &RSCoreSocket{conn: conn, local: local, recvTimeout: recvTimeout}
}

// Recvfrom reads one segment after a synthesized IPv4 header.
func (s *RSCoreSocket) Recvfrom(buf []byte) (int, error) {
	if len(buf) <= lib.IpHeaderLength {
		return 0, errors.Wrapf(lib.ErrShortBuffer, "receive buffer of %d bytes", len(buf))
	}
	if s.recvTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.recvTimeout)); err != nil {
			return 0, errors.Wrap(err, "set read deadline")
		}
	}

	n, from, err := s.conn.ReadFrom(buf[lib.IpHeaderLength:])
	if err != nil {
		return 0, errors.Wrap(err, "read rawsocket conn")
	}
	src, err := sourceAddr(from)
	if err != nil {
		return 0, err
	}

	h := &lib.IPHeader{
		Version:     lib.IpVersion4,
		IHL:         lib.IpHeaderLength / 4,
		TotalLength: uint16(lib.IpHeaderLength + n),
		TTL:         lib.DefaultTTL,
		Protocol:    lib.ProtocolTCP,
		Src:         src,
		Dst:         s.local,
	}
	if err := h.MarshalTo(buf[:lib.IpHeaderLength]); err != nil {
		return 0, err
	}
	h.Checksum = lib.CalculateChecksum(buf[:lib.IpHeaderLength])
	if err := h.MarshalTo(buf[:lib.IpHeaderLength]); err != nil {
		return 0, err
	}
	return lib.IpHeaderLength + n, nil
}

func sourceAddr(from net.Addr) (netip.Addr, error) {
	ipAddr, ok := from.(*net.IPAddr)
	if !ok {
		return netip.Addr{}, errors.Wrapf(lib.ErrInvalidAddress, "unexpected source %v", from)
	}
	addr, ok := netip.AddrFromSlice(ipAddr.IP.To4())
	if !ok {
		return netip.Addr{}, errors.Wrapf(lib.ErrNotIPv4, "source %s", ipAddr)
	}
	return addr, nil
}

// Sendto writes the TCP segment of frame to the peer. The count includes the
// dropped IPv4 header so callers see the whole frame as sent.
func (s *RSCoreSocket) Sendto(frame []byte, peer netip.AddrPort) (int, error) {
	ip, err := lib.ParseIPHeader(frame)
	if err != nil {
		return 0, errors.Wrap(err, "parse outgoing header")
	}
	n, err := s.conn.WriteTo(frame[ip.HeaderLen():], &net.IPAddr{IP: net.IP(peer.Addr().AsSlice())})
	if err != nil {
		return 0, errors.Wrapf(err, "write to %s", peer)
	}
	return ip.HeaderLen() + n, nil
}

func (s *RSCoreSocket) Close() error {
	return s.conn.Close()
}
