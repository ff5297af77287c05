package socket

import (
	"bytes"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/Clouded-Sabre/raw-tcp/lib"
	rs "github.com/Clouded-Sabre/rawsocket/lib"
)

type fakeRawConnection struct {
	inbound  []byte
	from     net.Addr
	written  []byte
	writeTo  net.Addr
	deadline time.Time
	closed   bool
}

func (f *fakeRawConnection) Read(b []byte) (int, error) {
	n, _, err := f.ReadFrom(b)
	return n, err
}

func (f *fakeRawConnection) ReadFrom(b []byte) (int, net.Addr, error) {
	return copy(b, f.inbound), f.from, nil
}

func (f *fakeRawConnection) Write(b []byte) (int, error) {
	return f.WriteTo(b, nil)
}

func (f *fakeRawConnection) WriteTo(b []byte, addr net.Addr) (int, error) {
	f.written = append([]byte(nil), b...)
	f.writeTo = addr
	return len(b), nil
}

func (f *fakeRawConnection) SetReadDeadline(t time.Time) error {
	f.deadline = t
	return nil
}

func (f *fakeRawConnection) Close() error {
	f.closed = true
	return nil
}

func (f *fakeRawConnection) LocalAddr() net.Addr  { return nil }
func (f *fakeRawConnection) RemoteAddr() net.Addr { return nil }

type fakeRSCore struct {
	conn    *fakeRawConnection
	network string
	laddr   *net.IPAddr
}

func (c *fakeRSCore) DialIP(network string, laddr, raddr *net.IPAddr) (rs.RawConnection, error) {
	return c.ListenIP(network, laddr)
}

func (c *fakeRSCore) ListenIP(network string, laddr *net.IPAddr) (rs.RawConnection, error) {
	c.network, c.laddr = network, laddr
	return c.conn, nil
}

func (c *fakeRSCore) Close() error { return nil }

func peerSegment(t *testing.T) []byte {
	t.Helper()
	p, err := lib.NewPacket("10.0.0.2", 65534, "10.0.0.1", 40000)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := p.ToPush([]byte("hi")).Serialize()
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func TestOpenRSCoreListensOnLocalIP(t *testing.T) {
	core := &fakeRSCore{conn: &fakeRawConnection{}}
	s, err := Open("rawsocket", "10.0.0.1", core)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if core.network != "ip4:tcp" || !core.laddr.IP.Equal(net.ParseIP("10.0.0.1")) {
		t.Errorf("unexpected listen %s %v", core.network, core.laddr)
	}
}

func TestOpenRSCoreErrors(t *testing.T) {
	if _, err := Open("rawsocket", "10.0.0.1", nil); err == nil {
		t.Error("expected an error without a rawsocket core")
	}
	if _, err := OpenRSCore(&fakeRSCore{conn: &fakeRawConnection{}}, "::1", RecvTimeout); err == nil {
		t.Error("expected an error for a non IPv4 local address")
	}
}

func TestRSCoreSocketRebuildsHeader(t *testing.T) {
	frame := peerSegment(t)
	segment := frame[lib.IpHeaderLength:]
	conn := &fakeRawConnection{inbound: segment, from: &net.IPAddr{IP: net.ParseIP("10.0.0.2")}}
	s := newRSCoreSocket(conn, netip.MustParseAddr("10.0.0.1"), time.Second)

	buf := make([]byte, 256)
	n, err := s.Recvfrom(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(frame) {
		t.Fatalf("expected %d bytes, got %d", len(frame), n)
	}
	if conn.deadline.IsZero() {
		t.Error("expected a read deadline")
	}

	ip, err := lib.ParseIPHeader(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if ip.Src.String() != "10.0.0.2" || ip.Dst.String() != "10.0.0.1" || ip.Protocol != lib.ProtocolTCP || int(ip.TotalLength) != n {
		t.Errorf("unexpected header %s", ip)
	}
	if !lib.ChecksumIsValid(buf[:lib.IpHeaderLength]) {
		t.Error("rebuilt IP header checksum is invalid")
	}
	if !lib.VerifySegmentChecksum(ip, buf[lib.IpHeaderLength:n]) {
		t.Error("segment checksum no longer matches the rebuilt pseudo header")
	}
}

func TestRSCoreSocketSendsBareSegment(t *testing.T) {
	frame := peerSegment(t)
	conn := &fakeRawConnection{}
	s := newRSCoreSocket(conn, netip.MustParseAddr("10.0.0.2"), 0)

	n, err := s.Sendto(frame, netip.MustParseAddrPort("10.0.0.1:40000"))
	if err != nil {
		t.Fatal(err)
	}
	if n != len(frame) {
		t.Errorf("expected %d bytes reported, got %d", len(frame), n)
	}
	if !bytes.Equal(conn.written, frame[lib.IpHeaderLength:]) {
		t.Error("expected only the TCP segment to be written")
	}
	if addr, ok := conn.writeTo.(*net.IPAddr); !ok || !addr.IP.Equal(net.ParseIP("10.0.0.1")) {
		t.Errorf("unexpected destination %v", conn.writeTo)
	}

	if err := s.Close(); err != nil || !conn.closed {
		t.Error("expected Close to close the rawsocket connection")
	}
}
