package lib

import (
	"bytes"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"
)

const (
	testLocalIP   = "127.0.0.1"
	testLocalPort = 40000
	testPeerIP    = "127.0.0.1"
	testPeerPort  = 65534
)

// fakeSocket records sent frames and replays injected ones.
type fakeSocket struct {
	mu        sync.Mutex
	sent      [][]byte
	sendErr   error
	inbox     chan []byte
	recvErrs  chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbox:    make(chan []byte, 16),
		recvErrs: make(chan error, 16),
		closed:   make(chan struct{}),
	}
}

func (f *fakeSocket) Recvfrom(buf []byte) (int, error) {
	select {
	case frame := <-f.inbox:
		return copy(buf, frame), nil
	case err := <-f.recvErrs:
		return 0, err
	case <-f.closed:
		return 0, errors.New("use of closed socket")
	}
}

func (f *fakeSocket) Sendto(frame []byte, peer netip.AddrPort) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.sent = append(f.sent, bytes.Clone(frame))
	return len(frame), nil
}

func (f *fakeSocket) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSocket) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

// waitSent waits until at least n frames were sent.
func (f *fakeSocket) waitSent(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if frames := f.sentFrames(); len(frames) >= n {
			return frames
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d sent frames, got %d", n, len(f.sentFrames()))
	return nil
}

type sentSegment struct {
	ip      *IPHeader
	tcp     *TCPHeader
	payload []byte
}

func parseFrame(t *testing.T, frame []byte) sentSegment {
	t.Helper()
	ip, err := ParseIPHeader(frame)
	if err != nil {
		t.Fatalf("parse ip header: %v", err)
	}
	tcp, err := ParseTCPHeader(frame[ip.HeaderLen():])
	if err != nil {
		t.Fatalf("parse tcp header: %v", err)
	}
	return sentSegment{ip: ip, tcp: tcp, payload: frame[ip.HeaderLen()+tcp.HeaderLen():]}
}

func testConnection(t *testing.T, sock RawSocket) *Connection {
	t.Helper()
	conf := DefaultConnectionConfig()
	conf.LocalIP = testLocalIP
	conf.LocalPort = testLocalPort
	conf.PeerAddr = "127.0.0.1:65534"
	conf.AppendNewline = false
	conn, err := NewConnection(sock, conf)
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

// peerFrame builds a datagram as the peer would send it.
func peerFrame(t *testing.T, srcPort, dstPort uint16, flags uint8, seq, ack uint32, payload []byte) []byte {
	t.Helper()
	p, err := NewPacket(testPeerIP, srcPort, testLocalIP, dstPort)
	if err != nil {
		t.Fatal(err)
	}
	p.WithNumbers(seq, ack)
	if len(payload) > 0 {
		p.ToPush(payload)
	}
	p.TCP.Flags = flags
	frame, err := p.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	return bytes.Clone(frame)
}

// deliver pushes frame through the pipeline filter and, when accepted,
// records and publishes it the way Run does.
func deliver(t *testing.T, r *ReceivePipeline, frame []byte) *ReceivedSegment {
	t.Helper()
	seg, err := r.decode(frame)
	if err != nil {
		t.Fatalf("segment dropped: %v", err)
	}
	r.conn.observe(seg)
	_ = r.watch.Publish(seg)
	return seg
}
