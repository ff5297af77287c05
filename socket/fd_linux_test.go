//go:build linux

package socket

import (
	"net/netip"
	"testing"
	"time"

	"github.com/Clouded-Sabre/raw-tcp/lib"
)

// TestFDSocketLoopback sends a crafted SYN to the loopback address and expects
// to read it back from the same raw socket.
func TestFDSocketLoopback(t *testing.T) {
	s, err := OpenFD(100 * time.Millisecond)
	if err != nil {
		t.Skipf("raw sockets unavailable: %v", err)
	}
	defer s.Close()

	p, err := lib.NewPacket("127.0.0.1", 40001, "127.0.0.1", 40002)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := p.ToSyn().Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Sendto(frame, netip.MustParseAddrPort("127.0.0.1:40002")); err != nil {
		t.Fatalf("sendto: %v", err)
	}

	buf := make([]byte, lib.DefaultRecvBufferSize)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := s.Recvfrom(buf)
		if err != nil {
			if lib.IsRetryable(err) {
				continue
			}
			t.Fatalf("recvfrom: %v", err)
		}
		ip, err := lib.ParseIPHeader(buf[:n])
		if err != nil || ip.Protocol != lib.ProtocolTCP {
			continue
		}
		tcp, err := lib.ParseTCPHeader(buf[ip.HeaderLen():n])
		if err != nil {
			continue
		}
		if tcp.SrcPort == 40001 && tcp.DstPort == 40002 && tcp.HasFlags(lib.SYNFlag) {
			if tcp.Seq != p.TCP.Seq {
				t.Errorf("expected seq %d, got %d", p.TCP.Seq, tcp.Seq)
			}
			return
		}
	}
	t.Error("crafted SYN never came back on the loopback")
}
