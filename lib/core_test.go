package lib

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/Clouded-Sabre/raw-tcp/config"
)

type recordingFilter struct {
	added, removed, finished int
	addr                     string
	port                     int
}

func (f *recordingFilter) AddTcpClientFiltering(dstAddr string, dstPort int) error {
	f.added++
	f.addr, f.port = dstAddr, dstPort
	return nil
}

func (f *recordingFilter) RemoveTcpClientFiltering(dstAddr string, dstPort int) error {
	f.removed++
	return nil
}

func (f *recordingFilter) FinishFiltering() error {
	f.finished++
	return nil
}

func testCoreConfig() *TcpCoreConfig {
	conf := config.DefaultConfig()
	conf.LocalPort = testLocalPort
	conf.AppendNewline = false
	conf.VerifyChecksum = true
	return NewTcpCoreConfig(conf)
}

func TestNewTcpCoreConfigMapsFile(t *testing.T) {
	conf := config.DefaultConfig()
	conf.PeerAddr = "10.0.0.2:9000"
	conf.TTL = 12
	conf.Debug = true
	core := NewTcpCoreConfig(conf)
	if core.ConnectionConfig.PeerAddr != "10.0.0.2:9000" || core.ConnectionConfig.TTL != 12 || !core.ConnectionConfig.Debug {
		t.Errorf("connection config not mapped: %+v", core.ConnectionConfig)
	}
	if core.RecvBufferSize != config.DefaultRecvBufferSize || core.ClientPortLower != config.ClientPortLower {
		t.Errorf("core config not mapped: %+v", core)
	}
}

func TestCoreAllocatesLocalPort(t *testing.T) {
	conf := testCoreConfig()
	conf.ConnectionConfig.LocalPort = 0
	conf.ClientPortLower, conf.ClientPortUpper = 50000, 50009

	core, err := NewTcpCore(conf, newFakeSocket(), nil)
	if err != nil {
		t.Fatal(err)
	}
	port := core.Connection().LocalPort()
	if port < 50000 || port > 50009 {
		t.Errorf("local port %d outside the pool range", port)
	}
	core.Close()
	if core.ports.available() != 10 {
		t.Errorf("port not returned on close, %d available", core.ports.available())
	}
}

// TestCoreFullExchange drives handshake, data and teardown through the
// running goroutines.
func TestCoreFullExchange(t *testing.T) {
	sock := newFakeSocket()
	rst := &recordingFilter{}
	core, err := NewTcpCore(testCoreConfig(), sock, rst)
	if err != nil {
		t.Fatal(err)
	}
	if rst.added != 1 || rst.addr != testPeerIP || rst.port != testPeerPort {
		t.Errorf("RST filter not installed for the peer: %+v", rst)
	}

	result := make(chan error, 1)
	go func() { result <- core.Run(context.Background()) }()

	conn := core.Connection()
	if _, err := conn.SendSyn(); err != nil {
		t.Fatal(err)
	}
	syn := parseFrame(t, sock.waitSent(t, 1)[0])

	sock.inbox <- peerFrame(t, testPeerPort, testLocalPort, SYNFlag|ACKFlag, 1000, syn.tcp.Seq+1, nil)
	ack := parseFrame(t, sock.waitSent(t, 2)[1])
	if ack.tcp.Flags != ACKFlag || ack.tcp.Seq != syn.tcp.Seq+1 || ack.tcp.Ack != 1001 {
		t.Fatalf("unexpected handshake ACK %s", ack.tcp)
	}
	waitPhase(t, conn, PhaseNone)

	sock.inbox <- peerFrame(t, testPeerPort, testLocalPort, PSHFlag|ACKFlag, 1001, syn.tcp.Seq+1, []byte("hello"))
	dataAck := parseFrame(t, sock.waitSent(t, 3)[2])
	if dataAck.tcp.Seq != syn.tcp.Seq+1 || dataAck.tcp.Ack != 1006 {
		t.Fatalf("unexpected data ACK %s", dataAck.tcp)
	}

	if _, err := conn.BeginTeardown(); err != nil {
		t.Fatal(err)
	}
	fin := parseFrame(t, sock.waitSent(t, 4)[3])
	if fin.tcp.Flags != FINFlag|ACKFlag || fin.tcp.Seq != syn.tcp.Seq+1 || fin.tcp.Ack != 1006 {
		t.Fatalf("unexpected FIN %s", fin.tcp)
	}

	sock.inbox <- peerFrame(t, testPeerPort, testLocalPort, FINFlag|ACKFlag, 1006, fin.tcp.Seq+1, nil)
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("expected a clean finish, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("core did not finish after the teardown")
	}
	last := parseFrame(t, sock.sentFrames()[4])
	if last.tcp.Seq != fin.tcp.Seq+2 || last.tcp.Ack != 1007 {
		t.Errorf("unexpected final ACK %s", last.tcp)
	}

	if err := core.Close(); err != nil {
		t.Fatal(err)
	}
	if rst.removed != 1 || rst.finished != 1 {
		t.Errorf("RST filter not removed: %+v", rst)
	}
}

func TestCoreStopsOnFatalSocketError(t *testing.T) {
	sock := newFakeSocket()
	core, err := NewTcpCore(testCoreConfig(), sock, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer core.Close()

	result := make(chan error, 1)
	go func() { result <- core.Run(context.Background()) }()

	sock.recvErrs <- syscall.EAGAIN
	sock.recvErrs <- syscall.ENETDOWN
	select {
	case err := <-result:
		if !errors.Is(err, syscall.ENETDOWN) {
			t.Errorf("expected the socket error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("core kept running after a fatal socket error")
	}
}

func TestCoreStopsOnCancel(t *testing.T) {
	core, err := NewTcpCore(testCoreConfig(), newFakeSocket(), nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- core.Run(ctx) }()

	cancel()
	select {
	case err := <-result:
		if err != nil {
			t.Errorf("expected nil on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("core ignored cancellation")
	}
	if err := core.Close(); err != nil {
		t.Fatal(err)
	}
}

func waitPhase(t *testing.T, conn *Connection, phase Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn.Phase() == phase {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("phase stuck at %s, want %s", conn.Phase(), phase)
}
