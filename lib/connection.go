package lib

import (
	"log"
	"net"
	"net/netip"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/smallnest/ringbuffer"
)

type ConnectionConfig struct {
	LocalIP        string // source address written into outgoing IP headers
	LocalPort      uint16
	PeerAddr       string // ip:port
	TTL            uint8
	WindowSize     uint16
	DataBufferSize int  // capacity of the received data ring buffer
	AppendNewline  bool // terminate every data payload with a line break
	Debug          bool
}

func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		LocalIP:        "127.0.0.1",
		PeerAddr:       "127.0.0.1:65534",
		TTL:            DefaultTTL,
		WindowSize:     DefaultWindowSize,
		DataBufferSize: 64 * 1024,
		AppendNewline:  true,
	}
}

// Connection is the single crafted TCP connection. Sequence numbers and the
// phase are written by the receive pipeline and the listeners and read from
// any goroutine; the socket is shared by all senders.
type Connection struct {
	config    *ConnectionConfig
	sock      RawSocket
	localIP   string
	localPort uint16
	peer      netip.AddrPort
	peerAddr  string

	mu       sync.RWMutex
	lastSeq  uint32 // seq of the last accepted segment
	lastAck  uint32 // ack of the last accepted segment
	rcvNext  uint32 // next sequence number expected from the peer
	sndNext  uint32 // next sequence number we will use
	observed bool   // at least one segment was accepted
	phase    Phase

	received *ringbuffer.RingBuffer

	done     chan struct{}
	doneOnce sync.Once
}

func NewConnection(sock RawSocket, config *ConnectionConfig) (*Connection, error) {
	peer, err := ParseAddress(config.PeerAddr)
	if err != nil {
		return nil, err
	}
	if _, err := parseIPv4(config.LocalIP); err != nil {
		return nil, err
	}
	if config.LocalPort == 0 {
		return nil, errors.New("local port must be set")
	}

	return &Connection{
		config:    config,
		sock:      sock,
		localIP:   config.LocalIP,
		localPort: config.LocalPort,
		peer:      peer,
		peerAddr:  peer.String(),
		phase:     PhaseNone,
		received:  ringbuffer.New(config.DataBufferSize),
		done:      make(chan struct{}),
	}, nil
}

// ParseAddress parses an "ip:port" string holding an IPv4 address.
func ParseAddress(s string) (netip.AddrPort, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return netip.AddrPort{}, errors.Wrapf(ErrInvalidAddress, "%q: %v", s, err)
	}
	addr, err := parseIPv4(host)
	if err != nil {
		return netip.AddrPort{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return netip.AddrPort{}, errors.Wrapf(ErrInvalidAddress, "%q has no valid port", s)
	}
	return netip.AddrPortFrom(addr, uint16(port)), nil
}

func (c *Connection) LocalIP() string       { return c.localIP }
func (c *Connection) LocalPort() uint16     { return c.localPort }
func (c *Connection) Peer() netip.AddrPort  { return c.peer }
func (c *Connection) PeerAddr() string      { return c.peerAddr }
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

func (c *Connection) SetPhase(phase Phase) {
	c.mu.Lock()
	c.phase = phase
	c.mu.Unlock()
}

// TransitionPhase moves from one phase to another only if the connection is
// currently in from.
func (c *Connection) TransitionPhase(from, to Phase) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != from {
		return false
	}
	c.phase = to
	return true
}

// LastObserved returns seq and ack of the most recently accepted segment.
func (c *Connection) LastObserved() (seq, ack uint32) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeq, c.lastAck
}

// Next returns the numbers a locally initiated segment should carry.
func (c *Connection) Next() (sndNext, rcvNext uint32) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sndNext, c.rcvNext
}

// observe records an accepted segment. Only the receive pipeline calls it.
func (c *Connection) observe(seg *ReceivedSegment) {
	c.mu.Lock()
	if c.observed && isLess(seg.TCP.Ack, c.lastAck) && c.config.Debug {
		log.Printf("stale ack %d after %d from %s", seg.TCP.Ack, c.lastAck, c.peerAddr)
	}
	c.lastSeq = seg.TCP.Seq
	c.lastAck = seg.TCP.Ack
	c.rcvNext = SeqIncrementBy(seg.TCP.Seq, segmentLength(seg.TCP.Flags, len(seg.Payload)))
	c.observed = true
	c.mu.Unlock()
}

// MakePacket returns a fresh packet from the local endpoint to the peer.
func (c *Connection) MakePacket() (*Packet, error) {
	p, err := NewPacket(c.localIP, c.localPort, c.peer.Addr().String(), c.peer.Port())
	if err != nil {
		return nil, err
	}
	p.IP.TTL = c.config.TTL
	p.TCP.Window = c.config.WindowSize
	return p, nil
}

// SendPacket serializes p and writes it to the peer. The packet's pooled
// payload is released afterwards.
func (c *Connection) SendPacket(p *Packet) (int, error) {
	defer p.Release()

	frame, err := p.Serialize()
	if err != nil {
		return 0, errors.Wrap(err, "serialize packet")
	}

	n, err := c.sock.Sendto(frame, c.peer)
	if err != nil {
		return 0, errors.Wrapf(err, "send to %s", c.peerAddr)
	}

	c.mu.Lock()
	c.sndNext = SeqIncrementBy(p.TCP.Seq, segmentLength(p.TCP.Flags, len(p.Payload)))
	c.mu.Unlock()

	if c.config.Debug {
		log.Printf("sent %d bytes: %s\n%s", n, p, DescribeFrame(frame))
	}
	return n, nil
}

// SendSyn opens the three-way handshake.
func (c *Connection) SendSyn() (int, error) {
	if !c.TransitionPhase(PhaseNone, PhaseAwaitingSecondHandshake) {
		return 0, errors.Wrapf(ErrPhaseBusy, "send syn in phase %s", c.Phase())
	}

	p, err := c.MakePacket()
	if err != nil {
		c.SetPhase(PhaseNone)
		return 0, err
	}
	n, err := c.SendPacket(p.ToSyn())
	if err != nil {
		c.SetPhase(PhaseNone)
		return 0, err
	}
	log.Printf(Green+"SYN sent to %s (seq %d)"+Reset, c.peerAddr, p.TCP.Seq)
	return n, nil
}

// SendData pushes data to the peer with the current send and receive positions.
func (c *Connection) SendData(data []byte) (int, error) {
	if phase := c.Phase(); phase != PhaseNone {
		return 0, errors.Wrapf(ErrPhaseBusy, "send data in phase %s", phase)
	}
	if c.config.AppendNewline {
		data = append(append(make([]byte, 0, len(data)+1), data...), '\n')
	}

	p, err := c.MakePacket()
	if err != nil {
		return 0, err
	}
	seq, ack := c.Next()
	return c.SendPacket(p.WithNumbers(seq, ack).ToPush(data))
}

// BeginTeardown sends FIN+ACK and waits for the peer's FIN+ACK.
func (c *Connection) BeginTeardown() (int, error) {
	if !c.TransitionPhase(PhaseNone, PhaseAwaitingTeardownAck) {
		return 0, errors.Wrapf(ErrPhaseBusy, "send fin in phase %s", c.Phase())
	}

	p, err := c.MakePacket()
	if err != nil {
		c.SetPhase(PhaseNone)
		return 0, err
	}
	seq, ack := c.Next()
	n, err := c.SendPacket(p.WithNumbers(seq, ack).ToFin())
	if err != nil {
		c.SetPhase(PhaseNone)
		return 0, err
	}
	log.Printf(Green+"FIN sent to %s"+Reset, c.peerAddr)
	return n, nil
}

// bufferReceived keeps payload for a later ReadReceived. Data that does not fit is dropped.
func (c *Connection) bufferReceived(payload []byte) {
	if free := c.received.Free(); free < len(payload) {
		log.Printf(Red+"received data buffer full, dropping %d of %d bytes"+Reset, len(payload)-free, len(payload))
		payload = payload[:free]
	}
	if len(payload) == 0 {
		return
	}
	if _, err := c.received.Write(payload); err != nil {
		log.Println("received data buffer:", err)
	}
}

// ReadReceived drains buffered peer data into p. It never blocks.
func (c *Connection) ReadReceived(p []byte) (int, error) {
	if c.received.IsEmpty() || len(p) == 0 {
		return 0, nil
	}
	return c.received.Read(p)
}

func (c *Connection) Buffered() int {
	return c.received.Length()
}

func (c *Connection) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}
