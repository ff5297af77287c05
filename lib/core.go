package lib

import (
	"context"
	"log"
	"sync"

	"github.com/Clouded-Sabre/raw-tcp/config"
	"github.com/Clouded-Sabre/raw-tcp/filter"
	"github.com/pkg/errors"
)

type TcpCoreConfig struct {
	PayloadPoolSize  int               // how many packet payload chunks in the pool
	PreferredMSS     int               // size of each payload chunk
	RecvBufferSize   int               // raw receive buffer size
	VerifyChecksum   bool              // drop inbound segments with a bad TCP checksum
	Debug            bool              // global debug setting
	PoolDebug        bool              // Ring Pool debug setting
	ClientPortLower  int               // local port pool range, used when ConnConfig.LocalPort is 0
	ClientPortUpper  int
	ConnectionConfig *ConnectionConfig // crafted connection configuration
}

func DefaultTcpCoreConfig() *TcpCoreConfig {
	return &TcpCoreConfig{
		PayloadPoolSize:  64,
		PreferredMSS:     1460,
		RecvBufferSize:   DefaultRecvBufferSize,
		ClientPortLower:  config.ClientPortLower,
		ClientPortUpper:  config.ClientPortUpper,
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewTcpCoreConfig maps the file configuration onto the core.
func NewTcpCoreConfig(conf *config.Config) *TcpCoreConfig {
	return &TcpCoreConfig{
		PayloadPoolSize: conf.PayloadPoolSize,
		PreferredMSS:    conf.PreferredMSS,
		RecvBufferSize:  conf.RecvBufferSize,
		VerifyChecksum:  conf.VerifyChecksum,
		Debug:           conf.Debug,
		PoolDebug:       conf.PoolDebug,
		ClientPortLower: conf.ClientPortLower,
		ClientPortUpper: conf.ClientPortUpper,
		ConnectionConfig: &ConnectionConfig{
			LocalIP:        conf.LocalIP,
			LocalPort:      uint16(conf.LocalPort),
			PeerAddr:       conf.PeerAddr,
			TTL:            conf.TTL,
			WindowSize:     conf.WindowSize,
			DataBufferSize: conf.DataBufferSize,
			AppendNewline:  conf.AppendNewline,
			Debug:          conf.Debug,
		},
	}
}

// TcpCore owns the connection, its receive pipeline and its listeners.
type TcpCore struct {
	config      *TcpCoreConfig
	sock        RawSocket
	conn        *Connection
	watch       *SegmentWatch
	pipeline    *ReceivePipeline
	listeners   []*Listener
	ports       *PortPool
	allocated   int           // local port taken from ports, 0 if configured
	filter      filter.Filter // drops kernel RSTs to the peer, may be nil
	closeSignal chan struct{} // used to send close signal to go routines
	closeOnce   sync.Once
	wg          sync.WaitGroup // WaitGroup to synchronize goroutines
}

func NewTcpCore(coreConfig *TcpCoreConfig, sock RawSocket, f filter.Filter) (*TcpCore, error) {
	if sock == nil {
		return nil, errors.New("raw socket should not be nil")
	}

	if Pool == nil {
		InitPayloadPool(coreConfig.PayloadPoolSize, coreConfig.PreferredMSS, coreConfig.PoolDebug)
	}

	core := &TcpCore{
		config:      coreConfig,
		sock:        sock,
		filter:      f,
		closeSignal: make(chan struct{}),
	}

	connConfig := *coreConfig.ConnectionConfig
	if connConfig.LocalPort == 0 {
		core.ports = newPortPool(coreConfig.ClientPortLower, coreConfig.ClientPortUpper)
		port, err := core.ports.allocatePort()
		if err != nil {
			return nil, err
		}
		core.allocated = port
		connConfig.LocalPort = uint16(port)
	}

	conn, err := NewConnection(sock, &connConfig)
	if err != nil {
		core.releasePort()
		return nil, err
	}
	core.conn = conn
	core.watch = NewSegmentWatch()
	core.pipeline = NewReceivePipeline(conn, core.watch, coreConfig.RecvBufferSize, coreConfig.VerifyChecksum, coreConfig.Debug)
	core.listeners = []*Listener{
		NewHandshakeListener(conn, core.watch),
		NewDataListener(conn, core.watch),
		NewTeardownListener(conn, core.watch),
		NewPacketPrinter(conn, core.watch),
	}

	if f != nil {
		peer := conn.Peer()
		if err := f.AddTcpClientFiltering(peer.Addr().String(), int(peer.Port())); err != nil {
			core.releasePort()
			return nil, errors.Wrap(err, "add RST filtering rule")
		}
	}

	log.Printf("Raw TCP core started: %s:%d -> %s", conn.LocalIP(), conn.LocalPort(), conn.PeerAddr())
	return core, nil
}

func (c *TcpCore) Connection() *Connection {
	return c.conn
}

// Run starts the listeners and the receive pipeline. It returns nil once the
// teardown completes, ctx is done or Close is called, and the pipeline's error
// if the socket fails.
func (c *TcpCore) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, l := range c.listeners {
		c.wg.Add(1)
		go func(l *Listener) {
			defer c.wg.Done()
			l.Run(ctx)
		}(l)
	}

	pipelineErr := make(chan error, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		pipelineErr <- c.pipeline.Run(ctx)
	}()

	select {
	case <-c.conn.Done():
		return nil
	case err := <-pipelineErr:
		return err
	case <-ctx.Done():
		return nil
	case <-c.closeSignal:
		return nil
	}
}

// Close stops every goroutine, closes the socket and removes the filtering rule.
func (c *TcpCore) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeSignal)
		c.watch.Close()
		err = c.sock.Close()

		c.wg.Wait()

		if c.filter != nil {
			peer := c.conn.Peer()
			if ferr := c.filter.RemoveTcpClientFiltering(peer.Addr().String(), int(peer.Port())); ferr != nil {
				log.Println("Error removing RST filtering rule:", ferr)
			}
			if ferr := c.filter.FinishFiltering(); ferr != nil {
				log.Println("Error finishing filtering:", ferr)
			}
		}
		c.releasePort()
		log.Println("Raw TCP core closed gracefully.")
	})
	return err
}

func (c *TcpCore) releasePort() {
	if c.ports != nil && c.allocated != 0 {
		if err := c.ports.returnPort(c.allocated); err != nil {
			log.Println("Error returning local port:", err)
		}
		c.allocated = 0
	}
}
