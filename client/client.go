/*
Client drives one crafted TCP connection over a raw IPv4 socket.

It opens a header-including raw socket, installs an iptables rule so the
kernel does not reset the connection, and starts the receive pipeline and the
phase-gated listeners. Commands are read from stdin:

	syn          send the opening SYN
	send <text>  push text to the peer
	recv         print data received from the peer
	status       print phase and sequence numbers
	exit | fin   start the four-way teardown
	quit         leave without teardown

The process exits with status 0 once the teardown completes and with status 1
if the socket fails.

Usage:

	./client [options]
	Options:
	  -config string   configuration file (default "config.yaml")
	  -peer string     peer address ip:port
	  -localIP string  local source IP address
	  -localPort int   local source port, 0 allocates one
	  -backend string  socket backend: syscall, rawconn or rawsocket
	  -debug           log every segment
*/
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Clouded-Sabre/raw-tcp/config"
	"github.com/Clouded-Sabre/raw-tcp/filter"
	"github.com/Clouded-Sabre/raw-tcp/lib"
	"github.com/Clouded-Sabre/raw-tcp/socket"
	rs "github.com/Clouded-Sabre/rawsocket/lib"
	"golang.org/x/term"
)

var (
	configPath, peerAddrStr, localIP, backend string
	localPort                                 int
	debug                                     bool
)

func init() {
	flag.StringVar(&configPath, "config", "config.yaml", "configuration file")
	flag.StringVar(&peerAddrStr, "peer", "", "peer address(IP:Port)")
	flag.StringVar(&localIP, "localIP", "", "local source IP address")
	flag.IntVar(&localPort, "localPort", 0, "local source port, 0 allocates one")
	flag.StringVar(&backend, "backend", "", "socket backend: syscall, rawconn or rawsocket")
	flag.BoolVar(&debug, "debug", false, "log every segment")
}

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		log.Println("Configuration file error:", err)
		return 1
	}
	applyFlags(conf)
	if err := conf.Validate(); err != nil {
		log.Println("Configuration error:", err)
		return 1
	}

	defaultRsConf := rs.NewDefaultRsConfig()
	rscore, err := rs.NewRSCore(defaultRsConf)
	if err != nil {
		log.Println("Failed to create rawsocket core:", err)
		return 1
	}
	defer rscore.Close()

	var rstFilter filter.Filter = filter.NewNoopFilter()
	if conf.FilterRst {
		if rstFilter, err = filter.NewFilter(conf.FilterComment); err != nil {
			log.Println("Error creating filter object:", err)
			return 1
		}
	}

	sock, err := socket.Open(conf.SocketBackend, conf.LocalIP, rscore)
	if err != nil {
		log.Println("Error opening raw socket:", err)
		return 1
	}

	core, err := lib.NewTcpCore(lib.NewTcpCoreConfig(conf), sock, rstFilter)
	if err != nil {
		sock.Close()
		log.Println("Error starting raw TCP core:", err)
		return 1
	}
	defer core.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	go driveCommands(core.Connection(), os.Stdin, os.Stdout, interactive, stop)

	if err := core.Run(ctx); err != nil {
		log.Printf(lib.Red+"fatal: %v"+lib.Reset, err)
		return 1
	}
	return 0
}

// applyFlags lets explicitly set flags override the configuration file.
func applyFlags(conf *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "peer":
			conf.PeerAddr = peerAddrStr
		case "localIP":
			conf.LocalIP = localIP
		case "localPort":
			conf.LocalPort = localPort
		case "backend":
			conf.SocketBackend = backend
		case "debug":
			conf.Debug = debug
		}
	})
}
