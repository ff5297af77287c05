package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/Clouded-Sabre/raw-tcp/lib"
)

// session is the part of lib.Connection the command loop drives.
type session interface {
	SendSyn() (int, error)
	SendData(data []byte) (int, error)
	BeginTeardown() (int, error)
	ReadReceived(p []byte) (int, error)
	Phase() lib.Phase
	LastObserved() (seq, ack uint32)
	Next() (sndNext, rcvNext uint32)
	PeerAddr() string
}

const helpText = `commands:
  syn          send the opening SYN
  send <text>  push text to the peer
  recv         print data received from the peer
  status       print phase and sequence numbers
  exit | fin   start the teardown
  quit         leave without teardown
`

// readCommands runs the command loop until quit or end of input. It reports
// whether the user asked to quit; end of input leaves the connection running.
func readCommands(s session, in io.Reader, out io.Writer, prompt bool) bool {
	scanner := bufio.NewScanner(in)
	for {
		if prompt {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			return false
		}
		if quit := runCommand(s, scanner.Text(), out); quit {
			return true
		}
	}
}

// driveCommands reads commands and calls stop only when the user quits. Once
// input ends the connection keeps running until teardown, a signal or a fatal
// socket error.
func driveCommands(s session, in io.Reader, out io.Writer, prompt bool, stop func()) {
	if readCommands(s, in, out, prompt) {
		stop()
		return
	}
	log.Println("input closed, waiting for the connection to finish")
}

// runCommand executes one command line and reports whether the loop should end.
func runCommand(s session, line string, out io.Writer) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	cmd, arg, _ := strings.Cut(line, " ")

	switch strings.ToLower(cmd) {
	case "syn":
		report(out, "SYN", s.SendSyn)
	case "send":
		if arg == "" {
			fmt.Fprintln(out, "usage: send <text>")
			return false
		}
		report(out, "data", func() (int, error) { return s.SendData([]byte(arg)) })
	case "exit", "fin":
		report(out, "FIN", s.BeginTeardown)
	case "recv":
		buf := make([]byte, 4096)
		total := 0
		for {
			n, err := s.ReadReceived(buf)
			if err != nil {
				fmt.Fprintln(out, "recv error:", err)
				return false
			}
			if n == 0 {
				break
			}
			total += n
			out.Write(buf[:n])
		}
		if total == 0 {
			fmt.Fprintln(out, "no data received")
		}
	case "status":
		seq, ack := s.LastObserved()
		sndNext, rcvNext := s.Next()
		fmt.Fprintf(out, "peer %s phase %s last seq %d last ack %d snd.nxt %d rcv.nxt %d\n",
			s.PeerAddr(), s.Phase(), seq, ack, sndNext, rcvNext)
	case "quit":
		return true
	case "help":
		fmt.Fprint(out, helpText)
	default:
		fmt.Fprintf(out, "unknown command %q, try help\n", cmd)
	}
	return false
}

func report(out io.Writer, what string, send func() (int, error)) {
	n, err := send()
	if err != nil {
		fmt.Fprintf(out, lib.Red+"%s failed: %v"+lib.Reset+"\n", what, err)
		return
	}
	fmt.Fprintf(out, "%s: %d bytes sent\n", what, n)
}
