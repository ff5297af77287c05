// Package socket provides the raw IPv4 sockets the connection sends and
// receives whole datagrams through.
package socket

import (
	"time"

	"github.com/Clouded-Sabre/raw-tcp/config"
	"github.com/Clouded-Sabre/raw-tcp/lib"
	rs "github.com/Clouded-Sabre/rawsocket/lib"
	"github.com/pkg/errors"
)

// RecvTimeout bounds each blocking receive so a closing pipeline notices
// cancellation. Timeouts surface as retryable errors.
const RecvTimeout = 500 * time.Millisecond

// Open creates a raw TCP socket with the given backend. core is only used by
// the rawsocket backend.
func Open(backend, localIP string, core rs.RSCore) (lib.RawSocket, error) {
	switch backend {
	case config.BackendSyscall:
		s, err := OpenFD(RecvTimeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendRawConn:
		s, err := OpenRawConn(localIP, RecvTimeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendRawSocket:
		s, err := OpenRSCore(core, localIP, RecvTimeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.Errorf("unknown socket backend %q", backend)
	}
}
