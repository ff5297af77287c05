package lib

import (
	"net"
	"syscall"

	"github.com/pkg/errors"
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrShortBuffer    = errors.New("buffer too short")
	ErrNoSubscribers  = errors.New("no active subscribers")
	ErrWatchClosed    = errors.New("segment watch closed")
	ErrPhaseBusy      = errors.New("connection is waiting for the peer")
	ErrNotIPv4        = errors.New("not an IPv4 header")
)

// IsRetryable reports whether a receive error is transient. Anything else is
// fatal to the receive pipeline.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, errno := range []syscall.Errno{syscall.EINTR, syscall.EAGAIN, syscall.ENOBUFS, syscall.ENOMEM} {
		if errors.Is(err, errno) {
			return true
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
