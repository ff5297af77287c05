//go:build linux

package socket

import (
	"net/netip"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// FDSocket drives a raw socket descriptor directly.
type FDSocket struct {
	fd        int
	closeOnce sync.Once
}

// OpenFD creates an AF_INET/SOCK_RAW/IPPROTO_TCP socket with IP_HDRINCL set.
func OpenFD(recvTimeout time.Duration) (*FDSocket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_TCP)
	if err != nil {
		return nil, errors.Wrap(err, "create raw socket (root or CAP_NET_RAW required)")
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "set IP_HDRINCL")
	}
	if recvTimeout > 0 {
		tv := unix.NsecToTimeval(recvTimeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			unix.Close(fd)
			return nil, errors.Wrap(err, "set SO_RCVTIMEO")
		}
	}
	return NewFDSocket(fd), nil
}

// NewFDSocket wraps an already configured raw socket descriptor.
func NewFDSocket(fd int) *FDSocket {
	return &FDSocket{fd: fd}
}

func (s *FDSocket) Recvfrom(buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		return 0, errors.Wrap(err, "recvfrom")
	}
	return n, nil
}

func (s *FDSocket) Sendto(frame []byte, peer netip.AddrPort) (int, error) {
	sa := &unix.SockaddrInet4{Port: int(peer.Port()), Addr: peer.Addr().As4()}
	if err := unix.Sendto(s.fd, frame, 0, sa); err != nil {
		return 0, errors.Wrapf(err, "sendto %s", peer)
	}
	return len(frame), nil
}

func (s *FDSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = unix.Close(s.fd)
	})
	return err
}
