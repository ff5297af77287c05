//go:build !linux

package socket

import (
	"time"

	"github.com/Clouded-Sabre/raw-tcp/lib"
	"github.com/pkg/errors"
)

func OpenFD(recvTimeout time.Duration) (lib.RawSocket, error) {
	return nil, errors.New("the syscall socket backend is only available on linux")
}
