package lib

import "net/netip"

// RawSocket is a raw IPv4 socket with header inclusion. Recvfrom returns whole
// datagrams starting at the IP header; Sendto expects the same layout.
type RawSocket interface {
	Recvfrom(buf []byte) (int, error)
	Sendto(frame []byte, peer netip.AddrPort) (int, error)
	Close() error
}
