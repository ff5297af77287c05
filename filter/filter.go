package filter

import "log"

// Filter keeps the host's own TCP stack from resetting the crafted connection.
// The kernel has no socket for our local port, so it answers the peer's
// SYN+ACK with RST unless those RSTs are dropped.
type Filter interface {
	AddTcpClientFiltering(dstAddr string, dstPort int) error    // drops outgoing RSTs to dstAddr:dstPort
	RemoveTcpClientFiltering(dstAddr string, dstPort int) error // removes the rule added above
	FinishFiltering() error                                     // flushes all rules and stop filtering.
}

// noopFilter is used when filtering is disabled or unsupported.
type noopFilter struct{}

func NewNoopFilter() Filter {
	return noopFilter{}
}

func (noopFilter) AddTcpClientFiltering(dstAddr string, dstPort int) error {
	log.Printf("RST filtering disabled, the kernel may reset %s:%d", dstAddr, dstPort)
	return nil
}

func (noopFilter) RemoveTcpClientFiltering(dstAddr string, dstPort int) error { return nil }

func (noopFilter) FinishFiltering() error { return nil }
