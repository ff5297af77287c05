//go:build !linux
// +build !linux

package filter

import "log"

// NewFilter returns a filter that does nothing: RST suppression is only
// implemented with iptables.
func NewFilter(identifier string) (Filter, error) {
	log.Printf("%sRST filtering is only supported on linux", identifier)
	return NewNoopFilter(), nil
}
