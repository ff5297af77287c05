//go:build linux
// +build linux

package filter

import (
	"fmt"
	"log"
	"strconv"
	"strings"
)

const (
	nftFamily = "inet"
	nftTable  = "filter"
	nftChain  = "output"
)

// nftablesFilter is used on hosts where iptables is missing. Rules carry the
// identifier as an nft comment so they can be found by handle and deleted.
type nftablesFilter struct {
	comment string
	run     commandRunner
}

func newNftablesFilter(identifier string, run commandRunner) (Filter, error) {
	if output, err := run("nft", "list", "tables"); err != nil {
		return nil, fmt.Errorf("nftables is not enabled or available: %v\nOutput: %s", err, string(output))
	}
	f := &nftablesFilter{comment: identifier, run: run}
	if err := f.ensureTableAndChain(); err != nil {
		return nil, err
	}
	log.Println("nftables is enabled and available.")
	return f, nil
}

func (f *nftablesFilter) ensureTableAndChain() error {
	if _, err := f.run("nft", "list", "table", nftFamily, nftTable); err != nil {
		if output, err := f.run("nft", "add", "table", nftFamily, nftTable); err != nil {
			return fmt.Errorf("failed to create nftables table: %v\nOutput: %s", err, string(output))
		}
	}
	if _, err := f.run("nft", "list", "chain", nftFamily, nftTable, nftChain); err != nil {
		output, err := f.run("nft", "add", "chain", nftFamily, nftTable, nftChain,
			"{", "type", "filter", "hook", "output", "priority", "0", ";", "}")
		if err != nil {
			return fmt.Errorf("failed to create nftables output chain: %v\nOutput: %s", err, string(output))
		}
	}
	return nil
}

func (f *nftablesFilter) match(dstAddr string, dstPort int) string {
	return fmt.Sprintf("ip daddr %s tcp dport %d", dstAddr, dstPort)
}

// handles lists the chain and returns the handles of our rules whose text
// contains match. An empty match selects every rule carrying the comment.
func (f *nftablesFilter) handles(match string) ([]string, error) {
	output, err := f.run("nft", "-a", "list", "chain", nftFamily, nftTable, nftChain)
	if err != nil {
		return nil, fmt.Errorf("failed to list nftables rules: %v\nOutput: %s", err, string(output))
	}

	var handles []string
	for _, line := range strings.Split(string(output), "\n") {
		if !strings.Contains(line, `comment "`+f.comment+`"`) || !strings.Contains(line, match) {
			continue
		}
		i := strings.LastIndex(line, "# handle ")
		if i < 0 {
			continue
		}
		handle := strings.TrimSpace(line[i+len("# handle "):])
		if _, err := strconv.Atoi(handle); err == nil {
			handles = append(handles, handle)
		}
	}
	return handles, nil
}

func (f *nftablesFilter) AddTcpClientFiltering(dstAddr string, dstPort int) error {
	existing, err := f.handles(f.match(dstAddr, dstPort))
	if err == nil && len(existing) > 0 {
		log.Printf("Rule already exists for %s:%d", dstAddr, dstPort)
		return nil
	}

	args := append([]string{"add", "rule", nftFamily, nftTable, nftChain},
		strings.Fields(f.match(dstAddr, dstPort))...)
	args = append(args, "tcp", "flags", "rst", "counter", "drop", "comment", `"`+f.comment+`"`)
	if output, err := f.run("nft", args...); err != nil {
		return fmt.Errorf("failed to add nftables rule: %v\nOutput: %s", err, string(output))
	}

	log.Printf("Successfully added RST drop rule for %s:%d", dstAddr, dstPort)
	return nil
}

func (f *nftablesFilter) RemoveTcpClientFiltering(dstAddr string, dstPort int) error {
	return f.deleteMatching(f.match(dstAddr, dstPort))
}

func (f *nftablesFilter) FinishFiltering() error {
	return f.deleteMatching("")
}

func (f *nftablesFilter) deleteMatching(match string) error {
	handles, err := f.handles(match)
	if err != nil {
		return err
	}

	var deleteErrors []string
	for _, h := range handles {
		if out, err := f.run("nft", "delete", "rule", nftFamily, nftTable, nftChain, "handle", h); err != nil {
			deleteErrors = append(deleteErrors, fmt.Sprintf("handle %s\nError: %s", h, string(out)))
		}
	}
	if len(deleteErrors) > 0 {
		return fmt.Errorf("some rules failed to delete:\n%s", strings.Join(deleteErrors, "\n"))
	}
	return nil
}
