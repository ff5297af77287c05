//go:build linux
// +build linux

package filter

import (
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
)

// commandRunner runs an external command and returns its combined output.
type commandRunner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

type filterImpl struct {
	comment string
	run     commandRunner
}

// NewFilter prefers iptables and falls back to nftables.
func NewFilter(identifier string) (Filter, error) {
	f, err := newFilter(identifier, execRunner)
	if err == nil {
		return f, nil
	}
	log.Println(err)
	if nf, nerr := newNftablesFilter(identifier, execRunner); nerr == nil {
		return nf, nil
	}
	return nil, err
}

func newFilter(identifier string, run commandRunner) (Filter, error) {
	if err := isIptablesEnabled(run); err != nil {
		return nil, err
	}
	return &filterImpl{
		comment: identifier,
		run:     run,
	}, nil
}

// isIptablesEnabled checks if iptables is enabled and available on the system.
func isIptablesEnabled(run commandRunner) error {
	// "iptables -S" lists all rules in the filter table
	output, err := run("iptables", "-S")
	if err != nil {
		return fmt.Errorf("iptables is not enabled or available: %v\nOutput: %s", err, string(output))
	}

	log.Println("iptables is enabled and available.")
	return nil
}

func (f *filterImpl) ruleArgs(action, dstAddr string, dstPort int) []string {
	return []string{action, "OUTPUT", "-p", "tcp", "--tcp-flags", "RST", "RST", "-d", dstAddr, "--dport", strconv.Itoa(dstPort), "-m", "comment", "--comment", f.comment, "-j", "DROP"}
}

// AddTcpClientFiltering adds an iptables rule dropping RST packets to the given
// IP and port. An identical existing rule is left alone.
func (f *filterImpl) AddTcpClientFiltering(dstAddr string, dstPort int) error {
	// "-C" exits non-zero when the rule does not exist
	if _, err := f.run("iptables", f.ruleArgs("-C", dstAddr, dstPort)...); err == nil {
		log.Printf("Rule already exists for %s:%d", dstAddr, dstPort)
		return nil
	}

	if output, err := f.run("iptables", f.ruleArgs("-A", dstAddr, dstPort)...); err != nil {
		return fmt.Errorf("failed to add iptables rule: %v\nOutput: %s", err, string(output))
	}

	log.Printf("Successfully added RST drop rule for %s:%d", dstAddr, dstPort)
	return nil
}

func (f *filterImpl) RemoveTcpClientFiltering(dstAddr string, dstPort int) error {
	if output, err := f.run("iptables", f.ruleArgs("-D", dstAddr, dstPort)...); err != nil {
		return fmt.Errorf("failed to remove iptables rule: %v\nOutput: %s", err, string(output))
	}

	log.Printf("Successfully removed RST drop rule for %s:%d", dstAddr, dstPort)
	return nil
}

// FinishFiltering removes every OUTPUT rule tagged with our comment.
func (f *filterImpl) FinishFiltering() error {
	output, err := f.run("iptables", "-S", "OUTPUT")
	if err != nil {
		return fmt.Errorf("failed to list iptables rules: %v\nOutput: %s", err, string(output))
	}

	var deleteErrors []string
	for _, line := range strings.Split(string(output), "\n") {
		if !strings.Contains(line, "--comment \""+f.comment+"\"") && !strings.Contains(line, "--comment "+f.comment+" ") {
			continue
		}
		args, err := splitRule(line)
		if err != nil || len(args) == 0 || args[0] != "-A" {
			continue
		}
		args[0] = "-D"
		if out, err := f.run("iptables", args...); err != nil {
			deleteErrors = append(deleteErrors, fmt.Sprintf("%s\nError: %s", line, string(out)))
		}
	}

	if len(deleteErrors) > 0 {
		return fmt.Errorf("some rules failed to delete:\n%s", strings.Join(deleteErrors, "\n"))
	}
	return nil
}

// splitRule splits an "iptables -S" line into arguments, honouring double quotes.
func splitRule(line string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		quoted  bool
		started bool
	)
	for _, r := range strings.TrimSpace(line) {
		switch {
		case r == '"':
			quoted = !quoted
			started = true
		case r == ' ' && !quoted:
			if started {
				args = append(args, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(r)
			started = true
		}
	}
	if quoted {
		return nil, fmt.Errorf("unbalanced quotes in %q", line)
	}
	if started {
		args = append(args, current.String())
	}
	return args, nil
}
