// Package shell runs shell commands on the local machine or on a remote host over SSH.
package shell

import (
	"context"
	"strings"
)

// Executor runs a shell command line and reports its output.
// A non-zero exit status is reported through ExecResult.ExitCode, not as an error;
// errors are reserved for transport and spawn failures.
type Executor interface {
	Exec(ctx context.Context, command string) (*ExecResult, error)
	Close() error
}

// ExecResult is the outcome of one command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func (r *ExecResult) OK() bool { return r != nil && r.ExitCode == 0 }

// Lines returns non-empty stdout lines.
func (r *ExecResult) Lines() []string {
	if r == nil || r.Stdout == "" {
		return nil
	}
	raw := strings.Split(strings.ReplaceAll(r.Stdout, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if l == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}

// Quote returns s as a single POSIX shell word.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`|&;<>*?()[]{}~#!=%") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
