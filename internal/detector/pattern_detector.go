package detector

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/loykin/sshapp/internal/shell"
)

// PatternDetector finds processes whose full command line contains Pattern.
type PatternDetector struct {
	Exec    shell.Executor
	Pattern string
}

func (d PatternDetector) Alive(ctx context.Context) (bool, error) {
	pids, err := d.Pids(ctx)
	return len(pids) > 0, err
}

// Pids lists the matching process ids via pgrep -f.
func (d PatternDetector) Pids(ctx context.Context) ([]int, error) {
	if d.Pattern == "" {
		return nil, fmt.Errorf("pattern detector requires a pattern")
	}
	res, err := d.Exec.Exec(ctx, "pgrep -f "+shell.Quote(SelfExcludingPattern(d.Pattern)))
	if err != nil {
		return nil, err
	}
	switch res.ExitCode {
	case 0:
	case 1:
		// no process matched
		return nil, nil
	default:
		return nil, fmt.Errorf("pgrep exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	var pids []int
	for _, l := range res.Lines() {
		pid, err := strconv.Atoi(strings.TrimSpace(l))
		if err != nil {
			return nil, fmt.Errorf("unexpected pgrep output %q: %w", l, err)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

func (d PatternDetector) Describe() string { return "pattern:" + d.Pattern }

// SelfExcludingPattern turns a literal into an extended regex that matches the
// literal but not the shell command line that carries the regex itself, so
// pgrep/pkill never match the shell they run in.
func SelfExcludingPattern(literal string) string {
	if literal == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(literal)
	rest := regexp.QuoteMeta(literal[size:])
	if strings.ContainsRune(`]^\-[`, r) {
		return regexp.QuoteMeta(literal)
	}
	return "[" + string(r) + "]" + rest
}
