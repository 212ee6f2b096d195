package remote

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/loykin/sshapp/internal/lifecycle"
	"github.com/loykin/sshapp/internal/shell"
)

// LogSource greps the capture file of the application on each node.
// The capture file path is explicit configuration shared by all nodes.
type LogSource struct {
	pool    *Pool
	capture string

	mu      sync.Mutex
	offsets map[string]int
}

var _ lifecycle.LogSource = (*LogSource)(nil)

func NewLogSource(pool *Pool, captureFile string) *LogSource {
	return &LogSource{pool: pool, capture: captureFile, offsets: make(map[string]int)}
}

func (l *LogSource) CaptureFile() string { return l.capture }

// Mark records the current size in bytes of the capture file; later searches
// that are not from the beginning only see output written after the mark.
func (l *LogSource) Mark(ctx context.Context, n lifecycle.Node) error {
	e, err := l.pool.For(n)
	if err != nil {
		return err
	}
	q := shell.Quote(l.capture)
	res, err := e.Exec(ctx, fmt.Sprintf("if test -f %s; then wc -c < %s; else echo 0; fi", q, q))
	if err != nil {
		return fmt.Errorf("mark %s: %w", n, err)
	}
	lines := res.Lines()
	if !res.OK() || len(lines) == 0 {
		return fmt.Errorf("mark %s: exit %d: %s", n, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	count, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return fmt.Errorf("mark %s: unexpected byte count %q", n, lines[0])
	}
	l.mu.Lock()
	l.offsets[n.String()] = count
	l.mu.Unlock()
	return nil
}

func (l *LogSource) FindLines(ctx context.Context, n lifecycle.Node, pattern string, fromBeginning bool) ([]string, error) {
	e, err := l.pool.For(n)
	if err != nil {
		return nil, err
	}
	res, err := e.Exec(ctx, l.grepCommand(n, pattern, fromBeginning))
	if err != nil {
		return nil, err
	}
	switch res.ExitCode {
	case 0:
		return res.Lines(), nil
	case 1:
		// no match, or the capture file does not exist yet
		return nil, nil
	default:
		return nil, fmt.Errorf("grep exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
}

func (l *LogSource) grepCommand(n lifecycle.Node, pattern string, fromBeginning bool) string {
	q := shell.Quote(l.capture)
	p := shell.Quote(pattern)
	off := 0
	if !fromBeginning {
		l.mu.Lock()
		off = l.offsets[n.String()]
		l.mu.Unlock()
	}
	// -a: a stray NUL byte must not turn the capture file into "binary" output
	if off == 0 {
		return fmt.Sprintf("test -f %s || exit 1; grep -a -E -- %s %s", q, p, q)
	}
	return fmt.Sprintf("test -f %s || exit 1; tail -c +%d %s | grep -a -E -- %s", q, off+1, q, p)
}
