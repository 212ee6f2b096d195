package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultPollInterval is the pause between two scans of the log.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultStopTimeout bounds the wait for one node to exit.
	DefaultStopTimeout = 10 * time.Second
	// ErrorResult names the result the application prints before the broken marker.
	ErrorResult = "ERROR"
)

// Options configures a Monitor.
type Options struct {
	Service      string
	Markers      Markers
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Monitor decides, within a caller supplied timeout, whether the application on
// every tracked node reached a lifecycle state. It reads only captured output
// and liveness; it never mutates the nodes.
type Monitor struct {
	nodes   []Node
	ctrl    ProcessController
	logs    LogSource
	markers Markers
	poll    time.Duration
	service string
	log     *slog.Logger
}

func NewMonitor(nodes []Node, ctrl ProcessController, logs LogSource, opts Options) *Monitor {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Monitor{
		nodes:   append([]Node(nil), nodes...),
		ctrl:    ctrl,
		logs:    logs,
		markers: opts.Markers.WithDefaults(),
		poll:    poll,
		service: opts.Service,
		log:     lg.With("service", opts.Service),
	}
}

func (m *Monitor) Nodes() []Node { return append([]Node(nil), m.nodes...) }

func (m *Monitor) Markers() Markers { return m.markers }

// AwaitEvent blocks until every node's output has a line matching pattern.
func (m *Monitor) AwaitEvent(ctx context.Context, pattern string, timeout time.Duration, fromBeginning bool) error {
	pending := m.Nodes()
	err := m.pollUntil(ctx, timeout, func() (bool, error) {
		rest := pending[:0]
		for _, n := range pending {
			lines, err := m.logs.FindLines(ctx, n, pattern, fromBeginning)
			if err != nil {
				return false, fmt.Errorf("search %s: %w", n, err)
			}
			if len(lines) == 0 {
				rest = append(rest, n)
			}
		}
		pending = rest
		return len(pending) == 0, nil
	})
	if IsTimeout(err) {
		return fmt.Errorf("%w: %q not found on %s within %s", ErrTimeout, pattern, nodeList(pending), timeout)
	}
	return err
}

// AwaitStarted waits for the platform topology marker and then for the
// initialized marker, failing early when the application reports broken.
func (m *Monitor) AwaitStarted(ctx context.Context, timeout time.Duration) error {
	m.log.Info("waiting for application to start", "timeout", timeout)
	if err := m.AwaitEvent(ctx, regexp.QuoteMeta(m.markers.Topology), timeout, true); err != nil {
		return err
	}
	return m.CheckStatus(ctx, m.markers.Initialized, timeout)
}

// AwaitStopped waits for every node to exit, one after another, then checks
// for the finished marker. A node still alive after timeout is an assertion
// failure; total wall time is bounded by the sum of per-node timeouts.
func (m *Monitor) AwaitStopped(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	for _, n := range m.nodes {
		err := m.pollUntil(ctx, timeout, func() (bool, error) {
			alive, err := m.ctrl.Alive(ctx, n)
			if err != nil {
				return false, fmt.Errorf("probe %s: %w", n, err)
			}
			return !alive, nil
		})
		if IsTimeout(err) {
			return assertionf("node %s: did not stop within the specified timeout of %s", n, timeout)
		}
		if err != nil {
			return err
		}
		m.log.Debug("node stopped", "node", n.String())
	}
	return m.CheckStatus(ctx, m.markers.Finished, timeout)
}

// CheckStatus polls the whole output of every node for desired or the broken
// marker. Each poll is a single scan classified into an Outcome, so there is
// no window between detecting a marker and deciding which one it was.
func (m *Monitor) CheckStatus(ctx context.Context, desired string, timeout time.Duration) error {
	pattern := regexp.QuoteMeta(desired) + "|" + regexp.QuoteMeta(m.markers.Broken)
	verdict := NotFound
	var waiting []Node
	err := m.pollUntil(ctx, timeout, func() (bool, error) {
		v, rest, err := m.scan(ctx, pattern, desired)
		if err != nil {
			return false, err
		}
		verdict, waiting = v, rest
		return verdict != NotFound, nil
	})
	if IsTimeout(err) {
		return fmt.Errorf("%w: neither %q nor %q on %s within %s",
			ErrTimeout, desired, m.markers.Broken, nodeList(waiting), timeout)
	}
	if err != nil {
		return err
	}
	if verdict == Broken {
		results, rerr := m.ExtractResults(ctx, ErrorResult)
		if rerr != nil {
			m.log.Warn("failed to extract error result", "error", rerr)
		}
		m.log.Error("application reported broken", "result", strings.Join(results, "; "))
		return &ExecutionError{Service: m.service, Result: strings.Join(results, "; ")}
	}
	m.log.Info("application reached marker", "marker", desired)
	return nil
}

// scan classifies every node once. Broken on any node is final; success needs
// all nodes. rest lists the nodes without a verdict.
func (m *Monitor) scan(ctx context.Context, pattern, desired string) (Outcome, []Node, error) {
	var rest []Node
	for _, n := range m.nodes {
		lines, err := m.logs.FindLines(ctx, n, pattern, true)
		if err != nil {
			return NotFound, nil, fmt.Errorf("search %s: %w", n, err)
		}
		switch Classify(lines, desired, m.markers.Broken) {
		case Broken:
			return Broken, nil, nil
		case NotFound:
			rest = append(rest, n)
		}
	}
	if len(rest) > 0 {
		return NotFound, rest, nil
	}
	return Success, nil, nil
}

// State derives the current lifecycle state of one node from its output.
func (m *Monitor) State(ctx context.Context, n Node) (State, error) {
	mk := m.markers
	pattern := strings.Join([]string{
		regexp.QuoteMeta(mk.Initialized),
		regexp.QuoteMeta(mk.Finished),
		regexp.QuoteMeta(mk.Broken),
	}, "|")
	lines, err := m.logs.FindLines(ctx, n, pattern, true)
	if err != nil {
		return StateNotStarted, err
	}
	return Derive(lines, mk), nil
}

// ExtractResults returns the payload of every "name-> payload <-" line in the
// output of every node, in node order.
func (m *Monitor) ExtractResults(ctx context.Context, name string) ([]string, error) {
	prefix := name + "->"
	re, err := regexp.Compile(regexp.QuoteMeta(prefix) + "(.*)" + regexp.QuoteMeta("<-"))
	if err != nil {
		return nil, err
	}
	var res []string
	for _, n := range m.nodes {
		lines, err := m.logs.FindLines(ctx, n, regexp.QuoteMeta(prefix), true)
		if err != nil {
			return res, fmt.Errorf("search %s: %w", n, err)
		}
		for _, l := range lines {
			sub := re.FindStringSubmatch(l)
			if sub == nil {
				m.log.Debug("unterminated result line", "node", n.String(), "line", l)
				continue
			}
			res = append(res, strings.TrimSpace(sub[1]))
		}
	}
	return res, nil
}

// ExtractResult returns the single result the application printed.
// Exactly one result per node is required.
func (m *Monitor) ExtractResult(ctx context.Context, name string) (string, error) {
	results, err := m.ExtractResults(ctx, name)
	if err != nil {
		return "", err
	}
	if len(results) != len(m.nodes) {
		return "", assertionf("expected exactly %d occurrence(s) of %s, but found %d", len(m.nodes), name, len(results))
	}
	if len(results) == 0 {
		return "", nil
	}
	return results[0], nil
}

// pollUntil calls fn until it reports done, the timeout elapses or ctx ends.
// fn runs once more at the deadline before ErrTimeout is returned.
func (m *Monitor) pollUntil(ctx context.Context, timeout time.Duration, fn func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		done, err := fn()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}
		wait := m.poll
		if remaining < wait {
			wait = remaining
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func nodeList(nodes []Node) string {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		parts = append(parts, n.String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
