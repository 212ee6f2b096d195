package service

import (
	"context"
	"errors"
	"regexp"
	"sync"

	"github.com/loykin/sshapp/internal/history"
	"github.com/loykin/sshapp/internal/lifecycle"
)

// fakeApp plays both the node controller and the captured output.
// onStart lines are appended to a node's log when it is launched; stubborn
// nodes ignore graceful stops.
type fakeApp struct {
	mu       sync.Mutex
	lines    map[string][]string
	marks    map[string]int
	alive    map[string]bool
	stubborn map[string]bool
	onStart  []string
	onStop   []string
	commands []string
	kills    []string
	removed  []string
	rmErr    error
}

func newFakeApp() *fakeApp {
	return &fakeApp{
		lines:    make(map[string][]string),
		marks:    make(map[string]int),
		alive:    make(map[string]bool),
		stubborn: make(map[string]bool),
	}
}

func (f *fakeApp) append(n lifecycle.Node, lines ...string) {
	f.mu.Lock()
	f.lines[n.Host] = append(f.lines[n.Host], lines...)
	f.mu.Unlock()
}

func (f *fakeApp) Mark(_ context.Context, n lifecycle.Node) error {
	f.mu.Lock()
	f.marks[n.Host] = len(f.lines[n.Host])
	f.mu.Unlock()
	return nil
}

func (f *fakeApp) FindLines(_ context.Context, n lifecycle.Node, pattern string, fromBeginning bool) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := f.lines[n.Host]
	if !fromBeginning {
		lines = lines[f.marks[n.Host]:]
	}
	var out []string
	for _, l := range lines {
		if re.MatchString(l) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeApp) Start(_ context.Context, n lifecycle.Node, command string) error {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.alive[n.Host] = true
	f.lines[n.Host] = append(f.lines[n.Host], f.onStart...)
	f.mu.Unlock()
	return nil
}

func (f *fakeApp) Stop(ctx context.Context, n lifecycle.Node, graceful bool) error {
	return f.Kill(ctx, n, graceful, true)
}

func (f *fakeApp) Kill(_ context.Context, n lifecycle.Node, graceful, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills = append(f.kills, n.Host)
	if graceful && f.stubborn[n.Host] {
		return nil
	}
	if f.alive[n.Host] {
		f.lines[n.Host] = append(f.lines[n.Host], f.onStop...)
	}
	f.alive[n.Host] = false
	return nil
}

func (f *fakeApp) Alive(_ context.Context, n lifecycle.Node) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[n.Host], nil
}

func (f *fakeApp) Pids(ctx context.Context, n lifecycle.Node) ([]int, error) {
	if ok, _ := f.Alive(ctx, n); ok {
		return []int{4242}, nil
	}
	return nil, nil
}

func (f *fakeApp) RemovePersistentState(_ context.Context, n lifecycle.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rmErr != nil {
		return f.rmErr
	}
	f.removed = append(f.removed, n.Host)
	return nil
}

type memSink struct {
	mu     sync.Mutex
	events []history.Event
	fail   bool
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	if m.fail {
		return errors.New("sink down")
	}
	return nil
}

func (m *memSink) types() []history.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]history.EventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}
