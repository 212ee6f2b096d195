package lifecycle

import (
	"context"
	"regexp"
	"sync"
)

type fakeLogs struct {
	mu    sync.Mutex
	lines map[string][]string
	calls int
}

func newFakeLogs() *fakeLogs { return &fakeLogs{lines: make(map[string][]string)} }

func (f *fakeLogs) Append(n Node, lines ...string) {
	f.mu.Lock()
	f.lines[n.Host] = append(f.lines[n.Host], lines...)
	f.mu.Unlock()
}

func (f *fakeLogs) FindLines(_ context.Context, n Node, pattern string, _ bool) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var out []string
	for _, l := range f.lines[n.Host] {
		if re.MatchString(l) {
			out = append(out, l)
		}
	}
	return out, nil
}

type fakeCtrl struct {
	mu    sync.Mutex
	alive map[string]bool
}

func newFakeCtrl() *fakeCtrl { return &fakeCtrl{alive: make(map[string]bool)} }

func (c *fakeCtrl) set(n Node, alive bool) {
	c.mu.Lock()
	c.alive[n.Host] = alive
	c.mu.Unlock()
}

func (c *fakeCtrl) Start(_ context.Context, n Node, _ string) error {
	c.set(n, true)
	return nil
}

func (c *fakeCtrl) Stop(ctx context.Context, n Node, graceful bool) error {
	return c.Kill(ctx, n, graceful, true)
}

func (c *fakeCtrl) Kill(_ context.Context, n Node, _, _ bool) error {
	c.set(n, false)
	return nil
}

func (c *fakeCtrl) Alive(_ context.Context, n Node) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive[n.Host], nil
}

func (c *fakeCtrl) Pids(ctx context.Context, n Node) ([]int, error) {
	if ok, _ := c.Alive(ctx, n); ok {
		return []int{4242}, nil
	}
	return nil, nil
}

func (c *fakeCtrl) RemovePersistentState(context.Context, Node) error { return nil }
