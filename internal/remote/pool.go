// Package remote implements the process controller and log source capabilities
// over shell executors, one per host.
package remote

import (
	"errors"
	"strings"
	"sync"

	"github.com/loykin/sshapp/internal/lifecycle"
	"github.com/loykin/sshapp/internal/shell"
)

// Dialer creates an executor for a node.
type Dialer func(n lifecycle.Node) (shell.Executor, error)

// SSHDialer dials nodes over SSH, except loopback hosts which run locally.
func SSHDialer(cfg shell.SSHConfig) Dialer {
	return func(n lifecycle.Node) (shell.Executor, error) {
		if IsLocal(n) {
			return shell.LocalExecutor{}, nil
		}
		if n.Port <= 0 && cfg.Port > 0 {
			n.Port = cfg.Port
		}
		cc, err := cfg.ClientConfig(n.User)
		if err != nil {
			return nil, err
		}
		return shell.NewSSHExecutor(n.Addr(), cc), nil
	}
}

// IsLocal reports whether commands for n run on this machine.
func IsLocal(n lifecycle.Node) bool {
	switch strings.ToLower(n.Host) {
	case "", "local", "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Pool caches one executor per node.
type Pool struct {
	dial Dialer

	mu    sync.Mutex
	execs map[string]shell.Executor
}

func NewPool(dial Dialer) *Pool {
	return &Pool{dial: dial, execs: make(map[string]shell.Executor)}
}

// For returns the executor for n, dialling it on first use.
func (p *Pool) For(n lifecycle.Node) (shell.Executor, error) {
	key := n.String()
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.execs[key]; ok {
		return e, nil
	}
	e, err := p.dial(n)
	if err != nil {
		return nil, err
	}
	p.execs[key] = e
	return e, nil
}

// Close closes every cached executor.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for k, e := range p.execs {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(p.execs, k)
	}
	return errors.Join(errs...)
}
