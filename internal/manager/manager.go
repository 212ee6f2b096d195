// Package manager keeps the set of configured services and applies bulk
// operations to them.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loykin/sshapp/internal/env"
	"github.com/loykin/sshapp/internal/history"
	"github.com/loykin/sshapp/internal/remote"
	"github.com/loykin/sshapp/internal/service"
	"github.com/loykin/sshapp/internal/shell"
)

// ErrUnknownService is returned for names that were never registered.
var ErrUnknownService = errors.New("unknown service")

type Options struct {
	Dialer remote.Dialer
	Logger *slog.Logger
}

// Manager owns services and the resources they share: the node dialer, the
// global environment and the history sinks.
type Manager struct {
	mu        sync.RWMutex
	dial      remote.Dialer
	envM      *env.Env
	histSinks []history.Sink
	log       *slog.Logger

	services map[string]*service.Service
}

func NewManager(opts Options) *Manager {
	dial := opts.Dialer
	if dial == nil {
		dial = remote.SSHDialer(shell.SSHConfig{})
	}
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Manager{
		dial:     dial,
		envM:     env.New(),
		log:      lg,
		services: make(map[string]*service.Service),
	}
}

// SetHistorySinks configures external history sinks (OpenSearch, ClickHouse, etc.).
// It applies to already registered services too. Passing no sinks clears the list.
func (m *Manager) SetHistorySinks(sinks ...history.Sink) {
	m.mu.Lock()
	m.histSinks = append([]history.Sink(nil), sinks...)
	m.mu.Unlock()
}

// Send forwards e to the configured history sinks.
func (m *Manager) Send(ctx context.Context, e history.Event) error {
	m.mu.RLock()
	sinks := history.Multi(append([]history.Sink(nil), m.histSinks...))
	m.mu.RUnlock()
	return sinks.Send(ctx, e)
}

// SetGlobalEnv sets environment variables passed to every service started later.
// kvs must be in the form "KEY=VALUE".
func (m *Manager) SetGlobalEnv(kvs []string) {
	m.envM.SetPairs(kvs)
}

// Register creates the service described by spec.
func (m *Manager) Register(spec service.Spec) (*service.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[spec.Name]; ok {
		return nil, fmt.Errorf("service %q already registered", spec.Name)
	}
	svc, err := service.New(spec, service.Options{
		Dialer:  m.dial,
		Env:     m.envM,
		History: m,
		Logger:  m.log,
	})
	if err != nil {
		return nil, err
	}
	m.services[spec.Name] = svc
	return svc, nil
}

func (m *Manager) Get(name string) (*service.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return svc, nil
}

// Names returns the registered service names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.services))
	for n := range m.services {
		names = append(names, n)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Match returns services whose names match the wildcard pattern, sorted by name.
// Supported wildcard: '*' matches any substring (including empty).
func (m *Manager) Match(pattern string) []*service.Service {
	var out []*service.Service
	for _, n := range m.Names() {
		if wildcardMatch(n, pattern) {
			if svc, err := m.Get(n); err == nil {
				out = append(out, svc)
			}
		}
	}
	return out
}

// StopAll stops every service matching pattern; all are attempted and the
// failures are joined.
func (m *Manager) StopAll(ctx context.Context, pattern string, graceful bool, timeout time.Duration) error {
	var errs []error
	for _, svc := range m.Match(pattern) {
		if err := svc.Stop(ctx, graceful, timeout); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", svc.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// CleanAll cleans every node of every service matching pattern.
func (m *Manager) CleanAll(ctx context.Context, pattern string) error {
	var errs []error
	for _, svc := range m.Match(pattern) {
		if err := svc.Clean(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", svc.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close releases every service and closes the history sinks.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for name, svc := range m.services {
		if err := svc.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(m.services, name)
	}
	if err := history.Multi(m.histSinks).Close(); err != nil {
		errs = append(errs, err)
	}
	m.histSinks = nil
	return errors.Join(errs...)
}

// wildcardMatch reports whether name matches pattern where '*' matches any
// substring. An empty pattern matches nothing.
func wildcardMatch(name, pattern string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return name == pattern
	}
	parts := strings.Split(pattern, "*")
	idx := 0
	if parts[0] != "" {
		if !strings.HasPrefix(name, parts[0]) {
			return false
		}
		idx = len(parts[0])
	}
	for i := 1; i < len(parts)-1; i++ {
		p := parts[i]
		if p == "" {
			continue
		}
		j := strings.Index(name[idx:], p)
		if j < 0 {
			return false
		}
		idx += j + len(p)
	}
	last := parts[len(parts)-1]
	if last == "" {
		return true
	}
	return len(name)-idx >= len(last) && strings.HasSuffix(name, last)
}
