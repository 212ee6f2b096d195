// Package sshapp launches applications on remote nodes over SSH and follows
// their lifecycle through the markers they print to their console log.
package sshapp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/sshapp/internal/config"
	"github.com/loykin/sshapp/internal/history"
	"github.com/loykin/sshapp/internal/history/factory"
	"github.com/loykin/sshapp/internal/lifecycle"
	"github.com/loykin/sshapp/internal/logger"
	"github.com/loykin/sshapp/internal/manager"
	"github.com/loykin/sshapp/internal/metrics"
	"github.com/loykin/sshapp/internal/remote"
	iapi "github.com/loykin/sshapp/internal/server"
	"github.com/loykin/sshapp/internal/service"
	"github.com/loykin/sshapp/internal/shell"
	itls "github.com/loykin/sshapp/internal/tls"
)

// Re-export core types for external consumers.

type (
	Spec         = service.Spec
	Service      = service.Service
	NodeState    = service.NodeState
	Node         = lifecycle.Node
	State        = lifecycle.State
	Markers      = lifecycle.Markers
	SSHConfig    = shell.SSHConfig
	Config       = cfg.Config
	HistorySink  = history.Sink
	HistoryEvent = history.Event
)

const (
	StateNotStarted  = lifecycle.StateNotStarted
	StateInitialized = lifecycle.StateInitialized
	StateFinished    = lifecycle.StateFinished
	StateBroken      = lifecycle.StateBroken
)

var (
	ErrTimeout        = lifecycle.ErrTimeout
	ErrUnknownService = manager.ErrUnknownService
)

// CombineStates folds node states into a service state: BROKEN wins,
// otherwise the least advanced node decides.
func CombineStates(states ...State) State { return lifecycle.Combine(states...) }

func IsTimeout(err error) bool   { return lifecycle.IsTimeout(err) }
func IsExecution(err error) bool { return lifecycle.IsExecution(err) }
func IsAssertion(err error) bool { return lifecycle.IsAssertion(err) }

// Manager is a thin facade over internal/manager.Manager.
// It provides a stable public API for embedding.
type Manager struct{ inner *manager.Manager }

// New returns a manager reaching nodes over SSH with ssh; loopback nodes run locally.
func New(ssh SSHConfig, lg *slog.Logger) *Manager {
	return &Manager{inner: manager.NewManager(manager.Options{Dialer: remote.SSHDialer(ssh), Logger: lg})}
}

// FromConfig builds a manager with the global env, history sinks and
// services of a loaded configuration.
func FromConfig(c *Config, lg *slog.Logger) (*Manager, error) {
	m := New(c.SSH, lg)
	m.SetGlobalEnv(c.GlobalEnv)
	if c.History.Enabled && len(c.History.DSNs) > 0 {
		sinks, err := factory.NewMulti(c.History.DSNs)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		m.SetHistorySinks(sinks...)
	}
	for _, s := range c.Specs {
		if _, err := m.Register(s); err != nil {
			_ = m.Close()
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) SetGlobalEnv(kvs []string)                    { m.inner.SetGlobalEnv(kvs) }
func (m *Manager) SetHistorySinks(sinks ...HistorySink)         { m.inner.SetHistorySinks(sinks...) }
func (m *Manager) Register(s Spec) (*Service, error)            { return m.inner.Register(s) }
func (m *Manager) Get(name string) (*Service, error)            { return m.inner.Get(name) }
func (m *Manager) Names() []string                              { return m.inner.Names() }
func (m *Manager) Match(pattern string) []*Service              { return m.inner.Match(pattern) }
func (m *Manager) CleanAll(ctx context.Context, p string) error { return m.inner.CleanAll(ctx, p) }
func (m *Manager) StopAll(ctx context.Context, pattern string, graceful bool, timeout time.Duration) error {
	return m.inner.StopAll(ctx, pattern, graceful, timeout)
}
func (m *Manager) Close() error { return m.inner.Close() }

// Run starts a service, waits for it to finish on its own and returns the
// named results it printed. An empty result list skips extraction.
func (m *Manager) Run(ctx context.Context, name string, timeout time.Duration, results ...string) (map[string]string, error) {
	svc, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	if err := svc.Start(ctx); err != nil {
		return nil, err
	}
	if err := svc.AwaitStopped(ctx, timeout); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(results))
	var errs []error
	for _, r := range results {
		v, err := svc.ExtractResult(ctx, r)
		if err != nil {
			errs = append(errs, fmt.Errorf("result %s: %w", r, err))
			continue
		}
		out[r] = v
	}
	return out, errors.Join(errs...)
}

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewLogger builds the harness logger from the [log] section.
func NewLogger(c logger.Config) *slog.Logger { return c.NewSlogger() }

// NewHistorySinkFromDSN opens a sink for sqlite://, postgres://, clickhouse://
// or opensearch:// DSNs.
func NewHistorySinkFromDSN(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// NewHTTPServer starts an HTTP server exposing the status API using the given
// manager. A nil tlsCfg serves plain HTTP.
func NewHTTPServer(addr, basePath string, m *Manager, tlsCfg *tls.Config) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, m.inner, tlsCfg)
}

// ServerTLS returns the TLS configuration of the [server.tls] section, or nil.
func ServerTLS(c itls.Config) (*tls.Config, error) { return itls.Setup(c) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics serves /metrics on addr in the background. Listen errors are
// returned immediately.
func ServeMetrics(addr string) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv.Addr = ln.Addr().String()
	go func() { _ = srv.Serve(ln) }()
	return srv, nil
}
