// Package service drives one application deployed on a set of nodes: it
// launches it, waits for its lifecycle markers, stops it and cleans up.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/sshapp/internal/env"
	"github.com/loykin/sshapp/internal/history"
	"github.com/loykin/sshapp/internal/lifecycle"
	"github.com/loykin/sshapp/internal/metrics"
	"github.com/loykin/sshapp/internal/remote"
	"github.com/loykin/sshapp/internal/shell"
)

// Options wires a Service. Controller and Logs replace the shell based
// implementations built from Dialer; they are mostly useful in tests.
type Options struct {
	Dialer     remote.Dialer
	Env        *env.Env
	History    history.Sink
	Logger     *slog.Logger
	Controller lifecycle.ProcessController
	Logs       lifecycle.LogSource
}

// marker is implemented by log sources that can restrict later searches to
// output written after a point in time.
type marker interface {
	Mark(ctx context.Context, n lifecycle.Node) error
}

type Service struct {
	spec Spec
	pool *remote.Pool
	ctrl lifecycle.ProcessController
	logs lifecycle.LogSource
	mon  *lifecycle.Monitor
	env  *env.Env
	hist history.Sink
	log  *slog.Logger
}

// NodeState is the derived state of one node.
type NodeState struct {
	Node  lifecycle.Node  `json:"node"`
	State lifecycle.State `json:"state"`
}

func New(spec Spec, opts Options) (*Service, error) {
	spec = spec.WithDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	s := &Service{
		spec: spec,
		env:  opts.Env,
		hist: opts.History,
		log:  lg.With("service", spec.Name),
	}
	if opts.Controller == nil || opts.Logs == nil {
		dial := opts.Dialer
		if dial == nil {
			dial = remote.SSHDialer(shell.SSHConfig{})
		}
		s.pool = remote.NewPool(dial)
	}
	s.ctrl = opts.Controller
	if s.ctrl == nil {
		s.ctrl = remote.NewController(s.pool, remote.ControllerConfig{
			Pattern:        spec.ClassName,
			PersistentRoot: spec.PersistentRoot,
			CaptureFile:    spec.CaptureFile,
			PIDFile:        spec.PIDFile,
			AliveCommand:   spec.AliveCommand,
		}, s.log)
	}
	s.logs = opts.Logs
	if s.logs == nil {
		s.logs = remote.NewLogSource(s.pool, spec.CaptureFile)
	}
	s.mon = lifecycle.NewMonitor(spec.Nodes, s.ctrl, s.logs, lifecycle.Options{
		Service:      spec.Name,
		Markers:      spec.Markers,
		PollInterval: spec.PollInterval,
		Logger:       lg,
	})
	return s, nil
}

func (s *Service) Name() string { return s.spec.Name }

// Spec returns the effective spec, defaults included.
func (s *Service) Spec() Spec { return s.spec }

func (s *Service) Nodes() []lifecycle.Node { return s.mon.Nodes() }

// Node looks a node up by its String form or its host.
func (s *Service) Node(id string) (lifecycle.Node, bool) {
	for _, n := range s.spec.Nodes {
		if n.String() == id || n.Host == id {
			return n, true
		}
	}
	return lifecycle.Node{}, false
}

// Start launches the application on every node and waits until it is initialized.
func (s *Service) Start(ctx context.Context) error {
	if err := s.StartAsync(ctx); err != nil {
		return err
	}
	return s.AwaitStarted(ctx)
}

// StartAsync launches the application on every node without waiting.
// Log offsets are recorded first so that AwaitEvent with fromBeginning=false
// skips output of earlier runs. Marker checks still read from the beginning.
func (s *Service) StartAsync(ctx context.Context) error {
	cmd, err := s.spec.RenderCommand(s.env)
	if err != nil {
		return err
	}
	for _, n := range s.spec.Nodes {
		if m, ok := s.logs.(marker); ok {
			if err := m.Mark(ctx, n); err != nil {
				return err
			}
		}
		s.log.Info("starting application", "node", n.String())
		if err := s.ctrl.Start(ctx, n, cmd); err != nil {
			return err
		}
		s.record(ctx, history.EventStartRequested, n.String(), "", "")
	}
	return nil
}

// AwaitStarted waits up to the start timeout for the initialized marker.
func (s *Service) AwaitStarted(ctx context.Context) error {
	return s.observe(ctx, "started", lifecycle.StateInitialized, history.EventInitialized, func() error {
		return s.mon.AwaitStarted(ctx, s.spec.StartTimeout)
	})
}

// AwaitStopped waits for every node to exit and for the finished marker.
// A non-positive timeout selects the configured stop timeout.
func (s *Service) AwaitStopped(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.spec.StopTimeout
	}
	return s.observe(ctx, "stopped", lifecycle.StateFinished, history.EventFinished, func() error {
		return s.mon.AwaitStopped(ctx, timeout)
	})
}

// AwaitEvent waits for pattern on every node; see lifecycle.Monitor.AwaitEvent.
func (s *Service) AwaitEvent(ctx context.Context, pattern string, timeout time.Duration, fromBeginning bool) error {
	return s.mon.AwaitEvent(ctx, pattern, timeout, fromBeginning)
}

// StopNode signals the application on n. Failures are ignored so that stopping
// a stopped node succeeds.
func (s *Service) StopNode(ctx context.Context, n lifecycle.Node, graceful bool) error {
	if err := s.ctrl.Stop(ctx, n, graceful); err != nil {
		return err
	}
	metrics.IncStop(s.spec.Name, graceful)
	evt := history.EventKilled
	if graceful {
		evt = history.EventStopped
	}
	s.record(ctx, evt, n.String(), "", "")
	return nil
}

// Stop signals every node. A graceful stop then waits for the nodes to exit
// and for the finished marker.
func (s *Service) Stop(ctx context.Context, graceful bool, timeout time.Duration) error {
	for _, n := range s.spec.Nodes {
		if err := s.StopNode(ctx, n, graceful); err != nil {
			return err
		}
	}
	if !graceful {
		return nil
	}
	return s.AwaitStopped(ctx, timeout)
}

// CleanNode force-kills whatever is left on n and removes the persistent root.
func (s *Service) CleanNode(ctx context.Context, n lifecycle.Node) error {
	alive, err := s.ctrl.Alive(ctx, n)
	if err != nil {
		s.log.Debug("liveness probe failed before clean", "node", n.String(), "error", err)
	}
	if alive {
		s.log.Warn("application is still alive on node, killing before clean", "node", n.String())
	}
	if err := s.ctrl.Kill(ctx, n, false, true); err != nil {
		return err
	}
	if err := s.ctrl.RemovePersistentState(ctx, n); err != nil {
		return err
	}
	s.record(ctx, history.EventCleaned, n.String(), "", "")
	return nil
}

// Clean runs CleanNode on every node and reports every failure.
func (s *Service) Clean(ctx context.Context) error {
	var errs []error
	for _, n := range s.spec.Nodes {
		if err := s.CleanNode(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) Pids(ctx context.Context, n lifecycle.Node) ([]int, error) {
	return s.ctrl.Pids(ctx, n)
}

func (s *Service) Alive(ctx context.Context, n lifecycle.Node) (bool, error) {
	return s.ctrl.Alive(ctx, n)
}

func (s *Service) ExtractResult(ctx context.Context, name string) (string, error) {
	return s.mon.ExtractResult(ctx, name)
}

func (s *Service) ExtractResults(ctx context.Context, name string) ([]string, error) {
	return s.mon.ExtractResults(ctx, name)
}

// NodeStates derives the state of every node.
func (s *Service) NodeStates(ctx context.Context) ([]NodeState, error) {
	out := make([]NodeState, 0, len(s.spec.Nodes))
	for _, n := range s.spec.Nodes {
		st, err := s.mon.State(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("state of %s: %w", n, err)
		}
		out = append(out, NodeState{Node: n, State: st})
	}
	return out, nil
}

// State combines the node states into one service state.
func (s *Service) State(ctx context.Context) (lifecycle.State, error) {
	nodes, err := s.NodeStates(ctx)
	if err != nil {
		return lifecycle.StateNotStarted, err
	}
	states := make([]lifecycle.State, 0, len(nodes))
	for _, ns := range nodes {
		states = append(states, ns.State)
	}
	st := lifecycle.Combine(states...)
	metrics.SetState(s.spec.Name, st.String(), stateNames())
	return st, nil
}

// Usage samples resource usage of the application on local nodes. Remote
// nodes are skipped.
func (s *Service) Usage(ctx context.Context) ([]metrics.ProcessMetrics, error) {
	var out []metrics.ProcessMetrics
	for _, n := range s.spec.Nodes {
		if !remote.IsLocal(n) {
			continue
		}
		pids, err := s.ctrl.Pids(ctx, n)
		if err != nil {
			return nil, err
		}
		out = append(out, metrics.SampleProcesses(s.spec.Name, n.String(), pids)...)
	}
	return out, nil
}

// Close releases connections to the nodes.
func (s *Service) Close() error {
	metrics.ForgetProcesses(s.spec.Name)
	if s.pool == nil {
		return nil
	}
	return s.pool.Close()
}

// observe runs a wait and reports its verdict to metrics and history.
func (s *Service) observe(ctx context.Context, kind string, okState lifecycle.State, okEvent history.EventType, wait func() error) error {
	begin := time.Now()
	err := wait()
	outcome, evt, state := "ok", okEvent, okState
	switch {
	case err == nil:
	case lifecycle.IsExecution(err):
		outcome, evt, state = "broken", history.EventBroken, lifecycle.StateBroken
	case lifecycle.IsTimeout(err), lifecycle.IsAssertion(err):
		outcome, evt, state = "timeout", history.EventTimeout, ""
	default:
		outcome, evt = "error", ""
	}
	metrics.ObserveAwait(s.spec.Name, kind, outcome, time.Since(begin).Seconds())
	if state != "" {
		metrics.SetState(s.spec.Name, state.String(), stateNames())
	}
	if evt != "" {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		s.record(ctx, evt, "", state.String(), msg)
	}
	return err
}

func (s *Service) record(ctx context.Context, t history.EventType, node, state, msg string) {
	if s.hist == nil {
		return
	}
	e := history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Service:    s.spec.Name,
		Node:       node,
		State:      state,
		Message:    msg,
	}
	// history must not depend on the caller's deadline
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.hist.Send(hctx, e); err != nil {
		s.log.Warn("history sink failed", "event", string(t), "error", err)
	}
}

func stateNames() []string {
	all := lifecycle.AllStates()
	out := make([]string, 0, len(all))
	for _, st := range all {
		out = append(out, st.String())
	}
	return out
}
