package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/loykin/sshapp"
	"github.com/loykin/sshapp/pkg/client"
)

type command struct {
	out io.Writer
	// open builds a manager from a configuration file.
	open func(path string) (*sshapp.Manager, error)
}

func newCommand() command {
	return command{out: os.Stdout, open: openManager}
}

func openManager(path string) (*sshapp.Manager, error) {
	if path == "" {
		return nil, errors.New("config file required; use --config=sshapp.toml")
	}
	cfg, err := sshapp.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	lg := sshapp.NewLogger(cfg.Log)
	slog.SetDefault(lg)
	return sshapp.FromConfig(cfg, lg)
}

func (c command) apiClient(f APIFlags) (*client.Client, error) {
	cfg := client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout, Insecure: f.Insecure}
	if f.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{CACert: f.CACert}
	}
	cl := client.New(cfg)
	if !cl.IsReachable(context.Background()) {
		return nil, fmt.Errorf("daemon not reachable at %s - start it first with 'sshapp serve'", f.APIUrl)
	}
	return cl, nil
}

func (c command) withManager(path string, fn func(*sshapp.Manager) error) error {
	m, err := c.open(path)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return fn(m)
}

// Run starts a service, waits until it finished on its own and prints its results.
func (c command) Run(ctx context.Context, f RunFlags) error {
	return c.withManager(f.ConfigPath, func(m *sshapp.Manager) error {
		res, err := m.Run(ctx, f.Name, f.Timeout, f.Results...)
		if err != nil {
			return err
		}
		printJSON(c.out, res)
		return nil
	})
}

// Start launches a service and, unless NoWait is set, waits until it is initialized.
func (c command) Start(ctx context.Context, f StartFlags) error {
	return c.withManager(f.ConfigPath, func(m *sshapp.Manager) error {
		svc, err := m.Get(f.Name)
		if err != nil {
			return err
		}
		if f.NoWait {
			return svc.StartAsync(ctx)
		}
		if err := svc.Start(ctx); err != nil {
			return err
		}
		return c.printStates(ctx, svc)
	})
}

func (c command) Stop(ctx context.Context, f StopFlags) error {
	if f.APIUrl != "" {
		cl, err := c.apiClient(f.APIFlags)
		if err != nil {
			return err
		}
		return cl.Stop(ctx, client.StopRequest{Name: f.Name, Graceful: !f.Kill, Timeout: f.Timeout})
	}
	return c.withManager(f.ConfigPath, func(m *sshapp.Manager) error {
		if !strings.Contains(f.Name, "*") {
			if _, err := m.Get(f.Name); err != nil {
				return err
			}
		}
		return m.StopAll(ctx, f.Name, !f.Kill, f.Timeout)
	})
}

// Status prints the state of one service, or of every service when Name is empty.
func (c command) Status(ctx context.Context, f StatusFlags) error {
	if f.APIUrl != "" {
		cl, err := c.apiClient(f.APIFlags)
		if err != nil {
			return err
		}
		names := []string{f.Name}
		if f.Name == "" {
			svcs, err := cl.Services(ctx)
			if err != nil {
				return err
			}
			names = names[:0]
			for _, s := range svcs {
				names = append(names, s.Name)
			}
		}
		out := make([]*client.ServiceState, 0, len(names))
		for _, n := range names {
			st, err := cl.State(ctx, n)
			if err != nil {
				return err
			}
			out = append(out, st)
		}
		printJSON(c.out, out)
		return nil
	}
	return c.withManager(f.ConfigPath, func(m *sshapp.Manager) error {
		pattern := f.Name
		if pattern == "" {
			pattern = "*"
		}
		out := make([]statusView, 0)
		for _, svc := range m.Match(pattern) {
			v, err := viewOf(ctx, svc)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		if len(out) == 0 && f.Name != "" {
			return fmt.Errorf("%w: %s", sshapp.ErrUnknownService, f.Name)
		}
		printJSON(c.out, out)
		return nil
	})
}

func (c command) Result(ctx context.Context, f ResultFlags) error {
	if f.APIUrl != "" {
		cl, err := c.apiClient(f.APIFlags)
		if err != nil {
			return err
		}
		if f.All {
			vs, err := cl.Results(ctx, f.Name, f.Result)
			if err != nil {
				return err
			}
			printJSON(c.out, vs)
			return nil
		}
		v, err := cl.Result(ctx, f.Name, f.Result)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(c.out, v)
		return nil
	}
	return c.withManager(f.ConfigPath, func(m *sshapp.Manager) error {
		svc, err := m.Get(f.Name)
		if err != nil {
			return err
		}
		if f.All {
			vs, err := svc.ExtractResults(ctx, f.Result)
			if err != nil {
				return err
			}
			printJSON(c.out, vs)
			return nil
		}
		v, err := svc.ExtractResult(ctx, f.Result)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(c.out, v)
		return nil
	})
}

// Clean kills leftovers and removes the persistent root on every node.
func (c command) Clean(ctx context.Context, f CleanFlags) error {
	if f.APIUrl != "" {
		cl, err := c.apiClient(f.APIFlags)
		if err != nil {
			return err
		}
		return cl.Clean(ctx, f.Name)
	}
	return c.withManager(f.ConfigPath, func(m *sshapp.Manager) error {
		if !strings.Contains(f.Name, "*") {
			if _, err := m.Get(f.Name); err != nil {
				return err
			}
		}
		return m.CleanAll(ctx, f.Name)
	})
}

type statusView struct {
	Service string             `json:"service"`
	State   sshapp.State       `json:"state"`
	Nodes   []sshapp.NodeState `json:"nodes"`
}

func viewOf(ctx context.Context, svc *sshapp.Service) (statusView, error) {
	nodes, err := svc.NodeStates(ctx)
	if err != nil {
		return statusView{}, err
	}
	states := make([]sshapp.State, 0, len(nodes))
	for _, n := range nodes {
		states = append(states, n.State)
	}
	return statusView{Service: svc.Name(), State: sshapp.CombineStates(states...), Nodes: nodes}, nil
}

func (c command) printStates(ctx context.Context, svc *sshapp.Service) error {
	v, err := viewOf(ctx, svc)
	if err != nil {
		return err
	}
	printJSON(c.out, v)
	return nil
}
