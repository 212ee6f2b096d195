package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/loykin/sshapp/internal/detector"
	"github.com/loykin/sshapp/internal/lifecycle"
	"github.com/loykin/sshapp/internal/shell"
)

// ControllerConfig describes the application process on every node.
type ControllerConfig struct {
	// Pattern is matched against full process command lines (pgrep/pkill -f).
	Pattern        string
	PersistentRoot string
	CaptureFile    string
	// PIDFile and AliveCommand add optional liveness detectors.
	PIDFile      string
	AliveCommand string
}

// Controller implements lifecycle.ProcessController with shell commands.
type Controller struct {
	pool *Pool
	cfg  ControllerConfig
	log  *slog.Logger
}

var _ lifecycle.ProcessController = (*Controller)(nil)

func NewController(pool *Pool, cfg ControllerConfig, lg *slog.Logger) *Controller {
	if lg == nil {
		lg = slog.Default()
	}
	return &Controller{pool: pool, cfg: cfg, log: lg}
}

// Start launches command in the background with stdout and stderr appended to the capture file.
func (c *Controller) Start(ctx context.Context, n lifecycle.Node, command string) error {
	if strings.TrimSpace(command) == "" {
		return errors.New("empty start command")
	}
	dirs := []string{shell.Quote(path.Dir(c.cfg.CaptureFile))}
	if c.cfg.PersistentRoot != "" {
		dirs = append(dirs, shell.Quote(c.cfg.PersistentRoot))
	}
	line := fmt.Sprintf("mkdir -p %s || exit 1; nohup %s >> %s 2>&1 < /dev/null &",
		strings.Join(dirs, " "), command, shell.Quote(c.cfg.CaptureFile))
	res, err := c.exec(ctx, n, line)
	if err != nil {
		return fmt.Errorf("start on %s: %w", n, err)
	}
	if !res.OK() {
		return fmt.Errorf("start on %s: exit %d: %s", n, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	c.log.Debug("launched", "node", n.String(), "command", command)
	return nil
}

// Stop signals the application and ignores failures; it is safe on a stopped node.
func (c *Controller) Stop(ctx context.Context, n lifecycle.Node, graceful bool) error {
	return c.Kill(ctx, n, graceful, true)
}

// Kill sends SIGTERM (graceful) or SIGKILL to every matching process.
// With allowFail a failing command is logged and swallowed.
func (c *Controller) Kill(ctx context.Context, n lifecycle.Node, graceful, allowFail bool) error {
	sig := "KILL"
	if graceful {
		sig = "TERM"
	}
	line := fmt.Sprintf("pkill -%s -f %s", sig, shell.Quote(detector.SelfExcludingPattern(c.cfg.Pattern)))
	res, err := c.exec(ctx, n, line)
	if err == nil && res.ExitCode > 1 {
		err = fmt.Errorf("pkill exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	if err != nil {
		if allowFail {
			c.log.Debug("kill failed, ignoring", "node", n.String(), "signal", sig, "error", err)
			return nil
		}
		return fmt.Errorf("kill on %s: %w", n, err)
	}
	return nil
}

func (c *Controller) Alive(ctx context.Context, n lifecycle.Node) (bool, error) {
	d, err := c.detector(n)
	if err != nil {
		return false, err
	}
	return d.Alive(ctx)
}

func (c *Controller) Pids(ctx context.Context, n lifecycle.Node) ([]int, error) {
	e, err := c.pool.For(n)
	if err != nil {
		return nil, err
	}
	return detector.PatternDetector{Exec: e, Pattern: c.cfg.Pattern}.Pids(ctx)
}

// RemovePersistentState deletes the persistent root; failures are returned.
func (c *Controller) RemovePersistentState(ctx context.Context, n lifecycle.Node) error {
	root := strings.TrimSpace(c.cfg.PersistentRoot)
	if root == "" || path.Clean(root) == "/" {
		return fmt.Errorf("refusing to remove persistent root %q", root)
	}
	res, err := c.exec(ctx, n, "rm -rf "+shell.Quote(root))
	if err != nil {
		return fmt.Errorf("clean %s: %w", n, err)
	}
	if !res.OK() {
		return fmt.Errorf("clean %s: exit %d: %s", n, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (c *Controller) detector(n lifecycle.Node) (detector.Detector, error) {
	e, err := c.pool.For(n)
	if err != nil {
		return nil, err
	}
	ds := []detector.Detector{detector.PatternDetector{Exec: e, Pattern: c.cfg.Pattern}}
	if c.cfg.PIDFile != "" {
		ds = append(ds, detector.PIDFileDetector{Exec: e, PIDFile: c.cfg.PIDFile})
	}
	if c.cfg.AliveCommand != "" {
		ds = append(ds, detector.CommandDetector{Exec: e, Command: c.cfg.AliveCommand})
	}
	if len(ds) == 1 {
		return ds[0], nil
	}
	return detector.Any(ds...), nil
}

func (c *Controller) exec(ctx context.Context, n lifecycle.Node, line string) (*shell.ExecResult, error) {
	e, err := c.pool.For(n)
	if err != nil {
		return nil, err
	}
	return e.Exec(ctx, line)
}
