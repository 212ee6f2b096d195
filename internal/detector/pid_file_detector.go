package detector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/loykin/sshapp/internal/shell"
)

// PIDFileDetector detects the application via a PID file on the host.
// A missing or empty file means not alive.
type PIDFileDetector struct {
	Exec    shell.Executor
	PIDFile string
}

func (d PIDFileDetector) Alive(ctx context.Context) (bool, error) {
	res, err := d.Exec.Exec(ctx, "cat "+shell.Quote(d.PIDFile)+" 2>/dev/null")
	if err != nil {
		return false, err
	}
	lines := res.Lines()
	if !res.OK() || len(lines) == 0 {
		return false, nil
	}
	// first line is the PID; anything after it is ignored
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return false, fmt.Errorf("invalid pid in %s: %w", d.PIDFile, err)
	}
	if pid <= 0 {
		return false, nil
	}
	probe, err := d.Exec.Exec(ctx, "kill -0 "+strconv.Itoa(pid)+" 2>/dev/null")
	if err != nil {
		return false, err
	}
	return probe.OK(), nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }
