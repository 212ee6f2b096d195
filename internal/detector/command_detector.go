package detector

import (
	"context"

	"github.com/loykin/sshapp/internal/shell"
)

// CommandDetector runs a command that should succeed if the application is running.
type CommandDetector struct {
	Exec    shell.Executor
	Command string
}

func (d CommandDetector) Alive(ctx context.Context) (bool, error) {
	if d.Command == "" {
		return true, nil
	}
	res, err := d.Exec.Exec(ctx, d.Command)
	if err != nil {
		return false, err
	}
	// non-zero exit code means not alive
	return res.OK(), nil
}

func (d CommandDetector) Describe() string { return "cmd:" + d.Command }
