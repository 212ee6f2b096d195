package shell

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// LocalExecutor runs commands through /bin/sh on this machine.
type LocalExecutor struct{}

func (LocalExecutor) Exec(ctx context.Context, command string) (*ExecResult, error) {
	// #nosec G204 -- commands are built by this module with quoted arguments
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// background children may keep the pipes open after the shell is killed
	cmd.WaitDelay = time.Second
	err := cmd.Run()
	res := &ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		res.ExitCode = ee.ExitCode()
		return res, nil
	}
	return res, err
}

func (LocalExecutor) Close() error { return nil }
