package shell

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExecutor_StdoutAndExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	var e LocalExecutor
	res, err := e.Exec(context.Background(), "echo one; echo two; echo err >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.OK())
	assert.Equal(t, []string{"one", "two"}, res.Lines())
	assert.Equal(t, "err\n", res.Stderr)
}

func TestLocalExecutor_ContextCancel(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := LocalExecutor{}.Exec(ctx, "sleep 5")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQuote_RoundTripThroughShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	inputs := []string{"plain", "", "with space", "it's", `a"b`, "$HOME", "semi;colon", "back\\slash", "*"}
	for _, in := range inputs {
		res, err := LocalExecutor{}.Exec(context.Background(), "printf '%s' "+Quote(in))
		require.NoError(t, err)
		assert.Equal(t, in, res.Stdout, "input %q", in)
	}
}

func TestSSHConfig_Validation(t *testing.T) {
	_, err := SSHConfig{Password: "x"}.ClientConfig("")
	assert.ErrorContains(t, err, "user is required")

	_, err = SSHConfig{User: "ducker"}.ClientConfig("")
	assert.ErrorContains(t, err, "key_file or password")

	_, err = SSHConfig{User: "ducker", KeyFile: filepath.Join(t.TempDir(), "missing")}.ClientConfig("")
	assert.ErrorContains(t, err, "read ssh key")

	bad := filepath.Join(t.TempDir(), "bad_key")
	require.NoError(t, os.WriteFile(bad, []byte("not a key"), 0o600))
	_, err = SSHConfig{User: "ducker", KeyFile: bad}.ClientConfig("")
	assert.ErrorContains(t, err, "parse ssh key")

	cc, err := SSHConfig{User: "ducker", Password: "secret"}.ClientConfig("other")
	require.NoError(t, err)
	assert.Equal(t, "other", cc.User)
	assert.Equal(t, defaultConnectTimeout, cc.Timeout)
}
