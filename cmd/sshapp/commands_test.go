package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sshapp"
)

const consoleLog = `IGNITE_APPLICATION_INITIALIZED
answer-> 42 <-
answer-> 43 <-
`

// writeLocalConfig describes one localhost service whose capture file already
// holds consoleLog. Nothing runs under its class name.
func writeLocalConfig(t *testing.T) (cfgPath, root string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	dir := t.TempDir()
	root = filepath.Join(dir, "root")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "console.log"), []byte(consoleLog), 0o644))
	cfgPath = filepath.Join(dir, "sshapp.toml")
	data := fmt.Sprintf(`
[log.slog]
level = "error"

[server]
listen = "127.0.0.1:0"

[metrics]
enabled = true
listen = "127.0.0.1:0"

[[services]]
name = "smoke"
class_name = "org.sshapp.cli.NoSuchApplication"
nodes = ["localhost"]
persistent_root = %q
stop_timeout = "2s"
poll_interval = "20ms"
`, root)
	require.NoError(t, os.WriteFile(cfgPath, []byte(data), 0o644))
	return cfgPath, root
}

func testCommand() (command, *bytes.Buffer) {
	var buf bytes.Buffer
	return command{out: &buf, open: openManager}, &buf
}

func TestBuildRoot_Subcommands(t *testing.T) {
	root := buildRoot(newCommand())
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"run", "start", "stop", "status", "result", "clean", "serve"} {
		assert.Contains(t, names, want)
	}
}

func TestRequiredFlags(t *testing.T) {
	for _, args := range [][]string{{"stop"}, {"run"}, {"result", "--name=x"}, {"clean"}} {
		root := buildRoot(newCommand())
		root.SetArgs(args)
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		err := root.Execute()
		require.Error(t, err, "args %v", args)
		assert.Contains(t, err.Error(), "required flag")
	}
}

func TestOpenManager_NoConfig(t *testing.T) {
	_, err := openManager("")
	assert.ErrorContains(t, err, "config file required")
	_, err = openManager(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "error loading config")
}

func TestLocalStatus(t *testing.T) {
	cfg, _ := writeLocalConfig(t)
	c, out := testCommand()
	require.NoError(t, c.Status(context.Background(), StatusFlags{ConfigPath: cfg}))

	var views []statusView
	require.NoError(t, json.Unmarshal(out.Bytes(), &views), out.String())
	require.Len(t, views, 1)
	assert.Equal(t, "smoke", views[0].Service)
	assert.Equal(t, sshapp.StateInitialized, views[0].State)

	err := c.Status(context.Background(), StatusFlags{ConfigPath: cfg, Name: "other"})
	assert.ErrorIs(t, err, sshapp.ErrUnknownService)
}

func TestLocalResult(t *testing.T) {
	cfg, _ := writeLocalConfig(t)
	c, out := testCommand()
	ctx := context.Background()

	require.NoError(t, c.Result(ctx, ResultFlags{ConfigPath: cfg, Name: "smoke", Result: "answer", All: true}))
	var all []string
	require.NoError(t, json.Unmarshal(out.Bytes(), &all))
	assert.Equal(t, []string{"42", "43"}, all)

	// two occurrences on a single node
	err := c.Result(ctx, ResultFlags{ConfigPath: cfg, Name: "smoke", Result: "answer"})
	assert.True(t, sshapp.IsAssertion(err), "got %v", err)
}

func TestLocalStopAndClean(t *testing.T) {
	cfg, root := writeLocalConfig(t)
	c, _ := testCommand()
	ctx := context.Background()

	require.NoError(t, c.Stop(ctx, StopFlags{ConfigPath: cfg, Name: "smoke", Kill: true}))
	assert.ErrorIs(t, c.Stop(ctx, StopFlags{ConfigPath: cfg, Name: "nope", Kill: true}), sshapp.ErrUnknownService)

	require.NoError(t, c.Clean(ctx, CleanFlags{ConfigPath: cfg, Name: "*"}))
	_, err := os.Stat(root)
	assert.True(t, os.IsNotExist(err))
}

func TestStatusViaAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/services":
			_, _ = w.Write([]byte(`[{"name":"a"},{"name":"b"}]`))
		case "/api/services/a/state", "/api/services/b/state":
			name := strings.Split(r.URL.Path, "/")[3]
			_, _ = fmt.Fprintf(w, `{"service":%q,"state":"FINISHED","nodes":[]}`, name)
		case "/api/services/a/stop":
			_, _ = w.Write([]byte(`{"ok":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"unknown service"}`))
		}
	}))
	defer srv.Close()

	c, out := testCommand()
	api := APIFlags{APIUrl: srv.URL + "/api"}
	require.NoError(t, c.Status(context.Background(), StatusFlags{APIFlags: api}))
	assert.Contains(t, out.String(), `"service": "a"`)
	assert.Contains(t, out.String(), `"service": "b"`)

	require.NoError(t, c.Stop(context.Background(), StopFlags{Name: "a", APIFlags: api}))
	assert.Error(t, c.Stop(context.Background(), StopFlags{Name: "zzz", APIFlags: api}))
}

func TestAPIUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c, _ := testCommand()
	err := c.Status(context.Background(), StatusFlags{APIFlags: APIFlags{APIUrl: url}})
	assert.ErrorContains(t, err, "daemon not reachable")
}

func TestServeNonBlocking(t *testing.T) {
	cfg, _ := writeLocalConfig(t)
	pid := filepath.Join(t.TempDir(), "sshapp.pid")
	require.NoError(t, writePidFile(pid, 1234))
	require.NoError(t, runServe(ServeFlags{ConfigPath: cfg, NonBlocking: true, PidFile: pid}))
	_, err := os.Stat(pid)
	assert.True(t, os.IsNotExist(err))

	assert.ErrorContains(t, runServe(ServeFlags{}), "config file required")
}

func TestDaemonArgs(t *testing.T) {
	got := daemonArgs([]string{"serve", "--daemonize", "--config", "a.toml", "--daemonize=true", "--pidfile", "x.pid"})
	assert.Equal(t, []string{"serve", "--config", "a.toml", "--pidfile", "x.pid"}, got)
	assert.NoError(t, removePidFile(filepath.Join(t.TempDir(), "missing.pid")))
}

func TestPickConfig(t *testing.T) {
	assert.Equal(t, "flag.toml", pickConfig("flag.toml", nil))
	assert.Equal(t, "arg.toml", pickConfig("flag.toml", []string{"arg.toml"}))
}
