package service

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"
	"text/template"
	"time"

	"github.com/loykin/sshapp/internal/env"
	"github.com/loykin/sshapp/internal/lifecycle"
	"github.com/loykin/sshapp/internal/shell"
)

const (
	DefaultStartTimeout = 60 * time.Second
	DefaultStopTimeout  = lifecycle.DefaultStopTimeout
	// DefaultCommand starts a JVM application class; Params are passed as one argument.
	DefaultCommand = "java{{with .JVMOpts}} {{.}}{{end}} {{.ClassName}} {{quote .Params}}"
	// DefaultRootDir is the parent of the per-service persistent root.
	DefaultRootDir = "/tmp/sshapp"
)

// Spec describes an application deployed on a set of nodes.
type Spec struct {
	Name string `json:"name" mapstructure:"name"`
	// ClassName identifies the application; its processes are matched by it.
	ClassName string `json:"class_name" mapstructure:"class_name"`
	// Command is a text/template rendered with ClassName, Params, JVMOpts,
	// CaptureFile, PersistentRoot and Name. It defaults to DefaultCommand.
	Command string   `json:"command" mapstructure:"command"`
	Params  string   `json:"params" mapstructure:"params"` // opaque, passed through to the application
	JVMOpts []string `json:"jvm_opts" mapstructure:"jvm_opts"`
	Env     []string `json:"env" mapstructure:"env"` // extra "K=V" entries

	Nodes []lifecycle.Node `json:"nodes" mapstructure:"nodes"`

	StartTimeout time.Duration `json:"start_timeout" mapstructure:"start_timeout"`
	StopTimeout  time.Duration `json:"stop_timeout" mapstructure:"stop_timeout"`
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval"`

	PersistentRoot string `json:"persistent_root" mapstructure:"persistent_root"`
	CaptureFile    string `json:"capture_file" mapstructure:"capture_file"`
	// Optional liveness detectors next to process matching.
	PIDFile      string `json:"pid_file" mapstructure:"pid_file"`
	AliveCommand string `json:"alive_command" mapstructure:"alive_command"`

	Markers lifecycle.Markers `json:"markers" mapstructure:"markers"`
}

// WithDefaults returns a copy with timeouts, paths, command and markers filled in.
func (s Spec) WithDefaults() Spec {
	if s.StartTimeout <= 0 {
		s.StartTimeout = DefaultStartTimeout
	}
	if s.StopTimeout <= 0 {
		s.StopTimeout = DefaultStopTimeout
	}
	if s.PollInterval <= 0 {
		s.PollInterval = lifecycle.DefaultPollInterval
	}
	if strings.TrimSpace(s.Command) == "" {
		s.Command = DefaultCommand
	}
	if s.PersistentRoot == "" {
		s.PersistentRoot = path.Join(DefaultRootDir, s.Name)
	}
	if s.CaptureFile == "" {
		s.CaptureFile = path.Join(s.PersistentRoot, "console.log")
	}
	s.Markers = s.Markers.WithDefaults()
	s.Nodes = append([]lifecycle.Node(nil), s.Nodes...)
	return s
}

func (s Spec) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if strings.TrimSpace(s.ClassName) == "" {
		errs = append(errs, errors.New("class_name is required"))
	}
	if len(s.Nodes) == 0 {
		errs = append(errs, errors.New("at least one node is required"))
	}
	seen := make(map[string]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		k := n.String()
		if seen[k] {
			errs = append(errs, fmt.Errorf("duplicate node %s", k))
		}
		seen[k] = true
	}
	if s.CaptureFile != "" && !path.IsAbs(s.CaptureFile) {
		errs = append(errs, fmt.Errorf("capture_file must be absolute: %q", s.CaptureFile))
	}
	if s.PersistentRoot != "" && path.Clean(s.PersistentRoot) == "/" {
		errs = append(errs, errors.New("persistent_root must not be /"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("service %q: %w", s.Name, errors.Join(errs...))
	}
	return nil
}

type commandData struct {
	Name           string
	ClassName      string
	Params         string
	JVMOpts        string
	CaptureFile    string
	PersistentRoot string
}

// RenderCommand renders the start command line. Environment composed from e
// and the service's own Env entries is applied through env(1).
func (s Spec) RenderCommand(e *env.Env) (string, error) {
	tpl, err := template.New(s.Name).
		Option("missingkey=error").
		Funcs(template.FuncMap{"quote": shell.Quote}).
		Parse(s.Command)
	if err != nil {
		return "", fmt.Errorf("parse command template: %w", err)
	}
	opts := make([]string, 0, len(s.JVMOpts))
	for _, o := range s.JVMOpts {
		opts = append(opts, shell.Quote(o))
	}
	var b bytes.Buffer
	err = tpl.Execute(&b, commandData{
		Name:           s.Name,
		ClassName:      s.ClassName,
		Params:         s.Params,
		JVMOpts:        strings.Join(opts, " "),
		CaptureFile:    s.CaptureFile,
		PersistentRoot: s.PersistentRoot,
	})
	if err != nil {
		return "", fmt.Errorf("render command: %w", err)
	}
	cmd := strings.TrimSpace(b.String())
	if cmd == "" {
		return "", errors.New("command renders empty")
	}
	if e == nil {
		e = env.New()
	}
	// env(1) keeps the assignments valid after nohup
	if p := e.Prefix(s.Env); p != "" {
		cmd = "env " + p + cmd
	}
	return cmd, nil
}
