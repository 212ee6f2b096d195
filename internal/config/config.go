// Package config loads the sshapp TOML configuration with viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/sshapp/internal/lifecycle"
	"github.com/loykin/sshapp/internal/logger"
	"github.com/loykin/sshapp/internal/service"
	"github.com/loykin/sshapp/internal/shell"
	"github.com/loykin/sshapp/internal/tls"
)

// EnvPrefix prefixes environment variables that override file settings,
// e.g. SSHAPP_SERVER_LISTEN or SSHAPP_SSH_PASSWORD.
const EnvPrefix = "SSHAPP"

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Env      []string        `toml:"env" mapstructure:"env"`
	EnvFiles []string        `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool            `toml:"use_os_env" mapstructure:"use_os_env"`
	Log      logger.Config   `toml:"log" mapstructure:"log"`
	SSH      shell.SSHConfig `toml:"ssh" mapstructure:"ssh"`
	History  HistoryConfig   `toml:"history" mapstructure:"history"`
	Metrics  MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	Server   ServerConfig    `toml:"server" mapstructure:"server"`
	Services []ServiceConfig `toml:"services" mapstructure:"services"`
}

// HistoryConfig lists sink DSNs; see history/factory for the formats.
type HistoryConfig struct {
	Enabled bool     `toml:"enabled" mapstructure:"enabled"`
	DSNs    []string `toml:"dsns" mapstructure:"dsns"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type ServerConfig struct {
	Listen   string     `toml:"listen" mapstructure:"listen"`
	BasePath string     `toml:"base_path" mapstructure:"base_path"`
	TLS      tls.Config `toml:"tls" mapstructure:"tls"`
}

// ServiceConfig is one [[services]] entry. Nodes are "[user@]host[:port]"
// strings; a node without user takes ssh.user.
type ServiceConfig struct {
	Name           string            `toml:"name" mapstructure:"name"`
	ClassName      string            `toml:"class_name" mapstructure:"class_name"`
	Command        string            `toml:"command" mapstructure:"command"`
	Params         string            `toml:"params" mapstructure:"params"`
	JVMOpts        []string          `toml:"jvm_opts" mapstructure:"jvm_opts"`
	Env            []string          `toml:"env" mapstructure:"env"`
	Nodes          []string          `toml:"nodes" mapstructure:"nodes"`
	StartTimeout   time.Duration     `toml:"start_timeout" mapstructure:"start_timeout"`
	StopTimeout    time.Duration     `toml:"stop_timeout" mapstructure:"stop_timeout"`
	PollInterval   time.Duration     `toml:"poll_interval" mapstructure:"poll_interval"`
	PersistentRoot string            `toml:"persistent_root" mapstructure:"persistent_root"`
	CaptureFile    string            `toml:"capture_file" mapstructure:"capture_file"`
	PIDFile        string            `toml:"pid_file" mapstructure:"pid_file"`
	AliveCommand   string            `toml:"alive_command" mapstructure:"alive_command"`
	Markers        lifecycle.Markers `toml:"markers" mapstructure:"markers"`
}

// Config is the loaded configuration with derived values.
type Config struct {
	FileConfig
	// GlobalEnv is the merged env list (OS env, env files, env).
	GlobalEnv []string
	Specs     []service.Spec
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("log.slog.level", string(logger.LevelInfo))
	v.SetDefault("log.slog.format", string(logger.FormatText))
	v.SetDefault("log.slog.timestamps", true)
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("metrics.listen", "")
	v.SetDefault("ssh.user", "")
	v.SetDefault("ssh.password", "")
	v.SetDefault("ssh.key_file", "")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v, nil
}

func readFile(path string) (*FileConfig, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Load reads path, merges the environment and builds validated service specs.
func Load(path string) (*Config, error) {
	fc, err := readFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{FileConfig: *fc}
	if cfg.GlobalEnv, err = mergeEnv(fc); err != nil {
		return nil, err
	}
	if cfg.Specs, err = fc.specs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadGlobalEnv merges env from config: top-level env, env_files contents, and optionally OS env when UseOSEnv is true.
// Precedence: OS env (when enabled) provides base; then apply file vars; then top-level env list overrides last.
func LoadGlobalEnv(path string) ([]string, error) {
	fc, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return mergeEnv(fc)
}

func mergeEnv(fc *FileConfig) ([]string, error) {
	m := make(map[string]string)
	if fc.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return sortedPairs(m), nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	return sortedPairs(m), nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}

func sortedPairs(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// LoadSpecsFromTOML parses the [[services]] entries of a TOML file.
func LoadSpecsFromTOML(path string) ([]service.Spec, error) {
	fc, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return fc.specs()
}

func (fc *FileConfig) specs() ([]service.Spec, error) {
	out := make([]service.Spec, 0, len(fc.Services))
	seen := make(map[string]bool)
	var errs []error
	for i, sc := range fc.Services {
		if seen[sc.Name] && sc.Name != "" {
			errs = append(errs, fmt.Errorf("services[%d]: duplicate name %q", i, sc.Name))
			continue
		}
		seen[sc.Name] = true
		spec, err := sc.spec(fc.SSH)
		if err != nil {
			errs = append(errs, fmt.Errorf("services[%d]: %w", i, err))
			continue
		}
		out = append(out, spec)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (sc ServiceConfig) spec(ssh shell.SSHConfig) (service.Spec, error) {
	nodes := make([]lifecycle.Node, 0, len(sc.Nodes))
	for _, raw := range sc.Nodes {
		n, err := lifecycle.ParseNode(raw)
		if err != nil {
			return service.Spec{}, err
		}
		if n.User == "" {
			n.User = ssh.User
		}
		if n.Port == 0 {
			n.Port = ssh.Port
		}
		nodes = append(nodes, n)
	}
	spec := service.Spec{
		Name:           sc.Name,
		ClassName:      sc.ClassName,
		Command:        sc.Command,
		Params:         sc.Params,
		JVMOpts:        sc.JVMOpts,
		Env:            sc.Env,
		Nodes:          nodes,
		StartTimeout:   sc.StartTimeout,
		StopTimeout:    sc.StopTimeout,
		PollInterval:   sc.PollInterval,
		PersistentRoot: sc.PersistentRoot,
		CaptureFile:    sc.CaptureFile,
		PIDFile:        sc.PIDFile,
		AliveCommand:   sc.AliveCommand,
		Markers:        sc.Markers,
	}.WithDefaults()
	return spec, spec.Validate()
}
