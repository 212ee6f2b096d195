package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes how to reach and authenticate against remote hosts.
// When KnownHostsFile is empty, host keys are not verified.
type SSHConfig struct {
	User           string        `json:"user" mapstructure:"user"`
	Password       string        `json:"password" mapstructure:"password"`
	KeyFile        string        `json:"key_file" mapstructure:"key_file"`
	KeyPassphrase  string        `json:"key_passphrase" mapstructure:"key_passphrase"`
	KnownHostsFile string        `json:"known_hosts" mapstructure:"known_hosts"`
	Port           int           `json:"port" mapstructure:"port"`
	ConnectTimeout time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
}

const defaultConnectTimeout = 5 * time.Second

// ClientConfig builds the x/crypto/ssh client configuration for user.
func (c SSHConfig) ClientConfig(user string) (*ssh.ClientConfig, error) {
	if user == "" {
		user = c.User
	}
	if user == "" {
		return nil, errors.New("ssh user is required")
	}
	var auth []ssh.AuthMethod
	if c.KeyFile != "" {
		key, err := os.ReadFile(filepath.Clean(c.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		var signer ssh.Signer
		if c.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(c.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("parse ssh key %s: %w", c.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("ssh requires key_file or password")
	}
	hostKey := ssh.InsecureIgnoreHostKey() // #nosec G106 -- opt-in verification via known_hosts
	if c.KnownHostsFile != "" {
		cb, err := knownhosts.New(c.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		hostKey = cb
	}
	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}, nil
}

// SSHExecutor runs each command in its own session over a shared connection.
// The connection is dialled lazily and redialled after a transport failure.
type SSHExecutor struct {
	addr string
	cfg  *ssh.ClientConfig

	mu   sync.Mutex
	conn *ssh.Client
}

func NewSSHExecutor(addr string, cfg *ssh.ClientConfig) *SSHExecutor {
	return &SSHExecutor{addr: addr, cfg: cfg}
}

func (e *SSHExecutor) client(ctx context.Context) (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		return e.conn, nil
	}
	d := net.Dialer{Timeout: e.cfg.Timeout}
	raw, err := d.DialContext(ctx, "tcp", e.addr)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", e.addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(raw, e.addr, e.cfg)
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", e.addr, err)
	}
	e.conn = ssh.NewClient(c, chans, reqs)
	return e.conn, nil
}

func (e *SSHExecutor) reset() {
	e.mu.Lock()
	if e.conn != nil {
		_ = e.conn.Close()
		e.conn = nil
	}
	e.mu.Unlock()
}

func (e *SSHExecutor) Exec(ctx context.Context, command string) (*ExecResult, error) {
	conn, err := e.client(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := conn.NewSession()
	if err != nil {
		e.reset()
		return nil, fmt.Errorf("ssh session %s: %w", e.addr, err)
	}
	defer func() { _ = sess.Close() }()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		<-done
		return nil, ctx.Err()
	case err := <-done:
		res := &ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return res, nil
		}
		var ee *ssh.ExitError
		if errors.As(err, &ee) {
			res.ExitCode = ee.ExitStatus()
			return res, nil
		}
		var missing *ssh.ExitMissingError
		if !errors.As(err, &missing) {
			e.reset()
		}
		return res, fmt.Errorf("ssh exec on %s: %w", e.addr, err)
	}
}

func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}
