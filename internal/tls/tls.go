// Package tls builds the server side TLS configuration of the status API,
// optionally generating a self-signed certificate on first use.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	caFile   = "ca.crt"
	certFile = "tls.crt"
	keyFile  = "tls.key"
)

// Config is the [server.tls] section.
type Config struct {
	Enabled bool `mapstructure:"enabled"`
	// CertFile and KeyFile take precedence over Dir.
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	// Dir holds tls.crt and tls.key; with AutoGenerate they are created when missing.
	Dir          string   `mapstructure:"dir"`
	AutoGenerate bool     `mapstructure:"auto_generate"`
	Hosts        []string `mapstructure:"hosts"`
	ValidDays    int      `mapstructure:"valid_days"`
	MinVersion   string   `mapstructure:"min_version"`
}

func parseVersion(v string) (uint16, error) {
	switch v {
	case "", "1.3", "tls1.3", "TLS1.3":
		return tls.VersionTLS13, nil
	case "1.2", "tls1.2", "TLS1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported tls min_version %q", v)
	}
}

// Paths returns the certificate and key files selected by c.
func (c Config) Paths() (cert, key string, err error) {
	switch {
	case c.CertFile != "" && c.KeyFile != "":
		return c.CertFile, c.KeyFile, nil
	case c.Dir != "":
		return filepath.Join(c.Dir, certFile), filepath.Join(c.Dir, keyFile), nil
	default:
		return "", "", errors.New("tls enabled but neither cert_file/key_file nor dir is set")
	}
}

// Setup returns nil when TLS is disabled. Certificates are reloaded on every
// handshake so that rotated files are picked up without a restart.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, err := parseVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}
	cert, key, err := c.Paths()
	if err != nil {
		return nil, err
	}
	if c.AutoGenerate && c.CertFile == "" && !exists(cert, key) {
		days := c.ValidDays
		if days <= 0 {
			days = 365
		}
		hosts := c.Hosts
		if len(hosts) == 0 {
			hosts = []string{"localhost", "127.0.0.1"}
		}
		if err := os.MkdirAll(c.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create tls dir: %w", err)
		}
		err := GenerateSelfSigned(CertRequest{
			Hosts:    hosts,
			NotAfter: time.Now().AddDate(0, 0, days),
			CertPath: cert,
			KeyPath:  key,
			CAPath:   filepath.Join(c.Dir, caFile),
		})
		if err != nil {
			return nil, fmt.Errorf("generate certificate: %w", err)
		}
	}
	// fail fast on a broken pair
	if _, err := tls.LoadX509KeyPair(cert, key); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{
		MinVersion: minVer,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			pair, err := tls.LoadX509KeyPair(cert, key)
			return &pair, err
		},
	}, nil
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
