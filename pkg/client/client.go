// Package client talks to the sshapp status API.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// ErrNotFound is returned when the daemon does not know the service.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx reply from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Client provides HTTP client functionality to communicate with the sshapp daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	CACert     string // CA certificate file path, e.g. the generated ca.crt
	ServerName string
	SkipVerify bool
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8080/api",
		// graceful stops block until the application finished
		Timeout: 5 * time.Minute,
	}
}

// New creates a new API client. A broken TLS setup is reported when the
// first request fails.
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/services", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	ok := resp.StatusCode == http.StatusOK
	c.logger.Debug("Daemon reachability check", "reachable", ok, "status", resp.StatusCode)
	return ok
}

// Services lists the registered services.
func (c *Client) Services(ctx context.Context) ([]Service, error) {
	var out []Service
	err := c.do(ctx, http.MethodGet, "/services", &out)
	return out, err
}

// State returns the combined and per-node state of a service.
func (c *Client) State(ctx context.Context, name string) (*ServiceState, error) {
	var out ServiceState
	if err := c.do(ctx, http.MethodGet, "/services/"+url.PathEscape(name)+"/state", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Result returns the single value the application printed as result.
func (c *Client) Result(ctx context.Context, name, result string) (string, error) {
	var out Result
	p := "/services/" + url.PathEscape(name) + "/results/" + url.PathEscape(result)
	if err := c.do(ctx, http.MethodGet, p, &out); err != nil {
		return "", err
	}
	return out.Value, nil
}

// Results returns every value printed as result, across all nodes.
func (c *Client) Results(ctx context.Context, name, result string) ([]string, error) {
	var out Result
	p := "/services/" + url.PathEscape(name) + "/results/" + url.PathEscape(result) + "?all=true"
	if err := c.do(ctx, http.MethodGet, p, &out); err != nil {
		return nil, err
	}
	return out.Values, nil
}

func (c *Client) Pids(ctx context.Context, name string) ([]NodePids, error) {
	var out []NodePids
	err := c.do(ctx, http.MethodGet, "/services/"+url.PathEscape(name)+"/pids", &out)
	return out, err
}

// Stop stops a service; a graceful stop returns once it finished.
func (c *Client) Stop(ctx context.Context, req StopRequest) error {
	q := url.Values{}
	q.Set("graceful", strconv.FormatBool(req.Graceful))
	if req.Timeout > 0 {
		q.Set("timeout", req.Timeout.String())
	}
	c.logger.Debug("Stopping service", "name", req.Name, "graceful", req.Graceful)
	return c.do(ctx, http.MethodPost, "/services/"+url.PathEscape(req.Name)+"/stop?"+q.Encode(), nil)
}

func (c *Client) Clean(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/services/"+url.PathEscape(name)+"/clean", nil)
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 -- explicit opt-in
		return tlsConfig, nil
	}
	if config.TLS == nil {
		return tlsConfig, nil
	}
	tlsConfig.InsecureSkipVerify = config.TLS.SkipVerify // #nosec G402 -- explicit opt-in
	tlsConfig.ServerName = config.TLS.ServerName
	if config.TLS.CACert != "" {
		if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
	}
	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = pool
	return nil
}

// do performs the request and decodes a JSON reply into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.errorFrom(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) errorFrom(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	c.logger.Debug("API request failed", "error", er.Error, "status", resp.StatusCode)
	return &APIError{Status: resp.StatusCode, Message: er.Error}
}
