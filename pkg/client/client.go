package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://127.0.0.1:8787/api"
	DefaultTimeout = 10 * time.Second
)

// Client provides HTTP client functionality to communicate with the
// mcmanager daemon.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Token    string // Bearer token, see [server.auth]
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	CACert     string // CA or self-signed daemon certificate file
	ServerName string // Server name for verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: DefaultTimeout,
	}
}

// New creates a new mcmanager API client.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.TLS != nil || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		token:   config.Token,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}, nil
}

// BaseURL returns the API root requests are sent to.
func (c *Client) BaseURL() string { return c.baseURL }

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/servers", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// ListServers returns every server directory with its liveness.
func (c *Client) ListServers(ctx context.Context) ([]ServerInfo, error) {
	var out []ServerInfo
	err := c.do(ctx, http.MethodGet, "/servers", nil, &out)
	return out, err
}

// StartServer launches a server on the daemon.
func (c *Client) StartServer(ctx context.Context, name string, req StartRequest) (ServerStatus, error) {
	c.logger.Debug("Starting server", "name", name, "command", req.Command)
	var out ServerStatus
	err := c.do(ctx, http.MethodPost, serverPath(name, "start"), req, &out)
	return out, err
}

// StopServer stops a server, waiting up to wait for a graceful exit. A
// zero wait uses the daemon's configured grace period.
func (c *Client) StopServer(ctx context.Context, name string, wait time.Duration) error {
	p := serverPath(name, "stop")
	if wait > 0 {
		p += "?wait=" + url.QueryEscape(wait.String())
	}
	return c.do(ctx, http.MethodPost, p, nil, nil)
}

// SendCommand writes one console line to a running server.
func (c *Client) SendCommand(ctx context.Context, name, command string) error {
	return c.do(ctx, http.MethodPost, serverPath(name, "command"), map[string]string{"command": command}, nil)
}

// Status returns one server's status.
func (c *Client) Status(ctx context.Context, name string) (ServerStatus, error) {
	var out ServerStatus
	err := c.do(ctx, http.MethodGet, serverPath(name, "status"), nil, &out)
	return out, err
}

// Logs returns the scrollback, merged with logs/latest.log when merge is set.
func (c *Client) Logs(ctx context.Context, name string, merge bool) ([]string, error) {
	var out struct {
		Lines []string `json:"lines"`
	}
	p := serverPath(name, "logs")
	if merge {
		p += "?merge=1"
	}
	err := c.do(ctx, http.MethodGet, p, nil, &out)
	return out.Lines, err
}

// ClearLogs empties a server's scrollback.
func (c *Client) ClearLogs(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, serverPath(name, "logs"), nil, nil)
}

// Crash reports whether the scrollback tail looks like a crash.
func (c *Client) Crash(ctx context.Context, name string) (CrashReport, error) {
	var out CrashReport
	err := c.do(ctx, http.MethodGet, serverPath(name, "crash"), nil, &out)
	return out, err
}

// SetAutoRestart toggles crash restarts for a server.
func (c *Client) SetAutoRestart(ctx context.Context, name string, enabled bool) error {
	return c.do(ctx, http.MethodPut, serverPath(name, "auto-restart"), map[string]bool{"enabled": enabled}, nil)
}

// ListBackups returns archives newest first, optionally for one server.
func (c *Client) ListBackups(ctx context.Context, server string) ([]Backup, error) {
	p := "/backups"
	if server != "" {
		p += "?server=" + url.QueryEscape(server)
	}
	var out []Backup
	err := c.do(ctx, http.MethodGet, p, nil, &out)
	return out, err
}

// CreateBackup archives one server directory.
func (c *Client) CreateBackup(ctx context.Context, server string) (CreateBackupResponse, error) {
	var out CreateBackupResponse
	err := c.do(ctx, http.MethodPost, "/backups", map[string]string{"server": server}, &out)
	return out, err
}

// RestoreBackup replaces a server directory with an archive. An empty
// server restores into the server the archive was taken from.
func (c *Client) RestoreBackup(ctx context.Context, name, server string) error {
	var body any
	if server != "" {
		body = map[string]string{"server": server}
	}
	return c.do(ctx, http.MethodPost, "/backups/"+url.PathEscape(name)+"/restore", body, nil)
}

// DeleteBackup removes one archive.
func (c *Client) DeleteBackup(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/backups/"+url.PathEscape(name), nil, nil)
}

// BackupSchedule reports the periodic backup settings.
func (c *Client) BackupSchedule(ctx context.Context) (BackupSchedule, error) {
	var out BackupSchedule
	err := c.do(ctx, http.MethodGet, "/backups/schedule", nil, &out)
	return out, err
}

// SetBackupSchedule enables periodic backups every intervalHours, or
// disables them.
func (c *Client) SetBackupSchedule(ctx context.Context, enabled bool, intervalHours int) (BackupSchedule, error) {
	body := map[string]any{"enabled": enabled, "interval_hours": intervalHours}
	var out BackupSchedule
	err := c.do(ctx, http.MethodPut, "/backups/schedule", body, &out)
	return out, err
}

// RunBackups archives every server immediately.
func (c *Client) RunBackups(ctx context.Context) (BackupRun, error) {
	var out BackupRun
	err := c.do(ctx, http.MethodPost, "/backups/run", nil, &out)
	return out, err
}

// PlayitStart launches the tunnel agent.
func (c *Client) PlayitStart(ctx context.Context) (PlayitState, error) {
	var out PlayitState
	err := c.do(ctx, http.MethodPost, "/playit/start", nil, &out)
	return out, err
}

// PlayitStop kills every tunnel agent process.
func (c *Client) PlayitStop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/playit/stop", nil, nil)
}

// PlayitStatus reports the agent state and tunnel address.
func (c *Client) PlayitStatus(ctx context.Context) (PlayitState, error) {
	var out PlayitState
	err := c.do(ctx, http.MethodGet, "/playit/status", nil, &out)
	return out, err
}

// PlayitDetect searches the agent logs and files for the tunnel address.
func (c *Client) PlayitDetect(ctx context.Context) (TunnelAddress, error) {
	var out TunnelAddress
	err := c.do(ctx, http.MethodPost, "/playit/detect", nil, &out)
	return out, err
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 -- opt-in for self-signed daemons
		return tlsConfig, nil
	}
	if config.TLS == nil {
		return tlsConfig, nil
	}
	if config.TLS.ServerName != "" {
		tlsConfig.ServerName = config.TLS.ServerName
	}
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
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = caCertPool
	return nil
}

func serverPath(name, action string) string {
	p := "/servers/" + url.PathEscape(name)
	if action != "" {
		p += "/" + action
	}
	return p
}

// do sends body as JSON and decodes a 2xx response into out. Error
// responses are reported with the daemon's message.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		return &StatusError{Code: resp.StatusCode, Message: resp.Status}
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &StatusError{Code: resp.StatusCode, Message: errorResp.Error}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string { return "API error: " + e.Message }
