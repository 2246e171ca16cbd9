// Package command provides WinRM command execution for Windows-hosted
// database systems.
package command

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/masterzen/winrm"
)

// WinRMConfig represents WinRM access configuration for one remote host.
type WinRMConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"` // 5985 HTTP, 5986 HTTPS
	Username string `json:"username" yaml:"username"`
	Password string `json:"-" yaml:"password"`
	UseHTTPS bool   `json:"use_https" yaml:"use_https"`
}

// Validate validates the WinRM configuration.
func (c *WinRMConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.UseHTTPS && c.Port != 5986 {
		return fmt.Errorf("HTTPS requires port 5986, got %d", c.Port)
	}
	if !c.UseHTTPS && c.Port != 5985 {
		return fmt.Errorf("HTTP requires port 5985, got %d", c.Port)
	}
	return nil
}

// WinRMExecutor runs commands on a remote Windows host over WinRM.
type WinRMExecutor struct {
	config *WinRMConfig

	mu     sync.Mutex
	client *winrm.Client
}

// NewWinRMExecutor creates an executor for the given host.
func NewWinRMExecutor(config *WinRMConfig) (*WinRMExecutor, error) {
	if !config.Enabled {
		return nil, fmt.Errorf("WinRM is not enabled")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid WinRM configuration: %w", err)
	}

	slog.Info("WinRM: Creating client",
		"op", "winrm_create",
		"host", config.Host,
		"port", config.Port,
		"https", config.UseHTTPS)

	endpoint := winrm.NewEndpoint(
		config.Host,
		config.Port,
		config.UseHTTPS,
		false, // insecure
		nil,   // CA cert
		nil,   // cert
		nil,   // key
		60*time.Second,
	)

	client, err := winrm.NewClientWithParameters(endpoint, config.Username, config.Password, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create WinRM client: %w", err)
	}

	return &WinRMExecutor{config: config, client: client}, nil
}

// Execute runs cmd in a fresh WinRM shell with the given timeout.
func (e *WinRMExecutor) Execute(ctx context.Context, cmd string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.mu.Lock()
	client := e.client
	e.mu.Unlock()

	var stdout, stderr bytes.Buffer
	code, err := client.RunWithContext(runCtx, cmd, &stdout, &stderr)
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		slog.Warn("WinRM: Command timed out",
			"op", "winrm_timeout",
			"host", e.config.Host,
			"timeout", timeout)
		return failure(start, -1, "command timed out after %s on %s", timeout, e.config.Host)
	}
	if err != nil {
		r := failure(start, -1, "WinRM command failed: %v", err)
		r.Stdout = stdout.String()
		return r
	}

	return Result{
		Success:    code == 0,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ReturnCode: code,
		Elapsed:    elapsed,
		ElapsedS:   elapsed.Seconds(),
	}
}

// Describe returns the executor target description.
func (e *WinRMExecutor) Describe() string {
	return fmt.Sprintf("winrm://%s@%s", e.config.Username, e.config.Host)
}
