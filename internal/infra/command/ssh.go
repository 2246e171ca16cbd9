// Package command provides SSH command execution for remote database hosts.
package command

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig represents SSH access configuration for one remote host.
type SSHConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`         // default 22
	Username string `json:"username" yaml:"username"`
	Password string `json:"-" yaml:"password"`
	KeyPath  string `json:"key_path" yaml:"key_path"` // private key file (optional)
}

// Validate validates the SSH configuration.
func (c *SSHConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("SSH host is required")
	}
	if c.Username == "" {
		return fmt.Errorf("SSH username is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("SSH port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Password == "" && c.KeyPath == "" {
		return fmt.Errorf("SSH requires either password or private key")
	}
	return nil
}

// buildClientConfig creates an ssh.ClientConfig from the configuration.
func (c *SSHConfig) buildClientConfig() (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:            c.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	if c.Password != "" {
		config.Auth = append(config.Auth, ssh.Password(c.Password))
	}

	if c.KeyPath != "" {
		keyBytes, err := os.ReadFile(c.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		key, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		config.Auth = append(config.Auth, ssh.PublicKeys(key))
	}

	if len(config.Auth) == 0 {
		return nil, fmt.Errorf("SSH requires either password or private key")
	}

	return config, nil
}

// LineRecorder receives completed output lines from a streaming command.
// It must be safe to call from any goroutine.
type LineRecorder func(line string)

// SSHExecutor runs commands on a remote host over SSH. One session is
// opened per command; the client connection is reused across commands.
type SSHExecutor struct {
	config *SSHConfig

	mu     sync.Mutex
	client *ssh.Client

	// Recorder, when set, receives every output line as it arrives.
	// Lines are tagged with TagPrefix before delivery.
	Recorder  LineRecorder
	TagPrefix string
}

// NewSSHExecutor creates an executor for the given host. The connection
// is established lazily on the first Execute call.
func NewSSHExecutor(config *SSHConfig) (*SSHExecutor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SSH configuration: %w", err)
	}
	return &SSHExecutor{config: config}, nil
}

// connect dials the SSH server if not already connected.
func (e *SSHExecutor) connect(ctx context.Context) (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		return e.client, nil
	}

	clientConfig, err := e.config.buildClientConfig()
	if err != nil {
		return nil, err
	}

	port := e.config.Port
	if port == 0 {
		port = 22
	}
	addr := fmt.Sprintf("%s:%d", e.config.Host, port)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}

	conn, err := net.DialTimeout("tcp", addr, time.Until(deadline))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH server %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake failed: %w", err)
	}

	e.client = ssh.NewClient(sshConn, chans, reqs)
	slog.Info("SSH: Connected", "op", "ssh_connect", "host", e.config.Host, "port", port)
	return e.client, nil
}

// Execute runs cmd in a fresh session with the given timeout. When a
// Recorder is set, stdout and stderr lines are streamed to it as they
// arrive; stderr lines carry an "[stderr] " marker.
func (e *SSHExecutor) Execute(ctx context.Context, cmd string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := time.Now()

	client, err := e.connect(ctx)
	if err != nil {
		return failure(start, -1, "ssh connect: %v", err)
	}

	session, err := client.NewSession()
	if err != nil {
		// Connection may have gone stale; drop it so the next call redials.
		e.mu.Lock()
		e.client.Close()
		e.client = nil
		e.mu.Unlock()
		return failure(start, -1, "ssh session: %v", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup

	if e.Recorder != nil {
		stdoutPipe, perr := session.StdoutPipe()
		if perr != nil {
			return failure(start, -1, "ssh stdout pipe: %v", perr)
		}
		stderrPipe, perr := session.StderrPipe()
		if perr != nil {
			return failure(start, -1, "ssh stderr pipe: %v", perr)
		}
		wg.Add(2)
		go e.streamLines(stdoutPipe, &stdout, "", &wg)
		go e.streamLines(stderrPipe, &stderr, "[stderr] ", &wg)
	} else {
		session.Stdout = &stdout
		session.Stderr = &stderr
	}

	if err := session.Start(cmd); err != nil {
		return failure(start, -1, "ssh start: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	var runErr error
	timedOut := false
	select {
	case runErr = <-done:
	case <-time.After(timeout):
		timedOut = true
		session.Signal(ssh.SIGKILL)
		// Give the remote side a moment to terminate before we move on.
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
		// Close the session so the stream scanners hit EOF; a wedged
		// remote must not keep wg.Wait blocked below.
		session.Close()
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		runErr = ctx.Err()
	}

	wg.Wait()
	elapsed := time.Since(start)

	if timedOut {
		slog.Warn("SSH: Command timed out",
			"op", "ssh_timeout",
			"host", e.config.Host,
			"timeout", timeout)
		r := failure(start, -1, "command timed out after %s on %s", timeout, e.config.Host)
		r.Stdout = stdout.String()
		return r
	}

	result := Result{
		Success:    runErr == nil,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ReturnCode: 0,
		Elapsed:    elapsed,
		ElapsedS:   elapsed.Seconds(),
	}

	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			result.ReturnCode = exitErr.ExitStatus()
		} else {
			result.ReturnCode = -1
			if result.Stderr == "" {
				result.Stderr = runErr.Error()
			}
		}
	}

	return result
}

// streamLines scans reader line by line, mirrors complete lines into buf,
// and forwards each one to the recorder tagged with the configured prefix.
func (e *SSHExecutor) streamLines(reader io.Reader, buf *bytes.Buffer, marker string, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')

		tagged := marker + line
		if e.TagPrefix != "" && !strings.HasPrefix(tagged, e.TagPrefix) {
			tagged = e.TagPrefix + tagged
		}
		e.Recorder(tagged)
	}
}

// Describe returns the executor target description.
func (e *SSHExecutor) Describe() string {
	return fmt.Sprintf("ssh://%s@%s", e.config.Username, e.config.Host)
}

// Close closes the underlying SSH connection if one is open.
func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}
