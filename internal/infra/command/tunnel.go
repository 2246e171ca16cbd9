// Package command provides SSH tunnel functionality for reaching remote
// database endpoints that are not directly routable, used by local-mode
// workload execution.
package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
)

// TunnelConfig represents SSH tunnel configuration.
type TunnelConfig struct {
	Enabled   bool      `json:"enabled" yaml:"enabled"`
	SSH       SSHConfig `json:"ssh" yaml:"ssh"`
	LocalPort int       `json:"local_port" yaml:"local_port"` // 0 = auto-assign
}

// SSHTunnel forwards a local port to a remote host:port through SSH.
type SSHTunnel struct {
	client    *ssh.Client
	listener  net.Listener
	localPort int
	cancel    context.CancelFunc
	mu        sync.Mutex
	closed    bool
}

// NewSSHTunnel establishes a tunnel to remoteHost:remotePort.
func NewSSHTunnel(ctx context.Context, config *TunnelConfig, remoteHost string, remotePort int) (*SSHTunnel, error) {
	if !config.Enabled {
		return nil, fmt.Errorf("SSH tunnel is not enabled")
	}
	if err := config.SSH.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tunnel configuration: %w", err)
	}

	slog.Info("SSH: Creating tunnel",
		"op", "ssh_tunnel_create",
		"ssh_host", config.SSH.Host,
		"remote_host", remoteHost,
		"remote_port", remotePort)

	clientConfig, err := config.SSH.buildClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH config: %w", err)
	}

	port := config.SSH.Port
	if port == 0 {
		port = 22
	}
	addr := fmt.Sprintf("%s:%d", config.SSH.Host, port)
	sshClient, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH server %s: %w", addr, err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", config.LocalPort))
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("failed to create local listener: %w", err)
	}
	localPort := listener.Addr().(*net.TCPAddr).Port

	tunnel := &SSHTunnel{
		client:    sshClient,
		listener:  listener,
		localPort: localPort,
	}
	tunnel.startForwarding(remoteHost, remotePort)

	slog.Info("SSH: Tunnel created successfully",
		"op", "ssh_tunnel_created",
		"local_port", localPort,
		"remote_target", fmt.Sprintf("%s:%d", remoteHost, remotePort))

	return tunnel, nil
}

// startForwarding accepts local connections and forwards them through
// the tunnel in background goroutines.
func (t *SSHTunnel) startForwarding(remoteHost string, remotePort int) {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				conn, err := t.listener.Accept()
				if err != nil {
					if t.IsClosed() {
						return
					}
					slog.Error("SSH: Failed to accept connection", "error", err)
					continue
				}
				go t.forwardConnection(conn, remoteHost, remotePort)
			}
		}
	}()
}

// forwardConnection forwards a single connection through the tunnel.
func (t *SSHTunnel) forwardConnection(localConn net.Conn, remoteHost string, remotePort int) {
	defer localConn.Close()

	t.mu.Lock()
	client := t.client
	t.mu.Unlock()

	if client == nil {
		slog.Warn("SSH: Tunnel client is nil, cannot forward")
		return
	}

	remoteAddr := fmt.Sprintf("%s:%d", remoteHost, remotePort)
	remoteConn, err := client.Dial("tcp", remoteAddr)
	if err != nil {
		slog.Error("SSH: Failed to dial remote", "error", err, "remote", remoteAddr)
		return
	}
	defer remoteConn.Close()

	done := make(chan struct{}, 2)

	go func() {
		io.Copy(remoteConn, localConn)
		done <- struct{}{}
	}()

	go func() {
		io.Copy(localConn, remoteConn)
		done <- struct{}{}
	}()

	<-done
	<-done
}

// LocalPort returns the local port number of the tunnel.
func (t *SSHTunnel) LocalPort() int {
	return t.localPort
}

// IsClosed returns whether the tunnel is closed.
func (t *SSHTunnel) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close closes the SSH tunnel and releases resources.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	slog.Info("SSH: Closing tunnel", "op", "ssh_tunnel_close", "local_port", t.localPort)

	if t.cancel != nil {
		t.cancel()
	}

	var errs []error
	if t.listener != nil {
		if err := t.listener.Close(); err != nil {
			errs = append(errs, fmt.Errorf("listener close: %w", err))
		}
	}
	if t.client != nil {
		if err := t.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("client close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing tunnel: %v", errs)
	}
	return nil
}
