// Package command provides unit tests for the command executor contract.
package command

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLocalExecutor_Success tests a command that exits zero.
func TestLocalExecutor_Success(t *testing.T) {
	e := NewLocalExecutor()
	result := e.Execute(context.Background(), "echo hello", 10*time.Second)

	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ReturnCode)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.GreaterOrEqual(t, result.ElapsedS, 0.0)
}

// TestLocalExecutor_Failure tests that a non-zero exit is data, not an error.
func TestLocalExecutor_Failure(t *testing.T) {
	e := NewLocalExecutor()
	result := e.Execute(context.Background(), "echo oops >&2; exit 3", 10*time.Second)

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.ReturnCode)
	assert.Contains(t, result.Stderr, "oops")
}

// TestLocalExecutor_Timeout tests the timeout contract: success=false,
// returncode=-1, descriptive stderr.
func TestLocalExecutor_Timeout(t *testing.T) {
	e := NewLocalExecutor()
	result := e.Execute(context.Background(), "sleep 5", 100*time.Millisecond)

	assert.False(t, result.Success)
	assert.Equal(t, -1, result.ReturnCode)
	assert.Contains(t, result.Stderr, "timed out")
}

// TestLocalExecutor_MissingBinary tests a command that cannot start.
func TestLocalExecutor_MissingBinary(t *testing.T) {
	e := NewLocalExecutor()
	result := e.Execute(context.Background(), "definitely-not-a-real-binary-xyz", 10*time.Second)

	assert.False(t, result.Success)
	assert.NotEqual(t, 0, result.ReturnCode)
}

// TestSSHExecutor_StreamLinesUnblocksOnClose tests that the stream
// scanners return once their reader is closed. Execute relies on this
// when it tears down a timed-out session: closing the session must
// release the scanner goroutines so the call can return.
func TestSSHExecutor_StreamLinesUnblocksOnClose(t *testing.T) {
	var mu sync.Mutex
	var recorded []string
	e := &SSHExecutor{
		Recorder: func(line string) {
			mu.Lock()
			recorded = append(recorded, line)
			mu.Unlock()
		},
	}

	reader, writer := io.Pipe()
	var buf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(1)
	go e.streamLines(reader, &buf, "[stderr] ", &wg)

	_, err := writer.Write([]byte("loading chunk 1\npartial"))
	require.NoError(t, err)
	// Close with an unterminated line pending; the scanner must flush
	// it and exit rather than block forever.
	require.NoError(t, writer.Close())

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("streamLines did not return after reader close")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"[stderr] loading chunk 1", "[stderr] partial"}, recorded)
	assert.Equal(t, "loading chunk 1\npartial\n", buf.String())
}

// TestSSHConfig_Validate tests SSH configuration validation.
func TestSSHConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  SSHConfig
		wantErr string
	}{
		{
			name:   "valid with password",
			config: SSHConfig{Host: "db1", Port: 22, Username: "ubuntu", Password: "secret"},
		},
		{
			name:   "valid with key",
			config: SSHConfig{Host: "db1", Username: "ubuntu", KeyPath: "/tmp/id_rsa"},
		},
		{
			name:    "missing host",
			config:  SSHConfig{Username: "ubuntu", Password: "secret"},
			wantErr: "host is required",
		},
		{
			name:    "missing username",
			config:  SSHConfig{Host: "db1", Password: "secret"},
			wantErr: "username is required",
		},
		{
			name:    "no auth method",
			config:  SSHConfig{Host: "db1", Username: "ubuntu"},
			wantErr: "password or private key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, strings.Contains(err.Error(), tt.wantErr),
					"error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

// TestWinRMConfig_Validate tests WinRM configuration validation.
func TestWinRMConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  WinRMConfig
		wantErr bool
	}{
		{"disabled skips validation", WinRMConfig{Enabled: false}, false},
		{"valid http", WinRMConfig{Enabled: true, Host: "win1", Port: 5985}, false},
		{"valid https", WinRMConfig{Enabled: true, Host: "win1", Port: 5986, UseHTTPS: true}, false},
		{"missing host", WinRMConfig{Enabled: true, Port: 5985}, true},
		{"https wrong port", WinRMConfig{Enabled: true, Host: "win1", Port: 5985, UseHTTPS: true}, true},
		{"http wrong port", WinRMConfig{Enabled: true, Host: "win1", Port: 5986}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
