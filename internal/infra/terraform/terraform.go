// Package terraform wraps the terraform CLI for infrastructure
// provisioning. It shells out rather than linking a provider SDK; the
// benchmark only needs apply, destroy and output.
package terraform

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/whhaicheng/benchforge/internal/infra/command"
)

// applyTimeout bounds a full provisioning run.
const applyTimeout = 60 * time.Minute

// Client drives terraform in one working directory.
type Client struct {
	Dir  string
	Vars map[string]string

	exec command.Executor
}

// NewClient creates a terraform client for dir.
func NewClient(dir string, vars map[string]string) *Client {
	return &Client{
		Dir:  dir,
		Vars: vars,
		exec: &command.LocalExecutor{Dir: dir},
	}
}

// varArgs renders -var flags in stable order.
func (c *Client) varArgs() string {
	if len(c.Vars) == 0 {
		return ""
	}
	keys := make([]string, 0, len(c.Vars))
	for k := range c.Vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, " -var '%s=%s'", k, c.Vars[k])
	}
	return sb.String()
}

// Apply runs init + apply and returns the provisioning duration in
// seconds.
func (c *Client) Apply(ctx context.Context) (float64, error) {
	start := time.Now()

	if result := c.exec.Execute(ctx, "terraform init -input=false -no-color", applyTimeout); !result.Success {
		return 0, fmt.Errorf("terraform init failed (rc=%d): %s", result.ReturnCode, strings.TrimSpace(result.Stderr))
	}

	cmd := "terraform apply -auto-approve -input=false -no-color" + c.varArgs()
	if result := c.exec.Execute(ctx, cmd, applyTimeout); !result.Success {
		return 0, fmt.Errorf("terraform apply failed (rc=%d): %s", result.ReturnCode, strings.TrimSpace(result.Stderr))
	}
	return time.Since(start).Seconds(), nil
}

// Destroy tears the provisioned infrastructure down.
func (c *Client) Destroy(ctx context.Context) error {
	cmd := "terraform destroy -auto-approve -input=false -no-color" + c.varArgs()
	if result := c.exec.Execute(ctx, cmd, applyTimeout); !result.Success {
		return fmt.Errorf("terraform destroy failed (rc=%d): %s", result.ReturnCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// Output returns the terraform output values, decoded from JSON.
func (c *Client) Output(ctx context.Context) (map[string]any, error) {
	result := c.exec.Execute(ctx, "terraform output -json -no-color", 5*time.Minute)
	if !result.Success {
		return nil, fmt.Errorf("terraform output failed (rc=%d): %s", result.ReturnCode, strings.TrimSpace(result.Stderr))
	}

	var raw map[string]struct {
		Value any `json:"value"`
	}
	if err := json.Unmarshal([]byte(result.Stdout), &raw); err != nil {
		return nil, fmt.Errorf("parse terraform output: %w", err)
	}

	outputs := make(map[string]any, len(raw))
	for name, entry := range raw {
		outputs[name] = entry.Value
	}
	return outputs, nil
}
