package shell

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"taskcore/internal/task"
)

// Ref is the implementation reference the shell task is registered under.
const Ref = "shell"

type Shell struct{}

type Cmd struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Dir     string   `json:"dir"`
	Timeout int      `json:"timeout"` // seconds
}

func New() task.Task { return Shell{} }

// Run executes the configured command and returns its combined output.
func (Shell) Run(ctx context.Context, config map[string]any) (any, error) {
	var c Cmd
	if err := task.Decode(config, &c); err != nil {
		return nil, err
	}
	if c.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.Timeout)*time.Second)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Dir = c.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("shell error: %v; out=%s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
