// Package task defines the runnable Task contract and the registry that maps
// task identifiers to implementations.
package task

import (
	"context"
	"encoding/json"
	"fmt"
)

// Task is a unit of work. The returned value is stored unchanged as the
// task's output.
type Task interface {
	Run(ctx context.Context, config map[string]any) (any, error)
}

// Func adapts a plain function to Task.
type Func func(ctx context.Context, config map[string]any) (any, error)

func (f Func) Run(ctx context.Context, config map[string]any) (any, error) { return f(ctx, config) }

// Factory builds a fresh Task for one execution.
type Factory func() Task

// Decode copies a task configuration into the struct pointed to by v using
// its json tags.
func Decode(config map[string]any, v any) error {
	b, err := json.Marshal(config)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("invalid task configuration: %w", err)
	}
	return nil
}
