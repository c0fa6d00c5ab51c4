package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
)

// DebugMessager is implemented by errors that carry more detail than Error()
// for operators.
type DebugMessager interface {
	DebugMessage() string
}

// PanicError is returned by Execute when the task panics.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("task panicked: %v", e.Value) }

func (e *PanicError) DebugMessage() string { return e.Error() + "\n" + e.Stack }

// Execute runs t, turning a panic into a *PanicError.
func Execute(ctx context.Context, t Task, config map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	if config == nil {
		config = map[string]any{}
	}
	return t.Run(ctx, config)
}

// FailureMessage prefers the richest description err offers.
func FailureMessage(err error) string {
	var dm DebugMessager
	if errors.As(err, &dm) {
		return dm.DebugMessage()
	}
	return err.Error()
}

// FormatOutput renders a task's return value for log storage.
func FormatOutput(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
