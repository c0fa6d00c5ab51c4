package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrNoTaskImplementation = errors.New("no task implementation")
)

// NotFoundError identifies the missing record. It matches ErrNotFound.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func NotFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

// NoTaskImplementationError is returned when a task identifier is not in the registry.
type NoTaskImplementationError struct {
	TaskIdentifier string
}

func (e *NoTaskImplementationError) Error() string {
	return fmt.Sprintf("no task implementation registered for %q", e.TaskIdentifier)
}

func (e *NoTaskImplementationError) Is(target error) bool { return target == ErrNoTaskImplementation }

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every problem found in one definition.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
