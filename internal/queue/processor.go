// Package queue stores fire-and-forget work items per named queue and runs
// them through the task registry.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"taskcore/internal/domain"
)

// NewItem is the input of Processor.QueueTask.
type NewItem struct {
	QueueName      string
	TaskIdentifier string
	Description    string
	Configuration  map[string]any
	// StartTime defers execution until the given instant.
	StartTime *time.Time
	// DedupKey, when set, makes QueueTask return the id of an item with the
	// same key still in the queue instead of adding another.
	DedupKey string
}

// Processor is a queue backend.
type Processor interface {
	QueueTask(ctx context.Context, item NewItem) (string, error)
	GetTask(ctx context.Context, queueName, id string) (domain.QueueItem, error)
	// DeQueueTask removes the item. Missing items and RUNNING items are left
	// alone without error.
	DeQueueTask(ctx context.Context, queueName, id string) error
	// ListQueuedTasks returns items in insertion order.
	ListQueuedTasks(ctx context.Context, queueName string) ([]domain.QueueItem, error)
	RegisterTaskStatusChange(ctx context.Context, queueName, id string, status domain.QueuedTaskStatus) error
	// ClaimTask moves a PENDING item to RUNNING. It reports false when the item
	// is gone or no longer pending.
	ClaimTask(ctx context.Context, queueName, id string) (bool, error)
	ListQueues(ctx context.Context) ([]string, error)
}

// Open selects a backend by name. db is used by "sqlite", client by "redis".
func Open(name string, db *sql.DB, client *redis.Client) (Processor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite":
		if db == nil {
			return nil, fmt.Errorf("queue processor sqlite: database not configured")
		}
		return NewSQLiteProcessor(db), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("queue processor redis: redis.url not configured")
		}
		return NewRedisProcessor(client), nil
	default:
		return nil, fmt.Errorf("unknown queue processor: %s", name)
	}
}
