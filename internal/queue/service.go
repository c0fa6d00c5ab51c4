package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"taskcore/internal/domain"
	"taskcore/internal/task"
)

// ErrNotPending is returned by ProcessQueuedTask when another worker already
// started the item.
var ErrNotPending = errors.New("queued task is not pending")

type Registry interface {
	Resolve(identifier string) (task.Task, error)
	Definitions() (map[string]string, error)
}

// Request describes a task to enqueue. RunOffsetSeconds wins over RunAt.
type Request struct {
	QueueName        string
	TaskIdentifier   string
	Description      string
	Configuration    map[string]any
	RunAt            *time.Time
	RunOffsetSeconds *int
	DedupKey         string
}

type Service struct {
	processor Processor
	registry  Registry

	Now func() time.Time
}

func NewService(processor Processor, registry Registry) *Service {
	return &Service{processor: processor, registry: registry, Now: time.Now}
}

func (s *Service) QueueTask(ctx context.Context, req Request) (string, error) {
	if req.QueueName == "" {
		return "", domain.ValidationErrors{{Field: "queueName", Message: "is required"}}
	}
	if req.TaskIdentifier == "" {
		return "", domain.ValidationErrors{{Field: "taskIdentifier", Message: "is required"}}
	}
	start := req.RunAt
	if req.RunOffsetSeconds != nil {
		t := s.Now().Add(time.Duration(*req.RunOffsetSeconds) * time.Second)
		start = &t
	}
	id, err := s.processor.QueueTask(ctx, NewItem{
		QueueName:      req.QueueName,
		TaskIdentifier: req.TaskIdentifier,
		Description:    req.Description,
		Configuration:  req.Configuration,
		StartTime:      start,
		DedupKey:       req.DedupKey,
	})
	if err != nil {
		return "", fmt.Errorf("queue task: %w", err)
	}
	log.Debug().Str("queue", req.QueueName).Str("item_id", id).Str("task_identifier", req.TaskIdentifier).Msg("task queued")
	return id, nil
}

func (s *Service) GetQueuedTask(ctx context.Context, queueName, id string) (domain.QueueItem, error) {
	return s.processor.GetTask(ctx, queueName, id)
}

func (s *Service) ListQueuedTasks(ctx context.Context, queueName string) ([]domain.QueueItem, error) {
	return s.processor.ListQueuedTasks(ctx, queueName)
}

func (s *Service) ListQueues(ctx context.Context) ([]string, error) {
	return s.processor.ListQueues(ctx)
}

func (s *Service) DeQueueTask(ctx context.Context, queueName, id string) error {
	return s.processor.DeQueueTask(ctx, queueName, id)
}

// GetInstalledTaskClasses returns the task identifier to implementation
// reference mapping.
func (s *Service) GetInstalledTaskClasses() (map[string]string, error) {
	return s.registry.Definitions()
}

// ProcessQueuedTask runs one item and removes it once it completes. A task
// error is returned as is and leaves the item RUNNING.
func (s *Service) ProcessQueuedTask(ctx context.Context, queueName, taskIdentifier, id string, configuration map[string]any) (any, error) {
	impl, err := s.registry.Resolve(taskIdentifier)
	if err != nil {
		return nil, err
	}
	claimed, err := s.processor.ClaimTask(ctx, queueName, id)
	if err != nil {
		return nil, err
	}
	if !claimed {
		if _, err := s.processor.GetTask(ctx, queueName, id); err != nil {
			return nil, err
		}
		return nil, ErrNotPending
	}

	started := s.Now()
	out, err := task.Execute(ctx, impl, configuration)
	if err != nil {
		log.Warn().Err(err).Str("queue", queueName).Str("item_id", id).Msg("queued task failed")
		return nil, err
	}
	if err := s.processor.RegisterTaskStatusChange(ctx, queueName, id, domain.QueuedCompleted); err != nil {
		return out, err
	}
	if err := s.processor.DeQueueTask(ctx, queueName, id); err != nil {
		return out, err
	}
	log.Info().
		Str("queue", queueName).
		Str("item_id", id).
		Str("task_identifier", taskIdentifier).
		Dur("took", s.Now().Sub(started)).
		Msg("queued task completed")
	return out, nil
}

// ProcessNextQueuedTask runs the first item of the queue that is pending and
// whose start time has passed. It reports whether an item was run. Items with
// no installed implementation stay PENDING and are passed over.
func (s *Service) ProcessNextQueuedTask(ctx context.Context, queueName string) (bool, error) {
	items, err := s.processor.ListQueuedTasks(ctx, queueName)
	if err != nil {
		return false, err
	}
	now := s.Now()
	for _, it := range items {
		if !it.Ready(now) {
			continue
		}
		_, err := s.ProcessQueuedTask(ctx, queueName, it.TaskIdentifier, it.ID, it.Configuration)
		if errors.Is(err, domain.ErrNoTaskImplementation) {
			log.Warn().Err(err).Str("queue", queueName).Str("item_id", it.ID).Msg("queued task has no implementation")
			continue
		}
		if errors.Is(err, ErrNotPending) || errors.Is(err, domain.ErrNotFound) {
			log.Debug().Str("queue", queueName).Str("item_id", it.ID).Msg("queued task taken by another worker")
			return false, nil
		}
		return true, err
	}
	return false, nil
}
