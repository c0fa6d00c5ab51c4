// Package longrunning tracks slow synchronous operations so that callers can
// poll their progress, and sweeps records that time out or expire.
package longrunning

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"taskcore/internal/domain"
	"taskcore/internal/task"
)

const (
	DefaultExpiryMinutes  = 10080
	DefaultTimeoutSeconds = 3600
)

// Task is a tracked operation. It may report progress through p while it runs.
type Task interface {
	Start(ctx context.Context, p *Progress) (any, error)
}

type TaskFunc func(ctx context.Context, p *Progress) (any, error)

func (f TaskFunc) Start(ctx context.Context, p *Progress) (any, error) { return f(ctx, p) }

// Progress is the running task's handle on its record.
type Progress struct {
	svc    *Service
	record *domain.LongRunningTask
}

func (p *Progress) Record() domain.LongRunningTask { return *p.record }

func (p *Progress) Update(ctx context.Context, data any) error {
	return p.svc.UpdateProgress(ctx, p.record, data)
}

// Options for StartTask. Zero values take the service defaults.
type Options struct {
	TaskKey        string
	ExpiryMinutes  int
	TimeoutSeconds int
	AccountID      string
	ProjectKey     string
}

type Service struct {
	repo Repository

	DefaultExpiryMinutes  int
	DefaultTimeoutSeconds int
	Now                   func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo:                  repo,
		DefaultExpiryMinutes:  DefaultExpiryMinutes,
		DefaultTimeoutSeconds: DefaultTimeoutSeconds,
		Now:                   time.Now,
	}
}

// StartTask records t as RUNNING, runs it, and stores the outcome. A failing
// task is recorded as FAILED and its error returned afterwards.
func (s *Service) StartTask(ctx context.Context, taskIdentifier string, t Task, opts Options) (any, error) {
	if opts.ExpiryMinutes <= 0 {
		opts.ExpiryMinutes = s.DefaultExpiryMinutes
	}
	if opts.TimeoutSeconds <= 0 {
		opts.TimeoutSeconds = s.DefaultTimeoutSeconds
	}
	now := s.Now()
	rec := domain.LongRunningTask{
		ID:             "lrt_" + uuid.NewString(),
		TaskIdentifier: taskIdentifier,
		TaskKey:        opts.TaskKey,
		Status:         domain.LongRunningRunning,
		StartedDate:    now,
		TimeoutDate:    now.Add(time.Duration(opts.TimeoutSeconds) * time.Second),
		ExpiryMinutes:  opts.ExpiryMinutes,
		AccountID:      opts.AccountID,
		ProjectKey:     opts.ProjectKey,
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return nil, err
	}
	log.Info().Str("task_id", rec.ID).Str("task_identifier", taskIdentifier).Str("task_key", opts.TaskKey).Msg("long running task started")

	out, runErr := run(ctx, t, &Progress{svc: s, record: &rec})

	finished := s.Now()
	expiry := finished.Add(time.Duration(rec.ExpiryMinutes) * time.Minute)
	rec.FinishedDate = &finished
	rec.ExpiryDate = &expiry
	if runErr != nil {
		rec.Status = domain.LongRunningFailed
		rec.Result = task.FailureMessage(runErr)
	} else {
		rec.Status = domain.LongRunningCompleted
		rec.Result = out
	}
	saveErr := s.repo.Update(ctx, rec)

	if runErr != nil {
		if saveErr != nil {
			log.Error().Err(saveErr).Str("task_id", rec.ID).Msg("failed to record long running task failure")
		}
		log.Warn().Err(runErr).Str("task_id", rec.ID).Msg("long running task failed")
		return nil, runErr
	}
	if saveErr != nil {
		return out, saveErr
	}
	log.Info().Str("task_id", rec.ID).Dur("took", finished.Sub(now)).Msg("long running task completed")
	return out, nil
}

func run(ctx context.Context, t Task, p *Progress) (any, error) {
	return task.Execute(ctx, task.Func(func(ctx context.Context, _ map[string]any) (any, error) {
		return t.Start(ctx, p)
	}), nil)
}

// UpdateProgress stores progress immediately so pollers can see it.
func (s *Service) UpdateProgress(ctx context.Context, rec *domain.LongRunningTask, data any) error {
	rec.ProgressData = data
	return s.repo.UpdateProgress(ctx, rec.ID, data)
}

func (s *Service) GetStoredTask(ctx context.Context, id string) (domain.LongRunningTask, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetStoredTaskByTaskKey(ctx context.Context, key string) (domain.LongRunningTask, error) {
	return s.repo.GetByTaskKey(ctx, key)
}

func (s *Service) ListTasks(ctx context.Context, taskIdentifier string) ([]domain.LongRunningTask, error) {
	return s.repo.List(ctx, taskIdentifier)
}

// ProcessTimeouts moves RUNNING records past their timeout date to TIMEOUT.
func (s *Service) ProcessTimeouts(ctx context.Context) (int, error) {
	now := s.Now()
	recs, err := s.repo.ListTimedOut(ctx, now)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range recs {
		expiry := now.Add(time.Duration(r.ExpiryMinutes) * time.Minute)
		ok, err := s.repo.MarkTimedOut(ctx, r.ID, now, expiry)
		if err != nil {
			log.Error().Err(err).Str("task_id", r.ID).Msg("failed to time out long running task")
			continue
		}
		if !ok {
			// finished between the listing and the write
			continue
		}
		log.Warn().Str("task_id", r.ID).Str("task_identifier", r.TaskIdentifier).Msg("long running task timed out")
		n++
	}
	return n, nil
}

// ProcessExpiries deletes records whose expiry date has passed.
func (s *Service) ProcessExpiries(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteExpired(ctx, s.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int("count", n).Msg("expired long running tasks deleted")
	}
	return n, nil
}
