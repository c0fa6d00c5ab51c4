package scheduled

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"taskcore/internal/domain"
	"taskcore/internal/schedule"
)

type Service struct {
	repo      Repository
	processor Processor

	Now func() time.Time
}

func NewService(repo Repository, processor Processor) *Service {
	return &Service{repo: repo, processor: processor, Now: time.Now}
}

// SaveScheduledTask creates def when it has no ID, otherwise replaces the
// definition of the stored task and keeps its execution state. The next start
// time is recalculated either way.
func (s *Service) SaveScheduledTask(ctx context.Context, def domain.ScheduledTask) (string, error) {
	if errs := schedule.ValidateAll(def.TimePeriods); len(errs) > 0 {
		return "", errs
	}
	if def.TaskIdentifier == "" {
		return "", domain.ValidationErrors{{Field: "taskIdentifier", Message: "is required"}}
	}
	now := s.Now()
	next, err := schedule.NextStartTime(def.TimePeriods, now)
	if err != nil {
		return "", err
	}

	if def.ID == "" {
		t := def
		t.ID = "sch_" + uuid.NewString()
		t.Status = domain.ScheduledPending
		t.PID, t.RunHandle = nil, ""
		t.LastStartTime, t.LastEndTime, t.TimeoutTime = nil, nil, nil
		t.NextStartTime = next
		t.CreatedAt, t.UpdatedAt = now, now
		t.TimePeriods = stampPeriods(def.TimePeriods, now)
		if err := s.repo.Insert(ctx, t); err != nil {
			return "", err
		}
		log.Info().Str("task_id", t.ID).Str("task_identifier", t.TaskIdentifier).Msg("scheduled task created")
		return t.ID, nil
	}

	t, err := s.repo.Get(ctx, def.ID)
	if err != nil {
		return "", err
	}
	t.TaskIdentifier = def.TaskIdentifier
	t.Description = def.Description
	t.Configuration = def.Configuration
	t.TimeoutSeconds = def.TimeoutSeconds
	t.AccountID = def.AccountID
	t.ProjectKey = def.ProjectKey
	t.TimePeriods = stampPeriods(def.TimePeriods, now)
	t.NextStartTime = next
	t.UpdatedAt = now
	if err := s.repo.Update(ctx, t); err != nil {
		return "", err
	}
	log.Info().Str("task_id", t.ID).Msg("scheduled task updated")
	return t.ID, nil
}

func stampPeriods(in []domain.TimePeriod, now time.Time) []domain.TimePeriod {
	out := make([]domain.TimePeriod, len(in))
	for i, tp := range in {
		if tp.ID == "" {
			tp.ID = "tp_" + uuid.NewString()
		}
		if tp.CreatedAt.IsZero() {
			tp.CreatedAt = now
		}
		out[i] = tp
	}
	return out
}

func (s *Service) GetScheduledTask(ctx context.Context, id string) (domain.ScheduledTask, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListScheduledTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	return s.repo.List(ctx)
}

func (s *Service) DeleteScheduledTask(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	log.Info().Str("task_id", id).Msg("scheduled task deleted")
	return nil
}

func (s *Service) ListScheduledTaskLogs(ctx context.Context, id string, limit int) ([]domain.ScheduledTaskLog, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListLogs(ctx, id, limit)
}

// RequestKill marks the task KILLING and due now, so the next processing pass
// kills its process.
func (s *Service) RequestKill(ctx context.Context, id string) error {
	if err := s.repo.MarkKilling(ctx, id, s.Now()); err != nil {
		return err
	}
	log.Info().Str("task_id", id).Msg("scheduled task kill requested")
	return nil
}

// ProcessDueTasks hands every due task to the processor in one batch. Running
// tasks past their timeout are first flagged for killing.
func (s *Service) ProcessDueTasks(ctx context.Context) ([]Result, error) {
	now := s.Now()
	if n, err := s.repo.FlagTimedOut(ctx, now); err != nil {
		log.Error().Err(err).Msg("failed to flag timed out scheduled tasks")
	} else if n > 0 {
		log.Warn().Int("count", n).Msg("scheduled tasks timed out, killing")
	}
	due, err := s.repo.ListDue(ctx, now)
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return nil, nil
	}
	return s.processor.ProcessScheduledTasks(ctx, due), nil
}
