// Package scheduled runs recurring tasks whose next start time has passed.
package scheduled

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"taskcore/internal/domain"
	"taskcore/internal/lock"
	"taskcore/internal/process"
	"taskcore/internal/schedule"
	"taskcore/internal/task"
)

const killedOutput = "Task Killed."

// Resolver finds the Task implementation for an identifier.
type Resolver interface {
	Resolve(identifier string) (task.Task, error)
}

// Result describes what one processing attempt did.
type Result struct {
	TaskID  string
	Status  domain.ScheduledTaskStatus
	Output  string
	Skipped bool
	Err     error
}

// Processor executes due scheduled tasks. Implementations may parallelize but
// must re-read each task before acting on it.
type Processor interface {
	ProcessScheduledTasks(ctx context.Context, tasks []domain.ScheduledTask) []Result
	ProcessScheduledTask(ctx context.Context, id string) (Result, error)
}

// DefaultProcessor handles tasks one after another in the order given.
type DefaultProcessor struct {
	repo   Repository
	tasks  Resolver
	proc   process.Controller
	locker lock.Locker

	Now func() time.Time
	// WatchInterval is how often a run re-reads its task to notice a kill
	// handled by another instance. Zero disables watching.
	WatchInterval time.Duration
}

const defaultWatchInterval = 2 * time.Second

// NewProcessor builds the default processor. locker may be nil when a single
// driver owns the database.
func NewProcessor(repo Repository, tasks Resolver, proc process.Controller, locker lock.Locker) *DefaultProcessor {
	return &DefaultProcessor{repo: repo, tasks: tasks, proc: proc, locker: locker, Now: time.Now, WatchInterval: defaultWatchInterval}
}

func (p *DefaultProcessor) ProcessScheduledTasks(ctx context.Context, tasks []domain.ScheduledTask) []Result {
	results := make([]Result, 0, len(tasks))
	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		res, err := p.ProcessScheduledTask(ctx, t.ID)
		if err != nil {
			log.Error().Err(err).Str("task_id", t.ID).Msg("failed to process scheduled task")
			res = Result{TaskID: t.ID, Status: t.Status, Err: err}
		}
		results = append(results, res)
	}
	return results
}

func (p *DefaultProcessor) ProcessScheduledTask(ctx context.Context, id string) (Result, error) {
	now := p.Now()
	t, err := p.repo.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if !t.Due(now) {
		return Result{TaskID: id, Status: t.Status, Skipped: true}, nil
	}
	if t.Status == domain.ScheduledKilling || t.PID != nil {
		return p.kill(ctx, t, now)
	}

	if p.locker != nil {
		unlock, err := p.locker.TryLock(ctx, "scheduled:"+id)
		if errors.Is(err, lock.ErrNotAcquired) {
			return Result{TaskID: id, Status: t.Status, Skipped: true}, nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("lock scheduled task %s: %w", id, err)
		}
		defer unlock()
	}
	t, output, claimed, err := p.run(ctx, t, now)
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		return Result{TaskID: id, Status: t.Status, Skipped: true}, nil
	}
	return p.finish(ctx, t, output, Expect{RunHandle: t.RunHandle})
}

// kill stops the run recorded on t and records it KILLED. The run holding the
// lock is the one being killed, so no lock is taken here.
func (p *DefaultProcessor) kill(ctx context.Context, t domain.ScheduledTask, now time.Time) (Result, error) {
	claimed, err := p.repo.ClaimKill(ctx, t, now)
	if err != nil {
		return Result{}, fmt.Errorf("claim kill of scheduled task %s: %w", t.ID, err)
	}
	if !claimed {
		log.Debug().Str("task_id", t.ID).Msg("scheduled task kill handled by another pass")
		return Result{TaskID: t.ID, Status: t.Status, Skipped: true}, nil
	}
	expect := Expect{Status: t.Status, RunHandle: t.RunHandle}
	if t.PID != nil {
		err := p.proc.Kill(process.Handle{PID: *t.PID, Token: t.RunHandle})
		switch {
		case errors.Is(err, process.ErrNotOwned):
			// the owner stops the run once it sees the task is no longer its own
			log.Info().Str("task_id", t.ID).Str("run_handle", t.RunHandle).Msg("scheduled task runs elsewhere, leaving it to its owner")
		case err != nil:
			// hand the task back so a later pass retries the kill
			if _, rerr := p.repo.UpdateStateIf(ctx, t, expect); rerr != nil {
				log.Error().Err(rerr).Str("task_id", t.ID).Msg("failed to restore scheduled task after kill error")
			}
			return Result{}, fmt.Errorf("kill scheduled task %s: %w", t.ID, err)
		}
	}
	t.Status = domain.ScheduledKilled
	t.PID = nil
	t.RunHandle = ""
	return p.finish(ctx, t, killedOutput, expect)
}

// run claims t and executes it. Task errors are recorded on t, never returned.
func (p *DefaultProcessor) run(ctx context.Context, t domain.ScheduledTask, now time.Time) (domain.ScheduledTask, string, bool, error) {
	h, runCtx, release := p.proc.Acquire(ctx)
	defer release()

	timeout := now.Add(time.Duration(t.TimeoutSeconds) * time.Second)
	claimed, err := p.repo.Claim(ctx, t.ID, t.Status, now, h.PID, h.Token, timeout)
	if err != nil {
		return t, "", false, fmt.Errorf("claim scheduled task %s: %w", t.ID, err)
	}
	if !claimed {
		log.Debug().Str("task_id", t.ID).Msg("scheduled task claimed by another worker")
		return t, "", false, nil
	}
	t.Status = domain.ScheduledRunning
	t.PID = &h.PID
	t.RunHandle = h.Token
	t.LastStartTime = &now
	t.TimeoutTime = &timeout

	impl, err := p.tasks.Resolve(t.TaskIdentifier)
	if err != nil {
		t.Status = domain.ScheduledFailed
		t.PID = nil
		return t, err.Error(), true, nil
	}
	log.Info().Str("task_id", t.ID).Str("task_identifier", t.TaskIdentifier).Int("pid", h.PID).Msg("scheduled task started")

	runCtx, stop := context.WithCancel(runCtx)
	defer stop()
	go p.watch(runCtx, stop, t.ID, h.Token)

	out, runErr := task.Execute(runCtx, impl, t.Configuration)
	t.PID = nil
	var output string
	if runErr != nil {
		t.Status = domain.ScheduledFailed
		output = task.FailureMessage(runErr)
		log.Warn().Err(runErr).Str("task_id", t.ID).Msg("scheduled task failed")
	} else {
		t.Status = domain.ScheduledCompleted
		output = task.FormatOutput(out)
	}

	// a kill may have been requested while the task was executing
	if cur, err := p.repo.Get(ctx, t.ID); err == nil &&
		(cur.Status == domain.ScheduledKilling || cur.Status == domain.ScheduledKilled) {
		t.Status = domain.ScheduledKilled
		output = killedOutput
	}
	return t, output, true, nil
}

// watch cancels a run once its task no longer carries token, which happens
// when a kill pass on another instance records it KILLED or it is deleted.
func (p *DefaultProcessor) watch(ctx context.Context, cancel context.CancelFunc, id, token string) {
	if p.WatchInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.WatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cur, err := p.repo.Get(ctx, id)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			continue
		case cur.RunHandle == token:
			continue
		}
		log.Info().Str("task_id", id).Str("run_handle", token).Msg("scheduled task no longer held by this run, cancelling")
		cancel()
		return
	}
}

// finish records the outcome of a pass. When the stored task no longer
// matches expect another pass already recorded it and the outcome is dropped.
func (p *DefaultProcessor) finish(ctx context.Context, t domain.ScheduledTask, output string, expect Expect) (Result, error) {
	end := p.Now()
	t.LastEndTime = &end
	t.UpdatedAt = end
	t.RunHandle = ""
	next, err := schedule.NextStartTime(t.TimePeriods, end)
	if err != nil {
		log.Error().Err(err).Str("task_id", t.ID).Msg("failed to compute next start time")
	} else {
		t.NextStartTime = next
	}
	ok, err := p.repo.UpdateStateIf(ctx, t, expect)
	if err != nil {
		return Result{}, fmt.Errorf("save scheduled task %s: %w", t.ID, err)
	}
	if !ok {
		status := t.Status
		if cur, err := p.repo.Get(ctx, t.ID); err == nil {
			status = cur.Status
		}
		log.Debug().Str("task_id", t.ID).Str("status", string(t.Status)).Msg("scheduled task already recorded by another pass")
		return Result{TaskID: t.ID, Status: status, Skipped: true}, nil
	}
	entry := domain.ScheduledTaskLog{
		TaskID:    t.ID,
		StartTime: t.LastStartTime,
		EndTime:   t.LastEndTime,
		Status:    t.Status,
		Output:    output,
	}
	if err := p.repo.AppendLog(ctx, entry); err != nil {
		log.Error().Err(err).Str("task_id", t.ID).Msg("failed to append scheduled task log")
	}

	ev := log.Info().Str("task_id", t.ID).Str("status", string(t.Status))
	if t.LastStartTime != nil {
		ev = ev.Dur("took", end.Sub(*t.LastStartTime))
	}
	if t.NextStartTime != nil {
		ev = ev.Time("next_start_time", *t.NextStartTime)
	}
	ev.Msg("scheduled task processed")
	return Result{TaskID: t.ID, Status: t.Status, Output: output}, nil
}
