package scheduled

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskcore/internal/domain"
	"taskcore/internal/store"
)

// Repository persists scheduled tasks, their time periods and run logs.
type Repository interface {
	Insert(ctx context.Context, t domain.ScheduledTask) error
	// Update rewrites the definition and state, replacing the time periods.
	Update(ctx context.Context, t domain.ScheduledTask) error
	// UpdateState writes only the execution fields.
	UpdateState(ctx context.Context, t domain.ScheduledTask) error
	// UpdateStateIf writes the execution fields only while the stored task
	// still matches expect. It reports whether the write happened.
	UpdateStateIf(ctx context.Context, t domain.ScheduledTask, expect Expect) (bool, error)
	Get(ctx context.Context, id string) (domain.ScheduledTask, error)
	List(ctx context.Context) ([]domain.ScheduledTask, error)
	Delete(ctx context.Context, id string) error
	// ListDue returns tasks with next_start_time <= now that are not RUNNING,
	// oldest first.
	ListDue(ctx context.Context, now time.Time) ([]domain.ScheduledTask, error)
	// Claim moves a task from status `from` to RUNNING only if nobody changed
	// it since it was read and it is still due.
	Claim(ctx context.Context, id string, from domain.ScheduledTaskStatus, now time.Time, pid int, handle string, timeoutTime time.Time) (bool, error)
	// ClaimKill takes t off the due list for the pass that kills it. It fails
	// when another pass got there first or the task changed since t was read.
	ClaimKill(ctx context.Context, t domain.ScheduledTask, now time.Time) (bool, error)
	// MarkKilling sets the task KILLING and due at now without touching the
	// rest of its state.
	MarkKilling(ctx context.Context, id string, now time.Time) error
	// FlagTimedOut marks RUNNING tasks past their timeout as KILLING and due now.
	FlagTimedOut(ctx context.Context, now time.Time) (int, error)
	AppendLog(ctx context.Context, l domain.ScheduledTaskLog) error
	ListLogs(ctx context.Context, taskID string, limit int) ([]domain.ScheduledTaskLog, error)
}

// Expect is the stored state a conditional write requires. An empty Status
// matches any status; RunHandle always has to match.
type Expect struct {
	Status    domain.ScheduledTaskStatus
	RunHandle string
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepository(db *sql.DB) Repository { return &sqliteRepo{db: db} }

const taskColumns = `id,task_identifier,description,configuration,status,pid,run_handle,next_start_time,last_start_time,last_end_time,timeout_seconds,timeout_time,account_id,project_key,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (domain.ScheduledTask, error) {
	var (
		t                              domain.ScheduledTask
		cfg                            string
		status                         string
		pid                            sql.NullInt64
		next, lastStart, lastEnd, tout sql.NullInt64
		created, updated               int64
	)
	if err := row.Scan(&t.ID, &t.TaskIdentifier, &t.Description, &cfg, &status, &pid, &t.RunHandle, &next, &lastStart, &lastEnd,
		&t.TimeoutSeconds, &tout, &t.AccountID, &t.ProjectKey, &created, &updated); err != nil {
		return domain.ScheduledTask{}, err
	}
	c, err := store.DecodeConfig(cfg)
	if err != nil {
		return domain.ScheduledTask{}, fmt.Errorf("scheduled task %s configuration: %w", t.ID, err)
	}
	t.Configuration = c
	t.Status = domain.ScheduledTaskStatus(status)
	t.PID = store.FromNullInt(pid)
	t.NextStartTime = store.FromNullMillis(next)
	t.LastStartTime = store.FromNullMillis(lastStart)
	t.LastEndTime = store.FromNullMillis(lastEnd)
	t.TimeoutTime = store.FromNullMillis(tout)
	t.CreatedAt = store.FromMillis(created)
	t.UpdatedAt = store.FromMillis(updated)
	return t, nil
}

func (r *sqliteRepo) Insert(ctx context.Context, t domain.ScheduledTask) error {
	cfg, err := store.EncodeConfig(t.Configuration)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO scheduled_tasks (`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.TaskIdentifier, t.Description, cfg, string(t.Status), store.NullInt(t.PID), t.RunHandle,
		store.NullMillis(t.NextStartTime), store.NullMillis(t.LastStartTime), store.NullMillis(t.LastEndTime),
		t.TimeoutSeconds, store.NullMillis(t.TimeoutTime), t.AccountID, t.ProjectKey,
		store.Millis(t.CreatedAt), store.Millis(t.UpdatedAt))
	if err != nil {
		return err
	}
	if err := insertPeriods(ctx, tx, t.ID, t.TimePeriods); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *sqliteRepo) Update(ctx context.Context, t domain.ScheduledTask) error {
	cfg, err := store.EncodeConfig(t.Configuration)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE scheduled_tasks
SET task_identifier=?,description=?,configuration=?,status=?,pid=?,run_handle=?,next_start_time=?,last_start_time=?,last_end_time=?,
    timeout_seconds=?,timeout_time=?,account_id=?,project_key=?,updated_at=?
WHERE id=?`,
		t.TaskIdentifier, t.Description, cfg, string(t.Status), store.NullInt(t.PID), t.RunHandle,
		store.NullMillis(t.NextStartTime), store.NullMillis(t.LastStartTime), store.NullMillis(t.LastEndTime),
		t.TimeoutSeconds, store.NullMillis(t.TimeoutTime), t.AccountID, t.ProjectKey, store.Millis(t.UpdatedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("scheduled task", t.ID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_task_time_periods WHERE scheduled_task_id=?`, t.ID); err != nil {
		return err
	}
	if err := insertPeriods(ctx, tx, t.ID, t.TimePeriods); err != nil {
		return err
	}
	return tx.Commit()
}

func insertPeriods(ctx context.Context, tx *sql.Tx, taskID string, periods []domain.TimePeriod) error {
	for i, tp := range periods {
		id := tp.ID
		if id == "" {
			id = "tp_" + uuid.NewString()
		}
		created := tp.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO scheduled_task_time_periods (id,scheduled_task_id,position,date,week_day,hour,minute,created_at)
VALUES (?,?,?,?,?,?,?,?)`, id, taskID, i, store.NullInt(tp.Date), store.NullInt(tp.WeekDay),
			store.NullInt(tp.Hour), store.NullInt(tp.Minute), store.Millis(created))
		if err != nil {
			return err
		}
	}
	return nil
}

const updateState = `
UPDATE scheduled_tasks
SET status=?,pid=?,run_handle=?,next_start_time=?,last_start_time=?,last_end_time=?,timeout_time=?,updated_at=?
WHERE id=?`

func stateArgs(t domain.ScheduledTask) []any {
	return []any{string(t.Status), store.NullInt(t.PID), t.RunHandle, store.NullMillis(t.NextStartTime),
		store.NullMillis(t.LastStartTime), store.NullMillis(t.LastEndTime), store.NullMillis(t.TimeoutTime),
		store.Millis(t.UpdatedAt), t.ID}
}

func (r *sqliteRepo) UpdateState(ctx context.Context, t domain.ScheduledTask) error {
	res, err := r.db.ExecContext(ctx, updateState, stateArgs(t)...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("scheduled task", t.ID)
	}
	return nil
}

func (r *sqliteRepo) UpdateStateIf(ctx context.Context, t domain.ScheduledTask, expect Expect) (bool, error) {
	args := append(stateArgs(t), string(expect.Status), string(expect.Status), expect.RunHandle)
	res, err := r.db.ExecContext(ctx, updateState+` AND (?='' OR status=?) AND run_handle=?`, args...)
	return affectedOne(res, err)
}

func affectedOne(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *sqliteRepo) Get(ctx context.Context, id string) (domain.ScheduledTask, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduledTask{}, domain.NotFound("scheduled task", id)
	}
	if err != nil {
		return domain.ScheduledTask{}, err
	}
	if t.TimePeriods, err = r.periods(ctx, id); err != nil {
		return domain.ScheduledTask{}, err
	}
	return t, nil
}

func (r *sqliteRepo) List(ctx context.Context) ([]domain.ScheduledTask, error) {
	return r.query(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks ORDER BY created_at, id`)
}

func (r *sqliteRepo) ListDue(ctx context.Context, now time.Time) ([]domain.ScheduledTask, error) {
	return r.query(ctx, `
SELECT `+taskColumns+` FROM scheduled_tasks
WHERE next_start_time IS NOT NULL AND next_start_time <= ? AND status != 'RUNNING'
ORDER BY next_start_time, id`, store.Millis(now))
}

func (r *sqliteRepo) query(ctx context.Context, q string, args ...any) ([]domain.ScheduledTask, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var tasks []domain.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		tasks = append(tasks, t)
	}
	// release the single connection before loading periods
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].TimePeriods, err = r.periods(ctx, tasks[i].ID); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

func (r *sqliteRepo) periods(ctx context.Context, taskID string) ([]domain.TimePeriod, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,date,week_day,hour,minute,created_at FROM scheduled_task_time_periods
WHERE scheduled_task_id=? ORDER BY position`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TimePeriod
	for rows.Next() {
		var (
			tp                         domain.TimePeriod
			date, weekDay, hour, minut sql.NullInt64
			created                    int64
		)
		if err := rows.Scan(&tp.ID, &date, &weekDay, &hour, &minut, &created); err != nil {
			return nil, err
		}
		tp.Date = store.FromNullInt(date)
		tp.WeekDay = store.FromNullInt(weekDay)
		tp.Hour = store.FromNullInt(hour)
		tp.Minute = store.FromNullInt(minut)
		tp.CreatedAt = store.FromMillis(created)
		out = append(out, tp)
	}
	return out, rows.Err()
}

func (r *sqliteRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("scheduled task", id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_task_time_periods WHERE scheduled_task_id=?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *sqliteRepo) Claim(ctx context.Context, id string, from domain.ScheduledTaskStatus, now time.Time, pid int, handle string, timeoutTime time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE scheduled_tasks
SET status='RUNNING', pid=?, run_handle=?, last_start_time=?, timeout_time=?, updated_at=?
WHERE id=? AND status=? AND next_start_time IS NOT NULL AND next_start_time <= ?`,
		pid, handle, store.Millis(now), store.Millis(timeoutTime), store.Millis(now), id, string(from), store.Millis(now))
	return affectedOne(res, err)
}

func (r *sqliteRepo) ClaimKill(ctx context.Context, t domain.ScheduledTask, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE scheduled_tasks
SET next_start_time=NULL, updated_at=?
WHERE id=? AND status=? AND run_handle=? AND next_start_time IS NOT NULL AND next_start_time <= ?`,
		store.Millis(now), t.ID, string(t.Status), t.RunHandle, store.Millis(now))
	return affectedOne(res, err)
}

func (r *sqliteRepo) MarkKilling(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE scheduled_tasks SET status='KILLING', next_start_time=?, updated_at=? WHERE id=?`,
		store.Millis(now), store.Millis(now), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("scheduled task", id)
	}
	return nil
}

func (r *sqliteRepo) FlagTimedOut(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE scheduled_tasks
SET status='KILLING', next_start_time=?, updated_at=?
WHERE status='RUNNING' AND timeout_seconds > 0 AND timeout_time IS NOT NULL AND timeout_time <= ?`,
		store.Millis(now), store.Millis(now), store.Millis(now))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *sqliteRepo) AppendLog(ctx context.Context, l domain.ScheduledTaskLog) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO scheduled_task_logs (scheduled_task_id,start_time,end_time,status,output) VALUES (?,?,?,?,?)`,
		l.TaskID, store.NullMillis(l.StartTime), store.NullMillis(l.EndTime), string(l.Status), l.Output)
	return err
}

func (r *sqliteRepo) ListLogs(ctx context.Context, taskID string, limit int) ([]domain.ScheduledTaskLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id,scheduled_task_id,start_time,end_time,status,output FROM scheduled_task_logs
WHERE scheduled_task_id=? ORDER BY id DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []domain.ScheduledTaskLog
	for rows.Next() {
		var (
			l          domain.ScheduledTaskLog
			start, end sql.NullInt64
			status     string
		)
		if err := rows.Scan(&l.ID, &l.TaskID, &start, &end, &status, &l.Output); err != nil {
			return nil, err
		}
		l.StartTime = store.FromNullMillis(start)
		l.EndTime = store.FromNullMillis(end)
		l.Status = domain.ScheduledTaskStatus(status)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
