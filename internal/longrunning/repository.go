package longrunning

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"taskcore/internal/domain"
	"taskcore/internal/store"
)

type Repository interface {
	Insert(ctx context.Context, r domain.LongRunningTask) error
	Update(ctx context.Context, r domain.LongRunningTask) error
	UpdateProgress(ctx context.Context, id string, progress any) error
	Get(ctx context.Context, id string) (domain.LongRunningTask, error)
	// GetByTaskKey returns the most recently started record with key.
	GetByTaskKey(ctx context.Context, key string) (domain.LongRunningTask, error)
	List(ctx context.Context, taskIdentifier string) ([]domain.LongRunningTask, error)
	// ListTimedOut returns RUNNING records whose timeout date has passed.
	ListTimedOut(ctx context.Context, now time.Time) ([]domain.LongRunningTask, error)
	// MarkTimedOut moves a record to TIMEOUT only while it is still RUNNING,
	// leaving its progress and result alone.
	MarkTimedOut(ctx context.Context, id string, now, expiry time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepository(db *sql.DB) Repository { return &sqliteRepo{db: db} }

const columns = `id,task_identifier,task_key,status,progress_data,result,started_date,finished_date,timeout_date,expiry_date,expiry_minutes,account_id,project_key`

func scan(row interface{ Scan(...any) error }) (domain.LongRunningTask, error) {
	var (
		r                domain.LongRunningTask
		key              sql.NullString
		status           string
		progress, result sql.NullString
		started, timeout int64
		finished, expiry sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.TaskIdentifier, &key, &status, &progress, &result, &started, &finished,
		&timeout, &expiry, &r.ExpiryMinutes, &r.AccountID, &r.ProjectKey); err != nil {
		return domain.LongRunningTask{}, err
	}
	var err error
	if r.ProgressData, err = store.DecodeJSON(progress); err != nil {
		return domain.LongRunningTask{}, err
	}
	if r.Result, err = store.DecodeJSON(result); err != nil {
		return domain.LongRunningTask{}, err
	}
	r.TaskKey = key.String
	r.Status = domain.LongRunningStatus(status)
	r.StartedDate = store.FromMillis(started)
	r.FinishedDate = store.FromNullMillis(finished)
	r.TimeoutDate = store.FromMillis(timeout)
	r.ExpiryDate = store.FromNullMillis(expiry)
	return r, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *sqliteRepo) Insert(ctx context.Context, r domain.LongRunningTask) error {
	progress, err := store.EncodeJSON(r.ProgressData)
	if err != nil {
		return err
	}
	result, err := store.EncodeJSON(r.Result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO long_running_tasks (`+columns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.TaskIdentifier, nullString(r.TaskKey), string(r.Status), progress, result,
		store.Millis(r.StartedDate), store.NullMillis(r.FinishedDate), store.Millis(r.TimeoutDate),
		store.NullMillis(r.ExpiryDate), r.ExpiryMinutes, r.AccountID, r.ProjectKey)
	return err
}

func (s *sqliteRepo) Update(ctx context.Context, r domain.LongRunningTask) error {
	progress, err := store.EncodeJSON(r.ProgressData)
	if err != nil {
		return err
	}
	result, err := store.EncodeJSON(r.Result)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE long_running_tasks
SET status=?,progress_data=?,result=?,finished_date=?,timeout_date=?,expiry_date=?,expiry_minutes=?
WHERE id=?`,
		string(r.Status), progress, result, store.NullMillis(r.FinishedDate), store.Millis(r.TimeoutDate),
		store.NullMillis(r.ExpiryDate), r.ExpiryMinutes, r.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("long running task", r.ID)
	}
	return nil
}

func (s *sqliteRepo) UpdateProgress(ctx context.Context, id string, progress any) error {
	data, err := store.EncodeJSON(progress)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE long_running_tasks SET progress_data=? WHERE id=?`, data, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("long running task", id)
	}
	return nil
}

func (s *sqliteRepo) Get(ctx context.Context, id string) (domain.LongRunningTask, error) {
	r, err := scan(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM long_running_tasks WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LongRunningTask{}, domain.NotFound("long running task", id)
	}
	return r, err
}

func (s *sqliteRepo) GetByTaskKey(ctx context.Context, key string) (domain.LongRunningTask, error) {
	r, err := scan(s.db.QueryRowContext(ctx, `
SELECT `+columns+` FROM long_running_tasks WHERE task_key=? ORDER BY started_date DESC, rowid DESC LIMIT 1`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LongRunningTask{}, domain.NotFound("long running task with key", key)
	}
	return r, err
}

func (s *sqliteRepo) List(ctx context.Context, taskIdentifier string) ([]domain.LongRunningTask, error) {
	if taskIdentifier == "" {
		return s.query(ctx, `SELECT `+columns+` FROM long_running_tasks ORDER BY started_date DESC`)
	}
	return s.query(ctx, `SELECT `+columns+` FROM long_running_tasks WHERE task_identifier=? ORDER BY started_date DESC`, taskIdentifier)
}

func (s *sqliteRepo) ListTimedOut(ctx context.Context, now time.Time) ([]domain.LongRunningTask, error) {
	return s.query(ctx, `
SELECT `+columns+` FROM long_running_tasks WHERE status='RUNNING' AND timeout_date <= ? ORDER BY timeout_date`, store.Millis(now))
}

func (s *sqliteRepo) MarkTimedOut(ctx context.Context, id string, now, expiry time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE long_running_tasks SET status='TIMEOUT', finished_date=?, expiry_date=?
WHERE id=? AND status='RUNNING'`, store.Millis(now), store.Millis(expiry), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteRepo) query(ctx context.Context, q string, args ...any) ([]domain.LongRunningTask, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.LongRunningTask
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM long_running_tasks WHERE expiry_date IS NOT NULL AND expiry_date <= ?`, store.Millis(now))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
