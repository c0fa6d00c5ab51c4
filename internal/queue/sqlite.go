package queue

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

type sqliteProcessor struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteProcessor(db *sql.DB) Processor { return &sqliteProcessor{db: db, now: time.Now} }

const itemColumns = `queue_name,id,task_identifier,description,configuration,queued_time,start_time,status,dedup_key`

func scanItem(row interface{ Scan(...any) error }) (domain.QueueItem, error) {
	var (
		it     domain.QueueItem
		cfg    string
		queued int64
		start  sql.NullInt64
		status string
		dedup  sql.NullString
	)
	if err := row.Scan(&it.QueueName, &it.ID, &it.TaskIdentifier, &it.Description, &cfg, &queued, &start, &status, &dedup); err != nil {
		return domain.QueueItem{}, err
	}
	c, err := store.DecodeConfig(cfg)
	if err != nil {
		return domain.QueueItem{}, err
	}
	it.Configuration = c
	it.QueuedTime = store.FromMillis(queued)
	it.StartTime = store.FromNullMillis(start)
	it.Status = domain.QueuedTaskStatus(status)
	it.DedupKey = dedup.String
	return it, nil
}

func (p *sqliteProcessor) QueueTask(ctx context.Context, item NewItem) (string, error) {
	cfg, err := store.EncodeConfig(item.Configuration)
	if err != nil {
		return "", err
	}

	var dedup any
	if item.DedupKey != "" {
		dedup = item.DedupKey
	}
	id := "qit_" + uuid.NewString()
	res, err := p.db.ExecContext(ctx, `
INSERT INTO queued_tasks (queue_name,id,task_identifier,description,configuration,queued_time,start_time,status,dedup_key)
VALUES (?,?,?,?,?,?,?,'PENDING',?)
ON CONFLICT(queue_name, dedup_key) WHERE dedup_key IS NOT NULL DO NOTHING`,
		item.QueueName, id, item.TaskIdentifier, item.Description, cfg,
		store.Millis(p.now()), store.NullMillis(item.StartTime), dedup)
	if err != nil {
		return "", err
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", err
	} else if n == 1 {
		return id, nil
	}

	var existing string
	err = p.db.QueryRowContext(ctx, `SELECT id FROM queued_tasks WHERE queue_name=? AND dedup_key=?`,
		item.QueueName, item.DedupKey).Scan(&existing)
	if err != nil {
		return "", fmt.Errorf("look up queued task with dedup key %q: %w", item.DedupKey, err)
	}
	return existing, nil
}

func (p *sqliteProcessor) GetTask(ctx context.Context, queueName, id string) (domain.QueueItem, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM queued_tasks WHERE queue_name=? AND id=?`, queueName, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QueueItem{}, domain.NotFound("queued task", queueName+"/"+id)
	}
	return it, err
}

func (p *sqliteProcessor) DeQueueTask(ctx context.Context, queueName, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM queued_tasks WHERE queue_name=? AND id=? AND status != 'RUNNING'`, queueName, id)
	return err
}

func (p *sqliteProcessor) ListQueuedTasks(ctx context.Context, queueName string) ([]domain.QueueItem, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM queued_tasks WHERE queue_name=? ORDER BY seq`, queueName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.QueueItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (p *sqliteProcessor) RegisterTaskStatusChange(ctx context.Context, queueName, id string, status domain.QueuedTaskStatus) error {
	res, err := p.db.ExecContext(ctx, `UPDATE queued_tasks SET status=? WHERE queue_name=? AND id=?`, string(status), queueName, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("queued task", queueName+"/"+id)
	}
	return nil
}

func (p *sqliteProcessor) ClaimTask(ctx context.Context, queueName, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE queued_tasks SET status='RUNNING' WHERE queue_name=? AND id=? AND status='PENDING'`, queueName, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (p *sqliteProcessor) ListQueues(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT DISTINCT queue_name FROM queued_tasks ORDER BY queue_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
