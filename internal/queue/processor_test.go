package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskcore/internal/domain"
	"taskcore/internal/store"
)

func newSQLite(t *testing.T) Processor {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "queue.db"), 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	p, err := Open("sqlite", db, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return p
}

func newRedis(t *testing.T) Processor {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	p, err := Open("redis", nil, client)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return p
}

var backends = []struct {
	name string
	open func(t *testing.T) Processor
}{
	{"sqlite", newSQLite},
	{"redis", newRedis},
}

func TestOpenUnknownBackend(t *testing.T) {
	t.Parallel()
	if _, err := Open("kafka", nil, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if _, err := Open("redis", nil, nil); err == nil {
		t.Fatal("expected error for redis without client")
	}
}

func TestProcessorContract(t *testing.T) {
	for _, b := range backends {
		b := b
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			p := b.open(t)
			start := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

			id, err := p.QueueTask(ctx, NewItem{
				QueueName:      "mail",
				TaskIdentifier: "send",
				Description:    "welcome mail",
				Configuration:  map[string]any{"to": "a@example.com"},
				StartTime:      &start,
			})
			if err != nil {
				t.Fatalf("QueueTask: %v", err)
			}
			it, err := p.GetTask(ctx, "mail", id)
			if err != nil {
				t.Fatalf("GetTask: %v", err)
			}
			if it.Status != domain.QueuedPending || it.TaskIdentifier != "send" || it.Description != "welcome mail" ||
				it.Configuration["to"] != "a@example.com" || it.StartTime == nil || !it.StartTime.Equal(start) {
				t.Fatalf("item = %+v", it)
			}
			if it.QueuedTime.IsZero() {
				t.Fatal("queued time not set")
			}

			if _, err := p.GetTask(ctx, "mail", "nope"); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("GetTask missing = %v, want ErrNotFound", err)
			}
			if _, err := p.GetTask(ctx, "other", id); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("GetTask other queue = %v, want ErrNotFound", err)
			}

			second, _ := p.QueueTask(ctx, NewItem{QueueName: "mail", TaskIdentifier: "send"})
			third, _ := p.QueueTask(ctx, NewItem{QueueName: "mail", TaskIdentifier: "send"})
			list, err := p.ListQueuedTasks(ctx, "mail")
			if err != nil {
				t.Fatalf("ListQueuedTasks: %v", err)
			}
			if len(list) != 3 || list[0].ID != id || list[1].ID != second || list[2].ID != third {
				t.Fatalf("list order = %+v", list)
			}

			if err := p.RegisterTaskStatusChange(ctx, "mail", "nope", domain.QueuedRunning); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("RegisterTaskStatusChange missing = %v, want ErrNotFound", err)
			}
			if err := p.RegisterTaskStatusChange(ctx, "mail", second, domain.QueuedRunning); err != nil {
				t.Fatalf("RegisterTaskStatusChange: %v", err)
			}
			if err := p.DeQueueTask(ctx, "mail", second); err != nil {
				t.Fatalf("DeQueueTask running: %v", err)
			}
			if got, err := p.GetTask(ctx, "mail", second); err != nil || got.Status != domain.QueuedRunning {
				t.Fatalf("running item after dequeue = %+v, %v", got, err)
			}
			if err := p.DeQueueTask(ctx, "mail", "nope"); err != nil {
				t.Fatalf("DeQueueTask missing: %v", err)
			}
			if err := p.DeQueueTask(ctx, "mail", third); err != nil {
				t.Fatalf("DeQueueTask: %v", err)
			}
			if _, err := p.GetTask(ctx, "mail", third); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("GetTask after dequeue = %v, want ErrNotFound", err)
			}

			if ok, err := p.ClaimTask(ctx, "mail", id); err != nil || !ok {
				t.Fatalf("first claim = %v, %v", ok, err)
			}
			if ok, err := p.ClaimTask(ctx, "mail", id); err != nil || ok {
				t.Fatalf("second claim = %v, %v", ok, err)
			}
			if ok, err := p.ClaimTask(ctx, "mail", "nope"); err != nil || ok {
				t.Fatalf("claim missing = %v, %v", ok, err)
			}

			queues, err := p.ListQueues(ctx)
			if err != nil || len(queues) != 1 || queues[0] != "mail" {
				t.Fatalf("ListQueues = %v, %v", queues, err)
			}
		})
	}
}

func TestProcessorDedup(t *testing.T) {
	for _, b := range backends {
		b := b
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			p := b.open(t)
			item := NewItem{QueueName: "reports", TaskIdentifier: "build", DedupKey: "daily-2024-05-15"}
			first, err := p.QueueTask(ctx, item)
			if err != nil {
				t.Fatalf("QueueTask: %v", err)
			}
			again, err := p.QueueTask(ctx, item)
			if err != nil || again != first {
				t.Fatalf("dedup QueueTask = %q, %v; want %q", again, err, first)
			}
			other, _ := p.QueueTask(ctx, NewItem{QueueName: "other", TaskIdentifier: "build", DedupKey: "daily-2024-05-15"})
			if other == first {
				t.Fatal("dedup key leaked across queues")
			}
			if err := p.DeQueueTask(ctx, "reports", first); err != nil {
				t.Fatalf("DeQueueTask: %v", err)
			}
			fresh, err := p.QueueTask(ctx, item)
			if err != nil || fresh == first {
				t.Fatalf("QueueTask after dequeue = %q, %v; want new id", fresh, err)
			}
		})
	}
}

func TestProcessorConcurrentDedup(t *testing.T) {
	for _, b := range backends {
		b := b
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			p := b.open(t)
			item := NewItem{QueueName: "reports", TaskIdentifier: "build", DedupKey: "nightly"}

			const workers = 8
			ids := make([]string, workers)
			errs := make([]error, workers)
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					ids[i], errs[i] = p.QueueTask(ctx, item)
				}(i)
			}
			wg.Wait()

			for i := range ids {
				if errs[i] != nil {
					t.Fatalf("QueueTask %d: %v", i, errs[i])
				}
				if ids[i] != ids[0] {
					t.Fatalf("ids = %v, want one id", ids)
				}
			}
			items, err := p.ListQueuedTasks(ctx, "reports")
			if err != nil || len(items) != 1 || items[0].ID != ids[0] {
				t.Fatalf("ListQueuedTasks = %+v, %v; want one item", items, err)
			}
		})
	}
}
