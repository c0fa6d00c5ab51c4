package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"taskcore/internal/config"
	"taskcore/internal/driver"
	httptask "taskcore/internal/handlers/http"
	"taskcore/internal/handlers/shell"
	"taskcore/internal/lock"
	"taskcore/internal/longrunning"
	"taskcore/internal/process"
	"taskcore/internal/queue"
	"taskcore/internal/scheduled"
	"taskcore/internal/store"
	"taskcore/internal/task"
)

// app holds the wired services for one invocation.
type app struct {
	cfg         config.Config
	db          *sql.DB
	redis       *redis.Client
	registry    *task.Registry
	scheduled   *scheduled.Service
	queue       *queue.Service
	longRunning *longrunning.Service
}

func setupLogging(cfg config.Log) {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.ConsoleOutput() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func newCatalog() *task.Catalog {
	c := task.NewCatalog()
	c.Register(shell.Ref, shell.New)
	c.Register(httptask.Ref, httptask.New)
	return c
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// processController picks how scheduled runs are tracked and killed. A long
// lived serve process tracks its runs in memory; one-shot commands record
// their own pid so another invocation can signal them.
func processController(mode, cmd string) process.Controller {
	switch {
	case mode == "os", mode == "auto" && cmd != "serve":
		return process.OS{}
	default:
		return process.NewTracker()
	}
}

func newApp(ctx context.Context, cfg config.Config, cmd string) (*app, error) {
	db, err := store.Open(ctx, cfg.DB.Path, cfg.DB.BusyTimeoutDur)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a := &app{cfg: cfg, db: db}

	if cfg.Redis.URL != "" {
		if a.redis, err = openRedis(ctx, cfg.Redis.URL); err != nil {
			a.Close()
			return nil, fmt.Errorf("open redis: %w", err)
		}
	}

	a.registry = task.NewRegistry(newCatalog(), cfg.Tasks.Sources...)

	pc := processController(cfg.Scheduled.ProcessControl, cmd)
	var locker lock.Locker = lock.NewLocal()
	if cfg.Lock.Driver == "redis" {
		locker = lock.NewRedis(a.redis, cfg.Lock.TTLDur)
	}
	schedRepo := scheduled.NewSQLiteRepository(db)
	sp := scheduled.NewProcessor(schedRepo, a.registry, pc, locker)
	sp.WatchInterval = cfg.Scheduled.WatchDur
	a.scheduled = scheduled.NewService(schedRepo, sp)

	qp, err := queue.Open(cfg.Queue.Processor, db, a.redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.queue = queue.NewService(qp, a.registry)

	a.longRunning = longrunning.NewService(longrunning.NewSQLiteRepository(db))
	a.longRunning.DefaultExpiryMinutes = cfg.LongRunning.DefaultExpiryMinutes
	a.longRunning.DefaultTimeoutSeconds = cfg.LongRunning.DefaultTimeoutSeconds
	return a, nil
}

func (a *app) driver() *driver.Driver {
	return driver.New(a.scheduled, a.queue, a.longRunning, driver.Options{
		ScheduledSpec: a.cfg.Scheduled.Spec,
		SweepSpec:     a.cfg.LongRunning.Sweep,
		Queues:        a.cfg.Queue.Queues,
		Workers:       a.cfg.Queue.Workers,
		Poll:          a.cfg.Queue.PollDur,
	})
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
