package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"taskcore/internal/api"
	"taskcore/internal/config"
)

const usage = `usage: taskcore [-config file] [-db path] <command> [flags]

commands:
  serve              run the driver (scheduled passes, sweeps, queue workers) and the admin API
  scheduled          run one pass over due scheduled tasks
  queue -name NAME   process ready items of one queue until it is empty
  sweep              time out and expire long-running task records
  tasks              print the installed task identifiers
`

func main() {
	var (
		cfgPath = flag.String("config", "taskcore.yaml", "YAML config file")
		dbPath  = flag.String("db", "", "SQLite DB path (overrides db.path)")
	)
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.DB.Path = *dbPath
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Error().Err(err).Str("command", flag.Arg(0)).Msg("command failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, cmd string, args []string) error {
	a, err := newApp(ctx, cfg, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	switch cmd {
	case "serve":
		fs := flag.NewFlagSet("serve", flag.ExitOnError)
		addr := fs.String("addr", cfg.HTTP.Addr, "HTTP bind address (empty disables the API)")
		debug := fs.Bool("debug", false, "expose pprof handlers")
		_ = fs.Parse(args)
		return serve(ctx, a, *addr, *debug)
	case "scheduled":
		return a.driver().RunScheduled(ctx)
	case "queue":
		fs := flag.NewFlagSet("queue", flag.ExitOnError)
		name := fs.String("name", "", "queue name")
		_ = fs.Parse(args)
		if *name == "" {
			return fmt.Errorf("queue: -name is required")
		}
		n, err := a.driver().DrainQueue(ctx, *name)
		log.Info().Str("queue", *name).Int("processed", n).Msg("queue drained")
		return err
	case "sweep":
		return a.driver().Sweep(ctx)
	case "tasks":
		defs, err := a.queue.GetInstalledTaskClasses()
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(defs))
		for id := range defs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		enc := json.NewEncoder(os.Stdout)
		for _, id := range ids {
			_ = enc.Encode(map[string]string{"identifier": id, "implementation": defs[id]})
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func serve(ctx context.Context, a *app, addr string, debug bool) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.driver().Run(ctx) })

	if addr != "" {
		srv := &http.Server{Addr: addr, Handler: api.NewServerWithDebug(a.scheduled, a.queue, a.longRunning, debug)}
		g.Go(func() error {
			log.Info().Str("addr", addr).Msg("HTTP server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}
