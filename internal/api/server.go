// Package api exposes the task services over a small JSON admin API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"taskcore/internal/domain"
	"taskcore/internal/queue"
)

type ScheduledService interface {
	SaveScheduledTask(ctx context.Context, def domain.ScheduledTask) (string, error)
	GetScheduledTask(ctx context.Context, id string) (domain.ScheduledTask, error)
	ListScheduledTasks(ctx context.Context) ([]domain.ScheduledTask, error)
	DeleteScheduledTask(ctx context.Context, id string) error
	ListScheduledTaskLogs(ctx context.Context, id string, limit int) ([]domain.ScheduledTaskLog, error)
	RequestKill(ctx context.Context, id string) error
}

type QueueService interface {
	QueueTask(ctx context.Context, req queue.Request) (string, error)
	GetQueuedTask(ctx context.Context, queueName, id string) (domain.QueueItem, error)
	ListQueuedTasks(ctx context.Context, queueName string) ([]domain.QueueItem, error)
	ListQueues(ctx context.Context) ([]string, error)
	DeQueueTask(ctx context.Context, queueName, id string) error
	GetInstalledTaskClasses() (map[string]string, error)
}

type LongRunningService interface {
	GetStoredTaskByTaskKey(ctx context.Context, key string) (domain.LongRunningTask, error)
	ListTasks(ctx context.Context, taskIdentifier string) ([]domain.LongRunningTask, error)
}

type Server struct {
	scheduled   ScheduledService
	queue       QueueService
	longRunning LongRunningService
}

func NewServer(s ScheduledService, q QueueService, lr LongRunningService) http.Handler {
	return NewServerWithDebug(s, q, lr, false)
}

func NewServerWithDebug(s ScheduledService, q QueueService, lr LongRunningService, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger, middleware.Recoverer)

	srv := &Server{scheduled: s, queue: q, longRunning: lr}

	r.Get("/health", srv.health)
	r.Get("/metrics", srv.metrics)
	r.Route("/api", func(r chi.Router) {
		r.Get("/tasks", srv.listTaskClasses)

		r.Get("/scheduled", srv.listScheduled)
		r.Post("/scheduled", srv.saveScheduled)
		r.Get("/scheduled/{id}", srv.getScheduled)
		r.Delete("/scheduled/{id}", srv.deleteScheduled)
		r.Get("/scheduled/{id}/logs", srv.listScheduledLogs)
		r.Post("/scheduled/{id}/kill", srv.killScheduled)

		r.Get("/queues", srv.listQueues)
		r.Get("/queues/{queue}", srv.listQueued)
		r.Post("/queues/{queue}", srv.enqueue)
		r.Get("/queues/{queue}/{id}", srv.getQueued)
		r.Delete("/queues/{queue}/{id}", srv.dequeue)

		r.Get("/longrunning", srv.listLongRunning)
		r.Get("/longrunning/{key}", srv.getLongRunning)
	})

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// metrics reports queue depth per queue in the text exposition format.
func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	names, err := s.queue.ListQueues(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	sort.Strings(names)
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "taskcore_up 1")
	for _, name := range names {
		items, err := s.queue.ListQueuedTasks(r.Context(), name)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "taskcore_queue_items{queue=%q} %d\n", name, len(items))
	}
}

func (s *Server) listTaskClasses(w http.ResponseWriter, r *http.Request) {
	defs, err := s.queue.GetInstalledTaskClasses()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

func (s *Server) listScheduled(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.scheduled.ListScheduledTasks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

type saveResp struct {
	ID string `json:"id"`
}

// saveScheduled creates a task, or updates it when the body carries an id.
func (s *Server) saveScheduled(w http.ResponseWriter, r *http.Request) {
	var def domain.ScheduledTask
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := s.scheduled.SaveScheduledTask(r.Context(), def)
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusCreated
	if def.ID != "" {
		code = http.StatusOK
	}
	writeJSON(w, code, saveResp{ID: id})
}

func (s *Server) getScheduled(w http.ResponseWriter, r *http.Request) {
	t, err := s.scheduled.GetScheduledTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) deleteScheduled(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduled.DeleteScheduledTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listScheduledLogs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	logs, err := s.scheduled.ListScheduledTaskLogs(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) killScheduled(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduled.RequestKill(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) listQueues(w http.ResponseWriter, r *http.Request) {
	names, err := s.queue.ListQueues(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) listQueued(w http.ResponseWriter, r *http.Request) {
	items, err := s.queue.ListQueuedTasks(r.Context(), chi.URLParam(r, "queue"))
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []domain.QueueItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

type enqueueReq struct {
	TaskIdentifier   string         `json:"taskIdentifier"`
	Description      string         `json:"description"`
	Configuration    map[string]any `json:"configuration"`
	RunAt            *time.Time     `json:"runAt"`
	RunOffsetSeconds *int           `json:"runOffsetSeconds"`
	DedupKey         string         `json:"dedupKey"`
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := s.queue.QueueTask(r.Context(), queue.Request{
		QueueName:        chi.URLParam(r, "queue"),
		TaskIdentifier:   req.TaskIdentifier,
		Description:      req.Description,
		Configuration:    req.Configuration,
		RunAt:            req.RunAt,
		RunOffsetSeconds: req.RunOffsetSeconds,
		DedupKey:         req.DedupKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, saveResp{ID: id})
}

func (s *Server) getQueued(w http.ResponseWriter, r *http.Request) {
	item, err := s.queue.GetQueuedTask(r.Context(), chi.URLParam(r, "queue"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) dequeue(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.DeQueueTask(r.Context(), chi.URLParam(r, "queue"), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listLongRunning(w http.ResponseWriter, r *http.Request) {
	recs, err := s.longRunning.ListTasks(r.Context(), r.URL.Query().Get("identifier"))
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []domain.LongRunningTask{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) getLongRunning(w http.ResponseWriter, r *http.Request) {
	rec, err := s.longRunning.GetStoredTaskByTaskKey(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type errorResp struct {
	Error  string                   `json:"error"`
	Fields []domain.ValidationError `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	var verrs domain.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error(), Fields: verrs})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResp{Error: err.Error()})
	case errors.Is(err, domain.ErrNoTaskImplementation):
		writeJSON(w, http.StatusUnprocessableEntity, errorResp{Error: err.Error()})
	default:
		log.Error().Err(err).Msg("api request failed")
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
