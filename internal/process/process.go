// Package process tracks which process or run handle owns a running scheduled
// task and kills it on request.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
)

// ErrNotOwned is returned by Kill for a handle issued by another controller
// instance. The owner is expected to notice the kill itself.
var ErrNotOwned = errors.New("run handle belongs to another instance")

// Handle identifies one run. PID is what gets recorded on the task; Token is
// unique across every controller sharing the database.
type Handle struct {
	PID   int
	Token string
}

// Controller is the process-control collaborator of the scheduled task
// processor.
type Controller interface {
	// Acquire returns the handle to record for a run, a context the run must
	// use, and a release func to call when the run ends.
	Acquire(ctx context.Context) (h Handle, runCtx context.Context, release func())
	// Kill stops the run behind h. Killing a run that is already gone is not
	// an error.
	Kill(h Handle) error
}

// OS records the real process id. It suits one-shot runner processes started
// by an external cron on one host.
type OS struct{}

func osPrefix() string {
	host, _ := os.Hostname()
	return "os:" + host + ":"
}

func (OS) Acquire(ctx context.Context) (Handle, context.Context, func()) {
	pid := os.Getpid()
	return Handle{PID: pid, Token: osPrefix() + strconv.Itoa(pid) + ":" + uuid.NewString()}, ctx, func() {}
}

// Kill signals h.PID with SIGTERM. Handles from another host are refused.
func (OS) Kill(h Handle) error {
	if h.Token != "" && !strings.HasPrefix(h.Token, osPrefix()) {
		return ErrNotOwned
	}
	if h.PID == os.Getpid() {
		return fmt.Errorf("refusing to kill own process %d", h.PID)
	}
	p, err := os.FindProcess(h.PID)
	if err != nil {
		return nil
	}
	if err := p.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill %d: %w", h.PID, err)
	}
	return nil
}

// Tracker runs tasks inside the current process and hands out synthetic pids.
// Kill cancels the run's context; tasks stop cooperatively. Only runs acquired
// from the same Tracker can be killed by it.
type Tracker struct {
	id string

	mu   sync.Mutex
	next int
	runs map[string]context.CancelFunc
}

func NewTracker() *Tracker {
	return &Tracker{id: uuid.NewString(), runs: map[string]context.CancelFunc{}}
}

func (t *Tracker) prefix() string { return "trk:" + t.id + ":" }

func (t *Tracker) Acquire(ctx context.Context) (Handle, context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.next++
	h := Handle{PID: t.next, Token: t.prefix() + strconv.Itoa(t.next)}
	t.runs[h.Token] = cancel
	t.mu.Unlock()
	return h, runCtx, func() {
		t.mu.Lock()
		delete(t.runs, h.Token)
		t.mu.Unlock()
		cancel()
	}
}

func (t *Tracker) Kill(h Handle) error {
	if !strings.HasPrefix(h.Token, t.prefix()) {
		return ErrNotOwned
	}
	t.mu.Lock()
	cancel, ok := t.runs[h.Token]
	delete(t.runs, h.Token)
	t.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// Running reports how many runs are in flight.
func (t *Tracker) Running() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.runs)
}
