package scheduled

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"taskcore/internal/domain"
	"taskcore/internal/lock"
	"taskcore/internal/process"
	"taskcore/internal/store"
	"taskcore/internal/task"
)

var base = time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)

func ip(v int) *int { return &v }

type resolver map[string]task.Task

func (r resolver) Resolve(id string) (task.Task, error) {
	t, ok := r[id]
	if !ok {
		return nil, &domain.NoTaskImplementationError{TaskIdentifier: id}
	}
	return t, nil
}

type fakeProc struct {
	mu     sync.Mutex
	runs   int
	killed []process.Handle
	err    error
	// entered and unblock, when set, hold Kill until unblock is closed.
	entered chan struct{}
	unblock chan struct{}
}

func (f *fakeProc) Acquire(ctx context.Context) (process.Handle, context.Context, func()) {
	f.mu.Lock()
	f.runs++
	h := process.Handle{PID: 4242, Token: fmt.Sprintf("fake:%d", f.runs)}
	f.mu.Unlock()
	return h, ctx, func() {}
}

func (f *fakeProc) Kill(h process.Handle) error {
	f.mu.Lock()
	f.killed = append(f.killed, h)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.unblock
	}
	return f.err
}

func (f *fakeProc) kills() []process.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]process.Handle(nil), f.killed...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fixture struct {
	repo  Repository
	proc  *DefaultProcessor
	svc   *Service
	clock *clock
}

func newFixture(t *testing.T, tasks resolver, pc process.Controller) *fixture {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "scheduled.db"), 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	repo := NewSQLiteRepository(db)
	c := &clock{now: base}
	p := NewProcessor(repo, tasks, pc, nil)
	p.Now = c.Now
	p.WatchInterval = 0
	s := NewService(repo, p)
	s.Now = c.Now
	return &fixture{repo: repo, proc: p, svc: s, clock: c}
}

func (f *fixture) create(t *testing.T, identifier string) string {
	t.Helper()
	id, err := f.svc.SaveScheduledTask(context.Background(), domain.ScheduledTask{
		TaskIdentifier: identifier,
		Description:    "test task",
		Configuration:  map[string]any{"name": "x"},
		TimePeriods:    []domain.TimePeriod{{Minute: ip(30)}},
		TimeoutSeconds: 60,
	})
	if err != nil {
		t.Fatalf("SaveScheduledTask: %v", err)
	}
	return id
}

func (f *fixture) get(t *testing.T, id string) domain.ScheduledTask {
	t.Helper()
	got, err := f.svc.GetScheduledTask(context.Background(), id)
	if err != nil {
		t.Fatalf("GetScheduledTask(%s): %v", id, err)
	}
	return got
}

func echoTask() task.Task {
	return task.Func(func(ctx context.Context, config map[string]any) (any, error) {
		return "hello " + config["name"].(string), nil
	})
}

func TestSaveRejectsInvalidPeriods(t *testing.T) {
	t.Parallel()
	f := newFixture(t, resolver{}, &fakeProc{})
	_, err := f.svc.SaveScheduledTask(context.Background(), domain.ScheduledTask{
		TaskIdentifier: "echo",
		TimePeriods:    []domain.TimePeriod{{Date: ip(12), WeekDay: ip(3)}},
	})
	var verrs domain.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) != 3 {
		t.Fatalf("err = %v, want 3 validation errors", err)
	}
	list, err := f.svc.ListScheduledTasks(context.Background())
	if err != nil || len(list) != 0 {
		t.Fatalf("list = %v, %v; want nothing persisted", list, err)
	}
}

func TestSaveComputesNextStartAndDelete(t *testing.T) {
	t.Parallel()
	f := newFixture(t, resolver{}, &fakeProc{})
	id := f.create(t, "echo")
	got := f.get(t, id)
	if got.Status != domain.ScheduledPending {
		t.Fatalf("status = %s, want PENDING", got.Status)
	}
	if want := base.Add(30 * time.Minute); got.NextStartTime == nil || !got.NextStartTime.Equal(want) {
		t.Fatalf("next start = %v, want %v", got.NextStartTime, want)
	}
	if len(got.TimePeriods) != 1 || got.TimePeriods[0].ID == "" || *got.TimePeriods[0].Minute != 30 {
		t.Fatalf("time periods = %+v", got.TimePeriods)
	}

	got.TimePeriods = []domain.TimePeriod{{Hour: ip(12), Minute: ip(0)}}
	got.Description = "updated"
	if _, err := f.svc.SaveScheduledTask(context.Background(), got); err != nil {
		t.Fatalf("update: %v", err)
	}
	upd := f.get(t, id)
	if upd.Description != "updated" || !upd.NextStartTime.Equal(time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("updated task = %+v", upd)
	}

	if err := f.svc.DeleteScheduledTask(context.Background(), id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.GetScheduledTask(context.Background(), id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("get after delete = %v, want ErrNotFound", err)
	}
	if err := f.svc.DeleteScheduledTask(context.Background(), id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}
}

func TestProcessDueTasksRunsOnlyDue(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	counting := task.Func(func(ctx context.Context, config map[string]any) (any, error) {
		runs.Add(1)
		return nil, nil
	})
	f := newFixture(t, resolver{"count": counting}, &fakeProc{})
	ctx := context.Background()

	due := f.create(t, "count")
	future := f.create(t, "count")
	running := f.create(t, "count")

	at := base.Add(30 * time.Minute)
	ft := f.get(t, future)
	later := at.Add(time.Hour)
	ft.NextStartTime = &later
	if err := f.repo.UpdateState(ctx, ft); err != nil {
		t.Fatal(err)
	}
	rt := f.get(t, running)
	rt.Status = domain.ScheduledRunning
	if err := f.repo.UpdateState(ctx, rt); err != nil {
		t.Fatal(err)
	}

	f.clock.Set(at)
	results, err := f.svc.ProcessDueTasks(ctx)
	if err != nil {
		t.Fatalf("ProcessDueTasks: %v", err)
	}
	if len(results) != 1 || results[0].TaskID != due {
		t.Fatalf("results = %+v, want only %s", results, due)
	}
	if runs.Load() != 1 {
		t.Fatalf("runs = %d, want 1", runs.Load())
	}
	if got := f.get(t, running); got.Status != domain.ScheduledRunning {
		t.Fatalf("running task status = %s", got.Status)
	}
}

func TestRunPathCompletes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, resolver{"echo": echoTask()}, &fakeProc{})
	id := f.create(t, "echo")
	at := base.Add(30 * time.Minute)
	f.clock.Set(at)

	res, err := f.proc.ProcessScheduledTask(context.Background(), id)
	if err != nil {
		t.Fatalf("ProcessScheduledTask: %v", err)
	}
	if res.Status != domain.ScheduledCompleted || res.Output != "hello x" {
		t.Fatalf("result = %+v", res)
	}
	got := f.get(t, id)
	if got.Status != domain.ScheduledCompleted || got.PID != nil {
		t.Fatalf("task = %+v", got)
	}
	if !got.LastStartTime.Equal(at) || !got.LastEndTime.Equal(at) {
		t.Fatalf("start/end = %v/%v", got.LastStartTime, got.LastEndTime)
	}
	if !got.TimeoutTime.Equal(at.Add(time.Minute)) {
		t.Fatalf("timeout time = %v", got.TimeoutTime)
	}
	if want := at.Add(time.Hour); !got.NextStartTime.Equal(want) {
		t.Fatalf("next start = %v, want %v", got.NextStartTime, want)
	}
	logs, err := f.svc.ListScheduledTaskLogs(context.Background(), id, 10)
	if err != nil || len(logs) != 1 {
		t.Fatalf("logs = %v, %v", logs, err)
	}
	if logs[0].Status != domain.ScheduledCompleted || logs[0].Output != "hello x" {
		t.Fatalf("log = %+v", logs[0])
	}
}

func TestRunPathRecordsFailure(t *testing.T) {
	t.Parallel()
	failing := task.Func(func(ctx context.Context, config map[string]any) (any, error) {
		return nil, errors.New("disk full")
	})
	f := newFixture(t, resolver{"fail": failing}, &fakeProc{})
	id := f.create(t, "fail")
	missing := f.create(t, "missing")
	f.clock.Set(base.Add(30 * time.Minute))

	results, err := f.svc.ProcessDueTasks(context.Background())
	if err != nil {
		t.Fatalf("ProcessDueTasks: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	got := f.get(t, id)
	if got.Status != domain.ScheduledFailed || got.PID != nil {
		t.Fatalf("task = %+v", got)
	}
	logs, _ := f.repo.ListLogs(context.Background(), id, 1)
	if len(logs) != 1 || logs[0].Output != "disk full" {
		t.Fatalf("logs = %+v", logs)
	}
	if m := f.get(t, missing); m.Status != domain.ScheduledFailed {
		t.Fatalf("missing implementation status = %s", m.Status)
	}
	mlogs, _ := f.repo.ListLogs(context.Background(), missing, 1)
	if len(mlogs) != 1 || !strings.Contains(mlogs[0].Output, "no task implementation") {
		t.Fatalf("missing logs = %+v", mlogs)
	}
}

func TestKillPath(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	pc := &fakeProc{}
	f := newFixture(t, resolver{"echo": task.Func(func(ctx context.Context, config map[string]any) (any, error) {
		runs.Add(1)
		return nil, nil
	})}, pc)
	ctx := context.Background()
	id := f.create(t, "echo")
	st := f.get(t, id)
	st.Status = domain.ScheduledKilling
	st.PID = ip(42)
	if err := f.repo.UpdateState(ctx, st); err != nil {
		t.Fatal(err)
	}
	f.clock.Set(base.Add(30 * time.Minute))

	res, err := f.proc.ProcessScheduledTask(ctx, id)
	if err != nil {
		t.Fatalf("ProcessScheduledTask: %v", err)
	}
	if res.Output != "Task Killed." || res.Status != domain.ScheduledKilled {
		t.Fatalf("result = %+v", res)
	}
	if k := pc.kills(); len(k) != 1 || k[0].PID != 42 {
		t.Fatalf("killed = %v, want pid 42", k)
	}
	if runs.Load() != 0 {
		t.Fatal("task ran on kill path")
	}
	got := f.get(t, id)
	if got.Status != domain.ScheduledKilled || got.PID != nil {
		t.Fatalf("task = %+v", got)
	}
}

func TestKillFailureDoesNotAbortBatch(t *testing.T) {
	t.Parallel()
	pc := &fakeProc{err: errors.New("permission denied")}
	f := newFixture(t, resolver{"echo": echoTask()}, pc)
	ctx := context.Background()
	victim := f.create(t, "echo")
	other := f.create(t, "echo")
	st := f.get(t, victim)
	st.PID = ip(7)
	if err := f.repo.UpdateState(ctx, st); err != nil {
		t.Fatal(err)
	}
	f.clock.Set(base.Add(30 * time.Minute))

	results, err := f.svc.ProcessDueTasks(ctx)
	if err != nil {
		t.Fatalf("ProcessDueTasks: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if f.get(t, other).Status != domain.ScheduledCompleted {
		t.Fatal("second task was not processed")
	}
	for _, r := range results {
		if r.TaskID == victim && r.Err == nil {
			t.Fatal("expected kill error on victim result")
		}
	}
	if got := f.get(t, victim); !got.Due(f.clock.Now()) || got.PID == nil {
		t.Fatalf("victim not handed back for a retry: %+v", got)
	}
}

func TestRefetchGuardPreventsDoubleRun(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	blocking := task.Func(func(ctx context.Context, config map[string]any) (any, error) {
		runs.Add(1)
		close(started)
		<-release
		return "ok", nil
	})
	f := newFixture(t, resolver{"block": blocking}, &fakeProc{})
	id := f.create(t, "block")
	f.clock.Set(base.Add(30 * time.Minute))
	stale, _ := f.repo.ListDue(context.Background(), f.clock.Now())

	done := make(chan Result)
	go func() {
		res, _ := f.proc.ProcessScheduledTask(context.Background(), id)
		done <- res
	}()
	<-started

	second := f.proc.ProcessScheduledTasks(context.Background(), stale)
	if len(second) != 1 || !second[0].Skipped {
		t.Fatalf("second attempt = %+v, want skipped", second)
	}
	close(release)
	if res := <-done; res.Status != domain.ScheduledCompleted {
		t.Fatalf("first attempt = %+v", res)
	}
	if runs.Load() != 1 {
		t.Fatalf("runs = %d, want 1", runs.Load())
	}
}

func TestClaimIsConditional(t *testing.T) {
	t.Parallel()
	f := newFixture(t, resolver{}, &fakeProc{})
	ctx := context.Background()
	id := f.create(t, "echo")
	at := base.Add(30 * time.Minute)

	if ok, err := f.repo.Claim(ctx, id, domain.ScheduledPending, base, 1, "h1", at); err != nil || ok {
		t.Fatalf("claim before due = %v, %v; want false", ok, err)
	}
	if ok, err := f.repo.Claim(ctx, id, domain.ScheduledPending, at, 1, "h1", at); err != nil || !ok {
		t.Fatalf("first claim = %v, %v; want true", ok, err)
	}
	if ok, err := f.repo.Claim(ctx, id, domain.ScheduledPending, at, 2, "h2", at); err != nil || ok {
		t.Fatalf("second claim = %v, %v; want false", ok, err)
	}
	if got := f.get(t, id); got.RunHandle != "h1" {
		t.Fatalf("run handle = %q, want h1", got.RunHandle)
	}

	running := f.get(t, id)
	running.Status = domain.ScheduledCompleted
	if ok, err := f.repo.UpdateStateIf(ctx, running, Expect{RunHandle: "h2"}); err != nil || ok {
		t.Fatalf("write with foreign handle = %v, %v; want false", ok, err)
	}
	if ok, err := f.repo.UpdateStateIf(ctx, running, Expect{Status: domain.ScheduledKilling, RunHandle: "h1"}); err != nil || ok {
		t.Fatalf("write with wrong status = %v, %v; want false", ok, err)
	}
	if ok, err := f.repo.UpdateStateIf(ctx, running, Expect{RunHandle: "h1"}); err != nil || !ok {
		t.Fatalf("write with own handle = %v, %v; want true", ok, err)
	}
}

func TestKillWhileRunningWithTracker(t *testing.T) {
	t.Parallel()
	for _, tt := range []struct {
		name   string
		locker lock.Locker
	}{
		{"no lock", nil},
		{"local lock", lock.NewLocal()},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			started := make(chan struct{})
			waiting := task.Func(func(ctx context.Context, config map[string]any) (any, error) {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			})
			tracker := process.NewTracker()
			f := newFixture(t, resolver{"wait": waiting}, tracker)
			f.proc.locker = tt.locker
			ctx := context.Background()
			id := f.create(t, "wait")
			f.clock.Set(base.Add(30 * time.Minute))

			done := make(chan struct{})
			go func() {
				defer close(done)
				_, _ = f.proc.ProcessScheduledTask(ctx, id)
			}()
			<-started

			if err := f.svc.RequestKill(ctx, id); err != nil {
				t.Fatalf("RequestKill: %v", err)
			}
			results, err := f.svc.ProcessDueTasks(ctx)
			if err != nil || len(results) != 1 || results[0].Status != domain.ScheduledKilled {
				t.Fatalf("kill pass = %+v, %v", results, err)
			}
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("running task was not cancelled")
			}
			got := f.get(t, id)
			if got.Status != domain.ScheduledKilled || got.PID != nil {
				t.Fatalf("task = %+v", got)
			}
			if tracker.Running() != 0 {
				t.Fatalf("tracker still has %d runs", tracker.Running())
			}
		})
	}
}

func TestFlagTimedOut(t *testing.T) {
	t.Parallel()
	f := newFixture(t, resolver{}, &fakeProc{})
	ctx := context.Background()
	id := f.create(t, "echo")
	st := f.get(t, id)
	st.Status = domain.ScheduledRunning
	st.PID = ip(9)
	tout := base.Add(time.Minute)
	st.TimeoutTime = &tout
	if err := f.repo.UpdateState(ctx, st); err != nil {
		t.Fatal(err)
	}
	if n, err := f.repo.FlagTimedOut(ctx, base); err != nil || n != 0 {
		t.Fatalf("FlagTimedOut before timeout = %d, %v", n, err)
	}
	if n, err := f.repo.FlagTimedOut(ctx, tout); err != nil || n != 1 {
		t.Fatalf("FlagTimedOut at timeout = %d, %v", n, err)
	}
	got := f.get(t, id)
	if got.Status != domain.ScheduledKilling || !got.Due(tout) {
		t.Fatalf("task = %+v", got)
	}
}

func TestKillHandledByOtherDriver(t *testing.T) {
	t.Parallel()
	type gate struct {
		started   chan struct{}
		release   chan struct{}
		cancelled atomic.Bool
	}
	newGate := func() *gate { return &gate{started: make(chan struct{}), release: make(chan struct{})} }
	gated := func(g *gate) task.Task {
		return task.Func(func(ctx context.Context, config map[string]any) (any, error) {
			close(g.started)
			select {
			case <-ctx.Done():
				g.cancelled.Store(true)
				return nil, ctx.Err()
			case <-g.release:
				return "done", nil
			}
		})
	}
	gx, gy := newGate(), newGate()
	tasks := resolver{"x": gated(gx), "y": gated(gy)}

	trackerA, trackerB := process.NewTracker(), process.NewTracker()
	f := newFixture(t, tasks, trackerA)
	f.proc.WatchInterval = 5 * time.Millisecond
	procB := NewProcessor(f.repo, tasks, trackerB, nil)
	procB.Now = f.clock.Now
	procB.WatchInterval = 5 * time.Millisecond
	svcB := NewService(f.repo, procB)
	svcB.Now = f.clock.Now

	ctx := context.Background()
	x := f.create(t, "x")
	y := f.create(t, "y")
	f.clock.Set(base.Add(30 * time.Minute))

	doneX, doneY := make(chan struct{}), make(chan struct{})
	go func() {
		defer close(doneX)
		_, _ = f.proc.ProcessScheduledTask(ctx, x)
	}()
	go func() {
		defer close(doneY)
		_, _ = procB.ProcessScheduledTask(ctx, y)
	}()
	<-gx.started
	<-gy.started
	if px, py := f.get(t, x), f.get(t, y); *px.PID != *py.PID || px.RunHandle == py.RunHandle {
		t.Fatalf("want equal pids and distinct handles, got %+v and %+v", px, py)
	}

	if err := svcB.RequestKill(ctx, x); err != nil {
		t.Fatalf("RequestKill: %v", err)
	}
	results, err := svcB.ProcessDueTasks(ctx)
	if err != nil || len(results) != 1 || results[0].TaskID != x || results[0].Status != domain.ScheduledKilled {
		t.Fatalf("kill pass = %+v, %v", results, err)
	}
	select {
	case <-doneX:
	case <-time.After(5 * time.Second):
		t.Fatal("owner did not stop the killed run")
	}
	if !gx.cancelled.Load() {
		t.Fatal("killed run finished without being cancelled")
	}
	if gy.cancelled.Load() || trackerB.Running() != 1 {
		t.Fatalf("unrelated run disturbed: cancelled=%v running=%d", gy.cancelled.Load(), trackerB.Running())
	}
	if got := f.get(t, y); got.Status != domain.ScheduledRunning {
		t.Fatalf("unrelated task = %+v", got)
	}

	logs, err := f.repo.ListLogs(ctx, x, 10)
	if err != nil || len(logs) != 1 || logs[0].Output != "Task Killed." {
		t.Fatalf("killed task logs = %+v, %v", logs, err)
	}
	if got := f.get(t, x); got.Status != domain.ScheduledKilled || got.PID != nil || got.RunHandle != "" {
		t.Fatalf("killed task = %+v", got)
	}

	close(gy.release)
	<-doneY
	if got := f.get(t, y); got.Status != domain.ScheduledCompleted {
		t.Fatalf("unrelated task after release = %+v", got)
	}
}

func TestOverlappingKillPassesSignalOnce(t *testing.T) {
	t.Parallel()
	pc := &fakeProc{entered: make(chan struct{}), unblock: make(chan struct{})}
	f := newFixture(t, resolver{}, pc)
	ctx := context.Background()
	id := f.create(t, "echo")
	st := f.get(t, id)
	st.Status = domain.ScheduledKilling
	st.PID = ip(42)
	if err := f.repo.UpdateState(ctx, st); err != nil {
		t.Fatal(err)
	}
	f.clock.Set(base.Add(30 * time.Minute))

	first := make(chan Result)
	go func() {
		res, _ := f.proc.ProcessScheduledTask(ctx, id)
		first <- res
	}()
	<-pc.entered

	second, err := f.proc.ProcessScheduledTask(ctx, id)
	if err != nil || !second.Skipped {
		t.Fatalf("overlapping pass = %+v, %v; want skipped", second, err)
	}
	close(pc.unblock)
	if res := <-first; res.Status != domain.ScheduledKilled || res.Skipped {
		t.Fatalf("first pass = %+v", res)
	}
	if k := pc.kills(); len(k) != 1 {
		t.Fatalf("kills = %v, want one", k)
	}
	logs, _ := f.repo.ListLogs(ctx, id, 10)
	if len(logs) != 1 || logs[0].Status != domain.ScheduledKilled {
		t.Fatalf("logs = %+v, want one KILLED entry", logs)
	}
}

type slowResolver struct {
	calls   atomic.Int32
	entered chan struct{}
	unblock chan struct{}
}

func (r *slowResolver) Resolve(id string) (task.Task, error) {
	if r.calls.Add(1) == 1 {
		close(r.entered)
		<-r.unblock
	}
	return nil, &domain.NoTaskImplementationError{TaskIdentifier: id}
}

func TestResolveFailureRecordedOnce(t *testing.T) {
	t.Parallel()
	res := &slowResolver{entered: make(chan struct{}), unblock: make(chan struct{})}
	f := newFixture(t, resolver{}, &fakeProc{})
	f.proc.tasks = res
	ctx := context.Background()
	id := f.create(t, "missing")
	f.clock.Set(base.Add(30 * time.Minute))

	first := make(chan Result)
	go func() {
		r, _ := f.proc.ProcessScheduledTask(ctx, id)
		first <- r
	}()
	<-res.entered

	second, err := f.proc.ProcessScheduledTask(ctx, id)
	if err != nil || !second.Skipped {
		t.Fatalf("overlapping pass = %+v, %v; want skipped", second, err)
	}
	close(res.unblock)
	if r := <-first; r.Status != domain.ScheduledFailed {
		t.Fatalf("first pass = %+v", r)
	}
	if n := res.calls.Load(); n != 1 {
		t.Fatalf("resolve calls = %d, want 1", n)
	}
	logs, _ := f.repo.ListLogs(ctx, id, 10)
	if len(logs) != 1 || logs[0].Status != domain.ScheduledFailed {
		t.Fatalf("logs = %+v, want one FAILED entry", logs)
	}
}
