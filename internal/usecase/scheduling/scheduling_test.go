package scheduling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"switchboard/internal/infra/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(newTestLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSchedulerActionFires(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionRegistryReload, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	if err := s.AddTask(Task{Name: "reload", Schedule: "50ms", Action: ActionRegistryReload}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c < 1 {
		t.Errorf("action fired %d times, expected at least 1", c)
	}
}

func TestSchedulerAddTaskErrors(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionTraceRetention, func(context.Context) error { return nil })

	if err := s.AddTask(Task{Name: "x", Schedule: "100ms", Action: "does_not_exist"}); err == nil {
		t.Error("expected error for unknown action")
	}
	if err := s.AddTask(Task{Name: "", Schedule: "100ms", Action: ActionTraceRetention}); err == nil {
		t.Error("expected error for missing name")
	}
	if err := s.AddTask(Task{Name: "bad", Schedule: "whenever", Action: ActionTraceRetention}); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if err := s.AddTask(Task{Name: "dup", Schedule: "1h", Action: ActionTraceRetention}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := s.AddTask(Task{Name: "dup", Schedule: "1h", Action: ActionTraceRetention}); err == nil {
		t.Error("expected error for duplicate task name")
	}
}

func TestSchedulerContextCancellation(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionRegistryReload, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	s.AddTask(Task{Name: "ctx-task", Schedule: "50ms", Action: ActionRegistryReload})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	time.Sleep(150 * time.Millisecond)
	cancel()
	s.Stop()

	countAfterCancel := count.Load()
	time.Sleep(100 * time.Millisecond)

	if count.Load() != countAfterCancel {
		t.Error("task continued after context cancellation")
	}
}

func TestSchedulerOneShot(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionRegistryReload, func(context.Context) error {
		count.Add(1)
		return nil
	})
	s.AddTask(Task{Name: "once", Schedule: "30ms", Action: ActionRegistryReload, OneShot: true})

	s.Start(context.Background())
	time.Sleep(250 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c != 1 {
		t.Errorf("one-shot task fired %d times", c)
	}
	if _, ok := s.NextRun("once"); ok {
		t.Error("one-shot task still scheduled")
	}
}

func TestSchedulerActionError(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionRegistryReload, func(ctx context.Context) error {
		return fmt.Errorf("simulated error")
	})
	s.AddTask(Task{Name: "failing", Schedule: "50ms", Action: ActionRegistryReload})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(150 * time.Millisecond)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSchedulerDoubleStop(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.Start(context.Background())

	if err := s.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := NewScheduler(newTestLogger())
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop without start: %v", err)
	}
}

func TestAddConfigured(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionRegistryReload, func(context.Context) error { return nil })
	s.RegisterAction(ActionTraceRetention, func(context.Context) error { return nil })

	err := s.AddConfigured([]config.ScheduledTaskConfig{
		{Name: "reload", Schedule: "*/5 * * * *", Action: "registry_reload"},
		{Name: "retention", Schedule: "@daily", Action: "trace_retention", MaxAge: time.Hour},
	})
	if err != nil {
		t.Fatalf("AddConfigured: %v", err)
	}
	if _, ok := s.NextRun("reload"); !ok {
		t.Error("reload not scheduled")
	}

	err = s.AddConfigured([]config.ScheduledTaskConfig{{Name: "x", Schedule: "1h", Action: "send_email"}})
	if err == nil {
		t.Error("expected error for unknown configured action")
	}
}

func TestParseSchedule(t *testing.T) {
	for _, in := range []string{"*/5 * * * *", "@every 30m", "@daily", "30m", "100ms"} {
		sched, err := parseSchedule(in)
		if err != nil {
			t.Errorf("parseSchedule(%q): %v", in, err)
			continue
		}
		if sched == nil {
			t.Errorf("parseSchedule(%q) returned nil schedule", in)
		}
	}

	for _, in := range []string{"", "-5m", "0s", "soon"} {
		if _, err := parseSchedule(in); err == nil {
			t.Errorf("parseSchedule(%q) expected error", in)
		}
	}
}

func TestConstantDelay(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := constantDelay(250 * time.Millisecond).Next(base); !got.Equal(base.Add(250 * time.Millisecond)) {
		t.Errorf("Next = %v", got)
	}
}

type fakeReloader struct{ err error }

func (r fakeReloader) Reload(context.Context) error { return r.err }

func TestRegistryReloadAction(t *testing.T) {
	if err := RegistryReload(fakeReloader{})(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sentinel := errors.New("catalog missing")
	err := RegistryReload(fakeReloader{err: sentinel})(context.Background())
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want wrapped %v", err, sentinel)
	}
}

type fakeDeleter struct {
	mu      sync.Mutex
	cutoffs []time.Time
	n       int
	err     error
}

func (d *fakeDeleter) DeleteTracesEndedBefore(_ context.Context, cutoff time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cutoffs = append(d.cutoffs, cutoff)
	return d.n, d.err
}

func TestTraceRetentionAction(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := &fakeDeleter{n: 3}

	fn := TraceRetention(store, 24*time.Hour, clock, newTestLogger())
	if err := fn(context.Background()); err != nil {
		t.Fatalf("retention: %v", err)
	}
	if want := now.Add(-24 * time.Hour); !store.cutoffs[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", store.cutoffs[0], want)
	}

	ctx := context.WithValue(context.Background(), maxAgeKey{}, time.Hour)
	if err := fn(ctx); err != nil {
		t.Fatalf("retention with override: %v", err)
	}
	if want := now.Add(-time.Hour); !store.cutoffs[1].Equal(want) {
		t.Errorf("override cutoff = %v, want %v", store.cutoffs[1], want)
	}

	if err := TraceRetention(store, 0, clock, nil)(context.Background()); err == nil {
		t.Error("expected error for zero max age")
	}

	store.err = errors.New("disk full")
	if err := fn(context.Background()); err == nil {
		t.Error("expected store error")
	}
}

func TestTraceRetentionScheduledOverride(t *testing.T) {
	store := &fakeDeleter{}
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionTraceRetention, TraceRetention(store, 30*24*time.Hour, func() time.Time { return now }, nil))
	s.AddTask(Task{Name: "retention", Schedule: "30ms", Action: ActionTraceRetention, MaxAge: 2 * time.Hour, OneShot: true})

	s.Start(context.Background())
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.cutoffs) != 1 {
		t.Fatalf("retention ran %d times", len(store.cutoffs))
	}
	if want := now.Add(-2 * time.Hour); !store.cutoffs[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", store.cutoffs[0], want)
	}
}
