package engine

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitCall(t *testing.T, calls <-chan []string) []string {
	t.Helper()
	select {
	case ids := <-calls:
		return ids
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for update cycle")
		return nil
	}
}

func TestSchedulerCoalescesDuringCycle(t *testing.T) {
	calls := make(chan []string, 10)
	release := make(chan struct{})
	var active, maxActive int32

	run := func(ctx context.Context, ids []string) {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		calls <- ids
		<-release
		atomic.AddInt32(&active, -1)
	}

	s := NewScheduler(run, 0, func() time.Duration { return time.Hour }, 10*time.Millisecond)
	s.Start(context.Background())
	defer s.Stop()

	// the very first notification runs without debounce
	s.Notify("sensor.a")
	if first := waitCall(t, calls); !reflect.DeepEqual(first, []string{"sensor.a"}) {
		t.Fatalf("Expected [sensor.a], got %v", first)
	}
	if s.State() != StateUpdating {
		t.Fatalf("Expected updating state, got %v", s.State())
	}

	s.Notify("sensor.b")
	s.Notify("sensor.c")
	s.Trigger("sensor.d")

	if got := s.Queue(); !reflect.DeepEqual(got, []string{"sensor.d", "sensor.c", "sensor.b"}) {
		t.Errorf("Expected newest ids first, got %v", got)
	}

	close(release)

	second := waitCall(t, calls)
	if !reflect.DeepEqual(second, []string{"sensor.d", "sensor.c", "sensor.b"}) {
		t.Errorf("Expected follow-up cycle with queued ids, got %v", second)
	}

	select {
	case ids := <-calls:
		t.Errorf("Unexpected extra cycle %v", ids)
	case <-time.After(100 * time.Millisecond):
	}

	if maxActive != 1 {
		t.Errorf("Expected at most one cycle in flight, saw %d", maxActive)
	}
}

func TestSchedulerDebounce(t *testing.T) {
	calls := make(chan []string, 10)
	s := NewScheduler(func(ctx context.Context, ids []string) {
		calls <- ids
	}, 0, func() time.Duration { return time.Hour }, 50*time.Millisecond)
	s.Start(context.Background())
	defer s.Stop()

	s.Notify("sensor.a")
	waitCall(t, calls)

	// wait for the first cycle to finish so the next notification is debounced
	deadline := time.Now().Add(time.Second)
	for s.State() != StateIdle && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	s.Notify("sensor.b")
	if s.State() != StateScheduledRefresh {
		t.Errorf("Expected scheduled refresh, got %v", s.State())
	}
	s.Notify("sensor.c")

	ids := waitCall(t, calls)
	if !reflect.DeepEqual(ids, []string{"sensor.c", "sensor.b"}) {
		t.Errorf("Expected both ids in one cycle, got %v", ids)
	}
}

func TestSchedulerDebounceDoesNotRestart(t *testing.T) {
	calls := make(chan []string, 10)
	s := NewScheduler(func(ctx context.Context, ids []string) {
		calls <- ids
	}, 0, func() time.Duration { return time.Hour }, 50*time.Millisecond)
	s.Start(context.Background())
	defer s.Stop()

	s.Notify("sensor.a")
	waitCall(t, calls)

	deadline := time.Now().Add(time.Second)
	for s.State() != StateIdle && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	// changes keep arriving faster than the debounce period
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			s.Notify("sensor.b")
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()

	select {
	case ids := <-calls:
		if len(ids) == 0 || ids[0] != "sensor.b" {
			t.Errorf("Expected sensor.b in the batch, got %v", ids)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Expected a cycle within 500ms while changes kept arriving")
	}
}

func TestSchedulerFixedInterval(t *testing.T) {
	var mu sync.Mutex
	count := 0
	s := NewScheduler(func(ctx context.Context, ids []string) {
		mu.Lock()
		count++
		mu.Unlock()
	}, 20*time.Millisecond, func() time.Duration { return time.Hour }, time.Second)
	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	if count != 0 {
		t.Errorf("Expected no cycle without state changes, got %d", count)
	}
	mu.Unlock()

	s.Notify("sensor.a")
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	if count != 1 {
		t.Errorf("Expected exactly one cycle after a state change, got %d", count)
	}
	mu.Unlock()
}

func TestSchedulerResolutionTimer(t *testing.T) {
	calls := make(chan []string, 10)
	s := NewScheduler(func(ctx context.Context, ids []string) {
		select {
		case calls <- ids:
		default:
		}
	}, 0, func() time.Duration { return 30 * time.Millisecond }, time.Second)
	s.Start(context.Background())
	defer s.Stop()

	s.Trigger("sensor.a")
	waitCall(t, calls)

	// the periodic cycle re-aggregates without new ids
	if ids := waitCall(t, calls); len(ids) != 0 {
		t.Errorf("Expected periodic cycle without ids, got %v", ids)
	}
}

func TestSchedulerStopCancelsCycle(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool

	s := NewScheduler(func(ctx context.Context, ids []string) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	}, 0, func() time.Duration { return time.Hour }, time.Second)
	s.Start(context.Background())

	s.Trigger("sensor.a")
	<-started

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	if !cancelled.Load() {
		t.Error("Expected in-flight cycle to observe cancellation")
	}

	s.Notify("sensor.b")
	if s.State() != StateIdle {
		t.Errorf("Expected idle after stop, got %v", s.State())
	}
}
