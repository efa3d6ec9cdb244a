package engine

import (
	"context"
	"sync"
	"time"
)

// SchedulerState is the update scheduler's position in its state machine
type SchedulerState int

// Scheduler states
const (
	StateIdle SchedulerState = iota
	StateScheduledRefresh
	StateUpdating
)

func (s SchedulerState) String() string {
	switch s {
	case StateScheduledRefresh:
		return "scheduled_refresh"
	case StateUpdating:
		return "updating"
	default:
		return "idle"
	}
}

// CycleFunc runs one update cycle for the queued entity ids
type CycleFunc func(ctx context.Context, ids []string)

// Scheduler decides when update cycles run and guarantees that at most one
// is in flight. Entity ids reported while a cycle runs are kept for the next.
type Scheduler struct {
	run CycleFunc

	mu           sync.Mutex
	state        SchedulerState
	queue        []string
	stateChanged bool
	pending      bool
	initialized  bool
	stopped      bool

	interval   time.Duration
	resolution func() time.Duration
	debounce   time.Duration

	debounceTimer   *time.Timer
	resolutionTimer *time.Timer
	ticker          *time.Ticker
	tickerDone      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. interval is the fixed update interval
// (zero for state driven updates), resolution yields the periodic refresh
// interval and debounce delays state driven cycles.
func NewScheduler(run CycleFunc, interval time.Duration, resolution func() time.Duration, debounce time.Duration) *Scheduler {
	return &Scheduler{
		run:        run,
		interval:   interval,
		resolution: resolution,
		debounce:   debounce,
	}
}

// Start arms the fixed interval ticker, if any
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.startTickerLocked()
}

func (s *Scheduler) startTickerLocked() {
	if s.interval <= 0 || s.stopped || s.ctx == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	done := make(chan struct{})
	s.ticker, s.tickerDone = ticker, done
	ctx := s.ctx

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.onTick()
		for {
			select {
			case <-ticker.C:
				s.onTick()
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Scheduler) stopTickerLocked() {
	if s.ticker != nil {
		s.ticker.Stop()
		close(s.tickerDone)
		s.ticker, s.tickerDone = nil, nil
	}
}

// SetInterval switches between fixed interval and state driven updates
func (s *Scheduler) SetInterval(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if interval == s.interval {
		return
	}
	s.stopTickerLocked()
	s.interval = interval
	s.startTickerLocked()
	if interval > 0 && s.resolutionTimer != nil {
		s.resolutionTimer.Stop()
		s.resolutionTimer = nil
	}
}

// Notify reports entities whose upstream state changed
func (s *Scheduler) Notify(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.prependLocked(ids)
	s.stateChanged = true

	if s.interval > 0 {
		return
	}
	if s.state == StateUpdating {
		s.pending = true
		return
	}
	// a batch is already waiting; its deadline counts from the first change
	if s.state == StateScheduledRefresh && s.debounceTimer != nil {
		return
	}

	delay := s.debounce
	if !s.initialized {
		delay = 0
	}
	s.armDebounceLocked(delay)
}

// Trigger runs a cycle for ids as soon as possible, bypassing the debounce
func (s *Scheduler) Trigger(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.prependLocked(ids)
	if s.state == StateUpdating {
		s.pending = true
		return
	}
	s.startCycleLocked()
}

// prependLocked puts ids at the front of the queue, keeping each id once
func (s *Scheduler) prependLocked(ids []string) {
	if len(ids) == 0 {
		return
	}
	seen := make(map[string]bool, len(ids)+len(s.queue))
	queue := make([]string, 0, len(ids)+len(s.queue))
	for _, id := range append(append([]string(nil), ids...), s.queue...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		queue = append(queue, id)
	}
	s.queue = queue
}

func (s *Scheduler) armDebounceLocked(delay time.Duration) {
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.state = StateScheduledRefresh
	s.debounceTimer = time.AfterFunc(delay, s.fire)
}

// fire runs a cycle unless one is already in flight
func (s *Scheduler) fire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.state == StateUpdating {
		return
	}
	s.startCycleLocked()
}

func (s *Scheduler) onTick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || !s.stateChanged || s.state == StateUpdating {
		return
	}
	s.startCycleLocked()
}

func (s *Scheduler) startCycleLocked() {
	if s.ctx == nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}

	ids := s.queue
	s.queue = nil
	s.stateChanged = false
	s.pending = false
	s.state = StateUpdating

	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, ids)
		s.finish()
	}()
}

func (s *Scheduler) finish() {
	next := s.resolution()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateIdle
	s.initialized = true
	if s.stopped {
		return
	}

	if s.interval <= 0 {
		if s.resolutionTimer != nil {
			s.resolutionTimer.Stop()
		}
		if next > 0 {
			s.resolutionTimer = time.AfterFunc(next, s.fire)
		}
		if s.pending {
			s.armDebounceLocked(s.debounce)
		}
	}
	s.pending = false
}

// State returns the current scheduler state
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Queue returns a copy of the pending entity ids
func (s *Scheduler) Queue() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queue...)
}

// Stop cancels timers and the in-flight cycle and waits for it to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.stopTickerLocked()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	if s.resolutionTimer != nil {
		s.resolutionTimer.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
}
