// Package engine owns one card configuration and turns entity history into
// render frames on every update cycle
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vjranagit/minigraph/pkg/color"
	"github.com/vjranagit/minigraph/pkg/graph"
	"github.com/vjranagit/minigraph/pkg/history"
	"github.com/vjranagit/minigraph/pkg/storage"
	"github.com/vjranagit/minigraph/pkg/types"
)

// ErrUnknownEntity is returned when an entity position does not exist
var ErrUnknownEntity = errors.New("engine: unknown entity")

// Logger is the logging surface the engine needs. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// FrameSink receives every frame produced by an update cycle
type FrameSink interface {
	PublishFrame(ctx context.Context, frame *types.Frame) error
}

// Options wires the engine's collaborators
type Options struct {
	Fetcher history.Fetcher
	// Cache may be nil, history is then fetched in full every cycle
	Cache   *storage.HistoryCache
	Logger  Logger
	Metrics *Metrics
	Sinks   []FrameSink

	// Debounce delays state driven cycles, 1s by default
	Debounce time.Duration
	// FetchConcurrency bounds parallel history fetches, 4 by default
	FetchConcurrency int
	// Location renders tooltip times, time.Local by default
	Location *time.Location
	Now      func() time.Time
}

// Engine computes render frames for one card configuration
type Engine struct {
	fetcher     history.Fetcher
	cache       *storage.HistoryCache
	logger      Logger
	metrics     *Metrics
	sinks       []FrameSink
	concurrency int
	location    *time.Location
	now         func() time.Time

	mu             sync.Mutex
	cfg            *Config
	fingerprint    uint64
	generation     uint64
	index          *Index
	graphs         []*graph.Graph
	states         []types.EntityState
	primaryHistory []types.Sample
	bound          types.Bound
	boundSecondary types.Bound
	window         [2]time.Time
	tooltip        *tooltipRequest

	frameMu sync.RWMutex
	frame   *types.Frame

	sched *Scheduler
}

// tooltipRequest is the hovered entity and bucket; a negative bucket shows
// the current state
type tooltipRequest struct {
	entity int
	bucket int
}

// fetchResult is the outcome of one entity's history update
type fetchResult struct {
	history []types.Sample
	ok      bool
}

// New creates an engine for cfg
func New(cfg *Config, opts Options) (*Engine, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("engine: a history fetcher is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("engine: a logger is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = time.Second
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 4
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid card configuration: %w", err)
	}

	e := &Engine{
		fetcher:     opts.Fetcher,
		cache:       opts.Cache,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		sinks:       opts.Sinks,
		concurrency: opts.FetchConcurrency,
		location:    opts.Location,
		now:         opts.Now,
	}
	e.applyConfigLocked(cfg)
	e.frame = e.buildFrameLocked()

	e.sched = NewScheduler(e.RunCycle, cfg.Interval(), e.resolution, opts.Debounce)
	if opts.Cache != nil {
		opts.Metrics.RegisterCache(opts.Cache)
	}

	return e, nil
}

// Start begins scheduling and runs the initial cycle for every entity
func (e *Engine) Start(ctx context.Context) {
	e.sched.Start(ctx)
	e.sched.Trigger(e.entityIDs()...)
}

// Stop cancels pending work and waits for an in-flight cycle to return
func (e *Engine) Stop() {
	e.sched.Stop()
}

// SchedulerState returns the scheduler state
func (e *Engine) SchedulerState() SchedulerState {
	return e.sched.State()
}

func (e *Engine) config() *Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Config returns the active configuration, which must not be modified
func (e *Engine) Config() *Config {
	return e.config()
}

func (e *Engine) resolution() time.Duration {
	return e.config().Resolution()
}

func (e *Engine) entityIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.cfg.Entities))
	for _, pos := range e.index.Visible("") {
		ids = append(ids, e.cfg.Entities[pos].Entity)
	}
	return ids
}

// SetConfig replaces the configuration. Graphs are rebuilt and all history
// refetched only when the entity list or a graph shaping setting changed;
// otherwise the current frame is re-rendered.
func (e *Engine) SetConfig(cfg *Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid card configuration: %w", err)
	}

	e.mu.Lock()
	rebuilt := e.applyConfigLocked(cfg)
	frame := e.buildFrameLocked()
	e.mu.Unlock()

	e.storeFrame(frame)
	e.sched.SetInterval(cfg.Interval())
	if rebuilt {
		e.logger.Info("card configuration changed, rebuilding graphs", "entities", len(cfg.Entities))
		e.sched.Notify(e.entityIDs()...)
	}
	return nil
}

// applyConfigLocked installs cfg and reports whether the graphs were rebuilt
func (e *Engine) applyConfigLocked(cfg *Config) bool {
	fp := Fingerprint(cfg)
	e.cfg = cfg
	e.index = NewIndex(cfg.Entities)
	if e.graphs != nil && fp == e.fingerprint {
		return false
	}

	previous := make(map[string]types.EntityState, len(e.states))
	for _, st := range e.states {
		previous[st.EntityID] = st
	}

	e.fingerprint = fp
	e.generation++
	e.graphs = make([]*graph.Graph, len(cfg.Entities))
	e.states = make([]types.EntityState, len(cfg.Entities))
	for i, ent := range cfg.Entities {
		e.graphs[i] = graph.New(cfg.GraphConfig(i))
		if st, ok := previous[ent.Entity]; ok {
			e.states[i] = st
		} else {
			e.states[i] = types.EntityState{EntityID: ent.Entity}
		}
	}
	e.primaryHistory = nil
	e.bound, e.boundSecondary = types.Bound{}, types.Bound{}
	e.tooltip = nil
	return true
}

// SetStates records upstream entity states and queues the entities whose
// state changed. It returns the queued ids.
func (e *Engine) SetStates(states ...types.EntityState) []string {
	e.mu.Lock()
	var changed []string
	seen := make(map[string]bool)
	for _, st := range states {
		for _, pos := range e.index.Positions(st.EntityID) {
			if e.states[pos].Equal(st) {
				continue
			}
			e.states[pos] = st
			if !seen[st.EntityID] {
				seen[st.EntityID] = true
				changed = append(changed, st.EntityID)
			}
		}
	}
	e.mu.Unlock()

	if len(changed) > 0 {
		e.sched.Notify(changed...)
	}
	return changed
}

// Refresh queues every visible entity and runs a cycle without debounce
func (e *Engine) Refresh() {
	e.sched.Trigger(e.entityIDs()...)
}

// RunCycle fetches the queued entities, re-buckets every graph and publishes
// a new frame. The scheduler calls it; it is exported for explicit
// recomputation.
func (e *Engine) RunCycle(ctx context.Context, ids []string) {
	started := time.Now()

	e.mu.Lock()
	cfg := e.cfg
	generation := e.generation
	visible := e.index.Visible("")
	e.mu.Unlock()

	end := graph.EndTime(e.now(), graph.GroupBy(cfg.GroupBy))
	start := end.Add(-time.Duration(cfg.HoursToShow * float64(time.Hour)))

	queued := make(map[string]bool, len(ids))
	for _, id := range ids {
		queued[id] = true
	}

	results := make([]fetchResult, len(cfg.Entities))
	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for _, pos := range visible {
		if !queued[cfg.Entities[pos].Entity] {
			continue
		}
		pos := pos
		g.Go(func() error {
			results[pos] = e.updateEntity(ctx, cfg, pos, start, end)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		e.metrics.CycleDiscarded()
		e.logger.Debug("update cycle cancelled, discarding results")
		return
	}

	e.mu.Lock()
	if generation != e.generation {
		e.mu.Unlock()
		e.metrics.CycleDiscarded()
		e.logger.Debug("configuration changed during update cycle, discarding results")
		return
	}

	for pos, res := range results {
		if !res.ok {
			continue
		}
		e.applyHistoryLocked(pos, res.history)
	}
	if cfg.Show.Graph != GraphNone {
		for _, pos := range visible {
			e.graphs[pos].Update(end)
		}
	}
	e.window = [2]time.Time{start, end}
	frame := e.buildFrameLocked()
	e.mu.Unlock()

	e.storeFrame(frame)
	e.publish(ctx, frame)

	drawn := 0
	for _, ef := range frame.Entities {
		if ef.Line != "" || len(ef.Bars) > 0 || len(ef.Points) > 0 {
			drawn++
		}
	}
	e.metrics.CycleCompleted(time.Since(started), drawn)
	e.logger.Debug("update cycle completed", "fetched", len(ids), "duration", time.Since(started))
}

// updateEntity resumes the cached history of entity pos, fetches what is
// missing and stores the merged result back in the cache
func (e *Engine) updateEntity(ctx context.Context, cfg *Config, pos int, start, end time.Time) fetchResult {
	ent := cfg.Entities[pos]
	useCache := cfg.CacheEnabled() && e.cache != nil
	compress := cfg.CompressEnabled()

	resume := storage.Resume{FetchStart: start}
	if useCache {
		rec, err := e.cache.Get(ctx, ent.Entity, compress)
		if err != nil {
			e.logger.Warn("cache read failed", "entity", ent.Entity, "error", err)
		}
		resume = storage.ResumeFrom(rec, cfg.HoursToShow, start)
	}

	fetched, err := e.fetcher.Fetch(ctx, history.Request{
		EntityID:         ent.Entity,
		Start:            resume.FetchStart,
		End:              end,
		SkipInitialState: resume.SkipInitialState,
	})
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error("history fetch failed", "entity", ent.Entity, "error", err)
			e.metrics.FetchFailed(ent.Entity)
		}
		return fetchResult{}
	}

	merged := resume.History
	if len(fetched) > 0 {
		stateAxis := cfg.IsStateAxis(ent.Axis())
		numeric := make([]types.Sample, 0, len(fetched))
		for _, s := range fetched {
			if stateAxis {
				s.State = convertState(cfg.StateMap.Map, s.State)
			}
			if _, ok := s.Value(); !ok {
				continue
			}
			numeric = append(numeric, types.Sample{Timestamp: s.Timestamp, State: s.State})
		}
		e.metrics.SamplesFetched(len(numeric))
		merged = storage.Merge(merged, numeric)

		if useCache && ctx.Err() == nil {
			e.cache.Set(ctx, ent.Entity, &types.CacheRecord{
				HoursToShow: cfg.HoursToShow,
				LastFetched: e.now(),
				Data:        merged,
			}, compress)
		}
	}

	return fetchResult{history: merged, ok: true}
}

// applyHistoryLocked hands new history to the graph of entity pos
func (e *Engine) applyHistoryLocked(pos int, hist []types.Sample) {
	if pos == 0 {
		e.primaryHistory = hist
	}
	if e.cfg.Entities[pos].FixedValue && len(hist) > 0 {
		hist = []types.Sample{hist[0], hist[len(hist)-1]}
	}
	e.graphs[pos].SetHistory(hist)
}

// Render rebuilds the frame from the current graphs without fetching
func (e *Engine) Render() *types.Frame {
	e.mu.Lock()
	frame := e.buildFrameLocked()
	e.mu.Unlock()

	e.storeFrame(frame)
	return frame
}

// SetTooltip shows the bucket of entity under the pointer. A negative
// bucket shows the entity's current state.
func (e *Engine) SetTooltip(entity, bucket int) (*types.Frame, error) {
	e.mu.Lock()
	if entity < 0 || entity >= len(e.cfg.Entities) {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrUnknownEntity, entity)
	}
	if bucket >= len(e.graphs[entity].Buckets()) {
		e.mu.Unlock()
		return nil, fmt.Errorf("bucket %d out of range for entity %d", bucket, entity)
	}
	e.tooltip = &tooltipRequest{entity: entity, bucket: bucket}
	e.mu.Unlock()

	return e.Render(), nil
}

// ClearTooltip hides the tooltip
func (e *Engine) ClearTooltip() *types.Frame {
	e.mu.Lock()
	e.tooltip = nil
	e.mu.Unlock()

	return e.Render()
}

// Frame returns the latest frame. Callers must not modify it.
func (e *Engine) Frame() *types.Frame {
	e.frameMu.RLock()
	defer e.frameMu.RUnlock()
	return e.frame
}

func (e *Engine) storeFrame(frame *types.Frame) {
	e.frameMu.Lock()
	e.frame = frame
	e.frameMu.Unlock()
}

func (e *Engine) publish(ctx context.Context, frame *types.Frame) {
	for _, sink := range e.sinks {
		if err := sink.PublishFrame(ctx, frame); err != nil {
			e.logger.Warn("frame publish failed", "sink", fmt.Sprintf("%T", sink), "error", err)
		}
	}
}

func (e *Engine) graphsAtLocked(positions []int) []*graph.Graph {
	out := make([]*graph.Graph, 0, len(positions))
	for _, pos := range positions {
		out = append(out, e.graphs[pos])
	}
	return out
}

func categories(cfg *Config, axis string) int {
	if cfg.IsStateAxis(axis) {
		return len(cfg.StateMap.Map)
	}
	return 0
}

// updateBoundsLocked recomputes both axis bounds from the visible graphs
func (e *Engine) updateBoundsLocked() {
	cfg := e.cfg
	e.bound = graph.ComputeBound(
		e.graphsAtLocked(e.index.Visible(AxisPrimary)),
		graph.AxisLimits{Lower: cfg.LowerBound, Upper: cfg.UpperBound},
		categories(cfg, AxisPrimary),
		e.bound,
	)
	e.boundSecondary = graph.ComputeBound(
		e.graphsAtLocked(e.index.Visible(AxisSecondary)),
		graph.AxisLimits{Lower: cfg.LowerBoundSecondary, Upper: cfg.UpperBoundSecondary},
		categories(cfg, AxisSecondary),
		e.boundSecondary,
	)
}

func (e *Engine) nameLocked(pos int) string {
	if name := e.cfg.Entities[pos].Name; name != "" {
		return name
	}
	if name := e.states[pos].Attributes["friendly_name"]; name != "" {
		return name
	}
	return e.cfg.Entities[pos].Entity
}

func valueString(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// buildFrameLocked assembles the render frame from the current graphs
func (e *Engine) buildFrameLocked() *types.Frame {
	cfg := e.cfg
	palette := color.Palette{
		Thresholds: cfg.ColorThresholds,
		LineColors: cfg.LineColor,
		Bars:       cfg.Show.Graph == GraphBar,
	}

	e.updateBoundsLocked()

	frame := &types.Frame{
		Generated:      e.now(),
		Start:          e.window[0],
		End:            e.window[1],
		Bound:          e.bound,
		BoundSecondary: e.boundSecondary,
		Entities:       make([]types.EntityFrame, 0, len(cfg.Entities)),
	}

	numVisible := len(e.index.Visible(""))
	graphPos := 0
	for i, ent := range cfg.Entities {
		state := e.states[i].State
		ef := types.EntityFrame{
			Index:    i,
			EntityID: ent.Entity,
			Name:     e.nameLocked(i),
			Axis:     ent.Axis(),
			State:    formatState(cfg, e.logger, state, ent.Axis()),
			Color:    palette.Blend(state, ent.Color, i),
		}

		g := e.graphs[i]
		if ent.Visible() && cfg.Show.Graph != GraphNone && g.HasData() {
			bound := e.bound
			if ent.Axis() == AxisSecondary {
				bound = e.boundSecondary
			}
			g.SetBounds(bound)

			if cfg.Show.Graph == GraphBar {
				ef.Bars = g.GetBars(graphPos, numVisible, cfg.BarSpacing)
				for j := range ef.Bars {
					ef.Bars[j].Color = palette.Compute(valueString(ef.Bars[j].Value), ent.Color, i)
				}
				graphPos++
			} else {
				line := g.GetPath()
				if boolOr(ent.ShowLine, true) {
					ef.Line = line
				}
				if cfg.Show.Fill != FillNone && boolOr(ent.ShowFill, true) {
					ef.Fill = g.GetFill(line, cfg.Show.Fill == FillFade)
				}

				gradient := len(cfg.ColorThresholds) > 0 && ent.Color == ""
				if gradient {
					ef.GradientID = fmt.Sprintf("grad-%d", i)
					ef.Gradient = g.ComputeGradient(cfg.ColorThresholds)
				}
				if cfg.Show.Points && boolOr(ent.ShowPoints, true) {
					ef.Points = g.GetPoints()
					if gradient {
						for j := range ef.Points {
							ef.Points[j].Color = palette.Compute(valueString(ef.Points[j].Value), ent.Color, i)
						}
					}
				}
			}
		}

		frame.Entities = append(frame.Entities, ef)
	}

	if legends := e.index.Legends(); boolOr(cfg.Show.Legend, true) && len(legends) > 1 {
		for _, pos := range legends {
			frame.Legend = append(frame.Legend, types.LegendItem{
				Entity: pos,
				Name:   e.nameLocked(pos),
				Color:  palette.Blend(e.states[pos].State, cfg.Entities[pos].Color, pos),
			})
		}
	}

	frame.Extrema = e.extremaLocked()

	if cfg.Show.Labels {
		frame.Labels = []string{
			formatValue(cfg, e.logger, e.bound[1], AxisPrimary),
			formatValue(cfg, e.logger, e.bound[0], AxisPrimary),
		}
	}
	if cfg.Show.LabelsSecondary {
		frame.LabelsSecond = []string{
			formatValue(cfg, e.logger, e.boundSecondary[1], AxisSecondary),
			formatValue(cfg, e.logger, e.boundSecondary[0], AxisSecondary),
		}
	}

	frame.Tooltip = e.tooltipLocked(palette)
	if frame.Tooltip != nil {
		frame.Color = frame.Tooltip.Color
	} else if len(cfg.Entities) > 0 {
		frame.Color = palette.Blend(e.states[0].State, cfg.Entities[0].Color, 0)
	}

	return frame
}

// extremaLocked returns min/avg/max of the primary entity's history
func (e *Engine) extremaLocked() []types.Extremum {
	cfg := e.cfg
	if !cfg.Show.Extrema && !cfg.Show.Average {
		return nil
	}
	lo, hi, mean, ok := extrema(e.primaryHistory)
	if !ok {
		return nil
	}

	axis := cfg.Entities[0].Axis()
	var out []types.Extremum
	if cfg.Show.Extrema {
		out = append(out, types.Extremum{
			Type:        "min",
			State:       formatState(cfg, e.logger, lo.State, axis),
			LastChanged: lo.Timestamp,
		})
	}
	if cfg.Show.Average {
		out = append(out, types.Extremum{
			Type:  "avg",
			State: formatValue(cfg, e.logger, mean, axis),
		})
	}
	if cfg.Show.Extrema {
		out = append(out, types.Extremum{
			Type:        "max",
			State:       formatState(cfg, e.logger, hi.State, axis),
			LastChanged: hi.Timestamp,
		})
	}
	return out
}

// tooltipLocked describes the hovered bucket, or nil when nothing is hovered
func (e *Engine) tooltipLocked(palette color.Palette) *types.Tooltip {
	req := e.tooltip
	if req == nil || req.entity >= len(e.cfg.Entities) {
		return nil
	}
	ent := e.cfg.Entities[req.entity]

	if req.bucket < 0 {
		state := e.states[req.entity].State
		return &types.Tooltip{
			Entity: req.entity,
			Bucket: req.bucket,
			Value:  formatState(e.cfg, e.logger, state, ent.Axis()),
			Label:  "Current",
			Color:  palette.Blend(state, ent.Color, req.entity),
		}
	}

	buckets := e.graphs[req.entity].Buckets()
	if req.bucket >= len(buckets) {
		return nil
	}
	b := buckets[req.bucket]
	return &types.Tooltip{
		Entity: req.entity,
		Bucket: req.bucket,
		Value:  formatValue(e.cfg, e.logger, b.Value, ent.Axis()),
		Time: [2]string{
			formatClock(b.Start.In(e.location), e.cfg.Hour24),
			formatClock(b.End.In(e.location), e.cfg.Hour24),
		},
		Label: e.nameLocked(req.entity),
		Color: palette.Blend(valueString(b.Value), ent.Color, req.entity),
	}
}
