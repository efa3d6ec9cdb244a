package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vjranagit/minigraph/pkg/types"
)

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}

// failingStore rejects every write and records clears
type failingStore struct {
	*MemoryStore
	clears int
}

func (f *failingStore) Set(ctx context.Context, key string, value []byte) error {
	return errors.New("disk full")
}

func (f *failingStore) Clear(ctx context.Context) error {
	f.clears++
	return f.MemoryStore.Clear(ctx)
}

func sampleAt(base time.Time, minutes int, state string) types.Sample {
	return types.Sample{Timestamp: base.Add(time.Duration(minutes) * time.Minute), State: state}
}

func TestMemoryStoreLRU(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(2, 0)

	store.Set(ctx, "a", []byte("1"))
	store.Set(ctx, "b", []byte("2"))

	// Touch a so b becomes the eviction candidate
	if _, err := store.Get(ctx, "a"); err != nil {
		t.Fatalf("Expected hit for a: %v", err)
	}
	store.Set(ctx, "c", []byte("3"))

	if _, err := store.Get(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected b to be evicted, got %v", err)
	}
	if _, err := store.Get(ctx, "a"); err != nil {
		t.Errorf("Expected a to survive: %v", err)
	}
	if store.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", store.Len())
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10, 100*time.Millisecond)

	store.Set(ctx, "a", []byte("1"))
	if _, err := store.Get(ctx, "a"); err != nil {
		t.Fatalf("Expected cache hit: %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	if _, err := store.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected expiry, got %v", err)
	}
}

func TestHistoryCacheRoundTrip(t *testing.T) {
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	ctx := context.Background()
	store := NewMemoryStore(16, 0)
	cache := NewHistoryCache(store, comp, discardLogger{})

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &types.CacheRecord{
		HoursToShow: 1,
		LastFetched: base.Add(time.Hour),
		Data:        []types.Sample{sampleAt(base, 0, "10"), sampleAt(base, 30, "20")},
	}

	for _, compressed := range []bool{false, true} {
		got, err := cache.Get(ctx, "sensor.temp", compressed)
		if err != nil || got != nil {
			t.Fatalf("Expected miss (compressed=%v), got %+v, %v", compressed, got, err)
		}

		if !cache.Set(ctx, "sensor.temp", rec, compressed) {
			t.Fatalf("Failed to set (compressed=%v)", compressed)
		}

		got, err = cache.Get(ctx, "sensor.temp", compressed)
		if err != nil {
			t.Fatalf("Failed to get: %v", err)
		}
		if got == nil || len(got.Data) != 2 || got.Data[1].State != "20" {
			t.Fatalf("Unexpected record (compressed=%v): %+v", compressed, got)
		}
		if !got.Data[1].Timestamp.Equal(rec.Data[1].Timestamp) {
			t.Errorf("Timestamp mismatch: %v vs %v", got.Data[1].Timestamp, rec.Data[1].Timestamp)
		}
	}

	// Raw and compressed records live under different keys
	if _, err := store.Get(ctx, "sensor.temp-raw"); err != nil {
		t.Errorf("Expected raw key to exist: %v", err)
	}
	if _, err := store.Get(ctx, "sensor.temp"); err != nil {
		t.Errorf("Expected compressed key to exist: %v", err)
	}

	hits, misses, _ := cache.Stats()
	if hits != 2 || misses != 2 {
		t.Errorf("Expected 2 hits and 2 misses, got %d and %d", hits, misses)
	}
}

func TestHistoryCacheUnreadableRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(16, 0)
	cache := NewHistoryCache(store, nil, discardLogger{})

	store.Set(ctx, "sensor.temp-raw", []byte("{broken"))

	rec, err := cache.Get(ctx, "sensor.temp", false)
	if err != nil {
		t.Fatalf("Expected unreadable record to be treated as absent, got %v", err)
	}
	if rec != nil {
		t.Errorf("Expected nil record, got %+v", rec)
	}
}

func TestHistoryCacheClearsOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: NewMemoryStore(16, 0)}
	store.MemoryStore.Set(ctx, "sensor.other-raw", []byte(`{"hours_to_show":1,"data":[]}`))

	cache := NewHistoryCache(store, nil, discardLogger{})

	ok := cache.Set(ctx, "sensor.temp", &types.CacheRecord{HoursToShow: 1}, false)
	if ok {
		t.Fatal("Expected Set to report failure")
	}
	if store.clears != 1 {
		t.Errorf("Expected one clear, got %d", store.clears)
	}
	if store.Len() != 0 {
		t.Errorf("Expected store to be empty after failure, got %d entries", store.Len())
	}

	_, _, resets := cache.Stats()
	if resets != 1 {
		t.Errorf("Expected 1 reset, got %d", resets)
	}
}

func TestResumeClipsToWindowStart(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := &types.CacheRecord{
		HoursToShow: 1,
		LastFetched: base.Add(70 * time.Minute),
		Data: []types.Sample{
			sampleAt(base, 0, "5"),
			sampleAt(base, 5, "6"),
			sampleAt(base, 40, "7"),
			sampleAt(base, 65, "8"),
		},
	}
	start := base.Add(10 * time.Minute)

	res := ResumeFrom(rec, 1, start)

	if len(res.History) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(res.History))
	}
	if !res.History[0].Timestamp.Equal(start) || res.History[0].State != "6" {
		t.Errorf("Expected first sample clipped to start with state 6, got %+v", res.History[0])
	}
	if !res.SkipInitialState {
		t.Error("Expected initial state to be skipped")
	}
	want := base.Add(70*time.Minute - time.Millisecond)
	if !res.FetchStart.Equal(want) {
		t.Errorf("Expected fetch start %v, got %v", want, res.FetchStart)
	}

	// The cached record itself is untouched
	if !rec.Data[1].Timestamp.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("Cached record was mutated: %+v", rec.Data[1])
	}
}

func TestResumeFirstSampleInsideWindow(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := &types.CacheRecord{
		HoursToShow: 1,
		LastFetched: base.Add(30 * time.Minute),
		Data:        []types.Sample{sampleAt(base, 20, "1"), sampleAt(base, 25, "2")},
	}

	res := ResumeFrom(rec, 1, base)

	if len(res.History) != 2 || !res.History[0].Timestamp.Equal(base.Add(20*time.Minute)) {
		t.Errorf("Expected untouched history, got %+v", res.History)
	}
}

func TestResumeIgnoresMismatchedRecord(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := &types.CacheRecord{
		HoursToShow: 24,
		LastFetched: base.Add(time.Hour),
		Data:        []types.Sample{sampleAt(base, 30, "1")},
	}

	for _, r := range []*types.CacheRecord{nil, rec} {
		res := ResumeFrom(r, 1, base)
		if res.History != nil || res.SkipInitialState || !res.FetchStart.Equal(base) {
			t.Errorf("Expected fresh fetch from start, got %+v", res)
		}
	}
}

func TestResumeAllSamplesBeforeStart(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := &types.CacheRecord{
		HoursToShow: 1,
		LastFetched: base.Add(5 * time.Minute),
		Data:        []types.Sample{sampleAt(base, 0, "1"), sampleAt(base, 5, "2")},
	}

	res := ResumeFrom(rec, 1, base.Add(10*time.Minute))

	if len(res.History) != 0 || res.SkipInitialState {
		t.Errorf("Expected empty history, got %+v", res)
	}
	if !res.FetchStart.Equal(base.Add(10 * time.Minute)) {
		t.Errorf("Expected fetch from window start, got %v", res.FetchStart)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	cached := []types.Sample{sampleAt(base, 0, "1"), sampleAt(base, 10, "2")}
	fetched := []types.Sample{sampleAt(base, 10, "2"), sampleAt(base, 20, "3")}

	once := Merge(cached, fetched)
	twice := Merge(once, fetched)

	if len(once) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(once))
	}
	if len(twice) != len(once) {
		t.Errorf("Expected merge to be idempotent, got %d then %d samples", len(once), len(twice))
	}
	if once[2].State != "3" {
		t.Errorf("Expected last state 3, got %s", once[2].State)
	}
	if len(cached) != 2 {
		t.Errorf("Cached slice was modified")
	}
}
