package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vjranagit/minigraph/pkg/types"
)

// rawSuffix separates uncompressed records from compressed ones under the same entity id
const rawSuffix = "-raw"

// Logger is the logging surface the cache needs. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// HistoryCache persists per-entity history records in a BlobStore
type HistoryCache struct {
	store      BlobStore
	compressor *Compressor
	logger     Logger

	hits   atomic.Uint64
	misses atomic.Uint64
	resets atomic.Uint64
}

// NewHistoryCache creates a history cache on top of store
func NewHistoryCache(store BlobStore, compressor *Compressor, logger Logger) *HistoryCache {
	return &HistoryCache{
		store:      store,
		compressor: compressor,
		logger:     logger,
	}
}

// Key returns the blob key used for an entity in the given format
func Key(entityID string, compressed bool) string {
	if compressed {
		return entityID
	}
	return entityID + rawSuffix
}

// Get returns the cached record for key, or nil when absent or unreadable
func (c *HistoryCache) Get(ctx context.Context, key string, compressed bool) (*types.CacheRecord, error) {
	data, err := c.store.Get(ctx, Key(key, compressed))
	if errors.Is(err, ErrNotFound) {
		c.misses.Add(1)
		return nil, nil
	}
	if err != nil {
		c.misses.Add(1)
		return nil, err
	}

	rec, err := c.decode(data, compressed)
	if err != nil {
		c.misses.Add(1)
		c.logger.Warn("discarding unreadable cache record", "key", key, "error", err)
		return nil, nil
	}

	c.hits.Add(1)
	return rec, nil
}

// Set stores rec under key. A failed write clears the whole store so that a
// partial cache never survives; the failure is logged and reported as false.
func (c *HistoryCache) Set(ctx context.Context, key string, rec *types.CacheRecord, compressed bool) bool {
	err := c.set(ctx, key, rec, compressed)
	if err == nil {
		return true
	}

	c.logger.Error("cache write failed, clearing cache", "key", key, "error", err)
	c.resets.Add(1)
	if clearErr := c.store.Clear(ctx); clearErr != nil {
		c.logger.Error("cache clear failed", "error", clearErr)
	}
	return false
}

func (c *HistoryCache) set(ctx context.Context, key string, rec *types.CacheRecord, compressed bool) error {
	data, err := c.encode(rec, compressed)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, Key(key, compressed), data)
}

func (c *HistoryCache) encode(rec *types.CacheRecord, compressed bool) ([]byte, error) {
	if compressed {
		if c.compressor == nil {
			return nil, fmt.Errorf("compression requested without a compressor")
		}
		return c.compressor.EncodeRecord(rec)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return data, nil
}

func (c *HistoryCache) decode(data []byte, compressed bool) (*types.CacheRecord, error) {
	if compressed {
		if c.compressor == nil {
			return nil, fmt.Errorf("compressed record without a compressor")
		}
		return c.compressor.DecodeRecord(data)
	}
	var rec types.CacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	if rec.Data == nil {
		rec.Data = []types.Sample{}
	}
	return &rec, nil
}

// Stats returns hit, miss and reset counters
func (c *HistoryCache) Stats() (hits, misses, resets uint64) {
	return c.hits.Load(), c.misses.Load(), c.resets.Load()
}

// Resume describes what a cached record contributes to a new fetch window
type Resume struct {
	History          []types.Sample
	FetchStart       time.Time
	SkipInitialState bool
}

// ResumeFrom decides which cached samples stay valid for the window starting
// at start and where the next fetch has to begin. A record cached for a
// different hoursToShow is ignored. The last cached sample at or before start
// is kept with its timestamp clipped to start so the line begins at the
// window edge.
func ResumeFrom(rec *types.CacheRecord, hoursToShow float64, start time.Time) Resume {
	res := Resume{FetchStart: start}
	if rec == nil || rec.HoursToShow != hoursToShow {
		return res
	}

	idx := -1
	for i, sample := range rec.Data {
		if sample.Timestamp.After(start) {
			idx = i
			break
		}
	}

	if idx != -1 {
		history := make([]types.Sample, len(rec.Data))
		copy(history, rec.Data)
		if idx > 0 {
			idx--
			history[idx].Timestamp = start
		}
		res.History = history[idx:]
		res.SkipInitialState = true
	}

	if rec.LastFetched.After(start) {
		res.FetchStart = rec.LastFetched.Add(-time.Millisecond)
	}

	return res
}

// Merge appends the fetched samples that are strictly newer than the last
// cached one. Merging the same fetch twice yields the same result.
func Merge(cached, fetched []types.Sample) []types.Sample {
	merged := make([]types.Sample, 0, len(cached)+len(fetched))
	merged = append(merged, cached...)

	for _, sample := range fetched {
		if n := len(merged); n > 0 && !sample.Timestamp.After(merged[n-1].Timestamp) {
			continue
		}
		merged = append(merged, sample)
	}

	return merged
}
