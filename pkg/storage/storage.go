package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned by a BlobStore when a key is absent
var ErrNotFound = errors.New("storage: key not found")

// BlobStore defines the contract for the key-value blob store backing the history cache
type BlobStore interface {
	// Get returns the blob stored under key, or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a blob under key
	Set(ctx context.Context, key string, value []byte) error

	// Clear removes every blob
	Clear(ctx context.Context) error

	// Close closes the store
	Close() error
}

// Config holds storage configuration
type Config struct {
	Backend          string
	Path             string
	CompressionLevel int
	MemoryCapacity   int
	RedisAddr        string
	RedisDB          int
	RedisPrefix      string
}

// DefaultConfig returns default storage configuration
func DefaultConfig() *Config {
	return &Config{
		Backend:          "badger",
		Path:             "./data",
		CompressionLevel: 3,
		MemoryCapacity:   256,
		RedisAddr:        "localhost:6379",
		RedisPrefix:      "minigraph:",
	}
}

// Open creates the blob store selected by cfg.Backend
func Open(ctx context.Context, cfg *Config) (BlobStore, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Backend {
	case "", "badger":
		return NewBadgerStore(cfg)
	case "memory":
		return NewMemoryStore(cfg.MemoryCapacity, 0), nil
	case "redis":
		return NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisPrefix)
	case "sqlite":
		return NewSQLiteStore(filepath.Join(cfg.Path, "cache.db"))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// badgerStore implements BlobStore using BadgerDB
type badgerStore struct {
	db *badger.DB
	mu sync.RWMutex
}

// NewBadgerStore opens a BadgerDB-backed blob store under cfg.Path
func NewBadgerStore(cfg *Config) (BlobStore, error) {
	opts := badger.DefaultOptions(filepath.Join(cfg.Path, "badger"))
	opts.Logger = nil // Disable BadgerDB logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &badgerStore{db: db}, nil
}

// Get implements BlobStore.Get
func (s *badgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			value = append([]byte{}, val...)
			return nil
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	return value, nil
}

// Set implements BlobStore.Set
func (s *badgerStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Clear implements BlobStore.Clear
func (s *badgerStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("failed to drop all keys: %w", err)
	}
	return nil
}

// Close implements BlobStore.Close
func (s *badgerStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
