// Package cache keeps the list metadata of each provider on disk so list
// names can be shown without a round trip to the provider.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"done/backend"
)

// ErrMiss is returned by Load when no fresh entry exists.
var ErrMiss = errors.New("cache miss")

// ListCache represents the cached list metadata of one provider.
type ListCache struct {
	CreatedAt time.Time      `json:"created_at"`
	Provider  string         `json:"provider"`
	Lists     []backend.List `json:"lists"`
}

// Age returns how old the entry is at now.
func (c *ListCache) Age(now time.Time) time.Duration {
	return now.Sub(c.CreatedAt)
}

// Store reads and writes one JSON file per provider under a directory.
// A zero TTL disables caching.
type Store struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

// New creates a store rooted at dir.
func New(dir string, ttl time.Duration) *Store {
	return &Store{dir: dir, ttl: ttl, now: time.Now}
}

// Enabled reports whether entries are kept at all.
func (s *Store) Enabled() bool {
	return s.ttl > 0
}

// Path returns the file holding provider's lists.
func (s *Store) Path(provider string) string {
	return filepath.Join(s.dir, "lists-"+provider+".json")
}

// Save replaces the entry of provider with lists.
func (s *Store) Save(provider string, lists []backend.List) error {
	if !s.Enabled() {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	data, err := json.MarshalIndent(ListCache{
		CreatedAt: s.now().UTC(),
		Provider:  provider,
		Lists:     lists,
	}, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".lists-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return os.Rename(tmp.Name(), s.Path(provider))
}

// Load returns the entry of provider, or ErrMiss when it is missing,
// expired or unreadable.
func (s *Store) Load(provider string) (*ListCache, error) {
	if !s.Enabled() {
		return nil, ErrMiss
	}
	data, err := os.ReadFile(s.Path(provider))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	var c ListCache
	if err := json.Unmarshal(data, &c); err != nil || c.Provider != provider {
		return nil, ErrMiss
	}
	if c.Age(s.now()) > s.ttl {
		return nil, ErrMiss
	}
	return &c, nil
}

// Invalidate drops the entry of provider.
func (s *Store) Invalidate(provider string) error {
	err := os.Remove(s.Path(provider))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
