// Package firmware tracks the published board firmware release. Boards poll
// the version endpoint to decide whether to self-update; admins publish a new
// release through the same endpoint.
package firmware

import (
	"context"
	"sync"
)

// Version describes one published firmware release: the version label, where
// to download the image, and its content hash.
type Version struct {
	Version string `json:"version"`
	URL     string `json:"url"`
	Hash    string `json:"hash"`
}

// Text renders the release in the line-oriented form boards parse:
// version, URL, and hash, each newline-terminated. The zero value renders as
// three empty lines, which boards read as "nothing published".
func (v Version) Text() string {
	return v.Version + "\n" + v.URL + "\n" + v.Hash + "\n"
}

// Store persists the single published release.
type Store interface {
	// Get returns the published release; ok is false when none was ever set.
	Get(ctx context.Context) (v Version, ok bool, err error)
	Set(ctx context.Context, v Version) error
}

// MemoryStore keeps the release in process memory. Used by tests and by
// degraded dev mode when no database is configured.
type MemoryStore struct {
	mu  sync.Mutex
	v   Version
	set bool
}

// NewMemoryStore returns an empty in-memory release store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(ctx context.Context) (Version, bool, error) {
	if err := ctx.Err(); err != nil {
		return Version{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v, s.set, nil
}

func (s *MemoryStore) Set(ctx context.Context, v Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = v
	s.set = true
	return nil
}
