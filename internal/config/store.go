package config

import "sync/atomic"

// Store holds the current configuration snapshot behind an atomic pointer.
// Readers always see a complete snapshot; hot reload replaces the whole
// snapshot, fields are never mutated in place.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore creates a store seeded with the provided snapshot.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)

	return s
}

// Current returns the active configuration snapshot.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Swap replaces the active snapshot. The snapshot must already be validated.
func (s *Store) Swap(cfg *Config) {
	if cfg == nil {
		return
	}

	s.current.Store(cfg)
}
