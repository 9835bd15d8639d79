package gamestate

import (
	"sort"
	"sync"
)

// Store is the game data shared across entities and levels. String and
// integer values live in separate namespaces. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	strings map[string]string
	ints    map[string]int32
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		strings: make(map[string]string),
		ints:    make(map[string]int32),
	}
}

// Get returns the string value stored under key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.strings[key]
	return v, ok
}

// Set stores value under key and returns the previous value, if any.
func (s *Store) Set(key, value string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.strings[key]
	s.strings[key] = value
	return prev, ok
}

// GetInt returns the integer value stored under key.
func (s *Store) GetInt(key string) (int32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.ints[key]
	return v, ok
}

// SetInt stores value under key and returns the previous value, if any.
func (s *Store) SetInt(key string, value int32) (int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.ints[key]
	s.ints[key] = value
	return prev, ok
}

// Len returns the number of stored keys across both namespaces.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.strings) + len(s.ints)
}

// Keys returns the string and integer keys, each sorted.
func (s *Store) Keys() (strs, ints []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	strs = make([]string, 0, len(s.strings))
	for k := range s.strings {
		strs = append(strs, k)
	}
	ints = make([]string, 0, len(s.ints))
	for k := range s.ints {
		ints = append(ints, k)
	}
	sort.Strings(strs)
	sort.Strings(ints)
	return strs, ints
}

// Snapshot is a point-in-time copy of a Store.
type Snapshot struct {
	Version int               `json:"version"`
	Strings map[string]string `json:"strings"`
	Ints    map[string]int32  `json:"ints"`
}

const snapshotVersion = 1

// Snapshot copies the current contents.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Version: snapshotVersion,
		Strings: make(map[string]string, len(s.strings)),
		Ints:    make(map[string]int32, len(s.ints)),
	}
	for k, v := range s.strings {
		snap.Strings[k] = v
	}
	for k, v := range s.ints {
		snap.Ints[k] = v
	}
	return snap
}

// Restore replaces the contents with snap.
func (s *Store) Restore(snap Snapshot) {
	strs := make(map[string]string, len(snap.Strings))
	for k, v := range snap.Strings {
		strs[k] = v
	}
	ints := make(map[string]int32, len(snap.Ints))
	for k, v := range snap.Ints {
		ints[k] = v
	}
	s.mu.Lock()
	s.strings = strs
	s.ints = ints
	s.mu.Unlock()
}
