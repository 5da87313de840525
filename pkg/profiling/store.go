package profiling

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultStoreSize is used when the configured size is not positive.
const DefaultStoreSize = 128

// Store keeps the most recently finished profiles in memory.
type Store struct {
	cache *lru.Cache[string, *Profile]
}

func NewStore(size int) (*Store, error) {
	if size <= 0 {
		size = DefaultStoreSize
	}
	cache, err := lru.New[string, *Profile](size)
	if err != nil {
		return nil, fmt.Errorf("profile store: %w", err)
	}
	return &Store{cache: cache}, nil
}

// Add stores p and reports whether an older profile was evicted for it.
func (s *Store) Add(p *Profile) bool {
	return s.cache.Add(p.ID, p)
}

func (s *Store) Get(id string) (*Profile, bool) {
	return s.cache.Get(id)
}

// Recent lists stored profiles, newest first, without touching recency.
func (s *Store) Recent() []*Profile {
	keys := s.cache.Keys()
	out := make([]*Profile, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if p, ok := s.cache.Peek(keys[i]); ok {
			out = append(out, p)
		}
	}
	return out
}

// Find lists stored profiles accepted by match, newest first.
func (s *Store) Find(match func(*Profile) bool) []*Profile {
	var out []*Profile
	for _, p := range s.Recent() {
		if match(p) {
			out = append(out, p)
		}
	}
	return out
}

func (s *Store) Len() int { return s.cache.Len() }

func (s *Store) Purge() { s.cache.Purge() }
