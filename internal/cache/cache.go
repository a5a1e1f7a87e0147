package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is one cached lookup result. OK=false entries are negative results
// (key known to be absent upstream) and expire on the shorter negative TTL.
type Entry[V any] struct {
	Value     V
	FetchedAt time.Time
	Source    string
	OK        bool
}

// FetchFunc loads a value from upstream. found=false records a negative
// result; a non-nil error means the upstream was unavailable and nothing is
// cached.
type FetchFunc[V any] func(ctx context.Context) (value V, found bool, err error)

// Store is a bounded TTL+LRU map with herd suppression: when N callers miss
// the same key concurrently, exactly one upstream fetch runs and the rest
// wait on its result.
type Store[V any] struct {
	capacity int
	ttl      time.Duration
	negTTL   time.Duration

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
	group singleflight.Group
	now   func() time.Time
}

type node[V any] struct {
	key string
	ent Entry[V]
}

// New builds a store holding at most capacity entries. Positive entries
// live for ttl, negative entries for negTTL.
func New[V any](capacity int, ttl, negTTL time.Duration) *Store[V] {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Store[V]{
		capacity: capacity,
		ttl:      ttl,
		negTTL:   negTTL,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

func (s *Store[V]) expired(ent Entry[V]) bool {
	ttl := s.ttl
	if !ent.OK {
		ttl = s.negTTL
	}
	return s.now().After(ent.FetchedAt.Add(ttl))
}

// Get returns the live entry for key, refreshing its LRU position.
func (s *Store[V]) Get(key string) (Entry[V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.items[key]
	if !ok {
		var zero Entry[V]
		return zero, false
	}
	n := elem.Value.(*node[V])
	if s.expired(n.ent) {
		s.ll.Remove(elem)
		delete(s.items, key)
		var zero Entry[V]
		return zero, false
	}
	s.ll.MoveToFront(elem)
	return n.ent, true
}

// Put stores an entry, evicting from the LRU tail past capacity.
func (s *Store[V]) Put(key string, ent Entry[V]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.items[key]; ok {
		elem.Value.(*node[V]).ent = ent
		s.ll.MoveToFront(elem)
		return
	}
	s.items[key] = s.ll.PushFront(&node[V]{key: key, ent: ent})
	for s.ll.Len() > s.capacity {
		tail := s.ll.Back()
		if tail == nil {
			break
		}
		s.ll.Remove(tail)
		delete(s.items, tail.Value.(*node[V]).key)
	}
}

// GetOrFetch returns the cached entry or runs fetch through singleflight.
// Upstream failure returns an OK=false entry and the error; nothing is
// cached in that case so the next caller retries.
func (s *Store[V]) GetOrFetch(ctx context.Context, key, source string, fetch FetchFunc[V]) (Entry[V], error) {
	if ent, ok := s.Get(key); ok {
		return ent, nil
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		if ent, ok := s.Get(key); ok {
			return ent, nil
		}
		value, found, err := fetch(ctx)
		if err != nil {
			var zero Entry[V]
			zero.Source = source
			return zero, err
		}
		ent := Entry[V]{Value: value, FetchedAt: s.now(), Source: source, OK: found}
		s.Put(key, ent)
		return ent, nil
	})
	ent, _ := v.(Entry[V])
	return ent, err
}

// Len reports the number of resident entries, expired or not.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ll.Len()
}

// SetClock overrides the time source. Tests use it to force expiry.
func (s *Store[V]) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
