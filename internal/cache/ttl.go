package cache

import (
	"sync"
	"time"
)

// entry は値とその取得時刻です。
type entry[V any] struct {
	value      V
	capturedAt time.Time
}

// ttlStore は取得時刻から ttl を過ぎたエントリをミスとして扱うマップです。
// 期限切れのエントリは読み出し時に削除されます。
type ttlStore[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[K]entry[V]
}

func newTTLStore[K comparable, V any](ttl time.Duration) *ttlStore[K, V] {
	return &ttlStore[K, V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[K]entry[V]),
	}
}

func (s *ttlStore[K, V]) get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if s.now().Sub(e.capturedAt) > s.ttl {
		delete(s.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (s *ttlStore[K, V]) set(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry[V]{value: value, capturedAt: s.now()}
}

func (s *ttlStore[K, V]) delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *ttlStore[K, V]) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[K]entry[V])
}

func (s *ttlStore[K, V]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
