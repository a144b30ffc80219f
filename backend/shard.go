package backend

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultShards is the shard count used when Options leaves it unset.
const DefaultShards = 32

type shard[V any] struct {
	sync.RWMutex
	items map[string]V
}

// shardedMap is a string keyed map split into independently locked shards.
// A key always lands on the same shard.
type shardedMap[V any] struct {
	shards []*shard[V]
}

func newShardedMap[V any](n int) *shardedMap[V] {
	if n <= 0 {
		n = DefaultShards
	}
	m := &shardedMap[V]{shards: make([]*shard[V], n)}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *shardedMap[V]) shard(key string) *shard[V] {
	return m.shards[murmur3.Sum32([]byte(key))%uint32(len(m.shards))]
}

func (m *shardedMap[V]) get(key string) (V, bool) {
	s := m.shard(key)
	s.RLock()
	v, ok := s.items[key]
	s.RUnlock()
	return v, ok
}

func (m *shardedMap[V]) set(key string, v V) {
	s := m.shard(key)
	s.Lock()
	s.items[key] = v
	s.Unlock()
}

// getOrCreate returns the value under key, storing create() first when the
// key is absent.
func (m *shardedMap[V]) getOrCreate(key string, create func() V) V {
	s := m.shard(key)
	s.RLock()
	v, ok := s.items[key]
	s.RUnlock()
	if ok {
		return v
	}

	s.Lock()
	defer s.Unlock()
	if v, ok = s.items[key]; !ok {
		v = create()
		s.items[key] = v
	}
	return v
}

func (m *shardedMap[V]) len() int {
	n := 0
	for _, s := range m.shards {
		s.RLock()
		n += len(s.items)
		s.RUnlock()
	}
	return n
}
