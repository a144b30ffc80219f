// Package backend is the process wide in-memory store shared by every
// connection. It holds a flat key space and a key space of hashes.
//
// Stored frames are deep copied on the way in and on the way out, so callers
// may keep or mutate what they pass and what they get back.
package backend

import (
	"sort"
	"sync"

	"github.com/kirk91/miniredis/resp"
)

type Options struct {
	// Shards is the number of independently locked partitions of each key
	// space. Zero means DefaultShards.
	Shards int
}

// hash is the value of one key of the hash key space.
type hash struct {
	sync.RWMutex
	fields map[string]resp.Frame
}

type Backend struct {
	kv     *shardedMap[resp.Frame]
	hashes *shardedMap[*hash]
}

func New(opts Options) *Backend {
	return &Backend{
		kv:     newShardedMap[resp.Frame](opts.Shards),
		hashes: newShardedMap[*hash](opts.Shards),
	}
}

// Get returns the frame stored under key.
func (b *Backend) Get(key string) (resp.Frame, bool) {
	v, ok := b.kv.get(key)
	if !ok {
		return nil, false
	}
	return resp.Clone(v), true
}

// Set stores value under key, replacing any previous value.
func (b *Backend) Set(key string, value resp.Frame) {
	b.kv.set(key, resp.Clone(value))
}

// HGet returns the frame stored under field of the hash at key.
func (b *Backend) HGet(key, field string) (resp.Frame, bool) {
	h, ok := b.hashes.get(key)
	if !ok {
		return nil, false
	}
	h.RLock()
	v, ok := h.fields[field]
	h.RUnlock()
	if !ok {
		return nil, false
	}
	return resp.Clone(v), true
}

// HSet stores value under field of the hash at key, creating the hash when
// it does not exist.
func (b *Backend) HSet(key, field string, value resp.Frame) {
	v := resp.Clone(value)
	h := b.hashes.getOrCreate(key, newHash)
	h.Lock()
	h.fields[field] = v
	h.Unlock()
}

// Field is one entry of a hash.
type Field struct {
	Name  string
	Value resp.Frame
}

// HGetAll returns every field of the hash at key ordered by field name.
func (b *Backend) HGetAll(key string) ([]Field, bool) {
	h, ok := b.hashes.get(key)
	if !ok {
		return nil, false
	}
	h.RLock()
	fields := make([]Field, 0, len(h.fields))
	for name, v := range h.fields {
		fields = append(fields, Field{Name: name, Value: resp.Clone(v)})
	}
	h.RUnlock()

	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields, true
}

// Len returns the number of keys in the flat key space.
func (b *Backend) Len() int {
	return b.kv.len()
}

// HashLen returns the number of hashes.
func (b *Backend) HashLen() int {
	return b.hashes.len()
}

func newHash() *hash {
	return &hash{fields: make(map[string]resp.Frame)}
}
