// Package slab is an indexed pool that hands out stable indices for inserted
// values. Slots are spread over independently locked shards and recycled
// through per-shard free lists; every index carries the generation of its
// slot, so an index that outlived its value never resolves to a newer one.
package slab

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogf/gf/v2/errors/gerror"
)

const (
	shardBits  = 4
	shardCount = 1 << shardBits
	localBits  = 24
	localMask  = 1<<localBits - 1
)

var ErrFull = gerror.New("slab is full")

// Index is an opaque handle into a Store: generation, shard and local slot.
type Index uint64

func makeIndex(gen uint32, shard, local int) Index {
	return Index(uint64(gen)<<32 | uint64(shard)<<localBits | uint64(local))
}

func (i Index) gen() uint32 { return uint32(i >> 32) }

func (i Index) shard() int { return int(uint32(i)>>localBits) & (shardCount - 1) }

func (i Index) local() int { return int(uint32(i) & localMask) }

func (i Index) String() string {
	return fmt.Sprintf("%d.%d@%d", i.shard(), i.local(), i.gen())
}

// Ref is a read-only view of a stored value. Every lookup of the same slot
// returns the same pointer; callers must not write through it.
type Ref[T any] struct {
	idx Index
	v   *T
}

func (r Ref[T]) Index() Index { return r.idx }

func (r Ref[T]) Value() *T { return r.v }

func (r Ref[T]) Valid() bool { return r.v != nil }

type entry[T any] struct {
	gen uint32
	val *T
}

type shard[T any] struct {
	m     sync.RWMutex
	slots []entry[T]
	free  []int
}

type Store[T any] struct {
	shards   [shardCount]shard[T]
	next     atomic.Uint32
	n        atomic.Int64
	capacity int64
}

// New returns a store holding at most capacity values, 0 means unbounded.
func New[T any](capacity int) *Store[T] {
	return &Store[T]{capacity: int64(capacity)}
}

// Insert moves v into the store and returns its index.
func (s *Store[T]) Insert(v T) (Index, error) {
	if n := s.n.Add(1); s.capacity > 0 && n > s.capacity {
		s.n.Add(-1)
		return 0, ErrFull
	}

	start := int(s.next.Add(1))
	for i := 0; i < shardCount; i++ {
		si := (start + i) & (shardCount - 1)
		if idx, ok := s.shards[si].insert(si, &v); ok {
			return idx, nil
		}
	}

	s.n.Add(-1)
	return 0, ErrFull
}

func (sh *shard[T]) insert(si int, v *T) (Index, bool) {
	sh.m.Lock()
	defer sh.m.Unlock()

	if n := len(sh.free); n > 0 {
		local := sh.free[n-1]
		sh.free = sh.free[:n-1]
		e := &sh.slots[local]
		e.val = v
		return makeIndex(e.gen, si, local), true
	}

	if len(sh.slots) > localMask {
		return 0, false
	}

	sh.slots = append(sh.slots, entry[T]{val: v})
	return makeIndex(0, si, len(sh.slots)-1), true
}

// Get returns the value stored under idx.
func (s *Store[T]) Get(idx Index) (Ref[T], bool) {
	sh := &s.shards[idx.shard()]

	sh.m.RLock()
	defer sh.m.RUnlock()

	local := idx.local()
	if local >= len(sh.slots) {
		return Ref[T]{}, false
	}

	e := sh.slots[local]
	if e.val == nil || e.gen != idx.gen() {
		return Ref[T]{}, false
	}

	return Ref[T]{idx: idx, v: e.val}, true
}

// MustGet is Get for indices the caller obtained from a live table entry.
// A miss means the table and the store disagree, which is a bug.
func (s *Store[T]) MustGet(idx Index) Ref[T] {
	r, ok := s.Get(idx)
	if !ok {
		panic(gerror.Newf("invalid resource index %s", idx))
	}
	return r
}

// Remove frees the slot behind idx. Refs handed out earlier stay readable.
func (s *Store[T]) Remove(idx Index) bool {
	sh := &s.shards[idx.shard()]

	sh.m.Lock()
	defer sh.m.Unlock()

	local := idx.local()
	if local >= len(sh.slots) {
		return false
	}

	e := &sh.slots[local]
	if e.val == nil || e.gen != idx.gen() {
		return false
	}

	e.val = nil
	e.gen++
	sh.free = append(sh.free, local)
	s.n.Add(-1)

	return true
}

func (s *Store[T]) Len() int {
	return int(s.n.Load())
}
