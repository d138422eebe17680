package bimap

import (
	"context"
	"hash/maphash"
	"sync"
	"sync/atomic"

	"github.com/gogf/gf/v2/errors/gerror"
)

const DefaultShards = 64

var (
	ErrOccupied = gerror.New("slot occupied")
	ErrNotFound = gerror.New("entry not found")
)

// cell exists iff it holds a committed value or a reservation is in flight.
// Readers wait out a sealed cell instead of reading around it.
type cell[V any] struct {
	val    V
	ok     bool
	sealed bool
	busy   chan struct{}
}

type tableShard[K comparable, V any] struct {
	m     sync.RWMutex
	cells map[K]*cell[V]
}

// Table is a sharded concurrent map whose writers first take exclusive
// authorship of a key, then either commit a value or abandon the slot.
// Readers only ever observe committed values, and never the state between
// Seal and the outcome of a slot.
type Table[K comparable, V any] struct {
	seed   maphash.Seed
	shards []tableShard[K, V]
	n      atomic.Int64
}

func NewTable[K comparable, V any](shards int) *Table[K, V] {
	if shards <= 0 {
		shards = DefaultShards
	}

	t := &Table[K, V]{
		seed:   maphash.MakeSeed(),
		shards: make([]tableShard[K, V], shards),
	}
	for i := range t.shards {
		t.shards[i].cells = make(map[K]*cell[V])
	}

	return t
}

func (t *Table[K, V]) shard(k K) *tableShard[K, V] {
	h := maphash.Comparable(t.seed, k)
	return &t.shards[h%uint64(len(t.shards))]
}

// Slot is the exclusive right to write one key. Exactly one of Commit,
// Abandon or Delete takes effect; later calls are ignored.
type Slot[K comparable, V any] struct {
	t    *Table[K, V]
	sh   *tableShard[K, V]
	key  K
	c    *cell[V]
	done bool
}

// Reserve grants exclusive authorship of a vacant key. It waits while
// another writer holds k and fails with ErrOccupied once a value is
// committed under k.
func (t *Table[K, V]) Reserve(ctx context.Context, k K) (*Slot[K, V], error) {
	return t.acquire(ctx, k, false)
}

// Hold grants exclusive authorship of a committed key, so the caller can
// delete it. Readers keep seeing the value until the slot is sealed.
func (t *Table[K, V]) Hold(ctx context.Context, k K) (*Slot[K, V], error) {
	return t.acquire(ctx, k, true)
}

func (t *Table[K, V]) acquire(ctx context.Context, k K, existing bool) (*Slot[K, V], error) {
	sh := t.shard(k)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sh.m.Lock()
		c, found := sh.cells[k]

		switch {
		case found && c.busy != nil:
			busy := c.busy
			sh.m.Unlock()

			select {
			case <-busy:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue

		case found && !existing:
			sh.m.Unlock()
			return nil, ErrOccupied

		case !found && existing:
			sh.m.Unlock()
			return nil, ErrNotFound

		case !found:
			c = &cell[V]{}
			sh.cells[k] = c
		}

		c.busy = make(chan struct{})
		sh.m.Unlock()

		return &Slot[K, V]{t: t, sh: sh, key: k, c: c}, nil
	}
}

func (s *Slot[K, V]) Key() K {
	return s.key
}

// Value returns the committed value of a held slot.
func (s *Slot[K, V]) Value() V {
	s.sh.m.RLock()
	defer s.sh.m.RUnlock()
	return s.c.val
}

// Seal makes readers of the key wait for the slot's outcome. Pairs of
// slots are sealed together so that both change in one step for readers.
func (s *Slot[K, V]) Seal() {
	s.sh.m.Lock()
	defer s.sh.m.Unlock()

	if !s.done {
		s.c.sealed = true
	}
}

// Commit publishes v under the slot's key.
func (s *Slot[K, V]) Commit(v V) {
	s.sh.m.Lock()
	defer s.sh.m.Unlock()

	if s.done {
		return
	}
	s.done = true

	if !s.c.ok {
		s.t.n.Add(1)
	}
	s.c.val = v
	s.c.ok = true
	s.release()
}

// Abandon gives the slot back. A fresh reservation disappears without a
// trace, a held entry keeps its committed value.
func (s *Slot[K, V]) Abandon() {
	s.sh.m.Lock()
	defer s.sh.m.Unlock()

	if s.done {
		return
	}
	s.done = true

	if !s.c.ok {
		delete(s.sh.cells, s.key)
	}
	s.release()
}

// Delete removes the key and its value.
func (s *Slot[K, V]) Delete() {
	s.sh.m.Lock()
	defer s.sh.m.Unlock()

	if s.done {
		return
	}
	s.done = true

	if s.c.ok {
		s.t.n.Add(-1)
	}
	delete(s.sh.cells, s.key)
	s.release()
}

// release wakes waiters; shard lock held.
func (s *Slot[K, V]) release() {
	close(s.c.busy)
	s.c.busy = nil
	s.c.sealed = false
}

// settle returns the cell of k with the shard read lock held, after any
// sealed writer on it is done. Sealed slots resolve without blocking, so the
// wait is short.
func (sh *tableShard[K, V]) settle(k K) (*cell[V], bool) {
	for {
		sh.m.RLock()
		c, found := sh.cells[k]
		if !found || !c.sealed {
			return c, found
		}

		busy := c.busy
		sh.m.RUnlock()
		<-busy
	}
}

func (t *Table[K, V]) Load(k K) (v V, ok bool) {
	sh := t.shard(k)

	c, found := sh.settle(k)
	defer sh.m.RUnlock()

	if !found || !c.ok {
		return v, false
	}

	return c.val, true
}

// Read calls fn with the committed value of k under the shard read lock.
// A concurrent Delete of k cannot complete while fn runs.
func (t *Table[K, V]) Read(k K, fn func(V)) bool {
	sh := t.shard(k)

	c, found := sh.settle(k)
	defer sh.m.RUnlock()

	if !found || !c.ok {
		return false
	}

	fn(c.val)
	return true
}

// Contains reports whether k is committed or reserved.
func (t *Table[K, V]) Contains(k K) bool {
	sh := t.shard(k)

	sh.m.RLock()
	defer sh.m.RUnlock()

	_, found := sh.cells[k]
	return found
}

// Len counts committed values.
func (t *Table[K, V]) Len() int {
	return int(t.n.Load())
}

// Range calls fn for a snapshot of each shard's committed values.
func (t *Table[K, V]) Range(fn func(K, V) bool) {
	type kv struct {
		k K
		v V
	}

	var buf []kv
	for i := range t.shards {
		sh := &t.shards[i]

		buf = buf[:0]
		sh.m.RLock()
		for k, c := range sh.cells {
			if c.ok {
				buf = append(buf, kv{k, c.val})
			}
		}
		sh.m.RUnlock()

		for _, e := range buf {
			if !fn(e.k, e.v) {
				return
			}
		}
	}
}
