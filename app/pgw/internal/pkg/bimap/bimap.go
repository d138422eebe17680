// Package bimap keeps a two-way association between local TEIDs and keys
// supplied from outside the EPC, each pointing at one resource in a shared
// slab. Every live TEID has exactly one key and the reverse; both entries
// name the same slab index.
package bimap

import (
	"context"
	"errors"
	"time"

	"github.com/gogf/gf/v2/errors/gerror"
	"github.com/gogf/gf/v2/os/glog"
	"golang.org/x/sync/errgroup"

	"pgw/app/pgw/internal/pkg/id"
	"pgw/app/pgw/internal/pkg/slab"
)

var log = glog.New()

var (
	ErrTeidInUse = gerror.New("teid already used")
	ErrKeyInUse  = gerror.New("key already used")
	ErrTimeout   = gerror.New("reservation timed out")
)

type Forward[K comparable] struct {
	Key   K
	Index slab.Index
}

type Backward struct {
	TEID  id.TEID
	Index slab.Index
}

type Config struct {
	// Shards per direction, DefaultShards when zero.
	Shards int
	// StoreCapacity bounds the number of resources, zero is unbounded.
	StoreCapacity int
}

type Map[K comparable, T any] struct {
	forward  *Table[id.TEID, Forward[K]]
	backward *Table[K, Backward]
	store    *slab.Store[T]
}

func New[K comparable, T any](c Config) *Map[K, T] {
	return &Map[K, T]{
		forward:  NewTable[id.TEID, Forward[K]](c.Shards),
		backward: NewTable[K, Backward](c.Shards),
		store:    slab.New[T](c.StoreCapacity),
	}
}

// Insert publishes teid <-> key for res. Both slots are reserved
// concurrently and the attempt fails as soon as either one is taken or the
// budget runs out; slots won by a failed attempt are abandoned. The
// resource is stored before either entry becomes visible, and readers of
// either end wait while the pair is being published.
func (m *Map[K, T]) Insert(ctx context.Context, teid id.TEID, key K, res T, budget time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var (
		f *Slot[id.TEID, Forward[K]]
		b *Slot[K, Backward]
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s, err := m.forward.Reserve(gctx, teid)
		if err != nil {
			return cause(err, ErrTeidInUse)
		}
		f = s
		return nil
	})

	g.Go(func() error {
		s, err := m.backward.Reserve(gctx, key)
		if err != nil {
			return cause(err, ErrKeyInUse)
		}
		b = s
		return nil
	})

	if err := g.Wait(); err != nil {
		if f != nil {
			f.Abandon()
		}
		if b != nil {
			b.Abandon()
		}
		return err
	}

	idx, err := m.store.Insert(res)
	if err != nil {
		f.Abandon()
		b.Abandon()
		return gerror.Wrapf(err, "store resource for %s", teid)
	}

	f.Seal()
	b.Seal()
	f.Commit(Forward[K]{Key: key, Index: idx})
	b.Commit(Backward{TEID: teid, Index: idx})

	return nil
}

func cause(err, occupied error) error {
	switch {
	case errors.Is(err, ErrOccupied):
		return occupied
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return err
	}
}

func (m *Map[K, T]) Lookup(teid id.TEID) (key K, ref slab.Ref[T], ok bool) {
	ok = m.forward.Read(teid, func(f Forward[K]) {
		key = f.Key
		ref = m.store.MustGet(f.Index)
	})
	return
}

func (m *Map[K, T]) LookupKey(key K) (teid id.TEID, ref slab.Ref[T], ok bool) {
	ok = m.backward.Read(key, func(b Backward) {
		teid = b.TEID
		ref = m.store.MustGet(b.Index)
	})
	return
}

// InUse reports whether teid is published or reserved.
func (m *Map[K, T]) InUse(teid id.TEID) bool {
	return m.forward.Contains(teid)
}

// Remove unpublishes teid and its key, then frees the resource.
func (m *Map[K, T]) Remove(ctx context.Context, teid id.TEID) (K, error) {
	f, err := m.forward.Hold(ctx, teid)
	if err != nil {
		var zero K
		return zero, err
	}

	key := f.Value().Key
	b, err := m.backward.Hold(ctx, key)
	if err != nil {
		f.Abandon()
		return key, err
	}

	m.drop(f, b)
	return key, nil
}

// RemoveKey is Remove addressed by key. It returns the resource that was
// freed, which stays readable through the ref. The forward entry is always
// held first so concurrent removals from either end cannot deadlock.
func (m *Map[K, T]) RemoveKey(ctx context.Context, key K) (id.TEID, slab.Ref[T], error) {
	for {
		bw, ok := m.backward.Load(key)
		if !ok {
			return 0, slab.Ref[T]{}, ErrNotFound
		}

		f, err := m.forward.Hold(ctx, bw.TEID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return bw.TEID, slab.Ref[T]{}, err
		}

		if f.Value().Key != key {
			f.Abandon()
			continue
		}

		b, err := m.backward.Hold(ctx, key)
		if err != nil {
			f.Abandon()
			return bw.TEID, slab.Ref[T]{}, err
		}

		return bw.TEID, m.drop(f, b), nil
	}
}

func (m *Map[K, T]) drop(f *Slot[id.TEID, Forward[K]], b *Slot[K, Backward]) slab.Ref[T] {
	fw, bw := f.Value(), b.Value()
	if bw.TEID != f.Key() || bw.Index != fw.Index {
		log.Panicf(context.Background(), "inconsistent entry %s: backward %s/%s, forward %s",
			f.Key(), bw.TEID, bw.Index, fw.Index)
	}
	ref := m.store.MustGet(fw.Index)

	f.Seal()
	b.Seal()
	b.Delete()
	f.Delete()

	if !m.store.Remove(fw.Index) {
		log.Panicf(context.Background(), "resource %s of %s already freed", fw.Index, f.Key())
	}
	return ref
}

// Forward and Backward expose the underlying tables, mainly so tests can
// park a writer on a slot.
func (m *Map[K, T]) Forward() *Table[id.TEID, Forward[K]] {
	return m.forward
}

func (m *Map[K, T]) Backward() *Table[K, Backward] {
	return m.backward
}

func (m *Map[K, T]) Len() int {
	return m.forward.Len()
}

func (m *Map[K, T]) Range(fn func(id.TEID, K, slab.Ref[T]) bool) {
	m.forward.Range(func(teid id.TEID, f Forward[K]) bool {
		ref, ok := m.store.Get(f.Index)
		if !ok {
			// removed after the snapshot
			return true
		}
		return fn(teid, f.Key, ref)
	})
}
