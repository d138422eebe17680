// Package teid assigns local tunnel endpoint identifiers and keeps the
// TEID <-> key <-> resource association the gateway forwards with.
package teid

import (
	"context"
	"errors"
	"time"

	"github.com/gogf/gf/v2/errors/gerror"
	"github.com/gogf/gf/v2/os/glog"
	"github.com/rcrowley/go-metrics"

	"pgw/app/pgw/internal/pkg/bimap"
	"pgw/app/pgw/internal/pkg/id"
	"pgw/app/pgw/internal/pkg/slab"
)

var log = glog.New()

var (
	ErrTeidInUse = bimap.ErrTeidInUse
	ErrKeyInUse  = bimap.ErrKeyInUse
	ErrTimeout   = bimap.ErrTimeout
	ErrNotFound  = bimap.ErrNotFound
)

type Config struct {
	// HaltOnDuplicateKey panics instead of returning ErrKeyInUse when a key
	// is registered twice.
	HaltOnDuplicateKey bool
	// StoreCapacity bounds the number of live resources, zero is unbounded.
	StoreCapacity int
	// Shards per lookup direction.
	Shards int
	// Seed for the TEID allocator, random when zero.
	Seed uint64
	// Registry receives the controller counters, a private one when nil.
	Registry metrics.Registry
}

type Controller[K comparable, T any] struct {
	alloc *Allocator
	table *bimap.Map[K, T]
	halt  bool
	reg   metrics.Registry
	stats *stats
}

func New[K comparable, T any](c Config) *Controller[K, T] {
	reg := c.Registry
	if reg == nil {
		reg = metrics.NewRegistry()
	}

	return &Controller[K, T]{
		alloc: NewAllocator(c.Seed),
		table: bimap.New[K, T](bimap.Config{
			Shards:        c.Shards,
			StoreCapacity: c.StoreCapacity,
		}),
		halt:  c.HaltOnDuplicateKey,
		reg:   reg,
		stats: newStats(reg),
	}
}

// AddResource registers res under key and returns the TEID assigned to it.
// A single attempt is made within d: on a TEID collision the allocator is
// reset and ErrTeidInUse returned, on timeout ErrTimeout. Retrying is up to
// the caller.
func (c *Controller[K, T]) AddResource(ctx context.Context, key K, res T, d time.Duration) (id.TEID, error) {
	teid := c.alloc.Generate()

	err := c.table.Insert(ctx, teid, key, res, d)
	switch {
	case err == nil:
		c.stats.success.Inc(1)
		c.stats.live.Update(int64(c.table.Len()))
		log.Debugf(ctx, "assigned %s to %v", teid, key)
		return teid, nil

	case errors.Is(err, ErrTeidInUse):
		c.stats.collision.Inc(1)
		next := c.alloc.ResolveCollision(c.table.InUse)
		log.Infof(ctx, "%s already used, allocator restarted at %s", teid, next)

	case errors.Is(err, ErrKeyInUse):
		c.stats.duplicateKey.Inc(1)
		if c.halt {
			log.Panicf(ctx, "duplicate resource key %v added", key)
		}
		log.Warningf(ctx, "duplicate resource key %v", key)

	case errors.Is(err, ErrTimeout):
		c.stats.timeout.Inc(1)
		log.Debugf(ctx, "add %v timed out after %s", key, d)

	default:
		c.stats.failed.Inc(1)
		log.Errorf(ctx, "add %v failed: %+v", key, err)
	}

	return 0, gerror.Wrapf(err, "add resource for %v", key)
}

// Get resolves a TEID to its key and resource.
func (c *Controller[K, T]) Get(teid id.TEID) (K, slab.Ref[T], bool) {
	key, ref, ok := c.table.Lookup(teid)
	c.stats.lookup(ok)
	return key, ref, ok
}

// GetWithKey resolves a key to its TEID and resource.
func (c *Controller[K, T]) GetWithKey(key K) (id.TEID, slab.Ref[T], bool) {
	teid, ref, ok := c.table.LookupKey(key)
	c.stats.lookup(ok)
	return teid, ref, ok
}

// Release frees teid, its key and its resource.
func (c *Controller[K, T]) Release(ctx context.Context, teid id.TEID) (K, error) {
	key, err := c.table.Remove(ctx, teid)
	if err != nil {
		return key, gerror.Wrapf(err, "release %s", teid)
	}

	c.released(ctx, teid, key)
	return key, nil
}

// ReleaseByKey frees key, its TEID and its resource, and returns the
// resource that was released.
func (c *Controller[K, T]) ReleaseByKey(ctx context.Context, key K) (id.TEID, slab.Ref[T], error) {
	teid, ref, err := c.table.RemoveKey(ctx, key)
	if err != nil {
		return teid, ref, gerror.Wrapf(err, "release %v", key)
	}

	c.released(ctx, teid, key)
	return teid, ref, nil
}

func (c *Controller[K, T]) released(ctx context.Context, teid id.TEID, key K) {
	c.stats.released.Inc(1)
	c.stats.live.Update(int64(c.table.Len()))
	log.Debugf(ctx, "released %s of %v", teid, key)
}

func (c *Controller[K, T]) Len() int {
	return c.table.Len()
}

func (c *Controller[K, T]) Range(fn func(id.TEID, K, slab.Ref[T]) bool) {
	c.table.Range(fn)
}

// Table exposes the association, mainly so tests can place entries under
// chosen TEIDs or park a writer on a key.
func (c *Controller[K, T]) Table() *bimap.Map[K, T] {
	return c.table
}

func (c *Controller[K, T]) Registry() metrics.Registry {
	return c.reg
}
