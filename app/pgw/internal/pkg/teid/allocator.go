package teid

import (
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"pgw/app/pgw/internal/pkg/id"
)

// Allocator hands out candidate TEIDs from an atomic counter. TEID 0 is
// reserved for GTP-U signalling and is never returned.
type Allocator struct {
	counter atomic.Uint32

	m   sync.Mutex
	rnd *rand.Rand
}

// NewAllocator seeds the counter from seed, or randomly when seed is 0.
func NewAllocator(seed uint64) *Allocator {
	if seed == 0 {
		seed = rand.Uint64()
	}

	a := &Allocator{
		rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	a.counter.Store(a.draw())

	return a
}

func (a *Allocator) draw() uint32 {
	a.m.Lock()
	defer a.m.Unlock()
	return a.rnd.Uint32N(math.MaxUint32) + 1
}

// Generate returns the current counter value and advances it.
func (a *Allocator) Generate() id.TEID {
	for {
		if t := a.counter.Add(1) - 1; t != 0 {
			return id.TEID(t)
		}
	}
}

// ResolveCollision redraws until inUse reports a free TEID and restarts the
// counter there, so the next Generate returns it. Concurrent callers each
// redraw; the last store wins.
func (a *Allocator) ResolveCollision(inUse func(id.TEID) bool) id.TEID {
	for {
		t := id.TEID(a.draw())
		if inUse(t) {
			continue
		}
		a.counter.Store(uint32(t))
		return t
	}
}
