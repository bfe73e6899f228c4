package frame

import (
	"context"
	"sync"
)

// Ring rotates a fixed set of arenas across frames. An arena handed out by
// Acquire is not handed out again until its Lease is released, which the
// upload command does after the core thread consumed the batch. With two
// arenas the simulation may run one frame ahead of the core thread.
type Ring struct {
	slots []*ringSlot
	next  int
}

type ringSlot struct {
	arena *Arena
	free  chan struct{} // holds a token while the slot is available
	frame uint64
}

func NewRing(arenas, chunkSize int, grow bool) *Ring {
	if arenas < 1 {
		arenas = 1
	}
	r := &Ring{slots: make([]*ringSlot, arenas)}
	for i := range r.slots {
		s := &ringSlot{
			arena: NewArena(chunkSize, grow),
			free:  make(chan struct{}, 1),
		}
		s.free <- struct{}{}
		r.slots[i] = s
	}
	return r
}

// Acquire waits until the next arena in rotation has been released, resets it
// and leases it for the given frame. This is the one blocking point between
// the simulation and core threads.
func (r *Ring) Acquire(ctx context.Context, frameIndex uint64) (*Lease, error) {
	s := r.slots[r.next]
	select {
	case <-s.free:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	r.next = (r.next + 1) % len(r.slots)
	s.arena.Reset()
	s.frame = frameIndex
	return &Lease{Arena: s.arena, slot: s, Frame: frameIndex}, nil
}

// Size reports the number of arenas in rotation.
func (r *Ring) Size() int { return len(r.slots) }

// InFlight reports how many arenas are currently leased.
func (r *Ring) InFlight() int {
	n := 0
	for _, s := range r.slots {
		if len(s.free) == 0 {
			n++
		}
	}
	return n
}

// Lease is an arena checked out for one frame's batch.
type Lease struct {
	*Arena
	Frame uint64
	slot  *ringSlot
	once  sync.Once
}

// Release hands the arena back to the ring. Safe to call more than once and
// from any goroutine.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.slot.free <- struct{}{}
	})
}
