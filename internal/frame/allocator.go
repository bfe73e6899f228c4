// Package frame provides the per-frame scoped allocation used by the sync
// download phase. Memory handed out by an Arena stays valid until the arena
// is reset, which only happens once the batch that referenced it has been
// consumed on the core thread.
package frame

import (
	"errors"
	"fmt"
)

// ErrExhausted is returned when an arena cannot satisfy a request and is not
// allowed to grow.
var ErrExhausted = errors.New("frame: arena exhausted")

// Allocator hands out byte buffers with a caller-managed lifetime.
type Allocator interface {
	Alloc(size int) ([]byte, error)
}

// Heap allocates every buffer from the Go heap. Used where no frame is open,
// e.g. single-object syncs and teardown payloads.
type Heap struct{}

func (Heap) Alloc(size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("frame: negative alloc %d", size)
	}
	return make([]byte, size), nil
}

// Arena is a bump allocator over one or more fixed chunks. Not safe for
// concurrent use; the simulation goroutine owns it while a lease is open.
type Arena struct {
	chunkSize int
	grow      bool
	chunks    [][]byte
	cur       int // index of the chunk being filled
	off       int // offset into chunks[cur]
	used      int
	allocs    int
}

func NewArena(chunkSize int, grow bool) *Arena {
	return &Arena{
		chunkSize: chunkSize,
		grow:      grow,
		chunks:    [][]byte{make([]byte, chunkSize)},
	}
}

// Alloc returns a zeroed buffer of exactly size bytes. The returned slice has
// its capacity clipped so appends cannot spill into neighbouring allocations.
func (a *Arena) Alloc(size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("frame: negative alloc %d", size)
	}
	if size == 0 {
		a.allocs++
		return []byte{}, nil
	}
	for {
		chunk := a.chunks[a.cur]
		if a.off+size <= len(chunk) {
			b := chunk[a.off : a.off+size : a.off+size]
			clear(b)
			a.off += size
			a.used += size
			a.allocs++
			return b, nil
		}
		if a.cur+1 < len(a.chunks) && size <= len(a.chunks[a.cur+1]) {
			a.cur++
			a.off = 0
			continue
		}
		if !a.grow {
			return nil, fmt.Errorf("alloc %d bytes with %d used of %d: %w", size, a.used, a.Capacity(), ErrExhausted)
		}
		n := a.chunkSize
		if size > n {
			n = size
		}
		// Chunks past cur are either too small or absent; insert a fitting one next.
		a.chunks = append(a.chunks, nil)
		copy(a.chunks[a.cur+2:], a.chunks[a.cur+1:])
		a.chunks[a.cur+1] = make([]byte, n)
		a.cur++
		a.off = 0
	}
}

// Reset makes every chunk available again. Buffers previously returned by
// Alloc must no longer be referenced.
func (a *Arena) Reset() {
	a.cur = 0
	a.off = 0
	a.used = 0
	a.allocs = 0
}

// Used reports bytes handed out since the last reset.
func (a *Arena) Used() int { return a.used }

// Allocs reports allocations since the last reset.
func (a *Arena) Allocs() int { return a.allocs }

// Capacity reports total bytes across all chunks.
func (a *Arena) Capacity() int {
	n := 0
	for _, c := range a.chunks {
		n += len(c)
	}
	return n
}
