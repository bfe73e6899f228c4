package handle

import "sync"

// Handle encodes a 32-bit slot index in the lower bits and a 32-bit generation
// in the upper bits. Generation increments on removal to invalidate stale refs.
// Generations start at 1, so the zero Handle never resolves.
type Handle uint64

func newHandle(index uint32, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

func (h Handle) Index() uint32      { return uint32(h) }
func (h Handle) Generation() uint32 { return uint32(h >> 32) }
func (h Handle) IsZero() bool       { return h == 0 }

type slot[T any] struct {
	generation uint32
	live       bool
	value      T
}

// Table stores values behind generation-checked handles with a free list.
// Handles are issued from the simulation goroutine and resolved from the core
// goroutine, so the table carries its own lock.
type Table[T any] struct {
	mu       sync.Mutex
	slots    []slot[T]
	freeList []uint32
}

func NewTable[T any]() *Table[T] {
	return &Table[T]{
		slots:    make([]slot[T], 0, 256),
		freeList: make([]uint32, 0, 64),
	}
}

// Insert stores v and returns a handle to it.
func (t *Table[T]) Insert(v T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.freeList); n > 0 {
		idx := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		s := &t.slots[idx]
		s.live = true
		s.value = v
		return newHandle(idx, s.generation)
	}
	idx := uint32(len(t.slots))
	t.slots = append(t.slots, slot[T]{generation: 1, live: true, value: v})
	return newHandle(idx, 1)
}

// Get resolves h. ok is false once the value behind h has been removed.
func (t *Table[T]) Get(h Handle) (v T, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.lookup(h)
	if s == nil {
		return v, false
	}
	return s.value, true
}

func (t *Table[T]) Alive(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookup(h) != nil
}

// Remove invalidates h and returns the value it referenced.
func (t *Table[T]) Remove(h Handle) (v T, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.lookup(h)
	if s == nil {
		return v, false // already removed (stale reference)
	}
	v = s.value
	var zero T
	s.value = zero
	s.live = false
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	t.freeList = append(t.freeList, h.Index())
	return v, true
}

func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots) - len(t.freeList)
}

func (t *Table[T]) lookup(h Handle) *slot[T] {
	idx := h.Index()
	if int(idx) >= len(t.slots) {
		return nil
	}
	s := &t.slots[idx]
	if !s.live || s.generation != h.Generation() {
		return nil
	}
	return s
}
