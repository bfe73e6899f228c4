package coreobject

import (
	"fmt"
	"slices"
	"sync"

	"github.com/l1jgo/coresync/internal/core/event"
	"github.com/l1jgo/coresync/internal/frame"
	"go.uber.org/zap"
)

// Registry owns object identity, the dirty set and the dependency graph.
// Day-to-day calls come from the simulation goroutine, but destruction can
// happen elsewhere, so every table sits behind one mutex. Object callbacks
// (DownloadSync, Dependencies) are always invoked without the lock held.
type Registry struct {
	mu           sync.Mutex
	objects      map[ID]Object
	dirty        map[ID]Object
	dependencies map[ID][]ID // x -> objects x depends on
	dependants   map[ID][]ID // y -> objects depending on y
	destroyed    []Entry     // final payloads of objects unregistered while dirty
	nextID       ID
	nextSyncID   uint64

	bus *event.Bus
	log *zap.Logger
}

// NewRegistry creates an empty registry. bus may be nil.
func NewRegistry(bus *event.Bus, log *zap.Logger) *Registry {
	return &Registry{
		objects:      make(map[ID]Object, 256),
		dirty:        make(map[ID]Object, 64),
		dependencies: make(map[ID][]ID, 64),
		dependants:   make(map[ID][]ID, 64),
		bus:          bus,
		log:          log,
	}
}

// Register assigns obj a fresh ID and queues it, fully dirty, for the next
// sync. Its Dependencies are recorded straight away.
func (r *Registry) Register(obj Object) (ID, error) {
	b := obj.base()
	r.mu.Lock()
	if b.reg != nil {
		id := b.id
		r.mu.Unlock()
		r.log.Warn("object registered twice", zap.Uint64("id", uint64(id)))
		return id, fmt.Errorf("register object %d: %w", id, ErrAlreadyRegistered)
	}
	r.nextID++
	id := r.nextID
	b.id = id
	b.reg = r
	b.self = obj
	b.flags = AllDirty
	r.objects[id] = obj
	r.dirty[id] = obj
	r.mu.Unlock()

	if deps := obj.Dependencies(); len(deps) > 0 {
		r.mu.Lock()
		if r.objects[id] != nil {
			r.setDependenciesLocked(id, deps)
		}
		r.mu.Unlock()
	}
	return id, nil
}

// Unregister removes obj and prunes every dependency edge touching it. If
// obj was waiting for a sync its final payload is captured now, on the heap,
// and delivered ahead of the next batch. A second call is a logged no-op.
func (r *Registry) Unregister(obj Object) error {
	b := obj.base()
	r.mu.Lock()
	id := b.id
	if b.reg != r || r.objects[id] == nil {
		r.mu.Unlock()
		r.log.Warn("unregister of unknown object", zap.Uint64("id", uint64(id)))
		return fmt.Errorf("unregister object %d: %w", id, ErrNotRegistered)
	}
	delete(r.objects, id)
	_, wasDirty := r.dirty[id]
	delete(r.dirty, id)

	for _, dep := range r.dependencies[id] {
		r.unlinkLocked(r.dependants, dep, id)
	}
	for _, d := range r.dependants[id] {
		r.unlinkLocked(r.dependencies, d, id)
	}
	delete(r.dependencies, id)
	delete(r.dependants, id)

	b.reg = nil
	b.self = nil
	h := b.counterpart
	var syncID uint64
	if wasDirty && !h.IsZero() {
		r.nextSyncID++
		syncID = r.nextSyncID
	}
	r.mu.Unlock()

	if syncID != 0 {
		flags := b.flags
		p, err := obj.DownloadSync(frame.Heap{})
		if err != nil {
			r.log.Error("final download failed, dropping teardown payload",
				zap.Uint64("id", uint64(id)), zap.Error(err))
		} else {
			r.mu.Lock()
			r.destroyed = append(r.destroyed, Entry{
				Object:      id,
				Counterpart: h,
				SyncID:      syncID,
				Flags:       flags,
				Payload:     p,
			})
			r.mu.Unlock()
		}
	}
	b.flags = 0

	event.Emit(r.bus, ObjectUnregistered{Object: id})
	return nil
}

// NotifyDirty queues obj for the next sync. Idempotent.
func (r *Registry) NotifyDirty(obj Object) error {
	b := obj.base()
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.reg != r || r.objects[b.id] == nil {
		r.log.Warn("dirty notification for unknown object", zap.Uint64("id", uint64(b.id)))
		return fmt.Errorf("notify dirty %d: %w", b.id, ErrNotRegistered)
	}
	r.dirty[b.id] = obj
	return nil
}

// UpdateDependencies replaces obj's dependency list, keeping the dependants
// index symmetric. nil clears it. Self edges, duplicates and ids that are not
// registered are dropped.
func (r *Registry) UpdateDependencies(obj Object, deps []ID) error {
	b := obj.base()
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.reg != r || r.objects[b.id] == nil {
		r.log.Warn("dependency update for unknown object", zap.Uint64("id", uint64(b.id)))
		return fmt.Errorf("update dependencies %d: %w", b.id, ErrNotRegistered)
	}
	r.setDependenciesLocked(b.id, deps)
	return nil
}

// NotifyDependenciesDirty re-reads obj.Dependencies, applies the result and
// publishes DependenciesChanged. Dependants are not marked dirty.
func (r *Registry) NotifyDependenciesDirty(obj Object) error {
	b := obj.base()
	if !r.owns(b) {
		r.log.Warn("dependency notification for unknown object", zap.Uint64("id", uint64(b.id)))
		return fmt.Errorf("notify dependencies %d: %w", b.id, ErrNotRegistered)
	}
	deps := obj.Dependencies()

	r.mu.Lock()
	if r.objects[b.id] == nil {
		r.mu.Unlock()
		return fmt.Errorf("notify dependencies %d: %w", b.id, ErrNotRegistered)
	}
	r.setDependenciesLocked(b.id, deps)
	ev := DependenciesChanged{
		Object:       b.id,
		Dependencies: slices.Clone(r.dependencies[b.id]),
		Dependants:   slices.Clone(r.dependants[b.id]),
	}
	r.mu.Unlock()

	event.Emit(r.bus, ev)
	return nil
}

// ClearDirty forgets every pending change without syncing, including
// captured teardown payloads. Shutdown only.
func (r *Registry) ClearDirty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, obj := range r.dirty {
		obj.base().flags = 0
	}
	clear(r.dirty)
	if n := len(r.destroyed); n > 0 {
		r.log.Debug("dropping teardown payloads", zap.Int("count", n))
	}
	r.destroyed = nil
}

// Lookup returns the live object with the given id.
func (r *Registry) Lookup(id ID) (Object, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[id]
	return obj, ok
}

// Len reports registered objects.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.objects)
}

// IsDirty reports whether id waits for the next sync.
func (r *Registry) IsDirty(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.dirty[id]
	return ok
}

// DirtyCount reports objects waiting for the next sync.
func (r *Registry) DirtyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dirty)
}

// PendingDestroyed reports captured teardown payloads not yet scheduled.
func (r *Registry) PendingDestroyed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.destroyed)
}

// Dependencies returns a copy of the objects id depends on.
func (r *Registry) Dependencies(id ID) []ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.dependencies[id])
}

// Dependants returns a copy of the objects depending on id.
func (r *Registry) Dependants(id ID) []ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.dependants[id])
}

// ObjectIDs returns every registered id in ascending order.
func (r *Registry) ObjectIDs() []ID {
	r.mu.Lock()
	ids := make([]ID, 0, len(r.objects))
	for id := range r.objects {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	slices.Sort(ids)
	return ids
}

func (r *Registry) owns(b *Base) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return b.reg == r && r.objects[b.id] != nil
}

func (r *Registry) isRegistered(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.objects[id] != nil
}

func (r *Registry) issueSyncID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSyncID++
	return r.nextSyncID
}

// takeDirty empties the dirty set and returns its objects by ascending id.
func (r *Registry) takeDirty() []Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Object, 0, len(r.dirty))
	for _, obj := range r.dirty {
		out = append(out, obj)
	}
	clear(r.dirty)
	sortByID(out)
	return out
}

// takeDirtyClosure removes and returns root plus every dirty object reachable
// from it through dirty dependencies. A clean root yields nothing.
func (r *Registry) takeDirtyClosure(root ID) []Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Object
	stack := []ID{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		obj, ok := r.dirty[id]
		if !ok {
			continue
		}
		delete(r.dirty, id)
		out = append(out, obj)
		stack = append(stack, r.dependencies[id]...)
	}
	sortByID(out)
	return out
}

func (r *Registry) takeDestroyed() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.destroyed
	r.destroyed = nil
	return out
}

func (r *Registry) setDependenciesLocked(id ID, deps []ID) {
	clean := make([]ID, 0, len(deps))
	for _, d := range deps {
		if d == id || slices.Contains(clean, d) {
			continue
		}
		if r.objects[d] == nil {
			r.log.Warn("dropping dependency on unregistered object",
				zap.Uint64("id", uint64(id)), zap.Uint64("dependency", uint64(d)))
			continue
		}
		clean = append(clean, d)
	}

	old := r.dependencies[id]
	for _, o := range old {
		if !slices.Contains(clean, o) {
			r.unlinkLocked(r.dependants, o, id)
		}
	}
	for _, n := range clean {
		if !slices.Contains(old, n) {
			r.dependants[n] = append(r.dependants[n], id)
		}
	}
	if len(clean) == 0 {
		delete(r.dependencies, id)
		return
	}
	r.dependencies[id] = clean
}

// unlinkLocked removes v from m[k], dropping the key when the list empties.
func (r *Registry) unlinkLocked(m map[ID][]ID, k, v ID) {
	list := slices.DeleteFunc(m[k], func(x ID) bool { return x == v })
	if len(list) == 0 {
		delete(m, k)
		return
	}
	m[k] = list
}

func sortByID(objs []Object) {
	slices.SortFunc(objs, func(a, b Object) int {
		ai, bi := a.base().id, b.base().id
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	})
}
