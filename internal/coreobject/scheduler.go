package coreobject

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/l1jgo/coresync/internal/core/handle"
	"github.com/l1jgo/coresync/internal/frame"
	"go.uber.org/zap"
)

// Transport runs closures on the core thread in FIFO order.
type Transport interface {
	Enqueue(fn func())
}

// Scheduler drives the per-frame sync: download on the simulation goroutine,
// upload as one command on the core thread. All methods except Counters must
// be called from the simulation goroutine.
type Scheduler struct {
	reg          *Registry
	counterparts *handle.Table[Counterpart]
	frames       *frame.Ring
	frameIndex   uint64
	observers    []func(*Batch)

	applied atomic.Uint64
	expired atomic.Uint64
	stale   atomic.Uint64

	log *zap.Logger
}

func NewScheduler(reg *Registry, counterparts *handle.Table[Counterpart], frames *frame.Ring, log *zap.Logger) *Scheduler {
	return &Scheduler{
		reg:          reg,
		counterparts: counterparts,
		frames:       frames,
		log:          log,
	}
}

// Registry returns the registry this scheduler drains.
func (s *Scheduler) Registry() *Registry { return s.reg }

// Frame returns the index the next SyncToCore will use.
func (s *Scheduler) Frame() uint64 { return s.frameIndex }

// OnBatch registers fn to see every batch right after capture, before it is
// enqueued. Payload bytes belong to the frame arena; fn must copy anything it
// keeps.
func (s *Scheduler) OnBatch(fn func(*Batch)) {
	s.observers = append(s.observers, fn)
}

// SyncToCore downloads every dirty object into this frame's arena and
// enqueues one upload command on t. It blocks only while the arena it needs is
// still referenced by an earlier, not yet applied batch.
func (s *Scheduler) SyncToCore(ctx context.Context, t Transport) (BatchStats, error) {
	lease, err := s.frames.Acquire(ctx, s.frameIndex)
	if err != nil {
		return BatchStats{Frame: s.frameIndex}, fmt.Errorf("acquire frame arena: %w", err)
	}
	batch := &Batch{Frame: s.frameIndex}
	s.frameIndex++

	stats := BatchStats{Frame: batch.Frame}
	batch.Entries = append(batch.Entries, s.reg.takeDestroyed()...)
	stats.Destroyed = len(batch.Entries)

	errs := s.capture(batch, s.reg.takeDirty(), lease, &stats)
	s.submit(batch, t, lease.Release)

	if stats.Entries() > 0 || stats.Failed > 0 {
		s.log.Debug("sync batch",
			zap.Uint64("frame", batch.Frame),
			zap.Int("captured", stats.Captured),
			zap.Int("destroyed", stats.Destroyed),
			zap.Int("bytes", stats.Bytes),
		)
	}
	return stats, errors.Join(errs...)
}

// SyncObjectToCore pushes obj and its dirty dependencies right away instead
// of waiting for the frame pass. Payloads are heap allocated, so it never
// blocks on the frame ring.
func (s *Scheduler) SyncObjectToCore(obj Object, t Transport) (BatchStats, error) {
	b := obj.base()
	if !s.reg.owns(b) {
		return BatchStats{}, fmt.Errorf("sync object %d: %w", b.id, ErrNotRegistered)
	}
	batch := &Batch{Frame: s.frameIndex}
	stats := BatchStats{Frame: batch.Frame}
	errs := s.capture(batch, s.reg.takeDirtyClosure(b.id), frame.Heap{}, &stats)
	s.submit(batch, t, nil)
	return stats, errors.Join(errs...)
}

// ClearDirty drops all pending changes. Only for shutdown, when both halves
// are about to be destroyed.
func (s *Scheduler) ClearDirty() {
	s.reg.ClearDirty()
}

// Attach binds cp as obj's core-thread counterpart. cp is initialized on the
// core thread, and obj is marked fully dirty so the next sync pushes its
// complete state.
func (s *Scheduler) Attach(obj Object, cp Counterpart, t Transport) (handle.Handle, error) {
	b := obj.base()
	if !s.reg.owns(b) {
		return 0, fmt.Errorf("attach object %d: %w", b.id, ErrNotRegistered)
	}
	if !b.counterpart.IsZero() && s.counterparts.Alive(b.counterpart) {
		return b.counterpart, fmt.Errorf("attach object %d: %w", b.id, ErrAlreadyAttached)
	}
	h := s.counterparts.Insert(cp)
	b.counterpart = h
	if init, ok := cp.(Initializer); ok {
		t.Enqueue(init.Initialize)
	}
	b.flags |= AllDirty
	if err := s.reg.NotifyDirty(obj); err != nil {
		return h, err
	}
	return h, nil
}

// Destroy unregisters obj, delivers any pending teardown payload, then
// removes and destroys the counterpart on the core thread. Each step is its
// own command so destruction never rides on the payload channel.
func (s *Scheduler) Destroy(obj Object, t Transport) error {
	b := obj.base()
	h := b.counterpart
	if err := s.reg.Unregister(obj); err != nil {
		return err
	}
	if final := s.reg.takeDestroyed(); len(final) > 0 {
		s.submit(&Batch{Frame: s.frameIndex, Entries: final}, t, nil)
	}
	b.counterpart = 0
	if h.IsZero() {
		return nil
	}
	t.Enqueue(func() {
		cp, ok := s.counterparts.Remove(h)
		if !ok {
			return
		}
		if d, ok := cp.(Destroyer); ok {
			d.Destroy()
		}
	})
	return nil
}

// Counters returns upload totals. Safe from any goroutine.
func (s *Scheduler) Counters() UploadCounters {
	return UploadCounters{
		Applied: s.applied.Load(),
		Expired: s.expired.Load(),
		Stale:   s.stale.Load(),
	}
}

// capture downloads objs into batch, dependencies first. A failed download
// leaves the object dirty for the next pass.
func (s *Scheduler) capture(batch *Batch, objs []Object, alloc frame.Allocator, stats *BatchStats) []error {
	pending := make(map[ID]Object, len(objs))
	for _, o := range objs {
		pending[o.base().id] = o
	}
	visited := make(map[ID]bool, len(objs))
	var errs []error

	var visit func(o Object)
	visit = func(o Object) {
		id := o.base().id
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range s.reg.Dependencies(id) {
			if d, ok := pending[dep]; ok {
				visit(d)
			}
		}
		if err := s.captureOne(batch, o, alloc, stats); err != nil {
			errs = append(errs, err)
		}
	}
	for _, o := range objs {
		visit(o)
	}
	return errs
}

func (s *Scheduler) captureOne(batch *Batch, o Object, alloc frame.Allocator, stats *BatchStats) error {
	b := o.base()
	if !s.reg.isRegistered(b.id) {
		stats.Omitted++
		return nil
	}
	h := b.counterpart
	if h.IsZero() || !s.counterparts.Alive(h) {
		b.flags = 0
		stats.Detached++
		return nil
	}
	flags := b.flags
	p, err := o.DownloadSync(alloc)
	if err != nil {
		stats.Failed++
		_ = s.reg.NotifyDirty(o)
		s.log.Error("download sync failed", zap.Uint64("id", uint64(b.id)), zap.Error(err))
		return fmt.Errorf("download object %d: %w", b.id, err)
	}
	b.flags = 0
	batch.Entries = append(batch.Entries, Entry{
		Object:      b.id,
		Counterpart: h,
		SyncID:      s.reg.issueSyncID(),
		Flags:       flags,
		Payload:     p,
	})
	stats.Captured++
	stats.Bytes += p.Size()
	return nil
}

// submit shows batch to observers and enqueues its upload. release runs on
// the core thread after the upload, or immediately for an empty batch.
func (s *Scheduler) submit(batch *Batch, t Transport, release func()) {
	for _, fn := range s.observers {
		fn(batch)
	}
	if len(batch.Entries) == 0 {
		if release != nil {
			release()
		}
		return
	}
	t.Enqueue(func() {
		if release != nil {
			defer release()
		}
		s.upload(batch)
	})
}

// upload runs on the core thread.
func (s *Scheduler) upload(batch *Batch) {
	for i := range batch.Entries {
		e := &batch.Entries[i]
		cp, ok := s.counterparts.Get(e.Counterpart)
		if !ok {
			s.expired.Add(1)
			continue
		}
		if !cp.counterpartBase().accept(e.SyncID, e.Flags) {
			s.stale.Add(1)
			continue
		}
		cp.ApplySync(e.Payload)
		s.applied.Add(1)
	}
}
