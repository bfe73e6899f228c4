// Package coreobject keeps simulation-side objects and their core-thread
// counterparts consistent. Simulation code mutates an Object and marks it
// dirty; once per frame the Scheduler downloads every dirty object into a
// frame arena and enqueues one command that applies the payloads to the
// counterparts on the core thread.
package coreobject

import (
	"github.com/l1jgo/coresync/internal/core/handle"
	"github.com/l1jgo/coresync/internal/frame"
)

// ID identifies a registered object. IDs start at 1 and are never reused
// within a Registry; the zero ID means "never registered".
type ID uint64

// Flags is a free-form dirty mask. Object kinds assign their own bits.
type Flags uint32

// AllDirty marks every aspect of an object as changed.
const AllDirty Flags = 0xFFFFFFFF

// Payload is the opaque data one object hands to its counterpart for a
// single sync. Data usually lives in a frame arena and is only valid until
// the batch carrying it has been applied.
type Payload struct {
	Data []byte
}

func (p Payload) Size() int { return len(p.Data) }

// Object is the simulation-thread half of a dual-thread object. Implement it
// by embedding Base and overriding DownloadSync and Dependencies as needed.
type Object interface {
	base() *Base

	// DownloadSync serializes whatever changed since the object was last
	// clean. The result must be allocated from alloc.
	DownloadSync(alloc frame.Allocator) (Payload, error)

	// Dependencies lists objects whose counterparts must be synced before
	// this one's.
	Dependencies() []ID
}

// Base carries the bookkeeping every Object needs. All methods must be called
// from the simulation goroutine.
type Base struct {
	id          ID
	flags       Flags
	reg         *Registry
	self        Object
	counterpart handle.Handle
}

func (b *Base) base() *Base { return b }

func (b *Base) ID() ID { return b.id }

// Registered reports whether the object currently belongs to a registry.
func (b *Base) Registered() bool { return b.reg != nil }

func (b *Base) DirtyFlags() Flags { return b.flags }

func (b *Base) IsDirty() bool { return b.flags != 0 }

// MarkDirty ORs flags into the dirty mask. The clean→dirty transition queues
// the object for the next sync; further marks only accumulate bits.
func (b *Base) MarkDirty(flags Flags) {
	if flags == 0 {
		return
	}
	wasDirty := b.flags != 0
	b.flags |= flags
	if !wasDirty && b.reg != nil {
		_ = b.reg.NotifyDirty(b.self)
	}
}

// MarkClean clears the dirty mask. The scheduler does this right after the
// payload was captured.
func (b *Base) MarkClean() { b.flags = 0 }

// MarkDependenciesDirty tells the registry the result of Dependencies changed.
func (b *Base) MarkDependenciesDirty() {
	if b.reg != nil {
		_ = b.reg.NotifyDependenciesDirty(b.self)
	}
}

// Counterpart returns the weak handle of the core-thread twin, zero if none
// is attached.
func (b *Base) Counterpart() handle.Handle { return b.counterpart }

// DownloadSync produces an empty payload.
func (b *Base) DownloadSync(frame.Allocator) (Payload, error) { return Payload{}, nil }

// Dependencies reports no dependencies.
func (b *Base) Dependencies() []ID { return nil }
