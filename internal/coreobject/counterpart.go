package coreobject

// Counterpart is the core-thread half of a dual-thread object. Implement it
// by embedding CounterpartBase and overriding ApplySync. Every method runs on
// the core goroutine, so implementations need no locking.
type Counterpart interface {
	counterpartBase() *CounterpartBase

	// ApplySync decodes a payload produced by the matching Object. It must
	// tolerate receiving unchanged fields again.
	ApplySync(p Payload)
}

// Initializer is implemented by counterparts that need setup on the core
// thread once attached.
type Initializer interface {
	Initialize()
}

// Destroyer is implemented by counterparts that release core-thread resources
// when their owner is destroyed.
type Destroyer interface {
	Destroy()
}

// CounterpartBase tracks the mirror dirty mask and the last applied sync.
type CounterpartBase struct {
	flags    Flags
	lastSync uint64
	syncs    uint64
}

func (c *CounterpartBase) counterpartBase() *CounterpartBase { return c }

// ApplySync ignores the payload.
func (c *CounterpartBase) ApplySync(Payload) {}

// DirtyFlags reports the bits delivered by syncs since the last MarkClean.
func (c *CounterpartBase) DirtyFlags() Flags { return c.flags }

func (c *CounterpartBase) IsDirty() bool { return c.flags != 0 }

// MarkClean is called by the counterpart once it consumed the changes.
func (c *CounterpartBase) MarkClean() { c.flags = 0 }

// LastSyncID is the sync id of the newest payload applied.
func (c *CounterpartBase) LastSyncID() uint64 { return c.lastSync }

// Syncs counts applied payloads.
func (c *CounterpartBase) Syncs() uint64 { return c.syncs }

// accept records an incoming sync. Payloads older than one already applied
// are rejected.
func (c *CounterpartBase) accept(syncID uint64, flags Flags) bool {
	if syncID <= c.lastSync {
		return false
	}
	c.lastSync = syncID
	c.flags |= flags
	c.syncs++
	return true
}
