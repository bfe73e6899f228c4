package coreobject

import "github.com/l1jgo/coresync/internal/core/handle"

// Entry is one captured payload on its way to a counterpart.
type Entry struct {
	Object      ID
	Counterpart handle.Handle // weak; may have expired by upload time
	SyncID      uint64
	Flags       Flags // object's dirty mask at capture
	Payload     Payload
}

// Batch is everything captured by one sync pass, in application order.
// Dependencies precede their dependants.
type Batch struct {
	Frame   uint64
	Entries []Entry
}

// Bytes sums the payload sizes.
func (b *Batch) Bytes() int {
	n := 0
	for i := range b.Entries {
		n += b.Entries[i].Payload.Size()
	}
	return n
}

// BatchStats summarizes the download phase of one pass.
type BatchStats struct {
	Frame     uint64
	Captured  int // dirty objects downloaded this pass
	Destroyed int // teardown payloads carried over from Unregister
	Detached  int // dirty objects without a live counterpart, marked clean
	Omitted   int // dirty objects gone before download
	Failed    int // downloads that errored; objects stay dirty
	Bytes     int
}

// Entries reports how many entries the batch carries.
func (s BatchStats) Entries() int { return s.Captured + s.Destroyed }

// UploadCounters are totals updated by upload commands on the core thread.
type UploadCounters struct {
	Applied uint64 // payloads handed to ApplySync
	Expired uint64 // entries whose counterpart was already destroyed
	Stale   uint64 // entries older than the counterpart's last applied sync
}
