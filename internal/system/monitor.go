package system

import (
	"time"

	coresys "github.com/l1jgo/coresync/internal/core/system"
	"github.com/l1jgo/coresync/internal/coreobject"
	"github.com/l1jgo/coresync/internal/frame"
	"github.com/l1jgo/coresync/internal/monitor"
)

// Broadcaster is the frame-loop side of the monitor server.
type Broadcaster interface {
	Poll()
	Broadcast(frame []byte)
}

// QueueDepth reports commands waiting for the core thread.
type QueueDepth interface {
	Pending() int
}

// MonitorSystem streams this frame's sync stats to monitor clients.
// Phase 4 (Output).
type MonitorSystem struct {
	out   Broadcaster
	sync  *SyncSystem
	sched *coreobject.Scheduler
	queue QueueDepth
	ring  *frame.Ring
	last  monitor.Stats
}

func NewMonitorSystem(out Broadcaster, sync *SyncSystem, sched *coreobject.Scheduler, queue QueueDepth, ring *frame.Ring) *MonitorSystem {
	return &MonitorSystem{out: out, sync: sync, sched: sched, queue: queue, ring: ring}
}

func (s *MonitorSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *MonitorSystem) Update(_ time.Duration) {
	s.out.Poll()
	s.last = s.collect()
	s.out.Broadcast(monitor.EncodeStats(s.last))
}

// Last returns the most recently broadcast stats.
func (s *MonitorSystem) Last() monitor.Stats { return s.last }

func (s *MonitorSystem) collect() monitor.Stats {
	b := s.sync.Last()
	c := s.sched.Counters()
	reg := s.sched.Registry()
	return monitor.Stats{
		Frame:        b.Frame,
		Captured:     uint32(b.Captured),
		Destroyed:    uint32(b.Destroyed),
		Detached:     uint32(b.Detached),
		Failed:       uint32(b.Failed),
		Bytes:        uint32(b.Bytes),
		Objects:      uint32(reg.Len()),
		Dirty:        uint32(reg.DirtyCount()),
		Applied:      c.Applied,
		Expired:      c.Expired,
		Stale:        c.Stale,
		QueuePending: uint32(s.queue.Pending()),
		ArenasInUse:  uint8(s.ring.InFlight()),
	}
}

// SceneSnapshot answers monitor snapshot requests from a name→id walk.
func SceneSnapshot(each func(fn func(name string, id coreobject.ID)), reg *coreobject.Registry) func() []monitor.ObjectInfo {
	return func() []monitor.ObjectInfo {
		var out []monitor.ObjectInfo
		each(func(name string, id coreobject.ID) {
			out = append(out, monitor.ObjectInfo{ID: uint64(id), Name: name, Dirty: reg.IsDirty(id)})
		})
		return out
	}
}
