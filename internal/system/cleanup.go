package system

import (
	"time"

	coresys "github.com/l1jgo/coresync/internal/core/system"
)

// DestroyQueue is flushed once per frame.
type DestroyQueue interface {
	FlushDestroyQueue() int
}

// CleanupSystem flushes the deferred object destruction queue at frame end,
// after this frame's sync and journal. Phase 6 (Cleanup).
type CleanupSystem struct {
	queue     DestroyQueue
	destroyed int
}

func NewCleanupSystem(queue DestroyQueue) *CleanupSystem {
	return &CleanupSystem{queue: queue}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(_ time.Duration) {
	s.destroyed += s.queue.FlushDestroyQueue()
}

// Destroyed counts objects destroyed so far.
func (s *CleanupSystem) Destroyed() int { return s.destroyed }
