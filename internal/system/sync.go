package system

import (
	"context"
	"errors"
	"time"

	coresys "github.com/l1jgo/coresync/internal/core/system"
	"github.com/l1jgo/coresync/internal/coreobject"
	"go.uber.org/zap"
)

// SyncSystem pushes every dirty object to the core thread. Phase 3 (Sync).
// It blocks only when the core thread is a full arena ring behind.
type SyncSystem struct {
	ctx       context.Context
	sched     *coreobject.Scheduler
	transport coreobject.Transport
	last      coreobject.BatchStats
	failures  uint64
	log       *zap.Logger
}

// NewSyncSystem binds the scheduler to a transport. ctx bounds the wait for
// a free frame arena; cancelling it lets a stuck frame loop exit.
func NewSyncSystem(ctx context.Context, sched *coreobject.Scheduler, transport coreobject.Transport, log *zap.Logger) *SyncSystem {
	return &SyncSystem{ctx: ctx, sched: sched, transport: transport, log: log}
}

func (s *SyncSystem) Phase() coresys.Phase { return coresys.PhaseSync }

func (s *SyncSystem) Update(_ time.Duration) {
	stats, err := s.sched.SyncToCore(s.ctx, s.transport)
	s.last = stats
	if err == nil {
		return
	}
	s.failures++
	if errors.Is(err, context.Canceled) {
		s.log.Debug("sync skipped, shutting down")
		return
	}
	s.log.Warn("sync pass incomplete", zap.Uint64("frame", stats.Frame), zap.Error(err))
}

// Last returns the stats of the most recent pass.
func (s *SyncSystem) Last() coreobject.BatchStats { return s.last }

// Failures counts passes that returned an error.
func (s *SyncSystem) Failures() uint64 { return s.failures }
