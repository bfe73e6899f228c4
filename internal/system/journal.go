package system

import (
	"context"
	"time"

	coresys "github.com/l1jgo/coresync/internal/core/system"
	"github.com/l1jgo/coresync/internal/coreobject"
	"github.com/l1jgo/coresync/internal/persist"
	"go.uber.org/zap"
)

// JournalWriter stores journal batches. *persist.SyncJournalRepo implements it.
type JournalWriter interface {
	Append(ctx context.Context, batches []persist.JournalBatch) error
}

// JournalPruner drops journaled batches older than keepFrom.
// *persist.SyncJournalRepo implements it.
type JournalPruner interface {
	Prune(ctx context.Context, keepFrom uint64) (int64, error)
}

// JournalSystem records every sync batch and periodically writes the
// accumulated records in one transaction. Phase 5 (Persist).
type JournalSystem struct {
	writer     JournalWriter
	capture    bool
	pending    []persist.JournalBatch
	maxPending int
	tickCount  int
	interval   int // flush every N frames
	written    uint64
	dropped    uint64
	retain     uint64 // frames kept by Prune, 0 = keep everything
	lastFrame  uint64
	log        *zap.Logger
}

// NewJournalSystem hooks into sched so every captured batch is journaled.
// With capture set the payload bytes are stored lz4-compressed; otherwise
// only their digest is kept.
func NewJournalSystem(sched *coreobject.Scheduler, writer JournalWriter, intervalFrames int, capture bool, log *zap.Logger) *JournalSystem {
	if intervalFrames < 1 {
		intervalFrames = 1
	}
	s := &JournalSystem{
		writer:     writer,
		capture:    capture,
		interval:   intervalFrames,
		maxPending: intervalFrames * 10,
		log:        log,
	}
	sched.OnBatch(s.record)
	return s
}

// WithRetention prunes batches older than the newest frames after each
// successful write, when the writer supports it.
func (s *JournalSystem) WithRetention(frames uint64) *JournalSystem {
	s.retain = frames
	return s
}

func (s *JournalSystem) Phase() coresys.Phase { return coresys.PhasePersist }

// record runs inside SyncToCore while the batch's arena is still owned by
// the simulation side; everything it keeps is copied.
func (s *JournalSystem) record(b *coreobject.Batch) {
	if len(b.Entries) == 0 {
		return
	}
	enc := persist.NewPayloadEncoder(s.capture)
	jb := persist.JournalBatch{
		Frame:   b.Frame,
		Entries: make([]persist.JournalEntry, 0, len(b.Entries)),
	}
	for _, e := range b.Entries {
		enc.Add(e.Payload.Data)
		jb.Entries = append(jb.Entries, persist.JournalEntry{
			Object: uint64(e.Object),
			SyncID: e.SyncID,
			Flags:  uint32(e.Flags),
			Size:   e.Payload.Size(),
		})
	}
	jb.Bytes = enc.Size()
	digest, stream, err := enc.Finish()
	if err != nil {
		s.log.Warn("journal payload capture failed", zap.Uint64("frame", b.Frame), zap.Error(err))
	}
	jb.Digest = digest
	jb.Payloads = stream

	if len(s.pending) >= s.maxPending {
		s.pending = s.pending[1:]
		s.dropped++
	}
	s.pending = append(s.pending, jb)
}

func (s *JournalSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	s.flush()
}

// Flush writes everything pending immediately. Called during shutdown after
// the final sync.
func (s *JournalSystem) Flush() {
	s.flush()
}

func (s *JournalSystem) flush() {
	if len(s.pending) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.writer.Append(ctx, s.pending); err != nil {
		// Keep the records for the next attempt; record drops the oldest
		// once maxPending is reached.
		s.log.Error("journal write failed", zap.Int("batches", len(s.pending)), zap.Error(err))
		return
	}
	s.written += uint64(len(s.pending))
	s.lastFrame = s.pending[len(s.pending)-1].Frame
	s.log.Debug("journal flushed", zap.Int("batches", len(s.pending)))
	s.pending = s.pending[:0]

	s.prune(ctx)
}

func (s *JournalSystem) prune(ctx context.Context) {
	p, ok := s.writer.(JournalPruner)
	if !ok || s.retain == 0 || s.lastFrame < s.retain {
		return
	}
	n, err := p.Prune(ctx, s.lastFrame-s.retain+1)
	if err != nil {
		s.log.Warn("journal prune failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Debug("journal pruned", zap.Int64("batches", n))
	}
}

// Pending reports batches not yet written.
func (s *JournalSystem) Pending() int { return len(s.pending) }

// Written counts batches stored so far.
func (s *JournalSystem) Written() uint64 { return s.written }

// Dropped counts batches discarded because the writer kept failing.
func (s *JournalSystem) Dropped() uint64 { return s.dropped }
