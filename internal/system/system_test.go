package system

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/l1jgo/coresync/internal/core/event"
	"github.com/l1jgo/coresync/internal/core/handle"
	coresys "github.com/l1jgo/coresync/internal/core/system"
	"github.com/l1jgo/coresync/internal/coreobject"
	"github.com/l1jgo/coresync/internal/coreq"
	"github.com/l1jgo/coresync/internal/data"
	"github.com/l1jgo/coresync/internal/frame"
	"github.com/l1jgo/coresync/internal/monitor"
	"github.com/l1jgo/coresync/internal/persist"
	"github.com/l1jgo/coresync/internal/scene"
	"go.uber.org/zap/zaptest"
)

type scriptFunc func(frame uint64, dt time.Duration) error

func (f scriptFunc) OnFrame(frame uint64, dt time.Duration) error { return f(frame, dt) }

type fakeJournal struct {
	batches []persist.JournalBatch
	fail    error
}

func (f *fakeJournal) Append(_ context.Context, b []persist.JournalBatch) error {
	if f.fail != nil {
		return f.fail
	}
	f.batches = append(f.batches, b...)
	return nil
}

type pruningJournal struct {
	fakeJournal
	keepFrom []uint64
}

func (p *pruningJournal) Prune(_ context.Context, keepFrom uint64) (int64, error) {
	p.keepFrom = append(p.keepFrom, keepFrom)
	return 1, nil
}

type fakeBroadcaster struct {
	polls  int
	frames [][]byte
}

func (f *fakeBroadcaster) Poll()              { f.polls++ }
func (f *fakeBroadcaster) Broadcast(b []byte) { f.frames = append(f.frames, b) }

type loop struct {
	bus     *event.Bus
	reg     *coreobject.Registry
	sched   *coreobject.Scheduler
	ring    *frame.Ring
	queue   *coreq.Queue
	scene   *scene.Scene
	runner  *coresys.Runner
	sync    *SyncSystem
	journal *JournalSystem
	mon     *MonitorSystem
	clean   *CleanupSystem
	out     *fakeBroadcaster
	store   *fakeJournal
}

func newLoop(t *testing.T, script scriptFunc) *loop {
	t.Helper()
	log := zaptest.NewLogger(t)
	l := &loop{
		bus:   event.NewBus(),
		ring:  frame.NewRing(2, 4096, true),
		queue: coreq.New(log),
		out:   &fakeBroadcaster{},
		store: &fakeJournal{},
	}
	l.queue.Start()
	t.Cleanup(l.queue.Stop)

	l.reg = coreobject.NewRegistry(l.bus, log)
	l.sched = coreobject.NewScheduler(l.reg, handle.NewTable[coreobject.Counterpart](), l.ring, log)
	l.scene = scene.New(l.sched, l.queue, log)
	m, err := data.ParseSceneManifest([]byte(`
shaders: [{ name: lit, vertex: vs, fragment: fs }]
textures: [{ name: albedo, width: 64, height: 64, format: rgba8 }]
materials: [{ name: floor, shader: lit, textures: [albedo] }]
cameras: [{ name: main }]
`))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.scene.Load(m); err != nil {
		t.Fatal(err)
	}

	l.runner = coresys.NewRunner()
	l.sync = NewSyncSystem(context.Background(), l.sched, l.queue, log)
	l.journal = NewJournalSystem(l.sched, l.store, 2, true, log)
	l.mon = NewMonitorSystem(l.out, l.sync, l.sched, l.queue, l.ring)
	l.clean = NewCleanupSystem(l.scene)
	l.runner.Register(l.clean)
	l.runner.Register(l.mon)
	l.runner.Register(l.journal)
	l.runner.Register(l.sync)
	l.runner.Register(NewScriptSystem(script))
	l.runner.Register(NewEventDispatchSystem(l.bus))
	return l
}

func (l *loop) tick(t *testing.T) {
	t.Helper()
	l.runner.Tick(16 * time.Millisecond)
	if err := l.queue.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestFrameLoopSyncsScriptChanges(t *testing.T) {
	var frames []uint64
	var l *loop
	l = newLoop(t, func(f uint64, _ time.Duration) error {
		frames = append(frames, f)
		return l.scene.MoveCamera("main", float32(f), 0, 0)
	})

	l.tick(t)
	if got := l.sync.Last(); got.Captured != 4 {
		t.Fatalf("first frame should sync all 4 objects, got %+v", got)
	}
	l.tick(t)
	if got := l.sync.Last(); got.Captured != 1 || got.Frame != 1 {
		t.Fatalf("second frame should sync only the camera, got %+v", got)
	}
	if len(frames) != 2 || frames[1] != 2 {
		t.Fatalf("unexpected script frames %v", frames)
	}

	stats, err := monitor.DecodeStats(l.out.frames[len(l.out.frames)-1])
	if err != nil {
		t.Fatal(err)
	}
	if stats.Objects != 4 || stats.Captured != 1 || stats.Applied < 4 {
		t.Fatalf("unexpected monitor stats %+v", stats)
	}
	if l.out.polls != 2 {
		t.Fatalf("expected 2 polls, got %d", l.out.polls)
	}
}

func TestJournalFlushesOnInterval(t *testing.T) {
	var l *loop
	l = newLoop(t, func(f uint64, _ time.Duration) error {
		return l.scene.SetMaterialParam("floor", "t", float32(f))
	})

	l.tick(t)
	if len(l.store.batches) != 0 || l.journal.Pending() != 1 {
		t.Fatalf("journal flushed early: stored=%d pending=%d", len(l.store.batches), l.journal.Pending())
	}
	l.tick(t)
	if len(l.store.batches) != 2 || l.journal.Pending() != 0 {
		t.Fatalf("expected 2 stored batches, got %d (pending %d)", len(l.store.batches), l.journal.Pending())
	}
	first := l.store.batches[0]
	if len(first.Entries) != 4 || first.Payloads == nil {
		t.Fatalf("unexpected first batch %+v", first)
	}
	payloads, err := persist.DecodePayloads(first.Payloads, first.Digest)
	if err != nil {
		t.Fatalf("decode journal payloads: %v", err)
	}
	if len(payloads) != 4 || len(payloads[0]) != first.Entries[0].Size {
		t.Fatalf("journal payloads do not match entries")
	}
}

func TestJournalKeepsBatchesWhenWriterFails(t *testing.T) {
	l := newLoop(t, func(uint64, time.Duration) error { return nil })
	l.store.fail = errors.New("db down")
	l.tick(t)
	l.tick(t)
	if l.journal.Pending() != 1 || l.journal.Written() != 0 {
		t.Fatalf("expected the batch to stay pending, got %d", l.journal.Pending())
	}
	l.store.fail = nil
	l.journal.Flush()
	if len(l.store.batches) != 1 || l.journal.Pending() != 0 {
		t.Fatalf("retry did not store the batch")
	}
}

func TestCleanupDestroysAfterSync(t *testing.T) {
	var l *loop
	l = newLoop(t, func(f uint64, _ time.Duration) error {
		if f == 2 {
			return l.scene.MarkForDestruction("main")
		}
		return nil
	})
	var unregistered []coreobject.ID
	event.Subscribe(l.bus, func(ev coreobject.ObjectUnregistered) {
		unregistered = append(unregistered, ev.Object)
	})
	id := l.scene.Camera("main").ID()

	l.tick(t)
	l.tick(t)
	if l.clean.Destroyed() != 1 || l.scene.Camera("main") != nil {
		t.Fatalf("camera not destroyed at end of frame 2")
	}
	l.tick(t)
	if len(unregistered) != 1 || unregistered[0] != id {
		t.Fatalf("expected unregister event for %d, got %v", id, unregistered)
	}
}

func TestSyncSystemRecordsCancellation(t *testing.T) {
	log := zaptest.NewLogger(t)
	ring := frame.NewRing(1, 1024, true)
	reg := coreobject.NewRegistry(nil, log)
	sched := coreobject.NewScheduler(reg, handle.NewTable[coreobject.Counterpart](), ring, log)
	held, err := ring.Acquire(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewSyncSystem(ctx, sched, coreq.New(log), log)
	s.Update(0)
	if s.Failures() != 1 {
		t.Fatalf("expected one failed pass, got %d", s.Failures())
	}
}

func TestJournalPrunesToRetention(t *testing.T) {
	l := newLoop(t, func(uint64, time.Duration) error { return nil })
	store := &pruningJournal{}
	j := NewJournalSystem(l.sched, store, 1, false, zaptest.NewLogger(t)).WithRetention(2)

	for i := 0; i < 4; i++ {
		if err := l.scene.MoveCamera("main", float32(i), 0, 0); err != nil {
			t.Fatal(err)
		}
		l.tick(t)
		j.Update(0)
	}
	// Frames 0..3 are written one per flush. Keeping two frames means the
	// first prune happens after frame 2 and keeps frames 1 and 2.
	want := []uint64{1, 2}
	if len(store.keepFrom) != len(want) {
		t.Fatalf("expected prune calls %v, got %v", want, store.keepFrom)
	}
	for i := range want {
		if store.keepFrom[i] != want[i] {
			t.Fatalf("expected prune calls %v, got %v", want, store.keepFrom)
		}
	}
}
