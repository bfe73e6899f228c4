package coreobject

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/l1jgo/coresync/internal/coreq"
	"github.com/l1jgo/coresync/internal/frame"
	"go.uber.org/zap/zaptest"
)

func TestAttachInitializesOnCoreThread(t *testing.T) {
	h := newHarness(t)
	a := h.register()
	cp := &intCounterpart{name: "a", trace: &h.trace}
	hd, err := h.sched.Attach(a, cp, h.tr)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if cp.initialized {
		t.Fatal("initialize ran on the caller's goroutine")
	}
	if a.Counterpart() != hd || !h.cps.Alive(hd) {
		t.Fatal("counterpart handle not recorded")
	}
	h.tr.runAll()
	if !cp.initialized {
		t.Fatal("initialize never ran")
	}
	if _, err := h.sched.Attach(a, &intCounterpart{}, h.tr); !errors.Is(err, ErrAlreadyAttached) {
		t.Fatalf("expected ErrAlreadyAttached, got %v", err)
	}
}

func TestSyncDrainsEveryDirtyObject(t *testing.T) {
	h := newHarness(t)
	var objs []*intObject
	var cps []*intCounterpart
	for i := 0; i < 5; i++ {
		o, cp := h.attached("o")
		objs = append(objs, o)
		cps = append(cps, cp)
	}
	h.settle()

	for i, o := range objs {
		if i%2 == 0 {
			o.set(int32(100+i), 0x1)
		}
	}
	stats := h.sync()
	if stats.Captured != 3 {
		t.Fatalf("expected 3 captured, got %d", stats.Captured)
	}
	if h.reg.DirtyCount() != 0 {
		t.Fatalf("dirty set not drained: %d", h.reg.DirtyCount())
	}
	for _, o := range objs {
		if o.IsDirty() {
			t.Fatalf("object %d still dirty after capture", o.ID())
		}
	}
	h.tr.runAll()
	for i, cp := range cps {
		if i%2 == 0 && cp.value != int32(100+i) {
			t.Fatalf("counterpart %d has %d", i, cp.value)
		}
		if i%2 == 1 && cp.value != 0 {
			t.Fatalf("clean object %d was synced", i)
		}
	}
}

func TestSyncCarriesAccumulatedFlags(t *testing.T) {
	h := newHarness(t)
	a, cp := h.attached("a")
	h.settle()

	a.set(5, 0x1)
	a.set(6, 0x2)
	h.sync()
	if h.reg.IsDirty(a.ID()) {
		t.Fatal("A still in dirty set after sync")
	}
	h.tr.runAll()
	if cp.lastFlags != 0x3 || cp.value != 6 {
		t.Fatalf("expected flags 0x3 value 6, got %#x %d", cp.lastFlags, cp.value)
	}
	if cp.IsDirty() {
		t.Fatal("counterpart should mark itself clean after applying")
	}
}

func TestUploadReflectsValueAtDownload(t *testing.T) {
	h := newHarness(t)
	a, cp := h.attached("a")
	h.settle()

	a.set(7, 0x1)
	h.sync()
	a.set(9, 0x1)
	h.tr.runAll()
	if cp.value != 7 {
		t.Fatalf("expected value captured at download (7), got %d", cp.value)
	}
	h.sync()
	h.tr.runAll()
	if cp.value != 9 {
		t.Fatalf("expected 9 after second sync, got %d", cp.value)
	}
}

func TestDependenciesApplyBeforeDependants(t *testing.T) {
	h := newHarness(t)
	a, _ := h.attached("a")
	b, _ := h.attached("b")
	c, _ := h.attached("c")
	h.settle()

	if err := h.reg.UpdateDependencies(a, []ID{c.ID()}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := h.reg.UpdateDependencies(c, []ID{b.ID()}); err != nil {
		t.Fatalf("update: %v", err)
	}
	a.set(1, 0x1)
	b.set(2, 0x1)
	c.set(3, 0x1)
	h.sync()
	h.tr.runAll()

	want := []string{"apply b", "apply c", "apply a"}
	if !slices.Equal(h.trace, want) {
		t.Fatalf("expected %v, got %v", want, h.trace)
	}
}

func TestObjectWithoutCounterpartIsMarkedClean(t *testing.T) {
	h := newHarness(t)
	a := h.register()
	stats := h.sync()
	if stats.Detached != 1 || stats.Captured != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if a.IsDirty() || h.reg.IsDirty(a.ID()) {
		t.Fatal("detached object should be clean")
	}
	if len(h.tr.cmds) != 0 {
		t.Fatalf("empty batch enqueued %d commands", len(h.tr.cmds))
	}
	if h.ring.InFlight() != 0 {
		t.Fatal("empty batch kept its arena")
	}
}

func TestExpiredCounterpartIsSkipped(t *testing.T) {
	h := newHarness(t)
	a, cp := h.attached("a")
	h.settle()

	a.set(4, 0x1)
	h.sync()
	h.cps.Remove(a.Counterpart())
	h.tr.runAll()

	if cp.value != 0 {
		t.Fatalf("expired counterpart was applied: %d", cp.value)
	}
	if got := h.sched.Counters().Expired; got != 1 {
		t.Fatalf("expected 1 expired, got %d", got)
	}
}

func TestOlderBatchIsRejectedAsStale(t *testing.T) {
	h := newHarness(t)
	a, cp := h.attached("a")
	h.settle()

	a.set(1, 0x1)
	h.sync()
	older := h.tr.cmds
	h.tr.cmds = nil
	a.set(2, 0x1)
	h.sync()
	h.tr.runAll()
	for _, c := range older {
		c()
	}

	if cp.value != 2 {
		t.Fatalf("stale batch overwrote newer state: %d", cp.value)
	}
	if got := h.sched.Counters().Stale; got != 1 {
		t.Fatalf("expected 1 stale, got %d", got)
	}
}

func TestUnregisterWhileDirtyDeliversFinalPayload(t *testing.T) {
	h := newHarness(t)
	a, cp := h.attached("a")
	b, _ := h.attached("b")
	h.settle()

	a.set(11, 0x4)
	if err := h.reg.Unregister(a); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if h.reg.PendingDestroyed() != 1 {
		t.Fatalf("expected one teardown payload, got %d", h.reg.PendingDestroyed())
	}
	b.set(12, 0x1)
	stats := h.sync()
	if stats.Destroyed != 1 || stats.Captured != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	h.tr.runAll()
	if cp.value != 11 || cp.lastFlags != 0x4 {
		t.Fatalf("final payload not applied: value=%d flags=%#x", cp.value, cp.lastFlags)
	}
	if !slices.Equal(h.trace, []string{"apply a", "apply b"}) {
		t.Fatalf("teardown payload should lead the batch, got %v", h.trace)
	}
}

func TestDestroyFlushesThenTearsDown(t *testing.T) {
	h := newHarness(t)
	a, cp := h.attached("a")
	h.settle()

	a.set(21, 0x1)
	if err := h.sched.Destroy(a, h.tr); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if a.Registered() || !a.Counterpart().IsZero() {
		t.Fatal("object still bound after destroy")
	}
	h.tr.runAll()

	want := []string{"apply a", "destroy a"}
	if !slices.Equal(h.trace, want) {
		t.Fatalf("expected %v, got %v", want, h.trace)
	}
	if cp.value != 21 || !cp.destroyed {
		t.Fatalf("unexpected counterpart state %+v", cp)
	}
	if h.cps.Len() != 0 {
		t.Fatalf("counterpart table still holds %d entries", h.cps.Len())
	}
	if stats := h.sync(); stats.Entries() != 0 {
		t.Fatalf("destroyed object resurfaced in %+v", stats)
	}
}

func TestDownloadFailureKeepsObjectDirty(t *testing.T) {
	h := newHarnessWithRing(t, frame.NewRing(1, 4, false))
	a := h.register()
	if _, err := h.sched.Attach(a, &intCounterpart{name: "a"}, h.tr); err != nil {
		t.Fatalf("attach: %v", err)
	}
	h.tr.runAll()

	stats, err := h.sched.SyncToCore(context.Background(), h.tr)
	if !errors.Is(err, frame.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("expected one failure, got %+v", stats)
	}
	if !a.IsDirty() || !h.reg.IsDirty(a.ID()) {
		t.Fatal("failed object must stay dirty")
	}
	if h.ring.InFlight() != 0 {
		t.Fatal("arena leaked after failed pass")
	}
}

func TestLeaseIsReleasedByUpload(t *testing.T) {
	h := newHarness(t)
	a, _ := h.attached("a")
	h.settle()

	a.set(1, 0x1)
	h.sync()
	if h.ring.InFlight() != 1 {
		t.Fatalf("expected one leased arena, got %d", h.ring.InFlight())
	}
	h.tr.runAll()
	if h.ring.InFlight() != 0 {
		t.Fatalf("arena not returned, in flight %d", h.ring.InFlight())
	}
}

func TestSyncBlocksWhenCoreThreadFallsBehind(t *testing.T) {
	h := newHarnessWithRing(t, frame.NewRing(1, 1024, true))
	a, _ := h.attached("a")
	h.sync()

	a.set(1, 0x1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.sched.SyncToCore(ctx, h.tr); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while arena is held, got %v", err)
	}
	if !h.reg.IsDirty(a.ID()) {
		t.Fatal("blocked pass must not consume the dirty set")
	}
	h.tr.runAll()
	if stats := h.sync(); stats.Captured != 1 {
		t.Fatalf("expected capture after release, got %+v", stats)
	}
}

func TestSyncObjectToCorePushesClosureOnly(t *testing.T) {
	h := newHarness(t)
	b, bcp := h.attached("b")
	a, acp := h.attached("a", b.ID())
	c, ccp := h.attached("c")
	h.settle()

	b.set(2, 0x1)
	a.set(1, 0x1)
	c.set(3, 0x1)
	stats, err := h.sched.SyncObjectToCore(a, h.tr)
	if err != nil {
		t.Fatalf("sync object: %v", err)
	}
	if stats.Captured != 2 || len(h.tr.cmds) != 1 {
		t.Fatalf("unexpected stats %+v with %d commands", stats, len(h.tr.cmds))
	}
	if h.ring.InFlight() != 0 {
		t.Fatal("immediate sync should not lease a frame arena")
	}
	h.tr.runAll()
	if !slices.Equal(h.trace, []string{"apply b", "apply a"}) {
		t.Fatalf("unexpected order %v", h.trace)
	}
	if acp.value != 1 || bcp.value != 2 || ccp.value != 0 {
		t.Fatalf("unexpected values a=%d b=%d c=%d", acp.value, bcp.value, ccp.value)
	}
	if !h.reg.IsDirty(c.ID()) {
		t.Fatal("unrelated object lost its dirty state")
	}
}

func TestClearDirtyDropsPendingWork(t *testing.T) {
	h := newHarness(t)
	a, _ := h.attached("a")
	b, _ := h.attached("b")
	h.settle()

	a.set(1, 0x1)
	b.set(2, 0x1)
	if err := h.reg.Unregister(b); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	h.sched.ClearDirty()
	if a.IsDirty() || h.reg.DirtyCount() != 0 || h.reg.PendingDestroyed() != 0 {
		t.Fatal("clear dirty left pending work")
	}
	if stats := h.sync(); stats.Entries() != 0 {
		t.Fatalf("expected empty pass, got %+v", stats)
	}
}

func TestOnBatchSeesCapturedEntries(t *testing.T) {
	h := newHarness(t)
	a, _ := h.attached("a")
	h.settle()

	var seen []Entry
	h.sched.OnBatch(func(b *Batch) { seen = append(seen, b.Entries...) })
	a.set(3, 0x2)
	h.sync()
	if len(seen) != 1 || seen[0].Object != a.ID() || seen[0].Flags != 0x2 {
		t.Fatalf("unexpected observed entries %+v", seen)
	}
	if seen[0].SyncID == 0 {
		t.Fatal("entry has no sync id")
	}
}

func TestSyncOverCoreQueue(t *testing.T) {
	h := newHarness(t)
	q := coreq.New(zaptest.NewLogger(t))
	q.Start()
	defer q.Stop()

	a := h.register()
	cp := &intCounterpart{name: "a"}
	if _, err := h.sched.Attach(a, cp, q); err != nil {
		t.Fatalf("attach: %v", err)
	}
	ctx := context.Background()
	for i := int32(1); i <= 200; i++ {
		a.set(i, 0x1)
		if _, err := h.sched.SyncToCore(ctx, q); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if cp.value != 200 {
		t.Fatalf("expected final value 200, got %d", cp.value)
	}
	if c := h.sched.Counters(); c.Stale != 0 || c.Expired != 0 {
		t.Fatalf("unexpected counters %+v", c)
	}
	if h.ring.InFlight() != 0 {
		t.Fatalf("arenas still leased: %d", h.ring.InFlight())
	}
}
