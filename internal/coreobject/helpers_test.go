package coreobject

import (
	"context"
	"testing"

	"github.com/l1jgo/coresync/internal/bitstream"
	"github.com/l1jgo/coresync/internal/core/event"
	"github.com/l1jgo/coresync/internal/core/handle"
	"github.com/l1jgo/coresync/internal/frame"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// intObject syncs a single integer, prefixed by its dirty flags.
type intObject struct {
	Base
	value int32
	deps  []ID
}

func (o *intObject) set(v int32, flags Flags) {
	o.value = v
	o.MarkDirty(flags)
}

func (o *intObject) DownloadSync(alloc frame.Allocator) (Payload, error) {
	buf, err := alloc.Alloc(bitstream.SizeU32 * 2)
	if err != nil {
		return Payload{}, err
	}
	w := bitstream.NewWriter(buf)
	w.WriteU32(uint32(o.DirtyFlags()))
	w.WriteU32(uint32(o.value))
	return Payload{Data: w.Bytes()}, w.Err()
}

func (o *intObject) Dependencies() []ID { return o.deps }

type intCounterpart struct {
	CounterpartBase
	name        string
	value       int32
	lastFlags   Flags
	initialized bool
	destroyed   bool
	trace       *[]string
}

func (c *intCounterpart) ApplySync(p Payload) {
	r := bitstream.NewReader(p.Data)
	c.lastFlags = Flags(r.ReadU32())
	c.value = int32(r.ReadU32())
	c.MarkClean()
	c.record("apply " + c.name)
}

func (c *intCounterpart) Initialize() {
	c.initialized = true
	c.record("init " + c.name)
}

func (c *intCounterpart) Destroy() {
	c.destroyed = true
	c.record("destroy " + c.name)
}

func (c *intCounterpart) record(s string) {
	if c.trace != nil {
		*c.trace = append(*c.trace, s)
	}
}

// manualTransport holds commands until the test plays the core thread.
type manualTransport struct {
	cmds []func()
}

func (m *manualTransport) Enqueue(fn func()) { m.cmds = append(m.cmds, fn) }

func (m *manualTransport) runAll() {
	for len(m.cmds) > 0 {
		cmds := m.cmds
		m.cmds = nil
		for _, c := range cmds {
			c()
		}
	}
}

type harness struct {
	t     *testing.T
	bus   *event.Bus
	reg   *Registry
	cps   *handle.Table[Counterpart]
	ring  *frame.Ring
	sched *Scheduler
	tr    *manualTransport
	logs  *observer.ObservedLogs
	trace []string
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithRing(t, frame.NewRing(2, 1024, true))
}

func newHarnessWithRing(t *testing.T, ring *frame.Ring) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)
	h := &harness{
		t:    t,
		bus:  event.NewBus(),
		cps:  handle.NewTable[Counterpart](),
		ring: ring,
		tr:   &manualTransport{},
		logs: logs,
	}
	h.reg = NewRegistry(h.bus, log)
	h.sched = NewScheduler(h.reg, h.cps, ring, log)
	return h
}

func (h *harness) register(deps ...ID) *intObject {
	h.t.Helper()
	o := &intObject{deps: deps}
	if _, err := h.reg.Register(o); err != nil {
		h.t.Fatalf("register: %v", err)
	}
	return o
}

// attached registers an object, attaches a counterpart and plays the
// initial sync so both halves start clean.
func (h *harness) attached(name string, deps ...ID) (*intObject, *intCounterpart) {
	h.t.Helper()
	o := h.register(deps...)
	cp := &intCounterpart{name: name, trace: &h.trace}
	if _, err := h.sched.Attach(o, cp, h.tr); err != nil {
		h.t.Fatalf("attach %s: %v", name, err)
	}
	return o, cp
}

func (h *harness) sync() BatchStats {
	h.t.Helper()
	stats, err := h.sched.SyncToCore(context.Background(), h.tr)
	if err != nil {
		h.t.Fatalf("sync: %v", err)
	}
	return stats
}

func (h *harness) settle() {
	h.t.Helper()
	h.sync()
	h.tr.runAll()
	h.trace = h.trace[:0]
}
