// Package coreq runs closures on the core thread: a single goroutine that
// owns every core-side counterpart and executes commands in strict FIFO order.
package coreq

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
	"go.uber.org/zap"
)

// ErrStopped is returned by operations on a queue that has been stopped.
var ErrStopped = errors.New("coreq: queue stopped")

type command struct {
	fn  func()
	ret func() any
	op  *AsyncOp
}

// Queue is the command transport between the simulation goroutine and the
// core goroutine. Enqueue may be called from any goroutine; commands from one
// goroutine keep their relative order.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	cmds     deque.Deque[command]
	started  bool
	stopping bool
	done     chan struct{}

	lockOSThread bool
	enqueued     atomic.Uint64
	executed     atomic.Uint64
	panics       atomic.Uint64

	log *zap.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithLockedOSThread pins the core goroutine to one OS thread for its whole
// life, for APIs with thread affinity.
func WithLockedOSThread() Option {
	return func(q *Queue) { q.lockOSThread = true }
}

func New(log *zap.Logger, opts ...Option) *Queue {
	q := &Queue{
		done: make(chan struct{}),
		log:  log.With(zap.String("thread", "core")),
	}
	q.cond = sync.NewCond(&q.mu)
	for _, o := range opts {
		o(q)
	}
	return q
}

// Start launches the core goroutine. Commands enqueued before Start are kept
// and run once it begins.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()
	go q.loop()
}

// Enqueue schedules fn on the core goroutine. Commands enqueued after Stop
// are dropped with a warning.
func (q *Queue) Enqueue(fn func()) {
	q.push(command{fn: fn})
}

// EnqueueReturn schedules fn and returns an AsyncOp completed with its result.
func (q *Queue) EnqueueReturn(fn func() any) *AsyncOp {
	op := newAsyncOp()
	if !q.push(command{ret: fn, op: op}) {
		op.complete(nil, ErrStopped)
	}
	return op
}

// Flush blocks until every command enqueued before the call has executed.
func (q *Queue) Flush(ctx context.Context) error {
	op := q.EnqueueReturn(func() any { return nil })
	_, err := op.Wait(ctx)
	return err
}

func (q *Queue) push(c command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopping {
		q.log.Warn("command enqueued after stop, dropped")
		return false
	}
	q.cmds.PushBack(c)
	q.enqueued.Add(1)
	q.cond.Signal()
	return true
}

// Stop refuses new commands, lets the core goroutine drain what is queued and
// waits for it to exit. A queue that was never started is drained inline.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopping {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.stopping = true
	started := q.started
	q.started = true
	q.cond.Broadcast()
	q.mu.Unlock()

	if !started {
		q.loop()
	}
	<-q.done
}

// Pending reports commands waiting to run.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cmds.Len()
}

// Enqueued reports commands accepted so far.
func (q *Queue) Enqueued() uint64 { return q.enqueued.Load() }

// Executed reports commands completed so far.
func (q *Queue) Executed() uint64 { return q.executed.Load() }

// Panics reports commands that panicked and were recovered.
func (q *Queue) Panics() uint64 { return q.panics.Load() }

func (q *Queue) loop() {
	if q.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	defer close(q.done)
	q.log.Debug("core thread started")
	for {
		q.mu.Lock()
		for q.cmds.Len() == 0 && !q.stopping {
			q.cond.Wait()
		}
		if q.cmds.Len() == 0 {
			q.mu.Unlock()
			q.log.Debug("core thread stopped", zap.Uint64("executed", q.executed.Load()))
			return
		}
		c := q.cmds.PopFront()
		q.mu.Unlock()

		q.run(c)
		q.executed.Add(1)
	}
}

// run executes one command with panic recovery so that a single faulty
// command cannot take down the core thread.
func (q *Queue) run(c command) {
	defer func() {
		if rec := recover(); rec != nil {
			q.panics.Add(1)
			q.log.Error("core command panic recovered", zap.Any("panic", rec))
			if c.op != nil {
				c.op.complete(nil, fmt.Errorf("core command panic: %v", rec))
			}
		}
	}()
	if c.ret != nil {
		v := c.ret()
		c.op.complete(v, nil)
		return
	}
	c.fn()
}

// AsyncOp is the result of a command enqueued with EnqueueReturn.
type AsyncOp struct {
	done chan struct{}
	once sync.Once
	val  any
	err  error
}

func newAsyncOp() *AsyncOp {
	return &AsyncOp{done: make(chan struct{})}
}

func (op *AsyncOp) complete(v any, err error) {
	op.once.Do(func() {
		op.val = v
		op.err = err
		close(op.done)
	})
}

// Done is closed once the command has run.
func (op *AsyncOp) Done() <-chan struct{} { return op.done }

// Wait blocks until the command has run or ctx ends.
func (op *AsyncOp) Wait(ctx context.Context) (any, error) {
	select {
	case <-op.done:
		return op.val, op.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
