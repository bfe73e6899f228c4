package coreq

import "go.uber.org/zap"

// Accessor buffers core-thread commands on the simulation goroutine and hands
// them to a Queue as a single command. Buffered commands run in the order
// they were queued. Not safe for concurrent use; one accessor per goroutine.
type Accessor struct {
	cmds []command
	log  *zap.Logger
}

func NewAccessor(log *zap.Logger) *Accessor {
	return &Accessor{
		cmds: make([]command, 0, 32),
		log:  log,
	}
}

// Enqueue buffers fn. Nothing reaches the core thread until Submit.
func (a *Accessor) Enqueue(fn func()) {
	a.cmds = append(a.cmds, command{fn: fn})
}

// EnqueueReturn buffers fn; the returned op completes once the submitted
// batch has run it.
func (a *Accessor) EnqueueReturn(fn func() any) *AsyncOp {
	op := newAsyncOp()
	a.cmds = append(a.cmds, command{ret: fn, op: op})
	return op
}

// Len reports buffered commands.
func (a *Accessor) Len() int { return len(a.cmds) }

// Submit moves every buffered command to q as one command and clears the
// buffer. A panic in one buffered command does not stop the rest.
func (a *Accessor) Submit(q *Queue) {
	if len(a.cmds) == 0 {
		return
	}
	batch := make([]command, len(a.cmds))
	copy(batch, a.cmds)
	clear(a.cmds)
	a.cmds = a.cmds[:0]

	if !q.push(command{fn: func() {
		for _, c := range batch {
			q.run(c)
		}
	}}) {
		for _, c := range batch {
			if c.op != nil {
				c.op.complete(nil, ErrStopped)
			}
		}
		return
	}
	a.log.Debug("accessor submitted", zap.Int("commands", len(batch)))
}

// Cancel drops every buffered command. Pending AsyncOps fail with ErrStopped.
func (a *Accessor) Cancel() {
	for _, c := range a.cmds {
		if c.op != nil {
			c.op.complete(nil, ErrStopped)
		}
	}
	clear(a.cmds)
	a.cmds = a.cmds[:0]
}
