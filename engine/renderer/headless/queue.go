package headless

import (
	"fmt"
	"time"

	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
)

// operation is one unit of queue work: a submission or a present.
type operation struct {
	submission frame.Submission
	commands   [][]command

	present *presentOp
}

type presentOp struct {
	surface *surface
	image   int
	wait    frame.Semaphore
}

// waits returns the semaphore waits the operation needs before it can start.
func (op *operation) waits() []frame.SemaphoreWait {
	if op.present != nil {
		return []frame.SemaphoreWait{{Semaphore: op.present.wait}}
	}
	return op.submission.Waits
}

// queue executes operations in submission order on its own goroutine.
type queue struct {
	device *device
	kind   frame.QueueKind
	family uint32

	ops       []*operation
	executing bool
}

var _ frame.Queue = &queue{}

func newQueue(d *device, kind frame.QueueKind, family uint32) *queue {
	return &queue{device: d, kind: kind, family: family}
}

func (q *queue) Kind() frame.QueueKind {
	return q.kind
}

func (q *queue) Family() uint32 {
	return q.family
}

func (q *queue) Submit(s frame.Submission) error {
	d := q.device
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return frame.ErrDeviceLost
	}
	if d.closed {
		return fmt.Errorf("headless: submit on closed device")
	}

	op := &operation{submission: s, commands: make([][]command, len(s.CommandBuffers))}
	for i, c := range s.CommandBuffers {
		cb, ok := c.(*commandBuffer)
		if !ok || cb.device != d {
			panic("headless: submitted a command buffer of another device")
		}
		if cb.queue.family != q.family {
			d.violate("command buffer %d of family %d submitted to family %d", cb.id, cb.queue.family, q.family)
		}
		if cb.destroyed {
			d.violate("command buffer %d submitted after Destroy", cb.id)
		}
		if cb.recording {
			d.violate("command buffer %d submitted while still recording", cb.id)
		}
		if cb.pending {
			d.violate("command buffer %d submitted while already pending", cb.id)
		}
		cb.pending = true
		op.commands[i] = append([]command(nil), cb.commands...)
		d.record(Event{Kind: EventSubmit, Queue: q.kind, Family: q.family, CommandBuffer: cb.id, Image: imageOf(cb.commands)})
	}
	for _, w := range s.Waits {
		d.checkAlive(w.Semaphore, "waited on")
	}
	for _, sig := range s.Signals {
		d.checkAlive(sig.Semaphore, "signalled")
	}
	if f, ok := s.Fence.(*fence); ok {
		if f.destroyed {
			d.violate("fence %d submitted after Destroy", f.id)
		}
		if f.pending {
			d.violate("fence %d attached to a second pending submission", f.id)
		}
		if f.signaled {
			d.violate("fence %d submitted while signalled", f.id)
		}
		f.pending = true
	}

	q.ops = append(q.ops, op)
	d.cond.Broadcast()
	return nil
}

// enqueuePresent schedules a present behind the queue's earlier work. d.mu must be held.
func (q *queue) enqueuePresent(p *presentOp) {
	q.ops = append(q.ops, &operation{present: p})
	q.device.cond.Broadcast()
}

// idle reports whether the queue has nothing left to run. d.mu must be held.
func (q *queue) idle() bool {
	return len(q.ops) == 0 && !q.executing
}

// run executes operations until the device is closed or lost.
func (q *queue) run() error {
	d := q.device
	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		err := d.waitLocked(d.ctx, func() bool {
			return len(q.ops) > 0 && q.ready(q.ops[0])
		})
		if err != nil {
			// Closing or losing the device abandons whatever is still queued.
			return nil
		}

		op := q.ops[0]
		q.ops = q.ops[1:]
		q.executing = true
		for _, w := range op.waits() {
			consume(w)
		}

		if op.present != nil {
			op.present.surface.presented(op.present.image)
			q.executing = false
			d.cond.Broadcast()
			continue
		}

		for i, c := range op.submission.CommandBuffers {
			q.start(c.(*commandBuffer), op.commands[i])
		}

		if delay := d.delays[q.kind]; delay > 0 {
			d.mu.Unlock()
			time.Sleep(delay)
			d.mu.Lock()
		}

		for i, c := range op.submission.CommandBuffers {
			cb := c.(*commandBuffer)
			cb.pending = false
			d.record(Event{Kind: EventComplete, Queue: q.kind, Family: q.family, CommandBuffer: cb.id, Image: imageOf(op.commands[i])})
		}
		for _, sig := range op.submission.Signals {
			raise(sig)
		}
		if f, ok := op.submission.Fence.(*fence); ok {
			f.pending = false
			f.signaled = true
		}
		q.executing = false
		d.cond.Broadcast()
	}
}

// ready reports whether every wait of op is satisfied. d.mu must be held.
func (q *queue) ready(op *operation) bool {
	for _, w := range op.waits() {
		if !waitReady(w) {
			return false
		}
	}
	return true
}

// start replays the recorded commands of cb. d.mu must be held.
func (q *queue) start(cb *commandBuffer, cmds []command) {
	d := q.device
	d.record(Event{Kind: EventExecute, Queue: q.kind, Family: q.family, CommandBuffer: cb.id, Image: imageOf(cmds)})

	for _, c := range cmds {
		switch c.kind {
		case commandBufferBarrier:
			b := c.buffer
			e := d.record(Event{Kind: EventBarrier, Queue: q.kind, Family: q.family, CommandBuffer: cb.id, Image: -1, Barrier: &b})
			switch {
			case e.IsRelease():
				d.released[keyOf(b)]++
			case e.IsAcquire():
				k := keyOf(b)
				if d.released[k] == 0 {
					d.violate("acquire of %s by family %d without a matching release from family %d", b.Buffer.Label(), b.DstFamily, b.SrcFamily)
					continue
				}
				d.released[k]--
			case b.IsTransfer():
				d.violate("ownership barrier for %s recorded on family %d, which is neither side", b.Buffer.Label(), q.family)
			}
		case commandImageBarrier:
			ib := c.image
			d.record(Event{Kind: EventBarrier, Queue: q.kind, Family: q.family, CommandBuffer: cb.id, Image: ib.Image, ImageBarrier: &ib})
		case commandMark:
			d.record(Event{Kind: EventMark, Queue: q.kind, Family: q.family, CommandBuffer: cb.id, Image: -1, Label: c.label})
		}
	}
}
