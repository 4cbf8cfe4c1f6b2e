package headless

import (
	"context"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
	"golang.org/x/sync/errgroup"
)

// device is the implementation of the Device interface.
type device struct {
	mu   sync.Mutex
	cond *sync.Cond

	graphics *queue
	compute  *queue

	separateCompute bool
	timelines       bool
	delays          map[frame.QueueKind]time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	lost   bool
	closed bool

	nextID     int
	seq        uint64
	violations []string

	// trace is a ring of the last traceCapacity events starting at traceStart.
	trace         []Event
	traceStart    int
	traceCapacity int

	// released counts executed ownership releases that no acquire has matched yet.
	released map[transferKey]int
}

// Device is a frame.Device that executes submissions on goroutines instead of a GPU.
// Every queue runs its submissions in order once their semaphore waits are satisfied, and every
// step is appended to a totally ordered trace that tests can inspect.
type Device interface {
	frame.Device

	// Trace returns a copy of the retained events in order. Only the most recent events are
	// kept, see WithTraceCapacity.
	Trace() []Event

	// Violations returns the driver-level misuse detected so far, such as a binary semaphore
	// signalled twice or a command buffer re-recorded while pending.
	Violations() []string

	// Lose marks the device as lost. Every later submit or wait fails with frame.ErrDeviceLost.
	Lose()

	// Close stops the queue goroutines. Pending work is abandoned.
	Close() error
}

var _ Device = &device{}

// NewDevice creates a headless device and starts one executor goroutine per queue.
//
// Parameters:
//   - options: functional options to configure the device
//
// Returns:
//   - Device: the running device
func NewDevice(options ...DeviceBuilderOption) Device {
	d := &device{
		timelines: true,
		delays:    make(map[frame.QueueKind]time.Duration),
		released:  make(map[transferKey]int),
		nextID:    1,

		traceCapacity: DefaultTraceCapacity,
	}
	d.cond = sync.NewCond(&d.mu)
	for _, opt := range options {
		opt(d)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.group, d.ctx = errgroup.WithContext(ctx)

	d.graphics = newQueue(d, frame.QueueGraphics, 0)
	d.compute = d.graphics
	if d.separateCompute {
		d.compute = newQueue(d, frame.QueueCompute, 1)
	}

	d.group.Go(d.graphics.run)
	if d.compute != d.graphics {
		d.group.Go(d.compute.run)
	}

	slogger().Info("headless: device created", "separateCompute", d.separateCompute, "timelines", d.timelines)
	return d
}

func (d *device) Queue(kind frame.QueueKind) frame.Queue {
	if kind == frame.QueueCompute {
		return d.compute
	}
	return d.graphics
}

func (d *device) NewCommandBuffer(q frame.Queue) (frame.CommandBuffer, error) {
	hq, ok := q.(*queue)
	if !ok || hq.device != d {
		panic("headless: command buffer requested for a queue of another device")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return nil, frame.ErrDeviceLost
	}
	return &commandBuffer{device: d, queue: hq, id: d.allocID()}, nil
}

func (d *device) NewSemaphore() (frame.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return nil, frame.ErrDeviceLost
	}
	return &semaphore{device: d, id: d.allocID()}, nil
}

func (d *device) NewFence(signaled bool) (frame.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return nil, frame.ErrDeviceLost
	}
	return &fence{device: d, id: d.allocID(), signaled: signaled}, nil
}

func (d *device) NewTimeline(initial uint64) (frame.Timeline, error) {
	if !d.timelines {
		return nil, frame.ErrTimelineUnsupported
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return nil, frame.ErrDeviceLost
	}
	return &timeline{device: d, id: d.allocID(), value: initial}, nil
}

func (d *device) WaitIdle(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waitLocked(ctx, func() bool {
		return d.graphics.idle() && d.compute.idle()
	})
}

func (d *device) Trace() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, 0, len(d.trace))
	out = append(out, d.trace[d.traceStart:]...)
	return append(out, d.trace[:d.traceStart]...)
}

func (d *device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.violations))
	copy(out, d.violations)
	return out
}

func (d *device) Lose() {
	d.mu.Lock()
	d.lost = true
	d.cond.Broadcast()
	d.mu.Unlock()
	slogger().Warn("headless: device lost")
}

func (d *device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	return d.group.Wait()
}

// allocID returns a device-unique object id. d.mu must be held.
func (d *device) allocID() int {
	id := d.nextID
	d.nextID++
	return id
}

// waitLocked blocks on the device condition until ready returns true, ctx is done, or the device
// is lost or closed. d.mu must be held and is held again on return.
func (d *device) waitLocked(ctx context.Context, ready func() bool) error {
	stop := context.AfterFunc(ctx, func() {
		d.mu.Lock()
		d.cond.Broadcast()
		d.mu.Unlock()
	})
	defer stop()

	for !ready() {
		if d.lost {
			return frame.ErrDeviceLost
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		d.cond.Wait()
	}
	return nil
}
