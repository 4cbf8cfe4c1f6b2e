package frame

import (
	"context"
	"fmt"

	"github.com/Carmen-Shannon/oxy-frame/common"
)

const (
	// DefaultFramesInFlight is the slot count used when none is configured.
	DefaultFramesInFlight = 2

	// MaxFramesInFlight bounds the configured slot count.
	MaxFramesInFlight = 8
)

// slotPool is the implementation of the SlotPool interface.
type slotPool struct {
	device Device

	graphicsQueue Queue
	computeQueue  Queue

	framesInFlight int
	strategy       SyncStrategy
	computeSlots   bool

	slots []*Slot
	next  int

	// Shared by every TimelineGated slot and by the compute stage. Lives as long as the pool.
	timeline      Timeline
	timelineValue uint64
	promised      uint64
}

// SlotPool owns the fixed-size ring of frame slots and their synchronization objects.
// It answers "which slot is next" and "is this slot safe to reuse"; it never blocks on its own.
// A SlotPool is driven by a single goroutine.
type SlotPool interface {
	// AcquireSlot advances the round-robin index and returns the next slot.
	// The first call returns slot 0. It never blocks and never fails.
	//
	// Returns:
	//   - *Slot: the slot to use for this cycle
	AcquireSlot() *Slot

	// WaitUntilReusable blocks until the slot's previous submission has completed, using the
	// slot's fence or timeline value. Wait failures are returned as fatal *DeviceError values.
	//
	// Parameters:
	//   - ctx: bounds the wait
	//   - slot: a slot returned by AcquireSlot
	//
	// Returns:
	//   - error: ctx.Err() on cancellation, or a *DeviceError
	WaitUntilReusable(ctx context.Context, slot *Slot) error

	// Rebuild destroys and recreates every slot. The new slot count is the configured frames in
	// flight capped by newImageCount, and at least 1. Panics if any slot is still in flight;
	// call Drain first.
	//
	// Parameters:
	//   - newImageCount: the image count of the rebuilt surface (<= 0 keeps the configured count)
	//
	// Returns:
	//   - error: an error if a resource could not be created
	Rebuild(newImageCount int) error

	// Drain waits every slot's gate to its last armed value.
	//
	// Parameters:
	//   - ctx: bounds the wait
	//
	// Returns:
	//   - error: ctx.Err() on cancellation, or a *DeviceError
	Drain(ctx context.Context) error

	// Len returns the number of slots in the ring.
	Len() int

	// Slots returns the slots in ring order.
	Slots() []*Slot

	// Strategy returns the reuse gate strategy backing the slots.
	Strategy() SyncStrategy

	// FramesInFlight returns the configured slot count.
	FramesInFlight() int

	// SetFramesInFlight changes the configured slot count. It takes effect on the next Rebuild.
	SetFramesInFlight(n int)

	// Timeline returns the shared timeline, or nil for the fence strategy.
	Timeline() Timeline

	// Destroy frees every slot and the shared timeline. The pool must be drained.
	Destroy()
}

var _ SlotPool = &slotPool{}

// NewSlotPool creates a slot pool on device with the given options applied.
// Defaults to DefaultFramesInFlight slots gated by fences.
//
// Parameters:
//   - device: the device that creates command buffers and synchronization objects
//   - options: functional options to configure the pool
//
// Returns:
//   - SlotPool: the new pool with all slots created
//   - error: ErrTimelineUnsupported when the timeline strategy is requested on a device without
//     timelines, or any resource creation error
func NewSlotPool(device Device, options ...SlotPoolBuilderOption) (SlotPool, error) {
	p := &slotPool{
		device:         device,
		framesInFlight: DefaultFramesInFlight,
		strategy:       SyncFence,
	}
	for _, opt := range options {
		opt(p)
	}

	p.graphicsQueue = device.Queue(QueueGraphics)
	if p.computeSlots {
		p.computeQueue = device.Queue(QueueCompute)
	}

	if p.strategy == SyncTimeline {
		tl, err := device.NewTimeline(0)
		if err != nil {
			return nil, err
		}
		p.timeline = tl
	}

	if err := p.build(p.framesInFlight); err != nil {
		p.Destroy()
		return nil, err
	}
	slogger().Info("frame: slot pool created", "slots", len(p.slots), "strategy", p.strategy.String(), "compute", p.computeSlots)
	return p, nil
}

func (p *slotPool) AcquireSlot() *Slot {
	s := p.slots[p.next]
	p.next = (p.next + 1) % len(p.slots)
	return s
}

func (p *slotPool) WaitUntilReusable(ctx context.Context, slot *Slot) error {
	if err := slot.gate.wait(ctx); err != nil {
		return fatal(fmt.Sprintf("wait for slot %d", slot.index), err)
	}
	slot.pending = false
	return nil
}

func (p *slotPool) Rebuild(newImageCount int) error {
	for _, s := range p.slots {
		if s.pending {
			panic(fmt.Sprintf("frame: Rebuild called while slot %d is still in flight; drain the pool first", s.index))
		}
	}

	n := p.framesInFlight
	if newImageCount > 0 {
		n = min(n, newImageCount)
	}
	n = max(n, 1)

	p.destroySlots()
	if err := p.build(n); err != nil {
		return err
	}
	slogger().Info("frame: slot pool rebuilt", "slots", n, "images", newImageCount)
	return nil
}

func (p *slotPool) Drain(ctx context.Context) error {
	for _, s := range p.slots {
		if !s.pending {
			continue
		}
		if err := p.WaitUntilReusable(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *slotPool) Len() int {
	return len(p.slots)
}

func (p *slotPool) Slots() []*Slot {
	out := make([]*Slot, len(p.slots))
	copy(out, p.slots)
	return out
}

func (p *slotPool) Strategy() SyncStrategy {
	return p.strategy
}

func (p *slotPool) FramesInFlight() int {
	return p.framesInFlight
}

func (p *slotPool) SetFramesInFlight(n int) {
	p.framesInFlight = common.Clamp(n, 1, MaxFramesInFlight)
}

func (p *slotPool) Timeline() Timeline {
	return p.timeline
}

func (p *slotPool) Destroy() {
	p.destroySlots()
	if p.timeline != nil {
		p.timeline.Destroy()
		p.timeline = nil
	}
}

// build creates n fresh slots and resets the ring index.
func (p *slotPool) build(n int) error {
	p.slots = make([]*Slot, 0, n)
	p.next = 0
	for i := 0; i < n; i++ {
		s, err := p.newSlot(i)
		if err != nil {
			p.destroySlots()
			return fmt.Errorf("frame: create slot %d: %w", i, err)
		}
		p.slots = append(p.slots, s)
	}
	return nil
}

func (p *slotPool) newSlot(index int) (*Slot, error) {
	s := &Slot{index: index}
	var err error

	if s.commandBuffer, err = p.device.NewCommandBuffer(p.graphicsQueue); err != nil {
		return nil, err
	}
	if s.acquireComplete, err = p.device.NewSemaphore(); err != nil {
		s.destroy()
		return nil, err
	}
	if s.renderComplete, err = p.device.NewSemaphore(); err != nil {
		s.destroy()
		return nil, err
	}

	if p.computeSlots {
		if s.computeBuffer, err = p.device.NewCommandBuffer(p.computeQueue); err != nil {
			s.destroy()
			return nil, err
		}
		// Cross-queue binary semaphores are only needed when no timeline carries the dependency.
		if p.strategy == SyncFence {
			if s.computeDone, err = p.device.NewSemaphore(); err != nil {
				s.destroy()
				return nil, err
			}
			if s.graphicsDone, err = p.device.NewSemaphore(); err != nil {
				s.destroy()
				return nil, err
			}
		}
	}

	switch p.strategy {
	case SyncTimeline:
		s.gate = &timelineGate{pool: p}
	default:
		g, err := newFenceGate(p.device)
		if err != nil {
			s.destroy()
			return nil, err
		}
		s.gate = g
	}
	return s, nil
}

func (p *slotPool) destroySlots() {
	for _, s := range p.slots {
		s.destroy()
	}
	p.slots = nil
	p.next = 0
}

// nextTimelineValue reserves the next value on the shared timeline.
func (p *slotPool) nextTimelineValue() uint64 {
	p.timelineValue++
	return p.timelineValue
}

// promise records that a successful submission will signal v on the shared timeline.
func (p *slotPool) promise(v uint64) {
	if v > p.promised {
		p.promised = v
	}
}

func (p *slotPool) promisedValue() uint64 {
	return p.promised
}
