package frame

import (
	"context"
	"fmt"
)

// reuseGate proves that the last submission using a slot has finished.
// A slot has exactly one gate; the backing strategy is chosen by the pool.
type reuseGate interface {
	// wait blocks until the last armed submission completed.
	wait(ctx context.Context) error

	// prepare runs after a successful acquire and before the slot is submitted again.
	prepare() error

	// arm attaches the gate to s. The value is only meaningful for timeline gates.
	arm(s *Submission, value uint64)

	// armedValue reports the value the gate was last armed with (0 if never).
	armedValue() uint64

	destroy()
}

// fenceGate is the BinaryGated strategy: one fence per slot, created signalled so the
// first wait returns immediately.
type fenceGate struct {
	fence Fence
	armed uint64
}

var _ reuseGate = &fenceGate{}

func newFenceGate(device Device) (*fenceGate, error) {
	f, err := device.NewFence(true)
	if err != nil {
		return nil, err
	}
	return &fenceGate{fence: f}, nil
}

func (g *fenceGate) wait(ctx context.Context) error {
	return g.fence.Wait(ctx)
}

// prepare resets the fence. Doing this only after a successful acquire means an
// out-of-date acquire never strands the slot behind a fence nothing will signal.
func (g *fenceGate) prepare() error {
	return g.fence.Reset()
}

func (g *fenceGate) arm(s *Submission, value uint64) {
	s.Fence = g.fence
	g.armed = value
}

func (g *fenceGate) armedValue() uint64 {
	return g.armed
}

func (g *fenceGate) destroy() {
	g.fence.Destroy()
}

// timelineGate is the TimelineGated strategy: the slot remembers the value its last
// submission will signal on the pool's shared timeline.
type timelineGate struct {
	pool  *slotPool
	armed uint64
}

var _ reuseGate = &timelineGate{}

func (g *timelineGate) wait(ctx context.Context) error {
	if g.armed == 0 {
		return nil
	}
	if promised := g.pool.promisedValue(); g.armed > promised {
		panic(fmt.Sprintf("frame: wait on timeline value %d that no submission promised (highest %d)", g.armed, promised))
	}
	return g.pool.timeline.Wait(ctx, g.armed)
}

func (g *timelineGate) prepare() error {
	return nil
}

func (g *timelineGate) arm(s *Submission, value uint64) {
	s.Signals = append(s.Signals, SemaphoreSignal{Semaphore: g.pool.timeline, Value: value})
	g.armed = value
}

func (g *timelineGate) armedValue() uint64 {
	return g.armed
}

// destroy is a no-op; the shared timeline belongs to the pool.
func (g *timelineGate) destroy() {}
