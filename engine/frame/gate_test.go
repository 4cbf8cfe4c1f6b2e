package frame

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDevice hands out inert objects; it never executes anything.
type stubDevice struct{}

type stubQueue struct{ kind QueueKind }

func (q stubQueue) Kind() QueueKind         { return q.kind }
func (q stubQueue) Family() uint32          { return 0 }
func (q stubQueue) Submit(Submission) error { return nil }

type stubSemaphore struct{}

func (*stubSemaphore) Destroy() {}

type stubFence struct{ resets int }

func (*stubFence) Wait(context.Context) error { return nil }
func (f *stubFence) Reset() error             { f.resets++; return nil }
func (*stubFence) Destroy()                   {}

type stubTimeline struct{ stubSemaphore }

func (*stubTimeline) Value() (uint64, error)             { return 0, nil }
func (*stubTimeline) Wait(context.Context, uint64) error { return nil }

type stubCommandBuffer struct{}

func (stubCommandBuffer) Begin() error                { return nil }
func (stubCommandBuffer) End() error                  { return nil }
func (stubCommandBuffer) BufferBarrier(BufferBarrier) {}
func (stubCommandBuffer) ImageBarrier(ImageBarrier)   {}
func (stubCommandBuffer) Destroy()                    {}

type stubBuffer struct{}

func (*stubBuffer) Label() string { return "stub" }

func (stubDevice) Queue(kind QueueKind) Queue                    { return stubQueue{kind: kind} }
func (stubDevice) NewCommandBuffer(Queue) (CommandBuffer, error) { return stubCommandBuffer{}, nil }
func (stubDevice) NewSemaphore() (Semaphore, error)              { return &stubSemaphore{}, nil }
func (stubDevice) NewFence(bool) (Fence, error)                  { return &stubFence{}, nil }
func (stubDevice) NewTimeline(uint64) (Timeline, error)          { return &stubTimeline{}, nil }
func (stubDevice) WaitIdle(context.Context) error                { return nil }

func newStubPool(t *testing.T, strategy SyncStrategy) *slotPool {
	t.Helper()
	p, err := NewSlotPool(stubDevice{}, WithPoolSyncStrategy(strategy))
	require.NoError(t, err)
	return p.(*slotPool)
}

func TestTimelineGateRejectsUnpromisedValue(t *testing.T) {
	p := newStubPool(t, SyncTimeline)
	slot := p.slots[0]

	var sub Submission
	v := p.nextTimelineValue()
	slot.gate.arm(&sub, v)
	require.Len(t, sub.Signals, 1)
	assert.Equal(t, v, sub.Signals[0].Value)
	assert.Nil(t, sub.Fence)

	// Armed but never submitted.
	assert.Panics(t, func() { _ = slot.gate.wait(context.Background()) })

	p.promise(v)
	assert.NoError(t, slot.gate.wait(context.Background()))
}

func TestTimelineValuesIncrease(t *testing.T) {
	p := newStubPool(t, SyncTimeline)
	last := uint64(0)
	for i := 0; i < 10; i++ {
		v := p.nextTimelineValue()
		assert.Greater(t, v, last)
		last = v
	}
	p.promise(5)
	p.promise(3)
	assert.Equal(t, uint64(5), p.promisedValue())
}

func TestFenceGateArmsSubmission(t *testing.T) {
	p := newStubPool(t, SyncFence)
	slot := p.slots[0]
	g := slot.gate.(*fenceGate)

	require.NoError(t, g.prepare())
	assert.Equal(t, 1, g.fence.(*stubFence).resets)

	var sub Submission
	g.arm(&sub, 7)
	assert.Same(t, g.fence, sub.Fence)
	assert.Empty(t, sub.Signals)
	assert.Equal(t, uint64(7), slot.ArmedValue())
}

func TestSlotMustBeReusable(t *testing.T) {
	p := newStubPool(t, SyncFence)
	slot := p.AcquireSlot()
	assert.NotPanics(t, slot.mustBeReusable)

	slot.pending = true
	assert.Panics(t, slot.mustBeReusable)

	require.NoError(t, p.WaitUntilReusable(context.Background(), slot))
	assert.NotPanics(t, slot.mustBeReusable)
}

func TestOwnershipLedgerRejectsMismatch(t *testing.T) {
	buf := &stubBuffer{}
	shared := []SharedBuffer{{Buffer: buf}}
	tr := shared[0].toGraphics(stubQueue{kind: QueueCompute}, stubQueue{kind: QueueGraphics})
	assert.Equal(t, WholeSize, tr.Size)

	l := newOwnershipLedger(shared, QueueCompute)
	assert.True(t, l.owned(buf, QueueCompute))

	// Graphics cannot take what compute never released.
	assert.Panics(t, func() { l.acquire(stubCommandBuffer{}, tr, QueueGraphics) })
	// Graphics cannot release what it does not own.
	assert.Panics(t, func() { l.release(stubCommandBuffer{}, tr.Reverse(), QueueGraphics, QueueCompute) })

	l.release(stubCommandBuffer{}, tr, QueueCompute, QueueGraphics)
	assert.False(t, l.owned(buf, QueueCompute))
	assert.Panics(t, func() { l.release(stubCommandBuffer{}, tr, QueueCompute, QueueGraphics) })

	l.acquire(stubCommandBuffer{}, tr, QueueGraphics)
	assert.True(t, l.owned(buf, QueueGraphics))
}
