package frame

import "context"

// Semaphore is a binary GPU-side signal. Each signal must be waited exactly once.
type Semaphore interface {
	// Destroy releases the underlying handle. The semaphore must not be pending.
	Destroy()
}

// Timeline is a monotonically increasing GPU counter that can also be waited on from the CPU.
type Timeline interface {
	Semaphore

	// Value returns the counter value the GPU has reached so far.
	//
	// Returns:
	//   - uint64: the current counter value
	//   - error: a device error if the value could not be read
	Value() (uint64, error)

	// Wait blocks until the counter reaches at least v or ctx is done.
	//
	// Parameters:
	//   - ctx: bounds the wait
	//   - v: the value to wait for
	//
	// Returns:
	//   - error: ctx.Err() on cancellation, or a device error
	Wait(ctx context.Context, v uint64) error
}

// Fence is a CPU-waitable completion signal for a single submission.
type Fence interface {
	// Wait blocks until the fence is signalled or ctx is done.
	Wait(ctx context.Context) error

	// Reset returns the fence to the unsignalled state. It must not be pending.
	Reset() error

	// Destroy releases the underlying handle.
	Destroy()
}

// Buffer is an opaque GPU buffer handle shared between queues.
type Buffer interface {
	// Label returns a human readable name used in logs and traces.
	Label() string
}

// BufferBarrier describes a buffer memory barrier, optionally transferring queue family ownership.
// SrcFamily and DstFamily are QueueFamilyIgnored when no transfer takes place.
type BufferBarrier struct {
	Buffer    Buffer
	Offset    uint64
	Size      uint64
	SrcStage  PipelineStage
	DstStage  PipelineStage
	SrcAccess Access
	DstAccess Access
	SrcFamily uint32
	DstFamily uint32
}

// IsTransfer reports whether the barrier moves ownership between two queue families.
func (b BufferBarrier) IsTransfer() bool {
	return b.SrcFamily != QueueFamilyIgnored && b.DstFamily != QueueFamilyIgnored && b.SrcFamily != b.DstFamily
}

// ImageBarrier describes a layout transition of a presentable image.
type ImageBarrier struct {
	Image     int
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcStage  PipelineStage
	DstStage  PipelineStage
	SrcAccess Access
	DstAccess Access
}

// CommandBuffer is a recorded sequence of GPU work submitted as one unit.
type CommandBuffer interface {
	// Begin resets the buffer and starts recording. The buffer must not be pending.
	Begin() error

	// End finishes recording.
	End() error

	// BufferBarrier records a buffer memory barrier.
	BufferBarrier(b BufferBarrier)

	// ImageBarrier records an image layout transition.
	ImageBarrier(b ImageBarrier)

	// Destroy frees the buffer. It must not be pending.
	Destroy()
}

// SemaphoreWait makes a submission wait on a semaphore before Stage executes.
// Value is ignored for binary semaphores.
type SemaphoreWait struct {
	Semaphore Semaphore
	Value     uint64
	Stage     PipelineStage
}

// SemaphoreSignal makes a submission signal a semaphore once it completes.
// Value is ignored for binary semaphores.
type SemaphoreSignal struct {
	Semaphore Semaphore
	Value     uint64
}

// Submission is one batch of command buffers handed to a Queue.
type Submission struct {
	CommandBuffers []CommandBuffer
	Waits          []SemaphoreWait
	Signals        []SemaphoreSignal
	Fence          Fence
}

// Queue is an independent stream of GPU work.
type Queue interface {
	// Kind returns the role this queue was requested for.
	Kind() QueueKind

	// Family returns the hardware queue family index.
	Family() uint32

	// Submit enqueues work. It never blocks on GPU completion.
	//
	// Returns:
	//   - error: a device error; the caller treats any error as fatal
	Submit(s Submission) error
}

// Device creates the synchronization and recording objects used by the slot pool.
type Device interface {
	// Queue returns the queue for kind. QueueCompute falls back to the graphics queue when the
	// device exposes no separate compute family.
	Queue(kind QueueKind) Queue

	// NewCommandBuffer allocates a primary command buffer for q's family.
	NewCommandBuffer(q Queue) (CommandBuffer, error)

	// NewSemaphore creates an unsignalled binary semaphore.
	NewSemaphore() (Semaphore, error)

	// NewFence creates a fence, optionally already signalled.
	NewFence(signaled bool) (Fence, error)

	// NewTimeline creates a timeline starting at initial.
	// Devices without timeline support return ErrTimelineUnsupported.
	NewTimeline(initial uint64) (Timeline, error)

	// WaitIdle blocks until every queue has drained.
	WaitIdle(ctx context.Context) error
}

// Surface owns the ring of presentable images.
type Surface interface {
	// AcquireNextImage asks for the next image and arranges for signal to be raised when it is
	// actually available. On StatusOutOfDate signal is left untouched.
	//
	// Parameters:
	//   - ctx: bounds the acquire
	//   - signal: the binary semaphore raised once the image is ready
	//
	// Returns:
	//   - int: the image index, independent of any slot index
	//   - Status: OK, Suboptimal or OutOfDate
	//   - error: a non-recoverable device or surface error
	AcquireNextImage(ctx context.Context, signal Semaphore) (int, Status, error)

	// Present queues image for display once wait is signalled.
	Present(image int, wait Semaphore) (Status, error)

	// Resize recreates the image ring at the new size. Both dimensions are positive. A surface
	// that has no area yet returns an error wrapping ErrSurfaceDegenerate.
	Resize(width, height int) error

	// ImageCount returns the size of the current image ring, or 0 when the backend hides it.
	ImageCount() int

	// Extent returns the current image size in pixels.
	Extent() (width, height int)
}

// Recorder fills a slot's command buffer with the frame's rendering content.
// It is called once per cycle and must not block on the GPU.
type Recorder interface {
	RecordInto(cb CommandBuffer, slot, image int) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(cb CommandBuffer, slot, image int) error

// RecordInto calls f(cb, slot, image).
func (f RecorderFunc) RecordInto(cb CommandBuffer, slot, image int) error {
	return f(cb, slot, image)
}

// ComputeRecorder fills a slot's compute command buffer.
type ComputeRecorder interface {
	RecordCompute(cb CommandBuffer, slot int) error
}

// ComputeRecorderFunc adapts a function to the ComputeRecorder interface.
type ComputeRecorderFunc func(cb CommandBuffer, slot int) error

// RecordCompute calls f(cb, slot).
func (f ComputeRecorderFunc) RecordCompute(cb CommandBuffer, slot int) error {
	return f(cb, slot)
}

// SizeDependent is implemented by render targets that must be recreated on resize.
type SizeDependent interface {
	OnResize(width, height int) error
}
