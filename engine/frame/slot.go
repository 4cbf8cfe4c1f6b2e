package frame

import "fmt"

// Slot is one frame-in-flight: a command buffer, its acquire/render signals and a reuse gate.
// Slots are owned by a SlotPool and are never shared.
type Slot struct {
	index int

	commandBuffer   CommandBuffer
	acquireComplete Semaphore
	renderComplete  Semaphore
	gate            reuseGate

	// Compute stage resources, nil unless the pool was built with compute slots.
	computeBuffer CommandBuffer
	computeDone   Semaphore
	graphicsDone  Semaphore

	// pending is true from submission until the gate has been waited.
	pending bool
}

// Index returns the slot's position in the ring, 0..N-1.
func (s *Slot) Index() int {
	return s.index
}

// CommandBuffer returns the slot's graphics command buffer.
func (s *Slot) CommandBuffer() CommandBuffer {
	return s.commandBuffer
}

// ComputeBuffer returns the slot's compute command buffer, or nil.
func (s *Slot) ComputeBuffer() CommandBuffer {
	return s.computeBuffer
}

// AcquireComplete returns the semaphore raised when the acquired image is ready.
func (s *Slot) AcquireComplete() Semaphore {
	return s.acquireComplete
}

// RenderComplete returns the semaphore raised when the slot's graphics work is done.
func (s *Slot) RenderComplete() Semaphore {
	return s.renderComplete
}

// ArmedValue returns the value the reuse gate was last armed with.
// For fence gates this is the frame counter value of the last submission.
func (s *Slot) ArmedValue() uint64 {
	return s.gate.armedValue()
}

// Pending reports whether the slot's last submission has not been waited yet.
func (s *Slot) Pending() bool {
	return s.pending
}

// mustBeReusable panics when a caller tries to record into a slot still in flight.
func (s *Slot) mustBeReusable() {
	if s.pending {
		panic(fmt.Sprintf("frame: slot %d recorded while its submission (armed %d) is still in flight; call WaitUntilReusable first", s.index, s.gate.armedValue()))
	}
}

func (s *Slot) destroy() {
	for _, cb := range []CommandBuffer{s.commandBuffer, s.computeBuffer} {
		if cb != nil {
			cb.Destroy()
		}
	}
	for _, sem := range []Semaphore{s.acquireComplete, s.renderComplete, s.computeDone, s.graphicsDone} {
		if sem != nil {
			sem.Destroy()
		}
	}
	if s.gate != nil {
		s.gate.destroy()
	}
}
