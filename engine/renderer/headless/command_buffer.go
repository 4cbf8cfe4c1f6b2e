package headless

import (
	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
)

type commandKind int

const (
	commandBufferBarrier commandKind = iota
	commandImageBarrier
	commandMark
)

// command is one recorded operation replayed by the queue when the buffer executes.
type command struct {
	kind   commandKind
	buffer frame.BufferBarrier
	image  frame.ImageBarrier
	label  string
}

// commandBuffer records commands for later execution on its queue.
type commandBuffer struct {
	device *device
	queue  *queue
	id     int

	commands  []command
	recording bool
	pending   bool
	destroyed bool
}

var _ frame.CommandBuffer = &commandBuffer{}

// ID returns the device-unique id used in trace events.
func (cb *commandBuffer) ID() int {
	return cb.id
}

func (cb *commandBuffer) Begin() error {
	d := cb.device
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return frame.ErrDeviceLost
	}
	if cb.destroyed {
		d.violate("command buffer %d recorded after Destroy", cb.id)
	}
	if cb.pending {
		d.violate("command buffer %d re-recorded while pending", cb.id)
	}
	cb.commands = cb.commands[:0]
	cb.recording = true
	d.record(Event{Kind: EventBegin, Queue: cb.queue.kind, Family: cb.queue.family, CommandBuffer: cb.id, Image: -1})
	return nil
}

func (cb *commandBuffer) End() error {
	d := cb.device
	d.mu.Lock()
	defer d.mu.Unlock()
	if !cb.recording {
		d.violate("command buffer %d ended without Begin", cb.id)
	}
	cb.recording = false
	return nil
}

func (cb *commandBuffer) BufferBarrier(b frame.BufferBarrier) {
	cb.append(command{kind: commandBufferBarrier, buffer: b})
}

func (cb *commandBuffer) ImageBarrier(b frame.ImageBarrier) {
	cb.append(command{kind: commandImageBarrier, image: b})
}

func (cb *commandBuffer) Destroy() {
	d := cb.device
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb.pending {
		d.violate("command buffer %d destroyed while pending", cb.id)
	}
	cb.destroyed = true
}

func (cb *commandBuffer) append(c command) {
	d := cb.device
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb.destroyed {
		d.violate("command recorded into command buffer %d after Destroy", cb.id)
	}
	if !cb.recording {
		d.violate("command recorded into command buffer %d outside Begin/End", cb.id)
	}
	cb.commands = append(cb.commands, c)
}

// imageOf returns the presentable image transitioned by cmds, or -1.
func imageOf(cmds []command) int {
	for _, c := range cmds {
		if c.kind == commandImageBarrier {
			return c.image.Image
		}
	}
	return -1
}

// Mark records a labelled no-op into cb that shows up in the trace when it executes.
// Recorders use it to stand in for real rendering commands. Buffers of other backends are ignored.
//
// Parameters:
//   - cb: the command buffer being recorded
//   - label: the text carried by the trace event
func Mark(cb frame.CommandBuffer, label string) {
	if hcb, ok := cb.(*commandBuffer); ok {
		hcb.append(command{kind: commandMark, label: label})
	}
}

// CommandBufferID returns the trace id of a headless command buffer, or 0 for other backends.
func CommandBufferID(cb frame.CommandBuffer) int {
	if hcb, ok := cb.(*commandBuffer); ok {
		return hcb.id
	}
	return 0
}

// transferKey identifies a released buffer range awaiting its acquire.
type transferKey struct {
	buffer    frame.Buffer
	offset    uint64
	size      uint64
	srcFamily uint32
	dstFamily uint32
}

func keyOf(b frame.BufferBarrier) transferKey {
	return transferKey{buffer: b.Buffer, offset: b.Offset, size: b.Size, srcFamily: b.SrcFamily, dstFamily: b.DstFamily}
}

// buffer is a named stand-in for a GPU buffer.
type buffer struct {
	label string
}

func (b *buffer) Label() string {
	return b.label
}

// NewBuffer returns a buffer handle that can be shared between queues of any headless device.
func NewBuffer(label string) frame.Buffer {
	return &buffer{label: label}
}
