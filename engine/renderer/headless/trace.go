package headless

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
)

// EventKind identifies what a trace Event recorded.
type EventKind int

const (
	// EventBegin is recorded on the CPU when a command buffer starts recording.
	EventBegin EventKind = iota

	// EventSubmit is recorded on the CPU when a submission is handed to a queue.
	EventSubmit

	// EventExecute is recorded when a queue starts executing a command buffer, after its waits.
	EventExecute

	// EventBarrier is recorded when a buffer or image barrier executes.
	EventBarrier

	// EventMark is recorded when a Mark command executes.
	EventMark

	// EventComplete is recorded when a command buffer finished executing.
	EventComplete

	// EventAcquire is recorded on the CPU when AcquireNextImage returns an image.
	EventAcquire

	// EventAcquireReady is recorded when an acquired image's semaphore is signalled.
	EventAcquireReady

	// EventPresent is recorded when the presentation engine takes an image, after its wait.
	EventPresent
)

func (k EventKind) String() string {
	switch k {
	case EventBegin:
		return "begin"
	case EventSubmit:
		return "submit"
	case EventExecute:
		return "execute"
	case EventBarrier:
		return "barrier"
	case EventMark:
		return "mark"
	case EventComplete:
		return "complete"
	case EventAcquire:
		return "acquire"
	case EventAcquireReady:
		return "acquire-ready"
	case EventPresent:
		return "present"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one entry of the device trace. Seq orders all events of a device totally.
type Event struct {
	Seq  uint64
	Kind EventKind

	// Queue and Family are set for queue-side events.
	Queue  frame.QueueKind
	Family uint32

	// CommandBuffer is the id of the command buffer involved, or 0.
	CommandBuffer int

	// Image is the presentable image involved, or -1.
	Image int

	// Label is set by EventMark.
	Label string

	// Barrier is set by buffer barrier events, ImageBarrier by image barrier events.
	Barrier      *frame.BufferBarrier
	ImageBarrier *frame.ImageBarrier
}

func (e Event) String() string {
	s := fmt.Sprintf("#%d %s", e.Seq, e.Kind)
	if e.CommandBuffer != 0 {
		s += fmt.Sprintf(" cb=%d %s", e.CommandBuffer, e.Queue)
	}
	if e.Image >= 0 {
		s += fmt.Sprintf(" image=%d", e.Image)
	}
	if e.Label != "" {
		s += " " + e.Label
	}
	return s
}

// IsRelease reports whether the event is a queue family ownership release.
func (e Event) IsRelease() bool {
	return e.Kind == EventBarrier && e.Barrier != nil && e.Barrier.IsTransfer() && e.Barrier.SrcFamily == e.Family
}

// IsAcquire reports whether the event is a queue family ownership acquire.
func (e Event) IsAcquire() bool {
	return e.Kind == EventBarrier && e.Barrier != nil && e.Barrier.IsTransfer() && e.Barrier.DstFamily == e.Family
}

// Filter returns the events for which keep returns true, in trace order.
//
// Parameters:
//   - events: the trace to filter
//   - keep: the predicate
//
// Returns:
//   - []Event: the matching events
func Filter(events []Event, keep func(Event) bool) []Event {
	var out []Event
	for _, e := range events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// OfKind returns a predicate matching events of kind k on queue q.
func OfKind(k EventKind, q frame.QueueKind) func(Event) bool {
	return func(e Event) bool {
		return e.Kind == k && e.Queue == q
	}
}

// record appends an event, overwriting the oldest one once the ring is full. d.mu must be held.
func (d *device) record(e Event) Event {
	d.seq++
	e.Seq = d.seq
	if d.traceCapacity <= 0 || len(d.trace) < d.traceCapacity {
		d.trace = append(d.trace, e)
		return e
	}
	d.trace[d.traceStart] = e
	d.traceStart = (d.traceStart + 1) % d.traceCapacity
	return e
}

// violate records a driver-level misuse. d.mu must be held.
func (d *device) violate(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	d.violations = append(d.violations, msg)
	slogger().Warn("headless: validation", "violation", msg)
}
