package headless

import (
	"time"

	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
)

// DeviceBuilderOption is a functional option for configuring a headless Device.
type DeviceBuilderOption func(d *device)

// WithSeparateComputeQueue gives the device a compute queue in its own family (1), so shared
// buffers need ownership transfers between graphics and compute.
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithSeparateComputeQueue() DeviceBuilderOption {
	return func(d *device) {
		d.separateCompute = true
	}
}

// DefaultTraceCapacity is the number of trace events a device retains unless WithTraceCapacity
// says otherwise. A frame records roughly ten events.
const DefaultTraceCapacity = 1 << 16

// WithTraceCapacity bounds how many of the most recent trace events the device keeps. Older events
// are dropped, but their Seq numbers stay allocated, so a retained trace may start above 1.
//
// Parameters:
//   - n: the number of events to keep; 0 or less keeps every event
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithTraceCapacity(n int) DeviceBuilderOption {
	return func(d *device) {
		d.traceCapacity = n
	}
}

// WithTimelineSupport controls whether NewTimeline succeeds (default true).
//
// Parameters:
//   - enabled: false makes NewTimeline return frame.ErrTimelineUnsupported
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithTimelineSupport(enabled bool) DeviceBuilderOption {
	return func(d *device) {
		d.timelines = enabled
	}
}

// WithExecutionDelay makes every submission on the queue of the given kind take at least delay.
//
// Parameters:
//   - kind: the queue to slow down
//   - delay: the simulated execution time
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithExecutionDelay(kind frame.QueueKind, delay time.Duration) DeviceBuilderOption {
	return func(d *device) {
		d.delays[kind] = delay
	}
}

// SurfaceBuilderOption is a functional option for configuring a headless Surface.
type SurfaceBuilderOption func(s *surface)

// WithImageCount sets the number of presentable images (default 3).
func WithImageCount(n int) SurfaceBuilderOption {
	return func(s *surface) {
		s.imageCount = max(n, 1)
	}
}

// WithAcquireDelay makes acquired images become ready only after delay.
func WithAcquireDelay(delay time.Duration) SurfaceBuilderOption {
	return func(s *surface) {
		s.acquireDelay = delay
	}
}
