package headless

import (
	"context"

	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
)

// semaphore is a binary semaphore. A signal must be consumed by exactly one wait before the
// next signal.
type semaphore struct {
	device    *device
	id        int
	signaled  bool
	destroyed bool
}

var _ frame.Semaphore = &semaphore{}

// signal raises the semaphore. d.mu must be held.
func (s *semaphore) signal() {
	if s.destroyed {
		s.device.violate("binary semaphore %d signalled after Destroy", s.id)
	}
	if s.signaled {
		s.device.violate("binary semaphore %d signalled while already signalled", s.id)
	}
	s.signaled = true
}

func (s *semaphore) Destroy() {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	s.destroyed = true
}

// timeline is a timeline semaphore whose value only moves forward.
type timeline struct {
	device    *device
	id        int
	value     uint64
	destroyed bool
}

var _ frame.Timeline = &timeline{}

// signal moves the timeline to v. d.mu must be held.
func (t *timeline) signal(v uint64) {
	if t.destroyed {
		t.device.violate("timeline %d signalled after Destroy", t.id)
	}
	if v <= t.value {
		t.device.violate("timeline %d signalled with %d, not greater than current %d", t.id, v, t.value)
		return
	}
	t.value = v
}

func (t *timeline) Value() (uint64, error) {
	t.device.mu.Lock()
	defer t.device.mu.Unlock()
	if t.device.lost {
		return 0, frame.ErrDeviceLost
	}
	if t.destroyed {
		t.device.violate("timeline %d read after Destroy", t.id)
	}
	return t.value, nil
}

func (t *timeline) Wait(ctx context.Context, v uint64) error {
	t.device.mu.Lock()
	defer t.device.mu.Unlock()
	if t.destroyed {
		t.device.violate("timeline %d waited on after Destroy", t.id)
	}
	return t.device.waitLocked(ctx, func() bool { return t.value >= v })
}

func (t *timeline) Destroy() {
	t.device.mu.Lock()
	defer t.device.mu.Unlock()
	t.destroyed = true
}

// fence is signalled by the queue once the submission it was attached to completes.
type fence struct {
	device    *device
	id        int
	signaled  bool
	pending   bool
	destroyed bool
}

var _ frame.Fence = &fence{}

func (f *fence) Wait(ctx context.Context) error {
	f.device.mu.Lock()
	defer f.device.mu.Unlock()
	if f.destroyed {
		f.device.violate("fence %d waited on after Destroy", f.id)
	}
	return f.device.waitLocked(ctx, func() bool { return f.signaled })
}

func (f *fence) Reset() error {
	f.device.mu.Lock()
	defer f.device.mu.Unlock()
	if f.device.lost {
		return frame.ErrDeviceLost
	}
	if f.destroyed {
		f.device.violate("fence %d reset after Destroy", f.id)
	}
	if f.pending {
		f.device.violate("fence %d reset while its submission is pending", f.id)
	}
	f.signaled = false
	return nil
}

func (f *fence) Destroy() {
	f.device.mu.Lock()
	defer f.device.mu.Unlock()
	if f.pending {
		f.device.violate("fence %d destroyed while its submission is pending", f.id)
	}
	f.destroyed = true
}

// waitReady reports whether a submission wait can be satisfied now. d.mu must be held.
func waitReady(w frame.SemaphoreWait) bool {
	switch s := w.Semaphore.(type) {
	case *semaphore:
		return s.signaled
	case *timeline:
		return s.value >= w.Value
	default:
		panic("headless: wait on a semaphore of another device")
	}
}

// consume unsignals a binary semaphore after its wait was satisfied. d.mu must be held.
func consume(w frame.SemaphoreWait) {
	if s, ok := w.Semaphore.(*semaphore); ok {
		if s.destroyed {
			s.device.violate("binary semaphore %d consumed after Destroy", s.id)
		}
		s.signaled = false
	}
}

// checkAlive records a violation when sem was destroyed before use. d.mu must be held.
func (d *device) checkAlive(sem frame.Semaphore, use string) {
	switch s := sem.(type) {
	case *semaphore:
		if s.destroyed {
			d.violate("binary semaphore %d %s after Destroy", s.id, use)
		}
	case *timeline:
		if s.destroyed {
			d.violate("timeline %d %s after Destroy", s.id, use)
		}
	}
}

// raise applies a submission signal. d.mu must be held.
func raise(sig frame.SemaphoreSignal) {
	switch s := sig.Semaphore.(type) {
	case *semaphore:
		s.signal()
	case *timeline:
		s.signal(sig.Value)
	default:
		panic("headless: signal on a semaphore of another device")
	}
}
