package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
)

// DefaultImageCount is the number of presentable images of a new headless surface.
const DefaultImageCount = 3

// surface is the implementation of the Surface interface.
type surface struct {
	device *device

	width, height int
	imageCount    int
	nextCount     int
	acquireDelay  time.Duration

	next int
	held []bool

	outOfDate    bool
	acquireCalls int
	failAcquire  map[int]frame.Status
	presentFail  frame.Status
	rebuilds     int
	presents     int
}

// Surface is a frame.Surface backed by an image ring in memory. Presents are queued on the
// device's graphics queue behind the work that rendered them.
type Surface interface {
	frame.Surface

	// FailAcquireAt makes the n-th AcquireNextImage call (1-based) report status. An OutOfDate
	// status keeps the surface out of date until the next Resize.
	FailAcquireAt(n int, status frame.Status)

	// FailNextPresent makes the next Present report status.
	FailNextPresent(status frame.Status)

	// SetImageCount changes the image ring size applied by the next Resize.
	SetImageCount(n int)

	// Rebuilds returns how many times Resize recreated the image ring.
	Rebuilds() int

	// Presents returns how many images the presentation engine has taken.
	Presents() int
}

var _ Surface = &surface{}

// NewSurface creates a surface of width x height on d.
//
// Parameters:
//   - d: a device created by NewDevice
//   - width: the initial width in pixels
//   - height: the initial height in pixels
//   - options: functional options to configure the surface
//
// Returns:
//   - Surface: the new surface
func NewSurface(d Device, width, height int, options ...SurfaceBuilderOption) Surface {
	s := &surface{
		device:      d.(*device),
		width:       width,
		height:      height,
		imageCount:  DefaultImageCount,
		failAcquire: make(map[int]frame.Status),
	}
	for _, opt := range options {
		opt(s)
	}
	s.nextCount = s.imageCount
	s.held = make([]bool, s.imageCount)
	return s
}

func (s *surface) AcquireNextImage(ctx context.Context, signal frame.Semaphore) (int, frame.Status, error) {
	d := s.device
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return -1, frame.StatusOK, frame.ErrDeviceLost
	}

	s.acquireCalls++
	status := frame.StatusOK
	if st, ok := s.failAcquire[s.acquireCalls]; ok {
		delete(s.failAcquire, s.acquireCalls)
		if st == frame.StatusOutOfDate {
			s.outOfDate = true
		} else {
			status = st
		}
	}
	if s.outOfDate {
		return -1, frame.StatusOutOfDate, nil
	}

	sem, ok := signal.(*semaphore)
	if !ok {
		panic("headless: acquire signal is not a headless semaphore")
	}

	image := s.next
	if err := d.waitLocked(ctx, func() bool { return !s.held[image] }); err != nil {
		return -1, frame.StatusOK, err
	}
	s.next = (s.next + 1) % s.imageCount
	s.held[image] = true
	d.record(Event{Kind: EventAcquire, Image: image})

	if s.acquireDelay <= 0 {
		sem.signal()
		d.record(Event{Kind: EventAcquireReady, Image: image})
		d.cond.Broadcast()
		return image, status, nil
	}
	time.AfterFunc(s.acquireDelay, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		sem.signal()
		d.record(Event{Kind: EventAcquireReady, Image: image})
		d.cond.Broadcast()
	})
	return image, status, nil
}

func (s *surface) Present(image int, wait frame.Semaphore) (frame.Status, error) {
	d := s.device
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return frame.StatusOK, frame.ErrDeviceLost
	}
	if image < 0 || image >= len(s.held) || !s.held[image] {
		return frame.StatusOK, fmt.Errorf("headless: present of image %d that was not acquired", image)
	}

	d.checkAlive(wait, "waited on by present")
	d.graphics.enqueuePresent(&presentOp{surface: s, image: image, wait: wait})

	status := s.presentFail
	s.presentFail = frame.StatusOK
	if status == frame.StatusOutOfDate {
		s.outOfDate = true
	}
	return status, nil
}

// presented returns image to the ring once the presentation engine took it. d.mu must be held.
func (s *surface) presented(image int) {
	if image < len(s.held) {
		s.held[image] = false
	}
	s.presents++
	s.device.record(Event{Kind: EventPresent, Image: image})
}

func (s *surface) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("headless: resize to %dx%d: %w", width, height, frame.ErrSurfaceDegenerate)
	}
	d := s.device
	d.mu.Lock()
	defer d.mu.Unlock()

	// Images still queued for present must reach the presentation engine first.
	err := d.waitLocked(d.ctx, func() bool {
		for _, h := range s.held {
			if h {
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}

	s.width, s.height = width, height
	s.imageCount = s.nextCount
	s.held = make([]bool, s.imageCount)
	s.next = 0
	s.outOfDate = false
	s.rebuilds++
	slogger().Debug("headless: surface resized", "width", width, "height", height, "images", s.imageCount)
	return nil
}

func (s *surface) ImageCount() int {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	return s.imageCount
}

func (s *surface) Extent() (int, int) {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	return s.width, s.height
}

func (s *surface) FailAcquireAt(n int, status frame.Status) {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	s.failAcquire[n] = status
}

func (s *surface) FailNextPresent(status frame.Status) {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	s.presentFail = status
}

func (s *surface) SetImageCount(n int) {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	s.nextCount = max(n, 1)
}

func (s *surface) Rebuilds() int {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	return s.rebuilds
}

func (s *surface) Presents() int {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	return s.presents
}
