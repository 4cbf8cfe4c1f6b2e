package frame

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDeviceLost is returned by backends when the logical device is gone.
	ErrDeviceLost = errors.New("frame: device lost")

	// ErrSurfaceLost is returned by backends when the presentation surface no longer exists.
	ErrSurfaceLost = errors.New("frame: surface lost")

	// ErrTimelineUnsupported is returned by Device.NewTimeline on devices without timeline semaphores.
	ErrTimelineUnsupported = errors.New("frame: timeline semaphores not supported")

	// ErrSurfaceDegenerate is returned by Surface.Resize when the surface currently has no area,
	// for example while the window is minimized. The resize is retried on a later frame.
	ErrSurfaceDegenerate = errors.New("frame: surface has no area")
)

// DeviceError is a fatal device failure. The render loop cannot continue after one.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("frame: fatal device error during %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is, or wraps, a DeviceError.
func IsFatal(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}

// fatal wraps err as a DeviceError unless it is nil, a context error, or already fatal.
func fatal(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsFatal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &DeviceError{Op: op, Err: err}
}
