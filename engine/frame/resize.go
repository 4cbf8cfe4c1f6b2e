package frame

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ResizeState is the phase of the resize handler.
type ResizeState int

const (
	// StateStable means the surface matches the last known size.
	StateStable ResizeState = iota

	// StateDraining means in-flight work is being waited out. A degenerate size parks here.
	StateDraining

	// StateRebuilding means the surface and slots are being recreated.
	StateRebuilding
)

func (s ResizeState) String() string {
	switch s {
	case StateStable:
		return "stable"
	case StateDraining:
		return "draining"
	case StateRebuilding:
		return "rebuilding"
	default:
		return fmt.Sprintf("ResizeState(%d)", int(s))
	}
}

// resizeHandler is the implementation of the ResizeHandler interface.
type resizeHandler struct {
	pool       SlotPool
	surface    Surface
	dependents []SizeDependent

	mu             sync.Mutex
	width, height  int
	framesInFlight int
	pending        bool
	state          ResizeState
	rebuilds       int
}

// ResizeHandler turns size notifications and out-of-date statuses into one drain and rebuild.
// Notifications may arrive from any goroutine; Process runs on the render goroutine.
type ResizeHandler interface {
	// OnSurfaceSizeChanged records the latest window size and requests a rebuild.
	// Repeated notifications before the next Process collapse into one rebuild at the last size.
	//
	// Parameters:
	//   - width: the framebuffer width in pixels, may be 0
	//   - height: the framebuffer height in pixels, may be 0
	OnSurfaceSizeChanged(width, height int)

	// Invalidate requests a rebuild at the last known size.
	Invalidate()

	// Pending reports whether a rebuild has been requested and not yet completed.
	Pending() bool

	// State returns the handler's current phase.
	State() ResizeState

	// Size returns the last known surface size.
	Size() (width, height int)

	// Rebuilds returns the number of completed rebuilds.
	Rebuilds() int

	// Process drains the pool and, when the latest size is usable, rebuilds the surface, the
	// size dependents and the slot pool. With a degenerate size it stays in StateDraining and
	// reports no rebuild; this is not an error.
	//
	// Parameters:
	//   - ctx: bounds the drain
	//
	// Returns:
	//   - bool: true if a rebuild completed
	//   - error: ctx.Err() or a *DeviceError
	Process(ctx context.Context) (bool, error)
}

var _ ResizeHandler = &resizeHandler{}

// NewResizeHandler creates a handler seeded with the surface's current extent.
//
// Parameters:
//   - pool: the slot pool drained and rebuilt on resize
//   - surface: the surface resized on rebuild
//   - dependents: render targets recreated after the surface
//
// Returns:
//   - ResizeHandler: the new handler in StateStable
func NewResizeHandler(pool SlotPool, surface Surface, dependents ...SizeDependent) ResizeHandler {
	w, h := surface.Extent()
	return &resizeHandler{
		pool:       pool,
		surface:    surface,
		dependents: dependents,
		width:      w,
		height:     h,
		state:      StateStable,
	}
}

func (h *resizeHandler) OnSurfaceSizeChanged(width, height int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.width, h.height = width, height
	h.pending = true
}

func (h *resizeHandler) Invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = true
}

// requestFramesInFlight schedules a slot count change for the next rebuild.
func (h *resizeHandler) requestFramesInFlight(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.framesInFlight = n
	h.pending = true
}

func (h *resizeHandler) Pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending
}

func (h *resizeHandler) State() ResizeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *resizeHandler) Size() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.width, h.height
}

func (h *resizeHandler) Rebuilds() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rebuilds
}

func (h *resizeHandler) setState(s ResizeState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *resizeHandler) Process(ctx context.Context) (bool, error) {
	h.mu.Lock()
	w, ht, fif := h.width, h.height, h.framesInFlight
	h.state = StateDraining
	h.mu.Unlock()

	if err := h.pool.Drain(ctx); err != nil {
		return false, err
	}

	if w <= 0 || ht <= 0 {
		slogger().Debug("frame: surface has no area, waiting for a usable size", "width", w, "height", ht)
		return false, nil
	}

	h.setState(StateRebuilding)
	if fif > 0 {
		h.pool.SetFramesInFlight(fif)
	}
	if err := h.surface.Resize(w, ht); err != nil {
		if errors.Is(err, ErrSurfaceDegenerate) {
			// The window may report a size before the surface catches up to a minimize.
			h.setState(StateDraining)
			slogger().Debug("frame: surface extent has no area, waiting for a usable size", "width", w, "height", ht)
			return false, nil
		}
		return false, fatal("resize surface", err)
	}
	for _, d := range h.dependents {
		if err := d.OnResize(w, ht); err != nil {
			return false, fatal("resize dependent", err)
		}
	}
	if err := h.pool.Rebuild(h.surface.ImageCount()); err != nil {
		return false, fatal("rebuild slots", err)
	}

	h.mu.Lock()
	h.state = StateStable
	h.rebuilds++
	// A notification that arrived while rebuilding keeps the request alive for the next cycle.
	if h.width == w && h.height == ht && h.framesInFlight == fif {
		h.pending = false
		h.framesInFlight = 0
	}
	n := h.rebuilds
	h.mu.Unlock()

	slogger().Info("frame: surface rebuilt", "width", w, "height", ht, "images", h.surface.ImageCount(), "slots", h.pool.Len(), "rebuilds", n)
	return true, nil
}
