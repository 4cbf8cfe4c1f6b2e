package renderer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
	"github.com/Carmen-Shannon/oxy-frame/engine/renderer/headless"
	"github.com/Carmen-Shannon/oxy-frame/engine/window"
	"github.com/cogentcore/webgpu/wgpu"
)

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu *sync.Mutex

	backendType RendererBackendType
	device      frame.Device
	surface     frame.Surface
	strategy    frame.SyncStrategy
	presentMode PresentMode

	// backend specific state, only the one matching backendType is set
	wgpu     *wgpuDevice
	targets  *wgpuTargets
	vulkan   *vulkanDevice
	headless headless.Device

	// Pre-creation config collected from builder options
	forceFallbackAdapter bool
	dedicatedCompute     bool
	msaa                 MSAASampleCount
	headlessWidth        int
	headlessHeight       int
	headlessDevice       []headless.DeviceBuilderOption
	headlessSurface      []headless.SurfaceBuilderOption

	closed bool
}

// Renderer owns the frame.Device and frame.Surface pair of one backend and builds frame
// schedulers on top of them.
//
// The Renderer holds no rendering content. What is drawn each frame is decided by the
// frame.Recorder handed to NewScheduler; recorders reach native objects through
// VulkanCommandBuffer, WGPUEncoder or headless.Mark.
type Renderer interface {
	// Backend returns the backend this renderer was created with.
	Backend() RendererBackendType

	// Device returns the backend device. For BackendTypeHeadless it also implements headless.Device.
	Device() frame.Device

	// Surface returns the presentation surface.
	Surface() frame.Surface

	// SyncStrategy returns the strategy schedulers are created with. It falls back to
	// frame.SyncFence after NewScheduler found timelines unsupported.
	SyncStrategy() frame.SyncStrategy

	// PresentMode returns the present mode requested for the surface.
	PresentMode() PresentMode

	// SetPresentMode changes the present mode. It is applied at the next surface rebuild, which
	// the caller can force with the scheduler handler's Invalidate.
	//
	// Parameters:
	//   - mode: the PresentMode to use
	SetPresentMode(mode PresentMode)

	// SizeDependents returns the backend render targets recreated on every surface rebuild.
	SizeDependents() []frame.SizeDependent

	// NewScheduler creates a frame scheduler on this renderer's device and surface. The
	// renderer's sync strategy and size dependents are applied before options. When the device
	// has no timeline support the scheduler is created with frame.SyncFence instead.
	//
	// Parameters:
	//   - recorder: records each frame's content
	//   - options: additional scheduler options
	//
	// Returns:
	//   - frame.Scheduler: the scheduler
	//   - error: an error if slot resources could not be created
	NewScheduler(recorder frame.Recorder, options ...frame.SchedulerBuilderOption) (frame.Scheduler, error)

	// Close waits for the device to go idle and releases every backend object.
	// Schedulers created from this renderer must be closed first.
	//
	// Returns:
	//   - error: an error if the device could not be drained
	Close() error
}

var _ Renderer = &renderer{}

// NewRenderer creates a renderer for the requested backend.
//
// Parameters:
//   - backendType: the RendererBackendType to use
//   - win: the window to present to; nil is accepted for BackendTypeHeadless only
//   - options: functional options to configure the renderer
//
// Returns:
//   - Renderer: the ready renderer with its surface sized to the window
//   - error: an error if the backend could not be brought up
func NewRenderer(backendType RendererBackendType, win window.Window, options ...RendererBuilderOption) (Renderer, error) {
	r := &renderer{
		mu:             &sync.Mutex{},
		backendType:    backendType,
		strategy:       frame.SyncFence,
		presentMode:    PresentModeVSync,
		msaa:           MSAA4x,
		headlessWidth:  1280,
		headlessHeight: 720,
	}
	for _, opt := range options {
		opt(r)
	}

	var err error
	switch backendType {
	case BackendTypeWGPU:
		err = r.initWGPU(win)
	case BackendTypeVulkan:
		err = r.initVulkan(win)
	case BackendTypeHeadless:
		r.initHeadless(win)
	default:
		err = fmt.Errorf("renderer: unsupported backend %v", backendType)
	}
	if err != nil {
		return nil, err
	}

	w, h := r.surface.Extent()
	slogger().Info("renderer: backend ready",
		"backend", backendType.String(), "width", w, "height", h,
		"images", r.surface.ImageCount(), "presentMode", r.presentMode.String())
	return r, nil
}

func (r *renderer) initWGPU(win window.Window) error {
	if win == nil {
		return errors.New("renderer: wgpu backend needs a window")
	}
	d, err := newWGPUDevice(win.SurfaceDescriptor(), r.forceFallbackAdapter)
	if err != nil {
		return err
	}
	width, height := windowExtent(win)
	d.surface.setPresentMode(r.presentMode)
	d.surface.configure(width, height)

	t := &wgpuTargets{mu: &sync.Mutex{}, device: d, sampleCount: r.msaa}
	if err := t.OnResize(width, height); err != nil {
		t.release()
		d.release()
		return err
	}
	r.wgpu, r.targets = d, t
	r.device, r.surface = d, d.surface
	return nil
}

func (r *renderer) initVulkan(win window.Window) error {
	d, err := newVulkanDevice(win, r.forceFallbackAdapter, r.dedicatedCompute)
	if err != nil {
		return err
	}
	width, height := windowExtent(win)
	d.surface.presentMode = r.presentMode
	if err := d.surface.create(width, height); err != nil {
		d.release()
		return err
	}
	r.vulkan = d
	r.device, r.surface = d, d.surface
	return nil
}

// initHeadless creates the simulated device. A window, when given, only provides the extent.
func (r *renderer) initHeadless(win window.Window) {
	devOpts := r.headlessDevice
	if r.dedicatedCompute {
		devOpts = append([]headless.DeviceBuilderOption{headless.WithSeparateComputeQueue()}, devOpts...)
	}
	d := headless.NewDevice(devOpts...)

	width, height := r.headlessWidth, r.headlessHeight
	if win != nil {
		width, height = windowExtent(win)
	}
	r.headless = d
	r.device = d
	r.surface = headless.NewSurface(d, width, height, r.headlessSurface...)
}

// windowExtent returns the framebuffer size, never smaller than 1x1. A window that starts
// minimized is resized properly by its first size notification.
func windowExtent(win window.Window) (int, int) {
	return max(win.Width(), 1), max(win.Height(), 1)
}

func (r *renderer) Backend() RendererBackendType {
	return r.backendType
}

func (r *renderer) Device() frame.Device {
	return r.device
}

func (r *renderer) Surface() frame.Surface {
	return r.surface
}

func (r *renderer) SyncStrategy() frame.SyncStrategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.strategy
}

func (r *renderer) PresentMode() PresentMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presentMode
}

func (r *renderer) SetPresentMode(mode PresentMode) {
	r.mu.Lock()
	r.presentMode = mode
	r.mu.Unlock()

	switch {
	case r.wgpu != nil:
		r.wgpu.surface.setPresentMode(mode)
	case r.vulkan != nil:
		r.vulkan.surface.mu.Lock()
		r.vulkan.surface.presentMode = mode
		r.vulkan.surface.mu.Unlock()
	}
}

func (r *renderer) SizeDependents() []frame.SizeDependent {
	if r.targets != nil {
		return []frame.SizeDependent{r.targets}
	}
	return nil
}

func (r *renderer) NewScheduler(recorder frame.Recorder, options ...frame.SchedulerBuilderOption) (frame.Scheduler, error) {
	build := func(fallback bool) (frame.Scheduler, error) {
		opts := []frame.SchedulerBuilderOption{
			frame.WithSyncStrategy(r.SyncStrategy()),
			frame.WithSizeDependent(r.SizeDependents()...),
		}
		opts = append(opts, options...)
		// options may carry their own WithSyncStrategy, so the fallback goes last
		if fallback {
			opts = append(opts, frame.WithSyncStrategy(frame.SyncFence))
		}
		return frame.NewScheduler(r.device, r.surface, recorder, opts...)
	}

	s, err := build(false)
	if !errors.Is(err, frame.ErrTimelineUnsupported) {
		return s, err
	}
	slogger().Warn("renderer: timeline semaphores unsupported, falling back to fences",
		"backend", r.backendType.String())
	r.mu.Lock()
	r.strategy = frame.SyncFence
	r.mu.Unlock()
	return build(true)
}

func (r *renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.device.WaitIdle(context.Background())
	switch {
	case r.wgpu != nil:
		r.targets.release()
		r.wgpu.release()
	case r.vulkan != nil:
		r.vulkan.release()
	case r.headless != nil:
		err = errors.Join(err, r.headless.Close())
	}
	return err
}

// WGPUPassDescriptor returns the command encoder of a WGPU command buffer together with the
// main render pass descriptor for the frame's swapchain image. The pass uses the renderer's
// MSAA and depth targets.
//
// Parameters:
//   - r: a renderer created with BackendTypeWGPU
//   - cb: the command buffer handed to the recorder, after its color attachment barrier
//   - clear: the clear color of the pass
//
// Returns:
//   - *wgpu.CommandEncoder: the encoder to begin the pass on
//   - *wgpu.RenderPassDescriptor: the pass descriptor
//   - bool: false if r or cb does not belong to the WGPU backend or no image is held
func WGPUPassDescriptor(r Renderer, cb frame.CommandBuffer, clear wgpu.Color) (*wgpu.CommandEncoder, *wgpu.RenderPassDescriptor, bool) {
	impl, ok := r.(*renderer)
	if !ok || impl.targets == nil {
		return nil, nil, false
	}
	encoder, view := WGPUEncoder(cb)
	if encoder == nil || view == nil {
		return nil, nil, false
	}
	return encoder, impl.targets.passDescriptor(view, clear), true
}
