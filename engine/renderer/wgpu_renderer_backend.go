package renderer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
	"github.com/cogentcore/webgpu/wgpu"
)

// WebGPU has one queue and tracks hazards itself. Semaphores and barriers are accepted and
// dropped, and submission order on the single queue gives acquire-before-write and
// present-after-write. Fences map onto submission indices polled through the device.

// wgpuDevice implements frame.Device on top of a wgpu device and its single queue.
type wgpuDevice struct {
	mu *sync.Mutex

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	q       *wgpuQueue
	surface *wgpuSurface
}

var _ frame.Device = &wgpuDevice{}

// newWGPUDevice requests an adapter compatible with the surface described by surfaceDescriptor,
// then a device and its queue.
//
// Parameters:
//   - surfaceDescriptor: the platform surface descriptor from the window
//   - forceFallbackAdapter: request a software adapter
//
// Returns:
//   - *wgpuDevice: the device, with its surface created but not yet configured
//   - error: an error if no adapter or device is available
func newWGPUDevice(surfaceDescriptor *wgpu.SurfaceDescriptor, forceFallbackAdapter bool) (*wgpuDevice, error) {
	if surfaceDescriptor == nil {
		return nil, errors.New("renderer: wgpu backend needs a window surface")
	}
	runtime.LockOSThread()

	d := &wgpuDevice{
		mu:       &sync.Mutex{},
		instance: wgpu.CreateInstance(nil),
	}
	surface := d.instance.CreateSurface(surfaceDescriptor)

	a, err := d.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
		CompatibleSurface:    surface,
	})
	if err != nil {
		surface.Release()
		d.instance.Release()
		return nil, fmt.Errorf("renderer: request wgpu adapter: %w", err)
	}
	d.adapter = a

	dev, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Main Device",
	})
	if err != nil {
		surface.Release()
		a.Release()
		d.instance.Release()
		return nil, fmt.Errorf("renderer: request wgpu device: %w", err)
	}
	d.device = dev
	d.queue = dev.GetQueue()
	d.q = &wgpuQueue{device: d}
	d.surface = &wgpuSurface{mu: &sync.Mutex{}, device: d, surface: surface}
	return d, nil
}

func (d *wgpuDevice) Queue(frame.QueueKind) frame.Queue {
	return d.q
}

func (d *wgpuDevice) NewCommandBuffer(frame.Queue) (frame.CommandBuffer, error) {
	return &wgpuCommandBuffer{device: d}, nil
}

func (d *wgpuDevice) NewSemaphore() (frame.Semaphore, error) {
	return wgpuSemaphore{}, nil
}

func (d *wgpuDevice) NewFence(signaled bool) (frame.Fence, error) {
	return &wgpuFence{device: d, signaled: signaled}, nil
}

// NewTimeline is unsupported: WebGPU exposes no GPU-side counter to wait on.
func (d *wgpuDevice) NewTimeline(uint64) (frame.Timeline, error) {
	return nil, frame.ErrTimelineUnsupported
}

func (d *wgpuDevice) WaitIdle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.device.Poll(true, nil)
	return nil
}

func (d *wgpuDevice) release() {
	d.surface.release()
	if d.device != nil {
		d.device.Release()
	}
	if d.adapter != nil {
		d.adapter.Release()
	}
	if d.instance != nil {
		d.instance.Release()
	}
}

// wgpuQueue is the device's only queue. It answers for both graphics and compute.
type wgpuQueue struct {
	device *wgpuDevice
}

func (q *wgpuQueue) Kind() frame.QueueKind { return frame.QueueGraphics }
func (q *wgpuQueue) Family() uint32        { return 0 }

// Submit hands the finished command buffers to the wgpu queue. Waits and signals are dropped.
func (q *wgpuQueue) Submit(s frame.Submission) error {
	cbs := make([]*wgpu.CommandBuffer, 0, len(s.CommandBuffers))
	for _, c := range s.CommandBuffers {
		cb, ok := c.(*wgpuCommandBuffer)
		if !ok || cb.finished == nil {
			return &frame.DeviceError{Op: "submit", Err: errors.New("wgpu: command buffer was not ended")}
		}
		cbs = append(cbs, cb.finished)
	}

	q.device.mu.Lock()
	index := q.device.queue.Submit(cbs...)
	q.device.mu.Unlock()

	for _, c := range s.CommandBuffers {
		c.(*wgpuCommandBuffer).consume()
	}
	if s.Fence != nil {
		s.Fence.(*wgpuFence).arm(index)
	}
	return nil
}

type wgpuSemaphore struct{}

func (wgpuSemaphore) Destroy() {}

// wgpuFence is signalled once the submission it was armed with has completed.
type wgpuFence struct {
	device *wgpuDevice

	mu       sync.Mutex
	signaled bool
	armed    bool
	index    wgpu.SubmissionIndex
}

func (f *wgpuFence) arm(index wgpu.SubmissionIndex) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = true
	f.index = index
}

// Wait polls the device until the armed submission is done. wgpu-native's poll cannot be
// interrupted, so ctx is only checked before blocking.
func (f *wgpuFence) Wait(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !f.armed {
		return &frame.DeviceError{Op: "wait fence", Err: errors.New("wgpu: fence was reset but never submitted")}
	}
	f.device.device.Poll(true, &wgpu.WrappedSubmissionIndex{
		Queue:           f.device.queue,
		SubmissionIndex: f.index,
	})
	f.signaled = true
	f.armed = false
	return nil
}

func (f *wgpuFence) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signaled = false
	f.armed = false
	return nil
}

func (f *wgpuFence) Destroy() {}

// wgpuCommandBuffer records into a fresh wgpu.CommandEncoder per Begin.
type wgpuCommandBuffer struct {
	device   *wgpuDevice
	encoder  *wgpu.CommandEncoder
	finished *wgpu.CommandBuffer
	target   *wgpu.TextureView
}

var _ frame.CommandBuffer = &wgpuCommandBuffer{}

func (cb *wgpuCommandBuffer) Begin() error {
	cb.consume()
	encoder, err := cb.device.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	cb.encoder = encoder
	cb.target = nil
	return nil
}

func (cb *wgpuCommandBuffer) End() error {
	if cb.encoder == nil {
		return errors.New("wgpu: End without Begin")
	}
	finished, err := cb.encoder.Finish(nil)
	cb.encoder.Release()
	cb.encoder = nil
	if err != nil {
		return fmt.Errorf("wgpu: finish command encoder: %w", err)
	}
	cb.finished = finished
	return nil
}

func (cb *wgpuCommandBuffer) BufferBarrier(frame.BufferBarrier) {}

// ImageBarrier picks up the acquired surface view when the image enters the color attachment
// layout. The transition itself is implicit in WebGPU.
func (cb *wgpuCommandBuffer) ImageBarrier(b frame.ImageBarrier) {
	if b.NewLayout == frame.LayoutColorAttachment {
		cb.target = cb.device.surface.currentView()
	}
}

func (cb *wgpuCommandBuffer) Destroy() {
	cb.consume()
	if cb.encoder != nil {
		cb.encoder.Release()
		cb.encoder = nil
	}
}

// consume releases a finished buffer once the queue has taken it.
func (cb *wgpuCommandBuffer) consume() {
	if cb.finished != nil {
		cb.finished.Release()
		cb.finished = nil
	}
}

// WGPUEncoder returns the open encoder and the acquired surface view of a command buffer
// created by the WebGPU backend. Both are nil for any other command buffer, and the view is nil
// until the scheduler has transitioned the image.
//
// Parameters:
//   - cb: the command buffer passed to a Recorder
//
// Returns:
//   - *wgpu.CommandEncoder: the encoder to record passes into
//   - *wgpu.TextureView: the swapchain view for this frame
func WGPUEncoder(cb frame.CommandBuffer) (*wgpu.CommandEncoder, *wgpu.TextureView) {
	w, ok := cb.(*wgpuCommandBuffer)
	if !ok {
		return nil, nil
	}
	return w.encoder, w.target
}

// wgpuBuffer labels a wgpu buffer shared between compute and graphics work.
type wgpuBuffer struct {
	buffer *wgpu.Buffer
	label  string
}

func (b *wgpuBuffer) Label() string { return b.label }

// WrapWGPUBuffer adapts a wgpu buffer for use in a frame.SharedBuffer.
//
// Parameters:
//   - buffer: the storage or vertex buffer
//   - label: a name for logs
//
// Returns:
//   - frame.Buffer: the wrapped buffer
func WrapWGPUBuffer(buffer *wgpu.Buffer, label string) frame.Buffer {
	return &wgpuBuffer{buffer: buffer, label: label}
}

// wgpuSurface implements frame.Surface over a configured wgpu surface. WebGPU hides the
// swapchain, so ImageCount reports 0 and every acquired image has index 0.
type wgpuSurface struct {
	mu      *sync.Mutex
	device  *wgpuDevice
	surface *wgpu.Surface

	format      wgpu.TextureFormat
	alphaMode   wgpu.CompositeAlphaMode
	presentMode wgpu.PresentMode
	width       int
	height      int

	frameSurface *wgpu.Texture
	frameView    *wgpu.TextureView
}

var _ frame.Surface = &wgpuSurface{}

// configure applies the surface configuration for the given size.
//
// Parameters:
//   - width: the new width of the surface in pixels
//   - height: the new height of the surface in pixels
func (s *wgpuSurface) configure(width, height int) {
	capabilities := s.surface.GetCapabilities(s.device.adapter)
	s.format = capabilities.Formats[0]
	s.alphaMode = capabilities.AlphaModes[0]

	s.device.mu.Lock()
	s.surface.Configure(s.device.adapter, s.device.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      s.format,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: s.presentMode,
		AlphaMode:   s.alphaMode,
	})
	s.device.mu.Unlock()
	s.width, s.height = width, height
}

func (s *wgpuSurface) setPresentMode(mode PresentMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch mode {
	case PresentModeUncapped:
		s.presentMode = wgpu.PresentModeImmediate
	case PresentModeMailbox:
		s.presentMode = wgpu.PresentModeMailbox
	default:
		s.presentMode = wgpu.PresentModeFifo
	}
}

// AcquireNextImage takes the current surface texture. Any failure to obtain it means the
// configuration no longer matches the window and is reported as out of date.
func (s *wgpuSurface) AcquireNextImage(ctx context.Context, _ frame.Semaphore) (int, frame.Status, error) {
	if err := ctx.Err(); err != nil {
		return -1, frame.StatusOK, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frameSurface != nil {
		return -1, frame.StatusOK, errors.New("wgpu: previous frame surface not yet presented")
	}

	surfaceTexture, err := s.surface.GetCurrentTexture()
	if err != nil {
		slogger().Debug("renderer: wgpu surface texture unavailable", "err", err)
		return -1, frame.StatusOutOfDate, nil
	}
	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return -1, frame.StatusOK, &frame.DeviceError{Op: "create surface view", Err: err}
	}
	s.frameSurface = surfaceTexture
	s.frameView = view
	return 0, frame.StatusOK, nil
}

func (s *wgpuSurface) currentView() *wgpu.TextureView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameView
}

// Present shows the held texture. The graphics submission was made before this call on the
// same queue, so it is ordered before the present.
func (s *wgpuSurface) Present(image int, _ frame.Semaphore) (frame.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frameSurface == nil || image != 0 {
		return frame.StatusOK, fmt.Errorf("wgpu: image %d was not acquired", image)
	}

	s.surface.Present()

	s.frameView.Release()
	s.frameView = nil
	s.frameSurface.Release()
	s.frameSurface = nil
	return frame.StatusOK, nil
}

func (s *wgpuSurface) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("wgpu: degenerate surface size %dx%d", width, height)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frameSurface != nil {
		return errors.New("wgpu: resize while an image is held")
	}
	s.configure(width, height)
	return nil
}

func (s *wgpuSurface) ImageCount() int { return 0 }

func (s *wgpuSurface) Extent() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *wgpuSurface) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frameView != nil {
		s.frameView.Release()
		s.frameView = nil
	}
	if s.frameSurface != nil {
		s.frameSurface.Release()
		s.frameSurface = nil
	}
	if s.surface != nil {
		s.surface.Release()
		s.surface = nil
	}
}

// wgpuTargets owns the size-dependent MSAA and depth attachments of the main render pass.
// It is registered with the scheduler as a frame.SizeDependent so every surface rebuild
// recreates them at the new size.
type wgpuTargets struct {
	mu          *sync.Mutex
	device      *wgpuDevice
	sampleCount MSAASampleCount

	msaaTexture  *wgpu.Texture
	msaaView     *wgpu.TextureView
	depthTexture *wgpu.Texture
	depthView    *wgpu.TextureView
}

var _ frame.SizeDependent = &wgpuTargets{}

func (t *wgpuTargets) OnResize(width, height int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseLocked()

	count := uint32(t.sampleCount)
	format := t.device.surface.format

	if count > 1 {
		// The pass draws into the MSAA texture and resolves into the swapchain view.
		msaaTexture, err := t.device.device.CreateTexture(&wgpu.TextureDescriptor{
			Label: "MSAA Texture",
			Size: wgpu.Extent3D{
				Width:              uint32(width),
				Height:             uint32(height),
				DepthOrArrayLayers: 1,
			},
			MipLevelCount: 1,
			SampleCount:   count,
			Dimension:     wgpu.TextureDimension2D,
			Format:        format,
			Usage:         wgpu.TextureUsageRenderAttachment,
		})
		if err != nil {
			return fmt.Errorf("wgpu: create msaa texture: %w", err)
		}
		t.msaaTexture = msaaTexture
		if t.msaaView, err = msaaTexture.CreateView(nil); err != nil {
			return fmt.Errorf("wgpu: create msaa view: %w", err)
		}
	}

	// Depth sample count must match the color attachment.
	depthTexture, err := t.device.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: "Depth Texture",
		Size: wgpu.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   count,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatDepth24Plus,
		Usage:         wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create depth texture: %w", err)
	}
	t.depthTexture = depthTexture
	if t.depthView, err = depthTexture.CreateView(nil); err != nil {
		return fmt.Errorf("wgpu: create depth view: %w", err)
	}
	return nil
}

// passDescriptor builds the main render pass around the frame's swapchain view. With MSAA the
// swapchain view is the resolve target, otherwise it is drawn to directly.
func (t *wgpuTargets) passDescriptor(view *wgpu.TextureView, clear wgpu.Color) *wgpu.RenderPassDescriptor {
	t.mu.Lock()
	defer t.mu.Unlock()

	color := wgpu.RenderPassColorAttachment{
		View:       view,
		LoadOp:     wgpu.LoadOpClear,
		StoreOp:    wgpu.StoreOpStore,
		ClearValue: clear,
	}
	if t.msaaView != nil {
		color.View = t.msaaView
		color.ResolveTarget = view
		color.StoreOp = wgpu.StoreOpDiscard
	}
	return &wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{color},
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            t.depthView,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpDiscard,
			DepthClearValue: 1.0,
		},
	}
}

func (t *wgpuTargets) releaseLocked() {
	if t.msaaView != nil {
		t.msaaView.Release()
		t.msaaView = nil
	}
	if t.msaaTexture != nil {
		t.msaaTexture.Release()
		t.msaaTexture = nil
	}
	if t.depthView != nil {
		t.depthView.Release()
		t.depthView = nil
	}
	if t.depthTexture != nil {
		t.depthTexture.Release()
		t.depthTexture = nil
	}
}

func (t *wgpuTargets) release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseLocked()
}
