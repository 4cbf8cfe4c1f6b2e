package renderer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
	vk "github.com/goki/vulkan"
)

// vulkanSurface owns the VkSurfaceKHR and its swapchain.
type vulkanSurface struct {
	mu     *sync.Mutex
	device *vulkanDevice

	surface     vk.Surface
	swapchain   vk.Swapchain
	images      []vk.Image
	format      vk.Format
	presentMode PresentMode
	width       int
	height      int
}

var _ frame.Surface = &vulkanSurface{}

// create builds a swapchain of width x height, reusing the previous one as oldSwapchain.
// The device must be idle with respect to the old images.
func (s *vulkanSurface) create(width, height int) error {
	d := s.device
	var caps vk.SurfaceCapabilities
	if err := vkResult("surface capabilities", vk.GetPhysicalDeviceSurfaceCapabilities(d.gpu, s.surface, &caps)); err != nil {
		return err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	extent := caps.CurrentExtent
	if extent.Width == vk.MaxUint32 {
		extent.Width = clampExtent(uint32(width), caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
		extent.Height = clampExtent(uint32(height), caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	}
	if extent.Width == 0 || extent.Height == 0 {
		return fmt.Errorf("vulkan: surface reports a %dx%d extent: %w", extent.Width, extent.Height, frame.ErrSurfaceDegenerate)
	}

	var formatCount uint32
	vk.GetPhysicalDeviceSurfaceFormats(d.gpu, s.surface, &formatCount, nil)
	if formatCount == 0 {
		return errors.New("vulkan: surface has no formats")
	}
	formats := make([]vk.SurfaceFormat, formatCount)
	vk.GetPhysicalDeviceSurfaceFormats(d.gpu, s.surface, &formatCount, formats)
	chosen := formats[0]
	chosen.Deref()
	for i := range formats {
		formats[i].Deref()
		if formats[i].Format == vk.FormatB8g8r8a8Unorm {
			chosen = formats[i]
			break
		}
	}

	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	compositeAlpha := vk.CompositeAlphaOpaqueBit
	for _, flag := range []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	} {
		if caps.SupportedCompositeAlpha&vk.CompositeAlphaFlags(flag) != 0 {
			compositeAlpha = flag
			break
		}
	}

	old := s.swapchain
	var swapchain vk.Swapchain
	ret := vk.CreateSwapchain(d.device, &vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          s.surface,
		MinImageCount:    imageCount,
		ImageFormat:      chosen.Format,
		ImageColorSpace:  chosen.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   compositeAlpha,
		PresentMode:      s.pickPresentMode(),
		Clipped:          vk.True,
		OldSwapchain:     old,
	}, nil, &swapchain)
	if err := vkResult("create swapchain", ret); err != nil {
		return err
	}
	if old != vk.NullSwapchain {
		vk.DestroySwapchain(d.device, old, nil)
	}

	var n uint32
	vk.GetSwapchainImages(d.device, swapchain, &n, nil)
	images := make([]vk.Image, n)
	if err := vkResult("swapchain images", vk.GetSwapchainImages(d.device, swapchain, &n, images)); err != nil {
		vk.DestroySwapchain(d.device, swapchain, nil)
		s.swapchain = vk.NullSwapchain
		return err
	}

	s.swapchain = swapchain
	s.images = images
	s.format = chosen.Format
	s.width = int(extent.Width)
	s.height = int(extent.Height)
	slogger().Debug("vulkan: swapchain created",
		"width", s.width, "height", s.height, "images", len(images), "presentMode", s.presentMode)
	return nil
}

// pickPresentMode returns the requested mode when the surface supports it, otherwise FIFO,
// which every implementation must support.
func (s *vulkanSurface) pickPresentMode() vk.PresentMode {
	want := vk.PresentModeFifo
	switch s.presentMode {
	case PresentModeUncapped:
		want = vk.PresentModeImmediate
	case PresentModeMailbox:
		want = vk.PresentModeMailbox
	}
	if want == vk.PresentModeFifo {
		return want
	}

	var n uint32
	vk.GetPhysicalDeviceSurfacePresentModes(s.device.gpu, s.surface, &n, nil)
	modes := make([]vk.PresentMode, n)
	vk.GetPhysicalDeviceSurfacePresentModes(s.device.gpu, s.surface, &n, modes)
	for _, m := range modes {
		if m == want {
			return want
		}
	}
	slogger().Warn("vulkan: present mode unsupported, using fifo", "requested", s.presentMode)
	return vk.PresentModeFifo
}

func (s *vulkanSurface) AcquireNextImage(ctx context.Context, signal frame.Semaphore) (int, frame.Status, error) {
	if err := ctx.Err(); err != nil {
		return 0, frame.StatusOK, err
	}
	s.mu.Lock()
	swapchain := s.swapchain
	s.mu.Unlock()

	var idx uint32
	ret := vk.AcquireNextImage(s.device.device, swapchain, vk.MaxUint64,
		signal.(*vulkanSemaphore).sem, vk.NullFence, &idx)
	status, err := presentStatus("acquire next image", ret)
	return int(idx), status, err
}

func (s *vulkanSurface) Present(image int, wait frame.Semaphore) (frame.Status, error) {
	s.mu.Lock()
	swapchain := s.swapchain
	s.mu.Unlock()

	info := &vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{swapchain},
		PImageIndices:  []uint32{uint32(image)},
	}
	if wait != nil {
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{wait.(*vulkanSemaphore).sem}
	}

	s.device.mu.Lock()
	ret := vk.QueuePresent(s.device.graphics.queue, info)
	s.device.mu.Unlock()
	return presentStatus("queue present", ret)
}

func (s *vulkanSurface) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("vulkan: resize to %dx%d: %w", width, height, frame.ErrSurfaceDegenerate)
	}
	if err := s.device.WaitIdle(context.Background()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.create(width, height)
}

func (s *vulkanSurface) ImageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

func (s *vulkanSurface) Extent() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *vulkanSurface) image(i int) vk.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.images) {
		var none vk.Image
		return none
	}
	return s.images[i]
}

func (s *vulkanSurface) release() {
	if s.swapchain != vk.NullSwapchain {
		vk.DestroySwapchain(s.device.device, s.swapchain, nil)
		s.swapchain = vk.NullSwapchain
	}
	if s.surface != vk.NullSurface {
		vk.DestroySurface(s.device.instance, s.surface, nil)
		s.surface = vk.NullSurface
	}
	s.images = nil
}

// presentStatus maps acquire and present results. Out-of-date and suboptimal are statuses,
// everything else that is not success is fatal.
func presentStatus(op string, ret vk.Result) (frame.Status, error) {
	switch ret {
	case vk.Success:
		return frame.StatusOK, nil
	case vk.Suboptimal:
		return frame.StatusSuboptimal, nil
	case vk.ErrorOutOfDate:
		return frame.StatusOutOfDate, nil
	default:
		return frame.StatusOK, vkResult(op, ret)
	}
}

func clampExtent(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}
