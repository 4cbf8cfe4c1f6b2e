package renderer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
	"github.com/Carmen-Shannon/oxy-frame/engine/window"
	vk "github.com/goki/vulkan"
)

// fenceWaitSlice bounds each vkWaitForFences call so a cancelled context is noticed.
const fenceWaitSlice = 10 * time.Millisecond

// vulkanDevice implements frame.Device with explicit Vulkan queues, semaphores, fences and
// pipeline barriers.
type vulkanDevice struct {
	// mu serialises vkQueueSubmit and vkQueuePresentKHR, which need external synchronisation
	// when graphics and compute share a queue.
	mu *sync.Mutex

	instance vk.Instance
	gpu      vk.PhysicalDevice
	device   vk.Device

	graphics *vulkanQueue
	compute  *vulkanQueue
	pools    map[uint32]vk.CommandPool

	surface *vulkanSurface
}

var _ frame.Device = &vulkanDevice{}

// newVulkanDevice loads Vulkan through GLFW, creates an instance and a surface for win, picks a
// physical device with a present-capable graphics family, and opens a logical device. A
// dedicated compute family is used when the device has one and dedicatedCompute is set.
//
// Parameters:
//   - win: the window to present to
//   - preferSoftware: prefer a CPU device (lavapipe, SwiftShader) over hardware
//   - dedicatedCompute: use a compute-only family for the compute queue when available
//
// Returns:
//   - *vulkanDevice: the device, with its surface created but no swapchain yet
//   - error: an error if any step of bring-up fails
func newVulkanDevice(win window.Window, preferSoftware, dedicatedCompute bool) (*vulkanDevice, error) {
	if win == nil {
		return nil, errors.New("renderer: vulkan backend needs a window")
	}
	vk.SetGetInstanceProcAddr(win.VulkanProcAddr())
	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("renderer: load vulkan: %w", err)
	}

	d := &vulkanDevice{
		mu:    &sync.Mutex{},
		pools: make(map[uint32]vk.CommandPool),
	}

	exts := win.VulkanInstanceExtensions()
	var instance vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         vk.MakeVersion(1, 0, 0),
			ApplicationVersion: vk.MakeVersion(1, 0, 0),
			PApplicationName:   safeString("oxy-frame"),
			PEngineName:        safeString("oxy-frame"),
		},
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: safeStrings(exts),
	}, nil, &instance)
	if err := vk.Error(ret); err != nil {
		return nil, fmt.Errorf("renderer: create vulkan instance: %w", err)
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, fmt.Errorf("renderer: init vulkan instance: %w", err)
	}
	d.instance = instance

	surface, err := win.CreateVulkanSurface(instance)
	if err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, err
	}

	gpu, graphicsFamily, computeFamily, err := pickPhysicalDevice(instance, surface, preferSoftware, dedicatedCompute)
	if err != nil {
		vk.DestroySurface(instance, surface, nil)
		vk.DestroyInstance(instance, nil)
		return nil, err
	}
	d.gpu = gpu

	families := []uint32{graphicsFamily}
	if computeFamily != graphicsFamily {
		families = append(families, computeFamily)
	}
	queueInfos := make([]vk.DeviceQueueCreateInfo, 0, len(families))
	for _, f := range families {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: f,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}
	deviceExts := safeStrings([]string{"VK_KHR_swapchain"})
	var device vk.Device
	ret = vk.CreateDevice(gpu, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(deviceExts)),
		PpEnabledExtensionNames: deviceExts,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{}},
	}, nil, &device)
	if err := vk.Error(ret); err != nil {
		vk.DestroySurface(instance, surface, nil)
		vk.DestroyInstance(instance, nil)
		return nil, fmt.Errorf("renderer: create vulkan device: %w", err)
	}
	d.device = device

	d.graphics = d.openQueue(frame.QueueGraphics, graphicsFamily)
	d.compute = d.graphics
	if computeFamily != graphicsFamily {
		d.compute = d.openQueue(frame.QueueCompute, computeFamily)
	}
	for _, f := range families {
		var pool vk.CommandPool
		ret := vk.CreateCommandPool(device, &vk.CommandPoolCreateInfo{
			SType:            vk.StructureTypeCommandPoolCreateInfo,
			Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
			QueueFamilyIndex: f,
		}, nil, &pool)
		if err := vk.Error(ret); err != nil {
			d.release()
			return nil, fmt.Errorf("renderer: create command pool for family %d: %w", f, err)
		}
		d.pools[f] = pool
	}

	d.surface = &vulkanSurface{mu: &sync.Mutex{}, device: d, surface: surface}
	slogger().Info("renderer: vulkan device ready",
		"graphicsFamily", graphicsFamily, "computeFamily", computeFamily)
	return d, nil
}

// pickPhysicalDevice returns the first device with a graphics family that can present to
// surface, plus the family to use for compute.
func pickPhysicalDevice(instance vk.Instance, surface vk.Surface, preferSoftware, dedicatedCompute bool) (vk.PhysicalDevice, uint32, uint32, error) {
	var gpuCount uint32
	if err := vk.Error(vk.EnumeratePhysicalDevices(instance, &gpuCount, nil)); err != nil {
		return nil, 0, 0, fmt.Errorf("renderer: enumerate physical devices: %w", err)
	}
	if gpuCount == 0 {
		return nil, 0, 0, errors.New("renderer: no vulkan devices found")
	}
	gpus := make([]vk.PhysicalDevice, gpuCount)
	if err := vk.Error(vk.EnumeratePhysicalDevices(instance, &gpuCount, gpus)); err != nil {
		return nil, 0, 0, fmt.Errorf("renderer: enumerate physical devices: %w", err)
	}

	type candidate struct {
		gpu              vk.PhysicalDevice
		graphics, comput uint32
		software         bool
	}
	var found []candidate
	for _, gpu := range gpus {
		var queueCount uint32
		vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &queueCount, nil)
		props := make([]vk.QueueFamilyProperties, queueCount)
		vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &queueCount, props)

		graphics, compute := -1, -1
		for i := uint32(0); i < queueCount; i++ {
			props[i].Deref()
			flags := props[i].QueueFlags
			if graphics < 0 && flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
				var supportsPresent vk.Bool32
				vk.GetPhysicalDeviceSurfaceSupport(gpu, i, surface, &supportsPresent)
				if supportsPresent == vk.True {
					graphics = int(i)
				}
			}
			if dedicatedCompute && compute < 0 &&
				flags&vk.QueueFlags(vk.QueueComputeBit) != 0 && flags&vk.QueueFlags(vk.QueueGraphicsBit) == 0 {
				compute = int(i)
			}
		}
		if graphics < 0 {
			continue
		}
		if compute < 0 {
			compute = graphics
		}

		var dp vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(gpu, &dp)
		dp.Deref()
		found = append(found, candidate{
			gpu:      gpu,
			graphics: uint32(graphics),
			comput:   uint32(compute),
			software: dp.DeviceType == vk.PhysicalDeviceTypeCpu,
		})
	}
	if len(found) == 0 {
		return nil, 0, 0, errors.New("renderer: no vulkan device can present to the window")
	}
	pick := found[0]
	for _, c := range found {
		if c.software == preferSoftware {
			pick = c
			break
		}
	}
	return pick.gpu, pick.graphics, pick.comput, nil
}

func (d *vulkanDevice) openQueue(kind frame.QueueKind, family uint32) *vulkanQueue {
	var queue vk.Queue
	vk.GetDeviceQueue(d.device, family, 0, &queue)
	return &vulkanQueue{device: d, kind: kind, family: family, queue: queue}
}

func (d *vulkanDevice) Queue(kind frame.QueueKind) frame.Queue {
	if kind == frame.QueueCompute {
		return d.compute
	}
	return d.graphics
}

func (d *vulkanDevice) NewCommandBuffer(q frame.Queue) (frame.CommandBuffer, error) {
	pool, ok := d.pools[q.Family()]
	if !ok {
		return nil, fmt.Errorf("vulkan: no command pool for queue family %d", q.Family())
	}
	buffers := make([]vk.CommandBuffer, 1)
	ret := vk.AllocateCommandBuffers(d.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, buffers)
	if err := vkResult("allocate command buffer", ret); err != nil {
		return nil, err
	}
	return &vulkanCommandBuffer{device: d, pool: pool, cb: buffers[0]}, nil
}

func (d *vulkanDevice) NewSemaphore() (frame.Semaphore, error) {
	var sem vk.Semaphore
	ret := vk.CreateSemaphore(d.device, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &sem)
	if err := vkResult("create semaphore", ret); err != nil {
		return nil, err
	}
	return &vulkanSemaphore{device: d, sem: sem}, nil
}

func (d *vulkanDevice) NewFence(signaled bool) (frame.Fence, error) {
	info := &vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if err := vkResult("create fence", vk.CreateFence(d.device, info, nil, &fence)); err != nil {
		return nil, err
	}
	return &vulkanFence{device: d, fence: fence}, nil
}

// NewTimeline is unsupported. The device is created for Vulkan 1.0 and timeline semaphores
// would need a VkSemaphoreTypeCreateInfo chained through pNext, which the bindings cannot hand
// to the driver without copying Go memory.
func (d *vulkanDevice) NewTimeline(uint64) (frame.Timeline, error) {
	return nil, frame.ErrTimelineUnsupported
}

func (d *vulkanDevice) WaitIdle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return vkResult("wait idle", vk.DeviceWaitIdle(d.device))
}

func (d *vulkanDevice) release() {
	if d.device != nil {
		vk.DeviceWaitIdle(d.device)
	}
	if d.surface != nil {
		d.surface.release()
	}
	for f, pool := range d.pools {
		vk.DestroyCommandPool(d.device, pool, nil)
		delete(d.pools, f)
	}
	if d.device != nil {
		vk.DestroyDevice(d.device, nil)
		d.device = nil
	}
	if d.instance != nil {
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
}

// vulkanQueue is one VkQueue of a given family.
type vulkanQueue struct {
	device *vulkanDevice
	kind   frame.QueueKind
	family uint32
	queue  vk.Queue
}

func (q *vulkanQueue) Kind() frame.QueueKind { return q.kind }
func (q *vulkanQueue) Family() uint32        { return q.family }

func (q *vulkanQueue) Submit(s frame.Submission) error {
	info := vk.SubmitInfo{SType: vk.StructureTypeSubmitInfo}
	for _, w := range s.Waits {
		info.PWaitSemaphores = append(info.PWaitSemaphores, w.Semaphore.(*vulkanSemaphore).sem)
		info.PWaitDstStageMask = append(info.PWaitDstStageMask, vk.PipelineStageFlags(w.Stage))
	}
	for _, c := range s.CommandBuffers {
		info.PCommandBuffers = append(info.PCommandBuffers, c.(*vulkanCommandBuffer).cb)
	}
	for _, sig := range s.Signals {
		info.PSignalSemaphores = append(info.PSignalSemaphores, sig.Semaphore.(*vulkanSemaphore).sem)
	}
	info.WaitSemaphoreCount = uint32(len(info.PWaitSemaphores))
	info.CommandBufferCount = uint32(len(info.PCommandBuffers))
	info.SignalSemaphoreCount = uint32(len(info.PSignalSemaphores))

	fence := vk.NullFence
	if s.Fence != nil {
		fence = s.Fence.(*vulkanFence).fence
	}

	q.device.mu.Lock()
	ret := vk.QueueSubmit(q.queue, 1, []vk.SubmitInfo{info}, fence)
	q.device.mu.Unlock()
	return vkResult("queue submit", ret)
}

type vulkanSemaphore struct {
	device *vulkanDevice
	sem    vk.Semaphore
}

func (s *vulkanSemaphore) Destroy() {
	vk.DestroySemaphore(s.device.device, s.sem, nil)
}

type vulkanFence struct {
	device *vulkanDevice
	fence  vk.Fence
}

// Wait blocks in short vkWaitForFences slices so ctx cancellation is honoured.
func (f *vulkanFence) Wait(ctx context.Context) error {
	fences := []vk.Fence{f.fence}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ret := vk.WaitForFences(f.device.device, 1, fences, vk.True, uint64(fenceWaitSlice.Nanoseconds()))
		if ret == vk.Timeout {
			continue
		}
		return vkResult("wait fence", ret)
	}
}

func (f *vulkanFence) Reset() error {
	return vkResult("reset fence", vk.ResetFences(f.device.device, 1, []vk.Fence{f.fence}))
}

func (f *vulkanFence) Destroy() {
	vk.DestroyFence(f.device.device, f.fence, nil)
}

// vulkanCommandBuffer is a primary command buffer allocated from its family's pool.
type vulkanCommandBuffer struct {
	device *vulkanDevice
	pool   vk.CommandPool
	cb     vk.CommandBuffer
}

var _ frame.CommandBuffer = &vulkanCommandBuffer{}

func (c *vulkanCommandBuffer) Begin() error {
	if err := vkResult("reset command buffer", vk.ResetCommandBuffer(c.cb, 0)); err != nil {
		return err
	}
	return vkResult("begin command buffer", vk.BeginCommandBuffer(c.cb, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}))
}

func (c *vulkanCommandBuffer) End() error {
	return vkResult("end command buffer", vk.EndCommandBuffer(c.cb))
}

// BufferBarrier records the barrier as is. frame stage and access bits use Vulkan's values.
func (c *vulkanCommandBuffer) BufferBarrier(b frame.BufferBarrier) {
	vk.CmdPipelineBarrier(c.cb,
		vk.PipelineStageFlags(b.SrcStage),
		vk.PipelineStageFlags(b.DstStage),
		vk.DependencyFlags(0), 0, nil, 1,
		[]vk.BufferMemoryBarrier{{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(b.SrcAccess),
			DstAccessMask:       vk.AccessFlags(b.DstAccess),
			SrcQueueFamilyIndex: b.SrcFamily,
			DstQueueFamilyIndex: b.DstFamily,
			Buffer:              b.Buffer.(*vulkanBuffer).buffer,
			Offset:              vk.DeviceSize(b.Offset),
			Size:                vk.DeviceSize(b.Size),
		}}, 0, nil)
}

func (c *vulkanCommandBuffer) ImageBarrier(b frame.ImageBarrier) {
	image := c.device.surface.image(b.Image)
	vk.CmdPipelineBarrier(c.cb,
		vk.PipelineStageFlags(b.SrcStage),
		vk.PipelineStageFlags(b.DstStage),
		vk.DependencyFlags(0), 0, nil, 0, nil, 1,
		[]vk.ImageMemoryBarrier{{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(b.SrcAccess),
			DstAccessMask:       vk.AccessFlags(b.DstAccess),
			OldLayout:           vulkanLayout(b.OldLayout),
			NewLayout:           vulkanLayout(b.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               image,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}})
}

func (c *vulkanCommandBuffer) Destroy() {
	vk.FreeCommandBuffers(c.device.device, c.pool, 1, []vk.CommandBuffer{c.cb})
}

// VulkanCommandBuffer returns the native handle of a command buffer created by the Vulkan
// backend, for recorders that emit their own vkCmd* calls.
//
// Parameters:
//   - cb: the command buffer passed to a Recorder or ComputeRecorder
//
// Returns:
//   - vk.CommandBuffer: the native handle
//   - bool: false if cb belongs to another backend
func VulkanCommandBuffer(cb frame.CommandBuffer) (vk.CommandBuffer, bool) {
	v, ok := cb.(*vulkanCommandBuffer)
	if !ok {
		return nil, false
	}
	return v.cb, true
}

type vulkanBuffer struct {
	buffer vk.Buffer
	label  string
}

func (b *vulkanBuffer) Label() string { return b.label }

// WrapVulkanBuffer adapts a VkBuffer for use in a frame.SharedBuffer.
//
// Parameters:
//   - buffer: the buffer shared between the compute and graphics queues
//   - label: a name for logs
//
// Returns:
//   - frame.Buffer: the wrapped buffer
func WrapVulkanBuffer(buffer vk.Buffer, label string) frame.Buffer {
	return &vulkanBuffer{buffer: buffer, label: label}
}

func vulkanLayout(l frame.ImageLayout) vk.ImageLayout {
	switch l {
	case frame.LayoutColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case frame.LayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	default:
		return vk.ImageLayoutUndefined
	}
}

// vkResult converts a VkResult into a fatal frame error. Device loss keeps its sentinel.
func vkResult(op string, ret vk.Result) error {
	switch ret {
	case vk.Success:
		return nil
	case vk.ErrorDeviceLost:
		return &frame.DeviceError{Op: op, Err: frame.ErrDeviceLost}
	case vk.ErrorSurfaceLost:
		return &frame.DeviceError{Op: op, Err: frame.ErrSurfaceLost}
	default:
		return &frame.DeviceError{Op: op, Err: vk.Error(ret)}
	}
}

func safeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != 0 {
		return s + "\x00"
	}
	return s
}

func safeStrings(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, safeString(s))
	}
	return out
}
