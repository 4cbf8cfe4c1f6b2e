package renderer

import (
	"fmt"
	"strings"
)

// RendererBackendType identifies the GPU backend implementation used by the Renderer.
type RendererBackendType int

const (
	// BackendTypeWGPU selects the WebGPU-based backend. WebGPU exposes a single queue and tracks
	// hazards itself, so barriers and semaphores are no-ops there.
	BackendTypeWGPU RendererBackendType = iota

	// BackendTypeVulkan selects the Vulkan backend with explicit queues, semaphores and barriers.
	BackendTypeVulkan

	// BackendTypeHeadless selects the simulated device. It needs no window and no GPU.
	BackendTypeHeadless
)

func (t RendererBackendType) String() string {
	switch t {
	case BackendTypeWGPU:
		return "wgpu"
	case BackendTypeVulkan:
		return "vulkan"
	case BackendTypeHeadless:
		return "headless"
	default:
		return fmt.Sprintf("RendererBackendType(%d)", int(t))
	}
}

// ParseBackend converts a config string into a RendererBackendType.
//
// Parameters:
//   - s: "wgpu", "vulkan" or "headless" (case-insensitive)
//
// Returns:
//   - RendererBackendType: the parsed backend
//   - error: an error if s names no known backend
func ParseBackend(s string) (RendererBackendType, error) {
	switch strings.ToLower(s) {
	case "", "wgpu", "webgpu":
		return BackendTypeWGPU, nil
	case "vulkan", "vk":
		return BackendTypeVulkan, nil
	case "headless", "none":
		return BackendTypeHeadless, nil
	default:
		return BackendTypeWGPU, fmt.Errorf("renderer: unknown backend %q", s)
	}
}

// PresentMode controls how rendered frames are presented to the display surface.
type PresentMode int

const (
	// PresentModeVSync waits for the next vertical blank before presenting, capping frame rate
	// to the monitor's refresh rate. Eliminates tearing.
	PresentModeVSync PresentMode = iota

	// PresentModeUncapped presents frames immediately without waiting for vertical blank.
	// May cause screen tearing but provides the lowest latency.
	PresentModeUncapped

	// PresentModeMailbox replaces the queued image instead of blocking. Falls back to VSync
	// when the surface does not offer it.
	PresentModeMailbox
)

func (m PresentMode) String() string {
	switch m {
	case PresentModeVSync:
		return "fifo"
	case PresentModeUncapped:
		return "immediate"
	case PresentModeMailbox:
		return "mailbox"
	default:
		return fmt.Sprintf("PresentMode(%d)", int(m))
	}
}

// ParsePresentMode converts a config string into a PresentMode.
//
// Parameters:
//   - s: "fifo" (or "vsync"), "immediate" (or "uncapped"), or "mailbox"
//
// Returns:
//   - PresentMode: the parsed mode
//   - error: an error if s names no known mode
func ParsePresentMode(s string) (PresentMode, error) {
	switch strings.ToLower(s) {
	case "", "fifo", "vsync":
		return PresentModeVSync, nil
	case "immediate", "uncapped":
		return PresentModeUncapped, nil
	case "mailbox":
		return PresentModeMailbox, nil
	default:
		return PresentModeVSync, fmt.Errorf("renderer: unknown present mode %q", s)
	}
}

// MSAASampleCount controls the number of samples used by the WebGPU backend's color target.
// WebGPU guarantees support for 1 (off) and 4; higher values are adapter-dependent.
type MSAASampleCount uint32

const (
	// MSAAOff disables multisample anti-aliasing (sample count 1).
	MSAAOff MSAASampleCount = 1

	// MSAA4x enables 4× multisample anti-aliasing. This is the default.
	MSAA4x MSAASampleCount = 4

	// MSAA8x enables 8× multisample anti-aliasing. Adapter-dependent; not all hardware supports this.
	MSAA8x MSAASampleCount = 8
)
