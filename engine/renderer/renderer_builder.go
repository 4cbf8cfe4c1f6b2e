package renderer

import (
	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
	"github.com/Carmen-Shannon/oxy-frame/engine/renderer/headless"
)

// RendererBuilderOption is a functional option applied to a renderer during construction via NewRenderer.
type RendererBuilderOption func(*renderer)

// WithPresentMode sets the surface present mode which controls how frames are delivered to the display.
//
// Parameters:
//   - mode: the PresentMode to use (VSync, Uncapped or Mailbox)
//
// Returns:
//   - RendererBuilderOption: a function that applies the present mode option to a renderer
func WithPresentMode(mode PresentMode) RendererBuilderOption {
	return func(r *renderer) {
		r.presentMode = mode
	}
}

// WithMSAA sets the multisample anti-aliasing sample count of the WGPU render targets.
// When not specified, the default is MSAA4x. Use MSAAOff to disable MSAA entirely.
// The Vulkan and headless backends have no renderer-owned targets and ignore it.
//
// Parameters:
//   - count: the MSAASampleCount to use (MSAAOff, MSAA4x or MSAA8x)
//
// Returns:
//   - RendererBuilderOption: a function that applies the MSAA option to a renderer
func WithMSAA(count MSAASampleCount) RendererBuilderOption {
	return func(r *renderer) {
		r.msaa = count
	}
}

// WithForceSoftwareRenderer asks for a CPU/software device instead of hardware GPU
// acceleration. WGPU requests its fallback adapter; Vulkan prefers a CPU physical device such as
// lavapipe or SwiftShader when one is installed.
//
// Parameters:
//   - force: true to prefer a software device, false to use hardware (default)
//
// Returns:
//   - RendererBuilderOption: a function that applies the force software renderer option to a renderer
func WithForceSoftwareRenderer(force bool) RendererBuilderOption {
	return func(r *renderer) {
		r.forceFallbackAdapter = force
	}
}

// WithSyncStrategy sets the reuse gate strategy of schedulers created by the renderer.
//
// Parameters:
//   - strategy: frame.SyncFence (default) or frame.SyncTimeline
//
// Returns:
//   - RendererBuilderOption: a function that applies the strategy to a renderer
func WithSyncStrategy(strategy frame.SyncStrategy) RendererBuilderOption {
	return func(r *renderer) {
		r.strategy = strategy
	}
}

// WithDedicatedCompute requests a compute queue on its own queue family when the device has
// one, so compute and graphics submissions can overlap. Without it compute work shares the
// graphics queue.
//
// Parameters:
//   - enabled: true to look for a compute-only family
//
// Returns:
//   - RendererBuilderOption: a function that applies the option to a renderer
func WithDedicatedCompute(enabled bool) RendererBuilderOption {
	return func(r *renderer) {
		r.dedicatedCompute = enabled
	}
}

// WithHeadlessExtent sets the surface size of a headless renderer created without a window.
//
// Parameters:
//   - width: surface width in pixels
//   - height: surface height in pixels
//
// Returns:
//   - RendererBuilderOption: a function that applies the extent to a renderer
func WithHeadlessExtent(width, height int) RendererBuilderOption {
	return func(r *renderer) {
		r.headlessWidth = max(width, 1)
		r.headlessHeight = max(height, 1)
	}
}

// WithHeadlessOptions passes options through to headless.NewDevice.
func WithHeadlessOptions(options ...headless.DeviceBuilderOption) RendererBuilderOption {
	return func(r *renderer) {
		r.headlessDevice = append(r.headlessDevice, options...)
	}
}

// WithHeadlessSurfaceOptions passes options through to headless.NewSurface.
func WithHeadlessSurfaceOptions(options ...headless.SurfaceBuilderOption) RendererBuilderOption {
	return func(r *renderer) {
		r.headlessSurface = append(r.headlessSurface, options...)
	}
}
