package engine

import (
	"io"
	"time"

	"github.com/Carmen-Shannon/oxy-frame/engine/config"
	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
	"github.com/Carmen-Shannon/oxy-frame/engine/profiler"
	"github.com/Carmen-Shannon/oxy-frame/engine/renderer"
	"github.com/Carmen-Shannon/oxy-frame/engine/scene"
	"github.com/Carmen-Shannon/oxy-frame/engine/window"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithConfig configures the engine from a configuration file's contents: backend and renderer
// settings, window geometry, loop rates, profiling, frames in flight, compute and benchmark mode.
// Options after it override what it sets. An invalid cfg makes Run fail.
//
// Parameters:
//   - cfg: the configuration; it is copied
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithConfig(cfg *config.Config) EngineBuilderOption {
	return func(e *engine) {
		c := cfg.Clone()
		if err := c.Validate(); err != nil {
			e.initErr = err
			return
		}
		e.cfg = c

		e.backend = c.BackendType()
		e.rendererOptions = append(e.rendererOptions,
			renderer.WithPresentMode(c.Present()),
			renderer.WithMSAA(renderer.MSAASampleCount(c.MSAA)),
			renderer.WithForceSoftwareRenderer(c.ForceSoftware),
			renderer.WithSyncStrategy(c.Strategy()),
			renderer.WithDedicatedCompute(c.Compute.Dedicated),
			renderer.WithHeadlessExtent(c.Window.Width, c.Window.Height),
		)
		e.windowOptions = []window.WindowBuilderOption{
			window.WithTitle(c.Window.Title),
			window.WithSize(c.Window.Width, c.Window.Height),
			window.WithMinSize(c.Window.MinWidth, c.Window.MinHeight),
			window.WithMaxSize(c.Window.MaxWidth, c.Window.MaxHeight),
		}

		e.tickRate.Store(int64(tickInterval(c.TickRate)))
		e.renderFrameLimit.Store(int64(frameInterval(c.FrameLimit)))
		e.profilingEnabled.Store(c.Profiling)
		e.framesInFlight = c.FramesInFlight
		e.computeEnabled = c.Compute.Enabled
		e.stack.SetPrepareWorkers(c.Compute.Workers)

		if c.Benchmark.Enabled {
			e.benchmarkConfig = &profiler.BenchmarkConfig{
				Warmup:     time.Duration(c.Benchmark.Warmup),
				Duration:   time.Duration(c.Benchmark.Duration),
				Frames:     c.Benchmark.Frames,
				OutputPath: c.Benchmark.Output,
				FrameTimes: c.Benchmark.FrameTimes,
			}
		}
	}
}

// WithBackend selects the renderer backend the engine creates in Run.
//
// Parameters:
//   - backend: the RendererBackendType to bring up
//   - options: additional renderer options, applied after those from WithConfig
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithBackend(backend renderer.RendererBackendType, options ...renderer.RendererBuilderOption) EngineBuilderOption {
	return func(e *engine) {
		e.backend = backend
		e.rendererOptions = append(e.rendererOptions, options...)
	}
}

// WithRenderer makes the engine use an existing renderer instead of creating one. The caller
// keeps ownership and closes it after Run returns.
//
// Parameters:
//   - r: a ready Renderer
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderer(r renderer.Renderer) EngineBuilderOption {
	return func(e *engine) {
		e.renderer = r
		e.backend = r.Backend()
	}
}

// WithWindow sets a custom configured window for the engine to use rather than allowing the engine
// to create and manage one internally.
//
// Parameters:
//   - w: a pre-configured Window instance
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engine) {
		e.window = w
	}
}

// WithProfiling enables or disables performance profiling output.
//
// Parameters:
//   - enabled: if true, enables performance profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled.Store(enabled)
	}
}

// WithTickRate sets the engine tick rate in ticks per second.
// Values <= 0 will be treated as the default (60Hz).
//
// Parameters:
//   - fps: target ticks per second (default 60)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTickRate(fps float64) EngineBuilderOption {
	return func(e *engine) {
		e.tickRate.Store(int64(tickInterval(fps)))
	}
}

// WithRenderFrameLimit sets an optional render frame rate cap in frames per second.
// Pass 0 to uncap the render loop (default).
//
// Parameters:
//   - fps: maximum render frames per second (0 = uncapped)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine) {
		e.renderFrameLimit.Store(int64(frameInterval(fps)))
	}
}

// WithScene registers a scene at the given z-index key during engine construction.
//
// Parameters:
//   - key: the z-index determining render order (lower renders first)
//   - s: the Scene to register
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithScene(key int, s scene.Scene) EngineBuilderOption {
	return func(e *engine) {
		e.stack.Set(key, s)
	}
}

// WithFramesInFlight sets how many frames the CPU may record ahead of the GPU.
//
// Parameters:
//   - n: the slot count, clamped to [1, frame.MaxFramesInFlight]
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithFramesInFlight(n int) EngineBuilderOption {
	return func(e *engine) {
		e.framesInFlight = n
	}
}

// WithCompute adds a compute submission to every frame. It only takes effect when a registered
// scene has compute layers at the time Run starts.
//
// Parameters:
//   - shared: buffers the compute layers write and the graphics layers read each frame
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithCompute(shared ...frame.SharedBuffer) EngineBuilderOption {
	return func(e *engine) {
		e.computeEnabled = true
		e.sharedBuffers = append(e.sharedBuffers, shared...)
	}
}

// WithBenchmark runs the engine in benchmark mode: it quits once the run completes, prints a
// summary and writes the CSV report.
//
// Parameters:
//   - cfg: the benchmark bounds and report settings
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithBenchmark(cfg profiler.BenchmarkConfig) EngineBuilderOption {
	return func(e *engine) {
		e.benchmarkConfig = &cfg
	}
}

// WithSummaryWriter redirects the benchmark summary, which goes to stdout by default.
func WithSummaryWriter(w io.Writer) EngineBuilderOption {
	return func(e *engine) {
		e.summaryWriter = w
	}
}

// WithSchedulerOptions passes extra options to the frame scheduler, applied last.
func WithSchedulerOptions(options ...frame.SchedulerBuilderOption) EngineBuilderOption {
	return func(e *engine) {
		e.schedulerOptions = append(e.schedulerOptions, options...)
	}
}
