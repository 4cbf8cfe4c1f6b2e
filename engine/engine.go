package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/oxy-frame/common"
	"github.com/Carmen-Shannon/oxy-frame/engine/config"
	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
	"github.com/Carmen-Shannon/oxy-frame/engine/profiler"
	"github.com/Carmen-Shannon/oxy-frame/engine/renderer"
	"github.com/Carmen-Shannon/oxy-frame/engine/scene"
	"github.com/Carmen-Shannon/oxy-frame/engine/window"
)

const (
	// shutdownTimeout bounds the drain of in-flight frames when the engine stops.
	shutdownTimeout = 5 * time.Second

	// skipBackoff throttles the render loop while the surface cannot be rendered to,
	// e.g. a minimized window.
	skipBackoff = 10 * time.Millisecond
)

// engine implements the Engine interface.
// Coordinates the tick, render, and window threads.
type engine struct {
	mu sync.Mutex

	tickRateChannel chan time.Duration // Channel for dynamic tick rate updates

	started atomic.Bool
	wg      sync.WaitGroup

	ctx         context.Context
	cancel      context.CancelFunc
	quitChannel chan struct{}
	quitOnce    sync.Once // Ensures quitChannel is only closed once

	window        window.Window
	windowOptions []window.WindowBuilderOption
	ownsWindow    bool

	backend         renderer.RendererBackendType
	rendererOptions []renderer.RendererBuilderOption
	renderer        renderer.Renderer
	ownsRenderer    bool

	scheduler        frame.Scheduler
	schedulerOptions []frame.SchedulerBuilderOption
	framesInFlight   int

	computeEnabled bool
	sharedBuffers  []frame.SharedBuffer

	cfg     *config.Config
	initErr error

	profiler         *profiler.Profiler
	profilingEnabled atomic.Bool

	benchmarkConfig *profiler.BenchmarkConfig
	benchmark       *profiler.Benchmark
	summaryWriter   io.Writer

	tickRate       atomic.Int64 // time.Duration between ticks
	tickCallback   func(deltaTime float32)
	renderCallback func(deltaTime float32)
	keyDown        func(keyCode uint32)
	keyUp          func(keyCode uint32)
	paused         atomic.Bool

	stack *scene.Stack

	renderFrameLimit atomic.Int64 // minimum frame time.Duration; 0 = uncapped

	errMu sync.Mutex
	err   error
}

// Engine is the main entry point for the engine.
// It orchestrates the tick loop, the render loop driving the frame scheduler, and window
// management.
type Engine interface {
	// Window returns the window the engine presents to. It is nil for the headless backend and,
	// when the engine creates its own window, until Run has started.
	//
	// Returns:
	//   - window.Window: the window instance, or nil
	Window() window.Window

	// Renderer returns the renderer, or nil until Run has brought it up.
	Renderer() renderer.Renderer

	// Scheduler returns the frame scheduler, or nil until Run has created it.
	Scheduler() frame.Scheduler

	// Benchmark returns the running benchmark, or nil when benchmark mode is off.
	Benchmark() *profiler.Benchmark

	// Config returns a copy of the last configuration applied through WithConfig, ApplyConfig or
	// WatchConfig, or nil if none was.
	Config() *config.Config

	// ApplyConfig applies the fields of cfg that can change while running: tick rate, frame
	// limit, profiling, prepare workers, frames in flight and present mode. The last two take
	// effect through a surface rebuild. Backend, window and the compute stage are read only at
	// construction.
	//
	// Parameters:
	//   - cfg: a validated configuration
	ApplyConfig(cfg *config.Config)

	// WatchConfig reloads the configuration file on every change and applies it with ApplyConfig.
	//
	// Parameters:
	//   - ctx: stops watching when done
	//   - path: the configuration file
	//
	// Returns:
	//   - error: an error if the watcher could not be installed
	WatchConfig(ctx context.Context, path string) error

	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetPaused pauses or resumes game logic. While paused the tick callback is not called and
	// layers are prepared with a zero delta, but frames keep being rendered and resizes handled.
	//
	// Parameters:
	//   - paused: true to pause
	SetPaused(paused bool)

	// Paused reports whether game logic is paused.
	Paused() bool

	// SetTickRate sets the engine tick rate in ticks per second.
	// The tick callback will be called at this rate for game logic updates.
	//
	// Parameters:
	//   - fps: target ticks per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each engine tick.
	// Use this for game logic, physics, input processing, and animation updates.
	//
	// Parameters:
	//   - callback: function to call at the configured tick rate, receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SetRenderCallback registers the function called after each render frame.
	//
	// Parameters:
	//   - callback: function to call each render frame, receiving the delta time in seconds
	SetRenderCallback(callback func(deltaTime float32))

	// SetRenderFrameLimit sets an optional render frame rate cap in frames per second.
	// Pass 0 to uncap the render loop (default).
	//
	// Parameters:
	//   - fps: maximum render frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// SetKeyDownCallback registers the window's key press callback. It is installed when Run
	// brings up the window and is ignored by the headless backend.
	//
	// Parameters:
	//   - callback: function receiving the key code (see the common.Key* constants)
	SetKeyDownCallback(callback func(keyCode uint32))

	// SetKeyUpCallback registers the window's key release callback.
	SetKeyUpCallback(callback func(keyCode uint32))

	// AddScene registers a scene at the given z-index key.
	// Scenes are prepared and recorded in ascending key order.
	//
	// Parameters:
	//   - key: the z-index determining render order (lower renders first)
	//   - s: the Scene to register
	AddScene(key int, s scene.Scene)

	// RemoveScene removes the scene at the given z-index key.
	//
	// Parameters:
	//   - key: the z-index of the scene to remove
	RemoveScene(key int)

	// Scene retrieves the scene registered at the given z-index key.
	// Returns nil if no scene exists at that key.
	//
	// Parameters:
	//   - key: the z-index of the scene to retrieve
	//
	// Returns:
	//   - scene.Scene: the scene at the key, or nil if not found
	Scene(key int) scene.Scene

	// Scenes returns a copy of all registered scenes keyed by z-index.
	//
	// Returns:
	//   - map[int]scene.Scene: a copy of the scenes map
	Scenes() map[int]scene.Scene

	// Run brings up the renderer and scheduler and runs the engine until the window closes,
	// Quit is called, a benchmark completes, or the device fails. With a window it must be
	// called from the main goroutine. Run may be called once.
	//
	// Returns:
	//   - error: the fatal error that stopped the render loop, or nil on a clean shutdown
	Run() error

	// Quit signals all engine goroutines to stop and shuts down the engine.
	// Safe to call multiple times; subsequent calls are no-ops.
	Quit()
}

var _ Engine = &engine{}

// NewEngine creates a new Engine instance with the provided options.
// The renderer, window and scheduler are created by Run, so construction never touches the GPU.
//
// Parameters:
//   - options: functional options for engine configuration (backend, config, scenes, etc.)
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(options ...EngineBuilderOption) Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &engine{
		tickRateChannel: make(chan time.Duration, 1),
		ctx:             ctx,
		cancel:          cancel,
		quitChannel:     make(chan struct{}),
		backend:         renderer.BackendTypeWGPU,
		framesInFlight:  frame.DefaultFramesInFlight,
		profiler:        profiler.NewProfiler(),
		summaryWriter:   os.Stdout,
		stack:           scene.NewStack(),
	}
	e.tickRate.Store(int64(tickInterval(60)))

	for _, opt := range options {
		opt(e)
	}
	return e
}

func (e *engine) Window() window.Window {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.window
}

func (e *engine) Renderer() renderer.Renderer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renderer
}

func (e *engine) Scheduler() frame.Scheduler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scheduler
}

func (e *engine) Benchmark() *profiler.Benchmark {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.benchmark
}

func (e *engine) Config() *config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg == nil {
		return nil
	}
	return e.cfg.Clone()
}

func (e *engine) ApplyConfig(cfg *config.Config) {
	e.SetTickRate(cfg.TickRate)
	e.SetRenderFrameLimit(cfg.FrameLimit)
	e.profilingEnabled.Store(cfg.Profiling)
	e.stack.SetPrepareWorkers(cfg.Compute.Workers)

	e.mu.Lock()
	e.cfg = cfg.Clone()
	resize := e.framesInFlight != cfg.FramesInFlight
	e.framesInFlight = cfg.FramesInFlight
	sched, r := e.scheduler, e.renderer
	e.mu.Unlock()

	if r != nil {
		r.SetPresentMode(cfg.Present())
	}
	if sched != nil && resize {
		sched.SetFramesInFlight(cfg.FramesInFlight)
	}
	slogger().Info("engine: configuration applied",
		"framesInFlight", cfg.FramesInFlight, "tickRate", cfg.TickRate, "frameLimit", cfg.FrameLimit,
		"prepareWorkers", cfg.Compute.Workers)
}

func (e *engine) WatchConfig(ctx context.Context, path string) error {
	return config.Watch(ctx, path, e.ApplyConfig)
}

func (e *engine) Run() error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine: Run called more than once")
	}
	if e.initErr != nil {
		return e.initErr
	}
	if err := e.setup(); err != nil {
		e.signalQuit()
		return err
	}

	e.handle()
	if w := e.Window(); w != nil {
		w.ProcessMessages()
		e.signalQuit()
	}
	e.wg.Wait()
	e.teardown()
	return e.Err()
}

// Err returns the error that stopped the render loop, if any.
func (e *engine) Err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.err
}

// Quit signals all engine goroutines to stop and shuts down the engine.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.signalQuit()
}

// signalQuit cancels in-flight waits and closes the quit channel to signal all goroutines to exit.
// Uses sync.Once to ensure the channel is only closed once.
func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		e.cancel()
		close(e.quitChannel)
	})
}

// fail records the first fatal error and stops the engine.
func (e *engine) fail(err error) {
	e.errMu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.errMu.Unlock()
	log.Printf("render loop stopped: %v", err)
	e.signalQuit()
}

// setup creates the window, renderer and scheduler that were not supplied through options.
func (e *engine) setup() error {
	if e.renderer == nil {
		if e.window == nil && e.backend != renderer.BackendTypeHeadless {
			w := window.NewWindow(e.windowOptions...)
			e.mu.Lock()
			e.window, e.ownsWindow = w, true
			e.mu.Unlock()
		}
		r, err := renderer.NewRenderer(e.backend, e.window, e.rendererOptions...)
		if err != nil {
			e.closeWindow()
			return fmt.Errorf("engine: create renderer: %w", err)
		}
		e.mu.Lock()
		e.renderer, e.ownsRenderer = r, true
		e.mu.Unlock()
	}

	e.mu.Lock()
	fif := e.framesInFlight
	e.mu.Unlock()
	opts := []frame.SchedulerBuilderOption{frame.WithFramesInFlight(fif)}
	if e.computeEnabled && e.stack.HasCompute() {
		opts = append(opts, frame.WithComputeStage(frame.ComputeStage{
			Recorder:      e.stack,
			SharedBuffers: e.sharedBuffers,
		}))
	}
	opts = append(opts, e.schedulerOptions...)

	sched, err := e.renderer.NewScheduler(e.stack, opts...)
	if err != nil {
		if e.ownsRenderer {
			e.renderer.Close()
		}
		e.closeWindow()
		return fmt.Errorf("engine: create scheduler: %w", err)
	}

	var bench *profiler.Benchmark
	if e.benchmarkConfig != nil {
		cfg := *e.benchmarkConfig
		cfg.Backend = common.Coalesce(cfg.Backend, e.renderer.Backend().String())
		bench = profiler.NewBenchmark(cfg)
	}

	e.mu.Lock()
	e.scheduler = sched
	e.benchmark = bench
	e.mu.Unlock()

	if e.window != nil {
		e.window.SetResizeCallback(sched.OnSurfaceSizeChanged)
		if e.keyDown != nil {
			e.window.SetKeyDownCallback(e.keyDown)
		}
		if e.keyUp != nil {
			e.window.SetKeyUpCallback(e.keyUp)
		}
	}
	slogger().Info("engine: started",
		"backend", e.renderer.Backend().String(), "strategy", e.renderer.SyncStrategy().String(),
		"slots", sched.Pool().Len(), "compute", e.computeEnabled && e.stack.HasCompute())
	return nil
}

// teardown drains the scheduler and releases everything the engine created.
func (e *engine) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.scheduler.Close(ctx); err != nil {
		slogger().Warn("engine: drain on shutdown failed", "error", err)
	}
	if e.ownsRenderer {
		if err := e.renderer.Close(); err != nil {
			slogger().Warn("engine: renderer close failed", "error", err)
		}
	}

	if e.benchmark != nil {
		e.benchmark.Result().WriteSummary(e.summaryWriter)
		if err := e.benchmark.Save(); err != nil {
			e.errMu.Lock()
			e.err = errors.Join(e.err, err)
			e.errMu.Unlock()
		}
	}
	e.closeWindow()
}

func (e *engine) closeWindow() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ownsWindow && e.window != nil {
		e.window.Close()
		e.window, e.ownsWindow = nil, false
	}
}

// handle launches the tick, render, and quit goroutines.
// Each goroutine is tracked by the engine's WaitGroup.
func (e *engine) handle() {
	e.wg.Add(3)
	go e.handleEngine()
	go e.handleRender()
	go e.handleQuit()
}

// handleEngine runs the fixed-rate engine tick loop in its own goroutine.
// Fires the tick callback at the configured tick rate unless paused and listens for dynamic
// rate changes via tickRateChannel. Exits when the quit channel is closed.
func (e *engine) handleEngine() {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Duration(e.tickRate.Load()))
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			if e.tickCallback != nil && !e.paused.Load() {
				e.tickCallback(dt)
			}
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
		}
	}
}

// handleRender runs the uncapped (or frame-limited) render loop in its own goroutine.
// Each iteration prepares the scene layers in parallel, then runs one scheduler cycle that
// records them in z-order, submits and presents. A fatal error stops the engine.
// Recovers from panics to avoid crashing the process and signals quit on recovery.
func (e *engine) handleRender() {
	defer e.wg.Done()
	// Recover from panics inside the render goroutine to avoid crashing the whole process.
	defer func() {
		if r := recover(); r != nil {
			e.fail(fmt.Errorf("engine: render goroutine panic: %v", r))
		}
	}()

	lastRender := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		default:
		}

		now := time.Now()
		dt := float32(now.Sub(lastRender).Seconds())
		lastRender = now
		if e.paused.Load() {
			dt = 0
		}

		if err := e.stack.Prepare(dt); err != nil {
			slogger().Warn("engine: layer preparation failed", "error", err)
		}

		res, err := e.scheduler.RunFrame(e.ctx)
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			e.fail(err)
			return
		}
		frameTime := time.Since(now)

		if e.profilingEnabled.Load() {
			e.profiler.Observe(res)
			e.profiler.Tick()
		}

		if e.benchmark != nil && !res.Skipped {
			if e.benchmark.Observe(frameTime) {
				slogger().Info("engine: benchmark complete", "frames", e.scheduler.FrameCount())
				e.signalQuit()
			}
		}

		if e.renderCallback != nil {
			e.renderCallback(dt)
		}

		// Frame rate limiting
		if limit := time.Duration(e.renderFrameLimit.Load()); limit > 0 {
			if remaining := limit - time.Since(now); remaining > 0 {
				time.Sleep(remaining)
			}
		} else if res.Skipped {
			time.Sleep(skipBackoff)
		}
	}
}

// handleQuit blocks until the quit channel is closed, then stops the window's message loop.
func (e *engine) handleQuit() {
	defer e.wg.Done()
	<-e.quitChannel
	if w := e.Window(); w != nil {
		w.RequestClose()
	}
}

// EnableProfiler enables performance profiling output to the log.
func (e *engine) EnableProfiler() {
	e.profilingEnabled.Store(true)
}

// DisableProfiler disables performance profiling output.
func (e *engine) DisableProfiler() {
	e.profilingEnabled.Store(false)
}

func (e *engine) SetPaused(paused bool) {
	e.paused.Store(paused)
}

func (e *engine) Paused() bool {
	return e.paused.Load()
}

// SetTickRate sets the engine tick rate in ticks per second.
// If the engine is running, the change takes effect immediately.
func (e *engine) SetTickRate(fps float64) {
	newRate := tickInterval(fps)
	e.tickRate.Store(int64(newRate))

	// Non-blocking send - if channel is full, replace the pending value
	select {
	case e.tickRateChannel <- newRate:
	default:
		select {
		case <-e.tickRateChannel:
		default:
		}
		select {
		case e.tickRateChannel <- newRate:
		default:
		}
	}
}

// SetTickCallback registers the function called each engine tick.
func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

// SetRenderCallback registers the function called each render frame.
func (e *engine) SetRenderCallback(callback func(deltaTime float32)) {
	e.renderCallback = callback
}

func (e *engine) SetKeyDownCallback(callback func(keyCode uint32)) {
	e.keyDown = callback
}

func (e *engine) SetKeyUpCallback(callback func(keyCode uint32)) {
	e.keyUp = callback
}

// SetRenderFrameLimit sets an optional render frame rate cap.
// Pass 0 to uncap the render loop.
func (e *engine) SetRenderFrameLimit(fps float64) {
	e.renderFrameLimit.Store(int64(frameInterval(fps)))
}

func (e *engine) AddScene(key int, s scene.Scene) {
	e.stack.Set(key, s)
}

func (e *engine) RemoveScene(key int) {
	e.stack.Remove(key)
}

func (e *engine) Scene(key int) scene.Scene {
	return e.stack.Get(key)
}

func (e *engine) Scenes() map[int]scene.Scene {
	return e.stack.All()
}

// tickInterval converts a tick rate into the ticker period. Rates <= 0 mean 60Hz.
func tickInterval(fps float64) time.Duration {
	if fps <= 0 {
		fps = 60
	}
	return time.Duration(float64(time.Second) / fps)
}

// frameInterval converts a frame cap into the minimum frame time. Caps <= 0 mean uncapped.
func frameInterval(fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}
