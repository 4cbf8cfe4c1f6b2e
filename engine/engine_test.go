package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/oxy-frame/engine/config"
	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
	"github.com/Carmen-Shannon/oxy-frame/engine/profiler"
	"github.com/Carmen-Shannon/oxy-frame/engine/renderer"
	"github.com/Carmen-Shannon/oxy-frame/engine/renderer/headless"
	"github.com/Carmen-Shannon/oxy-frame/engine/scene"
)

// runEngine runs e on a goroutine and fails the test if it does not stop in time.
func runEngine(t *testing.T, e Engine) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- e.Run() }()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		e.Quit()
		t.Fatal("engine did not stop")
		return nil
	}
}

// quitAfter returns a render callback that quits e after n frames.
func quitAfter(e *Engine, n int) func(float32) {
	frames := 0
	return func(float32) {
		frames++
		if frames >= n {
			(*e).Quit()
		}
	}
}

func newHeadlessRenderer(t *testing.T, options ...renderer.RendererBuilderOption) renderer.Renderer {
	t.Helper()
	options = append([]renderer.RendererBuilderOption{renderer.WithHeadlessExtent(320, 200)}, options...)
	r, err := renderer.NewRenderer(renderer.BackendTypeHeadless, nil, options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestEngineRunsHeadlessUntilQuit(t *testing.T) {
	var recorded atomic.Int32
	s := scene.NewScene("main", scene.WithLayer(0, scene.LayerFuncs{
		RecordFunc: func(cb frame.CommandBuffer, slot, image int) error {
			recorded.Add(1)
			return nil
		},
	}))

	var e Engine
	e = NewEngine(WithBackend(renderer.BackendTypeHeadless), WithScene(0, s))
	e.SetRenderCallback(quitAfter(&e, 10))

	require.NoError(t, runEngine(t, e))
	assert.GreaterOrEqual(t, e.Scheduler().FrameCount(), uint64(10))
	assert.GreaterOrEqual(t, recorded.Load(), int32(10))
	assert.Nil(t, e.Window())
	assert.Equal(t, renderer.BackendTypeHeadless, e.Renderer().Backend())
}

func TestEngineRunOnlyOnce(t *testing.T) {
	var e Engine
	e = NewEngine(WithBackend(renderer.BackendTypeHeadless))
	e.SetRenderCallback(quitAfter(&e, 1))
	require.NoError(t, runEngine(t, e))

	assert.ErrorContains(t, e.Run(), "more than once")
}

func TestEngineBenchmarkMode(t *testing.T) {
	out := filepath.Join(t.TempDir(), "bench", "result.csv")
	var summary bytes.Buffer

	e := NewEngine(
		WithBackend(renderer.BackendTypeHeadless),
		WithBenchmark(profiler.BenchmarkConfig{Frames: 25, OutputPath: out, Device: "sim"}),
		WithSummaryWriter(&summary),
	)
	require.NoError(t, runEngine(t, e))

	b := e.Benchmark()
	require.NotNil(t, b)
	assert.True(t, b.Done())
	assert.Equal(t, 25, b.Result().Frames)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(string(data), "\n")
	assert.Equal(t, "device,backend,duration (ms),frames,fps", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "sim,headless,"))
	assert.Contains(t, summary.String(), "Benchmark sim / headless")
}

func TestEngineStopsOnDeviceLoss(t *testing.T) {
	r := newHeadlessRenderer(t)
	dev := r.Device().(headless.Device)

	frames := 0
	e := NewEngine(WithRenderer(r))
	e.SetRenderCallback(func(float32) {
		frames++
		if frames == 3 {
			dev.Lose()
		}
	})

	err := runEngine(t, e)
	require.Error(t, err)
	assert.True(t, frame.IsFatal(err))
	assert.ErrorIs(t, err, frame.ErrDeviceLost)
	assert.Equal(t, 3, frames)
}

func TestEngineRecordErrorStopsTheLoop(t *testing.T) {
	s := scene.NewScene("broken", scene.WithLayer(0, scene.LayerFuncs{
		RecordFunc: func(frame.CommandBuffer, int, int) error {
			return assert.AnError
		},
	}))
	e := NewEngine(WithBackend(renderer.BackendTypeHeadless), WithScene(0, s))

	err := runEngine(t, e)
	assert.True(t, frame.IsFatal(err))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestEnginePauseSkipsTicksButKeepsRendering(t *testing.T) {
	var ticks atomic.Int32
	var maxDelta atomic.Uint32
	s := scene.NewScene("main", scene.WithLayer(0, scene.LayerFuncs{
		PrepareFunc: func(dt float32) error {
			if dt > 0 {
				maxDelta.Store(1)
			}
			return nil
		},
	}))

	var e Engine
	e = NewEngine(
		WithBackend(renderer.BackendTypeHeadless),
		WithScene(0, s),
		WithTickRate(1000),
		WithRenderFrameLimit(500),
	)
	e.SetPaused(true)
	e.SetTickCallback(func(float32) { ticks.Add(1) })
	e.SetRenderCallback(quitAfter(&e, 20))

	require.NoError(t, runEngine(t, e))
	assert.True(t, e.Paused())
	assert.Zero(t, ticks.Load())
	assert.Zero(t, maxDelta.Load(), "paused layers see a zero delta")
	assert.GreaterOrEqual(t, e.Scheduler().FrameCount(), uint64(20))
}

func TestEngineTicksWhileRunning(t *testing.T) {
	var ticks atomic.Int32
	var e Engine
	e = NewEngine(WithBackend(renderer.BackendTypeHeadless), WithTickRate(1000))
	e.SetTickCallback(func(float32) {
		if ticks.Add(1) == 5 {
			e.Quit()
		}
	})
	require.NoError(t, runEngine(t, e))
	assert.GreaterOrEqual(t, ticks.Load(), int32(5))
}

func TestEngineComputeStageUsesDedicatedQueue(t *testing.T) {
	r := newHeadlessRenderer(t, renderer.WithDedicatedCompute(true))
	dev := r.Device().(headless.Device)

	s := scene.NewScene("particles", scene.WithLayer(0, scene.ComputeLayerFuncs{
		LayerFuncs: scene.LayerFuncs{
			RecordFunc: func(cb frame.CommandBuffer, slot, image int) error {
				headless.Mark(cb, "draw")
				return nil
			},
		},
		ComputeFunc: func(cb frame.CommandBuffer, slot int) error {
			headless.Mark(cb, "simulate")
			return nil
		},
	}))

	var e Engine
	e = NewEngine(
		WithRenderer(r),
		WithScene(0, s),
		WithCompute(frame.SharedBuffer{
			Buffer:         headless.NewBuffer("particles"),
			ComputeStage:   frame.StageComputeShader,
			ComputeAccess:  frame.AccessShaderWrite,
			GraphicsStage:  frame.StageVertexInput,
			GraphicsAccess: frame.AccessVertexAttributeRead,
		}),
	)
	e.SetRenderCallback(quitAfter(&e, 6))
	require.NoError(t, runEngine(t, e))

	marks := headless.Filter(dev.Trace(), headless.OfKind(headless.EventMark, frame.QueueCompute))
	require.NotEmpty(t, marks)
	for _, m := range marks {
		assert.Equal(t, "simulate", m.Label)
		assert.Equal(t, uint32(1), m.Family)
	}
	assert.Empty(t, dev.Violations())
}

func TestEngineWithConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "headless"
	cfg.FramesInFlight = 3
	cfg.Window.Width, cfg.Window.Height = 400, 300
	cfg.Benchmark.Enabled = true
	cfg.Benchmark.Warmup = 0
	cfg.Benchmark.Frames = 5
	cfg.Benchmark.Output = ""

	slots := 0
	var e Engine
	e = NewEngine(WithConfig(cfg), WithSummaryWriter(&bytes.Buffer{}))
	e.SetRenderCallback(func(float32) {
		slots = e.Scheduler().Pool().Len()
	})
	require.NoError(t, runEngine(t, e))

	assert.Equal(t, 3, slots)
	w, h := e.Renderer().Surface().Extent()
	assert.Equal(t, 400, w)
	assert.Equal(t, 300, h)
	assert.Equal(t, 5, e.Benchmark().Result().Frames)
	assert.Equal(t, "headless", e.Config().Backend)
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "metal"

	e := NewEngine(WithConfig(cfg))
	assert.ErrorContains(t, e.Run(), "metal")
	assert.Nil(t, e.Renderer())
}

func TestEngineApplyConfigRebuildsSlots(t *testing.T) {
	update := config.Default()
	update.Backend = "headless"
	update.FramesInFlight = 1
	update.TickRate = 30

	frames := 0
	slots := 0
	var e Engine
	e = NewEngine(WithBackend(renderer.BackendTypeHeadless), WithFramesInFlight(3))
	e.SetRenderCallback(func(float32) {
		frames++
		switch frames {
		case 3:
			e.ApplyConfig(update)
		case 10:
			slots = e.Scheduler().Pool().Len()
			e.Quit()
		}
	})
	require.NoError(t, runEngine(t, e))

	assert.Equal(t, 1, slots)
	assert.Equal(t, 30.0, e.Config().TickRate)
}

func TestEngineWatchConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	require.NoError(t, os.WriteFile(path, []byte("tick_rate = 60\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := NewEngine(WithBackend(renderer.BackendTypeHeadless))
	assert.Nil(t, e.Config())
	require.NoError(t, e.WatchConfig(ctx, path))

	require.NoError(t, os.WriteFile(path, []byte("tick_rate = 120\nprofiling = true\n"), 0o644))
	require.Eventually(t, func() bool {
		c := e.Config()
		return c != nil && c.TickRate == 120 && c.Profiling
	}, 5*time.Second, 20*time.Millisecond)
}

func TestEngineScenes(t *testing.T) {
	bg := scene.NewScene("background")
	ui := scene.NewScene("ui")

	e := NewEngine(WithScene(0, bg))
	e.AddScene(10, ui)

	assert.Same(t, bg, e.Scene(0))
	assert.Len(t, e.Scenes(), 2)

	e.RemoveScene(0)
	assert.Nil(t, e.Scene(0))
	assert.Len(t, e.Scenes(), 1)
}

func TestTickAndFrameIntervals(t *testing.T) {
	assert.Equal(t, time.Second/60, tickInterval(0))
	assert.Equal(t, 10*time.Millisecond, tickInterval(100))
	assert.Zero(t, frameInterval(0))
	assert.Equal(t, 4*time.Millisecond, frameInterval(250))
}

func TestEngineConfigSizesPreparePools(t *testing.T) {
	before := scene.NewScene("before", scene.WithPrepareWorkers(7))
	cfg := config.Default()
	cfg.Backend = "headless"
	cfg.Compute.Workers = 2

	e := NewEngine(WithScene(0, before), WithConfig(cfg))
	after := scene.NewScene("after")
	e.AddScene(1, after)
	assert.Equal(t, 2, before.PrepareWorkers())
	assert.Equal(t, 2, after.PrepareWorkers())

	update := cfg.Clone()
	update.Compute.Workers = 5
	e.ApplyConfig(update)
	assert.Equal(t, 5, before.PrepareWorkers())
	assert.Equal(t, 5, after.PrepareWorkers())

	// 0 leaves the pools as they are.
	update.Compute.Workers = 0
	e.ApplyConfig(update)
	assert.Equal(t, 5, before.PrepareWorkers())

	own := scene.NewScene("own", scene.WithPrepareWorkers(3))
	NewEngine(WithScene(0, own), WithConfig(config.Default()))
	assert.Equal(t, 3, own.PrepareWorkers())
}
