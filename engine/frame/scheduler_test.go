package frame_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
	"github.com/Carmen-Shannon/oxy-frame/engine/renderer/headless"
)

var strategies = []frame.SyncStrategy{frame.SyncFence, frame.SyncTimeline}

type rig struct {
	device  headless.Device
	surface headless.Surface
	sched   frame.Scheduler
}

func drawRecorder() frame.Recorder {
	return frame.RecorderFunc(func(cb frame.CommandBuffer, slot, image int) error {
		headless.Mark(cb, fmt.Sprintf("draw slot=%d image=%d", slot, image))
		return nil
	})
}

func newRig(t *testing.T, deviceOpts []headless.DeviceBuilderOption, surfaceOpts []headless.SurfaceBuilderOption, opts ...frame.SchedulerBuilderOption) *rig {
	t.Helper()
	// Assertions below count events over whole runs, so nothing may fall out of the trace.
	d := headless.NewDevice(append([]headless.DeviceBuilderOption{headless.WithTraceCapacity(0)}, deviceOpts...)...)
	s := headless.NewSurface(d, 1280, 720, surfaceOpts...)
	sched, err := frame.NewScheduler(d, s, drawRecorder(), opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Close(ctx)
		_ = d.Close()
	})
	return &rig{device: d, surface: s, sched: sched}
}

func (r *rig) run(t *testing.T, n int) []frame.FrameResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := make([]frame.FrameResult, 0, n)
	for i := 0; i < n; i++ {
		res, err := r.sched.RunFrame(ctx)
		require.NoError(t, err, "cycle %d", i+1)
		results = append(results, res)
	}
	return results
}

// settle waits until all submitted work and presents have executed.
func (r *rig) settle(t *testing.T) []headless.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.sched.Pool().Drain(ctx))
	require.NoError(t, r.device.WaitIdle(ctx))
	return r.device.Trace()
}

// assertNoReuseWhileInFlight checks that every re-recording of a command buffer started after
// its previous execution completed.
func assertNoReuseWhileInFlight(t *testing.T, trace []headless.Event) {
	t.Helper()
	lastComplete := map[int]uint64{}
	begins := map[int]int{}
	completes := map[int]int{}
	for _, e := range trace {
		switch e.Kind {
		case headless.EventBegin:
			if begins[e.CommandBuffer] > 0 {
				assert.Equal(t, begins[e.CommandBuffer], completes[e.CommandBuffer],
					"command buffer %d re-recorded at #%d before its previous execution completed", e.CommandBuffer, e.Seq)
				assert.Less(t, lastComplete[e.CommandBuffer], e.Seq)
			}
			begins[e.CommandBuffer]++
		case headless.EventComplete:
			completes[e.CommandBuffer]++
			lastComplete[e.CommandBuffer] = e.Seq
		}
	}
}

func TestSchedulerScenarioSlotRotation(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			r := newRig(t,
				[]headless.DeviceBuilderOption{headless.WithExecutionDelay(frame.QueueGraphics, 2*time.Millisecond)},
				nil,
				frame.WithFramesInFlight(2), frame.WithSyncStrategy(strategy),
			)
			results := r.run(t, 5)

			slots := make([]int, len(results))
			for i, res := range results {
				slots[i] = res.Slot
				assert.False(t, res.Skipped)
				assert.Equal(t, uint64(i), res.Frame)
			}
			assert.Equal(t, []int{0, 1, 0, 1, 0}, slots)

			trace := r.settle(t)
			assertNoReuseWhileInFlight(t, trace)

			// Each slot's buffer was begun once per use: 3 times for slot 0, twice for slot 1.
			pool := r.sched.Pool().Slots()
			begins := headless.Filter(trace, headless.OfKind(headless.EventBegin, frame.QueueGraphics))
			counts := map[int]int{}
			for _, e := range begins {
				counts[e.CommandBuffer]++
			}
			assert.Equal(t, 3, counts[headless.CommandBufferID(pool[0].CommandBuffer())])
			assert.Equal(t, 2, counts[headless.CommandBufferID(pool[1].CommandBuffer())])
			assert.Empty(t, r.device.Violations())
		})
	}
}

func TestSchedulerNoReuseWhileInFlight(t *testing.T) {
	for _, strategy := range strategies {
		for _, n := range []int{1, 2, 3} {
			t.Run(fmt.Sprintf("%s/%d", strategy, n), func(t *testing.T) {
				r := newRig(t,
					[]headless.DeviceBuilderOption{headless.WithExecutionDelay(frame.QueueGraphics, time.Millisecond)},
					nil,
					frame.WithFramesInFlight(n), frame.WithSyncStrategy(strategy),
				)
				r.run(t, 20)
				assert.Equal(t, uint64(20), r.sched.FrameCount())
				assertNoReuseWhileInFlight(t, r.settle(t))
				assert.Empty(t, r.device.Violations())
			})
		}
	}
}

func TestSchedulerAcquireBeforeWrite(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			r := newRig(t, nil,
				[]headless.SurfaceBuilderOption{headless.WithAcquireDelay(3 * time.Millisecond)},
				frame.WithSyncStrategy(strategy),
			)
			r.run(t, 8)
			trace := r.settle(t)

			ready := map[int]int{}
			executed := map[int]int{}
			for _, e := range trace {
				switch {
				case e.Kind == headless.EventAcquireReady:
					ready[e.Image]++
				case e.Kind == headless.EventExecute && e.Queue == frame.QueueGraphics:
					require.GreaterOrEqual(t, e.Image, 0)
					executed[e.Image]++
					assert.LessOrEqual(t, executed[e.Image], ready[e.Image],
						"image %d written at #%d before it was ready", e.Image, e.Seq)
				}
			}
			assert.Empty(t, r.device.Violations())
		})
	}
}

func TestSchedulerPresentAfterWrite(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			r := newRig(t,
				[]headless.DeviceBuilderOption{headless.WithExecutionDelay(frame.QueueGraphics, 2*time.Millisecond)},
				nil,
				frame.WithSyncStrategy(strategy),
			)
			r.run(t, 8)
			trace := r.settle(t)

			written := map[int]int{}
			presented := map[int]int{}
			for _, e := range trace {
				switch {
				case e.Kind == headless.EventComplete && e.Queue == frame.QueueGraphics:
					written[e.Image]++
				case e.Kind == headless.EventPresent:
					presented[e.Image]++
					assert.LessOrEqual(t, presented[e.Image], written[e.Image],
						"image %d presented at #%d before its rendering completed", e.Image, e.Seq)
				}
			}
			assert.Equal(t, 8, r.surface.Presents())
			assert.Empty(t, r.device.Violations())
		})
	}
}

func TestSchedulerCrossQueueHandoff(t *testing.T) {
	const frames = 6
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			particles := headless.NewBuffer("particles")
			stage := frame.ComputeStage{
				Recorder: frame.ComputeRecorderFunc(func(cb frame.CommandBuffer, slot int) error {
					headless.Mark(cb, "simulate")
					return nil
				}),
				SharedBuffers: []frame.SharedBuffer{{
					Buffer:         particles,
					ComputeStage:   frame.StageComputeShader,
					ComputeAccess:  frame.AccessShaderWrite,
					GraphicsStage:  frame.StageVertexInput,
					GraphicsAccess: frame.AccessVertexAttributeRead,
				}},
			}
			r := newRig(t,
				[]headless.DeviceBuilderOption{
					headless.WithSeparateComputeQueue(),
					headless.WithExecutionDelay(frame.QueueCompute, 2*time.Millisecond),
				},
				nil,
				frame.WithSyncStrategy(strategy), frame.WithComputeStage(stage),
			)
			r.run(t, frames)
			trace := r.settle(t)

			released := headless.Filter(trace, func(e headless.Event) bool { return e.IsRelease() && e.Queue == frame.QueueCompute })
			acquired := headless.Filter(trace, func(e headless.Event) bool { return e.IsAcquire() && e.Queue == frame.QueueGraphics })
			require.Len(t, released, frames)
			require.Len(t, acquired, frames)
			for i := range released {
				assert.Less(t, released[i].Seq, acquired[i].Seq, "frame %d acquired before release", i)
				assert.Equal(t, particles, acquired[i].Barrier.Buffer)
				assert.Equal(t, frame.StageVertexInput, acquired[i].Barrier.DstStage)
			}

			// The buffer returns to compute after every frame; frame 0 starts owned by compute.
			returned := headless.Filter(trace, func(e headless.Event) bool { return e.IsRelease() && e.Queue == frame.QueueGraphics })
			reacquired := headless.Filter(trace, func(e headless.Event) bool { return e.IsAcquire() && e.Queue == frame.QueueCompute })
			require.Len(t, returned, frames)
			require.Len(t, reacquired, frames-1)
			for i := range reacquired {
				assert.Less(t, returned[i].Seq, reacquired[i].Seq)
			}

			// Compute for a frame runs before the graphics work that reads it.
			computeDone := headless.Filter(trace, headless.OfKind(headless.EventComplete, frame.QueueCompute))
			graphicsStart := headless.Filter(trace, headless.OfKind(headless.EventExecute, frame.QueueGraphics))
			require.Len(t, computeDone, frames)
			for i := range computeDone {
				assert.Less(t, computeDone[i].Seq, graphicsStart[i].Seq)
			}
			assert.Empty(t, r.device.Violations())
		})
	}
}

func TestSchedulerComputeOnSharedFamily(t *testing.T) {
	stage := frame.ComputeStage{
		Recorder: frame.ComputeRecorderFunc(func(cb frame.CommandBuffer, slot int) error { return nil }),
		SharedBuffers: []frame.SharedBuffer{{
			Buffer:         headless.NewBuffer("particles"),
			ComputeStage:   frame.StageComputeShader,
			ComputeAccess:  frame.AccessShaderWrite,
			GraphicsStage:  frame.StageVertexInput,
			GraphicsAccess: frame.AccessVertexAttributeRead,
		}},
	}
	r := newRig(t, nil, nil, frame.WithComputeStage(stage))
	r.run(t, 4)
	trace := r.settle(t)

	transfers := headless.Filter(trace, func(e headless.Event) bool {
		return e.Kind == headless.EventBarrier && e.Barrier != nil && e.Barrier.IsTransfer()
	})
	assert.Empty(t, transfers)

	// One plain barrier per release: compute to graphics and back, every frame.
	plain := headless.Filter(trace, func(e headless.Event) bool {
		return e.Kind == headless.EventBarrier && e.Barrier != nil && !e.Barrier.IsTransfer()
	})
	assert.Len(t, plain, 8)
	assert.Empty(t, r.device.Violations())
}

func TestSchedulerOutOfDateOnAcquire(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			r := newRig(t, nil, nil, frame.WithSyncStrategy(strategy))
			r.surface.FailAcquireAt(3, frame.StatusOutOfDate)

			results := r.run(t, 10)

			skipped := results[2]
			assert.True(t, skipped.Skipped)
			assert.True(t, skipped.Rebuilt)
			assert.Equal(t, -1, skipped.Image)

			for i, res := range results {
				if i == 2 {
					continue
				}
				assert.False(t, res.Skipped, "cycle %d", i+1)
			}
			// Cycle 4 starts over on a fresh image ring and slot ring.
			assert.Equal(t, 0, results[3].Image)
			assert.Equal(t, 0, results[3].Slot)
			assert.False(t, results[3].Rebuilt)

			assert.Equal(t, 1, r.surface.Rebuilds())
			assert.Equal(t, 1, r.sched.Handler().Rebuilds())
			assert.Equal(t, uint64(9), r.sched.FrameCount())

			trace := r.settle(t)
			submits := headless.Filter(trace, headless.OfKind(headless.EventSubmit, frame.QueueGraphics))
			assert.Len(t, submits, 9)
			assert.Empty(t, r.device.Violations())
		})
	}
}

func TestSchedulerSuboptimalPresentRebuildsNextCycle(t *testing.T) {
	r := newRig(t, nil, nil)
	r.run(t, 1)

	r.surface.FailNextPresent(frame.StatusSuboptimal)
	res := r.run(t, 1)[0]
	assert.True(t, res.Suboptimal)
	assert.False(t, res.Skipped)
	assert.True(t, r.sched.Handler().Pending())

	res = r.run(t, 1)[0]
	assert.True(t, res.Rebuilt)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, r.surface.Rebuilds())
	assert.Equal(t, frame.StateStable, r.sched.State())
}

func TestSchedulerSuboptimalAcquireStillRenders(t *testing.T) {
	r := newRig(t, nil, nil)
	r.surface.FailAcquireAt(2, frame.StatusSuboptimal)

	results := r.run(t, 3)
	assert.False(t, results[1].Skipped)
	assert.True(t, results[1].Suboptimal)
	assert.True(t, results[2].Rebuilt)
	assert.Equal(t, uint64(3), r.sched.FrameCount())
	r.settle(t)
	assert.Empty(t, r.device.Violations())
}

func TestSchedulerTimelineUnsupported(t *testing.T) {
	d := headless.NewDevice(headless.WithTimelineSupport(false))
	t.Cleanup(func() { _ = d.Close() })
	s := headless.NewSurface(d, 640, 480)

	_, err := frame.NewScheduler(d, s, drawRecorder(), frame.WithSyncStrategy(frame.SyncTimeline))
	assert.ErrorIs(t, err, frame.ErrTimelineUnsupported)
}

func TestSchedulerDeviceLostIsFatal(t *testing.T) {
	r := newRig(t, nil, nil)
	r.run(t, 2)

	r.device.Lose()
	_, err := r.sched.RunFrame(context.Background())
	require.Error(t, err)
	assert.True(t, frame.IsFatal(err))
	assert.ErrorIs(t, err, frame.ErrDeviceLost)
}

func TestSchedulerCancelledWaitIsNotFatal(t *testing.T) {
	r := newRig(t,
		[]headless.DeviceBuilderOption{headless.WithExecutionDelay(frame.QueueGraphics, 200*time.Millisecond)},
		nil,
		frame.WithFramesInFlight(1),
	)
	r.run(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.sched.RunFrame(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, frame.IsFatal(err))
}

func TestSchedulerRecorderErrorIsFatal(t *testing.T) {
	d := headless.NewDevice()
	s := headless.NewSurface(d, 640, 480)
	boom := errors.New("pipeline missing")
	sched, err := frame.NewScheduler(d, s, frame.RecorderFunc(func(frame.CommandBuffer, int, int) error { return boom }))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sched.Close(context.Background())
		_ = d.Close()
	})

	_, err = sched.RunFrame(context.Background())
	assert.True(t, frame.IsFatal(err))
	assert.ErrorIs(t, err, boom)
}

func TestSchedulerSetFramesInFlight(t *testing.T) {
	r := newRig(t, nil, nil, frame.WithFramesInFlight(2))
	r.run(t, 3)
	require.Equal(t, 2, r.sched.Pool().Len())

	r.sched.SetFramesInFlight(3)
	res := r.run(t, 1)[0]
	assert.True(t, res.Rebuilt)
	assert.Equal(t, 3, r.sched.Pool().Len())
	assert.Equal(t, 3, r.sched.Pool().FramesInFlight())
	assert.False(t, r.sched.Handler().Pending())

	slots := r.run(t, 3)
	assert.Equal(t, []int{1, 2, 0}, []int{slots[0].Slot, slots[1].Slot, slots[2].Slot})
}

func TestSchedulerSlotsCappedByImageCount(t *testing.T) {
	r := newRig(t, nil,
		[]headless.SurfaceBuilderOption{headless.WithImageCount(2)},
		frame.WithFramesInFlight(4),
	)
	assert.Equal(t, 2, r.sched.Pool().Len())
	assert.Equal(t, 4, r.sched.Pool().FramesInFlight())

	r.surface.SetImageCount(5)
	r.sched.OnSurfaceSizeChanged(1280, 720)
	res := r.run(t, 1)[0]
	assert.True(t, res.Rebuilt)
	assert.Equal(t, 4, r.sched.Pool().Len())
}

type recordingTarget struct {
	sizes [][2]int
}

func (rt *recordingTarget) OnResize(w, h int) error {
	rt.sizes = append(rt.sizes, [2]int{w, h})
	return nil
}

func TestSchedulerSizeDependentsFollowRebuild(t *testing.T) {
	target := &recordingTarget{}
	r := newRig(t, nil, nil, frame.WithSizeDependent(target))
	r.run(t, 2)

	r.sched.OnSurfaceSizeChanged(1024, 768)
	r.sched.OnSurfaceSizeChanged(1920, 1080)
	r.run(t, 1)

	assert.Equal(t, [][2]int{{1920, 1080}}, target.sizes)
	w, h := r.surface.Extent()
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)
}

func TestSchedulerRunFrameAfterClosePanics(t *testing.T) {
	r := newRig(t, nil, nil)
	r.run(t, 1)
	require.NoError(t, r.sched.Close(context.Background()))
	assert.Panics(t, func() { _, _ = r.sched.RunFrame(context.Background()) })
}
