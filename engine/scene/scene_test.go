package scene

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
	"github.com/Carmen-Shannon/oxy-frame/engine/renderer/headless"
)

// executeMarks records into a headless command buffer, runs it and returns the executed labels.
func executeMarks(t *testing.T, record func(cb frame.CommandBuffer) error) []string {
	t.Helper()
	d := headless.NewDevice()
	t.Cleanup(func() { _ = d.Close() })

	q := d.Queue(frame.QueueGraphics)
	cb, err := d.NewCommandBuffer(q)
	require.NoError(t, err)
	fence, err := d.NewFence(false)
	require.NoError(t, err)

	require.NoError(t, cb.Begin())
	require.NoError(t, record(cb))
	require.NoError(t, cb.End())
	require.NoError(t, q.Submit(frame.Submission{CommandBuffers: []frame.CommandBuffer{cb}, Fence: fence}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fence.Wait(ctx))

	var labels []string
	for _, e := range d.Trace() {
		if e.Kind == headless.EventMark {
			labels = append(labels, e.Label)
		}
	}
	return labels
}

func markLayer(label string) Layer {
	return LayerFuncs{RecordFunc: func(cb frame.CommandBuffer, slot, image int) error {
		headless.Mark(cb, label)
		return nil
	}}
}

func TestSceneRecordsInZOrder(t *testing.T) {
	s := NewScene("main", WithLayer(10, markLayer("hud")))
	s.Add(0, markLayer("sky"))
	s.Add(5, markLayer("world-a"))
	s.Add(5, markLayer("world-b"))

	labels := executeMarks(t, func(cb frame.CommandBuffer) error {
		return s.RecordInto(cb, 0, 0)
	})
	assert.Equal(t, []string{"sky", "world-a", "world-b", "hud"}, labels)
}

func TestSceneInactiveRecordsNothing(t *testing.T) {
	s := NewScene("main", WithActive(false), WithLayer(0, markLayer("sky")))

	labels := executeMarks(t, func(cb frame.CommandBuffer) error {
		return s.RecordInto(cb, 0, 0)
	})
	assert.Empty(t, labels)
}

func TestSceneAddGetRemove(t *testing.T) {
	s := NewScene("main")
	a := markLayer("a")
	id := s.Add(0, a)
	s.Add(1, markLayer("b"))

	assert.Equal(t, 2, s.Count())
	assert.NotNil(t, s.Get(id))
	s.Remove(id)
	assert.Nil(t, s.Get(id))
	assert.Equal(t, 1, s.Count())
	s.Remove(999)
	assert.Equal(t, 1, s.Count())
	s.Clear()
	assert.Zero(t, s.Count())
}

func TestScenePrepareRunsEveryLayer(t *testing.T) {
	const layers = 16
	s := NewScene("main", WithPrepareWorkers(4))

	var calls atomic.Int32
	var lastDelta atomic.Value
	for i := 0; i < layers; i++ {
		s.Add(i, LayerFuncs{PrepareFunc: func(dt float32) error {
			calls.Add(1)
			lastDelta.Store(dt)
			time.Sleep(time.Millisecond)
			return nil
		}})
	}

	require.NoError(t, s.Prepare(0.5))
	assert.Equal(t, int32(layers), calls.Load())
	assert.Equal(t, float32(0.5), lastDelta.Load())
	assert.Positive(t, s.LastPrepare())

	// a second frame reuses the same pool
	require.NoError(t, s.Prepare(0.25))
	assert.Equal(t, int32(2*layers), calls.Load())
}

func TestScenePrepareJoinsErrorsAndPanics(t *testing.T) {
	boom := errors.New("boom")
	s := NewScene("main", WithPrepareWorkers(2))
	s.Add(0, LayerFuncs{PrepareFunc: func(float32) error { return boom }})
	s.Add(1, LayerFuncs{PrepareFunc: func(float32) error { panic("bad layer") }})
	s.Add(2, LayerFuncs{})

	err := s.Prepare(0)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "panicked")
}

func TestSceneRecordErrorStops(t *testing.T) {
	boom := errors.New("boom")
	s := NewScene("main")
	s.Add(0, LayerFuncs{RecordFunc: func(frame.CommandBuffer, int, int) error { return boom }})
	s.Add(1, markLayer("never"))

	labels := executeMarks(t, func(cb frame.CommandBuffer) error {
		assert.ErrorIs(t, s.RecordInto(cb, 0, 0), boom)
		return nil
	})
	assert.Empty(t, labels)
}

func TestSceneRecordComputeSkipsGraphicsLayers(t *testing.T) {
	s := NewScene("particles")
	assert.False(t, s.HasCompute())

	s.Add(0, markLayer("draw"))
	s.Add(1, ComputeLayerFuncs{
		LayerFuncs: LayerFuncs{},
		ComputeFunc: func(cb frame.CommandBuffer, slot int) error {
			headless.Mark(cb, fmt.Sprintf("simulate slot=%d", slot))
			return nil
		},
	})
	assert.True(t, s.HasCompute())

	labels := executeMarks(t, func(cb frame.CommandBuffer) error {
		return s.RecordCompute(cb, 1)
	})
	assert.Equal(t, []string{"simulate slot=1"}, labels)
}

func TestStackCompositesActiveScenes(t *testing.T) {
	bg := NewScene("background", WithLayer(0, markLayer("bg")))
	ui := NewScene("ui", WithLayer(0, markLayer("ui")))
	hidden := NewScene("hidden", WithActive(false), WithLayer(0, markLayer("hidden")))

	st := NewStack()
	st.Set(10, ui)
	st.Set(-1, bg)
	st.Set(5, hidden)

	assert.Len(t, st.All(), 3)
	assert.Len(t, st.Active(), 2)
	assert.Equal(t, ui, st.Get(10))

	labels := executeMarks(t, func(cb frame.CommandBuffer) error {
		return st.RecordInto(cb, 0, 0)
	})
	assert.Equal(t, []string{"bg", "ui"}, labels)

	st.Remove(10)
	assert.Nil(t, st.Get(10))
	assert.False(t, st.HasCompute())
	require.NoError(t, st.Prepare(0))
}

// concurrencyLayers adds n layers whose Prepare records the peak number of overlapping calls.
func concurrencyLayers(s Scene, n int, running, peak *atomic.Int32) {
	for i := 0; i < n; i++ {
		s.Add(i, LayerFuncs{PrepareFunc: func(float32) error {
			cur := running.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			running.Add(-1)
			return nil
		}})
	}
}

func TestSceneSetPrepareWorkersResizesPool(t *testing.T) {
	s := NewScene("main", WithPrepareWorkers(1))
	var running, peak atomic.Int32
	concurrencyLayers(s, 8, &running, &peak)

	require.NoError(t, s.Prepare(0))
	assert.Equal(t, int32(1), peak.Load(), "one worker never overlaps layers")

	s.SetPrepareWorkers(4)
	assert.Equal(t, 4, s.PrepareWorkers())
	peak.Store(0)
	require.NoError(t, s.Prepare(0))
	assert.LessOrEqual(t, peak.Load(), int32(4))
	assert.Positive(t, peak.Load())

	s.SetPrepareWorkers(0)
	assert.Equal(t, 1, s.PrepareWorkers())
}

func TestStackSetPrepareWorkersAppliesToEveryScene(t *testing.T) {
	early := NewScene("early", WithPrepareWorkers(7))
	st := NewStack()
	st.Set(0, early)

	st.SetPrepareWorkers(0)
	assert.Equal(t, 7, early.PrepareWorkers())

	st.SetPrepareWorkers(2)
	assert.Equal(t, 2, early.PrepareWorkers())

	late := NewScene("late", WithPrepareWorkers(5))
	st.Set(1, late)
	assert.Equal(t, 2, late.PrepareWorkers())
	require.NoError(t, st.Prepare(0))
}
