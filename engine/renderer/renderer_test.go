package renderer

import (
	"context"
	"testing"
	"time"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
	"github.com/Carmen-Shannon/oxy-frame/engine/renderer/headless"
)

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    RendererBackendType
		wantErr bool
	}{
		{"", BackendTypeWGPU, false},
		{"wgpu", BackendTypeWGPU, false},
		{"WebGPU", BackendTypeWGPU, false},
		{"vulkan", BackendTypeVulkan, false},
		{"vk", BackendTypeVulkan, false},
		{"headless", BackendTypeHeadless, false},
		{"none", BackendTypeHeadless, false},
		{"metal", BackendTypeWGPU, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackend(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePresentMode(t *testing.T) {
	tests := []struct {
		in      string
		want    PresentMode
		wantErr bool
	}{
		{"fifo", PresentModeVSync, false},
		{"vsync", PresentModeVSync, false},
		{"immediate", PresentModeUncapped, false},
		{"uncapped", PresentModeUncapped, false},
		{"mailbox", PresentModeMailbox, false},
		{"triple", PresentModeVSync, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePresentMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParsePresentMode(t, got.String()))
		})
	}
}

func mustParsePresentMode(t *testing.T, s string) PresentMode {
	t.Helper()
	m, err := ParsePresentMode(s)
	require.NoError(t, err)
	return m
}

func newHeadlessRenderer(t *testing.T, options ...RendererBuilderOption) Renderer {
	t.Helper()
	r, err := NewRenderer(BackendTypeHeadless, nil, options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func runFrames(t *testing.T, s frame.Scheduler, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := 0; i < n; i++ {
		_, err := s.RunFrame(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close(ctx))
}

var markRecorder = frame.RecorderFunc(func(cb frame.CommandBuffer, slot, image int) error {
	headless.Mark(cb, "draw")
	return nil
})

func TestNewRendererHeadlessWithoutWindow(t *testing.T) {
	r := newHeadlessRenderer(t, WithHeadlessExtent(640, 480))

	assert.Equal(t, BackendTypeHeadless, r.Backend())
	w, h := r.Surface().Extent()
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)
	assert.Equal(t, headless.DefaultImageCount, r.Surface().ImageCount())

	_, ok := r.Device().(headless.Device)
	assert.True(t, ok)
	assert.Empty(t, r.SizeDependents())
}

func TestNewRendererNeedsWindow(t *testing.T) {
	for _, backend := range []RendererBackendType{BackendTypeWGPU, BackendTypeVulkan} {
		t.Run(backend.String(), func(t *testing.T) {
			r, err := NewRenderer(backend, nil)
			assert.Error(t, err)
			assert.Nil(t, r)
		})
	}
}

func TestNewRendererUnknownBackend(t *testing.T) {
	_, err := NewRenderer(RendererBackendType(42), nil)
	assert.Error(t, err)
}

func TestNewSchedulerKeepsTimeline(t *testing.T) {
	r := newHeadlessRenderer(t, WithSyncStrategy(frame.SyncTimeline))

	s, err := r.NewScheduler(markRecorder)
	require.NoError(t, err)
	assert.Equal(t, frame.SyncTimeline, s.Pool().Strategy())
	assert.Equal(t, frame.SyncTimeline, r.SyncStrategy())
	runFrames(t, s, 5)
}

func TestNewSchedulerFallsBackToFences(t *testing.T) {
	r := newHeadlessRenderer(t,
		WithSyncStrategy(frame.SyncTimeline),
		WithHeadlessOptions(headless.WithTimelineSupport(false)),
	)

	s, err := r.NewScheduler(markRecorder, frame.WithFramesInFlight(3))
	require.NoError(t, err)
	assert.Equal(t, frame.SyncFence, s.Pool().Strategy())
	assert.Equal(t, frame.SyncFence, r.SyncStrategy())
	assert.Equal(t, 3, s.Pool().Len())
	runFrames(t, s, 6)

	d := r.Device().(headless.Device)
	assert.Empty(t, d.Violations())
}

func TestNewSchedulerFallbackOverridesOption(t *testing.T) {
	r := newHeadlessRenderer(t, WithHeadlessOptions(headless.WithTimelineSupport(false)))

	s, err := r.NewScheduler(markRecorder, frame.WithSyncStrategy(frame.SyncTimeline))
	require.NoError(t, err)
	assert.Equal(t, frame.SyncFence, s.Pool().Strategy())
	runFrames(t, s, 2)
}

func TestDedicatedComputeHeadless(t *testing.T) {
	r := newHeadlessRenderer(t, WithDedicatedCompute(true))

	graphics := r.Device().Queue(frame.QueueGraphics)
	compute := r.Device().Queue(frame.QueueCompute)
	assert.NotEqual(t, graphics.Family(), compute.Family())
}

func TestSharedComputeHeadless(t *testing.T) {
	r := newHeadlessRenderer(t)
	assert.Equal(t, r.Device().Queue(frame.QueueGraphics).Family(), r.Device().Queue(frame.QueueCompute).Family())
}

func TestSetPresentMode(t *testing.T) {
	r := newHeadlessRenderer(t, WithPresentMode(PresentModeUncapped))
	assert.Equal(t, PresentModeUncapped, r.PresentMode())

	r.SetPresentMode(PresentModeMailbox)
	assert.Equal(t, PresentModeMailbox, r.PresentMode())
}

func TestCloseTwice(t *testing.T) {
	r, err := NewRenderer(BackendTypeHeadless, nil)
	require.NoError(t, err)
	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close())
}

func TestBackendAccessorsRejectOtherBackends(t *testing.T) {
	r := newHeadlessRenderer(t)
	cb, err := r.Device().NewCommandBuffer(r.Device().Queue(frame.QueueGraphics))
	require.NoError(t, err)
	defer cb.Destroy()

	_, ok := VulkanCommandBuffer(cb)
	assert.False(t, ok)

	encoder, view := WGPUEncoder(cb)
	assert.Nil(t, encoder)
	assert.Nil(t, view)

	_, _, ok = WGPUPassDescriptor(r, cb, wgpu.Color{})
	assert.False(t, ok)
}
