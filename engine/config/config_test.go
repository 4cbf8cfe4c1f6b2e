package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
	"github.com/Carmen-Shannon/oxy-frame/engine/renderer"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, frame.DefaultFramesInFlight, cfg.FramesInFlight)
	assert.Equal(t, frame.SyncFence, cfg.Strategy())
	assert.Equal(t, renderer.BackendTypeWGPU, cfg.BackendType())
	assert.Equal(t, renderer.PresentModeVSync, cfg.Present())
}

func TestValidateClampsAndNormalises(t *testing.T) {
	cfg := Default()
	cfg.FramesInFlight = 42
	cfg.TickRate = -1
	cfg.FrameLimit = -30
	cfg.SyncStrategy = "Timeline"
	cfg.Backend = "VK"
	cfg.PresentMode = "uncapped"
	cfg.MSAA = 0
	cfg.Window.Width = 0

	require.NoError(t, cfg.Validate())
	assert.Equal(t, frame.MaxFramesInFlight, cfg.FramesInFlight)
	assert.Equal(t, 60.0, cfg.TickRate)
	assert.Zero(t, cfg.FrameLimit)
	assert.Equal(t, "timeline", cfg.SyncStrategy)
	assert.Equal(t, "vulkan", cfg.Backend)
	assert.Equal(t, "immediate", cfg.PresentMode)
	assert.Equal(t, 4, cfg.MSAA)
	assert.Equal(t, 1, cfg.Window.Width)

	cfg.FramesInFlight = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.FramesInFlight)
}

func TestValidateRejectsUnknownEnums(t *testing.T) {
	cfg := Default()
	cfg.SyncStrategy = "semaphore"
	cfg.Backend = "metal"
	cfg.PresentMode = "triple"
	cfg.MSAA = 3

	err := cfg.Validate()
	require.Error(t, err)
	for _, s := range []string{"semaphore", "metal", "triple", "msaa"} {
		assert.Contains(t, err.Error(), s)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
frames_in_flight = 3
sync_strategy = "timeline"
backend = "headless"

[window]
title = "particles"

[benchmark]
enabled = true
warmup = "500ms"
frames = 120

[compute]
enabled = true
workers = 2
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.FramesInFlight)
	assert.Equal(t, frame.SyncTimeline, cfg.Strategy())
	assert.Equal(t, renderer.BackendTypeHeadless, cfg.BackendType())
	assert.Equal(t, "particles", cfg.Window.Title)
	assert.Equal(t, 720, cfg.Window.Height, "missing fields keep defaults")
	assert.True(t, cfg.Benchmark.Enabled)
	assert.Equal(t, Duration(500*time.Millisecond), cfg.Benchmark.Warmup)
	assert.Equal(t, Duration(10*time.Second), cfg.Benchmark.Duration)
	assert.Equal(t, 120, cfg.Benchmark.Frames)
	assert.True(t, cfg.Compute.Enabled)
	assert.Equal(t, 2, cfg.Compute.Workers)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
frames_in_flight: 1
present_mode: mailbox
tick_rate: 30
benchmark:
  duration: 3s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.FramesInFlight)
	assert.Equal(t, renderer.PresentModeMailbox, cfg.Present())
	assert.Equal(t, 30.0, cfg.TickRate)
	assert.Equal(t, Duration(3*time.Second), cfg.Benchmark.Duration)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	ini := filepath.Join(dir, "engine.ini")
	require.NoError(t, os.WriteFile(ini, []byte("x=1"), 0o644))
	_, err = Load(ini)
	assert.ErrorContains(t, err, "unsupported file extension")

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte(`backend = "metal"`), 0o644))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "metal")

	badDuration := filepath.Join(dir, "dur.yaml")
	require.NoError(t, os.WriteFile(badDuration, []byte("benchmark:\n  warmup: soon\n"), 0o644))
	_, err = Load(badDuration)
	assert.ErrorContains(t, err, "invalid duration")
}

func TestSaveRoundTripsBothCodecs(t *testing.T) {
	cfg := Default()
	cfg.FramesInFlight = 3
	cfg.Benchmark.Warmup = Duration(1500 * time.Millisecond)
	cfg.Compute.Dedicated = true

	for _, name := range []string{"engine.toml", "engine.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			require.NoError(t, Save(path, cfg))
			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := Default()
	cp := cfg.Clone()
	assert.Equal(t, cfg, cp)

	cp.Window.Title = "changed"
	cp.Benchmark.Frames = 5
	assert.Equal(t, "oxy-frame", cfg.Window.Title)
	assert.Zero(t, cfg.Benchmark.Frames)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	require.NoError(t, os.WriteFile(path, []byte("frames_in_flight = 2\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	require.NoError(t, Watch(ctx, path, func(c *Config) { changes <- c }))

	// an invalid file is logged and skipped
	require.NoError(t, os.WriteFile(path, []byte(`backend = "metal"`), 0o644))
	time.Sleep(3 * reloadDebounce)
	require.NoError(t, os.WriteFile(path, []byte("frames_in_flight = 4\ntick_rate = 120\n"), 0o644))

	select {
	case c := <-changes:
		assert.Equal(t, 4, c.FramesInFlight)
		assert.Equal(t, 120.0, c.TickRate)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "engine.toml"), func(*Config) {})
	assert.Error(t, err)
}
