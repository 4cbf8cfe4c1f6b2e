package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/copier"
	"gopkg.in/yaml.v3"

	"github.com/Carmen-Shannon/oxy-frame/common"
	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
	"github.com/Carmen-Shannon/oxy-frame/engine/renderer"
)

// Config is the engine configuration file. Zero values in a loaded file keep the defaults.
type Config struct {
	// FramesInFlight is how many frames the CPU may record ahead of the GPU (1..8).
	FramesInFlight int `toml:"frames_in_flight" yaml:"frames_in_flight"`

	// SyncStrategy is "fence" or "timeline".
	SyncStrategy string `toml:"sync_strategy" yaml:"sync_strategy"`

	// Backend is "wgpu", "vulkan" or "headless".
	Backend string `toml:"backend" yaml:"backend"`

	// PresentMode is "fifo", "immediate" or "mailbox".
	PresentMode string `toml:"present_mode" yaml:"present_mode"`

	// MSAA is the sample count of the WGPU targets: 1, 4 or 8.
	MSAA int `toml:"msaa" yaml:"msaa"`

	// ForceSoftware asks the backend for a CPU device.
	ForceSoftware bool `toml:"force_software" yaml:"force_software"`

	// TickRate is the game logic rate in ticks per second.
	TickRate float64 `toml:"tick_rate" yaml:"tick_rate"`

	// FrameLimit caps the render loop in frames per second; 0 is uncapped.
	FrameLimit float64 `toml:"frame_limit" yaml:"frame_limit"`

	// Profiling enables the periodic profiler log.
	Profiling bool `toml:"profiling" yaml:"profiling"`

	Window    WindowConfig    `toml:"window" yaml:"window"`
	Benchmark BenchmarkConfig `toml:"benchmark" yaml:"benchmark"`
	Compute   ComputeConfig   `toml:"compute" yaml:"compute"`
}

// WindowConfig sizes the platform window. Zero limits are unconstrained.
type WindowConfig struct {
	Title     string `toml:"title" yaml:"title"`
	Width     int    `toml:"width" yaml:"width"`
	Height    int    `toml:"height" yaml:"height"`
	MinWidth  int    `toml:"min_width" yaml:"min_width"`
	MinHeight int    `toml:"min_height" yaml:"min_height"`
	MaxWidth  int    `toml:"max_width" yaml:"max_width"`
	MaxHeight int    `toml:"max_height" yaml:"max_height"`
}

// BenchmarkConfig enables benchmark mode. The run ends at Duration or Frames, whichever comes
// first.
type BenchmarkConfig struct {
	Enabled    bool     `toml:"enabled" yaml:"enabled"`
	Warmup     Duration `toml:"warmup" yaml:"warmup"`
	Duration   Duration `toml:"duration" yaml:"duration"`
	Frames     int      `toml:"frames" yaml:"frames"`
	Output     string   `toml:"output" yaml:"output"`
	FrameTimes bool     `toml:"frame_times" yaml:"frame_times"`
}

// ComputeConfig controls the compute stage and the layer preparation pool.
type ComputeConfig struct {
	// Enabled adds a compute submission to every frame when a scene has compute layers.
	Enabled bool `toml:"enabled" yaml:"enabled"`

	// Dedicated requests a compute-only queue family when the device has one.
	Dedicated bool `toml:"dedicated" yaml:"dedicated"`

	// Workers is the number of goroutines preparing each scene's layers. 0 keeps the scene's own
	// setting, which defaults to NumCPU-1.
	Workers int `toml:"workers" yaml:"workers"`
}

// Duration is a time.Duration written as a Go duration string ("1.5s") in config files.
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// Default returns the configuration used when no file is given.
//
// Returns:
//   - *Config: a validated default configuration
func Default() *Config {
	return &Config{
		FramesInFlight: frame.DefaultFramesInFlight,
		SyncStrategy:   frame.SyncFence.String(),
		Backend:        renderer.BackendTypeWGPU.String(),
		PresentMode:    renderer.PresentModeVSync.String(),
		MSAA:           int(renderer.MSAA4x),
		TickRate:       60,
		FrameLimit:     0,
		Window: WindowConfig{
			Title:     "oxy-frame",
			Width:     1280,
			Height:    720,
			MaxWidth:  3840,
			MaxHeight: 2160,
		},
		Benchmark: BenchmarkConfig{
			Warmup:   Duration(2 * time.Second),
			Duration: Duration(10 * time.Second),
			Output:   "benchmark.csv",
		},
	}
}

// Validate clamps numeric fields into range and rejects unknown enum strings. Enum strings are
// normalised to their canonical spelling.
//
// Returns:
//   - error: the joined errors of every invalid field
func (c *Config) Validate() error {
	var errs []error

	c.FramesInFlight = common.Clamp(c.FramesInFlight, 1, frame.MaxFramesInFlight)
	if c.TickRate <= 0 {
		c.TickRate = 60
	}
	c.FrameLimit = max(c.FrameLimit, 0)
	c.Window.Width = max(c.Window.Width, 1)
	c.Window.Height = max(c.Window.Height, 1)
	c.Compute.Workers = max(c.Compute.Workers, 0)
	c.Benchmark.Frames = max(c.Benchmark.Frames, 0)
	c.Benchmark.Warmup = max(c.Benchmark.Warmup, 0)
	c.Benchmark.Duration = max(c.Benchmark.Duration, 0)

	if s, err := frame.ParseSyncStrategy(strings.ToLower(c.SyncStrategy)); err != nil {
		errs = append(errs, err)
	} else {
		c.SyncStrategy = s.String()
	}
	if b, err := renderer.ParseBackend(c.Backend); err != nil {
		errs = append(errs, err)
	} else {
		c.Backend = b.String()
	}
	if m, err := renderer.ParsePresentMode(c.PresentMode); err != nil {
		errs = append(errs, err)
	} else {
		c.PresentMode = m.String()
	}
	switch renderer.MSAASampleCount(c.MSAA) {
	case renderer.MSAAOff, renderer.MSAA4x, renderer.MSAA8x:
	case 0:
		c.MSAA = int(renderer.MSAA4x)
	default:
		errs = append(errs, fmt.Errorf("config: unsupported msaa sample count %d", c.MSAA))
	}

	return errors.Join(errs...)
}

// Strategy returns the parsed sync strategy. The config must have been validated.
func (c *Config) Strategy() frame.SyncStrategy {
	s, _ := frame.ParseSyncStrategy(c.SyncStrategy)
	return s
}

// BackendType returns the parsed backend. The config must have been validated.
func (c *Config) BackendType() renderer.RendererBackendType {
	b, _ := renderer.ParseBackend(c.Backend)
	return b
}

// Present returns the parsed present mode. The config must have been validated.
func (c *Config) Present() renderer.PresentMode {
	m, _ := renderer.ParsePresentMode(c.PresentMode)
	return m
}

// Clone returns a deep copy that shares nothing with c.
//
// Returns:
//   - *Config: the copy
func (c *Config) Clone() *Config {
	out := &Config{}
	if err := copier.CopyWithOption(out, c, copier.Option{DeepCopy: true}); err != nil {
		// Config holds only plain values, so copier cannot fail on it.
		panic(fmt.Sprintf("config: clone failed: %v", err))
	}
	return out
}
