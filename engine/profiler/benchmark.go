package profiler

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/muesli/termenv"
	"golang.org/x/term"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// BenchmarkConfig bounds a benchmark run. The run ends at whichever of Duration and Frames is
// reached first; at least one of them must be set.
type BenchmarkConfig struct {
	// Warmup is the frame time discarded before measuring starts.
	Warmup time.Duration

	// Duration is the measured frame time after warmup. 0 means unbounded.
	Duration time.Duration

	// Frames is the number of measured frames. 0 means unbounded.
	Frames int

	// OutputPath is the CSV file written by Save. Empty disables the file.
	OutputPath string

	// FrameTimes appends the per-frame table to the CSV.
	FrameTimes bool

	// Device and Backend label the report.
	Device  string
	Backend string
}

// BenchmarkResult summarises the measured frames. Times are in milliseconds.
type BenchmarkResult struct {
	Device  string
	Backend string

	Runtime time.Duration
	Frames  int
	FPS     float64

	Best   float64
	Worst  float64
	Avg    float64
	StdDev float64
	P50    float64
	P95    float64
	P99    float64

	FrameTimes []float64
}

// Benchmark measures per-frame CPU time over a warmup and a bounded measured run.
// Time is accounted as the sum of observed frame times, so a run is reproducible from its
// samples. Safe for concurrent use.
type Benchmark struct {
	mu  sync.Mutex
	cfg BenchmarkConfig

	warmed   time.Duration
	measured time.Duration
	samples  []float64
	done     bool
}

// NewBenchmark creates a benchmark. A config with neither Duration nor Frames measures ten
// seconds.
//
// Parameters:
//   - cfg: the run bounds and report settings
//
// Returns:
//   - *Benchmark: the benchmark, in its warmup phase
func NewBenchmark(cfg BenchmarkConfig) *Benchmark {
	if cfg.Duration <= 0 && cfg.Frames <= 0 {
		cfg.Duration = 10 * time.Second
	}
	return &Benchmark{cfg: cfg}
}

// Observe adds one frame.
//
// Parameters:
//   - frameTime: the CPU time of the frame
//
// Returns:
//   - bool: true once the run is complete
func (b *Benchmark) Observe(frameTime time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return true
	}
	if b.warmed < b.cfg.Warmup {
		b.warmed += frameTime
		return false
	}

	b.measured += frameTime
	b.samples = append(b.samples, float64(frameTime.Nanoseconds())/1e6)
	if (b.cfg.Duration > 0 && b.measured >= b.cfg.Duration) ||
		(b.cfg.Frames > 0 && len(b.samples) >= b.cfg.Frames) {
		b.done = true
	}
	return b.done
}

// Done reports whether the run is complete.
func (b *Benchmark) Done() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Warming reports whether the benchmark is still in its warmup phase.
func (b *Benchmark) Warming() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.warmed < b.cfg.Warmup
}

// Result computes the statistics of the frames measured so far.
func (b *Benchmark) Result() BenchmarkResult {
	b.mu.Lock()
	samples := slices.Clone(b.samples)
	runtime := b.measured
	cfg := b.cfg
	b.mu.Unlock()

	res := BenchmarkResult{
		Device:     cfg.Device,
		Backend:    cfg.Backend,
		Runtime:    runtime,
		Frames:     len(samples),
		FrameTimes: samples,
	}
	if len(samples) == 0 {
		return res
	}
	if runtime > 0 {
		res.FPS = float64(len(samples)) / runtime.Seconds()
	}

	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	res.Best = floats.Min(sorted)
	res.Worst = floats.Max(sorted)
	res.Avg = stat.Mean(sorted, nil)
	if len(sorted) > 1 {
		res.StdDev = stat.StdDev(sorted, nil)
	}
	res.P50 = stat.Quantile(0.50, stat.Empirical, sorted, nil)
	res.P95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	res.P99 = stat.Quantile(0.99, stat.Empirical, sorted, nil)
	return res
}

// Save writes the CSV report to the configured OutputPath, creating parent directories.
// It does nothing when OutputPath is empty.
//
// Returns:
//   - error: an error if the file could not be written
func (b *Benchmark) Save() error {
	b.mu.Lock()
	path, frameTimes := b.cfg.OutputPath, b.cfg.FrameTimes
	b.mu.Unlock()
	if path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("profiler: create benchmark directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("profiler: create benchmark file: %w", err)
	}
	if err := b.Result().WriteCSV(f, frameTimes); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteCSV writes the summary row, optionally followed by the per-frame table.
//
// Parameters:
//   - w: the destination
//   - frameTimes: append a "frame,ms" table after a blank line
//
// Returns:
//   - error: the first write error
func (r BenchmarkResult) WriteCSV(w io.Writer, frameTimes bool) error {
	cw := csv.NewWriter(w)
	rows := [][]string{
		{"device", "backend", "duration (ms)", "frames", "fps"},
		{
			r.Device,
			r.Backend,
			strconv.FormatInt(r.Runtime.Milliseconds(), 10),
			strconv.Itoa(r.Frames),
			strconv.FormatFloat(r.FPS, 'f', 2, 64),
		},
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("profiler: write benchmark csv: %w", err)
	}

	if frameTimes {
		if _, err := io.WriteString(w, "\n"); err != nil {
			return fmt.Errorf("profiler: write benchmark csv: %w", err)
		}
		rows = [][]string{{"frame", "ms"}}
		for i, ms := range r.FrameTimes {
			rows = append(rows, []string{strconv.Itoa(i), strconv.FormatFloat(ms, 'f', 3, 64)})
		}
		if err := cw.WriteAll(rows); err != nil {
			return fmt.Errorf("profiler: write benchmark csv: %w", err)
		}
	}
	return nil
}

// WriteSummary prints a human readable summary. Colors are used only when w is a terminal.
//
// Parameters:
//   - w: the destination, usually os.Stdout
func (r BenchmarkResult) WriteSummary(w io.Writer) {
	var out *termenv.Output
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		out = termenv.NewOutput(w)
	} else {
		out = termenv.NewOutput(w, termenv.WithProfile(termenv.Ascii))
	}

	title := out.String(fmt.Sprintf("Benchmark %s / %s", r.Device, r.Backend)).Bold()
	fps := out.String(fmt.Sprintf("%.2f fps", r.FPS)).Foreground(out.Color("2")).Bold()

	fmt.Fprintln(out, title)
	fmt.Fprintf(out, "  runtime  %.3f s\n", r.Runtime.Seconds())
	fmt.Fprintf(out, "  frames   %d (%s)\n", r.Frames, fps)
	fmt.Fprintf(out, "  best     %.3f ms\n", r.Best)
	fmt.Fprintf(out, "  worst    %s\n", out.String(fmt.Sprintf("%.3f ms", r.Worst)).Foreground(out.Color("1")))
	fmt.Fprintf(out, "  avg      %.3f ms (stddev %.3f)\n", r.Avg, r.StdDev)
	fmt.Fprintf(out, "  p50/p95/p99  %.3f / %.3f / %.3f ms\n", r.P50, r.P95, r.P99)
}
