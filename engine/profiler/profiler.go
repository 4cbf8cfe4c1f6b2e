package profiler

import (
	"log"
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
)

// Profiler tracks frame rate, frame scheduling and memory statistics for performance monitoring.
// Outputs stats to the log at a configurable interval.
type Profiler struct {
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	// per-interval scheduler statistics fed by Observe
	observed    int
	skipped     int
	rebuilds    int
	waitTotal   time.Duration
	recordTotal time.Duration
	maxWait     time.Duration

	logf func(format string, args ...any)
}

// NewProfiler creates a new Profiler with default settings.
// Update interval defaults to 1 second.
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler() *Profiler {
	return &Profiler{
		frameCount:     0,
		lastTime:       time.Now(),
		updateInterval: time.Second,
		memStats:       runtime.MemStats{},
		logf:           log.Printf,
	}
}

// SetUpdateInterval changes how often Tick logs. Values <= 0 keep the current interval.
func (p *Profiler) SetUpdateInterval(d time.Duration) {
	if d > 0 {
		p.updateInterval = d
	}
}

// Observe adds one scheduler cycle to the current interval's statistics.
//
// Parameters:
//   - res: the result of a frame.Scheduler RunFrame call
func (p *Profiler) Observe(res frame.FrameResult) {
	p.observed++
	if res.Skipped {
		p.skipped++
	}
	if res.Rebuilt {
		p.rebuilds++
	}
	p.waitTotal += res.Wait
	p.recordTotal += res.Record
	p.maxWait = max(p.maxWait, res.Wait)
}

// Tick should be called once per frame to track frame timing.
// Logs performance statistics when the update interval has elapsed.
// Statistics include: FPS, average slot wait and record time, skipped frames, surface rebuilds,
// heap usage, allocation rate, GC count/pause times and total memory.
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick() bool {
	p.frameCount++
	currentTime := time.Now()
	elapsed := currentTime.Sub(p.lastTime)

	if elapsed >= p.updateInterval {
		fps := float64(p.frameCount) / elapsed.Seconds()

		var avgWaitMs, avgRecordMs float64
		if p.observed > 0 {
			avgWaitMs = float64(p.waitTotal.Microseconds()) / 1000 / float64(p.observed)
			avgRecordMs = float64(p.recordTotal.Microseconds()) / 1000 / float64(p.observed)
		}

		runtime.ReadMemStats(&p.memStats)
		// Alloc: Bytes of allocated heap objects (live memory)
		// Sys: Total bytes of memory obtained from the OS (actual process footprint)
		allocMB := float64(p.memStats.Alloc) / 1024 / 1024
		sysMB := float64(p.memStats.Sys) / 1024 / 1024

		// Calculate allocation rate (MB/sec)
		allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
		allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

		// Calculate GC pause stats (last pause and max recent pause)
		gcCount := p.memStats.NumGC
		var lastPauseUs, maxPauseUs uint64
		if gcCount > 0 {
			// PauseNs is a circular buffer of last 256 GC pauses
			lastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000

			// Find max pause since last tick
			startIdx := p.lastGCCount
			if gcCount-startIdx > 256 {
				startIdx = gcCount - 256
			}
			for i := startIdx; i < gcCount; i++ {
				pause := p.memStats.PauseNs[i%256] / 1000
				if pause > maxPauseUs {
					maxPauseUs = pause
				}
			}
		}

		p.logf("[Profiler] FPS: %.2f | Wait: %.2f ms (max %.2f ms) | Record: %.2f ms | Skipped: %d | Rebuilds: %d",
			fps, avgWaitMs, float64(p.maxWait.Microseconds())/1000, avgRecordMs, p.skipped, p.rebuilds)
		p.logf("[Profiler] Heap: %.2f MB | Alloc Rate: %.2f MB/s | GC: %d (last: %d µs, max: %d µs) | Sys: %.2f MB",
			allocMB, allocRateMB, gcCount, lastPauseUs, maxPauseUs, sysMB)

		p.frameCount = 0
		p.lastTime = currentTime
		p.lastGCCount = gcCount
		p.lastTotalAlloc = p.memStats.TotalAlloc
		p.observed, p.skipped, p.rebuilds = 0, 0, 0
		p.waitTotal, p.recordTotal, p.maxWait = 0, 0, 0
		return true
	}

	return false
}
