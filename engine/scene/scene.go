package scene

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
)

// Layer is one piece of frame content. Prepare runs on a worker goroutine in parallel with the
// other layers of the scene; Record runs afterwards on the render goroutine, in z-order.
type Layer interface {
	// Prepare does the CPU work of the frame (animation, culling, staging) and must not touch any
	// command buffer.
	//
	// Parameters:
	//   - deltaTime: elapsed time since the previous frame in seconds
	//
	// Returns:
	//   - error: an error that fails the frame's preparation
	Prepare(deltaTime float32) error

	// Record writes the layer's commands into the frame's graphics command buffer.
	//
	// Parameters:
	//   - cb: the slot's graphics command buffer, already begun
	//   - slot: the frame slot index
	//   - image: the acquired presentable image index
	//
	// Returns:
	//   - error: an error that aborts the frame
	Record(cb frame.CommandBuffer, slot, image int) error
}

// ComputeLayer is a Layer that also records work for the compute queue.
type ComputeLayer interface {
	Layer

	// RecordCompute writes the layer's dispatches into the slot's compute command buffer.
	RecordCompute(cb frame.CommandBuffer, slot int) error
}

// LayerFuncs adapts plain functions to the Layer interface. Nil functions do nothing.
type LayerFuncs struct {
	PrepareFunc func(deltaTime float32) error
	RecordFunc  func(cb frame.CommandBuffer, slot, image int) error
}

func (l LayerFuncs) Prepare(deltaTime float32) error {
	if l.PrepareFunc == nil {
		return nil
	}
	return l.PrepareFunc(deltaTime)
}

func (l LayerFuncs) Record(cb frame.CommandBuffer, slot, image int) error {
	if l.RecordFunc == nil {
		return nil
	}
	return l.RecordFunc(cb, slot, image)
}

// ComputeLayerFuncs adapts plain functions to the ComputeLayer interface.
type ComputeLayerFuncs struct {
	LayerFuncs
	ComputeFunc func(cb frame.CommandBuffer, slot int) error
}

func (l ComputeLayerFuncs) RecordCompute(cb frame.CommandBuffer, slot int) error {
	if l.ComputeFunc == nil {
		return nil
	}
	return l.ComputeFunc(cb, slot)
}

// entry is a registered layer with its ordering key.
type entry struct {
	id    uint64
	z     int
	layer Layer
}

// scene is the implementation of the Scene interface.
type scene struct {
	mu *sync.RWMutex

	name   string
	active bool

	// entries is kept sorted by (z, id)
	entries []entry
	nextID  uint64

	// preparePool runs layer Prepare calls. Workers persist across frames and exit after a
	// second of idleness.
	preparePool    worker.DynamicWorkerPool
	prepareWorkers int

	lastPrepare time.Duration
}

// Scene is a z-ordered set of Layers drawn into every frame.
//
// A Scene satisfies frame.Recorder and frame.ComputeRecorder, so it can be handed straight to a
// scheduler; inactive scenes record nothing. Prepare must be called once per frame before the
// scheduler records. Thread-safe for concurrent access.
type Scene interface {
	frame.Recorder
	frame.ComputeRecorder

	// Name returns the scene's identifier.
	Name() string

	// SetName sets the scene's identifier.
	SetName(name string)

	// Active returns whether this scene is currently prepared and recorded.
	Active() bool

	// SetActive sets whether this scene is prepared and recorded.
	SetActive(active bool)

	// Add registers a layer. Layers record in ascending z; equal z keeps insertion order.
	//
	// Parameters:
	//   - z: the ordering key (lower records first)
	//   - layer: the layer to add
	//
	// Returns:
	//   - uint64: the layer id used by Get and Remove
	Add(z int, layer Layer) uint64

	// Get returns the layer registered under id, or nil.
	Get(id uint64) Layer

	// Remove unregisters the layer with the given id. Unknown ids are ignored.
	Remove(id uint64)

	// Count returns the number of registered layers.
	Count() int

	// Clear removes every layer.
	Clear()

	// HasCompute reports whether any layer records compute work.
	HasCompute() bool

	// Prepare runs every layer's Prepare in parallel on the scene's worker pool and waits for
	// all of them. A panicking layer is reported as an error.
	//
	// Parameters:
	//   - deltaTime: elapsed time since the previous frame in seconds
	//
	// Returns:
	//   - error: the joined errors of every failing layer
	Prepare(deltaTime float32) error

	// LastPrepare returns the wall time of the most recent Prepare.
	LastPrepare() time.Duration

	// PrepareWorkers returns the number of goroutines Prepare fans layers out to.
	PrepareWorkers() int

	// SetPrepareWorkers replaces the Prepare pool with one of n workers (minimum 1). A Prepare
	// already running finishes on the old pool, whose workers then idle out.
	SetPrepareWorkers(n int)
}

var _ Scene = &scene{}

// NewScene creates an active, empty scene.
//
// Parameters:
//   - name: the name of the scene
//   - options: functional options to further configure the scene
//
// Returns:
//   - Scene: the newly created scene
func NewScene(name string, options ...SceneBuilderOption) Scene {
	s := &scene{
		mu:             &sync.RWMutex{},
		name:           name,
		active:         true,
		nextID:         1,
		prepareWorkers: max(runtime.NumCPU()-1, 1),
	}

	for _, option := range options {
		option(s)
	}

	// Initialize the pool after options so WithPrepareWorkers can override the default.
	s.preparePool = newPreparePool(s.prepareWorkers)
	return s
}

// newPreparePool creates a Prepare pool of n workers. A queue of 256 accommodates typical layer
// counts with headroom.
func newPreparePool(n int) worker.DynamicWorkerPool {
	return worker.NewDynamicWorkerPool(n, 256, 1*time.Second)
}

func (s *scene) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *scene) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

func (s *scene) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *scene) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

func (s *scene) Add(z int, layer Layer) uint64 {
	if layer == nil {
		panic("scene: Add requires a non-nil Layer")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(z, layer)
}

func (s *scene) addLocked(z int, layer Layer) uint64 {
	id := s.nextID
	s.nextID++
	s.entries = append(s.entries, entry{id: id, z: z, layer: layer})
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].z < s.entries[j].z
	})
	return id
}

func (s *scene) Get(id uint64) Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.id == id {
			return e.layer
		}
	}
	return nil
}

func (s *scene) Remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

func (s *scene) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *scene) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

func (s *scene) HasCompute() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if _, ok := e.layer.(ComputeLayer); ok {
			return true
		}
	}
	return false
}

// snapshot returns the layers in record order, or nil for an inactive scene.
func (s *scene) snapshot() []entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.active {
		return nil
	}
	out := make([]entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *scene) Prepare(deltaTime float32) error {
	entries := s.snapshot()
	s.mu.RLock()
	pool := s.preparePool
	s.mu.RUnlock()
	start := time.Now()

	var (
		wg     sync.WaitGroup
		errMu  sync.Mutex
		errs   []error
		report = func(err error) {
			errMu.Lock()
			errs = append(errs, err)
			errMu.Unlock()
		}
	)

	// The pool's own Wait blocks until workers idle out, which is far longer than a frame, so a
	// WaitGroup is the per-frame barrier.
	for i, e := range entries {
		wg.Add(1)
		eCap := e
		pool.SubmitTask(worker.Task{
			ID: i,
			Do: func() (any, error) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						report(fmt.Errorf("scene: layer %d panicked in Prepare: %v", eCap.id, r))
					}
				}()
				if err := eCap.layer.Prepare(deltaTime); err != nil {
					report(fmt.Errorf("scene: layer %d: %w", eCap.id, err))
				}
				return nil, nil
			},
		})
	}
	wg.Wait()

	s.mu.Lock()
	s.lastPrepare = time.Since(start)
	s.mu.Unlock()
	return errors.Join(errs...)
}

func (s *scene) PrepareWorkers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prepareWorkers
}

func (s *scene) SetPrepareWorkers(n int) {
	n = max(n, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == s.prepareWorkers {
		return
	}
	s.prepareWorkers = n
	s.preparePool = newPreparePool(n)
}

func (s *scene) LastPrepare() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPrepare
}

func (s *scene) RecordInto(cb frame.CommandBuffer, slot, image int) error {
	for _, e := range s.snapshot() {
		if err := e.layer.Record(cb, slot, image); err != nil {
			return fmt.Errorf("scene: layer %d: %w", e.id, err)
		}
	}
	return nil
}

func (s *scene) RecordCompute(cb frame.CommandBuffer, slot int) error {
	for _, e := range s.snapshot() {
		cl, ok := e.layer.(ComputeLayer)
		if !ok {
			continue
		}
		if err := cl.RecordCompute(cb, slot); err != nil {
			return fmt.Errorf("scene: layer %d: %w", e.id, err)
		}
	}
	return nil
}
