package scene

import (
	"errors"
	"sort"
	"sync"

	"github.com/Carmen-Shannon/oxy-frame/engine/frame"
)

// Stack composites several scenes into one frame. Scenes are keyed by z-index and recorded in
// ascending key order; only active scenes are prepared and recorded.
// Stack satisfies frame.Recorder and frame.ComputeRecorder. Thread-safe for concurrent access.
type Stack struct {
	mu     sync.RWMutex
	scenes map[int]Scene

	// prepareWorkers is applied to every scene when positive.
	prepareWorkers int
}

var (
	_ frame.Recorder        = &Stack{}
	_ frame.ComputeRecorder = &Stack{}
)

// NewStack creates an empty Stack.
func NewStack() *Stack {
	return &Stack{scenes: make(map[int]Scene)}
}

// Set registers s at key, replacing any scene already there.
func (st *Stack) Set(key int, s Scene) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.prepareWorkers > 0 {
		s.SetPrepareWorkers(st.prepareWorkers)
	}
	st.scenes[key] = s
}

// SetPrepareWorkers sizes the Prepare pool of every registered scene, and of every scene Set
// afterwards, to n workers. 0 leaves each scene with the worker count it was built with.
func (st *Stack) SetPrepareWorkers(n int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.prepareWorkers = max(n, 0)
	if st.prepareWorkers == 0 {
		return
	}
	for _, s := range st.scenes {
		s.SetPrepareWorkers(st.prepareWorkers)
	}
}

// Remove removes the scene at key.
func (st *Stack) Remove(key int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.scenes, key)
}

// Get returns the scene at key, or nil.
func (st *Stack) Get(key int) Scene {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.scenes[key]
}

// All returns a copy of the registered scenes keyed by z-index.
func (st *Stack) All() map[int]Scene {
	st.mu.RLock()
	defer st.mu.RUnlock()
	cp := make(map[int]Scene, len(st.scenes))
	for k, v := range st.scenes {
		cp[k] = v
	}
	return cp
}

// Active returns the active scenes in ascending key order.
func (st *Stack) Active() []Scene {
	st.mu.RLock()
	defer st.mu.RUnlock()
	keys := make([]int, 0, len(st.scenes))
	for k := range st.scenes {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var out []Scene
	for _, k := range keys {
		if s := st.scenes[k]; s.Active() {
			out = append(out, s)
		}
	}
	return out
}

// HasCompute reports whether any registered scene records compute work.
func (st *Stack) HasCompute() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, s := range st.scenes {
		if s.HasCompute() {
			return true
		}
	}
	return false
}

// Prepare prepares every active scene. Each scene prepares its own layers in parallel; scenes
// are prepared one after another so their pools do not compete.
//
// Parameters:
//   - deltaTime: elapsed time since the previous frame in seconds
//
// Returns:
//   - error: the joined errors of every failing scene
func (st *Stack) Prepare(deltaTime float32) error {
	var errs []error
	for _, s := range st.Active() {
		if err := s.Prepare(deltaTime); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordInto records every active scene into cb in key order.
func (st *Stack) RecordInto(cb frame.CommandBuffer, slot, image int) error {
	for _, s := range st.Active() {
		if err := s.RecordInto(cb, slot, image); err != nil {
			return err
		}
	}
	return nil
}

// RecordCompute records the compute work of every active scene into cb in key order.
func (st *Stack) RecordCompute(cb frame.CommandBuffer, slot int) error {
	for _, s := range st.Active() {
		if err := s.RecordCompute(cb, slot); err != nil {
			return err
		}
	}
	return nil
}
