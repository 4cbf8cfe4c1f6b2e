package scene

// SceneBuilderOption is a functional option for configuring a Scene.
// Use the With* functions to create options.
type SceneBuilderOption func(s *scene)

// WithActive sets whether the scene is prepared and recorded (default true).
//
// Parameters:
//   - active: whether the scene is active
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithActive(active bool) SceneBuilderOption {
	return func(s *scene) {
		s.active = active
	}
}

// WithLayer adds an initial layer to the scene.
//
// Parameters:
//   - z: the ordering key (lower records first)
//   - layer: the layer to add
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithLayer(z int, layer Layer) SceneBuilderOption {
	return func(s *scene) {
		if layer == nil {
			panic("scene: WithLayer requires a non-nil Layer")
		}
		s.addLocked(z, layer)
	}
}

// WithPrepareWorkers sets the number of worker goroutines used by Prepare.
// Defaults to runtime.NumCPU()-1.
// Higher values help scenes with many expensive layers; lower values reduce scheduling
// overhead for simple scenes.
//
// Parameters:
//   - n: the number of workers (minimum 1)
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithPrepareWorkers(n int) SceneBuilderOption {
	return func(s *scene) {
		if n < 1 {
			n = 1
		}
		s.prepareWorkers = n
	}
}
