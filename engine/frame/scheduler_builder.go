package frame

import "github.com/Carmen-Shannon/oxy-frame/common"

// SchedulerBuilderOption is a functional option for configuring a Scheduler.
type SchedulerBuilderOption func(s *scheduler)

// WithFramesInFlight sets how many frames the CPU may record ahead of the GPU.
//
// Parameters:
//   - n: the slot count, clamped to 1..MaxFramesInFlight (default 2)
//
// Returns:
//   - SchedulerBuilderOption: option function to apply
func WithFramesInFlight(n int) SchedulerBuilderOption {
	return func(s *scheduler) {
		s.framesInFlight = common.Clamp(n, 1, MaxFramesInFlight)
	}
}

// WithSyncStrategy selects fence or timeline reuse gates.
//
// Parameters:
//   - strategy: SyncFence (default) or SyncTimeline
//
// Returns:
//   - SchedulerBuilderOption: option function to apply
func WithSyncStrategy(strategy SyncStrategy) SchedulerBuilderOption {
	return func(s *scheduler) {
		s.strategy = strategy
	}
}

// WithComputeStage adds a compute submission before every graphics submission.
//
// Parameters:
//   - stage: the compute recorder and the buffers it hands to graphics
//
// Returns:
//   - SchedulerBuilderOption: option function to apply
func WithComputeStage(stage ComputeStage) SchedulerBuilderOption {
	return func(s *scheduler) {
		s.compute = &stage
	}
}

// WithSizeDependent registers render targets that are recreated after every surface rebuild.
//
// Parameters:
//   - deps: the targets, called in order
//
// Returns:
//   - SchedulerBuilderOption: option function to apply
func WithSizeDependent(deps ...SizeDependent) SchedulerBuilderOption {
	return func(s *scheduler) {
		s.dependents = append(s.dependents, deps...)
	}
}
