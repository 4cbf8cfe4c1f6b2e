package frame

import "github.com/Carmen-Shannon/oxy-frame/common"

// SlotPoolBuilderOption is a functional option for configuring a SlotPool.
type SlotPoolBuilderOption func(p *slotPool)

// WithPoolFramesInFlight sets the number of frame slots, clamped to 1..MaxFramesInFlight.
//
// Parameters:
//   - n: the slot count (default 2)
//
// Returns:
//   - SlotPoolBuilderOption: option function to apply
func WithPoolFramesInFlight(n int) SlotPoolBuilderOption {
	return func(p *slotPool) {
		p.framesInFlight = common.Clamp(n, 1, MaxFramesInFlight)
	}
}

// WithPoolSyncStrategy selects fence (BinaryGated) or timeline (TimelineGated) slots.
//
// Parameters:
//   - s: the strategy (default SyncFence)
//
// Returns:
//   - SlotPoolBuilderOption: option function to apply
func WithPoolSyncStrategy(s SyncStrategy) SlotPoolBuilderOption {
	return func(p *slotPool) {
		p.strategy = s
	}
}

// WithComputeSlots gives every slot a compute command buffer and the semaphores used to
// order compute against graphics.
//
// Parameters:
//   - enabled: whether slots carry compute resources
//
// Returns:
//   - SlotPoolBuilderOption: option function to apply
func WithComputeSlots(enabled bool) SlotPoolBuilderOption {
	return func(p *slotPool) {
		p.computeSlots = enabled
	}
}
