package frame

import "fmt"

// QueueKind identifies the role a hardware queue plays for the scheduler.
type QueueKind int

const (
	// QueueGraphics is the queue that records color output and presents.
	QueueGraphics QueueKind = iota

	// QueueCompute is the queue that runs compute work ahead of graphics.
	// Devices without a dedicated compute family return the graphics queue for this kind.
	QueueCompute
)

func (k QueueKind) String() string {
	switch k {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	default:
		return fmt.Sprintf("QueueKind(%d)", int(k))
	}
}

// QueueFamilyIgnored marks a barrier that does not transfer queue family ownership.
const QueueFamilyIgnored = ^uint32(0)

// PipelineStage is a bitmask of GPU pipeline stages used for waits and barriers.
type PipelineStage uint32

const (
	StageNone                  PipelineStage = 0
	StageTopOfPipe             PipelineStage = 1 << 0
	StageDrawIndirect          PipelineStage = 1 << 1
	StageVertexInput           PipelineStage = 1 << 2
	StageVertexShader          PipelineStage = 1 << 3
	StageFragmentShader        PipelineStage = 1 << 7
	StageColorAttachmentOutput PipelineStage = 1 << 10
	StageComputeShader         PipelineStage = 1 << 11
	StageTransfer              PipelineStage = 1 << 12
	StageBottomOfPipe          PipelineStage = 1 << 13
	StageHost                  PipelineStage = 1 << 14
)

// Access is a bitmask of memory access types used by barriers.
type Access uint32

const (
	AccessNone                  Access = 0
	AccessIndirectCommandRead   Access = 1 << 0
	AccessVertexAttributeRead   Access = 1 << 2
	AccessUniformRead           Access = 1 << 3
	AccessShaderRead            Access = 1 << 5
	AccessShaderWrite           Access = 1 << 6
	AccessColorAttachmentRead   Access = 1 << 7
	AccessColorAttachmentWrite  Access = 1 << 8
	AccessTransferRead          Access = 1 << 11
	AccessTransferWrite         Access = 1 << 12
	AccessHostRead              Access = 1 << 13
	AccessHostWrite             Access = 1 << 14
)

// ImageLayout is the state a presentable image is in during a frame.
type ImageLayout int

const (
	LayoutUndefined ImageLayout = iota
	LayoutColorAttachment
	LayoutPresentSrc
)

func (l ImageLayout) String() string {
	switch l {
	case LayoutUndefined:
		return "undefined"
	case LayoutColorAttachment:
		return "color-attachment"
	case LayoutPresentSrc:
		return "present-src"
	default:
		return fmt.Sprintf("ImageLayout(%d)", int(l))
	}
}

// Status is the outcome of an acquire or present call on a Surface.
// OutOfDate and Suboptimal are recoverable and are never reported as errors.
type Status int

const (
	// StatusOK means the operation succeeded and the surface matches the window.
	StatusOK Status = iota

	// StatusSuboptimal means the operation succeeded but the surface should be rebuilt soon.
	StatusSuboptimal

	// StatusOutOfDate means the surface can no longer be used until it is rebuilt.
	StatusOutOfDate
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSuboptimal:
		return "suboptimal"
	case StatusOutOfDate:
		return "out-of-date"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// SyncStrategy selects how a frame slot proves its previous submission has finished.
type SyncStrategy int

const (
	// SyncFence gives every slot its own CPU-waitable fence (BinaryGated slots).
	SyncFence SyncStrategy = iota

	// SyncTimeline arms every slot with a value on one shared timeline (TimelineGated slots).
	SyncTimeline
)

func (s SyncStrategy) String() string {
	switch s {
	case SyncFence:
		return "fence"
	case SyncTimeline:
		return "timeline"
	default:
		return fmt.Sprintf("SyncStrategy(%d)", int(s))
	}
}

// ParseSyncStrategy converts a config string into a SyncStrategy.
//
// Parameters:
//   - s: "fence" or "timeline"
//
// Returns:
//   - SyncStrategy: the parsed strategy
//   - error: an error if s names no known strategy
func ParseSyncStrategy(s string) (SyncStrategy, error) {
	switch s {
	case "", "fence", "binary":
		return SyncFence, nil
	case "timeline":
		return SyncTimeline, nil
	default:
		return SyncFence, fmt.Errorf("frame: unknown sync strategy %q", s)
	}
}
