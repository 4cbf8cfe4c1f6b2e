package frame

import "fmt"

// WholeSize covers a buffer from Offset to its end.
const WholeSize = ^uint64(0)

// TransferSide is one end of an ownership transfer: the queue that owns the buffer on that side
// and the pipeline stage and access it uses the buffer with.
type TransferSide struct {
	Queue  Queue
	Stage  PipelineStage
	Access Access
}

// OwnershipTransfer moves a buffer range from the Src queue to the Dst queue.
// Release is recorded on Src, Acquire on Dst; both barriers come from the same record so they
// always name the same buffer, range and families.
type OwnershipTransfer struct {
	Buffer Buffer
	Offset uint64
	Size   uint64
	Src    TransferSide
	Dst    TransferSide
}

// CrossFamily reports whether Src and Dst are different queue families.
func (t OwnershipTransfer) CrossFamily() bool {
	return t.Src.Queue.Family() != t.Dst.Queue.Family()
}

// Release records the producer half of the transfer into cb, which must belong to Src.
//
// Across families the barrier names both families and makes the producer's writes available;
// its destination scope is empty. Within one family it is a plain execution and memory barrier
// from the producer's stage to the consumer's stage.
//
// Parameters:
//   - cb: a command buffer recording on the Src queue
func (t OwnershipTransfer) Release(cb CommandBuffer) {
	if !t.CrossFamily() {
		cb.BufferBarrier(BufferBarrier{
			Buffer:    t.Buffer,
			Offset:    t.Offset,
			Size:      t.Size,
			SrcStage:  t.Src.Stage,
			DstStage:  t.Dst.Stage,
			SrcAccess: t.Src.Access,
			DstAccess: t.Dst.Access,
			SrcFamily: QueueFamilyIgnored,
			DstFamily: QueueFamilyIgnored,
		})
		return
	}
	cb.BufferBarrier(BufferBarrier{
		Buffer:    t.Buffer,
		Offset:    t.Offset,
		Size:      t.Size,
		SrcStage:  t.Src.Stage,
		DstStage:  StageBottomOfPipe,
		SrcAccess: t.Src.Access,
		DstAccess: AccessNone,
		SrcFamily: t.Src.Queue.Family(),
		DstFamily: t.Dst.Queue.Family(),
	})
}

// Acquire records the consumer half of the transfer into cb, which must belong to Dst.
// Within one family it records nothing; the release already ordered the access.
//
// Parameters:
//   - cb: a command buffer recording on the Dst queue
func (t OwnershipTransfer) Acquire(cb CommandBuffer) {
	if !t.CrossFamily() {
		return
	}
	cb.BufferBarrier(BufferBarrier{
		Buffer:    t.Buffer,
		Offset:    t.Offset,
		Size:      t.Size,
		SrcStage:  StageTopOfPipe,
		DstStage:  t.Dst.Stage,
		SrcAccess: AccessNone,
		DstAccess: t.Dst.Access,
		SrcFamily: t.Src.Queue.Family(),
		DstFamily: t.Dst.Queue.Family(),
	})
}

// Reverse returns the transfer that hands the buffer back from Dst to Src.
func (t OwnershipTransfer) Reverse() OwnershipTransfer {
	return OwnershipTransfer{
		Buffer: t.Buffer,
		Offset: t.Offset,
		Size:   t.Size,
		Src:    t.Dst,
		Dst:    t.Src,
	}
}

// SharedBuffer is a buffer written by the compute stage and read by graphics every frame.
// A zero Size means WholeSize.
type SharedBuffer struct {
	Buffer Buffer
	Offset uint64
	Size   uint64

	ComputeStage  PipelineStage
	ComputeAccess Access

	GraphicsStage  PipelineStage
	GraphicsAccess Access
}

// toGraphics builds the compute-to-graphics transfer for b.
func (b SharedBuffer) toGraphics(compute, graphics Queue) OwnershipTransfer {
	size := b.Size
	if size == 0 {
		size = WholeSize
	}
	return OwnershipTransfer{
		Buffer: b.Buffer,
		Offset: b.Offset,
		Size:   size,
		Src:    TransferSide{Queue: compute, Stage: b.ComputeStage, Access: b.ComputeAccess},
		Dst:    TransferSide{Queue: graphics, Stage: b.GraphicsStage, Access: b.GraphicsAccess},
	}
}

// ownershipLedger tracks which queue owns each shared buffer so that a release and its acquire
// can never drift apart. A buffer is either owned by a queue or in transit towards one.
type ownershipLedger struct {
	owner     map[Buffer]QueueKind
	inTransit map[Buffer]bool
}

func newOwnershipLedger(buffers []SharedBuffer, initial QueueKind) *ownershipLedger {
	l := &ownershipLedger{
		owner:     make(map[Buffer]QueueKind, len(buffers)),
		inTransit: make(map[Buffer]bool, len(buffers)),
	}
	for _, b := range buffers {
		l.owner[b.Buffer] = initial
	}
	return l
}

// owned reports whether kind currently owns buf and nothing is in transit.
func (l *ownershipLedger) owned(buf Buffer, kind QueueKind) bool {
	return !l.inTransit[buf] && l.owner[buf] == kind
}

// release records t.Release into cb after checking the src role owns the buffer.
// Roles are tracked separately from queue kinds because compute may share the graphics queue.
func (l *ownershipLedger) release(cb CommandBuffer, t OwnershipTransfer, src, dst QueueKind) {
	if l.inTransit[t.Buffer] || l.owner[t.Buffer] != src {
		panic(fmt.Sprintf("frame: %s released %s which it does not own (owner %s, in transit %v)",
			src, t.Buffer.Label(), l.owner[t.Buffer], l.inTransit[t.Buffer]))
	}
	t.Release(cb)
	l.owner[t.Buffer] = dst
	l.inTransit[t.Buffer] = true
}

// acquire records t.Acquire into cb after checking a matching release towards dst is outstanding.
func (l *ownershipLedger) acquire(cb CommandBuffer, t OwnershipTransfer, dst QueueKind) {
	if !l.inTransit[t.Buffer] || l.owner[t.Buffer] != dst {
		panic(fmt.Sprintf("frame: %s acquired %s without a matching release", dst, t.Buffer.Label()))
	}
	t.Acquire(cb)
	l.inTransit[t.Buffer] = false
}
