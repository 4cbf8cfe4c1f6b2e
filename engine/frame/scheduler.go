package frame

import (
	"context"
	"fmt"
	"time"

	"github.com/Carmen-Shannon/oxy-frame/common"
)

// ComputeStage is per-frame compute work whose output graphics reads in the same frame.
// Every SharedBuffer makes the round trip compute -> graphics -> compute each frame.
type ComputeStage struct {
	Recorder      ComputeRecorder
	SharedBuffers []SharedBuffer
}

// FrameResult describes one RunFrame cycle.
type FrameResult struct {
	// Frame is the number of frames submitted before this cycle.
	Frame uint64

	// Slot and Image are -1 when the cycle ended before they were known.
	Slot  int
	Image int

	// Skipped is true when nothing was submitted this cycle.
	Skipped bool

	// Suboptimal is true when acquire or present asked for a rebuild that the next cycle performs.
	Suboptimal bool

	// Rebuilt is true when the surface and slots were recreated during this cycle.
	Rebuilt bool

	// Wait is the CPU time spent blocked on the slot's reuse gate.
	Wait time.Duration

	// Record is the CPU time spent recording and submitting.
	Record time.Duration
}

// scheduler is the implementation of the Scheduler interface.
type scheduler struct {
	device   Device
	surface  Surface
	recorder Recorder

	framesInFlight int
	strategy       SyncStrategy
	compute        *ComputeStage
	dependents     []SizeDependent

	pool    *slotPool
	handler *resizeHandler

	graphicsQueue Queue
	computeQueue  Queue

	ledger    *ownershipLedger
	transfers []OwnershipTransfer

	frame uint64

	// graphicsDone of the last submitted frame, waited by the next compute submit (fence strategy).
	pendingGraphicsDone Semaphore
	// lastGraphicsValue is the timeline value of the last graphics submit (timeline strategy).
	lastGraphicsValue uint64

	closed bool
}

// Scheduler drives one frame per RunFrame call: reuse wait, image acquire, recording,
// submission and present, with resize handling folded into the cycle.
// All methods except OnSurfaceSizeChanged and SetFramesInFlight must be called from one goroutine.
type Scheduler interface {
	// RunFrame runs exactly one frame cycle.
	//
	// Parameters:
	//   - ctx: bounds every blocking wait of the cycle
	//
	// Returns:
	//   - FrameResult: what the cycle did
	//   - error: ctx.Err() on cancellation, or a *DeviceError after which the scheduler is unusable
	RunFrame(ctx context.Context) (FrameResult, error)

	// Close waits for all in-flight work and destroys every slot.
	//
	// Parameters:
	//   - ctx: bounds the drain
	//
	// Returns:
	//   - error: an error if the drain failed; the slots are destroyed regardless
	Close(ctx context.Context) error

	// FrameCount returns the number of frames submitted so far.
	FrameCount() uint64

	// State returns the resize handler's phase.
	State() ResizeState

	// Pool returns the slot pool.
	Pool() SlotPool

	// Handler returns the resize handler.
	Handler() ResizeHandler

	// OnSurfaceSizeChanged forwards a window size notification to the resize handler.
	// Safe to call from any goroutine.
	OnSurfaceSizeChanged(width, height int)

	// SetFramesInFlight changes the slot count. The change is applied by a rebuild at the start
	// of the next cycle. Safe to call from any goroutine.
	SetFramesInFlight(n int)
}

var _ Scheduler = &scheduler{}

// NewScheduler creates a scheduler with its slot pool and resize handler.
// The initial slot count is capped by the surface's image count.
//
// Parameters:
//   - device: the device submissions are made on
//   - surface: the presentation surface
//   - recorder: records each frame's content into the graphics command buffer
//   - options: functional options to configure the scheduler
//
// Returns:
//   - Scheduler: the ready scheduler
//   - error: ErrTimelineUnsupported or any resource creation error
func NewScheduler(device Device, surface Surface, recorder Recorder, options ...SchedulerBuilderOption) (Scheduler, error) {
	s := &scheduler{
		device:         device,
		surface:        surface,
		recorder:       recorder,
		framesInFlight: DefaultFramesInFlight,
		strategy:       SyncFence,
	}
	for _, opt := range options {
		opt(s)
	}

	p, err := NewSlotPool(device,
		WithPoolFramesInFlight(s.framesInFlight),
		WithPoolSyncStrategy(s.strategy),
		WithComputeSlots(s.compute != nil),
	)
	if err != nil {
		return nil, err
	}
	s.pool = p.(*slotPool)

	if n := surface.ImageCount(); n > 0 && n < s.pool.Len() {
		if err := s.pool.Rebuild(n); err != nil {
			s.pool.Destroy()
			return nil, err
		}
	}

	s.graphicsQueue = device.Queue(QueueGraphics)
	if s.compute != nil {
		s.computeQueue = device.Queue(QueueCompute)
		s.transfers = make([]OwnershipTransfer, 0, len(s.compute.SharedBuffers))
		for _, b := range s.compute.SharedBuffers {
			s.transfers = append(s.transfers, b.toGraphics(s.computeQueue, s.graphicsQueue))
		}
		s.ledger = newOwnershipLedger(s.compute.SharedBuffers, QueueCompute)
	}

	s.handler = NewResizeHandler(s.pool, surface, s.dependents...).(*resizeHandler)

	slogger().Info("frame: scheduler ready",
		"slots", s.pool.Len(), "images", surface.ImageCount(), "strategy", s.strategy.String(),
		"compute", s.compute != nil, "crossFamily", s.compute != nil && s.computeQueue.Family() != s.graphicsQueue.Family())
	return s, nil
}

func (s *scheduler) RunFrame(ctx context.Context) (FrameResult, error) {
	if s.closed {
		panic("frame: RunFrame called on a closed scheduler")
	}
	res := FrameResult{Frame: s.frame, Slot: -1, Image: -1}

	if s.handler.Pending() {
		rebuilt, err := s.processResize(ctx)
		if err != nil {
			return res, err
		}
		res.Rebuilt = rebuilt
		if s.handler.State() != StateStable {
			res.Skipped = true
			return res, nil
		}
	}

	slot := s.pool.AcquireSlot()
	res.Slot = slot.index

	waitStart := time.Now()
	if err := s.pool.WaitUntilReusable(ctx, slot); err != nil {
		return res, err
	}
	res.Wait = time.Since(waitStart)

	image, status, err := s.surface.AcquireNextImage(ctx, slot.acquireComplete)
	if err != nil {
		return res, fatal("acquire image", err)
	}
	if status == StatusOutOfDate {
		slogger().Debug("frame: image acquire out of date, skipping cycle", "frame", s.frame, "slot", slot.index)
		s.handler.Invalidate()
		rebuilt, err := s.processResize(ctx)
		res.Skipped = true
		res.Rebuilt = res.Rebuilt || rebuilt
		return res, err
	}
	res.Image = image
	res.Suboptimal = status == StatusSuboptimal

	recordStart := time.Now()
	if err := slot.gate.prepare(); err != nil {
		return res, fatal("reset slot gate", err)
	}

	var computeWait *SemaphoreWait
	if s.compute != nil {
		w, err := s.submitCompute(slot)
		if err != nil {
			return res, err
		}
		computeWait = &w
	}

	if err := s.submitGraphics(slot, image, computeWait); err != nil {
		return res, err
	}
	res.Record = time.Since(recordStart)

	presentStatus, err := s.surface.Present(image, slot.renderComplete)
	if err != nil {
		return res, fatal("present", err)
	}
	if presentStatus != StatusOK || res.Suboptimal {
		slogger().Debug("frame: surface needs rebuild after present", "frame", res.Frame, "acquire", status.String(), "present", presentStatus.String())
		res.Suboptimal = true
		s.handler.Invalidate()
	}
	return res, nil
}

// submitCompute records and submits the slot's compute buffer and returns the wait graphics
// must add so that it reads the compute output.
func (s *scheduler) submitCompute(slot *Slot) (SemaphoreWait, error) {
	cb := slot.computeBuffer
	slot.mustBeReusable()
	if err := cb.Begin(); err != nil {
		return SemaphoreWait{}, fatal("begin compute", err)
	}
	for _, t := range s.transfers {
		// Compute starts out owning every buffer, so the very first frame has nothing to acquire.
		if !s.ledger.owned(t.Buffer, QueueCompute) {
			s.ledger.acquire(cb, t.Reverse(), QueueCompute)
		}
	}
	if err := s.compute.Recorder.RecordCompute(cb, slot.index); err != nil {
		return SemaphoreWait{}, fatal(fmt.Sprintf("record compute slot %d", slot.index), err)
	}
	for _, t := range s.transfers {
		s.ledger.release(cb, t, QueueCompute, QueueGraphics)
	}
	if err := cb.End(); err != nil {
		return SemaphoreWait{}, fatal("end compute", err)
	}

	sub := Submission{CommandBuffers: []CommandBuffer{cb}}
	var wait SemaphoreWait
	var value uint64
	switch s.strategy {
	case SyncTimeline:
		if s.lastGraphicsValue > 0 {
			sub.Waits = append(sub.Waits, SemaphoreWait{Semaphore: s.pool.timeline, Value: s.lastGraphicsValue, Stage: StageComputeShader})
		}
		value = s.pool.nextTimelineValue()
		sub.Signals = append(sub.Signals, SemaphoreSignal{Semaphore: s.pool.timeline, Value: value})
		wait = SemaphoreWait{Semaphore: s.pool.timeline, Value: value, Stage: StageVertexInput}
	default:
		if s.pendingGraphicsDone != nil {
			sub.Waits = append(sub.Waits, SemaphoreWait{Semaphore: s.pendingGraphicsDone, Stage: StageComputeShader})
			s.pendingGraphicsDone = nil
		}
		sub.Signals = append(sub.Signals, SemaphoreSignal{Semaphore: slot.computeDone})
		wait = SemaphoreWait{Semaphore: slot.computeDone, Stage: StageVertexInput}
	}

	if err := s.computeQueue.Submit(sub); err != nil {
		return SemaphoreWait{}, fatal("submit compute", err)
	}
	if value > 0 {
		s.pool.promise(value)
	}
	return wait, nil
}

// submitGraphics records the slot's graphics buffer around the recorder and submits it, arming
// the slot's reuse gate.
func (s *scheduler) submitGraphics(slot *Slot, image int, computeWait *SemaphoreWait) error {
	cb := slot.commandBuffer
	slot.mustBeReusable()
	if err := cb.Begin(); err != nil {
		return fatal("begin frame", err)
	}
	cb.ImageBarrier(ImageBarrier{
		Image:     image,
		OldLayout: LayoutUndefined,
		NewLayout: LayoutColorAttachment,
		SrcStage:  StageColorAttachmentOutput,
		DstStage:  StageColorAttachmentOutput,
		SrcAccess: AccessNone,
		DstAccess: AccessColorAttachmentWrite,
	})
	for _, t := range s.transfers {
		s.ledger.acquire(cb, t, QueueGraphics)
	}
	if err := s.recorder.RecordInto(cb, slot.index, image); err != nil {
		return fatal(fmt.Sprintf("record slot %d", slot.index), err)
	}
	for _, t := range s.transfers {
		s.ledger.release(cb, t.Reverse(), QueueGraphics, QueueCompute)
	}
	cb.ImageBarrier(ImageBarrier{
		Image:     image,
		OldLayout: LayoutColorAttachment,
		NewLayout: LayoutPresentSrc,
		SrcStage:  StageColorAttachmentOutput,
		DstStage:  StageBottomOfPipe,
		SrcAccess: AccessColorAttachmentWrite,
		DstAccess: AccessNone,
	})
	if err := cb.End(); err != nil {
		return fatal("end frame", err)
	}

	sub := Submission{
		CommandBuffers: []CommandBuffer{cb},
		Waits:          []SemaphoreWait{{Semaphore: slot.acquireComplete, Stage: StageColorAttachmentOutput}},
		Signals:        []SemaphoreSignal{{Semaphore: slot.renderComplete}},
	}
	if computeWait != nil {
		sub.Waits = append(sub.Waits, *computeWait)
		if s.strategy == SyncFence {
			sub.Signals = append(sub.Signals, SemaphoreSignal{Semaphore: slot.graphicsDone})
		}
	}

	value := s.frame + 1
	if s.strategy == SyncTimeline {
		value = s.pool.nextTimelineValue()
	}
	slot.gate.arm(&sub, value)

	if err := s.graphicsQueue.Submit(sub); err != nil {
		return fatal("submit frame", err)
	}
	slot.pending = true
	s.frame++

	if s.strategy == SyncTimeline {
		s.pool.promise(value)
		s.lastGraphicsValue = value
	} else if computeWait != nil {
		s.pendingGraphicsDone = slot.graphicsDone
	}
	return nil
}

// processResize runs the resize handler and forgets cross-queue waits whose semaphores the
// rebuild destroyed.
func (s *scheduler) processResize(ctx context.Context) (bool, error) {
	rebuilt, err := s.handler.Process(ctx)
	if rebuilt {
		s.pendingGraphicsDone = nil
	}
	return rebuilt, err
}

func (s *scheduler) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.pool.Drain(ctx)
	if err == nil {
		err = s.device.WaitIdle(ctx)
	}
	s.pool.Destroy()
	slogger().Info("frame: scheduler closed", "frames", s.frame)
	return err
}

func (s *scheduler) FrameCount() uint64 {
	return s.frame
}

func (s *scheduler) State() ResizeState {
	return s.handler.State()
}

func (s *scheduler) Pool() SlotPool {
	return s.pool
}

func (s *scheduler) Handler() ResizeHandler {
	return s.handler
}

func (s *scheduler) OnSurfaceSizeChanged(width, height int) {
	s.handler.OnSurfaceSizeChanged(width, height)
}

func (s *scheduler) SetFramesInFlight(n int) {
	s.handler.requestFramesInFlight(common.Clamp(n, 1, MaxFramesInFlight))
}
