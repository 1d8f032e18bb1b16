package lowertransport

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/logging"

	"github.com/btmesh/btmesh/pkg/mesh"
)

// DefaultIncompleteTimeout is the minimum incomplete-message timer of
// Section 3.5.3.3: a reassembly that makes no progress for this long is
// abandoned.
const DefaultIncompleteTimeout = 10 * time.Second

// ReassemblerConfig configures a Reassembler.
type ReassemblerConfig struct {
	// IncompleteTimeout overrides DefaultIncompleteTimeout when positive.
	IncompleteTimeout time.Duration

	// Clock drives the incomplete-message timers. Nil selects the real
	// clock; tests inject a mock.
	Clock clock.Clock

	// OnAbandoned, when set, is called (without locks held) after an
	// incomplete reassembly times out.
	OnAbandoned func(src mesh.UnicastAddress, seqZero mesh.SeqZero)

	// LoggerFactory creates the reassembler logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Reassembler reconstructs segmented access and control messages. It keeps
// one context per source: segments for a newer SeqZero from the same source
// replace the old context, and segments for an abandoned or older SeqZero
// are dropped.
type Reassembler struct {
	mu       sync.Mutex
	clock    clock.Clock
	timeout  time.Duration
	onAband  func(mesh.UnicastAddress, mesh.SeqZero)
	log      logging.LeveledLogger
	contexts map[mesh.UnicastAddress]*reassemblyContext
}

type reassemblyContext struct {
	seqZero mesh.SeqZero
	segN    uint8
	control bool

	// Access message metadata.
	akf   bool
	aid   mesh.AID
	szmic bool

	// Control message metadata.
	opcode ControlOpcode

	segments  [][]byte
	blockAck  BlockAck
	done      bool
	abandoned bool
	ackResent bool
	timer     *clock.Timer
}

// AssembledAccess is a fully reassembled segmented access message, ready
// for Upper Transport decryption.
type AssembledAccess struct {
	Src     mesh.UnicastAddress
	SeqZero mesh.SeqZero
	AKF     bool
	AID     mesh.AID
	SZMIC   bool

	// UpperPDU is the reassembled encrypted Upper Transport PDU.
	UpperPDU []byte
}

// AssembledControl is a fully reassembled segmented control message.
type AssembledControl struct {
	Src        mesh.UnicastAddress
	SeqZero    mesh.SeqZero
	Opcode     ControlOpcode
	Parameters []byte
}

// NewReassembler creates a reassembler.
func NewReassembler(config ReassemblerConfig) *Reassembler {
	r := &Reassembler{
		clock:    config.Clock,
		timeout:  config.IncompleteTimeout,
		onAband:  config.OnAbandoned,
		contexts: make(map[mesh.UnicastAddress]*reassemblyContext),
	}
	if r.clock == nil {
		r.clock = clock.New()
	}
	if r.timeout <= 0 {
		r.timeout = DefaultIncompleteTimeout
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("reassembler")
	}
	return r
}

// ReceiveAccess feeds one access segment into the reassembler.
//
// It returns the assembled message once the final missing segment arrives,
// and the Segment Acknowledgment to send back when the destination was a
// unicast address. Dropped segments are reported through the error:
// ErrStaleSegment for abandoned or outdated SeqZero values,
// ErrDuplicateSegment for repeats, ErrSegmentMismatch for segments that
// contradict the context they claim to belong to.
func (r *Reassembler) ReceiveAccess(src mesh.UnicastAddress, seg *SegmentedAccess) (*AssembledAccess, *SegmentAck, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, ack, err := r.receive(src, seg.SeqZero, seg.SegO, seg.SegN, false, seg.Segment, func() *reassemblyContext {
		return &reassemblyContext{
			seqZero: seg.SeqZero,
			segN:    seg.SegN,
			akf:     seg.AKF,
			aid:     seg.AID,
			szmic:   seg.SZMIC,
		}
	})
	if err != nil || ctx == nil {
		return nil, ack, err
	}
	if ctx.akf != seg.AKF || ctx.aid != seg.AID || ctx.szmic != seg.SZMIC {
		return nil, nil, ErrSegmentMismatch
	}
	if done := r.store(src, ctx, seg.SegO, seg.Segment); done {
		return &AssembledAccess{
			Src:      src,
			SeqZero:  ctx.seqZero,
			AKF:      ctx.akf,
			AID:      ctx.aid,
			SZMIC:    ctx.szmic,
			UpperPDU: join(ctx.segments),
		}, r.ackFor(ctx), nil
	}
	return nil, r.ackFor(ctx), nil
}

// ReceiveControl feeds one control segment into the reassembler. Semantics
// match ReceiveAccess.
func (r *Reassembler) ReceiveControl(src mesh.UnicastAddress, seg *SegmentedControl) (*AssembledControl, *SegmentAck, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, ack, err := r.receive(src, seg.SeqZero, seg.SegO, seg.SegN, true, seg.Segment, func() *reassemblyContext {
		return &reassemblyContext{
			seqZero: seg.SeqZero,
			segN:    seg.SegN,
			control: true,
			opcode:  seg.Opcode,
		}
	})
	if err != nil || ctx == nil {
		return nil, ack, err
	}
	if ctx.opcode != seg.Opcode {
		return nil, nil, ErrSegmentMismatch
	}
	if done := r.store(src, ctx, seg.SegO, seg.Segment); done {
		return &AssembledControl{
			Src:        src,
			SeqZero:    ctx.seqZero,
			Opcode:     ctx.opcode,
			Parameters: join(ctx.segments),
		}, r.ackFor(ctx), nil
	}
	return nil, r.ackFor(ctx), nil
}

// receive resolves the context a segment belongs to, creating or replacing
// contexts as the SeqZero ordering dictates. A nil context with a non-nil
// ack means "drop the segment but re-send this acknowledgment".
func (r *Reassembler) receive(src mesh.UnicastAddress, seqZero mesh.SeqZero, segO, segN uint8, control bool, segment []byte, fresh func() *reassemblyContext) (*reassemblyContext, *SegmentAck, error) {
	if segN > SegMax || segO > segN || len(segment) == 0 {
		return nil, nil, ErrInvalidSegmentIdx
	}

	ctx, ok := r.contexts[src]
	if ok && ctx.seqZero == seqZero {
		if ctx.abandoned {
			return nil, nil, ErrStaleSegment
		}
		if ctx.done {
			// The sender missed our final acknowledgment; repeat
			// it once so the retransmissions stop.
			if ctx.ackResent {
				return nil, nil, ErrMessageComplete
			}
			ctx.ackResent = true
			return nil, r.ackFor(ctx), ErrMessageComplete
		}
		if ctx.control != control || ctx.segN != segN {
			return nil, nil, ErrSegmentMismatch
		}
		if ctx.blockAck.Acked(segO) {
			return nil, nil, ErrDuplicateSegment
		}
		return ctx, nil, nil
	}

	if ok {
		// SeqZero values wrap at 13 bits; treat the half-space ahead
		// of the current value as newer.
		if (seqZero-ctx.seqZero)&mesh.SeqZeroMax >= 0x1000 {
			return nil, nil, ErrStaleSegment
		}
		r.dropContext(src, ctx)
	}

	ctx = fresh()
	ctx.segments = make([][]byte, segN+1)
	r.contexts[src] = ctx
	r.startTimer(src, ctx)
	if r.log != nil {
		r.log.Debugf("new reassembly from %#x, seqzero %#x, %d segments", src, seqZero, segN+1)
	}
	return ctx, nil, nil
}

// store records a segment and reports whether the message is now complete.
func (r *Reassembler) store(src mesh.UnicastAddress, ctx *reassemblyContext, segO uint8, segment []byte) bool {
	ctx.segments[segO] = segment
	ctx.blockAck = ctx.blockAck.WithAcked(segO)
	if !ctx.blockAck.AllAcked(ctx.segN) {
		return false
	}
	ctx.done = true
	r.dropTimer(ctx)
	if r.log != nil {
		r.log.Debugf("reassembly from %#x complete, seqzero %#x", src, ctx.seqZero)
	}
	return true
}

func (r *Reassembler) ackFor(ctx *reassemblyContext) *SegmentAck {
	return &SegmentAck{SeqZero: ctx.seqZero, BlockAck: ctx.blockAck}
}

func (r *Reassembler) startTimer(src mesh.UnicastAddress, ctx *reassemblyContext) {
	ctx.timer = r.clock.AfterFunc(r.timeout, func() {
		r.abandon(src, ctx)
	})
}

func (r *Reassembler) abandon(src mesh.UnicastAddress, ctx *reassemblyContext) {
	r.mu.Lock()
	if r.contexts[src] != ctx || ctx.done {
		r.mu.Unlock()
		return
	}
	ctx.abandoned = true
	ctx.segments = nil
	seqZero := ctx.seqZero
	r.mu.Unlock()

	if r.log != nil {
		r.log.Infof("reassembly from %#x abandoned, seqzero %#x", src, seqZero)
	}
	if r.onAband != nil {
		r.onAband(src, seqZero)
	}
}

func (r *Reassembler) dropContext(src mesh.UnicastAddress, ctx *reassemblyContext) {
	r.dropTimer(ctx)
	delete(r.contexts, src)
}

func (r *Reassembler) dropTimer(ctx *reassemblyContext) {
	if ctx.timer != nil {
		ctx.timer.Stop()
		ctx.timer = nil
	}
}

func join(segments [][]byte) []byte {
	var n int
	for _, s := range segments {
		n += len(s)
	}
	out := make([]byte, 0, n)
	for _, s := range segments {
		out = append(out, s...)
	}
	return out
}
