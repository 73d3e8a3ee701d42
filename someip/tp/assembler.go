package tp

import (
	"github.com/quickcom/someip-ipc-core/logx"
	"github.com/quickcom/someip-ipc-core/someip"
)

// SegmentStatus is the outcome of feeding one segment to an Assembler,
// mapped by the reception controller to one of
// {segment-forwarded, tp-message-forwarded, message-dropped}.
type SegmentStatus int

const (
	// StatusAbsorbed means the segment was valid and stored; the message
	// is still in progress (maps to "segment-forwarded").
	StatusAbsorbed SegmentStatus = iota
	// StatusCompleted means the segment was valid, stored, and completed
	// the message (MF=0, continuity satisfied); a full SomeIpMessage is
	// available (maps to "tp-message-forwarded").
	StatusCompleted
	// StatusDropped means the segment was rejected (boundary overflow,
	// misalignment, or missing segments) or arrived for an
	// already-cancelled session (maps to "message-dropped"); the
	// assembler is (or remains) cancelled for this session.
	StatusDropped
)

// Assembler holds one flow's reassembly state: the session id currently
// being reassembled, the [beg, end) span of bytes absorbed so far, a
// sticky cancellation flag, and the owning reassembly buffer.
type Assembler struct {
	maxMessageSize int
	allocator      Allocator
	logger         logx.Logger

	haveSession  bool
	sessionID    uint16
	beg, end     uint32
	cancelled    bool
	locked       bool
	lockedHeader someip.SomeIpHeader
	buf          []byte
}

// NewAssembler creates an Assembler that reassembles into buffers of at
// most maxMessageSize bytes, obtained from allocator.
func NewAssembler(maxMessageSize int, allocator Allocator, logger logx.Logger) *Assembler {
	if logger == nil {
		logger = logx.NewDefaultLogger()
	}
	return &Assembler{maxMessageSize: maxMessageSize, allocator: allocator, logger: logger}
}

// SessionID returns the session id this assembler is currently
// reassembling, and whether any session has been observed yet.
func (a *Assembler) SessionID() (uint16, bool) { return a.sessionID, a.haveSession }

// Cancelled reports whether the current session has been cancelled.
func (a *Assembler) Cancelled() bool { return a.cancelled }

// update implements spec.md §4.3's session handling: a session id change
// discards partial state (clearing the cancel flag) and adopts the new
// session. Interleaving segments from different sessions is unsupported
// by construction -- this is the only place a session switch happens.
func (a *Assembler) update(header someip.SomeIpHeader) {
	if a.haveSession && header.SessionID == a.sessionID {
		return
	}

	a.sessionID = header.SessionID
	a.haveSession = true
	a.cancelled = false
	a.locked = false
	a.beg = 0
	a.end = 0

	if a.buf == nil {
		a.buf = a.allocator.Get(a.maxMessageSize)
	}
}

// Absorb feeds one TP segment (already parsed) to the assembler. If the
// segment completes the message, the returned *someip.SomeIpMessage is
// non-nil and ownership of its buffer transfers to the caller; the
// assembler resets itself for a new session on the next segment.
func (a *Assembler) Absorb(seg someip.TpSegment) (SegmentStatus, *someip.SomeIpMessage) {
	a.update(seg.Header)

	if a.cancelled {
		a.logger.Debug("dropping segment for cancelled session %#x", a.sessionID)
		return StatusDropped, nil
	}

	offset := seg.Tp.Offset
	size := uint32(len(seg.Payload))

	// Boundary check: payload must land entirely within the reassembly buffer.
	if uint64(someip.HeaderSize)+uint64(offset)+uint64(size) > uint64(a.maxMessageSize) {
		a.logger.Warn("tp assembler: segment overflows max message size (session %#x, offset %d, size %d)", a.sessionID, offset, size)
		a.cancel()
		return StatusDropped, nil
	}

	// Alignment check.
	if offset%alignment != 0 {
		a.logger.Warn("tp assembler: unaligned offset %d (session %#x)", offset, a.sessionID)
		a.cancel()
		return StatusDropped, nil
	}
	if seg.Tp.MF && size%alignment != 0 {
		a.logger.Warn("tp assembler: unaligned non-final segment length %d (session %#x)", size, a.sessionID)
		a.cancel()
		return StatusDropped, nil
	}

	// Continuity check.
	first := a.beg == a.end // no bytes absorbed yet this session
	touchesCurrent := offset <= a.end && offset+size >= a.beg
	if !first && !touchesCurrent {
		a.logger.Warn("tp assembler: non-continuous segment [%d,%d) vs current [%d,%d) (session %#x)", offset, offset+size, a.beg, a.end, a.sessionID)
		a.cancel()
		return StatusDropped, nil
	}
	if !seg.Tp.MF {
		startsAtZero := offset == 0 || (!first && a.beg == 0)
		if !startsAtZero {
			a.logger.Warn("tp assembler: final segment without a prefix starting at 0 (session %#x)", a.sessionID)
			a.cancel()
			return StatusDropped, nil
		}
	}

	if !a.locked {
		a.lockedHeader = seg.Header
		a.locked = true
	}

	// Absorption: overlapping writes overwrite prior bytes; last writer wins.
	copy(a.buf[someip.HeaderSize+offset:], seg.Payload)
	if first || offset < a.beg {
		a.beg = offset
	}
	if offset+size > a.end {
		a.end = offset + size
	}

	if !seg.Tp.MF {
		return StatusCompleted, a.finalize()
	}
	return StatusAbsorbed, nil
}

// finalize reconstructs the final SOME/IP header into the first 16 bytes
// of the reassembly buffer, shrinks it to the assembled length, and hands
// ownership to the caller. The assembler is left ready for a new session.
func (a *Assembler) finalize() *someip.SomeIpMessage {
	header := a.lockedHeader
	header.MessageType = someip.FromTP(header.MessageType)
	header.Length = uint32(someip.HeaderBytesComputedInLengthField) + a.end

	final := a.buf[:someip.HeaderSize+a.end]
	if err := someip.WriteSomeIpHeader(final, header, int(a.end)); err != nil {
		// Only reachable if a.end overflows a uint32 length field, which
		// cannot happen given maxMessageSize is itself a bounded int.
		a.logger.Error("tp assembler: failed to finalize header: %v", err)
	}

	msg, err := someip.ParseSomeIpMessage(final)
	if err != nil {
		a.logger.Error("tp assembler: failed to parse finalized message: %v", err)
		a.resetForNewSession()
		return nil
	}

	// msg aliases a.buf and ownership transfers to the caller here, so the
	// buffer must NOT go back through allocator.Put -- on the deterministic
	// allocator that would hand this same backing array out again on the
	// next Get, and the next assembly would overwrite a message the caller
	// still holds. Only detach it from the assembler's own state.
	a.detachSession()
	return msg
}

// cancel marks the current session as cancelled; every subsequent segment
// for the same session is dropped until a new session id appears.
func (a *Assembler) cancel() {
	a.cancelled = true
}

// resetForNewSession releases the reassembly buffer back to the
// allocator and clears session state, for paths where the buffer's
// contents are being discarded (not handed to a caller) -- e.g. a
// malformed finalize. Use detachSession instead wherever the buffer's
// ownership has already transferred elsewhere.
func (a *Assembler) resetForNewSession() {
	a.allocator.Put(a.buf)
	a.detachSession()
}

// detachSession clears session state without returning the buffer to
// the allocator, so the next Absorb call starts fresh while the
// just-yielded message keeps sole ownership of its backing array.
func (a *Assembler) detachSession() {
	a.buf = nil
	a.haveSession = false
	a.cancelled = false
	a.locked = false
	a.beg = 0
	a.end = 0
}
