package tp

import (
	"math"
	"sync"
	"time"

	"github.com/quickcom/someip-ipc-core/errs"
	"github.com/quickcom/someip-ipc-core/logx"
	"github.com/quickcom/someip-ipc-core/someip"
)

// someipTpHeaderBytesComputedInLengthField is the SOME/IP header overhead
// subtracted from max_segment_length to derive the maximum segment
// payload: the 1400/1392 convention of spec.md §3 is
// kMaxTpSegmentLength - kSomeipHeaderBytesComputedInLengthField. The TP
// header's own 4 bytes are not subtracted, so the length field that
// buildSegments writes for a full segment is 8 + 4 + payload, i.e. up to
// maxSegmentLength + 4.
const someipTpHeaderBytesComputedInLengthField = someipHeaderBytesComputedInLengthField

// WireSegment is one TP segment as a pair of IO buffers: the 20-byte
// SOME/IP+TP header, and a view over the segment's payload slice (no
// copy -- the payload aliases the original message body).
type WireSegment struct {
	Header  [someip.HeaderSize + someip.TpHeaderSize]byte
	Payload []byte
}

// SendFunc emits a burst of segments and reports whether the send
// succeeded; a false return stops the segmenter and abandons the message.
type SendFunc func(segments []WireSegment) bool

// Timer drives periodic burst emission. Start begins invoking fn every
// period until Stop is called; Stop is idempotent. Platform timer
// implementations are out of scope for this core (see reactor package for
// a reference implementation); Segmenter only consumes this interface.
type Timer interface {
	Start(period time.Duration, fn func())
	Stop()
}

// EffectiveSegmentLength computes the per-segment payload size (rounded
// down to a multiple of 16) implied by maxSegmentLength, the maximum
// segment length as encoded in the length field.
func EffectiveSegmentLength(maxSegmentLength int) int {
	raw := maxSegmentLength - someipTpHeaderBytesComputedInLengthField
	if raw < 0 {
		return 0
	}
	return raw &^ (alignment - 1)
}

// Segmenter splits one oversize SOME/IP message into TP segments and
// drives their emission through a caller-supplied send callback with
// configurable pacing. One Segmenter instance handles one flow's
// in-flight segmentation at a time; a fresh Segment call while a message
// is in flight replaces it (spec.md §4.2: "logs a warning and replaces
// the in-flight state").
type Segmenter struct {
	logger logx.Logger

	mu      sync.Mutex
	pending []WireSegment
	send    SendFunc
	timer   Timer
}

// NewSegmenter creates a Segmenter.
func NewSegmenter(logger logx.Logger) *Segmenter {
	if logger == nil {
		logger = logx.NewDefaultLogger()
	}
	return &Segmenter{logger: logger}
}

// Segment splits msg into TP segments and emits them via send, paced
// according to separationTime and burstSize. timer is used only when
// separationTime > 0 and more than one burst is needed; it may be nil
// otherwise.
func (s *Segmenter) Segment(msg *someip.SomeIpMessage, separationTime time.Duration, maxSegmentLength, burstSize int, send SendFunc, timer Timer) error {
	if burstSize < 1 {
		burstSize = 1
	}

	if maxSegmentLength < MinTpSegmentLength || maxSegmentLength > MaxTpSegmentLength {
		return errs.New(errs.CodeLogicFault, uint32(maxSegmentLength), "max_segment_length out of bounds")
	}
	effective := EffectiveSegmentLength(maxSegmentLength)
	if effective <= 0 {
		return errs.New(errs.CodeLogicFault, uint32(maxSegmentLength), "max_segment_length too small to carry a payload")
	}
	if msg.BodySize() <= effective {
		return errs.New(errs.CodeLogicFault, uint32(msg.BodySize()), "message body fits in a single segment, segmentation not required")
	}

	segments := buildSegments(msg, effective)

	s.mu.Lock()
	if len(s.pending) > 0 {
		s.logger.Warn("tp segmenter: replacing in-flight segmentation with %d new segments", len(segments))
		s.stopLocked()
	}
	s.pending = segments
	s.send = send
	s.mu.Unlock()

	if separationTime == 0 {
		ok := send(segments)
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
		if !ok {
			s.logger.Error("tp segmenter: send callback failed, message abandoned")
			return errs.Wrap(errs.CodeRuntimeFault, 0, errs.ErrSendFailed)
		}
		return nil
	}

	period := separationTime
	effectiveBurst := burstSize
	if separationTime < minTimerPeriod {
		effectiveBurst = int(math.Ceil(float64(burstSize) * float64(minTimerPeriod) / float64(separationTime)))
		if effectiveBurst < burstSize {
			effectiveBurst = burstSize
		}
		period = minTimerPeriod
	}

	if !s.emitNextBurst(effectiveBurst) {
		return errs.Wrap(errs.CodeRuntimeFault, 0, errs.ErrSendFailed)
	}

	s.mu.Lock()
	done := len(s.pending) == 0
	s.mu.Unlock()
	if done {
		return nil
	}

	s.mu.Lock()
	s.timer = timer
	s.mu.Unlock()
	timer.Start(period, func() { s.emitNextBurst(effectiveBurst) })
	return nil
}

// emitNextBurst sends up to n of the remaining pending segments. It
// returns false if the send callback failed (in which case state has
// already been cleared and the timer stopped).
func (s *Segmenter) emitNextBurst(n int) bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return true
	}
	if n > len(s.pending) {
		n = len(s.pending)
	}
	burst := s.pending[:n]
	remaining := s.pending[n:]
	send := s.send
	s.mu.Unlock()

	if !send(burst) {
		s.logger.Error("tp segmenter: send callback failed mid-stream, message abandoned")
		s.mu.Lock()
		s.pending = nil
		s.stopLocked()
		s.mu.Unlock()
		return false
	}

	s.mu.Lock()
	s.pending = remaining
	finished := len(s.pending) == 0
	if finished {
		s.stopLocked()
	}
	s.mu.Unlock()
	return true
}

// stopLocked stops and clears the active timer. Caller must hold s.mu.
func (s *Segmenter) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// buildSegments walks msg's body in steps of effective bytes, producing
// one WireSegment per step with the TP message type and a length field
// recomputed per segment, per spec.md §4.2 step 2.
func buildSegments(msg *someip.SomeIpMessage, effective int) []WireSegment {
	body := msg.Body()
	tpType := someip.ToTP(msg.Header.MessageType)

	var segments []WireSegment
	for off := 0; off < len(body); off += effective {
		end := off + effective
		more := true
		if end >= len(body) {
			end = len(body)
			more = false
		}
		payload := body[off:end]

		header := msg.Header
		header.MessageType = tpType

		var seg WireSegment
		_ = someip.WriteSomeIpHeader(seg.Header[:someip.HeaderSize], header, tpHeaderBytes+len(payload))
		_ = someip.WriteTpHeader(seg.Header[someip.HeaderSize:], uint32(off), more)
		seg.Payload = payload
		segments = append(segments, seg)
	}
	return segments
}
