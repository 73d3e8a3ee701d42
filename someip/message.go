package someip

import (
	"time"

	"github.com/quickcom/someip-ipc-core/errs"
)

// SomeIpMessage owns a byte buffer together with its parsed header and
// optional metadata. It is only ever constructed through
// ParseSomeIpMessage or NewSomeIpMessage, both of which enforce
// buffer.size >= 16 + header.Length - 8.
type SomeIpMessage struct {
	buf    []byte
	Header SomeIpHeader

	// RxTimestamp is set by the receiver on arrival; zero for
	// locally-constructed outbound messages.
	RxTimestamp time.Time
	// TxAccumulationTimeout is an optional hint for senders that batch
	// multiple messages before flushing; unused by the core itself.
	TxAccumulationTimeout time.Duration
}

// ParseSomeIpMessage parses buf's header and validates that buf is large
// enough to hold the full message the header declares.
func ParseSomeIpMessage(buf []byte) (*SomeIpMessage, error) {
	header, err := ParseSomeIpHeader(buf)
	if err != nil {
		return nil, err
	}
	required := HeaderSize + int(header.Length) - 8
	if len(buf) < required {
		return nil, errs.Wrap(errs.CodeProtocolError, uint32(len(buf)), errs.ErrDeserialization)
	}
	return &SomeIpMessage{buf: buf, Header: header}, nil
}

// NewSomeIpMessage builds a message from an explicit header and body,
// writing the header into a freshly allocated buffer ahead of body.
func NewSomeIpMessage(header SomeIpHeader, body []byte) (*SomeIpMessage, error) {
	buf := make([]byte, HeaderSize+len(body))
	if err := WriteSomeIpHeader(buf, header, len(body)); err != nil {
		return nil, err
	}
	copy(buf[HeaderSize:], body)
	header.Length = uint32(len(body)) + HeaderBytesComputedInLengthField
	return &SomeIpMessage{buf: buf, Header: header}, nil
}

// Bytes returns the full wire representation (header + body).
func (m *SomeIpMessage) Bytes() []byte { return m.buf }

// Body returns the message payload, i.e. everything after the 16-byte header.
func (m *SomeIpMessage) Body() []byte { return m.buf[HeaderSize:] }

// BodySize returns len(Body()).
func (m *SomeIpMessage) BodySize() int { return len(m.buf) - HeaderSize }

// TpSegment is a parsed view over one SOME/IP-TP datagram: the SOME/IP
// header, the TP header, and the segment payload bytes. Payload is a
// sub-slice of the backing buffer, not a copy.
type TpSegment struct {
	Header  SomeIpHeader
	Tp      TpHeader
	Payload []byte
}

// minTpSegmentBuffer is the shortest buffer that can hold a SOME/IP
// header, a TP header, and at least one byte of payload.
const minTpSegmentBuffer = HeaderSize + TpHeaderSize + 1

// ParseTpSegment parses a SOME/IP header followed by a TP header and
// payload view from buf. Fails with buffer-too-small if buf is shorter
// than 16 + 4 + 1 bytes.
func ParseTpSegment(buf []byte) (TpSegment, error) {
	if len(buf) < minTpSegmentBuffer {
		return TpSegment{}, errs.Wrap(errs.CodeResourceFault, uint32(len(buf)), errs.ErrBufferTooSmall)
	}
	header, err := ParseSomeIpHeader(buf[:HeaderSize])
	if err != nil {
		return TpSegment{}, err
	}
	tp, err := ParseTpHeader(buf[HeaderSize : HeaderSize+TpHeaderSize])
	if err != nil {
		return TpSegment{}, err
	}
	return TpSegment{
		Header:  header,
		Tp:      tp,
		Payload: buf[HeaderSize+TpHeaderSize:],
	}, nil
}
