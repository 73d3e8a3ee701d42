package ipcwire

import (
	"encoding/binary"

	"github.com/quickcom/someip-ipc-core/errs"
)

// Message pairs a parsed Header with its kind-specific payload view (a
// sub-slice, not a copy), the same shape someip.SomeIpMessage uses for
// the SOME/IP wire.
type Message struct {
	Header  Header
	Payload []byte
}

// ParseMessage parses a Header from the front of buf and treats the
// remainder as the kind-specific payload, unexamined at this layer: the
// error-code (for error responses), application-error encoding, and
// subscribe/unsubscribe correlation details are kind-specific concerns
// the router/proxy layer decodes once it knows the kind.
func ParseMessage(buf []byte) (Message, error) {
	header, err := ParseHeader(buf)
	if err != nil {
		return Message{}, err
	}
	return Message{Header: header, Payload: buf[HeaderSize:]}, nil
}

// NewMessage builds a Message's wire bytes from a header and payload.
func NewMessage(header Header, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	_ = WriteHeader(buf, header)
	copy(buf[HeaderSize:], payload)
	return buf
}

// ErrorResponsePayloadSize is the fixed-size portion of an error-response
// payload: a single big-endian u16 return code (wider than the one-byte
// someip.ReturnCode), passed through opaque like SOME/IP return codes.
const ErrorResponsePayloadSize = 2

// ParseErrorResponse extracts the return code carried by an error
// response's payload.
func ParseErrorResponse(payload []byte) (uint16, error) {
	if len(payload) < ErrorResponsePayloadSize {
		return 0, errs.Wrap(errs.CodeResourceFault, uint32(len(payload)), errs.ErrBufferTooSmall)
	}
	return binary.BigEndian.Uint16(payload[:ErrorResponsePayloadSize]), nil
}

// WriteErrorResponse encodes returnCode as an error-response payload.
func WriteErrorResponse(returnCode uint16) []byte {
	buf := make([]byte, ErrorResponsePayloadSize)
	binary.BigEndian.PutUint16(buf, returnCode)
	return buf
}

// SubscribeAckPayloadSize is the fixed-size portion of a subscribe-ack /
// subscribe-nack payload: the acknowledged event id (redundant with the
// header's MethodOrEventID but kept explicit on the wire, matching the
// AUTOSAR convention of echoing the subscribed id in the ack).
const SubscribeAckPayloadSize = 2

// ParseSubscribeAck extracts the acknowledged event id.
func ParseSubscribeAck(payload []byte) (uint16, error) {
	if len(payload) < SubscribeAckPayloadSize {
		return 0, errs.Wrap(errs.CodeResourceFault, uint32(len(payload)), errs.ErrBufferTooSmall)
	}
	return binary.BigEndian.Uint16(payload[:SubscribeAckPayloadSize]), nil
}

// WriteSubscribeAck encodes eventID as a subscribe-ack/nack payload.
func WriteSubscribeAck(eventID uint16) []byte {
	buf := make([]byte, SubscribeAckPayloadSize)
	binary.BigEndian.PutUint16(buf, eventID)
	return buf
}
