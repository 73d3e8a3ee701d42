// Package someip implements the wire codec for the SOME/IP message header
// and the SOME/IP-TP segmentation header: fixed-layout, big-endian, pure
// functions with no allocation beyond the caller-supplied buffers.
package someip

import (
	"encoding/binary"

	"github.com/quickcom/someip-ipc-core/errs"
)

// HeaderSize is the fixed wire size of a SomeIpHeader, in bytes.
const HeaderSize = 16

// LengthFieldSize is the size of the header's "length" field itself; the
// length field counts bytes after itself, i.e.
// HeaderBytesComputedInLengthField (8) bytes of header plus the payload.
const LengthFieldSize = 4

// HeaderBytesComputedInLengthField is the number of header bytes counted
// by the length field (everything after the length field: client id,
// session id, protocol version, interface version, message type, return
// code).
const HeaderBytesComputedInLengthField = HeaderSize - LengthFieldSize - 4 // = 8

// MessageType is the SOME/IP message type byte. Values are a closed set
// per the wire format, but per spec.md §4.1 unknown values must be
// tolerated as opaque rather than rejected, so this is left an open
// uint8 alias rather than a validating enum.
type MessageType uint8

const (
	MessageTypeRequest           MessageType = 0x00
	MessageTypeRequestNoReturn   MessageType = 0x01
	MessageTypeNotification      MessageType = 0x02
	MessageTypeResponse          MessageType = 0x80
	MessageTypeError             MessageType = 0x81
	MessageTypeTPRequest         MessageType = 0x20
	MessageTypeTPRequestNoReturn MessageType = 0x21
	MessageTypeTPNotification    MessageType = 0x22
	MessageTypeTPResponse        MessageType = 0xA0
	MessageTypeTPError           MessageType = 0xA1
)

// IsTP reports whether mt is one of the TP-prefixed variants.
func (mt MessageType) IsTP() bool {
	switch mt {
	case MessageTypeTPRequest, MessageTypeTPRequestNoReturn, MessageTypeTPNotification, MessageTypeTPResponse, MessageTypeTPError:
		return true
	default:
		return false
	}
}

// ToTP converts a non-TP message type to its TP-prefixed peer. Message
// types that are already TP, or that have no TP peer, are returned
// unchanged.
func ToTP(mt MessageType) MessageType {
	switch mt {
	case MessageTypeRequest:
		return MessageTypeTPRequest
	case MessageTypeRequestNoReturn:
		return MessageTypeTPRequestNoReturn
	case MessageTypeNotification:
		return MessageTypeTPNotification
	case MessageTypeResponse:
		return MessageTypeTPResponse
	case MessageTypeError:
		return MessageTypeTPError
	default:
		return mt
	}
}

// FromTP converts a TP-prefixed message type to its non-TP peer (MF
// stripped). Non-TP message types are returned unchanged.
func FromTP(mt MessageType) MessageType {
	switch mt {
	case MessageTypeTPRequest:
		return MessageTypeRequest
	case MessageTypeTPRequestNoReturn:
		return MessageTypeRequestNoReturn
	case MessageTypeTPNotification:
		return MessageTypeNotification
	case MessageTypeTPResponse:
		return MessageTypeResponse
	case MessageTypeTPError:
		return MessageTypeError
	default:
		return mt
	}
}

// ReturnCode is the SOME/IP return-code byte. Opaque: passed through
// without validation, per spec.md §4.1.
type ReturnCode uint8

const (
	ReturnCodeOK             ReturnCode = 0x00
	ReturnCodeNotOK          ReturnCode = 0x01
	ReturnCodeUnknownService ReturnCode = 0x02
	ReturnCodeUnknownMethod  ReturnCode = 0x03
)

// SomeIpHeader is the fixed 16-byte SOME/IP wire header.
type SomeIpHeader struct {
	ServiceID        uint16
	MethodID         uint16
	Length           uint32 // bytes after the length field: 8 + payload size
	ClientID         uint16
	SessionID        uint16
	ProtocolVersion  uint8
	InterfaceVersion uint8
	MessageType      MessageType
	ReturnCode       ReturnCode
}

// PayloadLength returns the size of the message body implied by Length.
func (h SomeIpHeader) PayloadLength() uint32 {
	if h.Length < HeaderBytesComputedInLengthField {
		return 0
	}
	return h.Length - HeaderBytesComputedInLengthField
}

// ParseSomeIpHeader reads a SomeIpHeader from the first 16 bytes of buf.
func ParseSomeIpHeader(buf []byte) (SomeIpHeader, error) {
	if len(buf) < HeaderSize {
		return SomeIpHeader{}, errs.Wrap(errs.CodeProtocolError, uint32(len(buf)), errs.ErrDeserialization)
	}
	h := SomeIpHeader{
		ServiceID:        binary.BigEndian.Uint16(buf[0:2]),
		MethodID:         binary.BigEndian.Uint16(buf[2:4]),
		Length:           binary.BigEndian.Uint32(buf[4:8]),
		ClientID:         binary.BigEndian.Uint16(buf[8:10]),
		SessionID:        binary.BigEndian.Uint16(buf[10:12]),
		ProtocolVersion:  buf[12],
		InterfaceVersion: buf[13],
		MessageType:      MessageType(buf[14]),
		ReturnCode:       ReturnCode(buf[15]),
	}
	return h, nil
}

// WriteSomeIpHeader serializes header into the first 16 bytes of dst, with
// Length computed as payloadLength+HeaderBytesComputedInLengthField. dst
// must be at least HeaderSize bytes. Returns an error if the computed
// length does not fit in a uint32 (practically unreachable given an int
// payloadLength, but checked per spec.md §4.1's "before writing, verifies
// that payload_length + 8 fits in a u32; aborts if not").
func WriteSomeIpHeader(dst []byte, header SomeIpHeader, payloadLength int) error {
	if len(dst) < HeaderSize {
		return errs.Wrap(errs.CodeResourceFault, uint32(len(dst)), errs.ErrBufferTooSmall)
	}
	if payloadLength < 0 {
		return errs.Wrap(errs.CodeLogicFault, 0, errs.ErrLengthFieldOverflow)
	}
	total := uint64(payloadLength) + uint64(HeaderBytesComputedInLengthField)
	if total > 0xFFFFFFFF {
		return errs.Wrap(errs.CodeLogicFault, uint32(payloadLength), errs.ErrLengthFieldOverflow)
	}

	binary.BigEndian.PutUint16(dst[0:2], header.ServiceID)
	binary.BigEndian.PutUint16(dst[2:4], header.MethodID)
	binary.BigEndian.PutUint32(dst[4:8], uint32(total))
	binary.BigEndian.PutUint16(dst[8:10], header.ClientID)
	binary.BigEndian.PutUint16(dst[10:12], header.SessionID)
	dst[12] = header.ProtocolVersion
	dst[13] = header.InterfaceVersion
	dst[14] = byte(header.MessageType)
	dst[15] = byte(header.ReturnCode)
	return nil
}
