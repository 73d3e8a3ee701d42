// Package ipcwire implements the proxy<->skeleton wire header codec.
// spec.md §6 leaves the exact encoding "opaque to the core"; this module
// picks one concrete, documented big-endian encoding mirroring the
// someip package's own header codec, per SPEC_FULL.md §6.
package ipcwire

import (
	"encoding/binary"

	"github.com/quickcom/someip-ipc-core/errs"
)

// Kind discriminates the ten message kinds of the proxy<->skeleton wire.
type Kind uint8

const (
	KindRequest Kind = iota
	KindRequestNoReturn
	KindNotification
	KindResponse
	KindErrorResponse
	KindApplicationError
	KindSubscribeEvent
	KindUnsubscribeEvent
	KindSubscribeAck
	KindSubscribeNack
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindRequestNoReturn:
		return "request-no-return"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	case KindErrorResponse:
		return "error-response"
	case KindApplicationError:
		return "application-error"
	case KindSubscribeEvent:
		return "subscribe-event"
	case KindUnsubscribeEvent:
		return "unsubscribe-event"
	case KindSubscribeAck:
		return "subscribe-ack"
	case KindSubscribeNack:
		return "subscribe-nack"
	default:
		return "unknown"
	}
}

// HeaderSize is the fixed size of the common wire header: kind (1),
// service-instance id (2), client id (2), method-or-event id (2),
// session id (2).
const HeaderSize = 9

// Header is the generic protocol message header carried by every
// proxy<->skeleton packet, per spec.md §6: "each kind's header contains
// at minimum a service-instance identifier, a client id, and a
// method-or-event id." SessionID correlates requests with their
// responses the way SomeIpHeader.SessionID does on the SOME/IP wire.
type Header struct {
	Kind              Kind
	ServiceInstanceID uint16
	ClientID          uint16
	MethodOrEventID   uint16
	SessionID         uint16
}

// ParseHeader reads a Header from the first HeaderSize bytes of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errs.Wrap(errs.CodeResourceFault, uint32(len(buf)), errs.ErrBufferTooSmall)
	}
	return Header{
		Kind:              Kind(buf[0]),
		ServiceInstanceID: binary.BigEndian.Uint16(buf[1:3]),
		ClientID:          binary.BigEndian.Uint16(buf[3:5]),
		MethodOrEventID:   binary.BigEndian.Uint16(buf[5:7]),
		SessionID:         binary.BigEndian.Uint16(buf[7:9]),
	}, nil
}

// WriteHeader writes h into the first HeaderSize bytes of buf.
func WriteHeader(buf []byte, h Header) error {
	if len(buf) < HeaderSize {
		return errs.Wrap(errs.CodeResourceFault, uint32(len(buf)), errs.ErrBufferTooSmall)
	}
	buf[0] = byte(h.Kind)
	binary.BigEndian.PutUint16(buf[1:3], h.ServiceInstanceID)
	binary.BigEndian.PutUint16(buf[3:5], h.ClientID)
	binary.BigEndian.PutUint16(buf[5:7], h.MethodOrEventID)
	binary.BigEndian.PutUint16(buf[7:9], h.SessionID)
	return nil
}
