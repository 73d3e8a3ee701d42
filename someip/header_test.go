package someip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSomeIpHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []SomeIpHeader{
		{ServiceID: 0x1234, MethodID: 0x5678, ClientID: 0x0001, SessionID: 0x0001,
			ProtocolVersion: 1, InterfaceVersion: 1, MessageType: MessageTypeRequest, ReturnCode: ReturnCodeOK},
		{ServiceID: 0xFFFF, MethodID: 0x0000, ClientID: 0xABCD, SessionID: 0xDCBA,
			ProtocolVersion: 1, InterfaceVersion: 2, MessageType: MessageTypeTPResponse, ReturnCode: ReturnCodeNotOK},
		{ServiceID: 0, MethodID: 0, ClientID: 0, SessionID: 0,
			ProtocolVersion: 0, InterfaceVersion: 0, MessageType: 0xFE, ReturnCode: 0xFD},
	}

	for _, h := range cases {
		buf := make([]byte, HeaderSize)
		payload := int(h.PayloadLength())
		err := WriteSomeIpHeader(buf, h, payload)
		require.NoError(t, err)

		got, err := ParseSomeIpHeader(buf)
		require.NoError(t, err)

		// PayloadLength/Length are recomputed from payload on write, so
		// compare everything but Length directly via the round-tripped value.
		h.Length = uint32(payload) + HeaderBytesComputedInLengthField
		require.Equal(t, h, got)
	}
}

func TestParseSomeIpHeaderTooShort(t *testing.T) {
	t.Parallel()
	_, err := ParseSomeIpHeader(make([]byte, 15))
	require.Error(t, err)
}

func TestWriteSomeIpHeaderBufferTooSmall(t *testing.T) {
	t.Parallel()
	err := WriteSomeIpHeader(make([]byte, 10), SomeIpHeader{}, 0)
	require.Error(t, err)
}

func TestMessageTypeTPConversion(t *testing.T) {
	t.Parallel()
	pairs := []struct{ nonTP, tp MessageType }{
		{MessageTypeRequest, MessageTypeTPRequest},
		{MessageTypeRequestNoReturn, MessageTypeTPRequestNoReturn},
		{MessageTypeNotification, MessageTypeTPNotification},
		{MessageTypeResponse, MessageTypeTPResponse},
		{MessageTypeError, MessageTypeTPError},
	}
	for _, p := range pairs {
		require.Equal(t, p.tp, ToTP(p.nonTP))
		require.Equal(t, p.nonTP, FromTP(p.tp))
		require.True(t, p.tp.IsTP())
		require.False(t, p.nonTP.IsTP())
		require.Equal(t, p.nonTP, FromTP(ToTP(p.nonTP)))
	}
}
