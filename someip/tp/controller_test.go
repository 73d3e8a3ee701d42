package tp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quickcom/someip-ipc-core/someip"
)

func controllerTestConfig() Config {
	return Config{
		Entries: map[ConfigKey]ConfigEntry{
			{ServiceID: 1, MajorVersion: 1, MethodID: 2, NonTPMessageType: someip.MessageTypeResponse}: {
				MaxRxMessageSize: 8192,
			},
		},
	}
}

func rawNonTPMessage(t *testing.T, header someip.SomeIpHeader, body []byte) []byte {
	t.Helper()
	msg, err := someip.NewSomeIpMessage(header, body)
	require.NoError(t, err)
	return msg.Bytes()
}

func rawTpSegment(t *testing.T, header someip.SomeIpHeader, offset uint32, mf bool, payload []byte) []byte {
	t.Helper()
	header.MessageType = someip.ToTP(header.MessageType)
	buf := make([]byte, someip.HeaderSize+someip.TpHeaderSize+len(payload))
	require.NoError(t, someip.WriteSomeIpHeader(buf[:someip.HeaderSize], header, someip.TpHeaderSize+len(payload)))
	require.NoError(t, someip.WriteTpHeader(buf[someip.HeaderSize:], offset, mf))
	copy(buf[someip.HeaderSize+someip.TpHeaderSize:], payload)
	return buf
}

func TestReceptionControllerNonTPForwarded(t *testing.T) {
	t.Parallel()
	c := NewReceptionController(NewAssemblerMapping(controllerTestConfig(), nil), nil)
	header := someip.SomeIpHeader{ServiceID: 5, MethodID: 6, MessageType: someip.MessageTypeNotification}
	raw := rawNonTPMessage(t, header, []byte("hello"))

	kind, msg := c.OnReception(1, raw, net.ParseIP("127.0.0.1"), 30500)
	require.Equal(t, KindNonTPForwarded, kind)
	require.NotNil(t, msg)
	require.Equal(t, []byte("hello"), msg.Body())
}

func TestReceptionControllerMalformedDropped(t *testing.T) {
	t.Parallel()
	c := NewReceptionController(NewAssemblerMapping(controllerTestConfig(), nil), nil)
	kind, msg := c.OnReception(1, []byte{1, 2, 3}, net.ParseIP("127.0.0.1"), 30500)
	require.Equal(t, KindDropped, kind)
	require.Nil(t, msg)
}

func TestReceptionControllerUnknownFlowDropped(t *testing.T) {
	t.Parallel()
	c := NewReceptionController(NewAssemblerMapping(controllerTestConfig(), nil), nil)
	header := someip.SomeIpHeader{ServiceID: 0xDEAD, MethodID: 1, SessionID: 1, MessageType: someip.MessageTypeResponse}
	raw := rawTpSegment(t, header, 0, true, make([]byte, 16))

	kind, msg := c.OnReception(1, raw, net.ParseIP("127.0.0.1"), 30500)
	require.Equal(t, KindDropped, kind)
	require.Nil(t, msg)
}

func TestReceptionControllerSegmentThenMessageForwarded(t *testing.T) {
	t.Parallel()
	c := NewReceptionController(NewAssemblerMapping(controllerTestConfig(), nil), nil)
	header := someip.SomeIpHeader{ServiceID: 1, MethodID: 2, InterfaceVersion: 1, SessionID: 9, MessageType: someip.MessageTypeResponse}
	peer := net.ParseIP("127.0.0.1")

	first := rawTpSegment(t, header, 0, true, make([]byte, 16))
	kind, msg := c.OnReception(1, first, peer, 30500)
	require.Equal(t, KindSegmentForwarded, kind)
	require.Nil(t, msg)

	last := rawTpSegment(t, header, 16, false, make([]byte, 8))
	kind, msg = c.OnReception(1, last, peer, 30500)
	require.Equal(t, KindMessageForwarded, kind)
	require.NotNil(t, msg)
	require.Len(t, msg.Body(), 24)
	require.Equal(t, someip.MessageTypeResponse, msg.Header.MessageType)
}

func TestReceptionControllerNonTPCancelsActiveFlow(t *testing.T) {
	t.Parallel()
	mapping := NewAssemblerMapping(controllerTestConfig(), nil)
	c := NewReceptionController(mapping, nil)
	header := someip.SomeIpHeader{ServiceID: 1, MethodID: 2, InterfaceVersion: 1, SessionID: 3, MessageType: someip.MessageTypeResponse}
	peer := net.ParseIP("127.0.0.1")

	first := rawTpSegment(t, header, 0, true, make([]byte, 16))
	kind, _ := c.OnReception(1, first, peer, 30500)
	require.Equal(t, KindSegmentForwarded, kind)

	assembler, ok := mapping.GetAssembler(1, header, peer, 30500)
	require.True(t, ok)
	require.False(t, assembler.Cancelled())

	nonTP := rawNonTPMessage(t, someip.SomeIpHeader{ServiceID: 1, MethodID: 2, InterfaceVersion: 1, SessionID: 3, MessageType: someip.MessageTypeResponse}, []byte("x"))
	kind, msg := c.OnReception(1, nonTP, peer, 30500)
	require.Equal(t, KindNonTPForwarded, kind)
	require.NotNil(t, msg)
	require.True(t, assembler.Cancelled())
}
