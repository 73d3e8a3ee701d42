package tp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quickcom/someip-ipc-core/someip"
)

func testConfig() Config {
	return Config{
		Entries: map[ConfigKey]ConfigEntry{
			{ServiceID: 1, MajorVersion: 1, MethodID: 2, NonTPMessageType: someip.MessageTypeResponse}: {
				MaxRxMessageSize: 8192,
			},
			{ServiceID: 1, MajorVersion: 1, MethodID: 3, NonTPMessageType: someip.MessageTypeNotification}: {
				MaxRxMessageSize:      4096,
				UseDeterministicAlloc: true,
			},
		},
		PreAllocationSize: 2,
	}
}

func TestAssemblerMappingGetAssemblerUnknownFlowDropped(t *testing.T) {
	t.Parallel()
	m := NewAssemblerMapping(testConfig(), nil)
	header := someip.SomeIpHeader{ServiceID: 0xFFFF, MethodID: 1, InterfaceVersion: 1, MessageType: someip.MessageTypeTPResponse}
	_, ok := m.GetAssembler(1, header, net.ParseIP("127.0.0.1"), 30500)
	require.False(t, ok)
}

func TestAssemblerMappingGetAssemblerReusesInstance(t *testing.T) {
	t.Parallel()
	m := NewAssemblerMapping(testConfig(), nil)
	header := someip.SomeIpHeader{ServiceID: 1, MethodID: 2, InterfaceVersion: 1, MessageType: someip.MessageTypeTPResponse}
	peer := net.ParseIP("127.0.0.1")

	a1, ok := m.GetAssembler(1, header, peer, 30500)
	require.True(t, ok)
	a2, ok := m.GetAssembler(1, header, peer, 30500)
	require.True(t, ok)
	require.Same(t, a1, a2)
	require.Equal(t, 1, m.Len())

	// A different client id is a different flow key.
	header2 := header
	header2.ClientID = 7
	a3, ok := m.GetAssembler(1, header2, peer, 30500)
	require.True(t, ok)
	require.NotSame(t, a1, a3)
	require.Equal(t, 2, m.Len())
}

func TestAssemblerMappingDeterministicAllocator(t *testing.T) {
	t.Parallel()
	m := NewAssemblerMapping(testConfig(), nil)
	header := someip.SomeIpHeader{ServiceID: 1, MethodID: 3, InterfaceVersion: 1, MessageType: someip.MessageTypeTPNotification}
	_, ok := m.GetAssembler(1, header, net.ParseIP("127.0.0.1"), 30500)
	require.True(t, ok)
	require.NotNil(t, m.arena)
}

func TestAssemblerMappingRequiresAssembly(t *testing.T) {
	t.Parallel()
	m := NewAssemblerMapping(testConfig(), nil)
	require.True(t, m.RequiresAssembly(1, someip.SomeIpHeader{MessageType: someip.MessageTypeTPResponse}, net.ParseIP("127.0.0.1"), 1))
	require.False(t, m.RequiresAssembly(1, someip.SomeIpHeader{MessageType: someip.MessageTypeResponse}, net.ParseIP("127.0.0.1"), 1))
}

func TestAssemblerMappingNonTPCancelsActiveFlow(t *testing.T) {
	t.Parallel()
	m := NewAssemblerMapping(testConfig(), nil)
	header := someip.SomeIpHeader{ServiceID: 1, MethodID: 2, InterfaceVersion: 1, SessionID: 1, MessageType: someip.MessageTypeTPResponse}
	peer := net.ParseIP("127.0.0.1")

	a, ok := m.GetAssembler(1, header, peer, 30500)
	require.True(t, ok)
	seg := someip.TpSegment{Header: header, Tp: someip.TpHeader{Offset: 0, MF: true}, Payload: make([]byte, 16)}
	status, _ := a.Absorb(seg)
	require.Equal(t, StatusAbsorbed, status)
	require.False(t, a.Cancelled())

	nonTPHeader := header
	nonTPHeader.MessageType = someip.MessageTypeResponse
	require.False(t, m.RequiresAssembly(1, nonTPHeader, peer, 30500))
	require.True(t, a.Cancelled())
}
