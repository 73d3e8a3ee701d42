package proxy

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quickcom/someip-ipc-core/ipc/router"
	"github.com/quickcom/someip-ipc-core/ipcwire"
	"github.com/quickcom/someip-ipc-core/reactor"
)

func runningReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r := reactor.New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Run(ctx)
	return r
}

func TestConnectSuccessTransitionsConnectedAndFansOut(t *testing.T) {
	t.Parallel()
	r := runningReactor(t)
	connector := router.NewRouterConnector(nil)
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	p := New(r, connector, func() (reactor.Conn, error) { return client, nil }, nil, 0, nil)

	err := p.Connect(1, time.Second)
	require.NoError(t, err)
	require.Equal(t, StateConnected, p.State())
}

func TestConnectDialFailureTransitionsDisconnected(t *testing.T) {
	t.Parallel()
	r := runningReactor(t)
	connector := router.NewRouterConnector(nil)
	p := New(r, connector, func() (reactor.Conn, error) { return nil, errors.New("boom") }, nil, 0, nil)

	err := p.Connect(1, time.Second)
	require.Error(t, err)
	require.Equal(t, StateDisconnected, p.State())
}

func TestConnectAlreadyConnectingReturnsError(t *testing.T) {
	t.Parallel()
	r := runningReactor(t)
	connector := router.NewRouterConnector(nil)
	block := make(chan struct{})
	p := New(r, connector, func() (reactor.Conn, error) {
		<-block
		return nil, errors.New("boom")
	}, nil, 0, nil)

	go p.Connect(1, time.Second)
	time.Sleep(20 * time.Millisecond) // let the first Connect reach "connecting"

	err := p.Connect(2, time.Second)
	require.Error(t, err)
	close(block)
}

// TestScenarioS6ConnectTimeout mirrors spec.md scenario S6: connect is
// invoked while the reactor is blocked such that async completion never
// fires; after the timeout, the app-thread wait returns with the proxy
// left at disconnected or connecting, never connected.
func TestScenarioS6ConnectTimeout(t *testing.T) {
	t.Parallel()
	r := runningReactor(t)
	connector := router.NewRouterConnector(nil)
	neverReturns := make(chan struct{})
	p := New(r, connector, func() (reactor.Conn, error) {
		<-neverReturns
		return nil, errors.New("dial arrived too late to matter")
	}, nil, 0, nil)

	err := p.Connect(1, 30*time.Millisecond)
	require.Error(t, err)
	require.NotEqual(t, StateConnected, p.State())
	close(neverReturns)
}

func TestDisconnectClosesConnectionWhenListenersEmpty(t *testing.T) {
	t.Parallel()
	r := runningReactor(t)
	connector := router.NewRouterConnector(nil)
	client, server := net.Pipe()
	t.Cleanup(func() { server.Close() })

	p := New(r, connector, func() (reactor.Conn, error) { return client, nil }, nil, 0, nil)
	require.NoError(t, p.Connect(1, time.Second))

	p.Disconnect(1)
	require.Equal(t, StateDisconnected, p.State())

	// The underlying pipe should now be closed.
	_, err := client.Write([]byte("x"))
	require.Error(t, err)
}

func TestSendFailureTriggersDestruction(t *testing.T) {
	t.Parallel()
	r := runningReactor(t)
	connector := router.NewRouterConnector(nil)
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })

	p := New(r, connector, func() (reactor.Conn, error) { return client, nil }, nil, 0, nil)
	require.NoError(t, p.Connect(1, time.Second))

	server.Close() // force the next write to fail
	err := p.Send([]byte("hello"))
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return p.State() == StateDisconnected
	}, time.Second, 10*time.Millisecond)
}

type recordingMethodBackend struct {
	responses []string
	errs      []bool
}

func (b *recordingMethodBackend) SetConnectionState(bool) {}
func (b *recordingMethodBackend) SetServiceState(bool)    {}
func (b *recordingMethodBackend) OnResponse(payload []byte, isError bool) {
	b.responses = append(b.responses, string(payload))
	b.errs = append(b.errs, isError)
}

type recordingEventBackend struct {
	events []string
}

func (b *recordingEventBackend) SetConnectionState(bool) {}
func (b *recordingEventBackend) SetServiceState(bool)    {}
func (b *recordingEventBackend) OnEvent(payload []byte)  { b.events = append(b.events, string(payload)) }

func TestOnReceiveDispatchesToRouterBackends(t *testing.T) {
	t.Parallel()
	connector := router.NewRouterConnector(nil)
	mapper := router.NewRouterMapper()
	proxyRouter := router.NewProxyRouter(connector)
	method := &recordingMethodBackend{}
	event := &recordingEventBackend{}
	proxyRouter.AddMethodXf(5, method)
	proxyRouter.AddEventXf(6, event)
	mapper.AddClient(2, proxyRouter)
	connector.AddRouterMapper(1, mapper)

	r := reactor.New()
	p := New(r, connector, nil, nil, 0, nil)

	responseHeader := ipcwire.Header{Kind: ipcwire.KindResponse, ServiceInstanceID: 1, ClientID: 2, MethodOrEventID: 5}
	p.OnReceive(ipcwire.NewMessage(responseHeader, []byte("ok")), nil)
	require.Equal(t, []string{"ok"}, method.responses)
	require.Equal(t, []bool{false}, method.errs)

	errHeader := ipcwire.Header{Kind: ipcwire.KindErrorResponse, ServiceInstanceID: 1, ClientID: 2, MethodOrEventID: 5}
	p.OnReceive(ipcwire.NewMessage(errHeader, []byte("bad")), nil)
	require.Equal(t, []string{"ok", "bad"}, method.responses)
	require.Equal(t, []bool{false, true}, method.errs)

	eventHeader := ipcwire.Header{Kind: ipcwire.KindNotification, ServiceInstanceID: 1, ClientID: 2, MethodOrEventID: 6}
	p.OnReceive(ipcwire.NewMessage(eventHeader, []byte("evt")), nil)
	require.Equal(t, []string{"evt"}, event.events)
}

type denyAll struct{}

func (denyAll) Allow(uint16, uint16, uint16) bool { return false }

func TestOnReceiveAccessControlDenies(t *testing.T) {
	t.Parallel()
	connector := router.NewRouterConnector(nil)
	mapper := router.NewRouterMapper()
	proxyRouter := router.NewProxyRouter(connector)
	method := &recordingMethodBackend{}
	proxyRouter.AddMethodXf(5, method)
	mapper.AddClient(2, proxyRouter)
	connector.AddRouterMapper(1, mapper)

	r := reactor.New()
	p := New(r, connector, nil, nil, 0, nil)

	header := ipcwire.Header{Kind: ipcwire.KindResponse, ServiceInstanceID: 1, ClientID: 2, MethodOrEventID: 5}
	p.OnReceive(ipcwire.NewMessage(header, []byte("ok")), denyAll{})
	require.Empty(t, method.responses)
}

func TestOnReceiveUnknownRouterMapperDropsSilently(t *testing.T) {
	t.Parallel()
	connector := router.NewRouterConnector(nil)
	r := reactor.New()
	p := New(r, connector, nil, nil, 0, nil)

	header := ipcwire.Header{Kind: ipcwire.KindResponse, ServiceInstanceID: 99, ClientID: 2, MethodOrEventID: 5}
	require.NotPanics(t, func() {
		p.OnReceive(ipcwire.NewMessage(header, []byte("ok")), nil)
	})
}
