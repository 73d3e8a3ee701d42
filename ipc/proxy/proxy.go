// Package proxy implements ConnectionProxy: the IPC proxy-side connection
// lifecycle (connect/disconnect state machine), receive dispatch, and
// transmit handlers of spec.md §4.6.
package proxy

import (
	"sync"
	"time"

	"github.com/quickcom/someip-ipc-core/errs"
	"github.com/quickcom/someip-ipc-core/ipc/router"
	"github.com/quickcom/someip-ipc-core/ipcwire"
	"github.com/quickcom/someip-ipc-core/logx"
	"github.com/quickcom/someip-ipc-core/reactor"
)

// State is one of the three connection states of spec.md §4.6.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// DefaultConnectTimeout is the application-side wait bound of spec.md
// §5/scenario S6: "After 10s, the app-thread wait returns."
const DefaultConnectTimeout = 10 * time.Second

// IntegrityLevel is the OS-asserted access-control attribute checked
// against a peer's credentials at connect time, per spec.md §6.
type IntegrityLevel int

// Dialer opens the reliable byte-stream connection a ConnectionProxy
// wraps. It is invoked once, asynchronously, by Connect.
type Dialer func() (reactor.Conn, error)

// CredentialChecker reads a connected peer's credentials and reports
// whether they satisfy requiredLevel. The reference implementation
// (credentials.go) reads SO_PEERCRED over a *net.UnixConn and
// fingerprints it with blake2b before comparing against the expected
// level; this is pluggable so tests can stub it.
type CredentialChecker func(conn reactor.Conn, requiredLevel IntegrityLevel) error

// listenerID identifies one registered state-change listener, keyed by
// provided-service-instance per spec.md §4.6.
type listenerID = uint16

// ConnectionProxy is the reactor-driven async connection lifecycle
// described by spec.md §4.6: connect/disconnect state machine, receive
// dispatch into the router graph, and transmit handlers.
type ConnectionProxy struct {
	reactor           *reactor.Reactor
	connector         *router.RouterConnector
	dial              Dialer
	checkCredential   CredentialChecker
	requiredIntegrity IntegrityLevel
	logger            logx.Logger

	mu        sync.Mutex
	state     State
	conn      reactor.Conn
	listeners map[listenerID]struct{}
	connectCh chan struct{} // closed once by the reactor on async completion
	onDestroy TriggerDestructionNotifier
	access    AccessControl
}

// SetAccessControl registers the access-control check consulted once per
// received packet before it is forwarded to the router/backend chain.
func (p *ConnectionProxy) SetAccessControl(access AccessControl) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.access = access
}

// SetDestructionNotifier registers fn to be invoked, on the reactor
// goroutine, after an I/O error has torn the connection down. Optional;
// the owning manager uses this to decide when to release the proxy.
func (p *ConnectionProxy) SetDestructionNotifier(fn TriggerDestructionNotifier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDestroy = fn
}

// New creates a ConnectionProxy. connector receives OnConnected/
// OnDisconnected fan-out and the proxy publishes itself to it as its weak
// reference, per spec.md §4.6's "publishes a shared reference of itself
// to the router connector."
func New(rctr *reactor.Reactor, connector *router.RouterConnector, dial Dialer, checkCredential CredentialChecker, requiredIntegrity IntegrityLevel, logger logx.Logger) *ConnectionProxy {
	if logger == nil {
		logger = logx.NewDefaultLogger()
	}
	p := &ConnectionProxy{
		reactor:           rctr,
		connector:         connector,
		dial:              dial,
		checkCredential:   checkCredential,
		requiredIntegrity: requiredIntegrity,
		logger:            logger,
		state:             StateDisconnected,
		listeners:         make(map[listenerID]struct{}),
	}
	connector.SetProxy(p)
	return p
}

// State reports the current connection state.
func (p *ConnectionProxy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Connect transitions disconnected -> connecting, registers serviceInstanceID
// as a state-change listener, and kicks off asynchronous establishment on
// the reactor. It blocks the calling (application) goroutine until the
// reactor completes the attempt or timeout elapses, per spec.md §5's
// "only the application-side connect may block, and only on an explicit
// condition ... bounded, default 10s."
func (p *ConnectionProxy) Connect(serviceInstanceID uint16, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	p.mu.Lock()
	if p.state != StateDisconnected {
		p.mu.Unlock()
		return errs.Wrap(errs.CodeRuntimeFault, 0, errs.ErrAlreadyConnected)
	}
	p.state = StateConnecting
	p.listeners[serviceInstanceID] = struct{}{}
	done := make(chan struct{})
	p.connectCh = done
	p.mu.Unlock()

	p.reactor.Post(func() { p.establish(done) })

	select {
	case <-done:
		if p.State() != StateConnected {
			return errs.Wrap(errs.CodeRuntimeFault, 0, errs.ErrConnectTimeout)
		}
		return nil
	case <-time.After(timeout):
		// Per scenario S6: state is left at whatever the reactor has
		// reached (connecting or disconnected), never connected, and the
		// app-thread wait simply returns.
		return errs.Wrap(errs.CodeRuntimeFault, 0, errs.ErrConnectTimeout)
	}
}

// establish runs on the reactor goroutine: dials the connection and
// transitions to connected or disconnected, fanning out to listeners
// either way. Closing done unblocks any application goroutine waiting in
// Connect.
func (p *ConnectionProxy) establish(done chan struct{}) {
	conn, err := p.dial()
	if err != nil {
		p.logger.Warn("connection proxy: dial failed: %v", err)
		p.transitionDisconnected()
		close(done)
		return
	}

	if p.checkCredential != nil {
		if err := p.checkCredential(conn, p.requiredIntegrity); err != nil {
			p.logger.Warn("connection proxy: peer integrity check failed: %v", err)
			conn.Close()
			p.transitionDisconnected()
			close(done)
			return
		}
	}

	p.mu.Lock()
	p.conn = conn
	p.state = StateConnected
	p.mu.Unlock()

	p.connector.OnConnected()
	close(done)

	go p.receivePump(conn)
}

// receivePump reads packets off conn on its own goroutine (the
// connection's own I/O, not the reactor's CPU) and posts each one to
// OnReceive as a reactor task. Each Read result is taken as one whole
// packet; no length framing is applied, so packets that the stream
// coalesces or splits are not re-delimited. This preserves "the
// reactor thread is the sole ... receive dispatch" invariant of spec.md
// §5 even though the blocking read itself runs off-reactor.
func (p *ConnectionProxy) receivePump(conn reactor.Conn) {
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			p.logger.Warn("connection proxy: receive failed: %v", err)
			p.reactor.Post(p.triggerDestruction)
			return
		}
		packet := append([]byte(nil), buf[:n]...)
		p.mu.Lock()
		access := p.access
		p.mu.Unlock()
		p.reactor.Post(func() { p.OnReceive(packet, access) })
	}
}

func (p *ConnectionProxy) transitionDisconnected() {
	p.mu.Lock()
	p.state = StateDisconnected
	p.conn = nil
	p.mu.Unlock()
	p.connector.OnDisconnected()
}

// Disconnect removes serviceInstanceID's listener registration; once the
// listener set is empty, the connection is closed and the proxy
// transitions to disconnected, becoming eligible for destruction by its
// manager.
func (p *ConnectionProxy) Disconnect(serviceInstanceID uint16) {
	p.mu.Lock()
	delete(p.listeners, serviceInstanceID)
	empty := len(p.listeners) == 0
	conn := p.conn
	p.mu.Unlock()

	if !empty {
		return
	}

	if conn != nil {
		conn.Close()
	}
	p.transitionDisconnected()
}

// Send writes one already-encoded packet to the underlying connection. An
// I/O error schedules a deferred trigger-destruction via the reactor
// instead of acting inline, per spec.md §4.6: "the error is not acted on
// inline to avoid re-entrant teardown."
func (p *ConnectionProxy) Send(payload []byte) error {
	p.mu.Lock()
	conn := p.conn
	connected := p.state == StateConnected
	p.mu.Unlock()

	if !connected || conn == nil {
		return errs.Wrap(errs.CodeRuntimeFault, 0, errs.ErrNotConnected)
	}

	if _, err := conn.Write(payload); err != nil {
		p.logger.Error("connection proxy: send failed: %v", err)
		p.reactor.Post(p.triggerDestruction)
		return errs.Wrap(errs.CodeRuntimeFault, 0, errs.ErrSendFailed)
	}
	return nil
}

// triggerDestruction runs on the reactor goroutine in response to an I/O
// error (send or receive failure). It tears the connection down and
// notifies the owning manager, per spec.md §4.6/§4.8's "schedule deferred
// trigger-destruction."
func (p *ConnectionProxy) triggerDestruction() {
	p.transitionDisconnected()
	p.mu.Lock()
	notify := p.onDestroy
	p.mu.Unlock()
	if notify != nil {
		notify(p)
	}
}

// SendRequest serializes header/payload as a request and sends it.
func (p *ConnectionProxy) SendRequest(header ipcwire.Header, payload []byte) error {
	header.Kind = ipcwire.KindRequest
	return p.Send(ipcwire.NewMessage(header, payload))
}

// SendRequestNoReturn serializes header/payload as a fire-and-forget
// request and sends it.
func (p *ConnectionProxy) SendRequestNoReturn(header ipcwire.Header, payload []byte) error {
	header.Kind = ipcwire.KindRequestNoReturn
	return p.Send(ipcwire.NewMessage(header, payload))
}

// SubscribeEvent serializes header as a subscribe-event request.
func (p *ConnectionProxy) SubscribeEvent(header ipcwire.Header) error {
	header.Kind = ipcwire.KindSubscribeEvent
	return p.Send(ipcwire.NewMessage(header, nil))
}

// UnsubscribeEvent serializes header as an unsubscribe-event request.
func (p *ConnectionProxy) UnsubscribeEvent(header ipcwire.Header) error {
	header.Kind = ipcwire.KindUnsubscribeEvent
	return p.Send(ipcwire.NewMessage(header, nil))
}

// AccessControl is consulted once per received packet before it is
// forwarded to the router/backend chain, per spec.md §4.6 step 3.
type AccessControl interface {
	Allow(serviceInstanceID, clientID uint16, methodOrEventID uint16) bool
}

// allowAll is the default AccessControl: permits everything. Production
// callers supply their own via SetAccessControl.
type allowAll struct{}

func (allowAll) Allow(uint16, uint16, uint16) bool { return true }

// OnReceive deserializes one packet's IPC header, consults access
// control, and dispatches it to the router graph reachable through
// RouterConnector, per spec.md §4.6's receive-dispatch steps 1-3. Meant
// to be invoked from the reactor goroutine as data arrives on the
// underlying connection.
func (p *ConnectionProxy) OnReceive(raw []byte, access AccessControl) {
	if access == nil {
		access = allowAll{}
	}

	msg, err := ipcwire.ParseMessage(raw)
	if err != nil {
		p.logger.Warn("connection proxy: malformed packet: %v", err)
		return
	}

	if !access.Allow(msg.Header.ServiceInstanceID, msg.Header.ClientID, msg.Header.MethodOrEventID) {
		p.logger.Warn("connection proxy: access denied for service-instance %#x client %#x id %#x",
			msg.Header.ServiceInstanceID, msg.Header.ClientID, msg.Header.MethodOrEventID)
		return
	}

	mapper := p.connector.GetRouterMapper(msg.Header.ServiceInstanceID)
	if mapper == nil {
		p.logger.Debug("connection proxy: no router mapper for service-instance %#x", msg.Header.ServiceInstanceID)
		return
	}
	proxyRouter := mapper.GetRouter(msg.Header.ClientID)
	if proxyRouter == nil {
		p.logger.Debug("connection proxy: no router for client %#x", msg.Header.ClientID)
		return
	}

	switch msg.Header.Kind {
	case ipcwire.KindResponse:
		if backend := proxyRouter.GetMethodXf(msg.Header.MethodOrEventID); backend != nil {
			backend.OnResponse(msg.Payload, false)
		}
	case ipcwire.KindErrorResponse, ipcwire.KindApplicationError:
		if backend := proxyRouter.GetMethodXf(msg.Header.MethodOrEventID); backend != nil {
			backend.OnResponse(msg.Payload, true)
		}
	case ipcwire.KindNotification:
		if backend := proxyRouter.GetEventXf(msg.Header.MethodOrEventID); backend != nil {
			backend.OnEvent(msg.Payload)
		}
	case ipcwire.KindSubscribeAck, ipcwire.KindSubscribeNack:
		// Acks/nacks carry no application payload to a user backend in
		// this core; higher layers that need subscribe confirmation
		// track it themselves via the send-side correlation id.
	default:
		p.logger.Debug("connection proxy: unhandled kind %s", msg.Header.Kind)
	}
}

// TriggerDestructionNotifier is invoked once the proxy has transitioned
// to disconnected as a result of an I/O error, giving the owning manager
// a chance to tear the proxy down. Registration is optional.
type TriggerDestructionNotifier func(p *ConnectionProxy)
