// Package router implements the IPC proxy-side routing graph:
// ProxyRouter, RouterMapper, and RouterConnector, cascading connection
// and service-availability state down to user-supplied backends.
package router

import (
	"sync"

	"github.com/quickcom/someip-ipc-core/errs"
	"github.com/quickcom/someip-ipc-core/logx"
)

// Backend is the capability every router-held backend must provide:
// tolerating a connection-state or service-state transition at any time,
// per spec.md §4.7.
type Backend interface {
	SetConnectionState(connected bool)
	SetServiceState(available bool)
}

// EventBackend receives deserialized event notifications.
type EventBackend interface {
	Backend
	OnEvent(payload []byte)
}

// MethodBackend receives method responses (including error responses).
type MethodBackend interface {
	Backend
	OnResponse(payload []byte, isError bool)
}

// FireAndForgetBackend is registered for request-no-return method ids; it
// never receives a response, only state transitions.
type FireAndForgetBackend interface {
	Backend
}

// ProxyRouter holds the three routing tables for one required service
// client instance: event id -> event backend, method id -> method
// backend, and method id -> fire-and-forget backend. It holds a
// non-owning (weak) reference to its RouterConnector, re-checked at every
// use rather than kept alive.
type ProxyRouter struct {
	connector *RouterConnector

	mu      sync.Mutex
	events  map[uint16]EventBackend
	methods map[uint16]MethodBackend
	fnfs    map[uint16]FireAndForgetBackend
}

// NewProxyRouter creates a ProxyRouter observing connector.
func NewProxyRouter(connector *RouterConnector) *ProxyRouter {
	return &ProxyRouter{
		connector: connector,
		events:    make(map[uint16]EventBackend),
		methods:   make(map[uint16]MethodBackend),
		fnfs:      make(map[uint16]FireAndForgetBackend),
	}
}

// AddEventXf registers backend for eventID. Per spec.md §4.7/§4.8, a
// duplicate registration is a contract violation: the caller is at fault
// and the call aborts rather than returning an error.
func (r *ProxyRouter) AddEventXf(eventID uint16, backend EventBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.events[eventID]; exists {
		errs.Abort("router: duplicate event backend for event id %#x", eventID)
	}
	r.events[eventID] = backend
}

// GetEventXf returns the backend registered for eventID, or nil.
func (r *ProxyRouter) GetEventXf(eventID uint16) EventBackend {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[eventID]
}

// AddMethodXf registers backend for methodID. Duplicate registration
// aborts, per the same contract as AddEventXf.
func (r *ProxyRouter) AddMethodXf(methodID uint16, backend MethodBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.methods[methodID]; exists {
		errs.Abort("router: duplicate method backend for method id %#x", methodID)
	}
	r.methods[methodID] = backend
}

// GetMethodXf returns the backend registered for methodID, or nil.
func (r *ProxyRouter) GetMethodXf(methodID uint16) MethodBackend {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.methods[methodID]
}

// AddFireAndForgetXf registers backend for methodID. Duplicate
// registration aborts, per the same contract as AddEventXf.
func (r *ProxyRouter) AddFireAndForgetXf(methodID uint16, backend FireAndForgetBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.fnfs[methodID]; exists {
		errs.Abort("router: duplicate fire-and-forget backend for method id %#x", methodID)
	}
	r.fnfs[methodID] = backend
}

// GetFireAndForgetXf returns the backend registered for methodID, or nil.
func (r *ProxyRouter) GetFireAndForgetXf(methodID uint16) FireAndForgetBackend {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fnfs[methodID]
}

// onConnectionState cascades a connection-state transition to every
// backend held by this router.
func (r *ProxyRouter) onConnectionState(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.events {
		b.SetConnectionState(connected)
	}
	for _, b := range r.methods {
		b.SetConnectionState(connected)
	}
	for _, b := range r.fnfs {
		b.SetConnectionState(connected)
	}
}

// onServiceState cascades a service-availability transition to every
// backend held by this router.
func (r *ProxyRouter) onServiceState(available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.events {
		b.SetServiceState(available)
	}
	for _, b := range r.methods {
		b.SetServiceState(available)
	}
	for _, b := range r.fnfs {
		b.SetServiceState(available)
	}
}

// RouterMapper maps client id -> ProxyRouter within one service instance.
// It owns a preallocated scratch vector returned by GetAllEventXfs,
// grown in increments of 10 as clients are added, to amortize allocation
// for the common "fan out to every client's event backend" query.
type RouterMapper struct {
	mu      sync.Mutex
	routers map[uint16]*ProxyRouter
	scratch []EventBackend
}

// NewRouterMapper creates an empty RouterMapper.
func NewRouterMapper() *RouterMapper {
	return &RouterMapper{
		routers: make(map[uint16]*ProxyRouter),
		scratch: make([]EventBackend, 0, 10),
	}
}

// AddClient registers router under clientID. Growing the scratch vector's
// capacity in increments of 10 happens here, matching spec.md §4.7.
func (m *RouterMapper) AddClient(clientID uint16, router *ProxyRouter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routers[clientID] = router
	if needed := len(m.routers); cap(m.scratch) < needed {
		grown := ((needed / 10) + 1) * 10
		newScratch := make([]EventBackend, 0, grown)
		m.scratch = newScratch
	}
}

// RemoveClient unregisters clientID's router, if any.
func (m *RouterMapper) RemoveClient(clientID uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.routers, clientID)
}

// GetRouter returns the ProxyRouter for clientID, or nil.
func (m *RouterMapper) GetRouter(clientID uint16) *ProxyRouter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.routers[clientID]
}

// GetAllEventXfs returns every client's event backend registered for
// eventID, by reusing the preallocated scratch vector: it is cleared and
// refilled by walking the client map on each call, then returned by
// reference. The slice is only valid until the next call to
// GetAllEventXfs on this mapper.
func (m *RouterMapper) GetAllEventXfs(eventID uint16) []EventBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scratch = m.scratch[:0]
	for _, router := range m.routers {
		if backend := router.GetEventXf(eventID); backend != nil {
			m.scratch = append(m.scratch, backend)
		}
	}
	return m.scratch
}

// onConnectionState cascades to every client router in this mapper.
func (m *RouterMapper) onConnectionState(connected bool) {
	m.mu.Lock()
	routers := make([]*ProxyRouter, 0, len(m.routers))
	for _, r := range m.routers {
		routers = append(routers, r)
	}
	m.mu.Unlock()
	for _, r := range routers {
		r.onConnectionState(connected)
	}
}

// onServiceState cascades to every client router in this mapper.
func (m *RouterMapper) onServiceState(available bool) {
	m.mu.Lock()
	routers := make([]*ProxyRouter, 0, len(m.routers))
	for _, r := range m.routers {
		routers = append(routers, r)
	}
	m.mu.Unlock()
	for _, r := range routers {
		r.onServiceState(available)
	}
}

// ConnectionProxyHandle is the capability RouterConnector needs from a
// connection proxy: just enough to be held weakly and re-checked at every
// use. ipc/proxy's ConnectionProxy satisfies this.
type ConnectionProxyHandle interface {
	Send(payload []byte) error
}

// RouterConnector maps service-instance id -> RouterMapper and holds a
// weak (non-owning) reference to the ConnectionProxy it observes. It is
// mutex-guarded because the connection proxy updates it from the reactor
// thread while application threads read it during send/subscribe.
type RouterConnector struct {
	logger logx.Logger

	mu      sync.Mutex
	mappers map[uint16]*RouterMapper
	proxy   ConnectionProxyHandle
}

// NewRouterConnector creates an empty RouterConnector.
func NewRouterConnector(logger logx.Logger) *RouterConnector {
	if logger == nil {
		logger = logx.NewDefaultLogger()
	}
	return &RouterConnector{logger: logger, mappers: make(map[uint16]*RouterMapper)}
}

// AddRouterMapper inserts mapper under serviceInstanceID.
func (c *RouterConnector) AddRouterMapper(serviceInstanceID uint16, mapper *RouterMapper) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mappers[serviceInstanceID] = mapper
}

// ReleaseRouterMapper removes the mapper for serviceInstanceID and
// returns the number of mappers remaining, used by the owning manager to
// decide when the proxy side for that instance can be torn down.
func (c *RouterConnector) ReleaseRouterMapper(serviceInstanceID uint16) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.mappers, serviceInstanceID)
	return len(c.mappers)
}

// GetRouterMapper returns the mapper for serviceInstanceID, or nil.
func (c *RouterConnector) GetRouterMapper(serviceInstanceID uint16) *RouterMapper {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mappers[serviceInstanceID]
}

// SetProxy publishes the weak reference to the owning ConnectionProxy.
func (c *RouterConnector) SetProxy(proxy ConnectionProxyHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proxy = proxy
}

// Proxy returns the current weak reference, re-checked at every use; nil
// until a proxy has been published with SetProxy. The reference is not
// cleared when the proxy tears down.
func (c *RouterConnector) Proxy() ConnectionProxyHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proxy
}

// OnConnected cascades a connected transition to every backend reachable
// from this connector's router tree.
func (c *RouterConnector) OnConnected() {
	c.cascadeConnectionState(true)
}

// OnDisconnected cascades a disconnected transition to every backend
// reachable from this connector's router tree.
func (c *RouterConnector) OnDisconnected() {
	c.cascadeConnectionState(false)
}

func (c *RouterConnector) cascadeConnectionState(connected bool) {
	c.mu.Lock()
	mappers := make([]*RouterMapper, 0, len(c.mappers))
	for _, m := range c.mappers {
		mappers = append(mappers, m)
	}
	c.mu.Unlock()
	for _, m := range mappers {
		m.onConnectionState(connected)
	}
}

// SetServiceState cascades a service-up/service-down transition to every
// backend reachable from this connector's router tree.
func (c *RouterConnector) SetServiceState(available bool) {
	c.mu.Lock()
	mappers := make([]*RouterMapper, 0, len(c.mappers))
	for _, m := range c.mappers {
		mappers = append(mappers, m)
	}
	c.mu.Unlock()
	for _, m := range mappers {
		m.onServiceState(available)
	}
}
