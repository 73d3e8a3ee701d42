package tp

import (
	"net"
	"sync"

	"github.com/quickcom/someip-ipc-core/logx"
	"github.com/quickcom/someip-ipc-core/someip"
)

// ConfigKey identifies one configured TP flow kind: a service/method on a
// given major (interface) version, receiving a specific non-TP message
// type.
type ConfigKey struct {
	ServiceID        uint16
	MajorVersion     uint8
	MethodID         uint16
	NonTPMessageType someip.MessageType
}

// ConfigEntry is the per-flow-kind configuration: the largest message
// this flow may reassemble, and whether it should use the preallocated
// arena allocator instead of the growing one.
type ConfigEntry struct {
	MaxRxMessageSize      int
	UseDeterministicAlloc bool
}

// Config is the full AssemblerMapping configuration table plus the arena
// pre-allocation size shared by every deterministic-allocator flow.
type Config struct {
	Entries           map[ConfigKey]ConfigEntry
	PreAllocationSize int
}

// FlowKey is the runtime key an Assembler instance is indexed by: the
// 8-tuple of spec.md §4.4.
type FlowKey struct {
	InstanceID       uint16
	ServiceID        uint16
	MethodID         uint16
	ClientID         uint16
	InterfaceVersion uint8
	MessageType      someip.MessageType // non-TP
	PeerIP           string
	PeerPort         int
}

func flowKeyOf(instanceID uint16, header someip.SomeIpHeader, peerIP net.IP, peerPort int) FlowKey {
	return FlowKey{
		InstanceID:       instanceID,
		ServiceID:        header.ServiceID,
		MethodID:         header.MethodID,
		ClientID:         header.ClientID,
		InterfaceVersion: header.InterfaceVersion,
		MessageType:      someip.FromTP(header.MessageType),
		PeerIP:           peerIP.String(),
		PeerPort:         peerPort,
	}
}

type mappingEntry struct {
	key       FlowKey
	assembler *Assembler
}

// AssemblerMapping is a configuration-driven, runtime-indexed container
// of Assembler instances. Instances are created lazily from the config
// table and looked up by linear scan, matching spec.md §4.4's expectation
// that the number of concurrent flows per connection is small.
type AssemblerMapping struct {
	config Config
	logger logx.Logger

	arena   *ArenaAllocator
	growing *GrowingAllocator

	mu        sync.Mutex
	instances []mappingEntry
}

// NewAssemblerMapping creates an AssemblerMapping from the given
// configuration. The arena allocator is sized lazily: it is created on
// first use for whichever MaxRxMessageSize the first deterministic-alloc
// flow requests (arenas backing differently-sized flows fall back to
// direct allocation, per ArenaAllocator.Get/Put).
func NewAssemblerMapping(config Config, logger logx.Logger) *AssemblerMapping {
	if logger == nil {
		logger = logx.NewDefaultLogger()
	}
	return &AssemblerMapping{
		config:  config,
		logger:  logger,
		growing: NewGrowingAllocator(),
	}
}

// RequiresAssembly reports whether header's message type is a TP variant.
// As a side effect, if header is NOT a TP message but an assembler exists
// for the corresponding flow key, that assembler is cancelled: a non-TP
// message arriving in-flight on an active TP flow is treated as a sender
// error per spec.md §4.4.
func (m *AssemblerMapping) RequiresAssembly(instanceID uint16, header someip.SomeIpHeader, peerIP net.IP, peerPort int) bool {
	if header.MessageType.IsTP() {
		return true
	}

	key := flowKeyOf(instanceID, header, peerIP, peerPort)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.instances {
		if e.key == key && !e.assembler.Cancelled() {
			m.logger.Warn("tp mapping: non-TP message on active TP flow %+v, cancelling assembler", key)
			e.assembler.cancel()
			break
		}
	}
	return false
}

// GetAssembler returns the Assembler for header's flow key, creating one
// from the configuration table on first use. Returns (nil, false) if no
// configuration exists for the flow kind, in which case the caller must
// drop the message per spec.md §4.4/§4.8.
func (m *AssemblerMapping) GetAssembler(instanceID uint16, header someip.SomeIpHeader, peerIP net.IP, peerPort int) (*Assembler, bool) {
	key := flowKeyOf(instanceID, header, peerIP, peerPort)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.instances {
		if e.key == key {
			return e.assembler, true
		}
	}

	configKey := ConfigKey{
		ServiceID:        key.ServiceID,
		MajorVersion:     key.InterfaceVersion,
		MethodID:         key.MethodID,
		NonTPMessageType: key.MessageType,
	}
	entry, ok := m.config.Entries[configKey]
	if !ok {
		return nil, false
	}

	var allocator Allocator = m.growing
	if entry.UseDeterministicAlloc {
		if m.arena == nil {
			preAlloc := m.config.PreAllocationSize
			if preAlloc <= 0 {
				preAlloc = 1
			}
			m.arena = NewArenaAllocator(entry.MaxRxMessageSize, preAlloc)
		}
		allocator = m.arena
	}

	assembler := NewAssembler(entry.MaxRxMessageSize, allocator, m.logger)
	m.instances = append(m.instances, mappingEntry{key: key, assembler: assembler})
	return assembler, true
}

// Len reports the number of live assembler instances, for tests and
// diagnostics.
func (m *AssemblerMapping) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.instances)
}
