package tp

import (
	"net"

	"github.com/quickcom/someip-ipc-core/logx"
	"github.com/quickcom/someip-ipc-core/someip"
)

// ReceptionKind is the controller's classification of one received
// datagram, per spec.md §4.4.
type ReceptionKind int

const (
	// KindNonTPForwarded is a complete, non-segmented SOME/IP message
	// forwarded unchanged.
	KindNonTPForwarded ReceptionKind = iota
	// KindSegmentForwarded is a valid TP segment absorbed into an
	// in-progress assembly; no complete message is available yet.
	KindSegmentForwarded
	// KindMessageForwarded is a TP segment that completed reassembly; the
	// resulting message is available.
	KindMessageForwarded
	// KindDropped covers every rejection path: malformed datagram,
	// unknown flow configuration, or a segment that failed validation.
	KindDropped
)

// ReceptionController dispatches incoming datagrams on one UDP endpoint
// to assembler instances, implementing
// TransportProtocolReceptionController::on_reception from spec.md §4.4.
type ReceptionController struct {
	mapping *AssemblerMapping
	logger  logx.Logger
}

// NewReceptionController creates a ReceptionController over mapping.
func NewReceptionController(mapping *AssemblerMapping, logger logx.Logger) *ReceptionController {
	if logger == nil {
		logger = logx.NewDefaultLogger()
	}
	return &ReceptionController{mapping: mapping, logger: logger}
}

// OnReception classifies and, where applicable, reassembles one received
// datagram on the given service instance from the given peer.
func (c *ReceptionController) OnReception(instanceID uint16, datagram []byte, peerIP net.IP, peerPort int) (ReceptionKind, *someip.SomeIpMessage) {
	header, err := someip.ParseSomeIpHeader(datagram)
	if err != nil {
		c.logger.Warn("tp controller: malformed datagram from %s:%d: %v", peerIP, peerPort, err)
		return KindDropped, nil
	}

	if !header.MessageType.IsTP() {
		// Side effect per spec.md §4.4: a non-TP message on an active TP
		// flow cancels that flow's assembler.
		c.mapping.RequiresAssembly(instanceID, header, peerIP, peerPort)

		msg, err := someip.ParseSomeIpMessage(datagram)
		if err != nil {
			c.logger.Warn("tp controller: malformed non-TP message from %s:%d: %v", peerIP, peerPort, err)
			return KindDropped, nil
		}
		return KindNonTPForwarded, msg
	}

	seg, err := someip.ParseTpSegment(datagram)
	if err != nil {
		c.logger.Warn("tp controller: malformed TP segment from %s:%d: %v", peerIP, peerPort, err)
		return KindDropped, nil
	}

	assembler, ok := c.mapping.GetAssembler(instanceID, header, peerIP, peerPort)
	if !ok {
		c.logger.Debug("tp controller: no assembler configuration for service=%#x method=%#x, dropping", header.ServiceID, header.MethodID)
		return KindDropped, nil
	}

	status, msg := assembler.Absorb(seg)
	switch status {
	case StatusAbsorbed:
		return KindSegmentForwarded, nil
	case StatusCompleted:
		return KindMessageForwarded, msg
	default:
		return KindDropped, nil
	}
}
