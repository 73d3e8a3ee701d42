// Command ipc-proxy-demo wires the whole core together end to end: a
// loopback UDP SOME/IP-TP round trip that segments and reassembles an
// oversize message, followed by a Unix-domain IPC proxy/skeleton
// handshake that subscribes to an event and receives one notification.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/quickcom/someip-ipc-core/ipc/proxy"
	"github.com/quickcom/someip-ipc-core/ipc/router"
	"github.com/quickcom/someip-ipc-core/ipcwire"
	"github.com/quickcom/someip-ipc-core/logx"
	"github.com/quickcom/someip-ipc-core/reactor"
	"github.com/quickcom/someip-ipc-core/someip"
	"github.com/quickcom/someip-ipc-core/someip/tp"
)

const (
	demoInstanceID   uint16 = 0x0001
	demoServiceID    uint16 = 0x1234
	demoMethodID     uint16 = 0x0421
	demoMajorVersion uint8  = 1
	demoEventID      uint16 = 0x8001
	demoClientID     uint16 = 0x0002
)

func main() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := runSomeIpTPRoundTrip(); err != nil {
		log.Fatalf("SOME/IP-TP round trip failed: %v", err)
	}

	socketPath := fmt.Sprintf("%s/ipc-proxy-demo-%s.sock", os.TempDir(), uuid.NewString())
	if err := runIPCHandshake(socketPath); err != nil {
		log.Fatalf("IPC proxy handshake failed: %v", err)
	}

	select {
	case <-signals:
		fmt.Println("\nshutdown signal received, exiting")
	case <-time.After(100 * time.Millisecond):
		fmt.Println("demo complete")
	}
}

// runSomeIpTPRoundTrip segments a message too large for one datagram,
// sends it to a loopback UDP socket, and reassembles it through
// ReceptionController on the receive side.
func runSomeIpTPRoundTrip() error {
	logger := logx.NewDefaultLogger()

	conn, err := reactor.ListenUDP("127.0.0.1:0")
	if err != nil {
		return err
	}
	defer conn.Close()

	mapping := tp.NewAssemblerMapping(tp.Config{
		PreAllocationSize: 1,
		Entries: map[tp.ConfigKey]tp.ConfigEntry{
			{ServiceID: demoServiceID, MajorVersion: demoMajorVersion, MethodID: demoMethodID, NonTPMessageType: someip.MessageTypeRequestNoReturn}: {
				MaxRxMessageSize: 16 * 1024,
			},
		},
	}, logger)
	controller := tp.NewReceptionController(mapping, logger)

	body := make([]byte, 4000)
	for i := range body {
		body[i] = byte(i)
	}
	header := someip.SomeIpHeader{
		ServiceID:        demoServiceID,
		MethodID:         demoMethodID,
		ClientID:         demoClientID,
		InterfaceVersion: demoMajorVersion,
		MessageType:      someip.MessageTypeRequestNoReturn,
	}
	msg, err := someip.NewSomeIpMessage(header, body)
	if err != nil {
		return err
	}

	localAddr := conn.LocalAddr()
	target, err := net.ResolveUDPAddr("udp", localAddr.String())
	if err != nil {
		return err
	}

	segmenter := tp.NewSegmenter(logger)
	send := func(segments []tp.WireSegment) bool {
		for _, seg := range segments {
			datagram := append(append([]byte(nil), seg.Header[:]...), seg.Payload...)
			if _, err := conn.WriteTo(datagram, reactorUDPAddr{target}); err != nil {
				logger.Error("ipc-proxy-demo: send failed: %v", err)
				return false
			}
		}
		return true
	}
	if err := segmenter.Segment(msg, 0, tp.MaxTpSegmentLength, 1, send, nil); err != nil {
		return err
	}

	var reassembled *someip.SomeIpMessage
	buf := make([]byte, 64*1024)
	for reassembled == nil {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return err
		}
		host, portStr, err := net.SplitHostPort(addr.String())
		if err != nil {
			return err
		}
		port := 0
		fmt.Sscanf(portStr, "%d", &port)

		kind, out := controller.OnReception(demoInstanceID, buf[:n], net.ParseIP(host), port)
		switch kind {
		case tp.KindMessageForwarded:
			reassembled = out
		case tp.KindDropped:
			return fmt.Errorf("ipc-proxy-demo: reassembly dropped an unexpected datagram")
		}
	}

	fmt.Printf("SOME/IP-TP round trip reassembled %d bytes\n", reassembled.BodySize())
	return nil
}

// reactorUDPAddr adapts *net.UDPAddr to reactor.Addr for WriteTo calls
// made from outside the reactor package.
type reactorUDPAddr struct{ *net.UDPAddr }

// runIPCHandshake stands up a minimal in-process skeleton listening on a
// Unix-domain socket, connects a ConnectionProxy to it, subscribes to an
// event, and waits for one notification to arrive at a recording
// backend.
func runIPCHandshake(socketPath string) error {
	logger := logx.NewDefaultLogger()

	listener, err := reactor.ListenUnix(socketPath, 0)
	if err != nil {
		return err
	}
	defer listener.Close()

	skeletonReady := make(chan struct{})
	go runSkeleton(listener, skeletonReady, logger)

	r := reactor.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	connector := router.NewRouterConnector(logger)
	mapper := router.NewRouterMapper()
	proxyRouter := router.NewProxyRouter(connector)
	events := &recordingEventBackend{received: make(chan []byte, 1)}
	proxyRouter.AddEventXf(demoEventID, events)
	mapper.AddClient(demoClientID, proxyRouter)
	connector.AddRouterMapper(demoInstanceID, mapper)

	dial := func() (reactor.Conn, error) { return reactor.DialUnix(socketPath) }
	connProxy := proxy.New(r, connector, dial, nil, 0, logger)

	<-skeletonReady
	if err := connProxy.Connect(demoInstanceID, 5*time.Second); err != nil {
		return err
	}
	fmt.Println("IPC proxy connected")

	subscribeHeader := ipcwire.Header{
		ServiceInstanceID: demoInstanceID,
		ClientID:          demoClientID,
		MethodOrEventID:   demoEventID,
		SessionID:         uint16(len(socketPath)), // arbitrary per-session correlation
	}
	if err := connProxy.SubscribeEvent(subscribeHeader); err != nil {
		return err
	}

	select {
	case payload := <-events.received:
		fmt.Printf("received notification payload %q\n", string(payload))
	case <-time.After(5 * time.Second):
		return fmt.Errorf("ipc-proxy-demo: timed out waiting for notification")
	}

	connProxy.Disconnect(demoInstanceID)
	return nil
}

// runSkeleton accepts one connection, reads the subscribe request, and
// immediately publishes one notification; it sends no subscribe-ack.
func runSkeleton(listener *reactor.UnixListener, ready chan<- struct{}, logger logx.Logger) {
	close(ready)
	conn, err := listener.Accept()
	if err != nil {
		logger.Error("ipc-proxy-demo: skeleton accept failed: %v", err)
		return
	}
	defer conn.Close()

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		logger.Error("ipc-proxy-demo: skeleton read failed: %v", err)
		return
	}
	req, err := ipcwire.ParseMessage(buf[:n])
	if err != nil {
		logger.Error("ipc-proxy-demo: skeleton malformed request: %v", err)
		return
	}
	if req.Header.Kind != ipcwire.KindSubscribeEvent {
		logger.Warn("ipc-proxy-demo: skeleton expected subscribe-event, got %s", req.Header.Kind)
		return
	}

	notification := ipcwire.Header{
		Kind:              ipcwire.KindNotification,
		ServiceInstanceID: req.Header.ServiceInstanceID,
		ClientID:          req.Header.ClientID,
		MethodOrEventID:   req.Header.MethodOrEventID,
	}
	if _, err := conn.Write(ipcwire.NewMessage(notification, []byte("hello from skeleton"))); err != nil {
		logger.Error("ipc-proxy-demo: skeleton notify failed: %v", err)
	}
}

type recordingEventBackend struct {
	received chan []byte
}

func (b *recordingEventBackend) SetConnectionState(bool) {}
func (b *recordingEventBackend) SetServiceState(bool)    {}
func (b *recordingEventBackend) OnEvent(payload []byte) {
	b.received <- append([]byte(nil), payload...)
}
