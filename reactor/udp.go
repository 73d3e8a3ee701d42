package reactor

import "net"

// DefaultMaxDatagramSize is the 1400-byte UDP MTU convention, matching the
// teacher's own conservative DefaultMaxPacketSize choice for avoiding
// IP-layer fragmentation. No read path in this module sizes its buffer
// from it; a full TP segment datagram is 16 + 4 + 1392 = 1412 bytes.
const DefaultMaxDatagramSize = 1400

// udpAddr adapts *net.UDPAddr to Addr.
type udpAddr struct{ *net.UDPAddr }

// UDPPacketConn adapts *net.UDPConn to the PacketConn interface consumed
// by the TP reception controller and segmenter send callbacks.
type UDPPacketConn struct {
	conn *net.UDPConn
}

// NewUDPPacketConn wraps an already-bound *net.UDPConn.
func NewUDPPacketConn(conn *net.UDPConn) *UDPPacketConn {
	return &UDPPacketConn{conn: conn}
}

// ListenUDP binds a new UDP socket on addr (host:port), for use by the
// reference demo and tests; production deployments may construct
// UDPPacketConn around a socket obtained however they like.
func ListenUDP(addr string) (*UDPPacketConn, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return NewUDPPacketConn(conn), nil
}

// ReadFrom reads one datagram into b.
func (c *UDPPacketConn) ReadFrom(b []byte) (int, Addr, error) {
	n, addr, err := c.conn.ReadFromUDP(b)
	if addr == nil {
		return n, nil, err
	}
	return n, udpAddr{addr}, err
}

// WriteTo writes b as one datagram to addr.
func (c *UDPPacketConn) WriteTo(b []byte, addr Addr) (int, error) {
	udpTarget, ok := addr.(udpAddr)
	if !ok {
		raddr, err := net.ResolveUDPAddr("udp", addr.String())
		if err != nil {
			return 0, err
		}
		return c.conn.WriteToUDP(b, raddr)
	}
	return c.conn.WriteToUDP(b, udpTarget.UDPAddr)
}

// Close releases the underlying socket.
func (c *UDPPacketConn) Close() error { return c.conn.Close() }

// LocalAddr returns the bound local address.
func (c *UDPPacketConn) LocalAddr() net.Addr { return c.conn.LocalAddr() }
