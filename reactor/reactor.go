// Package reactor defines the single-threaded event loop that drives I/O
// callbacks and timer expirations for the SOME/IP-TP and IPC proxy core,
// plus a reference implementation adapted from the teacher's
// transport/udp and transport/unix packages. Production deployments may
// substitute their own Reactor as long as they preserve the "never block
// the reactor goroutine" invariant.
package reactor

import (
	"context"
	"sync"
	"time"
)

// Conn is the reliable byte-stream connection the IPC proxy runs over,
// satisfied by *net.UnixConn / *net.TCPConn.
type Conn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
}

// PacketConn is the datagram transport the SOME/IP-TP segmenter and
// reassembler run over, satisfied by *net.UDPConn.
type PacketConn interface {
	ReadFrom(b []byte) (n int, addr Addr, err error)
	WriteTo(b []byte, addr Addr) (int, error)
	Close() error
}

// Addr is a minimal peer-address abstraction so this package does not
// require importing net for its interfaces alone.
type Addr interface {
	Network() string
	String() string
}

// Reactor is a single-goroutine task queue: every task posted with Post
// runs serially on the reactor goroutine, in submission order, matching
// spec.md §5's "single reactor thread drives all I/O callbacks, timer
// expirations ... and the connection proxy's receive dispatch."
type Reactor struct {
	tasks chan func()
}

// New creates a Reactor with a reasonably sized task queue; Post blocks
// only if the queue is saturated, which should not happen under the
// "never block the reactor thread" discipline this package enforces for
// its own callbacks.
func New() *Reactor {
	return &Reactor{tasks: make(chan func(), 256)}
}

// Run drains and executes posted tasks until ctx is cancelled. It is
// meant to be the body of the single goroutine designated as "the
// reactor thread."
func (r *Reactor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-r.tasks:
			task()
		}
	}
}

// Post schedules fn to run on the reactor goroutine. Safe to call from
// any goroutine, including from within another task already running on
// the reactor.
func (r *Reactor) Post(fn func()) {
	r.tasks <- fn
}

// Timer adapts Reactor into the someip/tp.Timer interface (Start/Stop),
// so the TP segmenter's periodic burst emission runs as reactor tasks
// rather than on its own goroutine, preserving single-threaded ownership
// of all reassembly and segmentation state.
type Timer struct {
	reactor *Reactor

	mu      sync.Mutex
	ticker  *time.Ticker
	stopped chan struct{}
}

// NewTimer creates a Timer bound to reactor.
func NewTimer(reactor *Reactor) *Timer {
	return &Timer{reactor: reactor}
}

// Start begins invoking fn, as a reactor task, every period until Stop is
// called.
func (t *Timer) Start(period time.Duration, fn func()) {
	t.mu.Lock()
	if t.ticker != nil {
		t.ticker.Stop()
	}
	t.ticker = time.NewTicker(period)
	stopped := make(chan struct{})
	t.stopped = stopped
	ticker := t.ticker
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-stopped:
				return
			case <-ticker.C:
				t.reactor.Post(fn)
			}
		}
	}()
}

// Stop halts further invocations. Idempotent.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ticker == nil {
		return
	}
	t.ticker.Stop()
	close(t.stopped)
	t.ticker = nil
}
