// Package cache implements the invisible sample cache that decouples
// reactor-thread event arrival from application-thread polling.
package cache

import (
	"container/list"
	"sync"

	"github.com/quickcom/someip-ipc-core/logx"
)

// Sample is one cached notification. The cache treats it as an opaque
// payload; callers (event backends) attach whatever representation they
// need.
type Sample struct {
	Payload []byte
}

// InvisibleSampleCache is a bounded, mutex-guarded two-stage FIFO: a
// reactor-stage list fed by enqueue (reactor thread) and an
// application-stage list fed from the reactor stage by GetSamples
// (application thread). Enqueue bounds only the reactor stage, so both
// stages together can exceed Capacity between calls; GetSamples trims the
// application stage to bring the total back within Capacity.
type InvisibleSampleCache struct {
	logger logx.Logger

	mu          sync.Mutex
	capacity    int
	reactorList *list.List
	appList     *list.List
}

// NewInvisibleSampleCache creates a cache with the given initial capacity.
func NewInvisibleSampleCache(capacity int, logger logx.Logger) *InvisibleSampleCache {
	if logger == nil {
		logger = logx.NewDefaultLogger()
	}
	if capacity < 0 {
		capacity = 0
	}
	return &InvisibleSampleCache{
		logger:      logger,
		capacity:    capacity,
		reactorList: list.New(),
		appList:     list.New(),
	}
}

// Resize sets the new capacity. It does not drop data by itself; excess
// entries are dropped lazily by GetSamples or eagerly by the next Enqueue
// once the reactor stage is already at the new capacity.
func (c *InvisibleSampleCache) Resize(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = capacity
}

// Enqueue is called from the reactor thread as each notification arrives.
// If capacity is 0, the notification is dropped and Enqueue returns false.
// If the reactor stage is already at capacity, the oldest reactor-stage
// entry is dropped to make room. Returns true if the sample was queued.
func (c *InvisibleSampleCache) Enqueue(sample Sample) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity == 0 {
		c.logger.Debug("sample cache: capacity 0, dropping notification")
		return false
	}
	if c.reactorList.Len() == c.capacity {
		c.reactorList.Remove(c.reactorList.Front())
	}
	c.reactorList.PushBack(sample)
	return true
}

// GetSamples is called from the application thread to retrieve up to n
// samples. Before returning, it enforces app_list.size + reactor_list.size
// <= capacity by dropping the oldest app-list entries (the application
// stage owns whichever entries survive), then moves
// min(n - app_list.size, reactor_list.size) oldest reactor-stage entries
// into the application stage. The returned slice is the live application
// list contents, oldest first; the caller consumes it in place.
func (c *InvisibleSampleCache) GetSamples(n int) []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.appList.Len()+c.reactorList.Len() > c.capacity && c.appList.Len() > 0 {
		c.appList.Remove(c.appList.Front())
	}

	if c.appList.Len() < n {
		want := n - c.appList.Len()
		if want > c.reactorList.Len() {
			want = c.reactorList.Len()
		}
		for i := 0; i < want; i++ {
			front := c.reactorList.Front()
			c.reactorList.Remove(front)
			c.appList.PushBack(front.Value)
		}
	}

	out := make([]Sample, 0, c.appList.Len())
	for e := c.appList.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Sample))
	}
	return out
}

// Clear resets capacity to 0 and discards both stages.
func (c *InvisibleSampleCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = 0
	c.reactorList = list.New()
	c.appList = list.New()
}

// Len reports the combined size of both stages, for tests and diagnostics.
func (c *InvisibleSampleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reactorList.Len() + c.appList.Len()
}
