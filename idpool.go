package spanz

import (
	"sync"

	"github.com/google/uuid"
)

// newSpanID returns a random (version 4) UUID as a span id.
func newSpanID() SpanID {
	return SpanID(uuid.NewString())
}

// IDPool keeps a buffer of pre-generated span ids so Open does not pay for
// random number generation on the hot path.
type IDPool struct {
	factory func() SpanID
	ids     chan SpanID
	stopCh  chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewIDPool creates a pool holding up to capacity ids produced by factory.
func NewIDPool(capacity int, factory func() SpanID) *IDPool {
	if capacity < 1 {
		capacity = 1
	}
	pool := &IDPool{
		ids:     make(chan SpanID, capacity),
		factory: factory,
		stopCh:  make(chan struct{}),
	}
	go pool.refill()
	return pool
}

// Get returns a pooled id, or a freshly generated one when the pool is empty.
// Every id is handed out once.
func (p *IDPool) Get() SpanID {
	select {
	case id := <-p.ids:
		return id
	default:
		return p.factory()
	}
}

// refill keeps the buffer topped up until Close.
func (p *IDPool) refill() {
	for {
		id := p.factory()
		select {
		case p.ids <- id:
		case <-p.stopCh:
			return
		}
	}
}

// Close stops the refill goroutine. Get keeps working afterwards.
func (p *IDPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		close(p.stopCh)
		p.closed = true
	}
}
