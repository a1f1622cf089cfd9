package spanz

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Collector buffers signals for later inspection or batch export.
// Attach it with tracer.Attach(prefix, collector.Handle).
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	signals      []Signal
	signalsCh    chan Signal
	stopCh       chan struct{}
	done         chan struct{}
	droppedCount atomic.Int64
	name         string
	mu           sync.Mutex
	closeOnce    sync.Once
	closed       atomic.Bool
	syncMode     atomic.Bool // Bypass channel for synchronous collection.
}

// NewCollector creates a collector with the given name and channel buffer size.
func NewCollector(name string, bufferSize int) *Collector {
	if bufferSize < 1 {
		bufferSize = 1
	}
	c := &Collector{
		name:      name,
		signals:   make([]Signal, 0, 8),
		signalsCh: make(chan Signal, bufferSize),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.start()
	return c
}

// Name returns the collector name.
func (c *Collector) Name() string {
	return c.name
}

// start receives signals from the channel until Close.
func (c *Collector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining signals before shutdown.
			for {
				select {
				case sig := <-c.signalsCh:
					c.buffer(sig)
				default:
					return
				}
			}
		case sig := <-c.signalsCh:
			c.buffer(sig)
		}
	}
}

// Close stops the collector goroutine, waiting briefly for queued signals.
// Signals handled after Close are dropped.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stopCh)
		select {
		case <-c.done:
		case <-time.After(100 * time.Millisecond):
		}
	})
}

// Handle buffers a signal. It matches the Handler signature.
// If the channel is full the signal is dropped and counted.
func (c *Collector) Handle(sig Signal) {
	if c.closed.Load() {
		c.droppedCount.Inc()
		return
	}

	sig = copySignal(sig)

	if c.syncMode.Load() {
		c.buffer(sig)
		return
	}

	select {
	case c.signalsCh <- sig:
	default:
		// Channel full - drop rather than block the emitting unit.
		c.droppedCount.Inc()
	}
}

func (c *Collector) buffer(sig Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals = append(c.signals, sig)
}

// Export returns the buffered signals and clears the buffer.
func (c *Collector) Export() []Signal {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.signals) == 0 {
		return nil
	}

	result := make([]Signal, len(c.signals))
	copy(result, c.signals)

	// Release oversized buffers after a burst.
	if cap(c.signals) > 256 && len(c.signals) < cap(c.signals)/8 {
		c.signals = make([]Signal, 0, cap(c.signals)/4)
	} else {
		c.signals = c.signals[:0]
	}

	return result
}

// Snapshot returns the buffered signals without clearing them.
func (c *Collector) Snapshot() []Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Signal(nil), c.signals...)
}

// Count returns the number of buffered signals.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.signals)
}

// DroppedCount returns the number of signals dropped due to backpressure.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// SetSyncMode enables synchronous collection for testing.
// When enabled, signals are buffered directly without using the channel.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode.Store(sync)
}

// Reset clears buffered signals and the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.signals = c.signals[:0]
	c.droppedCount.Store(0)
}

// copySignal detaches the signal from maps the emitter may still reference.
func copySignal(sig Signal) Signal {
	out := Signal{
		Name:         append(EventName(nil), sig.Name...),
		Measurements: make(map[string]any, len(sig.Measurements)),
		Metadata:     make(map[string]any, len(sig.Metadata)),
	}
	for k, v := range sig.Measurements {
		out.Measurements[k] = v
	}
	for k, v := range sig.Metadata {
		out.Metadata[k] = v
	}
	return out
}
