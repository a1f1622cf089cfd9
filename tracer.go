package spanz

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/zoobzio/clockz"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Tracer is an instrumentation namespace: a name, an event name prefix, an
// active flag, the handlers attached to it and the registry of active spans.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	handlers      []handlerEntry
	panicHook     func(handlerID uint64, r interface{})
	workers       *workerPool
	spanIDs       *IDPool
	registry      atomic.Pointer[SpanRegistry]
	clock         clockz.Clock
	logger        *zap.Logger
	name          string
	prefix        EventName
	shards        int
	handlersLock  sync.RWMutex
	stateLock     sync.Mutex
	idPoolOnce    sync.Once
	nextID        atomic.Uint64
	emitted       atomic.Uint64
	droppedSignal atomic.Uint64
	handlerPanics atomic.Uint64
}

// Option configures a Tracer.
type Option func(*options)

type options struct {
	clock    clockz.Clock
	logger   *zap.Logger
	prefix   EventName
	shards   int
	disabled bool
}

// WithClock sets the clock used for timestamps and durations.
// Enables clock injection for deterministic testing.
func WithClock(clock clockz.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithLogger sets the logger for tracer diagnostics. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithPrefix sets the event name prefix. Defaults to the tracer name.
func WithPrefix(segments ...string) Option {
	return func(o *options) { o.prefix = append(EventName(nil), segments...) }
}

// WithRegistryShards sets the registry shard count.
func WithRegistryShards(n int) Option {
	return func(o *options) { o.shards = n }
}

// Disabled creates the tracer inactive. Call Activate to turn it on.
func Disabled() Option {
	return func(o *options) { o.disabled = true }
}

// New creates an active tracer named name.
func New(name string, opts ...Option) *Tracer {
	o := options{
		clock:  clockz.RealClock,
		shards: DefaultRegistryShards,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.prefix == nil {
		o.prefix = EventName{name}
	}

	t := &Tracer{
		handlers: make([]handlerEntry, 0),
		clock:    o.clock,
		logger:   o.logger.Named("spanz").With(zap.String("context", name)),
		name:     name,
		prefix:   o.prefix,
		shards:   o.shards,
	}
	if !o.disabled {
		t.Activate()
	}
	return t
}

// Name returns the tracer name. Spans carry it as their context.
func (t *Tracer) Name() string {
	return t.name
}

// Prefix returns a copy of the event name prefix.
func (t *Tracer) Prefix() EventName {
	return append(EventName(nil), t.prefix...)
}

// Activate turns the tracer on and creates a fresh span registry.
// No-op if already active.
func (t *Tracer) Activate() {
	t.stateLock.Lock()
	defer t.stateLock.Unlock()
	if t.registry.Load() != nil {
		return
	}
	t.registry.Store(NewSpanRegistry(t.shards))
	t.logger.Debug("tracer activated", zap.Int("registry_shards", t.shards))
}

// Deactivate turns the tracer off and drops the registry. While inactive no
// signals are emitted and nothing is registered; spans still scope locally.
func (t *Tracer) Deactivate() {
	t.stateLock.Lock()
	defer t.stateLock.Unlock()
	if t.registry.Swap(nil) == nil {
		return
	}
	t.logger.Debug("tracer deactivated")
}

// IsActive reports whether the tracer is active.
func (t *Tracer) IsActive() bool {
	return t.registry.Load() != nil
}

// Registry returns the span registry, or nil when the tracer is inactive.
func (t *Tracer) Registry() *SpanRegistry {
	return t.registry.Load()
}

// ensureIDPool initializes the span ID pool if not already created.
func (t *Tracer) ensureIDPool() {
	t.idPoolOnce.Do(func() {
		// Pool size based on number of CPUs for optimal contention balance.
		t.spanIDs = NewIDPool(runtime.NumCPU()*64, newSpanID)
	})
}

func (t *Tracer) nextSpanID() SpanID {
	t.ensureIDPool()
	return t.spanIDs.Get()
}

// OnSignal attaches a synchronous handler to every signal under the tracer prefix.
func (t *Tracer) OnSignal(handler Handler) uint64 {
	return t.registerHandler(t.prefix, handler, false)
}

// Attach registers a synchronous handler for signals whose name starts with prefix.
// An empty prefix receives every signal the tracer emits.
func (t *Tracer) Attach(prefix EventName, handler Handler) uint64 {
	return t.registerHandler(prefix, handler, false)
}

// AttachAsync registers a handler that runs off the emitting goroutine.
func (t *Tracer) AttachAsync(prefix EventName, handler Handler) uint64 {
	return t.registerHandler(prefix, handler, true)
}

func (t *Tracer) registerHandler(prefix EventName, handler Handler, async bool) uint64 {
	if handler == nil {
		return 0
	}

	id := t.nextID.Inc()

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	t.handlers = append(t.handlers, handlerEntry{
		id:      id,
		prefix:  append(EventName(nil), prefix...),
		handler: handler,
		async:   async,
	})

	return id
}

// Detach removes a handler by ID.
func (t *Tracer) Detach(id uint64) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	// Preserve order
	for i, h := range t.handlers {
		if h.id == id {
			copy(t.handlers[i:], t.handlers[i+1:])
			t.handlers = t.handlers[:len(t.handlers)-1]
			return
		}
	}
}

// HasHandlers reports whether any handler is attached.
func (t *Tracer) HasHandlers() bool {
	t.handlersLock.RLock()
	defer t.handlersLock.RUnlock()
	return len(t.handlers) > 0
}

// SetPanicHook sets a function to be called when a handler panics.
func (t *Tracer) SetPanicHook(hook func(handlerID uint64, r interface{})) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()
	t.panicHook = hook
}

// Open starts a span in the unit carried by ctx and makes it the unit's active
// span for this tracer. A root unit is created when ctx carries none; use the
// returned context for work inside the span.
//
// The start signal is delivered to synchronous handlers before Open returns.
// Close the span with End or Fail, or use Track.
func (t *Tracer) Open(ctx context.Context, name EventName, meta Meta) (context.Context, *ActiveSpan) {
	ctx, u := ensureUnit(ctx)

	span := Span{
		ID:        t.nextSpanID(),
		Context:   t.name,
		EventName: joinName(t.prefix, name),
		StartTime: t.clock.Now(),
	}
	if meta != nil {
		span = span.WithMeta(meta)
	}

	// The span active before this one is the restore point.
	prev := u.local(t)
	if prev != nil {
		span.ParentID = prev.ID()
	} else if entry, ok := t.registry.Load().LookupViaAncestor(ctx); ok {
		span.ParentID = entry.SpanID
	}

	// The registry snapshot decides whether this span reports signals.
	reg := t.registry.Load()

	active := &ActiveSpan{
		tracer:    t,
		unit:      u,
		prev:      prev,
		span:      span,
		id:        span.ID,
		context:   span.Context,
		eventName: append(EventName(nil), span.EventName...),
		emit:      reg != nil,
	}
	u.push(t, active)
	reg.Register(u.id, active.entry())

	if active.emit {
		snapshot := span.clone()
		t.deliver(startSignal(&snapshot))
	}

	return ctx, active
}

// Work is the function run inside a tracked span.
type Work func(ctx context.Context, span *ActiveSpan) (any, error)

// Track opens a span, runs fn inside it and closes it exactly once.
//
// A nil error closes the span with the returned value. A non-nil error, a panic
// or runtime.Goexit closes it with an exception signal instead. The error is
// returned unchanged and a panic is re-raised with the same value.
func (t *Tracer) Track(ctx context.Context, name EventName, meta Meta, fn Work) (result any, err error) {
	ctx, span := t.Open(ctx, name, meta)

	completed := false
	defer func() {
		if completed {
			return
		}
		if r := recover(); r != nil {
			span.Fail(KindPanic, r, debug.Stack())
			panic(r)
		}
		span.Fail(KindExit, "goexit", nil)
	}()

	result, err = fn(ctx, span)
	completed = true

	if err != nil {
		span.Fail(KindError, err, nil)
		return result, err
	}
	span.End(result)
	return result, nil
}

// CurrentSpan returns the span active in the calling unit. When the unit has
// none of its own, the span registered by its spawning unit is returned as a
// read-only reference.
func (t *Tracer) CurrentSpan(ctx context.Context) (SpanRef, bool) {
	if local := t.LocalSpan(ctx); local != nil {
		return local.ref(), true
	}
	entry, ok := t.registry.Load().LookupViaAncestor(ctx)
	if !ok {
		return SpanRef{}, false
	}
	return SpanRef{
		ID:        entry.SpanID,
		Context:   entry.Context,
		EventName: append(EventName(nil), entry.EventName...),
	}, true
}

// LocalSpan returns the span handle active in the calling unit, or nil.
func (t *Tracer) LocalSpan(ctx context.Context) *ActiveSpan {
	u := UnitFrom(ctx)
	if u == nil {
		return nil
	}
	return u.local(t)
}

// Emit sends a plain observation signal under the tracer prefix.
// No-op while the tracer is inactive.
func (t *Tracer) Emit(name EventName, measurements, metadata map[string]any) {
	if measurements == nil {
		measurements = map[string]any{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	t.emit(Signal{
		Name:         joinName(t.prefix, name),
		Measurements: measurements,
		Metadata:     metadata,
	})
}

// emit delivers sig if the tracer is active.
func (t *Tracer) emit(sig Signal) {
	if !t.IsActive() {
		return
	}
	t.deliver(sig)
}

// deliver sends sig to every matching handler regardless of the active flag.
func (t *Tracer) deliver(sig Signal) {
	t.emitted.Inc()

	t.handlersLock.RLock()
	if len(t.handlers) == 0 {
		t.handlersLock.RUnlock()
		return
	}

	handlers := make([]handlerEntry, 0, len(t.handlers))
	for _, h := range t.handlers {
		if sig.HasPrefix(h.prefix) {
			handlers = append(handlers, h)
		}
	}
	workers := t.workers
	t.handlersLock.RUnlock()

	for _, h := range handlers {
		if h.async {
			// Make a copy of h for closure
			entry := h
			if workers != nil {
				if !workers.submit(func() { t.safeCall(entry, sig) }) {
					t.logger.Warn("async signal queue full, signal dropped",
						zap.String("signal", sig.String()),
						zap.Uint64("handler_id", entry.id))
				}
			} else {
				go t.safeCall(entry, sig)
			}
		} else {
			t.safeCall(h, sig)
		}
	}
}

func (t *Tracer) safeCall(entry handlerEntry, sig Signal) {
	defer func() {
		if r := recover(); r != nil {
			t.handlerPanics.Inc()
			t.logger.Error("signal handler panicked",
				zap.Uint64("handler_id", entry.id),
				zap.String("signal", sig.String()),
				zap.Any("panic", r))

			t.handlersLock.RLock()
			hook := t.panicHook
			t.handlersLock.RUnlock()
			if hook != nil {
				hook(entry.id, r)
			}
		}
	}()
	entry.handler(sig)
}

// EnableWorkerPool creates a bounded worker pool for async handlers.
func (t *Tracer) EnableWorkerPool(workers, queueSize int) error {
	if workers <= 0 {
		return errors.New("workers must be > 0")
	}
	if queueSize <= 0 {
		return errors.New("queueSize must be > 0")
	}

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()
	if t.workers != nil {
		return errors.New("worker pool already enabled")
	}

	t.workers = &workerPool{
		tasks:   make(chan func(), queueSize),
		stop:    make(chan struct{}),
		dropped: &t.droppedSignal,
	}

	t.workers.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go t.workers.run()
	}

	return nil
}

// Stats is a snapshot of tracer counters.
type Stats struct {
	Emitted         uint64
	Dropped         uint64
	HandlerPanics   uint64
	RegisteredUnits int
}

// Stats returns the current counters.
func (t *Tracer) Stats() Stats {
	return Stats{
		Emitted:         t.emitted.Load(),
		Dropped:         t.droppedSignal.Load(),
		HandlerPanics:   t.handlerPanics.Load(),
		RegisteredUnits: t.registry.Load().Len(),
	}
}

// Close shuts down the tracer gracefully and cleans up resources.
// Handlers are detached and in-flight async deliveries are awaited.
func (t *Tracer) Close() {
	// Stop new handler executions
	t.handlersLock.Lock()
	t.handlers = nil
	workers := t.workers
	t.workers = nil
	t.handlersLock.Unlock()

	// Wait for in-flight async tasks
	if workers != nil {
		workers.shutdown()
	}

	t.ensureIDPool()
	t.spanIDs.Close()
}

// workerPool manages a fixed number of workers for async handlers.
//
//nolint:govet // Field order optimized for functionality over memory
type workerPool struct {
	tasks   chan func()
	stop    chan struct{}
	dropped *atomic.Uint64
	wg      sync.WaitGroup
}

func (w *workerPool) run() {
	defer w.wg.Done()
	for {
		select {
		case task := <-w.tasks:
			task()
		case <-w.stop:
			// Drain what was queued before shutdown.
			for {
				select {
				case task := <-w.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

func (w *workerPool) submit(task func()) bool {
	select {
	case w.tasks <- task:
		return true
	default:
		w.dropped.Inc()
		return false
	}
}

func (w *workerPool) shutdown() {
	close(w.stop)
	w.wg.Wait()
}
