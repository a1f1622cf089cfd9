package integration

import (
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/spanz"
)

// MockCollector wraps a real collector with test utilities.
// Provides synchronous collection and verification helpers.
//
//nolint:govet // Field alignment optimized for test helper readability
type MockCollector struct {
	exported []spanz.Signal
	*spanz.Collector
	t  *testing.T
	mu sync.Mutex
}

// NewMockCollector creates a synchronous collector attached to every signal of tracer.
func NewMockCollector(t *testing.T, tracer *spanz.Tracer, bufferSize int) *MockCollector {
	collector := spanz.NewCollector(tracer.Name(), bufferSize)
	collector.SetSyncMode(true)
	tracer.Attach(nil, collector.Handle)
	t.Cleanup(collector.Close)
	return &MockCollector{
		Collector: collector,
		t:         t,
		exported:  make([]spanz.Signal, 0),
	}
}

// GetAll returns every signal collected so far without losing earlier exports.
func (m *MockCollector) GetAll() []spanz.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.Collector.Export()
	if len(current) > 0 {
		m.exported = append(m.exported, current...)
	}

	all := make([]spanz.Signal, len(m.exported))
	copy(all, m.exported)
	return all
}

// WaitForSignals waits for expected number of signals with timeout.
func (m *MockCollector) WaitForSignals(expected int, timeout time.Duration) []spanz.Signal {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if all := m.GetAll(); len(all) >= expected {
			return all
		}
		time.Sleep(5 * time.Millisecond)
	}
	all := m.GetAll()
	m.t.Fatalf("timed out waiting for %d signals, got %d", expected, len(all))
	return all
}

// SpanTree indexes lifecycle signals by span id.
//
//nolint:govet // Field alignment optimized for test helper readability
type SpanTree struct {
	Starts    map[spanz.SpanID]spanz.Signal
	Terminals map[spanz.SpanID]spanz.Signal
	Children  map[spanz.SpanID][]spanz.SpanID
	Roots     []spanz.SpanID
}

// BuildSpanTree groups signals into start/terminal pairs and parent links.
func BuildSpanTree(signals []spanz.Signal) *SpanTree {
	tree := &SpanTree{
		Starts:    make(map[spanz.SpanID]spanz.Signal),
		Terminals: make(map[spanz.SpanID]spanz.Signal),
		Children:  make(map[spanz.SpanID][]spanz.SpanID),
	}
	for _, sig := range signals {
		id, ok := sig.SpanID()
		if !ok {
			continue
		}
		switch sig.Suffix() {
		case spanz.SuffixStart:
			tree.Starts[id] = sig
			if parent, ok := sig.Metadata[spanz.KeyParentID].(spanz.SpanID); ok {
				tree.Children[parent] = append(tree.Children[parent], id)
			} else {
				tree.Roots = append(tree.Roots, id)
			}
		case spanz.SuffixStop, spanz.SuffixException:
			tree.Terminals[id] = sig
		}
	}
	return tree
}

// AssertComplete fails the test when any started span lacks a terminal signal.
func (tree *SpanTree) AssertComplete(t *testing.T) {
	t.Helper()
	for id := range tree.Starts {
		if _, ok := tree.Terminals[id]; !ok {
			t.Errorf("span %s has no terminal signal", id)
		}
	}
}

// Depth returns the depth of the deepest chain below id.
func (tree *SpanTree) Depth(id spanz.SpanID) int {
	deepest := 0
	for _, child := range tree.Children[id] {
		if d := tree.Depth(child); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}

// PairingLedger counts lifecycle signals per span id as they are delivered.
//
//nolint:govet // Field alignment optimized for test helper readability
type PairingLedger struct {
	starts    map[spanz.SpanID]int
	terminals map[spanz.SpanID]int
	orphans   int
	mu        sync.Mutex
}

// NewPairingLedger creates a ledger attached synchronously to every signal of tracer.
func NewPairingLedger(tracer *spanz.Tracer) *PairingLedger {
	l := &PairingLedger{
		starts:    make(map[spanz.SpanID]int),
		terminals: make(map[spanz.SpanID]int),
	}
	tracer.Attach(nil, l.handle)
	return l
}

func (l *PairingLedger) handle(sig spanz.Signal) {
	id, ok := sig.SpanID()
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	switch sig.Suffix() {
	case spanz.SuffixStart:
		l.starts[id]++
	case spanz.SuffixStop, spanz.SuffixException:
		if l.starts[id] == 0 {
			l.orphans++
		}
		l.terminals[id]++
	}
}

// Starts returns the number of distinct spans that emitted a start signal.
func (l *PairingLedger) Starts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.starts)
}

// Verify fails the test unless every start has exactly one terminal signal
// and no terminal signal arrived without a start.
func (l *PairingLedger) Verify(t *testing.T) {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.orphans > 0 {
		t.Errorf("%d terminal signals arrived without a start", l.orphans)
	}
	for id, n := range l.starts {
		if n != 1 {
			t.Errorf("span %s started %d times", id, n)
		}
		if l.terminals[id] != 1 {
			t.Errorf("span %s has %d terminal signals", id, l.terminals[id])
		}
	}
	for id := range l.terminals {
		if l.starts[id] == 0 {
			t.Errorf("span %s closed without a start", id)
		}
	}
}
