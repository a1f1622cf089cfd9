package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/spanz"
)

// TestConcurrentTracking tests concurrent span lifecycles across independent units.
func TestConcurrentTracking(t *testing.T) {
	tracer := spanz.New("race-test-service")
	defer tracer.Close()
	collector := NewMockCollector(t, tracer, 10000)

	var wg sync.WaitGroup
	numGoroutines := 20
	spansPerGoroutine := 50

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(routine int) {
			defer wg.Done()

			ctx := spanz.NewUnit(context.Background())
			for j := 0; j < spansPerGoroutine; j++ {
				ctx1, span1 := tracer.Open(ctx, spanz.Name("parent"), nil)
				_, span2 := tracer.Open(ctx1, spanz.Name("child"), nil)

				span1.SetMeta(spanz.Meta{"routine": routine})
				span2.SetMeta(spanz.Meta{"iteration": j})

				span2.End(spanz.OK)
				span1.End(spanz.OK)
			}
		}(i)
	}
	wg.Wait()

	signals := collector.GetAll()
	want := numGoroutines * spansPerGoroutine * 2 * 2
	if len(signals) != want {
		t.Fatalf("Expected %d signals, got %d", want, len(signals))
	}

	tree := BuildSpanTree(signals)
	tree.AssertComplete(t)
	for _, root := range tree.Roots {
		if d := tree.Depth(root); d != 2 {
			t.Errorf("root %s: expected depth 2, got %d", root, d)
		}
	}
}

// TestConcurrentHandlerChurn attaches and detaches handlers while spans are emitted.
func TestConcurrentHandlerChurn(t *testing.T) {
	tracer := spanz.New("churn")
	defer tracer.Close()

	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				id := tracer.OnSignal(func(spanz.Signal) {})
				tracer.Detach(id)
			}
		}
	}()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		spanz.Go(context.Background(), func(ctx context.Context) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, _ = tracer.Track(ctx, spanz.Name("op"), nil,
					func(context.Context, *spanz.ActiveSpan) (any, error) { return spanz.OK, nil })
			}
		})
	}

	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()

	if n := tracer.Registry().Len(); n != 0 {
		t.Errorf("Expected empty registry, got %d entries", n)
	}
}

// TestConcurrentActivationToggle flips the tracer on and off while units track
// work and verifies every emitted start is paired with exactly one terminal signal.
func TestConcurrentActivationToggle(t *testing.T) {
	tracer := spanz.New("toggle")
	defer tracer.Close()
	ledger := NewPairingLedger(tracer)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		spanz.Go(context.Background(), func(ctx context.Context) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				ctx1, outer := tracer.Open(ctx, spanz.Name("outer"), nil)
				_, inner := tracer.Open(ctx1, spanz.Name("inner"), nil)
				inner.End(spanz.OK)
				outer.End(spanz.OK)
				if tracer.LocalSpan(ctx) != nil {
					t.Error("active span left behind after unwinding")
					return
				}
			}
		})
	}

	for i := 0; i < 100; i++ {
		tracer.Deactivate()
		time.Sleep(50 * time.Microsecond)
		tracer.Activate()
		time.Sleep(50 * time.Microsecond)
	}
	wg.Wait()

	ledger.Verify(t)
	if ledger.Starts() == 0 {
		t.Error("Expected some spans to be reported while active")
	}
}
