package benchmarks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/zoobzio/spanz"
)

// BenchmarkOpenEnd measures a single span lifecycle with and without handlers.
func BenchmarkOpenEnd(b *testing.B) {
	b.Run("no-handlers", func(b *testing.B) {
		tracer := spanz.New("bench")
		defer tracer.Close()
		ctx := spanz.NewUnit(context.Background())

		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, span := tracer.Open(ctx, spanz.Name("op"), nil)
			span.End(spanz.OK)
		}
	})

	b.Run("sync-handler", func(b *testing.B) {
		tracer := spanz.New("bench")
		defer tracer.Close()
		var seen atomic.Int64
		tracer.OnSignal(func(spanz.Signal) { seen.Add(1) })
		ctx := spanz.NewUnit(context.Background())

		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, span := tracer.Open(ctx, spanz.Name("op"), spanz.Meta{"i": i})
			span.End(spanz.OK)
		}
		b.ReportMetric(float64(seen.Load())/float64(b.N), "signals/op")
	})

	b.Run("inactive", func(b *testing.B) {
		tracer := spanz.New("bench", spanz.Disabled())
		defer tracer.Close()
		ctx := spanz.NewUnit(context.Background())

		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, span := tracer.Open(ctx, spanz.Name("op"), nil)
			span.End(spanz.OK)
		}
	})
}

// BenchmarkTrack compares the exit paths of tracked work.
func BenchmarkTrack(b *testing.B) {
	errBench := errors.New("bench")
	paths := map[string]spanz.Work{
		"ok":    func(context.Context, *spanz.ActiveSpan) (any, error) { return spanz.OK, nil },
		"error": func(context.Context, *spanz.ActiveSpan) (any, error) { return nil, errBench },
		"fail":  func(context.Context, *spanz.ActiveSpan) (any, error) { return spanz.Fail("x"), nil },
	}
	for name, fn := range paths {
		b.Run(name, func(b *testing.B) {
			tracer := spanz.New("bench")
			defer tracer.Close()
			tracer.OnSignal(func(spanz.Signal) {})
			ctx := spanz.NewUnit(context.Background())

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_, _ = tracer.Track(ctx, spanz.Name("op"), nil, fn)
			}
		})
	}
}

// BenchmarkNestedDepth measures open/close cost as the chain grows.
func BenchmarkNestedDepth(b *testing.B) {
	for _, depth := range []int{1, 4, 16, 64} {
		b.Run(fmt.Sprintf("depth-%d", depth), func(b *testing.B) {
			tracer := spanz.New("bench")
			defer tracer.Close()
			ctx := spanz.NewUnit(context.Background())
			spans := make([]*spanz.ActiveSpan, depth)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				for d := 0; d < depth; d++ {
					_, spans[d] = tracer.Open(ctx, spanz.Name("level"), nil)
				}
				for d := depth - 1; d >= 0; d-- {
					spans[d].End(spanz.OK)
				}
			}
		})
	}
}

// BenchmarkConcurrentUnits tests the sharded registry under concurrent units.
func BenchmarkConcurrentUnits(b *testing.B) {
	concurrencyLevels := []int{1, 10, 50, 100}

	for _, concurrency := range concurrencyLevels {
		b.Run(fmt.Sprintf("concurrent-%d", concurrency), func(b *testing.B) {
			tracer := spanz.New("concurrent-test")
			defer tracer.Close()

			perWorker := b.N / concurrency
			if perWorker == 0 {
				perWorker = 1
			}

			var wg sync.WaitGroup
			var total int64

			b.ResetTimer()
			for i := 0; i < concurrency; i++ {
				wg.Add(1)
				spanz.Go(context.Background(), func(ctx context.Context) {
					defer wg.Done()
					for j := 0; j < perWorker; j++ {
						_, span := tracer.Open(ctx, spanz.Name("worker"), nil)
						span.End(spanz.OK)
						atomic.AddInt64(&total, 1)
					}
				})
			}
			wg.Wait()
			b.ReportMetric(float64(total), "total-spans")
		})
	}
}

// BenchmarkParallelTrack runs tracked work from parallel goroutines.
func BenchmarkParallelTrack(b *testing.B) {
	tracer := spanz.New("bench")
	defer tracer.Close()
	tracer.OnSignal(func(spanz.Signal) {})
	work := func(context.Context, *spanz.ActiveSpan) (any, error) { return spanz.OK, nil }

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		ctx := spanz.NewUnit(context.Background())
		for pb.Next() {
			_, _ = tracer.Track(ctx, spanz.Name("op"), nil, work)
		}
	})
}

// BenchmarkRegistry measures raw registry operations.
func BenchmarkRegistry(b *testing.B) {
	for _, shards := range []int{1, 32} {
		b.Run(fmt.Sprintf("shards-%d", shards), func(b *testing.B) {
			reg := spanz.NewSpanRegistry(shards)
			entry := spanz.RegistryEntry{SpanID: "bench", Context: "bench"}
			var next atomic.Uint64

			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				unit := spanz.UnitID(next.Add(1))
				for pb.Next() {
					reg.Register(unit, entry)
					_, _ = reg.Lookup(unit)
					reg.Unregister(unit)
				}
			})
		})
	}
}

// BenchmarkAsyncDelivery measures emission through the bounded worker pool.
func BenchmarkAsyncDelivery(b *testing.B) {
	tracer := spanz.New("bench")
	defer tracer.Close()
	if err := tracer.EnableWorkerPool(4, 4096); err != nil {
		b.Fatal(err)
	}
	tracer.AttachAsync(nil, func(spanz.Signal) {})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tracer.Emit(spanz.Name("tick"), nil, nil)
	}
	b.StopTimer()
	b.ReportMetric(float64(tracer.Stats().Dropped), "dropped")
}
