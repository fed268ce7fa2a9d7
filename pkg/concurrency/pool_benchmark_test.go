package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"

	"pairgrid/pkg/logging"
)

func BenchmarkWorkerPoolSubmit(b *testing.B) {
	pool := NewWorkerPool(PoolConfig{
		Name:        "bench-slots",
		MaxWorkers:  10,
		MaxCapacity: 1000,
	}, logging.Nop())
	defer pool.Stop()

	b.ResetTimer()
	var counter int64
	for i := 0; i < b.N; i++ {
		_ = pool.Submit(func() {
			atomic.AddInt64(&counter, 1)
		})
	}
}

func BenchmarkGoroutineSpawn(b *testing.B) {
	var wg sync.WaitGroup
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wg.Add(1)
		go func() {
			wg.Done()
		}()
	}
	wg.Wait()
}
