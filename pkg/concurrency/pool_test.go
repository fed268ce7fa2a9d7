package concurrency

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairgrid/pkg/logging"
)

func TestSubmitRunsTasksAndStatsCount(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "test-slots", MaxWorkers: 2}, logging.Nop())

	var mu sync.Mutex
	ran := 0
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(func() {
			defer wg.Done()
			mu.Lock()
			ran++
			mu.Unlock()
		}))
	}
	wg.Wait()
	pool.Stop()

	assert.Equal(t, 5, ran)
	stats := pool.Stats()
	assert.Equal(t, uint64(5), stats.SubmittedTasks)
	assert.Equal(t, uint64(5), stats.CompletedTasks)
}

func TestSubmitAfterStopRefused(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "test-slots", MaxWorkers: 1}, logging.Nop())
	pool.Stop()

	err := pool.Submit(func() {})
	require.ErrorIs(t, err, ErrPoolStopped)
	require.Error(t, pool.Healthcheck())
}

func TestHealthcheckHealthyWhileRunning(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "test-slots", MaxWorkers: 1}, logging.Nop())
	defer pool.Stop()
	require.NoError(t, pool.Healthcheck())
}

func TestStopIsIdempotent(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "test-slots", MaxWorkers: 1}, logging.Nop())
	pool.Stop()
	pool.Stop()
}
