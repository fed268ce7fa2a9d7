// Package concurrency provides the bounded worker pool the scheduler fans
// per-slot processing out on.
package concurrency

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/alitto/pond"

	"pairgrid/internal/core"
)

// PoolConfig sizes a WorkerPool. MaxWorkers bounds how many slots are
// processed concurrently; MaxCapacity bounds the backlog of slots queued
// behind them within one scheduler loop.
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
}

// PoolStats is a point-in-time snapshot of the pool, exposed through the
// operator status surface.
type PoolStats struct {
	RunningWorkers int    `json:"running_workers"`
	IdleWorkers    int    `json:"idle_workers"`
	WaitingTasks   uint64 `json:"waiting_tasks"`
	SubmittedTasks uint64 `json:"submitted_tasks"`
	CompletedTasks uint64 `json:"completed_tasks"`
}

// WorkerPool wraps alitto/pond for slot processing. A panic in one slot's
// task is recovered and logged so it cannot take down the other slots
// sharing the pool.
type WorkerPool struct {
	pool    *pond.WorkerPool
	cfg     PoolConfig
	logger  core.ILogger
	stopped atomic.Bool
}

// NewWorkerPool builds a pool sized by cfg, with defaults small enough for
// a single-pair deployment.
func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 64
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 30 * time.Second
	}

	log := logger.WithField("component", "worker_pool").WithField("pool", cfg.Name)
	pool := pond.New(
		cfg.MaxWorkers,
		cfg.MaxCapacity,
		pond.MinWorkers(1),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(p interface{}) {
			log.Error("slot task panicked, recovered by pool", "panic", p)
		}),
	)

	return &WorkerPool{pool: pool, cfg: cfg, logger: log}
}

// ErrPoolStopped is returned by Submit after Stop has begun.
var ErrPoolStopped = errors.New("worker pool stopped")

// Submit queues one task. It blocks while the backlog is full and returns
// ErrPoolStopped instead of panicking if the pool is already shut down.
func (wp *WorkerPool) Submit(task func()) error {
	if wp.stopped.Load() {
		return ErrPoolStopped
	}
	wp.pool.Submit(task)
	return nil
}

// Stop drains the backlog, waits for running tasks, and releases the
// workers. Safe to call more than once.
func (wp *WorkerPool) Stop() {
	if wp.stopped.CompareAndSwap(false, true) {
		wp.pool.StopAndWait()
	}
}

// Stats snapshots the pool's gauges.
func (wp *WorkerPool) Stats() PoolStats {
	return PoolStats{
		RunningWorkers: wp.pool.RunningWorkers(),
		IdleWorkers:    wp.pool.IdleWorkers(),
		WaitingTasks:   wp.pool.WaitingTasks(),
		SubmittedTasks: wp.pool.SubmittedTasks(),
		CompletedTasks: wp.pool.CompletedTasks(),
	}
}

// Healthcheck satisfies the health registry's probe shape: a stopped pool
// is unhealthy, since the scheduler can no longer process slots through it.
func (wp *WorkerPool) Healthcheck() error {
	if wp.stopped.Load() {
		return ErrPoolStopped
	}
	return nil
}
