package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrPoolStopped is returned by Submit once the pool has been stopped.
var ErrPoolStopped = errors.New("worker pool stopped")

// Task is one unit of work run on a pool worker.
type Task func(ctx context.Context)

// Job represents a task to be executed by a worker.
// It encapsulates the data needed for the task and a channel to signal completion.
type Job struct {
	Ctx  context.Context
	Task Task
	Done chan struct{}
}

// WorkerPool manages a pool of workers to process jobs concurrently.
type WorkerPool struct {
	numWorkers int
	jobQueue   chan Job
	logger     *slog.Logger
	wg         sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewWorkerPool creates a new worker pool.
// numWorkers: the number of worker goroutines to spawn.
// queueSize: the size of the job queue.
func NewWorkerPool(numWorkers, queueSize int, logger *slog.Logger) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &WorkerPool{
		numWorkers: numWorkers,
		jobQueue:   make(chan Job, queueSize),
		logger:     logger,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	for i := 1; i <= wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.logger.Info("Worker pool started", "num_workers", wp.numWorkers)
}

// Submit queues task and waits for it to finish. It returns an error only
// when the task could not be queued: ctx ended first or the pool is stopped.
// Once queued, the task always runs to completion.
func (wp *WorkerPool) Submit(ctx context.Context, task Task) error {
	job := Job{
		Ctx:  ctx,
		Task: task,
		Done: make(chan struct{}),
	}

	wp.mu.RLock()
	if wp.stopped {
		wp.mu.RUnlock()
		return ErrPoolStopped
	}
	select {
	case wp.jobQueue <- job:
		wp.mu.RUnlock()
	case <-ctx.Done():
		wp.mu.RUnlock()
		return ctx.Err()
	}

	<-job.Done
	return nil
}

// Stop gracefully shuts down the worker pool.
// It closes the job queue and waits for all workers to finish their current jobs.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobQueue)
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.logger.Info("Worker pool stopped")
}

// worker is the main loop for a single worker goroutine.
// It continuously fetches jobs from the queue and processes them.
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	for job := range wp.jobQueue {
		wp.run(id, job)
	}
}

func (wp *WorkerPool) run(id int, job Job) {
	defer close(job.Done)
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("Worker recovered from panic", "worker_id", id, "panic", r)
		}
	}()
	job.Task(job.Ctx)
}
