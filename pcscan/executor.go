package pcscan

import (
	"sync"
)

// Executor runs scan tasks off the calling goroutine. Submit reports whether
// the task was accepted; a refused task runs on a new goroutine instead.
type Executor interface {
	Submit(task func()) bool
}

// WorkerPool is a fixed set of goroutines draining a bounded queue.
type WorkerPool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool starts workers goroutines with room for queue pending tasks.
func NewWorkerPool(workers, queue int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	wp := &WorkerPool{tasks: make(chan func(), queue)}
	wp.wg.Add(workers)
	for range workers {
		go wp.work()
	}
	return wp
}

func (wp *WorkerPool) work() {
	defer wp.wg.Done()
	for task := range wp.tasks {
		task()
	}
}

// Submit queues task without blocking. It returns false when the queue is full
// or the pool is closed.
func (wp *WorkerPool) Submit(task func()) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return false
	}
	select {
	case wp.tasks <- task:
		return true
	default:
		return false
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (wp *WorkerPool) Close() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.tasks)
	wp.mu.Unlock()
	wp.wg.Wait()
}

// dispatch runs task according to tt, falling back to a detached goroutine
// when exec is nil or refuses it.
func dispatch(tt TaskType, exec Executor, task func()) {
	switch {
	case tt == TaskBlocking:
		task()
	case exec != nil && exec.Submit(task):
	default:
		go task()
	}
}
