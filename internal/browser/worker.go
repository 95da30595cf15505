package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrWorkerStopped is returned for jobs submitted after Stop
var ErrWorkerStopped = errors.New("browser worker stopped")

type job struct {
	fn     func() error
	result chan error
}

// Worker runs jobs on a single goroutine in submission order.
// It is the only goroutine allowed to touch a Driver.
type Worker struct {
	jobs     chan job
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWorker starts a worker goroutine
func NewWorker() *Worker {
	w := &Worker{
		jobs: make(chan job),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		// Stop wins over pending submissions
		select {
		case <-w.quit:
			return
		default:
		}

		select {
		case <-w.quit:
			return
		case j := <-w.jobs:
			j.result <- w.exec(j.fn)
		}
	}
}

func (w *Worker) exec(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("browser job panicked: %v", r)
		}
	}()
	return fn()
}

// Do submits fn and waits for its result.
// If ctx ends while fn is running, Do returns early and fn keeps running.
func (w *Worker) Do(ctx context.Context, fn func() error) error {
	j := job{fn: fn, result: make(chan error, 1)}

	select {
	case w.jobs <- j:
	case <-w.quit:
		return ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop lets the in-flight job finish, then ends the worker goroutine.
// Safe to call more than once.
func (w *Worker) Stop() {
	w.Shutdown(context.Background())
}

// Shutdown is Stop bounded by ctx. It reports whether the worker exited;
// when it did not, the goroutine exits as soon as the in-flight job returns.
func (w *Worker) Shutdown(ctx context.Context) bool {
	w.stopOnce.Do(func() {
		close(w.quit)
	})
	select {
	case <-w.done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Done is closed once the worker goroutine has exited
func (w *Worker) Done() <-chan struct{} {
	return w.done
}
