// Package osthread runs debugger operations on one dedicated, locked OS
// thread. Debug APIs only accept requests from the thread that attached to
// the debuggee.
package osthread

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ErrClosed is returned for operations submitted after Close.
var ErrClosed = errors.New("debugger thread closed")

// PanicError reports an operation that panicked on the worker thread.
type PanicError struct {
	Op    string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: panic: %v", e.Op, e.Value)
}

// Worker owns the locked thread. Operations run one at a time in
// submission order.
type Worker struct {
	jobs    chan func()
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func New() *Worker {
	w := &Worker{
		jobs:    make(chan func()),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.stopped)

	for {
		select {
		case job := <-w.jobs:
			job()
		case <-w.quit:
			return
		}
	}
}

// Close waits for the running operation and stops the thread. It is safe
// to call more than once.
func (w *Worker) Close() {
	w.once.Do(func() { close(w.quit) })
	<-w.stopped
}

// Call runs the operation op on w's thread and returns its results.
func Call[T any](w *Worker, op string, fn func() (T, error)) (v T, err error) {
	done := make(chan struct{})
	job := func() {
		defer close(done)
		defer func() {
			if x := recover(); x != nil {
				err = &PanicError{Op: op, Value: x}
			}
		}()
		v, err = fn()
	}

	select {
	case w.jobs <- job:
	case <-w.quit:
		return v, fmt.Errorf("%s: %w", op, ErrClosed)
	}
	<-done
	return v, err
}

// Do is Call for operations without a result.
func (w *Worker) Do(op string, fn func() error) error {
	_, err := Call(w, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
