package session

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Dispatcher is the execution context handler callbacks are delivered on.
// UI front ends implement it over their main loop so that callbacks arrive
// with UI-thread affinity; services and tests can use Synchronous or a
// SerialDispatcher.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(fn func())

// Dispatch calls f(fn).
func (f DispatcherFunc) Dispatch(fn func()) { f(fn) }

// Synchronous runs callbacks inline on the calling goroutine. Handlers then
// execute on the receive loop itself, so they must not block.
var Synchronous Dispatcher = DispatcherFunc(func(fn func()) { fn() })

// SerialDispatcher delivers callbacks one at a time, in posting order, on a
// single owned goroutine. It is the default execution context when the caller
// supplies none.
type SerialDispatcher struct {
	fns       chan func()
	done      chan struct{}
	closeOnce sync.Once
}

// NewSerialDispatcher creates a SerialDispatcher and starts its delivery
// goroutine.
func NewSerialDispatcher() *SerialDispatcher {
	d := &SerialDispatcher{
		fns:  make(chan func(), 256),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

// Dispatch queues fn for delivery. It blocks when the queue is full and drops
// fn after Close.
func (d *SerialDispatcher) Dispatch(fn func()) {
	select {
	case <-d.done:
		return
	default:
	}
	select {
	case d.fns <- fn:
	case <-d.done:
	}
}

// Close stops the delivery goroutine after draining already-queued callbacks.
func (d *SerialDispatcher) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}

func (d *SerialDispatcher) run() {
	for {
		select {
		case fn := <-d.fns:
			invoke(fn)
		case <-d.done:
			for {
				select {
				case fn := <-d.fns:
					invoke(fn)
				default:
					return
				}
			}
		}
	}
}

// invoke runs a callback with panic recovery so a broken handler cannot take
// down the delivery goroutine.
func invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatch panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
