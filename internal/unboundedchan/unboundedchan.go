// Package unboundedchan provides a FIFO queue that never blocks its sender.
// The status publisher sits behind one so RPC handlers never wait on ZMQ.
package unboundedchan

import "sync/atomic"

// UnboundedChannel is an unbounded queue whose items enter and leave via channels.
// Use pointers or small values for T; every queued item is held in memory.
type UnboundedChannel[T any] struct {
	in      chan T
	out     chan T
	queue   []T
	pending atomic.Int64
}

// NewUnboundedChannel creates an UnboundedChannel and starts its forwarding goroutine.
func NewUnboundedChannel[T any]() *UnboundedChannel[T] {
	uc := &UnboundedChannel[T]{
		in:  make(chan T),
		out: make(chan T),
	}
	go uc.run()
	return uc
}

func (uc *UnboundedChannel[T]) run() {
	in := uc.in
	for in != nil || len(uc.queue) > 0 {
		// A nil channel blocks forever, so each select case is enabled only when useful.
		var out chan T
		var next T
		if len(uc.queue) > 0 {
			out = uc.out
			next = uc.queue[0]
		}
		select {
		case val, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			uc.queue = append(uc.queue, val)
			uc.pending.Add(1)
		case out <- next:
			var zero T
			uc.queue[0] = zero
			uc.queue = uc.queue[1:]
			uc.pending.Add(-1)
		}
	}
	close(uc.out)
}

// In returns the input channel. Closing it drains the queue and then closes Out.
func (uc *UnboundedChannel[T]) In() chan<- T {
	return uc.in
}

// Out returns the output channel.
func (uc *UnboundedChannel[T]) Out() <-chan T {
	return uc.out
}

// Len returns the number of items waiting to be received.
func (uc *UnboundedChannel[T]) Len() int {
	return int(uc.pending.Load())
}
