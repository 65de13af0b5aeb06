// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventqueue runs callbacks one at a time, in the order they
// were posted, on a dedicated goroutine.
//
// Collaborators that promise "events are delivered in arrival order"
// (social providers, signaling channels) use a Queue so that a slow
// handler delays later events instead of reordering them, and so that
// posting never blocks the producer. The queue is unbounded.
package eventqueue

import "sync"

// Queue is an unbounded FIFO of callbacks drained by one goroutine.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	closed  bool
	done    chan struct{}
}

// New creates a Queue and starts its goroutine. Call Close to stop it.
func New() *Queue {
	queue := &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go queue.run()
	return queue
}

// Post appends callback to the queue. Returns false if the queue is
// closed, in which case callback never runs.
func (q *Queue) Post(callback func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, callback)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Close stops the queue. Callbacks not yet started are discarded. A
// callback already running finishes; Close does not wait for it. Safe
// to call more than once, including from inside a callback.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.pending = nil
	close(q.done)
}

// Done returns a channel closed when Close is called.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) run() {
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}
		for {
			q.mu.Lock()
			if q.closed || len(q.pending) == 0 {
				q.mu.Unlock()
				break
			}
			callback := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.mu.Unlock()

			callback()
		}
	}
}
