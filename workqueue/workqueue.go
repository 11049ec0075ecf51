/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package workqueue distributes delivery claims to workers. The queue holds
// claims (record references), never payloads, and guarantees that at most
// one claim per idempotency key is outstanding at any time.
package workqueue

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrQueueFull is returned when the bounded buffer cannot accept a claim.
	ErrQueueFull = errors.New("workqueue: queue full")

	// ErrShutdown is returned when enqueueing after Shutdown.
	ErrShutdown = errors.New("workqueue: shut down")
)

// Claim references a delivery record awaiting processing.
type Claim struct {
	RecordID string
	Key      string
}

// Queue is a bounded in-memory claim queue with per-key claim
// deduplication. Durable backends can replace it behind the same
// operations; workers already re-check record state before acting, so
// at-least-once delivery of claims is tolerated.
type Queue struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool

	ch   chan Claim
	done chan struct{}
	once sync.Once
}

// New returns a queue with the given buffer size.
func New(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		inflight: map[string]struct{}{},
		ch:       make(chan Claim, size),
		done:     make(chan struct{}),
	}
}

// Enqueue registers a claim for the given record. While a claim for the
// same idempotency key is outstanding, additional enqueues are no-ops and
// return false with no error.
func (q *Queue) Enqueue(recordID, key string) (bool, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, ErrShutdown
	}
	if _, ok := q.inflight[key]; ok {
		q.mu.Unlock()
		return false, nil
	}
	q.inflight[key] = struct{}{}
	q.mu.Unlock()

	select {
	case q.ch <- Claim{RecordID: recordID, Key: key}:
		return true, nil
	default:
		q.release(key)
		return false, ErrQueueFull
	}
}

// Claim blocks until a claim is available, the context is cancelled, or the
// queue is shut down. ok is false when no claim was obtained.
func (q *Queue) Claim(ctx context.Context) (Claim, bool) {
	select {
	case c := <-q.ch:
		return c, true
	case <-q.done:
		return Claim{}, false
	case <-ctx.Done():
		return Claim{}, false
	}
}

// Release clears the in-flight registration for a key. Workers call this
// after the claim has been fully resolved, which re-enables enqueueing the
// key (retry, replay).
func (q *Queue) Release(key string) {
	q.release(key)
}

func (q *Queue) release(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, key)
}

// Shutdown stops claim handout. Pending claims are dropped; the
// corresponding records remain queued in the ledger and are re-admissible
// on replay. Safe to call more than once.
func (q *Queue) Shutdown() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
	})
}

// Depth returns the number of buffered claims.
func (q *Queue) Depth() int {
	return len(q.ch)
}
