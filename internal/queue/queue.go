package queue

import (
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"
)

// Policy decides what happens when a request arrives at a full queue.
type Policy int

const (
	// DropNewest rejects the arriving request.
	DropNewest Policy = iota
	// DropOldest evicts the request at the head to admit the arriving one.
	DropOldest
)

// DefaultCapacity bounds memory under sustained overload.
const DefaultCapacity = 1024

// ParsePolicy converts a configuration value into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "drop_newest":
		return DropNewest, nil
	case "drop_oldest":
		return DropOldest, nil
	default:
		return DropNewest, fmt.Errorf("unknown overflow policy %q (expected drop_newest or drop_oldest)", s)
	}
}

func (p Policy) String() string {
	switch p {
	case DropNewest:
		return "drop_newest"
	case DropOldest:
		return "drop_oldest"
	default:
		return fmt.Sprintf("Unknown(%d)", int(p))
	}
}

// Request is a received datagram waiting for a worker.
type Request struct {
	Data       []byte
	Addr       *net.UDPAddr
	EnqueuedAt time.Time
}

// Queue is a bounded FIFO hand-off between the receiver and the workers.
// It is safe for one producer and any number of consumers.
type Queue struct {
	items   chan Request
	policy  Policy
	dropped atomic.Uint64
}

// New creates a queue holding at most capacity requests.
func New(capacity int, policy Policy) *Queue {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items:  make(chan Request, capacity),
		policy: policy,
	}
}

// Enqueue adds req without blocking. It returns false when req was not admitted.
// Under DropOldest the request is always admitted and the evicted head is counted
// as dropped.
func (q *Queue) Enqueue(req Request) bool {
	select {
	case q.items <- req:
		return true
	default:
	}

	if q.policy == DropNewest {
		q.dropped.Add(1)
		return false
	}

	for {
		// Consumers may empty the queue between the two selects
		select {
		case <-q.items:
			q.dropped.Add(1)
		default:
		}

		select {
		case q.items <- req:
			return true
		default:
		}
	}
}

// DequeueWithTimeout waits up to timeout for a request. ok is false on timeout.
func (q *Queue) DequeueWithTimeout(timeout time.Duration) (req Request, ok bool) {
	select {
	case req = <-q.items:
		return req, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case req = <-q.items:
		return req, true
	case <-timer.C:
		return Request{}, false
	}
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.items)
}

// Policy returns the overflow policy.
func (q *Queue) Policy() Policy {
	return q.policy
}

// Dropped returns how many requests were rejected or evicted.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
