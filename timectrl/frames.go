package timectrl

import (
	"fmt"
	"sync"
	"time"
)

// FrameScheduler queues callbacks for the next host frame, the way a browser
// requestAnimationFrame does. Components that need per-frame work (scenario
// playback) request a frame and re-request from inside the callback.
type FrameScheduler interface {
	// Request registers f to run on the next frame and returns an ID that
	// can be passed to Cancel.
	Request(f func(now time.Time)) (id string)

	// Cancel drops a pending request. It is a no-op if the ID is unknown
	// or the callback already ran.
	Cancel(id string)
}

type frameRequest struct {
	id        string
	f         func(now time.Time)
	cancelled bool
}

// FrameQueue is the engine's FrameScheduler. RunFrame is called once per host
// frame, after the clock has advanced.
type FrameQueue struct {
	mu      sync.Mutex
	counter uint64
	pending []*frameRequest
	index   map[string]*frameRequest
}

// NewFrameQueue creates an empty queue.
func NewFrameQueue() *FrameQueue {
	return &FrameQueue{index: make(map[string]*frameRequest)}
}

// Request registers f for the next RunFrame.
func (q *FrameQueue) Request(f func(now time.Time)) (id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.counter++
	id = fmt.Sprintf("frame-%d", q.counter)
	req := &frameRequest{id: id, f: f}
	q.pending = append(q.pending, req)
	q.index[id] = req
	return id
}

// Cancel drops a pending request.
func (q *FrameQueue) Cancel(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.index[id]
	if !ok {
		return
	}
	req.cancelled = true
	delete(q.index, id)
	// Removal from pending is lazy; RunFrame skips cancelled requests.
}

// Pending returns the number of live requests.
func (q *FrameQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.index)
}

// RunFrame runs every request registered before the call, in request order.
// Requests made by callbacks during the frame run on the next RunFrame.
// It returns the number of callbacks executed.
func (q *FrameQueue) RunFrame(now time.Time) int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	ran := 0
	for _, req := range batch {
		q.mu.Lock()
		// A callback earlier in this batch may have cancelled this one.
		if req.cancelled {
			q.mu.Unlock()
			continue
		}
		delete(q.index, req.id)
		q.mu.Unlock()

		// Execute the callback outside the lock so it can re-request.
		if req.f != nil {
			req.f(now)
			ran++
		}
	}
	return ran
}
