// Package capture turns "stream went online" requests into supervised
// download and remux runs, at most one per stream id at a time.
package capture

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/streamdvr/internal/domain"
)

// Queue is an unbounded FIFO of capture requests deduplicated by stream id.
// An id stays in the live set from Enqueue until Release, so a second
// request for a stream that is still being captured is ignored.
type Queue struct {
	mu      sync.Mutex
	live    map[string]domain.CaptureRequest
	pending []domain.CaptureRequest

	// ready holds a token whenever pending may be non-empty.
	ready chan struct{}

	events emitter
}

var _ domain.CaptureQueue = (*Queue)(nil)

type QueueOption func(*Queue)

func WithQueueObservers(observers ...domain.CaptureObserver) QueueOption {
	return func(q *Queue) { q.events.observers = append(q.events.observers, observers...) }
}

func WithQueueClock(clock clockwork.Clock) QueueOption {
	return func(q *Queue) { q.events.clock = clock }
}

func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		live:   make(map[string]domain.CaptureRequest),
		ready:  make(chan struct{}, 1),
		events: emitter{clock: clockwork.NewRealClock()},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue accepts req unless its id is already live. It never blocks.
func (q *Queue) Enqueue(req domain.CaptureRequest) (bool, error) {
	if req.ID == "" {
		return false, domain.ErrEmptyStreamID
	}

	q.mu.Lock()
	if _, ok := q.live[req.ID]; ok {
		q.mu.Unlock()
		return false, nil
	}
	q.live[req.ID] = req
	q.pending = append(q.pending, req)
	q.mu.Unlock()

	q.signal()
	q.events.emit(domain.StageQueued, req, nil, 0)
	return true, nil
}

// Next blocks until a request is available or ctx is done.
func (q *Queue) Next(ctx context.Context) (domain.CaptureRequest, error) {
	for {
		if req, ok := q.pop(); ok {
			return req, nil
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			return domain.CaptureRequest{}, ctx.Err()
		}
	}
}

func (q *Queue) pop() (domain.CaptureRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return domain.CaptureRequest{}, false
	}
	req := q.pending[0]
	q.pending[0] = domain.CaptureRequest{}
	q.pending = q.pending[1:]
	if len(q.pending) > 0 {
		q.signal()
	}
	return req, true
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Release removes id from the live set and reports whether it was there.
func (q *Queue) Release(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.live[id]; !ok {
		return false
	}
	delete(q.live, id)
	return true
}

func (q *Queue) IsCapturing(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.live[id]
	return ok
}

func (q *Queue) TryGet(id string) (domain.CaptureRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req, ok := q.live[id]
	return req, ok
}

// Captures returns a snapshot of the live set, queued and running alike,
// oldest broadcast first.
func (q *Queue) Captures() []domain.CaptureRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.CaptureRequest, 0, len(q.live))
	for _, req := range q.live {
		out = append(out, req)
	}
	slices.SortFunc(out, func(a, b domain.CaptureRequest) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Pending is the number of accepted requests not yet handed to a worker.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
