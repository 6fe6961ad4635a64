// Package queue implements the ordered, coalescing work queue that sits
// between change producers and the single generation consumer.
package queue

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/starford/stencil/internal/apperr"
	"github.com/starford/stencil/internal/model"
)

// Resolver maps a change event to the identities of the templates it affects.
type Resolver interface {
	ResolveAffected(ev model.ChangeEvent) []string
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ev model.ChangeEvent) []string

func (f ResolverFunc) ResolveAffected(ev model.ChangeEvent) []string { return f(ev) }

// Observer receives queue counters.
type Observer interface {
	Enqueued()
	Coalesced(n int)
	Dropped()
	Depth(n int)
}

type nopObserver struct{}

func (nopObserver) Enqueued()     {}
func (nopObserver) Coalesced(int) {}
func (nopObserver) Dropped()      {}
func (nopObserver) Depth(int)     {}

// Stats are cumulative queue counters.
type Stats struct {
	Enqueued  uint64 `json:"enqueued"`
	Coalesced uint64 `json:"coalesced"`
	Dropped   uint64 `json:"dropped"`
	Pending   int    `json:"pending"`
}

// Queue is a FIFO of pending Requests in which no two pending requests share
// a template. Producers call Enqueue from any goroutine; a single consumer
// calls DequeueNext.
type Queue struct {
	resolver Resolver
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*Request
	closed  bool
	nextID  uint64
	stats   Stats
}

// Option configures a Queue.
type Option func(*Queue)

// WithObserver sets the counter observer.
func WithObserver(o Observer) Option {
	return func(q *Queue) { q.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates an empty queue.
func New(resolver Resolver, opts ...Option) *Queue {
	q := &Queue{
		resolver: resolver,
		observer: nopObserver{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue resolves ev to its affected templates and adds it to the queue,
// merging it with every pending request whose template set overlaps. The
// merged request keeps the position of the earliest one. Events that affect
// no template are dropped. Enqueue never blocks on generation work and
// returns apperr.ErrClosed after DrainAndCancel.
func (q *Queue) Enqueue(ev model.ChangeEvent) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return apperr.ErrClosed
	}

	// Resolution may read the disk, keep it outside the lock.
	templates := q.resolver.ResolveAffected(ev)
	if len(templates) == 0 {
		q.mu.Lock()
		q.stats.Dropped++
		q.mu.Unlock()
		q.observer.Dropped()
		q.logger.Debug("queue: event affects no template",
			slog.String("identity", ev.Identity), slog.String("kind", ev.Kind.String()))
		return nil
	}
	return q.add(templates, []model.ChangeEvent{ev})
}

// EnqueueTemplates queues a request for an explicit template set with no
// triggering event, e.g. a full regeneration.
func (q *Queue) EnqueueTemplates(templates []string) error {
	if len(templates) == 0 {
		return nil
	}
	return q.add(templates, nil)
}

func (q *Queue) add(templates []string, events []model.ChangeEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return apperr.ErrClosed
	}

	q.nextID++
	incoming := newRequest(q.nextID, templates, events, q.now())
	q.stats.Enqueued++
	q.observer.Enqueued()

	target := -1
	for i, r := range q.pending {
		if r.overlaps(incoming.templates) {
			target = i
			break
		}
	}
	if target < 0 {
		q.pending = append(q.pending, incoming)
		q.observer.Depth(len(q.pending))
		q.cond.Signal()
		return nil
	}

	head := q.pending[target]
	head.absorb(incoming)
	merged := 1
	// Absorbing can widen the set into later requests; repeat until no
	// pending request overlaps the head.
	for changed := true; changed; {
		changed = false
		for i := target + 1; i < len(q.pending); i++ {
			if q.pending[i].overlaps(head.templates) {
				head.absorb(q.pending[i])
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				merged++
				changed = true
				break
			}
		}
	}
	sort.SliceStable(head.Events, func(i, j int) bool { return head.Events[i].Seq < head.Events[j].Seq })
	head.Arrived = q.now()

	q.stats.Coalesced += uint64(merged)
	q.observer.Coalesced(merged)
	q.observer.Depth(len(q.pending))
	q.logger.Debug("queue: coalesced request",
		slog.Uint64("request", head.ID), slog.Int("merged", merged), slog.Int("templates", len(head.templates)))
	q.cond.Signal()
	return nil
}

// DequeueNext blocks until a request is pending, then removes and returns
// the oldest one in Running state. It returns apperr.ErrClosed once the queue
// is torn down, or ctx.Err() when ctx ends first.
func (q *Queue) DequeueNext(ctx context.Context) (*Request, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) == 0 && !q.closed && ctx.Err() == nil {
		q.cond.Wait()
	}
	if q.closed {
		return nil, apperr.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	r.state = Running
	q.observer.Depth(len(q.pending))
	return r, nil
}

// Complete marks a running request as finished and returns its final state.
// A request that reached Running always ends Completed; only pending
// requests absorbed by a merge end Superseded.
func (q *Queue) Complete(r *Request) State {
	q.mu.Lock()
	defer q.mu.Unlock()
	if r.state == Running {
		r.state = Completed
	}
	return r.state
}

// State returns the current state of r.
func (q *Queue) State(r *Request) State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return r.state
}

// DrainAndCancel closes the queue: pending requests are cancelled and
// returned, blocked consumers wake with apperr.ErrClosed, and further
// Enqueue calls are refused. A request already handed out is unaffected.
func (q *Queue) DrainAndCancel() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	drained := q.pending
	q.pending = nil
	for _, r := range drained {
		r.state = Cancelled
	}
	q.observer.Depth(0)
	q.cond.Broadcast()
	return drained
}

// Closed reports whether the queue has been torn down.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns the template sets of the pending requests, oldest first.
func (q *Queue) Pending() [][]string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]string, 0, len(q.pending))
	for _, r := range q.pending {
		out = append(out, r.Templates())
	}
	return out
}

// Stats returns a snapshot of the counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.pending)
	return s
}
