package queue

import (
	"sort"
	"time"

	"github.com/starford/stencil/internal/model"
)

// State is the lifecycle state of a Request.
type State int

const (
	Pending State = iota
	Running
	Completed
	Superseded
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Superseded:
		return "superseded"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Request is a unit of generation work: a set of template identities and
// the change events that caused it.
//
// While Pending a request may absorb overlapping requests. Once handed out by
// DequeueNext it is Running and no longer changes.
type Request struct {
	ID      uint64
	Events  []model.ChangeEvent
	Arrived time.Time

	templates map[string]struct{}
	state     State
	mergedIDs []uint64
}

func newRequest(id uint64, templates []string, events []model.ChangeEvent, now time.Time) *Request {
	r := &Request{
		ID:        id,
		Events:    events,
		Arrived:   now,
		templates: make(map[string]struct{}, len(templates)),
	}
	for _, t := range templates {
		r.templates[t] = struct{}{}
	}
	return r
}

// NewRequest creates a Running request that never passed through a queue,
// for callers that generate synchronously.
func NewRequest(templates []string, events []model.ChangeEvent) *Request {
	r := newRequest(0, templates, events, time.Now())
	r.state = Running
	return r
}

// Templates returns the sorted template identities of the request.
func (r *Request) Templates() []string {
	out := make([]string, 0, len(r.templates))
	for t := range r.templates {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Has reports whether the request covers the template id.
func (r *Request) Has(id string) bool {
	_, ok := r.templates[id]
	return ok
}

// MergedIDs returns the ids of the requests absorbed into this one.
func (r *Request) MergedIDs() []uint64 {
	return append([]uint64(nil), r.mergedIDs...)
}

func (r *Request) overlaps(set map[string]struct{}) bool {
	small, large := r.templates, set
	if len(small) > len(large) {
		small, large = large, small
	}
	for t := range small {
		if _, ok := large[t]; ok {
			return true
		}
	}
	return false
}

func (r *Request) absorb(other *Request) {
	for t := range other.templates {
		r.templates[t] = struct{}{}
	}
	r.Events = append(r.Events, other.Events...)
	r.mergedIDs = append(r.mergedIDs, other.ID)
	r.mergedIDs = append(r.mergedIDs, other.mergedIDs...)
	other.state = Superseded
}
