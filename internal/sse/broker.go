// Package sse streams pipeline activity to browsers as Server-Sent Events:
// status line changes, finished generation runs and a throttled hint that
// output files changed.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/stencil/internal/model"
	"github.com/starford/stencil/internal/queue"
	"github.com/starford/stencil/internal/status"
)

// Event types.
const (
	TypeStatus          = "status"
	TypeRunCompleted    = "generation.completed"
	TypeOutputsUpdated  = "outputs.updated"
	TypeTemplateRemoved = "template.removed"
)

// Event is one message sent to every client.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// RunData is the payload of a generation.completed event.
type RunData struct {
	RequestID uint64   `json:"request_id"`
	State     string   `json:"state"`
	Templates int      `json:"templates"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Written   []string `json:"written"`
	Removed   []string `json:"removed"`
	Errors    []string `json:"errors,omitempty"`
}

// StatusData is the payload of a status event. An empty Level means cleared.
type StatusData struct {
	Text  string `json:"text"`
	Level string `json:"level,omitempty"`
}

type runReq struct {
	data    RunData
	changed bool
}

// Broker fans events out to SSE clients.
//
// A single goroutine owns the client set and the throttle timestamp; the
// exported methods talk to it over channels.
type Broker struct {
	outputsMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	runCh         chan runReq
	countCh       chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

var _ status.Sink = (*Broker)(nil)

// NewBroker starts a broker. outputs.updated is sent at most once per
// throttle interval.
func NewBroker(throttle time.Duration) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}
	b := &Broker{
		outputsMin:    throttle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		runCh:         make(chan runReq, 64),
		countCh:       make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastOutputs time.Time

	send := func(ev Event) {
		payload, err := json.Marshal(ev.Data)
		if err != nil {
			return
		}
		frame := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, payload))
		for ch := range clients {
			select {
			case ch <- frame:
			default:
				// Slow client; drop rather than stall every other client.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case ev := <-b.publishCh:
			send(ev)

		case req := <-b.runCh:
			send(Event{Type: TypeRunCompleted, Data: req.data})
			if !req.changed {
				continue
			}
			if now := time.Now(); now.Sub(lastOutputs) >= b.outputsMin {
				lastOutputs = now
				send(Event{Type: TypeOutputsUpdated, Data: map[string]string{}})
			}

		case resp := <-b.countCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and disconnects every client.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countCh <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends ev to every client.
func (b *Broker) Publish(ev Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- ev:
	case <-b.stopped:
	}
}

// Show implements status.Sink.
func (b *Broker) Show(m status.Message) {
	b.Publish(Event{Type: TypeStatus, Data: StatusData{Text: m.Text, Level: m.Level.String()}})
}

// Clear implements status.Sink.
func (b *Broker) Clear() {
	b.Publish(Event{Type: TypeStatus, Data: StatusData{}})
}

// RunFinished publishes a generation.completed event and, when the run
// touched output files, a throttled outputs.updated event.
func (b *Broker) RunFinished(s model.RunSummary, final queue.State) {
	if b.closed.Load() {
		return
	}
	data := RunData{
		RequestID: s.RequestID,
		State:     final.String(),
		Templates: s.Templates,
		Succeeded: s.Succeeded,
		Failed:    s.Failed,
		Written:   []string{},
		Removed:   []string{},
	}
	for _, r := range s.Results {
		data.Written = append(data.Written, r.Written...)
		data.Removed = append(data.Removed, r.Removed...)
		data.Errors = append(data.Errors, r.ErrorStrings()...)
	}
	select {
	case b.runCh <- runReq{data: data, changed: s.Written > 0 || s.Removed > 0}:
	case <-b.stopped:
	}
}

// TemplateRemoved publishes a template.removed event.
func (b *Broker) TemplateRemoved(id string) {
	b.Publish(Event{Type: TypeTemplateRemoved, Data: map[string]string{"template": id}})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(frame)
			flusher.Flush()
		}
	}
}
