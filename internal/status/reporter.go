// Package status implements the single-line status channel through which the
// pipeline reports progress and errors.
package status

import (
	"sync"
	"time"
)

// Level is the severity of a status message.
type Level int

const (
	LevelInfo Level = iota
	LevelError
)

func (l Level) String() string {
	if l == LevelError {
		return "error"
	}
	return "info"
}

// Message is what the status line currently shows.
type Message struct {
	Text  string    `json:"text"`
	Level Level     `json:"-"`
	At    time.Time `json:"at"`
}

// Sink is a status surface. Show replaces the whole line; Clear blanks it.
// Sinks are only ever called with the reporter's lock held, one call at a time.
type Sink interface {
	Show(m Message)
	Clear()
}

// Reporter serializes status updates from any goroutine onto its sinks.
//
// Error messages are sticky: they stay until Clear is called, and info
// messages reported meanwhile are not shown. Info messages clear themselves
// after the info TTL.
type Reporter struct {
	ttl   time.Duration
	sinks []Sink

	mu      sync.Mutex
	current *Message
	timer   *time.Timer
	gen     uint64
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithSink adds a sink.
func WithSink(s Sink) Option {
	return func(r *Reporter) { r.sinks = append(r.sinks, s) }
}

// WithInfoTTL sets how long info messages stay visible. Zero keeps them
// until replaced.
func WithInfoTTL(d time.Duration) Option {
	return func(r *Reporter) { r.ttl = d }
}

// New creates a Reporter.
func New(opts ...Option) *Reporter {
	r := &Reporter{ttl: 5 * time.Second}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddSink attaches another sink.
func (r *Reporter) AddSink(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, s)
	if r.current != nil {
		s.Show(*r.current)
	}
}

// Report shows text at level. An info message is dropped while an error is
// showing.
func (r *Reporter) Report(text string, level Level) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if level == LevelInfo && r.current != nil && r.current.Level == LevelError {
		return
	}

	r.stopTimer()
	m := Message{Text: text, Level: level, At: time.Now()}
	r.current = &m
	for _, s := range r.sinks {
		s.Show(m)
	}

	if level == LevelInfo && r.ttl > 0 {
		gen := r.gen
		r.timer = time.AfterFunc(r.ttl, func() { r.expire(gen) })
	}
}

// Info is shorthand for Report(text, LevelInfo).
func (r *Reporter) Info(text string) { r.Report(text, LevelInfo) }

// Error is shorthand for Report(text, LevelError).
func (r *Reporter) Error(text string) { r.Report(text, LevelError) }

// Clear blanks the status line, including a sticky error.
func (r *Reporter) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked()
}

// Current returns the message on the line, if any.
func (r *Reporter) Current() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return Message{}, false
	}
	return *r.current, true
}

// Sticky reports whether an error is currently showing.
func (r *Reporter) Sticky() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil && r.current.Level == LevelError
}

func (r *Reporter) expire(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return
	}
	r.clearLocked()
}

func (r *Reporter) clearLocked() {
	r.stopTimer()
	if r.current == nil {
		return
	}
	r.current = nil
	for _, s := range r.sinks {
		s.Clear()
	}
}

// stopTimer cancels a pending info expiry. Bumping gen also invalidates an
// expiry whose timer already fired but is waiting for the lock.
func (r *Reporter) stopTimer() {
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
