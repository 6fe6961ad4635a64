package monitor

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/starford/stencil/internal/apperr"
	"github.com/starford/stencil/internal/model"
)

// Listener receives logical change events.
type Listener func(ev model.ChangeEvent)

// FaultListener receives the error that stopped a monitor.
type FaultListener func(err error)

// Subscription detaches a listener.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe detaches the listener. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// pendingChange accumulates raw notifications for one path inside the
// settle window.
type pendingChange struct {
	ops  Op
	last time.Time
}

// orphan is a path that disappeared through a native rename and may still
// be paired with a create elsewhere.
type orphan struct {
	path     string
	sum      string
	deadline time.Time
}

// Monitor debounces the raw notifications of a Host into ChangeEvents.
//
// Notifications for one path within the settle window collapse into a single
// event. A path renamed away followed, within the settle window, by a create
// with identical content is reported as one Renamed event; otherwise it is
// reported as Removed. Writes that leave the content unchanged are dropped.
type Monitor struct {
	host   Host
	source model.Source
	settle time.Duration
	logger *slog.Logger

	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
	faults    map[int]FaultListener

	// Owned by the Run goroutine.
	sums    map[string]string
	pending map[string]*pendingChange
	orphans []orphan
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSettleWindow sets the debounce window.
func WithSettleWindow(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.settle = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a monitor over host whose events carry source.
func New(host Host, source model.Source, opts ...Option) *Monitor {
	m := &Monitor{
		host:      host,
		source:    source,
		settle:    200 * time.Millisecond,
		logger:    slog.Default(),
		listeners: make(map[int]Listener),
		faults:    make(map[int]FaultListener),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnChange registers l for every logical change.
func (m *Monitor) OnChange(l Listener) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	return &Subscription{cancel: func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}}
}

// OnFault registers f for the error that stops the monitor.
func (m *Monitor) OnFault(f FaultListener) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.faults[id] = f
	return &Subscription{cancel: func() {
		m.mu.Lock()
		delete(m.faults, id)
		m.mu.Unlock()
	}}
}

// Run watches until ctx ends, returning nil, or until the host fails,
// returning a MONITOR_FAULT error after notifying fault listeners.
func (m *Monitor) Run(ctx context.Context) error {
	m.sums = make(map[string]string)
	m.pending = make(map[string]*pendingChange)
	m.orphans = nil

	items, err := m.host.Items()
	if err != nil {
		return m.fault(apperr.MonitorFault("enumerate", err))
	}
	for _, rel := range items {
		if sum, err := m.host.Checksum(rel); err == nil {
			m.sums[rel] = sum
		}
	}

	events, errs, err := m.host.Subscribe(ctx)
	if err != nil {
		return m.fault(apperr.MonitorFault("subscribe", err))
	}

	m.logger.Info("monitor: started",
		slog.String("source", m.source.String()), slog.Int("items", len(m.sums)))

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor: stopped", slog.String("source", m.source.String()))
			return nil

		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return m.fault(apperr.MonitorFault("watch", errors.New("notification stream closed")))
			}
			m.record(ev, time.Now())
			m.schedule(timer, time.Now())

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return m.fault(apperr.MonitorFault("watch", err))

		case now := <-timer.C:
			m.flush(now)
			m.schedule(timer, now)
		}
	}
}

func (m *Monitor) fault(err error) error {
	m.logger.Error("monitor: fault", slog.String("source", m.source.String()), slog.String("error", err.Error()))
	m.mu.Lock()
	faults := make([]FaultListener, 0, len(m.faults))
	for _, f := range m.faults {
		faults = append(faults, f)
	}
	m.mu.Unlock()
	for _, f := range faults {
		f(err)
	}
	return err
}

func (m *Monitor) record(ev RawEvent, now time.Time) {
	if ev.Path == "" {
		return
	}
	p, ok := m.pending[ev.Path]
	if !ok {
		p = &pendingChange{}
		m.pending[ev.Path] = p
	}
	p.ops |= ev.Op
	p.last = now
}

// schedule arms the timer for the earliest pending deadline.
func (m *Monitor) schedule(timer *time.Timer, now time.Time) {
	var next time.Time
	for _, p := range m.pending {
		if d := p.last.Add(m.settle); next.IsZero() || d.Before(next) {
			next = d
		}
	}
	for _, o := range m.orphans {
		if next.IsZero() || o.deadline.Before(next) {
			next = o.deadline
		}
	}
	if next.IsZero() {
		return
	}
	timer.Reset(max(next.Sub(now), time.Millisecond))
}

// flush turns every settled path into at most one logical event.
func (m *Monitor) flush(now time.Time) {
	var due []string
	for path, p := range m.pending {
		if !p.last.Add(m.settle).After(now) {
			due = append(due, path)
		}
	}
	sort.Strings(due)

	var out []model.ChangeEvent
	var added []string
	for _, path := range due {
		p := m.pending[path]
		delete(m.pending, path)

		known, wasKnown := m.sums[path]
		sum, err := m.host.Checksum(path)
		switch {
		case err == nil:
			if !wasKnown {
				added = append(added, path)
				m.sums[path] = sum
				continue
			}
			if sum == known {
				continue
			}
			m.sums[path] = sum
			out = append(out, model.NewEvent(m.source, model.Modified, path, ""))

		case errors.Is(err, fs.ErrNotExist):
			gone := []string{path}
			if !wasKnown {
				// A vanished directory takes its items with it.
				gone = m.knownUnder(path)
			}
			for _, g := range gone {
				if p.ops&OpRename != 0 {
					m.orphans = append(m.orphans, orphan{path: g, sum: m.sums[g], deadline: now.Add(m.settle)})
				} else {
					out = append(out, model.NewEvent(m.source, model.Removed, g, ""))
				}
				delete(m.sums, g)
			}

		case errors.Is(err, errIsDir):
			// Directory notifications carry no item change.

		default:
			m.logger.Warn("monitor: checksum failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	// Pair creates with orphans of identical content.
	for _, path := range added {
		if i := m.matchOrphan(m.sums[path]); i >= 0 {
			old := m.orphans[i].path
			m.orphans = append(m.orphans[:i], m.orphans[i+1:]...)
			out = append(out, model.NewEvent(m.source, model.Renamed, path, old))
			continue
		}
		out = append(out, model.NewEvent(m.source, model.Added, path, ""))
	}

	// Orphans left unpaired past their window become removals.
	kept := m.orphans[:0]
	for _, o := range m.orphans {
		if o.deadline.After(now) {
			kept = append(kept, o)
			continue
		}
		out = append(out, model.NewEvent(m.source, model.Removed, o.path, ""))
	}
	m.orphans = kept

	if len(out) > 0 {
		m.emit(out)
	}
}

func (m *Monitor) matchOrphan(sum string) int {
	for i, o := range m.orphans {
		if o.sum == sum {
			return i
		}
	}
	return -1
}

func (m *Monitor) knownUnder(dir string) []string {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	var out []string
	for p := range m.sums {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Monitor) emit(events []model.ChangeEvent) {
	m.mu.Lock()
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, m.listeners[id])
	}
	m.mu.Unlock()

	for _, ev := range events {
		m.logger.Debug("monitor: change",
			slog.String("source", m.source.String()),
			slog.String("kind", ev.Kind.String()),
			slog.String("identity", ev.Identity),
			slog.String("old_identity", ev.OldIdentity))
		for _, l := range listeners {
			l(ev)
		}
	}
}
