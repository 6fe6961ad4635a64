// Package generator drains the work queue and turns each generation request
// into rendered output files. A single consumer goroutine processes one
// request at a time, so no two runs ever overlap.
package generator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/stencil/internal/apperr"
	"github.com/starford/stencil/internal/ledger"
	"github.com/starford/stencil/internal/model"
	"github.com/starford/stencil/internal/project"
	"github.com/starford/stencil/internal/queue"
	"github.com/starford/stencil/internal/registry"
	"github.com/starford/stencil/internal/status"
	"github.com/starford/stencil/internal/storage"
)

// Observer is notified after every finished run.
type Observer interface {
	RunFinished(summary model.RunSummary, final queue.State)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(summary model.RunSummary, final queue.State)

func (f ObserverFunc) RunFinished(s model.RunSummary, final queue.State) { f(s, final) }

// Hooks are called around each run, inside the run's critical section.
type Hooks struct {
	OnRunStart func(r *queue.Request)
	OnRunEnd   func(r *queue.Request, s model.RunSummary)
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Queue     *queue.Queue
	Registry  *registry.Registry
	Project   *project.Model
	Templates storage.Provider
	Outputs   storage.Provider
	Ledger    ledger.Journal
	Status    *status.Reporter
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithRenderTimeout bounds a single run. Zero means unbounded.
func WithRenderTimeout(d time.Duration) Option {
	return func(c *Controller) { c.renderTimeout = d }
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

// WithHooks sets run hooks.
func WithHooks(h Hooks) Option {
	return func(c *Controller) { c.hooks = h }
}

// WithTemplateRemoved registers fn for templates whose file disappeared.
func WithTemplateRemoved(fn func(id string)) Option {
	return func(c *Controller) { c.onRemoved = append(c.onRemoved, fn) }
}

// Controller is the single consumer of the work queue.
type Controller struct {
	d             Deps
	logger        *slog.Logger
	renderTimeout time.Duration
	observers     []Observer
	hooks         Hooks
	onRemoved     []func(id string)

	// runMu serialises runs from the consumer loop and from Generate.
	runMu sync.Mutex
	// failing maps a template that failed its latest run to the first line
	// of its error. Guarded by runMu.
	failing map[string]string

	mu      sync.Mutex
	started bool
	stopped bool
	err     error
	last    *model.RunSummary
	done    chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a controller. It does not start consuming until Start.
func New(d Deps, opts ...Option) (*Controller, error) {
	if d.Queue == nil || d.Registry == nil || d.Project == nil || d.Templates == nil || d.Outputs == nil || d.Ledger == nil {
		return nil, errors.New("generator: missing dependency")
	}
	if d.Status == nil {
		d.Status = status.New()
	}
	c := &Controller{
		d:       d,
		logger:  slog.Default(),
		failing: map[string]string{},
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start launches the consumer loop. Calling it more than once has no effect.
func (c *Controller) Start() {
	c.startOnce.Do(func() {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return
		}
		c.started = true
		c.mu.Unlock()
		go c.loop()
	})
}

// Stop cancels pending requests and refuses new ones. A run in progress is
// allowed to finish; Stop waits for it. Stop is idempotent.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		started := c.started
		c.mu.Unlock()

		if dropped := c.d.Queue.DrainAndCancel(); len(dropped) > 0 {
			c.logger.Info("generator: cancelled pending requests", slog.Int("count", len(dropped)))
		}
		if !started {
			close(c.done)
		}
	})
	<-c.done
}

// Fail stops generation because of a pipeline-fatal error. The error is
// reported as a persistent status and returned by Err.
func (c *Controller) Fail(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()

	c.logger.Error("generator: stopping on fatal error", slog.String("error", err.Error()))
	c.d.Status.Error("Generation stopped: " + err.Error())
	go c.Stop()
}

// Done is closed once the consumer loop has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Err returns the fatal error that stopped the controller, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Run starts the controller and blocks until ctx ends or a fatal error stops
// it. It returns the fatal error, or nil on a clean shutdown.
func (c *Controller) Run(ctx context.Context) error {
	c.Start()
	select {
	case <-ctx.Done():
		c.Stop()
	case <-c.done:
	}
	return c.Err()
}

// LastRun returns the summary of the most recent run.
func (c *Controller) LastRun() (model.RunSummary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return model.RunSummary{}, false
	}
	return *c.last, true
}

// Stopped reports whether Stop or Fail was called.
func (c *Controller) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Controller) loop() {
	defer close(c.done)
	ctx := context.Background()
	for {
		req, err := c.d.Queue.DequeueNext(ctx)
		if err != nil {
			if errors.Is(err, apperr.ErrClosed) {
				c.logger.Info("generator: queue closed")
				return
			}
			c.Fail(apperr.QueueFault(err))
			return
		}
		c.Process(ctx, req)
	}
}

// Generate runs the given templates synchronously, outside the queue. It
// still excludes concurrent runs.
func (c *Controller) Generate(ctx context.Context, ids []string) model.RunSummary {
	return c.Process(ctx, queue.NewRequest(ids, nil))
}

// Process runs one request to completion and returns its summary.
func (c *Controller) Process(ctx context.Context, req *queue.Request) model.RunSummary {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.hooks.OnRunStart != nil {
		c.hooks.OnRunStart(req)
	}

	started := time.Now()
	runCtx := ctx
	if c.renderTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.renderTimeout)
		defer cancel()
	}

	c.applyProjectEvents(req.Events)

	ids := req.Templates()
	results := make([]model.GenerationResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, c.generate(runCtx, id))
	}

	summary := model.Summarize(req.ID, started, results)
	c.report(summary)

	final := c.d.Queue.Complete(req)
	c.mu.Lock()
	c.last = &summary
	c.mu.Unlock()

	c.logger.Info("generator: run finished",
		slog.Uint64("request", req.ID),
		slog.String("state", final.String()),
		slog.Int("templates", summary.Templates),
		slog.Int("failed", summary.Failed),
		slog.Int("written", summary.Written),
		slog.Int("removed", summary.Removed),
		slog.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)))

	for _, o := range c.observers {
		o.RunFinished(summary, final)
	}
	if c.hooks.OnRunEnd != nil {
		c.hooks.OnRunEnd(req, summary)
	}
	return summary
}

// applyProjectEvents brings the project model and ledger in line with the
// item changes carried by the request.
func (c *Controller) applyProjectEvents(events []model.ChangeEvent) {
	for _, ev := range events {
		if ev.Source != model.SourceProjectItem {
			continue
		}
		switch ev.Kind {
		case model.Removed:
			c.d.Project.Forget(ev.Identity)
		case model.Renamed:
			c.d.Project.Rename(ev.OldIdentity, ev.Identity)
			if err := c.d.Ledger.RenameSource(ev.OldIdentity, ev.Identity); err != nil {
				c.logger.Warn("generator: ledger rename failed",
					slog.String("from", ev.OldIdentity), slog.String("to", ev.Identity), slog.String("error", err.Error()))
			}
		default:
			c.d.Project.Invalidate(ev.Identity)
		}
	}
}

// report publishes the run summary. While any template is still failing,
// from this run or an earlier one, the summary is shown as a sticky error
// naming it; otherwise a sticky error is cleared and the summary is info.
func (c *Controller) report(s model.RunSummary) {
	for _, r := range s.Results {
		if r.OK() {
			delete(c.failing, r.Template)
		} else {
			c.failing[r.Template] = firstLine(r.Errors[0])
		}
	}
	if s.Templates == 0 || c.Err() != nil {
		return
	}
	if len(c.failing) == 0 {
		if c.d.Status.Sticky() {
			c.d.Status.Clear()
		}
		c.d.Status.Info(summaryText(s))
		return
	}
	c.d.Status.Error(summaryText(s) + "; " + failingText(c.failing))
}
