// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/stencil/internal/api"
	"github.com/starford/stencil/internal/apperr"
	"github.com/starford/stencil/internal/generator"
	"github.com/starford/stencil/internal/ledger"
	"github.com/starford/stencil/internal/mcpserver"
	"github.com/starford/stencil/internal/metrics"
	"github.com/starford/stencil/internal/model"
	"github.com/starford/stencil/internal/monitor"
	"github.com/starford/stencil/internal/outline"
	"github.com/starford/stencil/internal/project"
	"github.com/starford/stencil/internal/queue"
	"github.com/starford/stencil/internal/registry"
	"github.com/starford/stencil/internal/sse"
	"github.com/starford/stencil/internal/status"
	"github.com/starford/stencil/internal/storage"
	"github.com/starford/stencil/internal/workspace"
)

// session is one wired pipeline over the configured directories.
type session struct {
	cfg    *Config
	logger *slog.Logger

	model    *project.Model
	ledger   *ledger.DB
	registry *registry.Registry
	queue    *queue.Queue
	status   *status.Reporter
	metrics  *metrics.Metrics
	broker   *sse.Broker
	outlines *outline.Cache
	ctrl     *generator.Controller
	svc      *workspace.Service
}

func setup(opts []Option) (*application, *slog.Logger, error) {
	app := &application{version: "dev", logOut: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	hopts := &slog.HandlerOptions{Level: cfg.App.LogLevel}
	var handler slog.Handler = slog.NewJSONHandler(app.logOut, hopts)
	if cfg.App.LogFormat == LogFormatText {
		handler = slog.NewTextHandler(app.logOut, hopts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return app, logger, nil
}

func newSession(app *application, logger *slog.Logger) (*session, error) {
	cfg := app.config
	outDir := cfg.Output.Dir
	if outDir == "" {
		outDir = cfg.Project.Root
	}

	logger.Info("Configuration loaded",
		slog.String("project_root", cfg.Project.Root),
		slog.String("templates_dir", cfg.Templates.Dir),
		slog.String("output_dir", outDir),
		slog.String("ledger_path", cfg.Ledger.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if cfg.Scratch.Dir != "" {
		if err := storage.ClearDir(cfg.Scratch.Dir); err != nil {
			logger.Warn("scratch cleanup failed", slog.String("dir", cfg.Scratch.Dir), slog.String("error", err.Error()))
		}
	}
	for _, dir := range []string{cfg.Project.Root, cfg.Templates.Dir, outDir, filepath.Dir(cfg.Ledger.Path)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	templates, err := storage.NewFS(cfg.Templates.Dir)
	if err != nil {
		return nil, fmt.Errorf("init template storage: %w", err)
	}
	outputs, err := storage.NewFS(outDir)
	if err != nil {
		return nil, fmt.Errorf("init output storage: %w", err)
	}

	s := &session{cfg: cfg, logger: logger}

	s.model, err = project.NewModel(cfg.Project.Root, cfg.Project.Filter(), logger)
	if err != nil {
		return nil, fmt.Errorf("init project model: %w", err)
	}
	s.ledger, err = ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}

	s.metrics = metrics.New()
	s.broker = sse.NewBroker(2 * time.Second)
	s.outlines = outline.NewCache()
	s.registry = registry.New(s.model, registry.WithOwners(s.ledger), registry.WithLogger(logger))
	s.queue = queue.New(s.registry, queue.WithObserver(s.metrics), queue.WithLogger(logger))

	statusOpts := []status.Option{
		status.WithInfoTTL(cfg.Status.InfoTTL),
		status.WithSink(status.NewLogSink(logger)),
		status.WithSink(s.broker),
	}
	if app.statusOut != nil {
		statusOpts = append(statusOpts, status.WithSink(status.NewTerminalSink(app.statusOut, cfg.Status.Color)))
	}
	s.status = status.New(statusOpts...)

	s.ctrl, err = generator.New(generator.Deps{
		Queue:     s.queue,
		Registry:  s.registry,
		Project:   s.model,
		Templates: templates,
		Outputs:   outputs,
		Ledger:    s.ledger,
		Status:    s.status,
	},
		generator.WithLogger(logger),
		generator.WithRenderTimeout(cfg.Output.RenderTimeout),
		generator.WithObserver(s.metrics),
		generator.WithObserver(s.broker),
		generator.WithTemplateRemoved(s.outlines.Close),
		generator.WithTemplateRemoved(s.broker.TemplateRemoved),
	)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("init generator: %w", err)
	}

	s.svc = workspace.NewService(workspace.Deps{
		Templates: templates,
		Extension: cfg.Templates.Extension,
		Registry:  s.registry,
		Ledger:    s.ledger,
		Status:    s.status,
		Queue:     s.queue,
		Generator: s.ctrl,
		Outlines:  s.outlines,
	})
	return s, nil
}

func (s *session) close() {
	if s.ctrl != nil {
		s.ctrl.Stop()
	}
	s.broker.Close()
	if err := s.ledger.Close(); err != nil {
		s.logger.Warn("ledger close failed", slog.String("error", err.Error()))
	}
}

// watch queues a full pass, then starts the consumer loop and both monitors
// on g. A monitor fault stops generation and ends the group with the fault.
func (s *session) watch(ctx context.Context, g *errgroup.Group) error {
	watched := []struct {
		source model.Source
		root   string
		filter project.Filter
	}{
		{model.SourceProjectItem, s.cfg.Project.Root, s.cfg.Project.Filter()},
		{model.SourceTemplate, s.cfg.Templates.Dir, project.Filter{Extensions: []string{s.cfg.Templates.Extension}}},
	}
	monitors := make([]*monitor.Monitor, 0, len(watched))
	for _, w := range watched {
		host, err := monitor.NewFSHost(w.root, w.filter, s.logger)
		if err != nil {
			return fmt.Errorf("init %s monitor: %w", w.source, err)
		}
		mon := monitor.New(host, w.source,
			monitor.WithSettleWindow(s.cfg.Monitor.SettleWindow),
			monitor.WithLogger(s.logger))
		mon.OnChange(func(ev model.ChangeEvent) {
			if err := s.queue.Enqueue(ev); err != nil && !errors.Is(err, apperr.ErrClosed) {
				s.logger.Error("enqueue failed", slog.String("identity", ev.Identity), slog.String("error", err.Error()))
			}
		})
		mon.OnFault(s.ctrl.Fail)
		monitors = append(monitors, mon)
	}

	n, err := s.svc.Regenerate(ctx, nil)
	if err != nil {
		return fmt.Errorf("initial pass: %w", err)
	}
	s.logger.Info("initial pass queued", slog.Int("templates", n))

	g.Go(func() error { return s.ctrl.Run(ctx) })
	for _, mon := range monitors {
		g.Go(func() error { return mon.Run(ctx) })
	}
	return nil
}

// Run watches the project and the templates, regenerating outputs as they
// change, and serves the HTTP surface until a signal arrives or generation
// stops on a fatal error.
func Run(ctx context.Context, opts ...Option) error {
	app, logger, err := setup(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := newSession(app, logger)
	if err != nil {
		return err
	}
	defer s.close()

	g, gCtx := errgroup.WithContext(ctx)
	if err := s.watch(gCtx, g); err != nil {
		return err
	}

	if cfg.App.HTTP.Enabled() {
		httpServer := &http.Server{
			Addr:    cfg.App.HTTP.Address(),
			Handler: s.router(),
		}

		g.Go(func() error {
			logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gCtx.Done()
			logger.Info("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Stopped successfully")
	return nil
}

func (s *session) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if s.ctrl.Stopped() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"stopped"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", s.metrics.Handler())

	r.Mount("/api", api.NewRouter(s.svc, s.cfg.Auth.AuthEnabled(), s.cfg.Auth.Token, s.broker))
	return r
}

// Generate runs one synchronous pass over every template and returns its
// summary. Per-template failures are reported in the summary, not as an
// error.
func Generate(ctx context.Context, opts ...Option) (model.RunSummary, error) {
	app, logger, err := setup(opts)
	if err != nil {
		return model.RunSummary{}, err
	}
	s, err := newSession(app, logger)
	if err != nil {
		return model.RunSummary{}, err
	}
	defer s.close()

	ids, err := s.svc.TemplateIDs(ctx)
	if err != nil {
		return model.RunSummary{}, fmt.Errorf("list templates: %w", err)
	}
	return s.ctrl.Generate(ctx, ids), nil
}

// ServeMCP serves the MCP tools on stdio while watching, like Run without
// the HTTP surface. It returns when stdin closes or a signal arrives.
func ServeMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	app, logger, err := setup(opts)
	if err != nil {
		return err
	}
	s, err := newSession(app, logger)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)
	if err := s.watch(gCtx, g); err != nil {
		return err
	}

	srv := mcpserver.New(s.svc, app.version)
	g.Go(func() error {
		defer cancel()
		err := srv.Serve(gCtx, os.Stdin, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return g.Wait()
}

// Inspect writes a debug dump of the parsed project model to w.
func Inspect(_ context.Context, w io.Writer, opts ...Option) error {
	app, logger, err := setup(opts)
	if err != nil {
		return err
	}
	m, err := project.NewModel(app.config.Project.Root, app.config.Project.Filter(), logger)
	if err != nil {
		return err
	}
	files, err := m.Files()
	if err != nil {
		return err
	}
	cs := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, DisableCapacities: true, SortKeys: true}
	cs.Fdump(w, files)
	return nil
}
