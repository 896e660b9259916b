package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/okian/tabulator/internal/adapters/http/api"
	"github.com/okian/tabulator/internal/adapters/http/sse"
	"github.com/okian/tabulator/internal/adapters/http/swagger"
	"github.com/okian/tabulator/internal/adapters/http/ws"
	"github.com/okian/tabulator/internal/adapters/marker"
	"github.com/okian/tabulator/internal/adapters/notify"
	"github.com/okian/tabulator/internal/adapters/repository"
	service "github.com/okian/tabulator/internal/app"
	"github.com/okian/tabulator/internal/config"
	"github.com/okian/tabulator/internal/fanout"
	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := initLogging(cfg); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	app, err := newApplication(ctx, cfg)
	if err != nil {
		log.Error(ctx, "startup failed", logger.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	if err := app.run(ctx); err != nil {
		log.Error(ctx, "server stopped with error", logger.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	log.Info(ctx, "server stopped")
}

// initLogging initializes the global logger from cfg. An invalid level falls
// back to info.
func initLogging(cfg *config.Config) error {
	var opts []logger.Option
	if cfg.LogFormat == "console" {
		opts = append(opts, logger.WithConsoleEncoding())
	}
	if err := logger.Init(opts...); err != nil {
		return err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(context.Background(), "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return nil
}

// application is the API process. Events go to an in-process hub that also
// serves /ws and /events/stream, or to a remote fan-out when notify_url is set.
type application struct {
	cfg     *config.Config
	store   repository.Store
	svc     *service.Service
	hub     *fanout.Hub
	remote  *notify.HTTP
	handler http.Handler
	logger  logger.Logger
}

func newApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	a := &application{cfg: cfg, logger: logger.Named("main")}

	store, err := repository.Open(ctx, cfg.StoreDriver, cfg.StoreDSN,
		repository.WithLogger(logger.Named("repository")))
	if err != nil {
		return nil, err
	}
	a.store = store

	var mark marker.Marker
	if cfg.MarkerPath != "" {
		mark = marker.NewFile(cfg.MarkerPath)
	} else {
		mark = marker.NewMemory()
	}

	var notifier notify.Notifier
	if cfg.NotifyURL != "" {
		a.remote = notify.NewHTTP(cfg.NotifyURL,
			notify.WithTimeout(cfg.NotifyTimeout()),
			notify.WithQueueSize(cfg.NotifyQueueSize))
		notifier = a.remote
	} else {
		a.hub = fanout.NewHub(fanout.WithBufferSize(cfg.ClientBufferSize))
		notifier = notify.NewLocal(a.hub)
	}

	a.svc = service.New(store,
		service.WithNotifier(notifier),
		service.WithMarker(mark),
		service.WithTopN(cfg.TopN),
		service.WithLogger(logger.Named("service")))

	if cfg.SeedFile != "" {
		seed, err := config.LoadSeed(ctx, cfg.SeedFile)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		if _, err := a.svc.Seed(ctx, seed); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	r := chi.NewRouter()
	swagger.Register(ctx, r)
	if a.hub != nil {
		api.NewServer(a.svc, a.svc, a.hub).Register(ctx, r)
		api.RegisterFanout(r, a.hub,
			ws.NewHandler(a.hub,
				ws.WithHandshakeTimeout(cfg.HandshakeTimeout()),
				ws.WithWriteTimeout(cfg.WriteTimeout()),
				ws.WithOriginPatterns(cfg.OriginPatterns...)),
			sse.NewHandler(store, mark, cfg.WatchInterval(), cfg.WatchMaxLifetime()))
	} else {
		api.NewServer(a.svc, a.svc, nil).Register(ctx, r)
	}
	a.handler = r
	return a, nil
}

// run serves until ctx ends, then shuts down and closes the store.
func (a *application) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           a.handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		// Streams end with the process.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	if a.remote != nil {
		// Queued events keep posting until Shutdown closes the queue.
		a.remote.Start(context.WithoutCancel(gctx))
	}

	g.Go(func() error {
		a.logger.Info(gctx, "starting HTTP server",
			logger.String("addr", a.cfg.Addr),
			logger.Bool("in_process_fanout", a.hub != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info(context.Background(), "shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if a.hub != nil {
			a.hub.Close()
		}
		err := srv.Shutdown(shutdownCtx)
		if a.remote != nil {
			if rerr := a.remote.Shutdown(shutdownCtx); rerr != nil {
				a.logger.Warn(shutdownCtx, "notifier shutdown incomplete", logger.Error(rerr))
			}
		}
		return err
	})

	g.Go(func() error {
		startSystemMetricsUpdater(gctx)
		return nil
	})
	g.Go(func() error {
		startServiceMetricsUpdater(gctx, a.svc)
		return nil
	})

	err := g.Wait()
	if cerr := a.store.Close(); cerr != nil {
		a.logger.Error(context.Background(), "store close failed", logger.Error(cerr))
	}
	return err
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes the gauges derived from service stats.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(ctx, svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics updates service-level metrics.
func updateServiceMetrics(ctx context.Context, svc *service.Service) {
	stats := svc.GetStats(ctx)
	if pending, ok := stats["pending_judges"].(int); ok {
		metrics.UpdatePendingJudges(pending)
	}
}
