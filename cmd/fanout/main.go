// Command fanout runs the live update hub on its own. The API process posts
// events to its internal notify listener; judges and admins connect to the
// public listener over WebSocket or SSE.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/okian/tabulator/internal/adapters/http/api"
	"github.com/okian/tabulator/internal/adapters/http/sse"
	"github.com/okian/tabulator/internal/adapters/http/ws"
	"github.com/okian/tabulator/internal/adapters/marker"
	"github.com/okian/tabulator/internal/adapters/repository"
	"github.com/okian/tabulator/internal/config"
	"github.com/okian/tabulator/internal/domain/dedupe"
	"github.com/okian/tabulator/internal/fanout"
	"github.com/okian/tabulator/pkg/logger"
)

const (
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 60 * time.Second
	notifyTimeout     = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	var opts []logger.Option
	if cfg.LogFormat == "console" {
		opts = append(opts, logger.WithConsoleEncoding())
	}
	if err := logger.Init(opts...); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		_ = logger.SetLevelString("info")
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "fanout stopped with error", logger.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// servers holds the two listeners of the fan-out process.
type servers struct {
	public   http.Handler
	internal http.Handler
	hub      *fanout.Hub
}

// newServers wires the hub behind its public and internal routers. store and
// mark feed the SSE fallback.
func newServers(cfg *config.Config, store fanout.BandSource, mark fanout.MarkerSource) *servers {
	hub := fanout.NewHub(fanout.WithBufferSize(cfg.ClientBufferSize))

	public := chi.NewRouter()
	api.RegisterFanout(public, hub,
		ws.NewHandler(hub,
			ws.WithHandshakeTimeout(cfg.HandshakeTimeout()),
			ws.WithWriteTimeout(cfg.WriteTimeout()),
			ws.WithOriginPatterns(cfg.OriginPatterns...)),
		sse.NewHandler(store, mark, cfg.WatchInterval(), cfg.WatchMaxLifetime()))
	public.Get("/metrics", api.NewHealthHandler(hub).HandleMetrics)

	internal := chi.NewRouter()
	api.RegisterNotify(internal, api.NewNotifyHandler(hub, dedupe.New(dedupe.WithMaxSize(cfg.DedupeSize))))

	return &servers{public: public, internal: internal, hub: hub}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("fanout")

	store, err := repository.Open(ctx, cfg.StoreDriver, cfg.StoreDSN,
		repository.WithLogger(logger.Named("repository")))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var mark marker.Marker = marker.NewMemory()
	if cfg.MarkerPath != "" {
		mark = marker.NewFile(cfg.MarkerPath)
	}
	s := newServers(cfg, store, mark)

	g, gctx := errgroup.WithContext(ctx)
	base := func(net.Listener) context.Context { return gctx }

	// Streams are long lived; they clear their own deadlines.
	public := &http.Server{
		Addr:              cfg.FanoutAddr,
		Handler:           s.public,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		BaseContext:       base,
	}
	internal := &http.Server{
		Addr:              cfg.NotifyAddr,
		Handler:           s.internal,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       notifyTimeout,
		WriteTimeout:      notifyTimeout,
		IdleTimeout:       idleTimeout,
		BaseContext:       base,
	}

	for _, srv := range []*http.Server{public, internal} {
		g.Go(func() error {
			log.Info(gctx, "listening", logger.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down fanout...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.hub.Close()
		return errors.Join(internal.Shutdown(shutdownCtx), public.Shutdown(shutdownCtx))
	})

	return g.Wait()
}
