package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gabrielmiguelok/questkit/internal/config"
	"github.com/gabrielmiguelok/questkit/internal/fragments"
	"github.com/gabrielmiguelok/questkit/internal/questview"
	"github.com/gabrielmiguelok/questkit/internal/server"
	"github.com/gabrielmiguelok/questkit/internal/store"
	"github.com/gabrielmiguelok/questkit/pkg/health"
	"github.com/gabrielmiguelok/questkit/pkg/logging"
	"github.com/gabrielmiguelok/questkit/pkg/metrics"
	"github.com/gabrielmiguelok/questkit/pkg/quest"
	"github.com/gabrielmiguelok/questkit/pkg/router"
	"github.com/gabrielmiguelok/questkit/pkg/shutdown"
	"github.com/gabrielmiguelok/questkit/pkg/transport"
)

// cleanupInterval is how often idle live sessions are reaped.
const cleanupInterval = time.Minute

type serveOptions struct {
	addr   string
	driver string
	dsn    string
	dev    bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the wizard pages and the /report backend",
		Long: `Serves the live wizard pages (/purpose-quest, /purpose-quest-lite,
/purpose-journey), the /report backend they save to, and /healthz.

Flags override the matching config file values.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			opts.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, root.logger, nil)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", "", "listen address")
	f.StringVar(&opts.driver, "store", "", "draft store driver (memory, sqlite)")
	f.StringVar(&opts.dsn, "dsn", "", "sqlite database path")
	f.BoolVar(&opts.dev, "dev", false, "accept websocket connections from any origin")
	return cmd
}

func (o *serveOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("addr") {
		cfg.Server.Address = o.addr
	}
	if cmd.Flags().Changed("store") {
		cfg.Store.Driver = o.driver
	}
	if cmd.Flags().Changed("dsn") {
		cfg.Store.DSN = o.dsn
	}
	if o.dev {
		cfg.Server.InsecureDevMode = true
	}
}

// app is the assembled server.
type app struct {
	cfg     config.Config
	logger  logging.Logger
	drafts  store.Store
	backend *server.Server
	router  *router.Router
	health  *health.Checker
	metrics *metrics.Quest
}

func newApp(cfg config.Config, logger logging.Logger) (*app, error) {
	drafts, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open draft store: %w", err)
	}

	templates := quest.DefaultStore()
	m := metrics.NewQuest("questkit")
	backend := server.New(drafts,
		server.WithMetrics(m),
		server.WithLogger(logger.With(logging.String("component", "backend"))),
		server.WithTemplates(templates),
		server.WithFragments(fragments.New(fragments.WithMinWords(cfg.Quest.MinWords))),
		server.WithMinWords(cfg.Quest.MinWords),
		server.WithProductSlug(cfg.Quest.ProductSlug),
	)

	r := router.New(
		router.WithLogger(logger.With(logging.String("component", "live"))),
		router.WithTransportConfig(cfg.Transport()),
		router.WithWebSocketConfig(&transport.WebSocketConfig{
			AllowedOrigins:  cfg.Server.AllowedOrigins,
			InsecureDevMode: cfg.Server.InsecureDevMode,
		}),
		router.WithSessionConfig(router.SessionManagerConfig{
			MaxSessions: cfg.Server.MaxSessions,
			SessionTTL:  cfg.Server.SessionTTL,
		}),
	)
	r.Use(router.RequestID())
	r.Use(logging.RequestLogger(logger))
	r.Use(router.Recovery(logger))
	r.Use(router.SecureHeaders())
	if cfg.Server.Compress {
		r.Use(router.Compress())
	}

	backend.Register(r)
	questview.Register(r, questview.Deps{
		Backend:     backend,
		Templates:   templates,
		Config:      cfg.Wizard(),
		ProductSlug: cfg.Quest.ProductSlug,
		Logger:      logger.With(logging.String("component", "wizard")),
	})

	checker := health.NewChecker(version)
	checker.AddCritical("store", health.PingCheck(drafts), 2*time.Second)
	checker.AddCritical("templates", health.TemplatesCheck(templates), time.Second)
	checker.Add("live_sessions", health.CapacityCheck(r.Sessions().Count, cfg.Server.MaxSessions), time.Second)
	r.Handle("GET /healthz", checker.LivenessHandler())
	r.Handle("GET /readyz", checker.ReadinessHandler())

	m.Registry().GaugeFunc("live_sessions", "Live wizard sessions.", func() float64 {
		return float64(r.Sessions().Count())
	})
	r.Handle("GET /metrics", m.Handler())

	return &app{
		cfg:     cfg,
		logger:  logger,
		drafts:  drafts,
		backend: backend,
		router:  r,
		health:  checker,
		metrics: m,
	}, nil
}

// serve runs the server until ctx is done, then shuts it down in priority
// order. A nil ln listens on the configured address.
func serve(ctx context.Context, cfg config.Config, logger logging.Logger, ln net.Listener) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	if ln == nil {
		if ln, err = net.Listen("tcp", cfg.Server.Address); err != nil {
			_ = a.drafts.Close()
			return fmt.Errorf("listen %s: %w", cfg.Server.Address, err)
		}
	}

	srv := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return logging.ContextWithLogger(context.Background(), logger) },
	}

	sd := shutdown.NewHandler(shutdown.WithTimeout(cfg.Server.ShutdownTimeout), shutdown.WithLogger(logger))
	sd.RegisterFunc("http", shutdown.PriorityHTTP, srv.Shutdown)
	sd.RegisterFunc("live", shutdown.PriorityLive, a.router.Shutdown)
	sd.RegisterCloser("drafts", shutdown.PriorityStore, a.drafts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("questd listening",
			logging.String("addr", ln.Addr().String()),
			logging.String("store", cfg.Store.Driver),
			logging.String("version", version),
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.router.RunCleanup(gctx, cleanupInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return sd.Shutdown(context.Background())
	})
	return g.Wait()
}
