// Command darkroomd runs the photo-development job engine as a daemon:
// REST API, WebSocket/SSE event feed, and Prometheus metrics on one
// listener, workers claiming against the configured store behind them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/darkroomhq/darkroom"
	"github.com/darkroomhq/darkroom/api"
	audithook "github.com/darkroomhq/darkroom/audit_hook"
	"github.com/darkroomhq/darkroom/engine"
	"github.com/darkroomhq/darkroom/schedule"
	"github.com/darkroomhq/darkroom/store/memory"
	"github.com/darkroomhq/darkroom/store/postgres"
	redisstore "github.com/darkroomhq/darkroom/store/redis"
	"github.com/darkroomhq/darkroom/worker"
	"github.com/darkroomhq/darkroom/wsfeed"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "darkroomd:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		envPath    = flag.String("env", ".env", "path to env file (missing file is fine)")
	)
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}

	cfg := DefaultFileConfig()
	if *configPath != "" {
		var err error
		cfg, err = LoadConfig(*configPath)
		if err != nil {
			return err
		}
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}

	e, err := darkroom.New(
		darkroom.WithStore(st),
		darkroom.WithLogger(logger),
		darkroom.WithConfig(engineConfig(cfg.Engine)),
	)
	if err != nil {
		return err
	}

	rt, err := engine.Build(e,
		engine.WithProcessFunc(processFunc(cfg.Host, logger)),
		engine.WithExtension(audithook.New(auditRecorder(logger), audithook.WithLogger(logger))),
	)
	if err != nil {
		return err
	}

	r := mux.NewRouter()
	ss, _ := st.(schedule.Store) //nolint:errcheck // nil runner disables schedule routes
	api.New(rt.Scheduler(), rt.ScheduleRunner(), ss, rt.Broker(), logger).RegisterRoutes(r)

	feedHandler := wsfeed.NewHandler(rt.Scheduler(), rt.Broker(), logger)
	feed := wsfeed.NewServer(rt.Broker(), feedHandler,
		wsfeed.WithAuth(authenticator(cfg.Auth)),
		wsfeed.WithLogger(logger),
	)
	feed.RegisterRoutes(r)

	r.Handle("/metrics", rt.Metrics().Handler()).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	logger.Info("darkroomd started",
		slog.String("addr", cfg.Server.Addr),
		slog.String("store", cfg.Store.Backend),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if serveErr := srv.ListenAndServe(); !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		if shutErr := srv.Shutdown(shutdownCtx); shutErr != nil {
			logger.Error("http shutdown error", "error", shutErr)
		}
		return rt.Stop(shutdownCtx)
	})
	return g.Wait()
}

// processFunc selects the editing-host hand-off or the local simulator.
func processFunc(cfg HostConfig, logger *slog.Logger) worker.ProcessFunc {
	if cfg.Endpoint != "" {
		return hostProcessFunc(cfg)
	}
	logger.Warn("no editing host configured, simulating development locally")
	return simulateProcessFunc()
}

// auditRecorder writes the lifecycle audit trail through the daemon
// logger under a dedicated component attribute, so operators get a
// greppable trail without a separate store.
func auditRecorder(logger *slog.Logger) audithook.Recorder {
	trail := logger.With(slog.String("component", "audit"))
	return audithook.RecorderFunc(func(_ context.Context, evt *audithook.AuditEvent) error {
		attrs := []any{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("outcome", evt.Outcome),
		}
		if evt.ResourceID != "" {
			attrs = append(attrs, slog.String("resource_id", evt.ResourceID))
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}

		switch evt.Severity {
		case audithook.SeverityCritical:
			trail.Error("audit", attrs...)
		case audithook.SeverityWarning:
			trail.Warn("audit", attrs...)
		default:
			trail.Info("audit", attrs...)
		}
		return nil
	})
}

func newLogger(cfg LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

func openStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (darkroom.Storer, error) {
	switch cfg.Backend {
	case "", "memory":
		return memory.New(), nil
	case "postgres":
		st, err := postgres.New(ctx, cfg.PostgresDSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if err := st.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate postgres store: %w", err)
		}
		return st, nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		st := redisstore.New(client, redisstore.WithLogger(logger))
		if err := st.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping redis store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func authenticator(cfg AuthConfig) wsfeed.Authenticator {
	if len(cfg.Tokens) == 0 {
		return &wsfeed.NoopAuthenticator{}
	}
	entries := make([]wsfeed.TokenEntry, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		entries = append(entries, wsfeed.TokenEntry{
			Token:    t.Token,
			Identity: wsfeed.Identity{Subject: t.Subject, Scopes: t.Scopes},
		})
	}
	return wsfeed.NewTokenAuthenticator(entries...)
}
