// eifld is the EIFL CI server. It serves the operator API, the runner
// poll/callback protocol, and the Git push ingress hook, and runs the
// cron scheduler on whichever replica holds the Postgres advisory lock.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/eifl-ci/eifl/internal/config"
	"github.com/eifl-ci/eifl/internal/core"
	"github.com/eifl-ci/eifl/internal/dispatcher"
	"github.com/eifl-ci/eifl/internal/gitadapter"
	"github.com/eifl-ci/eifl/internal/httpapi"
	"github.com/eifl-ci/eifl/internal/leader"
	"github.com/eifl-ci/eifl/internal/postgres"
	"github.com/eifl-ci/eifl/internal/pushtrigger"
	"github.com/eifl-ci/eifl/internal/scheduler"
	"golang.org/x/sync/errgroup"
)

// validateEnv checks that critical environment variables have valid values
// before anything is wired, collecting every violation rather than failing
// on the first.
func validateEnv() []string {
	var errs []string

	if addr := os.Getenv("EIFL_LISTEN_ADDR"); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Sprintf("EIFL_LISTEN_ADDR=%q: must be host:port (%v)", addr, err))
		}
	}
	if port := os.Getenv("PORT"); port != "" {
		if _, err := net.LookupPort("tcp", port); err != nil {
			errs = append(errs, fmt.Sprintf("PORT=%q: must be a valid port number", port))
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL == "" {
		errs = append(errs, "DATABASE_URL: must be set")
	} else if _, err := url.Parse(dbURL); err != nil {
		errs = append(errs, fmt.Sprintf("DATABASE_URL: invalid URL (%v)", err))
	}
	if key := os.Getenv("EIFL_ENCRYPTION_KEY"); key != "" && len(key) < 32 {
		errs = append(errs, "EIFL_ENCRYPTION_KEY: must be at least 32 characters")
	}
	if v := os.Getenv("SCHEDULER_TICK"); v != "" {
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Sprintf("SCHEDULER_TICK=%q: must be a valid Go duration (e.g. 60s) (%v)", v, err))
		}
	}
	if v := os.Getenv("EIFL_PUBLIC_URL"); v != "" {
		if _, err := url.ParseRequestURI(v); err != nil {
			errs = append(errs, fmt.Sprintf("EIFL_PUBLIC_URL=%q: must be a valid URL (%v)", v, err))
		}
	}

	return errs
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		resp, err := http.Get("http://localhost:8080/health")
		if err != nil {
			os.Exit(1)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	baseHandler := slog.NewJSONHandler(os.Stdout, nil)
	logger := slog.New(httpapi.NewContextHandler(baseHandler))
	slog.SetDefault(logger)

	if errs := validateEnv(); len(errs) > 0 {
		for _, e := range errs {
			slog.Error("invalid environment variable", "error", e)
		}
		os.Exit(1)
	}

	configPath := config.ResolvePath()
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	if configPath != "" {
		slog.Info("config loaded", "path", configPath)
	}

	crypto, err := core.NewCrypto(os.Getenv("EIFL_ENCRYPTION_KEY"))
	if err != nil {
		slog.Error("failed to initialize crypto", "error", err)
		os.Exit(1)
	}
	if !crypto.Configured() {
		slog.Warn("EIFL_ENCRYPTION_KEY not set, secret storage disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	store := postgres.NewStore(pool)
	git := gitadapter.NewExecAdapter()

	s := &httpapi.Server{
		Store:       store,
		Crypto:      crypto,
		Git:         git,
		Dispatcher:  dispatcher.NewFromEnv(store, crypto),
		PushTrigger: pushtrigger.New(store, git),
		APIKey:      os.Getenv("EIFL_API_KEY"),
		Config:      cfg,
	}
	if corsEnv := os.Getenv("CORS_ORIGINS"); corsEnv != "" {
		s.CORSOrigins = strings.Split(corsEnv, ",")
	} else {
		s.CORSOrigins = cfg.CORSOrigins
	}
	if s.APIKey == "" {
		slog.Warn("EIFL_API_KEY not set, operator API is unauthenticated")
	}

	router := httpapi.NewRouter(s)

	addr := "127.0.0.1:8080"
	if listenAddr := os.Getenv("EIFL_LISTEN_ADDR"); listenAddr != "" {
		addr = listenAddr
	} else if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	if strings.HasPrefix(addr, "0.0.0.0") && s.APIKey == "" {
		slog.Warn("listening on 0.0.0.0 without EIFL_API_KEY — API is unauthenticated and accessible from the network")
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting eifld", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	schedulerTick := 60 * time.Second
	if v := os.Getenv("SCHEDULER_TICK"); v != "" {
		schedulerTick, _ = time.ParseDuration(v)
	} else if d, err := time.ParseDuration(cfg.SchedulerTick); err == nil && d > 0 {
		schedulerTick = d
	}
	schedulerEnabled := os.Getenv("SCHEDULER_ENABLED") != "false"

	if schedulerEnabled {
		sched := scheduler.New(store, git, schedulerTick)
		startScheduler := func(ctx context.Context) func() {
			sched.Start(ctx)
			slog.Info("scheduler started", "tick", schedulerTick)
			return func() {
				sched.Stop()
				slog.Info("scheduler stopped")
			}
		}

		tryLock := func(ctx context.Context) (bool, error) {
			var acquired bool
			err := pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", leader.AdvisoryLockID).Scan(&acquired)
			return acquired, err
		}
		retryInterval, err := cfg.ResolveLeaderRetryInterval()
		if err != nil {
			slog.Error("invalid leader retry interval, falling back to default", "error", err)
			retryInterval = leader.RetryInterval
		}
		elector := leader.New(tryLock, retryInterval, startScheduler)
		elector.Start(gctx)
		defer elector.Stop()
		slog.Info("leader election started")
	} else {
		slog.Info("scheduler disabled (SCHEDULER_ENABLED=false)")
	}

	<-gctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("eifld shutdown complete")
}
