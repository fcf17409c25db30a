package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"golang.org/x/sync/errgroup"

	"example.com/eventbrite-sync/internal/config"
	"example.com/eventbrite-sync/internal/content"
	"example.com/eventbrite-sync/internal/eventbrite"
	"example.com/eventbrite-sync/internal/logging"
	"example.com/eventbrite-sync/internal/reconcile"
	"example.com/eventbrite-sync/internal/sqliteutil"
	"example.com/eventbrite-sync/internal/syncer"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to the YAML config file; empty uses defaults and environment")
		addr       = flag.String("addr", "", "HTTP listen address, overrides server.addr")
		dbPath     = flag.String("db", "", "path to the sqlite database file, overrides server.database")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config failed", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Server.Database = *dbPath
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, logger); err != nil {
		logger.Error("syncer exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqliteutil.Open(cfg.Server.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	store := content.NewStore(db)
	if err := store.Init(ctx); err != nil {
		return err
	}
	owner, err := store.ResolveUser(ctx, cfg.Sync.OwnerEmail)
	if err != nil {
		return err
	}

	rec := reconcile.New(reconcile.Config{
		Endpoint: cfg.Eventbrite.Endpoint,
		Token:    cfg.Eventbrite.Token,
		OwnerID:  owner.ID,
		PostType: cfg.Sync.PostType,
		SiteURL:  cfg.Sync.SiteURL,
	}, store, eventbrite.NewClient(cfg.Eventbrite.Timeout), logger.With("component", "reconcile"))
	metrics := syncer.NewMetrics()

	var orchestrator syncer.Orchestrator
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Temporal.HostPort != "" {
		tc, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
			Logger:    tlog.NewStructuredLogger(logger.With("component", "temporal")),
		})
		if err != nil {
			return err
		}
		defer tc.Close()

		w := syncer.RegisterSyncWorker(tc, rec, metrics, logger)
		if err := w.Start(); err != nil {
			return err
		}
		defer w.Stop()
		logger.Info("temporal worker started", "host_port", cfg.Temporal.HostPort, "task_queue", syncer.SyncTaskQueue())
		orchestrator = syncer.NewTemporalOrchestrator(tc, logger)
	} else {
		logger.Info("temporal not configured, running syncs in-process")
		local := syncer.NewLocalOrchestrator(rec, metrics, logger)
		// Runs before db.Close so background runs finish on an open database.
		defer local.Wait()
		orchestrator = local
	}

	if cfg.Sync.Schedule != "" {
		scheduler, err := syncer.NewScheduler(cfg.Sync.Schedule, orchestrator, logger)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	serverLogger := logger.With("component", "syncer.http")
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           syncer.NewServer(store, orchestrator, metrics, cfg.Sync.PostType, serverLogger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		serverLogger.Info("syncer API listening", "addr", cfg.Server.Addr, "db", cfg.Server.Database, "owner_id", owner.ID)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			serverLogger.Error("graceful shutdown failed", "error", err)
			return err
		}
		serverLogger.Info("syncer server stopped")
		return nil
	})

	return g.Wait()
}
