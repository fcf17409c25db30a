package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"example.com/eventbrite-sync/internal/logging"
	"example.com/eventbrite-sync/internal/mockapi"
	"example.com/eventbrite-sync/internal/sqliteutil"
)

func main() {
	var (
		dbPath = flag.String("db", "mockapi.db", "path to the mock sqlite database file")
		addr   = flag.String("addr", ":8081", "HTTP listen address for the mock Eventbrite API")
		token  = flag.String("token", os.Getenv("EVENTBRITE_TOKEN"), "token to register at startup")
		seed   = flag.Int("seed", 0, "number of random live events to create at startup")
	)
	flag.Parse()

	ctx := context.Background()
	logger := logging.New("info", "")

	db, err := sqliteutil.Open(*dbPath)
	if err != nil {
		logger.Error("open mockapi db failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := mockapi.NewStore(db)
	if err := store.Init(ctx); err != nil {
		logger.Error("init mockapi schema failed", "error", err)
		os.Exit(1)
	}
	if *token != "" {
		if _, err := store.EnsureToken(ctx, *token, "startup"); err != nil {
			logger.Error("register token failed", "error", err)
			os.Exit(1)
		}
	}
	for i := 0; i < *seed; i++ {
		if _, err := store.CreateRandomEvent(ctx); err != nil {
			logger.Error("seed event failed", "error", err)
			os.Exit(1)
		}
	}

	serverLogger := logger.With("component", "mockapi.http")
	server := &http.Server{
		Addr:              *addr,
		Handler:           mockapi.NewServer(store, serverLogger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		serverLogger.Info("mock eventbrite API listening", "addr", *addr, "db", *dbPath, "seeded", *seed)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverLogger.Error("mockapi server error", "error", err)
		}
	}()

	waitForShutdown(serverLogger, server)
}

func waitForShutdown(logger *slog.Logger, server *http.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return
	}
	logger.Info("mockapi server stopped")
}
