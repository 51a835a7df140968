package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"

	"muc-lab/auth"
	"muc-lab/internal"
	"muc-lab/observability"
	"muc-lab/repositories"
	"muc-lab/runtime"
	"muc-lab/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components and manages the service lifecycle. Keeping
// the logic out of main ensures the defers run before the process exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := internal.NewLogger(config.LogLevel)

	// 2. Storage (BadgerDB + Bluge index)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	index, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return fmt.Errorf("search index opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing search index...")
		_ = index.Close()
	}()

	// 3. Repositories & Engine
	roomRepository, err := repositories.NewRoomRepository(db, log)
	if err != nil {
		return fmt.Errorf("room repository setup failed: %w", err)
	}
	defer func() { _ = roomRepository.Close() }()
	historyRepository := repositories.NewHistoryRepository(db, index, log, config.ReplayLimit)

	metrics := observability.NewRoomMetrics(log)
	deliverer := runtime.NewLogDeliverer(log)
	manager := runtime.NewRoomManager(deliverer, historyRepository, roomRepository,
		metrics, config.LockWindow, log)

	issuer := auth.NewTokenIssuer([]byte(config.AuthTokenSecret), config.AuthTokenDuration)
	sessions := runtime.NewSessionResolver(issuer)
	service := services.NewMUCService(manager, sessions, historyRepository, log)

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Reload persisted rooms
	snapshots, err := roomRepository.List(ctx)
	if err != nil {
		return fmt.Errorf("listing persisted rooms failed: %w", err)
	}
	for _, snapshot := range snapshots {
		if _, err := manager.LoadRoom(ctx, snapshot.Name); err != nil {
			log.Warn("room reload failed", "room", snapshot.Name, "err", err)
		}
	}
	log.Info("Rooms reloaded", "count", len(snapshots), "at", time.Now().UTC())

	// 6. Metrics loop
	go metrics.Listen(ctx, config.MetricInterval, func() int {
		return len(manager.Rooms())
	})

	// 7. Admin API
	admin := newAdminServer(service, metrics, log)
	server := &http.Server{Addr: config.Address(), Handler: admin.routes()}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting admin API", "address", config.Address(), "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("admin API error: %w", err)
		}
	}()

	// 8. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin API shutdown failed: %w", err)
	}
	log.Info("Program stopped cleanly")
	return nil
}
