package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/quantex-io/depositwatch/internal/api"
	"github.com/quantex-io/depositwatch/internal/config"
	"github.com/quantex-io/depositwatch/internal/dedup"
	"github.com/quantex-io/depositwatch/internal/gateway"
	"github.com/quantex-io/depositwatch/internal/locker"
	"github.com/quantex-io/depositwatch/internal/logging"
	"github.com/quantex-io/depositwatch/internal/monitor"
	"github.com/quantex-io/depositwatch/internal/notify"
	"github.com/quantex-io/depositwatch/internal/pending"
	"github.com/quantex-io/depositwatch/internal/sweeper"
	"github.com/quantex-io/depositwatch/internal/walletdb"
	"github.com/quantex-io/depositwatch/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	slog.Info("depositwatch starting",
		"port", cfg.Port,
		"network", cfg.Network,
		"walletDBPath", cfg.WalletDBPath,
	)

	// Wallet database.
	db, err := walletdb.New(cfg.WalletDBPath)
	if err != nil {
		slog.Error("failed to open wallet database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Redis: pending store and address locks.
	rdb, err := pending.Connect(cfg.RedisURL, cfg.RedisPassword)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	store := pending.NewStore(rdb)
	locks := locker.NewAddressLocker(rdb)

	// Provider pool and dedup ledger.
	pool := gateway.SetupPool(cfg)
	ledger := dedup.NewLedger(config.DedupEntryTTL)
	purgeStop := make(chan struct{})
	ledger.StartPurgeLoop(config.DedupPurgeInterval, purgeStop)

	// Realtime layer, monitor registry, and completion path. The hub and
	// registry reference each other (broadcast one way, session lifecycle the
	// other), so the hub is wired through a late-bound holder.
	var hub *ws.Hub
	deps := monitor.Deps{
		Pool:    pool,
		Store:   store,
		Dedup:   ledger,
		Wallets: db,
	}
	broadcast := &lateHub{}
	deps.Broadcast = broadcast
	deps.Completer = monitor.NewCompleter(db, store, broadcast, notify.LogNotifier{}, locks)

	registry := monitor.NewRegistry(deps, cfg.Network)
	hub = ws.NewHub(registry)
	broadcast.hub = hub

	// Verification sweeper on a cron schedule.
	sweep := sweeper.New(pool, store, deps.Completer, hub)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", config.SweepInterval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), config.SweepInterval*6)
		defer cancel()
		sweep.Sweep(ctx)
	}); err != nil {
		slog.Error("failed to schedule verification sweep", "error", err)
		os.Exit(1)
	}
	scheduler.Start()

	// HTTP server.
	router := api.NewRouter(&api.Dependencies{
		Config:   cfg,
		Registry: registry,
		Pool:     pool,
		Store:    store,
		Hub:      hub,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("depositwatch HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	sig := <-done
	slog.Info("shutdown signal received", "signal", sig)

	// Stop producers first: sweeper, monitors, purge loop, then clients.
	sweepCtx := scheduler.Stop()
	<-sweepCtx.Done()
	registry.StopAll()
	close(purgeStop)
	hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("depositwatch stopped")
}

// lateHub defers broadcast dispatch until the hub exists. Events emitted
// before wiring completes are dropped; nothing subscribes that early.
type lateHub struct {
	hub *ws.Hub
}

func (l *lateHub) Broadcast(topic, userID string, payload any) {
	if l.hub != nil {
		l.hub.Broadcast(topic, userID, payload)
	}
}
