package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/btcsuite/btcrelay/relay"
	"github.com/btcsuite/btcrelay/relaydb"
	"github.com/btcsuite/btcrelay/relayhttp"
)

// shutdownTimeout bounds how long the HTTP listener gets to drain on exit.
const shutdownTimeout = 5 * time.Second

func main() {
	if err := relaydMain(); err != nil {
		os.Exit(1)
	}
}

// relaydMain wires the store, the relay and the HTTP boundary together and
// runs until interrupted.
func relaydMain() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logFile := filepath.Join(cfg.DataDir, defaultLogFile)
	if err := initLogRotator(logFile); err != nil {
		return err
	}
	defer logRotator.Close()
	setLogLevels(cfg.DebugLevel)

	db, err := relaydb.Open(
		cfg.DataDir,
		relaydb.OptionDBTimeout(cfg.DBTimeout),
		relaydb.OptionNoFreelistSync(cfg.NoFreelistSync),
	)
	if err != nil {
		reldLog.Errorf("Unable to open database: %v", err)
		return err
	}
	defer db.Close()

	r, err := relay.New(&relay.Config{
		DB:     db,
		Events: relay.NewEventServer(),
		Filter: &relay.FilterConfig{
			Capacity: cfg.FilterCapacity,
			FPRate:   cfg.FilterFPRate,
		},
	})
	if err != nil {
		reldLog.Errorf("Unable to create relay: %v", err)
		return err
	}

	if err := r.Start(); err != nil {
		reldLog.Errorf("Unable to start relay: %v", err)
		return err
	}
	defer r.Stop()

	server := relayhttp.New(&relayhttp.Config{
		ListenAddr: cfg.Listen,
		APIKey:     cfg.APIKey,
		Relay:      r,
	})
	if err := server.Start(); err != nil {
		reldLog.Errorf("Unable to start HTTP boundary: %v", err)
		return err
	}

	reldLog.Infof("Relay daemon running, data dir %s", cfg.DataDir)

	// Block until interrupted, then unwind in reverse start order.
	interruptChannel := make(chan os.Signal, 1)
	signal.Notify(interruptChannel, os.Interrupt, syscall.SIGTERM)
	sig := <-interruptChannel

	reldLog.Infof("Received %v, shutting down", sig)

	ctx, cancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		reldLog.Errorf("HTTP shutdown: %v", err)
	}

	return nil
}
