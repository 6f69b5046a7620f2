// Sweeper periodically deletes expired sessions and deactivates devices that have been idle for
// DEVICE_INACTIVE_DAYS. SWEEP_INTERVAL sets the period. GRPC_ADDR is required by config but unused (e.g. set to :0).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tenant-auth-policy/internal/app"
	"tenant-auth-policy/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("sweeper: shutting down...")
		cancel()
	}()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("sweeper: %v", err)
	}
	defer a.Close(context.Background())

	interval := cfg.SweepEvery()
	log.Printf("sweeper: running every %s (devices idle > %d days)", interval, cfg.DeviceInactiveDays)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		sweep(ctx, a, cfg.DeviceInactiveDays)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sweep(ctx context.Context, a *app.App, inactiveDays int) {
	if n, err := a.Sessions.CleanupExpiredSessions(ctx); err != nil {
		log.Printf("sweeper: cleanup sessions: %v", err)
	} else if n > 0 {
		log.Printf("sweeper: removed %d expired sessions", n)
	}
	if n, err := a.Devices.PruneStaleDevices(ctx, inactiveDays); err != nil {
		log.Printf("sweeper: prune devices: %v", err)
	} else if n > 0 {
		log.Printf("sweeper: deactivated %d stale devices", n)
	}
}
