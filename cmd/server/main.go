package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"tenant-auth-policy/internal/app"
	"tenant-auth-policy/internal/config"
	"tenant-auth-policy/internal/server"
	"tenant-auth-policy/internal/telemetry"
)

const healthInterval = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("app: %v", err)
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	s, hs := newGRPCServer(a.ServerDeps())
	go a.Health.Run(ctx, hs, healthInterval)

	go func() {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		if err := s.Serve(lis); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down gRPC server...")
	cancel()
	hs.Shutdown()
	s.GracefulStop()
	// Audit writes in flight on the async sink finish within one emit timeout.
	time.Sleep(telemetry.ShutdownDrainDuration)
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	a.Close(shutdownCtx)
	log.Println("gRPC server stopped")
}

// newGRPCServer builds the host server; NewServer has already registered every hosted service.
func newGRPCServer(deps server.Deps) (*grpc.Server, *health.Server) {
	return server.NewServer(deps)
}
