package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/textline/engage/internal/platform/timeouts"
	"github.com/textline/engage/internal/services/engage/content"
	"github.com/textline/engage/internal/services/engage/notify"
	"github.com/textline/engage/internal/services/engage/schedule"
	engagesqlite "github.com/textline/engage/internal/services/engage/storage/sqlite"
)

// RuntimeConfig controls engine startup, dependencies, and loop behavior.
type RuntimeConfig struct {
	Port          int
	DBPath        string
	SweepInterval time.Duration
	GateMode      string
	GatePriority  int
	MaxBatch      int
}

const (
	defaultEnginePort = 8086
	defaultEngineDB   = "data/engage.db"
)

// Run starts engine runtime dependencies, recovers pending reply deadlines,
// and serves health status until the context is canceled.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultEnginePort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultEngineDB
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = timeouts.SweepInterval
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create engine storage dir: %w", err)
		}
	}

	store, err := engagesqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open engine sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close engine sqlite store: %v", closeErr)
		}
	}()

	gate, err := notify.FromConfig(cfg.GateMode, cfg.GatePriority)
	if err != nil {
		return fmt.Errorf("configure notification gate: %w", err)
	}
	generator, err := content.NewTemplateGenerator(nil)
	if err != nil {
		return fmt.Errorf("configure content generator: %w", err)
	}

	scheduler := schedule.New(schedule.WithSweepInterval(cfg.SweepInterval))
	sessions := NewSessionManager(store, store, store, nil, nil)

	var pipelineOpts []PipelineOption
	if cfg.MaxBatch > 0 {
		pipelineOpts = append(pipelineOpts, WithMaxBatch(cfg.MaxBatch))
	}
	pipeline := NewPipeline(store, store, sessions, scheduler, gate, generator, pipelineOpts...)

	recovered, err := pipeline.RecoverPendingTimeouts(ctx)
	if err != nil {
		return fmt.Errorf("recover pending timeouts: %w", err)
	}
	if recovered > 0 {
		log.Printf("recovered %d pending reply deadlines", recovered)
	}

	go scheduler.Run(ctx)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on engine port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("engage.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	log.Printf("engage server listening at %v", listener.Addr())

	select {
	case <-ctx.Done():
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
		return nil
	case err := <-serveErr:
		return err
	}
}
