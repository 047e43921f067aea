// Package engage parses engine command flags and starts the runtime.
package engage

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/textline/engage/internal/platform/cmd"
	server "github.com/textline/engage/internal/services/engage/app"
)

// Config holds engage command configuration.
type Config struct {
	Port          int           `env:"ENGAGE_PORT" envDefault:"8086"`
	DBPath        string        `env:"ENGAGE_DB" envDefault:"data/engage.db"`
	SweepInterval time.Duration `env:"ENGAGE_SWEEP_INTERVAL" envDefault:"1s"`
	GateMode      string        `env:"ENGAGE_GATE_MODE" envDefault:"threshold"`
	GatePriority  int           `env:"ENGAGE_GATE_PRIORITY" envDefault:"0"`
	MaxBatch      int           `env:"ENGAGE_MAX_BATCH" envDefault:"100"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The engine server port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "The engine SQLite database path")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "How often expired reply deadlines are swept")
	fs.StringVar(&cfg.GateMode, "gate-mode", cfg.GateMode, "Notification gate mode (threshold, always, never)")
	fs.IntVar(&cfg.GatePriority, "gate-priority", cfg.GatePriority, "Highest priority level that triggers operator alerts")
	fs.IntVar(&cfg.MaxBatch, "max-batch", cfg.MaxBatch, "Maximum batch size accepted by the pipeline")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the engagement engine service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceEngage, func(context.Context) error {
		return server.Run(ctx, server.RuntimeConfig{
			Port:          cfg.Port,
			DBPath:        cfg.DBPath,
			SweepInterval: cfg.SweepInterval,
			GateMode:      cfg.GateMode,
			GatePriority:  cfg.GatePriority,
			MaxBatch:      cfg.MaxBatch,
		})
	})
}
