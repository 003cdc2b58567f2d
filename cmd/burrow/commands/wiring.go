package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/burrow/internal/config"
	"github.com/dyluth/burrow/internal/coordinator"
	"github.com/dyluth/burrow/internal/manifest"
	"github.com/dyluth/burrow/internal/pathstrategy"
	"github.com/dyluth/burrow/internal/printer"
	"github.com/dyluth/burrow/internal/telemetry"
	"github.com/dyluth/burrow/internal/upload"
	"github.com/dyluth/burrow/internal/worker"
	"github.com/dyluth/burrow/pkg/dump"
	"github.com/redis/go-redis/v9"
)

func loadConfig() (*config.BurrowConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"Cannot load configuration",
			err.Error(),
			map[string]string{"Config": configPath},
			[]string{
				fmt.Sprintf("Create %s in the current directory", config.DefaultPath),
				"Point at another file with --config",
			},
		)
	}
	return cfg, nil
}

// connectRedis opens an instance-scoped client and checks it responds.
func connectRedis(ctx context.Context, cfg *config.BurrowConfig) (*dump.Client, error) {
	if cfg.RedisURL == "" {
		return nil, printer.Error(
			"Redis is not configured",
			"This command talks to a running coordinator over Redis.",
			[]string{"Set redis_url in burrow.yml", "Export REDIS_URL"},
		)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, printer.Error("Invalid Redis URL", err.Error(), []string{"Use the form redis://host:6379/0"})
	}

	client, err := dump.NewClient(opts, cfg.Instance)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, printer.ErrorWithContext(
			"Redis not accessible",
			err.Error(),
			map[string]string{"Redis": opts.Addr, "Instance": cfg.Instance},
			[]string{"Check that Redis is running and reachable"},
		)
	}
	return client, nil
}

// newCoordinator assembles a coordinator from configuration. mirror may be nil.
func newCoordinator(cfg *config.BurrowConfig, bus dump.Bus, mirror coordinator.SnapshotWriter) (*coordinator.Coordinator, error) {
	d := cfg.Dump

	strategy, err := pathstrategy.New(d.PathStrategy, pathstrategy.Config{
		BaseDir:     cfg.LogDirectory,
		LocalPrefix: d.LocalDirectoryPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build path strategy: %w", err)
	}

	commands := make([]worker.Command, len(d.Commands))
	for i, c := range d.Commands {
		commands[i] = worker.Command{Name: c.Name, Argv: c.Command, Env: c.Environment}
	}

	var gateway upload.Gateway
	if u := cfg.Upload; u != nil {
		gateway = &upload.JFrogGateway{
			CLI:         u.CLI,
			ServerID:    u.ServerID,
			Repository:  u.Repository,
			PlatformURL: u.PlatformURL,
			Timeout:     u.Timeout,
		}
	}

	cfgCoord := coordinator.Config{
		InstanceName:          cfg.Instance,
		Bus:                   bus,
		Transport:             &worker.ExecTransport{},
		Store:                 manifest.NewStore(manifest.Options{MaxRetries: *d.ManifestWriteRetries}),
		Strategy:              strategy,
		Gateway:               gateway,
		Metrics:               telemetry.NewDumps(nil),
		MaxConcurrency:        d.MaxConcurrency,
		UploadDirectoryPrefix: d.UploadDirectoryPrefix,
		AutoUploadEnabled:     *d.AutoUploadEnabled,
		HeadlessTimeout:       d.HeadlessTimeout,
		DialogTimeout:         d.DialogTimeout,
		ProgressInterval:      d.ProgressInterval,
		ShutdownGrace:         d.ShutdownGrace,
		Commands:              commands,
		ExpectedArtifacts:     d.ExpectedArtifacts,
		Devices:               cfg.Devices,
	}
	if mirror != nil {
		cfgCoord.Mirror = mirror
	}
	return coordinator.New(cfgCoord)
}

// uploadFlag turns --upload/--no-upload into the request's tri-state.
func uploadFlag(upload, noUpload bool) (*bool, error) {
	switch {
	case upload && noUpload:
		return nil, fmt.Errorf("--upload and --no-upload are mutually exclusive")
	case upload:
		return dump.Bool(true), nil
	case noUpload:
		return dump.Bool(false), nil
	default:
		return nil, nil
	}
}
