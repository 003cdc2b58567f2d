package commands

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/burrow/internal/coordinator"
	"github.com/dyluth/burrow/internal/printer"
	"github.com/dyluth/burrow/internal/telemetry"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveAddr      string
	serveNoRecover bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dump coordinator",
	Long: `Run the dump coordinator against Redis.

The coordinator consumes DumpRequested, DeviceConnectionChanged and
UploadCompleted events for its instance, publishes progress and completion
events, and writes one manifest per issue under log_directory. On start it
recovers issues a previous run left unfinished.

An HTTP status server exposes /healthz and /issues/{id}.

Examples:
  # Serve with ./burrow.yml
  burrow serve

  # Serve another instance on another port
  BURROW_INSTANCE_NAME=lab2 burrow serve --addr :8081`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Status server listen address (overrides status.addr)")
	serveCmd.Flags().BoolVar(&serveNoRecover, "no-recover", false, "Skip recovery of unfinished issues")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Status.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, "burrow", version); err != nil {
		log.Printf("[Serve] [WARN] Telemetry disabled: %v", err)
	}
	defer telemetry.Shutdown(context.Background())

	client, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	coord, err := newCoordinator(cfg, client, client)
	if err != nil {
		return printer.Error("Cannot start coordinator", err.Error(), nil)
	}

	status := coordinator.NewStatusServer(coord, client, cfg.Status.Addr)
	if err := status.Start(); err != nil {
		return printer.ErrorWithContext(
			"Cannot start status server",
			err.Error(),
			map[string]string{"Address": cfg.Status.Addr},
			[]string{"Choose another address with --addr"},
		)
	}

	printer.Success("Coordinator serving instance '%s' (status on %s)\n", cfg.Instance, status.Addr())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return coord.Run(gctx)
	})

	if !serveNoRecover {
		g.Go(func() error {
			select {
			case <-coord.Ready():
			case <-gctx.Done():
				return nil
			}
			n, err := coord.Recover(gctx, cfg.LogDirectory)
			if err != nil {
				log.Printf("[Serve] [WARN] Recovery failed: %v", err)
				return nil
			}
			if n > 0 {
				log.Printf("[Serve] Recovered %d unfinished issue(s)", n)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return status.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return printer.Error("Coordinator stopped with an error", err.Error(), nil)
	}

	printer.Info("Coordinator stopped\n")
	return nil
}
