package commands

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dyluth/burrow/internal/manifest"
	"github.com/dyluth/burrow/internal/printer"
	"github.com/dyluth/burrow/internal/report"
	"github.com/dyluth/burrow/pkg/dump"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

const watchDebounce = 300 * time.Millisecond

var (
	watchRoot   string
	watchFollow bool
)

var watchCmd = &cobra.Command{
	Use:   "watch ISSUE",
	Short: "Follow an issue's manifest as it changes",
	Long: `Re-render an issue's manifest every time the coordinator rewrites it.

The command exits once every device has finished and the upload, if one is
owed, has been recorded. Use --follow to keep watching regardless.

Examples:
  # Watch an issue until it settles
  burrow watch 241017-113000

  # Keep watching after it settles
  burrow watch logs/issues/241017-113000 --follow`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchRoot, "root", "", "Directory to search for manifests (default: log_directory)")
	watchCmd.Flags().BoolVarP(&watchFollow, "follow", "f", false, "Keep watching after the issue settles")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, path, err := localManifest(logRoot(cfg, watchRoot), args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	report.FormatManifest(out, m, time.Now())
	if settled(m) && !watchFollow {
		return nil
	}
	printer.Info("\nWatching for changes... (Press Ctrl+C to exit)\n")

	return watchManifest(ctx, path, out, watchFollow)
}

// watchManifest re-renders the manifest at path at most watchDebounce after
// the first write of a burst. The file is replaced by rename, so the
// directory is watched rather than the file itself.
func watchManifest(ctx context.Context, path string, out io.Writer, follow bool) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	base := filepath.Base(path)
	changed := make(chan struct{}, 1)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			printer.Info("\nStopped watching.\n")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// Armed once per burst so steady writes still re-render.
			if debounceTimer == nil {
				debounceTimer = time.AfterFunc(watchDebounce, func() {
					select {
					case changed <- struct{}{}:
					default:
					}
				})
			}

		case <-changed:
			debounceTimer = nil
			m, err := manifest.Read(path)
			if err != nil {
				printer.Warning("Cannot read manifest: %v\n", err)
				continue
			}
			fmt.Fprintln(out)
			report.FormatManifest(out, m, time.Now())
			if settled(m) && !follow {
				return nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			printer.Warning("Watcher error: %v\n", err)
		}
	}
}

// settled reports whether nothing more will be written to the issue.
func settled(m *dump.Manifest) bool {
	if !m.Complete() {
		return false
	}
	return !m.UploadEnabled || m.UploadResult != nil
}
