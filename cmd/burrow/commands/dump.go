package commands

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dyluth/burrow/internal/printer"
	"github.com/dyluth/burrow/pkg/dump"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	dumpDevices  []string
	dumpTrigger  string
	dumpUpload   bool
	dumpNoUpload bool
	dumpWait     bool
	dumpTimeout  time.Duration
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Ask a running coordinator to dump devices",
	Long: `Publish a DumpRequested event to the coordinator serving this instance.

Without --device the coordinator dumps every device it knows to be
connected. With --wait the command stays subscribed until the issue's
devices have all finished and, for headless triggers, its upload has been
reported.

Examples:
  # Dump every connected device
  burrow dump

  # Dump one device as a crash-monitor dump and wait for the outcome
  burrow dump --device emulator-5554 --trigger crash_monitor --wait`,
	RunE: runDump,
}

func init() {
	dumpCmd.Flags().StringSliceVarP(&dumpDevices, "device", "d", nil, "Device to dump (repeatable; default: all connected)")
	dumpCmd.Flags().StringVarP(&dumpTrigger, "trigger", "t", "manual", "Trigger: manual, crash_monitor or test_failed")
	dumpCmd.Flags().BoolVar(&dumpUpload, "upload", false, "Upload the issue when done")
	dumpCmd.Flags().BoolVar(&dumpNoUpload, "no-upload", false, "Do not upload the issue")
	dumpCmd.Flags().BoolVarP(&dumpWait, "wait", "w", false, "Wait for the issue to complete")
	dumpCmd.Flags().DurationVar(&dumpTimeout, "timeout", 0, "Give up waiting after this long (0 waits forever)")
	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	trigger, err := dump.ParseTrigger(dumpTrigger)
	if err != nil {
		return printer.Error("Invalid trigger", err.Error(), nil)
	}
	uploadEnabled, err := uploadFlag(dumpUpload, dumpNoUpload)
	if err != nil {
		return printer.Error("Invalid flags", err.Error(), nil)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if dumpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dumpTimeout)
		defer cancel()
	}

	client, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	// Subscribe before publishing so the completion cannot be missed.
	var sub *dump.Subscription
	if dumpWait {
		sub, err = client.Subscribe(ctx, dump.ChannelProgress, dump.ChannelCompletion)
		if err != nil {
			return fmt.Errorf("failed to subscribe to coordinator events: %w", err)
		}
		defer sub.Close()
	}

	req := dump.DumpRequested{
		RequestID:        uuid.NewString(),
		TriggeredBy:      trigger,
		RequestedDevices: dumpDevices,
		UploadEnabled:    uploadEnabled,
	}
	if err := client.Publish(ctx, req); err != nil {
		return printer.ErrorWithContext(
			"Failed to publish dump request",
			err.Error(),
			map[string]string{"Instance": cfg.Instance},
			nil,
		)
	}

	target := "all connected devices"
	if len(dumpDevices) > 0 {
		target = strings.Join(dumpDevices, ", ")
	}
	printer.Success("Requested %s dump of %s (request %s)\n", trigger, target, req.RequestID)

	if !dumpWait {
		return nil
	}

	issueID, ok := awaitRequest(ctx, sub, req.RequestID)
	if !ok {
		return printer.Error(
			"No completion received",
			"The coordinator did not report the issue before waiting stopped.",
			[]string{"Check the coordinator is running:\n  burrow serve", "Inspect issues:\n  burrow list --remote"},
		)
	}

	m, err := client.GetSnapshot(ctx, issueID)
	if err != nil {
		printer.Warning("Cannot read snapshot of %s: %v\n", issueID, err)
		return nil
	}
	if m.UploadEnabled && m.UploadResult == nil && !m.ShowDialog {
		awaitIssue(ctx, sub, issueID, func() bool { return true })
	}
	if m.FailCount > 0 {
		return printer.Error("Dump finished with failures",
			fmt.Sprintf("%d of %d device(s) failed; see:\n  burrow show %s", m.FailCount, len(m.Targets), issueID), nil)
	}
	return nil
}

// awaitRequest waits for the completion of the issue opened for requestID and
// returns its id. Device events are not correlated until the issue is known.
func awaitRequest(ctx context.Context, sub *dump.Subscription, requestID string) (string, bool) {
	for {
		select {
		case <-ctx.Done():
			return "", false
		case e, ok := <-sub.Events():
			if !ok {
				return "", false
			}
			done, isDone := e.(dump.AllDumpsCompleted)
			if !isDone || done.RequestID != requestID {
				continue
			}
			printer.Step("Issue %s written to %s\n", done.IssueID, done.IssueDir)
			printEvent(done, done.IssueID, func() bool { return false })
			return done.IssueID, true
		}
	}
}
