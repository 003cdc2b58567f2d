package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/burrow/internal/coordinator"
	"github.com/dyluth/burrow/internal/printer"
	"github.com/dyluth/burrow/internal/report"
	"github.com/dyluth/burrow/pkg/dump"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	runDevices  []string
	runTrigger  string
	runUpload   bool
	runNoUpload bool
	runTimeout  time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Dump devices once, without a running coordinator",
	Long: `Run a single dump in-process and wait for it to finish.

The coordinator runs inside this command over an in-process event bus, so
no Redis is needed. Progress is printed as devices finish, followed by the
issue's manifest. Headless uploads are awaited; dialog uploads cannot be
driven from here and are left pending in the manifest.

Exits non-zero if any device failed.

Examples:
  # Dump every device listed in burrow.yml
  burrow run

  # Dump two devices as a failed-test dump (headless, uploads directly)
  burrow run --device emulator-5554 --device R58M123 --trigger test_failed`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringSliceVarP(&runDevices, "device", "d", nil, "Device to dump (repeatable; default: devices from config)")
	runCmd.Flags().StringVarP(&runTrigger, "trigger", "t", "manual", "Trigger: manual, crash_monitor or test_failed")
	runCmd.Flags().BoolVar(&runUpload, "upload", false, "Upload the issue when done")
	runCmd.Flags().BoolVar(&runNoUpload, "no-upload", false, "Do not upload the issue")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Give up waiting after this long (0 waits forever)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	trigger, err := dump.ParseTrigger(runTrigger)
	if err != nil {
		return printer.Error("Invalid trigger", err.Error(), nil)
	}
	uploadEnabled, err := uploadFlag(runUpload, runNoUpload)
	if err != nil {
		return printer.Error("Invalid flags", err.Error(), nil)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	devices := runDevices
	if len(devices) == 0 {
		devices = cfg.Devices
	}
	if len(devices) == 0 {
		return printer.Error(
			"No devices to dump",
			"Neither --device nor the devices list in burrow.yml names a device.",
			[]string{"Pass --device <serial>", "List devices in burrow.yml"},
		)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	bus := dump.NewLocalBus()
	coord, err := newCoordinator(cfg, bus, nil)
	if err != nil {
		return printer.Error("Cannot start coordinator", err.Error(), nil)
	}

	sub, err := bus.Subscribe(ctx, dump.ChannelProgress, dump.ChannelCompletion)
	if err != nil {
		return err
	}
	defer sub.Close()

	runCtx, cancelRun := context.WithCancel(context.Background())
	go func() {
		// Interrupts reach the coordinator as a shutdown, which records what
		// was still running.
		<-ctx.Done()
		cancelRun()
	}()
	defer func() {
		cancelRun()
		<-coord.Done()
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- coord.Run(runCtx) }()
	select {
	case <-coord.Ready():
	case err := <-runErr:
		return printer.Error("Coordinator failed to start", err.Error(), nil)
	}

	issueID, err := coord.Submit(ctx, coordinatorRequest(trigger, devices, uploadEnabled))
	if err != nil {
		return printer.Error("Dump request rejected", err.Error(), nil)
	}
	printer.Step("Issue %s opened for %d device(s)\n", issueID, len(devices))

	awaitIssue(ctx, sub, issueID, func() bool {
		m, ok := coord.Snapshot(issueID)
		return ok && m.UploadEnabled
	})

	cancelRun()
	<-coord.Done()

	m, ok := coord.Snapshot(issueID)
	if !ok {
		return printer.Error("Issue vanished", "The coordinator no longer tracks "+issueID, nil)
	}
	printer.Println()
	report.FormatManifest(cmd.OutOrStdout(), m, time.Now())

	if m.FailCount > 0 {
		return printer.Error("Dump finished with failures",
			"One or more devices did not produce a verified dump; see the manifest above.", nil)
	}
	return nil
}

// awaitIssue prints the issue's progress until it has completed and its
// upload, if one follows, has been handed off or reported. uploadFollows is
// asked once the issue completes.
func awaitIssue(ctx context.Context, sub *dump.Subscription, issueID string, uploadFollows func() bool) {
	for {
		select {
		case <-ctx.Done():
			printer.Warning("Stopped waiting: %v\n", ctx.Err())
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			if printEvent(e, issueID, uploadFollows) {
				return
			}
		}
	}
}

// printEvent renders one event of the issue and reports whether nothing more
// is expected for it.
func printEvent(e dump.Event, issueID string, uploadFollows func() bool) bool {
	switch ev := e.(type) {
	case dump.DumpStarted:
		if ev.IssueID == issueID {
			printer.Step("%s: extracting to %s\n", ev.DeviceID, ev.DumpPath)
		}
	case dump.DumpProgress:
		if ev.IssueID == issueID && ev.Stage == dump.StateVerifying {
			printer.Step("%s: verifying artifacts\n", ev.DeviceID)
		}
	case dump.DeviceDumpCompleted:
		if ev.IssueID != issueID {
			break
		}
		if ev.Success {
			printer.Success("%s: %s\n", ev.DeviceID, ev.State)
		} else {
			printer.Warning("%s: %s: %s\n", ev.DeviceID, ev.State, ev.ErrorMessage)
		}
	case dump.AllDumpsCompleted:
		if ev.IssueID != issueID {
			break
		}
		printer.Info("All devices finished: %d ok, %d failed\n", ev.Summary.SuccessCount, ev.Summary.FailCount)
		return !uploadFollows()
	case dump.UploadRequested:
		if ev.IssueID == issueID {
			printer.Warning("Upload of %s awaits the operator UI (target %s)\n", issueID, ev.TargetPath)
			return true
		}
	case dump.UploadCompleted:
		if ev.IssueID != issueID {
			break
		}
		if ev.Success {
			printer.Success("Uploaded: %s\n", ev.Message)
		} else {
			printer.Warning("Upload failed: %s\n", ev.Message)
		}
		return true
	}
	return false
}

func coordinatorRequest(trigger dump.Trigger, devices []string, uploadEnabled *bool) coordinator.Request {
	return coordinator.Request{
		RequestID:     uuid.NewString(),
		TriggeredBy:   trigger,
		Devices:       devices,
		UploadEnabled: uploadEnabled,
	}
}
