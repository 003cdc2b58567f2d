package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const coordinatorScopeName = "github.com/dyluth/burrow/coordinator"

// Dumps holds the coordinator's instruments. The zero value is not usable;
// build one with NewDumps. A nil *Dumps records nothing.
type Dumps struct {
	issues   metric.Int64Counter
	outcomes metric.Int64Counter
	running  metric.Int64UpDownCounter
	queued   metric.Int64UpDownCounter
	duration metric.Float64Histogram
	uploads  metric.Int64Counter
	writes   metric.Int64Counter
}

// NewDumps creates the instruments on m, or on the global meter when m is nil.
func NewDumps(m metric.Meter) *Dumps {
	if m == nil {
		m = Meter(coordinatorScopeName)
	}
	issues, _ := m.Int64Counter("burrow.issues",
		metric.WithDescription("Issues opened, by trigger"),
	)
	outcomes, _ := m.Int64Counter("burrow.device.outcomes",
		metric.WithDescription("Device extractions finished, by terminal state"),
	)
	running, _ := m.Int64UpDownCounter("burrow.workers.running",
		metric.WithDescription("Extraction workers currently running"),
	)
	queued, _ := m.Int64UpDownCounter("burrow.workers.queued",
		metric.WithDescription("Devices waiting for admission"),
	)
	duration, _ := m.Float64Histogram("burrow.device.duration",
		metric.WithDescription("Device extraction duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	uploads, _ := m.Int64Counter("burrow.uploads",
		metric.WithDescription("Upload outcomes, by mode and success"),
	)
	writes, _ := m.Int64Counter("burrow.manifest.write_failures",
		metric.WithDescription("Manifest writes that failed after all retries"),
	)
	return &Dumps{
		issues:   issues,
		outcomes: outcomes,
		running:  running,
		queued:   queued,
		duration: duration,
		uploads:  uploads,
		writes:   writes,
	}
}

// IssueOpened counts a new issue.
func (d *Dumps) IssueOpened(ctx context.Context, trigger string) {
	if d == nil {
		return
	}
	d.issues.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

// Queued adjusts the admission queue depth.
func (d *Dumps) Queued(ctx context.Context, delta int64) {
	if d == nil {
		return
	}
	d.queued.Add(ctx, delta)
}

// WorkerStarted records an admitted worker.
func (d *Dumps) WorkerStarted(ctx context.Context) {
	if d == nil {
		return
	}
	d.running.Add(ctx, 1)
}

// WorkerFinished records a worker's terminal state and duration.
func (d *Dumps) WorkerFinished(ctx context.Context, state string, elapsed time.Duration) {
	if d == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("state", state))
	d.running.Add(ctx, -1)
	d.outcomes.Add(ctx, 1, attrs)
	d.duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}

// DeviceSkipped records a device that reached a terminal state without running.
func (d *Dumps) DeviceSkipped(ctx context.Context, state string) {
	if d == nil {
		return
	}
	d.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// Upload records an upload outcome.
func (d *Dumps) Upload(ctx context.Context, mode string, success bool) {
	if d == nil {
		return
	}
	d.uploads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.Bool("success", success),
	))
}

// ManifestWriteFailed counts an exhausted manifest write.
func (d *Dumps) ManifestWriteFailed(ctx context.Context) {
	if d == nil {
		return
	}
	d.writes.Add(ctx, 1)
}
