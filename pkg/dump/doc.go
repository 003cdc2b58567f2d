// Package dump provides the shared data model for burrow.
//
// # Overview
//
// A dump request opens an issue: a single logical event (a crash, a failed
// test, an operator button press) that needs diagnostic dumps from one or more
// devices. The coordinator tracks each issue in a Manifest, which records the
// target devices, each device's terminal DeviceResult, and the outcome of the
// single upload attempt.
//
// # Events
//
// Components talk over a Bus carrying three closed event unions:
//
//   - IntakeEvent: DumpRequested, DeviceConnectionChanged
//   - ProgressEvent: DumpStarted, DumpProgress, DeviceDumpCompleted
//   - CompletionEvent: AllDumpsCompleted, UploadRequested, UploadCompleted
//
// Consumers switch on the concrete type:
//
//	for e := range sub.Events() {
//		switch ev := e.(type) {
//		case dump.AllDumpsCompleted:
//			fmt.Println(ev.IssueID, ev.Summary.SuccessCount)
//		case dump.UploadCompleted:
//			fmt.Println(ev.IssueID, ev.Success)
//		}
//	}
//
// LocalBus serves a single process. Client carries the same events over
// Redis Pub/Sub and additionally mirrors manifest snapshots, namespaced by
// instance name, so remote observers can poll issue state.
package dump
