package dump

import "fmt"

// Redis key pattern helpers
//
// All keys and Pub/Sub channels are namespaced by instance name so several
// coordinators can share one Redis server.
//
// Key pattern: burrow:{instance_name}:{entity}:{id}
// Channel pattern: burrow:{instance_name}:{channel}_events

// IssueKey returns the Redis key holding the mirrored manifest of an issue.
// Pattern: burrow:{instance_name}:issue:{issue_id}
func IssueKey(instanceName, issueID string) string {
	return fmt.Sprintf("burrow:%s:issue:%s", instanceName, issueID)
}

// IssueIndexKey returns the sorted set of known issue ids, scored by creation time.
// Pattern: burrow:{instance_name}:issues
func IssueIndexKey(instanceName string) string {
	return fmt.Sprintf("burrow:%s:issues", instanceName)
}

// EventsChannel returns the Pub/Sub channel for one event stream.
// Pattern: burrow:{instance_name}:{channel}_events
func EventsChannel(instanceName string, ch Channel) string {
	return fmt.Sprintf("burrow:%s:%s_events", instanceName, ch)
}
