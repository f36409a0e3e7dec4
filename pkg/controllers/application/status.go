package application

import (
	"time"

	"statesync/pkg/core"
)

// SyncStatus summarizes how converged an application is.
type SyncStatus string

const (
	// SyncSynced means the last pass applied everything the policy allowed
	// and no mismatch or failed entry remains.
	SyncSynced SyncStatus = "Synced"
	// SyncOutOfSync means a mismatch remains that the policy excluded from
	// applying.
	SyncOutOfSync SyncStatus = "OutOfSync"
	// SyncSyncing means a reconciliation pass is in flight.
	SyncSyncing SyncStatus = "Syncing"
	// SyncError means the last pass failed or left failed entries behind.
	SyncError SyncStatus = "Error"
)

// Attempt records the outcome of the most recent reconciliation pass.
type Attempt struct {
	Time    time.Time
	Success bool
	Error   string
}

// ApplicationStatus is the status snapshot of one application. Snapshots are
// immutable: the engine replaces the whole value atomically at the end of
// each step, and readers never observe a partial update.
type ApplicationStatus struct {
	SyncStatus SyncStatus
	Health     core.HealthStatus
	// LastSyncedVersion is the desired-state version last fully applied.
	LastSyncedVersion string
	LastAttempt       *Attempt
	// FailedEntries maps resource identity to its consecutive-failure
	// count. Entries clear when the identity's apply succeeds or its
	// desired spec changes.
	FailedEntries map[string]int
}

// clone deep-copies a snapshot so callers can mutate their copy freely. A
// nil receiver yields the status of a never-reconciled application.
func (s *ApplicationStatus) clone() ApplicationStatus {
	if s == nil {
		return ApplicationStatus{SyncStatus: SyncOutOfSync, Health: core.HealthUnknown}
	}
	out := *s
	if s.LastAttempt != nil {
		attempt := *s.LastAttempt
		out.LastAttempt = &attempt
	}
	if s.FailedEntries != nil {
		out.FailedEntries = make(map[string]int, len(s.FailedEntries))
		for identity, count := range s.FailedEntries {
			out.FailedEntries[identity] = count
		}
	}
	return out
}
