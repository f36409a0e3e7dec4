package application

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"statesync/pkg/core"
)

// passOutcome accumulates what one reconciliation pass learned before it is
// committed to the status snapshot.
type passOutcome struct {
	status  SyncStatus
	health  core.HealthStatus
	err     error
	aborted bool
}

// reconcile runs one full pass for the application: load desired state, list
// observed state, diff, select applicable entries per policy, apply them in
// order, evaluate health, and commit the resulting status snapshot. All
// failures are captured into status; none escape to the caller.
func (e *Engine) reconcile(ctx context.Context, handle *appHandle, manual bool) {
	app := handle.snapshotApp()
	logger := e.options.Logger.WithValues("application", app.ID)
	start := time.Now()

	handle.abort.Store(false)
	handle.publish(func(status *ApplicationStatus) {
		status.SyncStatus = SyncSyncing
	})

	desired, version, err := e.loadDesired(ctx, app.SourceRef)
	if err != nil {
		e.failPass(handle, app, logger, start, err)
		return
	}

	observed, err := e.listObserved(ctx, app.Target)
	if err != nil {
		e.failPass(handle, app, logger, start, err)
		return
	}

	entries, err := core.Diff(desired, observed)
	if err != nil {
		// Duplicate identities are a configuration defect: halt
		// automated passes until an operator corrects the source and
		// triggers manually.
		handle.setHalted(true)
		logger.Error(err, "desired state conflict, automated syncing halted")
		e.commit(handle, app, start, passOutcome{
			status: SyncError,
			health: handle.status.Load().clone().Health,
			err:    err,
		})
		return
	}

	handle.passAttempts = 0

	desiredHashes := make(map[core.ResourceID]string, len(desired))
	for _, resource := range desired {
		desiredHashes[resource.ID] = core.SpecHash(resource.Spec)
	}
	dropStaleFailures(handle, desiredHashes)

	changed := make(map[core.ResourceID]bool, len(desiredHashes))
	for id, hash := range desiredHashes {
		changed[id] = handle.syncedHashes[id] != hash
	}
	failedSet := make(map[core.ResourceID]bool, len(handle.failures))
	for id, record := range handle.failures {
		if record.failed {
			failedSet[id] = true
		}
	}

	// A NoOp entry means this identity is converged at the current desired
	// spec; record it so later drift is distinguished from a new change.
	for _, entry := range entries {
		if entry.Operation == core.OperationNoOp {
			handle.syncedHashes[entry.ID] = desiredHashes[entry.ID]
		}
	}

	applicable := core.SelectApplicable(entries, app.Policy, core.SelectionContext{
		ManualTrigger:  manual,
		DesiredChanged: changed,
		Failed:         failedSet,
	})

	applied := make(map[core.ResourceID]bool, len(applicable))
	created := make(map[core.ResourceID]bool)
	outcome := passOutcome{}

	for _, entry := range applicable {
		if handle.abort.Load() {
			outcome.aborted = true
			logger.Info("pass aborted", "remaining", len(applicable)-len(applied))
			break
		}

		applyErr := e.applyEntry(ctx, app.Target, entry)
		e.options.Metrics.ObserveApply(string(entry.Operation), applyErr)
		if applyErr == nil {
			applied[entry.ID] = true
			delete(handle.failures, entry.ID)
			if entry.Operation == core.OperationDelete {
				delete(handle.syncedHashes, entry.ID)
			} else {
				handle.syncedHashes[entry.ID] = desiredHashes[entry.ID]
				if entry.Operation == core.OperationCreate {
					created[entry.ID] = true
				}
			}
			continue
		}

		record := handle.failures[entry.ID]
		if record == nil {
			record = &failureRecord{hash: desiredHashes[entry.ID]}
			handle.failures[entry.ID] = record
		}
		record.count++

		if core.Classify(applyErr) == core.ErrorCategoryPermanent {
			record.failed = true
			logger.Error(applyErr, "apply failed permanently", "resource", entry.ID.String(), "operation", string(entry.Operation))
			continue
		}
		if record.count > app.Policy.RetryLimit {
			record.failed = true
			logger.Error(applyErr, "apply retry budget exhausted", "resource", entry.ID.String(), "attempts", record.count)
			continue
		}

		// Transient failure within budget: the pass ends early and is
		// rescheduled after backoff. Partial application stands.
		logger.Info("apply failed transiently, rescheduling pass",
			"resource", entry.ID.String(), "attempt", record.count, "error", applyErr.Error())
		e.scheduleRetry(handle, app.Policy.Backoff, record.count)
		e.commit(handle, app, start, passOutcome{
			status: SyncError,
			health: handle.status.Load().clone().Health,
			err:    applyErr,
		})
		return
	}

	outcome.health = e.evaluateHealth(ctx, app.Target, desired, created)

	anyFailed := false
	for _, record := range handle.failures {
		if record.failed {
			anyFailed = true
			break
		}
	}
	remaining := false
	for _, entry := range entries {
		if entry.Operation != core.OperationNoOp && !applied[entry.ID] {
			remaining = true
			break
		}
	}

	switch {
	case anyFailed:
		outcome.status = SyncError
	case remaining:
		outcome.status = SyncOutOfSync
	default:
		outcome.status = SyncSynced
	}

	// The synced version advances when everything the policy allowed this
	// pass landed, even if excluded entries keep the application OutOfSync.
	if !outcome.aborted && len(applied) == len(applicable) && !anyFailed {
		handle.lastVersion = version
	}

	e.commit(handle, app, start, outcome)
	logger.V(1).Info("pass complete",
		"status", string(outcome.status), "health", string(outcome.health),
		"entries", len(entries), "applied", len(applied), "duration", time.Since(start).String())
}

// failPass handles a transient pass-level failure (source or target
// unreachable): record the error and reschedule with backoff.
func (e *Engine) failPass(handle *appHandle, app Application, logger logr.Logger, start time.Time, err error) {
	handle.passAttempts++
	logger.Error(err, "pass failed", "attempt", handle.passAttempts)
	e.scheduleRetry(handle, app.Policy.Backoff, handle.passAttempts)
	e.commit(handle, app, start, passOutcome{
		status: SyncError,
		health: handle.status.Load().clone().Health,
		err:    err,
	})
}

// commit atomically replaces the status snapshot with the pass outcome and
// records pass metrics.
func (e *Engine) commit(handle *appHandle, app Application, start time.Time, outcome passOutcome) {
	failedEntries := make(map[string]int, len(handle.failures))
	for id, record := range handle.failures {
		failedEntries[id.String()] = record.count
	}

	attempt := Attempt{Time: time.Now(), Success: outcome.err == nil && !outcome.aborted}
	if outcome.err != nil {
		attempt.Error = outcome.err.Error()
	} else if outcome.aborted {
		attempt.Error = "pass aborted"
	}

	handle.publish(func(status *ApplicationStatus) {
		status.SyncStatus = outcome.status
		status.Health = outcome.health
		status.LastSyncedVersion = handle.lastVersion
		status.LastAttempt = &attempt
		if len(failedEntries) > 0 {
			status.FailedEntries = failedEntries
		} else {
			status.FailedEntries = nil
		}
	})

	e.options.Metrics.ObservePass(app.ID, string(outcome.status), len(failedEntries), time.Since(start))
}

// evaluateHealth asks the target for per-resource health over the desired
// set and aggregates. A resource the target cannot report on is Unknown; a
// resource created this pass that the target does not see yet is still
// Progressing rather than Missing.
func (e *Engine) evaluateHealth(ctx context.Context, target string, desired []core.Resource, created map[core.ResourceID]bool) core.HealthStatus {
	statuses := make([]core.HealthStatus, 0, len(desired))
	for _, resource := range desired {
		status, err := e.healthOf(ctx, target, resource.ID)
		if err != nil {
			status = core.HealthUnknown
		}
		if status == core.HealthMissing && created[resource.ID] {
			status = core.HealthProgressing
		}
		statuses = append(statuses, status)
	}
	return core.AggregateHealth(statuses)
}

func dropStaleFailures(handle *appHandle, desiredHashes map[core.ResourceID]string) {
	for id, record := range handle.failures {
		hash, stillDesired := desiredHashes[id]
		if !stillDesired || hash != record.hash {
			delete(handle.failures, id)
		}
	}
}

func (e *Engine) loadDesired(ctx context.Context, ref string) ([]core.Resource, string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.options.SourceTimeout)
	defer cancel()
	return e.source.Load(ctx, ref)
}

func (e *Engine) listObserved(ctx context.Context, target string) ([]core.Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, e.options.TargetTimeout)
	defer cancel()
	return e.target.List(ctx, target)
}

func (e *Engine) applyEntry(ctx context.Context, target string, entry core.DiffEntry) error {
	ctx, cancel := context.WithTimeout(ctx, e.options.ApplyTimeout)
	defer cancel()
	return e.target.Apply(ctx, target, entry)
}

func (e *Engine) healthOf(ctx context.Context, target string, id core.ResourceID) (core.HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, e.options.TargetTimeout)
	defer cancel()
	return e.target.HealthOf(ctx, target, id)
}
