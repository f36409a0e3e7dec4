package core

import (
	"fmt"
	"os"
	"strconv"
)

// SyncPolicy decides whether and which diff entries are applied. It is
// immutable during a reconciliation pass; operators may swap it between
// passes.
type SyncPolicy struct {
	// Automated applies diffs without an explicit trigger.
	Automated bool
	// Prune allows Delete operations; when false, resources present only in
	// observed state are reported but never removed.
	Prune bool
	// SelfHeal reverts manual drift: updates where the desired spec has not
	// changed since the last successful sync.
	SelfHeal bool
	// RetryLimit is the maximum number of consecutive failed apply retries
	// for a single entry beyond its first attempt.
	RetryLimit int
	// Backoff spaces retries of failed passes and entries.
	Backoff BackoffStrategy
}

// DefaultPolicy applies safe defaults for fields the operator left unset.
func DefaultPolicy() SyncPolicy {
	return SyncPolicy{
		Automated:  true,
		RetryLimit: defaultRetryLimit(),
		Backoff:    DefaultBackoff(),
	}
}

// Validate enforces basic policy guardrails.
func (p SyncPolicy) Validate() error {
	if p.RetryLimit < 0 {
		return fmt.Errorf("retryLimit must be >= 0")
	}
	if p.Backoff.Jitter < 0 || p.Backoff.Jitter > 1 {
		return fmt.Errorf("backoff jitter must be within [0, 1]")
	}
	return nil
}

// defaultRetryLimit determines the retry budget from environment defaults.
func defaultRetryLimit() int {
	if environmentValue := os.Getenv("RETRY_LIMIT"); environmentValue != "" {
		if parsed, err := strconv.Atoi(environmentValue); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return 3
}

// SelectionContext carries the per-pass facts the policy gates need.
type SelectionContext struct {
	// ManualTrigger marks a pass requested explicitly by an operator. It
	// bypasses the Automated gate but never the Prune gate.
	ManualTrigger bool
	// DesiredChanged marks identities whose desired spec differs from the
	// one recorded at their last successful apply; it distinguishes a new
	// change to roll out from drift to revert.
	DesiredChanged map[ResourceID]bool
	// Failed marks identities past their retry budget whose desired spec
	// has not changed since the failure. The caller drops stale marks when
	// the desired spec moves on.
	Failed map[ResourceID]bool
}

// SelectApplicable filters diff entries down to those the policy allows this
// pass to apply, preserving the diff ordering. NoOp entries are always
// excluded.
func SelectApplicable(entries []DiffEntry, policy SyncPolicy, selection SelectionContext) []DiffEntry {
	applicable := make([]DiffEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Operation == OperationNoOp {
			continue
		}
		if selection.Failed[entry.ID] {
			continue
		}
		if !policy.Automated && !selection.ManualTrigger {
			continue
		}
		if entry.Operation == OperationDelete && !policy.Prune {
			continue
		}
		if entry.Operation == OperationUpdate && !policy.SelfHeal && !selection.DesiredChanged[entry.ID] {
			continue
		}
		applicable = append(applicable, entry)
	}
	return applicable
}
