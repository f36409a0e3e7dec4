package adapters

import (
	"context"

	"statesync/pkg/core"
)

// DesiredStateSource reads declarative resources from a versioned source of
// truth. Load resolves ref and returns the resource set together with the
// version that produced it. Implementations must hand out versions that are
// monotonically non-decreasing across calls for the same ref; the engine
// relies on this but does not enforce it.
//
// Failures are reported as *core.SourceUnavailableError for infrastructure
// problems and *core.ParseError for malformed documents.
type DesiredStateSource interface {
	Load(ctx context.Context, ref string) ([]core.Resource, string, error)
}

// ObservedStateSource reads and mutates the live target system.
//
// List returns the resources currently managed under target, failing with
// *core.TargetUnavailableError when the target cannot be reached. Apply
// executes a single diff entry, failing with *core.ApplyError. HealthOf
// reports the target-defined health of one resource; the engine treats the
// result as opaque and only aggregates.
type ObservedStateSource interface {
	List(ctx context.Context, target string) ([]core.Resource, error)
	Apply(ctx context.Context, target string, entry core.DiffEntry) error
	HealthOf(ctx context.Context, target string, id core.ResourceID) (core.HealthStatus, error)
}
