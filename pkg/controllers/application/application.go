// Package application implements the reconciliation loop: it drives each
// registered Application from desired state to observed state through
// diff, policy selection, apply, and health evaluation.
package application

import (
	"fmt"

	"statesync/pkg/core"
)

// Application ties one desired-state pointer, one target and a sync policy
// together. It is the unit the engine reconciles.
type Application struct {
	// ID uniquely names the application within the engine.
	ID string
	// SourceRef locates desired state; it is passed verbatim to the
	// DesiredStateSource.
	SourceRef string
	// Target locates the destination; it is passed verbatim to the
	// ObservedStateSource.
	Target string
	// Policy governs which diff entries are applied.
	Policy core.SyncPolicy
}

// Validate checks the fields an operator must provide.
func (a Application) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("application id is required")
	}
	if a.SourceRef == "" {
		return fmt.Errorf("application %s: source ref is required", a.ID)
	}
	if a.Target == "" {
		return fmt.Errorf("application %s: target is required", a.ID)
	}
	if err := a.Policy.Validate(); err != nil {
		return fmt.Errorf("application %s: %w", a.ID, err)
	}
	return nil
}
