package core

import "sort"

// Operation is the change a diff entry requires to converge one resource.
type Operation string

const (
	OperationCreate Operation = "Create"
	OperationUpdate Operation = "Update"
	OperationDelete Operation = "Delete"
	OperationNoOp   Operation = "NoOp"
)

// operationRank orders applies so that creates land before updates and
// deletes run last, minimizing the window during which a dependent resource
// is missing. NoOp entries sort after everything; they are never applied.
var operationRank = map[Operation]int{
	OperationCreate: 0,
	OperationUpdate: 1,
	OperationDelete: 2,
	OperationNoOp:   3,
}

// DiffEntry is one unit of required change for a single identity.
// DesiredSpec is set for Create/Update, ObservedSpec for Update/Delete;
// NoOp entries carry both for auditability.
type DiffEntry struct {
	ID           ResourceID
	Operation    Operation
	DesiredSpec  map[string]any
	ObservedSpec map[string]any
}

// Diff computes the ordered change set that converges observed state onto
// desired state. Exactly one entry is produced for every identity in the
// union of both sets. Entries are ordered Create, Update, Delete, NoOp, with
// ties broken by identity, so identical inputs always produce identical
// output. The function is pure; duplicate identities within either snapshot
// yield a ConflictError.
func Diff(desired, observed []Resource) ([]DiffEntry, error) {
	desiredByID, err := IndexByID(desired)
	if err != nil {
		return nil, err
	}
	observedByID, err := IndexByID(observed)
	if err != nil {
		return nil, err
	}

	entries := make([]DiffEntry, 0, len(desiredByID)+len(observedByID))
	for id, desiredResource := range desiredByID {
		observedResource, seen := observedByID[id]
		switch {
		case !seen:
			entries = append(entries, DiffEntry{
				ID:          id,
				Operation:   OperationCreate,
				DesiredSpec: desiredResource.Spec,
			})
		case SpecsEqual(desiredResource.Spec, observedResource.Spec):
			entries = append(entries, DiffEntry{
				ID:           id,
				Operation:    OperationNoOp,
				DesiredSpec:  desiredResource.Spec,
				ObservedSpec: observedResource.Spec,
			})
		default:
			entries = append(entries, DiffEntry{
				ID:           id,
				Operation:    OperationUpdate,
				DesiredSpec:  desiredResource.Spec,
				ObservedSpec: observedResource.Spec,
			})
		}
	}
	for id, observedResource := range observedByID {
		if _, seen := desiredByID[id]; seen {
			continue
		}
		entries = append(entries, DiffEntry{
			ID:           id,
			Operation:    OperationDelete,
			ObservedSpec: observedResource.Spec,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Operation != entries[j].Operation {
			return operationRank[entries[i].Operation] < operationRank[entries[j].Operation]
		}
		return entries[i].ID.String() < entries[j].ID.String()
	})
	return entries, nil
}
