package core

import (
	"fmt"
	"reflect"
	"sort"
)

// ResourceID is the unique identity of a declarative resource within one
// target: the (kind, namespace, name) triple.
type ResourceID struct {
	Kind      string
	Namespace string
	Name      string
}

func (id ResourceID) String() string {
	return fmt.Sprintf("%s/%s/%s", id.Kind, id.Namespace, id.Name)
}

// Resource is one declarative unit of desired or observed state. Spec is an
// opaque structured value; the engine compares it structurally but never
// interprets its content. Version records which desired-state snapshot
// produced the resource and plays no role in diffing.
type Resource struct {
	ID      ResourceID
	Spec    map[string]any
	Version string
}

// IndexByID builds an identity-keyed map over resources. Duplicate identities
// within one snapshot are a configuration defect and yield a ConflictError.
func IndexByID(resources []Resource) (map[ResourceID]Resource, error) {
	indexed := make(map[ResourceID]Resource, len(resources))
	for _, resource := range resources {
		if _, exists := indexed[resource.ID]; exists {
			return nil, &ConflictError{ID: resource.ID}
		}
		indexed[resource.ID] = resource
	}
	return indexed, nil
}

// SortedIDs returns the keys of an identity-keyed map in lexical identity
// order, for deterministic iteration.
func SortedIDs[V any](byID map[ResourceID]V) []ResourceID {
	ids := make([]ResourceID, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// SpecsEqual reports whether two opaque specs are structurally equal. Maps
// compare order-insensitively, sequences order-sensitively, and numeric
// scalars compare by value so that YAML and JSON decodings of the same
// document match.
func SpecsEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return valuesEqual(a, b)
}

func valuesEqual(a, b any) bool {
	switch typedA := a.(type) {
	case map[string]any:
		typedB, ok := b.(map[string]any)
		if !ok || len(typedA) != len(typedB) {
			return false
		}
		for key, valueA := range typedA {
			valueB, exists := typedB[key]
			if !exists || !valuesEqual(valueA, valueB) {
				return false
			}
		}
		return true
	case []any:
		typedB, ok := b.([]any)
		if !ok || len(typedA) != len(typedB) {
			return false
		}
		for i := range typedA {
			if !valuesEqual(typedA[i], typedB[i]) {
				return false
			}
		}
		return true
	case nil:
		return b == nil
	}
	if floatA, okA := toFloat(a); okA {
		floatB, okB := toFloat(b)
		return okB && floatA == floatB
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(value any) (float64, bool) {
	switch typed := value.(type) {
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case float32:
		return float64(typed), true
	case float64:
		return typed, true
	}
	return 0, false
}
