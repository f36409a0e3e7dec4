// Package kubetarget implements an observed-state target over a Kubernetes
// API server. Resources are stored as unstructured objects; the opaque core
// spec maps onto the object's spec field. Managed objects carry a label so
// List never reports resources the engine does not own.
package kubetarget

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"statesync/pkg/core"
)

// ManagedLabel marks objects owned by the engine.
const ManagedLabel = "statesync.dev/managed"

// KindMapping resolves a declarative resource kind to its API group and
// version on the cluster.
type KindMapping struct {
	Group   string
	Version string
	Kind    string
}

// Target adapts a controller-runtime client to the ObservedStateSource port.
// The target locator is the destination namespace.
type Target struct {
	kubeClient      client.Client
	kinds           map[string]KindMapping
	conflictBackoff core.BackoffStrategy
	logger          logr.Logger
}

// New constructs a Target. kinds maps every resource kind the engine may
// manage to its cluster coordinates; applying an unmapped kind is a permanent
// apply failure.
func New(kubeClient client.Client, kinds map[string]KindMapping, logger logr.Logger) *Target {
	return &Target{
		kubeClient:      kubeClient,
		kinds:           kinds,
		conflictBackoff: core.DefaultBackoff(),
		logger:          logger.WithName("kubetarget"),
	}
}

func (t *Target) groupVersionKind(kind string) (schema.GroupVersionKind, error) {
	mapping, known := t.kinds[kind]
	if !known {
		return schema.GroupVersionKind{}, fmt.Errorf("kind %q has no cluster mapping", kind)
	}
	return schema.GroupVersionKind{Group: mapping.Group, Version: mapping.Version, Kind: mapping.Kind}, nil
}

// List returns every managed object in the target namespace across all
// mapped kinds.
func (t *Target) List(ctx context.Context, target string) ([]core.Resource, error) {
	var resources []core.Resource
	for kind := range t.kinds {
		gvk, err := t.groupVersionKind(kind)
		if err != nil {
			return nil, &core.TargetUnavailableError{Target: target, Err: err}
		}

		list := &unstructured.UnstructuredList{}
		list.SetGroupVersionKind(gvk.GroupVersion().WithKind(gvk.Kind + "List"))

		err = t.kubeClient.List(ctx, list,
			client.InNamespace(target),
			client.MatchingLabels{ManagedLabel: "true"},
		)
		if err != nil {
			return nil, &core.TargetUnavailableError{Target: target, Err: err}
		}

		for _, item := range list.Items {
			spec, _, err := unstructured.NestedMap(item.Object, "spec")
			if err != nil {
				return nil, &core.TargetUnavailableError{Target: target, Err: err}
			}
			resources = append(resources, core.Resource{
				ID: core.ResourceID{
					Kind:      kind,
					Namespace: item.GetNamespace(),
					Name:      item.GetName(),
				},
				Spec: spec,
			})
		}
	}
	return resources, nil
}

// Apply executes one diff entry against the cluster. NoOp entries are
// ignored. Conflicting concurrent updates are retried with backoff before
// the failure is reported.
func (t *Target) Apply(ctx context.Context, target string, entry core.DiffEntry) error {
	switch entry.Operation {
	case core.OperationCreate:
		return t.create(ctx, target, entry)
	case core.OperationUpdate:
		return t.update(ctx, target, entry)
	case core.OperationDelete:
		return t.delete(ctx, target, entry)
	case core.OperationNoOp:
		return nil
	}
	return &core.ApplyError{
		ID:        entry.ID,
		Permanent: true,
		Err:       fmt.Errorf("unsupported operation %q", entry.Operation),
	}
}

func (t *Target) create(ctx context.Context, target string, entry core.DiffEntry) error {
	object, err := t.newObject(target, entry.ID)
	if err != nil {
		return &core.ApplyError{ID: entry.ID, Permanent: true, Err: err}
	}
	object.Object["spec"] = entry.DesiredSpec

	if err := t.kubeClient.Create(ctx, object); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return t.update(ctx, target, entry)
		}
		return t.classify(entry.ID, err)
	}
	t.logger.V(1).Info("created resource", "id", entry.ID.String(), "namespace", target)
	return nil
}

func (t *Target) update(ctx context.Context, target string, entry core.DiffEntry) error {
	gvk, err := t.groupVersionKind(entry.ID.Kind)
	if err != nil {
		return &core.ApplyError{ID: entry.ID, Permanent: true, Err: err}
	}

	namespace, err := t.namespaceFor(target, entry.ID)
	if err != nil {
		return &core.ApplyError{ID: entry.ID, Permanent: true, Err: err}
	}

	_, err = t.conflictBackoff.Retry(func() error {
		existing := &unstructured.Unstructured{}
		existing.SetGroupVersionKind(gvk)

		key := types.NamespacedName{Namespace: namespace, Name: entry.ID.Name}
		if err := t.kubeClient.Get(ctx, key, existing); err != nil {
			return err
		}
		existing.Object["spec"] = entry.DesiredSpec
		labels := existing.GetLabels()
		if labels == nil {
			labels = map[string]string{}
		}
		labels[ManagedLabel] = "true"
		existing.SetLabels(labels)
		return t.kubeClient.Update(ctx, existing)
	}, apierrors.IsConflict)
	if err != nil {
		if apierrors.IsNotFound(err) {
			// The object vanished out of band; recreate it to converge.
			return t.create(ctx, target, entry)
		}
		return t.classify(entry.ID, err)
	}
	t.logger.V(1).Info("updated resource", "id", entry.ID.String(), "namespace", target)
	return nil
}

func (t *Target) delete(ctx context.Context, target string, entry core.DiffEntry) error {
	object, err := t.newObject(target, entry.ID)
	if err != nil {
		return &core.ApplyError{ID: entry.ID, Permanent: true, Err: err}
	}
	if err := t.kubeClient.Delete(ctx, object); err != nil {
		// Already gone means converged.
		if apierrors.IsNotFound(err) {
			return nil
		}
		return t.classify(entry.ID, err)
	}
	t.logger.V(1).Info("deleted resource", "id", entry.ID.String(), "namespace", target)
	return nil
}

// HealthOf maps well-known status fields onto the core health model:
// observedGeneration lag and unready replicas are progressing, a False
// Ready/Available condition is degraded, a True one is healthy. Objects
// without a status block are healthy by existence.
func (t *Target) HealthOf(ctx context.Context, target string, id core.ResourceID) (core.HealthStatus, error) {
	gvk, err := t.groupVersionKind(id.Kind)
	if err != nil {
		return core.HealthUnknown, err
	}
	namespace, err := t.namespaceFor(target, id)
	if err != nil {
		return core.HealthUnknown, err
	}
	object := &unstructured.Unstructured{}
	object.SetGroupVersionKind(gvk)

	key := types.NamespacedName{Namespace: namespace, Name: id.Name}
	if err := t.kubeClient.Get(ctx, key, object); err != nil {
		if apierrors.IsNotFound(err) {
			return core.HealthMissing, nil
		}
		return core.HealthUnknown, err
	}
	return evaluateObjectHealth(object), nil
}

func evaluateObjectHealth(object *unstructured.Unstructured) core.HealthStatus {
	status, hasStatus, _ := unstructured.NestedMap(object.Object, "status")
	if !hasStatus || len(status) == 0 {
		return core.HealthHealthy
	}

	if observedGeneration, found, _ := unstructured.NestedInt64(object.Object, "status", "observedGeneration"); found {
		if observedGeneration < object.GetGeneration() {
			return core.HealthProgressing
		}
	}

	if desiredReplicas, found, _ := unstructured.NestedInt64(object.Object, "spec", "replicas"); found {
		readyReplicas, _, _ := unstructured.NestedInt64(object.Object, "status", "readyReplicas")
		if readyReplicas < desiredReplicas {
			return core.HealthProgressing
		}
		return core.HealthHealthy
	}

	conditions, found, _ := unstructured.NestedSlice(object.Object, "status", "conditions")
	if found {
		for _, condition := range conditions {
			conditionMap, ok := condition.(map[string]any)
			if !ok {
				continue
			}
			conditionType, _ := conditionMap["type"].(string)
			conditionStatus, _ := conditionMap["status"].(string)
			if conditionType != "Ready" && conditionType != "Available" {
				continue
			}
			switch conditionStatus {
			case "True":
				return core.HealthHealthy
			case "False":
				return core.HealthDegraded
			default:
				return core.HealthProgressing
			}
		}
	}
	return core.HealthUnknown
}

func (t *Target) newObject(target string, id core.ResourceID) (*unstructured.Unstructured, error) {
	gvk, err := t.groupVersionKind(id.Kind)
	if err != nil {
		return nil, err
	}
	namespace, err := t.namespaceFor(target, id)
	if err != nil {
		return nil, err
	}
	object := &unstructured.Unstructured{}
	object.SetGroupVersionKind(gvk)
	object.SetNamespace(namespace)
	object.SetName(id.Name)
	object.SetLabels(map[string]string{ManagedLabel: "true"})
	return object, nil
}

// namespaceFor resolves the namespace an identity lives in. Identities must
// declare their namespace: observed identities always carry the concrete
// namespace, so a namespace-less desired identity could never converge.
func (t *Target) namespaceFor(target string, id core.ResourceID) (string, error) {
	if id.Namespace == "" {
		return "", fmt.Errorf("resource %s: metadata.namespace is required for cluster targets (destination namespace is %q)", id, target)
	}
	return id.Namespace, nil
}

// classify wraps a cluster error in an ApplyError with its retry category.
// Rejections of the request itself are permanent; infrastructure trouble is
// transient.
func (t *Target) classify(id core.ResourceID, err error) error {
	if err == nil {
		return nil
	}
	permanent := apierrors.IsInvalid(err) ||
		apierrors.IsBadRequest(err) ||
		apierrors.IsForbidden(err) ||
		apierrors.IsUnauthorized(err) ||
		apierrors.IsMethodNotSupported(err) ||
		apierrors.IsRequestEntityTooLargeError(err)
	return &core.ApplyError{ID: id, Permanent: permanent, Err: err}
}
