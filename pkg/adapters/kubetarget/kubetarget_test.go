package kubetarget

import (
	"context"
	"errors"
	"testing"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"statesync/pkg/core"
)

var testKinds = map[string]KindMapping{
	"Workload": {Group: "demo.statesync.dev", Version: "v1", Kind: "Workload"},
}

func newFakeTarget(t *testing.T, seed ...client.Object) (*Target, client.Client) {
	t.Helper()
	scheme := runtime.NewScheme()
	gvk := schema.GroupVersionKind{Group: "demo.statesync.dev", Version: "v1", Kind: "Workload"}
	scheme.AddKnownTypeWithName(gvk, &unstructured.Unstructured{})
	scheme.AddKnownTypeWithName(gvk.GroupVersion().WithKind("WorkloadList"), &unstructured.UnstructuredList{})

	kubeClient := fake.NewClientBuilder().WithScheme(scheme).WithObjects(seed...).Build()
	return New(kubeClient, testKinds, logr.Discard()), kubeClient
}

func workloadID(name string) core.ResourceID {
	return core.ResourceID{Kind: "Workload", Namespace: "demo", Name: name}
}

func TestApplyCreateThenList(t *testing.T) {
	target, kubeClient := newFakeTarget(t)

	entry := core.DiffEntry{
		ID:          workloadID("app"),
		Operation:   core.OperationCreate,
		DesiredSpec: map[string]any{"image": "app:v1", "replicas": int64(2)},
	}
	if err := target.Apply(context.Background(), "demo", entry); err != nil {
		t.Fatalf("apply create: %v", err)
	}

	stored := &unstructured.Unstructured{}
	stored.SetGroupVersionKind(schema.GroupVersionKind{Group: "demo.statesync.dev", Version: "v1", Kind: "Workload"})
	if err := kubeClient.Get(context.Background(), types.NamespacedName{Namespace: "demo", Name: "app"}, stored); err != nil {
		t.Fatalf("get stored: %v", err)
	}
	if stored.GetLabels()[ManagedLabel] != "true" {
		t.Fatalf("expected managed label, got %+v", stored.GetLabels())
	}

	resources, err := target.List(context.Background(), "demo")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resources) != 1 {
		t.Fatalf("expected 1 resource, got %d", len(resources))
	}
	if resources[0].ID != workloadID("app") {
		t.Fatalf("unexpected identity: %s", resources[0].ID)
	}
	if resources[0].Spec["image"] != "app:v1" {
		t.Fatalf("unexpected spec: %+v", resources[0].Spec)
	}
}

func TestApplyUpdateReplacesSpec(t *testing.T) {
	target, kubeClient := newFakeTarget(t)

	create := core.DiffEntry{ID: workloadID("app"), Operation: core.OperationCreate, DesiredSpec: map[string]any{"image": "app:v1"}}
	if err := target.Apply(context.Background(), "demo", create); err != nil {
		t.Fatalf("apply create: %v", err)
	}
	update := core.DiffEntry{
		ID:           workloadID("app"),
		Operation:    core.OperationUpdate,
		DesiredSpec:  map[string]any{"image": "app:v2"},
		ObservedSpec: map[string]any{"image": "app:v1"},
	}
	if err := target.Apply(context.Background(), "demo", update); err != nil {
		t.Fatalf("apply update: %v", err)
	}

	stored := &unstructured.Unstructured{}
	stored.SetGroupVersionKind(schema.GroupVersionKind{Group: "demo.statesync.dev", Version: "v1", Kind: "Workload"})
	if err := kubeClient.Get(context.Background(), types.NamespacedName{Namespace: "demo", Name: "app"}, stored); err != nil {
		t.Fatalf("get stored: %v", err)
	}
	spec, _, _ := unstructured.NestedMap(stored.Object, "spec")
	if spec["image"] != "app:v2" {
		t.Fatalf("expected updated spec, got %+v", spec)
	}
}

func TestApplyUpdateRecreatesVanishedObject(t *testing.T) {
	target, _ := newFakeTarget(t)

	update := core.DiffEntry{
		ID:           workloadID("gone"),
		Operation:    core.OperationUpdate,
		DesiredSpec:  map[string]any{"image": "app:v2"},
		ObservedSpec: map[string]any{"image": "app:v1"},
	}
	if err := target.Apply(context.Background(), "demo", update); err != nil {
		t.Fatalf("apply update of vanished object: %v", err)
	}
	resources, err := target.List(context.Background(), "demo")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resources) != 1 {
		t.Fatalf("expected recreated resource, got %d", len(resources))
	}
}

func TestApplyDeleteToleratesMissing(t *testing.T) {
	target, _ := newFakeTarget(t)
	entry := core.DiffEntry{ID: workloadID("gone"), Operation: core.OperationDelete, ObservedSpec: map[string]any{}}
	if err := target.Apply(context.Background(), "demo", entry); err != nil {
		t.Fatalf("expected delete of missing object to converge, got %v", err)
	}
}

func TestApplyRequiresNamespace(t *testing.T) {
	target, _ := newFakeTarget(t)
	entry := core.DiffEntry{
		ID:          core.ResourceID{Kind: "Workload", Name: "app"},
		Operation:   core.OperationCreate,
		DesiredSpec: map[string]any{},
	}
	err := target.Apply(context.Background(), "demo", entry)
	var applyErr *core.ApplyError
	if !errors.As(err, &applyErr) || !applyErr.Permanent {
		t.Fatalf("expected permanent ApplyError, got %v", err)
	}
}

func TestApplyUnmappedKindIsPermanent(t *testing.T) {
	target, _ := newFakeTarget(t)
	entry := core.DiffEntry{
		ID:          core.ResourceID{Kind: "Mystery", Namespace: "demo", Name: "x"},
		Operation:   core.OperationCreate,
		DesiredSpec: map[string]any{},
	}
	err := target.Apply(context.Background(), "demo", entry)
	var applyErr *core.ApplyError
	if !errors.As(err, &applyErr) || !applyErr.Permanent {
		t.Fatalf("expected permanent ApplyError, got %v", err)
	}
}

func TestListIgnoresUnmanagedObjects(t *testing.T) {
	unmanaged := &unstructured.Unstructured{}
	unmanaged.SetGroupVersionKind(schema.GroupVersionKind{Group: "demo.statesync.dev", Version: "v1", Kind: "Workload"})
	unmanaged.SetNamespace("demo")
	unmanaged.SetName("handmade")

	target, _ := newFakeTarget(t, unmanaged)
	resources, err := target.List(context.Background(), "demo")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resources) != 0 {
		t.Fatalf("expected unmanaged objects to be invisible, got %d", len(resources))
	}
}

func TestHealthOfMissingObject(t *testing.T) {
	target, _ := newFakeTarget(t)
	health, err := target.HealthOf(context.Background(), "demo", workloadID("absent"))
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health != core.HealthMissing {
		t.Fatalf("expected Missing, got %s", health)
	}
}

func TestEvaluateObjectHealth(t *testing.T) {
	build := func(spec, status map[string]any) *unstructured.Unstructured {
		object := map[string]any{
			"apiVersion": "demo.statesync.dev/v1",
			"kind":       "Workload",
			"metadata":   map[string]any{"namespace": "demo", "name": "app"},
		}
		if spec != nil {
			object["spec"] = spec
		}
		if status != nil {
			object["status"] = status
		}
		return &unstructured.Unstructured{Object: object}
	}

	cases := []struct {
		name   string
		object *unstructured.Unstructured
		want   core.HealthStatus
	}{
		{"no status block", build(map[string]any{"image": "x"}, nil), core.HealthHealthy},
		{"replicas ready", build(map[string]any{"replicas": int64(2)}, map[string]any{"readyReplicas": int64(2)}), core.HealthHealthy},
		{"replicas catching up", build(map[string]any{"replicas": int64(3)}, map[string]any{"readyReplicas": int64(1)}), core.HealthProgressing},
		{"ready condition true", build(nil, map[string]any{"conditions": []any{map[string]any{"type": "Ready", "status": "True"}}}), core.HealthHealthy},
		{"available condition false", build(nil, map[string]any{"conditions": []any{map[string]any{"type": "Available", "status": "False"}}}), core.HealthDegraded},
		{"condition undecided", build(nil, map[string]any{"conditions": []any{map[string]any{"type": "Ready", "status": "Unknown"}}}), core.HealthProgressing},
		{"opaque status", build(nil, map[string]any{"phase": "Mysterious"}), core.HealthUnknown},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := evaluateObjectHealth(testCase.object); got != testCase.want {
				t.Fatalf("evaluateObjectHealth = %s, want %s", got, testCase.want)
			}
		})
	}
}
