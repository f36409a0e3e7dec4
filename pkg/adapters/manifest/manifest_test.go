package manifest

import (
	"errors"
	"strings"
	"testing"

	"statesync/pkg/core"
)

func TestDecodeMultiDocument(t *testing.T) {
	stream := `kind: Workload
metadata:
  namespace: demo
  name: app
spec:
  image: app:v1
  replicas: 2
---
kind: Service
metadata:
  namespace: demo
  name: app
spec:
  port: 80
---
`
	resources, err := Decode("apps.yaml", strings.NewReader(stream))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resources) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(resources))
	}
	if resources[0].ID.String() != "Workload/demo/app" {
		t.Fatalf("unexpected identity: %s", resources[0].ID)
	}
	if resources[0].Spec["image"] != "app:v1" {
		t.Fatalf("unexpected spec: %+v", resources[0].Spec)
	}
	if resources[1].ID.Kind != "Service" {
		t.Fatalf("unexpected kind: %s", resources[1].ID.Kind)
	}
}

func TestDecodeSkipsEmptyDocuments(t *testing.T) {
	stream := "---\n---\nkind: Workload\nmetadata:\n  name: app\nspec: {}\n"
	resources, err := Decode("apps.yaml", strings.NewReader(stream))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resources) != 1 {
		t.Fatalf("expected 1 resource, got %d", len(resources))
	}
}

func TestDecodeRejectsMissingIdentity(t *testing.T) {
	stream := "kind: Workload\nspec:\n  image: app:v1\n"
	_, err := Decode("apps.yaml", strings.NewReader(stream))
	var parseErr *core.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if parseErr.Path != "apps.yaml" {
		t.Fatalf("expected path in error, got %q", parseErr.Path)
	}
}

func TestDecodeRejectsMalformedYAML(t *testing.T) {
	stream := "kind: [unterminated\n"
	_, err := Decode("apps.yaml", strings.NewReader(stream))
	var parseErr *core.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}
