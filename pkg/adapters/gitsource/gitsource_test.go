package gitsource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-logr/logr"

	"statesync/pkg/core"
)

func commitFile(t *testing.T, repoDir, relPath, content, message string) string {
	t.Helper()
	repo, err := git.PlainOpen(repoDir)
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	fullPath := filepath.Join(repoDir, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := worktree.Add("."); err != nil {
		t.Fatalf("add: %v", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return hash.String()
}

func initRepo(t *testing.T) string {
	t.Helper()
	repoDir := t.TempDir()
	if _, err := git.PlainInit(repoDir, false); err != nil {
		t.Fatalf("init repo: %v", err)
	}
	return repoDir
}

func TestLoadFromRepository(t *testing.T) {
	repoDir := initRepo(t)
	firstCommit := commitFile(t, repoDir, "manifests/app.yaml",
		"kind: Workload\nmetadata:\n  namespace: demo\n  name: app\nspec:\n  image: app:v1\n",
		"initial")

	source := New(t.TempDir(), logr.Discard())
	resources, version, err := source.Load(context.Background(), repoDir+"?path=manifests")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if version != firstCommit {
		t.Fatalf("expected version %s, got %s", firstCommit, version)
	}
	if len(resources) != 1 {
		t.Fatalf("expected 1 resource, got %d", len(resources))
	}
	if resources[0].ID.String() != "Workload/demo/app" || resources[0].Version != version {
		t.Fatalf("unexpected resource: %+v", resources[0])
	}

	secondCommit := commitFile(t, repoDir, "manifests/app.yaml",
		"kind: Workload\nmetadata:\n  namespace: demo\n  name: app\nspec:\n  image: app:v2\n",
		"bump image")

	resources, version, err = source.Load(context.Background(), repoDir+"?path=manifests")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if version != secondCommit {
		t.Fatalf("expected refreshed version %s, got %s", secondCommit, version)
	}
	if resources[0].Spec["image"] != "app:v2" {
		t.Fatalf("expected refreshed spec, got %+v", resources[0].Spec)
	}
}

func TestLoadPinnedRevision(t *testing.T) {
	repoDir := initRepo(t)
	firstCommit := commitFile(t, repoDir, "app.yaml",
		"kind: Workload\nmetadata:\n  name: app\nspec:\n  image: app:v1\n",
		"initial")
	commitFile(t, repoDir, "app.yaml",
		"kind: Workload\nmetadata:\n  name: app\nspec:\n  image: app:v2\n",
		"bump image")

	source := New(t.TempDir(), logr.Discard())
	resources, version, err := source.Load(context.Background(), repoDir+"?ref="+firstCommit)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if version != firstCommit {
		t.Fatalf("expected pinned version %s, got %s", firstCommit, version)
	}
	if resources[0].Spec["image"] != "app:v1" {
		t.Fatalf("expected pinned spec, got %+v", resources[0].Spec)
	}
}

func TestLoadMissingPath(t *testing.T) {
	repoDir := initRepo(t)
	commitFile(t, repoDir, "app.yaml", "kind: Workload\nmetadata:\n  name: app\nspec: {}\n", "initial")

	source := New(t.TempDir(), logr.Discard())
	_, _, err := source.Load(context.Background(), repoDir+"?path=nope")
	var parseErr *core.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError for missing path, got %v", err)
	}
}

func TestLoadUnreachableRepository(t *testing.T) {
	source := New(t.TempDir(), logr.Discard())
	_, _, err := source.Load(context.Background(), filepath.Join(t.TempDir(), "does-not-exist"))
	var unavailable *core.SourceUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected SourceUnavailableError, got %v", err)
	}
}

func TestParseRef(t *testing.T) {
	loc, err := parseRef("https://git.example.com/deploy.git?ref=main&path=apps/prod")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.URL != "https://git.example.com/deploy.git" || loc.Revision != "main" || loc.Path != "apps/prod" {
		t.Fatalf("unexpected location: %+v", loc)
	}

	loc, err = parseRef("/srv/git/deploy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.Revision != "HEAD" || loc.Path != "" {
		t.Fatalf("expected defaults, got %+v", loc)
	}

	if _, err := parseRef("?ref=main"); err == nil {
		t.Fatalf("expected error for missing repository url")
	}
}
