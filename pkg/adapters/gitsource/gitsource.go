// Package gitsource implements a desired-state source backed by a git
// repository: the revision a ref resolves to becomes the snapshot version.
package gitsource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-logr/logr"

	"statesync/pkg/adapters/manifest"
	"statesync/pkg/core"
)

// Source loads manifests from git repositories, keeping bare clones under a
// local cache directory. Refs have the form
//
//	<repository-url>?ref=<revision>&path=<directory>
//
// where revision defaults to HEAD and path to the repository root.
type Source struct {
	cacheDir string
	logger   logr.Logger

	mu sync.Mutex
}

// New constructs a Source caching clones under cacheDir.
func New(cacheDir string, logger logr.Logger) *Source {
	return &Source{cacheDir: cacheDir, logger: logger.WithName("gitsource")}
}

type location struct {
	URL      string
	Revision string
	Path     string
}

func parseRef(ref string) (location, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return location{}, &core.ParseError{Path: ref, Err: err}
	}
	query := parsed.Query()
	loc := location{
		Revision: query.Get("ref"),
		Path:     query.Get("path"),
	}
	if loc.Revision == "" {
		loc.Revision = "HEAD"
	}
	parsed.RawQuery = ""
	loc.URL = parsed.String()
	if loc.URL == "" {
		return location{}, &core.ParseError{Path: ref, Err: fmt.Errorf("repository url is required")}
	}
	return loc, nil
}

// Load clones or refreshes the repository, resolves the configured revision
// and decodes every YAML document under the configured path. The resolved
// commit hash is returned as the snapshot version.
func (s *Source) Load(ctx context.Context, ref string) ([]core.Resource, string, error) {
	loc, err := parseRef(ref)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.openOrClone(ctx, loc.URL)
	if err != nil {
		return nil, "", &core.SourceUnavailableError{Ref: ref, Err: err}
	}

	hash, err := s.resolve(repo, loc.Revision)
	if err != nil {
		return nil, "", &core.SourceUnavailableError{Ref: ref, Err: err}
	}

	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, "", &core.SourceUnavailableError{Ref: ref, Err: err}
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, "", &core.SourceUnavailableError{Ref: ref, Err: err}
	}
	if loc.Path != "" {
		tree, err = tree.Tree(loc.Path)
		if err != nil {
			return nil, "", &core.ParseError{Path: loc.Path, Err: fmt.Errorf("path not found at %s: %w", hash, err)}
		}
	}

	version := hash.String()
	var resources []core.Resource
	err = tree.Files().ForEach(func(file *object.File) error {
		if !isManifest(file.Name) {
			return nil
		}
		reader, err := file.Reader()
		if err != nil {
			return err
		}
		defer reader.Close()

		decoded, err := manifest.Decode(file.Name, reader)
		if err != nil {
			return err
		}
		for i := range decoded {
			decoded[i].Version = version
		}
		resources = append(resources, decoded...)
		return nil
	})
	if err != nil {
		var parseErr *core.ParseError
		if errors.As(err, &parseErr) {
			return nil, "", err
		}
		return nil, "", &core.SourceUnavailableError{Ref: ref, Err: err}
	}

	s.logger.V(1).Info("loaded desired state", "ref", ref, "version", version, "resources", len(resources))
	return resources, version, nil
}

func (s *Source) openOrClone(ctx context.Context, repoURL string) (*git.Repository, error) {
	dir := filepath.Join(s.cacheDir, cacheKey(repoURL))

	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		s.logger.Info("cloning repository", "url", repoURL)
		return git.PlainCloneContext(ctx, dir, true, &git.CloneOptions{URL: repoURL})
	}
	if err != nil {
		return nil, err
	}

	fetchErr := repo.FetchContext(ctx, &git.FetchOptions{
		RefSpecs: []gitconfig.RefSpec{"+refs/heads/*:refs/heads/*"},
		Force:    true,
	})
	if fetchErr != nil && !errors.Is(fetchErr, git.NoErrAlreadyUpToDate) {
		return nil, fetchErr
	}
	return repo, nil
}

func (s *Source) resolve(repo *git.Repository, revision string) (*plumbing.Hash, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err == nil {
		return hash, nil
	}
	// Branch names may only exist under the remote namespace.
	if !strings.Contains(revision, "/") {
		if remoteHash, remoteErr := repo.ResolveRevision(plumbing.Revision("origin/" + revision)); remoteErr == nil {
			return remoteHash, nil
		}
	}
	return nil, fmt.Errorf("resolve revision %q: %w", revision, err)
}

func isManifest(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func cacheKey(repoURL string) string {
	sum := sha256.Sum256([]byte(repoURL))
	return hex.EncodeToString(sum[:8])
}
