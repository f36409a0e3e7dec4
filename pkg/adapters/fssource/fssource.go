// Package fssource implements a desired-state source over a local directory
// tree. It exists as the degraded fallback for environments without a git
// remote; the snapshot version is a content hash rather than a commit, so it
// identifies a snapshot but carries no history.
package fssource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"

	"statesync/pkg/adapters/manifest"
	"statesync/pkg/core"
)

// Source loads manifests from a directory. The ref passed to Load is the
// directory path.
type Source struct {
	logger logr.Logger
}

// New constructs a directory-backed Source.
func New(logger logr.Logger) *Source {
	return &Source{logger: logger.WithName("fssource")}
}

// Load walks ref recursively, decodes every YAML document found and returns
// the resources together with a content-derived version.
func (s *Source) Load(ctx context.Context, ref string) ([]core.Resource, string, error) {
	digest := sha256.New()

	var resources []core.Resource
	err := filepath.WalkDir(ref, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !isManifest(path) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		relative, err := filepath.Rel(ref, path)
		if err != nil {
			relative = path
		}
		digest.Write([]byte(relative))
		digest.Write([]byte{0})
		digest.Write(content)

		decoded, err := manifest.Decode(relative, strings.NewReader(string(content)))
		if err != nil {
			return err
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

	version := hex.EncodeToString(digest.Sum(nil))
	for i := range resources {
		resources[i].Version = version
	}
	s.logger.V(1).Info("loaded desired state", "ref", ref, "version", version, "resources", len(resources))
	return resources, version, nil
}

func isManifest(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
