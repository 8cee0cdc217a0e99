// Package loam reads the worker catalog from a directory of markdown documents.
package loam

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/loam"

	"github.com/aretw0/relay/pkg/capability"
)

// Catalog adapts a Loam repository to a list of worker specs.
type Catalog struct {
	Repo *loam.TypedRepository[WorkerMetadata]
}

// New creates a catalog over an existing repository.
func New(repo *loam.TypedRepository[WorkerMetadata]) *Catalog {
	return &Catalog{Repo: repo}
}

// Open initializes a read-only Loam repository at dir.
// Strict mode keeps numeric frontmatter consistent across formats.
func Open(dir string) (*Catalog, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	repo, err := loam.Init(absPath,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return New(loam.NewTypedRepository[WorkerMetadata](repo)), nil
}

// Specs lists every worker in the repository, ordered as Loam returns them.
func (c *Catalog) Specs(ctx context.Context) ([]capability.Spec, error) {
	docs, err := c.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]string)
	specs := make([]capability.Spec, 0, len(docs))
	for _, doc := range docs {
		rawID := doc.Data.ID
		if rawID == "" {
			rawID = doc.ID
		}
		id := trimExtension(rawID)

		if existing, ok := seen[id]; ok {
			return nil, fmt.Errorf("collision detected: worker '%s' is defined in both '%s' and '%s'", id, existing, doc.ID)
		}
		seen[id] = doc.ID

		// List carries frontmatter only; the body is read when it is the description.
		body := doc.Content
		if strings.TrimSpace(doc.Data.Description) == "" && body == "" {
			full, err := c.Repo.Get(ctx, doc.ID)
			if err != nil {
				return nil, fmt.Errorf("loam get failed for %s: %w", doc.ID, err)
			}
			body = full.Content
		}

		spec, err := toSpec(id, doc.Data, body)
		if err != nil {
			return nil, fmt.Errorf("worker %s: %w", id, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func toSpec(id string, meta WorkerMetadata, body string) (capability.Spec, error) {
	spec := capability.Spec{
		ID:          id,
		Description: strings.TrimSpace(meta.Description),
		Kind:        capability.Kind(strings.ToLower(meta.Kind)),
		Tool:        meta.Tool,
		URL:         meta.URL,
		Content:     meta.Content,
		Keywords:    meta.Keywords,
		Fallback:    meta.Fallback,
	}
	if spec.Description == "" {
		spec.Description = strings.TrimSpace(body)
	}
	if spec.Kind == capability.KindProcess && spec.Tool == "" {
		spec.Tool = id
	}
	if meta.Timeout != "" {
		d, err := time.ParseDuration(meta.Timeout)
		if err != nil {
			return capability.Spec{}, fmt.Errorf("invalid timeout %q: %w", meta.Timeout, err)
		}
		spec.Timeout = d
	}
	return spec, nil
}

func trimExtension(id string) string {
	ext := filepath.Ext(id)
	if ext != "" {
		return filepath.ToSlash(strings.TrimSuffix(id, ext))
	}
	return filepath.ToSlash(id)
}
