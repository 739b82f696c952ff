// Package directory exposes the read-only collection of pipelines the
// consumers match events against. Storage is pluggable: an in-memory
// list for static deployments and tests, and a SQLite store for
// persistence.
package directory

import (
	"context"

	"github.com/pocsync/pocsync/internal/pipeline"
)

// Directory lists the pipelines known to this process.
type Directory interface {
	ListPipelines(ctx context.Context) ([]pipeline.Pipeline, error)
}
