package directory

import (
	"context"
	"sync"

	"github.com/pocsync/pocsync/internal/pipeline"
)

// Memory is an in-memory pipeline directory.
type Memory struct {
	mu        sync.RWMutex
	pipelines []pipeline.Pipeline
}

// NewMemory creates a directory seeded with the given pipelines.
func NewMemory(pipelines ...pipeline.Pipeline) *Memory {
	return &Memory{pipelines: pipelines}
}

// Add appends a pipeline to the directory.
func (m *Memory) Add(p pipeline.Pipeline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipelines = append(m.pipelines, p)
}

// ListPipelines returns a snapshot of the directory.
func (m *Memory) ListPipelines(ctx context.Context) ([]pipeline.Pipeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]pipeline.Pipeline, len(m.pipelines))
	copy(out, m.pipelines)
	return out, nil
}

var _ Directory = (*Memory)(nil)
