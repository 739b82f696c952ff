package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pocsync/pocsync/internal/event"
	"github.com/pocsync/pocsync/internal/pipeline"
)

// PipelineConsumer executes work items pulled from a pipeline queue.
type PipelineConsumer struct {
	executor *pipeline.Executor
	logger   *slog.Logger
}

// NewPipelineConsumer wires a pipeline consumer.
func NewPipelineConsumer(ex *pipeline.Executor, logger *slog.Logger) *PipelineConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineConsumer{executor: ex, logger: logger}
}

// HandleMessage decodes a work item and runs its pipeline to
// completion. Execution failures are terminal in the record and
// observable via logs; the message is acknowledged regardless, so a
// nil return here covers both outcomes.
func (c *PipelineConsumer) HandleMessage(ctx context.Context, body []byte) error {
	var item event.WorkItem
	if err := json.Unmarshal(body, &item); err != nil {
		return fmt.Errorf("decode work item: %w", err)
	}

	exec := c.executor.Execute(ctx, item.Pipeline, item.Context)

	logger := c.logger.With(
		slog.String("execution_id", exec.ID),
		slog.String("pipeline_id", item.Pipeline.ID),
		slog.String("pipeline", item.Pipeline.Name))
	if exec.Succeeded() {
		logger.Info("pipeline executed", slog.Any("summary", exec.Summary()))
	} else {
		logger.Error("pipeline execution failed", slog.Any("summary", exec.Summary()))
	}
	return nil
}
