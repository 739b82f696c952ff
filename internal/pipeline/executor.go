package pipeline

import (
	"context"
	"log/slog"
	"sort"

	"github.com/pocsync/pocsync/internal/integration"
)

// Executor drives a pipeline's steps in order, threading each step's
// output into the next and accumulating per-step results into an
// execution record. It is synchronous: Execute returns only when the
// run is terminal.
type Executor struct {
	steps  *StepExecutor
	logger *slog.Logger
}

// NewExecutor creates a pipeline executor backed by the registry.
func NewExecutor(registry *integration.Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		steps:  NewStepExecutor(registry, logger),
		logger: logger,
	}
}

// Execute runs the pipeline against the initial context and returns
// the terminal execution record. Step failures do not propagate as
// errors; they materialize as a failed record.
func (ex *Executor) Execute(ctx context.Context, p Pipeline, initialContext map[string]any) *Execution {
	if initialContext == nil {
		initialContext = map[string]any{}
	}

	exec := NewExecution(p.ID, initialContext)
	exec.start()

	if err := p.Validate(); err != nil {
		ex.logger.Error("pipeline validation failed",
			slog.String("pipeline_id", p.ID),
			slog.String("error", err.Error()))
		exec.complete(ExecutionFailed, "Pipeline validation failed")
		return exec
	}

	steps := make([]Step, len(p.Steps))
	copy(steps, p.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Position < steps[j].Position })

	contextData := cloneMap(initialContext)
	var prevOutput map[string]any

	for i, step := range steps {
		if exec.CurrentStatus() == ExecutionCancelled {
			ex.logger.Info("execution cancelled between steps",
				slog.String("execution_id", exec.ID),
				slog.Int("position", step.Position))
			return exec
		}

		var pipelineData map[string]any
		switch {
		case i == 0:
			pipelineData = contextData
		case prevOutput != nil:
			pipelineData = prevOutput
		default:
			pipelineData = map[string]any{}
			ex.logger.Warn("previous step produced no output",
				slog.String("execution_id", exec.ID),
				slog.String("step", step.Name))
		}

		result := ex.steps.Execute(ctx, step, pipelineData, contextData)
		exec.Results = append(exec.Results, result)

		if result.Failed() {
			ex.logger.Error("step failed",
				slog.String("execution_id", exec.ID),
				slog.String("step", step.Name),
				slog.String("error", result.Error))
			exec.complete(ExecutionFailed, result.Error)
			return exec
		}

		prevOutput = result.Output
		mergeContext(contextData, result.Output)
	}

	exec.Context = contextData
	exec.complete(ExecutionSuccess, "")
	return exec
}

// mergeContext folds a step's context contribution into the
// accumulated execution context. Actions export context either under
// an explicit "context" key or, via pass-through, as a top-level map.
func mergeContext(contextData, output map[string]any) {
	ctxVal, ok := output["context"]
	if !ok {
		return
	}
	if m, ok := ctxVal.(map[string]any); ok {
		for k, v := range m {
			contextData[k] = v
		}
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
