package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pocsync/pocsync/internal/integration"
)

// sensitiveSubstrings flags top-level input keys whose values are
// replaced before a failure result is reported.
var sensitiveSubstrings = []string{"password", "token", "secret", "key", "auth"}

// StepExecutor resolves a step's action, assembles its input, invokes
// it and wraps the outcome in a StepResult. It never panics: crashes
// inside an action are caught and converted to step failures.
type StepExecutor struct {
	registry *integration.Registry
	logger   *slog.Logger
}

// NewStepExecutor creates a step executor bound to a registry.
func NewStepExecutor(registry *integration.Registry, logger *slog.Logger) *StepExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &StepExecutor{registry: registry, logger: logger}
}

// Execute runs a single step. pipelineData is the output of the
// previous step (or the initial context for the first step);
// contextData is the accumulated execution context.
func (se *StepExecutor) Execute(ctx context.Context, step Step, pipelineData, contextData map[string]any) StepResult {
	def, ok := se.registry.Action(step.IntegrationName, step.ActionName)
	if !ok {
		return se.failure(step, nil, 0,
			fmt.Sprintf("Action not found: %s.%s", step.IntegrationName, step.ActionName))
	}

	input := assembleInput(step, pipelineData, contextData)

	start := time.Now()
	output, err := se.invoke(ctx, def, input)
	duration := time.Since(start)

	if err != nil {
		return se.failure(step, input, duration, err.Error())
	}
	if output == nil {
		output = map[string]any{}
	}
	return StepResult{
		StepID:      step.ID,
		StepName:    step.Name,
		StepType:    step.Type,
		Integration: step.IntegrationName,
		Action:      step.ActionName,
		Output:      output,
		DurationMS:  duration.Milliseconds(),
		ExecutedAt:  time.Now().UTC(),
	}
}

// invoke calls the action handler, converting panics into errors so a
// crashing action cannot take the worker down.
func (se *StepExecutor) invoke(ctx context.Context, def integration.ActionDefinition, input map[string]any) (output map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			se.logger.Error("action panicked",
				slog.String("action", def.Name),
				slog.Any("panic", r))
			output = nil
			err = fmt.Errorf("Action executor crashed: %v", r)
		}
	}()
	return def.Handler(ctx, input)
}

// assembleInput builds the action input with a deterministic merge
// order; later layers win:
//
//  1. the step's static input_map,
//  2. pipeline_data and context under their own names,
//  3. the top-level keys of pipeline_data, so actions can read
//     upstream fields directly.
func assembleInput(step Step, pipelineData, contextData map[string]any) map[string]any {
	input := make(map[string]any, len(step.InputMap)+len(pipelineData)+2)
	for k, v := range step.InputMap {
		input[k] = v
	}
	input["pipeline_data"] = pipelineData
	input["context"] = contextData
	for k, v := range pipelineData {
		input[k] = v
	}
	return input
}

func (se *StepExecutor) failure(step Step, input map[string]any, duration time.Duration, msg string) StepResult {
	return StepResult{
		StepID:      step.ID,
		StepName:    step.Name,
		StepType:    step.Type,
		Integration: step.IntegrationName,
		Action:      step.ActionName,
		Error:       msg,
		DurationMS:  duration.Milliseconds(),
		FailedAt:    time.Now().UTC(),
		InputData:   redact(input),
	}
}

// redact replaces the value of any top-level key whose lowercased name
// contains a sensitive substring.
func redact(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for k, v := range input {
		if isSensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(k string) bool {
	lower := strings.ToLower(k)
	for _, s := range sensitiveSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// ValidateInput checks input against the action's input schema when
// the schema declares required fields. It is best-effort: without a
// required list it is a no-op. The executor does not call this
// automatically before invocation.
func (se *StepExecutor) ValidateInput(step Step, input map[string]any) error {
	def, ok := se.registry.Action(step.IntegrationName, step.ActionName)
	if !ok {
		return fmt.Errorf("Action not found: %s.%s", step.IntegrationName, step.ActionName)
	}
	required, ok := def.InputSchema["required"]
	if !ok {
		return nil
	}
	fields, ok := required.([]any)
	if !ok {
		if strs, ok := required.([]string); ok {
			for _, f := range strs {
				fields = append(fields, f)
			}
		} else {
			return nil
		}
	}
	for _, f := range fields {
		name := fmt.Sprint(f)
		if _, present := input[name]; !present {
			return fmt.Errorf("missing required field: %s", name)
		}
	}
	return nil
}
