package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/pocsync/pocsync/internal/integration"
)

// echoHandler returns the step's data keys, mimicking a trigger that
// passes the event through.
func echoHandler(ctx context.Context, input map[string]any) (map[string]any, error) {
	out := make(map[string]any)
	for k, v := range input {
		if k == "pipeline_data" || k == "context" {
			continue
		}
		out[k] = v
	}
	return out, nil
}

func executorFixture(t *testing.T) (*Executor, *integration.Registry) {
	t.Helper()
	r := integration.NewRegistry()
	r.Register(integration.Integration{
		Name: "test",
		Actions: map[string]integration.ActionDefinition{
			"echo": {Name: "echo", Handler: echoHandler},
			"map_fields": {Name: "map_fields", Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
				mapping, _ := input["mapping"].(map[string]any)
				out := make(map[string]any)
				for src, dst := range mapping {
					if v, ok := input[src]; ok {
						out[dst.(string)] = v
					}
				}
				return out, nil
			}},
			"fail": {Name: "fail", Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
				return nil, errors.New("Invalid URL: ftp://bad")
			}},
			"export_context": {Name: "export_context", Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
				return map[string]any{"context": map[string]any{"trace": "t-1"}}, nil
			}},
		},
	})
	return NewExecutor(r, nil), r
}

func fieldMappingPipeline() Pipeline {
	return New("user mapping", "", nil, []Step{
		NewStep("webhook_trigger", StepTrigger, "test", "echo", nil, 0),
		NewStep("map_fields", StepAction, "test", "map_fields", map[string]any{
			"mapping": map[string]any{"user_id": "id", "user_name": "name"},
		}, 1),
	})
}

func TestExecutorFieldMapping(t *testing.T) {
	ex, _ := executorFixture(t)
	p := fieldMappingPipeline()

	exec := ex.Execute(context.Background(), p, map[string]any{
		"user_id":   123,
		"user_name": "John Doe",
	})

	if !exec.Succeeded() {
		t.Fatalf("status = %s, error = %s", exec.Status, exec.Error)
	}
	out := exec.FinalOutput()
	if out["id"] != 123 || out["name"] != "John Doe" {
		t.Fatalf("FinalOutput() = %v", out)
	}
	if exec.Duration() < 0 {
		t.Fatalf("negative duration")
	}
}

func TestExecutorPositionInvariant(t *testing.T) {
	ex, _ := executorFixture(t)
	p := fieldMappingPipeline()

	exec := ex.Execute(context.Background(), p, map[string]any{"user_id": 1})
	if len(exec.Results) != len(p.Steps) {
		t.Fatalf("results = %d, want %d", len(exec.Results), len(p.Steps))
	}
	for i, r := range exec.Results {
		if r.StepID != p.Steps[i].ID {
			t.Fatalf("results[%d].StepID = %s, want %s", i, r.StepID, p.Steps[i].ID)
		}
	}
}

func TestExecutorShortCircuitsOnFailure(t *testing.T) {
	ex, _ := executorFixture(t)
	p := New("failing", "", nil, []Step{
		NewStep("trigger", StepTrigger, "test", "echo", nil, 0),
		NewStep("bad request", StepAction, "test", "fail", nil, 1),
		NewStep("never runs", StepAction, "test", "echo", nil, 2),
	})

	exec := ex.Execute(context.Background(), p, map[string]any{"x": 1})

	if !exec.Failed() {
		t.Fatalf("status = %s, want failed", exec.Status)
	}
	if len(exec.Results) != 2 {
		t.Fatalf("results = %d, want 2 (short-circuit)", len(exec.Results))
	}
	if exec.Results[0].Failed() || !exec.Results[1].Failed() {
		t.Fatalf("unexpected result statuses: %+v", exec.Results)
	}
	if exec.Error != "Invalid URL: ftp://bad" {
		t.Fatalf("Error = %q", exec.Error)
	}
	if got := exec.FailedSteps(); len(got) != 1 || got[0].StepName != "bad request" {
		t.Fatalf("FailedSteps() = %+v", got)
	}
}

func TestExecutorValidationFailure(t *testing.T) {
	ex, _ := executorFixture(t)
	p := fieldMappingPipeline()
	p.Name = ""

	exec := ex.Execute(context.Background(), p, nil)

	if !exec.Failed() {
		t.Fatalf("status = %s, want failed", exec.Status)
	}
	if exec.Error != "Pipeline validation failed" {
		t.Fatalf("Error = %q", exec.Error)
	}
	if len(exec.Results) != 0 {
		t.Fatalf("steps ran on invalid pipeline: %d results", len(exec.Results))
	}
}

func TestExecutorAccumulatesContext(t *testing.T) {
	ex, _ := executorFixture(t)
	p := New("ctx", "", nil, []Step{
		NewStep("trigger", StepTrigger, "test", "echo", nil, 0),
		NewStep("export", StepAction, "test", "export_context", nil, 1),
		NewStep("tail", StepAction, "test", "echo", nil, 2),
	})

	exec := ex.Execute(context.Background(), p, map[string]any{"seed": true})
	if !exec.Succeeded() {
		t.Fatalf("status = %s, error = %s", exec.Status, exec.Error)
	}
	if exec.Context["trace"] != "t-1" {
		t.Fatalf("Context = %v, want exported trace key", exec.Context)
	}
	if exec.Context["seed"] != true {
		t.Fatalf("initial context lost: %v", exec.Context)
	}
}

func TestExecutionCancel(t *testing.T) {
	exec := NewExecution("p-1", nil)

	// Cancel before running is a no-op.
	exec.Cancel()
	if exec.CurrentStatus() != ExecutionPending {
		t.Fatalf("status = %s, want pending", exec.CurrentStatus())
	}

	exec.start()
	exec.Cancel()
	if !exec.Cancelled() {
		t.Fatalf("status = %s, want cancelled", exec.CurrentStatus())
	}
	if exec.Error != "Execution cancelled by user" {
		t.Fatalf("Error = %q", exec.Error)
	}

	// Terminal states are sticky.
	exec.complete(ExecutionSuccess, "")
	if !exec.Cancelled() {
		t.Fatalf("cancelled record transitioned to %s", exec.CurrentStatus())
	}
}

func TestExecutionSummaryAndOutputs(t *testing.T) {
	ex, _ := executorFixture(t)
	exec := ex.Execute(context.Background(), fieldMappingPipeline(), map[string]any{"user_id": 7})

	if got := len(exec.AllOutputs()); got != 2 {
		t.Fatalf("AllOutputs() = %d entries, want 2", got)
	}
	summary := exec.Summary()
	if summary["status"] != "success" || summary["steps"] != 2 || summary["failed_steps"] != 0 {
		t.Fatalf("Summary() = %v", summary)
	}
}
