package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the state of one pipeline run.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSuccess   ExecutionStatus = "success"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// StepResult records the outcome of a single step. Success results
// carry Output and ExecutedAt; failures carry Error, FailedAt and the
// redacted InputData. Consumers discriminate on the presence of Error.
type StepResult struct {
	StepID      string         `json:"step_id"`
	StepName    string         `json:"step_name"`
	StepType    StepType       `json:"step_type"`
	Integration string         `json:"integration"`
	Action      string         `json:"action"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
	ExecutedAt  time.Time      `json:"executed_at,omitzero"`
	FailedAt    time.Time      `json:"failed_at,omitzero"`
	InputData   map[string]any `json:"input_data,omitempty"`
}

// Failed reports whether the result is a failure.
func (r StepResult) Failed() bool { return r.Error != "" }

// Execution is the in-memory record of one pipeline run. It is owned
// by the executor while running and returned to the caller once
// terminal. Cancel may be called from another goroutine, so status
// moves are guarded by a mutex.
type Execution struct {
	mu sync.Mutex

	ID          string          `json:"execution_id"`
	PipelineID  string          `json:"pipeline_id"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at,omitzero"`
	CompletedAt time.Time       `json:"completed_at,omitzero"`
	Context     map[string]any  `json:"context"`
	Results     []StepResult    `json:"results"`
	Error       string          `json:"error,omitempty"`
}

// NewExecution creates a pending record for the given pipeline.
func NewExecution(pipelineID string, initialContext map[string]any) *Execution {
	return &Execution{
		ID:         uuid.NewString(),
		PipelineID: pipelineID,
		Status:     ExecutionPending,
		Context:    initialContext,
	}
}

func (e *Execution) start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Status = ExecutionRunning
	e.StartedAt = time.Now().UTC()
}

func (e *Execution) complete(status ExecutionStatus, errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	// A cooperative cancel that already landed wins over the executor's
	// own terminal transition.
	if e.Status != ExecutionRunning && e.Status != ExecutionPending {
		return
	}
	e.Status = status
	e.Error = errMsg
	e.CompletedAt = time.Now().UTC()
}

// Cancel transitions a running execution to cancelled. It is a no-op
// on any other status. Cancellation is cooperative: an in-flight step
// finishes, and the executor stops before starting the next one.
func (e *Execution) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Status != ExecutionRunning {
		return
	}
	e.Status = ExecutionCancelled
	e.Error = "Execution cancelled by user"
	e.CompletedAt = time.Now().UTC()
}

// CurrentStatus reads the status under the lock.
func (e *Execution) CurrentStatus() ExecutionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Status
}

// Succeeded reports whether the run completed all steps.
func (e *Execution) Succeeded() bool { return e.CurrentStatus() == ExecutionSuccess }

// Failed reports whether the run terminated on a failure.
func (e *Execution) Failed() bool { return e.CurrentStatus() == ExecutionFailed }

// Cancelled reports whether the run was cancelled.
func (e *Execution) Cancelled() bool { return e.CurrentStatus() == ExecutionCancelled }

// Duration is the wall time between start and completion.
func (e *Execution) Duration() time.Duration {
	if e.StartedAt.IsZero() || e.CompletedAt.IsZero() {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// FinalOutput is the output of the last successful step, or nil.
func (e *Execution) FinalOutput() map[string]any {
	for i := len(e.Results) - 1; i >= 0; i-- {
		if !e.Results[i].Failed() {
			return e.Results[i].Output
		}
	}
	return nil
}

// AllOutputs returns the outputs of every successful step in order.
func (e *Execution) AllOutputs() []map[string]any {
	var outputs []map[string]any
	for _, r := range e.Results {
		if !r.Failed() {
			outputs = append(outputs, r.Output)
		}
	}
	return outputs
}

// FailedSteps returns the failure results, if any.
func (e *Execution) FailedSteps() []StepResult {
	var failed []StepResult
	for _, r := range e.Results {
		if r.Failed() {
			failed = append(failed, r)
		}
	}
	return failed
}

// Summary returns a small stats map suitable for logging.
func (e *Execution) Summary() map[string]any {
	return map[string]any{
		"execution_id": e.ID,
		"pipeline_id":  e.PipelineID,
		"status":       string(e.CurrentStatus()),
		"steps":        len(e.Results),
		"failed_steps": len(e.FailedSteps()),
		"duration_ms":  e.Duration().Milliseconds(),
		"error":        e.Error,
	}
}
