// Package pipeline defines the pipeline and step model and the
// executors that run them. Pipelines are immutable value types: every
// mutation helper returns a new value, which keeps serialization and
// concurrent reads trivially safe.
package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StepType says where a step sits in the flow.
type StepType string

const (
	StepTrigger StepType = "trigger"
	StepAction  StepType = "action"
	StepOutput  StepType = "output"
)

// Status is the lifecycle state of a pipeline definition.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Step binds one position in a pipeline to an action reference plus
// the static inputs authored into the pipeline definition.
type Step struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Type            StepType       `json:"type"`
	IntegrationName string         `json:"integration_name"`
	ActionName      string         `json:"action_name"`
	InputMap        map[string]any `json:"input_map"`
	Position        int            `json:"position"`
}

// NewStep creates a step with a fresh 16-character identifier.
func NewStep(name string, typ StepType, integrationName, actionName string, inputMap map[string]any, position int) Step {
	return Step{
		ID:              NewStepID(),
		Name:            name,
		Type:            typ,
		IntegrationName: integrationName,
		ActionName:      actionName,
		InputMap:        inputMap,
		Position:        position,
	}
}

// NewStepID returns a 16-character hex identifier.
func NewStepID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Validate checks the fields a step needs before it can execute.
func (s Step) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("step %q: missing id", s.Name)
	}
	switch s.Type {
	case StepTrigger, StepAction, StepOutput:
	default:
		return fmt.Errorf("step %q: invalid type %q", s.Name, s.Type)
	}
	if s.IntegrationName == "" || s.ActionName == "" {
		return fmt.Errorf("step %q: missing action reference", s.Name)
	}
	if s.Position < 0 {
		return fmt.Errorf("step %q: negative position %d", s.Name, s.Position)
	}
	return nil
}

// Pipeline is a named, ordered list of steps plus the pattern that
// decides whether an event triggers it.
type Pipeline struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Pattern     map[string]any `json:"pattern"`
	Steps       []Step         `json:"steps"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// New creates a draft pipeline with normalized step positions.
func New(name, description string, pattern map[string]any, steps []Step) Pipeline {
	now := time.Now().UTC()
	p := Pipeline{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Pattern:     pattern,
		Steps:       steps,
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return p.Normalize()
}

// Normalize returns a copy whose steps are sorted by position and
// re-numbered so that steps[i].Position == i.
func (p Pipeline) Normalize() Pipeline {
	steps := make([]Step, len(p.Steps))
	copy(steps, p.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Position < steps[j].Position })
	for i := range steps {
		steps[i].Position = i
	}
	p.Steps = steps
	return p
}

// WithStep returns a copy with the step appended at the end.
func (p Pipeline) WithStep(s Step) Pipeline {
	steps := make([]Step, len(p.Steps), len(p.Steps)+1)
	copy(steps, p.Steps)
	s.Position = len(steps)
	p.Steps = append(steps, s)
	p.UpdatedAt = time.Now().UTC()
	return p
}

// WithStatus returns a copy in the given status.
func (p Pipeline) WithStatus(status Status) Pipeline {
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return p
}

// Validate checks the pipeline and all its steps. Positions must be
// the contiguous sequence 0..n-1; run Normalize first when building
// pipelines by hand.
func (p Pipeline) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("pipeline: missing id")
	}
	if p.Name == "" {
		return fmt.Errorf("pipeline %s: missing name", p.ID)
	}
	switch p.Status {
	case StatusDraft, StatusActive, StatusInactive:
	default:
		return fmt.Errorf("pipeline %q: invalid status %q", p.Name, p.Status)
	}
	for i, s := range p.Steps {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("pipeline %q: %w", p.Name, err)
		}
		if s.Position != i {
			return fmt.Errorf("pipeline %q: step %q at index %d has position %d", p.Name, s.Name, i, s.Position)
		}
	}
	return nil
}

// Encode serializes the pipeline to its JSON wire form.
func (p Pipeline) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// Decode parses a pipeline from its JSON wire form.
func Decode(data []byte) (Pipeline, error) {
	var p Pipeline
	if err := json.Unmarshal(data, &p); err != nil {
		return Pipeline{}, fmt.Errorf("decode pipeline: %w", err)
	}
	return p, nil
}
