// Package event defines the envelopes that move through the broker:
// the ingress event produced by the HTTP layer and the work item the
// event consumer fans out to pipeline queues.
package event

import "github.com/pocsync/pocsync/internal/pipeline"

// Event is the normalized form of an inbound HTTP request.
type Event struct {
	Source  string            `json:"source"`
	Path    string            `json:"path"`
	Method  string            `json:"method,omitempty"`
	Params  map[string]any    `json:"params"`
	Headers map[string]string `json:"headers"`
}

// Map renders the event as a plain map, the shape the matcher and
// router operate on. Broker consumers get this shape for free by
// decoding JSON; the sync ingress builds it directly.
func (e Event) Map() map[string]any {
	params := e.Params
	if params == nil {
		params = map[string]any{}
	}
	headers := make(map[string]any, len(e.Headers))
	for k, v := range e.Headers {
		headers[k] = v
	}
	m := map[string]any{
		"source":  e.Source,
		"path":    e.Path,
		"params":  params,
		"headers": headers,
	}
	if e.Method != "" {
		m["method"] = e.Method
	}
	return m
}

// WorkItem is the envelope placed on a pipeline queue: one matched
// pipeline plus the event context that triggered it.
type WorkItem struct {
	Pipeline pipeline.Pipeline `json:"pipeline"`
	Context  map[string]any    `json:"context"`
}
