// Package ingress exposes the HTTP entry points of the platform: the
// async webhook endpoint that publishes events onto the ingress queue
// and the sync call endpoint that executes the first matching pipeline
// in-request.
package ingress

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pocsync/pocsync/internal/directory"
	"github.com/pocsync/pocsync/internal/event"
	"github.com/pocsync/pocsync/internal/matcher"
	"github.com/pocsync/pocsync/internal/pipeline"
	"github.com/pocsync/pocsync/internal/server"
)

// Publisher is the broker sink the async ingress publishes through.
type Publisher interface {
	PublishJSON(ctx context.Context, queue string, v any) error
}

// Handler serves the /webhook and /call routes.
type Handler struct {
	publisher  Publisher
	directory  directory.Directory
	executor   *pipeline.Executor
	eventQueue string
	logger     *slog.Logger
}

// NewHandler wires the ingress handler.
func NewHandler(pub Publisher, dir directory.Directory, ex *pipeline.Executor, eventQueue string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		publisher:  pub,
		directory:  dir,
		executor:   ex,
		eventQueue: eventQueue,
		logger:     logger,
	}
}

// Routes mounts the ingress endpoints on r. Mount the result under
// /api so the event paths match the routing patterns.
func (h *Handler) Routes(r chi.Router) {
	for _, pattern := range []string{"/webhook/{appID}", "/webhook/{appID}/*"} {
		r.Get(pattern, h.Webhook)
		r.Post(pattern, h.Webhook)
	}
	for _, pattern := range []string{"/call/{appID}", "/call/{appID}/*"} {
		r.Get(pattern, h.Call)
		r.Post(pattern, h.Call)
	}
}

// Webhook publishes the event to the ingress queue and replies
// immediately. Publish failures are logged but invisible to the
// caller.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	ev := h.buildEvent(r)

	if err := h.publisher.PublishJSON(r.Context(), h.eventQueue, ev); err != nil {
		server.AddError(r.Context(), err)
		h.logger.Error("event publish failed",
			slog.String("queue", h.eventQueue),
			slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "Event received and processed"})
}

// Call matches the event against the pipeline directory and executes
// the first hit synchronously.
func (h *Handler) Call(w http.ResponseWriter, r *http.Request) {
	ev := h.buildEvent(r).Map()

	pipelines, err := h.directory.ListPipelines(r.Context())
	if err != nil {
		server.AddError(r.Context(), err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	for _, p := range pipelines {
		if !matcher.Matches(ev, p.Pattern) {
			continue
		}

		exec := h.executor.Execute(r.Context(), p, ev)
		if !exec.Succeeded() {
			server.AddLogField(r.Context(), "execution_id", exec.ID)
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": exec.Error})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": exec.FinalOutput()})
		return
	}

	writeJSON(w, http.StatusNotFound, map[string]any{"message": "No matching pipeline found"})
}

// buildEvent normalizes the request into the event envelope. The JSON
// body becomes params; query string values fill in on top for GET
// style webhooks.
func (h *Handler) buildEvent(r *http.Request) event.Event {
	params := map[string]any{}
	if r.Body != nil {
		// Tolerate empty and malformed bodies; the event still routes.
		_ = json.NewDecoder(r.Body).Decode(&params)
	}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	return event.Event{
		Source:  "webhook",
		Path:    r.URL.Path,
		Method:  r.Method,
		Params:  params,
		Headers: headers,
	}
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
