// Package consumer implements the two broker message handlers: the
// event consumer that fans matched events out to pipeline queues, and
// the pipeline consumer that executes the resulting work items.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pocsync/pocsync/internal/directory"
	"github.com/pocsync/pocsync/internal/event"
	"github.com/pocsync/pocsync/internal/matcher"
	"github.com/pocsync/pocsync/internal/router"
)

// Publisher is the broker sink the event consumer fans out through.
type Publisher interface {
	PublishJSON(ctx context.Context, queue string, v any) error
}

// EventConsumer turns one raw ingress event into zero or more work
// items on the routed pipeline queue.
type EventConsumer struct {
	directory directory.Directory
	router    *router.Router
	publisher Publisher
	logger    *slog.Logger
}

// NewEventConsumer wires an event consumer.
func NewEventConsumer(dir directory.Directory, rt *router.Router, pub Publisher, logger *slog.Logger) *EventConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventConsumer{directory: dir, router: rt, publisher: pub, logger: logger}
}

// HandleMessage processes one broker delivery. The returned error is
// informational: the broker layer logs it and acknowledges the
// message either way, so a malformed or unroutable event never loops.
func (c *EventConsumer) HandleMessage(ctx context.Context, body []byte) error {
	var ev map[string]any
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}

	pipelines, err := c.directory.ListPipelines(ctx)
	if err != nil {
		return fmt.Errorf("list pipelines: %w", err)
	}

	queue, err := c.router.Route(ev)
	if err != nil {
		if errors.Is(err, router.ErrNoRoute) {
			c.logger.Warn("no route for event, dropping",
				slog.Any("path", ev["path"]))
			return nil
		}
		return err
	}

	matched := 0
	for _, p := range pipelines {
		if !matcher.Matches(ev, p.Pattern) {
			continue
		}
		matched++
		item := event.WorkItem{Pipeline: p, Context: ev}
		// Best-effort per envelope: a publish failure must not block
		// fan-out for the remaining pipelines.
		if err := c.publisher.PublishJSON(ctx, queue, item); err != nil {
			c.logger.Error("work item publish failed",
				slog.String("pipeline_id", p.ID),
				slog.String("queue", queue),
				slog.String("error", err.Error()))
		}
	}

	c.logger.Info("event dispatched",
		slog.String("queue", queue),
		slog.Int("matched_pipelines", matched))
	return nil
}
