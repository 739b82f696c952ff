package consumer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pocsync/pocsync/internal/directory"
	"github.com/pocsync/pocsync/internal/event"
	"github.com/pocsync/pocsync/internal/integration"
	"github.com/pocsync/pocsync/internal/pipeline"
	"github.com/pocsync/pocsync/internal/router"
)

type capturedMessage struct {
	Queue string
	Body  []byte
}

type stubPublisher struct {
	messages []capturedMessage
	err      error
}

func (s *stubPublisher) PublishJSON(ctx context.Context, queue string, v any) error {
	if s.err != nil {
		return s.err
	}
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.messages = append(s.messages, capturedMessage{Queue: queue, Body: body})
	return nil
}

func triggerStep() pipeline.Step {
	return pipeline.NewStep("trigger", pipeline.StepTrigger, "test", "echo", nil, 0)
}

func lazadaPipeline() pipeline.Pipeline {
	return pipeline.New("lazada orders", "", map[string]any{
		"source": "webhook",
		"path":   "/api/webhook/lazada",
	}, []pipeline.Step{triggerStep()})
}

func shopeePipeline() pipeline.Pipeline {
	return pipeline.New("shopee orders", "", map[string]any{
		"source": "webhook",
		"path":   "/api/webhook/shopee",
	}, []pipeline.Step{triggerStep()})
}

func TestEventConsumerFanOut(t *testing.T) {
	dir := directory.NewMemory(lazadaPipeline(), shopeePipeline())
	pub := &stubPublisher{}
	c := NewEventConsumer(dir, router.New(router.DefaultRules()), pub, nil)

	ev := event.Event{
		Source: "webhook",
		Path:   "/api/webhook/lazada",
		Method: "POST",
		Params: map[string]any{},
	}
	body, _ := json.Marshal(ev)

	if err := c.HandleMessage(context.Background(), body); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if len(pub.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.messages))
	}
	if pub.messages[0].Queue != "lazada_pipeline_queue" {
		t.Fatalf("queue = %s, want lazada_pipeline_queue", pub.messages[0].Queue)
	}

	var item event.WorkItem
	if err := json.Unmarshal(pub.messages[0].Body, &item); err != nil {
		t.Fatalf("decode work item: %v", err)
	}
	if item.Pipeline.Name != "lazada orders" {
		t.Fatalf("work item pipeline = %s", item.Pipeline.Name)
	}
	if item.Context["path"] != "/api/webhook/lazada" {
		t.Fatalf("work item context = %v", item.Context)
	}
}

func TestEventConsumerMalformedMessage(t *testing.T) {
	c := NewEventConsumer(directory.NewMemory(), router.New(router.DefaultRules()), &stubPublisher{}, nil)

	if err := c.HandleMessage(context.Background(), []byte("{not json")); err == nil {
		t.Fatalf("HandleMessage() = nil, want decode error")
	}
}

func TestEventConsumerNoRouteDropsQuietly(t *testing.T) {
	dir := directory.NewMemory(lazadaPipeline())
	pub := &stubPublisher{}
	rt := router.New([]router.Rule{
		{Queue: "only", Pattern: map[string]any{"source": "schedule"}},
	})
	c := NewEventConsumer(dir, rt, pub, nil)

	body, _ := json.Marshal(event.Event{Source: "webhook", Path: "/api/webhook/lazada"})
	if err := c.HandleMessage(context.Background(), body); err != nil {
		t.Fatalf("HandleMessage() error = %v, want nil (ack and drop)", err)
	}
	if len(pub.messages) != 0 {
		t.Fatalf("published %d messages, want 0", len(pub.messages))
	}
}

func TestPipelineConsumerExecutes(t *testing.T) {
	r := integration.NewRegistry()
	executed := false
	r.Register(integration.Integration{
		Name: "test",
		Actions: map[string]integration.ActionDefinition{
			"echo": {Name: "echo", Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
				executed = true
				return map[string]any{"ok": true}, nil
			}},
		},
	})
	c := NewPipelineConsumer(pipeline.NewExecutor(r, nil), nil)

	item := event.WorkItem{
		Pipeline: lazadaPipeline(),
		Context:  map[string]any{"order_id": "42"},
	}
	body, _ := json.Marshal(item)

	if err := c.HandleMessage(context.Background(), body); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !executed {
		t.Fatalf("pipeline step never ran")
	}
}

func TestPipelineConsumerSwallowsExecutionFailure(t *testing.T) {
	// An empty registry makes every action lookup fail; the consumer
	// must still return nil so the message is acked.
	c := NewPipelineConsumer(pipeline.NewExecutor(integration.NewRegistry(), nil), nil)

	body, _ := json.Marshal(event.WorkItem{Pipeline: lazadaPipeline()})
	if err := c.HandleMessage(context.Background(), body); err != nil {
		t.Fatalf("HandleMessage() error = %v, want nil on execution failure", err)
	}
}

func TestPipelineConsumerMalformedMessage(t *testing.T) {
	c := NewPipelineConsumer(pipeline.NewExecutor(integration.NewRegistry(), nil), nil)
	if err := c.HandleMessage(context.Background(), []byte("no")); err == nil {
		t.Fatalf("HandleMessage() = nil, want decode error")
	}
}
