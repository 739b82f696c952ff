// Package broker wraps the AMQP client: a serialized publisher that
// survives connection loss, and a consumer pool with bounded prefetch.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher owns one long-lived connection and channel. Publish calls
// serialize through it; on observed connection or channel death the
// next publish reopens both. Between death and recovery, publishes
// return an error to the caller.
type Publisher struct {
	url       string
	heartbeat time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

// NewPublisher creates a publisher for the given AMQP endpoint. The
// connection is opened lazily on first publish.
func NewPublisher(url string, heartbeat time.Duration, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		url:       url,
		heartbeat: heartbeat,
		logger:    logger,
		declared:  make(map[string]bool),
	}
}

// Publish sends body as a persistent JSON message to the named queue,
// declaring the queue on first use.
func (p *Publisher) Publish(ctx context.Context, queue string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannel(); err != nil {
		return err
	}

	if !p.declared[queue] {
		if _, err := p.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			p.teardown()
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		p.declared[queue] = true
	}

	err := p.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		// Drop the dead channel so the next publish reopens it.
		p.teardown()
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// PublishJSON marshals v and publishes it.
func (p *Publisher) PublishJSON(ctx context.Context, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", queue, err)
	}
	return p.Publish(ctx, queue, body)
}

// ensureChannel opens the connection and channel if needed. Callers
// hold p.mu.
func (p *Publisher) ensureChannel() error {
	if p.ch != nil && p.conn != nil && !p.conn.IsClosed() {
		return nil
	}
	p.teardown()

	conn, err := amqp.DialConfig(p.url, amqp.Config{Heartbeat: p.heartbeat})
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	p.conn = conn
	p.ch = ch
	p.logger.Info("publisher connected", slog.String("url", redactedURL(p.url)))
	return nil
}

// teardown closes whatever is open and forgets queue declarations so
// they are re-issued on the fresh channel. Callers hold p.mu.
func (p *Publisher) teardown() {
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.declared = make(map[string]bool)
}

// Close shuts the connection down.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardown()
	return nil
}
