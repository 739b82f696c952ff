package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// HandlerFunc processes one delivery body. A returned error is logged;
// the delivery is acknowledged either way so malformed or failing
// messages never loop back through the queue.
type HandlerFunc func(ctx context.Context, body []byte) error

// Consumer drains one queue with a fixed-size worker pool and bounded
// prefetch. It reconnects with a delay when the broker connection
// drops and stops when its context is cancelled.
type Consumer struct {
	URL              string
	Queue            string
	Concurrency      int
	PrefetchCount    int
	Heartbeat        time.Duration
	Handler          HandlerFunc
	Logger           *slog.Logger
	ReconnectBackoff time.Duration
}

// Run consumes until ctx is cancelled. Connection failures are logged
// and retried.
func (c *Consumer) Run(ctx context.Context) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backoff := c.ReconnectBackoff
	if backoff == 0 {
		backoff = 3 * time.Second
	}

	for {
		if err := c.consumeOnce(ctx, logger); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("consumer session ended",
				slog.String("queue", c.Queue),
				slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

// consumeOnce holds one connection for its lifetime: declare, set QoS,
// fan deliveries out to the worker pool, and ack each delivery after
// handling.
func (c *Consumer) consumeOnce(ctx context.Context, logger *slog.Logger) error {
	conn, err := amqp.DialConfig(c.URL, amqp.Config{Heartbeat: c.Heartbeat})
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.Queue, err)
	}
	if err := ch.Qos(c.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.Queue, err)
	}

	logger.Info("consumer started",
		slog.String("queue", c.Queue),
		slog.Int("concurrency", c.Concurrency),
		slog.Int("prefetch", c.PrefetchCount))

	// Close the connection when ctx ends so workers unblock.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < c.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				if err := c.Handler(ctx, d.Body); err != nil {
					logger.Error("message handling failed",
						slog.String("queue", c.Queue),
						slog.String("error", err.Error()))
				}
				if err := d.Ack(false); err != nil {
					logger.Error("ack failed",
						slog.String("queue", c.Queue),
						slog.String("error", err.Error()))
				}
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("delivery channel closed")
}

// redactedURL strips credentials from an AMQP URL for logging.
func redactedURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "amqp://<unparsed>"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}
