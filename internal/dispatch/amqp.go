package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultPublishRetries = 3
	defaultPublishBackoff = 200 * time.Millisecond
	dialAttempts          = 5
	dialBackoff           = 2 * time.Second
)

// Dial connects to the broker, retrying a few times while it comes up.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*amqp.Connection, error) {
	var err error
	for i := 0; i < dialAttempts; i++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("broker not reachable, retrying", "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialBackoff):
		}
	}
	return nil, fmt.Errorf("dial broker: %w", err)
}

func declareQueue(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	return err
}

// publisher is the part of *amqp.Channel the publisher uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher sends jobs to a durable queue as persistent messages.
type AMQPPublisher struct {
	mu      sync.Mutex
	ch      publisher
	closer  func() error
	queue   string
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

func NewAMQPPublisher(conn *amqp.Connection, queue string, logger *slog.Logger) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareQueue(ch, queue); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	p := newPublisher(ch, queue, logger)
	p.closer = ch.Close
	return p, nil
}

func newPublisher(ch publisher, queue string, logger *slog.Logger) *AMQPPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPPublisher{
		ch:      ch,
		queue:   queue,
		retries: defaultPublishRetries,
		backoff: defaultPublishBackoff,
		logger:  logger,
	}
}

// Dispatch publishes job, retrying with exponential backoff.
func (p *AMQPPublisher) Dispatch(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.TaskID,
		Timestamp:    time.Now(),
		Body:         body,
	}

	delay := p.backoff
	for attempt := 0; ; attempt++ {
		p.mu.Lock()
		err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg)
		p.mu.Unlock()
		if err == nil {
			return nil
		}
		if attempt >= p.retries {
			return fmt.Errorf("publish job %s: %w", job.TaskID, err)
		}
		p.logger.Warn("publish failed, retrying", "task_id", job.TaskID, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (p *AMQPPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

// AMQPConsumer feeds queued jobs to a Handler with manual acks.
type AMQPConsumer struct {
	ch      *amqp.Channel
	queue   string
	workers int
	handler Handler
	failer  Failer
	logger  *slog.Logger
}

func NewAMQPConsumer(conn *amqp.Connection, queue string, workers int, handler Handler, failer Failer, logger *slog.Logger) (*AMQPConsumer, error) {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareQueue(ch, queue); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.Qos(workers, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}
	return &AMQPConsumer{ch: ch, queue: queue, workers: workers, handler: handler, failer: failer, logger: logger}, nil
}

// Start consumes until ctx is cancelled or the channel closes.
func (c *AMQPConsumer) Start(ctx context.Context) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	c.logger.Info("consumer started", "queue", c.queue, "workers", c.workers)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-msgs:
					if !ok {
						return
					}
					c.deliver(ctx, d)
				}
			}
		}()
	}
	wg.Wait()
	c.logger.Info("consumer stopped", "queue", c.queue)
	return c.ch.Close()
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *AMQPConsumer) deliver(ctx context.Context, d amqp.Delivery) {
	handleDelivery(ctx, d.Body, d, c.handler, c.failer, c.logger)
}

// handleDelivery drops malformed messages and acks everything else: a
// handler error has already been recorded on the task row. A job cut short
// by shutdown is requeued; if its task already reached a terminal state the
// redelivery is a no-op.
func handleDelivery(ctx context.Context, body []byte, ack acknowledger, h Handler, f Failer, logger *slog.Logger) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		logger.Warn("dropping malformed job", "error", err)
		ack.Nack(false, false)
		return
	}
	if err := job.Validate(); err != nil {
		logger.Warn("dropping invalid job", "error", err)
		ack.Nack(false, false)
		return
	}
	if err := runJob(ctx, h, f, job, logger); err != nil {
		if ctx.Err() != nil {
			logger.Info("requeueing job interrupted by shutdown", "task_id", job.TaskID, "kind", job.Kind)
			ack.Nack(false, true)
			return
		}
		logger.Warn("job finished with error", "task_id", job.TaskID, "kind", job.Kind, "error", err)
	}
	ack.Ack(false)
}
