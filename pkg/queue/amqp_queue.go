package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const attemptsHeader = "x-attempts"

// AMQPQueue publishes ingest tasks to a durable RabbitMQ queue. It keeps no
// per-job status, so it does not implement Tracker.
type AMQPQueue struct {
	conn       *amqp.Connection
	mu         sync.Mutex
	pub        *amqp.Channel
	name       string
	maxRetries int
	logger     *slog.Logger
}

type AMQPQueueConfig struct {
	URL        string
	Queue      string
	MaxRetries int
	Logger     *slog.Logger
}

// NewAMQPQueue dials the broker and declares the durable queue.
func NewAMQPQueue(cfg AMQPQueueConfig) (*AMQPQueue, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	name := strings.TrimSpace(cfg.Queue)
	if name == "" {
		name = "agrisense.ingest"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", name, err)
	}
	return &AMQPQueue{conn: conn, pub: ch, name: name, maxRetries: maxRetries, logger: logger}, nil
}

func (q *AMQPQueue) Enqueue(ctx context.Context, task Task) (Job, error) {
	if err := validateTask(task); err != nil {
		return Job{}, err
	}
	if err := q.publish(ctx, task, 0); err != nil {
		return Job{}, err
	}
	now := time.Now().UTC()
	return Job{Task: task, Status: StatusQueued, CreatedAt: now, UpdatedAt: now}, nil
}

func (q *AMQPQueue) publish(ctx context.Context, task Task, attempts int) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	err = q.pub.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    task.DocumentID,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{attemptsHeader: int32(attempts)},
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish ingest task: %w", err)
	}
	return nil
}

// Run consumes with manual acks. A failed delivery is republished with an
// incremented attempt count until maxRetries, then dropped and logged.
func (q *AMQPQueue) Run(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	deliveries, err := ch.Consume(q.name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.name, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					q.handleDelivery(ctx, d, handler)
				}
			}
		}()
	}
	wg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return errors.New("amqp delivery channel closed")
}

func (q *AMQPQueue) handleDelivery(ctx context.Context, d amqp.Delivery, handler Handler) {
	var task Task
	if err := json.Unmarshal(d.Body, &task); err != nil || validateTask(task) != nil {
		q.logger.Warn("dropping malformed ingest task", "message_id", d.MessageId)
		_ = d.Ack(false)
		return
	}
	attempts := attemptsFromHeaders(d.Headers) + 1
	job := Job{Task: task, Status: StatusProcessing, Attempts: attempts, CreatedAt: d.Timestamp, UpdatedAt: time.Now().UTC()}
	_, err := handler(ctx, job)
	if err == nil {
		_ = d.Ack(false)
		return
	}
	if attempts >= q.maxRetries || !Retryable(err) {
		q.logger.Error("ingest job failed", "document_id", task.DocumentID, "attempts", attempts, "err", err)
		_ = d.Ack(false)
		return
	}
	if perr := q.publish(ctx, task, attempts); perr != nil {
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func (q *AMQPQueue) Close() error {
	return q.conn.Close()
}

func attemptsFromHeaders(h amqp.Table) int {
	switch v := h[attemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	}
	return 0
}
