package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"imagetotext/pkg/apperr"
)

// ErrNotConfirmed is returned when the broker nacks a published message
var ErrNotConfirmed = errors.New("publish not confirmed by broker")

// RabbitMQ represents a RabbitMQ connection and channel
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  chan *amqp.Error
}

// NewRabbitMQ creates a new RabbitMQ connection
func NewRabbitMQ(url string) (*RabbitMQ, error) {
	// Connect to RabbitMQ
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, apperr.Transport("rabbitmq dial", err)
	}

	// Create a channel
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// Enable publish confirmations
	if err := channel.Confirm(false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publish confirmations: %w", err)
	}

	return &RabbitMQ{
		conn:    conn,
		channel: channel,
		closed:  conn.NotifyClose(make(chan *amqp.Error, 1)),
	}, nil
}

// DialWithRetry retries NewRabbitMQ with exponential backoff until it
// succeeds, attempts run out, or ctx is cancelled.
func DialWithRetry(ctx context.Context, url string, attempts int, backoff time.Duration, logger *slog.Logger) (*RabbitMQ, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		mq, err := NewRabbitMQ(url)
		if err == nil {
			return mq, nil
		}
		lastErr = err
		if i == attempts {
			break
		}

		logger.Warn("RabbitMQ connection failed, retrying", "attempt", i, "max_attempts", attempts, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, lastErr)
}

// DeclareQueue declares a durable queue
func (r *RabbitMQ) DeclareQueue(name string, args amqp.Table) error {
	_, err := r.channel.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		args,  // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}

// DeadLetterArgs routes rejected messages to deadLetterQueue through the default exchange
func DeadLetterArgs(deadLetterQueue string) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": deadLetterQueue,
	}
}

// Publish sends msg to queueName through the default exchange and waits
// for the broker confirm.
func (r *RabbitMQ) Publish(ctx context.Context, queueName string, msg amqp.Publishing) error {
	msg.ContentType = "application/json"
	msg.DeliveryMode = amqp.Persistent
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	confirmation, err := r.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		"",        // exchange
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		msg,
	)
	if err != nil {
		return apperr.Transport("rabbitmq publish", err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return apperr.Transport("rabbitmq confirm", err)
	}
	if !acked {
		return ErrNotConfirmed
	}
	return nil
}

// Consume registers a manual-ack consumer with a prefetch of one
func (r *RabbitMQ) Consume(queueName, consumerTag string) (<-chan amqp.Delivery, error) {
	err := r.channel.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := r.channel.Consume(
		queueName,   // queue
		consumerTag, // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}
	return msgs, nil
}

// NotifyClose yields the error that closed the connection, if any
func (r *RabbitMQ) NotifyClose() <-chan *amqp.Error {
	return r.closed
}

// Close closes the RabbitMQ connection and channel
func (r *RabbitMQ) Close() {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}
}
