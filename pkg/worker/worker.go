package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"imagetotext/pkg/messaging"
	"imagetotext/pkg/metrics"
)

// ErrBrokerClosed is returned by Run when the delivery channel closes
var ErrBrokerClosed = errors.New("broker delivery channel closed")

// Outcome classifies the result of handling one delivery
type Outcome int

const (
	// Success means the reply was confirmed and the job acked
	Success Outcome = iota
	// Recoverable means the job was rejected to the dead-letter path and the loop continues
	Recoverable
	// Fatal means the loop must stop
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Recoverable:
		return "recoverable"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ImageResolver turns an image handle into base64 content
type ImageResolver interface {
	Resolve(ctx context.Context, handle string) (string, error)
}

// TextExtractor runs OCR on base64 content
type TextExtractor interface {
	Extract(ctx context.Context, base64Image string) (string, error)
}

// Publisher hands a message to the broker and returns once it is confirmed
type Publisher interface {
	Publish(ctx context.Context, queueName string, msg amqp.Publishing) error
}

// Config holds the worker settings
type Config struct {
	ReplyQueue     string
	PublishTimeout time.Duration
}

// OCRWorker consumes image jobs and publishes the extracted text
type OCRWorker struct {
	resolver  ImageResolver
	extractor TextExtractor
	publisher Publisher
	config    Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewOCRWorker creates a new OCR worker. A nil metrics set is replaced by a private one.
func NewOCRWorker(resolver ImageResolver, extractor TextExtractor, publisher Publisher, config Config, m *metrics.Metrics, logger *slog.Logger) *OCRWorker {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OCRWorker{
		resolver:  resolver,
		extractor: extractor,
		publisher: publisher,
		config:    config,
		metrics:   m,
		logger:    logger,
	}
}

// Run processes deliveries one at a time until ctx is cancelled, the
// channel closes, or a fatal error occurs. Cancelling ctx stops intake;
// the delivery in flight still runs to completion.
func (w *OCRWorker) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	w.logger.Info("Waiting for messages...")
	w.metrics.SetReady(true)
	defer w.metrics.SetReady(false)

	inflight := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			w.logger.Info("Stopping consume loop")
			return nil
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Stopping consume loop")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				w.metrics.FatalError()
				return ErrBrokerClosed
			}
			outcome, err := w.HandleDelivery(inflight, d)
			if outcome == Fatal {
				w.metrics.FatalError()
				return err
			}
		}
	}
}

// HandleDelivery runs the pipeline for one delivery and settles it with the broker.
func (w *OCRWorker) HandleDelivery(ctx context.Context, d amqp.Delivery) (Outcome, error) {
	deliveryID := uuid.NewString()
	logger := w.logger.With("delivery_id", deliveryID, "delivery_tag", d.DeliveryTag)
	w.metrics.MessageReceived()

	job, err := messaging.DecodeJob(d.Body)
	if err != nil {
		logger.Error("Rejecting malformed job", "error", err)
		w.metrics.MalformedRejected()
		if rejectErr := d.Reject(false); rejectErr != nil {
			return Fatal, fmt.Errorf("reject delivery %d: %w", d.DeliveryTag, rejectErr)
		}
		return Recoverable, err
	}

	logger = logger.With("chat_id", job.ChatID)
	reply, err := w.ProcessJob(ctx, job)
	if err != nil {
		logger.Error("Job failed, dead-lettering", "file_id", job.Text, "error", err)
		w.metrics.MessageDeadLettered()
		if nackErr := d.Nack(false, false); nackErr != nil {
			return Fatal, fmt.Errorf("nack delivery %d: %w", d.DeliveryTag, nackErr)
		}
		return Recoverable, err
	}

	if err := w.publish(ctx, deliveryID, d.CorrelationId, reply); err != nil {
		logger.Error("Failed to publish reply", "queue", w.config.ReplyQueue, "error", err)
		return Fatal, fmt.Errorf("publish reply for delivery %d: %w", d.DeliveryTag, err)
	}
	w.metrics.ReplyPublished()
	logger.Info("Published message to reply queue", "queue", w.config.ReplyQueue, "text_length", len(reply.Text))

	if err := d.Ack(false); err != nil {
		return Fatal, fmt.Errorf("ack delivery %d: %w", d.DeliveryTag, err)
	}
	return Success, nil
}

// ProcessJob resolves the image, extracts its text and builds the reply.
func (w *OCRWorker) ProcessJob(ctx context.Context, job messaging.JobMessage) (messaging.ReplyMessage, error) {
	start := time.Now()
	base64Image, err := w.resolver.Resolve(ctx, job.Text)
	w.metrics.ObserveStage(metrics.StageResolve, time.Since(start))
	if err != nil {
		return messaging.ReplyMessage{}, fmt.Errorf("resolve image: %w", err)
	}

	start = time.Now()
	text, err := w.extractor.Extract(ctx, base64Image)
	w.metrics.ObserveStage(metrics.StageExtract, time.Since(start))
	if err != nil {
		return messaging.ReplyMessage{}, fmt.Errorf("extract text: %w", err)
	}

	return messaging.NewReply(job, text), nil
}

func (w *OCRWorker) publish(ctx context.Context, messageID, correlationID string, reply messaging.ReplyMessage) error {
	if w.config.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.PublishTimeout)
		defer cancel()
	}

	start := time.Now()
	err := w.publisher.Publish(ctx, w.config.ReplyQueue, amqp.Publishing{
		MessageId:     messageID,
		CorrelationId: correlationID,
		Body:          messaging.EncodeReply(reply),
	})
	w.metrics.ObserveStage(metrics.StagePublish, time.Since(start))
	return err
}
