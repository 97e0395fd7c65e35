package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/learnstream/vod-pipeline/internal/deadletter"
	"github.com/learnstream/vod-pipeline/internal/metrics"
	"github.com/learnstream/vod-pipeline/internal/store"
	"github.com/learnstream/vod-pipeline/pkg/models"
)

// SQS polling constants
const (
	SQSMaxMessages       = 1
	SQSWaitTimeSeconds   = 20
	SQSVisibilityTimeout = 900 // 15 minutes per extension; a heartbeat renews it while a job runs
)

// visibilityHeartbeat renews the in-flight message's visibility at a third of
// the window, so two renewals can fail before SQS redelivers.
const visibilityHeartbeat = SQSVisibilityTimeout * time.Second / 3

var tracer = otel.Tracer("vod-queue")

// Handler processes a single decoded job. A nil return acknowledges the
// message; an error schedules a redelivery or dead-letters it depending on
// the attempt count and error class.
type Handler interface {
	Process(ctx context.Context, job models.TranscodeJob) error
}

// Consumer polls one work queue and dispatches jobs to a Handler.
type Consumer struct {
	sqsClient   SQSAPI
	queueURL    string
	kind        string
	concurrency int
	policy      RetryPolicy
	handler     Handler
	sink        deadletter.Sink
	entities    store.EntityStore
	log         *slog.Logger
	heartbeat   time.Duration
}

// ConsumerConfig holds consumer dependencies.
type ConsumerConfig struct {
	SQSClient   SQSAPI
	QueueURL    string
	Kind        string
	Concurrency int
	Policy      RetryPolicy
	Handler     Handler
	Sink        deadletter.Sink
	Entities    store.EntityStore
	Logger      *slog.Logger
}

// NewConsumer creates a consumer for one work queue.
func NewConsumer(cfg *ConsumerConfig) *Consumer {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	policy := cfg.Policy
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy
	}
	return &Consumer{
		sqsClient:   cfg.SQSClient,
		queueURL:    cfg.QueueURL,
		kind:        cfg.Kind,
		concurrency: concurrency,
		policy:      policy,
		handler:     cfg.Handler,
		sink:        cfg.Sink,
		entities:    cfg.Entities,
		log:         cfg.Logger,
		heartbeat:   visibilityHeartbeat,
	}
}

// Run polls the queue until the context is cancelled, then drains
// in-flight jobs before returning.
func (c *Consumer) Run(ctx context.Context) {
	c.log.InfoContext(ctx, "Starting queue polling",
		"queueURL", c.queueURL,
		"kind", c.kind,
		"maxConcurrent", c.concurrency,
	)

	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup

	receiveBackoff := backoff.NewExponentialBackOff()

messageLoop:
	for {
		select {
		case <-ctx.Done():
			c.log.InfoContext(ctx, "Waiting for in-progress jobs to complete...")
			wg.Wait()
			c.log.InfoContext(ctx, "All jobs completed, shutting down", "kind", c.kind)
			return
		default:
		}

		result, err := c.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(c.queueURL),
			MaxNumberOfMessages:   SQSMaxMessages,
			WaitTimeSeconds:       SQSWaitTimeSeconds,
			VisibilityTimeout:     SQSVisibilityTimeout,
			MessageAttributeNames: []string{"All"},
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
				sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				continue // Shutting down
			}
			wait := receiveBackoff.NextBackOff()
			c.log.ErrorContext(ctx, "Failed to receive messages",
				"error", err,
				"retryIn", wait,
			)
			time.Sleep(wait)
			continue
		}
		receiveBackoff.Reset()

		for _, msg := range result.Messages {
			select {
			case sem <- struct{}{}:
				wg.Add(1)
				go func(msg sqstypes.Message) {
					defer wg.Done()
					defer func() { <-sem }()

					metrics.ActiveJobs.Inc()
					defer metrics.ActiveJobs.Dec()

					c.handleMessage(ctx, msg)
				}(msg)
			case <-ctx.Done():
				c.log.InfoContext(ctx, "Context cancelled, stopping message processing")
				break messageLoop
			}
		}
	}

	wg.Wait()
}

// handleMessage decodes and processes one delivery, then settles it:
// delete on success, delay redelivery on a retryable failure, dead-letter
// when attempts are exhausted or the error is permanent.
func (c *Consumer) handleMessage(ctx context.Context, msg sqstypes.Message) {
	ctx, span := tracer.Start(ctx, "process-message")
	defer span.End()

	attempt := receiveCount(msg)
	span.SetAttributes(
		attribute.String("job.kind", c.kind),
		attribute.Int("job.attempt", attempt),
	)

	job, err := c.decodeJob(msg)
	if err != nil {
		// A body that cannot be decoded will never succeed on redelivery.
		c.log.ErrorContext(ctx, "Dropping undecodable message",
			"error", err,
			"messageId", safeStringDeref(msg.MessageId),
		)
		c.deadLetter(ctx, msg, job, attempt, err)
		return
	}

	span.SetAttributes(
		attribute.String("entity.id", job.EntityID),
		attribute.String("entity.source_key", job.SourceKey),
	)

	// Encodes routinely outlast a single receive visibility window. Keep
	// renewing it while the job runs, or SQS would redeliver the message
	// mid-flight: a second slot would race this one on the same entity's
	// temp dir and the extra receive would burn the attempt budget.
	stopHeartbeat := c.extendVisibility(ctx, msg)
	err = c.handler.Process(ctx, job)
	stopHeartbeat()

	if err == nil {
		if delErr := c.deleteMessage(ctx, msg); delErr != nil {
			c.log.ErrorContext(ctx, "Failed to delete message", "error", delErr)
		}
		metrics.RecordSuccess(c.kind)
		return
	}

	metrics.RecordFailure(c.kind)
	c.log.ErrorContext(ctx, "Job attempt failed",
		"error", err,
		"entityId", job.EntityID,
		"kind", c.kind,
		"attempt", attempt,
	)

	if c.policy.Exhausted(attempt) || models.IsPermanent(err) {
		c.deadLetter(ctx, msg, job, attempt, err)
		return
	}

	delay := c.policy.Delay(attempt)
	_, cvErr := c.sqsClient.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     msg.ReceiptHandle,
		VisibilityTimeout: int32(delay.Seconds()),
	})
	if cvErr != nil {
		// The message still redelivers when the receive visibility lapses,
		// just without the intended delay.
		c.log.WarnContext(ctx, "Failed to schedule redelivery delay", "error", cvErr)
	}
	metrics.RecordRetry(c.kind)
	c.log.InfoContext(ctx, "Job scheduled for retry",
		"entityId", job.EntityID,
		"attempt", attempt,
		"delay", delay,
	)
}

// deadLetter admits the original delivery to the sink and marks the entity
// failed. The message is only deleted once admission succeeds, so a sink
// outage leads to redelivery rather than job loss.
func (c *Consumer) deadLetter(ctx context.Context, msg sqstypes.Message, job models.TranscodeJob, attempt int, cause error) {
	entry := deadletter.Entry{
		JobID:     messageJobID(msg),
		EntityID:  job.EntityID,
		Kind:      c.kind,
		Payload:   safeStringDeref(msg.Body),
		Attempts:  attempt,
		LastError: cause.Error(),
		FailedAt:  time.Now().UTC(),
	}

	if err := c.sink.Admit(ctx, entry); err != nil {
		c.log.ErrorContext(ctx, "Failed to admit job to dead-letter sink",
			"error", err,
			"entityId", job.EntityID,
			"jobId", entry.JobID,
		)
		return
	}

	c.markFailed(ctx, job.EntityID, cause)

	if err := c.deleteMessage(ctx, msg); err != nil {
		c.log.ErrorContext(ctx, "Failed to delete dead-lettered message", "error", err)
	}
	metrics.RecordDeadLetter(c.kind)
	c.log.ErrorContext(ctx, "Job dead-lettered",
		"entityId", job.EntityID,
		"jobId", entry.JobID,
		"attempts", attempt,
		"error", cause,
	)
}

// markFailed records terminal failure on the entity unless an approval
// already landed; an approved entity keeps its status.
func (c *Consumer) markFailed(ctx context.Context, entityID string, cause error) {
	if entityID == "" || c.entities == nil {
		return
	}

	status, err := c.entities.GetStatus(ctx, entityID)
	if err != nil {
		c.log.WarnContext(ctx, "Failed to read entity status before failing it",
			"entityId", entityID,
			"error", err,
		)
	} else if status == models.StatusApproved {
		c.log.InfoContext(ctx, "Entity already approved, keeping status",
			"entityId", entityID,
			"status", status,
		)
		return
	}

	if err := c.entities.SetFailed(ctx, entityID, cause.Error()); err != nil {
		c.log.ErrorContext(ctx, "Failed to mark entity as failed",
			"entityId", entityID,
			"error", err,
		)
	}
}

// extendVisibility renews the message's visibility timeout on a ticker until
// the returned stop function is called. Stop before settling the message, so
// a late renewal cannot override a redelivery delay. A failed renewal is
// logged and retried on the next tick; the window leaves room for two misses.
func (c *Consumer) extendVisibility(ctx context.Context, msg sqstypes.Message) func() {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(c.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, err := c.sqsClient.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
					QueueUrl:          aws.String(c.queueURL),
					ReceiptHandle:     msg.ReceiptHandle,
					VisibilityTimeout: SQSVisibilityTimeout,
				})
				if err != nil {
					c.log.WarnContext(ctx, "Failed to extend message visibility",
						"error", err,
						"messageId", safeStringDeref(msg.MessageId),
					)
				}
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

func (c *Consumer) decodeJob(msg sqstypes.Message) (models.TranscodeJob, error) {
	var job models.TranscodeJob
	if msg.Body == nil {
		return job, fmt.Errorf("%w: empty message body", models.ErrJobParseFailed)
	}
	if err := json.Unmarshal([]byte(*msg.Body), &job); err != nil {
		return job, fmt.Errorf("%w: %v", models.ErrJobParseFailed, err)
	}
	if err := job.Validate(); err != nil {
		return job, fmt.Errorf("%w: %v", models.ErrJobParseFailed, err)
	}
	return job, nil
}

func (c *Consumer) deleteMessage(ctx context.Context, msg sqstypes.Message) error {
	_, err := c.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	return err
}

// receiveCount reads the delivery attempt number SQS tracks for the
// message. Defaults to 1 when the attribute is missing.
func receiveCount(msg sqstypes.Message) int {
	raw, ok := msg.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func messageJobID(msg sqstypes.Message) string {
	if attr, ok := msg.MessageAttributes[AttrJobID]; ok && attr.StringValue != nil {
		return *attr.StringValue
	}
	return safeStringDeref(msg.MessageId)
}

func safeStringDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
