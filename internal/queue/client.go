package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/learnstream/vod-pipeline/pkg/models"
)

// AttrJobID is the message attribute carrying the stable job identifier
// across redeliveries and into the dead-letter sink.
const AttrJobID = "jobId"

// SQSAPI is the subset of the SQS client the queue package uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Client enqueues transcode jobs onto a work queue.
type Client struct {
	sqsClient SQSAPI
	queueURL  string
	log       *slog.Logger
}

// NewClient creates a queue client for one work queue.
func NewClient(sqsClient SQSAPI, queueURL string, log *slog.Logger) *Client {
	return &Client{
		sqsClient: sqsClient,
		queueURL:  queueURL,
		log:       log,
	}
}

// Enqueue publishes a job and returns its generated job id.
func (c *Client) Enqueue(ctx context.Context, job models.TranscodeJob) (string, error) {
	if err := job.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrJobParseFailed, err)
	}

	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	jobID := uuid.NewString()

	_, err = c.sqsClient.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			AttrJobID: {
				DataType:    aws.String("String"),
				StringValue: aws.String(jobID),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job for entity %s: %w", job.EntityID, err)
	}

	c.log.InfoContext(ctx, "Job enqueued",
		"jobId", jobID,
		"entityId", job.EntityID,
		"sourceKey", job.SourceKey,
	)

	return jobID, nil
}
