package deadletter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Entry is a job that exhausted its retry budget. Payload is the original
// queue message body, byte for byte; metadata travels out of band so the
// payload can be replayed verbatim.
type Entry struct {
	JobID     string
	EntityID  string
	Kind      string
	Payload   string
	Attempts  int
	LastError string
	FailedAt  time.Time
}

// Sink receives exhausted jobs for manual inspection and replay.
type Sink interface {
	Admit(ctx context.Context, entry Entry) error
}

// SQSAPI is the subset of the SQS client the sink uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSink persists dead-lettered jobs on a dedicated queue that nothing
// consumes automatically. Each admission also triggers the operator notifier.
type SQSSink struct {
	client   SQSAPI
	queueURL string
	notifier Notifier
	log      *slog.Logger
}

// NewSQSSink creates a sink writing to the given dead-letter queue URL.
func NewSQSSink(client SQSAPI, queueURL string, notifier Notifier, log *slog.Logger) *SQSSink {
	return &SQSSink{
		client:   client,
		queueURL: queueURL,
		notifier: notifier,
		log:      log,
	}
}

// Message attribute names carried alongside the verbatim payload.
const (
	AttrJobID     = "jobId"
	AttrEntityID  = "entityId"
	AttrKind      = "kind"
	AttrAttempts  = "attempts"
	AttrLastError = "lastError"
	AttrFailedAt  = "failedAt"
)

// Admit stores the entry and notifies the operator. A notification failure
// is logged but never fails the admission.
func (s *SQSSink) Admit(ctx context.Context, entry Entry) error {
	_, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(entry.Payload),
		MessageAttributes: map[string]types.MessageAttributeValue{
			AttrJobID:     stringAttr(entry.JobID),
			AttrEntityID:  stringAttr(entry.EntityID),
			AttrKind:      stringAttr(entry.Kind),
			AttrAttempts:  numberAttr(entry.Attempts),
			AttrLastError: stringAttr(truncate(entry.LastError, 1024)),
			AttrFailedAt:  stringAttr(entry.FailedAt.UTC().Format(time.RFC3339)),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to admit job %s to dead-letter queue: %w", entry.JobID, err)
	}

	if s.notifier != nil {
		if notifyErr := s.notifier.Notify(ctx, entry); notifyErr != nil {
			s.log.ErrorContext(ctx, "Dead-letter notification failed",
				"jobId", entry.JobID,
				"entityId", entry.EntityID,
				"error", notifyErr,
			)
		}
	}

	return nil
}

func stringAttr(value string) types.MessageAttributeValue {
	if value == "" {
		value = "-"
	}
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(value),
	}
}

func numberAttr(value int) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("Number"),
		StringValue: aws.String(strconv.Itoa(value)),
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
