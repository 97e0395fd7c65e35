package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Notifier is the operator notification hook fired on every dead-letter
// admission. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, entry Entry) error
}

// LogNotifier emits a structured log line per admission. It is the minimum
// notification surface and the default when no alerting topic is configured.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, entry Entry) error {
	n.log.ErrorContext(ctx, "Job dead-lettered",
		"jobId", entry.JobID,
		"entityId", entry.EntityID,
		"kind", entry.Kind,
		"attempts", entry.Attempts,
		"lastError", entry.LastError,
	)
	return nil
}

// SNSAPI is the subset of the SNS client the notifier uses.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes admission summaries to an alerting topic wired to
// email or chat downstream.
type SNSNotifier struct {
	client   SNSAPI
	topicARN string
}

// NewSNSNotifier creates an SNS-based notifier.
func NewSNSNotifier(client SNSAPI, topicARN string) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN}
}

func (n *SNSNotifier) Notify(ctx context.Context, entry Entry) error {
	body, err := json.Marshal(struct {
		JobID     string    `json:"jobId"`
		EntityID  string    `json:"entityId"`
		Kind      string    `json:"kind"`
		Attempts  int       `json:"attempts"`
		LastError string    `json:"lastError"`
		FailedAt  time.Time `json:"failedAt"`
	}{
		JobID:     entry.JobID,
		EntityID:  entry.EntityID,
		Kind:      entry.Kind,
		Attempts:  entry.Attempts,
		LastError: entry.LastError,
		FailedAt:  entry.FailedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(fmt.Sprintf("Transcode job dead-lettered: %s", entry.EntityID)),
		Message:  aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	return nil
}
