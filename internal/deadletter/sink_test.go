package deadletter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	sent []*sqs.SendMessageInput
	err  error
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, params)
	return &sqs.SendMessageOutput{}, nil
}

type fakeNotifier struct {
	entries []Entry
	err     error
}

func (f *fakeNotifier) Notify(ctx context.Context, entry Entry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func testEntry() Entry {
	return Entry{
		JobID:     "job-1",
		EntityID:  "ent-1",
		Kind:      "video",
		Payload:   `{"entityId":"ent-1","sourceKey":"raw/ent-1.mp4","title":"Intro"}`,
		Attempts:  3,
		LastError: "ffmpeg exited 1",
		FailedAt:  time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestAdmit_SendsVerbatimPayload(t *testing.T) {
	client := &fakeSQS{}
	notifier := &fakeNotifier{}
	sink := NewSQSSink(client, "https://sqs.test/dlq", notifier, slog.New(slog.DiscardHandler))

	entry := testEntry()
	require.NoError(t, sink.Admit(context.Background(), entry))

	require.Len(t, client.sent, 1)
	sent := client.sent[0]
	require.Equal(t, entry.Payload, aws.ToString(sent.MessageBody))
	require.Equal(t, "job-1", aws.ToString(sent.MessageAttributes[AttrJobID].StringValue))
	require.Equal(t, "ent-1", aws.ToString(sent.MessageAttributes[AttrEntityID].StringValue))
	require.Equal(t, "video", aws.ToString(sent.MessageAttributes[AttrKind].StringValue))
	require.Equal(t, "3", aws.ToString(sent.MessageAttributes[AttrAttempts].StringValue))
	require.Equal(t, "ffmpeg exited 1", aws.ToString(sent.MessageAttributes[AttrLastError].StringValue))
	require.Equal(t, "2026-03-14T09:00:00Z", aws.ToString(sent.MessageAttributes[AttrFailedAt].StringValue))

	require.Len(t, notifier.entries, 1)
}

func TestAdmit_EmptyAttributesSubstituted(t *testing.T) {
	client := &fakeSQS{}
	sink := NewSQSSink(client, "https://sqs.test/dlq", nil, slog.New(slog.DiscardHandler))

	entry := testEntry()
	entry.EntityID = ""
	entry.LastError = ""
	require.NoError(t, sink.Admit(context.Background(), entry))

	sent := client.sent[0]
	// SQS rejects empty string attributes.
	require.Equal(t, "-", aws.ToString(sent.MessageAttributes[AttrEntityID].StringValue))
	require.Equal(t, "-", aws.ToString(sent.MessageAttributes[AttrLastError].StringValue))
}

func TestAdmit_LongErrorTruncated(t *testing.T) {
	client := &fakeSQS{}
	sink := NewSQSSink(client, "https://sqs.test/dlq", nil, slog.New(slog.DiscardHandler))

	entry := testEntry()
	entry.LastError = strings.Repeat("x", 5000)
	require.NoError(t, sink.Admit(context.Background(), entry))

	sent := client.sent[0]
	require.Len(t, aws.ToString(sent.MessageAttributes[AttrLastError].StringValue), 1024)
}

func TestAdmit_SendFailure(t *testing.T) {
	client := &fakeSQS{err: errors.New("queue unavailable")}
	notifier := &fakeNotifier{}
	sink := NewSQSSink(client, "https://sqs.test/dlq", notifier, slog.New(slog.DiscardHandler))

	err := sink.Admit(context.Background(), testEntry())
	require.Error(t, err)
	require.Empty(t, notifier.entries, "no notification when admission failed")
}

func TestAdmit_NotifierFailureIsNotFatal(t *testing.T) {
	client := &fakeSQS{}
	notifier := &fakeNotifier{err: errors.New("topic gone")}
	sink := NewSQSSink(client, "https://sqs.test/dlq", notifier, slog.New(slog.DiscardHandler))

	require.NoError(t, sink.Admit(context.Background(), testEntry()))
	require.Len(t, client.sent, 1)
}

type fakeSNS struct {
	published []*sns.PublishInput
}

func (f *fakeSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.published = append(f.published, params)
	return &sns.PublishOutput{}, nil
}

func TestSNSNotifier(t *testing.T) {
	client := &fakeSNS{}
	notifier := NewSNSNotifier(client, "arn:aws:sns:us-west-2:123:alerts")

	require.NoError(t, notifier.Notify(context.Background(), testEntry()))

	require.Len(t, client.published, 1)
	pub := client.published[0]
	require.Equal(t, "arn:aws:sns:us-west-2:123:alerts", aws.ToString(pub.TopicArn))
	require.Contains(t, aws.ToString(pub.Subject), "ent-1")
	require.Contains(t, aws.ToString(pub.Message), `"jobId":"job-1"`)
}
