package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/joho/godotenv"

	"github.com/learnstream/vod-pipeline/internal/config"
	"github.com/learnstream/vod-pipeline/internal/deadletter"
	"github.com/learnstream/vod-pipeline/internal/worker"
)

// dlqctl inspects and replays dead-lettered transcode jobs. The dead-letter
// queue is never consumed automatically; this tool is the explicit operator
// action the pipeline defers to.

const (
	receiveBatchSize = 10
	peekVisibility   = 15 // seconds; entries reappear shortly after a list
	replayVisibility = 60
	receiveWaitTime  = 2
	defaultListLimit = 50
	operationTimeout = 60 * time.Second
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fatal("load configuration: %v", err)
	}
	if cfg.AWS.DeadLetterQueueURL == "" {
		fatal("DEAD_LETTER_QUEUE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		fatal("load AWS config: %v", err)
	}
	client := sqs.NewFromConfig(awsCfg)

	switch os.Args[1] {
	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		limit := fs.Int("limit", defaultListLimit, "maximum entries to show")
		_ = fs.Parse(os.Args[2:])
		if err := list(ctx, client, cfg.AWS.DeadLetterQueueURL, *limit); err != nil {
			fatal("list: %v", err)
		}
	case "replay":
		fs := flag.NewFlagSet("replay", flag.ExitOnError)
		jobID := fs.String("job", "", "job id to replay (required)")
		target := fs.String("queue", "", "target queue URL (default: derived from the entry's kind)")
		_ = fs.Parse(os.Args[2:])
		if *jobID == "" {
			fs.Usage()
			os.Exit(2)
		}
		if err := replay(ctx, client, cfg, *jobID, *target); err != nil {
			fatal("replay: %v", err)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: dlqctl <command> [flags]")
	fmt.Fprintln(os.Stderr, "  list   [-limit N]                 show dead-lettered jobs")
	fmt.Fprintln(os.Stderr, "  replay -job <id> [-queue <url>]   re-enqueue one job and remove it from the DLQ")
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "dlqctl: "+format+"\n", args...)
	os.Exit(1)
}

// list peeks at dead-lettered entries without removing them. Entries stay
// invisible for a short window after listing, then reappear.
func list(ctx context.Context, client *sqs.Client, queueURL string, limit int) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tENTITY\tKIND\tATTEMPTS\tFAILED AT\tLAST ERROR")

	seen := 0
	for seen < limit {
		out, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(queueURL),
			MaxNumberOfMessages:   receiveBatchSize,
			WaitTimeSeconds:       receiveWaitTime,
			VisibilityTimeout:     peekVisibility,
			MessageAttributeNames: []string{"All"},
		})
		if err != nil {
			return err
		}
		if len(out.Messages) == 0 {
			break
		}

		for _, msg := range out.Messages {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				attr(msg, deadletter.AttrJobID),
				attr(msg, deadletter.AttrEntityID),
				attr(msg, deadletter.AttrKind),
				attr(msg, deadletter.AttrAttempts),
				attr(msg, deadletter.AttrFailedAt),
				attr(msg, deadletter.AttrLastError),
			)
			seen++
		}
	}

	if err := w.Flush(); err != nil {
		return err
	}
	if seen == 0 {
		fmt.Println("dead-letter queue is empty")
	}
	return nil
}

// replay re-enqueues the entry's verbatim payload onto a work queue and
// deletes it from the dead-letter queue.
func replay(ctx context.Context, client *sqs.Client, cfg *config.Config, jobID, target string) error {
	msg, err := findEntry(ctx, client, cfg.AWS.DeadLetterQueueURL, jobID)
	if err != nil {
		return err
	}

	if target == "" {
		switch attr(*msg, deadletter.AttrKind) {
		case worker.KindVideo:
			target = cfg.AWS.VideoQueueURL
		case worker.KindLesson:
			target = cfg.AWS.LessonQueueURL
		}
		if target == "" {
			return fmt.Errorf("cannot derive target queue for job %s, pass -queue", jobID)
		}
	}

	_, err = client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(target),
		MessageBody: msg.Body,
		MessageAttributes: map[string]types.MessageAttributeValue{
			deadletter.AttrJobID: {
				DataType:    aws.String("String"),
				StringValue: aws.String(attr(*msg, deadletter.AttrJobID)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("re-enqueue job %s: %w", jobID, err)
	}

	_, err = client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(cfg.AWS.DeadLetterQueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		return fmt.Errorf("job %s re-enqueued but not removed from the DLQ, it may replay twice: %w", jobID, err)
	}

	fmt.Printf("replayed job %s (entity %s) to %s\n", jobID, attr(*msg, deadletter.AttrEntityID), target)
	return nil
}

func findEntry(ctx context.Context, client *sqs.Client, queueURL, jobID string) (*types.Message, error) {
	for {
		out, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(queueURL),
			MaxNumberOfMessages:   receiveBatchSize,
			WaitTimeSeconds:       receiveWaitTime,
			VisibilityTimeout:     replayVisibility,
			MessageAttributeNames: []string{"All"},
		})
		if err != nil {
			return nil, err
		}
		if len(out.Messages) == 0 {
			return nil, fmt.Errorf("job %s not found in the dead-letter queue", jobID)
		}

		for _, msg := range out.Messages {
			if attr(msg, deadletter.AttrJobID) == jobID {
				return &msg, nil
			}
		}
	}
}

func attr(msg types.Message, name string) string {
	if a, ok := msg.MessageAttributes[name]; ok && a.StringValue != nil {
		return *a.StringValue
	}
	return ""
}
