package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/listing-live/internal/domain"
	"github.com/ignite/listing-live/internal/pkg/logger"
)

// SQSAPI is the subset of the SQS client the consumer and publisher use.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSConsumer is a push source that long-polls one queue per topic. Queue
// bodies are change envelopes.
type SQSConsumer struct {
	client      SQSAPI
	queueURLs   map[domain.Topic]string
	waitSeconds int32
	maxErrors   int
	backoff     time.Duration
}

// NewSQSConsumer creates a consumer. Topics without a queue URL report
// ErrUnsupportedTopic.
func NewSQSConsumer(client SQSAPI, queueURLs map[domain.Topic]string) *SQSConsumer {
	return &SQSConsumer{
		client:      client,
		queueURLs:   queueURLs,
		waitSeconds: 20,
		maxErrors:   3,
		backoff:     5 * time.Second,
	}
}

func (c *SQSConsumer) Name() string { return "sqs" }

// Listen receives until ctx is cancelled. Consecutive receive errors beyond
// the limit end the subscription.
func (c *SQSConsumer) Listen(ctx context.Context, topic domain.Topic, out chan<- []byte) error {
	queueURL := c.queueURLs[topic]
	if queueURL == "" {
		return ErrUnsupportedTopic
	}
	logger.Info("[SQSConsumer] started", "topic", topic, "queue", queueURL)

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		resp, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     c.waitSeconds,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if failures >= c.maxErrors {
				return fmt.Errorf("sqs receive (%d consecutive failures): %w", failures, err)
			}
			logger.Warn("[SQSConsumer] receive error", "topic", topic, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}
		failures = 0

		for _, msg := range resp.Messages {
			if msg.Body == nil {
				c.deleteMessage(ctx, queueURL, msg.ReceiptHandle)
				continue
			}
			if !send(ctx, out, []byte(*msg.Body)) {
				return nil
			}
			// Decoding happens in the adapter; bad bodies are dropped
			// there, so every handed-off message is deleted here.
			c.deleteMessage(ctx, queueURL, msg.ReceiptHandle)
		}
	}
}

func (c *SQSConsumer) deleteMessage(ctx context.Context, queueURL string, handle *string) {
	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: handle,
	}); err != nil && ctx.Err() == nil {
		logger.Warn("[SQSConsumer] delete failed", "queue", queueURL, "error", err)
	}
}
