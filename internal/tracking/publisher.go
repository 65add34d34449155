package tracking

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/listing-live/internal/domain"
)

// Publisher sends change envelopes to a push transport.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// SQSPublisher sends change envelopes to the per-topic queues SQSConsumer
// reads.
type SQSPublisher struct {
	client    SQSAPI
	queueURLs map[domain.Topic]string
}

// NewSQSPublisher creates a publisher.
func NewSQSPublisher(client SQSAPI, queueURLs map[domain.Topic]string) *SQSPublisher {
	return &SQSPublisher{client: client, queueURLs: queueURLs}
}

// Publish sends ev synchronously. Topics without a queue are skipped.
func (p *SQSPublisher) Publish(ctx context.Context, ev domain.Event) error {
	queueURL := p.queueURLs[ev.Topic()]
	if queueURL == "" {
		return nil
	}
	body, err := domain.EncodeChange(ev)
	if err != nil {
		return err
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sqs publish %s: %w", ev.Topic(), err)
	}
	return nil
}

// MultiPublisher publishes to every wrapped publisher and returns the first
// error.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, ev domain.Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
