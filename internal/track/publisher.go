package track

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/phishtrack/internal/pkg/logger"
	"github.com/ignite/phishtrack/internal/recorder"
)

// Event is the fan-out copy of a recorded interaction, consumed by
// downstream reporting and alerting. The durable source of truth is the
// Postgres interaction log; this queue is best-effort enrichment.
type Event struct {
	Kind       recorder.EventKind `json:"kind"`
	Token      string             `json:"token"`
	Meta       recorder.Meta      `json:"meta,omitempty"`
	IPAddress  string             `json:"ip_address"`
	UserAgent  string             `json:"user_agent"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// Publisher ships events to an SQS queue, fire-and-forget.
type Publisher struct {
	client   *sqs.Client
	queueURL string
}

// NewPublisher creates an SQS-backed event publisher.
func NewPublisher(client *sqs.Client, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

// Publish enqueues the event without blocking the tracking response.
// Failures are logged and dropped.
func (p *Publisher) Publish(ctx context.Context, evt Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		logger.Error("marshal tracking event", "error", err.Error())
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			logger.Error("publish tracking event", "error", err.Error())
		}
	}()
}
