package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESSender delivers campaign email through AWS SESv2.
type SESSender struct {
	client *sesv2.Client
}

// NewSESSender wraps an initialized SESv2 client.
func NewSESSender(client *sesv2.Client) *SESSender {
	return &SESSender{client: client}
}

// Send implements Sender. Platform-level open/click tracking stays off;
// attribution belongs to our own instrumentation.
func (s *SESSender) Send(ctx context.Context, msg OutboundEmail) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.Text != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}
