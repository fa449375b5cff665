package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// SNSAPI is the subset of the SNS client used for publishing.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes JSON messages to SNS topics identified by ARN.
type SNSPublisher struct {
	client SNSAPI
	logger *zap.Logger
}

func NewSNSPublisher(client SNSAPI, logger *zap.Logger) *SNSPublisher {
	return &SNSPublisher{client: client, logger: logger}
}

func (p *SNSPublisher) Publish(ctx context.Context, topic string, msg Message) error {
	if topic == "" {
		return ErrNoTopic
	}

	body, err := json.Marshal(msg.Body)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", msg.Key, err)
	}

	input := &sns.PublishInput{
		TopicArn:          aws.String(topic),
		Message:           aws.String(string(body)),
		MessageAttributes: make(map[string]types.MessageAttributeValue, len(msg.Attributes)),
	}
	for name, value := range msg.Attributes {
		input.MessageAttributes[name] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(value),
		}
	}
	if strings.HasSuffix(topic, ".fifo") {
		input.MessageGroupId = aws.String(msg.Key)
	}

	out, err := p.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", msg.Key, topic, err)
	}

	p.logger.Debug("Published notification",
		zap.String("topic", topic),
		zap.String("key", msg.Key),
		zap.String("message_id", aws.ToString(out.MessageId)))
	return nil
}
