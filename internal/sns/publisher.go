package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// maxBatch is the SNS PublishBatch entry limit.
const maxBatch = 10

// Outcome is the delivery result carried by an event.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeFailed Outcome = "failed"
)

// EmailOutcome is published once per email that a dispatch pass sent or
// failed.
type EmailOutcome struct {
	EmailID    int64     `json:"email_id"`
	CampaignID int64     `json:"campaign_id"`
	BusinessID int64     `json:"business_id"`
	TrackingID string    `json:"tracking_id"`
	EmailType  string    `json:"email_type"`
	Outcome    Outcome   `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	PublishBatch(ctx context.Context, params *sns.PublishBatchInput, optFns ...func(*sns.Options)) (*sns.PublishBatchOutput, error)
}

// Publisher sends email outcome events to an SNS topic.
type Publisher struct {
	client   snsAPI
	topicARN string
}

// NewPublisher creates an SNS publisher for the given topic
func NewPublisher(ctx context.Context, topicARN string, optFns ...func(*config.LoadOptions) error) (*Publisher, error) {
	if topicARN == "" {
		return nil, errors.New("sns topic ARN is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Publisher{
		client:   sns.NewFromConfig(cfg),
		topicARN: topicARN,
	}, nil
}

// NewPublisherWithEndpoint creates a publisher with custom endpoint (for LocalStack)
func NewPublisherWithEndpoint(ctx context.Context, topicARN, endpoint, region string) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(cfg, func(o *sns.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &Publisher{
		client:   client,
		topicARN: topicARN,
	}, nil
}

func attributes(e EmailOutcome) map[string]types.MessageAttributeValue {
	return map[string]types.MessageAttributeValue{
		"outcome": {
			DataType:    aws.String("String"),
			StringValue: aws.String(string(e.Outcome)),
		},
		"campaign_id": {
			DataType:    aws.String("Number"),
			StringValue: aws.String(strconv.FormatInt(e.CampaignID, 10)),
		},
	}
}

// Publish sends one outcome event and returns the SNS message id.
func (p *Publisher) Publish(ctx context.Context, e EmailOutcome) (string, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal outcome: %w", err)
	}

	result, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(p.topicARN),
		Message:           aws.String(string(payload)),
		MessageAttributes: attributes(e),
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish to SNS: %w", err)
	}
	return aws.ToString(result.MessageId), nil
}

// PublishOutcomes sends events in batches of ten. It returns the number
// published and an error describing any entries SNS rejected.
func (p *Publisher) PublishOutcomes(ctx context.Context, events []EmailOutcome) (int, error) {
	published := 0
	var errs []error

	for start := 0; start < len(events); start += maxBatch {
		end := min(start+maxBatch, len(events))
		n, err := p.publishBatch(ctx, events[start:end])
		published += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return published, errors.Join(errs...)
}

func (p *Publisher) publishBatch(ctx context.Context, events []EmailOutcome) (int, error) {
	entries := make([]types.PublishBatchRequestEntry, len(events))
	for i, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal outcome %d: %w", e.EmailID, err)
		}
		entries[i] = types.PublishBatchRequestEntry{
			Id:                aws.String(strconv.FormatInt(e.EmailID, 10)),
			Message:           aws.String(string(payload)),
			MessageAttributes: attributes(e),
		}
	}

	result, err := p.client.PublishBatch(ctx, &sns.PublishBatchInput{
		TopicArn:                   aws.String(p.topicARN),
		PublishBatchRequestEntries: entries,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to publish batch to SNS: %w", err)
	}
	if len(result.Failed) > 0 {
		return len(result.Successful), fmt.Errorf("partial batch failure: %d of %d events rejected", len(result.Failed), len(events))
	}
	return len(result.Successful), nil
}
