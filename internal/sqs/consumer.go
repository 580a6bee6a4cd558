// Package sqs consumes engagement events (opens, clicks, replies) from an
// SQS queue fed by the mail provider's event webhook or an SNS topic.
package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/outreach/internal/campaign"
	"github.com/lalithlochan/outreach/internal/db"
	"github.com/lalithlochan/outreach/internal/metrics"
)

const source = "sqs"

type Config struct {
	Region   string
	QueueURL string
	Endpoint string // LocalStack and tests
}

// EngagementEvent is the message body. Events relayed through SNS arrive
// wrapped in a notification envelope and are unwrapped first.
type EngagementEvent struct {
	TrackingID string    `json:"tracking_id"`
	Event      string    `json:"event"`
	At         time.Time `json:"at"`
}

type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

type Recorder interface {
	RecordEngagement(ctx context.Context, trackingID string, event db.EngagementEvent, at time.Time, source string) (bool, error)
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Consumer long-polls the queue and records each event once.
type Consumer struct {
	client   sqsAPI
	queueURL string
	recorder Recorder
	logger   *zap.Logger

	waitSeconds int32
	retryDelay  time.Duration
}

func NewConsumer(ctx context.Context, cfg Config, recorder Recorder, logger *zap.Logger) (*Consumer, error) {
	if cfg.QueueURL == "" {
		return nil, errors.New("sqs queue URL is required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.Info("sqs consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)
	return newConsumer(client, cfg.QueueURL, recorder, logger), nil
}

func newConsumer(client sqsAPI, queueURL string, recorder Recorder, logger *zap.Logger) *Consumer {
	return &Consumer{
		client:      client,
		queueURL:    queueURL,
		recorder:    recorder,
		logger:      logger,
		waitSeconds: 20,
		retryDelay:  5 * time.Second,
	}
}

// Run polls until ctx is cancelled. Receive errors are logged and retried
// after a pause.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("engagement consumer started")
	for {
		if ctx.Err() != nil {
			c.logger.Info("engagement consumer stopping")
			return nil
		}
		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("sqs poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.retryDelay):
			}
		}
	}
}

// Poll receives one batch and handles it. It returns how many messages
// were removed from the queue.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     c.waitSeconds,
		VisibilityTimeout:   60,
	})
	if err != nil {
		return 0, fmt.Errorf("sqs receive failed: %w", err)
	}

	metrics.SetSQSMessagesInFlight(len(out.Messages))
	defer metrics.SetSQSMessagesInFlight(0)

	deleted := 0
	for _, m := range out.Messages {
		if !c.handle(ctx, m) {
			continue
		}
		if err := c.delete(ctx, m); err != nil {
			c.logger.Warn("failed to delete message", zap.String("message_id", aws.ToString(m.MessageId)), zap.Error(err))
			continue
		}
		deleted++
	}
	return deleted, nil
}

// handle reports whether the message is done with. Store errors leave it
// on the queue so it comes back after the visibility timeout.
func (c *Consumer) handle(ctx context.Context, m types.Message) bool {
	msgID := aws.ToString(m.MessageId)

	ev, err := decode(aws.ToString(m.Body))
	if err != nil {
		c.logger.Warn("dropping malformed engagement message", zap.String("message_id", msgID), zap.Error(err))
		return true
	}

	recorded, err := c.recorder.RecordEngagement(ctx, ev.TrackingID, db.EngagementEvent(ev.Event), ev.At, source)
	switch {
	case err == nil:
		c.logger.Debug("engagement event handled",
			zap.String("tracking_id", ev.TrackingID),
			zap.String("event", ev.Event),
			zap.Bool("recorded", recorded),
		)
		return true
	case errors.Is(err, db.ErrNotFound), errors.Is(err, campaign.ErrInvalidInput):
		c.logger.Warn("dropping engagement event",
			zap.String("tracking_id", ev.TrackingID),
			zap.String("event", ev.Event),
			zap.Error(err),
		)
		return true
	default:
		c.logger.Error("failed to record engagement, will retry",
			zap.String("message_id", msgID),
			zap.Error(err),
		)
		return false
	}
}

func decode(body string) (EngagementEvent, error) {
	var env snsEnvelope
	if err := json.Unmarshal([]byte(body), &env); err == nil && env.Type == "Notification" && env.Message != "" {
		body = env.Message
	}

	var ev EngagementEvent
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return ev, fmt.Errorf("invalid message format: %w", err)
	}
	if ev.TrackingID == "" || ev.Event == "" {
		return ev, errors.New("tracking_id and event are required")
	}
	return ev, nil
}

func (c *Consumer) delete(ctx context.Context, m types.Message) error {
	_, err := c.client.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}
