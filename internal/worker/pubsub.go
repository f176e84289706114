package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Job types carried in the message envelope.
const (
	JobTypeRetrain      = "model_retrain"
	JobTypeCacheRefresh = "cache_refresh"
)

// JobMessage is the envelope for worker jobs.
type JobMessage struct {
	JobType string `json:"job_type"`

	// RequestedBy records the principal that queued the job, for audit
	// logging only.
	RequestedBy string `json:"requested_by,omitempty"`
}

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	retrainJob       *RetrainJob
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	RetrainJob       *RetrainJob
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Retraining holds a message for the length of the run, so allow long
	// extensions but keep only one job in flight.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 1
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		retrainJob:       cfg.RetrainJob,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	var job JobMessage
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		logger.Error().Err(err).Msg("failed to parse message")
		msg.Nack()
		return
	}

	var err error
	switch job.JobType {
	case JobTypeRetrain:
		err = h.handleRetrain(ctx, job)
	case JobTypeCacheRefresh:
		err = h.handleCacheRefresh(ctx)
	default:
		logger.Warn().Str("job_type", job.JobType).Msg("unknown job type")
		msg.Ack() // Ack unknown messages to prevent redelivery
		return
	}

	if err != nil {
		logger.Error().Err(err).Msg("job failed")
		msg.Nack()
		return
	}

	duration := time.Since(startTime)
	logger.Info().
		Str("job_type", job.JobType).
		Dur("duration", duration).
		Msg("job completed successfully")

	msg.Ack()
}

func (h *PubSubHandler) handleRetrain(ctx context.Context, job JobMessage) error {
	h.logger.Info().
		Str("requested_by", job.RequestedBy).
		Msg("starting model retraining")

	result, err := h.retrainJob.Run(ctx)
	if err != nil {
		return err
	}

	h.logger.Info().
		Dur("duration", result.Duration).
		Int("rows", result.Rows).
		Str("pooled_status", string(result.Pooled.Status)).
		Int("seasonal_trained", result.SeasonalTrained).
		Msg("model retraining completed")

	return nil
}

func (h *PubSubHandler) handleCacheRefresh(ctx context.Context) error {
	h.logger.Debug().Msg("refreshing readings cache")
	return h.retrainJob.readings.Refresh(ctx)
}

// Publisher queues worker jobs on a Pub/Sub topic. It backs the API's
// asynchronous retraining mode.
type Publisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topicName string
	logger    zerolog.Logger
}

// PublisherConfig holds configuration for the job publisher.
type PublisherConfig struct {
	ProjectID string
	TopicName string
	Logger    zerolog.Logger
}

// NewPublisher creates a new job publisher.
func NewPublisher(ctx context.Context, cfg PublisherConfig) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	return &Publisher{
		client:    client,
		publisher: client.Publisher(cfg.TopicName),
		topicName: cfg.TopicName,
		logger:    cfg.Logger,
	}, nil
}

// PublishRetrain queues a retraining job and returns the message ID.
func (p *Publisher) PublishRetrain(ctx context.Context) (string, error) {
	data, err := json.Marshal(JobMessage{JobType: JobTypeRetrain})
	if err != nil {
		return "", fmt.Errorf("marshal job message: %w", err)
	}

	result := p.publisher.Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", p.topicName, err)
	}

	p.logger.Info().
		Str("topic", p.topicName).
		Str("message_id", id).
		Msg("retrain job queued")

	return id, nil
}

// Close stops the publisher and closes the client.
func (p *Publisher) Close() error {
	p.publisher.Stop()
	return p.client.Close()
}
