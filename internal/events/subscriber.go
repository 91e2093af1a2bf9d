package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/tidwall/gjson"
)

// Paths tried, in order, when reading a response-created payload. The form
// service has shipped both camelCase and snake_case metadata over time.
var (
	sessionIDPaths  = []string{"metadata.sessionId", "metadata.session_id", "data.metadata.sessionId", "data.metadata.session_id"}
	responseIDPaths = []string{"id", "responseId", "response_id", "data.id", "data.responseId"}
)

// Completer finalizes an attempt without ever failing the caller
type Completer interface {
	CompleteAttemptSafely(ctx context.Context, sessionID, responseID string) bool
}

// ResponseCreated is the part of a "form response created" event this service needs
type ResponseCreated struct {
	ResponseID string
	SessionID  string
}

// ParseResponseCreated extracts the response and session ids from a raw payload.
// ok is false when the payload is not JSON or carries no response id.
func ParseResponseCreated(payload []byte) (ResponseCreated, bool) {
	if !gjson.ValidBytes(payload) {
		return ResponseCreated{}, false
	}

	result := ResponseCreated{
		ResponseID: firstString(payload, responseIDPaths),
		SessionID:  firstString(payload, sessionIDPaths),
	}
	return result, result.ResponseID != ""
}

func firstString(payload []byte, paths []string) string {
	for _, path := range paths {
		if v := gjson.GetBytes(payload, path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// SubscriberConfig holds configuration for the response-created subscriber
type SubscriberConfig struct {
	KafkaBrokers  []string
	TopicName     string
	ConsumerGroup string
	Logger        *slog.Logger
}

// NewKafkaSubscriber creates a Kafka subscriber in the configured consumer group
func NewKafkaSubscriber(config SubscriberConfig) (message.Subscriber, error) {
	subscriber, err := kafka.NewSubscriber(kafka.SubscriberConfig{
		Brokers:               config.KafkaBrokers,
		Unmarshaler:           kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: kafka.DefaultSaramaSubscriberConfig(),
		ConsumerGroup:         config.ConsumerGroup,
	}, watermill.NewSlogLogger(config.Logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka subscriber: %w", err)
	}
	return subscriber, nil
}

// ResponseCreatedConsumer completes attempts when the form service reports a new response
type ResponseCreatedConsumer struct {
	completer Completer
	logger    *slog.Logger
}

func NewResponseCreatedConsumer(completer Completer, logger *slog.Logger) *ResponseCreatedConsumer {
	return &ResponseCreatedConsumer{
		completer: completer,
		logger:    logger,
	}
}

// Handle processes one message. It always acks: completion is best effort and
// a redelivery would not change the outcome.
func (c *ResponseCreatedConsumer) Handle(msg *message.Message) error {
	event, ok := ParseResponseCreated(msg.Payload)
	if !ok {
		c.logger.Warn("Skipping malformed response-created message", "message_uuid", msg.UUID)
		return nil
	}

	// Legacy and unauthenticated submissions have no session
	if event.SessionID == "" {
		c.logger.Debug("Response has no session id, nothing to complete", "response_id", event.ResponseID)
		return nil
	}

	c.completer.CompleteAttemptSafely(msg.Context(), event.SessionID, event.ResponseID)
	return nil
}

// Run consumes topic until ctx is cancelled
func (c *ResponseCreatedConsumer) Run(ctx context.Context, subscriber message.Subscriber, topic string) error {
	router, err := message.NewRouter(message.RouterConfig{}, watermill.NewSlogLogger(c.logger))
	if err != nil {
		return fmt.Errorf("failed to create message router: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)
	router.AddNoPublisherHandler("complete_attempt_on_response", topic, subscriber, c.Handle)

	return router.Run(ctx)
}
