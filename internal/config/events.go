package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/events"
)

// EventConfig holds configuration for event publishing and consumption
type EventConfig struct {
	Enabled          bool
	Publisher        string // kafka, noop or mock
	KafkaBrokers     string
	AttemptTopic     string
	ResponseTopic    string
	ConsumerGroup    string
	ConsumeResponses bool
}

func loadEventConfig() EventConfig {
	return EventConfig{
		Enabled:          getEnvBool("EVENTS_ENABLED", true),
		Publisher:        getEnv("EVENTS_PUBLISHER", "kafka"),
		KafkaBrokers:     getEnv("KAFKA_BROKERS", "localhost:9092"),
		AttemptTopic:     getEnv("ATTEMPT_EVENTS_TOPIC", "attempt-events"),
		ResponseTopic:    getEnv("RESPONSE_EVENTS_TOPIC", "form.responses"),
		ConsumerGroup:    getEnv("EVENTS_CONSUMER_GROUP", "attempt-tracking-service"),
		ConsumeResponses: getEnvBool("EVENTS_CONSUME_RESPONSES", true),
	}
}

// GetKafkaBrokers returns Kafka brokers as a slice
func (c *EventConfig) GetKafkaBrokers() []string {
	brokers := strings.Split(c.KafkaBrokers, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}
	return brokers
}

// CreateEventPublisher creates an event publisher based on configuration
func (c *EventConfig) CreateEventPublisher(logger *slog.Logger) (events.EventPublisher, error) {
	if !c.Enabled {
		logger.Info("Event publishing disabled")
		return events.NewNoopEventPublisher(logger), nil
	}

	switch c.Publisher {
	case "kafka":
		logger.Info("Creating Kafka event publisher",
			"brokers", c.KafkaBrokers,
			"topic", c.AttemptTopic)

		return events.NewKafkaEventPublisher(events.PublisherConfig{
			KafkaBrokers: c.GetKafkaBrokers(),
			TopicName:    c.AttemptTopic,
			Logger:       logger,
		})
	case "noop":
		logger.Info("Using no-op event publisher")
		return events.NewNoopEventPublisher(logger), nil
	case "mock":
		// Keeps every event in memory; local runs only
		logger.Warn("Using in-memory mock event publisher")
		return events.NewMockEventPublisher(logger), nil
	default:
		return nil, fmt.Errorf("unknown event publisher %q", c.Publisher)
	}
}

// CreateResponseSubscriberConfig returns the settings for the response-created consumer
func (c *EventConfig) CreateResponseSubscriberConfig(logger *slog.Logger) events.SubscriberConfig {
	return events.SubscriberConfig{
		KafkaBrokers:  c.GetKafkaBrokers(),
		TopicName:     c.ResponseTopic,
		ConsumerGroup: c.ConsumerGroup,
		Logger:        logger,
	}
}
