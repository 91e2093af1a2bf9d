package config

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateEventPublisher(t *testing.T) {
	logger := discardLogger()

	t.Run("disabled drops events", func(t *testing.T) {
		cfg := EventConfig{Enabled: false, Publisher: "kafka"}
		publisher, err := cfg.CreateEventPublisher(logger)
		require.NoError(t, err)
		assert.IsType(t, &events.NoopEventPublisher{}, publisher)
	})

	t.Run("noop", func(t *testing.T) {
		cfg := EventConfig{Enabled: true, Publisher: "noop"}
		publisher, err := cfg.CreateEventPublisher(logger)
		require.NoError(t, err)
		assert.IsType(t, &events.NoopEventPublisher{}, publisher)
	})

	t.Run("mock only on request", func(t *testing.T) {
		cfg := EventConfig{Enabled: true, Publisher: "mock"}
		publisher, err := cfg.CreateEventPublisher(logger)
		require.NoError(t, err)
		assert.IsType(t, &events.MockEventPublisher{}, publisher)
	})

	t.Run("unknown publisher is an error", func(t *testing.T) {
		cfg := EventConfig{Enabled: true, Publisher: "rabbit"}
		publisher, err := cfg.CreateEventPublisher(logger)
		assert.Error(t, err)
		assert.Nil(t, publisher)
	})
}

func TestNoopEventPublisherKeepsNothing(t *testing.T) {
	publisher := events.NewNoopEventPublisher(discardLogger())
	for i := 0; i < 100; i++ {
		event := events.NewAttemptEvent(events.EventAttemptStarted, events.AttemptEventData{SessionID: "s"})
		assert.NoError(t, publisher.PublishAttemptEvent(context.Background(), event))
	}
	assert.NoError(t, publisher.Close())
}
