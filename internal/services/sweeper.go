package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/cache"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/events"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/metrics"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/models"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/repositories"
	"github.com/jasonlvhit/gocron"
	"gorm.io/gorm"
)

type SweeperConfig struct {
	// IdleTimeout moves attempts without activity to ABANDONED
	IdleTimeout time.Duration
	// MaxDuration moves attempts started too long ago to EXPIRED
	MaxDuration time.Duration
}

type SweepResult struct {
	Expired   int `json:"expired"`
	Abandoned int `json:"abandoned"`
}

// AttemptSweeper closes IN_PROGRESS attempts that were left behind
type AttemptSweeper struct {
	repo      repositories.Repository
	cache     *cache.AttemptCache
	publisher events.EventPublisher
	logger    *slog.Logger
	config    SweeperConfig
	now       func() time.Time

	// running keeps scheduled runs from overlapping
	running sync.Mutex
}

func NewAttemptSweeper(repo repositories.Repository, attemptCache *cache.AttemptCache, publisher events.EventPublisher, logger *slog.Logger, config SweeperConfig) *AttemptSweeper {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 2 * time.Hour
	}
	if config.MaxDuration <= 0 {
		config.MaxDuration = 24 * time.Hour
	}
	return &AttemptSweeper{
		repo:      repo,
		cache:     attemptCache,
		publisher: publisher,
		logger:    logger.With("component", "attempt_sweeper"),
		config:    config,
		now:       time.Now,
	}
}

// Sweep expires over-long attempts first, then abandons idle ones. The
// updates only match IN_PROGRESS rows, so a concurrent completion wins.
func (s *AttemptSweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	s.running.Lock()
	defer s.running.Unlock()

	now := s.now()
	var expired, abandoned []models.ExamAttempt

	err := s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		var err error
		expired, err = s.repo.Attempt().ExpireStartedBefore(ctx, tx, now.Add(-s.config.MaxDuration))
		if err != nil {
			return fmt.Errorf("failed to expire attempts: %w", err)
		}
		abandoned, err = s.repo.Attempt().AbandonIdleSince(ctx, tx, now.Add(-s.config.IdleTimeout))
		if err != nil {
			return fmt.Errorf("failed to abandon attempts: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.announce(ctx, expired, events.EventAttemptExpired, now)
	s.announce(ctx, abandoned, events.EventAttemptAbandoned, now)

	result := &SweepResult{Expired: len(expired), Abandoned: len(abandoned)}
	if result.Expired > 0 || result.Abandoned > 0 {
		s.logger.Info("Swept stale attempts",
			"expired", result.Expired,
			"abandoned", result.Abandoned)
	}
	return result, nil
}

func (s *AttemptSweeper) announce(ctx context.Context, attempts []models.ExamAttempt, eventType events.EventType, now time.Time) {
	for i := range attempts {
		attempt := &attempts[i]
		metrics.SweepTransitions.WithLabelValues(string(attempt.Status)).Inc()
		s.cache.Invalidate(ctx, attempt)

		if s.publisher == nil {
			continue
		}
		event := events.NewAttemptEvent(eventType, eventDataOf(attempt, nil, now))
		if err := s.publisher.PublishAttemptEvent(ctx, event); err != nil {
			s.logger.Warn("Failed to publish sweep event",
				"event_type", eventType,
				"session_id", attempt.SessionID,
				"error", err)
		}
	}
}

// Start schedules Sweep every intervalMinutes until the returned stop func is called
func (s *AttemptSweeper) Start(ctx context.Context, intervalMinutes uint64) (func(), error) {
	if intervalMinutes == 0 {
		intervalMinutes = 5
	}

	scheduler := gocron.NewScheduler()
	if err := scheduler.Every(intervalMinutes).Minutes().Do(s.runScheduled, ctx); err != nil {
		return nil, fmt.Errorf("failed to schedule sweep: %w", err)
	}
	stopped := scheduler.Start()

	s.logger.Info("Attempt sweeper scheduled", "interval_minutes", intervalMinutes)

	var once sync.Once
	return func() {
		once.Do(func() {
			scheduler.Clear()
			stopped <- true
		})
	}, nil
}

func (s *AttemptSweeper) runScheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if _, err := s.Sweep(runCtx); err != nil {
		s.logger.Error("Scheduled sweep failed", "error", err)
	}
}
