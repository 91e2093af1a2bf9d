package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/events"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/metrics"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NewSessionID builds "session_{unixMillis}_{12 random hex chars}"
func NewSessionID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("session_%d_%s", now.UnixMilli(), random[:12])
}

// ===== MERGE HELPERS =====

// mergeProgress folds a sync into the stored attempt and returns the reasons
// the client reported that were not recorded yet. Terminal attempts keep
// their submitted payload; only counters and flags move.
func (s *attemptService) mergeProgress(attempt *models.ExamAttempt, req *SyncProgressRequest, now time.Time) []string {
	if attempt.Status == models.AttemptInProgress {
		attempt.CurrentQuestion = req.CurrentQuestion
		attempt.TotalQuestions = req.TotalQuestions
		if req.Answers != nil {
			attempt.Answers = datatypes.NewJSONType(models.NewAnswerSet(req.Answers))
		}
		if info := req.UserInfo.toModel(); info != nil {
			attempt.UserInfo = info
		}
		attempt.LastActivityAt = now
	}

	attempt.TimeSpent = max(attempt.TimeSpent, s.clampTimeSpent(attempt, req.TimeSpent, now))
	attempt.FocusLossCount = max(attempt.FocusLossCount, req.FocusLossCount)

	return mergeSignals(attempt, req.SuspiciousSignals, now)
}

// clampTimeSpent bounds a reported timeSpent by the wall time since start plus slack
func (s *attemptService) clampTimeSpent(attempt *models.ExamAttempt, reported int, now time.Time) int {
	slack := max(s.config.TimeSpentSlack, 0)
	bound := now.Sub(attempt.StartedAt) + slack
	if bound < 0 {
		return 0
	}
	limit := int(bound / time.Second)
	if reported > limit {
		return limit
	}
	return reported
}

func mergeSignals(attempt *models.ExamAttempt, signals *SuspiciousSignals, now time.Time) []string {
	if signals == nil {
		return nil
	}

	flags := ensureFlags(attempt)
	flags.DevToolsDetected = flags.DevToolsDetected || signals.DevToolsDetected
	flags.CopyPasteCount = max(flags.CopyPasteCount, signals.CopyPasteCount)

	// Client reasons beyond the per-attempt allowance are dropped
	room := models.MaxClientReasons - flags.ClientReasonCount()
	reasons := make([]string, 0, len(signals.Reasons))
	for _, r := range signals.Reasons {
		r = strings.TrimSpace(r)
		if r == "" || flags.HasReason(r) || slices.Contains(reasons, r) {
			continue
		}
		if !models.IsEvaluatedReason(r) {
			if room <= 0 {
				continue
			}
			room--
		}
		reasons = append(reasons, r)
	}
	return recordReasons(attempt, reasons, now)
}

// evaluate runs the abuse evaluator and records its new reasons on the attempt
func (s *attemptService) evaluate(attempt *models.ExamAttempt, now time.Time) []string {
	var recorded []string
	if attempt.SuspiciousFlags != nil {
		recorded = attempt.SuspiciousFlags.Reasons
	}
	decision := EvaluateAbuse(CountersOf(attempt), recorded, s.config.Thresholds)
	return recordReasons(attempt, decision.NewReasons, now)
}

// recordReasons appends reasons not yet present. flaggedAt is set on the first flag only.
func recordReasons(attempt *models.ExamAttempt, reasons []string, now time.Time) []string {
	if len(reasons) == 0 {
		return nil
	}

	flags := ensureFlags(attempt)
	var added []string
	for _, reason := range reasons {
		if flags.HasReason(reason) {
			continue
		}
		flags.Reasons = append(flags.Reasons, reason)
		added = append(added, reason)
	}
	if len(added) > 0 && flags.FlaggedAt == nil {
		flaggedAt := now
		flags.FlaggedAt = &flaggedAt
	}
	return added
}

func ensureFlags(attempt *models.ExamAttempt) *models.SuspiciousFlags {
	if attempt.SuspiciousFlags == nil {
		attempt.SuspiciousFlags = &models.SuspiciousFlags{
			SchemaVersion: models.SuspiciousFlagsSchemaVersion,
			Reasons:       []string{},
		}
	}
	return attempt.SuspiciousFlags
}

// belongsTo reports whether the attempt carries the full identity tuple
func belongsTo(attempt *models.ExamAttempt, identity models.AttemptIdentity) bool {
	return attempt.FormID == identity.FormID &&
		sameString(attempt.StudentID, identity.StudentID) &&
		sameString(attempt.AssignmentID, identity.AssignmentID)
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ===== SIGNAL AND EVENT HELPERS =====

func (s *attemptService) recordSignals(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt, reasons []string, now time.Time) error {
	if len(reasons) == 0 {
		return nil
	}

	counters, err := json.Marshal(CountersOf(attempt))
	if err != nil {
		return fmt.Errorf("failed to encode signal counters: %w", err)
	}

	signals := make([]*models.AttemptSignal, len(reasons))
	for i, reason := range reasons {
		signals[i] = &models.AttemptSignal{
			AttemptID: attempt.ID,
			SessionID: attempt.SessionID,
			Reason:    reason,
			Counters:  datatypes.JSON(counters),
			UserAgent: attempt.UserAgent,
			IPAddress: attempt.IPAddress,
			CreatedAt: now,
		}
	}

	if err := s.repo.Signal().CreateBatch(ctx, tx, signals); err != nil {
		return fmt.Errorf("failed to record abuse signals: %w", err)
	}
	return nil
}

// reportFlags logs, counts and publishes newly raised reasons
func (s *attemptService) reportFlags(ctx context.Context, attempt *models.ExamAttempt, reasons []string) {
	if len(reasons) == 0 {
		return
	}

	severity := SecuritySeverityMedium
	for _, reason := range reasons {
		metrics.AbuseFlags.WithLabelValues(reason).Inc()
		if reason == models.ReasonDevToolsDetected {
			severity = SecuritySeverityHigh
		}
	}

	counters := CountersOf(attempt)
	s.logger.LogSecurityEvent(ctx, SecurityEvent{
		Type:        SecurityEventSuspiciousActivity,
		Severity:    severity,
		StudentID:   attempt.StudentID,
		SessionID:   attempt.SessionID,
		Description: fmt.Sprintf("attempt flagged: %s", strings.Join(reasons, ", ")),
		Timestamp:   s.now(),
		IPAddress:   attempt.IPAddress,
		UserAgent:   attempt.UserAgent,
		Metadata: map[string]interface{}{
			"form_id":          attempt.FormID,
			"resume_count":     counters.ResumeCount,
			"focus_loss_count": counters.FocusLossCount,
			"copy_paste_count": counters.CopyPasteCount,
		},
	})

	s.publish(ctx, events.EventAttemptFlagged, attempt, reasons)
}

func (s *attemptService) publish(ctx context.Context, eventType events.EventType, attempt *models.ExamAttempt, reasons []string) {
	if s.publisher == nil {
		return
	}
	event := events.NewAttemptEvent(eventType, eventDataOf(attempt, reasons, s.now()))
	if err := s.publisher.PublishAttemptEvent(ctx, event); err != nil {
		s.logger.Logger().Warn("Failed to publish attempt event",
			"event_type", eventType,
			"session_id", attempt.SessionID,
			"error", err)
	}
}

func eventDataOf(attempt *models.ExamAttempt, reasons []string, now time.Time) events.AttemptEventData {
	return events.AttemptEventData{
		SessionID:       attempt.SessionID,
		FormID:          attempt.FormID,
		StudentID:       attempt.StudentID,
		AssignmentID:    attempt.AssignmentID,
		InteractionType: string(attempt.InteractionType),
		Status:          string(attempt.EffectiveStatus()),
		AttemptNumber:   attempt.AttemptNumber,
		ResumeCount:     attempt.ResumeCount,
		FocusLossCount:  attempt.FocusLossCount,
		TimeSpent:       attempt.TimeSpent,
		ResponseID:      attempt.ResponseID,
		Reasons:         reasons,
		OccurredAt:      now,
	}
}
