package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/cache"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/events"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/metrics"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/models"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/repositories"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/validator"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AttemptService owns the attempt lifecycle
type AttemptService interface {
	StartOrResume(ctx context.Context, req *StartAttemptRequest) (*AttemptResponse, error)
	SyncProgress(ctx context.Context, sessionID string, req *SyncProgressRequest) (*AttemptResponse, error)
	CompleteAttempt(ctx context.Context, sessionID, responseID string) (*AttemptResponse, error)
	// CompleteAttemptSafely never fails the caller; it reports whether the attempt is now completed.
	CompleteAttemptSafely(ctx context.Context, sessionID, responseID string) bool

	GetAttempt(ctx context.Context, sessionID string) (*AttemptResponse, error)
	ListAttempts(ctx context.Context, req *ListAttemptsRequest) (*AttemptListResponse, error)
}

type AttemptServiceConfig struct {
	Thresholds AbuseThresholds
	// TimeSpentSlack is how far a reported timeSpent may run ahead of wall time
	TimeSpentSlack time.Duration
}

func DefaultAttemptServiceConfig() AttemptServiceConfig {
	return AttemptServiceConfig{
		Thresholds:     DefaultAbuseThresholds(),
		TimeSpentSlack: time.Minute,
	}
}

type attemptService struct {
	repo      repositories.Repository
	cache     *cache.AttemptCache
	publisher events.EventPublisher
	resolver  IdentityResolver
	validator *validator.Validator
	logger    *ServiceLogger
	config    AttemptServiceConfig
	now       func() time.Time
}

func NewAttemptService(
	repo repositories.Repository,
	attemptCache *cache.AttemptCache,
	publisher events.EventPublisher,
	resolver IdentityResolver,
	validator *validator.Validator,
	logger *ServiceLogger,
	config AttemptServiceConfig,
) AttemptService {
	return &attemptService{
		repo:      repo,
		cache:     attemptCache,
		publisher: publisher,
		resolver:  resolver,
		validator: validator,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// ===== CORE ATTEMPT OPERATIONS =====

func (s *attemptService) StartOrResume(ctx context.Context, req *StartAttemptRequest) (resp *AttemptResponse, err error) {
	started := time.Now()
	outcome := ""
	sessionID := ""
	op := s.logger.WithOperation(ctx, "start_or_resume", req.StudentID)
	defer func() {
		if err != nil {
			outcome = operationStatus(err)
		}
		op.LogResult(sessionID, err)
		metrics.ObserveOperation("start_or_resume", outcome, started)
	}()

	// Validate request
	if err = s.validator.Validate(req); err != nil {
		return nil, err
	}

	studentID, err := s.resolver.Resolve(ctx, IdentityInput{
		UserID:          req.AuthenticatedUserID,
		StudentID:       req.StudentID,
		LRN:             req.LRN,
		FormID:          req.FormID,
		InteractionType: req.InteractionType,
	})
	if err != nil {
		return nil, err
	}

	identity := models.AttemptIdentity{
		FormID:       strings.TrimSpace(req.FormID),
		StudentID:    studentID,
		AssignmentID: trimmedOrNil(req.AssignmentID),
	}
	presented := ""
	if req.SessionID != nil {
		presented = strings.TrimSpace(*req.SessionID)
	}

	// A cached attempt only names the session to lock; the resume itself
	// always runs against the store
	lookup := presented
	if lookup == "" {
		if cached, ok := s.cache.Get(ctx, cache.AttemptKey(identity, "")); ok &&
			cached.Status == models.AttemptInProgress {
			lookup = cached.SessionID
		}
	}

	var (
		attempt *models.ExamAttempt
		resumed bool
		raised  []string
		now     = s.now()
	)
	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		if !identity.IsAnonymous() {
			if err := s.repo.Attempt().LockIdentity(ctx, tx, identity); err != nil {
				return fmt.Errorf("failed to lock attempt identity: %w", err)
			}
		}

		existing, err := s.findResumable(ctx, tx, identity, lookup)
		if err != nil {
			return err
		}
		if existing != nil {
			attempt, resumed = existing, true
			raised, err = s.resume(ctx, tx, existing, req, now)
			return err
		}

		attempt, err = s.create(ctx, tx, identity, req, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	sessionID = attempt.SessionID
	if resumed {
		outcome = "resumed"
		s.publish(ctx, events.EventAttemptResumed, attempt, nil)
	} else {
		outcome = "started"
		s.publish(ctx, events.EventAttemptStarted, attempt, nil)
	}
	s.reportFlags(ctx, attempt, raised)
	s.cache.Set(ctx, attempt)

	resp = toAttemptResponse(attempt)
	resp.Resumed = resumed
	return resp, nil
}

func (s *attemptService) SyncProgress(ctx context.Context, sessionID string, req *SyncProgressRequest) (resp *AttemptResponse, err error) {
	started := time.Now()
	op := s.logger.WithOperation(ctx, "sync_progress", nil)
	defer func() {
		op.LogResult(sessionID, err)
		metrics.ObserveOperation("sync_progress", operationStatus(err), started)
	}()

	// Validate request
	if strings.TrimSpace(sessionID) == "" {
		return nil, ValidationErrors{*NewValidationError("sessionId", "is required", nil)}
	}
	if err = s.validator.Validate(req); err != nil {
		return nil, err
	}

	var (
		attempt *models.ExamAttempt
		raised  []string
		now     = s.now()
	)
	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		var err error
		attempt, err = s.repo.Attempt().LockBySessionID(ctx, tx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to load attempt: %w", err)
		}
		if attempt == nil {
			return ErrAttemptNotFound
		}

		raised = s.mergeProgress(attempt, req, now)
		raised = append(raised, s.evaluate(attempt, now)...)

		if err := s.repo.Attempt().Update(ctx, tx, attempt); err != nil {
			return fmt.Errorf("failed to update attempt: %w", err)
		}
		return s.recordSignals(ctx, tx, attempt, raised, now)
	})
	if err != nil {
		return nil, err
	}

	s.reportFlags(ctx, attempt, raised)
	s.cache.Set(ctx, attempt)

	return toAttemptResponse(attempt), nil
}

func (s *attemptService) CompleteAttempt(ctx context.Context, sessionID, responseID string) (resp *AttemptResponse, err error) {
	started := time.Now()
	op := s.logger.WithOperation(ctx, "complete_attempt", nil)
	defer func() {
		op.LogResult(sessionID, err)
		metrics.ObserveOperation("complete_attempt", operationStatus(err), started)
	}()

	responseID = strings.TrimSpace(responseID)
	var errs ValidationErrors
	if strings.TrimSpace(sessionID) == "" {
		errs = append(errs, *NewValidationError("sessionId", "is required", nil))
	}
	if responseID == "" {
		errs = append(errs, *NewValidationError("responseId", "is required", nil))
	}
	if len(errs) > 0 {
		return nil, errs
	}

	var (
		attempt        *models.ExamAttempt
		previousStatus models.AttemptStatus
		alreadyDone    bool
		now            = s.now()
	)
	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		var err error
		attempt, err = s.repo.Attempt().LockBySessionID(ctx, tx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to load attempt: %w", err)
		}
		if attempt == nil {
			return ErrAttemptNotFound
		}

		if attempt.Status == models.AttemptCompleted {
			if attempt.ResponseID != nil && *attempt.ResponseID == responseID {
				alreadyDone = true
				return nil
			}
			return fmt.Errorf("session %s: %w", sessionID, ErrResponseConflict)
		}

		owner, err := s.repo.Attempt().GetByResponseID(ctx, tx, responseID)
		if err != nil {
			return fmt.Errorf("failed to check response ownership: %w", err)
		}
		if owner != nil && owner.ID != attempt.ID {
			return fmt.Errorf("response %s belongs to session %s: %w", responseID, owner.SessionID, ErrResponseConflict)
		}

		previousStatus = attempt.Status
		attempt.Status = models.AttemptCompleted
		attempt.SubmittedAt = &now
		attempt.ResponseID = &responseID
		attempt.LastActivityAt = now

		if err := s.repo.Attempt().Update(ctx, tx, attempt); err != nil {
			return fmt.Errorf("failed to complete attempt: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !alreadyDone {
		s.logger.LogAuditEvent(ctx, AuditEvent{
			Type:      AuditEventUpdate,
			SessionID: attempt.SessionID,
			Action:    "complete",
			OldValue:  previousStatus,
			NewValue:  attempt.Status,
			Timestamp: now,
		})
		s.publish(ctx, events.EventAttemptCompleted, attempt, nil)
	}
	s.cache.Set(ctx, attempt)

	return toAttemptResponse(attempt), nil
}

func (s *attemptService) CompleteAttemptSafely(ctx context.Context, sessionID, responseID string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Logger().Error("Attempt completion panicked",
				"session_id", sessionID,
				"response_id", responseID,
				"panic", r)
			ok = false
		}
	}()

	if _, err := s.CompleteAttempt(ctx, sessionID, responseID); err != nil {
		if IsNotFound(err) || IsConflict(err) || IsValidation(err) {
			s.logger.Logger().Warn("Attempt not completed",
				"session_id", sessionID,
				"response_id", responseID,
				"error", err)
		} else {
			s.logger.Logger().Error("Failed to complete attempt",
				"session_id", sessionID,
				"response_id", responseID,
				"error", err)
		}
		return false
	}
	return true
}

// ===== GET OPERATIONS =====

func (s *attemptService) GetAttempt(ctx context.Context, sessionID string) (*AttemptResponse, error) {
	attempt, err := s.repo.Attempt().GetBySessionID(ctx, nil, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	if attempt == nil {
		return nil, ErrAttemptNotFound
	}

	signals, err := s.repo.Signal().ListByAttempt(ctx, nil, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempt signals: %w", err)
	}
	attempt.Signals = make([]models.AttemptSignal, len(signals))
	for i, signal := range signals {
		attempt.Signals[i] = *signal
	}
	return toAttemptResponse(attempt), nil
}

func (s *attemptService) ListAttempts(ctx context.Context, req *ListAttemptsRequest) (*AttemptListResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	page, size := req.Page, req.Size
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}

	filters := repositories.AttemptFilters{
		FormID:      strings.TrimSpace(req.FormID),
		StudentID:   trimmedOrNil(req.StudentID),
		FlaggedOnly: req.FlaggedOnly,
		Limit:       size,
		Offset:      (page - 1) * size,
		SortBy:      req.SortBy,
		SortOrder:   req.SortOrder,
	}
	if req.Status != "" {
		status := models.AttemptStatus(req.Status)
		filters.Status = &status
	}

	attempts, total, err := s.repo.Attempt().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	// Build response
	responses := make([]*AttemptResponse, len(attempts))
	for i, attempt := range attempts {
		responses[i] = toAttemptResponse(attempt)
	}

	return &AttemptListResponse{
		Attempts: responses,
		Total:    total,
		Page:     page,
		Size:     size,
	}, nil
}

// ===== START HELPERS =====

// findResumable returns the locked IN_PROGRESS attempt the request should
// re-attach to, or nil when a new attempt must be created.
func (s *attemptService) findResumable(ctx context.Context, tx *gorm.DB, identity models.AttemptIdentity, sessionID string) (*models.ExamAttempt, error) {
	if sessionID != "" {
		attempt, err := s.repo.Attempt().LockBySessionID(ctx, tx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load attempt by session: %w", err)
		}
		if attempt != nil && attempt.Status == models.AttemptInProgress && belongsTo(attempt, identity) {
			return attempt, nil
		}
	}

	// Anonymous takers share a tuple, so they only ever resume by session id
	if identity.IsAnonymous() {
		return nil, nil
	}

	active, err := s.repo.Attempt().GetActiveByIdentity(ctx, tx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to find active attempt: %w", err)
	}
	if active == nil {
		return nil, nil
	}

	locked, err := s.repo.Attempt().LockBySessionID(ctx, tx, active.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock active attempt: %w", err)
	}
	if locked == nil || locked.Status != models.AttemptInProgress {
		return nil, nil
	}
	return locked, nil
}

func (s *attemptService) resume(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt, req *StartAttemptRequest, now time.Time) ([]string, error) {
	attempt.ResumeCount++
	attempt.LastActivityAt = now
	if req.UserAgent != "" {
		attempt.UserAgent = req.UserAgent
	}
	if req.IPAddress != "" {
		attempt.IPAddress = req.IPAddress
	}
	if info := req.UserInfo.toModel(); info != nil {
		attempt.UserInfo = info
	}

	raised := s.evaluate(attempt, now)

	if err := s.repo.Attempt().Update(ctx, tx, attempt); err != nil {
		return nil, fmt.Errorf("failed to resume attempt: %w", err)
	}
	if err := s.recordSignals(ctx, tx, attempt, raised, now); err != nil {
		return nil, err
	}
	return raised, nil
}

func (s *attemptService) create(ctx context.Context, tx *gorm.DB, identity models.AttemptIdentity, req *StartAttemptRequest, now time.Time) (*models.ExamAttempt, error) {
	// Anonymous attempts cannot be told apart, so they are always attempt 1
	var prior int64
	if !identity.IsAnonymous() {
		count, err := s.repo.Attempt().CountByIdentity(ctx, tx, identity)
		if err != nil {
			return nil, fmt.Errorf("failed to count attempts: %w", err)
		}
		prior = count
	}

	attempt := &models.ExamAttempt{
		SessionID:       NewSessionID(now),
		FormID:          identity.FormID,
		StudentID:       identity.StudentID,
		AssignmentID:    identity.AssignmentID,
		InteractionType: req.InteractionType,
		Status:          models.AttemptInProgress,
		AttemptNumber:   int(prior) + 1,
		Answers:         datatypes.NewJSONType(models.NewAnswerSet(nil)),
		UserInfo:        req.UserInfo.toModel(),
		StartedAt:       now,
		LastActivityAt:  now,
		UserAgent:       req.UserAgent,
		IPAddress:       req.IPAddress,
	}

	if err := s.repo.Attempt().Create(ctx, tx, attempt); err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	s.logger.LogAuditEvent(ctx, AuditEvent{
		Type:      AuditEventCreate,
		SessionID: attempt.SessionID,
		Action:    "start",
		NewValue:  attempt.AttemptNumber,
		Timestamp: now,
	})
	return attempt, nil
}
