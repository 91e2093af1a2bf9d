package repositories

import (
	"context"
	"time"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/models"
	"gorm.io/gorm"
)

// AttemptRepository interface for exam attempt operations.
// Lookups return (nil, nil) when no row matches.
type AttemptRepository interface {
	// Basic operations
	Create(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error
	Update(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error
	GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID string) (*models.ExamAttempt, error)
	GetByResponseID(ctx context.Context, tx *gorm.DB, responseID string) (*models.ExamAttempt, error)

	// LockBySessionID loads the row with a row-level write lock held until tx ends.
	LockBySessionID(ctx context.Context, tx *gorm.DB, sessionID string) (*models.ExamAttempt, error)

	// Identity tuple operations
	GetActiveByIdentity(ctx context.Context, tx *gorm.DB, identity models.AttemptIdentity) (*models.ExamAttempt, error)
	CountByIdentity(ctx context.Context, tx *gorm.DB, identity models.AttemptIdentity) (int64, error)
	// LockIdentity serializes starts for one tuple until tx ends.
	LockIdentity(ctx context.Context, tx *gorm.DB, identity models.AttemptIdentity) error

	// Query operations
	List(ctx context.Context, tx *gorm.DB, filters AttemptFilters) ([]*models.ExamAttempt, int64, error)

	// Sweep operations, only IN_PROGRESS rows are touched
	ExpireStartedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]models.ExamAttempt, error)
	AbandonIdleSince(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]models.ExamAttempt, error)
}

// SignalRepository stores the abuse signal audit trail
type SignalRepository interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, signals []*models.AttemptSignal) error
	ListByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.AttemptSignal, error)
}
