package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/models"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/repositories"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AttemptPostgreSQL struct {
	db      *gorm.DB
	helpers *SharedHelpers
}

func NewAttemptPostgreSQL(db *gorm.DB) repositories.AttemptRepository {
	return &AttemptPostgreSQL{
		db:      db,
		helpers: NewSharedHelpers(db),
	}
}

func (a AttemptPostgreSQL) Create(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error {
	db := a.getDB(tx)
	return db.WithContext(ctx).Create(attempt).Error
}

func (a AttemptPostgreSQL) Update(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error {
	db := a.getDB(tx)
	return db.WithContext(ctx).Omit(clause.Associations).Save(attempt).Error
}

func (a AttemptPostgreSQL) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID string) (*models.ExamAttempt, error) {
	db := a.getDB(tx)
	var attempt models.ExamAttempt
	if err := db.WithContext(ctx).Where("session_id = ?", sessionID).First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

func (a AttemptPostgreSQL) GetByResponseID(ctx context.Context, tx *gorm.DB, responseID string) (*models.ExamAttempt, error) {
	db := a.getDB(tx)
	var attempt models.ExamAttempt
	if err := db.WithContext(ctx).Where("response_id = ?", responseID).First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

func (a AttemptPostgreSQL) LockBySessionID(ctx context.Context, tx *gorm.DB, sessionID string) (*models.ExamAttempt, error) {
	db := a.getDB(tx)
	var attempt models.ExamAttempt
	if err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("session_id = ?", sessionID).
		First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

func (a AttemptPostgreSQL) GetActiveByIdentity(ctx context.Context, tx *gorm.DB, identity models.AttemptIdentity) (*models.ExamAttempt, error) {
	db := a.getDB(tx)
	var attempt models.ExamAttempt
	query := a.helpers.ApplyIdentity(db.WithContext(ctx).Model(&models.ExamAttempt{}), identity)
	if err := query.
		Where("status = ?", models.AttemptInProgress).
		Order("last_activity_at DESC").
		First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

func (a AttemptPostgreSQL) CountByIdentity(ctx context.Context, tx *gorm.DB, identity models.AttemptIdentity) (int64, error) {
	db := a.getDB(tx)
	var count int64
	query := a.helpers.ApplyIdentity(db.WithContext(ctx).Model(&models.ExamAttempt{}), identity)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (a AttemptPostgreSQL) LockIdentity(ctx context.Context, tx *gorm.DB, identity models.AttemptIdentity) error {
	db := a.getDB(tx)
	return db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", identity.Key()).Error
}

func (a AttemptPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.ExamAttempt, int64, error) {
	db := a.getDB(tx)
	var attempts []*models.ExamAttempt
	var total int64

	// apply filter first
	query := db.WithContext(ctx).Model(&models.ExamAttempt{})
	query = a.helpers.ApplyAttemptFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// then apply pagination and sorting
	query = a.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)

	if err := query.Find(&attempts).Error; err != nil {
		return nil, 0, err
	}

	return attempts, total, nil
}

func (a AttemptPostgreSQL) ExpireStartedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]models.ExamAttempt, error) {
	return a.transitionStale(ctx, tx, models.AttemptExpired, "started_at < ?", cutoff)
}

func (a AttemptPostgreSQL) AbandonIdleSince(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]models.ExamAttempt, error) {
	return a.transitionStale(ctx, tx, models.AttemptAbandoned, "last_activity_at < ?", cutoff)
}

// transitionStale moves matching IN_PROGRESS rows to status in one statement
// and returns the rows as updated.
func (a AttemptPostgreSQL) transitionStale(ctx context.Context, tx *gorm.DB, status models.AttemptStatus, cond string, cutoff time.Time) ([]models.ExamAttempt, error) {
	db := a.getDB(tx)
	var updated []models.ExamAttempt
	err := db.WithContext(ctx).
		Model(&updated).
		Clauses(clause.Returning{}).
		Where("status = ?", models.AttemptInProgress).
		Where(cond, cutoff).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (a AttemptPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}
