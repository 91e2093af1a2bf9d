package postgres

import (
	"context"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/models"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/repositories"
	"gorm.io/gorm"
)

type SignalPostgreSQL struct {
	db *gorm.DB
}

func NewSignalPostgreSQL(db *gorm.DB) repositories.SignalRepository {
	return &SignalPostgreSQL{db: db}
}

func (s SignalPostgreSQL) CreateBatch(ctx context.Context, tx *gorm.DB, signals []*models.AttemptSignal) error {
	if len(signals) == 0 {
		return nil
	}
	db := s.getDB(tx)
	return db.WithContext(ctx).Create(&signals).Error
}

func (s SignalPostgreSQL) ListByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.AttemptSignal, error) {
	db := s.getDB(tx)
	var signals []*models.AttemptSignal
	if err := db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("created_at ASC").
		Find(&signals).Error; err != nil {
		return nil, err
	}
	return signals, nil
}

func (s SignalPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}
