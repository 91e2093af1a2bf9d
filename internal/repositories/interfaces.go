package repositories

import (
	"context"
	"time"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/models"
	"gorm.io/gorm"
)

// Repository groups the stores used by the attempt services
type Repository interface {
	Attempt() AttemptRepository
	Signal() SignalRepository
	Student() StudentRepository

	// WithTransaction runs fn inside a single database transaction
	WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ===== SHARED FILTER STRUCTS =====

type AttemptFilters struct {
	FormID      string                `json:"form_id"`
	StudentID   *string               `json:"student_id"`
	Status      *models.AttemptStatus `json:"status"`
	FlaggedOnly bool                  `json:"flagged_only"`
	DateFrom    *time.Time            `json:"date_from"`
	DateTo      *time.Time            `json:"date_to"`
	Limit       int                   `json:"limit"`
	Offset      int                   `json:"offset"`
	SortBy      string                `json:"sort_by"`    // "started_at", "last_activity_at", "attempt_number"
	SortOrder   string                `json:"sort_order"` // "asc", "desc"
}
