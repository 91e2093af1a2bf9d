package repositories

import (
	"context"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/models"
)

// StudentRepository is read-only, student records are owned by the LMS.
type StudentRepository interface {
	GetByID(ctx context.Context, id string) (*models.Student, error)
	GetByLRN(ctx context.Context, lrn string) (*models.Student, error)
}
