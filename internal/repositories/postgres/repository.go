package postgres

import (
	"context"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/models"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/repositories"
	"gorm.io/gorm"
)

type repository struct {
	db      *gorm.DB
	attempt repositories.AttemptRepository
	signal  repositories.SignalRepository
	student repositories.StudentRepository
}

// NewRepository wires the postgres implementations behind repositories.Repository
func NewRepository(db *gorm.DB) repositories.Repository {
	return &repository{
		db:      db,
		attempt: NewAttemptPostgreSQL(db),
		signal:  NewSignalPostgreSQL(db),
		student: NewStudentPostgreSQL(db),
	}
}

func (r *repository) Attempt() repositories.AttemptRepository { return r.attempt }
func (r *repository) Signal() repositories.SignalRepository   { return r.signal }
func (r *repository) Student() repositories.StudentRepository { return r.student }

func (r *repository) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// AutoMigrate creates or updates the tables owned by this service
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ExamAttempt{},
		&models.AttemptSignal{},
		&models.Student{},
	)
}
