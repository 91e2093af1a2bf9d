package postgres

import (
	"strings"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/models"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/repositories"
	"gorm.io/gorm"
)

// SharedHelpers holds query builders reused by the postgres repositories
type SharedHelpers struct {
	db *gorm.DB
}

func NewSharedHelpers(db *gorm.DB) *SharedHelpers {
	return &SharedHelpers{db: db}
}

var attemptSortColumns = map[string]string{
	"started_at":       "started_at",
	"last_activity_at": "last_activity_at",
	"attempt_number":   "attempt_number",
	"created_at":       "created_at",
}

// ApplyIdentity restricts query to one (form, student, assignment) tuple.
// NULL members must match NULL, not any value.
func (h *SharedHelpers) ApplyIdentity(query *gorm.DB, identity models.AttemptIdentity) *gorm.DB {
	query = query.Where("form_id = ?", identity.FormID)
	if identity.StudentID != nil {
		query = query.Where("student_id = ?", *identity.StudentID)
	} else {
		query = query.Where("student_id IS NULL")
	}
	if identity.AssignmentID != nil {
		query = query.Where("assignment_id = ?", *identity.AssignmentID)
	} else {
		query = query.Where("assignment_id IS NULL")
	}
	return query
}

func (h *SharedHelpers) ApplyAttemptFilters(query *gorm.DB, filters repositories.AttemptFilters) *gorm.DB {
	if filters.FormID != "" {
		query = query.Where("form_id = ?", filters.FormID)
	}
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if filters.Status != nil {
		if *filters.Status == models.AttemptSuspicious {
			// overlay status, not stored
			query = query.Where("status = ?", models.AttemptInProgress)
			filters.FlaggedOnly = true
		} else {
			query = query.Where("status = ?", *filters.Status)
		}
	}
	if filters.FlaggedOnly {
		query = query.Where("suspicious_flags IS NOT NULL AND jsonb_array_length(COALESCE(suspicious_flags->'reasons', '[]'::jsonb)) > 0")
	}
	if filters.DateFrom != nil {
		query = query.Where("started_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("started_at <= ?", *filters.DateTo)
	}
	return query
}

func (h *SharedHelpers) ApplyPaginationAndSort(query *gorm.DB, sortBy, sortOrder string, limit, offset int) *gorm.DB {
	column, ok := attemptSortColumns[sortBy]
	if !ok {
		column = "last_activity_at"
	}
	order := "DESC"
	if strings.EqualFold(sortOrder, "asc") {
		order = "ASC"
	}
	query = query.Order(column + " " + order)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	return query
}
