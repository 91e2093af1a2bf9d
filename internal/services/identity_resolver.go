package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/models"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/repositories"
)

// IdentityInput is everything a start request knows about its taker
type IdentityInput struct {
	// UserID comes from a verified bearer token
	UserID          string
	StudentID       *string
	LRN             *string
	FormID          string
	InteractionType models.InteractionType
}

// IdentityResolver maps a start request to a student id, nil meaning anonymous
type IdentityResolver interface {
	Resolve(ctx context.Context, in IdentityInput) (*string, error)
}

type identityResolver struct {
	students repositories.StudentRepository
	logger   *slog.Logger
}

func NewIdentityResolver(students repositories.StudentRepository, logger *slog.Logger) IdentityResolver {
	return &identityResolver{
		students: students,
		logger:   logger,
	}
}

func (r *identityResolver) Resolve(ctx context.Context, in IdentityInput) (*string, error) {
	explicit := trimmedOrNil(in.StudentID)

	// Authenticated user wins
	if userID := strings.TrimSpace(in.UserID); userID != "" {
		if explicit != nil && *explicit != userID {
			return nil, NewBusinessRuleError("identity_mismatch",
				"studentId does not match the authenticated user",
				map[string]interface{}{"form_id": in.FormID})
		}
		return &userID, nil
	}

	if explicit != nil {
		return explicit, nil
	}

	if lrn := trimmedOrNil(in.LRN); lrn != nil {
		student, err := r.students.GetByLRN(ctx, *lrn)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve LRN: %w", err)
		}
		if student != nil {
			r.logger.Debug("Resolved student by LRN", "form_id", in.FormID, "student_id", student.ID)
			id := student.ID
			return &id, nil
		}
		if !in.InteractionType.AllowsAnonymous() {
			return nil, ValidationErrors{*NewValidationError("lrn", "does not match an active student", *lrn)}
		}
		r.logger.Debug("LRN did not match, continuing anonymously", "form_id", in.FormID)
	}

	if !in.InteractionType.AllowsAnonymous() {
		return nil, ValidationErrors{*NewValidationError("studentId",
			fmt.Sprintf("is required for %s attempts", in.InteractionType), nil)}
	}
	return nil, nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
