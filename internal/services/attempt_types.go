package services

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/models"
	"github.com/jinzhu/copier"
)

// ===== REQUESTS =====

type StartAttemptRequest struct {
	FormID          string                 `json:"formId" validate:"required,max=255"`
	StudentID       *string                `json:"studentId" validate:"omitempty,max=255"`
	LRN             *string                `json:"lrn" validate:"omitempty,max=32"`
	AssignmentID    *string                `json:"assignmentId" validate:"omitempty,max=255"`
	SessionID       *string                `json:"sessionId" validate:"omitempty,max=64"`
	InteractionType models.InteractionType `json:"interactionType" validate:"required,interaction_type"`
	UserAgent       string                 `json:"userAgent" validate:"max=1024"`
	IPAddress       string                 `json:"ipAddress" validate:"omitempty,ip"`
	UserInfo        *UserInfoInput         `json:"userInfo"`

	// AuthenticatedUserID is filled from the verified bearer token, never from the body
	AuthenticatedUserID string `json:"-"`
}

func (r *StartAttemptRequest) BusinessRules() ValidationErrors {
	var errs ValidationErrors
	if r.InteractionType == models.InteractionAssignment && (r.AssignmentID == nil || strings.TrimSpace(*r.AssignmentID) == "") {
		errs = append(errs, *NewValidationError("assignmentId", "is required for ASSIGNMENT attempts", nil))
	}
	return errs
}

type SyncProgressRequest struct {
	CurrentQuestion   int                        `json:"currentQuestion" validate:"min=0"`
	TotalQuestions    int                        `json:"totalQuestions" validate:"min=0"`
	Answers           map[string]json.RawMessage `json:"answers" validate:"omitempty,max=2000,dive,keys,answer_key,endkeys,required"`
	UserInfo          *UserInfoInput             `json:"userInfo"`
	TimeSpent         int                        `json:"timeSpent" validate:"min=0"`
	FocusLossCount    int                        `json:"focusLossCount" validate:"min=0"`
	SuspiciousSignals *SuspiciousSignals         `json:"suspiciousSignals"`
}

// SuspiciousSignals are the locally detected signals a client reports on sync
type SuspiciousSignals struct {
	DevToolsDetected bool     `json:"devToolsDetected"`
	CopyPasteCount   int      `json:"copyPasteCount" validate:"min=0"`
	Reasons          []string `json:"reasons" validate:"omitempty,max=20,dive,required,max=64"`
}

type UserInfoInput struct {
	Name  string            `json:"name" validate:"max=200"`
	Email string            `json:"email" validate:"omitempty,email,max=255"`
	Phone string            `json:"phone" validate:"max=32"`
	Extra map[string]string `json:"extra" validate:"omitempty,max=20"`
}

func (u *UserInfoInput) toModel() *models.UserInfo {
	if u == nil {
		return nil
	}
	return &models.UserInfo{
		SchemaVersion: models.UserInfoSchemaVersion,
		Name:          strings.TrimSpace(u.Name),
		Email:         strings.TrimSpace(u.Email),
		Phone:         strings.TrimSpace(u.Phone),
		Extra:         u.Extra,
	}
}

type ListAttemptsRequest struct {
	FormID      string  `form:"form_id" json:"formId" validate:"max=255"`
	StudentID   *string `form:"student_id" json:"studentId" validate:"omitempty,max=255"`
	Status      string  `form:"status" json:"status" validate:"omitempty,attempt_status"`
	FlaggedOnly bool    `form:"flagged" json:"flagged"`
	Page        int     `form:"page" json:"page" validate:"min=0"`
	Size        int     `form:"size" json:"size" validate:"min=0,max=100"`
	SortBy      string  `form:"sort_by" json:"sortBy" validate:"omitempty,oneof=started_at last_activity_at attempt_number created_at"`
	SortOrder   string  `form:"sort_order" json:"sortOrder" validate:"omitempty,oneof=asc desc"`
}

// ===== RESPONSES =====

type AttemptResponse struct {
	ID              uint                       `json:"id"`
	SessionID       string                     `json:"sessionId"`
	FormID          string                     `json:"formId"`
	StudentID       *string                    `json:"studentId"`
	AssignmentID    *string                    `json:"assignmentId"`
	InteractionType models.InteractionType     `json:"interactionType"`
	Status          models.AttemptStatus       `json:"status"`
	EffectiveStatus models.AttemptStatus       `json:"effectiveStatus" copier:"-"`
	IsSuspicious    bool                       `json:"isSuspicious" copier:"-"`
	AttemptNumber   int                        `json:"attemptNumber"`
	CurrentQuestion int                        `json:"currentQuestion"`
	TotalQuestions  int                        `json:"totalQuestions"`
	Answers         map[string]json.RawMessage `json:"answers" copier:"-"`
	UserInfo        *models.UserInfo           `json:"userInfo,omitempty"`
	StartedAt       time.Time                  `json:"startedAt"`
	LastActivityAt  time.Time                  `json:"lastActivityAt"`
	SubmittedAt     *time.Time                 `json:"submittedAt,omitempty"`
	TimeSpent       int                        `json:"timeSpent"`
	ResumeCount     int                        `json:"resumeCount"`
	FocusLossCount  int                        `json:"focusLossCount"`
	SuspiciousFlags *models.SuspiciousFlags    `json:"suspiciousFlags,omitempty"`
	ResponseID      *string                    `json:"responseId,omitempty"`

	// Signals is the flag audit trail, filled on single-attempt reads only
	Signals []SignalResponse `json:"signals,omitempty" copier:"-"`

	// Resumed is true when the call re-attached to an existing attempt
	Resumed bool `json:"resumed" copier:"-"`
}

// SignalResponse is one recorded abuse reason with the counters that raised it
type SignalResponse struct {
	Reason    string          `json:"reason"`
	Counters  json.RawMessage `json:"counters,omitempty"`
	UserAgent string          `json:"userAgent,omitempty"`
	IPAddress string          `json:"ipAddress,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type AttemptListResponse struct {
	Attempts []*AttemptResponse `json:"attempts"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	Size     int                `json:"size"`
}

func toAttemptResponse(attempt *models.ExamAttempt) *AttemptResponse {
	var resp AttemptResponse
	_ = copier.Copy(&resp, attempt)
	resp.EffectiveStatus = attempt.EffectiveStatus()
	resp.IsSuspicious = attempt.IsSuspicious()
	resp.Answers = attempt.Answers.Data().Items
	if resp.Answers == nil {
		resp.Answers = map[string]json.RawMessage{}
	}
	for _, signal := range attempt.Signals {
		resp.Signals = append(resp.Signals, SignalResponse{
			Reason:    signal.Reason,
			Counters:  json.RawMessage(signal.Counters),
			UserAgent: signal.UserAgent,
			IPAddress: signal.IPAddress,
			CreatedAt: signal.CreatedAt,
		})
	}
	return &resp
}
