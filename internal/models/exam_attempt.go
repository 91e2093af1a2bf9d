package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type InteractionType string

const (
	InteractionPublicForm     InteractionType = "PUBLIC_FORM"
	InteractionAssignment     InteractionType = "ASSIGNMENT"
	InteractionStandaloneExam InteractionType = "STANDALONE_EXAM"
	InteractionPracticeQuiz   InteractionType = "PRACTICE_QUIZ"
)

// AllowsAnonymous reports whether attempts of this type may be taken without a student id.
func (t InteractionType) AllowsAnonymous() bool {
	return t == InteractionPublicForm
}

func (t InteractionType) IsValid() bool {
	switch t {
	case InteractionPublicForm, InteractionAssignment, InteractionStandaloneExam, InteractionPracticeQuiz:
		return true
	}
	return false
}

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "IN_PROGRESS"
	AttemptCompleted  AttemptStatus = "COMPLETED"
	AttemptAbandoned  AttemptStatus = "ABANDONED"
	AttemptExpired    AttemptStatus = "EXPIRED"

	// AttemptSuspicious is never stored. It is reported by EffectiveStatus for
	// in-progress attempts carrying the suspicious overlay.
	AttemptSuspicious AttemptStatus = "SUSPICIOUS"
)

func (s AttemptStatus) IsTerminal() bool {
	return s != AttemptInProgress
}

// Reasons recorded in SuspiciousFlags.Reasons
const (
	ReasonExcessiveResume    = "excessive_resume"
	ReasonExcessiveFocusLoss = "excessive_focus_loss"
	ReasonDevToolsDetected   = "devtools_detected"
	ReasonExcessiveCopyPaste = "excessive_copy_paste"
)

// MaxClientReasons bounds the client-reported reasons kept on one attempt.
// Server-evaluated reasons are not counted against it.
const MaxClientReasons = 20

// IsEvaluatedReason reports whether reason is raised by the server evaluator
func IsEvaluatedReason(reason string) bool {
	switch reason {
	case ReasonExcessiveResume, ReasonExcessiveFocusLoss, ReasonDevToolsDetected, ReasonExcessiveCopyPaste:
		return true
	}
	return false
}

// Current schema versions of the JSON columns
const (
	AnswerSetSchemaVersion       = 1
	UserInfoSchemaVersion        = 1
	SuspiciousFlagsSchemaVersion = 1
)

type ExamAttempt struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	SessionID string `json:"sessionId" gorm:"uniqueIndex;not null;size:64"`

	// Identity tuple
	FormID          string          `json:"formId" gorm:"not null;size:255;index:idx_attempt_identity,priority:1"`
	StudentID       *string         `json:"studentId" gorm:"size:255;index:idx_attempt_identity,priority:2"`
	AssignmentID    *string         `json:"assignmentId" gorm:"size:255;index:idx_attempt_identity,priority:3"`
	InteractionType InteractionType `json:"interactionType" gorm:"not null;size:32"`

	Status        AttemptStatus `json:"status" gorm:"not null;size:32;default:IN_PROGRESS;index"`
	AttemptNumber int           `json:"attemptNumber" gorm:"not null;default:1"`

	// Progress
	CurrentQuestion int                           `json:"currentQuestion" gorm:"not null;default:0"`
	TotalQuestions  int                           `json:"totalQuestions" gorm:"not null;default:0"`
	Answers         datatypes.JSONType[AnswerSet] `json:"answers" gorm:"type:jsonb"`
	UserInfo        *UserInfo                     `json:"userInfo,omitempty" gorm:"type:jsonb"`

	// Timing
	StartedAt      time.Time  `json:"startedAt" gorm:"not null"`
	LastActivityAt time.Time  `json:"lastActivityAt" gorm:"not null;index"`
	SubmittedAt    *time.Time `json:"submittedAt,omitempty"`
	TimeSpent      int        `json:"timeSpent" gorm:"not null;default:0"` // seconds

	// Abuse counters
	ResumeCount     int              `json:"resumeCount" gorm:"not null;default:0"`
	FocusLossCount  int              `json:"focusLossCount" gorm:"not null;default:0"`
	SuspiciousFlags *SuspiciousFlags `json:"suspiciousFlags,omitempty" gorm:"type:jsonb"`

	ResponseID *string `json:"responseId,omitempty" gorm:"uniqueIndex;size:255"`

	// Client context
	UserAgent string `json:"userAgent,omitempty" gorm:"type:text"`
	IPAddress string `json:"ipAddress,omitempty" gorm:"size:45"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Signals []AttemptSignal `json:"signals,omitempty" gorm:"foreignKey:AttemptID"`
}

func (ExamAttempt) TableName() string {
	return "exam_attempts"
}

// IsSuspicious reports whether the suspicious overlay has been applied.
func (a *ExamAttempt) IsSuspicious() bool {
	return a.SuspiciousFlags != nil && len(a.SuspiciousFlags.Reasons) > 0
}

// EffectiveStatus is the status shown to reviewers. The stored lifecycle
// status is kept as is, the overlay only masks IN_PROGRESS.
func (a *ExamAttempt) EffectiveStatus() AttemptStatus {
	if a.Status == AttemptInProgress && a.IsSuspicious() {
		return AttemptSuspicious
	}
	return a.Status
}

// CopyPasteCount returns the stored copy/paste counter, zero when no flags exist yet.
func (a *ExamAttempt) CopyPasteCount() int {
	if a.SuspiciousFlags == nil {
		return 0
	}
	return a.SuspiciousFlags.CopyPasteCount
}

// DevToolsDetected returns the stored devtools flag.
func (a *ExamAttempt) DevToolsDetected() bool {
	return a.SuspiciousFlags != nil && a.SuspiciousFlags.DevToolsDetected
}

// AnswerSet holds the partial or complete answers keyed by question id.
// Values are kept opaque because the question types live in the form service.
type AnswerSet struct {
	SchemaVersion int                        `json:"schemaVersion"`
	Items         map[string]json.RawMessage `json:"items"`
}

func NewAnswerSet(items map[string]json.RawMessage) AnswerSet {
	if items == nil {
		items = map[string]json.RawMessage{}
	}
	return AnswerSet{SchemaVersion: AnswerSetSchemaVersion, Items: items}
}

// UserInfo carries display and contact data captured for anonymous flows.
type UserInfo struct {
	SchemaVersion int               `json:"schemaVersion"`
	Name          string            `json:"name,omitempty"`
	Email         string            `json:"email,omitempty"`
	Phone         string            `json:"phone,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

func (u UserInfo) Value() (driver.Value, error) {
	return json.Marshal(u)
}

func (u *UserInfo) Scan(value interface{}) error {
	return scanJSON(value, u)
}

// SuspiciousFlags is the sticky abuse overlay. Counters only grow, booleans
// only go from false to true and reasons are never removed.
type SuspiciousFlags struct {
	SchemaVersion    int        `json:"schemaVersion"`
	DevToolsDetected bool       `json:"devToolsDetected"`
	CopyPasteCount   int        `json:"copyPasteCount"`
	Reasons          []string   `json:"reasons"`
	FlaggedAt        *time.Time `json:"flaggedAt,omitempty"`
}

func (f SuspiciousFlags) Value() (driver.Value, error) {
	return json.Marshal(f)
}

func (f *SuspiciousFlags) Scan(value interface{}) error {
	return scanJSON(value, f)
}

// HasReason reports whether reason is already recorded.
func (f *SuspiciousFlags) HasReason(reason string) bool {
	if f == nil {
		return false
	}
	for _, r := range f.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}

// ClientReasonCount counts the recorded reasons the evaluator did not raise
func (f *SuspiciousFlags) ClientReasonCount() int {
	if f == nil {
		return 0
	}
	count := 0
	for _, r := range f.Reasons {
		if !IsEvaluatedReason(r) {
			count++
		}
	}
	return count
}

func scanJSON(value interface{}, dest interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New(fmt.Sprint("failed to unmarshal JSONB value: ", value))
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}

// AttemptIdentity is the (form, student, assignment) tuple an attempt belongs to.
type AttemptIdentity struct {
	FormID       string
	StudentID    *string
	AssignmentID *string
}

// Key is a deterministic string form of the tuple, used for cache keys and advisory locks.
func (i AttemptIdentity) Key() string {
	student := "null"
	if i.StudentID != nil {
		student = *i.StudentID
	}
	assignment := "public"
	if i.AssignmentID != nil {
		assignment = *i.AssignmentID
	}
	return i.FormID + ":" + student + ":" + assignment
}

func (i AttemptIdentity) IsAnonymous() bool {
	return i.StudentID == nil
}

func (a *ExamAttempt) Identity() AttemptIdentity {
	return AttemptIdentity{
		FormID:       a.FormID,
		StudentID:    a.StudentID,
		AssignmentID: a.AssignmentID,
	}
}
