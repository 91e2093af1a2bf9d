package tracker

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// SnapshotSchemaVersion is bumped whenever the stored layout changes.
// Snapshots of another version are discarded on load.
const SnapshotSchemaVersion = 1

const (
	maxAnswers       = 2000
	maxReasons       = 20
	maxReasonLength  = 64
	maxAnswerKeySize = 255
)

// UserInfo is the optional contact data of an anonymous taker
type UserInfo struct {
	Name  string            `json:"name,omitempty"`
	Email string            `json:"email,omitempty"`
	Phone string            `json:"phone,omitempty"`
	Extra map[string]string `json:"extra,omitempty"`
}

// Snapshot is the locally persisted tracker state of one form
type Snapshot struct {
	SchemaVersion        int                        `json:"schemaVersion"`
	FormID               string                     `json:"formId"`
	SessionID            string                     `json:"sessionId,omitempty"`
	CurrentQuestionIndex int                        `json:"currentQuestionIndex"`
	TotalQuestions       int                        `json:"totalQuestions"`
	Answers              map[string]json.RawMessage `json:"answers,omitempty"`
	UserInfo             *UserInfo                  `json:"userInfo,omitempty"`
	StartedAt            time.Time                  `json:"startedAt"`
	ElapsedSeconds       int                        `json:"elapsedSeconds"`
	FocusLossCount       int                        `json:"focusLossCount"`
	CopyPasteCount       int                        `json:"copyPasteCount"`
	DevToolsDetected     bool                       `json:"devToolsDetected"`
	Reasons              []string                   `json:"reasons,omitempty"`
	AttemptNumber        int                        `json:"attemptNumber"`
	ResumeCount          int                        `json:"resumeCount"`
	UpdatedAt            time.Time                  `json:"updatedAt"`
}

func (s Snapshot) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.SchemaVersion, validation.Required, validation.In(SnapshotSchemaVersion)),
		validation.Field(&s.FormID, validation.Required, validation.Length(1, 255)),
		validation.Field(&s.SessionID, validation.Length(0, 64)),
		validation.Field(&s.CurrentQuestionIndex, validation.Min(0)),
		validation.Field(&s.TotalQuestions, validation.Min(0)),
		validation.Field(&s.Answers, validation.By(validateAnswers)),
		validation.Field(&s.ElapsedSeconds, validation.Min(0)),
		validation.Field(&s.FocusLossCount, validation.Min(0)),
		validation.Field(&s.CopyPasteCount, validation.Min(0)),
		validation.Field(&s.Reasons,
			validation.Length(0, maxReasons),
			validation.Each(validation.Required, validation.Length(1, maxReasonLength))),
		validation.Field(&s.AttemptNumber, validation.Min(0)),
		validation.Field(&s.ResumeCount, validation.Min(0)),
	)
}

func validateAnswers(value interface{}) error {
	answers, _ := value.(map[string]json.RawMessage)
	if len(answers) > maxAnswers {
		return errors.New("too many answers")
	}
	for key, answer := range answers {
		if k := strings.TrimSpace(key); k == "" || len(k) > maxAnswerKeySize {
			return errors.New("answer keys must be non-empty question ids")
		}
		if len(answer) == 0 || !json.Valid(answer) {
			return errors.New("answers must be JSON values")
		}
	}
	return nil
}

// clone deep-copies the mutable parts so a snapshot can leave the tracker lock
func (s Snapshot) clone() Snapshot {
	out := s
	if s.Answers != nil {
		out.Answers = make(map[string]json.RawMessage, len(s.Answers))
		for k, v := range s.Answers {
			out.Answers[k] = append(json.RawMessage(nil), v...)
		}
	}
	if s.UserInfo != nil {
		info := *s.UserInfo
		out.UserInfo = &info
	}
	out.Reasons = append([]string(nil), s.Reasons...)
	return out
}

// addReason records reason once, keeping the list bounded
func (s *Snapshot) addReason(reason string) bool {
	for _, r := range s.Reasons {
		if r == reason {
			return false
		}
	}
	if len(s.Reasons) >= maxReasons {
		return false
	}
	s.Reasons = append(s.Reasons, reason)
	return true
}
