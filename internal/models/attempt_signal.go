package models

import (
	"time"

	"gorm.io/datatypes"
)

// AttemptSignal records the moment an abuse reason was first raised on an attempt.
type AttemptSignal struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	AttemptID uint   `json:"attemptId" gorm:"not null;index"`
	SessionID string `json:"sessionId" gorm:"not null;size:64;index"`
	Reason    string `json:"reason" gorm:"not null;size:64;index"`

	// Counter values at the time the reason was raised
	Counters datatypes.JSON `json:"counters" gorm:"type:jsonb"`

	UserAgent string `json:"userAgent,omitempty" gorm:"type:text"`
	IPAddress string `json:"ipAddress,omitempty" gorm:"size:45"`

	CreatedAt time.Time `json:"createdAt" gorm:"index"`
}

func (AttemptSignal) TableName() string {
	return "attempt_signals"
}
