package models

import (
	"time"

	"gorm.io/gorm"
)

type Student struct {
	ID       string  `json:"id" gorm:"primaryKey;size:255"`
	FullName string  `json:"fullName" gorm:"not null;size:100"`
	Email    string  `json:"email" gorm:"uniqueIndex;not null;size:255"`
	LRN      *string `json:"lrn" gorm:"uniqueIndex;size:32"` // learner reference number

	IsActive bool `json:"isActive" gorm:"default:true"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (Student) TableName() string {
	return "students"
}
