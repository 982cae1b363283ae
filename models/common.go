package models

import (
	"time"

	"gorm.io/gorm"
)

// Timestamps adds GORM auto-times plus soft delete. Records are only ever
// soft-retired; hard deletion is an explicit operator action.
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
