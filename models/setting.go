package models

import (
	"time"
)

// GPaySettingKey keys the funds received outside the in-app payment flow.
const GPaySettingKey = "gpay"

// Setting is a singleton numeric setting keyed by name.
type Setting struct {
	Key       string    `gorm:"primaryKey;size:50" json:"key"`
	Amount    float64   `gorm:"type:double" json:"amount"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false" json:"updatedAt"`
}
