package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Pricing modes
const (
	ModeBundles = "bundles"
	ModeCustom  = "custom"
)

// Display preferences for the public donor listing
const (
	VisibilityPublic    = "public"
	VisibilityAnonymous = "anonymous"
	VisibilityInitials  = "initials"
)

// Admin review states
const (
	StatusNew  = "new"
	StatusRead = "read"
)

type Donation struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Name       string    `gorm:"size:200" json:"name"`
	Email      string    `gorm:"size:255" json:"email"`
	Phone      string    `gorm:"size:40" json:"phone"`
	Message    string    `gorm:"type:text" json:"message"`
	Mode       string    `gorm:"size:20" json:"mode"`             // bundles, custom
	Bundles    *int      `json:"bundles,omitempty"`               // only when mode = bundles
	Total      float64   `gorm:"type:double" json:"total"`        // authoritative charged amount
	Visibility string    `gorm:"size:20;index" json:"visibility"` // public, anonymous, initials
	Status     string    `gorm:"size:20;index" json:"status"`     // new, read
	CreatedAt  time.Time `gorm:"index;autoCreateTime:false" json:"createdAt"`
}

// BeforeCreate assigns a UUID when the row has no id yet.
func (d *Donation) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// DonationTotals aggregates over every stored donation.
type DonationTotals struct {
	Count   int64   `json:"donations"`
	Funds   float64 `json:"donationFunds"`
	Bundles int64   `json:"bundles"`
}
