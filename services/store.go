package services

import (
	"context"

	"github.com/librarydrive/donation-desk/models"
)

// ListFilter narrows a donation listing. An empty Visibility matches all.
type ListFilter struct {
	Visibility string
	Limit      int
}

// DonationStore persists donation records. Implementations rely on the
// backend's single-row/document atomicity; there is no application locking.
type DonationStore interface {
	InsertDonation(ctx context.Context, d *models.Donation) (string, error)
	ListDonations(ctx context.Context, filter ListFilter) ([]models.Donation, error)
	UpdateDonationStatus(ctx context.Context, id, status string) (*models.Donation, error)
	DeleteDonation(ctx context.Context, id string) error
	DonationTotals(ctx context.Context) (models.DonationTotals, error)
}

// SettingsStore persists singleton numeric settings.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (*models.Setting, error)
	UpsertSetting(ctx context.Context, key string, amount float64) (*models.Setting, error)
}

// Store is a backend holding both donations and settings.
type Store interface {
	DonationStore
	SettingsStore
	Close(ctx context.Context) error
}
