package services

import (
	"context"
	"errors"
	"time"

	"github.com/librarydrive/donation-desk/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps donations and settings in a SQL database through gorm.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore wraps an open connection. Call Migrate before first use.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

// Migrate creates or updates the donations and settings tables.
func (s *GormStore) Migrate() error {
	if err := s.db.AutoMigrate(&models.Donation{}, &models.Setting{}); err != nil {
		return &StoreUnavailableError{Op: "migrate", Err: err}
	}
	return nil
}

func (s *GormStore) InsertDonation(ctx context.Context, d *models.Donation) (string, error) {
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return "", &StoreUnavailableError{Op: "insert donation", Err: err}
	}
	return d.ID, nil
}

func (s *GormStore) ListDonations(ctx context.Context, filter ListFilter) ([]models.Donation, error) {
	query := s.db.WithContext(ctx).Model(&models.Donation{})
	if filter.Visibility != "" {
		query = query.Where("visibility = ?", filter.Visibility)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var donations []models.Donation
	if err := query.Order("created_at desc").Find(&donations).Error; err != nil {
		return nil, &StoreUnavailableError{Op: "list donations", Err: err}
	}
	return donations, nil
}

// UpdateDonationStatus sets status on an existing donation. Nothing is written
// when the id is unknown.
func (s *GormStore) UpdateDonationStatus(ctx context.Context, id, status string) (*models.Donation, error) {
	var donation models.Donation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&donation).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Donation{}).Where("id = ?", id).Update("status", status).Error; err != nil {
			return err
		}
		donation.Status = status
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "donation", ID: id}
	}
	if err != nil {
		return nil, &StoreUnavailableError{Op: "update donation status", Err: err}
	}
	return &donation, nil
}

func (s *GormStore) DeleteDonation(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Donation{})
	if result.Error != nil {
		return &StoreUnavailableError{Op: "delete donation", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		return &NotFoundError{Resource: "donation", ID: id}
	}
	return nil
}

func (s *GormStore) DonationTotals(ctx context.Context) (models.DonationTotals, error) {
	var row struct {
		Count   int64
		Funds   float64
		Bundles int64
	}
	err := s.db.WithContext(ctx).Model(&models.Donation{}).
		Select("COUNT(*) AS count, COALESCE(SUM(total), 0) AS funds, COALESCE(SUM(bundles), 0) AS bundles").
		Scan(&row).Error
	if err != nil {
		return models.DonationTotals{}, &StoreUnavailableError{Op: "donation totals", Err: err}
	}
	return models.DonationTotals{Count: row.Count, Funds: row.Funds, Bundles: row.Bundles}, nil
}

func (s *GormStore) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	var setting models.Setting
	err := s.db.WithContext(ctx).Where(&models.Setting{Key: key}).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "setting", ID: key}
	}
	if err != nil {
		return nil, &StoreUnavailableError{Op: "get setting", Err: err}
	}
	return &setting, nil
}

func (s *GormStore) UpsertSetting(ctx context.Context, key string, amount float64) (*models.Setting, error) {
	setting := models.Setting{Key: key, Amount: amount, UpdatedAt: s.now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return nil, &StoreUnavailableError{Op: "upsert setting", Err: err}
	}
	return &setting, nil
}

func (s *GormStore) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
