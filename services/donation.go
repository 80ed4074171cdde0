package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/librarydrive/donation-desk/models"
	"github.com/librarydrive/donation-desk/utils"
	"github.com/rs/zerolog"
)

const (
	DefaultListLimit = 50
	DefaultMaxLimit  = 1000
)

type DonationConfig struct {
	DefaultLimit int
	MaxLimit     int
	CacheTTL     time.Duration
}

// Summary is the funds overview shown on the landing page.
type Summary struct {
	models.DonationTotals
	GPayAmount float64 `json:"gpayAmount"`
	TotalFunds float64 `json:"totalFunds"`
}

// DonationService validates and records donations and the gpay setting.
type DonationService struct {
	donations DonationStore
	settings  SettingsStore
	config    DonationConfig
	cache     *utils.CacheManager
	log       zerolog.Logger
	now       func() time.Time

	mu        sync.RWMutex
	listeners []func(models.Donation)
}

func NewDonationService(donations DonationStore, settings SettingsStore, config DonationConfig, cache *utils.CacheManager, log zerolog.Logger) *DonationService {
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = DefaultListLimit
	}
	if config.MaxLimit < config.DefaultLimit {
		config.MaxLimit = max(DefaultMaxLimit, config.DefaultLimit)
	}
	if cache == nil {
		cache = utils.NewCacheManager()
	}
	return &DonationService{
		donations: donations,
		settings:  settings,
		config:    config,
		cache:     cache,
		log:       log,
		now:       time.Now,
	}
}

// OnCreated registers fn to run after every recorded donation.
func (s *DonationService) OnCreated(fn func(models.Donation)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// CreateFromJSON decodes, validates and records a donation body.
func (s *DonationService) CreateFromJSON(ctx context.Context, body []byte) (string, error) {
	in, err := ParseDonationInput(body)
	if err != nil {
		return "", err
	}
	return s.CreateDonation(ctx, in)
}

// CreateDonation records a donation. createdAt is always the service clock.
func (s *DonationService) CreateDonation(ctx context.Context, in DonationInput) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}
	in.normalize()

	donation := in.Donation()
	donation.CreatedAt = s.now().UTC()

	id, err := s.donations.InsertDonation(ctx, donation)
	if err != nil {
		return "", err
	}
	donation.ID = id
	s.cache.Clear()

	s.log.Info().Str("id", id).Str("mode", donation.Mode).Float64("total", donation.Total).Msg("donation recorded")

	s.mu.RLock()
	listeners := append([]func(models.Donation){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(*donation)
	}
	return id, nil
}

// ParseLimit reads a limit query value. Anything that is not a positive
// integer means the default; large values are clamped.
func (s *DonationService) ParseLimit(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return s.config.DefaultLimit
	}
	if n > s.config.MaxLimit {
		return s.config.MaxLimit
	}
	return n
}

// List returns donations newest first.
func (s *DonationService) List(ctx context.Context, visibility, limit string) ([]models.Donation, error) {
	if visibility != "" && !validVisibility(visibility) {
		return nil, newValidationError("visibility", "oneof", "visibility must be one of [public, anonymous, initials]")
	}
	filter := ListFilter{Visibility: visibility, Limit: s.ParseLimit(limit)}

	key := fmt.Sprintf("donations:%s:%d", filter.Visibility, filter.Limit)
	if cached, ok := s.cache.Get(key); ok {
		return append([]models.Donation(nil), cached.([]models.Donation)...), nil
	}

	// A write that lands during the read clears the cache; the stale result
	// must not be stored after that.
	gen := s.cache.Generation()
	donations, err := s.donations.ListDonations(ctx, filter)
	if err != nil {
		return nil, err
	}
	if s.config.CacheTTL > 0 {
		s.cache.SetIfGeneration(key, append([]models.Donation(nil), donations...), s.config.CacheTTL, gen)
	}
	return donations, nil
}

// UpdateStatus marks a donation new or read. Last write wins.
func (s *DonationService) UpdateStatus(ctx context.Context, id, status string) (*models.Donation, error) {
	ve := &ValidationError{}
	if strings.TrimSpace(id) == "" {
		ve.add("id", "required", "id is required")
	}
	if !validStatus(status) {
		ve.add("status", "oneof", "status must be one of [new, read]")
	}
	if err := ve.orNil(); err != nil {
		return nil, err
	}

	donation, err := s.donations.UpdateDonationStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.cache.Clear()
	return donation, nil
}

func (s *DonationService) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return newValidationError("id", "required", "Missing id")
	}
	if err := s.donations.DeleteDonation(ctx, id); err != nil {
		return err
	}
	s.cache.Clear()
	s.log.Info().Str("id", id).Msg("donation deleted")
	return nil
}

// GPayAmount is the out-of-band contribution total, 0 when never set.
func (s *DonationService) GPayAmount(ctx context.Context) (float64, error) {
	setting, err := s.settings.GetSetting(ctx, models.GPaySettingKey)
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return setting.Amount, nil
}

func (s *DonationService) SetGPayAmount(ctx context.Context, amount float64) (float64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return 0, newValidationError("amount", "gte", "amount must be at least 0")
	}
	setting, err := s.settings.UpsertSetting(ctx, models.GPaySettingKey, amount)
	if err != nil {
		return 0, err
	}
	s.log.Info().Float64("amount", setting.Amount).Msg("gpay amount updated")
	return setting.Amount, nil
}

// Summary merges recorded donation funds with the gpay amount.
func (s *DonationService) Summary(ctx context.Context) (Summary, error) {
	totals, err := s.donations.DonationTotals(ctx)
	if err != nil {
		return Summary{}, err
	}
	gpay, err := s.GPayAmount(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		DonationTotals: totals,
		GPayAmount:     gpay,
		TotalFunds:     totals.Funds + gpay,
	}, nil
}

// PublicFeed lists recent donations with donor identity masked per visibility.
func (s *DonationService) PublicFeed(ctx context.Context, limit int) ([]PublicDonation, error) {
	donations, err := s.List(ctx, "", strconv.Itoa(limit))
	if err != nil {
		return nil, err
	}
	feed := make([]PublicDonation, 0, len(donations))
	for _, d := range donations {
		feed = append(feed, PublicView(d))
	}
	return feed, nil
}
