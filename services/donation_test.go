package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/librarydrive/donation-desk/models"
	"github.com/rs/zerolog"
)

func newTestDonationService(t *testing.T, config DonationConfig) (*DonationService, *GormStore) {
	t.Helper()
	store := newTestGormStore(t)
	svc := NewDonationService(store, store, config, nil, zerolog.Nop())
	return svc, store
}

func TestCreateDonationUsesServerClock(t *testing.T) {
	svc, store := newTestDonationService(t, DonationConfig{})
	fixed := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	id, err := svc.CreateFromJSON(context.Background(), []byte(`{
		"name":"Asha","email":"asha@example.com","phone":"1","mode":"bundles",
		"bundles":1,"total":1001,"visibility":"public","createdAt":"2001-01-01T00:00:00Z"
	}`))
	if err != nil {
		t.Fatalf("CreateFromJSON: %v", err)
	}

	got, err := store.ListDonations(context.Background(), ListFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListDonations: %v", err)
	}
	if len(got) != 1 || got[0].ID != id {
		t.Fatalf("stored = %+v", got)
	}
	if !got[0].CreatedAt.Equal(fixed) {
		t.Fatalf("createdAt = %v, want %v", got[0].CreatedAt, fixed)
	}
	if got[0].Status != models.StatusNew || got[0].Total != 1001 {
		t.Fatalf("stored = %+v", got[0])
	}
}

func TestCreateDonationInvalidWritesNothing(t *testing.T) {
	svc, store := newTestDonationService(t, DonationConfig{})

	_, err := svc.CreateFromJSON(context.Background(), []byte(`{"name":"Asha","mode":"custom","bundles":2}`))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	totals, _ := store.DonationTotals(context.Background())
	if totals.Count != 0 {
		t.Fatalf("invalid donation was stored")
	}
}

func TestCreateDonationNotifiesListeners(t *testing.T) {
	svc, _ := newTestDonationService(t, DonationConfig{})
	var seen []models.Donation
	svc.OnCreated(func(d models.Donation) { seen = append(seen, d) })

	total := 250.0
	id, err := svc.CreateDonation(context.Background(), DonationInput{
		Name: "Ravi", Email: "ravi@example.com", Phone: "2", Mode: models.ModeCustom,
		Total: &total, Visibility: models.VisibilityAnonymous,
	})
	if err != nil {
		t.Fatalf("CreateDonation: %v", err)
	}
	if len(seen) != 1 || seen[0].ID != id || seen[0].Total != 250 {
		t.Fatalf("listener saw %+v", seen)
	}
}

func TestParseLimit(t *testing.T) {
	svc, _ := newTestDonationService(t, DonationConfig{})
	cases := map[string]int{
		"":      DefaultListLimit,
		"abc":   DefaultListLimit,
		"0":     DefaultListLimit,
		"-3":    DefaultListLimit,
		"10":    10,
		" 25 ":  25,
		"99999": DefaultMaxLimit,
	}
	for raw, want := range cases {
		if got := svc.ParseLimit(raw); got != want {
			t.Errorf("ParseLimit(%q) = %d, want %d", raw, got, want)
		}
	}
}

func TestParseLimitRaisesMaxToDefault(t *testing.T) {
	svc, _ := newTestDonationService(t, DonationConfig{DefaultLimit: 2000})
	if got := svc.ParseLimit(""); got != 2000 {
		t.Fatalf("ParseLimit(\"\") = %d, want 2000", got)
	}
	if got := svc.ParseLimit("1500"); got != 1500 {
		t.Fatalf("ParseLimit(1500) = %d, want 1500", got)
	}
	if got := svc.ParseLimit("5000"); got != 2000 {
		t.Fatalf("ParseLimit(5000) = %d, want 2000", got)
	}
}

func TestListDefaultLimitAndVisibility(t *testing.T) {
	svc, store := newTestDonationService(t, DonationConfig{})
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 55; i++ {
		seedDonation(t, store, "Donor", models.VisibilityPublic, 1, base.Add(time.Duration(i)*time.Minute))
	}

	got, err := svc.List(context.Background(), "", "bogus")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != DefaultListLimit {
		t.Fatalf("len = %d, want %d", len(got), DefaultListLimit)
	}

	_, err = svc.List(context.Background(), "secret", "")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for unknown visibility, got %v", err)
	}
}

func TestListCacheInvalidatedOnWrite(t *testing.T) {
	svc, store := newTestDonationService(t, DonationConfig{CacheTTL: time.Minute})
	seedDonation(t, store, "First", models.VisibilityPublic, 1, time.Now().Add(-time.Hour))

	first, err := svc.List(context.Background(), "", "")
	if err != nil || len(first) != 1 {
		t.Fatalf("List = %v, %v", first, err)
	}

	total := 5.0
	if _, err := svc.CreateDonation(context.Background(), DonationInput{
		Name: "Second", Email: "s@example.com", Phone: "1", Mode: models.ModeCustom,
		Total: &total, Visibility: models.VisibilityPublic,
	}); err != nil {
		t.Fatalf("CreateDonation: %v", err)
	}

	second, err := svc.List(context.Background(), "", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(second) != 2 || second[0].Name != "Second" {
		t.Fatalf("after create = %v", names(second))
	}
}

// pausingStore holds the first listing after it has read from the store,
// until release is closed.
type pausingStore struct {
	*GormStore
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (p *pausingStore) ListDonations(ctx context.Context, filter ListFilter) ([]models.Donation, error) {
	donations, err := p.GormStore.ListDonations(ctx, filter)
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.read)
		<-p.release
	}
	return donations, err
}

func TestListDoesNotCacheResultReadBeforeWrite(t *testing.T) {
	store := &pausingStore{
		GormStore: newTestGormStore(t),
		read:      make(chan struct{}),
		release:   make(chan struct{}),
	}
	svc := NewDonationService(store, store, DonationConfig{CacheTTL: time.Minute}, nil, zerolog.Nop())
	ctx := context.Background()

	done := make(chan int)
	go func() {
		stale, err := svc.List(ctx, "", "")
		if err != nil {
			t.Errorf("List: %v", err)
		}
		done <- len(stale)
	}()
	<-store.read

	total := 10.0
	if _, err := svc.CreateDonation(ctx, DonationInput{
		Name: "Late", Email: "late@example.com", Phone: "1", Mode: models.ModeCustom,
		Total: &total, Visibility: models.VisibilityPublic,
	}); err != nil {
		t.Fatalf("CreateDonation: %v", err)
	}
	close(store.release)
	if n := <-done; n != 0 {
		t.Fatalf("listing started before the write saw %d donations", n)
	}

	got, err := svc.List(ctx, "", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Late" {
		t.Fatalf("List after create = %v", names(got))
	}
}

func TestUpdateStatusAndDelete(t *testing.T) {
	svc, store := newTestDonationService(t, DonationConfig{})
	id := seedDonation(t, store, "Asha", models.VisibilityPublic, 1001, time.Now())
	ctx := context.Background()

	if _, err := svc.UpdateStatus(ctx, id, "archived"); err == nil {
		t.Fatalf("expected validation error for unknown status")
	}
	d, err := svc.UpdateStatus(ctx, id, models.StatusRead)
	if err != nil || d.Status != models.StatusRead {
		t.Fatalf("UpdateStatus = %+v, %v", d, err)
	}

	var nf *NotFoundError
	if _, err := svc.UpdateStatus(ctx, "nope", models.StatusRead); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if err := svc.Delete(ctx, ""); err == nil {
		t.Fatalf("expected error for empty id")
	}
	if err := svc.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Delete(ctx, id); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestGPayAmountAndSummary(t *testing.T) {
	svc, store := newTestDonationService(t, DonationConfig{})
	ctx := context.Background()

	amount, err := svc.GPayAmount(ctx)
	if err != nil || amount != 0 {
		t.Fatalf("GPayAmount before write = %v, %v; want 0", amount, err)
	}

	if _, err := svc.SetGPayAmount(ctx, -1); err == nil {
		t.Fatalf("negative amount accepted")
	}
	if _, err := svc.SetGPayAmount(ctx, 1500); err != nil {
		t.Fatalf("SetGPayAmount: %v", err)
	}
	seedDonation(t, store, "Asha", models.VisibilityPublic, 1001, time.Now())

	summary, err := svc.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.Count != 1 || summary.Funds != 1001 || summary.GPayAmount != 1500 || summary.TotalFunds != 2501 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestPublicFeedMasksDonors(t *testing.T) {
	svc, store := newTestDonationService(t, DonationConfig{})
	seedDonation(t, store, "Asha Rao", models.VisibilityInitials, 10, time.Now())

	feed, err := svc.PublicFeed(context.Background(), 10)
	if err != nil {
		t.Fatalf("PublicFeed: %v", err)
	}
	if len(feed) != 1 || feed[0].DisplayName != "A.R." {
		t.Fatalf("feed = %+v", feed)
	}
}
