package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/librarydrive/donation-desk/models"
)

// FlowState is a step of a single donation attempt.
type FlowState string

const (
	FlowIdle           FlowState = "idle"
	FlowOrderRequested FlowState = "order_requested"
	FlowCheckoutOpen   FlowState = "checkout_open"
	FlowVerifying      FlowState = "verifying"
	FlowRecorded       FlowState = "recorded"
	FlowCancelled      FlowState = "cancelled"
	FlowFailed         FlowState = "failed"
)

// Terminal reports whether the attempt is over and only Reset is accepted.
func (s FlowState) Terminal() bool {
	return s == FlowRecorded || s == FlowCancelled || s == FlowFailed
}

// DefaultBundlePrice is the price of one bundle of books, in rupees.
const DefaultBundlePrice = 1001

// DefaultCountryCode prefixes phone numbers entered without one.
const DefaultCountryCode = "+91"

// Messages shown to the donor when an attempt fails.
const (
	MsgOrderFailed = "Something went wrong while initiating the payment. Please try again."
	// Policy text only: nothing in the flow issues a refund.
	MsgVerifyFailed = "We could not verify the payment. If money was deducted, it will be auto-refunded."
)

var ErrInvalidTransition = errors.New("invalid donation flow transition")

// OrderCreator creates gateway orders.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req OrderRequest) (json.RawMessage, error)
}

// PaymentVerifier checks a checkout callback signature.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, result PaymentResult) (bool, error)
}

// DonationRecorder persists a verified donation.
type DonationRecorder interface {
	CreateDonation(ctx context.Context, in DonationInput) (string, error)
}

// DonationForm is what the donor filled in.
type DonationForm struct {
	Name         string
	Email        string
	Phone        string
	CountryCode  string
	Message      string
	Mode         string
	Bundles      int
	CustomAmount float64
	Visibility   string
}

// Total is the amount charged, in rupees.
func (f DonationForm) Total(bundlePrice float64) float64 {
	if f.Mode == models.ModeBundles {
		return float64(f.Bundles) * bundlePrice
	}
	return f.CustomAmount
}

// FormatPhone joins the dialling code and the local number. A number that
// already starts with "+" is kept as entered; leading zeros of a local number
// are dropped.
func FormatPhone(phone, countryCode string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, "+") {
		return phone
	}
	code := strings.TrimSpace(countryCode)
	if code == "" {
		code = DefaultCountryCode
	}
	return code + strings.TrimLeft(phone, "0")
}

func (f DonationForm) check() error {
	ve := &ValidationError{}
	if strings.TrimSpace(f.Name) == "" {
		ve.add("name", "required", "name is required")
	}
	if strings.TrimSpace(f.Phone) == "" {
		ve.add("phone", "required", "phone is required")
	}
	switch f.Mode {
	case models.ModeBundles:
		if f.Bundles < 1 {
			ve.add("bundles", "min", "at least 1 bundle")
		}
	case models.ModeCustom:
		if f.CustomAmount < 1 {
			ve.add("amount", "min", "at least 1 rupee")
		}
	default:
		ve.add("mode", "oneof", "mode must be one of [bundles, custom]")
	}
	if !validVisibility(f.Visibility) {
		ve.add("visibility", "oneof", "visibility must be one of [public, anonymous, initials]")
	}
	return ve.orNil()
}

// CheckoutOrder is the part of the gateway order the checkout needs.
type CheckoutOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// CheckoutConfig is what a checkout page needs before the donor submits.
type CheckoutConfig struct {
	KeyID       string  `json:"keyId"`
	BundlePrice float64 `json:"bundlePrice"`
	Currency    string  `json:"currency"`
	CountryCode string  `json:"countryCode"`
}

// PaymentResult is what the gateway hands to the success callback.
type PaymentResult struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// Confirmation is the display-only outcome of a recorded donation.
type Confirmation struct {
	DonationID    string
	DonorName     string
	Amount        float64
	TransactionID string
	RedirectURL   string
}

// DonorEntry is one line of the local donor cache.
type DonorEntry struct {
	Name       string
	Bundles    int
	Total      float64
	Mode       string
	Visibility string
	Message    string
	AddedAt    time.Time
}

// DonorCache keeps donors recorded in this session, newest first.
type DonorCache struct {
	mu      sync.Mutex
	entries []DonorEntry
}

func (c *DonorCache) Add(e DonorEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append([]DonorEntry{e}, c.entries...)
}

func (c *DonorCache) Entries() []DonorEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]DonorEntry(nil), c.entries...)
}

// DonationFlow drives one donation attempt through
// idle -> order_requested -> checkout_open -> verifying -> recorded, with
// cancelled and failed as the other terminal states.
type DonationFlow struct {
	orders      OrderCreator
	verifier    PaymentVerifier
	recorder    DonationRecorder
	donors      *DonorCache
	bundlePrice float64
	now         func() time.Time

	mu      sync.Mutex
	state   FlowState
	form    DonationForm
	order   *CheckoutOrder
	message string
	err     error
}

func NewDonationFlow(orders OrderCreator, verifier PaymentVerifier, recorder DonationRecorder, donors *DonorCache, bundlePrice float64) *DonationFlow {
	if bundlePrice <= 0 {
		bundlePrice = DefaultBundlePrice
	}
	if donors == nil {
		donors = &DonorCache{}
	}
	return &DonationFlow{
		orders:      orders,
		verifier:    verifier,
		recorder:    recorder,
		donors:      donors,
		bundlePrice: bundlePrice,
		now:         time.Now,
		state:       FlowIdle,
	}
}

func (f *DonationFlow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Message is the donor-facing text of the last failure or cancellation.
func (f *DonationFlow) Message() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.message
}

// Err is the cause of a failed attempt.
func (f *DonationFlow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *DonationFlow) Donors() *DonorCache { return f.donors }

func (f *DonationFlow) expect(want FlowState, event string) error {
	if f.state != want {
		return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, event, f.state)
	}
	return nil
}

func (f *DonationFlow) fail(message string, err error) error {
	f.state = FlowFailed
	f.message = message
	f.err = err
	return err
}

// Submit validates the form locally and requests a gateway order. An invalid
// form leaves the flow idle. An empty visibility means public.
func (f *DonationFlow) Submit(ctx context.Context, form DonationForm) (*CheckoutOrder, error) {
	if form.Visibility == "" {
		form.Visibility = models.VisibilityPublic
	}

	f.mu.Lock()
	if err := f.expect(FlowIdle, "submit"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	if err := form.check(); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.form = form
	f.state = FlowOrderRequested
	amount := form.Total(f.bundlePrice)
	f.mu.Unlock()

	// No other event is accepted in order_requested.
	raw, err := f.orders.CreateOrder(ctx, OrderRequest{
		Amount: amount,
		Notes: map[string]any{
			"email": strings.TrimSpace(form.Email),
			"name":  strings.TrimSpace(form.Name),
			"phone": FormatPhone(form.Phone, form.CountryCode),
		},
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		return nil, f.fail(MsgOrderFailed, fmt.Errorf("create order: %w", err))
	}

	var order CheckoutOrder
	if err := json.Unmarshal(raw, &order); err != nil || order.ID == "" {
		if err == nil {
			err = errors.New("order has no id")
		}
		return nil, f.fail(MsgOrderFailed, fmt.Errorf("decode order: %w", err))
	}

	f.order = &order
	f.state = FlowCheckoutOpen
	return &order, nil
}

// Dismiss records that the donor closed checkout without paying.
func (f *DonationFlow) Dismiss() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.expect(FlowCheckoutOpen, "dismiss"); err != nil {
		return err
	}
	f.state = FlowCancelled
	f.message = "You closed the checkout without completing the payment."
	return nil
}

// Complete handles the gateway success callback: verify, then record.
func (f *DonationFlow) Complete(ctx context.Context, result PaymentResult) (*Confirmation, error) {
	f.mu.Lock()
	if err := f.expect(FlowCheckoutOpen, "complete"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.state = FlowVerifying
	form := f.form
	total := form.Total(f.bundlePrice)
	f.mu.Unlock()

	id, err := f.verifyAndRecord(ctx, result, form, total)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		return nil, f.fail(MsgVerifyFailed, err)
	}

	name := strings.TrimSpace(form.Name)
	f.donors.Add(DonorEntry{
		Name:       name,
		Bundles:    form.Bundles,
		Total:      total,
		Mode:       form.Mode,
		Visibility: form.Visibility,
		Message:    strings.TrimSpace(form.Message),
		AddedAt:    f.now(),
	})
	f.state = FlowRecorded
	f.message = ""

	return &Confirmation{
		DonationID:    id,
		DonorName:     name,
		Amount:        total,
		TransactionID: result.PaymentID,
		RedirectURL:   SuccessURL(name, total, result.PaymentID),
	}, nil
}

// verifyAndRecord runs while the flow sits in verifying, without the lock.
func (f *DonationFlow) verifyAndRecord(ctx context.Context, result PaymentResult, form DonationForm, total float64) (string, error) {
	ok, err := f.verifier.VerifyPayment(ctx, result)
	if err != nil {
		return "", fmt.Errorf("verify payment: %w", err)
	}
	if !ok {
		return "", errors.New("payment verification failed")
	}

	in := DonationInput{
		Name:       strings.TrimSpace(form.Name),
		Email:      strings.TrimSpace(form.Email),
		Phone:      FormatPhone(form.Phone, form.CountryCode),
		Message:    strings.TrimSpace(form.Message),
		Mode:       form.Mode,
		Total:      &total,
		Visibility: form.Visibility,
	}
	if form.Mode == models.ModeBundles {
		bundles := form.Bundles
		in.Bundles = &bundles
	}

	id, err := f.recorder.CreateDonation(ctx, in)
	if err != nil {
		return "", fmt.Errorf("record donation: %w", err)
	}
	return id, nil
}

// Reset returns a finished attempt to idle so the donor can try again.
func (f *DonationFlow) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.state.Terminal() {
		return fmt.Errorf("%w: reset in state %s", ErrInvalidTransition, f.state)
	}
	f.state = FlowIdle
	f.form = DonationForm{}
	f.order = nil
	f.message = ""
	f.err = nil
	return nil
}

// SuccessURL builds the confirmation page link. The values are for display
// only and are not checked against the store.
func SuccessURL(donorName string, amount float64, transactionID string) string {
	q := url.Values{}
	q.Set("donorName", donorName)
	q.Set("amount", strconv.FormatFloat(amount, 'f', -1, 64))
	q.Set("transactionId", transactionID)
	return "/donate/success?" + q.Encode()
}
