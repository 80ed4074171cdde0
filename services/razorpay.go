package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultRazorpayURL = "https://api.razorpay.com/v1"

// RazorpayConfig holds the API keys. APIURL and Timeout have defaults.
type RazorpayConfig struct {
	KeyID     string
	KeySecret string
	APIURL    string
	Timeout   time.Duration
}

// OrderRequest is an order for Amount major currency units (rupees for INR).
type OrderRequest struct {
	Amount   float64        `json:"amount"`
	Currency string         `json:"currency,omitempty"`
	Receipt  string         `json:"receipt,omitempty"`
	Notes    map[string]any `json:"notes,omitempty"`
}

// RazorpayClient talks to the Razorpay orders API. Key id and secret stay in
// this process.
type RazorpayClient struct {
	config     RazorpayConfig
	httpClient *http.Client
	log        zerolog.Logger
	now        func() time.Time
}

// NewRazorpayClient builds a client with a pooled transport. Missing keys are
// reported per call, not here.
func NewRazorpayClient(config RazorpayConfig, log zerolog.Logger) *RazorpayClient {
	if config.APIURL == "" {
		config.APIURL = defaultRazorpayURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: config.Timeout,
	}
	return &RazorpayClient{
		config:     config,
		httpClient: httpClient,
		log:        log,
		now:        time.Now,
	}
}

// ParseOrderRequest decodes an order body. The amount must be a JSON number
// greater than zero.
func ParseOrderRequest(body []byte) (OrderRequest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return OrderRequest{}, newValidationError("body", "invalid_json", "body must be a JSON object")
	}

	var req OrderRequest
	amount, ok := raw["amount"]
	if !ok || string(amount) == "null" || json.Unmarshal(amount, &req.Amount) != nil {
		return OrderRequest{}, newValidationError("amount", "invalid_type", "amount must be a number")
	}
	if err := checkAmount(req.Amount); err != nil {
		return OrderRequest{}, err
	}

	ve := &ValidationError{}
	if v, ok := raw["currency"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &req.Currency); err != nil {
			ve.add("currency", "invalid_type", "currency must be a string")
		}
	}
	if v, ok := raw["receipt"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &req.Receipt); err != nil {
			ve.add("receipt", "invalid_type", "receipt must be a string")
		}
	}
	if v, ok := raw["notes"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &req.Notes); err != nil {
			ve.add("notes", "invalid_type", "notes must be an object")
		}
	}
	return req, ve.orNil()
}

func checkAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return newValidationError("amount", "too_small", "amount must be greater than 0")
	}
	return nil
}

// MinorUnits converts a major-unit amount to the gateway's integer minor units.
// The amount is rounded as written in decimal, half away from zero, so 1.005
// becomes 101 rather than the 100 a binary float multiply gives.
func MinorUnits(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// CreateOrder creates a gateway order and returns the gateway's order object
// verbatim.
func (rc *RazorpayClient) CreateOrder(ctx context.Context, req OrderRequest) (json.RawMessage, error) {
	if err := checkAmount(req.Amount); err != nil {
		return nil, err
	}
	if err := rc.checkKeys(); err != nil {
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = "INR"
	}
	receipt := req.Receipt
	if receipt == "" {
		receipt = fmt.Sprintf("rcpt_%d", rc.now().UnixMilli())
	}
	notes := req.Notes
	if notes == nil {
		notes = map[string]any{}
	}

	payload, err := json.Marshal(map[string]any{
		"amount":   MinorUnits(req.Amount),
		"currency": currency,
		"receipt":  receipt,
		"notes":    notes,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	order, err := rc.do(ctx, "create order", http.MethodPost, "/orders", payload)
	if err != nil {
		return nil, err
	}
	rc.log.Info().Str("receipt", receipt).Int64("amount_minor", MinorUnits(req.Amount)).Msg("razorpay order created")
	return order, nil
}

// FetchOrder returns the gateway's current view of an order.
func (rc *RazorpayClient) FetchOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, newValidationError("id", "required", "order id is required")
	}
	if err := rc.checkKeys(); err != nil {
		return nil, err
	}
	return rc.do(ctx, "fetch order", http.MethodGet, "/orders/"+url.PathEscape(orderID), nil)
}

func (rc *RazorpayClient) checkKeys() error {
	var missing []string
	if rc.config.KeyID == "" {
		missing = append(missing, "razorpay.key_id")
	}
	if rc.config.KeySecret == "" {
		missing = append(missing, "razorpay.key_secret")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	return nil
}

func (rc *RazorpayClient) do(ctx context.Context, op, method, path string, payload []byte) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(rc.config.APIURL, "/")+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.SetBasicAuth(rc.config.KeyID, rc.config.KeySecret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := rc.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Op: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rc.log.Warn().Str("op", op).Int("status", resp.StatusCode).Str("body", string(respBody)).Msg("razorpay request failed")
		return nil, &UpstreamError{Op: op, Status: resp.StatusCode, Body: string(respBody)}
	}
	if !json.Valid(respBody) {
		return nil, &UpstreamError{Op: op, Status: resp.StatusCode, Body: string(respBody), Err: fmt.Errorf("response is not JSON")}
	}
	return json.RawMessage(respBody), nil
}
