// Package client calls the donation desk HTTP API. It provides the order,
// verification and recording steps a DonationFlow needs when it runs away
// from the server, such as in a kiosk or a test.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/librarydrive/donation-desk/services"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
	Details string
	Issues  []services.Issue
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("api status %d: %s: %s", e.Status, e.Message, e.Details)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// CheckoutConfig fetches the public key and bundle price.
func (c *Client) CheckoutConfig(ctx context.Context) (services.CheckoutConfig, error) {
	var cfg services.CheckoutConfig
	_, err := c.do(ctx, http.MethodGet, "/api/checkout/config", nil, &cfg)
	return cfg, err
}

// CreateOrder asks the server to create a gateway order.
func (c *Client) CreateOrder(ctx context.Context, req services.OrderRequest) (json.RawMessage, error) {
	var resp struct {
		Order json.RawMessage `json:"order"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/api/razorpay/order", req, &resp); err != nil {
		return nil, err
	}
	return resp.Order, nil
}

// VerifyPayment asks the server to check a checkout signature. A rejected
// callback with missing fields is reported as not authentic.
func (c *Client) VerifyPayment(ctx context.Context, result services.PaymentResult) (bool, error) {
	var resp struct {
		OK bool `json:"ok"`
	}
	status, err := c.do(ctx, http.MethodPost, "/api/razorpay/verify", result, &resp)
	if err != nil {
		if status == http.StatusBadRequest {
			return false, nil
		}
		return false, err
	}
	return resp.OK, nil
}

// CreateDonation records a verified donation and returns its id.
func (c *Client) CreateDonation(ctx context.Context, in services.DonationInput) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/api/donations", in, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var decoded struct {
			Error   string           `json:"error"`
			Details any              `json:"details"`
			Issues  []services.Issue `json:"issues"`
		}
		if json.Unmarshal(respBody, &decoded) == nil {
			apiErr.Message = decoded.Error
			apiErr.Issues = decoded.Issues
			if decoded.Details != nil {
				apiErr.Details = fmt.Sprint(decoded.Details)
			}
		} else {
			apiErr.Message = string(respBody)
		}
		return resp.StatusCode, apiErr
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
