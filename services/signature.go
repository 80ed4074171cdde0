package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureVerifier checks Razorpay checkout callbacks.
type SignatureVerifier struct {
	keySecret string
}

func NewSignatureVerifier(keySecret string) *SignatureVerifier {
	return &SignatureVerifier{keySecret: keySecret}
}

// Sign returns the hex HMAC-SHA256 of "orderID|paymentID".
func (v *SignatureVerifier) Sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(v.keySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature authenticates the order/payment pair.
// Missing fields are never authentic. Only a missing secret is an error.
func (v *SignatureVerifier) Verify(orderID, paymentID, signature string) (bool, error) {
	if orderID == "" || paymentID == "" || signature == "" {
		return false, nil
	}
	if v.keySecret == "" {
		return false, &ConfigError{Missing: []string{"razorpay.key_secret"}}
	}
	expected := v.Sign(orderID, paymentID)
	// full digest, case-sensitive
	return hmac.Equal([]byte(expected), []byte(signature)), nil
}

// VerifyPayment checks a checkout callback result.
func (v *SignatureVerifier) VerifyPayment(_ context.Context, result PaymentResult) (bool, error) {
	return v.Verify(result.OrderID, result.PaymentID, result.Signature)
}
