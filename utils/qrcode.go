package utils

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

const maxQRSize = 1024

// GenerateQRCode encodes text as a PNG QR code of size pixels.
func GenerateQRCode(text string, size int) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("qr content is empty")
	}
	if size <= 0 {
		size = 256
	}
	if size > maxQRSize {
		size = maxQRSize
	}
	return qrcode.Encode(text, qrcode.Medium, size)
}
