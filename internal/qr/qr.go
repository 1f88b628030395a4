package qr

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// CheckinURL is what students scan: the deep link carrying the token secret.
func CheckinURL(baseURL, secret string) string {
	return fmt.Sprintf("%s/checkin?token=%s", baseURL, secret)
}

// EncodePNG renders the check-in URL as a QR PNG.
func EncodePNG(baseURL, secret string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(CheckinURL(baseURL, secret), qrcode.Medium, size)
}
