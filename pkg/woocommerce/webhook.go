package woocommerce

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

const (
	SignatureHeader = "X-WC-Webhook-Signature"
	TopicHeader     = "X-WC-Webhook-Topic"
	ResourceHeader  = "X-WC-Webhook-Resource"
	EventHeader     = "X-WC-Webhook-Event"
)

// Sign returns the base64 HMAC-SHA256 WooCommerce puts in SignatureHeader.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a delivery signature against the raw body.
func VerifySignature(body []byte, secret, signature string) bool {
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
