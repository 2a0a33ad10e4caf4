package whatsapp

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is the longest message accepted in a deep link.
const MaxMessageLength = 4000

var mobileAgent = regexp.MustCompile(`(?i)Android|webOS|iPhone|iPad|iPod|BlackBerry|IEMobile|Opera Mini`)

// NormalizePhone keeps the digits of phone and requires an international
// number of 10 to 15 digits without "+" or spaces.
func NormalizePhone(phone string) (string, error) {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 10 || len(digits) > 15 {
		return "", fmt.Errorf("whatsapp phone number must have 10-15 digits including country code")
	}
	return digits, nil
}

// IsMobile reports whether the user agent belongs to a phone or tablet.
func IsMobile(userAgent string) bool {
	return mobileAgent.MatchString(userAgent)
}

// GenerateURL builds a click-to-chat link: wa.me on mobile devices,
// api.whatsapp.com on desktop.
func GenerateURL(phone, message, userAgent string) (string, error) {
	digits, err := NormalizePhone(phone)
	if err != nil {
		return "", err
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return "", fmt.Errorf("whatsapp message exceeds %d characters", MaxMessageLength)
	}
	text := EncodeURIComponent(message)
	if IsMobile(userAgent) {
		return fmt.Sprintf("https://wa.me/%s?text=%s", digits, text), nil
	}
	return fmt.Sprintf("https://api.whatsapp.com/send?phone=%s&text=%s", digits, text), nil
}

// EncodeURIComponent percent-encodes s the way browsers do for URI
// components: spaces become %20 and !'()*-._~ are kept.
func EncodeURIComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreservedComponent(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isUnreservedComponent(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", c) >= 0
}
