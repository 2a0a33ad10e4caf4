package whatsapp

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	iphoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15"
	desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0"
)

func TestGenerateURLMobile(t *testing.T) {
	got, err := GenerateURL("46701234567", "hello", iphoneUA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(got, "https://wa.me/46701234567?text=") {
		t.Fatalf("unexpected url %s", got)
	}
	if !strings.HasSuffix(got, "text=hello") {
		t.Fatalf("expected message in url, got %s", got)
	}
}

func TestGenerateURLDesktop(t *testing.T) {
	got, err := GenerateURL("+46 70-123 45 67", "Hej & välkommen", desktopUA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "https://api.whatsapp.com/send?phone=46701234567&text=Hej%20%26%20v%C3%A4lkommen"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestGenerateURLRejectsLongMessage(t *testing.T) {
	if _, err := GenerateURL("46701234567", strings.Repeat("a", MaxMessageLength+1), iphoneUA); err == nil {
		t.Fatal("expected error for long message")
	}
	if _, err := GenerateURL("46701234567", strings.Repeat("a", MaxMessageLength), iphoneUA); err != nil {
		t.Fatalf("message at the limit should pass: %v", err)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]bool{
		"46701234567":       true,
		"+46 70 123 45 67":  true,
		"0701234":           false,
		"1234567890123456":  false,
		"":                  false,
		"(46) 8-123 456 78": true,
	}
	for in, ok := range cases {
		_, err := NormalizePhone(in)
		if ok && err != nil {
			t.Fatalf("%q: unexpected error %v", in, err)
		}
		if !ok && err == nil {
			t.Fatalf("%q: expected error", in)
		}
	}
}

func TestEncodeURIComponent(t *testing.T) {
	cases := map[string]string{
		"a b":          "a%20b",
		"it's (ok)!*~": "it's%20(ok)!*~",
		"1+1=2":        "1%2B1%3D2",
		"line\nbreak":  "line%0Abreak",
		"#/?&":         "%23%2F%3F%26",
	}
	for in, want := range cases {
		if got := EncodeURIComponent(in); got != want {
			t.Fatalf("EncodeURIComponent(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatOrderMessage(t *testing.T) {
	msg := FormatOrderMessage(OrderSummary{
		StoreName:     "Ideal Indiska LIVS",
		OrderNumber:   "1234",
		CustomerName:  "Anna Svensson",
		Phone:         "0701234567",
		AddressLines:  []string{"Storgatan 1", "115 20 Stockholm"},
		Items:         []OrderLine{{Name: "Basmati rice", Quantity: 3, LineTotal: decimal.NewFromInt(147)}},
		Subtotal:      decimal.NewFromInt(147),
		ShippingLabel: "Home delivery",
		ShippingCost:  decimal.NewFromInt(49),
		Total:         decimal.NewFromInt(196),
		Currency:      "SEK",
	})
	for _, want := range []string{"Order #1234", "- 3 x Basmati rice: 147.00 kr", "Shipping (Home delivery): 49.00 kr", "Total: 196.00 kr", "115 20 Stockholm"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in message:\n%s", want, msg)
		}
	}
}

func TestFormatOrderMessageTruncatesItems(t *testing.T) {
	items := make([]OrderLine, 0, 200)
	for i := 0; i < 200; i++ {
		items = append(items, OrderLine{Name: fmt.Sprintf("Spice blend number %03d with a long name", i), Quantity: 1, LineTotal: decimal.NewFromInt(10)})
	}
	msg := FormatOrderMessage(OrderSummary{
		OrderNumber: "99",
		OrderURL:    "https://example.com/order/99",
		Items:       items,
		Total:       decimal.NewFromInt(2000),
	})
	if n := utf8.RuneCountInString(msg); n > MaxMessageLength {
		t.Fatalf("message too long: %d", n)
	}
	if !strings.Contains(msg, "more item(s)") {
		t.Fatalf("expected truncation marker")
	}
	if !strings.Contains(msg, "View full order: https://example.com/order/99") {
		t.Fatalf("expected full order link")
	}
	if _, err := GenerateURL("46701234567", msg, desktopUA); err != nil {
		t.Fatalf("truncated message should be linkable: %v", err)
	}
}

func TestFormatOrderMessageKeepsLinkWhenDetailsOverflow(t *testing.T) {
	items := []OrderLine{
		{Name: "Basmati rice 1kg", Quantity: 2, LineTotal: decimal.NewFromInt(98)},
		{Name: "Fresh Paneer", Quantity: 1, LineTotal: decimal.NewFromInt(35)},
	}
	url := "https://example.com/order/99"

	longNote := OrderSummary{
		OrderURL:     url,
		Items:        items,
		AddressLines: []string{"Storgatan 1", "115 20 Stockholm"},
		Note:         strings.Repeat("ring the bell ", 400),
		Total:        decimal.NewFromInt(133),
	}
	msg := FormatOrderMessage(longNote)
	if n := utf8.RuneCountInString(msg); n > MaxMessageLength {
		t.Fatalf("message too long: %d", n)
	}
	if strings.Contains(msg, "ring the bell") {
		t.Fatalf("expected the note to be dropped")
	}
	if !strings.Contains(msg, "Storgatan 1") {
		t.Fatalf("expected the address to survive")
	}
	if !strings.HasSuffix(msg, "View full order: "+url) {
		t.Fatalf("expected full order link at the end:\n%s", msg)
	}

	longName := longNote
	longName.CustomerName = strings.Repeat("Å", MaxMessageLength)
	msg = FormatOrderMessage(longName)
	if n := utf8.RuneCountInString(msg); n != MaxMessageLength {
		t.Fatalf("expected a message cut to %d runes, got %d", MaxMessageLength, n)
	}
	if strings.Contains(msg, "Storgatan 1") {
		t.Fatalf("expected the address to be dropped before cutting")
	}
	if !strings.HasSuffix(msg, "\nView full order: "+url) {
		t.Fatalf("expected full order link to survive the cut")
	}
}
