package whatsapp

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// OrderLine is one item in the order message.
type OrderLine struct {
	Name      string
	Quantity  int
	LineTotal decimal.Decimal
}

// OrderSummary is everything the shop needs to confirm an order by chat.
type OrderSummary struct {
	StoreName     string
	OrderNumber   string
	OrderURL      string
	CustomerName  string
	Phone         string
	Email         string
	AddressLines  []string
	Items         []OrderLine
	Subtotal      decimal.Decimal
	ShippingLabel string
	ShippingCost  decimal.Decimal
	Total         decimal.Decimal
	Currency      string
	Note          string
}

// FormatOrderMessage renders the order as chat text. When the text would
// exceed MaxMessageLength the item list is cut short and a link to the full
// order is appended. If hiding every item is not enough the note and then the
// address are left out; the link line always survives the final cut.
func FormatOrderMessage(s OrderSummary) string {
	msg := renderOrder(s, len(s.Items))
	if fits(msg) {
		return msg
	}
	for shown := len(s.Items) - 1; shown >= 0; shown-- {
		msg = renderOrder(s, shown)
		if fits(msg) {
			return msg
		}
	}

	short := s
	short.Note = ""
	if msg = renderOrder(short, 0); fits(msg) {
		return msg
	}
	short.AddressLines = nil
	if msg = renderOrder(short, 0); fits(msg) {
		return msg
	}

	tail := strings.TrimRight(linkLine(short, 0), "\n")
	keep := MaxMessageLength - utf8.RuneCountInString(tail)
	if tail == "" || keep <= 0 {
		return truncateRunes(msg, MaxMessageLength)
	}
	return truncateRunes(strings.TrimSuffix(msg, tail), keep) + tail
}

func fits(msg string) bool {
	return utf8.RuneCountInString(msg) <= MaxMessageLength
}

// linkLine is the trailing "View full order" block, empty when every item is
// listed or there is no order URL.
func linkLine(s OrderSummary, shown int) string {
	if shown >= len(s.Items) || s.OrderURL == "" {
		return ""
	}
	return fmt.Sprintf("\nView full order: %s\n", s.OrderURL)
}

func renderOrder(s OrderSummary, shown int) string {
	currency := money(s.Currency)
	var b strings.Builder

	store := s.StoreName
	if store == "" {
		store = "Ideal Indiska LIVS"
	}
	fmt.Fprintf(&b, "Hi %s! I would like to place an order.\n\n", store)
	if s.OrderNumber != "" {
		fmt.Fprintf(&b, "Order #%s\n\n", s.OrderNumber)
	}

	b.WriteString("Items:\n")
	for _, item := range s.Items[:shown] {
		fmt.Fprintf(&b, "- %d x %s: %s\n", item.Quantity, item.Name, currency(item.LineTotal))
	}
	if hidden := len(s.Items) - shown; hidden > 0 {
		fmt.Fprintf(&b, "...and %d more item(s)\n", hidden)
	}

	fmt.Fprintf(&b, "\nSubtotal: %s\n", currency(s.Subtotal))
	if s.ShippingLabel != "" {
		fmt.Fprintf(&b, "Shipping (%s): %s\n", s.ShippingLabel, currency(s.ShippingCost))
	}
	fmt.Fprintf(&b, "Total: %s\n", currency(s.Total))

	if len(s.AddressLines) > 0 {
		b.WriteString("\nDelivery address:\n")
		for _, line := range s.AddressLines {
			if strings.TrimSpace(line) != "" {
				b.WriteString(line + "\n")
			}
		}
	}
	if s.CustomerName != "" {
		fmt.Fprintf(&b, "\nName: %s\n", s.CustomerName)
	}
	if s.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", s.Phone)
	}
	if s.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", s.Email)
	}
	if s.Note != "" {
		fmt.Fprintf(&b, "\nNote: %s\n", s.Note)
	}
	b.WriteString(linkLine(s, shown))
	return strings.TrimRight(b.String(), "\n")
}

func money(currency string) func(decimal.Decimal) string {
	suffix := "kr"
	if c := strings.ToUpper(strings.TrimSpace(currency)); c != "" && c != "SEK" {
		suffix = c
	}
	return func(d decimal.Decimal) string {
		return d.StringFixed(2) + " " + suffix
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
