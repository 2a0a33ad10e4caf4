package stripe

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/idealindiska/livs-backend/pkg/config"
)

func TestNewClientValidatesConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     config.StripeConfig
		wantErr bool
	}{
		{name: "ok test", cfg: config.StripeConfig{SecretKey: "sk_test_123", WebhookSecret: "whsec_1"}},
		{name: "missing key", cfg: config.StripeConfig{WebhookSecret: "whsec_1"}, wantErr: true},
		{name: "missing secret", cfg: config.StripeConfig{SecretKey: "sk_test_123"}, wantErr: true},
		{name: "live key in test", cfg: config.StripeConfig{SecretKey: "sk_live_123", WebhookSecret: "whsec_1"}, wantErr: true},
		{name: "bad env", cfg: config.StripeConfig{Env: "staging", SecretKey: "sk_test_123", WebhookSecret: "whsec_1"}, wantErr: true},
		{name: "ok live", cfg: config.StripeConfig{Env: "live", SecretKey: "rk_live_123", WebhookSecret: "whsec_1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), tc.cfg, nil)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if client.SigningSecret() != "whsec_1" {
				t.Fatalf("unexpected signing secret %q", client.SigningSecret())
			}
			if client.Currency() != "sek" {
				t.Fatalf("expected default sek currency, got %q", client.Currency())
			}
		})
	}
}

func TestMinorUnits(t *testing.T) {
	if got := MinorUnits(decimal.RequireFromString("147.50"), "sek"); got != 14750 {
		t.Fatalf("expected 14750, got %d", got)
	}
	if got := MinorUnits(decimal.RequireFromString("99.999"), "SEK"); got != 10000 {
		t.Fatalf("expected rounding to 10000, got %d", got)
	}
	if got := MinorUnits(decimal.RequireFromString("1200"), "jpy"); got != 1200 {
		t.Fatalf("zero-decimal currency should not scale, got %d", got)
	}
	if got := FromMinorUnits(14750, "sek"); !got.Equal(decimal.RequireFromString("147.5")) {
		t.Fatalf("unexpected inverse %s", got)
	}
}

func TestCreatePaymentIntentRejectsNonPositiveAmount(t *testing.T) {
	client, err := NewClient(context.Background(), config.StripeConfig{SecretKey: "sk_test_123", WebhookSecret: "whsec_1"}, nil)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if _, err := client.CreatePaymentIntent(context.Background(), PaymentIntentParams{Amount: decimal.Zero}); err == nil {
		t.Fatal("expected zero amount to be rejected before calling stripe")
	}
}

func TestNilClientAccessors(t *testing.T) {
	var c *Client
	if c.SigningSecret() != "" || c.PublishableKey() != "" || c.Environment() != "" {
		t.Fatal("nil client accessors should be empty")
	}
	if _, err := c.GetPaymentIntent(context.Background(), "pi_1"); err == nil {
		t.Fatal("expected nil client error")
	}
}
