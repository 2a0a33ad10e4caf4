package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

// wcDateLayout is the WooCommerce site-local timestamp format.
const wcDateLayout = "2006-01-02T15:04:05"

// ValidateCoupon checks a coupon against the cart subtotal and shopper email.
// Every failed rule adds one message; an upstream failure yields a single
// retry message rather than an error.
func (s *service) ValidateCoupon(ctx context.Context, input CouponInput) *CouponResult {
	code := strings.TrimSpace(input.Code)
	res := &CouponResult{Code: code, Amount: decimal.Zero, Errors: []string{}}
	if code == "" {
		res.Errors = append(res.Errors, "Coupon code is required")
		return res
	}

	coupon, err := s.upstream.GetCouponByCode(ctx, code)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			res.Errors = append(res.Errors, fmt.Sprintf("Coupon %q does not exist", code))
			return res
		}
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"coupon": code, "error": err.Error()}), "catalog.coupon.lookup_failed")
		res.Errors = append(res.Errors, "Could not validate the coupon right now, please try again")
		return res
	}

	res.Code = coupon.Code
	res.DiscountType = coupon.DiscountType
	res.Amount = coupon.Amount.Or(decimal.Zero)
	res.Errors = couponErrors(*coupon, input.Subtotal, input.Email, s.now())
	res.Valid = len(res.Errors) == 0
	return res
}

func couponErrors(c woocommerce.Coupon, subtotal decimal.Decimal, email string, now time.Time) []string {
	errs := []string{}
	if c.DateExpires != nil && *c.DateExpires != "" {
		if expires, err := time.ParseInLocation(wcDateLayout, *c.DateExpires, now.Location()); err == nil && !now.Before(expires) {
			errs = append(errs, "This coupon has expired")
		}
	}
	if c.UsageLimit != nil && *c.UsageLimit > 0 && c.UsageCount >= *c.UsageLimit {
		errs = append(errs, "This coupon has reached its usage limit")
	}
	if c.MinimumAmount.Valid && c.MinimumAmount.Amount.IsPositive() && subtotal.LessThan(c.MinimumAmount.Amount) {
		errs = append(errs, fmt.Sprintf("The minimum spend for this coupon is %s kr", c.MinimumAmount.Amount.StringFixed(2)))
	}
	if c.MaximumAmount.Valid && c.MaximumAmount.Amount.IsPositive() && subtotal.GreaterThan(c.MaximumAmount.Amount) {
		errs = append(errs, fmt.Sprintf("The maximum spend for this coupon is %s kr", c.MaximumAmount.Amount.StringFixed(2)))
	}
	if len(c.EmailRestrictions) > 0 && !emailAllowed(c.EmailRestrictions, email) {
		errs = append(errs, "This coupon is not valid for your email address")
	}
	return errs
}

// emailAllowed matches WooCommerce restrictions, which may use "*" wildcards.
func emailAllowed(allowed []string, email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, pattern := range allowed {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == email {
			return true
		}
		if prefix, suffix, ok := strings.Cut(pattern, "*"); ok &&
			len(email) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(email, prefix) && strings.HasSuffix(email, suffix) {
			return true
		}
	}
	return false
}
