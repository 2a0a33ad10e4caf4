package checkout

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/idealindiska/livs-backend/internal/shipping"
	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

// Customer is the contact block of the checkout form.
type Customer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// FullName joins first and last name.
func (c Customer) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// ShippingDetails is the delivery block of the checkout form.
type ShippingDetails struct {
	Address1 string `json:"address_1"`
	Address2 string `json:"address_2"`
	City     string `json:"city"`
	Postcode string `json:"postcode"`
	Country  string `json:"country"`
}

// CountryCode defaults to Sweden like cart addresses.
func (s ShippingDetails) CountryCode() string {
	return shipping.Address{Country: s.Country}.CountryCode()
}

// Lines renders the address for the order message.
func (s ShippingDetails) Lines() []string {
	lines := []string{strings.TrimSpace(s.Address1)}
	if a2 := strings.TrimSpace(s.Address2); a2 != "" {
		lines = append(lines, a2)
	}
	lines = append(lines, strings.TrimSpace(strings.TrimSpace(s.Postcode)+" "+strings.TrimSpace(s.City)))
	if c := s.CountryCode(); c != "SE" {
		lines = append(lines, c)
	}
	return lines
}

func (s ShippingDetails) destination() shipping.Address {
	return shipping.Address{
		Postcode: strings.TrimSpace(s.Postcode),
		City:     strings.TrimSpace(s.City),
		Country:  s.CountryCode(),
	}
}

func (s ShippingDetails) address(c Customer) woocommerce.Address {
	return woocommerce.Address{
		FirstName: strings.TrimSpace(c.FirstName),
		LastName:  strings.TrimSpace(c.LastName),
		Address1:  strings.TrimSpace(s.Address1),
		Address2:  strings.TrimSpace(s.Address2),
		City:      strings.TrimSpace(s.City),
		Postcode:  strings.TrimSpace(s.Postcode),
		Country:   s.CountryCode(),
		Email:     strings.TrimSpace(c.Email),
		Phone:     strings.TrimSpace(c.Phone),
	}
}

var (
	validate = newValidator()

	swedishPostcode = regexp.MustCompile(`^[1-9][0-9]{4}$`)
	phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("se_postcode", func(fl validator.FieldLevel) bool {
		return swedishPostcode.MatchString(strings.ReplaceAll(fl.Field().String(), " ", ""))
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		digits := strings.TrimPrefix(phoneSeparators.Replace(fl.Field().String()), "+")
		if len(digits) < 7 || len(digits) > 15 {
			return false
		}
		for _, r := range digits {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	})
	return v
}

// ValidateCustomer returns one message per invalid field, in form order.
func ValidateCustomer(c Customer) []string {
	return collect(
		check("First name", c.FirstName, "required,max=100"),
		check("Last name", c.LastName, "required,max=100"),
		check("Email", c.Email, "required,email,max=254"),
		check("Phone number", c.Phone, "required,phone"),
	)
}

// ValidateShipping returns one message per invalid field. Swedish addresses
// require a five digit postcode.
func ValidateShipping(s ShippingDetails) []string {
	postcodeRule := "required,max=16"
	if s.CountryCode() == "SE" {
		postcodeRule = "required,se_postcode"
	}
	return collect(
		check("Street address", s.Address1, "required,max=200"),
		check("Apartment", s.Address2, "max=200"),
		check("City", s.City, "required,max=100"),
		check("Postcode", s.Postcode, postcodeRule),
		check("Country", s.Country, "omitempty,len=2,alpha"),
	)
}

func check(label, value, rule string) string {
	err := validate.Var(strings.TrimSpace(value), rule)
	if err == nil {
		return ""
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return label + " is invalid"
	}
	switch fieldErrs[0].Tag() {
	case "required":
		return label + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", label, fieldErrs[0].Param())
	case "email":
		return "Please enter a valid email address"
	case "phone":
		return "Please enter a valid phone number"
	case "se_postcode":
		return "Please enter a valid Swedish postcode (5 digits)"
	case "len", "alpha":
		return label + " must be a two letter country code"
	}
	return label + " is invalid"
}

func collect(messages ...string) []string {
	out := []string{}
	for _, m := range messages {
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}

func joinNames(names []string) string {
	return strings.Join(names, ", ")
}
