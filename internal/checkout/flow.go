package checkout

import (
	"fmt"

	"github.com/idealindiska/livs-backend/internal/cart"
	"github.com/idealindiska/livs-backend/internal/shipping"
	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
)

// State is a step of the storefront checkout.
type State string

const (
	StateCollectingAddress State = "collecting-shipping-address"
	StateSelectingMethod   State = "selecting-shipping-method"
	StateSelectingPayment  State = "selecting-payment-method"
	StateConfirmingPayment State = "confirming-payment"
	StateOrderUpdated      State = "order-updated"
	StateOrderUpdateFailed State = "order-update-failed"
)

// Terminal reports whether no further transition leaves the state.
func (s State) Terminal() bool {
	return s == StateOrderUpdated || s == StateOrderUpdateFailed
}

// Flow tracks one checkout attempt. It is not safe for concurrent use.
type Flow struct {
	state   State
	blocked string
}

// NewFlow starts a checkout at address collection.
func NewFlow() *Flow {
	return &Flow{state: StateCollectingAddress}
}

// ResumeFlow derives the furthest reachable pre-payment state of a cart.
func ResumeFlow(view *cart.View) *Flow {
	f := NewFlow()
	if view == nil || view.ShippingAddress == nil {
		return f
	}
	if err := f.EnterMethodSelection(view); err != nil {
		return f
	}
	_ = f.EnterPaymentSelection(view)
	return f
}

func (f *Flow) State() State { return f.state }

// Blocked explains why the flow is held at address collection, if it is.
func (f *Flow) Blocked() string { return f.blocked }

// EnterMethodSelection requires a quoted destination with methods and no
// restricted products.
func (f *Flow) EnterMethodSelection(view *cart.View) error {
	if err := f.expect(StateCollectingAddress, StateSelectingMethod, StateSelectingPayment); err != nil {
		return err
	}
	switch {
	case view == nil || view.ShippingAddress == nil:
		f.blocked = "Please enter a shipping address"
	case len(view.RestrictedProducts) > 0:
		f.blocked = restrictedMessage(view.RestrictedProducts)
	case len(view.AvailableMethods) == 0:
		f.blocked = "No shipping methods are available for this address"
	default:
		f.blocked = ""
		f.state = StateSelectingMethod
		return nil
	}
	f.state = StateCollectingAddress
	return pkgerrors.New(pkgerrors.CodeStateConflict, f.blocked)
}

// EnterPaymentSelection requires a selected shipping method.
func (f *Flow) EnterPaymentSelection(view *cart.View) error {
	if err := f.expect(StateSelectingMethod, StateSelectingPayment); err != nil {
		return err
	}
	if view == nil || view.SelectedMethod == nil {
		f.state = StateSelectingMethod
		return pkgerrors.New(pkgerrors.CodeStateConflict, "Please choose a shipping method")
	}
	f.state = StateSelectingPayment
	return nil
}

// StartPayment moves to confirmation once a payment has been initiated.
func (f *Flow) StartPayment() error {
	if err := f.expect(StateSelectingPayment); err != nil {
		return err
	}
	f.state = StateConfirmingPayment
	return nil
}

// Complete records whether the order update after payment succeeded.
func (f *Flow) Complete(updated bool) error {
	if err := f.expect(StateConfirmingPayment); err != nil {
		return err
	}
	if updated {
		f.state = StateOrderUpdated
	} else {
		f.state = StateOrderUpdateFailed
	}
	return nil
}

func (f *Flow) expect(allowed ...State) error {
	for _, s := range allowed {
		if f.state == s {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("checkout cannot leave %s here", f.state))
}

func restrictedMessage(restricted []shipping.RestrictedProduct) string {
	names := make([]string, 0, len(restricted))
	for _, p := range restricted {
		names = append(names, p.ProductName)
	}
	return "Some products cannot be delivered to your address: " + joinNames(names)
}
