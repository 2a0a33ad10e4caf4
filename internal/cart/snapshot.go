package cart

import (
	"github.com/shopspring/decimal"

	"github.com/idealindiska/livs-backend/internal/commerce"
	"github.com/idealindiska/livs-backend/internal/shipping"
)

// Snapshot is the persisted form of a Store.
type Snapshot struct {
	Items                 []Item                       `json:"items"`
	ShippingAddress       *shipping.Address            `json:"shipping_address,omitempty"`
	AvailableMethods      []shipping.Method            `json:"available_shipping_methods"`
	SelectedMethod        *shipping.Method             `json:"selected_shipping_method,omitempty"`
	RestrictedProducts    []shipping.RestrictedProduct `json:"restricted_products"`
	RestrictionsDegraded  bool                         `json:"restrictions_degraded,omitempty"`
	FreeShippingThreshold decimal.Decimal              `json:"free_shipping_threshold"`
	AmountToFreeShipping  decimal.Decimal              `json:"amount_to_free_shipping"`

	// loaded is the stored payload the snapshot was read from.
	loaded string
}

// Snapshot copies the store state. Queued notifications are not included.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Items:                 append([]Item{}, s.items...),
		AvailableMethods:      append([]shipping.Method{}, s.methods...),
		RestrictedProducts:    append([]shipping.RestrictedProduct{}, s.restricted...),
		RestrictionsDegraded:  s.degraded,
		FreeShippingThreshold: s.threshold,
		AmountToFreeShipping:  s.amountToFree,
		loaded:                s.loaded,
	}
	if s.address != nil {
		a := *s.address
		snap.ShippingAddress = &a
	}
	if s.selected != nil {
		m := *s.selected
		snap.SelectedMethod = &m
	}
	return snap
}

// Restore replaces the store state with snap. Calculations in flight are
// discarded.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append([]Item(nil), snap.Items...)
	s.address = nil
	if snap.ShippingAddress != nil {
		a := *snap.ShippingAddress
		s.address = &a
	}
	s.methods = append([]shipping.Method(nil), snap.AvailableMethods...)
	s.selected = nil
	if snap.SelectedMethod != nil {
		m := *snap.SelectedMethod
		s.selected = &m
	}
	s.restricted = append([]shipping.RestrictedProduct(nil), snap.RestrictedProducts...)
	s.degraded = snap.RestrictionsDegraded
	s.threshold = snap.FreeShippingThreshold
	s.amountToFree = snap.AmountToFreeShipping
	s.loaded = snap.loaded
	s.pending = 0
	s.seq++
}

// ItemView is a cart line with its computed total.
type ItemView struct {
	Item
	LineTotal decimal.Decimal `json:"line_total"`
}

// View is the cart as rendered to the storefront.
type View struct {
	Items                 []ItemView                   `json:"items"`
	ShippingAddress       *shipping.Address            `json:"shipping_address,omitempty"`
	AvailableMethods      []shipping.Method            `json:"available_shipping_methods"`
	SelectedMethod        *shipping.Method             `json:"selected_shipping_method,omitempty"`
	RestrictedProducts    []shipping.RestrictedProduct `json:"restricted_products"`
	RestrictionsDegraded  bool                         `json:"restrictions_degraded,omitempty"`
	FreeShippingThreshold decimal.Decimal              `json:"free_shipping_threshold"`
	AmountToFreeShipping  decimal.Decimal              `json:"amount_to_free_shipping"`
	IsCalculatingShipping bool                         `json:"is_calculating_shipping"`
	Subtotal              decimal.Decimal              `json:"subtotal"`
	ShippingCost          decimal.Decimal              `json:"shipping_cost"`
	Total                 decimal.Decimal              `json:"total"`
	TotalItems            int                          `json:"total_items"`
	Notifications         []commerce.Notification      `json:"notifications,omitempty"`
}

// View renders the cart and drains queued notifications.
func (s *Store) View() *View {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshotLocked()
	view := &View{
		Items:                 make([]ItemView, 0, len(snap.Items)),
		ShippingAddress:       snap.ShippingAddress,
		AvailableMethods:      snap.AvailableMethods,
		SelectedMethod:        snap.SelectedMethod,
		RestrictedProducts:    snap.RestrictedProducts,
		RestrictionsDegraded:  snap.RestrictionsDegraded,
		FreeShippingThreshold: snap.FreeShippingThreshold,
		AmountToFreeShipping:  snap.AmountToFreeShipping,
		IsCalculatingShipping: s.pending != 0,
		Subtotal:              s.subtotalLocked(),
		ShippingCost:          s.shippingCostLocked(),
		Notifications:         s.notifications,
	}
	for _, item := range snap.Items {
		view.Items = append(view.Items, ItemView{Item: item, LineTotal: item.LineTotal()})
		view.TotalItems += item.Quantity
	}
	view.Total = view.Subtotal.Add(view.ShippingCost)
	s.notifications = nil
	return view
}
