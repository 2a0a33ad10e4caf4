package cart

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/idealindiska/livs-backend/internal/commerce"
	"github.com/idealindiska/livs-backend/internal/shipping"
	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

// QuantityPolicy clamps quantities to the configured per-order caps.
type QuantityPolicy interface {
	CheckAdd(p woocommerce.Product, current, requested int) (int, *commerce.Notification)
	CheckSet(p woocommerce.Product, requested int) (int, *commerce.Notification)
}

// ShippingQuoter prices a destination for the current cart lines.
type ShippingQuoter interface {
	Quote(ctx context.Context, req shipping.QuoteRequest) (*shipping.Quote, error)
}

// Item is one cart line, identified by product and optional variation.
// Bundle lines carry the offer id and keep their allocated unit price apart
// from regular lines of the same product.
type Item struct {
	Key         string                 `json:"key"`
	ProductID   int64                  `json:"product_id"`
	VariationID int64                  `json:"variation_id,omitempty"`
	Bundle      string                 `json:"bundle,omitempty"`
	Quantity    int                    `json:"quantity"`
	UnitPrice   decimal.Decimal        `json:"unit_price"`
	Product     woocommerce.Product    `json:"product"`
	Variation   *woocommerce.Variation `json:"variation,omitempty"`
}

// LineTotal is unit price times quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemKey returns "productId" or "productId-variationId".
func ItemKey(productID, variationID int64) string {
	if variationID > 0 {
		return fmt.Sprintf("%d-%d", productID, variationID)
	}
	return fmt.Sprintf("%d", productID)
}

// BundleItemKey returns "productId~bundleId", with a "~part" suffix for the
// extra lines a bundle splits one product into.
func BundleItemKey(bundleID string, productID int64, part int) string {
	if part > 0 {
		return fmt.Sprintf("%d~%s~%d", productID, bundleID, part)
	}
	return fmt.Sprintf("%d~%s", productID, bundleID)
}

// Store holds one shopper's cart and shipping selection. It is safe for
// concurrent use; shipping quotes run outside the lock and are applied only
// when no newer calculation or item change superseded them.
type Store struct {
	mu     sync.Mutex
	policy QuantityPolicy

	items         []Item
	address       *shipping.Address
	methods       []shipping.Method
	selected      *shipping.Method
	restricted    []shipping.RestrictedProduct
	degraded      bool
	threshold     decimal.Decimal
	amountToFree  decimal.Decimal
	notifications []commerce.Notification

	seq     uint64
	pending uint64
	loaded  string
}

// NewStore returns an empty cart. A nil policy allows any quantity.
func NewStore(policy QuantityPolicy) *Store {
	return &Store{policy: policy}
}

// AddItem adds quantity of the product (or variation) and returns how many
// were actually added after applying the quantity cap. Reaching the cap
// queues a warning notification instead of failing.
func (s *Store) AddItem(product woocommerce.Product, quantity int, variation *woocommerce.Variation) int {
	if quantity <= 0 {
		return 0
	}
	var variationID int64
	if variation != nil {
		variationID = variation.ID
	}
	return s.add(Item{
		Key:         ItemKey(product.ID, variationID),
		ProductID:   product.ID,
		VariationID: variationID,
		UnitPrice:   unitPrice(product, variation),
		Product:     product,
		Variation:   variation,
	}, quantity)
}

// AddBundleItem adds a bundle line priced at its allocated unit price. Adding
// the same bundle again grows the existing line.
func (s *Store) AddBundleItem(bundleID string, part int, product woocommerce.Product, quantity int) int {
	if quantity <= 0 {
		return 0
	}
	return s.add(Item{
		Key:       BundleItemKey(bundleID, product.ID, part),
		ProductID: product.ID,
		Bundle:    bundleID,
		UnitPrice: unitPrice(product, nil),
		Product:   product,
	}, quantity)
}

func (s *Store) add(line Item, quantity int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(line.Key)
	current := 0
	if idx >= 0 {
		current = s.items[idx].Quantity
	}
	allowed := quantity
	if s.policy != nil {
		var note *commerce.Notification
		allowed, note = s.policy.CheckAdd(line.Product, current, quantity)
		if note != nil {
			s.notifications = append(s.notifications, *note)
		}
	}
	if allowed <= 0 {
		return 0
	}

	if idx >= 0 {
		s.items[idx].Quantity += allowed
	} else {
		line.Quantity = allowed
		s.items = append(s.items, line)
	}
	s.seq++
	return allowed
}

// UpdateQuantity sets the quantity of a line; zero or below removes it.
// It reports whether the line exists. Bundle lines can only be removed.
func (s *Store) UpdateQuantity(key string, quantity int) bool {
	if quantity <= 0 {
		return s.RemoveItem(key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(key)
	if idx < 0 || s.items[idx].Bundle != "" {
		return false
	}
	allowed := quantity
	if s.policy != nil {
		var note *commerce.Notification
		allowed, note = s.policy.CheckSet(s.items[idx].Product, quantity)
		if note != nil {
			s.notifications = append(s.notifications, *note)
		}
	}
	s.items[idx].Quantity = allowed
	s.seq++
	return true
}

// RemoveItem drops the line and reports whether it existed.
func (s *Store) RemoveItem(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(key)
	if idx < 0 {
		return false
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.seq++
	return true
}

// ClearCart empties the line items. Shipping state is kept; see ClearShipping.
func (s *Store) ClearCart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.seq++
}

// ClearShipping drops the address, quote and selected method.
func (s *Store) ClearShipping() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = nil
	s.resetQuoteLocked()
	s.selected = nil
	s.pending = 0
	s.seq++
}

// SetShippingAddress replaces the address and starts a new calculation. The
// returned ticket must be awaited to fetch and apply the quote.
func (s *Store) SetShippingAddress(addr shipping.Address) *ShippingTicket {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := addr
	s.address = &a
	s.seq++
	return s.beginLocked()
}

// BeginShipping starts a calculation for the current items and address.
func (s *Store) BeginShipping() *ShippingTicket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beginLocked()
}

// CalculateShipping quotes the current cart and applies the result. It is a
// no-op for an empty cart or a missing address. Failures clear the quote and
// are returned for logging; the cart itself stays usable.
func (s *Store) CalculateShipping(ctx context.Context, quoter ShippingQuoter) error {
	_, err := s.BeginShipping().Await(ctx, quoter)
	return err
}

// SelectShippingMethod overrides the selected method. The caller is trusted
// to pass one of the available methods.
func (s *Store) SelectShippingMethod(method shipping.Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := method
	s.selected = &m
}

func (s *Store) beginLocked() *ShippingTicket {
	if len(s.items) == 0 || s.address == nil {
		return &ShippingTicket{}
	}
	s.seq++
	s.pending = s.seq
	return &ShippingTicket{
		store: s,
		seq:   s.seq,
		ready: true,
		req: shipping.QuoteRequest{
			Address:  *s.address,
			Lines:    s.linesLocked(),
			Subtotal: s.subtotalLocked(),
		},
	}
}

func (s *Store) apply(seq uint64, quote *shipping.Quote, quoteErr error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.seq {
		if s.pending == seq {
			s.pending = 0
		}
		return false
	}
	s.pending = 0
	if quoteErr != nil || quote == nil {
		s.resetQuoteLocked()
		s.selected = nil
		return true
	}

	s.methods = append([]shipping.Method(nil), quote.Methods...)
	s.restricted = append([]shipping.RestrictedProduct(nil), quote.Restrictions.Restricted...)
	s.degraded = quote.Restrictions.Degraded
	s.threshold = quote.FreeShippingThreshold
	s.amountToFree = quote.AmountToFreeShipping
	s.selected = autoSelect(s.methods, s.subtotalLocked(), s.threshold)
	return true
}

// autoSelect picks free shipping only once the subtotal reaches the
// threshold, otherwise the first paid method in the order returned.
func autoSelect(methods []shipping.Method, subtotal, threshold decimal.Decimal) *shipping.Method {
	if subtotal.GreaterThanOrEqual(threshold) {
		for i := range methods {
			if methods[i].IsFree() {
				m := methods[i]
				return &m
			}
		}
	}
	for i := range methods {
		if !methods[i].IsFree() {
			m := methods[i]
			return &m
		}
	}
	return nil
}

func (s *Store) resetQuoteLocked() {
	s.methods = nil
	s.restricted = nil
	s.degraded = false
	s.threshold = decimal.Zero
	s.amountToFree = decimal.Zero
}

func (s *Store) indexLocked(key string) int {
	for i := range s.items {
		if s.items[i].Key == key {
			return i
		}
	}
	return -1
}

func (s *Store) linesLocked() []shipping.Line {
	lines := make([]shipping.Line, 0, len(s.items))
	for _, item := range s.items {
		lines = append(lines, shipping.Line{
			ProductID:   item.ProductID,
			VariationID: item.VariationID,
			Quantity:    item.Quantity,
			LineTotal:   item.LineTotal(),
		})
	}
	return lines
}

func (s *Store) subtotalLocked() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// Subtotal is the sum of unit price times quantity over all lines.
func (s *Store) Subtotal() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subtotalLocked()
}

// TotalItems is the sum of line quantities.
func (s *Store) TotalItems() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.items {
		n += item.Quantity
	}
	return n
}

// ShippingCost is the cost of the selected method, or zero.
func (s *Store) ShippingCost() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shippingCostLocked()
}

func (s *Store) shippingCostLocked() decimal.Decimal {
	if s.selected == nil {
		return decimal.Zero
	}
	return s.selected.Cost
}

// Total is subtotal plus shipping cost.
func (s *Store) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subtotalLocked().Add(s.shippingCostLocked())
}

// Items returns a copy of the cart lines.
func (s *Store) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Item(nil), s.items...)
}

// Item returns the line with key.
func (s *Store) Item(key string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(key)
	if idx < 0 {
		return Item{}, false
	}
	return s.items[idx], true
}

func (s *Store) ShippingAddress() *shipping.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.address == nil {
		return nil
	}
	a := *s.address
	return &a
}

func (s *Store) AvailableShippingMethods() []shipping.Method {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]shipping.Method(nil), s.methods...)
}

func (s *Store) SelectedShippingMethod() *shipping.Method {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return nil
	}
	m := *s.selected
	return &m
}

func (s *Store) RestrictedProducts() []shipping.RestrictedProduct {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]shipping.RestrictedProduct(nil), s.restricted...)
}

func (s *Store) FreeShippingThreshold() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threshold
}

// IsCalculatingShipping reports whether the latest calculation is in flight.
func (s *Store) IsCalculatingShipping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != 0
}

// Notifications drains the queued cap warnings.
func (s *Store) Notifications() []commerce.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.notifications
	s.notifications = nil
	return out
}

func unitPrice(product woocommerce.Product, variation *woocommerce.Variation) decimal.Decimal {
	base := product.Price.Or(product.RegularPrice.Or(decimal.Zero))
	if variation != nil {
		return variation.Price.Or(variation.RegularPrice.Or(base))
	}
	return base
}

// ShippingTicket is one shipping calculation. Its result is applied only if
// the cart has not changed since the ticket was issued.
type ShippingTicket struct {
	store *Store
	seq   uint64
	req   shipping.QuoteRequest
	ready bool
}

// Ready reports whether there is anything to calculate.
func (t *ShippingTicket) Ready() bool {
	return t != nil && t.ready
}

// Request is the quote input captured when the ticket was issued.
func (t *ShippingTicket) Request() shipping.QuoteRequest {
	return t.req
}

// Await runs the quote and applies it. applied is false when the ticket was
// superseded and the response discarded.
func (t *ShippingTicket) Await(ctx context.Context, quoter ShippingQuoter) (applied bool, err error) {
	if !t.Ready() {
		return false, nil
	}
	if quoter == nil {
		return false, fmt.Errorf("shipping quoter required")
	}
	quote, err := quoter.Quote(ctx, t.req)
	applied = t.store.apply(t.seq, quote, err)
	if !applied {
		return false, nil
	}
	return true, err
}
