package commerce

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

// QuantityLimits is the per-order quantity cap table. A cap of 0 means
// unlimited. Product caps win over category caps, which win over Default.
type QuantityLimits struct {
	Default    int            `yaml:"default"`
	Products   map[int64]int  `yaml:"products"`
	Categories map[string]int `yaml:"categories"`
}

type rulesFile struct {
	QuantityLimits QuantityLimits `yaml:"quantity_limits"`
}

// Notification is a warning surfaced to the shopper next to the cart.
type Notification struct {
	Level     string `json:"level"`
	ProductID int64  `json:"product_id"`
	Message   string `json:"message"`
}

// Rules evaluates quantity caps. The zero value allows any quantity.
type Rules struct {
	limits QuantityLimits
}

func NewRules(limits QuantityLimits) (*Rules, error) {
	if limits.Default < 0 {
		return nil, fmt.Errorf("default quantity limit must be non-negative")
	}
	for id, limit := range limits.Products {
		if limit < 0 {
			return nil, fmt.Errorf("quantity limit for product %d must be non-negative", id)
		}
	}
	for slug, limit := range limits.Categories {
		if limit < 0 {
			return nil, fmt.Errorf("quantity limit for category %q must be non-negative", slug)
		}
	}
	return &Rules{limits: limits}, nil
}

// ParseRules decodes the commerce rules YAML document.
func ParseRules(data []byte) (*Rules, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse commerce rules: %w", err)
	}
	return NewRules(file.QuantityLimits)
}

// LoadRules reads the rules file. An empty path yields unlimited rules.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return &Rules{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read commerce rules %q: %w", path, err)
	}
	return ParseRules(data)
}

// LimitFor returns the cap for a product; 0 means unlimited.
func (r *Rules) LimitFor(p woocommerce.Product) int {
	if r == nil {
		return 0
	}
	if limit, ok := r.limits.Products[p.ID]; ok {
		return limit
	}
	best := 0
	for _, c := range p.Categories {
		limit, ok := r.limits.Categories[c.Slug]
		if !ok || limit == 0 {
			continue
		}
		if best == 0 || limit < best {
			best = limit
		}
	}
	if best > 0 {
		return best
	}
	return r.limits.Default
}

// CheckAdd returns how many of requested may be added on top of current.
// A notification is returned when the request would exceed the cap.
func (r *Rules) CheckAdd(p woocommerce.Product, current, requested int) (int, *Notification) {
	limit := r.LimitFor(p)
	if limit == 0 || current+requested <= limit {
		return requested, nil
	}
	allowed := limit - current
	if allowed < 0 {
		allowed = 0
	}
	return allowed, limitNotification(p, limit)
}

// CheckSet clamps an absolute quantity to the cap.
func (r *Rules) CheckSet(p woocommerce.Product, requested int) (int, *Notification) {
	limit := r.LimitFor(p)
	if limit == 0 || requested <= limit {
		return requested, nil
	}
	return limit, limitNotification(p, limit)
}

func limitNotification(p woocommerce.Product, limit int) *Notification {
	return &Notification{
		Level:     "warning",
		ProductID: p.ID,
		Message:   fmt.Sprintf("You can buy at most %d of %s per order.", limit, p.Name),
	}
}
