package bundles

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Item is one product of a bundle offer.
type Item struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// Offer is a configured bundle. The bundle price is FixedPrice when set,
// otherwise the live original total minus Savings.
type Offer struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Items       []Item           `json:"items"`
	FixedPrice  *decimal.Decimal `json:"fixed_price,omitempty"`
	Savings     *decimal.Decimal `json:"savings,omitempty"`
}

type offerFile struct {
	Bundles []struct {
		ID          string `yaml:"id"`
		Title       string `yaml:"title"`
		Description string `yaml:"description"`
		FixedPrice  string `yaml:"fixed_price"`
		Savings     string `yaml:"savings"`
		Items       []struct {
			ProductID int64 `yaml:"product_id"`
			Quantity  int   `yaml:"quantity"`
		} `yaml:"items"`
	} `yaml:"bundles"`
}

// ParseOffers decodes the bundles YAML document.
func ParseOffers(data []byte) ([]Offer, error) {
	var file offerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse bundles: %w", err)
	}

	seen := map[string]struct{}{}
	offers := make([]Offer, 0, len(file.Bundles))
	for _, raw := range file.Bundles {
		id := strings.TrimSpace(raw.ID)
		if id == "" {
			return nil, fmt.Errorf("bundle id is required")
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate bundle id %q", id)
		}
		seen[id] = struct{}{}
		if len(raw.Items) == 0 {
			return nil, fmt.Errorf("bundle %q has no items", id)
		}

		offer := Offer{ID: id, Title: raw.Title, Description: raw.Description}
		for _, it := range raw.Items {
			qty := it.Quantity
			if qty == 0 {
				qty = 1
			}
			if it.ProductID <= 0 || qty < 0 {
				return nil, fmt.Errorf("bundle %q has an invalid item", id)
			}
			offer.Items = append(offer.Items, Item{ProductID: it.ProductID, Quantity: qty})
		}
		var err error
		if offer.FixedPrice, err = parseAmount(raw.FixedPrice); err != nil {
			return nil, fmt.Errorf("bundle %q fixed_price: %w", id, err)
		}
		if offer.Savings, err = parseAmount(raw.Savings); err != nil {
			return nil, fmt.Errorf("bundle %q savings: %w", id, err)
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

// LoadOffers reads the bundles file. An empty path yields no offers.
func LoadOffers(path string) ([]Offer, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundles %q: %w", path, err)
	}
	return ParseOffers(data)
}

func parseAmount(s string) (*decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("must be non-negative")
	}
	return &d, nil
}
