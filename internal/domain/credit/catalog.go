package credit

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mwork/credits-api/internal/pkg/sanitize"
)

// CatalogEntry is one product as written in a catalog file. A product with
// no platforms listed is sold on every platform.
type CatalogEntry struct {
	ProductID      string                 `yaml:"product_id"`
	Name           string                 `yaml:"name"`
	Description    string                 `yaml:"description"`
	Credits        int                    `yaml:"credits"`
	BonusCredits   int                    `yaml:"bonus_credits"`
	Price          float64                `yaml:"price"`
	Currency       string                 `yaml:"currency"`
	LocalizedPrice string                 `yaml:"localized_price"`
	Platforms      []string               `yaml:"platforms"`
	Popular        bool                   `yaml:"popular"`
	Active         *bool                  `yaml:"active"`
	SortOrder      int                    `yaml:"sort_order"`
	Metadata       map[string]interface{} `yaml:"metadata"`
}

// Catalog is a parsed product catalog file.
type Catalog struct {
	Currency string         `yaml:"currency"`
	Products []CatalogEntry `yaml:"products"`
}

// LoadCatalog reads and parses a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses and validates catalog YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if len(c.Products) == 0 {
		return nil, fmt.Errorf("catalog has no products defined")
	}

	// Apply defaults
	if c.Currency == "" {
		c.Currency = "USD"
	}

	for i, p := range c.Products {
		p.ProductID = strings.TrimSpace(p.ProductID)
		if p.ProductID == "" {
			return nil, fmt.Errorf("product #%d: product_id is required", i+1)
		}
		// Names and descriptions are shown in store UIs as plain text.
		p.Name = strings.TrimSpace(sanitize.StripTags(p.Name))
		p.Description = strings.TrimSpace(sanitize.StripTags(p.Description))
		if p.Name == "" {
			return nil, fmt.Errorf("product %q: name is required", p.ProductID)
		}
		if p.Credits <= 0 {
			return nil, fmt.Errorf("product %q: credits must be positive", p.ProductID)
		}
		if p.BonusCredits < 0 || p.Price < 0 {
			return nil, fmt.Errorf("product %q: bonus_credits and price must not be negative", p.ProductID)
		}
		if p.Currency == "" {
			p.Currency = c.Currency
		}
		if len(p.Platforms) == 0 {
			p.Platforms = []string{string(PlatformIOS), string(PlatformAndroid), string(PlatformWeb)}
		}
		for _, pl := range p.Platforms {
			if !Platform(pl).Valid() {
				return nil, fmt.Errorf("product %q: unknown platform %q", p.ProductID, pl)
			}
		}
		if p.SortOrder == 0 {
			p.SortOrder = (i + 1) * 10
		}
		c.Products[i] = p
	}

	return &c, nil
}

// ToProducts expands the catalog into one Product per (product_id, platform).
func (c *Catalog) ToProducts() []Product {
	out := make([]Product, 0, len(c.Products)*3)
	for _, e := range c.Products {
		active := true
		if e.Active != nil {
			active = *e.Active
		}
		for _, pl := range e.Platforms {
			p := Product{
				ProductID:    e.ProductID,
				Name:         e.Name,
				Credits:      e.Credits,
				BonusCredits: e.BonusCredits,
				Price:        e.Price,
				Currency:     e.Currency,
				Platform:     Platform(pl),
				IsPopular:    e.Popular,
				IsActive:     active,
				SortOrder:    e.SortOrder,
				Metadata:     Metadata(e.Metadata),
			}
			if e.Description != "" {
				p.Description = strPtr(e.Description)
			}
			if e.LocalizedPrice != "" {
				p.LocalizedPrice = strPtr(e.LocalizedPrice)
			}
			out = append(out, p)
		}
	}
	return out
}
