package credit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleCatalog = `
currency: USD
products:
  - product_id: credits_100
    name: Starter
    credits: 100
    price: 0.99
    platforms: [ios, android]
  - product_id: credits_500
    name: Popular
    credits: 500
    bonus_credits: 50
    price: 3.99
    popular: true
    localized_price: "$3.99"
  - product_id: credits_legacy
    name: Legacy
    credits: 20
    price: 0.49
    currency: EUR
    active: false
    sort_order: 5
    platforms: [web]
`

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(sampleCatalog))
	mustNoErr(t, err)

	products := c.ToProducts()
	if len(products) != 2+3+1 {
		t.Fatalf("expected 6 products, got %d", len(products))
	}

	byKey := make(map[string]Product)
	for _, p := range products {
		byKey[p.ProductID+"/"+string(p.Platform)] = p
	}

	starter, ok := byKey["credits_100/ios"]
	if !ok || starter.SortOrder != 10 || !starter.IsActive || starter.Currency != "USD" {
		t.Fatalf("unexpected starter: %+v", starter)
	}
	if _, ok := byKey["credits_100/web"]; ok {
		t.Fatal("starter should not be sold on web")
	}

	popular := byKey["credits_500/web"]
	if !popular.IsPopular || popular.SortOrder != 20 || popular.LocalizedPrice == nil || PurchaseCredits(popular) != 605 {
		t.Fatalf("unexpected popular: %+v", popular)
	}

	legacy := byKey["credits_legacy/web"]
	if legacy.IsActive || legacy.Currency != "EUR" || legacy.SortOrder != 5 {
		t.Fatalf("unexpected legacy: %+v", legacy)
	}
}

func TestParseCatalogErrors(t *testing.T) {
	tests := map[string]string{
		"empty":        "currency: USD\n",
		"no id":        "products:\n  - name: x\n    credits: 1\n",
		"no credits":   "products:\n  - product_id: a\n    name: x\n",
		"bad platform": "products:\n  - product_id: a\n    name: x\n    credits: 1\n    platforms: [desktop]\n",
		"negative":     "products:\n  - product_id: a\n    name: x\n    credits: 1\n    price: -1\n",
		"invalid yaml": "products: [",
		"markup name":  "products:\n  - product_id: a\n    name: \"<i></i>\"\n    credits: 1\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCatalog([]byte(data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseCatalogStripsMarkup(t *testing.T) {
	data := `
products:
  - product_id: credits_mega
    name: "<b>Mega</b> pack"
    description: "<script>alert(1)</script>Best value <a href='x'>today</a>"
    credits: 1000
    platforms: [ios]
  - product_id: credits_plain
    name: Plain
    credits: 10
    platforms: [ios]
`
	c, err := ParseCatalog([]byte(data))
	mustNoErr(t, err)

	products := c.ToProducts()
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	mega := products[0]
	if mega.Name != "Mega pack" {
		t.Fatalf("unexpected name %q", mega.Name)
	}
	if mega.Description == nil || strings.ContainsAny(*mega.Description, "<>") || !strings.Contains(*mega.Description, "Best value") {
		t.Fatalf("unexpected description %v", mega.Description)
	}
	if products[1].Description != nil {
		t.Fatalf("empty description should stay unset, got %q", *products[1].Description)
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadCatalog(path)
	mustNoErr(t, err)
	if len(c.Products) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(c.Products))
	}

	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
