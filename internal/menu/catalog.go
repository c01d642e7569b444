// Package menu is the restaurant ordering collaborator: a menu catalog plus
// per-call carts and orders keyed by the telephony stream id.
package menu

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_menu.yaml
var defaultMenu []byte

var ErrUnknownItem = errors.New("menu: unknown item")

type Item struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Category    string `yaml:"category" json:"category"`
	PriceCents  int    `yaml:"price_cents" json:"price_cents"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type Catalog struct {
	Restaurant string `yaml:"restaurant"`
	Currency   string `yaml:"currency"`
	Items      []Item `yaml:"items"`

	byID map[string]Item
}

// LoadCatalog reads a YAML catalog from path, or the built-in menu when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultMenu
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("menu: read %s: %w", path, err)
		}
		data = b
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("menu: parse catalog: %w", err)
	}
	if len(c.Items) == 0 {
		return nil, errors.New("menu: catalog has no items")
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	c.byID = make(map[string]Item, len(c.Items))
	for i, it := range c.Items {
		it.ID = strings.TrimSpace(it.ID)
		if it.ID == "" {
			return nil, fmt.Errorf("menu: item %d has no id", i)
		}
		if it.PriceCents < 0 {
			return nil, fmt.Errorf("menu: item %s has a negative price", it.ID)
		}
		if _, dup := c.byID[it.ID]; dup {
			return nil, fmt.Errorf("menu: duplicate item id %s", it.ID)
		}
		c.Items[i] = it
		c.byID[it.ID] = it
	}
	return &c, nil
}

// Lookup matches an item by id, or by case-insensitive name as callers tend
// to say the name.
func (c *Catalog) Lookup(ref string) (Item, error) {
	ref = strings.TrimSpace(ref)
	if it, ok := c.byID[ref]; ok {
		return it, nil
	}
	for _, it := range c.Items {
		if strings.EqualFold(it.Name, ref) {
			return it, nil
		}
	}
	return Item{}, fmt.Errorf("%w: %q", ErrUnknownItem, ref)
}

// Category returns items in a category, or all items when category is empty.
func (c *Catalog) Category(category string) []Item {
	out := make([]Item, 0, len(c.Items))
	for _, it := range c.Items {
		if category == "" || strings.EqualFold(it.Category, category) {
			out = append(out, it)
		}
	}
	return out
}

func (c *Catalog) Categories() []string {
	seen := map[string]bool{}
	var out []string
	for _, it := range c.Items {
		if !seen[it.Category] {
			seen[it.Category] = true
			out = append(out, it.Category)
		}
	}
	sort.Strings(out)
	return out
}
