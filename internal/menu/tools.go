package menu

import (
	"context"
	"errors"

	"yuzu/voicebridge/internal/tools"
)

type getMenuArgs struct {
	Category string `json:"category,omitempty" jsonschema:"optional category filter such as mains, sides or drinks"`
}

type addToCartArgs struct {
	Item     string `json:"item" jsonschema:"menu item id or name"`
	Quantity int    `json:"quantity,omitempty" jsonschema:"number of units, defaults to 1"`
	Notes    string `json:"notes,omitempty" jsonschema:"special instructions for this line"`
}

type removeFromCartArgs struct {
	Item     string `json:"item" jsonschema:"menu item id or name"`
	Quantity int    `json:"quantity,omitempty" jsonschema:"units to remove, all when omitted"`
}

type getCartArgs struct{}

type placeOrderArgs struct {
	CustomerName string `json:"customer_name,omitempty" jsonschema:"name to put on the order"`
}

type menuView struct {
	Restaurant string   `json:"restaurant"`
	Currency   string   `json:"currency"`
	Categories []string `json:"categories"`
	Items      []Item   `json:"items"`
}

// Register installs the ordering tools. Handlers resolve the cart from the
// call context.
func (s *Service) Register(reg *tools.Registry) error {
	defs := []tools.Tool{
		tools.MustFunc("get_menu", "List menu items with prices, optionally filtered by category.",
			func(ctx context.Context, a getMenuArgs) (any, error) {
				return menuView{
					Restaurant: s.catalog.Restaurant,
					Currency:   s.catalog.Currency,
					Categories: s.catalog.Categories(),
					Items:      s.catalog.Category(a.Category),
				}, nil
			}),
		tools.MustFunc("add_to_cart", "Add an item to the caller's cart.",
			func(ctx context.Context, a addToCartArgs) (any, error) {
				if a.Item == "" {
					return nil, errors.New("item is required")
				}
				stream, err := s.streamFor(ctx)
				if err != nil {
					return nil, err
				}
				return s.AddToCart(stream, a.Item, a.Quantity, a.Notes)
			}),
		tools.MustFunc("remove_from_cart", "Remove an item from the caller's cart.",
			func(ctx context.Context, a removeFromCartArgs) (any, error) {
				if a.Item == "" {
					return nil, errors.New("item is required")
				}
				stream, err := s.streamFor(ctx)
				if err != nil {
					return nil, err
				}
				return s.RemoveFromCart(stream, a.Item, a.Quantity)
			}),
		tools.MustFunc("get_cart", "Read back the caller's cart and total.",
			func(ctx context.Context, _ getCartArgs) (any, error) {
				stream, err := s.streamFor(ctx)
				if err != nil {
					return nil, err
				}
				return s.Cart(stream), nil
			}),
		tools.MustFunc("place_order", "Place the order for everything in the cart.",
			func(ctx context.Context, a placeOrderArgs) (any, error) {
				stream, err := s.streamFor(ctx)
				if err != nil {
					return nil, err
				}
				return s.PlaceOrder(stream, a.CustomerName)
			}),
	}
	for _, t := range defs {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
