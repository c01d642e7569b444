package menu

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"yuzu/voicebridge/internal/tools"
)

func newService(t *testing.T) *Service {
	t.Helper()
	c, err := LoadCatalog("")
	require.NoError(t, err)
	return NewService(c)
}

func TestDefaultCatalog(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	require.Equal(t, "USD", c.Currency)
	require.Equal(t, []string{"drinks", "mains", "sides"}, c.Categories())

	it, err := c.Lookup("yuzu burger")
	require.NoError(t, err)
	require.Equal(t, "yuzu-burger", it.ID)

	_, err = c.Lookup("pizza")
	require.ErrorIs(t, err, ErrUnknownItem)
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "menu.yaml")
	require.NoError(t, os.WriteFile(path, []byte("restaurant: Test\nitems:\n  - id: a\n    name: A\n    category: x\n    price_cents: 100\n"), 0o600))
	c, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Equal(t, "Test", c.Restaurant)
	require.Len(t, c.Items, 1)

	_, err = ParseCatalog([]byte("items:\n  - id: a\n  - id: a\n"))
	require.Error(t, err)
	_, err = ParseCatalog([]byte("items: []\n"))
	require.Error(t, err)
}

func TestCartLifecycle(t *testing.T) {
	s := newService(t)
	cart, err := s.AddToCart("S1", "yuzu-burger", 2, "")
	require.NoError(t, err)
	require.Equal(t, 2500, cart.TotalCents)

	cart, err = s.AddToCart("S1", "fries", 0, "")
	require.NoError(t, err)
	require.Len(t, cart.Lines, 2)
	require.Equal(t, 2950, cart.TotalCents)

	cart, err = s.RemoveFromCart("S1", "yuzu-burger", 1)
	require.NoError(t, err)
	require.Equal(t, 1700, cart.TotalCents)

	_, err = s.RemoveFromCart("S1", "edamame", 0)
	require.ErrorIs(t, err, ErrNotInCart)

	require.Empty(t, s.Cart("S2").Lines, "carts are scoped per stream")

	o, err := s.PlaceOrder("S1", "Sam")
	require.NoError(t, err)
	require.Equal(t, 1700, o.TotalCents)
	require.Empty(t, s.Cart("S1").Lines)
	require.Len(t, s.Orders("S1"), 1)

	_, err = s.PlaceOrder("S1", "")
	require.ErrorIs(t, err, ErrEmptyCart)

	s.ClearSession("S1")
	require.Empty(t, s.Orders("S1"))
}

func TestQuantityLimit(t *testing.T) {
	s := newService(t)
	_, err := s.AddToCart("S1", "fries", maxQuantity+1, "")
	require.Error(t, err)
	_, err = s.AddToCart("S1", "fries", maxQuantity, "")
	require.NoError(t, err)
	_, err = s.AddToCart("S1", "fries", 1, "")
	require.Error(t, err)
}

func TestToolsUseCallStream(t *testing.T) {
	s := newService(t)
	reg := tools.NewRegistry()
	require.NoError(t, s.Register(reg))
	d := tools.NewDispatcher(reg, time.Second)

	res := d.Dispatch(context.Background(), "add_to_cart", `{"item":"fries"}`)
	require.True(t, res.Failed, "no stream and no active session")

	s.SetActiveSession("S1")
	res = d.Dispatch(context.Background(), "add_to_cart", `{"item":"fries","quantity":2}`)
	require.False(t, res.Failed, string(res.Payload))
	require.Len(t, s.Cart("S1").Lines, 1)

	res = d.Dispatch(tools.WithStreamID(context.Background(), "S9"), "add_to_cart", `{"item":"Yuzu Soda"}`)
	require.False(t, res.Failed)
	require.Len(t, s.Cart("S9").Lines, 1)

	res = d.Dispatch(context.Background(), "get_cart", "")
	require.False(t, res.Failed)
	var cart Cart
	require.NoError(t, json.Unmarshal(res.Payload, &cart))
	require.Equal(t, 900, cart.TotalCents)

	res = d.Dispatch(context.Background(), "get_menu", `{"category":"drinks"}`)
	require.False(t, res.Failed)
	var mv menuView
	require.NoError(t, json.Unmarshal(res.Payload, &mv))
	require.Len(t, mv.Items, 2)

	res = d.Dispatch(context.Background(), "add_to_cart", `{}`)
	require.True(t, res.Failed)

	res = d.Dispatch(context.Background(), "place_order", `{"customer_name":"Ana"}`)
	require.False(t, res.Failed)
	var o Order
	require.NoError(t, json.Unmarshal(res.Payload, &o))
	require.Equal(t, "Ana", o.CustomerName)
	require.Equal(t, "S1", o.StreamID)

	names := []string{}
	for _, def := range reg.Definitions() {
		names = append(names, def.Name)
	}
	require.Equal(t, []string{"add_to_cart", "get_cart", "get_menu", "place_order", "remove_from_cart"}, names)
}
