package menu

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"yuzu/voicebridge/internal/tools"
)

var (
	ErrNoSession = errors.New("menu: no active call")
	ErrEmptyCart = errors.New("menu: cart is empty")
	ErrNotInCart = errors.New("menu: item not in cart")
)

const maxQuantity = 20

type Line struct {
	ItemID     string `json:"item_id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitCents  int    `json:"unit_price_cents"`
	TotalCents int    `json:"line_total_cents"`
	Notes      string `json:"notes,omitempty"`
}

type Cart struct {
	StreamID   string `json:"stream_id"`
	Lines      []Line `json:"lines"`
	TotalCents int    `json:"total_cents"`
	Currency   string `json:"currency"`
}

type Order struct {
	ID           string    `json:"order_id"`
	StreamID     string    `json:"stream_id"`
	CustomerName string    `json:"customer_name,omitempty"`
	Lines        []Line    `json:"lines"`
	TotalCents   int       `json:"total_cents"`
	Currency     string    `json:"currency"`
	PlacedAt     time.Time `json:"placed_at"`
}

// Service holds carts and orders per stream id. It is the business scope the
// bridge resets at call start.
type Service struct {
	catalog *Catalog

	mu     sync.Mutex
	active string
	carts  map[string][]Line
	orders map[string][]Order
}

func NewService(c *Catalog) *Service {
	return &Service{
		catalog: c,
		carts:   make(map[string][]Line),
		orders:  make(map[string][]Order),
	}
}

func (s *Service) Catalog() *Catalog { return s.catalog }

func (s *Service) SetActiveSession(streamID string) {
	s.mu.Lock()
	s.active = streamID
	s.mu.Unlock()
	log.Printf("[menu] active session=%s", streamID)
}

// ClearSession drops the orders recorded for streamID.
func (s *Service) ClearSession(streamID string) {
	s.mu.Lock()
	delete(s.orders, streamID)
	if s.active == streamID {
		s.active = ""
	}
	s.mu.Unlock()
}

func (s *Service) ClearCart(streamID string) {
	s.mu.Lock()
	delete(s.carts, streamID)
	s.mu.Unlock()
}

func (s *Service) ActiveSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// streamFor prefers the stream carried by the call context and falls back to
// the active session.
func (s *Service) streamFor(ctx context.Context) (string, error) {
	if id, ok := tools.StreamIDFromContext(ctx); ok {
		return id, nil
	}
	if id := s.ActiveSession(); id != "" {
		return id, nil
	}
	return "", ErrNoSession
}

func (s *Service) AddToCart(streamID, ref string, qty int, notes string) (Cart, error) {
	if qty <= 0 {
		qty = 1
	}
	if qty > maxQuantity {
		return Cart{}, fmt.Errorf("menu: quantity %d exceeds limit of %d", qty, maxQuantity)
	}
	it, err := s.catalog.Lookup(ref)
	if err != nil {
		return Cart{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := s.carts[streamID]
	merged := false
	for i := range lines {
		if lines[i].ItemID == it.ID && lines[i].Notes == notes {
			if lines[i].Quantity+qty > maxQuantity {
				return Cart{}, fmt.Errorf("menu: quantity for %s exceeds limit of %d", it.Name, maxQuantity)
			}
			lines[i].Quantity += qty
			lines[i].TotalCents = lines[i].Quantity * lines[i].UnitCents
			merged = true
			break
		}
	}
	if !merged {
		lines = append(lines, Line{
			ItemID:     it.ID,
			Name:       it.Name,
			Quantity:   qty,
			UnitCents:  it.PriceCents,
			TotalCents: qty * it.PriceCents,
			Notes:      notes,
		})
	}
	s.carts[streamID] = lines
	return s.cartLocked(streamID), nil
}

// RemoveFromCart removes qty units of an item, or all of them when qty <= 0.
func (s *Service) RemoveFromCart(streamID, ref string, qty int) (Cart, error) {
	it, err := s.catalog.Lookup(ref)
	if err != nil {
		return Cart{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := s.carts[streamID]
	found := false
	remaining := qty
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.ItemID != it.ID {
			out = append(out, l)
			continue
		}
		found = true
		switch {
		case qty <= 0:
		case remaining == 0:
			out = append(out, l)
		case l.Quantity > remaining:
			l.Quantity -= remaining
			l.TotalCents = l.Quantity * l.UnitCents
			remaining = 0
			out = append(out, l)
		default:
			remaining -= l.Quantity
		}
	}
	if !found {
		return Cart{}, fmt.Errorf("%w: %s", ErrNotInCart, it.Name)
	}
	s.carts[streamID] = out
	return s.cartLocked(streamID), nil
}

func (s *Service) Cart(streamID string) Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartLocked(streamID)
}

func (s *Service) cartLocked(streamID string) Cart {
	c := Cart{StreamID: streamID, Lines: []Line{}, Currency: s.catalog.Currency}
	for _, l := range s.carts[streamID] {
		c.Lines = append(c.Lines, l)
		c.TotalCents += l.TotalCents
	}
	return c
}

// PlaceOrder turns the cart into an order and empties the cart.
func (s *Service) PlaceOrder(streamID, customer string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart := s.cartLocked(streamID)
	if len(cart.Lines) == 0 {
		return Order{}, ErrEmptyCart
	}
	o := Order{
		ID:           "ord_" + uuid.NewString()[:8],
		StreamID:     streamID,
		CustomerName: customer,
		Lines:        cart.Lines,
		TotalCents:   cart.TotalCents,
		Currency:     cart.Currency,
		PlacedAt:     time.Now().UTC(),
	}
	s.orders[streamID] = append(s.orders[streamID], o)
	delete(s.carts, streamID)
	log.Printf("[menu] order placed id=%s stream=%s total=%d", o.ID, streamID, o.TotalCents)
	return o, nil
}

func (s *Service) Orders(streamID string) []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Order(nil), s.orders[streamID]...)
}
