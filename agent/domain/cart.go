package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
)

type CartStatus string

const (
	CartOpen   CartStatus = "open"
	CartPlaced CartStatus = "placed"
)

const MaxLineQuantity = 99

// Cart amounts are integer minor units of the store currency.
type Cart struct {
	Items        map[string]int `json:"items"`
	Subtotal     int64          `json:"subtotal"`
	DeliveryFee  int64          `json:"delivery_fee"`
	CustomerName string         `json:"customer_name,omitempty"`
	Address      string         `json:"address,omitempty"`
	Status       CartStatus     `json:"status"`
	OrderID      string         `json:"order_id,omitempty"`
	PlacedAt     *time.Time     `json:"placed_at,omitempty"`
}

type CartLine struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
	Total    int64   `json:"total"`
}

func NewCart() *Cart {
	return &Cart{
		Items:  map[string]int{},
		Status: CartOpen,
	}
}

func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.Items = make(map[string]int, len(c.Items))
	for k, v := range c.Items {
		out.Items[k] = v
	}
	if c.PlacedAt != nil {
		at := *c.PlacedAt
		out.PlacedAt = &at
	}
	return &out
}

func (c *Cart) Validate() error {
	switch c.Status {
	case CartOpen, CartPlaced:
	default:
		return fmt.Errorf("%w: unknown cart status %q", contractx.ErrValidation, c.Status)
	}
	for id, qty := range c.Items {
		if qty <= 0 || qty > MaxLineQuantity {
			return fmt.Errorf("%w: item %s has quantity %d", contractx.ErrValidation, id, qty)
		}
	}
	if c.Subtotal < 0 || c.DeliveryFee < 0 {
		return fmt.Errorf("%w: cart amounts must be non-negative", contractx.ErrValidation)
	}
	if c.Status == CartPlaced && c.OrderID == "" {
		return fmt.Errorf("%w: placed cart has no order id", contractx.ErrValidation)
	}
	return nil
}

func (c *Cart) requireOpen() error {
	if c.Status != CartOpen {
		return fmt.Errorf("%w: order %s is already placed", contractx.ErrInvalidTransition, c.OrderID)
	}
	return nil
}

// Add merges qty into the line for id.
func (c *Cart) Add(cat *Catalog, id string, qty int) (Product, error) {
	if err := c.requireOpen(); err != nil {
		return Product{}, err
	}
	p, ok := cat.Product(id)
	if !ok {
		return Product{}, fmt.Errorf("%w: item %q is not in the catalog", contractx.ErrNotFound, id)
	}
	if qty <= 0 {
		return Product{}, fmt.Errorf("%w: quantity must be at least 1", contractx.ErrInvalidArguments)
	}
	next := c.Items[p.ID] + qty
	if next > MaxLineQuantity {
		return Product{}, fmt.Errorf("%w: at most %d of %s per order", contractx.ErrInvalidArguments, MaxLineQuantity, p.Name)
	}
	if c.Items == nil {
		c.Items = map[string]int{}
	}
	c.Items[p.ID] = next
	c.Recompute(cat)
	return p, nil
}

func (c *Cart) Remove(cat *Catalog, id string) error {
	if err := c.requireOpen(); err != nil {
		return err
	}
	if _, ok := c.Items[id]; !ok {
		return fmt.Errorf("%w: item %q is not in the cart", contractx.ErrNotFound, id)
	}
	delete(c.Items, id)
	c.Recompute(cat)
	return nil
}

// SetQuantity replaces a line quantity. Zero removes the line.
func (c *Cart) SetQuantity(cat *Catalog, id string, qty int) error {
	if qty == 0 {
		return c.Remove(cat, id)
	}
	if err := c.requireOpen(); err != nil {
		return err
	}
	if _, ok := c.Items[id]; !ok {
		return fmt.Errorf("%w: item %q is not in the cart", contractx.ErrNotFound, id)
	}
	if qty < 0 || qty > MaxLineQuantity {
		return fmt.Errorf("%w: quantity must be between 0 and %d", contractx.ErrInvalidArguments, MaxLineQuantity)
	}
	c.Items[id] = qty
	c.Recompute(cat)
	return nil
}

func (c *Cart) SetCustomer(name, address string) error {
	if err := c.requireOpen(); err != nil {
		return err
	}
	if v := strings.TrimSpace(name); v != "" {
		c.CustomerName = v
	}
	if v := strings.TrimSpace(address); v != "" {
		c.Address = v
	}
	return nil
}

// Recompute derives subtotal and delivery fee from the catalog. An empty
// cart carries no delivery fee.
func (c *Cart) Recompute(cat *Catalog) {
	var subtotal int64
	for id, qty := range c.Items {
		if p, ok := cat.Product(id); ok {
			subtotal += p.Price * int64(qty)
		}
	}
	c.Subtotal = subtotal
	if len(c.Items) == 0 {
		c.DeliveryFee = 0
	} else {
		c.DeliveryFee = cat.Store.DeliveryFee
	}
}

func (c *Cart) Total() int64 {
	return c.Subtotal + c.DeliveryFee
}

func (c *Cart) Lines(cat *Catalog) []CartLine {
	ids := make([]string, 0, len(c.Items))
	for id := range c.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	lines := make([]CartLine, 0, len(ids))
	for _, id := range ids {
		p, ok := cat.Product(id)
		if !ok {
			p = Product{ID: id, Name: id}
		}
		qty := c.Items[id]
		lines = append(lines, CartLine{Product: p, Quantity: qty, Total: p.Price * int64(qty)})
	}
	return lines
}

// Place finalizes the order. It needs items, a customer name and an address.
// The order id is the placement time plus ref, which keeps two orders placed
// in the same second apart.
func (c *Cart) Place(now time.Time, ref string) (string, error) {
	if err := c.requireOpen(); err != nil {
		return "", err
	}
	ref = strings.ToUpper(strings.TrimSpace(ref))
	if ref == "" {
		return "", fmt.Errorf("%w: order reference is empty", contractx.ErrValidation)
	}
	if len(c.Items) == 0 {
		return "", fmt.Errorf("%w: the cart is empty", contractx.ErrInvalidTransition)
	}
	var missing []string
	if c.CustomerName == "" {
		missing = append(missing, "name")
	}
	if c.Address == "" {
		missing = append(missing, "delivery address")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: missing %s", contractx.ErrInvalidTransition, strings.Join(missing, " and "))
	}

	at := now.UTC()
	c.Status = CartPlaced
	c.OrderID = "FM-" + at.Format("20060102150405") + "-" + ref
	c.PlacedAt = &at
	return c.OrderID, nil
}

func (c *Cart) Summary() string {
	if c.Status == CartPlaced {
		return fmt.Sprintf("Your order %s for %s is placed and will be delivered to %s.", c.OrderID, FormatMoney(c.Total()), c.Address)
	}
	if len(c.Items) == 0 {
		return "Your cart is empty and no order was placed."
	}
	return fmt.Sprintf("Your cart has %d items totalling %s. It has not been ordered yet.", len(c.Items), FormatMoney(c.Total()))
}

// FormatMoney renders minor units as rupees.
func FormatMoney(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	if minor%100 == 0 {
		return fmt.Sprintf("%s₹%d", sign, minor/100)
	}
	return fmt.Sprintf("%s₹%d.%02d", sign, minor/100, minor%100)
}
