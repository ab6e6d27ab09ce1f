package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/domain"
)

const (
	ToolSearchCatalog  = "search_catalog"
	ToolAddItem        = "add_item"
	ToolAddRecipe      = "add_recipe"
	ToolRemoveItem     = "remove_item"
	ToolUpdateQuantity = "update_quantity"
	ToolShowCart       = "show_cart"
	ToolSetCustomer    = "set_customer"
	ToolPlaceOrder     = "place_order"
	ToolOrderStatus    = "order_status"
	ToolPreviousOrders = "previous_orders"

	orderHistoryLimit = 5
)

type productView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
	Unit  string `json:"unit,omitempty"`
}

type cartView struct {
	Items       []lineView `json:"items"`
	Subtotal    string     `json:"subtotal"`
	DeliveryFee string     `json:"delivery_fee"`
	Total       string     `json:"total"`
	Customer    string     `json:"customer,omitempty"`
	Address     string     `json:"address,omitempty"`
	Status      string     `json:"status"`
	OrderID     string     `json:"order_id,omitempty"`
}

type lineView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Total    string `json:"total"`
}

func viewProduct(p domain.Product) productView {
	return productView{ID: p.ID, Name: p.Name, Price: domain.FormatMoney(p.Price), Unit: p.Unit}
}

func (d *Dispatcher) viewCart(c *domain.Cart) cartView {
	v := cartView{
		Items:       []lineView{},
		Subtotal:    domain.FormatMoney(c.Subtotal),
		DeliveryFee: domain.FormatMoney(c.DeliveryFee),
		Total:       domain.FormatMoney(c.Total()),
		Customer:    c.CustomerName,
		Address:     c.Address,
		Status:      string(c.Status),
		OrderID:     c.OrderID,
	}
	for _, l := range c.Lines(d.catalog) {
		v.Items = append(v.Items, lineView{ID: l.Product.ID, Name: l.Product.Name, Quantity: l.Quantity, Total: domain.FormatMoney(l.Total)})
	}
	return v
}

func (d *Dispatcher) cartTools() []*Def {
	quantity := func(lo float64, required bool) Arg {
		floor, ceiling := between(lo, domain.MaxLineQuantity)
		return Arg{Name: "quantity", Type: TypeInteger, Desc: "How many units.", Required: required, Min: floor, Max: ceiling}
	}
	itemID := Arg{Name: "item_id", Type: TypeString, Desc: "Catalog id of the product, from search_catalog.", Required: true}

	return []*Def{
		{
			Name:    ToolSearchCatalog,
			Desc:    "Search the store catalog by product name, category or tag.",
			Kind:    domain.KindCart,
			Args:    []Arg{{Name: "query", Type: TypeString, Desc: "What the customer asked for.", Required: true}},
			Handler: d.searchCatalog,
		},
		{
			Name:    ToolAddItem,
			Desc:    "Add a product to the cart. Adding an item already in the cart increases its quantity.",
			Kind:    domain.KindCart,
			Mutates: true,
			Args:    []Arg{itemID, quantity(1, false)},
			Handler: d.addItem,
		},
		{
			Name:    ToolAddRecipe,
			Desc:    "Add every ingredient needed for a dish, one of each.",
			Kind:    domain.KindCart,
			Mutates: true,
			Args:    []Arg{{Name: "recipe", Type: TypeString, Desc: "Dish name, e.g. peanut butter sandwich.", Required: true}},
			Handler: d.addRecipe,
		},
		{
			Name:    ToolRemoveItem,
			Desc:    "Remove a product line from the cart.",
			Kind:    domain.KindCart,
			Mutates: true,
			Args:    []Arg{itemID},
			Handler: d.removeItem,
		},
		{
			Name:    ToolUpdateQuantity,
			Desc:    "Set the quantity of a product already in the cart. Zero removes it.",
			Kind:    domain.KindCart,
			Mutates: true,
			Args:    []Arg{itemID, quantity(0, true)},
			Handler: d.updateQuantity,
		},
		{
			Name:    ToolShowCart,
			Desc:    "Read back the cart with totals.",
			Kind:    domain.KindCart,
			Handler: d.showCart,
		},
		{
			Name:    ToolSetCustomer,
			Desc:    "Record the customer's name and delivery address.",
			Kind:    domain.KindCart,
			Mutates: true,
			Args: []Arg{
				{Name: "name", Type: TypeString, Desc: "Customer name."},
				{Name: "address", Type: TypeString, Desc: "Delivery address."},
			},
			Handler: setCustomer,
		},
		{
			Name:    ToolPlaceOrder,
			Desc:    "Place the order once the customer confirms. Needs items, a name and an address.",
			Kind:    domain.KindCart,
			Mutates: true,
			Handler: d.placeOrder,
		},
		{
			Name:    ToolOrderStatus,
			Desc:    "Report the status of an order. Without an order id it reports the current order, or the latest one on file.",
			Kind:    domain.KindCart,
			Args:    []Arg{{Name: "order_id", Type: TypeString, Desc: "Order id the customer mentioned."}},
			Handler: d.orderStatus,
		},
		{
			Name:    ToolPreviousOrders,
			Desc:    "List the customer's most recent past orders.",
			Kind:    domain.KindCart,
			Args:    []Arg{{Name: "customer_name", Type: TypeString, Desc: "Whose orders to list. Defaults to the name on the cart."}},
			Handler: d.previousOrders,
		},
	}
}

func (d *Dispatcher) searchCatalog(_ context.Context, call *Call) (any, contractx.Control, error) {
	query := call.Args.String("query")
	matches := d.catalog.Search(query)
	views := make([]productView, 0, len(matches))
	for _, p := range matches {
		views = append(views, viewProduct(p))
	}
	out := map[string]any{"query": query, "products": views}
	if recipe, _, ok := d.catalog.Recipe(query); ok {
		out["recipe"] = recipe
	}
	return out, contractx.Control{}, nil
}

func (d *Dispatcher) addItem(_ context.Context, call *Call) (any, contractx.Control, error) {
	qty := int(call.Args.Int("quantity", 1))
	p, err := call.Record.Cart.Add(d.catalog, call.Args.String("item_id"), qty)
	if err != nil {
		return nil, contractx.Control{}, err
	}
	return map[string]any{
		"added":    viewProduct(p),
		"quantity": qty,
		"cart":     d.viewCart(call.Record.Cart),
	}, contractx.Control{}, nil
}

// addRecipe is all or nothing: one bad ingredient leaves the cart untouched.
func (d *Dispatcher) addRecipe(_ context.Context, call *Call) (any, contractx.Control, error) {
	recipe, ids, ok := d.catalog.Recipe(call.Args.String("recipe"))
	if !ok {
		return nil, contractx.Control{}, fmt.Errorf("%w: no recipe for %q, try one of %v", contractx.ErrNotFound, call.Args.String("recipe"), d.catalog.RecipeNames())
	}
	added := make([]productView, 0, len(ids))
	for _, id := range ids {
		p, err := call.Record.Cart.Add(d.catalog, id, 1)
		if err != nil {
			return nil, contractx.Control{}, err
		}
		added = append(added, viewProduct(p))
	}
	return map[string]any{
		"recipe": recipe,
		"added":  added,
		"cart":   d.viewCart(call.Record.Cart),
	}, contractx.Control{}, nil
}

func (d *Dispatcher) removeItem(_ context.Context, call *Call) (any, contractx.Control, error) {
	if err := call.Record.Cart.Remove(d.catalog, call.Args.String("item_id")); err != nil {
		return nil, contractx.Control{}, err
	}
	return map[string]any{"cart": d.viewCart(call.Record.Cart)}, contractx.Control{}, nil
}

func (d *Dispatcher) updateQuantity(_ context.Context, call *Call) (any, contractx.Control, error) {
	if err := call.Record.Cart.SetQuantity(d.catalog, call.Args.String("item_id"), int(call.Args.Int("quantity", 0))); err != nil {
		return nil, contractx.Control{}, err
	}
	return map[string]any{"cart": d.viewCart(call.Record.Cart)}, contractx.Control{}, nil
}

func (d *Dispatcher) showCart(_ context.Context, call *Call) (any, contractx.Control, error) {
	return d.viewCart(call.Record.Cart), contractx.Control{}, nil
}

func setCustomer(_ context.Context, call *Call) (any, contractx.Control, error) {
	name, address := call.Args.String("name"), call.Args.String("address")
	if name == "" && address == "" {
		return nil, contractx.Control{}, fmt.Errorf("%w: give a name or an address", contractx.ErrInvalidArguments)
	}
	c := call.Record.Cart
	if err := c.SetCustomer(name, address); err != nil {
		return nil, contractx.Control{}, err
	}
	return map[string]any{"customer": c.CustomerName, "address": c.Address}, contractx.Control{}, nil
}

// placeOrder re-keys the record to the order id so the checkpoint becomes the
// order document that order_status and previous_orders read back.
func (d *Dispatcher) placeOrder(_ context.Context, call *Call) (any, contractx.Control, error) {
	c := call.Record.Cart
	orderID, err := c.Place(d.now(), d.orderRef())
	if err != nil {
		return nil, contractx.Control{}, err
	}
	call.Record.ID = orderID
	return map[string]any{
		"order_id": orderID,
		"total":    domain.FormatMoney(c.Total()),
		"address":  c.Address,
	}, contractx.Control{Checkpoint: true}, nil
}

type orderView struct {
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	Customer string `json:"customer,omitempty"`
	Items    int    `json:"items"`
	Total    string `json:"total"`
	PlacedOn string `json:"placed_on,omitempty"`
}

func viewOrder(c *domain.Cart) orderView {
	v := orderView{
		OrderID:  c.OrderID,
		Status:   string(c.Status),
		Customer: c.CustomerName,
		Items:    len(c.Items),
		Total:    domain.FormatMoney(c.Total()),
	}
	if c.PlacedAt != nil {
		v.PlacedOn = c.PlacedAt.Format(time.DateOnly)
	}
	return v
}

// orderStatus answers from the live cart when it holds the order asked about
// and from stored orders otherwise.
func (d *Dispatcher) orderStatus(ctx context.Context, call *Call) (any, contractx.Control, error) {
	c := call.Record.Cart
	want := strings.ToUpper(call.Args.String("order_id"))

	switch {
	case want != "" && strings.EqualFold(want, c.OrderID):
		return viewOrder(c), contractx.Control{}, nil
	case want != "":
		if d.records == nil {
			return nil, contractx.Control{}, fmt.Errorf("%w: no order %s in this call", contractx.ErrNotFound, want)
		}
		rec, err := d.records.Load(ctx, domain.KindCart, want)
		if err != nil {
			return nil, contractx.Control{}, err
		}
		if rec.Cart == nil || rec.Cart.Status != domain.CartPlaced {
			return nil, contractx.Control{}, fmt.Errorf("%w: no order %s", contractx.ErrNotFound, want)
		}
		return viewOrder(rec.Cart), contractx.Control{}, nil
	case c.Status == domain.CartPlaced || d.records == nil:
		return map[string]any{"status": string(c.Status), "current": viewOrder(c)}, contractx.Control{}, nil
	}

	orders, err := d.pastOrders(ctx, c.CustomerName)
	if err != nil {
		return nil, contractx.Control{}, err
	}
	if len(orders) == 0 {
		return map[string]any{"status": string(c.Status), "current": viewOrder(c)}, contractx.Control{}, nil
	}
	return map[string]any{"status": string(c.Status), "latest": orders[0]}, contractx.Control{}, nil
}

func (d *Dispatcher) previousOrders(ctx context.Context, call *Call) (any, contractx.Control, error) {
	if d.records == nil {
		return nil, contractx.Control{}, fmt.Errorf("%w: order history is not available", contractx.ErrNotFound)
	}
	customer := call.Args.String("customer_name")
	if customer == "" {
		customer = call.Record.Cart.CustomerName
	}
	orders, err := d.pastOrders(ctx, customer)
	if err != nil {
		return nil, contractx.Control{}, err
	}
	return map[string]any{"customer": customer, "orders": orders}, contractx.Control{}, nil
}

// pastOrders returns up to orderHistoryLimit placed orders, newest first. An
// empty customer matches every order.
func (d *Dispatcher) pastOrders(ctx context.Context, customer string) ([]orderView, error) {
	customer = strings.TrimSpace(customer)
	recs, err := d.records.List(ctx, domain.KindCart, func(r *domain.Record) bool {
		c := r.Cart
		if c == nil || c.Status != domain.CartPlaced {
			return false
		}
		return customer == "" || strings.EqualFold(c.CustomerName, customer)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return placedAt(recs[i]).After(placedAt(recs[j]))
	})
	if len(recs) > orderHistoryLimit {
		recs = recs[:orderHistoryLimit]
	}
	out := make([]orderView, 0, len(recs))
	for _, r := range recs {
		out = append(out, viewOrder(r.Cart))
	}
	return out, nil
}

func placedAt(r *domain.Record) time.Time {
	if r.Cart.PlacedAt == nil {
		return time.Time{}
	}
	return *r.Cart.PlacedAt
}

func newOrderRef() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}
