package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"trader_go/internal/domain"
	"trader_go/internal/event"
	"trader_go/internal/infra"
)

// SimClient is an in-process execution client for backtests and
// tests. Submissions are acknowledged immediately with the canonical
// Submitted/Accepted/Working sequence; fills are driven explicitly by
// the matching side (or the test) through Fill. The venue's ground
// truth for reconciliation is the client's own book.
type SimClient struct {
	venue     domain.Venue
	accountID domain.AccountID
	handler   EventHandler
	clock     infra.Clock

	mu        sync.Mutex
	connected bool
	nextID    int
	book      map[domain.ClientOrderID]*simOrder
	byOrderID map[domain.OrderID]domain.ClientOrderID

	// RejectAll makes every submission bounce, for margin-style tests.
	RejectAll    bool
	RejectReason string

	// submissions records the order in which submits reached the venue.
	submissions []domain.ClientOrderID
}

// simOrder is the venue-side view of one order.
type simOrder struct {
	clOrdID   domain.ClientOrderID
	orderID   domain.OrderID
	security  domain.Security
	side      domain.OrderSide
	qty       domain.Quantity
	filledQty domain.Quantity
	state     domain.OrderState
}

// NewSimClient creates a simulated client for the venue.
func NewSimClient(venue domain.Venue, handler EventHandler, clock infra.Clock) *SimClient {
	return &SimClient{
		venue:     venue,
		accountID: domain.AccountID{Venue: venue, Number: "001"},
		handler:   handler,
		clock:     clock,
		book:      make(map[domain.ClientOrderID]*simOrder),
		byOrderID: make(map[domain.OrderID]domain.ClientOrderID),
	}
}

func (c *SimClient) Venue() domain.Venue { return c.venue }

func (c *SimClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return nil
}

func (c *SimClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *SimClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Submissions returns the client order ids in arrival order.
func (c *SimClient) Submissions() []domain.ClientOrderID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ClientOrderID, len(c.submissions))
	copy(out, c.submissions)
	return out
}

// SubmitOrder acknowledges the order and puts it on the sim book.
func (c *SimClient) SubmitOrder(ctx context.Context, order *domain.Order) error {
	now := c.clock.Now()

	c.mu.Lock()
	c.submissions = append(c.submissions, order.ClientOrderID)
	c.mu.Unlock()

	if err := c.handler(event.OrderSubmitted{
		Base:          event.NewBase(now),
		AccountID:     c.accountID,
		ClientOrderID: order.ClientOrderID,
		SubmittedTime: now,
	}); err != nil {
		return err
	}

	if c.RejectAll {
		reason := c.RejectReason
		if reason == "" {
			reason = "insufficient margin"
		}
		return c.handler(event.OrderRejected{
			Base:          event.NewBase(now),
			AccountID:     c.accountID,
			ClientOrderID: order.ClientOrderID,
			Reason:        reason,
		})
	}

	c.mu.Lock()
	c.nextID++
	orderID := domain.OrderID(fmt.Sprintf("%s-%d", c.venue, c.nextID))
	so := &simOrder{
		clOrdID:   order.ClientOrderID,
		orderID:   orderID,
		security:  order.Security,
		side:      order.Side,
		qty:       order.Quantity,
		filledQty: domain.ZeroQuantity(order.Quantity.Precision()),
		state:     domain.OrderStateWorking,
	}
	c.book[order.ClientOrderID] = so
	c.byOrderID[orderID] = order.ClientOrderID
	c.mu.Unlock()

	if err := c.handler(event.OrderAccepted{
		Base:          event.NewBase(now),
		AccountID:     c.accountID,
		ClientOrderID: order.ClientOrderID,
		OrderID:       orderID,
	}); err != nil {
		return err
	}

	workingPrice := domain.Price{}
	if order.Price != nil {
		workingPrice = *order.Price
	}
	return c.handler(event.OrderWorking{
		Base:          event.NewBase(now),
		AccountID:     c.accountID,
		ClientOrderID: order.ClientOrderID,
		OrderID:       orderID,
		Price:         workingPrice,
	})
}

// SubmitBracketOrder submits the entry; children go on the book once
// the entry fills, which the sim approximates by submitting all three.
func (c *SimClient) SubmitBracketOrder(ctx context.Context, entry, stopLoss, takeProfit *domain.Order) error {
	for _, order := range []*domain.Order{entry, stopLoss, takeProfit} {
		if order == nil {
			continue
		}
		if err := c.SubmitOrder(ctx, order); err != nil {
			return err
		}
	}
	return nil
}

// CancelOrder takes the order off the sim book.
func (c *SimClient) CancelOrder(ctx context.Context, clOrdID domain.ClientOrderID) error {
	c.mu.Lock()
	so, ok := c.book[clOrdID]
	if ok {
		so.state = domain.OrderStateCancelled
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: cancel for unknown order %s", domain.ErrInvalidArgument, clOrdID)
	}
	return c.handler(event.OrderCancelled{
		Base:          event.NewBase(c.clock.Now()),
		AccountID:     c.accountID,
		ClientOrderID: clOrdID,
		OrderID:       so.orderID,
	})
}

// ModifyOrder replaces the quantity on the sim book (the book keeps no
// price) and emits OrderModified with the new quantity and price.
func (c *SimClient) ModifyOrder(ctx context.Context, clOrdID domain.ClientOrderID, qty domain.Quantity, price domain.Price) error {
	c.mu.Lock()
	so, ok := c.book[clOrdID]
	if ok {
		so.qty = qty
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: modify for unknown order %s", domain.ErrInvalidArgument, clOrdID)
	}
	return c.handler(event.OrderModified{
		Base:          event.NewBase(c.clock.Now()),
		AccountID:     c.accountID,
		ClientOrderID: clOrdID,
		OrderID:       so.orderID,
		Quantity:      qty,
		Price:         price,
	})
}

// Fill executes quantity against a working order and emits the
// partial or final fill event, exactly as a matching engine would.
func (c *SimClient) Fill(clOrdID domain.ClientOrderID, qty domain.Quantity, price domain.Price) error {
	c.mu.Lock()
	so, ok := c.book[clOrdID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: fill for unknown order %s", domain.ErrInvalidArgument, clOrdID)
	}
	so.filledQty = so.filledQty.Add(qty)
	cum := so.filledQty
	leaves := so.qty.Sub(cum)
	final := leaves.IsZero()
	if final {
		so.state = domain.OrderStateFilled
	} else {
		so.state = domain.OrderStatePartiallyFilled
	}
	c.nextID++
	execID := domain.ExecutionID(fmt.Sprintf("E-%s-%d", c.venue, c.nextID))
	orderID := so.orderID
	side := so.side
	security := so.security
	c.mu.Unlock()

	body := event.OrderFillBody{
		AccountID:     c.accountID,
		ClientOrderID: clOrdID,
		OrderID:       orderID,
		ExecutionID:   execID,
		Security:      security,
		Side:          side,
		FillQty:       qty,
		CumQty:        cum,
		LeavesQty:     leaves,
		FillPrice:     price,
		LiquiditySide: domain.LiquidityTaker,
		ExecutionTime: c.clock.Now(),
	}
	if final {
		return c.handler(event.OrderFilled{Base: event.NewBase(c.clock.Now()), OrderFillBody: body})
	}
	return c.handler(event.OrderPartiallyFilled{Base: event.NewBase(c.clock.Now()), OrderFillBody: body})
}

// SetVenueState overrides the venue-side state of an order, for
// divergence scenarios where the book and the cache disagree.
func (c *SimClient) SetVenueState(clOrdID domain.ClientOrderID, state domain.OrderState, filledQty domain.Quantity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if so, ok := c.book[clOrdID]; ok {
		so.state = state
		so.filledQty = filledQty
	}
}

// Drop removes an order from the venue book entirely, simulating a
// venue that never saw the submission.
func (c *SimClient) Drop(clOrdID domain.ClientOrderID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if so, ok := c.book[clOrdID]; ok {
		delete(c.byOrderID, so.orderID)
		delete(c.book, clOrdID)
	}
}

// StateReport snapshots the sim book for the requested orders.
func (c *SimClient) StateReport(ctx context.Context, orders []*domain.Order) (domain.ExecutionStateReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := domain.ExecutionStateReport{
		Venue:       c.venue,
		OrderStates: make(map[domain.OrderID]domain.OrderState),
		FilledQty:   make(map[domain.OrderID]domain.Quantity),
		Timestamp:   c.clock.Now(),
	}
	for _, order := range orders {
		so, ok := c.book[order.ClientOrderID]
		if !ok {
			continue // unknown to the venue
		}
		report.OrderStates[so.orderID] = so.state
		report.FilledQty[so.orderID] = so.filledQty
	}
	slog.Debug("sim state report",
		slog.String("venue", string(c.venue)),
		slog.Int("orders", len(report.OrderStates)))
	return report, nil
}
