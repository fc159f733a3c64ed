package domain

import (
	"context"
	"time"
)

// ExecutionClient is the capability set the engine requires from a
// venue adapter. Clients translate ids, encode the wire form and emit
// canonical lifecycle events back through the engine; they never
// mutate orders directly.
type ExecutionClient interface {
	Venue() Venue
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool

	SubmitOrder(ctx context.Context, order *Order) error
	SubmitBracketOrder(ctx context.Context, entry, stopLoss, takeProfit *Order) error
	CancelOrder(ctx context.Context, clOrdID ClientOrderID) error
	ModifyOrder(ctx context.Context, clOrdID ClientOrderID, qty Quantity, price Price) error

	// StateReport returns the venue's ground truth for the given open
	// orders. Used by reconciliation; the live client suspends on
	// venue I/O.
	StateReport(ctx context.Context, orders []*Order) (ExecutionStateReport, error)
}

// ExecutionStateReport is a venue state snapshot delivered during
// reconciliation, keyed by venue-assigned order id.
type ExecutionStateReport struct {
	Venue       Venue
	OrderStates map[OrderID]OrderState
	FilledQty   map[OrderID]Quantity
	Timestamp   time.Time
}

// ExecutionDatabase is the authoritative persistent store of orders,
// positions and accounts. The engine is its only writer; readers get
// consistent snapshots.
type ExecutionDatabase interface {
	AddOrder(order *Order) error
	UpdateOrder(order *Order) error
	AddPosition(position *Position) error
	UpdatePosition(position *Position) error
	UpdateAccount(account *Account) error

	Order(id ClientOrderID) *Order
	Orders() []*Order
	OrdersOpen() []*Order
	Position(strategy StrategyID, security Security) *Position
	Positions() []*Position
	Account(venue Venue) *Account

	LoadOrders() error
	LoadPositions() error
	LoadAccounts() error
}
