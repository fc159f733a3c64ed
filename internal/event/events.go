package event

import (
	"time"

	"github.com/shopspring/decimal"

	"trader_go/internal/domain"
)

// Base carries the identity and timestamp every event shares. The
// event id is a UUIDv4. The portfolio does not dedup on it: fills are
// deduplicated by venue and execution id.
type Base struct {
	EventID   domain.EventID
	Timestamp time.Time
}

// NewBase stamps a fresh event identity.
func NewBase(ts time.Time) Base {
	return Base{EventID: domain.NewEventID(), Timestamp: ts}
}

func (Base) messageTag() {}
func (Base) eventTag()   {}

// OrderSubmitted confirms the client put the order on the wire.
type OrderSubmitted struct {
	Base
	AccountID     domain.AccountID
	ClientOrderID domain.ClientOrderID
	SubmittedTime time.Time
}

// OrderRejected reports the venue refused the order.
type OrderRejected struct {
	Base
	AccountID     domain.AccountID
	ClientOrderID domain.ClientOrderID
	Reason        string
}

// OrderAccepted reports the venue took the order and assigned its id.
type OrderAccepted struct {
	Base
	AccountID     domain.AccountID
	ClientOrderID domain.ClientOrderID
	OrderID       domain.OrderID
}

// OrderWorking reports the order is live on the venue book.
type OrderWorking struct {
	Base
	AccountID     domain.AccountID
	ClientOrderID domain.ClientOrderID
	OrderID       domain.OrderID
	Price         domain.Price
}

// OrderModified reports a replace was applied at the venue.
type OrderModified struct {
	Base
	AccountID     domain.AccountID
	ClientOrderID domain.ClientOrderID
	OrderID       domain.OrderID
	Quantity      domain.Quantity
	Price         domain.Price
}

// OrderCancelled reports the order was taken off the book.
type OrderCancelled struct {
	Base
	AccountID     domain.AccountID
	ClientOrderID domain.ClientOrderID
	OrderID       domain.OrderID
}

// OrderExpired reports the order lapsed by its time in force.
type OrderExpired struct {
	Base
	AccountID     domain.AccountID
	ClientOrderID domain.ClientOrderID
	OrderID       domain.OrderID
}

// OrderTriggered reports a stop-limit's stop price traded.
type OrderTriggered struct {
	Base
	AccountID     domain.AccountID
	ClientOrderID domain.ClientOrderID
	OrderID       domain.OrderID
}

// OrderFillBody carries the execution facts shared by partial and
// final fill events.
type OrderFillBody struct {
	AccountID     domain.AccountID
	ClientOrderID domain.ClientOrderID
	OrderID       domain.OrderID
	ExecutionID   domain.ExecutionID
	StrategyID    domain.StrategyID
	Security      domain.Security
	Side          domain.OrderSide
	FillQty       domain.Quantity
	CumQty        domain.Quantity
	LeavesQty     domain.Quantity
	FillPrice     domain.Price
	Currency      domain.Currency
	Commission    domain.Money
	LiquiditySide domain.LiquiditySide
	ExecutionTime time.Time
}

// OrderPartiallyFilled reports a fill that leaves quantity working.
type OrderPartiallyFilled struct {
	Base
	OrderFillBody
}

// OrderFilled reports the fill that completes the order.
type OrderFilled struct {
	Base
	OrderFillBody
}

// AccountState is the venue's account snapshot.
type AccountState struct {
	Base
	AccountID  domain.AccountID
	Currency   domain.Currency
	Balance    decimal.Decimal
	MarginUsed decimal.Decimal
	MarginFree decimal.Decimal
	MarginCall bool
}

// PositionOpened is emitted by the portfolio when a first fill opens
// a position.
type PositionOpened struct {
	Base
	Position *domain.Position
}

// PositionChanged is emitted by the portfolio when a fill alters an
// open position.
type PositionChanged struct {
	Base
	Position *domain.Position
}

// PositionClosed is emitted by the portfolio when quantity returns to
// zero.
type PositionClosed struct {
	Base
	Position *domain.Position
}
