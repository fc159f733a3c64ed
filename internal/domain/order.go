package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// TimeInForce controls how long an order stays live at the venue.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
	TIFGTD TimeInForce = "GTD"
)

// OrderPurpose tags why the strategy placed the order.
type OrderPurpose string

const (
	PurposeNone       OrderPurpose = "NONE"
	PurposeEntry      OrderPurpose = "ENTRY"
	PurposeExit       OrderPurpose = "EXIT"
	PurposeStopLoss   OrderPurpose = "STOP_LOSS"
	PurposeTakeProfit OrderPurpose = "TAKE_PROFIT"
)

// OrderState is a node of the order lifecycle state machine.
type OrderState string

const (
	OrderStateInitialized     OrderState = "INITIALIZED"
	OrderStateSubmitted       OrderState = "SUBMITTED"
	OrderStateRejected        OrderState = "REJECTED"
	OrderStateAccepted        OrderState = "ACCEPTED"
	OrderStateWorking         OrderState = "WORKING"
	OrderStateTriggered       OrderState = "TRIGGERED"
	OrderStatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderStateFilled          OrderState = "FILLED"
	OrderStateCancelled       OrderState = "CANCELLED"
	OrderStateExpired         OrderState = "EXPIRED"
	OrderStateInvalid         OrderState = "INVALID"
)

// IsTerminal reports whether the state admits no further transitions.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStateRejected, OrderStateFilled, OrderStateCancelled, OrderStateExpired, OrderStateInvalid:
		return true
	}
	return false
}

// Fill records a single execution against an order.
type Fill struct {
	ExecutionID ExecutionID
	Quantity    Quantity
	Price       Price
	Commission  Money
	Timestamp   time.Time
}

// Order is the authoritative order entity. All mutation goes through
// the Apply* methods, which enforce the lifecycle state machine; an
// event that does not apply returns an error and leaves the order
// untouched.
type Order struct {
	ClientOrderID ClientOrderID
	OrderID       OrderID // venue-assigned, bound on acceptance
	StrategyID    StrategyID
	Security      Security
	Side          OrderSide
	Type          OrderType
	Quantity      Quantity
	Price         *Price // nil for MARKET
	TimeInForce   TimeInForce
	Purpose       OrderPurpose
	ExpireTime    *time.Time

	State        OrderState
	FilledQty    Quantity
	LeavesQty    Quantity
	AvgPrice     decimal.Decimal
	Commissions  Money
	Fills        []Fill
	RejectReason string

	InitTime      time.Time
	SubmittedTime time.Time
	LastEventTime time.Time
}

// NewOrder creates an order in state INITIALIZED.
func NewOrder(
	clOrdID ClientOrderID,
	strategyID StrategyID,
	security Security,
	side OrderSide,
	typ OrderType,
	qty Quantity,
	price *Price,
	tif TimeInForce,
	initTime time.Time,
) (*Order, error) {
	if clOrdID == "" {
		return nil, fmt.Errorf("%w: client order id is required", ErrInvalidArgument)
	}
	if security.IsZero() {
		return nil, fmt.Errorf("%w: security is required", ErrInvalidArgument)
	}
	if qty.IsZero() {
		return nil, fmt.Errorf("%w: order quantity must be positive", ErrInvalidArgument)
	}
	if typ == OrderTypeMarket && price != nil {
		return nil, fmt.Errorf("%w: market order carries no price", ErrInvalidArgument)
	}
	if typ != OrderTypeMarket && price == nil {
		return nil, fmt.Errorf("%w: %s order requires a price", ErrInvalidArgument, typ)
	}
	return &Order{
		ClientOrderID: clOrdID,
		StrategyID:    strategyID,
		Security:      security,
		Side:          side,
		Type:          typ,
		Quantity:      qty,
		Price:         price,
		TimeInForce:   tif,
		Purpose:       PurposeNone,
		State:         OrderStateInitialized,
		FilledQty:     ZeroQuantity(qty.Precision()),
		LeavesQty:     qty,
		AvgPrice:      decimal.Zero,
		InitTime:      initTime,
		LastEventTime: initTime,
	}, nil
}

// IsOpen reports whether the order is still live at the venue.
func (o *Order) IsOpen() bool {
	switch o.State {
	case OrderStateAccepted, OrderStateWorking, OrderStateTriggered, OrderStatePartiallyFilled:
		return true
	}
	return false
}

// IsCompleted reports whether the order reached a terminal state.
func (o *Order) IsCompleted() bool {
	return o.State.IsTerminal()
}

func (o *Order) transitionError(event string) error {
	return fmt.Errorf("%w: %s in state %s (order %s)",
		ErrInvalidTransition, event, o.State, o.ClientOrderID)
}

// ApplySubmitted moves INITIALIZED -> SUBMITTED.
func (o *Order) ApplySubmitted(ts time.Time) error {
	if o.State != OrderStateInitialized {
		return o.transitionError("OrderSubmitted")
	}
	o.State = OrderStateSubmitted
	o.SubmittedTime = ts
	o.LastEventTime = ts
	return nil
}

// ApplyRejected moves SUBMITTED -> REJECTED (terminal).
func (o *Order) ApplyRejected(reason string, ts time.Time) error {
	if o.State != OrderStateSubmitted {
		return o.transitionError("OrderRejected")
	}
	o.State = OrderStateRejected
	o.RejectReason = reason
	o.LastEventTime = ts
	return nil
}

// ApplyAccepted moves SUBMITTED -> ACCEPTED and binds the venue id.
func (o *Order) ApplyAccepted(orderID OrderID, ts time.Time) error {
	if o.State != OrderStateSubmitted {
		return o.transitionError("OrderAccepted")
	}
	if orderID == "" {
		return fmt.Errorf("%w: accepted event without venue order id", ErrInvalidArgument)
	}
	o.State = OrderStateAccepted
	o.OrderID = orderID
	o.LastEventTime = ts
	return nil
}

// ApplyWorking moves ACCEPTED -> WORKING and stores the working price.
func (o *Order) ApplyWorking(price Price, ts time.Time) error {
	if o.State != OrderStateAccepted {
		return o.transitionError("OrderWorking")
	}
	o.State = OrderStateWorking
	if o.Type != OrderTypeMarket {
		p := price
		o.Price = &p
	}
	o.LastEventTime = ts
	return nil
}

// ApplyModified replaces price and quantity while WORKING.
func (o *Order) ApplyModified(qty Quantity, price Price, ts time.Time) error {
	if o.State != OrderStateWorking {
		return o.transitionError("OrderModified")
	}
	if qty.Decimal().LessThan(o.FilledQty.Decimal()) {
		return fmt.Errorf("%w: modified quantity %s below filled %s",
			ErrInvalidArgument, qty, o.FilledQty)
	}
	o.Quantity = qty
	p := price
	o.Price = &p
	o.LeavesQty = qty.Sub(o.FilledQty)
	o.LastEventTime = ts
	return nil
}

// ApplyCancelled moves WORKING or ACCEPTED -> CANCELLED (terminal).
func (o *Order) ApplyCancelled(ts time.Time) error {
	if o.State != OrderStateWorking && o.State != OrderStateAccepted {
		return o.transitionError("OrderCancelled")
	}
	o.State = OrderStateCancelled
	o.LastEventTime = ts
	return nil
}

// ApplyExpired moves WORKING -> EXPIRED (terminal).
func (o *Order) ApplyExpired(ts time.Time) error {
	if o.State != OrderStateWorking {
		return o.transitionError("OrderExpired")
	}
	o.State = OrderStateExpired
	o.LastEventTime = ts
	return nil
}

// ApplyTriggered moves a WORKING stop-limit to TRIGGERED, after which
// it behaves like a plain limit order.
func (o *Order) ApplyTriggered(ts time.Time) error {
	if o.State != OrderStateWorking || o.Type != OrderTypeStopLimit {
		return o.transitionError("OrderTriggered")
	}
	o.State = OrderStateTriggered
	o.LastEventTime = ts
	return nil
}

// ApplyFill records a fill. Partial fills re-enter PARTIALLY_FILLED;
// the final fill lands in FILLED with zero leaves. A fill pushing the
// cumulative quantity past the order quantity marks the order INVALID
// and reports an integrity fault.
func (o *Order) ApplyFill(fill Fill) error {
	switch o.State {
	case OrderStateWorking, OrderStateTriggered, OrderStatePartiallyFilled:
	default:
		return o.transitionError("OrderFilled")
	}
	if fill.Quantity.IsZero() {
		return fmt.Errorf("%w: zero fill quantity", ErrInvalidArgument)
	}

	cum := o.FilledQty.Add(fill.Quantity)
	if cum.GreaterThan(o.Quantity) {
		o.State = OrderStateInvalid
		o.LastEventTime = fill.Timestamp
		return fmt.Errorf("%w: cum %s over order qty %s (order %s)",
			ErrOverFill, cum, o.Quantity, o.ClientOrderID)
	}

	// Quantity-weighted mean of fill prices.
	oldNotional := o.AvgPrice.Mul(o.FilledQty.Decimal())
	fillNotional := fill.Price.Decimal().Mul(fill.Quantity.Decimal())
	o.AvgPrice = oldNotional.Add(fillNotional).Div(cum.Decimal())

	o.FilledQty = cum
	o.LeavesQty = o.Quantity.Sub(cum)
	o.Fills = append(o.Fills, fill)
	if o.Commissions.Currency == "" {
		o.Commissions = fill.Commission
	} else {
		o.Commissions = o.Commissions.Add(fill.Commission)
	}
	o.LastEventTime = fill.Timestamp

	if o.LeavesQty.IsZero() {
		o.State = OrderStateFilled
	} else {
		o.State = OrderStatePartiallyFilled
	}
	return nil
}
