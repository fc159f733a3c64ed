package event

import (
	"trader_go/internal/domain"
)

// SubmitOrder asks the venue to work a new order.
type SubmitOrder struct {
	Order *domain.Order
}

func (SubmitOrder) messageTag() {}
func (SubmitOrder) commandTag() {}

// Venue returns the routing venue for the command.
func (c SubmitOrder) Venue() domain.Venue { return c.Order.Security.Venue }

// SubmitBracketOrder submits an entry with attached stop-loss and
// take-profit children.
type SubmitBracketOrder struct {
	Entry      *domain.Order
	StopLoss   *domain.Order
	TakeProfit *domain.Order
}

func (SubmitBracketOrder) messageTag() {}
func (SubmitBracketOrder) commandTag() {}

func (c SubmitBracketOrder) Venue() domain.Venue { return c.Entry.Security.Venue }

// CancelOrder asks the venue to cancel a working order.
type CancelOrder struct {
	Security      domain.Security
	ClientOrderID domain.ClientOrderID
}

func (CancelOrder) messageTag() {}
func (CancelOrder) commandTag() {}

func (c CancelOrder) Venue() domain.Venue { return c.Security.Venue }

// ModifyOrder asks the venue to replace a working order's quantity and
// price. Whether queue position is preserved is venue-specific.
type ModifyOrder struct {
	Security      domain.Security
	ClientOrderID domain.ClientOrderID
	Quantity      domain.Quantity
	Price         domain.Price
}

func (ModifyOrder) messageTag() {}
func (ModifyOrder) commandTag() {}

func (c ModifyOrder) Venue() domain.Venue { return c.Security.Venue }
