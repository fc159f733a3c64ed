package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide is the direction of a position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
	PositionFlat  PositionSide = "FLAT"
)

// Position tracks net exposure for one (strategy, security) key.
// Quantity is signed internally: positive long, negative short.
type Position struct {
	StrategyID    StrategyID
	Security      Security
	qty           decimal.Decimal
	AvgEntryPrice decimal.Decimal
	RealizedPnL   decimal.Decimal
	OpenedTime    time.Time
	ClosedTime    *time.Time
}

// NewPosition opens a position from its first fill.
func NewPosition(strategyID StrategyID, security Security, openedAt time.Time) *Position {
	return &Position{
		StrategyID: strategyID,
		Security:   security,
		OpenedTime: openedAt,
	}
}

// RestorePosition rebuilds a position from persisted state.
func RestorePosition(
	strategyID StrategyID,
	security Security,
	signedQty decimal.Decimal,
	avgEntryPrice decimal.Decimal,
	realizedPnL decimal.Decimal,
	openedTime time.Time,
	closedTime *time.Time,
) *Position {
	return &Position{
		StrategyID:    strategyID,
		Security:      security,
		qty:           signedQty,
		AvgEntryPrice: avgEntryPrice,
		RealizedPnL:   realizedPnL,
		OpenedTime:    openedTime,
		ClosedTime:    closedTime,
	}
}

// Key returns the map key for this position.
func (p *Position) Key() PositionKey {
	return PositionKey{Strategy: p.StrategyID, Security: p.Security}
}

// Side derives LONG, SHORT or FLAT from the signed quantity.
func (p *Position) Side() PositionSide {
	switch {
	case p.qty.IsPositive():
		return PositionLong
	case p.qty.IsNegative():
		return PositionShort
	default:
		return PositionFlat
	}
}

// Quantity returns the absolute open quantity.
func (p *Position) Quantity() decimal.Decimal {
	return p.qty.Abs()
}

// SignedQuantity returns the raw signed quantity.
func (p *Position) SignedQuantity() decimal.Decimal {
	return p.qty
}

// IsClosed reports whether the position has returned to flat.
func (p *Position) IsClosed() bool {
	return p.ClosedTime != nil
}

// ApplyFill folds a fill into the position and returns the quantity
// left over past flat. A non-zero remainder means the fill flipped the
// side; the caller closes this position and opens a new one with the
// remainder.
func (p *Position) ApplyFill(side OrderSide, qty Quantity, price Price, ts time.Time) decimal.Decimal {
	signed := qty.Decimal()
	if side == SideSell {
		signed = signed.Neg()
	}

	sameDirection := p.qty.IsZero() || p.qty.Sign() == signed.Sign()
	if sameDirection {
		// Extend: re-weight the average entry.
		oldAbs := p.qty.Abs()
		newAbs := oldAbs.Add(signed.Abs())
		p.AvgEntryPrice = p.AvgEntryPrice.Mul(oldAbs).
			Add(price.Decimal().Mul(signed.Abs())).
			Div(newAbs)
		p.qty = p.qty.Add(signed)
		return decimal.Zero
	}

	reduce := decimal.Min(p.qty.Abs(), signed.Abs())
	direction := decimal.NewFromInt(int64(p.qty.Sign()))
	p.RealizedPnL = p.RealizedPnL.Add(
		price.Decimal().Sub(p.AvgEntryPrice).Mul(reduce).Mul(direction))

	remainder := signed.Abs().Sub(p.qty.Abs())
	p.qty = p.qty.Add(signed)

	if remainder.IsPositive() {
		// Flipped past flat: this position closes at the fill, the
		// overshoot belongs to a fresh position.
		p.qty = decimal.Zero
		closed := ts
		p.ClosedTime = &closed
		return remainder
	}
	if p.qty.IsZero() {
		closed := ts
		p.ClosedTime = &closed
	}
	return decimal.Zero
}

// UnrealizedPnL computes open PnL against the last known price.
func (p *Position) UnrealizedPnL(lastPrice Price) decimal.Decimal {
	if p.qty.IsZero() {
		return decimal.Zero
	}
	return lastPrice.Decimal().Sub(p.AvgEntryPrice).Mul(p.qty)
}
