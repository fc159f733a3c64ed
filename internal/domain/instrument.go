package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Instrument describes the tradable contract behind a Security.
// Construct through NewInstrument so the invariants hold.
type Instrument struct {
	Security           Security
	BaseCurrency       Currency
	QuoteCurrency      Currency
	SettlementCurrency Currency
	IsInverse          bool // quantity expressed in the quote currency
	IsQuanto           bool // settlement differs from both base and quote
	PricePrecision     int
	SizePrecision      int
	CostPrecision      int
	TickSize           decimal.Decimal
	Multiplier         decimal.Decimal
	Leverage           decimal.Decimal
	LotSize            Quantity
	MinQuantity        *Quantity
	MaxQuantity        *Quantity
	MinNotional        *Money
	MaxNotional        *Money
	MinPrice           *Price
	MaxPrice           *Price
	MarginInit         decimal.Decimal
	MarginMaint        decimal.Decimal
	MakerFee           decimal.Decimal
	TakerFee           decimal.Decimal
	FundingRateInfo    map[string]string
	Timestamp          time.Time
}

// NewInstrument validates and creates an instrument definition.
func NewInstrument(inst Instrument) (*Instrument, error) {
	if inst.Security.IsZero() {
		return nil, fmt.Errorf("%w: security is required", ErrInvalidArgument)
	}
	if inst.PricePrecision < 0 || inst.SizePrecision < 0 || inst.CostPrecision < 0 {
		return nil, fmt.Errorf("%w: negative precision", ErrInvalidArgument)
	}
	quanto := inst.SettlementCurrency != inst.BaseCurrency && inst.SettlementCurrency != inst.QuoteCurrency
	if inst.IsQuanto != quanto {
		return nil, fmt.Errorf("%w: quanto flag inconsistent with settlement currency %s",
			ErrInvalidArgument, inst.SettlementCurrency)
	}
	if inst.MinQuantity != nil && inst.MaxQuantity != nil &&
		inst.MinQuantity.Decimal().GreaterThan(inst.MaxQuantity.Decimal()) {
		return nil, fmt.Errorf("%w: min quantity %s exceeds max %s",
			ErrInvalidArgument, inst.MinQuantity, inst.MaxQuantity)
	}
	if inst.MakerFee.Abs().GreaterThan(decimal.NewFromInt(1)) || inst.TakerFee.Abs().GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: fee rate out of range", ErrInvalidArgument)
	}
	if inst.MarginInit.IsNegative() || inst.MarginMaint.IsNegative() {
		return nil, fmt.Errorf("%w: negative margin rate", ErrInvalidArgument)
	}
	return &inst, nil
}

// CalculateCommission returns the commission for a fill of the given
// quantity at the given price. Maker rebates come back negative.
func (i *Instrument) CalculateCommission(qty Quantity, price Price, liquidity LiquiditySide) Money {
	notional := qty.Decimal().Mul(price.Decimal()).Mul(i.Multiplier)
	if i.IsInverse {
		// Inverse contracts quote notional in the base currency.
		notional = qty.Decimal().Mul(i.Multiplier).Div(price.Decimal())
	}
	rate := i.TakerFee
	if liquidity == LiquidityMaker {
		rate = i.MakerFee
	}
	amount := notional.Mul(rate).Round(int32(i.CostPrecision))
	return NewMoney(amount, i.SettlementCurrency)
}

// LiquiditySide marks whether a fill added or removed book liquidity.
type LiquiditySide string

const (
	LiquidityMaker LiquiditySide = "MAKER"
	LiquidityTaker LiquiditySide = "TAKER"
)
