package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency is an ISO-like currency or crypto asset code.
type Currency string

const (
	USD  Currency = "USD"
	USDT Currency = "USDT"
	BTC  Currency = "BTC"
	ETH  Currency = "ETH"
)

// Price is a fixed-precision instrument price. The precision is carried
// with the value so serialization stays stable across instruments.
type Price struct {
	value     decimal.Decimal
	precision int
}

// NewPrice creates a price rounded to the given precision.
func NewPrice(value decimal.Decimal, precision int) (Price, error) {
	if precision < 0 {
		return Price{}, fmt.Errorf("%w: price precision %d", ErrInvalidArgument, precision)
	}
	if value.IsNegative() {
		return Price{}, fmt.Errorf("%w: negative price %s", ErrInvalidArgument, value)
	}
	return Price{value: value.Round(int32(precision)), precision: precision}, nil
}

// MustPrice parses a decimal string into a Price, panicking on invalid
// input. Intended for static values and tests only.
func MustPrice(s string) Price {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	p, err := NewPrice(d, scaleOf(d))
	if err != nil {
		panic(err)
	}
	return p
}

// scaleOf returns the number of fractional digits in d.
func scaleOf(d decimal.Decimal) int {
	if d.Exponent() >= 0 {
		return 0
	}
	return int(-d.Exponent())
}

// PriceFromString parses a decimal string into a Price, deriving the
// precision from the written scale.
func PriceFromString(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("%w: price %q", ErrInvalidArgument, s)
	}
	return NewPrice(d, scaleOf(d))
}

// QuantityFromString parses a decimal string into a Quantity, deriving
// the precision from the written scale.
func QuantityFromString(s string) (Quantity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{}, fmt.Errorf("%w: quantity %q", ErrInvalidArgument, s)
	}
	return NewQuantity(d, scaleOf(d))
}

func (p Price) Decimal() decimal.Decimal { return p.value }
func (p Price) Precision() int           { return p.precision }
func (p Price) IsZero() bool             { return p.value.IsZero() }

func (p Price) Equal(other Price) bool {
	return p.value.Equal(other.value)
}

func (p Price) String() string {
	return p.value.StringFixed(int32(p.precision))
}

// Quantity is a non-negative fixed-precision order or fill size.
type Quantity struct {
	value     decimal.Decimal
	precision int
}

// NewQuantity creates a quantity rounded to the given precision.
func NewQuantity(value decimal.Decimal, precision int) (Quantity, error) {
	if precision < 0 {
		return Quantity{}, fmt.Errorf("%w: quantity precision %d", ErrInvalidArgument, precision)
	}
	if value.IsNegative() {
		return Quantity{}, fmt.Errorf("%w: negative quantity %s", ErrInvalidArgument, value)
	}
	return Quantity{value: value.Round(int32(precision)), precision: precision}, nil
}

// MustQuantity parses a decimal string into a Quantity, panicking on
// invalid input. Intended for static values and tests only.
func MustQuantity(s string) Quantity {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	q, err := NewQuantity(d, scaleOf(d))
	if err != nil {
		panic(err)
	}
	return q
}

// ZeroQuantity returns a zero quantity at the given precision.
func ZeroQuantity(precision int) Quantity {
	return Quantity{value: decimal.Zero, precision: precision}
}

func (q Quantity) Decimal() decimal.Decimal { return q.value }
func (q Quantity) Precision() int           { return q.precision }
func (q Quantity) IsZero() bool             { return q.value.IsZero() }

func (q Quantity) Equal(other Quantity) bool {
	return q.value.Equal(other.value)
}

// Add returns q + other, keeping q's precision.
func (q Quantity) Add(other Quantity) Quantity {
	return Quantity{value: q.value.Add(other.value), precision: q.precision}
}

// Sub returns q - other clamped at zero, keeping q's precision.
func (q Quantity) Sub(other Quantity) Quantity {
	v := q.value.Sub(other.value)
	if v.IsNegative() {
		v = decimal.Zero
	}
	return Quantity{value: v, precision: q.precision}
}

func (q Quantity) GreaterThan(other Quantity) bool {
	return q.value.GreaterThan(other.value)
}

func (q Quantity) String() string {
	return q.value.StringFixed(int32(q.precision))
}

// Money is an exact decimal amount in a specific currency.
type Money struct {
	Amount   decimal.Decimal
	Currency Currency
}

// NewMoney creates a money value.
func NewMoney(amount decimal.Decimal, currency Currency) Money {
	return Money{Amount: amount, Currency: currency}
}

// MoneyZero returns a zero amount in the given currency.
func MoneyZero(currency Currency) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// Add returns m + other. Mismatched currencies are a programming error.
func (m Money) Add(other Money) Money {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money currency mismatch: %s + %s", m.Currency, other.Currency))
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}
}

func (m Money) String() string {
	return m.Amount.String() + " " + string(m.Currency)
}
