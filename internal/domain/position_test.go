package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPosition_OpenAndExtend(t *testing.T) {
	pos := NewPosition("S-001", testSecurity(), testTime)
	assert.Equal(t, PositionFlat, pos.Side())

	rem := pos.ApplyFill(SideBuy, MustQuantity("4"), MustPrice("100"), testTime)
	assert.True(t, rem.IsZero())
	assert.Equal(t, PositionLong, pos.Side())
	assert.True(t, pos.Quantity().Equal(decimal.NewFromInt(4)))
	assert.True(t, pos.AvgEntryPrice.Equal(decimal.NewFromInt(100)))

	// Extend at a higher price: weighted entry.
	pos.ApplyFill(SideBuy, MustQuantity("4"), MustPrice("110"), testTime)
	assert.True(t, pos.Quantity().Equal(decimal.NewFromInt(8)))
	assert.True(t, pos.AvgEntryPrice.Equal(decimal.NewFromInt(105)), "got %s", pos.AvgEntryPrice)
}

func TestPosition_ReduceRealizesPnL(t *testing.T) {
	pos := NewPosition("S-001", testSecurity(), testTime)
	pos.ApplyFill(SideBuy, MustQuantity("10"), MustPrice("100"), testTime)

	rem := pos.ApplyFill(SideSell, MustQuantity("4"), MustPrice("110"), testTime)
	assert.True(t, rem.IsZero())
	assert.Equal(t, PositionLong, pos.Side())
	assert.True(t, pos.Quantity().Equal(decimal.NewFromInt(6)))
	// (110-100) * 4 = 40
	assert.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(40)), "got %s", pos.RealizedPnL)
	assert.False(t, pos.IsClosed())
}

func TestPosition_CloseOnFlat(t *testing.T) {
	pos := NewPosition("S-001", testSecurity(), testTime)
	pos.ApplyFill(SideSell, MustQuantity("5"), MustPrice("200"), testTime)
	assert.Equal(t, PositionShort, pos.Side())

	rem := pos.ApplyFill(SideBuy, MustQuantity("5"), MustPrice("190"), testTime)
	assert.True(t, rem.IsZero())
	assert.Equal(t, PositionFlat, pos.Side())
	assert.True(t, pos.IsClosed())
	// Short 5 @ 200 covered @ 190: (190-200) * 5 * (-1) = 50
	assert.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(50)), "got %s", pos.RealizedPnL)
}

func TestPosition_FlipReturnsRemainder(t *testing.T) {
	pos := NewPosition("S-001", testSecurity(), testTime)
	pos.ApplyFill(SideBuy, MustQuantity("3"), MustPrice("100"), testTime)

	rem := pos.ApplyFill(SideSell, MustQuantity("5"), MustPrice("105"), testTime)
	assert.True(t, rem.Equal(decimal.NewFromInt(2)), "remainder should be 2, got %s", rem)
	assert.True(t, pos.IsClosed())
	assert.Equal(t, PositionFlat, pos.Side())
	// (105-100) * 3 = 15 realized on the closed leg
	assert.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(15)), "got %s", pos.RealizedPnL)
}

func TestPosition_UnrealizedPnL(t *testing.T) {
	pos := NewPosition("S-001", testSecurity(), testTime)
	pos.ApplyFill(SideBuy, MustQuantity("2"), MustPrice("100"), testTime)

	pnl := pos.UnrealizedPnL(MustPrice("120"))
	assert.True(t, pnl.Equal(decimal.NewFromInt(40)), "got %s", pnl)

	short := NewPosition("S-001", testSecurity(), testTime)
	short.ApplyFill(SideSell, MustQuantity("2"), MustPrice("100"), testTime)
	pnl = short.UnrealizedPnL(MustPrice("90"))
	assert.True(t, pnl.Equal(decimal.NewFromInt(20)), "got %s", pnl)
}
