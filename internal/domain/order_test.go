package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func testSecurity() Security {
	return NewSecurity("BTC/USDT", "BINANCE", AssetClassCrypto, AssetTypeSpot)
}

func newLimitBuy(t *testing.T, qty, price string) *Order {
	t.Helper()
	p := MustPrice(price)
	order, err := NewOrder("O-001", "S-001", testSecurity(), SideBuy, OrderTypeLimit,
		MustQuantity(qty), &p, TIFGTC, testTime)
	require.NoError(t, err)
	return order
}

func TestNewOrder_Validation(t *testing.T) {
	t.Run("Missing Client Order ID", func(t *testing.T) {
		_, err := NewOrder("", "S-001", testSecurity(), SideBuy, OrderTypeMarket,
			MustQuantity("1"), nil, TIFGTC, testTime)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("Market Order With Price", func(t *testing.T) {
		p := MustPrice("100")
		_, err := NewOrder("O-001", "S-001", testSecurity(), SideBuy, OrderTypeMarket,
			MustQuantity("1"), &p, TIFGTC, testTime)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("Limit Order Without Price", func(t *testing.T) {
		_, err := NewOrder("O-001", "S-001", testSecurity(), SideBuy, OrderTypeLimit,
			MustQuantity("1"), nil, TIFGTC, testTime)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("Zero Quantity", func(t *testing.T) {
		p := MustPrice("100")
		_, err := NewOrder("O-001", "S-001", testSecurity(), SideBuy, OrderTypeLimit,
			MustQuantity("0"), &p, TIFGTC, testTime)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestOrder_HappyPath(t *testing.T) {
	order := newLimitBuy(t, "10", "100")
	assert.Equal(t, OrderStateInitialized, order.State)
	assert.Equal(t, "10", order.LeavesQty.String())

	require.NoError(t, order.ApplySubmitted(testTime))
	assert.Equal(t, OrderStateSubmitted, order.State)

	require.NoError(t, order.ApplyAccepted("V-1", testTime))
	assert.Equal(t, OrderStateAccepted, order.State)
	assert.Equal(t, OrderID("V-1"), order.OrderID)

	require.NoError(t, order.ApplyWorking(MustPrice("100"), testTime))
	assert.Equal(t, OrderStateWorking, order.State)

	// Partial fill: 4 @ 100
	require.NoError(t, order.ApplyFill(Fill{
		ExecutionID: "E-1", Quantity: MustQuantity("4"), Price: MustPrice("100"), Timestamp: testTime,
	}))
	assert.Equal(t, OrderStatePartiallyFilled, order.State)
	assert.Equal(t, "4", order.FilledQty.String())
	assert.Equal(t, "6", order.LeavesQty.String())
	assert.True(t, order.AvgPrice.Equal(decimal.NewFromInt(100)), "avg should be 100, got %s", order.AvgPrice)

	// Final fill: 6 @ 101 -> avg 100.6
	require.NoError(t, order.ApplyFill(Fill{
		ExecutionID: "E-2", Quantity: MustQuantity("6"), Price: MustPrice("101"), Timestamp: testTime,
	}))
	assert.Equal(t, OrderStateFilled, order.State)
	assert.Equal(t, "10", order.FilledQty.String())
	assert.True(t, order.LeavesQty.IsZero())
	assert.True(t, order.AvgPrice.Equal(decimal.RequireFromString("100.6")),
		"avg should be 100.6, got %s", order.AvgPrice)
	assert.Len(t, order.Fills, 2)
	assert.True(t, order.IsCompleted())
}

func TestOrder_FilledPlusLeavesInvariant(t *testing.T) {
	order := newLimitBuy(t, "10", "100")
	require.NoError(t, order.ApplySubmitted(testTime))
	require.NoError(t, order.ApplyAccepted("V-1", testTime))
	require.NoError(t, order.ApplyWorking(MustPrice("100"), testTime))

	fills := []string{"1", "2.5", "0.5", "3", "3"}
	for _, q := range fills {
		require.NoError(t, order.ApplyFill(Fill{
			ExecutionID: ExecutionID("E-" + q), Quantity: MustQuantity(q),
			Price: MustPrice("100"), Timestamp: testTime,
		}))
		sum := order.FilledQty.Decimal().Add(order.LeavesQty.Decimal())
		assert.True(t, sum.Equal(order.Quantity.Decimal()),
			"filled+leaves=%s, want %s", sum, order.Quantity)
	}
	assert.Equal(t, OrderStateFilled, order.State)
}

func TestOrder_Reject(t *testing.T) {
	order := newLimitBuy(t, "5", "100")
	require.NoError(t, order.ApplySubmitted(testTime))
	require.NoError(t, order.ApplyRejected("insufficient margin", testTime))
	assert.Equal(t, OrderStateRejected, order.State)
	assert.Equal(t, "insufficient margin", order.RejectReason)

	// Terminal: a late fill must not apply and must not mutate.
	err := order.ApplyFill(Fill{
		ExecutionID: "E-1", Quantity: MustQuantity("5"), Price: MustPrice("100"), Timestamp: testTime,
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, OrderStateRejected, order.State)
	assert.True(t, order.FilledQty.IsZero())
}

func TestOrder_OverFillGuard(t *testing.T) {
	order := newLimitBuy(t, "10", "100")
	require.NoError(t, order.ApplySubmitted(testTime))
	require.NoError(t, order.ApplyAccepted("V-1", testTime))
	require.NoError(t, order.ApplyWorking(MustPrice("100"), testTime))

	err := order.ApplyFill(Fill{
		ExecutionID: "E-1", Quantity: MustQuantity("12"), Price: MustPrice("100"), Timestamp: testTime,
	})
	assert.ErrorIs(t, err, ErrOverFill)
	assert.Equal(t, OrderStateInvalid, order.State)
	assert.True(t, order.FilledQty.IsZero(), "over-fill must not be accounted")
	assert.Empty(t, order.Fills)
}

func TestOrder_IllegalTransitions(t *testing.T) {
	t.Run("Working Before Accepted", func(t *testing.T) {
		order := newLimitBuy(t, "1", "100")
		require.NoError(t, order.ApplySubmitted(testTime))
		err := order.ApplyWorking(MustPrice("100"), testTime)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, OrderStateSubmitted, order.State)
	})

	t.Run("Cancel From Initialized", func(t *testing.T) {
		order := newLimitBuy(t, "1", "100")
		err := order.ApplyCancelled(testTime)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, OrderStateInitialized, order.State)
	})

	t.Run("Expire From Accepted", func(t *testing.T) {
		order := newLimitBuy(t, "1", "100")
		require.NoError(t, order.ApplySubmitted(testTime))
		require.NoError(t, order.ApplyAccepted("V-1", testTime))
		err := order.ApplyExpired(testTime)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, OrderStateAccepted, order.State)
	})

	t.Run("Trigger Plain Limit", func(t *testing.T) {
		order := newLimitBuy(t, "1", "100")
		require.NoError(t, order.ApplySubmitted(testTime))
		require.NoError(t, order.ApplyAccepted("V-1", testTime))
		require.NoError(t, order.ApplyWorking(MustPrice("100"), testTime))
		err := order.ApplyTriggered(testTime)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, OrderStateWorking, order.State)
	})
}

func TestOrder_StopLimitTrigger(t *testing.T) {
	p := MustPrice("95")
	order, err := NewOrder("O-002", "S-001", testSecurity(), SideSell, OrderTypeStopLimit,
		MustQuantity("3"), &p, TIFGTC, testTime)
	require.NoError(t, err)

	require.NoError(t, order.ApplySubmitted(testTime))
	require.NoError(t, order.ApplyAccepted("V-2", testTime))
	require.NoError(t, order.ApplyWorking(MustPrice("95"), testTime))
	require.NoError(t, order.ApplyTriggered(testTime))
	assert.Equal(t, OrderStateTriggered, order.State)

	// Triggered behaves like a limit: fills apply.
	require.NoError(t, order.ApplyFill(Fill{
		ExecutionID: "E-3", Quantity: MustQuantity("3"), Price: MustPrice("95"), Timestamp: testTime,
	}))
	assert.Equal(t, OrderStateFilled, order.State)
}

func TestOrder_Modify(t *testing.T) {
	order := newLimitBuy(t, "10", "100")
	require.NoError(t, order.ApplySubmitted(testTime))
	require.NoError(t, order.ApplyAccepted("V-1", testTime))
	require.NoError(t, order.ApplyWorking(MustPrice("100"), testTime))

	require.NoError(t, order.ApplyModified(MustQuantity("8"), MustPrice("99"), testTime))
	assert.Equal(t, OrderStateWorking, order.State)
	assert.Equal(t, "8", order.Quantity.String())
	assert.Equal(t, "99", order.Price.String())
	assert.Equal(t, "8", order.LeavesQty.String())
}

func TestOrder_CancelFromAccepted(t *testing.T) {
	order := newLimitBuy(t, "10", "100")
	require.NoError(t, order.ApplySubmitted(testTime))
	require.NoError(t, order.ApplyAccepted("V-1", testTime))
	require.NoError(t, order.ApplyCancelled(testTime))
	assert.Equal(t, OrderStateCancelled, order.State)
}
