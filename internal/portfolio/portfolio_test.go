package portfolio

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trader_go/internal/domain"
	"trader_go/internal/event"
	"trader_go/internal/infra/storage"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func testSec() domain.Security {
	return domain.NewSecurity("BTC/USDT", "SIM", domain.AssetClassCrypto, domain.AssetTypeSpot)
}

func fillEvent(execID, side, qty, price string) event.OrderFilled {
	return event.OrderFilled{
		Base: event.NewBase(t0),
		OrderFillBody: event.OrderFillBody{
			ClientOrderID: "O-1",
			OrderID:       "V-1",
			ExecutionID:   domain.ExecutionID(execID),
			StrategyID:    "S-001",
			Security:      testSec(),
			Side:          domain.OrderSide(side),
			FillQty:       domain.MustQuantity(qty),
			FillPrice:     domain.MustPrice(price),
			ExecutionTime: t0,
		},
	}
}

func TestPortfolio_OpensPositionOnFirstFill(t *testing.T) {
	db := storage.NewMemoryDatabase()
	pf := NewPortfolio(db)

	var events []event.Event
	pf.OnPositionEvent = func(e event.Event) { events = append(events, e) }

	pf.ProcessEvent(fillEvent("E-1", "BUY", "4", "100"))

	pos := db.Position("S-001", testSec())
	require.NotNil(t, pos)
	assert.Equal(t, domain.PositionLong, pos.Side())
	assert.True(t, pos.Quantity().Equal(decimal.NewFromInt(4)))
	require.Len(t, events, 1)
	assert.IsType(t, event.PositionOpened{}, events[0])
}

func TestPortfolio_DeduplicatesByExecutionID(t *testing.T) {
	db := storage.NewMemoryDatabase()
	pf := NewPortfolio(db)

	fill := fillEvent("E-dup", "BUY", "4", "100")
	pf.ProcessEvent(fill)
	// Replay during reconciliation: same execution id, same venue.
	pf.ProcessEvent(fill)

	pos := db.Position("S-001", testSec())
	require.NotNil(t, pos)
	assert.True(t, pos.Quantity().Equal(decimal.NewFromInt(4)),
		"replayed fill must not double-count, got %s", pos.Quantity())
}

func TestPortfolio_ChangeAndClose(t *testing.T) {
	db := storage.NewMemoryDatabase()
	pf := NewPortfolio(db)

	var events []event.Event
	pf.OnPositionEvent = func(e event.Event) { events = append(events, e) }

	pf.ProcessEvent(fillEvent("E-1", "BUY", "10", "100"))
	pf.ProcessEvent(fillEvent("E-2", "SELL", "4", "110"))
	pf.ProcessEvent(fillEvent("E-3", "SELL", "6", "120"))

	pos := db.Position("S-001", testSec())
	require.NotNil(t, pos)
	assert.True(t, pos.IsClosed())
	// 4*(110-100) + 6*(120-100) = 160
	assert.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(160)), "got %s", pos.RealizedPnL)

	require.Len(t, events, 3)
	assert.IsType(t, event.PositionOpened{}, events[0])
	assert.IsType(t, event.PositionChanged{}, events[1])
	assert.IsType(t, event.PositionClosed{}, events[2])
}

func TestPortfolio_SideFlipOpensNewPosition(t *testing.T) {
	db := storage.NewMemoryDatabase()
	pf := NewPortfolio(db)

	var events []event.Event
	pf.OnPositionEvent = func(e event.Event) { events = append(events, e) }

	pf.ProcessEvent(fillEvent("E-1", "BUY", "3", "100"))
	// Sell 5 against a 3-lot long: close the long, open a 2-lot short.
	pf.ProcessEvent(fillEvent("E-2", "SELL", "5", "105"))

	pos := db.Position("S-001", testSec())
	require.NotNil(t, pos)
	assert.Equal(t, domain.PositionShort, pos.Side())
	assert.True(t, pos.Quantity().Equal(decimal.NewFromInt(2)), "got %s", pos.Quantity())

	require.Len(t, events, 3)
	assert.IsType(t, event.PositionOpened{}, events[0])
	assert.IsType(t, event.PositionClosed{}, events[1])
	assert.IsType(t, event.PositionOpened{}, events[2])
}

func TestPortfolio_AccountState(t *testing.T) {
	db := storage.NewMemoryDatabase()
	pf := NewPortfolio(db)

	accountID := domain.AccountID{Venue: "SIM", Number: "001"}
	pf.ProcessEvent(event.AccountState{
		Base:       event.NewBase(t0),
		AccountID:  accountID,
		Currency:   domain.USDT,
		Balance:    decimal.NewFromInt(1_000_000),
		MarginUsed: decimal.NewFromInt(250_000),
		MarginFree: decimal.NewFromInt(750_000),
	})

	account, ok := pf.Account("SIM")
	require.True(t, ok)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(1_000_000)))
	assert.True(t, account.MarginFree.Equal(decimal.NewFromInt(750_000)))
	assert.False(t, account.IsMarginCall)
}

func TestPortfolio_UnrealizedPnL(t *testing.T) {
	db := storage.NewMemoryDatabase()
	pf := NewPortfolio(db)

	pf.ProcessEvent(fillEvent("E-1", "BUY", "2", "100"))
	// Last price tracks the most recent fill for the security.
	pnl := pf.UnrealizedPnL("S-001", testSec())
	assert.True(t, pnl.IsZero())

	// A later fill on another order moves the mark.
	later := fillEvent("E-2", "BUY", "1", "130")
	later.ClientOrderID = "O-2"
	pf.ProcessEvent(later)
	pnl = pf.UnrealizedPnL("S-001", testSec())
	// 3 lots long, avg (2*100+1*130)/3 = 110, mark 130: 3*20 = 60
	assert.True(t, pnl.Equal(decimal.NewFromInt(60)), "got %s", pnl)
}
