package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trader_go/internal/domain"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func testSec() domain.Security {
	return domain.NewSecurity("BTC/USDT", "SIM", domain.AssetClassCrypto, domain.AssetTypeSpot)
}

func workingOrder(t *testing.T, id string) *domain.Order {
	t.Helper()
	p := domain.MustPrice("100.50")
	order, err := domain.NewOrder(domain.ClientOrderID(id), "S-001", testSec(),
		domain.SideBuy, domain.OrderTypeLimit, domain.MustQuantity("10"), &p, domain.TIFGTC, t0)
	require.NoError(t, err)
	require.NoError(t, order.ApplySubmitted(t0))
	require.NoError(t, order.ApplyAccepted(domain.OrderID("V-"+id), t0))
	require.NoError(t, order.ApplyWorking(p, t0))
	return order
}

func TestMemoryDatabase_Orders(t *testing.T) {
	db := NewMemoryDatabase()

	order := workingOrder(t, "O-1")
	require.NoError(t, db.AddOrder(order))

	t.Run("Duplicate Add Rejected", func(t *testing.T) {
		assert.ErrorIs(t, db.AddOrder(order), domain.ErrInvalidArgument)
	})

	t.Run("Lookup", func(t *testing.T) {
		assert.Same(t, order, db.Order("O-1"))
		assert.Nil(t, db.Order("O-unknown"))
	})

	t.Run("OrdersOpen Filters Terminal", func(t *testing.T) {
		closed := workingOrder(t, "O-2")
		require.NoError(t, closed.ApplyCancelled(t0))
		require.NoError(t, db.AddOrder(closed))

		open := db.OrdersOpen()
		require.Len(t, open, 1)
		assert.Equal(t, domain.ClientOrderID("O-1"), open[0].ClientOrderID)
		assert.Len(t, db.Orders(), 2)
	})
}

func TestMemoryDatabase_PositionsAndAccounts(t *testing.T) {
	db := NewMemoryDatabase()

	pos := domain.NewPosition("S-001", testSec(), t0)
	pos.ApplyFill(domain.SideBuy, domain.MustQuantity("4"), domain.MustPrice("100"), t0)
	require.NoError(t, db.AddPosition(pos))
	assert.Same(t, pos, db.Position("S-001", testSec()))
	assert.Len(t, db.Positions(), 1)

	account := domain.NewAccount(domain.AccountID{Venue: "SIM", Number: "001"}, domain.USDT)
	account.Update(decimal.NewFromInt(1000), decimal.Zero, decimal.NewFromInt(1000), false, t0)
	require.NoError(t, db.UpdateAccount(account))
	assert.Same(t, account, db.Account("SIM"))
	assert.Nil(t, db.Account("OTHER"))
}

func TestSqliteDatabase_RecoversOpenOrders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "execution.db")

	db, err := NewSqliteDatabase(path)
	require.NoError(t, err)

	open := workingOrder(t, "O-1")
	require.NoError(t, open.ApplyFill(domain.Fill{
		ExecutionID: "E-1",
		Quantity:    domain.MustQuantity("4"),
		Price:       domain.MustPrice("100.50"),
		Commission:  domain.NewMoney(decimal.RequireFromString("0.40"), domain.USDT),
		Timestamp:   t0,
	}))
	require.NoError(t, db.AddOrder(open))

	closed := workingOrder(t, "O-2")
	require.NoError(t, closed.ApplyCancelled(t0))
	require.NoError(t, db.AddOrder(closed))

	// Restart: a fresh instance over the same file.
	db2, err := NewSqliteDatabase(path)
	require.NoError(t, err)
	require.NoError(t, db2.LoadOrders())

	restored := db2.Order("O-1")
	require.NotNil(t, restored)
	assert.Equal(t, domain.OrderStatePartiallyFilled, restored.State)
	assert.Equal(t, domain.OrderID("V-O-1"), restored.OrderID)
	assert.Equal(t, "4", restored.FilledQty.String())
	assert.Equal(t, "6", restored.LeavesQty.String())
	assert.True(t, restored.AvgPrice.Equal(decimal.RequireFromString("100.50")))
	require.Len(t, restored.Fills, 1)
	assert.Equal(t, domain.ExecutionID("E-1"), restored.Fills[0].ExecutionID)

	openOrders := db2.OrdersOpen()
	require.Len(t, openOrders, 1)
	assert.Equal(t, domain.ClientOrderID("O-1"), openOrders[0].ClientOrderID)
}

func TestSqliteDatabase_PositionsAndAccountsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "execution.db")

	db, err := NewSqliteDatabase(path)
	require.NoError(t, err)

	pos := domain.NewPosition("S-001", testSec(), t0)
	pos.ApplyFill(domain.SideSell, domain.MustQuantity("5"), domain.MustPrice("200"), t0)
	require.NoError(t, db.AddPosition(pos))

	account := domain.NewAccount(domain.AccountID{Venue: "SIM", Number: "001"}, domain.USDT)
	account.Update(decimal.NewFromInt(1_000_000), decimal.NewFromInt(50_000),
		decimal.NewFromInt(950_000), false, t0)
	require.NoError(t, db.UpdateAccount(account))

	db2, err := NewSqliteDatabase(path)
	require.NoError(t, err)
	require.NoError(t, db2.LoadPositions())
	require.NoError(t, db2.LoadAccounts())

	restored := db2.Position("S-001", testSec())
	require.NotNil(t, restored)
	assert.Equal(t, domain.PositionShort, restored.Side())
	assert.True(t, restored.Quantity().Equal(decimal.NewFromInt(5)))
	assert.True(t, restored.AvgEntryPrice.Equal(decimal.NewFromInt(200)))

	restoredAccount := db2.Account("SIM")
	require.NotNil(t, restoredAccount)
	assert.True(t, restoredAccount.Balance.Equal(decimal.NewFromInt(1_000_000)))
	assert.True(t, restoredAccount.MarginFree.Equal(decimal.NewFromInt(950_000)))
}
