package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trader_go/internal/domain"
)

// SqliteDatabase is the persistent execution database for live
// trading: write-through to SQLite with the in-memory database as
// read cache. After a restart, LoadOrders restores every order from
// the last successful write so OrdersOpen reflects pre-crash state
// and reconciliation can run before new commands are accepted.
type SqliteDatabase struct {
	*MemoryDatabase
	db *gorm.DB
}

// orderRecord is the persisted row form of a domain.Order.
type orderRecord struct {
	ClientOrderID string `gorm:"primaryKey"`
	OrderID       string `gorm:"index"`
	StrategyID    string
	Symbol        string
	Venue         string `gorm:"index"`
	AssetClass    string
	AssetType     string
	Side          string
	Type          string
	Quantity      string
	Price         string
	TimeInForce   string
	State         string `gorm:"index"`
	FilledQty     string
	LeavesQty     string
	AvgPrice      string
	RejectReason  string
	FillsJSON     string
	InitTime      time.Time
	SubmittedTime time.Time
	LastEventTime time.Time
	UpdatedAt     time.Time
}

// positionRecord is the persisted row form of a domain.Position.
// The key is deterministic so write-through updates upsert in place.
type positionRecord struct {
	Key           string `gorm:"primaryKey"`
	StrategyID    string `gorm:"index:idx_pos_key"`
	Symbol        string `gorm:"index:idx_pos_key"`
	Venue         string `gorm:"index:idx_pos_key"`
	AssetClass    string
	AssetType     string
	SignedQty     string
	AvgEntryPrice string
	RealizedPnL   string
	OpenedTime    time.Time
	ClosedTime    *time.Time
	UpdatedAt     time.Time
}

// accountRecord is the persisted row form of a domain.Account.
type accountRecord struct {
	Venue        string `gorm:"primaryKey"`
	Number       string
	Currency     string
	Balance      string
	MarginUsed   string
	MarginFree   string
	IsMarginCall bool
	UpdatedAt    time.Time
}

type fillRecord struct {
	ExecutionID string    `json:"execution_id"`
	Quantity    string    `json:"quantity"`
	Price       string    `json:"price"`
	Commission  string    `json:"commission"`
	Currency    string    `json:"currency"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewSqliteDatabase opens (or creates) the execution database file.
func NewSqliteDatabase(path string) (*SqliteDatabase, error) {
	if path == "" {
		var err error
		path, err = defaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&orderRecord{}, &positionRecord{}, &accountRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SqliteDatabase{
		MemoryDatabase: NewMemoryDatabase(),
		db:             db,
	}, nil
}

// defaultDBPath resolves the database file path under the user config dir.
func defaultDBPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "TraderGo", "data", "execution.db"), nil
}

// AddOrder updates the cache, then writes through to SQLite.
func (d *SqliteDatabase) AddOrder(order *domain.Order) error {
	if err := d.MemoryDatabase.AddOrder(order); err != nil {
		return err
	}
	return d.saveOrder(order)
}

// UpdateOrder updates the cache, then writes through to SQLite.
func (d *SqliteDatabase) UpdateOrder(order *domain.Order) error {
	if err := d.MemoryDatabase.UpdateOrder(order); err != nil {
		return err
	}
	return d.saveOrder(order)
}

func (d *SqliteDatabase) saveOrder(order *domain.Order) error {
	rec, err := toOrderRecord(order)
	if err != nil {
		return err
	}
	return d.db.Save(rec).Error
}

// AddPosition updates the cache, then writes through to SQLite.
func (d *SqliteDatabase) AddPosition(position *domain.Position) error {
	if err := d.MemoryDatabase.AddPosition(position); err != nil {
		return err
	}
	return d.savePosition(position)
}

// UpdatePosition updates the cache, then writes through to SQLite.
func (d *SqliteDatabase) UpdatePosition(position *domain.Position) error {
	if err := d.MemoryDatabase.UpdatePosition(position); err != nil {
		return err
	}
	return d.savePosition(position)
}

func (d *SqliteDatabase) savePosition(position *domain.Position) error {
	return d.db.Save(toPositionRecord(position)).Error
}

// UpdateAccount updates the cache, then writes through to SQLite.
func (d *SqliteDatabase) UpdateAccount(account *domain.Account) error {
	if err := d.MemoryDatabase.UpdateAccount(account); err != nil {
		return err
	}
	rec := accountRecord{
		Venue:        string(account.ID.Venue),
		Number:       account.ID.Number,
		Currency:     string(account.Currency),
		Balance:      account.Balance.String(),
		MarginUsed:   account.MarginUsed.String(),
		MarginFree:   account.MarginFree.String(),
		IsMarginCall: account.IsMarginCall,
		UpdatedAt:    account.UpdatedAt,
	}
	return d.db.Save(&rec).Error
}

// LoadOrders restores all persisted orders into the cache.
func (d *SqliteDatabase) LoadOrders() error {
	var records []orderRecord
	if err := d.db.Find(&records).Error; err != nil {
		return err
	}
	for i := range records {
		order, err := fromOrderRecord(&records[i])
		if err != nil {
			return fmt.Errorf("corrupt order record %s: %w", records[i].ClientOrderID, err)
		}
		if err := d.MemoryDatabase.UpdateOrder(order); err != nil {
			return err
		}
	}
	return nil
}

// LoadPositions restores all persisted open positions into the cache.
func (d *SqliteDatabase) LoadPositions() error {
	var records []positionRecord
	if err := d.db.Where("closed_time IS NULL").Find(&records).Error; err != nil {
		return err
	}
	for i := range records {
		position, err := fromPositionRecord(&records[i])
		if err != nil {
			return fmt.Errorf("corrupt position record %s: %w", records[i].Key, err)
		}
		if err := d.MemoryDatabase.UpdatePosition(position); err != nil {
			return err
		}
	}
	return nil
}

// LoadAccounts restores all persisted accounts into the cache.
func (d *SqliteDatabase) LoadAccounts() error {
	var records []accountRecord
	if err := d.db.Find(&records).Error; err != nil {
		return err
	}
	for i := range records {
		account, err := fromAccountRecord(&records[i])
		if err != nil {
			return fmt.Errorf("corrupt account record %s: %w", records[i].Venue, err)
		}
		if err := d.MemoryDatabase.UpdateAccount(account); err != nil {
			return err
		}
	}
	return nil
}

func toOrderRecord(order *domain.Order) (*orderRecord, error) {
	fills := make([]fillRecord, 0, len(order.Fills))
	for _, f := range order.Fills {
		fills = append(fills, fillRecord{
			ExecutionID: string(f.ExecutionID),
			Quantity:    f.Quantity.String(),
			Price:       f.Price.String(),
			Commission:  f.Commission.Amount.String(),
			Currency:    string(f.Commission.Currency),
			Timestamp:   f.Timestamp,
		})
	}
	fillsJSON, err := json.Marshal(fills)
	if err != nil {
		return nil, err
	}

	rec := &orderRecord{
		ClientOrderID: string(order.ClientOrderID),
		OrderID:       string(order.OrderID),
		StrategyID:    string(order.StrategyID),
		Symbol:        order.Security.Symbol,
		Venue:         string(order.Security.Venue),
		AssetClass:    string(order.Security.AssetClass),
		AssetType:     string(order.Security.AssetType),
		Side:          string(order.Side),
		Type:          string(order.Type),
		Quantity:      order.Quantity.String(),
		TimeInForce:   string(order.TimeInForce),
		State:         string(order.State),
		FilledQty:     order.FilledQty.String(),
		LeavesQty:     order.LeavesQty.String(),
		AvgPrice:      order.AvgPrice.String(),
		RejectReason:  order.RejectReason,
		FillsJSON:     string(fillsJSON),
		InitTime:      order.InitTime,
		SubmittedTime: order.SubmittedTime,
		LastEventTime: order.LastEventTime,
		UpdatedAt:     time.Now().UTC(),
	}
	if order.Price != nil {
		rec.Price = order.Price.String()
	}
	return rec, nil
}

func fromOrderRecord(rec *orderRecord) (*domain.Order, error) {
	qty, err := domain.QuantityFromString(rec.Quantity)
	if err != nil {
		return nil, err
	}
	filledQty, err := domain.QuantityFromString(rec.FilledQty)
	if err != nil {
		return nil, err
	}
	leavesQty, err := domain.QuantityFromString(rec.LeavesQty)
	if err != nil {
		return nil, err
	}
	avgPrice, err := decimal.NewFromString(rec.AvgPrice)
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		ClientOrderID: domain.ClientOrderID(rec.ClientOrderID),
		OrderID:       domain.OrderID(rec.OrderID),
		StrategyID:    domain.StrategyID(rec.StrategyID),
		Security: domain.Security{
			Symbol:     rec.Symbol,
			Venue:      domain.Venue(rec.Venue),
			AssetClass: domain.AssetClass(rec.AssetClass),
			AssetType:  domain.AssetType(rec.AssetType),
		},
		Side:          domain.OrderSide(rec.Side),
		Type:          domain.OrderType(rec.Type),
		Quantity:      qty,
		TimeInForce:   domain.TimeInForce(rec.TimeInForce),
		Purpose:       domain.PurposeNone,
		State:         domain.OrderState(rec.State),
		FilledQty:     filledQty,
		LeavesQty:     leavesQty,
		AvgPrice:      avgPrice,
		RejectReason:  rec.RejectReason,
		InitTime:      rec.InitTime,
		SubmittedTime: rec.SubmittedTime,
		LastEventTime: rec.LastEventTime,
	}

	if rec.Price != "" {
		price, err := domain.PriceFromString(rec.Price)
		if err != nil {
			return nil, err
		}
		order.Price = &price
	}

	if rec.FillsJSON != "" {
		var fills []fillRecord
		if err := json.Unmarshal([]byte(rec.FillsJSON), &fills); err != nil {
			return nil, err
		}
		for _, f := range fills {
			fq, err := domain.QuantityFromString(f.Quantity)
			if err != nil {
				return nil, err
			}
			fp, err := domain.PriceFromString(f.Price)
			if err != nil {
				return nil, err
			}
			commission, err := decimal.NewFromString(f.Commission)
			if err != nil {
				return nil, err
			}
			order.Fills = append(order.Fills, domain.Fill{
				ExecutionID: domain.ExecutionID(f.ExecutionID),
				Quantity:    fq,
				Price:       fp,
				Commission:  domain.NewMoney(commission, domain.Currency(f.Currency)),
				Timestamp:   f.Timestamp,
			})
		}
	}

	return order, nil
}

func toPositionRecord(position *domain.Position) *positionRecord {
	return &positionRecord{
		Key: fmt.Sprintf("%s|%s|%d",
			position.StrategyID, position.Security, position.OpenedTime.UnixNano()),
		StrategyID:    string(position.StrategyID),
		Symbol:        position.Security.Symbol,
		Venue:         string(position.Security.Venue),
		AssetClass:    string(position.Security.AssetClass),
		AssetType:     string(position.Security.AssetType),
		SignedQty:     position.SignedQuantity().String(),
		AvgEntryPrice: position.AvgEntryPrice.String(),
		RealizedPnL:   position.RealizedPnL.String(),
		OpenedTime:    position.OpenedTime,
		ClosedTime:    position.ClosedTime,
		UpdatedAt:     time.Now().UTC(),
	}
}

func fromPositionRecord(rec *positionRecord) (*domain.Position, error) {
	signedQty, err := decimal.NewFromString(rec.SignedQty)
	if err != nil {
		return nil, err
	}
	avgEntry, err := decimal.NewFromString(rec.AvgEntryPrice)
	if err != nil {
		return nil, err
	}
	realized, err := decimal.NewFromString(rec.RealizedPnL)
	if err != nil {
		return nil, err
	}
	security := domain.Security{
		Symbol:     rec.Symbol,
		Venue:      domain.Venue(rec.Venue),
		AssetClass: domain.AssetClass(rec.AssetClass),
		AssetType:  domain.AssetType(rec.AssetType),
	}
	position := domain.RestorePosition(
		domain.StrategyID(rec.StrategyID), security,
		signedQty, avgEntry, realized, rec.OpenedTime, rec.ClosedTime)
	return position, nil
}

func fromAccountRecord(rec *accountRecord) (*domain.Account, error) {
	balance, err := decimal.NewFromString(rec.Balance)
	if err != nil {
		return nil, err
	}
	marginUsed, err := decimal.NewFromString(rec.MarginUsed)
	if err != nil {
		return nil, err
	}
	marginFree, err := decimal.NewFromString(rec.MarginFree)
	if err != nil {
		return nil, err
	}
	account := domain.NewAccount(
		domain.AccountID{Venue: domain.Venue(rec.Venue), Number: rec.Number},
		domain.Currency(rec.Currency))
	account.Update(balance, marginUsed, marginFree, rec.IsMarginCall, rec.UpdatedAt)
	return account, nil
}
