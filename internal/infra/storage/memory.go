// Package storage implements the execution database: the
// authoritative store of orders, positions and accounts. The engine's
// consumer task is the only writer; readers on other goroutines get
// consistent views through a shared-read, exclusive-write discipline.
package storage

import (
	"sort"
	"sync"

	"trader_go/internal/domain"
)

// MemoryDatabase is the in-memory execution database used for
// backtests and as the read cache of the persistent backend.
type MemoryDatabase struct {
	mu        sync.RWMutex
	orders    map[domain.ClientOrderID]*domain.Order
	positions map[domain.PositionKey]*domain.Position
	accounts  map[domain.Venue]*domain.Account
}

// NewMemoryDatabase creates an empty in-memory database.
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		orders:    make(map[domain.ClientOrderID]*domain.Order),
		positions: make(map[domain.PositionKey]*domain.Position),
		accounts:  make(map[domain.Venue]*domain.Account),
	}
}

// AddOrder registers a new order. The client order id must be unique
// for the process lifetime.
func (d *MemoryDatabase) AddOrder(order *domain.Order) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.orders[order.ClientOrderID]; exists {
		return domain.ErrInvalidArgument
	}
	d.orders[order.ClientOrderID] = order
	return nil
}

// UpdateOrder persists the order's current state.
func (d *MemoryDatabase) UpdateOrder(order *domain.Order) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orders[order.ClientOrderID] = order
	return nil
}

// AddPosition registers a newly opened position.
func (d *MemoryDatabase) AddPosition(position *domain.Position) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.positions[position.Key()] = position
	return nil
}

// UpdatePosition persists the position's current state.
func (d *MemoryDatabase) UpdatePosition(position *domain.Position) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.positions[position.Key()] = position
	return nil
}

// UpdateAccount persists the account's current state.
func (d *MemoryDatabase) UpdateAccount(account *domain.Account) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[account.ID.Venue] = account
	return nil
}

// Order returns the order for the id, or nil.
func (d *MemoryDatabase) Order(id domain.ClientOrderID) *domain.Order {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.orders[id]
}

// Orders returns all orders sorted by client order id.
func (d *MemoryDatabase) Orders() []*domain.Order {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]*domain.Order, 0, len(d.orders))
	for _, o := range d.orders {
		result = append(result, o)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ClientOrderID < result[j].ClientOrderID
	})
	return result
}

// OrdersOpen returns every order not in a terminal state.
func (d *MemoryDatabase) OrdersOpen() []*domain.Order {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]*domain.Order, 0)
	for _, o := range d.orders {
		if !o.IsCompleted() {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ClientOrderID < result[j].ClientOrderID
	})
	return result
}

// Position returns the position for the key, or nil.
func (d *MemoryDatabase) Position(strategy domain.StrategyID, security domain.Security) *domain.Position {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.positions[domain.PositionKey{Strategy: strategy, Security: security}]
}

// Positions returns all positions.
func (d *MemoryDatabase) Positions() []*domain.Position {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]*domain.Position, 0, len(d.positions))
	for _, p := range d.positions {
		result = append(result, p)
	}
	return result
}

// Account returns the account for the venue, or nil.
func (d *MemoryDatabase) Account(venue domain.Venue) *domain.Account {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.accounts[venue]
}

// LoadOrders is a no-op for the in-memory database.
func (d *MemoryDatabase) LoadOrders() error { return nil }

// LoadPositions is a no-op for the in-memory database.
func (d *MemoryDatabase) LoadPositions() error { return nil }

// LoadAccounts is a no-op for the in-memory database.
func (d *MemoryDatabase) LoadAccounts() error { return nil }
