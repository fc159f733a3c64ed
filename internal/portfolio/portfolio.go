// Package portfolio maintains the derived position and account view
// fed from engine events. It is a pure projection: it never mutates
// orders, and replayed events are deduplicated by execution identity
// so reconciliation cannot corrupt PnL.
package portfolio

import (
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"trader_go/internal/domain"
	"trader_go/internal/event"
)

type execKey struct {
	venue  domain.Venue
	execID domain.ExecutionID
}

// Portfolio projects fills into positions and account snapshots. The
// engine's consumer task is the only writer; reads from other
// goroutines go through the read lock and receive copies.
type Portfolio struct {
	db domain.ExecutionDatabase

	mu        sync.RWMutex
	seen      map[execKey]bool
	lastPrice map[domain.Security]domain.Price
	accounts  map[domain.Venue]*domain.Account

	// OnPositionEvent, when set, receives position lifecycle events.
	OnPositionEvent func(e event.Event)
}

// NewPortfolio creates an empty portfolio over the execution database.
func NewPortfolio(db domain.ExecutionDatabase) *Portfolio {
	return &Portfolio{
		db:        db,
		seen:      make(map[execKey]bool),
		lastPrice: make(map[domain.Security]domain.Price),
		accounts:  make(map[domain.Venue]*domain.Account),
	}
}

// ProcessEvent consumes one engine-forwarded event.
func (p *Portfolio) ProcessEvent(e event.Event) {
	switch v := e.(type) {
	case event.OrderPartiallyFilled:
		p.applyFill(v.OrderFillBody)
	case event.OrderFilled:
		p.applyFill(v.OrderFillBody)
	case event.AccountState:
		p.applyAccountState(v)
	default:
		// Order lifecycle events carry no position impact.
	}
}

func (p *Portfolio) applyFill(body event.OrderFillBody) {
	if body.StrategyID == "" {
		// Clients report venue facts only; the owning strategy comes
		// from the order record.
		if order := p.db.Order(body.ClientOrderID); order != nil {
			body.StrategyID = order.StrategyID
		}
	}
	key := execKey{venue: body.Security.Venue, execID: body.ExecutionID}

	p.mu.Lock()
	if p.seen[key] {
		p.mu.Unlock()
		slog.Debug("duplicate execution ignored",
			slog.String("execution", string(body.ExecutionID)))
		return
	}
	p.seen[key] = true
	p.lastPrice[body.Security] = body.FillPrice
	p.mu.Unlock()

	position := p.db.Position(body.StrategyID, body.Security)
	opened := false
	if position == nil || position.IsClosed() {
		position = domain.NewPosition(body.StrategyID, body.Security, body.ExecutionTime)
		opened = true
	}

	remainder := position.ApplyFill(body.Side, body.FillQty, body.FillPrice, body.ExecutionTime)

	if opened {
		if err := p.db.AddPosition(position); err != nil {
			slog.Error("failed to persist position", slog.Any("error", err))
			return
		}
		p.emit(event.PositionOpened{Base: event.NewBase(body.ExecutionTime), Position: position})
	} else {
		if err := p.db.UpdatePosition(position); err != nil {
			slog.Error("failed to persist position", slog.Any("error", err))
			return
		}
		if position.IsClosed() {
			p.emit(event.PositionClosed{Base: event.NewBase(body.ExecutionTime), Position: position})
		} else {
			p.emit(event.PositionChanged{Base: event.NewBase(body.ExecutionTime), Position: position})
		}
	}

	// A fill past flat flips the side: the closed position is written
	// as closed, then the overshoot opens a fresh one under the same
	// (strategy, security) key, replacing it in the position cache.
	if remainder.IsPositive() {
		flipped := domain.NewPosition(body.StrategyID, body.Security, body.ExecutionTime)
		remainderQty, err := domain.NewQuantity(remainder, body.FillQty.Precision())
		if err != nil {
			slog.Error("invalid flip remainder", slog.Any("error", err))
			return
		}
		flipped.ApplyFill(body.Side, remainderQty, body.FillPrice, body.ExecutionTime)
		if err := p.db.AddPosition(flipped); err != nil {
			slog.Error("failed to persist flipped position", slog.Any("error", err))
			return
		}
		p.emit(event.PositionOpened{Base: event.NewBase(body.ExecutionTime), Position: flipped})
	}
}

func (p *Portfolio) applyAccountState(v event.AccountState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	account, ok := p.accounts[v.AccountID.Venue]
	if !ok {
		account = domain.NewAccount(v.AccountID, v.Currency)
		p.accounts[v.AccountID.Venue] = account
	}
	account.Update(v.Balance, v.MarginUsed, v.MarginFree, v.MarginCall, v.Timestamp)
}

func (p *Portfolio) emit(e event.Event) {
	if p.OnPositionEvent != nil {
		p.OnPositionEvent(e)
	}
}

// Account returns a copy of the account view for the venue.
func (p *Portfolio) Account(venue domain.Venue) (domain.Account, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	account, ok := p.accounts[venue]
	if !ok {
		return domain.Account{}, false
	}
	return *account, true
}

// UnrealizedPnL computes open PnL for a position against the last
// fill price seen for its security.
func (p *Portfolio) UnrealizedPnL(strategy domain.StrategyID, security domain.Security) decimal.Decimal {
	position := p.db.Position(strategy, security)
	if position == nil {
		return decimal.Zero
	}
	p.mu.RLock()
	last, ok := p.lastPrice[security]
	p.mu.RUnlock()
	if !ok {
		return decimal.Zero
	}
	return position.UnrealizedPnL(last)
}
