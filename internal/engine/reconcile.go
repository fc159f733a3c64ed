package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"trader_go/internal/domain"
	"trader_go/internal/event"
	"trader_go/internal/infra"
)

// ReconcilePolicy decides the terminal-local versus working-venue
// conflict: the venue says the order is live but the local cache
// already closed it. Returning true confirms the local state and
// resolves the order; returning false leaves it unresolved.
type ReconcilePolicy func(order *domain.Order, venueState domain.OrderState) bool

// defaultReconcilePolicy holds the local state but never confirms it
// on its own: the conflict is logged and stays unresolved until an
// operator-supplied policy says otherwise.
func defaultReconcilePolicy(order *domain.Order, venueState domain.OrderState) bool {
	slog.Error("venue reports live order locally terminal, operator confirmation required",
		slog.String("order", string(order.ClientOrderID)),
		slog.String("local", string(order.State)),
		slog.String("venue", string(venueState)))
	return false
}

// ReconcileState converges the cached open orders with every
// registered venue's reported state. It requests a state report from
// each client in parallel, then re-evaluates resolution on each pass
// until all orders resolve or the timeout elapses. Missing lifecycle
// events are the clients' to synthesize; the engine only observes
// convergence. On failure the engine enters degraded mode and rejects
// commands until a later call succeeds.
func (e *ExecutionEngine) ReconcileState(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = e.cfg.ReconcileTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	open := e.db.OrdersOpen()
	if len(open) == 0 {
		e.setDegraded(false)
		return true
	}

	byVenue := make(map[domain.Venue][]*domain.Order)
	for _, order := range open {
		byVenue[order.Security.Venue] = append(byVenue[order.Security.Venue], order)
	}

	reports := e.collectReports(ctx, byVenue)

	rejected := make(map[domain.ClientOrderID]bool)
	deadline := time.Now().Add(timeout)
	for {
		unresolved := e.resolvePass(byVenue, reports, rejected)
		infra.GlobalMetrics.RecordReconcilePass()
		if len(unresolved) == 0 {
			e.setDegraded(false)
			slog.Info("reconciliation complete", slog.Int("orders", len(open)))
			return true
		}
		if time.Now().After(deadline) {
			for _, order := range unresolved {
				slog.Error("order unresolved at reconcile timeout",
					slog.String("order", string(order.ClientOrderID)),
					slog.String("state", string(order.State)))
			}
			infra.GlobalMetrics.RecordReconcileFailure()
			e.setDegraded(true)
			return false
		}
		select {
		case <-ctx.Done():
			infra.GlobalMetrics.RecordReconcileFailure()
			e.setDegraded(true)
			return false
		case <-time.After(e.cfg.ReconcilePollInterval):
		}
	}
}

// collectReports requests state reports from all involved venues in
// parallel. A venue that fails to report leaves its orders without
// ground truth; they stay unresolved and the pass loop times out on
// them.
func (e *ExecutionEngine) collectReports(
	ctx context.Context,
	byVenue map[domain.Venue][]*domain.Order,
) map[domain.Venue]*domain.ExecutionStateReport {
	var mu sync.Mutex
	var wg sync.WaitGroup
	reports := make(map[domain.Venue]*domain.ExecutionStateReport, len(byVenue))

	for venue, orders := range byVenue {
		client := e.client(venue)
		if client == nil {
			slog.Error("no client registered for venue with open orders",
				slog.String("venue", string(venue)), slog.Int("orders", len(orders)))
			continue
		}
		wg.Add(1)
		go func(venue domain.Venue, client domain.ExecutionClient, orders []*domain.Order) {
			defer wg.Done()
			report, err := client.StateReport(ctx, orders)
			if err != nil {
				slog.Error("state report failed",
					slog.String("venue", string(venue)), slog.Any("error", err))
				return
			}
			mu.Lock()
			reports[venue] = &report
			mu.Unlock()
		}(venue, client, orders)
	}
	wg.Wait()
	return reports
}

// resolvePass compares every open order to its venue report and
// returns the orders still unresolved. Orders the venue never saw
// while locally SUBMITTED earn a synthesized rejection, once.
func (e *ExecutionEngine) resolvePass(
	byVenue map[domain.Venue][]*domain.Order,
	reports map[domain.Venue]*domain.ExecutionStateReport,
	rejected map[domain.ClientOrderID]bool,
) []*domain.Order {
	var unresolved []*domain.Order
	for venue, orders := range byVenue {
		report := reports[venue]
		for _, order := range orders {
			// Re-read: the consumer task owns mutation and may have
			// applied synthesized events since the last pass.
			current := e.db.Order(order.ClientOrderID)
			if current == nil {
				continue
			}
			if e.resolved(current, report, rejected) {
				continue
			}
			unresolved = append(unresolved, current)
		}
	}
	return unresolved
}

func (e *ExecutionEngine) resolved(
	order *domain.Order,
	report *domain.ExecutionStateReport,
	rejected map[domain.ClientOrderID]bool,
) bool {
	if report == nil {
		// No ground truth from the venue at all.
		return false
	}

	venueState, known := report.OrderStates[order.OrderID]
	if !known || order.OrderID == "" {
		// Unknown to the venue. A submission that never landed is a
		// rejection; anything already terminal locally needs nothing.
		if order.IsCompleted() {
			return true
		}
		if order.State == domain.OrderStateSubmitted && !rejected[order.ClientOrderID] {
			rejected[order.ClientOrderID] = true
			if err := e.Process(event.OrderRejected{
				Base:          event.NewBase(e.clock.Now()),
				ClientOrderID: order.ClientOrderID,
				Reason:        "order unknown to venue",
			}); err != nil {
				slog.Error("failed to enqueue synthesized rejection", slog.Any("error", err))
			}
		}
		return false
	}

	if order.IsCompleted() && !venueState.IsTerminal() {
		e.mu.RLock()
		policy := e.policy
		e.mu.RUnlock()
		return policy(order, venueState)
	}

	if order.State != venueState {
		return false
	}
	switch venueState {
	case domain.OrderStateFilled, domain.OrderStatePartiallyFilled:
		reportFilled, ok := report.FilledQty[order.OrderID]
		return ok && reportFilled.Equal(order.FilledQty)
	default:
		return true
	}
}

func (e *ExecutionEngine) setDegraded(degraded bool) {
	e.mu.Lock()
	changed := e.degraded != degraded
	e.degraded = degraded
	e.mu.Unlock()
	infra.GlobalMetrics.SetDegraded(degraded)
	if changed && degraded {
		slog.Warn("engine degraded: commands rejected until reconciliation succeeds")
	}
	if changed && !degraded {
		slog.Info("engine accepting commands")
	}
}
