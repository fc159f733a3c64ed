// Package engine implements the execution engine: a single-consumer
// message loop that routes trading commands to per-venue execution
// clients, drives the order state machine through the execution
// database, and forwards events to the portfolio. One goroutine owns
// all order, position and account mutation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trader_go/internal/domain"
	"trader_go/internal/event"
	"trader_go/internal/infra"
)

// State is the engine lifecycle state.
type State string

const (
	StatePreInitialized State = "PRE_INITIALIZED"
	StateInitialized    State = "INITIALIZED"
	StateRunning        State = "RUNNING"
	StateStopped        State = "STOPPED"
	StateDisposed       State = "DISPOSED"
)

// Portfolio receives every successfully applied event. The engine's
// consumer task is the only caller.
type Portfolio interface {
	ProcessEvent(e event.Event)
}

// Config carries the engine's recognized settings.
type Config struct {
	QSize                 int
	ReconcileTimeout      time.Duration
	ReconcilePollInterval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		QSize:                 infra.DefaultQueueSize,
		ReconcileTimeout:      time.Duration(infra.DefaultReconcileTimeoutSecs) * time.Second,
		ReconcilePollInterval: time.Duration(infra.DefaultReconcilePollInterval) * time.Millisecond,
	}
}

// ExecutionEngine is the single owner of the command/event queue.
// Strategies call Execute, clients call Process; both land in one
// bounded FIFO so a cancel sent after an observed partial fill can
// never be reordered ahead of the fill.
type ExecutionEngine struct {
	cfg       Config
	queue     chan event.Message
	db        domain.ExecutionDatabase
	portfolio Portfolio
	clock     infra.Clock
	policy    ReconcilePolicy

	mu       sync.RWMutex
	state    State
	clients  map[domain.Venue]domain.ExecutionClient
	degraded bool

	runCancel context.CancelFunc
	done      chan struct{}
}

// NewExecutionEngine creates an engine in PRE_INITIALIZED.
func NewExecutionEngine(cfg Config, db domain.ExecutionDatabase, portfolio Portfolio, clock infra.Clock) *ExecutionEngine {
	if cfg.QSize <= 0 {
		cfg.QSize = infra.DefaultQueueSize
	}
	if cfg.ReconcileTimeout <= 0 {
		cfg.ReconcileTimeout = time.Duration(infra.DefaultReconcileTimeoutSecs) * time.Second
	}
	if cfg.ReconcilePollInterval <= 0 {
		cfg.ReconcilePollInterval = time.Duration(infra.DefaultReconcilePollInterval) * time.Millisecond
	}
	return &ExecutionEngine{
		cfg:       cfg,
		queue:     make(chan event.Message, cfg.QSize),
		db:        db,
		portfolio: portfolio,
		clock:     clock,
		policy:    defaultReconcilePolicy,
		state:     StatePreInitialized,
		clients:   make(map[domain.Venue]domain.ExecutionClient),
	}
}

// SetReconcilePolicy installs the operator policy for terminal-local
// versus working-venue conflicts.
func (e *ExecutionEngine) SetReconcilePolicy(policy ReconcilePolicy) {
	e.mu.Lock()
	e.policy = policy
	e.mu.Unlock()
}

// State returns the current lifecycle state.
func (e *ExecutionEngine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// IsDegraded reports whether commands are being rejected pending a
// successful reconciliation.
func (e *ExecutionEngine) IsDegraded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.degraded
}

// QSize returns the number of messages waiting in the queue.
func (e *ExecutionEngine) QSize() int {
	return len(e.queue)
}

// RegisterClient registers an execution client for its venue.
func (e *ExecutionEngine) RegisterClient(client domain.ExecutionClient) error {
	if client == nil {
		return fmt.Errorf("%w: nil client", domain.ErrInvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.clients[client.Venue()]; exists {
		return fmt.Errorf("%w: client already registered for %s", domain.ErrInvalidArgument, client.Venue())
	}
	e.clients[client.Venue()] = client
	slog.Info("execution client registered", slog.String("venue", string(client.Venue())))
	return nil
}

// DeregisterClient removes the client for the venue.
func (e *ExecutionEngine) DeregisterClient(venue domain.Venue) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.clients[venue]; !exists {
		return fmt.Errorf("%w: no client for %s", domain.ErrUnknownVenue, venue)
	}
	delete(e.clients, venue)
	return nil
}

func (e *ExecutionEngine) client(venue domain.Venue) domain.ExecutionClient {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clients[venue]
}

// Execute enqueues a trading command. Validation failures surface
// here synchronously; nothing invalid is ever enqueued. When the
// queue is full the call logs a warning and blocks until a slot
// opens.
func (e *ExecutionEngine) Execute(cmd event.Command) error {
	if cmd == nil {
		return fmt.Errorf("%w: nil command", domain.ErrInvalidArgument)
	}
	venue, err := commandVenue(cmd)
	if err != nil {
		return err
	}
	if e.client(venue) == nil {
		return fmt.Errorf("%w: %s", domain.ErrUnknownVenue, venue)
	}
	e.enqueue(cmd)
	return nil
}

// Process enqueues an execution event from a client. This is the sole
// legal way for foreign tasks to touch engine state.
func (e *ExecutionEngine) Process(ev event.Event) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", domain.ErrInvalidArgument)
	}
	e.enqueue(ev)
	return nil
}

func (e *ExecutionEngine) enqueue(msg event.Message) {
	// Only the engine itself may post the shutdown sentinel; the
	// boundary types (Command, Event) cannot be Shutdown, so this is
	// unreachable from Execute/Process by construction.
	select {
	case e.queue <- msg:
	default:
		slog.Warn("engine queue full, backpressure engaged",
			slog.Int("qsize", cap(e.queue)))
		e.queue <- msg
	}
	infra.GlobalMetrics.SetQueueDepth(int32(len(e.queue)))
}

func commandVenue(cmd event.Command) (domain.Venue, error) {
	switch c := cmd.(type) {
	case event.SubmitOrder:
		if c.Order == nil {
			return "", fmt.Errorf("%w: submit without order", domain.ErrInvalidArgument)
		}
		return c.Venue(), nil
	case event.SubmitBracketOrder:
		if c.Entry == nil {
			return "", fmt.Errorf("%w: bracket without entry", domain.ErrInvalidArgument)
		}
		return c.Venue(), nil
	case event.CancelOrder:
		if c.ClientOrderID == "" {
			return "", fmt.Errorf("%w: cancel without order id", domain.ErrInvalidArgument)
		}
		return c.Venue(), nil
	case event.ModifyOrder:
		if c.ClientOrderID == "" {
			return "", fmt.Errorf("%w: modify without order id", domain.ErrInvalidArgument)
		}
		return c.Venue(), nil
	default:
		return "", fmt.Errorf("%w: unknown command %T", domain.ErrInvalidArgument, cmd)
	}
}

// Start loads persisted state and launches the consumer. With open
// orders restored from a previous run the engine comes up degraded
// and requires a successful ReconcileState before accepting commands.
func (e *ExecutionEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StatePreInitialized && e.state != StateInitialized {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("cannot start engine in state %s", state)
	}
	e.mu.Unlock()

	if err := e.db.LoadOrders(); err != nil {
		return fmt.Errorf("load orders: %w", err)
	}
	if err := e.db.LoadPositions(); err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	if err := e.db.LoadAccounts(); err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.state = StateInitialized
	e.runCancel = cancel
	e.done = make(chan struct{})
	if open := e.db.OrdersOpen(); len(open) > 0 {
		// Recovered open orders: cache may be stale against the venue.
		e.degraded = true
		infra.GlobalMetrics.SetDegraded(true)
		slog.Warn("engine starting with recovered open orders, reconciliation required",
			slog.Int("open_orders", len(open)))
	}
	e.state = StateRunning
	e.mu.Unlock()

	go e.run(runCtx)
	slog.Info("execution engine started", slog.Int("qsize", cap(e.queue)))
	return nil
}

// Stop posts the shutdown sentinel and waits for the consumer to
// drain up to it and exit.
func (e *ExecutionEngine) Stop() {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	e.state = StateStopped
	done := e.done
	e.mu.Unlock()

	e.queue <- event.Shutdown{}
	<-done
	slog.Info("execution engine stopped")
}

// Kill cancels the consumer without draining. Only for compromised
// shutdowns; any in-flight transition completes first because
// transitions never suspend.
func (e *ExecutionEngine) Kill() {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	e.state = StateStopped
	cancel := e.runCancel
	done := e.done
	e.mu.Unlock()

	cancel()
	<-done
	slog.Warn("execution engine killed")
}

// Dispose releases the engine after it has stopped.
func (e *ExecutionEngine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateStopped {
		e.state = StateDisposed
	}
}

// run is the consumer loop. It is the only goroutine that mutates
// order, position and account state.
func (e *ExecutionEngine) run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-e.queue:
			infra.GlobalMetrics.SetQueueDepth(int32(len(e.queue)))
			switch m := msg.(type) {
			case event.Shutdown:
				return
			case event.Command:
				e.dispatchCommand(ctx, m)
			case event.Event:
				start := time.Now()
				if fatal := e.applyEvent(m); fatal {
					e.mu.Lock()
					e.state = StateStopped
					e.mu.Unlock()
					slog.Error("fatal error, engine stopping")
					return
				}
				infra.GlobalMetrics.RecordEvent(time.Since(start).Nanoseconds())
			default:
				slog.Warn("unknown message discarded", slog.String("type", fmt.Sprintf("%T", msg)))
			}
		}
	}
}

// dispatchCommand routes a command to the client for its venue. In
// degraded mode submissions are answered with a rejection event
// instead of reaching the venue.
func (e *ExecutionEngine) dispatchCommand(ctx context.Context, cmd event.Command) {
	venue, err := commandVenue(cmd)
	if err != nil {
		slog.Error("malformed command dequeued", slog.Any("error", err))
		return
	}

	if e.IsDegraded() {
		e.rejectCommand(cmd, "engine degraded: reconciliation required")
		return
	}

	client := e.client(venue)
	if client == nil {
		e.rejectCommand(cmd, fmt.Sprintf("no client for venue %s", venue))
		return
	}

	switch c := cmd.(type) {
	case event.SubmitOrder:
		if err := e.db.AddOrder(c.Order); err != nil {
			slog.Error("failed to persist new order",
				slog.String("order", string(c.Order.ClientOrderID)), slog.Any("error", err))
			return
		}
		err = client.SubmitOrder(ctx, c.Order)
	case event.SubmitBracketOrder:
		for _, order := range []*domain.Order{c.Entry, c.StopLoss, c.TakeProfit} {
			if order == nil {
				continue
			}
			if err := e.db.AddOrder(order); err != nil {
				slog.Error("failed to persist bracket order",
					slog.String("order", string(order.ClientOrderID)), slog.Any("error", err))
				return
			}
		}
		err = client.SubmitBracketOrder(ctx, c.Entry, c.StopLoss, c.TakeProfit)
	case event.CancelOrder:
		err = client.CancelOrder(ctx, c.ClientOrderID)
	case event.ModifyOrder:
		err = client.ModifyOrder(ctx, c.ClientOrderID, c.Quantity, c.Price)
	}

	if err != nil {
		infra.GlobalMetrics.RecordError()
		slog.Error("client rejected command",
			slog.String("venue", string(venue)), slog.Any("error", err))
		if domain.IsRetriable(err) {
			// Transport trouble: the command is not resent; the
			// strategy gets a rejection event for it.
			e.rejectCommand(cmd, err.Error())
		}
		return
	}
	infra.GlobalMetrics.RecordCommand()
}

// rejectCommand synthesizes the rejection event a submission would
// otherwise earn from the venue.
func (e *ExecutionEngine) rejectCommand(cmd event.Command, reason string) {
	infra.GlobalMetrics.RecordCommandRejected()
	switch c := cmd.(type) {
	case event.SubmitOrder:
		e.rejectOrder(c.Order, reason)
	case event.SubmitBracketOrder:
		for _, order := range []*domain.Order{c.Entry, c.StopLoss, c.TakeProfit} {
			if order != nil {
				e.rejectOrder(order, reason)
			}
		}
	default:
		slog.Warn("command dropped", slog.String("reason", reason))
	}
}

func (e *ExecutionEngine) rejectOrder(order *domain.Order, reason string) {
	now := e.clock.Now()
	if order.State == domain.OrderStateInitialized {
		if e.db.Order(order.ClientOrderID) == nil {
			if err := e.db.AddOrder(order); err != nil {
				slog.Error("failed to persist rejected order", slog.Any("error", err))
				return
			}
		}
		if err := order.ApplySubmitted(now); err != nil {
			slog.Error("reject synthesis failed", slog.Any("error", err))
			return
		}
	}
	ev := event.OrderRejected{
		Base:          event.NewBase(now),
		ClientOrderID: order.ClientOrderID,
		Reason:        reason,
	}
	if err := order.ApplyRejected(reason, now); err != nil {
		slog.Error("reject synthesis failed", slog.Any("error", err))
		return
	}
	if err := e.db.UpdateOrder(order); err != nil {
		slog.Error("failed to persist rejection", slog.Any("error", err))
		return
	}
	e.portfolio.ProcessEvent(ev)
	slog.Warn("order rejected",
		slog.String("order", string(order.ClientOrderID)),
		slog.String("reason", reason))
}

// applyEvent drives the order state machine and forwards the event to
// the portfolio. State violations are logged without crashing; only a
// database write failure is fatal and returns true.
func (e *ExecutionEngine) applyEvent(ev event.Event) (fatal bool) {
	switch v := ev.(type) {
	case event.AccountState:
		return e.applyAccountState(v)
	case event.OrderSubmitted:
		return e.applyOrderEvent(v.ClientOrderID, ev, func(o *domain.Order) error {
			return o.ApplySubmitted(v.SubmittedTime)
		})
	case event.OrderRejected:
		return e.applyOrderEvent(v.ClientOrderID, ev, func(o *domain.Order) error {
			return o.ApplyRejected(v.Reason, v.Timestamp)
		})
	case event.OrderAccepted:
		return e.applyOrderEvent(v.ClientOrderID, ev, func(o *domain.Order) error {
			return o.ApplyAccepted(v.OrderID, v.Timestamp)
		})
	case event.OrderWorking:
		return e.applyOrderEvent(v.ClientOrderID, ev, func(o *domain.Order) error {
			return o.ApplyWorking(v.Price, v.Timestamp)
		})
	case event.OrderModified:
		return e.applyOrderEvent(v.ClientOrderID, ev, func(o *domain.Order) error {
			return o.ApplyModified(v.Quantity, v.Price, v.Timestamp)
		})
	case event.OrderCancelled:
		return e.applyOrderEvent(v.ClientOrderID, ev, func(o *domain.Order) error {
			return o.ApplyCancelled(v.Timestamp)
		})
	case event.OrderExpired:
		return e.applyOrderEvent(v.ClientOrderID, ev, func(o *domain.Order) error {
			return o.ApplyExpired(v.Timestamp)
		})
	case event.OrderTriggered:
		return e.applyOrderEvent(v.ClientOrderID, ev, func(o *domain.Order) error {
			return o.ApplyTriggered(v.Timestamp)
		})
	case event.OrderPartiallyFilled:
		return e.applyFill(v.OrderFillBody, ev)
	case event.OrderFilled:
		fatal := e.applyFill(v.OrderFillBody, ev)
		if !fatal {
			infra.GlobalMetrics.RecordOrderFilled()
		}
		return fatal
	default:
		slog.Warn("unknown event discarded", slog.String("type", fmt.Sprintf("%T", ev)))
		return false
	}
}

func (e *ExecutionEngine) applyOrderEvent(id domain.ClientOrderID, ev event.Event, apply func(*domain.Order) error) bool {
	order := e.db.Order(id)
	if order == nil {
		infra.GlobalMetrics.RecordError()
		slog.Error("event for unknown order", slog.String("order", string(id)))
		return false
	}
	if err := apply(order); err != nil {
		infra.GlobalMetrics.RecordError()
		slog.Error("order event not applied",
			slog.String("order", string(id)),
			slog.String("state", string(order.State)),
			slog.Any("error", err))
		return false
	}
	if err := e.db.UpdateOrder(order); err != nil {
		slog.Error("database write failed",
			slog.String("order", string(id)), slog.Any("error", err))
		return true
	}
	e.portfolio.ProcessEvent(ev)
	return false
}

func (e *ExecutionEngine) applyFill(body event.OrderFillBody, ev event.Event) bool {
	order := e.db.Order(body.ClientOrderID)
	if order == nil {
		infra.GlobalMetrics.RecordError()
		slog.Error("fill for unknown order", slog.String("order", string(body.ClientOrderID)))
		return false
	}

	fill := domain.Fill{
		ExecutionID: body.ExecutionID,
		Quantity:    body.FillQty,
		Price:       body.FillPrice,
		Commission:  body.Commission,
		Timestamp:   body.ExecutionTime,
	}
	if err := order.ApplyFill(fill); err != nil {
		infra.GlobalMetrics.RecordError()
		slog.Error("fill not applied",
			slog.String("order", string(body.ClientOrderID)),
			slog.String("state", string(order.State)),
			slog.Any("error", err))
		// An over-fill marks the order INVALID; persist that mark but
		// never let the fill reach the portfolio.
		if order.State == domain.OrderStateInvalid {
			if dbErr := e.db.UpdateOrder(order); dbErr != nil {
				slog.Error("database write failed", slog.Any("error", dbErr))
				return true
			}
		}
		return false
	}
	if err := e.db.UpdateOrder(order); err != nil {
		slog.Error("database write failed",
			slog.String("order", string(body.ClientOrderID)), slog.Any("error", err))
		return true
	}
	e.portfolio.ProcessEvent(ev)
	return false
}

func (e *ExecutionEngine) applyAccountState(v event.AccountState) bool {
	account := e.db.Account(v.AccountID.Venue)
	if account == nil {
		account = domain.NewAccount(v.AccountID, v.Currency)
	}
	account.Update(v.Balance, v.MarginUsed, v.MarginFree, v.MarginCall, v.Timestamp)
	if err := e.db.UpdateAccount(account); err != nil {
		slog.Error("database write failed",
			slog.String("account", v.AccountID.String()), slog.Any("error", err))
		return true
	}
	e.portfolio.ProcessEvent(v)
	return false
}
