package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"trader_go/internal/domain"
	"trader_go/internal/event"
	"trader_go/internal/infra"
)

const (
	maxRetries       = 10
	handshakeTimeout = 10 * time.Second
	pingInterval     = 30 * time.Second
	readTimeout      = 60 * time.Second
	requestTimeout   = 15 * time.Second
)

// LiveClient is the websocket order gateway for one venue. It owns
// connection state only: orders live in the execution database, and
// every venue message is translated into a canonical event and handed
// to the engine through the EventHandler.
type LiveClient struct {
	venue     domain.Venue
	accountID domain.AccountID
	cfg       infra.VenueConfig
	handler   EventHandler
	clock     infra.Clock
	signer    *Signer
	limiter   *rate.Limiter

	mu        sync.RWMutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	pendingMu sync.Mutex
	pending   map[string]chan stateReportPayload
	nextReqID int

	// security cache so venue fills can be mapped back to full ids
	secMu      sync.RWMutex
	securities map[string]domain.Security
}

// gatewayMessage is the venue wire envelope, both directions.
type gatewayMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`

	// auth
	AccessKey string `json:"access_key,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Signature string `json:"signature,omitempty"`

	// order commands
	ClientOrderID string `json:"client_order_id,omitempty"`
	Symbol        string `json:"symbol,omitempty"`
	Side          string `json:"side,omitempty"`
	OrderType     string `json:"order_type,omitempty"`
	Quantity      string `json:"quantity,omitempty"`
	Price         string `json:"price,omitempty"`
	TimeInForce   string `json:"time_in_force,omitempty"`

	// order events
	OrderID     string `json:"order_id,omitempty"`
	Status      string `json:"status,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
	FillQty     string `json:"fill_qty,omitempty"`
	CumQty      string `json:"cum_qty,omitempty"`
	LeavesQty   string `json:"leaves_qty,omitempty"`
	FillPrice   string `json:"fill_price,omitempty"`
	Commission  string `json:"commission,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Liquidity   string `json:"liquidity,omitempty"`
	EventTimeMs int64  `json:"event_time,omitempty"`

	// account state
	Balance    string `json:"balance,omitempty"`
	MarginUsed string `json:"margin_used,omitempty"`
	MarginFree string `json:"margin_free,omitempty"`
	MarginCall bool   `json:"margin_call,omitempty"`

	// state report
	Orders []stateReportEntry `json:"orders,omitempty"`
}

type stateReportEntry struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	FilledQty string `json:"filled_qty"`
}

type stateReportPayload struct {
	entries []stateReportEntry
	ts      int64
}

// NewLiveClient creates a live order gateway client for the venue.
func NewLiveClient(cfg infra.VenueConfig, handler EventHandler, clock infra.Clock) *LiveClient {
	limit := rate.Limit(cfg.SubmitRateLimit)
	if cfg.SubmitRateLimit <= 0 {
		limit = rate.Inf
	}
	return &LiveClient{
		venue:      domain.Venue(cfg.Name),
		accountID:  domain.AccountID{Venue: domain.Venue(cfg.Name), Number: cfg.AccountID},
		cfg:        cfg,
		handler:    handler,
		clock:      clock,
		signer:     NewSigner(cfg.AccessKey, cfg.SecretKey),
		limiter:    rate.NewLimiter(limit, 1),
		pending:    make(map[string]chan stateReportPayload),
		securities: make(map[string]domain.Security),
	}
}

func (c *LiveClient) Venue() domain.Venue { return c.venue }

// Connect starts the connection loop.
func (c *LiveClient) Connect(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.connectionLoop(ctx)
	return nil
}

func (c *LiveClient) connectionLoop(ctx context.Context) {
	defer c.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.connect(ctx); err != nil {
			slog.Warn("venue connection failed",
				slog.String("venue", string(c.venue)),
				slog.Any("error", err),
				slog.Int("retry", retryCount))
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		} else {
			retryCount = 0
			c.readLoop(ctx)
		}
	}
}

func (c *LiveClient) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return domain.NewNetworkError("connect", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.authenticate(); err != nil {
		c.closeConnection()
		return err
	}

	infra.GlobalMetrics.IncrementConnections()
	slog.Info("venue connected", slog.String("venue", string(c.venue)))
	return nil
}

func (c *LiveClient) authenticate() error {
	ts := c.clock.Now().UnixMilli()
	msg := gatewayMessage{
		Type:      "auth",
		AccessKey: c.signer.AccessKey(),
		Timestamp: ts,
		Signature: c.signer.Sign(ts, "GET", "/ws/auth", ""),
	}
	b, _ := json.Marshal(msg)
	return c.threadSafeWrite(websocket.TextMessage, b)
}

func (c *LiveClient) threadSafeWrite(msgType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return domain.NewNetworkError("write", domain.ErrConnectionFailed)
	}
	return c.conn.WriteMessage(msgType, data)
}

func (c *LiveClient) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		if c.conn == nil {
			c.mu.RUnlock()
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		c.mu.RUnlock()

		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.closeConnection()
			return
		}
		c.handleMessage(msg)
	}
}

func (c *LiveClient) handleMessage(raw []byte) {
	var msg gatewayMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Warn("venue message unparseable", slog.String("venue", string(c.venue)))
		return
	}

	switch msg.Type {
	case "order":
		c.handleOrderUpdate(&msg)
	case "fill":
		c.handleFill(&msg)
	case "account":
		c.handleAccountState(&msg)
	case "state_report":
		c.handleStateReport(&msg)
	case "pong", "auth_ok":
	default:
		slog.Debug("venue message ignored",
			slog.String("venue", string(c.venue)),
			slog.String("type", msg.Type))
	}
}

func (c *LiveClient) handleOrderUpdate(msg *gatewayMessage) {
	now := c.eventTime(msg)
	clOrdID := domain.ClientOrderID(msg.ClientOrderID)
	orderID := domain.OrderID(msg.OrderID)

	var err error
	switch msg.Status {
	case "SUBMITTED":
		err = c.handler(event.OrderSubmitted{
			Base: event.NewBase(now), AccountID: c.accountID,
			ClientOrderID: clOrdID, SubmittedTime: now,
		})
	case "REJECTED":
		err = c.handler(event.OrderRejected{
			Base: event.NewBase(now), AccountID: c.accountID,
			ClientOrderID: clOrdID, Reason: msg.Reason,
		})
	case "ACCEPTED":
		err = c.handler(event.OrderAccepted{
			Base: event.NewBase(now), AccountID: c.accountID,
			ClientOrderID: clOrdID, OrderID: orderID,
		})
	case "WORKING":
		price, perr := domain.PriceFromString(msg.Price)
		if perr != nil {
			slog.Warn("working update with bad price", slog.String("price", msg.Price))
			return
		}
		err = c.handler(event.OrderWorking{
			Base: event.NewBase(now), AccountID: c.accountID,
			ClientOrderID: clOrdID, OrderID: orderID, Price: price,
		})
	case "MODIFIED":
		qty, qerr := domain.QuantityFromString(msg.Quantity)
		price, perr := domain.PriceFromString(msg.Price)
		if qerr != nil || perr != nil {
			slog.Warn("modified update with bad fields", slog.String("order", msg.ClientOrderID))
			return
		}
		err = c.handler(event.OrderModified{
			Base: event.NewBase(now), AccountID: c.accountID,
			ClientOrderID: clOrdID, OrderID: orderID, Quantity: qty, Price: price,
		})
	case "CANCELLED":
		err = c.handler(event.OrderCancelled{
			Base: event.NewBase(now), AccountID: c.accountID,
			ClientOrderID: clOrdID, OrderID: orderID,
		})
	case "EXPIRED":
		err = c.handler(event.OrderExpired{
			Base: event.NewBase(now), AccountID: c.accountID,
			ClientOrderID: clOrdID, OrderID: orderID,
		})
	case "TRIGGERED":
		err = c.handler(event.OrderTriggered{
			Base: event.NewBase(now), AccountID: c.accountID,
			ClientOrderID: clOrdID, OrderID: orderID,
		})
	default:
		slog.Warn("unknown order status from venue",
			slog.String("venue", string(c.venue)), slog.String("status", msg.Status))
		return
	}
	if err != nil {
		slog.Error("event rejected by engine", slog.Any("error", err))
	}
}

func (c *LiveClient) handleFill(msg *gatewayMessage) {
	now := c.eventTime(msg)
	fillQty, err1 := domain.QuantityFromString(msg.FillQty)
	cumQty, err2 := domain.QuantityFromString(msg.CumQty)
	leavesQty, err3 := domain.QuantityFromString(msg.LeavesQty)
	fillPrice, err4 := domain.PriceFromString(msg.FillPrice)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		slog.Error("fill message with bad decimal fields",
			slog.String("venue", string(c.venue)), slog.String("order", msg.ClientOrderID))
		return
	}
	commission := decimal.Zero
	if msg.Commission != "" {
		if d, err := decimal.NewFromString(msg.Commission); err == nil {
			commission = d
		}
	}

	body := event.OrderFillBody{
		AccountID:     c.accountID,
		ClientOrderID: domain.ClientOrderID(msg.ClientOrderID),
		OrderID:       domain.OrderID(msg.OrderID),
		ExecutionID:   domain.ExecutionID(msg.ExecutionID),
		Security:      c.securityFor(msg.Symbol),
		Side:          domain.OrderSide(msg.Side),
		FillQty:       fillQty,
		CumQty:        cumQty,
		LeavesQty:     leavesQty,
		FillPrice:     fillPrice,
		Currency:      domain.Currency(msg.Currency),
		Commission:    domain.NewMoney(commission, domain.Currency(msg.Currency)),
		LiquiditySide: domain.LiquiditySide(msg.Liquidity),
		ExecutionTime: now,
	}

	var err error
	if leavesQty.IsZero() {
		err = c.handler(event.OrderFilled{Base: event.NewBase(now), OrderFillBody: body})
	} else {
		err = c.handler(event.OrderPartiallyFilled{Base: event.NewBase(now), OrderFillBody: body})
	}
	if err != nil {
		slog.Error("fill rejected by engine", slog.Any("error", err))
	}
}

func (c *LiveClient) handleAccountState(msg *gatewayMessage) {
	now := c.eventTime(msg)
	balance, err1 := decimal.NewFromString(msg.Balance)
	marginUsed, err2 := decimal.NewFromString(msg.MarginUsed)
	marginFree, err3 := decimal.NewFromString(msg.MarginFree)
	if err1 != nil || err2 != nil || err3 != nil {
		slog.Error("account message with bad decimal fields", slog.String("venue", string(c.venue)))
		return
	}
	if err := c.handler(event.AccountState{
		Base:       event.NewBase(now),
		AccountID:  c.accountID,
		Currency:   domain.Currency(msg.Currency),
		Balance:    balance,
		MarginUsed: marginUsed,
		MarginFree: marginFree,
		MarginCall: msg.MarginCall,
	}); err != nil {
		slog.Error("account state rejected by engine", slog.Any("error", err))
	}
}

func (c *LiveClient) handleStateReport(msg *gatewayMessage) {
	c.pendingMu.Lock()
	ch, ok := c.pending[msg.RequestID]
	if ok {
		delete(c.pending, msg.RequestID)
	}
	c.pendingMu.Unlock()
	if !ok {
		slog.Warn("unsolicited state report", slog.String("request_id", msg.RequestID))
		return
	}
	ch <- stateReportPayload{entries: msg.Orders, ts: msg.EventTimeMs}
}

func (c *LiveClient) eventTime(msg *gatewayMessage) time.Time {
	if msg.EventTimeMs > 0 {
		return time.UnixMilli(msg.EventTimeMs).UTC()
	}
	return c.clock.Now()
}

func (c *LiveClient) securityFor(symbol string) domain.Security {
	c.secMu.RLock()
	sec, ok := c.securities[symbol]
	c.secMu.RUnlock()
	if ok {
		return sec
	}
	return domain.Security{Symbol: symbol, Venue: c.venue}
}

// RegisterSecurity caches the full security identity for a venue
// symbol so inbound fills carry complete ids.
func (c *LiveClient) RegisterSecurity(sec domain.Security) {
	c.secMu.Lock()
	c.securities[sec.Symbol] = sec
	c.secMu.Unlock()
}

// SubmitOrder encodes and sends the order, honoring the venue's
// submission rate limit.
func (c *LiveClient) SubmitOrder(ctx context.Context, order *domain.Order) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.NewNetworkError("submit", err)
	}

	msg := gatewayMessage{
		Type:          "submit",
		ClientOrderID: string(order.ClientOrderID),
		Symbol:        order.Security.Symbol,
		Side:          string(order.Side),
		OrderType:     string(order.Type),
		Quantity:      order.Quantity.String(),
		TimeInForce:   string(order.TimeInForce),
		Timestamp:     c.clock.Now().UnixMilli(),
	}
	if order.Price != nil {
		msg.Price = order.Price.String()
	}
	b, _ := json.Marshal(msg)
	if err := c.threadSafeWrite(websocket.TextMessage, b); err != nil {
		return domain.NewNetworkError("submit", err)
	}
	return nil
}

// SubmitBracketOrder sends entry, stop-loss and take-profit as separate
// submit requests, in that order. It is not atomic: the first failure
// stops the remaining legs, and legs already sent stay sent.
func (c *LiveClient) SubmitBracketOrder(ctx context.Context, entry, stopLoss, takeProfit *domain.Order) error {
	for _, order := range []*domain.Order{entry, stopLoss, takeProfit} {
		if order == nil {
			continue
		}
		if err := c.SubmitOrder(ctx, order); err != nil {
			return err
		}
	}
	return nil
}

// CancelOrder sends a cancel request.
func (c *LiveClient) CancelOrder(ctx context.Context, clOrdID domain.ClientOrderID) error {
	msg := gatewayMessage{
		Type:          "cancel",
		ClientOrderID: string(clOrdID),
		Timestamp:     c.clock.Now().UnixMilli(),
	}
	b, _ := json.Marshal(msg)
	if err := c.threadSafeWrite(websocket.TextMessage, b); err != nil {
		return domain.NewNetworkError("cancel", err)
	}
	return nil
}

// ModifyOrder sends a replace request. Queue position at the venue is
// venue-specific and not guaranteed.
func (c *LiveClient) ModifyOrder(ctx context.Context, clOrdID domain.ClientOrderID, qty domain.Quantity, price domain.Price) error {
	msg := gatewayMessage{
		Type:          "modify",
		ClientOrderID: string(clOrdID),
		Quantity:      qty.String(),
		Price:         price.String(),
		Timestamp:     c.clock.Now().UnixMilli(),
	}
	b, _ := json.Marshal(msg)
	if err := c.threadSafeWrite(websocket.TextMessage, b); err != nil {
		return domain.NewNetworkError("modify", err)
	}
	return nil
}

// StateReport requests the venue's view of the given orders and waits
// for the snapshot.
func (c *LiveClient) StateReport(ctx context.Context, orders []*domain.Order) (domain.ExecutionStateReport, error) {
	c.pendingMu.Lock()
	c.nextReqID++
	reqID := fmt.Sprintf("sr-%d", c.nextReqID)
	ch := make(chan stateReportPayload, 1)
	c.pending[reqID] = ch
	c.pendingMu.Unlock()

	ids := make([]stateReportEntry, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, stateReportEntry{OrderID: string(order.OrderID)})
	}
	msg := gatewayMessage{
		Type:      "state_report",
		RequestID: reqID,
		Orders:    ids,
		Timestamp: c.clock.Now().UnixMilli(),
	}
	b, _ := json.Marshal(msg)
	if err := c.threadSafeWrite(websocket.TextMessage, b); err != nil {
		c.dropPending(reqID)
		return domain.ExecutionStateReport{}, domain.NewNetworkError("report", err)
	}

	select {
	case <-ctx.Done():
		c.dropPending(reqID)
		return domain.ExecutionStateReport{}, domain.NewNetworkError("report", ctx.Err())
	case <-time.After(requestTimeout):
		c.dropPending(reqID)
		return domain.ExecutionStateReport{}, domain.NewNetworkError("report", domain.ErrConnectionFailed)
	case payload := <-ch:
		report := domain.ExecutionStateReport{
			Venue:       c.venue,
			OrderStates: make(map[domain.OrderID]domain.OrderState, len(payload.entries)),
			FilledQty:   make(map[domain.OrderID]domain.Quantity, len(payload.entries)),
			Timestamp:   time.UnixMilli(payload.ts).UTC(),
		}
		for _, entry := range payload.entries {
			filled, err := domain.QuantityFromString(entry.FilledQty)
			if err != nil {
				return domain.ExecutionStateReport{}, fmt.Errorf("bad filled qty in report: %w", err)
			}
			report.OrderStates[domain.OrderID(entry.OrderID)] = domain.OrderState(entry.Status)
			report.FilledQty[domain.OrderID(entry.OrderID)] = filled
		}
		return report, nil
	}
}

func (c *LiveClient) dropPending(reqID string) {
	c.pendingMu.Lock()
	delete(c.pending, reqID)
	c.pendingMu.Unlock()
}

// IsConnected reports whether the gateway socket is up.
func (c *LiveClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *LiveClient) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		infra.GlobalMetrics.DecrementConnections()
	}
	c.connected = false
}

// Disconnect stops the connection loop and closes the socket.
func (c *LiveClient) Disconnect() {
	if c.cancel != nil {
		c.cancel()
	}
	c.closeConnection()
	c.wg.Wait()
}
