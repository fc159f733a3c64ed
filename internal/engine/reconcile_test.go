package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trader_go/internal/domain"
	"trader_go/internal/event"
)

// workingOrder drives an order through to WORKING via the sim venue.
func workingOrder(t *testing.T, h *harness, id string, qty string) *domain.Order {
	t.Helper()
	order := limitOrder(t, id, "BUY", qty, "100")
	require.NoError(t, h.engine.Execute(event.SubmitOrder{Order: order}))
	waitForState(t, h.db, domain.ClientOrderID(id), domain.OrderStateWorking)
	return h.db.Order(domain.ClientOrderID(id))
}

func TestReconcile_AllResolved(t *testing.T) {
	h := newHarness(t, 64)
	h.start(t)

	workingOrder(t, h, "O-r1", "10")
	// Local WORKING, venue WORKING, no fills: nothing to converge.
	assert.True(t, h.engine.ReconcileState(time.Second))
	assert.False(t, h.engine.IsDegraded())
}

func TestReconcile_Convergence(t *testing.T) {
	h := newHarness(t, 64)
	h.start(t)

	workingOrder(t, h, "O-r2", "10")
	// Venue ground truth diverges: fully filled on the book.
	h.client.SetVenueState("O-r2", domain.OrderStateFilled, domain.MustQuantity("10"))

	result := make(chan bool, 1)
	go func() { result <- h.engine.ReconcileState(2 * time.Second) }()

	// The client synthesizes the missing fill; the engine only
	// observes convergence.
	time.Sleep(20 * time.Millisecond)
	venueOrderID := h.db.Order("O-r2").OrderID
	require.NoError(t, h.engine.Process(event.OrderFilled{
		Base: event.NewBase(h.clock.Now()),
		OrderFillBody: event.OrderFillBody{
			ClientOrderID: "O-r2",
			OrderID:       venueOrderID,
			ExecutionID:   "E-sync-1",
			Security:      testSec(),
			Side:          domain.SideBuy,
			FillQty:       domain.MustQuantity("10"),
			CumQty:        domain.MustQuantity("10"),
			LeavesQty:     domain.MustQuantity("0"),
			FillPrice:     domain.MustPrice("100"),
			ExecutionTime: h.clock.Now(),
		},
	}))

	select {
	case ok := <-result:
		assert.True(t, ok, "reconcile should converge once the fill applies")
	case <-time.After(3 * time.Second):
		t.Fatal("reconcile never returned")
	}
	assert.Equal(t, domain.OrderStateFilled, h.db.Order("O-r2").State)
	assert.False(t, h.engine.IsDegraded())
}

func TestReconcile_UnknownSubmittedTreatedAsRejected(t *testing.T) {
	h := newHarness(t, 64)
	h.start(t)

	// An order the venue never saw: stuck in SUBMITTED locally.
	order := limitOrder(t, "O-r3", "BUY", "5", "100")
	require.NoError(t, h.db.AddOrder(order))
	require.NoError(t, order.ApplySubmitted(h.clock.Now()))
	require.NoError(t, h.db.UpdateOrder(order))

	assert.True(t, h.engine.ReconcileState(2*time.Second))
	waitForState(t, h.db, "O-r3", domain.OrderStateRejected)
	assert.Equal(t, "order unknown to venue", h.db.Order("O-r3").RejectReason)
}

func TestReconcile_TimeoutAndDegradedMode(t *testing.T) {
	h := newHarness(t, 64)
	h.start(t)

	workingOrder(t, h, "O-r4", "10")
	// Venue loses the order entirely: local WORKING has no ground
	// truth to converge to.
	h.client.Drop("O-r4")

	assert.False(t, h.engine.ReconcileState(100*time.Millisecond))
	assert.True(t, h.engine.IsDegraded())

	// Degraded: new submissions are answered with rejection events.
	order := limitOrder(t, "O-r5", "BUY", "1", "100")
	require.NoError(t, h.engine.Execute(event.SubmitOrder{Order: order}))
	waitForState(t, h.db, "O-r5", domain.OrderStateRejected)

	// The stuck order is cancelled out of band; the next reconcile
	// succeeds and lifts degraded mode.
	venueOrderID := h.db.Order("O-r4").OrderID
	require.NoError(t, h.engine.Process(event.OrderCancelled{
		Base:          event.NewBase(h.clock.Now()),
		ClientOrderID: "O-r4",
		OrderID:       venueOrderID,
	}))
	waitForState(t, h.db, "O-r4", domain.OrderStateCancelled)

	assert.True(t, h.engine.ReconcileState(time.Second))
	assert.False(t, h.engine.IsDegraded())

	order2 := limitOrder(t, "O-r6", "BUY", "1", "100")
	require.NoError(t, h.engine.Execute(event.SubmitOrder{Order: order2}))
	waitForState(t, h.db, "O-r6", domain.OrderStateWorking)
}

func TestReconcile_Idempotent(t *testing.T) {
	h := newHarness(t, 64)
	h.start(t)

	workingOrder(t, h, "O-r7", "10")
	require.NoError(t, h.client.Fill("O-r7", domain.MustQuantity("10"), domain.MustPrice("100")))
	waitForState(t, h.db, "O-r7", domain.OrderStateFilled)

	require.True(t, h.engine.ReconcileState(time.Second))
	before := h.db.Order("O-r7")
	fillsBefore := len(before.Fills)

	// Unchanged venue report: second run succeeds and mutates nothing.
	require.True(t, h.engine.ReconcileState(time.Second))
	after := h.db.Order("O-r7")
	assert.Equal(t, before.State, after.State)
	assert.Equal(t, fillsBefore, len(after.Fills))
	assert.True(t, before.FilledQty.Equal(after.FilledQty))
}

// terminalConflict stages the tie-break case: the order closes
// locally during the reconcile passes while the venue's report still
// says it is live.
func terminalConflict(t *testing.T, h *harness, id string) {
	t.Helper()
	workingOrder(t, h, id, "10")
	// Venue claims a partial fill the local cache never saw, so the
	// first pass cannot resolve.
	h.client.SetVenueState(domain.ClientOrderID(id), domain.OrderStatePartiallyFilled, domain.MustQuantity("3"))
}

func closeLocally(t *testing.T, h *harness, id string) {
	t.Helper()
	require.NoError(t, h.engine.Process(event.OrderCancelled{
		Base:          event.NewBase(h.clock.Now()),
		ClientOrderID: domain.ClientOrderID(id),
		OrderID:       h.db.Order(domain.ClientOrderID(id)).OrderID,
	}))
	waitForState(t, h.db, domain.ClientOrderID(id), domain.OrderStateCancelled)
}

func TestReconcile_TerminalLocalVersusWorkingVenue(t *testing.T) {
	t.Run("Default Policy Requires Operator", func(t *testing.T) {
		h := newHarness(t, 64)
		h.start(t)
		terminalConflict(t, h, "O-r8")

		result := make(chan bool, 1)
		go func() { result <- h.engine.ReconcileState(200 * time.Millisecond) }()
		time.Sleep(20 * time.Millisecond)
		closeLocally(t, h, "O-r8")

		// Local terminal, venue reports live: without operator
		// confirmation the order stays unresolved.
		select {
		case ok := <-result:
			assert.False(t, ok)
		case <-time.After(3 * time.Second):
			t.Fatal("reconcile never returned")
		}
		assert.True(t, h.engine.IsDegraded())
	})

	t.Run("Policy Confirms Local", func(t *testing.T) {
		h := newHarness(t, 64)
		h.start(t)
		terminalConflict(t, h, "O-r9")

		confirmed := make(chan domain.OrderState, 1)
		h.engine.SetReconcilePolicy(func(order *domain.Order, venueState domain.OrderState) bool {
			select {
			case confirmed <- venueState:
			default:
			}
			return true
		})

		result := make(chan bool, 1)
		go func() { result <- h.engine.ReconcileState(2 * time.Second) }()
		time.Sleep(20 * time.Millisecond)
		closeLocally(t, h, "O-r9")

		select {
		case ok := <-result:
			assert.True(t, ok, "confirming policy should resolve the conflict")
		case <-time.After(3 * time.Second):
			t.Fatal("reconcile never returned")
		}
		assert.Equal(t, domain.OrderStatePartiallyFilled, <-confirmed)
		assert.False(t, h.engine.IsDegraded())
	})
}
