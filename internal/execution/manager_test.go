package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ctrader/internal/domain"
	"ctrader/internal/gateway"
	"ctrader/internal/ledger"
	"ctrader/internal/tracker"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeGateway scripts venue behavior and counts calls, so tests can assert
// the manager never talks to the venue more than the contract allows.
type fakeGateway struct {
	submitCalls  int
	cancelCalls  int
	getCalls     int
	listCalls    int
	lastClientID string
	lastReq      domain.OrderRequest
	seq          int

	submitRec *domain.OrderRecord
	submitErr error
	cancelErr error
	getRec    *domain.OrderRecord
	getErr    error
	listRecs  []domain.OrderRecord
	listErr   error
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) SubmitOrder(_ context.Context, req domain.OrderRequest, clientOrderID string) (*domain.OrderRecord, error) {
	g.submitCalls++
	g.lastClientID = clientOrderID
	g.lastReq = req
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	if g.submitRec != nil {
		rec := *g.submitRec
		if rec.ClientOrderID == "" {
			rec.ClientOrderID = clientOrderID
		}
		return &rec, nil
	}
	g.seq++
	now := time.Now().UTC()
	return &domain.OrderRecord{
		VenueID:       fmt.Sprintf("ven-%d", g.seq),
		ClientOrderID: clientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Qty:           req.Qty,
		Price:         req.Price,
		Status:        domain.OrderStatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, orderID, symbol string) error {
	g.cancelCalls++
	return g.cancelErr
}

func (g *fakeGateway) GetOrder(_ context.Context, orderID, symbol string) (*domain.OrderRecord, error) {
	g.getCalls++
	if g.getErr != nil {
		return nil, g.getErr
	}
	rec := *g.getRec
	return &rec, nil
}

func (g *fakeGateway) ListOpenOrders(_ context.Context, symbol string) ([]domain.OrderRecord, error) {
	g.listCalls++
	if g.listErr != nil {
		return nil, g.listErr
	}
	return g.listRecs, nil
}

// fakeLedger is an in-memory ExecutionStore that can be told to fail.
type fakeLedger struct {
	mu         sync.Mutex
	rows       map[string]domain.OrderRecord
	upserts    int
	failUpsert bool
}

var _ ledger.ExecutionStore = (*fakeLedger)(nil)

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: make(map[string]domain.OrderRecord)}
}

func (l *fakeLedger) Upsert(_ context.Context, rec domain.OrderRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.upserts++
	if l.failUpsert {
		return errors.New("disk full")
	}
	l.rows[rec.Key()] = rec
	return nil
}

func (l *fakeLedger) Get(_ context.Context, orderID string) (*domain.OrderRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.rows[orderID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &rec, nil
}

func (l *fakeLedger) ScanActive(_ context.Context) ([]domain.OrderRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	recs := make([]domain.OrderRecord, 0)
	for _, rec := range l.rows {
		if !rec.Status.Terminal() {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (l *fakeLedger) List(_ context.Context, status domain.OrderStatus, limit int) ([]domain.OrderRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	recs := make([]domain.OrderRecord, 0)
	for _, rec := range l.rows {
		if status == "" || rec.Status == status {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (l *fakeLedger) row(t *testing.T, orderID string) domain.OrderRecord {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.rows[orderID]
	if !ok {
		t.Fatalf("no ledger row for %s", orderID)
	}
	return rec
}

func (l *fakeLedger) put(rec domain.OrderRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows[rec.Key()] = rec
}

func (l *fakeLedger) upsertCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.upserts
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestManager() (*Manager, *fakeGateway, *fakeLedger, *tracker.Tracker) {
	gw := &fakeGateway{}
	led := newFakeLedger()
	tk := tracker.New(nil)
	return NewManager(nil, gw, tk, led), gw, led, tk
}

func testRequest() domain.OrderRequest {
	return domain.OrderRequest{
		Symbol: "AAPL",
		Side:   domain.SideBuy,
		Type:   domain.OrderTypeLimit,
		Qty:    decimal.NewFromInt(10),
		Price:  decimal.NewFromInt(150),
	}
}

func venueErr(kind gateway.Kind, msg string) error {
	return &gateway.Error{Kind: kind, Op: "test", Raw: []byte(`{"message":"` + msg + `"}`), Err: errors.New(msg)}
}

// ---------------------------------------------------------------------------
// CreateOrder
// ---------------------------------------------------------------------------

func TestCreateOrder(t *testing.T) {
	m, gw, led, tk := newTestManager()

	id, err := m.CreateOrder(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if id == "" {
		t.Fatal("no order id returned")
	}
	if gw.submitCalls != 1 {
		t.Errorf("submit calls = %d, want exactly 1", gw.submitCalls)
	}
	if gw.lastClientID == "" {
		t.Error("no client order id passed to the gateway")
	}

	rec, ok := tk.Get(id)
	if !ok {
		t.Fatal("order not tracked after submit")
	}
	if rec.Status != domain.OrderStatusOpen {
		t.Errorf("tracked status = %q, want %q", rec.Status, domain.OrderStatusOpen)
	}
	if got := led.row(t, id); got.Status != domain.OrderStatusOpen {
		t.Errorf("ledger status = %q, want %q", got.Status, domain.OrderStatusOpen)
	}
}

func TestCreateOrderUniqueClientIDs(t *testing.T) {
	m, gw, _, _ := newTestManager()

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		if _, err := m.CreateOrder(context.Background(), testRequest()); err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}
		if seen[gw.lastClientID] {
			t.Fatalf("client order id %q reused", gw.lastClientID)
		}
		seen[gw.lastClientID] = true
	}
}

func TestCreateOrderValidationFailsFast(t *testing.T) {
	m, gw, led, _ := newTestManager()

	req := testRequest()
	req.Qty = decimal.Zero
	_, err := m.CreateOrder(context.Background(), req)

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if gw.submitCalls != 0 {
		t.Errorf("gateway called %d times for an invalid request", gw.submitCalls)
	}
	if led.upsertCount() != 0 {
		t.Errorf("ledger written %d times for an invalid request", led.upsertCount())
	}
}

func TestCreateOrderVenueRejected(t *testing.T) {
	m, gw, led, tk := newTestManager()
	gw.submitErr = venueErr(gateway.KindVenueRejected, "insufficient buying power")

	_, err := m.CreateOrder(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if !gateway.IsVenueRejected(err) {
		t.Errorf("IsVenueRejected = false, err = %v", err)
	}
	if gw.submitCalls != 1 {
		t.Errorf("submit calls = %d, want exactly 1 (no hidden retry)", gw.submitCalls)
	}
	if tk.Len() != 0 {
		t.Errorf("tracker holds %d orders after a rejected submit", tk.Len())
	}

	// The failure is recorded under the client order id.
	rec := led.row(t, gw.lastClientID)
	if rec.Status != domain.OrderStatusRejected {
		t.Errorf("ledger status = %q, want %q", rec.Status, domain.OrderStatusRejected)
	}
	if len(rec.Raw) == 0 {
		t.Error("venue error payload not captured")
	}
}

func TestCreateOrderTransportError(t *testing.T) {
	m, gw, led, _ := newTestManager()
	gw.submitErr = venueErr(gateway.KindTransport, "connection reset")

	_, err := m.CreateOrder(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	rec := led.row(t, gw.lastClientID)
	if rec.Status != domain.OrderStatusError {
		t.Errorf("ledger status = %q, want %q", rec.Status, domain.OrderStatusError)
	}
}

func TestCreateOrderLedgerFailureKeepsOrder(t *testing.T) {
	m, _, led, tk := newTestManager()
	led.failUpsert = true

	// The venue confirmed the order; a ledger failure must not unwind it.
	id, err := m.CreateOrder(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if id == "" {
		t.Fatal("no order id returned despite venue confirmation")
	}
	if _, ok := tk.Get(id); !ok {
		t.Error("order not tracked despite venue confirmation")
	}
}

// ---------------------------------------------------------------------------
// CancelOrder
// ---------------------------------------------------------------------------

func TestCancelOrder(t *testing.T) {
	m, _, led, tk := newTestManager()
	id, _ := m.CreateOrder(context.Background(), testRequest())

	if err := m.CancelOrder(context.Background(), id, "AAPL"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if _, ok := tk.Get(id); ok {
		t.Error("canceled order still in the active map")
	}
	if got := led.row(t, id); got.Status != domain.OrderStatusCanceled {
		t.Errorf("ledger status = %q, want %q", got.Status, domain.OrderStatusCanceled)
	}
}

func TestCancelOrderFailureHeldForReconciliation(t *testing.T) {
	m, gw, led, tk := newTestManager()
	id, _ := m.CreateOrder(context.Background(), testRequest())
	gw.cancelErr = venueErr(gateway.KindTransport, "gateway timeout")

	err := m.CancelOrder(context.Background(), id, "AAPL")
	var cerr *CancelError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want CancelError", err)
	}
	if cerr.OrderID != id {
		t.Errorf("CancelError.OrderID = %q, want %q", cerr.OrderID, id)
	}

	// The true state is unknown: the record moves to cancel_error but
	// stays tracked for manual reconciliation.
	rec, ok := tk.Get(id)
	if !ok {
		t.Fatal("ambiguous cancel evicted the order from the active map")
	}
	if rec.Status != domain.OrderStatusCancelError {
		t.Errorf("tracked status = %q, want %q", rec.Status, domain.OrderStatusCancelError)
	}
	if got := led.row(t, id); got.Status != domain.OrderStatusCancelError {
		t.Errorf("ledger status = %q, want %q", got.Status, domain.OrderStatusCancelError)
	}
	if gw.cancelCalls != 1 {
		t.Errorf("cancel calls = %d, want exactly 1 (never auto-retried)", gw.cancelCalls)
	}
}

func TestCancelOrderAlreadyFilled(t *testing.T) {
	m, gw, led, tk := newTestManager()

	// The order settled in the ledger; the venue refuses the cancel.
	led.put(domain.OrderRecord{
		VenueID:       "ven-7",
		ClientOrderID: "cli-7",
		Symbol:        "AAPL",
		Status:        domain.OrderStatusFilled,
		Qty:           decimal.NewFromInt(10),
		FilledQty:     decimal.NewFromInt(10),
	})
	gw.cancelErr = venueErr(gateway.KindVenueRejected, "order is not cancelable")
	before := led.upsertCount()

	err := m.CancelOrder(context.Background(), "ven-7", "AAPL")
	var cerr *CancelError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want CancelError", err)
	}

	// Settled history is untouched: no overwrite, no resurrection.
	if got := led.row(t, "ven-7"); got.Status != domain.OrderStatusFilled {
		t.Errorf("ledger status = %q, want %q", got.Status, domain.OrderStatusFilled)
	}
	if led.upsertCount() != before {
		t.Error("ledger written for a cancel against a settled order")
	}
	if tk.Len() != 0 {
		t.Error("settled order resurrected into the active map")
	}
}

func TestCancelOrderNotFound(t *testing.T) {
	m, gw, led, tk := newTestManager()
	gw.cancelErr = venueErr(gateway.KindNotFound, "order not found")

	err := m.CancelOrder(context.Background(), "ven-ghost", "AAPL")
	if !gateway.IsNotFound(err) {
		t.Fatalf("error = %v, want venue not-found", err)
	}
	var cerr *CancelError
	if errors.As(err, &cerr) {
		t.Error("not-found reported as an ambiguous cancel")
	}

	// Nothing to reconcile: no phantom record anywhere.
	if tk.Len() != 0 {
		t.Error("unknown id entered the active map")
	}
	if led.upsertCount() != 0 {
		t.Error("ledger written for an order the venue never had")
	}
}

// ---------------------------------------------------------------------------
// GetOrderStatus
// ---------------------------------------------------------------------------

func TestGetOrderStatusServedFromMemory(t *testing.T) {
	m, gw, _, _ := newTestManager()
	id, _ := m.CreateOrder(context.Background(), testRequest())

	rec, err := m.GetOrderStatus(context.Background(), id, "AAPL")
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if rec.Status != domain.OrderStatusOpen {
		t.Errorf("status = %q, want %q", rec.Status, domain.OrderStatusOpen)
	}
	if gw.getCalls != 0 {
		t.Errorf("venue queried %d times for a live tracked order", gw.getCalls)
	}
}

func TestGetOrderStatusSettlesTerminal(t *testing.T) {
	m, gw, led, tk := newTestManager()
	gw.getRec = &domain.OrderRecord{
		VenueID:       "ven-9",
		ClientOrderID: "cli-9",
		Symbol:        "AAPL",
		Status:        domain.OrderStatusFilled,
		Qty:           decimal.NewFromInt(10),
		FilledQty:     decimal.NewFromInt(10),
	}

	rec, err := m.GetOrderStatus(context.Background(), "ven-9", "AAPL")
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if rec.Status != domain.OrderStatusFilled {
		t.Errorf("status = %q, want %q", rec.Status, domain.OrderStatusFilled)
	}
	if got := led.row(t, "ven-9"); got.Status != domain.OrderStatusFilled {
		t.Errorf("ledger status = %q, want %q", got.Status, domain.OrderStatusFilled)
	}
	if tk.Len() != 0 {
		t.Error("terminal order entered the active map")
	}
}

func TestGetOrderStatusAdoptsLiveOrder(t *testing.T) {
	m, gw, led, tk := newTestManager()
	gw.getRec = &domain.OrderRecord{
		VenueID:       "ven-3",
		ClientOrderID: "cli-3",
		Symbol:        "AAPL",
		Status:        domain.OrderStatusPartiallyFilled,
		Qty:           decimal.NewFromInt(10),
		FilledQty:     decimal.NewFromInt(4),
	}

	// The order belongs to a prior process instance: not tracked, but the
	// venue still works it.
	rec, err := m.GetOrderStatus(context.Background(), "ven-3", "AAPL")
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if rec.Status != domain.OrderStatusPartiallyFilled {
		t.Errorf("status = %q, want %q", rec.Status, domain.OrderStatusPartiallyFilled)
	}
	if _, ok := tk.Get("ven-3"); !ok {
		t.Error("live venue order not adopted into tracking")
	}
	if got := led.row(t, "ven-3"); !got.FilledQty.Equal(decimal.NewFromInt(4)) {
		t.Errorf("ledger filled qty = %s, want 4", got.FilledQty)
	}
}

func TestGetOrderStatusNotFound(t *testing.T) {
	m, gw, led, _ := newTestManager()
	gw.getErr = venueErr(gateway.KindNotFound, "order not found")

	rec, err := m.GetOrderStatus(context.Background(), "ghost", "AAPL")
	if rec != nil {
		t.Errorf("record = %+v, want nil", rec)
	}
	if !gateway.IsNotFound(err) {
		t.Errorf("IsNotFound = false, err = %v", err)
	}
	if led.upsertCount() != 0 {
		t.Error("ledger written for an unknown order")
	}
}

func TestGetOrderStatusTransportFailure(t *testing.T) {
	m, gw, led, _ := newTestManager()
	gw.getErr = venueErr(gateway.KindTransport, "dial timeout")

	rec, err := m.GetOrderStatus(context.Background(), "ven-5", "AAPL")
	if err == nil {
		t.Fatal("expected error")
	}
	if rec == nil || rec.Status != domain.OrderStatusError {
		t.Fatalf("record = %+v, want structured error record", rec)
	}
	if len(rec.Raw) == 0 {
		t.Error("transport error payload not captured")
	}
	// A failed query must never falsify the audit trail.
	if led.upsertCount() != 0 {
		t.Errorf("ledger written %d times on a failed query", led.upsertCount())
	}
}

func TestGetOrderStatusResolvesAmbiguousCancel(t *testing.T) {
	m, gw, led, tk := newTestManager()
	id, _ := m.CreateOrder(context.Background(), testRequest())

	gw.cancelErr = venueErr(gateway.KindTransport, "gateway timeout")
	if err := m.CancelOrder(context.Background(), id, "AAPL"); err == nil {
		t.Fatal("expected ambiguous cancel error")
	}

	// The venue's answer settles the ambiguity: the order actually filled.
	gw.getRec = &domain.OrderRecord{
		VenueID:       id,
		ClientOrderID: gw.lastClientID,
		Symbol:        "AAPL",
		Status:        domain.OrderStatusFilled,
		Qty:           decimal.NewFromInt(10),
		FilledQty:     decimal.NewFromInt(10),
	}
	rec, err := m.GetOrderStatus(context.Background(), id, "AAPL")
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if rec.Status != domain.OrderStatusFilled {
		t.Errorf("status = %q, want %q", rec.Status, domain.OrderStatusFilled)
	}
	if _, ok := tk.Get(id); ok {
		t.Error("resolved order still in the active map")
	}
	if got := led.row(t, id); got.Status != domain.OrderStatusFilled {
		t.Errorf("ledger status = %q, want %q", got.Status, domain.OrderStatusFilled)
	}
}

func TestGetOrderStatusResolvesAmbiguousCancelStillOpen(t *testing.T) {
	m, gw, _, tk := newTestManager()
	id, _ := m.CreateOrder(context.Background(), testRequest())

	gw.cancelErr = venueErr(gateway.KindTransport, "gateway timeout")
	if err := m.CancelOrder(context.Background(), id, "AAPL"); err == nil {
		t.Fatal("expected ambiguous cancel error")
	}

	// The cancel never took effect: the venue still works the order.
	gw.getRec = &domain.OrderRecord{
		VenueID:       id,
		ClientOrderID: gw.lastClientID,
		Symbol:        "AAPL",
		Status:        domain.OrderStatusOpen,
		Qty:           decimal.NewFromInt(10),
	}
	rec, err := m.GetOrderStatus(context.Background(), id, "AAPL")
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if rec.Status != domain.OrderStatusOpen {
		t.Errorf("status = %q, want %q", rec.Status, domain.OrderStatusOpen)
	}
	got, ok := tk.Get(id)
	if !ok {
		t.Fatal("order dropped from tracking after the venue reported it open")
	}
	if got.Status != domain.OrderStatusOpen {
		t.Errorf("tracked status = %q, want %q", got.Status, domain.OrderStatusOpen)
	}
}

// ---------------------------------------------------------------------------
// ListOpenOrders
// ---------------------------------------------------------------------------

func TestListOpenOrdersReconciles(t *testing.T) {
	m, gw, led, tk := newTestManager()
	id, _ := m.CreateOrder(context.Background(), testRequest())

	gw.listRecs = []domain.OrderRecord{
		{
			VenueID:       id,
			ClientOrderID: gw.lastClientID,
			Symbol:        "AAPL",
			Status:        domain.OrderStatusPartiallyFilled,
			Qty:           decimal.NewFromInt(10),
			FilledQty:     decimal.NewFromInt(3),
		},
		{
			VenueID:       "ven-old",
			ClientOrderID: "cli-old",
			Symbol:        "MSFT",
			Status:        domain.OrderStatusOpen,
			Qty:           decimal.NewFromInt(5),
		},
	}

	recs := m.ListOpenOrders(context.Background(), "")
	if len(recs) != 2 {
		t.Fatalf("got %d orders, want 2", len(recs))
	}

	// Known order advanced by the venue's view.
	got, _ := tk.Get(id)
	if got.Status != domain.OrderStatusPartiallyFilled {
		t.Errorf("tracked status = %q, want %q", got.Status, domain.OrderStatusPartiallyFilled)
	}
	// Prior-instance order adopted and persisted.
	if _, ok := tk.Get("ven-old"); !ok {
		t.Error("venue order from a prior instance not adopted")
	}
	if got := led.row(t, "ven-old"); got.Status != domain.OrderStatusOpen {
		t.Errorf("ledger status = %q, want %q", got.Status, domain.OrderStatusOpen)
	}
}

func TestListOpenOrdersGatewayFailure(t *testing.T) {
	m, gw, _, _ := newTestManager()
	gw.listErr = venueErr(gateway.KindTransport, "dial timeout")

	recs := m.ListOpenOrders(context.Background(), "")
	if recs == nil {
		t.Fatal("want empty slice, got nil")
	}
	if len(recs) != 0 {
		t.Errorf("got %d orders, want 0", len(recs))
	}
}

// ---------------------------------------------------------------------------
// UpdateLocalOrderState
// ---------------------------------------------------------------------------

func TestUpdateLifecycle(t *testing.T) {
	m, _, led, tk := newTestManager()
	id, _ := m.CreateOrder(context.Background(), testRequest())

	m.UpdateLocalOrderState(context.Background(), domain.OrderUpdate{
		OrderID:   id,
		Status:    domain.OrderStatusPartiallyFilled,
		FilledQty: decimal.NewFromInt(4),
	})
	rec, _ := tk.Get(id)
	if rec.Status != domain.OrderStatusPartiallyFilled || !rec.FilledQty.Equal(decimal.NewFromInt(4)) {
		t.Errorf("tracked = %s/%s, want partially_filled/4", rec.Status, rec.FilledQty)
	}

	m.UpdateLocalOrderState(context.Background(), domain.OrderUpdate{
		OrderID:   id,
		Status:    domain.OrderStatusFilled,
		FilledQty: decimal.NewFromInt(10),
	})
	if _, ok := tk.Get(id); ok {
		t.Error("filled order still in the active map")
	}
	if got := led.row(t, id); got.Status != domain.OrderStatusFilled {
		t.Errorf("ledger status = %q, want %q", got.Status, domain.OrderStatusFilled)
	}
}

func TestUpdateOutOfOrderAfterTerminal(t *testing.T) {
	m, _, led, tk := newTestManager()
	id, _ := m.CreateOrder(context.Background(), testRequest())

	m.UpdateLocalOrderState(context.Background(), domain.OrderUpdate{
		OrderID: id, Status: domain.OrderStatusFilled, FilledQty: decimal.NewFromInt(10),
	})
	before := led.upsertCount()

	// A delayed fill notification arrives after the order settled.
	m.UpdateLocalOrderState(context.Background(), domain.OrderUpdate{
		OrderID: id, Status: domain.OrderStatusPartiallyFilled, FilledQty: decimal.NewFromInt(4),
	})

	if got := led.row(t, id); got.Status != domain.OrderStatusFilled {
		t.Errorf("ledger status = %q, want %q", got.Status, domain.OrderStatusFilled)
	}
	if !led.row(t, id).FilledQty.Equal(decimal.NewFromInt(10)) {
		t.Errorf("ledger filled qty regressed to %s", led.row(t, id).FilledQty)
	}
	if led.upsertCount() != before {
		t.Error("stale update reached the ledger")
	}
	if tk.Len() != 0 {
		t.Error("stale update resurrected the order")
	}
}

func TestUpdateDuplicateTerminalDelivery(t *testing.T) {
	m, _, led, _ := newTestManager()
	id, _ := m.CreateOrder(context.Background(), testRequest())

	fill := domain.OrderUpdate{OrderID: id, Status: domain.OrderStatusFilled, FilledQty: decimal.NewFromInt(10)}
	m.UpdateLocalOrderState(context.Background(), fill)
	before := led.row(t, id)
	beforeCount := led.upsertCount()

	m.UpdateLocalOrderState(context.Background(), fill)

	after := led.row(t, id)
	if after.Status != before.Status || !after.FilledQty.Equal(before.FilledQty) {
		t.Errorf("duplicate delivery changed the ledger row: %+v -> %+v", before, after)
	}
	if led.upsertCount() != beforeCount {
		t.Error("duplicate terminal delivery reached the ledger")
	}
}

func TestUpdateSettledOrderNoZombie(t *testing.T) {
	m, _, led, tk := newTestManager()

	// Canceled in a prior process instance; only the ledger remembers.
	led.put(domain.OrderRecord{
		VenueID:       "ven-z",
		ClientOrderID: "cli-z",
		Symbol:        "AAPL",
		Status:        domain.OrderStatusCanceled,
		Qty:           decimal.NewFromInt(10),
	})

	m.UpdateLocalOrderState(context.Background(), domain.OrderUpdate{
		OrderID: "ven-z", Status: domain.OrderStatusOpen,
	})

	if tk.Len() != 0 {
		t.Error("late update resurrected a settled order")
	}
	if got := led.row(t, "ven-z"); got.Status != domain.OrderStatusCanceled {
		t.Errorf("ledger status = %q, want %q", got.Status, domain.OrderStatusCanceled)
	}
}

func TestUpdateUnknownOrderTracked(t *testing.T) {
	m, _, led, tk := newTestManager()

	// Never seen before: no ledger row, no tracking. The update itself
	// establishes the order.
	m.UpdateLocalOrderState(context.Background(), domain.OrderUpdate{
		OrderID:       "ven-new",
		ClientOrderID: "cli-new",
		Symbol:        "AAPL",
		Status:        domain.OrderStatusOpen,
	})

	rec, ok := tk.Get("ven-new")
	if !ok {
		t.Fatal("unknown order not tracked")
	}
	if rec.Status != domain.OrderStatusOpen {
		t.Errorf("status = %q, want %q", rec.Status, domain.OrderStatusOpen)
	}
	if got := led.row(t, "ven-new"); got.ClientOrderID != "cli-new" {
		t.Errorf("ledger client id = %q, want cli-new", got.ClientOrderID)
	}
}

func TestUpdateMissingOrderID(t *testing.T) {
	m, _, led, tk := newTestManager()

	m.UpdateLocalOrderState(context.Background(), domain.OrderUpdate{Status: domain.OrderStatusFilled})

	if tk.Len() != 0 || led.upsertCount() != 0 {
		t.Error("update without an order id had side effects")
	}
}

// ---------------------------------------------------------------------------
// Recover
// ---------------------------------------------------------------------------

func TestRecover(t *testing.T) {
	m, _, led, tk := newTestManager()
	led.put(domain.OrderRecord{VenueID: "ven-a", Symbol: "AAPL", Status: domain.OrderStatusOpen, Qty: decimal.NewFromInt(1)})
	led.put(domain.OrderRecord{VenueID: "ven-b", Symbol: "MSFT", Status: domain.OrderStatusPartiallyFilled, Qty: decimal.NewFromInt(2)})
	led.put(domain.OrderRecord{VenueID: "ven-c", Symbol: "TSLA", Status: domain.OrderStatusFilled, Qty: decimal.NewFromInt(3)})

	if err := m.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if tk.Len() != 2 {
		t.Errorf("recovered %d orders, want 2", tk.Len())
	}
	if _, ok := tk.Get("ven-c"); ok {
		t.Error("terminal order recovered into the active map")
	}
}

// ---------------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------------

func TestNotifyOnChanges(t *testing.T) {
	m, _, _, _ := newTestManager()

	var mu sync.Mutex
	var got []domain.OrderStatus
	m.SetNotify(func(rec domain.OrderRecord) {
		mu.Lock()
		got = append(got, rec.Status)
		mu.Unlock()
	})

	id, _ := m.CreateOrder(context.Background(), testRequest())
	m.UpdateLocalOrderState(context.Background(), domain.OrderUpdate{
		OrderID: id, Status: domain.OrderStatusFilled, FilledQty: decimal.NewFromInt(10),
	})

	mu.Lock()
	defer mu.Unlock()
	want := []domain.OrderStatus{domain.OrderStatusOpen, domain.OrderStatusFilled}
	if len(got) != len(want) {
		t.Fatalf("got %d notifications, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification %d = %q, want %q", i, got[i], want[i])
		}
	}
}
