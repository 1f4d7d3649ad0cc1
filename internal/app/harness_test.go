package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ParamigosApps/appbar-sub000/internal/clock"
	"github.com/ParamigosApps/appbar-sub000/internal/config"
	"github.com/ParamigosApps/appbar-sub000/internal/domain"
	"github.com/ParamigosApps/appbar-sub000/internal/storage/memory"
	"github.com/ParamigosApps/appbar-sub000/internal/token"
)

var testNow = time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

type harness struct {
	store       *memory.Store
	clock       *clock.Manual
	cfg         config.Engine
	signer      *token.Signer
	ledger      *Ledger
	holds       *HoldService
	fulfillment *FulfillmentService
	payments    *PaymentService
	redemption  *RedemptionService
	admin       *AdminService
	publisher   *recordingPublisher
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	cfg   config.Engine
	units func(*memory.Store) UnitRepository
}

func withEngine(fn func(*config.Engine)) harnessOption {
	return func(h *harnessConfig) { fn(&h.cfg) }
}

// withUnits wraps the unit writes of the shared store.
func withUnits(wrap func(*memory.Store) UnitRepository) harnessOption {
	return func(h *harnessConfig) { h.units = wrap }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	store := memory.New()
	hc := harnessConfig{
		cfg:   config.DefaultEngine(),
		units: func(s *memory.Store) UnitRepository { return s },
	}
	hc.cfg.TokenSecret = "test-secret"
	for _, opt := range opts {
		opt(&hc)
	}

	signer, err := token.NewSigner(hc.cfg.TokenSecret, hc.cfg.TokenLength)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	clk := clock.NewManual(testNow)
	pub := &recordingPublisher{}
	ledger := NewLedger(store, clk)
	holds := NewHoldService(store, ledger, clk, hc.cfg)
	fulfillment := NewFulfillmentService(store, hc.units(store), ledger, holds, signer, clk, hc.cfg, WithPublisher(pub))

	return &harness{
		store:       store,
		clock:       clk,
		cfg:         hc.cfg,
		signer:      signer,
		ledger:      ledger,
		holds:       holds,
		fulfillment: fulfillment,
		payments:    NewPaymentService(store, holds, fulfillment, clk, hc.cfg),
		redemption:  NewRedemptionService(store, signer, clk),
		admin:       NewAdminService(store, clk),
		publisher:   pub,
	}
}

func (h *harness) event(t *testing.T, capacity, perUserLimit int) domain.Pool {
	t.Helper()
	p, err := h.admin.CreateEvent(context.Background(), CreateEventInput{Name: "Fiesta", Capacity: capacity, PerUserLimit: perUserLimit})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return p
}

func (h *harness) lot(t *testing.T, eventID string, capacity, perUserLimit int) domain.Pool {
	t.Helper()
	p, err := h.admin.CreateLot(context.Background(), CreateLotInput{EventID: eventID, Name: "General", Capacity: capacity, PerUserLimit: perUserLimit, PriceCents: 5000})
	if err != nil {
		t.Fatalf("create lot: %v", err)
	}
	return p
}

func (h *harness) product(t *testing.T, scopeID string, stock int) domain.Pool {
	t.Helper()
	p, err := h.admin.CreateProduct(context.Background(), CreateProductInput{ScopeID: scopeID, Name: "Fernet", Stock: stock, PriceCents: 3000})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return p
}

func (h *harness) pool(t *testing.T, id string) domain.Pool {
	t.Helper()
	p, err := h.ledger.Availability(context.Background(), id)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	return p
}

func (h *harness) quota(t *testing.T, poolID, userID string) int {
	t.Helper()
	q, err := h.store.GetQuotaForUpdate(context.Background(), poolID, userID)
	if err != nil {
		t.Fatalf("get quota: %v", err)
	}
	return q.UnitsClaimed
}

func (h *harness) units(t *testing.T, ownerID string) []domain.Unit {
	t.Helper()
	units, err := h.store.ListUnitsByOwner(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("list units: %v", err)
	}
	return units
}

// fulfill registers a payment for items and approves it.
func (h *harness) fulfill(t *testing.T, paymentID string, kind domain.UnitKind, userID string, items ...domain.LineItem) []domain.Unit {
	t.Helper()
	ctx := context.Background()
	if _, err := h.payments.RegisterPayment(ctx, RegisterPaymentInput{PaymentID: paymentID, Kind: kind, UserID: userID, Items: items}); err != nil {
		t.Fatalf("register payment: %v", err)
	}
	res, err := h.payments.HandleCallback(ctx, Notification{PaymentID: paymentID, Status: "approved"})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if res.FulfillmentErr != nil {
		t.Fatalf("fulfillment: %v", res.FulfillmentErr)
	}
	return h.units(t, paymentID)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}
