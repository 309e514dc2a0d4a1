package service_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditservice "github.com/smallbiznis/reserva/internal/audit/service"
	availabilityservice "github.com/smallbiznis/reserva/internal/availability/service"
	"github.com/smallbiznis/reserva/internal/booking/domain"
	bookingrepo "github.com/smallbiznis/reserva/internal/booking/repository"
	bookingservice "github.com/smallbiznis/reserva/internal/booking/service"
	"github.com/smallbiznis/reserva/internal/clock"
	"github.com/smallbiznis/reserva/internal/config"
	"github.com/smallbiznis/reserva/internal/events"
	idempotencydomain "github.com/smallbiznis/reserva/internal/idempotency/domain"
	idempotencyrepo "github.com/smallbiznis/reserva/internal/idempotency/repository"
	idempotencyservice "github.com/smallbiznis/reserva/internal/idempotency/service"
	"github.com/smallbiznis/reserva/internal/observability"
	"github.com/smallbiznis/reserva/internal/payment/adapters"
	"github.com/smallbiznis/reserva/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/reserva/internal/payment/domain"
	tenantdomain "github.com/smallbiznis/reserva/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/reserva/internal/tenant/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type checkoutFixture struct {
	db   *gorm.DB
	node *snowflake.Node
	clk  *clock.FakeClock
	svc  domain.Service
}

// setupCheckout wires the checkout path against a stub payment API.
func setupCheckout(t *testing.T, paymentHandler http.HandlerFunc) *checkoutFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE tenants (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			commission_rate_bps BIGINT NOT NULL,
			connected_account_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE tenant_blackout_dates (
			tenant_id BIGINT NOT NULL,
			day TEXT NOT NULL
		)`,
		`CREATE TABLE bookings (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			slot_date TEXT NOT NULL,
			status TEXT NOT NULL,
			subtotal_amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			commission_rate_bps BIGINT NOT NULL DEFAULT 0,
			commission_amount BIGINT NOT NULL DEFAULT 0,
			payout_amount BIGINT NOT NULL DEFAULT 0,
			session_ref TEXT NOT NULL DEFAULT '',
			payment_ref TEXT,
			refund_ref TEXT,
			failure_reason TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			confirmed_at TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX ux_bookings_slot ON bookings(tenant_id, slot_date)
		 WHERE status IN ('pending', 'confirmed')`,
		`CREATE TABLE idempotency_records (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			key TEXT NOT NULL,
			operation TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			expires_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_idempotency_tenant_key ON idempotency_records(tenant_id, key)`,
		`CREATE TABLE audit_logs (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT,
			action TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id TEXT,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}

	paymentAPI := httptest.NewServer(paymentHandler)
	t.Cleanup(paymentAPI.Close)

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Now())
	logger := zap.NewNop()

	holder, err := config.NewBookingConfigHolder()
	require.NoError(t, err)

	idemSvc := idempotencyservice.NewService(idempotencyservice.Params{
		DB: db, Log: logger, GenID: node, Clock: clk,
		Repo: idempotencyrepo.Provide(), Config: holder,
	})
	availSvc := availabilityservice.NewService(availabilityservice.Params{
		DB:       db,
		Log:      logger,
		Config:   holder,
		Tenants:  tenantrepo.Provide(),
		Bookings: bookingrepo.Provide(),
	})
	auditSvc := auditservice.NewService(auditservice.Params{
		DB: db, Log: logger, GenID: node, Clock: clk,
	})

	registry := adapters.NewRegistry()
	adapter, err := stripe.NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		Provider:      "stripe",
		WebhookSecret: "whsec_test",
		SecretKey:     "sk_test",
		APIBase:       paymentAPI.URL,
	})
	require.NoError(t, err)
	registry.Register("stripe", adapter)

	svc := bookingservice.NewService(bookingservice.Params{
		DB:           db,
		Log:          logger,
		GenID:        node,
		Clock:        clk,
		Repo:         bookingrepo.Provide(),
		Tenants:      tenantrepo.Provide(),
		Availability: availSvc,
		Idempotency:  idemSvc,
		Payments:     registry,
		Audit:        auditSvc,
		Outbox:       events.NewOutbox(events.Params{Log: logger}),
		Metrics:      observability.NewMetrics(),
	})

	return &checkoutFixture{db: db, node: node, clk: clk, svc: svc}
}

func sessionOK(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"id":"cs_1","url":"https://pay.example/cs_1"}`)
}

func (f *checkoutFixture) seedTenant(t *testing.T) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	require.NoError(t, f.db.Exec(
		`INSERT INTO tenants (id, name, commission_rate_bps, connected_account_id, created_at)
		 VALUES (?, 'Studio One', 1000, 'acct_1', ?)`,
		id, time.Now().UTC(),
	).Error)
	return id
}

func TestCheckoutCreatesPendingBooking(t *testing.T) {
	ctx := context.Background()
	f := setupCheckout(t, sessionOK)
	tenantID := f.seedTenant(t)

	result, err := f.svc.Checkout(ctx, domain.CheckoutRequest{
		TenantID:       tenantID,
		SlotDate:       "2026-12-01",
		SubtotalAmount: 20000,
		Currency:       "usd",
		IdempotencyKey: "ck-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStatusCreated, result.Status)
	assert.NotZero(t, result.BookingID)
	assert.Equal(t, "https://pay.example/cs_1", result.SessionRef)

	booking, err := f.svc.Get(ctx, tenantID, result.BookingID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, booking.Status)
	assert.Equal(t, "USD", booking.Currency)
	assert.Equal(t, "cs_1", booking.SessionRef)

	var status string
	require.NoError(t, f.db.Raw(
		`SELECT status FROM idempotency_records WHERE tenant_id = ? AND key = 'ck-1'`, tenantID,
	).Scan(&status).Error)
	assert.Equal(t, "complete", status)
}

func TestCheckoutReplaySameKey(t *testing.T) {
	ctx := context.Background()
	f := setupCheckout(t, sessionOK)
	tenantID := f.seedTenant(t)

	req := domain.CheckoutRequest{
		TenantID:       tenantID,
		SlotDate:       "2026-12-02",
		SubtotalAmount: 20000,
		Currency:       "USD",
		IdempotencyKey: "ck-replay",
	}

	first, err := f.svc.Checkout(ctx, req)
	require.NoError(t, err)
	require.Equal(t, domain.CheckoutStatusCreated, first.Status)

	second, err := f.svc.Checkout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStatusDuplicate, second.Status)
	assert.Equal(t, first.BookingID, second.BookingID)
	assert.Equal(t, first.SessionRef, second.SessionRef)

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(1) FROM bookings`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCheckoutSlotTakenByOtherKey(t *testing.T) {
	ctx := context.Background()
	f := setupCheckout(t, sessionOK)
	tenantID := f.seedTenant(t)

	first, err := f.svc.Checkout(ctx, domain.CheckoutRequest{
		TenantID:       tenantID,
		SlotDate:       "2026-12-03",
		SubtotalAmount: 20000,
		Currency:       "USD",
		IdempotencyKey: "ck-winner",
	})
	require.NoError(t, err)
	require.Equal(t, domain.CheckoutStatusCreated, first.Status)

	loser, err := f.svc.Checkout(ctx, domain.CheckoutRequest{
		TenantID:       tenantID,
		SlotDate:       "2026-12-03",
		SubtotalAmount: 15000,
		Currency:       "USD",
		IdempotencyKey: "ck-loser",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStatusSlotTaken, loser.Status)
	assert.Zero(t, loser.BookingID)

	// Replaying the losing key returns the stored rejection, not a
	// duplicate of some other booking.
	again, err := f.svc.Checkout(ctx, domain.CheckoutRequest{
		TenantID:       tenantID,
		SlotDate:       "2026-12-03",
		SubtotalAmount: 15000,
		Currency:       "USD",
		IdempotencyKey: "ck-loser",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStatusSlotTaken, again.Status)
}

func TestCheckoutSessionFailureLeavesClaimInFlight(t *testing.T) {
	ctx := context.Background()
	f := setupCheckout(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	tenantID := f.seedTenant(t)

	req := domain.CheckoutRequest{
		TenantID:       tenantID,
		SlotDate:       "2026-12-04",
		SubtotalAmount: 20000,
		Currency:       "USD",
		IdempotencyKey: "ck-broken",
	}

	_, err := f.svc.Checkout(ctx, req)
	require.ErrorIs(t, err, paymentdomain.ErrSessionFailed)

	// The booking still holds the slot until the sweep or a retry settles it.
	var status string
	require.NoError(t, f.db.Raw(
		`SELECT status FROM bookings WHERE tenant_id = ?`, tenantID,
	).Scan(&status).Error)
	assert.Equal(t, "pending", status)

	// An immediate retry hits the in-flight claim.
	_, err = f.svc.Checkout(ctx, req)
	assert.ErrorIs(t, err, idempotencydomain.ErrInFlight)

	// Past the abandon window the key is reclaimed, and the replayed
	// attempt finds its own pending booking holding the slot.
	f.clk.Advance(16 * time.Minute)
	result, err := f.svc.Checkout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStatusSlotTaken, result.Status)
}

func TestCheckoutValidation(t *testing.T) {
	ctx := context.Background()
	f := setupCheckout(t, sessionOK)
	tenantID := f.seedTenant(t)

	_, err := f.svc.Checkout(ctx, domain.CheckoutRequest{
		TenantID: tenantID, SlotDate: "12/01/2026", SubtotalAmount: 100, Currency: "USD", IdempotencyKey: "k1",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDate)

	_, err = f.svc.Checkout(ctx, domain.CheckoutRequest{
		TenantID: tenantID, SlotDate: "2026-12-05", SubtotalAmount: 0, Currency: "USD", IdempotencyKey: "k2",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.svc.Checkout(ctx, domain.CheckoutRequest{
		TenantID: tenantID, SlotDate: "2026-12-05", SubtotalAmount: 100, Currency: "DOLLARS", IdempotencyKey: "k3",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCurrency)

	_, err = f.svc.Checkout(ctx, domain.CheckoutRequest{
		TenantID: f.node.Generate(), SlotDate: "2026-12-05", SubtotalAmount: 100, Currency: "USD", IdempotencyKey: "k4",
	})
	assert.ErrorIs(t, err, tenantdomain.ErrTenantNotFound)
}

func TestCancelConfirmedBooking(t *testing.T) {
	ctx := context.Background()
	f := setupCheckout(t, sessionOK)
	tenantID := f.seedTenant(t)

	result, err := f.svc.Checkout(ctx, domain.CheckoutRequest{
		TenantID:       tenantID,
		SlotDate:       "2026-12-06",
		SubtotalAmount: 20000,
		Currency:       "USD",
		IdempotencyKey: "ck-cancel",
	})
	require.NoError(t, err)

	repo := bookingrepo.Provide()
	_, err = repo.Confirm(ctx, f.db, result.BookingID, "pi_1",
		domain.CommissionSnapshot{RateBps: 1000, Commission: 2000, Payout: 18000}, f.clk.Now())
	require.NoError(t, err)

	canceled, err := f.svc.Cancel(ctx, tenantID, result.BookingID, "venue closed")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, canceled.Status)

	// Another tenant cannot cancel it.
	_, err = f.svc.Cancel(ctx, f.node.Generate(), result.BookingID, "")
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}
