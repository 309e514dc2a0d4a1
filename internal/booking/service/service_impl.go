package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	availabilitydomain "github.com/smallbiznis/reserva/internal/availability/domain"
	auditdomain "github.com/smallbiznis/reserva/internal/audit/domain"
	"github.com/smallbiznis/reserva/internal/booking/domain"
	"github.com/smallbiznis/reserva/internal/clock"
	"github.com/smallbiznis/reserva/internal/events"
	idempotencydomain "github.com/smallbiznis/reserva/internal/idempotency/domain"
	"github.com/smallbiznis/reserva/internal/observability"
	"github.com/smallbiznis/reserva/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/reserva/internal/payment/domain"
	tenantdomain "github.com/smallbiznis/reserva/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultProvider = "stripe"

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	Tenants      tenantdomain.Repository
	Availability availabilitydomain.Service
	Idempotency  idempotencydomain.Service
	Payments     *adapters.Registry
	Audit        auditdomain.Service
	Outbox       *events.Outbox
	Metrics      *observability.Metrics
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         domain.Repository
	tenants      tenantdomain.Repository
	availability availabilitydomain.Service
	idempotency  idempotencydomain.Service
	payments     *adapters.Registry
	audit        auditdomain.Service
	outbox       *events.Outbox
	metrics      *observability.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("booking.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		tenants:      p.Tenants,
		availability: p.Availability,
		idempotency:  p.Idempotency,
		payments:     p.Payments,
		audit:        p.Audit,
		outbox:       p.Outbox,
		metrics:      p.Metrics,
	}
}

// Checkout reserves the slot and opens a payment session. The
// idempotency claim happens before any write so a retried request
// replays the stored outcome instead of racing against its own booking.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResult, error) {
	day, err := domain.ParseSlotDate(req.SlotDate)
	if err != nil {
		return domain.CheckoutResult{}, err
	}
	if req.SubtotalAmount <= 0 {
		return domain.CheckoutResult{}, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return domain.CheckoutResult{}, domain.ErrInvalidCurrency
	}

	tenant, err := s.tenants.FindByID(ctx, s.db, req.TenantID)
	if err != nil {
		return domain.CheckoutResult{}, err
	}
	if tenant == nil {
		return domain.CheckoutResult{}, tenantdomain.ErrTenantNotFound
	}

	begin, err := s.idempotency.Begin(ctx, req.TenantID, req.IdempotencyKey, idempotencydomain.OperationCheckout)
	if err != nil {
		return domain.CheckoutResult{}, err
	}
	if !begin.Fresh {
		var stored domain.CheckoutResult
		if err := json.Unmarshal(begin.Record.Result, &stored); err != nil {
			return domain.CheckoutResult{}, err
		}
		if stored.Status == domain.CheckoutStatusCreated {
			stored.Status = domain.CheckoutStatusDuplicate
		}
		return stored, nil
	}

	decision, err := s.availability.Check(ctx, req.TenantID, day)
	if err != nil {
		return domain.CheckoutResult{}, err
	}
	if !decision.Available {
		return s.finishSlotTaken(ctx, req, decision.Reason)
	}

	now := s.clock.Now()
	booking := &domain.Booking{
		ID:             s.genID.Generate(),
		TenantID:       req.TenantID,
		SlotDate:       day,
		Status:         domain.StatusPending,
		SubtotalAmount: req.SubtotalAmount,
		Currency:       currency,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.CreatePending(ctx, s.db, booking); err != nil {
		if errors.Is(err, domain.ErrSlotTaken) {
			s.metrics.SlotConflicts.Inc()
			return s.finishSlotTaken(ctx, req, availabilitydomain.ReasonBooked)
		}
		return domain.CheckoutResult{}, err
	}

	adapter, ok := s.payments.Get(defaultProvider)
	if !ok {
		return domain.CheckoutResult{}, paymentdomain.ErrProviderNotFound
	}

	// A session failure leaves the idempotency record in flight and the
	// booking pending. The retry re-claims the key after the abandon
	// window; the sweep releases the slot if no retry comes.
	session, err := adapter.CreateCheckoutSession(ctx, paymentdomain.SessionRequest{
		TenantID:  booking.TenantID,
		BookingID: booking.ID,
		AccountID: tenant.ConnectedAccountID,
		Amount:    booking.SubtotalAmount,
		Currency:  booking.Currency,
		SlotDate:  booking.SlotDate,
	})
	if err != nil {
		s.log.Error("payment session creation failed",
			zap.String("booking_id", booking.ID.String()),
			zap.Error(err),
		)
		return domain.CheckoutResult{}, err
	}

	if err := s.repo.SetSessionRef(ctx, s.db, booking.ID, session.ID, s.clock.Now()); err != nil {
		return domain.CheckoutResult{}, err
	}

	result := domain.CheckoutResult{
		Status:     domain.CheckoutStatusCreated,
		BookingID:  booking.ID,
		SessionRef: session.URL,
	}
	if err := s.completeIdempotency(ctx, req.TenantID, req.IdempotencyKey, result); err != nil {
		return domain.CheckoutResult{}, err
	}

	s.metrics.BookingsCreated.Inc()

	bookingID := booking.ID.String()
	_ = s.audit.AuditLog(ctx, &req.TenantID, "booking.checkout_created", "booking", &bookingID, map[string]any{
		"slot_date": booking.SlotDate,
		"subtotal":  booking.SubtotalAmount,
		"currency":  booking.Currency,
	})

	return result, nil
}

// Cancel is the tenant-initiated cancellation of a confirmed booking.
func (s *Service) Cancel(ctx context.Context, tenantID, bookingID snowflake.ID, reason string) (*domain.Booking, error) {
	booking, err := s.repo.FindByID(ctx, s.db, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil || booking.TenantID != tenantID {
		return nil, domain.ErrBookingNotFound
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "canceled_by_tenant"
	}

	canceled, err := s.repo.Cancel(ctx, s.db, bookingID, reason, s.clock.Now())
	if err != nil {
		return nil, err
	}

	id := bookingID.String()
	_ = s.audit.AuditLog(ctx, &tenantID, "booking.canceled", "booking", &id, map[string]any{
		"reason": reason,
	})
	s.outbox.Publish(events.DomainEvent{
		Type:       events.TypeBookingCanceled,
		BookingID:  bookingID,
		TenantID:   tenantID,
		OccurredAt: s.clock.Now(),
	})
	s.metrics.OutboxPublished.Inc()

	return canceled, nil
}

func (s *Service) Get(ctx context.Context, tenantID, bookingID snowflake.ID) (*domain.Booking, error) {
	booking, err := s.repo.FindByID(ctx, s.db, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil || booking.TenantID != tenantID {
		return nil, domain.ErrBookingNotFound
	}
	return booking, nil
}

// finishSlotTaken records the definitive rejection so retries replay it
// without another availability round trip.
func (s *Service) finishSlotTaken(ctx context.Context, req domain.CheckoutRequest, reason string) (domain.CheckoutResult, error) {
	result := domain.CheckoutResult{Status: domain.CheckoutStatusSlotTaken}
	if err := s.completeIdempotency(ctx, req.TenantID, req.IdempotencyKey, result); err != nil {
		return domain.CheckoutResult{}, err
	}
	s.log.Info("checkout rejected",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("slot_date", req.SlotDate),
		zap.String("reason", reason),
	)
	return result, nil
}

func (s *Service) completeIdempotency(ctx context.Context, tenantID snowflake.ID, key string, result domain.CheckoutResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.idempotency.Complete(ctx, tenantID, key, raw)
}
