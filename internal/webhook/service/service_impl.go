package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	auditdomain "github.com/smallbiznis/reserva/internal/audit/domain"
	bookingdomain "github.com/smallbiznis/reserva/internal/booking/domain"
	"github.com/smallbiznis/reserva/internal/clock"
	"github.com/smallbiznis/reserva/internal/commission"
	"github.com/smallbiznis/reserva/internal/events"
	idempotencydomain "github.com/smallbiznis/reserva/internal/idempotency/domain"
	ledgerdomain "github.com/smallbiznis/reserva/internal/ledger/domain"
	"github.com/smallbiznis/reserva/internal/observability"
	"github.com/smallbiznis/reserva/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/reserva/internal/payment/domain"
	tenantdomain "github.com/smallbiznis/reserva/internal/tenant/domain"
	"github.com/smallbiznis/reserva/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Payments    *adapters.Registry
	Bookings    bookingdomain.Repository
	Tenants     tenantdomain.Repository
	Idempotency idempotencydomain.Service
	Ledger      ledgerdomain.Service
	Audit       auditdomain.Service
	Outbox      *events.Outbox
	Metrics     *observability.Metrics
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	payments    *adapters.Registry
	bookings    bookingdomain.Repository
	tenants     tenantdomain.Repository
	idempotency idempotencydomain.Service
	ledger      ledgerdomain.Service
	audit       auditdomain.Service
	outbox      *events.Outbox
	metrics     *observability.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("webhook.service"),
		clock:       p.Clock,
		payments:    p.Payments,
		bookings:    p.Bookings,
		tenants:     p.Tenants,
		idempotency: p.Idempotency,
		ledger:      p.Ledger,
		audit:       p.Audit,
		outbox:      p.Outbox,
		metrics:     p.Metrics,
	}
}

// Ingest runs the full webhook pipeline: verify the raw body, parse,
// cross-check tenant and connected account, dedup, then apply the
// booking transition. Every step after dedup is individually idempotent,
// so a redelivery that interrupts anywhere converges on the same state.
func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	adapter, ok := s.payments.Get(provider)
	if !ok {
		return paymentdomain.ErrProviderNotFound
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.metrics.WebhookEvents.WithLabelValues(provider, "unknown", "bad_signature").Inc()
		s.log.Warn("webhook signature rejected", zap.String("provider", provider), zap.Error(err))
		_ = s.audit.AuditLog(ctx, nil, "webhook.signature_rejected", "webhook", nil, map[string]any{
			"provider": provider,
		})
		return paymentdomain.ErrInvalidSignature
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.metrics.WebhookEvents.WithLabelValues(provider, "unknown", "ignored").Inc()
			return nil
		}
		s.metrics.WebhookEvents.WithLabelValues(provider, "unknown", "unparseable").Inc()
		return err
	}

	if err := s.checkOwnership(ctx, event); err != nil {
		s.metrics.WebhookEvents.WithLabelValues(provider, event.Type, "rejected").Inc()
		return err
	}

	dedupKey := fmt.Sprintf("%s:%s", provider, event.ProviderEventID)
	begin, err := s.idempotency.Begin(ctx, event.TenantID, dedupKey, idempotencydomain.OperationWebhook)
	if err != nil {
		return err
	}
	if !begin.Fresh {
		s.metrics.WebhookEvents.WithLabelValues(provider, event.Type, "duplicate").Inc()
		s.log.Info("webhook replay suppressed",
			zap.String("provider", provider),
			zap.String("provider_event_id", event.ProviderEventID),
		)
		return nil
	}

	outcome, err := s.apply(ctx, event)
	if err != nil {
		// Leave the idempotency record in flight; the provider retries and
		// re-claims the key after the abandon window.
		s.metrics.WebhookEvents.WithLabelValues(provider, event.Type, "error").Inc()
		return err
	}

	raw, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	if err := s.idempotency.Complete(ctx, event.TenantID, dedupKey, raw); err != nil {
		return err
	}

	s.metrics.WebhookEvents.WithLabelValues(provider, event.Type, outcome.Result).Inc()
	return nil
}

// outcome is the stored idempotency result for a webhook event.
type outcome struct {
	Result        string `json:"result"`
	BookingStatus string `json:"booking_status,omitempty"`
}

// checkOwnership cross-checks the event metadata against the database.
// A mismatch means forged or misrouted metadata and is never retried.
func (s *Service) checkOwnership(ctx context.Context, event *paymentdomain.Event) error {
	booking, err := s.bookings.FindByID(ctx, s.db, event.BookingID)
	if err != nil {
		return err
	}
	if booking == nil {
		s.log.Warn("webhook references unknown booking",
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("booking_id", event.BookingID.String()),
		)
		return domain.ErrUnknownBooking
	}
	if booking.TenantID != event.TenantID {
		s.auditMismatch(ctx, event, "webhook.tenant_mismatch")
		return domain.ErrTenantMismatch
	}

	tenant, err := s.tenants.FindByID(ctx, s.db, event.TenantID)
	if err != nil {
		return err
	}
	if tenant == nil {
		return tenantdomain.ErrTenantNotFound
	}
	if event.AccountID != "" && event.AccountID != tenant.ConnectedAccountID {
		s.auditMismatch(ctx, event, "webhook.account_mismatch")
		return domain.ErrAccountMismatch
	}
	return nil
}

func (s *Service) auditMismatch(ctx context.Context, event *paymentdomain.Event, action string) {
	bookingID := event.BookingID.String()
	s.log.Warn("webhook ownership mismatch",
		zap.String("action", action),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("booking_id", bookingID),
		zap.String("account_id", event.AccountID),
	)
	_ = s.audit.AuditLog(ctx, &event.TenantID, action, "webhook", &bookingID, map[string]any{
		"provider":          event.Provider,
		"provider_event_id": event.ProviderEventID,
		"account_id":        event.AccountID,
	})
}

func (s *Service) apply(ctx context.Context, event *paymentdomain.Event) (outcome, error) {
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		return s.applySucceeded(ctx, event)
	case paymentdomain.EventTypePaymentFailed:
		return s.applyFailed(ctx, event)
	case paymentdomain.EventTypeRefundIssued:
		return s.applyRefund(ctx, event)
	default:
		return outcome{}, paymentdomain.ErrInvalidEvent
	}
}

func (s *Service) applySucceeded(ctx context.Context, event *paymentdomain.Event) (outcome, error) {
	tenant, err := s.tenants.FindByID(ctx, s.db, event.TenantID)
	if err != nil {
		return outcome{}, err
	}
	if tenant == nil {
		return outcome{}, tenantdomain.ErrTenantNotFound
	}

	booking, err := s.bookings.FindByID(ctx, s.db, event.BookingID)
	if err != nil {
		return outcome{}, err
	}
	if booking == nil {
		return outcome{}, domain.ErrUnknownBooking
	}

	split, err := commission.Compute(booking.SubtotalAmount, tenant.CommissionRateBps)
	if err != nil {
		return outcome{}, err
	}

	confirmed, err := s.bookings.Confirm(ctx, s.db, event.BookingID, event.PaymentRef, bookingdomain.CommissionSnapshot{
		RateBps:    split.RateBps,
		Commission: split.Commission,
		Payout:     split.Payout,
	}, s.clock.Now())
	if err != nil {
		if errors.Is(err, bookingdomain.ErrAlreadyTerminal) {
			return s.terminalConflict(ctx, event)
		}
		return outcome{}, err
	}

	// The split frozen on the row wins over a recomputation; the tenant
	// rate may have changed between redeliveries.
	frozen := ledgerLinesForConfirm(confirmed)
	if err := s.ledger.PostEntry(ctx, event.TenantID, ledgerdomain.SourceTypeBookingConfirmed,
		confirmed.ID, confirmed.Currency, event.OccurredAt, frozen); err != nil {
		return outcome{}, err
	}

	s.outbox.Publish(events.DomainEvent{
		Type:      events.TypeBookingConfirmed,
		BookingID: confirmed.ID,
		TenantID:  confirmed.TenantID,
		Split: &commission.Split{
			Subtotal:   confirmed.SubtotalAmount,
			RateBps:    confirmed.CommissionRateBps,
			Commission: confirmed.CommissionAmount,
			Payout:     confirmed.PayoutAmount,
		},
		OccurredAt: event.OccurredAt,
	})

	s.log.Info("booking confirmed",
		zap.String("booking_id", confirmed.ID.String()),
		zap.String("payment_ref", event.PaymentRef),
		zap.Int64("commission", confirmed.CommissionAmount),
		zap.Int64("payout", confirmed.PayoutAmount),
	)
	return outcome{Result: "processed", BookingStatus: string(confirmed.Status)}, nil
}

func (s *Service) applyFailed(ctx context.Context, event *paymentdomain.Event) (outcome, error) {
	failed, err := s.bookings.Fail(ctx, s.db, event.BookingID, "payment_failed", s.clock.Now())
	if err != nil {
		if errors.Is(err, bookingdomain.ErrAlreadyTerminal) {
			return s.terminalConflict(ctx, event)
		}
		return outcome{}, err
	}

	s.outbox.Publish(events.DomainEvent{
		Type:       events.TypeBookingFailed,
		BookingID:  failed.ID,
		TenantID:   failed.TenantID,
		OccurredAt: event.OccurredAt,
	})

	s.log.Info("booking failed, slot released",
		zap.String("booking_id", failed.ID.String()),
	)
	return outcome{Result: "processed", BookingStatus: string(failed.Status)}, nil
}

func (s *Service) applyRefund(ctx context.Context, event *paymentdomain.Event) (outcome, error) {
	refunded, err := s.bookings.Refund(ctx, s.db, event.BookingID, event.PaymentRef, s.clock.Now())
	if err != nil {
		if errors.Is(err, bookingdomain.ErrAlreadyTerminal) {
			return s.terminalConflict(ctx, event)
		}
		return outcome{}, err
	}

	if err := s.ledger.PostEntry(ctx, event.TenantID, ledgerdomain.SourceTypeBookingRefunded,
		refunded.ID, refunded.Currency, event.OccurredAt, ledgerLinesForRefund(refunded)); err != nil {
		return outcome{}, err
	}

	s.outbox.Publish(events.DomainEvent{
		Type:       events.TypeBookingRefunded,
		BookingID:  refunded.ID,
		TenantID:   refunded.TenantID,
		OccurredAt: event.OccurredAt,
	})

	s.log.Info("booking refunded",
		zap.String("booking_id", refunded.ID.String()),
		zap.String("refund_ref", event.PaymentRef),
	)
	return outcome{Result: "processed", BookingStatus: string(refunded.Status)}, nil
}

// terminalConflict handles an event that arrived after the booking
// already reached a conflicting terminal state. The event is acked so
// the provider stops retrying, but the conflict is recorded.
func (s *Service) terminalConflict(ctx context.Context, event *paymentdomain.Event) (outcome, error) {
	bookingID := event.BookingID.String()
	s.log.Warn("webhook conflicts with terminal booking state",
		zap.String("booking_id", bookingID),
		zap.String("event_type", event.Type),
	)
	_ = s.audit.AuditLog(ctx, &event.TenantID, "webhook.terminal_conflict", "booking", &bookingID, map[string]any{
		"provider_event_id": event.ProviderEventID,
		"event_type":        event.Type,
	})
	return outcome{Result: "terminal_conflict"}, nil
}

func ledgerLinesForConfirm(b *bookingdomain.Booking) []ledgerdomain.PostingLine {
	return []ledgerdomain.PostingLine{
		{Account: ledgerdomain.AccountCodeCash, Direction: ledgerdomain.DirectionDebit, Amount: b.SubtotalAmount},
		{Account: ledgerdomain.AccountCodeCommissionRevenue, Direction: ledgerdomain.DirectionCredit, Amount: b.CommissionAmount},
		{Account: ledgerdomain.AccountCodeVendorPayable, Direction: ledgerdomain.DirectionCredit, Amount: b.PayoutAmount},
	}
}

func ledgerLinesForRefund(b *bookingdomain.Booking) []ledgerdomain.PostingLine {
	return []ledgerdomain.PostingLine{
		{Account: ledgerdomain.AccountCodeCommissionRevenue, Direction: ledgerdomain.DirectionDebit, Amount: b.CommissionAmount},
		{Account: ledgerdomain.AccountCodeVendorPayable, Direction: ledgerdomain.DirectionDebit, Amount: b.PayoutAmount},
		{Account: ledgerdomain.AccountCodeRefundLiab, Direction: ledgerdomain.DirectionCredit, Amount: b.SubtotalAmount},
	}
}
