package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reserva/internal/booking/domain"
	pkgdb "github.com/smallbiznis/reserva/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// CreatePending acquires the (tenant, slot_date) slot. The partial unique
// index over slot-holding statuses arbitrates concurrent inserts, so two
// transactions can never both take the slot regardless of isolation level.
func (r *repo) CreatePending(ctx context.Context, db *gorm.DB, booking *domain.Booking) error {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO bookings (
			id, tenant_id, slot_date, status, subtotal_amount, currency,
			commission_rate_bps, commission_amount, payout_amount,
			session_ref, payment_ref, refund_ref, failure_reason,
			created_at, updated_at, confirmed_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, 0, 0, '', NULL, NULL, NULL, ?, ?, NULL)
		ON CONFLICT (tenant_id, slot_date) WHERE status IN ('pending', 'confirmed') DO NOTHING`,
		booking.ID,
		booking.TenantID,
		booking.SlotDate,
		domain.StatusPending,
		booking.SubtotalAmount,
		booking.Currency,
		booking.CreatedAt,
		booking.UpdatedAt,
	)
	if res.Error != nil {
		// Some drivers report the conflict instead of swallowing it.
		if pkgdb.IsDuplicateKeyErr(res.Error) {
			return domain.ErrSlotTaken
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrSlotTaken
	}
	booking.Status = domain.StatusPending
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Booking, error) {
	var item domain.Booking
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM bookings WHERE id = ? LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindActiveSlot(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, day string) (*domain.Booking, error) {
	var item domain.Booking
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM bookings
		 WHERE tenant_id = ? AND slot_date = ? AND status IN (?, ?)
		 LIMIT 1`,
		tenantID,
		day,
		domain.StatusPending,
		domain.StatusConfirmed,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) SetSessionRef(ctx context.Context, db *gorm.DB, id snowflake.ID, sessionRef string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE bookings SET session_ref = ?, updated_at = ? WHERE id = ?`,
		sessionRef,
		now,
		id,
	).Error
}

// Confirm transitions pending → confirmed and freezes the commission
// split. Calling it again with the same payment reference returns the
// confirmed row unchanged; WebhookIngestion may retry past the dedup
// layer and must not error on that.
func (r *repo) Confirm(ctx context.Context, db *gorm.DB, id snowflake.ID, paymentRef string, split domain.CommissionSnapshot, now time.Time) (*domain.Booking, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET status = ?, payment_ref = ?, commission_rate_bps = ?,
			 commission_amount = ?, payout_amount = ?,
			 confirmed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusConfirmed,
		paymentRef,
		split.RateBps,
		split.Commission,
		split.Payout,
		now,
		now,
		id,
		domain.StatusPending,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		return r.FindByID(ctx, db, id)
	}

	existing, err := r.FindByID(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrBookingNotFound
	}
	if existing.Status == domain.StatusConfirmed &&
		existing.PaymentRef != nil && *existing.PaymentRef == paymentRef {
		return existing, nil
	}
	return nil, domain.ErrAlreadyTerminal
}

// Fail transitions pending → failed and releases the slot.
func (r *repo) Fail(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (*domain.Booking, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusFailed,
		reason,
		now,
		id,
		domain.StatusPending,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		return r.FindByID(ctx, db, id)
	}

	existing, err := r.FindByID(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrBookingNotFound
	}
	if existing.Status == domain.StatusFailed {
		return existing, nil
	}
	return nil, domain.ErrAlreadyTerminal
}

// Refund transitions confirmed → refunded. The commission split stays on
// the row for audit.
func (r *repo) Refund(ctx context.Context, db *gorm.DB, id snowflake.ID, refundRef string, now time.Time) (*domain.Booking, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET status = ?, refund_ref = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusRefunded,
		refundRef,
		now,
		id,
		domain.StatusConfirmed,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		return r.FindByID(ctx, db, id)
	}

	existing, err := r.FindByID(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrBookingNotFound
	}
	if existing.Status == domain.StatusRefunded &&
		existing.RefundRef != nil && *existing.RefundRef == refundRef {
		return existing, nil
	}
	return nil, domain.ErrAlreadyTerminal
}

// Cancel transitions confirmed → canceled. Distinct from Refund: no money
// moved.
func (r *repo) Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (*domain.Booking, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusCanceled,
		reason,
		now,
		id,
		domain.StatusConfirmed,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		return r.FindByID(ctx, db, id)
	}

	existing, err := r.FindByID(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrBookingNotFound
	}
	if existing.Status == domain.StatusCanceled {
		return existing, nil
	}
	return nil, domain.ErrAlreadyTerminal
}

// ExpirePending sweeps pending bookings older than the payment session
// TTL into failed, releasing their slots.
func (r *repo) ExpirePending(ctx context.Context, db *gorm.DB, cutoff, now time.Time, limit int) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET status = ?, failure_reason = 'payment_session_expired', updated_at = ?
		 WHERE status = ? AND created_at < ?
		 AND id IN (
			SELECT id FROM bookings
			WHERE status = ? AND created_at < ?
			LIMIT ?
		 )`,
		domain.StatusFailed,
		now,
		domain.StatusPending,
		cutoff,
		domain.StatusPending,
		cutoff,
		limit,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
