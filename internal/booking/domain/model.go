package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
	StatusRefunded  Status = "refunded"
)

// HoldsSlot reports whether the booking occupies its (tenant, date) slot.
// The partial unique index on bookings enforces at most one slot-holding
// row per slot.
func (s Status) HoldsSlot() bool {
	return s == StatusPending || s == StatusConfirmed
}

var (
	ErrSlotTaken       = errors.New("slot_taken")
	ErrBookingNotFound = errors.New("booking_not_found")
	ErrAlreadyTerminal = errors.New("booking_already_terminal")
	ErrInvalidDate     = errors.New("invalid_slot_date")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidCurrency = errors.New("invalid_currency")
)

const SlotDateLayout = "2006-01-02"

// ParseSlotDate validates a calendar-day slot date.
func ParseSlotDate(raw string) (string, error) {
	t, err := time.Parse(SlotDateLayout, raw)
	if err != nil {
		return "", ErrInvalidDate
	}
	return t.Format(SlotDateLayout), nil
}

// Booking is one reserved slot. Rows are never deleted; terminal states
// release the slot but stay for audit. The commission columns are the
// split frozen at confirmation time.
type Booking struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID          snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	SlotDate          string       `json:"slot_date" gorm:"type:text;not null"`
	Status            Status       `json:"status" gorm:"type:text;not null"`
	SubtotalAmount    int64        `json:"subtotal_amount" gorm:"not null"`
	Currency          string       `json:"currency" gorm:"type:text;not null"`
	CommissionRateBps int64        `json:"commission_rate_bps"`
	CommissionAmount  int64        `json:"commission_amount"`
	PayoutAmount      int64        `json:"payout_amount"`
	SessionRef        string       `json:"session_ref" gorm:"type:text"`
	PaymentRef        *string      `json:"payment_ref"`
	RefundRef         *string      `json:"refund_ref"`
	FailureReason     *string      `json:"failure_reason"`
	CreatedAt         time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time    `json:"updated_at" gorm:"not null"`
	ConfirmedAt       *time.Time   `json:"confirmed_at"`
}

func (Booking) TableName() string { return "bookings" }

// CommissionSnapshot carries the computed split into Confirm.
type CommissionSnapshot struct {
	RateBps    int64
	Commission int64
	Payout     int64
}

// Repository owns every booking state change. Nothing else writes the
// bookings table.
type Repository interface {
	CreatePending(ctx context.Context, db *gorm.DB, booking *Booking) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)
	FindActiveSlot(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, day string) (*Booking, error)
	SetSessionRef(ctx context.Context, db *gorm.DB, id snowflake.ID, sessionRef string, now time.Time) error
	Confirm(ctx context.Context, db *gorm.DB, id snowflake.ID, paymentRef string, split CommissionSnapshot, now time.Time) (*Booking, error)
	Fail(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (*Booking, error)
	Refund(ctx context.Context, db *gorm.DB, id snowflake.ID, refundRef string, now time.Time) (*Booking, error)
	Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (*Booking, error)
	ExpirePending(ctx context.Context, db *gorm.DB, cutoff, now time.Time, limit int) (int64, error)
}

// CheckoutRequest is the checkout-initiation input.
type CheckoutRequest struct {
	TenantID       snowflake.ID
	SlotDate       string
	SubtotalAmount int64
	Currency       string
	IdempotencyKey string
}

const (
	CheckoutStatusCreated   = "created"
	CheckoutStatusSlotTaken = "slot_taken"
	CheckoutStatusDuplicate = "duplicate"
)

type CheckoutResult struct {
	Status     string       `json:"status"`
	BookingID  snowflake.ID `json:"booking_id,omitempty"`
	SessionRef string       `json:"payment_session,omitempty"`
}

type Service interface {
	Checkout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error)
	Cancel(ctx context.Context, tenantID, bookingID snowflake.ID, reason string) (*Booking, error)
	Get(ctx context.Context, tenantID, bookingID snowflake.ID) (*Booking, error)
}
