package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
	EventTypeRefundIssued     = "refund_issued"
)

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidConfig    = errors.New("invalid_provider_config")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrInvalidMetadata  = errors.New("invalid_event_metadata")
	ErrSessionFailed    = errors.New("payment_session_failed")
)

// Event is the canonical payment event parsed by adapters. TenantID and
// BookingID come from the metadata set at checkout time; AccountID is the
// connected account the platform says the event settled against.
type Event struct {
	Provider        string
	ProviderEventID string
	Type            string
	TenantID        snowflake.ID
	BookingID       snowflake.ID
	AccountID       string
	PaymentRef      string
	Amount          int64
	Currency        string
	OccurredAt      time.Time
	RawPayload      []byte
}

// SessionRequest asks the payment platform for a checkout session. The
// metadata round-trips back on webhook events.
type SessionRequest struct {
	TenantID  snowflake.ID
	BookingID snowflake.ID
	AccountID string
	Amount    int64
	Currency  string
	SlotDate  string
}

type Session struct {
	ID  string
	URL string
}

// Adapter is one payment platform integration. Verify must run against
// the raw request body; a re-serialized copy does not reproduce the
// signed bytes.
type Adapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Event, error)
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// AdapterConfig carries platform credentials from app config.
// SignatureTolerance bounds how old a signed webhook timestamp may be;
// adapters fall back to their own default when it is zero.
type AdapterConfig struct {
	Provider           string
	WebhookSecret      string
	SecretKey          string
	APIBase            string
	SignatureTolerance time.Duration
}

type Factory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}
