package domain

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrAccountMismatch means the event settled against a connected
	// account that does not belong to the tenant in its metadata. Treated
	// as hostile; the event is rejected and audited.
	ErrAccountMismatch = errors.New("webhook_account_mismatch")

	// ErrTenantMismatch means the metadata tenant does not own the
	// referenced booking.
	ErrTenantMismatch = errors.New("webhook_tenant_mismatch")

	ErrUnknownBooking = errors.New("webhook_unknown_booking")
)

// Service ingests raw provider webhook requests. A nil return means the
// event is settled from the provider's point of view and must be acked;
// retryable conditions surface as errors so the provider redelivers.
type Service interface {
	Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) error
}
