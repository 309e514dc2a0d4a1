package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrSlotUnavailable = errors.New("slot_unavailable")
	ErrDateBlackedOut  = errors.New("slot_date_blacked_out")
)

const (
	ReasonAvailable  = "available"
	ReasonBooked     = "already_booked"
	ReasonBlackout   = "blackout_date"
	ReasonExternally = "external_calendar_busy"
)

// Decision is the advisory availability answer. Available false comes
// with the reason that tripped it. Checkout still races through the
// bookings unique index; this gate only saves doomed payment sessions.
type Decision struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason"`
}

// CalendarHint is an optional external calendar probe. Implementations
// must tolerate cancellation; the gate treats any error as "no opinion".
type CalendarHint interface {
	IsBusy(ctx context.Context, tenantID snowflake.ID, day string) (bool, error)
}

type Service interface {
	Check(ctx context.Context, tenantID snowflake.ID, day string) (Decision, error)
}
