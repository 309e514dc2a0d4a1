package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	availabilitydomain "github.com/smallbiznis/reserva/internal/availability/domain"
	bookingdomain "github.com/smallbiznis/reserva/internal/booking/domain"
	"github.com/smallbiznis/reserva/internal/config"
	tenantdomain "github.com/smallbiznis/reserva/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   *config.BookingConfigHolder
	Tenants  tenantdomain.Repository
	Bookings bookingdomain.Repository
	Hint     availabilitydomain.CalendarHint `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	config   *config.BookingConfigHolder
	tenants  tenantdomain.Repository
	bookings bookingdomain.Repository
	hint     availabilitydomain.CalendarHint
}

func NewService(p Params) availabilitydomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("availability.service"),
		config:   p.Config,
		tenants:  p.Tenants,
		bookings: p.Bookings,
		hint:     p.Hint,
	}
}

// Check answers whether a slot looks bookable right now. The answer is
// advisory only; the bookings unique index is the authority and a
// concurrent checkout can still lose the race after a green answer.
func (s *Service) Check(ctx context.Context, tenantID snowflake.ID, day string) (availabilitydomain.Decision, error) {
	day, err := bookingdomain.ParseSlotDate(day)
	if err != nil {
		return availabilitydomain.Decision{}, err
	}

	blackedOut, err := s.tenants.IsBlackedOut(ctx, s.db, tenantID, day)
	if err != nil {
		return availabilitydomain.Decision{}, err
	}
	if blackedOut {
		return availabilitydomain.Decision{Available: false, Reason: availabilitydomain.ReasonBlackout}, nil
	}

	active, err := s.bookings.FindActiveSlot(ctx, s.db, tenantID, day)
	if err != nil {
		return availabilitydomain.Decision{}, err
	}
	if active != nil {
		return availabilitydomain.Decision{Available: false, Reason: availabilitydomain.ReasonBooked}, nil
	}

	if busy := s.calendarBusy(ctx, tenantID, day); busy {
		return availabilitydomain.Decision{Available: false, Reason: availabilitydomain.ReasonExternally}, nil
	}

	return availabilitydomain.Decision{Available: true, Reason: availabilitydomain.ReasonAvailable}, nil
}

// calendarBusy consults the external calendar hint. Timeouts and errors
// report not busy; a flaky calendar must never block bookings.
func (s *Service) calendarBusy(ctx context.Context, tenantID snowflake.ID, day string) bool {
	if s.hint == nil {
		return false
	}

	hintCtx, cancel := context.WithTimeout(ctx, s.config.Get().CalendarHintTimeout)
	defer cancel()

	busy, err := s.hint.IsBusy(hintCtx, tenantID, day)
	if err != nil {
		s.log.Warn("calendar hint unavailable, assuming free",
			zap.String("tenant_id", tenantID.String()),
			zap.String("slot_date", day),
			zap.Error(err),
		)
		return false
	}
	return busy
}
