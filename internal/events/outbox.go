package events

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reserva/internal/commission"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Type string

const (
	TypeBookingConfirmed Type = "booking.confirmed"
	TypeBookingFailed    Type = "booking.failed"
	TypeBookingRefunded  Type = "booking.refunded"
	TypeBookingCanceled  Type = "booking.canceled"
)

// DomainEvent is the outbound notification consumed by external
// collaborators (email, calendar, audit feeds). Delivery is best-effort;
// the booking transition it describes is already committed.
type DomainEvent struct {
	Type       Type              `json:"type"`
	BookingID  snowflake.ID      `json:"booking_id"`
	TenantID   snowflake.ID      `json:"tenant_id"`
	Split      *commission.Split `json:"commission_split,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

type Handler interface {
	Handle(ctx context.Context, event DomainEvent)
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Handlers []Handler `group:"domain_event_handlers"`
}

// Outbox fans domain events out to handlers on a single background
// goroutine. Publish never blocks the transactional path; when the
// buffer is full the event is dropped and logged.
type Outbox struct {
	log      *zap.Logger
	ch       chan DomainEvent
	done     chan struct{}
	handlers []Handler
}

var Module = fx.Module("events",
	fx.Provide(NewOutbox),
	fx.Invoke(Run),
)

func NewOutbox(p Params) *Outbox {
	return &Outbox{
		log:      p.Log.Named("events.outbox"),
		ch:       make(chan DomainEvent, 256),
		done:     make(chan struct{}),
		handlers: p.Handlers,
	}
}

func Run(lc fx.Lifecycle, o *Outbox) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go o.dispatch()
			return nil
		},
		OnStop: func(context.Context) error {
			close(o.done)
			return nil
		},
	})
}

func (o *Outbox) Publish(event DomainEvent) {
	select {
	case o.ch <- event:
	default:
		o.log.Warn("domain event dropped, outbox full",
			zap.String("type", string(event.Type)),
			zap.String("booking_id", event.BookingID.String()),
		)
	}
}

func (o *Outbox) dispatch() {
	for {
		select {
		case event := <-o.ch:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			for _, h := range o.handlers {
				h.Handle(ctx, event)
			}
			cancel()
		case <-o.done:
			return
		}
	}
}
