package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reserva/internal/audit"
	"github.com/smallbiznis/reserva/internal/availability"
	"github.com/smallbiznis/reserva/internal/booking"
	"github.com/smallbiznis/reserva/internal/clock"
	"github.com/smallbiznis/reserva/internal/config"
	"github.com/smallbiznis/reserva/internal/events"
	"github.com/smallbiznis/reserva/internal/idempotency"
	"github.com/smallbiznis/reserva/internal/ledger"
	"github.com/smallbiznis/reserva/internal/migration"
	"github.com/smallbiznis/reserva/internal/observability"
	"github.com/smallbiznis/reserva/internal/payment"
	"github.com/smallbiznis/reserva/internal/ratelimit"
	"github.com/smallbiznis/reserva/internal/scheduler"
	"github.com/smallbiznis/reserva/internal/server"
	"github.com/smallbiznis/reserva/internal/tenant"
	"github.com/smallbiznis/reserva/internal/webhook"
	"github.com/smallbiznis/reserva/pkg/db"
	"github.com/smallbiznis/reserva/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		fx.Provide(config.NewBookingConfigHolder),
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		observability.Module,
		migration.Module,

		tenant.Module,
		idempotency.Module,
		availability.Module,
		booking.Module,
		payment.Module,
		webhook.Module,
		ledger.Module,
		audit.Module,
		events.Module,
		ratelimit.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
