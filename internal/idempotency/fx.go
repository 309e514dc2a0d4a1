package idempotency

import (
	"github.com/smallbiznis/reserva/internal/idempotency/repository"
	"github.com/smallbiznis/reserva/internal/idempotency/service"
	"go.uber.org/fx"
)

var Module = fx.Module("idempotency",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
