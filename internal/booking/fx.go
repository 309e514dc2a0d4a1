package booking

import (
	"github.com/smallbiznis/reserva/internal/booking/repository"
	"github.com/smallbiznis/reserva/internal/booking/service"
	"go.uber.org/fx"
)

var Module = fx.Module("booking",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
