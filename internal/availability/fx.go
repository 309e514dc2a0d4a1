package availability

import (
	"github.com/smallbiznis/reserva/internal/availability/service"
	"go.uber.org/fx"
)

var Module = fx.Module("availability",
	fx.Provide(service.NewService),
)
