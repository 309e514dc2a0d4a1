package ledger

import (
	"github.com/smallbiznis/reserva/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger",
	fx.Provide(service.NewService),
)
