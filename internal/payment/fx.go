package payment

import (
	"time"

	"github.com/smallbiznis/reserva/internal/config"
	"github.com/smallbiznis/reserva/internal/payment/adapters"
	"github.com/smallbiznis/reserva/internal/payment/adapters/stripe"
	"github.com/smallbiznis/reserva/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment",
	fx.Provide(NewRegistry),
)

// NewRegistry builds the adapter registry from app config. Providers
// without a webhook secret are left unregistered.
func NewRegistry(cfg config.Config, log *zap.Logger) *adapters.Registry {
	registry := adapters.NewRegistry()

	factories := []domain.Factory{
		stripe.NewFactory(),
	}
	for _, factory := range factories {
		provider := factory.Provider()
		if cfg.PaymentWebhookSecret == "" {
			log.Warn("payment provider not configured", zap.String("provider", provider))
			continue
		}

		adapter, err := factory.NewAdapter(domain.AdapterConfig{
			Provider:           provider,
			WebhookSecret:      cfg.PaymentWebhookSecret,
			SecretKey:          cfg.PaymentSecretKey,
			APIBase:            cfg.PaymentAPIBase,
			SignatureTolerance: time.Duration(cfg.PaymentSignatureToleranceSec) * time.Second,
		})
		if err != nil {
			log.Warn("payment adapter init failed", zap.String("provider", provider), zap.Error(err))
			continue
		}
		registry.Register(provider, adapter)
	}

	return registry
}
