package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BookingConfig holds operational tunables for the booking core. It is
// hot-reloadable so the sweep cadence and payment-session expiry can be
// adjusted without a restart.
type BookingConfig struct {
	// PendingSessionTTL is how long a PENDING booking may wait for a
	// payment outcome before the sweep fails it and releases the slot.
	PendingSessionTTL time.Duration `mapstructure:"pending_session_ttl"`

	// IdempotencyRetention covers the payment platform's maximum
	// redelivery window. Completed records older than this are reaped.
	IdempotencyRetention time.Duration `mapstructure:"idempotency_retention"`

	// InFlightAbandonAfter is how long an IN_FLIGHT idempotency record
	// may sit before a retry is allowed to re-claim it.
	InFlightAbandonAfter time.Duration `mapstructure:"in_flight_abandon_after"`

	// CalendarHintTimeout bounds the advisory external calendar check.
	CalendarHintTimeout time.Duration `mapstructure:"calendar_hint_timeout"`

	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	SweepBatch    int           `mapstructure:"sweep_batch"`
}

func DefaultBookingConfig() BookingConfig {
	return BookingConfig{
		PendingSessionTTL:    30 * time.Minute,
		IdempotencyRetention: 72 * time.Hour,
		InFlightAbandonAfter: 15 * time.Minute,
		CalendarHintTimeout:  2 * time.Second,
		SweepInterval:        time.Minute,
		SweepBatch:           200,
	}
}

type BookingConfigHolder struct {
	current atomic.Value // holds BookingConfig
}

func NewBookingConfigHolder() (*BookingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("booking")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/reserva/config")
	v.AddConfigPath("/etc/reserva")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RESERVA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &BookingConfigHolder{}

	load := func() error {
		cfg := DefaultBookingConfig()
		if err := v.Unmarshal(&cfg); err != nil {
			return err
		}
		if err := cfg.validate(); err != nil {
			return err
		}
		holder.current.Store(cfg)
		return nil
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	if err := load(); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(in fsnotify.Event) {
		if err := load(); err != nil {
			log.Printf("booking config reload rejected: %v", err)
		}
	})
	v.WatchConfig()

	return holder, nil
}

func (h *BookingConfigHolder) Get() BookingConfig {
	if v, ok := h.current.Load().(BookingConfig); ok {
		return v
	}
	return DefaultBookingConfig()
}

func (c BookingConfig) validate() error {
	if c.PendingSessionTTL <= 0 {
		return errors.New("pending_session_ttl must be positive")
	}
	if c.IdempotencyRetention < c.InFlightAbandonAfter {
		return errors.New("idempotency_retention must cover in_flight_abandon_after")
	}
	if c.SweepInterval <= 0 || c.SweepBatch <= 0 {
		return errors.New("sweep settings must be positive")
	}
	return nil
}
