package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	bookingdomain "github.com/smallbiznis/reserva/internal/booking/domain"
	"github.com/smallbiznis/reserva/internal/clock"
	"github.com/smallbiznis/reserva/internal/config"
	idempotencydomain "github.com/smallbiznis/reserva/internal/idempotency/domain"
	"github.com/smallbiznis/reserva/internal/observability"
	"github.com/smallbiznis/reserva/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Config      *config.BookingConfigHolder
	Bookings    bookingdomain.Repository
	Idempotency idempotencydomain.Repository
	Metrics     *observability.Metrics
	Locker      *ratelimit.Locker `optional:"true"`
}

// Scheduler drives the periodic maintenance jobs: failing pending
// bookings whose payment session expired, and reaping idempotency
// records past their retention window.
type Scheduler struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	cfg         *config.BookingConfigHolder
	bookings    bookingdomain.Repository
	idempotency idempotencydomain.Repository
	metrics     *observability.Metrics
	locker      *ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Config == nil || p.Bookings == nil || p.Idempotency == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("scheduler"),
		clock:       p.Clock,
		cfg:         p.Config,
		bookings:    p.Bookings,
		idempotency: p.Idempotency,
		metrics:     p.Metrics,
		locker:      p.Locker,
	}, nil
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	err = errors.Join(err, s.runJob(parent, "expire_pending_bookings", 30*time.Second, s.ExpirePendingBookingsJob))
	err = errors.Join(err, s.runJob(parent, "reap_idempotency", 30*time.Second, s.ReapIdempotencyJob))
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Get().SweepInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runJob wraps one job with a timeout, panic recovery and a best-effort
// distributed lock. With no locker every replica runs the job; the jobs
// themselves are idempotent so that only wastes work.
func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	if s.locker != nil {
		lockKey := "reserva:job:" + name
		token, ok, lockErr := s.locker.TryLock(ctx, lockKey, timeout)
		if lockErr != nil {
			s.log.Warn("job lock unavailable, running unlocked", zap.String("job", name), zap.Error(lockErr))
		} else if !ok {
			return nil
		} else {
			defer func() {
				if releaseErr := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); releaseErr != nil {
					s.log.Warn("job lock release failed", zap.String("job", name), zap.Error(releaseErr))
				}
			}()
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", name, r)
			s.log.Error("job panicked", zap.String("job", name), zap.Any("panic", r))
			s.metrics.SchedulerRuns.WithLabelValues(name, "panic").Inc()
		}
	}()

	err = fn(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			s.log.Warn("job timed out", zap.String("job", name), zap.Duration("timeout", timeout))
			s.metrics.SchedulerRuns.WithLabelValues(name, "timeout").Inc()
			return nil
		}
		s.metrics.SchedulerRuns.WithLabelValues(name, "error").Inc()
		return fmt.Errorf("%s: %w", name, err)
	}

	s.metrics.SchedulerRuns.WithLabelValues(name, "ok").Inc()
	return nil
}

// ExpirePendingBookingsJob fails pending bookings older than the payment
// session TTL, releasing their slots.
func (s *Scheduler) ExpirePendingBookingsJob(ctx context.Context) error {
	cfg := s.cfg.Get()
	now := s.clock.Now()
	cutoff := now.Add(-cfg.PendingSessionTTL)

	var total int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		expired, err := s.bookings.ExpirePending(ctx, s.db, cutoff, now, cfg.SweepBatch)
		if err != nil {
			return err
		}
		total += expired
		if expired < int64(cfg.SweepBatch) {
			break
		}
	}

	if total > 0 {
		s.metrics.BookingsExpired.Add(float64(total))
		s.log.Info("expired pending bookings", zap.Int64("count", total))
	}
	return nil
}

// ReapIdempotencyJob deletes idempotency records past retention and
// reports lingering in-flight records, which usually mean a crashed
// operation nobody retried.
func (s *Scheduler) ReapIdempotencyJob(ctx context.Context) error {
	cfg := s.cfg.Get()
	now := s.clock.Now()

	var total int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		deleted, err := s.idempotency.DeleteExpired(ctx, s.db, now, cfg.SweepBatch)
		if err != nil {
			return err
		}
		total += deleted
		if deleted < int64(cfg.SweepBatch) {
			break
		}
	}
	if total > 0 {
		s.log.Info("reaped idempotency records", zap.Int64("count", total))
	}

	abandoned, err := s.idempotency.CountAbandoned(ctx, s.db, now.Add(-cfg.InFlightAbandonAfter))
	if err != nil {
		return err
	}
	if abandoned > 0 {
		s.log.Warn("abandoned in-flight idempotency records", zap.Int64("count", abandoned))
	}
	return nil
}
