package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reserva/internal/clock"
	"github.com/smallbiznis/reserva/internal/config"
	"github.com/smallbiznis/reserva/internal/idempotency/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   domain.Repository
	Config *config.BookingConfigHolder
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
	cfg   *config.BookingConfigHolder
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("idempotency.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		cfg:   p.Config,
	}
}

// Begin claims the (tenant, key) pair. Exactly one concurrent caller gets
// Fresh=true; the rest see the completed record or ErrInFlight. An
// in-flight record older than the abandon window is re-claimed, since the
// original attempt is presumed crashed.
func (s *Service) Begin(ctx context.Context, tenantID snowflake.ID, key, operation string) (domain.BeginResult, error) {
	key = strings.TrimSpace(key)
	if key == "" || tenantID == 0 {
		return domain.BeginResult{}, domain.ErrInvalidKey
	}
	operation = strings.TrimSpace(operation)
	if operation == "" {
		return domain.BeginResult{}, domain.ErrInvalidKey
	}

	cfg := s.cfg.Get()
	now := s.clock.Now()

	record := domain.Record{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		Key:       key,
		Operation: operation,
		Status:    domain.StatusInFlight,
		CreatedAt: now,
		ExpiresAt: now.Add(cfg.IdempotencyRetention),
	}

	inserted, err := s.repo.Insert(ctx, s.db, &record)
	if err != nil {
		return domain.BeginResult{}, err
	}
	if inserted {
		return domain.BeginResult{Fresh: true, Record: &record}, nil
	}

	stored, err := s.repo.Find(ctx, s.db, tenantID, key)
	if err != nil {
		return domain.BeginResult{}, err
	}
	if stored == nil {
		// Lost the insert race and the winner's row is not visible yet.
		return domain.BeginResult{}, domain.ErrInFlight
	}

	if stored.Status == domain.StatusComplete {
		return domain.BeginResult{Fresh: false, Record: stored}, nil
	}

	cutoff := now.Add(-cfg.InFlightAbandonAfter)
	if stored.CreatedAt.Before(cutoff) {
		reclaimed, err := s.repo.Reclaim(ctx, s.db, stored.ID, cutoff, now, now.Add(cfg.IdempotencyRetention))
		if err != nil {
			return domain.BeginResult{}, err
		}
		if reclaimed {
			s.log.Warn("re-claimed abandoned idempotency record",
				zap.String("tenant_id", tenantID.String()),
				zap.String("operation", stored.Operation),
				zap.Time("original_attempt", stored.CreatedAt),
			)
			stored.CreatedAt = now
			return domain.BeginResult{Fresh: true, Record: stored}, nil
		}
	}

	return domain.BeginResult{}, domain.ErrInFlight
}

func (s *Service) Complete(ctx context.Context, tenantID snowflake.ID, key string, result []byte) error {
	key = strings.TrimSpace(key)
	if key == "" || tenantID == 0 {
		return domain.ErrInvalidKey
	}

	updated, err := s.repo.Complete(ctx, s.db, tenantID, key, result, s.clock.Now())
	if err != nil {
		return err
	}
	if !updated {
		// Completing twice, or completing a reaped record. Nothing to do,
		// but worth seeing in the logs.
		s.log.Warn("idempotency complete found no in-flight record",
			zap.String("tenant_id", tenantID.String()),
		)
	}
	return nil
}
