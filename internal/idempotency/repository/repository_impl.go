package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reserva/internal/idempotency/domain"
	pkgdb "github.com/smallbiznis/reserva/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert claims the (tenant_id, key) pair. The unique index arbitrates
// concurrent callers; exactly one insert lands.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.Record) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO idempotency_records (
			id, tenant_id, key, operation, status, result,
			created_at, completed_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, key) DO NOTHING`,
		record.ID,
		record.TenantID,
		record.Key,
		record.Operation,
		record.Status,
		record.Result,
		record.CreatedAt,
		record.CompletedAt,
		record.ExpiresAt,
	)
	if res.Error != nil {
		if pkgdb.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, key string) (*domain.Record, error) {
	var item domain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, key, operation, status, result,
			created_at, completed_at, expires_at
		 FROM idempotency_records
		 WHERE tenant_id = ? AND key = ?
		 LIMIT 1`,
		tenantID,
		key,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// Reclaim takes over an abandoned in-flight record. The created_at guard
// keeps two retries from both winning.
func (r *repo) Reclaim(ctx context.Context, db *gorm.DB, id snowflake.ID, cutoff, now, expiresAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE idempotency_records
		 SET created_at = ?, expires_at = ?
		 WHERE id = ? AND status = ? AND created_at < ?`,
		now,
		expiresAt,
		id,
		domain.StatusInFlight,
		cutoff,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Complete(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, key string, result []byte, completedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE idempotency_records
		 SET status = ?, result = ?, completed_at = ?
		 WHERE tenant_id = ? AND key = ? AND status = ?`,
		domain.StatusComplete,
		result,
		completedAt,
		tenantID,
		key,
		domain.StatusInFlight,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) DeleteExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM idempotency_records
		 WHERE status = ? AND expires_at < ?
		 AND id IN (
			SELECT id FROM idempotency_records
			WHERE status = ? AND expires_at < ?
			LIMIT ?
		 )`,
		domain.StatusComplete,
		now,
		domain.StatusComplete,
		now,
		limit,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) CountAbandoned(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM idempotency_records
		 WHERE status = ? AND created_at < ?`,
		domain.StatusInFlight,
		cutoff,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
