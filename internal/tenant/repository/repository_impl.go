package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reserva/internal/tenant/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Tenant, error) {
	var item domain.Tenant
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, commission_rate_bps, connected_account_id, created_at
		 FROM tenants
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) IsBlackedOut(ctx context.Context, db *gorm.DB, id snowflake.ID, day string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM tenant_blackout_dates
		 WHERE tenant_id = ? AND day = ?`,
		id,
		day,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
