package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrTenantNotFound = errors.New("tenant_not_found")
)

// Tenant is a vendor operating on the platform. CommissionRateBps is the
// live rate; confirmed bookings snapshot it and never read it again.
type Tenant struct {
	ID                 snowflake.ID `json:"id" gorm:"primaryKey"`
	Name               string       `json:"name" gorm:"type:text;not null"`
	CommissionRateBps  int64        `json:"commission_rate_bps" gorm:"not null"`
	ConnectedAccountID string       `json:"connected_account_id" gorm:"type:text;not null"`
	CreatedAt          time.Time    `json:"created_at" gorm:"not null"`
}

func (Tenant) TableName() string { return "tenants" }

// BlackoutDate marks a calendar day the tenant does not accept bookings.
type BlackoutDate struct {
	TenantID snowflake.ID `json:"tenant_id" gorm:"not null;uniqueIndex:ux_tenant_blackout,priority:1"`
	Day      string       `json:"day" gorm:"type:text;not null;uniqueIndex:ux_tenant_blackout,priority:2"`
}

func (BlackoutDate) TableName() string { return "tenant_blackout_dates" }

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	IsBlackedOut(ctx context.Context, db *gorm.DB, id snowflake.ID, day string) (bool, error)
}
