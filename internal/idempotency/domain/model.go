package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusInFlight = "in_flight"
	StatusComplete = "complete"

	OperationCheckout = "checkout"
	OperationWebhook  = "webhook"
	OperationRefund   = "refund"
)

var (
	ErrInvalidKey = errors.New("idempotency_key_invalid")

	// ErrInFlight means another caller holds the key and has not
	// completed yet. Retryable after backoff.
	ErrInFlight = errors.New("idempotency_key_in_flight")
)

// Record is one logical operation attempt. The (tenant_id, key) pair is
// unique; whoever inserts it first executes the operation, everyone else
// waits or replays the stored result.
type Record struct {
	ID          snowflake.ID   `json:"id" gorm:"primaryKey"`
	TenantID    snowflake.ID   `json:"tenant_id" gorm:"not null;uniqueIndex:ux_idempotency_tenant_key,priority:1"`
	Key         string         `json:"key" gorm:"type:text;not null;uniqueIndex:ux_idempotency_tenant_key,priority:2"`
	Operation   string         `json:"operation" gorm:"type:text;not null"`
	Status      string         `json:"status" gorm:"type:text;not null"`
	Result      datatypes.JSON `json:"result"`
	CreatedAt   time.Time      `json:"created_at" gorm:"not null"`
	CompletedAt *time.Time     `json:"completed_at"`
	ExpiresAt   time.Time      `json:"expires_at" gorm:"not null"`
}

func (Record) TableName() string { return "idempotency_records" }

// BeginResult reports who owns the key. Fresh means the caller claimed it
// and must run the operation then call Complete. Otherwise Record holds
// the completed attempt whose Result should be replayed.
type BeginResult struct {
	Fresh  bool
	Record *Record
}

type Service interface {
	Begin(ctx context.Context, tenantID snowflake.ID, key, operation string) (BeginResult, error)
	Complete(ctx context.Context, tenantID snowflake.ID, key string, result []byte) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *Record) (bool, error)
	Find(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, key string) (*Record, error)
	Reclaim(ctx context.Context, db *gorm.DB, id snowflake.ID, cutoff, now, expiresAt time.Time) (bool, error)
	Complete(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, key string, result []byte, completedAt time.Time) (bool, error)
	DeleteExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) (int64, error)
	CountAbandoned(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}
