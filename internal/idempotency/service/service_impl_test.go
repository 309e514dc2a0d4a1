package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reserva/internal/clock"
	"github.com/smallbiznis/reserva/internal/config"
	"github.com/smallbiznis/reserva/internal/idempotency/domain"
	"github.com/smallbiznis/reserva/internal/idempotency/repository"
	"github.com/smallbiznis/reserva/internal/idempotency/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Exec(`CREATE TABLE idempotency_records (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		key TEXT NOT NULL,
		operation TEXT NOT NULL,
		status TEXT NOT NULL,
		result TEXT,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		expires_at TIMESTAMP NOT NULL
	)`).Error)
	require.NoError(t, db.Exec(
		`CREATE UNIQUE INDEX ux_idempotency_tenant_key ON idempotency_records(tenant_id, key)`,
	).Error)

	return db
}

func newService(t *testing.T, db *gorm.DB, clk clock.Clock) domain.Service {
	t.Helper()

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	holder, err := config.NewBookingConfigHolder()
	require.NoError(t, err)

	return service.NewService(service.Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clk,
		Repo:   repository.Provide(),
		Config: holder,
	})
}

func TestBeginFreshThenReplay(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db, clock.NewFakeClock(time.Now()))
	tenantID := snowflake.ID(1001)

	begin, err := svc.Begin(ctx, tenantID, "key-1", domain.OperationCheckout)
	require.NoError(t, err)
	assert.True(t, begin.Fresh)

	require.NoError(t, svc.Complete(ctx, tenantID, "key-1", []byte(`{"status":"created"}`)))

	replay, err := svc.Begin(ctx, tenantID, "key-1", domain.OperationCheckout)
	require.NoError(t, err)
	assert.False(t, replay.Fresh)
	require.NotNil(t, replay.Record)
	assert.Equal(t, domain.StatusComplete, replay.Record.Status)
	assert.JSONEq(t, `{"status":"created"}`, string(replay.Record.Result))
}

func TestBeginWhileInFlight(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db, clock.NewFakeClock(time.Now()))
	tenantID := snowflake.ID(1002)

	begin, err := svc.Begin(ctx, tenantID, "key-1", domain.OperationCheckout)
	require.NoError(t, err)
	require.True(t, begin.Fresh)

	_, err = svc.Begin(ctx, tenantID, "key-1", domain.OperationCheckout)
	assert.ErrorIs(t, err, domain.ErrInFlight)
}

func TestBeginReclaimsAbandonedRecord(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Now())
	svc := newService(t, db, clk)
	tenantID := snowflake.ID(1003)

	begin, err := svc.Begin(ctx, tenantID, "key-1", domain.OperationCheckout)
	require.NoError(t, err)
	require.True(t, begin.Fresh)

	// Past the abandon window the original attempt is presumed crashed.
	clk.Advance(16 * time.Minute)

	retry, err := svc.Begin(ctx, tenantID, "key-1", domain.OperationCheckout)
	require.NoError(t, err)
	assert.True(t, retry.Fresh)

	require.NoError(t, svc.Complete(ctx, tenantID, "key-1", []byte(`{"status":"created"}`)))

	replay, err := svc.Begin(ctx, tenantID, "key-1", domain.OperationCheckout)
	require.NoError(t, err)
	assert.False(t, replay.Fresh)
}

func TestBeginKeysAreTenantScoped(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db, clock.NewFakeClock(time.Now()))

	first, err := svc.Begin(ctx, snowflake.ID(1), "shared-key", domain.OperationCheckout)
	require.NoError(t, err)
	assert.True(t, first.Fresh)

	// Same key for a different tenant claims its own record.
	second, err := svc.Begin(ctx, snowflake.ID(2), "shared-key", domain.OperationCheckout)
	require.NoError(t, err)
	assert.True(t, second.Fresh)
}

func TestBeginRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db, clock.NewFakeClock(time.Now()))

	_, err := svc.Begin(ctx, 0, "key", domain.OperationCheckout)
	assert.ErrorIs(t, err, domain.ErrInvalidKey)

	_, err = svc.Begin(ctx, snowflake.ID(1), "   ", domain.OperationCheckout)
	assert.ErrorIs(t, err, domain.ErrInvalidKey)

	_, err = svc.Begin(ctx, snowflake.ID(1), "key", "")
	assert.ErrorIs(t, err, domain.ErrInvalidKey)
}

func TestConcurrentBeginSingleFresh(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db, clock.NewFakeClock(time.Now()))
	tenantID := snowflake.ID(1004)

	const attempts = 12
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	fresh := make(chan bool, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			begin, err := svc.Begin(ctx, tenantID, "key-race", domain.OperationCheckout)
			results <- err
			if err == nil {
				fresh <- begin.Fresh
			}
		}()
	}
	wg.Wait()
	close(results)
	close(fresh)

	var winners int
	for err := range results {
		if err != nil {
			require.ErrorIs(t, err, domain.ErrInFlight)
		}
	}
	for isFresh := range fresh {
		if isFresh {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestCompleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db, clock.NewFakeClock(time.Now()))
	tenantID := snowflake.ID(1005)

	_, err := svc.Begin(ctx, tenantID, "key-1", domain.OperationWebhook)
	require.NoError(t, err)

	require.NoError(t, svc.Complete(ctx, tenantID, "key-1", []byte(`{"result":"processed"}`)))
	// Completing twice is a no-op, not an error.
	require.NoError(t, svc.Complete(ctx, tenantID, "key-1", []byte(`{"result":"other"}`)))

	replay, err := svc.Begin(ctx, tenantID, "key-1", domain.OperationWebhook)
	require.NoError(t, err)
	assert.False(t, replay.Fresh)
	assert.JSONEq(t, `{"result":"processed"}`, string(replay.Record.Result))

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(1) FROM idempotency_records`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestBeginDistinguishesErrors(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db, clock.NewFakeClock(time.Now()))

	begin, err := svc.Begin(ctx, snowflake.ID(1), "key", domain.OperationCheckout)
	require.NoError(t, err)
	require.True(t, begin.Fresh)

	_, err = svc.Begin(ctx, snowflake.ID(1), "key", domain.OperationCheckout)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInFlight))
}
