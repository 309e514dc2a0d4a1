package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))

	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))

	// Raw driver messages for the supported dialects.
	assert.True(t, IsDuplicateKeyErr(errors.New(
		`ERROR: duplicate key value violates unique constraint "ux_bookings_slot" (SQLSTATE 23505)`)))
	assert.True(t, IsDuplicateKeyErr(errors.New(
		"UNIQUE constraint failed: idempotency_records.tenant_id, idempotency_records.key")))
}
