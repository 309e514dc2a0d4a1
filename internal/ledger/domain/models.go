package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Direction represents debit or credit postings.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

type SourceType string

const (
	SourceTypeBookingConfirmed SourceType = "booking_confirmed"
	SourceTypeBookingRefunded  SourceType = "booking_refunded"
)

type AccountCode string

const (
	AccountCodeCash              AccountCode = "cash"
	AccountCodeCommissionRevenue AccountCode = "commission_revenue"
	AccountCodeVendorPayable     AccountCode = "vendor_payable"
	AccountCodeRefundLiab        AccountCode = "refund_liability"
)

var (
	ErrInvalidTenant     = errors.New("ledger_invalid_tenant")
	ErrInvalidSourceType = errors.New("ledger_invalid_source_type")
	ErrInvalidSourceID   = errors.New("ledger_invalid_source_id")
	ErrInvalidCurrency   = errors.New("ledger_invalid_currency")
	ErrInvalidOccurredAt = errors.New("ledger_invalid_occurred_at")
	ErrInvalidAccount    = errors.New("ledger_invalid_account")
	ErrInvalidDirection  = errors.New("ledger_invalid_direction")
	ErrInvalidLineAmount = errors.New("ledger_invalid_line_amount")
	ErrInvalidEntryLines = errors.New("ledger_invalid_entry_lines")
	ErrUnbalancedEntry   = errors.New("ledger_unbalanced_entry")
)

// Account defines a chart-of-accounts entry.
type Account struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	TenantID  snowflake.ID `gorm:"not null;uniqueIndex:ux_ledger_accounts_tenant_code,priority:1"`
	Code      AccountCode  `gorm:"type:text;not null;uniqueIndex:ux_ledger_accounts_tenant_code,priority:2"`
	Name      string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null"`
}

func (Account) TableName() string { return "ledger_accounts" }

// Entry captures the immutable header for a financial event.
type Entry struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	TenantID   snowflake.ID `gorm:"not null;index"`
	SourceType SourceType   `gorm:"type:text;not null;index"`
	SourceID   snowflake.ID `gorm:"not null;index"`
	Currency   string       `gorm:"type:text;not null"`
	OccurredAt time.Time    `gorm:"not null"`
	CreatedAt  time.Time    `gorm:"not null"`
}

func (Entry) TableName() string { return "ledger_entries" }

// EntryLine is a double-entry posting line.
type EntryLine struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	LedgerEntryID snowflake.ID `gorm:"not null;index"`
	AccountID     snowflake.ID `gorm:"not null;index"`
	Direction     Direction    `gorm:"type:text;not null"`
	Amount        int64        `gorm:"not null"`
	CreatedAt     time.Time    `gorm:"not null"`
}

func (EntryLine) TableName() string { return "ledger_entry_lines" }

// PostingLine is a line by account code, resolved to an account id at
// posting time.
type PostingLine struct {
	Account   AccountCode
	Direction Direction
	Amount    int64
}

// ValidateBalanced checks debits equal credits.
func ValidateBalanced(lines []PostingLine) error {
	if len(lines) < 2 {
		return ErrInvalidEntryLines
	}
	var debits, credits int64
	for _, line := range lines {
		switch line.Direction {
		case DirectionDebit:
			debits += line.Amount
		case DirectionCredit:
			credits += line.Amount
		default:
			return ErrInvalidDirection
		}
	}
	if debits != credits {
		return ErrUnbalancedEntry
	}
	return nil
}

type Service interface {
	PostEntry(ctx context.Context, tenantID snowflake.ID, sourceType SourceType, sourceID snowflake.ID, currency string, occurredAt time.Time, lines []PostingLine) error
}
