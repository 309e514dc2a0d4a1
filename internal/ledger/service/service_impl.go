package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reserva/internal/clock"
	ledgerdomain "github.com/smallbiznis/reserva/internal/ledger/domain"
	pkgdb "github.com/smallbiznis/reserva/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

// PostEntry writes one balanced double-entry posting. The unique index on
// (tenant_id, source_type, source_id) makes reposting the same source a
// no-op, so a retried webhook cannot double-post.
func (s *Service) PostEntry(
	ctx context.Context,
	tenantID snowflake.ID,
	sourceType ledgerdomain.SourceType,
	sourceID snowflake.ID,
	currency string,
	occurredAt time.Time,
	lines []ledgerdomain.PostingLine,
) error {
	if tenantID == 0 {
		return ledgerdomain.ErrInvalidTenant
	}
	if sourceType == "" {
		return ledgerdomain.ErrInvalidSourceType
	}
	if sourceID == 0 {
		return ledgerdomain.ErrInvalidSourceID
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return ledgerdomain.ErrInvalidCurrency
	}
	if occurredAt.IsZero() {
		return ledgerdomain.ErrInvalidOccurredAt
	}
	for _, line := range lines {
		if line.Account == "" {
			return ledgerdomain.ErrInvalidAccount
		}
		if line.Amount < 0 {
			return ledgerdomain.ErrInvalidLineAmount
		}
	}
	if err := ledgerdomain.ValidateBalanced(lines); err != nil {
		return err
	}

	now := s.clock.Now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entryID := s.genID.Generate()
		result := tx.WithContext(ctx).Exec(
			`INSERT INTO ledger_entries (
				id, tenant_id, source_type, source_id, currency, occurred_at, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, source_type, source_id) DO NOTHING`,
			entryID,
			tenantID,
			sourceType,
			sourceID,
			currency,
			occurredAt,
			now,
		)
		if result.Error != nil {
			if pkgdb.IsDuplicateKeyErr(result.Error) {
				return nil
			}
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Already posted for this source.
			return nil
		}

		for _, line := range lines {
			accountID, err := s.ensureAccount(ctx, tx, tenantID, line.Account, now)
			if err != nil {
				return err
			}
			if err := tx.WithContext(ctx).Exec(
				`INSERT INTO ledger_entry_lines (
					id, ledger_entry_id, account_id, direction, amount, created_at
				) VALUES (?, ?, ?, ?, ?, ?)`,
				s.genID.Generate(),
				entryID,
				accountID,
				line.Direction,
				line.Amount,
				now,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) ensureAccount(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, code ledgerdomain.AccountCode, now time.Time) (snowflake.ID, error) {
	var accountID snowflake.ID
	if err := tx.WithContext(ctx).Raw(
		`SELECT id FROM ledger_accounts WHERE tenant_id = ? AND code = ?`,
		tenantID,
		code,
	).Scan(&accountID).Error; err != nil {
		return 0, err
	}
	if accountID != 0 {
		return accountID, nil
	}

	newID := s.genID.Generate()
	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_accounts (id, tenant_id, code, name, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, code) DO NOTHING`,
		newID,
		tenantID,
		code,
		string(code),
		now,
	).Error; err != nil {
		return 0, err
	}

	if err := tx.WithContext(ctx).Raw(
		`SELECT id FROM ledger_accounts WHERE tenant_id = ? AND code = ?`,
		tenantID,
		code,
	).Scan(&accountID).Error; err != nil {
		return 0, err
	}
	if accountID == 0 {
		return 0, errors.New("ledger_account_not_found")
	}
	return accountID, nil
}
