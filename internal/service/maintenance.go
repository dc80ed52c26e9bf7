package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jask/splitpay/internal/database"
)

// MaintenanceService houses destructive ops actions on the audit database.
type MaintenanceService struct {
	DB *sql.DB
}

// Reset wipes the mirrored audit trail and rate table, keeping the schema.
func (s *MaintenanceService) Reset(ctx context.Context) error {
	if s.DB == nil {
		return fmt.Errorf("maintenance: db not configured")
	}
	if err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		for _, t := range []string{"audit_records", "exchange_rates"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("reset table %s: %w", t, err)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	_, _ = s.DB.ExecContext(ctx, "VACUUM")
	return nil
}
