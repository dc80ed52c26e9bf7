package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jask/splitpay/internal/audit"
	"github.com/jask/splitpay/internal/currency"
	"github.com/jask/splitpay/internal/database"
)

// AuditRepo mirrors audit records into sqlite. It satisfies audit.Sink.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

var _ audit.Sink = (*AuditRepo)(nil)

// Write stores a batch in one transaction.
func (r *AuditRepo) Write(ctx context.Context, recs []audit.Record) error {
	if len(recs) == 0 {
		return nil
	}
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_records(id, seq, proposal_id, ts, email, iban, outcome, description,
			split_kind, amount, amounts, currency, involved_accounts, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, rec := range recs {
			amounts, err := json.Marshal(nonNil(rec.Amounts))
			if err != nil {
				return fmt.Errorf("encode amounts: %w", err)
			}
			involved, err := json.Marshal(nonNil(rec.InvolvedAccounts))
			if err != nil {
				return fmt.Errorf("encode involved accounts: %w", err)
			}
			if _, err := stmt.ExecContext(ctx,
				rec.ID.String(), int64(rec.Seq), int64(rec.ProposalID), rec.Timestamp,
				rec.Email, rec.IBAN, string(rec.Outcome), rec.Description,
				rec.SplitKind, rec.Amount.String(), string(amounts), string(rec.Currency),
				string(involved), rec.Error,
			); err != nil {
				return fmt.Errorf("insert audit record %s: %w", rec.ID, err)
			}
		}
		return nil
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

const auditColumns = `id, seq, proposal_id, ts, email, iban, outcome, description,
	split_kind, amount, amounts, currency, involved_accounts, error`

// ListByAccount returns stored records for iban in write order. The audit
// log hands batches to its sink in Seq order, so within one run write order
// is Seq order; rowid keeps runs apart where seq restarts.
func (r *AuditRepo) ListByAccount(ctx context.Context, iban string) ([]audit.Record, error) {
	return r.list(ctx, `SELECT `+auditColumns+` FROM audit_records WHERE iban = ? ORDER BY rowid`, iban)
}

// ListByUser returns stored records addressed to email in write order.
func (r *AuditRepo) ListByUser(ctx context.Context, email string) ([]audit.Record, error) {
	return r.list(ctx, `SELECT `+auditColumns+` FROM audit_records WHERE email = ? ORDER BY rowid`, email)
}

// ListByProposal returns the records one split payment produced.
func (r *AuditRepo) ListByProposal(ctx context.Context, proposalID uint64) ([]audit.Record, error) {
	return r.list(ctx, `SELECT `+auditColumns+` FROM audit_records WHERE proposal_id = ? ORDER BY rowid`, int64(proposalID))
}

// CountByOutcome summarises stored records.
func (r *AuditRepo) CountByOutcome(ctx context.Context) ([]OutcomeCount, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM audit_records GROUP BY outcome ORDER BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OutcomeCount
	for rows.Next() {
		var oc OutcomeCount
		if err := rows.Scan(&oc.Outcome, &oc.Count); err != nil {
			return nil, err
		}
		out = append(out, oc)
	}
	return out, rows.Err()
}

func (r *AuditRepo) list(ctx context.Context, query string, args ...any) ([]audit.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		var (
			rec                    audit.Record
			id, outcome, cur       string
			amount, amounts, invol string
			seq, proposalID        int64
		)
		if err := rows.Scan(&id, &seq, &proposalID, &rec.Timestamp, &rec.Email, &rec.IBAN, &outcome,
			&rec.Description, &rec.SplitKind, &amount, &amounts, &cur, &invol, &rec.Error); err != nil {
			return nil, err
		}
		if err := rec.ID.UnmarshalText([]byte(id)); err != nil {
			return nil, fmt.Errorf("audit record id %q: %w", id, err)
		}
		rec.Seq = uint64(seq)
		rec.ProposalID = uint64(proposalID)
		rec.Outcome = audit.Outcome(outcome)
		rec.Currency = currency.Code(cur)
		if rec.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("audit record %s amount: %w", id, err)
		}
		if err := json.Unmarshal([]byte(amounts), &rec.Amounts); err != nil {
			return nil, fmt.Errorf("audit record %s amounts: %w", id, err)
		}
		if err := json.Unmarshal([]byte(invol), &rec.InvolvedAccounts); err != nil {
			return nil, fmt.Errorf("audit record %s involved accounts: %w", id, err)
		}
		if len(rec.Amounts) == 0 {
			rec.Amounts = nil
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
