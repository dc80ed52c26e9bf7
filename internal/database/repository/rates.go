package repository

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"github.com/jask/splitpay/internal/currency"
	"github.com/jask/splitpay/internal/database"
)

// RateRepo records the rate table a run was priced with.
type RateRepo struct {
	db *sql.DB
}

func NewRateRepo(db *sql.DB) *RateRepo {
	return &RateRepo{db: db}
}

// ReplaceAll swaps the stored table for rates.
func (r *RateRepo) ReplaceAll(ctx context.Context, rates []ExchangeRate) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM exchange_rates`); err != nil {
			return err
		}
		for _, er := range rates {
			direct := 0
			if er.Direct {
				direct = 1
			}
			if _, err := tx.ExecContext(ctx, `
			INSERT INTO exchange_rates(from_currency, to_currency, rate, direct, loaded_at)
			VALUES (?, ?, ?, ?, ?)`,
				string(er.From), string(er.To), er.Rate.String(), direct, database.Now(),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *RateRepo) List(ctx context.Context) ([]ExchangeRate, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT from_currency, to_currency, rate, direct, loaded_at
	FROM exchange_rates ORDER BY from_currency, to_currency`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExchangeRate
	for rows.Next() {
		var (
			er       ExchangeRate
			from, to string
			rate     string
			direct   int
		)
		if err := rows.Scan(&from, &to, &rate, &direct, &er.LoadedAt); err != nil {
			return nil, err
		}
		er.From, er.To, er.Direct = currency.Code(from), currency.Code(to), direct == 1
		if er.Rate, err = decimal.NewFromString(rate); err != nil {
			return nil, err
		}
		out = append(out, er)
	}
	return out, rows.Err()
}

// Closure lists every ordered pair g can price, flagging those in direct.
func Closure(g *currency.Graph, direct []currency.Rate) []ExchangeRate {
	quoted := make(map[[2]currency.Code]bool, len(direct))
	for _, r := range direct {
		quoted[[2]currency.Code{currency.Normalize(string(r.From)), currency.Normalize(string(r.To))}] = true
	}
	var out []ExchangeRate
	for _, from := range g.Currencies() {
		for _, to := range g.Currencies() {
			if from == to {
				continue
			}
			rate, err := g.Rate(from, to)
			if err != nil {
				continue
			}
			out = append(out, ExchangeRate{From: from, To: to, Rate: rate, Direct: quoted[[2]currency.Code{from, to}]})
		}
	}
	return out
}
