package repository

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/splitpay/internal/currency"
)

// ExchangeRate represents an exchange_rates row. Direct marks quotes taken
// from the snapshot as opposed to derived ones.
type ExchangeRate struct {
	From     currency.Code
	To       currency.Code
	Rate     decimal.Decimal
	Direct   bool
	LoadedAt time.Time
}

// OutcomeCount is the number of stored audit records with one outcome.
type OutcomeCount struct {
	Outcome string
	Count   int
}
