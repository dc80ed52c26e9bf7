package service

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jask/splitpay/internal/audit"
	"github.com/jask/splitpay/internal/config"
	"github.com/jask/splitpay/internal/currency"
	"github.com/jask/splitpay/internal/ledger"
)

// Quotes converts the snapshot rate entries into direct quotes.
func Quotes(snap config.Snapshot) ([]currency.Rate, error) {
	out := make([]currency.Rate, 0, len(snap.Rates))
	for i, r := range snap.Rates {
		rate, err := decimal.NewFromString(strings.TrimSpace(r.Rate))
		if err != nil {
			return nil, fmt.Errorf("rate %d (%s->%s): %w", i, r.From, r.To, err)
		}
		out = append(out, currency.Rate{From: currency.Normalize(r.From), To: currency.Normalize(r.To), Rate: rate})
	}
	return out, nil
}

// BuildDirectory creates the users and accounts listed in snap.
func BuildDirectory(snap config.Snapshot) (*ledger.Directory, error) {
	dir := ledger.NewDirectory()
	for _, u := range snap.Users {
		user := ledger.NewUser(u.Email, u.FirstName, u.LastName, u.Occupation)
		if u.Plan != "" {
			p, err := ledger.ParsePlan(u.Plan)
			if err != nil {
				return nil, fmt.Errorf("user %s: %w", u.Email, err)
			}
			user.SetPlan(p)
		}
		if err := dir.AddUser(user); err != nil {
			return nil, err
		}
	}

	for _, a := range snap.Accounts {
		variant, err := accountVariant(a)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", a.IBAN, err)
		}
		acct, err := dir.OpenAccount(a.Owner, a.IBAN, currency.Normalize(a.Currency), variant)
		if err != nil {
			return nil, err
		}
		if a.Balance != "" {
			bal, err := decimal.NewFromString(a.Balance)
			if err != nil {
				return nil, fmt.Errorf("account %s balance: %w", a.IBAN, err)
			}
			acct.AddFunds(bal)
		}
		if a.MinBalance != "" {
			floor, err := decimal.NewFromString(a.MinBalance)
			if err != nil {
				return nil, fmt.Errorf("account %s min balance: %w", a.IBAN, err)
			}
			acct.SetMinBalance(floor)
		}
	}
	return dir, nil
}

func accountVariant(a config.AccountEntry) (ledger.Variant, error) {
	switch strings.ToLower(strings.TrimSpace(a.Type)) {
	case "", "classic":
		return ledger.Classic{}, nil
	case "savings":
		rate := decimal.Zero
		if a.InterestRate != "" {
			r, err := decimal.NewFromString(a.InterestRate)
			if err != nil {
				return nil, fmt.Errorf("interest rate: %w", err)
			}
			rate = r
		}
		return ledger.Savings{InterestRate: rate}, nil
	case "business":
		return ledger.Business{Owner: a.Owner, Managers: a.Managers, Employees: a.Employees}, nil
	default:
		return nil, fmt.Errorf("unknown account type %q", a.Type)
	}
}

// FromSnapshot builds a ready BankService from a loaded snapshot.
func FromSnapshot(snap config.Snapshot, log *audit.Log, reference currency.Code, logger *zap.Logger) (*BankService, error) {
	quotes, err := Quotes(snap)
	if err != nil {
		return nil, err
	}
	graph, err := currency.NewGraph(quotes)
	if err != nil {
		return nil, fmt.Errorf("build rate graph: %w", err)
	}
	dir, err := BuildDirectory(snap)
	if err != nil {
		return nil, err
	}
	return NewBankService(dir, graph, log, currency.Normalize(string(reference)), logger), nil
}
