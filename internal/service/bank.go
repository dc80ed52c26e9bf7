package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jask/splitpay/internal/audit"
	"github.com/jask/splitpay/internal/currency"
	"github.com/jask/splitpay/internal/ledger"
	"github.com/jask/splitpay/internal/split"
)

// ErrInvalidAmount is returned for non-positive deposits and negative minimums.
var ErrInvalidAmount = errors.New("invalid amount")

const interestDescription = "Interest rate income"

// BankService is the operation surface of the bank: split payments, currency
// conversion and the plain account operations.
type BankService struct {
	Directory *ledger.Directory
	Rates     *currency.Graph
	Audit     *audit.Log
	Splits    *split.Coordinator
	Logger    *zap.Logger
}

// NewBankService wires a coordinator over dir and rates. A nil log gets an
// in-memory one; reference falls back to RON when empty.
func NewBankService(dir *ledger.Directory, rates *currency.Graph, log *audit.Log, reference currency.Code, logger *zap.Logger) *BankService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if log == nil {
		log = audit.NewLog(audit.WithLogger(logger))
	}
	coord := split.NewCoordinator(dir, rates, log, logger.Named("split"))
	if reference != "" {
		coord.ReferenceCurrency = reference
	}
	return &BankService{
		Directory: dir,
		Rates:     rates,
		Audit:     log,
		Splits:    coord,
		Logger:    logger,
	}
}

func (s *BankService) ProposeSplit(ctx context.Context, req split.Request) (uint64, error) {
	return s.Splits.Propose(ctx, req)
}

func (s *BankService) RespondToSplit(ctx context.Context, resp split.Response) (split.Result, error) {
	return s.Splits.Respond(ctx, resp)
}

// ConvertCurrency prices amount in another currency using the rate closure.
// Codes are matched exactly, as in ProposeSplit.
func (s *BankService) ConvertCurrency(amount decimal.Decimal, from, to currency.Code) (decimal.Decimal, error) {
	return s.Rates.Convert(amount, from, to)
}

// AddFunds deposits amount (in the account currency) and records it.
func (s *BankService) AddFunds(ctx context.Context, timestamp int64, iban string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("deposit %s: %w", amount, ErrInvalidAmount)
	}
	acct, user, err := s.Directory.Account(iban)
	if err != nil {
		return err
	}
	acct.AddFunds(amount)
	s.Audit.Append(ctx, audit.Record{
		Timestamp:   timestamp,
		Email:       user.Email,
		IBAN:        iban,
		Outcome:     audit.OutcomeFundsAdded,
		Description: "Funds added",
		Amount:      amount,
		Currency:    acct.Currency(),
	})
	s.Logger.Debug("funds added", zap.String("iban", iban), zap.String("amount", amount.String()))
	return nil
}

// SetMinBalance sets the soft floor split commits warn about.
func (s *BankService) SetMinBalance(iban string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("minimum balance %s: %w", amount, ErrInvalidAmount)
	}
	acct, _, err := s.Directory.Account(iban)
	if err != nil {
		return err
	}
	acct.SetMinBalance(amount)
	return nil
}

// AddInterest credits a savings account with one period of interest.
func (s *BankService) AddInterest(ctx context.Context, timestamp int64, iban string) (decimal.Decimal, error) {
	acct, user, err := s.Directory.Account(iban)
	if err != nil {
		return decimal.Zero, err
	}
	income, err := acct.AddInterest()
	if err != nil {
		return decimal.Zero, fmt.Errorf("account %s: %w", iban, err)
	}
	s.Audit.Append(ctx, audit.Record{
		Timestamp:   timestamp,
		Email:       user.Email,
		IBAN:        iban,
		Outcome:     audit.OutcomeInterest,
		Description: interestDescription,
		Amount:      income,
		Currency:    acct.Currency(),
	})
	return income, nil
}

// ChangeInterestRate sets a new rate on a savings account and records it.
func (s *BankService) ChangeInterestRate(ctx context.Context, timestamp int64, iban string, rate decimal.Decimal) error {
	if rate.IsNegative() {
		return fmt.Errorf("interest rate %s: %w", rate, ErrInvalidAmount)
	}
	acct, user, err := s.Directory.Account(iban)
	if err != nil {
		return err
	}
	if err := acct.SetInterestRate(rate); err != nil {
		return fmt.Errorf("account %s: %w", iban, err)
	}
	s.Audit.Append(ctx, audit.Record{
		Timestamp:   timestamp,
		Email:       user.Email,
		IBAN:        iban,
		Outcome:     audit.OutcomeRateChanged,
		Description: "Interest rate of the account changed to " + rate.String(),
	})
	return nil
}

// Balance reports the current balance of iban.
func (s *BankService) Balance(iban string) (decimal.Decimal, currency.Code, error) {
	acct, _, err := s.Directory.Account(iban)
	if err != nil {
		return decimal.Zero, "", err
	}
	return acct.Balance(), acct.Currency(), nil
}
