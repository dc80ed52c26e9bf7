package ledger

import (
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/jask/splitpay/internal/currency"
)

var ErrNotSavings = errors.New("account is not a savings account")

// Variant is the closed set of account kinds: Classic, Savings and Business.
type Variant interface {
	Kind() string
	isVariant()
}

// Classic is a plain current account.
type Classic struct{}

// Savings accrues interest at InterestRate per AddInterest call.
type Savings struct {
	InterestRate decimal.Decimal
}

// Business is shared by an owner with managers and employees (emails).
type Business struct {
	Owner     string
	Managers  []string
	Employees []string
}

func (Classic) Kind() string  { return "classic" }
func (Savings) Kind() string  { return "savings" }
func (Business) Kind() string { return "business" }

func (Classic) isVariant()  {}
func (Savings) isVariant()  {}
func (Business) isVariant() {}

// Account holds a balance in a single currency. Pay and AddFunds never
// reject: callers check sufficiency before mutating.
type Account struct {
	iban     string
	currency currency.Code
	owner    string

	mu         sync.Mutex
	balance    decimal.Decimal
	minBalance decimal.Decimal
	variant    Variant
}

// NewAccount creates an empty account. A nil variant means Classic.
func NewAccount(iban string, cur currency.Code, ownerEmail string, v Variant) *Account {
	if v == nil {
		v = Classic{}
	}
	return &Account{
		iban:     iban,
		currency: cur,
		owner:    ownerEmail,
		variant:  v,
	}
}

func (a *Account) IBAN() string            { return a.iban }
func (a *Account) Currency() currency.Code { return a.currency }
func (a *Account) OwnerEmail() string      { return a.owner }

func (a *Account) Variant() Variant {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.variant
}

func (a *Account) Balance() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

func (a *Account) MinBalance() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.minBalance
}

func (a *Account) SetMinBalance(v decimal.Decimal) {
	a.mu.Lock()
	a.minBalance = v
	a.mu.Unlock()
}

// Pay debits amount unconditionally.
func (a *Account) Pay(amount decimal.Decimal) {
	a.mu.Lock()
	a.balance = a.balance.Sub(amount)
	a.mu.Unlock()
}

// AddFunds credits amount unconditionally.
func (a *Account) AddFunds(amount decimal.Decimal) {
	a.mu.Lock()
	a.balance = a.balance.Add(amount)
	a.mu.Unlock()
}

// SetInterestRate changes the rate of a savings account.
func (a *Account) SetInterestRate(rate decimal.Decimal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.variant.(Savings); !ok {
		return ErrNotSavings
	}
	a.variant = Savings{InterestRate: rate}
	return nil
}

// AddInterest credits balance*rate on a savings account and returns the credit.
func (a *Account) AddInterest() (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.variant.(Savings)
	if !ok {
		return decimal.Zero, ErrNotSavings
	}
	income := a.balance.Mul(s.InterestRate).Round(currency.AmountPrecision)
	a.balance = a.balance.Add(income)
	return income, nil
}

// Batch holds the locks of a set of accounts so a caller can check every
// balance and then debit them as one step.
type Batch struct {
	accounts []*Account
	held     map[*Account]struct{}
}

// Lock acquires every distinct account in IBAN order and returns the batch.
// Release it with Unlock.
func Lock(accounts ...*Account) *Batch {
	held := make(map[*Account]struct{}, len(accounts))
	ordered := make([]*Account, 0, len(accounts))
	for _, a := range accounts {
		if _, dup := held[a]; dup {
			continue
		}
		held[a] = struct{}{}
		ordered = append(ordered, a)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].iban < ordered[j].iban })
	for _, a := range ordered {
		a.mu.Lock()
	}
	return &Batch{accounts: ordered, held: held}
}

func (b *Batch) mustHold(a *Account) {
	if _, ok := b.held[a]; !ok {
		panic("ledger: account " + a.iban + " is not part of the batch")
	}
}

// Balance reads a locked account's balance.
func (b *Batch) Balance(a *Account) decimal.Decimal {
	b.mustHold(a)
	return a.balance
}

// MinBalance reads a locked account's floor.
func (b *Batch) MinBalance(a *Account) decimal.Decimal {
	b.mustHold(a)
	return a.minBalance
}

// Pay debits a locked account.
func (b *Batch) Pay(a *Account, amount decimal.Decimal) {
	b.mustHold(a)
	a.balance = a.balance.Sub(amount)
}

// Unlock releases every account in reverse acquisition order.
func (b *Batch) Unlock() {
	for i := len(b.accounts) - 1; i >= 0; i-- {
		b.accounts[i].mu.Unlock()
	}
}
