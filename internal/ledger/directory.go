package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"

	"github.com/jask/splitpay/internal/currency"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrAccountNotFound = errors.New("account not found")
	ErrDuplicateUser   = errors.New("user already exists")
	ErrDuplicateIBAN   = errors.New("iban already exists")
)

// User owns accounts. Email is the user's identity.
type User struct {
	Email      string
	FirstName  string
	LastName   string
	Occupation string

	mu   sync.RWMutex
	plan Plan
}

// NewUser creates a user on the default plan for their occupation.
func NewUser(email, firstName, lastName, occupation string) *User {
	return &User{
		Email:      email,
		FirstName:  firstName,
		LastName:   lastName,
		Occupation: occupation,
		plan:       DefaultPlan(occupation),
	}
}

func (u *User) Plan() Plan {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.plan
}

func (u *User) SetPlan(p Plan) {
	u.mu.Lock()
	u.plan = p
	u.mu.Unlock()
}

// Directory resolves IBANs and emails to accounts and users.
type Directory struct {
	mu       sync.RWMutex
	users    map[string]*User
	accounts map[string]*Account
	owned    map[string][]string
}

func NewDirectory() *Directory {
	return &Directory{
		users:    make(map[string]*User),
		accounts: make(map[string]*Account),
		owned:    make(map[string][]string),
	}
}

func (d *Directory) AddUser(u *User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[u.Email]; ok {
		return fmt.Errorf("%s: %w", u.Email, ErrDuplicateUser)
	}
	d.users[u.Email] = u
	return nil
}

// OpenAccount registers a new account owned by an existing user.
func (d *Directory) OpenAccount(ownerEmail, iban string, cur currency.Code, v Variant) (*Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[ownerEmail]; !ok {
		return nil, d.userMiss(ownerEmail)
	}
	if _, ok := d.accounts[iban]; ok {
		return nil, fmt.Errorf("%s: %w", iban, ErrDuplicateIBAN)
	}
	acct := NewAccount(iban, cur, ownerEmail, v)
	d.accounts[iban] = acct
	d.owned[ownerEmail] = append(d.owned[ownerEmail], iban)
	return acct, nil
}

// User looks up a user by email.
func (d *Directory) User(email string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[email]
	if !ok {
		return nil, d.userMiss(email)
	}
	return u, nil
}

// Account resolves an IBAN to the account and its owning user.
func (d *Directory) Account(iban string) (*Account, *User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	acct, ok := d.accounts[iban]
	if !ok {
		return nil, nil, d.accountMiss(iban)
	}
	u, ok := d.users[acct.OwnerEmail()]
	if !ok {
		return nil, nil, d.userMiss(acct.OwnerEmail())
	}
	return acct, u, nil
}

// Accounts lists the IBANs a user owns in opening order.
func (d *Directory) Accounts(email string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.owned[email]))
	copy(out, d.owned[email])
	return out
}

func (d *Directory) userMiss(email string) error {
	keys := make([]string, 0, len(d.users))
	for k := range d.users {
		keys = append(keys, k)
	}
	return missError(ErrUserNotFound, email, keys)
}

func (d *Directory) accountMiss(iban string) error {
	keys := make([]string, 0, len(d.accounts))
	for k := range d.accounts {
		keys = append(keys, k)
	}
	return missError(ErrAccountNotFound, iban, keys)
}

func missError(sentinel error, key string, known []string) error {
	if hint := closest(key, known); hint != "" {
		return fmt.Errorf("%s: %w (did you mean %s?)", key, sentinel, hint)
	}
	return fmt.Errorf("%s: %w", key, sentinel)
}

// closest returns the known key nearest to key by edit distance, or "" when
// nothing is near enough to be a plausible typo.
func closest(key string, known []string) string {
	if key == "" || len(known) == 0 {
		return ""
	}
	sort.Strings(known)
	limit := len(key) / 4
	if limit < 1 {
		limit = 1
	}
	best, bestDist := "", limit+1
	for _, k := range known {
		dist := levenshtein.ComputeDistance(strings.ToUpper(key), strings.ToUpper(k))
		if dist < bestDist {
			best, bestDist = k, dist
		}
	}
	return best
}
