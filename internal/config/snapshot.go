package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ErrInvalidSnapshot wraps every snapshot validation failure.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Snapshot is the start-of-day state: exchange quotes, users and their
// accounts. Money fields are decimal strings.
type Snapshot struct {
	Rates    []RateEntry    `mapstructure:"rates"`
	Users    []UserEntry    `mapstructure:"users"`
	Accounts []AccountEntry `mapstructure:"accounts"`
}

// RateEntry is one direct quote: 1 From = Rate To.
type RateEntry struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`
	Rate string `mapstructure:"rate"`
}

type UserEntry struct {
	Email      string `mapstructure:"email"`
	FirstName  string `mapstructure:"first_name"`
	LastName   string `mapstructure:"last_name"`
	Occupation string `mapstructure:"occupation"`
	// Plan overrides the occupation-based default when set.
	Plan string `mapstructure:"plan"`
}

// AccountEntry opens one account. Type is classic, savings or business;
// InterestRate is read for savings, Managers and Employees for business.
type AccountEntry struct {
	IBAN         string   `mapstructure:"iban"`
	Owner        string   `mapstructure:"owner"`
	Currency     string   `mapstructure:"currency"`
	Type         string   `mapstructure:"type"`
	Balance      string   `mapstructure:"balance"`
	MinBalance   string   `mapstructure:"min_balance"`
	InterestRate string   `mapstructure:"interest_rate"`
	Managers     []string `mapstructure:"managers"`
	Employees    []string `mapstructure:"employees"`
}

// LoadSnapshot reads a TOML or JSON snapshot; the format follows the file
// extension.
func LoadSnapshot(path string) (Snapshot, error) {
	v := viper.New()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml", ".json":
		v.SetConfigType(strings.TrimPrefix(ext, "."))
	default:
		return Snapshot{}, fmt.Errorf("snapshot %s: unsupported format %q: %w", path, ext, ErrInvalidSnapshot)
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var s Snapshot
	if err := v.Unmarshal(&s); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// Validate checks required fields and that every account owner is listed.
func (s Snapshot) Validate() error {
	users := make(map[string]bool, len(s.Users))
	for i, u := range s.Users {
		if u.Email == "" {
			return fmt.Errorf("user %d: missing email: %w", i, ErrInvalidSnapshot)
		}
		users[u.Email] = true
	}
	for i, r := range s.Rates {
		if r.From == "" || r.To == "" || r.Rate == "" {
			return fmt.Errorf("rate %d: from, to and rate are required: %w", i, ErrInvalidSnapshot)
		}
	}
	for i, a := range s.Accounts {
		if a.IBAN == "" || a.Currency == "" {
			return fmt.Errorf("account %d: iban and currency are required: %w", i, ErrInvalidSnapshot)
		}
		if !users[a.Owner] {
			return fmt.Errorf("account %s: unknown owner %q: %w", a.IBAN, a.Owner, ErrInvalidSnapshot)
		}
	}
	return nil
}
