package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Plan is a user's service tier. It decides the fee charged on outgoing payments.
type Plan string

const (
	PlanStandard Plan = "standard"
	PlanStudent  Plan = "student"
	PlanSilver   Plan = "silver"
	PlanGold     Plan = "gold"
)

var (
	standardFeeRate = decimal.RequireFromString("0.002")
	silverFeeRate   = decimal.RequireFromString("0.001")
	// silverThreshold is expressed in the reference currency.
	silverThreshold = decimal.NewFromInt(500)
)

// ParsePlan maps a tier name to a Plan. Unknown names are an error rather
// than a silent fallback.
func ParsePlan(s string) (Plan, error) {
	switch p := Plan(strings.ToLower(strings.TrimSpace(s))); p {
	case PlanStandard, PlanStudent, PlanSilver, PlanGold:
		return p, nil
	default:
		return "", fmt.Errorf("unknown plan %q", s)
	}
}

// DefaultPlan is the tier a new user starts on.
func DefaultPlan(occupation string) Plan {
	if strings.EqualFold(strings.TrimSpace(occupation), "student") {
		return PlanStudent
	}
	return PlanStandard
}

// TransactionFee returns the fee, in the account currency, for paying amount.
// amountInReference is the same amount priced in the reference currency and
// is what tier thresholds are compared against.
func (p Plan) TransactionFee(amountInReference, amount decimal.Decimal) decimal.Decimal {
	switch p {
	case PlanStandard:
		return amount.Mul(standardFeeRate)
	case PlanSilver:
		if amountInReference.LessThan(silverThreshold) {
			return decimal.Zero
		}
		return amount.Mul(silverFeeRate)
	default:
		return decimal.Zero
	}
}
