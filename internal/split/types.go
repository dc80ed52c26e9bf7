package split

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jask/splitpay/internal/currency"
	"github.com/jask/splitpay/internal/ledger"
)

var (
	ErrUserNotFound     = ledger.ErrUserNotFound
	ErrAccountNotFound  = ledger.ErrAccountNotFound
	ErrNoConversionPath = currency.ErrNoConversionPath

	ErrParticipantCountMismatch = errors.New("custom shares do not match participant count")
	ErrNoPendingProposal        = errors.New("no pending split payment")
	ErrDuplicateResponse        = errors.New("participant already responded")
	ErrInsufficientFunds        = errors.New("insufficient funds for split payment")
	ErrRejected                 = errors.New("split payment rejected")
	ErrNoParticipants           = errors.New("split payment needs at least one participant")
	ErrInvalidAmount            = errors.New("invalid split amount")
	ErrUnknownKind              = errors.New("unknown split kind")
	ErrInvalidDecision          = errors.New("invalid split decision")
)

// InsufficientFundsError names the first account that could not cover its share.
type InsufficientFundsError struct {
	IBAN string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("account %s: %s", e.IBAN, ErrInsufficientFunds)
}

func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }

// Kind is how the total is divided between participants.
type Kind string

const (
	KindEqual  Kind = "equal"
	KindCustom Kind = "custom"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindEqual, KindCustom:
		return k, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnknownKind)
	}
}

// Decision is a participant's answer.
type Decision int

const (
	Accept Decision = iota + 1
	Reject
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// ResponseState tracks one participant's answer.
type ResponseState string

const (
	Pending  ResponseState = "pending"
	Accepted ResponseState = "accepted"
	Rejected ResponseState = "rejected"
)

// State is the lifecycle position of a proposal.
//
//	AwaitingResponses -> Committing -> Committed
//	AwaitingResponses -> Committing -> Aborted (insufficient funds)
//	AwaitingResponses -> Aborted (rejected)
type State string

const (
	AwaitingResponses State = "awaiting_responses"
	Committing        State = "committing"
	Committed         State = "committed"
	Aborted           State = "aborted"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == Committed || s == Aborted }

// Cause explains an Aborted state.
type Cause string

const (
	CauseNone              Cause = ""
	CauseRejected          Cause = "rejected"
	CauseInsufficientFunds Cause = "insufficient_funds"
)

// Request proposes a split payment. Shares is only read for KindCustom.
type Request struct {
	Timestamp int64
	Amount    decimal.Decimal
	Currency  currency.Code
	Kind      Kind
	IBANs     []string
	Shares    []decimal.Decimal
}

// Response answers the caller's oldest pending proposal. Target optionally
// names the proposal the caller believes it is answering; it never changes
// which proposal is answered but a target already answered by the caller is
// reported as ErrDuplicateResponse.
type Response struct {
	Email    string
	Decision Decision
	Target   uint64
}

// Result reports the proposal a response was applied to and where it ended up.
type Result struct {
	ProposalID uint64
	State      State
	Cause      Cause
	FailedIBAN string
}

// participant is one account taking part in a proposal, with its share
// fixed at proposal time.
type participant struct {
	account *ledger.Account
	user    *ledger.User
	// share in the proposal currency
	share decimal.Decimal
	// local is share converted to the account currency
	local decimal.Decimal
	// reference is share converted to the fee reference currency
	reference decimal.Decimal
}

// Snapshot is an immutable view of a proposal.
type Snapshot struct {
	ID          uint64
	Timestamp   int64
	Amount      decimal.Decimal
	Currency    currency.Code
	Kind        Kind
	IBANs       []string
	Shares      []decimal.Decimal
	LocalShares []decimal.Decimal
	Responses   map[string]ResponseState
	State       State
	Cause       Cause
	FailedIBAN  string
}
