package split

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jask/splitpay/internal/audit"
	"github.com/jask/splitpay/internal/currency"
	"github.com/jask/splitpay/internal/ledger"
)

// DefaultReferenceCurrency is the currency plan fee thresholds are expressed in.
const DefaultReferenceCurrency currency.Code = "RON"

const (
	rejectedMessage = "One user rejected the payment."
	shortMessage    = "Account %s has insufficient funds for a split payment."
)

// Directory resolves participants.
type Directory interface {
	Account(iban string) (*ledger.Account, *ledger.User, error)
	User(email string) (*ledger.User, error)
}

// Converter prices amounts across currencies.
type Converter interface {
	Convert(amount decimal.Decimal, from, to currency.Code) (decimal.Decimal, error)
}

// Coordinator runs the split-payment protocol: proposals wait for every
// participant to accept, funds are re-checked at commit time, and every
// outcome is written to each participant's audit trail.
type Coordinator struct {
	Directory Directory
	Rates     Converter
	Audit     *audit.Log
	// ReferenceCurrency defaults to DefaultReferenceCurrency.
	ReferenceCurrency currency.Code
	Logger            *zap.Logger

	registry *Registry
}

// NewCoordinator wires a coordinator with an empty registry.
func NewCoordinator(dir Directory, rates Converter, log *audit.Log, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if log == nil {
		log = audit.NewLog(audit.WithLogger(logger))
	}
	return &Coordinator{
		Directory:         dir,
		Rates:             rates,
		Audit:             log,
		ReferenceCurrency: DefaultReferenceCurrency,
		Logger:            logger,
		registry:          NewRegistry(),
	}
}

// Registry exposes the pending-payment registry for read access.
func (c *Coordinator) Registry() *Registry { return c.registry }

func (c *Coordinator) reference() currency.Code {
	if c.ReferenceCurrency == "" {
		return DefaultReferenceCurrency
	}
	return c.ReferenceCurrency
}

// Propose validates and prices a split, then registers it. Any failure leaves
// the registry untouched.
func (c *Coordinator) Propose(ctx context.Context, req Request) (uint64, error) {
	if len(req.IBANs) == 0 {
		return 0, ErrNoParticipants
	}
	if !req.Amount.IsPositive() {
		return 0, fmt.Errorf("amount %s: %w", req.Amount, ErrInvalidAmount)
	}

	shares, err := c.shares(req)
	if err != nil {
		return 0, err
	}

	p := &proposal{
		timestamp: req.Timestamp,
		amount:    req.Amount,
		currency:  req.Currency,
		kind:      req.Kind,
		ibans:     append([]string(nil), req.IBANs...),
		responses: make(map[string]ResponseState),
	}
	for i, iban := range req.IBANs {
		acct, user, err := c.Directory.Account(iban)
		if err != nil {
			return 0, fmt.Errorf("split payment participant %d: %w", i, err)
		}
		local, err := c.Rates.Convert(shares[i], req.Currency, acct.Currency())
		if err != nil {
			return 0, fmt.Errorf("split payment share for %s: %w", iban, err)
		}
		ref, err := c.Rates.Convert(local, acct.Currency(), c.reference())
		if err != nil {
			return 0, fmt.Errorf("split payment fee pricing for %s: %w", iban, err)
		}
		p.participants = append(p.participants, participant{
			account:   acct,
			user:      user,
			share:     shares[i],
			local:     local,
			reference: ref,
		})
		if _, seen := p.responses[user.Email]; !seen {
			p.responses[user.Email] = Pending
			p.users = append(p.users, user.Email)
		}
	}

	id := c.registry.register(p)
	c.Logger.Info("split payment proposed",
		zap.Uint64("proposal_id", id),
		zap.Int64("timestamp", req.Timestamp),
		zap.String("kind", string(req.Kind)),
		zap.String("amount", req.Amount.String()),
		zap.String("currency", string(req.Currency)),
		zap.Strings("ibans", req.IBANs),
	)
	return id, nil
}

func (c *Coordinator) shares(req Request) ([]decimal.Decimal, error) {
	n := len(req.IBANs)
	switch req.Kind {
	case KindEqual:
		each := req.Amount.DivRound(decimal.NewFromInt(int64(n)), currency.AmountPrecision)
		out := make([]decimal.Decimal, n)
		for i := range out {
			out[i] = each
		}
		return out, nil
	case KindCustom:
		if len(req.Shares) != n {
			return nil, fmt.Errorf("%d shares for %d participants: %w", len(req.Shares), n, ErrParticipantCountMismatch)
		}
		for i, s := range req.Shares {
			if s.IsNegative() {
				return nil, fmt.Errorf("share %d is %s: %w", i, s, ErrInvalidAmount)
			}
		}
		return append([]decimal.Decimal(nil), req.Shares...), nil
	default:
		return nil, fmt.Errorf("%q: %w", req.Kind, ErrUnknownKind)
	}
}

// Respond applies a user's decision to their oldest pending proposal. A
// rejection aborts immediately; the last acceptance triggers the commit.
func (c *Coordinator) Respond(ctx context.Context, resp Response) (Result, error) {
	if _, err := c.Directory.User(resp.Email); err != nil {
		return Result{}, err
	}

	p, v, err := c.registry.respond(resp)
	if err != nil {
		c.Logger.Warn("split payment response refused",
			zap.String("email", resp.Email),
			zap.Stringer("decision", resp.Decision),
			zap.Uint64("target", resp.Target),
			zap.Error(err),
		)
		return Result{}, err
	}

	switch v {
	case verdictReject:
		c.broadcast(ctx, p, audit.OutcomeRejected, rejectedMessage)
		c.Logger.Info("split payment aborted",
			zap.Uint64("proposal_id", p.id),
			zap.Int64("timestamp", p.timestamp),
			zap.String("state", string(Aborted)),
			zap.String("cause", string(CauseRejected)),
			zap.String("rejected_by", resp.Email),
		)
		return Result{ProposalID: p.id, State: Aborted, Cause: CauseRejected}, nil
	case verdictCommit:
		return c.commit(ctx, p), nil
	default:
		c.Logger.Debug("split payment accepted",
			zap.Uint64("proposal_id", p.id),
			zap.String("email", resp.Email),
		)
		return Result{ProposalID: p.id, State: AwaitingResponses}, nil
	}
}

// commit re-validates every account against its stored share plus the fee
// its owner's plan charges now, then debits all of them or none.
func (c *Coordinator) commit(ctx context.Context, p *proposal) Result {
	accounts := make([]*ledger.Account, len(p.participants))
	for i, pt := range p.participants {
		accounts[i] = pt.account
	}

	batch := ledger.Lock(accounts...)
	defer batch.Unlock()

	costs := make([]decimal.Decimal, len(p.participants))
	owed := make(map[*ledger.Account]decimal.Decimal, len(p.participants))
	for i, pt := range p.participants {
		fee := pt.user.Plan().TransactionFee(pt.reference, pt.local)
		costs[i] = pt.local.Add(fee)
		owed[pt.account] = owed[pt.account].Add(costs[i])
	}

	failed := ""
	for _, pt := range p.participants {
		if batch.Balance(pt.account).LessThan(owed[pt.account]) {
			failed = pt.account.IBAN()
			break
		}
	}

	if failed != "" {
		c.registry.finish(p, Aborted, CauseInsufficientFunds, failed)
		c.broadcast(ctx, p, audit.OutcomeInsufficientFunds, fmt.Sprintf(shortMessage, failed))
		c.Logger.Info("split payment aborted",
			zap.Uint64("proposal_id", p.id),
			zap.Int64("timestamp", p.timestamp),
			zap.String("state", string(Aborted)),
			zap.String("cause", string(CauseInsufficientFunds)),
			zap.String("iban", failed),
		)
		return Result{ProposalID: p.id, State: Aborted, Cause: CauseInsufficientFunds, FailedIBAN: failed}
	}

	for i, pt := range p.participants {
		batch.Pay(pt.account, costs[i])
		if bal := batch.Balance(pt.account); bal.LessThan(batch.MinBalance(pt.account)) {
			c.Logger.Warn("split payment left account under its minimum balance",
				zap.Uint64("proposal_id", p.id),
				zap.String("iban", pt.account.IBAN()),
				zap.String("balance", bal.String()),
			)
		}
	}
	c.registry.finish(p, Committed, CauseNone, "")
	c.broadcast(ctx, p, audit.OutcomeCommitted, "")
	c.Logger.Info("split payment committed",
		zap.Uint64("proposal_id", p.id),
		zap.Int64("timestamp", p.timestamp),
		zap.String("state", string(Committed)),
	)
	return Result{ProposalID: p.id, State: Committed}
}

// broadcast writes one record per participant account, addressed to its owner.
func (c *Coordinator) broadcast(ctx context.Context, p *proposal, outcome audit.Outcome, errMsg string) {
	recs := make([]audit.Record, 0, len(p.participants))
	for _, pt := range p.participants {
		rec := audit.Record{
			ProposalID:       p.id,
			Timestamp:        p.timestamp,
			Email:            pt.user.Email,
			IBAN:             pt.account.IBAN(),
			Outcome:          outcome,
			Description:      fmt.Sprintf("Split payment of %s %s", currency.Display(p.amount), p.currency),
			SplitKind:        string(p.kind),
			Currency:         p.currency,
			InvolvedAccounts: p.ibans,
			Error:            errMsg,
		}
		if p.kind == KindCustom {
			for _, other := range p.participants {
				rec.Amounts = append(rec.Amounts, other.share)
			}
		} else {
			rec.Amount = pt.share
		}
		recs = append(recs, rec)
	}
	c.Audit.Append(ctx, recs...)
}

// Proposal returns a snapshot of a live or resolved proposal.
func (c *Coordinator) Proposal(id uint64) (Snapshot, bool) {
	return c.registry.Snapshot(id)
}

// Pending lists the proposals waiting on email, oldest first.
func (c *Coordinator) Pending(email string) []uint64 {
	return c.registry.Pending(email)
}

// Err maps a terminal result to its protocol error, or nil.
func (r Result) Err() error {
	switch r.Cause {
	case CauseRejected:
		return fmt.Errorf("proposal %d: %w", r.ProposalID, ErrRejected)
	case CauseInsufficientFunds:
		return fmt.Errorf("proposal %d: %w", r.ProposalID, &InsufficientFundsError{IBAN: r.FailedIBAN})
	default:
		return nil
	}
}
