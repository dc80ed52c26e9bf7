package split

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jask/splitpay/internal/audit"
	"github.com/jask/splitpay/internal/currency"
	"github.com/jask/splitpay/internal/ledger"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	dir   *ledger.Directory
	log   *audit.Log
	coord *Coordinator
	accts map[string]*ledger.Account
}

// newFixture creates one student user (no fees) per IBAN, each with a RON
// account holding the given balance.
func newFixture(t *testing.T, balances map[string]string) *fixture {
	t.Helper()
	g, err := currency.NewGraph([]currency.Rate{
		{From: "EUR", To: "RON", Rate: d("5")},
		{From: "USD", To: "EUR", Rate: d("0.8")},
	})
	require.NoError(t, err)

	f := &fixture{dir: ledger.NewDirectory(), log: audit.NewLog(), accts: map[string]*ledger.Account{}}
	for iban, bal := range balances {
		email := emailOf(iban)
		require.NoError(t, f.dir.AddUser(ledger.NewUser(email, "F", "L", "student")))
		acct, err := f.dir.OpenAccount(email, iban, "RON", nil)
		require.NoError(t, err)
		acct.AddFunds(d(bal))
		f.accts[iban] = acct
	}
	f.coord = NewCoordinator(f.dir, g, f.log, nil)
	return f
}

func emailOf(iban string) string { return iban + "@bank.test" }

func (f *fixture) propose(t *testing.T, ts int64, amount string, ibans ...string) uint64 {
	t.Helper()
	id, err := f.coord.Propose(context.Background(), Request{
		Timestamp: ts, Amount: d(amount), Currency: "RON", Kind: KindEqual, IBANs: ibans,
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) respond(t *testing.T, iban string, dec Decision) Result {
	t.Helper()
	res, err := f.coord.Respond(context.Background(), Response{Email: emailOf(iban), Decision: dec})
	require.NoError(t, err)
	return res
}

func requireBalance(t *testing.T, a *ledger.Account, want string) {
	t.Helper()
	require.True(t, a.Balance().Equal(d(want)), "%s balance = %s, want %s", a.IBAN(), a.Balance(), want)
}

func TestEqualSplitCommitsWhenAllAccept(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"RO1": "150", "RO2": "100", "RO3": "500"})
	id := f.propose(t, 10, "300", "RO1", "RO2", "RO3")

	snap, ok := f.coord.Proposal(id)
	require.True(t, ok)
	require.Equal(t, AwaitingResponses, snap.State)
	for _, s := range snap.LocalShares {
		require.True(t, s.Equal(d("100")))
	}

	require.Equal(t, AwaitingResponses, f.respond(t, "RO1", Accept).State)
	require.Equal(t, AwaitingResponses, f.respond(t, "RO2", Accept).State)
	requireBalance(t, f.accts["RO1"], "150")

	res := f.respond(t, "RO3", Accept)
	require.Equal(t, Committed, res.State)
	require.NoError(t, res.Err())

	requireBalance(t, f.accts["RO1"], "50")
	requireBalance(t, f.accts["RO2"], "0")
	requireBalance(t, f.accts["RO3"], "400")

	for _, iban := range []string{"RO1", "RO2", "RO3"} {
		recs := f.log.ForAccount(iban)
		require.Len(t, recs, 1)
		r := recs[0]
		assert.Equal(t, audit.OutcomeCommitted, r.Outcome)
		assert.Equal(t, emailOf(iban), r.Email)
		assert.Equal(t, "Split payment of 300.00 RON", r.Description)
		assert.Equal(t, []string{"RO1", "RO2", "RO3"}, r.InvolvedAccounts)
		assert.True(t, r.Amount.Equal(d("100")))
		assert.Equal(t, int64(10), r.Timestamp)
		assert.False(t, r.Failed())
	}

	snap, _ = f.coord.Proposal(id)
	require.Equal(t, Committed, snap.State)
	require.Equal(t, 0, f.coord.Registry().Live())
}

func TestCommitRevalidatesFundsAndAbortsEverything(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"RO1": "100", "RO2": "100", "RO3": "100"})
	f.propose(t, 1, "300", "RO1", "RO2", "RO3")

	// Balance drops between proposal and final acceptance.
	f.accts["RO2"].Pay(d("0.01"))

	f.respond(t, "RO1", Accept)
	f.respond(t, "RO2", Accept)
	res := f.respond(t, "RO3", Accept)

	require.Equal(t, Aborted, res.State)
	require.Equal(t, CauseInsufficientFunds, res.Cause)
	require.Equal(t, "RO2", res.FailedIBAN)

	err := res.Err()
	require.ErrorIs(t, err, ErrInsufficientFunds)
	var short *InsufficientFundsError
	require.True(t, errors.As(err, &short))
	require.Equal(t, "RO2", short.IBAN)

	requireBalance(t, f.accts["RO1"], "100")
	requireBalance(t, f.accts["RO2"], "99.99")
	requireBalance(t, f.accts["RO3"], "100")

	for _, iban := range []string{"RO1", "RO2", "RO3"} {
		recs := f.log.ForUser(emailOf(iban))
		require.Len(t, recs, 1)
		assert.Equal(t, audit.OutcomeInsufficientFunds, recs[0].Outcome)
		assert.Equal(t, "Account RO2 has insufficient funds for a split payment.", recs[0].Error)
		assert.Equal(t, []string{"RO1", "RO2", "RO3"}, recs[0].InvolvedAccounts)
	}
}

func TestCommitSeesTopUpAfterProposal(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"RO1": "0", "RO2": "100"})
	f.propose(t, 1, "200", "RO1", "RO2")
	f.respond(t, "RO1", Accept)
	f.accts["RO1"].AddFunds(d("100"))
	require.Equal(t, Committed, f.respond(t, "RO2", Accept).State)
	requireBalance(t, f.accts["RO1"], "0")
}

func TestRejectionAbortsImmediately(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"RO1": "100", "RO2": "100", "RO3": "100"})
	id := f.propose(t, 7, "300", "RO1", "RO2", "RO3")

	res := f.respond(t, "RO3", Reject)
	require.Equal(t, Aborted, res.State)
	require.Equal(t, CauseRejected, res.Cause)
	require.ErrorIs(t, res.Err(), ErrRejected)

	for _, iban := range []string{"RO1", "RO2", "RO3"} {
		recs := f.log.ForAccount(iban)
		require.Len(t, recs, 1)
		assert.Equal(t, audit.OutcomeRejected, recs[0].Outcome)
		assert.Equal(t, "One user rejected the payment.", recs[0].Error)
		requireBalance(t, f.accts[iban], "100")
	}

	// The others have nothing left to answer.
	_, err := f.coord.Respond(context.Background(), Response{Email: emailOf("RO1"), Decision: Accept})
	require.ErrorIs(t, err, ErrNoPendingProposal)
	require.Empty(t, f.coord.Pending(emailOf("RO2")))

	snap, ok := f.coord.Proposal(id)
	require.True(t, ok)
	require.Equal(t, Aborted, snap.State)
	require.Equal(t, Rejected, snap.Responses[emailOf("RO3")])
	require.Equal(t, Pending, snap.Responses[emailOf("RO1")])
}

func TestResponsesAreFIFOPerUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"RO1": "1000", "RO2": "1000", "RO3": "1000"})
	first := f.propose(t, 100, "10", "RO1", "RO2")
	second := f.propose(t, 200, "10", "RO1", "RO3")
	require.Greater(t, second, first)
	require.Equal(t, []uint64{first, second}, f.coord.Pending(emailOf("RO1")))

	// Aiming at the later proposal still answers the earlier one.
	res, err := f.coord.Respond(context.Background(), Response{Email: emailOf("RO1"), Decision: Accept, Target: second})
	require.NoError(t, err)
	require.Equal(t, first, res.ProposalID)

	s1, _ := f.coord.Proposal(first)
	s2, _ := f.coord.Proposal(second)
	require.Equal(t, Accepted, s1.Responses[emailOf("RO1")])
	require.Equal(t, Pending, s2.Responses[emailOf("RO1")])
	require.Equal(t, []uint64{second}, f.coord.Pending(emailOf("RO1")))
}

func TestDuplicateResponseHasNoEffect(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"RO1": "1000", "RO2": "1000", "RO3": "1000"})
	first := f.propose(t, 1, "10", "RO1", "RO2")
	second := f.propose(t, 2, "10", "RO1", "RO3")

	_, err := f.coord.Respond(context.Background(), Response{Email: emailOf("RO1"), Decision: Accept, Target: first})
	require.NoError(t, err)

	before, _ := f.coord.Proposal(second)
	_, err = f.coord.Respond(context.Background(), Response{Email: emailOf("RO1"), Decision: Reject, Target: first})
	require.ErrorIs(t, err, ErrDuplicateResponse)

	after, _ := f.coord.Proposal(second)
	require.Equal(t, before, after)
	s1, _ := f.coord.Proposal(first)
	require.Equal(t, AwaitingResponses, s1.State)
	require.Equal(t, Accepted, s1.Responses[emailOf("RO1")])
	require.Equal(t, []uint64{second}, f.coord.Pending(emailOf("RO1")))
	require.Empty(t, f.log.Records())
}

func TestSecondAnswerWithoutTargetIsDuplicate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"RO1": "1000", "RO2": "1000", "RO3": "1000"})
	id := f.propose(t, 1, "10", "RO1", "RO2", "RO3")
	f.respond(t, "RO1", Accept)

	_, err := f.coord.Respond(context.Background(), Response{Email: emailOf("RO1"), Decision: Reject})
	require.ErrorIs(t, err, ErrDuplicateResponse)
	require.ErrorContains(t, err, "proposal 1")

	snap, ok := f.coord.Proposal(id)
	require.True(t, ok)
	require.Equal(t, AwaitingResponses, snap.State)
	require.Equal(t, Accepted, snap.Responses[emailOf("RO1")])
	require.Equal(t, []uint64{id}, f.coord.Pending(emailOf("RO2")))
	require.Equal(t, []uint64{id}, f.coord.Pending(emailOf("RO3")))
	require.Empty(t, f.log.Records())
}

func TestDuplicateResponseOnResolvedProposal(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"RO1": "1000", "RO2": "1000"})
	id := f.propose(t, 1, "10", "RO1", "RO2")
	f.respond(t, "RO1", Accept)
	f.respond(t, "RO2", Accept)

	_, err := f.coord.Respond(context.Background(), Response{Email: emailOf("RO2"), Decision: Accept, Target: id})
	require.ErrorIs(t, err, ErrDuplicateResponse)
}

func TestCustomSplitCountMismatchRegistersNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"RO1": "100", "RO2": "100"})
	_, err := f.coord.Propose(context.Background(), Request{
		Timestamp: 1, Amount: d("30"), Currency: "RON", Kind: KindCustom,
		IBANs: []string{"RO1", "RO2"}, Shares: []decimal.Decimal{d("30")},
	})
	require.ErrorIs(t, err, ErrParticipantCountMismatch)
	require.Equal(t, 0, f.coord.Registry().Live())
	require.Empty(t, f.coord.Pending(emailOf("RO1")))

	// Ids are not consumed by failed proposals.
	require.Equal(t, uint64(1), f.propose(t, 2, "10", "RO1"))
}

func TestCustomSplitUsesPerAccountShares(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"RO1": "100", "RO2": "100"})
	_, err := f.coord.Propose(context.Background(), Request{
		Timestamp: 3, Amount: d("50"), Currency: "RON", Kind: KindCustom,
		IBANs: []string{"RO1", "RO2"}, Shares: []decimal.Decimal{d("20"), d("30")},
	})
	require.NoError(t, err)
	f.respond(t, "RO2", Accept)
	require.Equal(t, Committed, f.respond(t, "RO1", Accept).State)

	requireBalance(t, f.accts["RO1"], "80")
	requireBalance(t, f.accts["RO2"], "70")

	r := f.log.ForAccount("RO1")[0]
	require.Equal(t, "custom", r.SplitKind)
	require.Len(t, r.Amounts, 2)
	require.True(t, r.Amounts[1].Equal(d("30")))
}

func TestProposalLookupFailureRegistersNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"RO1": "100"})
	_, err := f.coord.Propose(context.Background(), Request{
		Timestamp: 1, Amount: d("10"), Currency: "RON", Kind: KindEqual, IBANs: []string{"RO1", "RO9"},
	})
	require.ErrorIs(t, err, ErrAccountNotFound)
	require.Empty(t, f.coord.Pending(emailOf("RO1")))

	_, err = f.coord.Propose(context.Background(), Request{
		Timestamp: 1, Amount: d("10"), Currency: "JPY", Kind: KindEqual, IBANs: []string{"RO1"},
	})
	require.ErrorIs(t, err, ErrNoConversionPath)

	_, err = f.coord.Propose(context.Background(), Request{Timestamp: 1, Amount: d("10"), Currency: "RON", Kind: "thirds", IBANs: []string{"RO1"}})
	require.ErrorIs(t, err, ErrUnknownKind)

	_, err = f.coord.Propose(context.Background(), Request{Timestamp: 1, Amount: d("0"), Currency: "RON", Kind: KindEqual, IBANs: []string{"RO1"}})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.coord.Propose(context.Background(), Request{Timestamp: 1, Amount: d("1"), Currency: "RON", Kind: KindEqual})
	require.ErrorIs(t, err, ErrNoParticipants)
	require.Equal(t, 0, f.coord.Registry().Live())
}

func TestRespondErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"RO1": "100"})

	_, err := f.coord.Respond(context.Background(), Response{Email: "ghost@bank.test", Decision: Accept})
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = f.coord.Respond(context.Background(), Response{Email: emailOf("RO1"), Decision: Accept})
	require.ErrorIs(t, err, ErrNoPendingProposal)

	f.propose(t, 1, "10", "RO1")
	_, err = f.coord.Respond(context.Background(), Response{Email: emailOf("RO1"), Decision: Decision(9)})
	require.ErrorIs(t, err, ErrInvalidDecision)
	require.Len(t, f.coord.Pending(emailOf("RO1")), 1)
}

func TestSharesConvertedIntoAccountCurrencyWithFees(t *testing.T) {
	t.Parallel()
	g, err := currency.NewGraph([]currency.Rate{{From: "EUR", To: "RON", Rate: d("5")}})
	require.NoError(t, err)
	dir := ledger.NewDirectory()
	require.NoError(t, dir.AddUser(ledger.NewUser("std@bank.test", "S", "T", "engineer")))
	silver := ledger.NewUser("silver@bank.test", "S", "V", "engineer")
	silver.SetPlan(ledger.PlanSilver)
	require.NoError(t, dir.AddUser(silver))

	eur, err := dir.OpenAccount("std@bank.test", "EU1", "EUR", nil)
	require.NoError(t, err)
	ron, err := dir.OpenAccount("silver@bank.test", "RO1", "RON", ledger.Savings{InterestRate: d("0.01")})
	require.NoError(t, err)
	eur.AddFunds(d("1000"))
	ron.AddFunds(d("1000"))

	log := audit.NewLog()
	c := NewCoordinator(dir, g, log, nil)
	id, err := c.Propose(context.Background(), Request{
		Timestamp: 1, Amount: d("1000"), Currency: "RON", Kind: KindEqual, IBANs: []string{"EU1", "RO1"},
	})
	require.NoError(t, err)

	snap, _ := c.Proposal(id)
	require.True(t, snap.LocalShares[0].Equal(d("100")), "eur share %s", snap.LocalShares[0])
	require.True(t, snap.LocalShares[1].Equal(d("500")))

	_, err = c.Respond(context.Background(), Response{Email: "std@bank.test", Decision: Accept})
	require.NoError(t, err)
	res, err := c.Respond(context.Background(), Response{Email: "silver@bank.test", Decision: Accept})
	require.NoError(t, err)
	require.Equal(t, Committed, res.State)

	// standard: 0.2% of 100 EUR; silver: 0.1% of 500 RON (at the 500 RON threshold).
	require.True(t, eur.Balance().Equal(d("899.8")), "eur %s", eur.Balance())
	require.True(t, ron.Balance().Equal(d("499.5")), "ron %s", ron.Balance())
}

func TestUserWithTwoAccountsAnswersOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"RO1": "100"})
	second, err := f.dir.OpenAccount(emailOf("RO1"), "RO1B", "RON", nil)
	require.NoError(t, err)
	second.AddFunds(d("100"))

	f.propose(t, 1, "60", "RO1", "RO1B")
	require.Equal(t, []uint64{1}, f.coord.Pending(emailOf("RO1")))
	require.Equal(t, Committed, f.respond(t, "RO1", Accept).State)
	requireBalance(t, f.accts["RO1"], "70")
	requireBalance(t, second, "70")
	require.Len(t, f.log.ForUser(emailOf("RO1")), 2)
}

func TestRepeatedAccountIsCheckedAgainstItsTotal(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"RO1": "50", "RO2": "100"})
	f.propose(t, 1, "90", "RO1", "RO1", "RO2")
	f.respond(t, "RO1", Accept)
	res := f.respond(t, "RO2", Accept)
	require.Equal(t, Aborted, res.State)
	require.Equal(t, "RO1", res.FailedIBAN)
	requireBalance(t, f.accts["RO1"], "50")
}

func TestDisjointProposalsRunConcurrently(t *testing.T) {
	t.Parallel()
	const pairs = 40
	balances := map[string]string{}
	for i := 0; i < pairs; i++ {
		balances[fmt.Sprintf("A%02d", i)] = "100"
		balances[fmt.Sprintf("B%02d", i)] = "100"
	}
	f := newFixture(t, balances)

	var g errgroup.Group
	for i := 0; i < pairs; i++ {
		i := i
		a, b := fmt.Sprintf("A%02d", i), fmt.Sprintf("B%02d", i)
		g.Go(func() error {
			ctx := context.Background()
			if _, err := f.coord.Propose(ctx, Request{Timestamp: int64(i), Amount: d("50"), Currency: "RON", Kind: KindEqual, IBANs: []string{a, b}}); err != nil {
				return err
			}
			if _, err := f.coord.Respond(ctx, Response{Email: emailOf(a), Decision: Accept}); err != nil {
				return err
			}
			res, err := f.coord.Respond(ctx, Response{Email: emailOf(b), Decision: Accept})
			if err != nil {
				return err
			}
			if res.State != Committed {
				return fmt.Errorf("pair %d ended %s", i, res.State)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for iban, acct := range f.accts {
		require.True(t, acct.Balance().Equal(d("75")), "%s = %s", iban, acct.Balance())
	}
	require.Len(t, f.log.Records(), 2*pairs)
	require.Equal(t, 0, f.coord.Registry().Live())
}

func TestParseKindAndDecision(t *testing.T) {
	t.Parallel()
	k, err := ParseKind("Equal")
	require.NoError(t, err)
	require.Equal(t, KindEqual, k)
	_, err = ParseKind("weighted")
	require.ErrorIs(t, err, ErrUnknownKind)
	require.Equal(t, "reject", Reject.String())
	require.True(t, Committed.Terminal())
	require.False(t, Committing.Terminal())
}
