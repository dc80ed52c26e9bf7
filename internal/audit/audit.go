package audit

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jask/splitpay/internal/currency"
)

// Outcome classifies what a record reports.
type Outcome string

const (
	OutcomeCommitted         Outcome = "committed"
	OutcomeInsufficientFunds Outcome = "aborted_insufficient_funds"
	OutcomeRejected          Outcome = "aborted_rejected"
	OutcomeFundsAdded        Outcome = "funds_added"
	OutcomeInterest          Outcome = "interest"
	OutcomeRateChanged       Outcome = "interest_rate_changed"
)

// Record is one audit entry addressed to a single user and account.
type Record struct {
	ID         uuid.UUID
	Seq        uint64
	ProposalID uint64
	Timestamp  int64
	Email      string
	IBAN       string
	Outcome    Outcome

	Description      string
	SplitKind        string
	Amount           decimal.Decimal
	Amounts          []decimal.Decimal
	Currency         currency.Code
	InvolvedAccounts []string
	Error            string
}

// Failed reports whether the record carries an error annotation.
func (r Record) Failed() bool { return r.Error != "" }

// Sink receives every batch after it is appended, e.g. to mirror it to storage.
type Sink interface {
	Write(ctx context.Context, recs []Record) error
}

// Log is an append-only, ordered store of records indexed by account and user.
type Log struct {
	mu        sync.RWMutex
	records   []Record
	byAccount map[string][]int
	byUser    map[string][]int

	// sinkMu is taken before mu is released, so batches reach the sink in
	// Seq order without holding mu during the write.
	sinkMu sync.Mutex
	sink   Sink
	logger *zap.Logger
}

// Option configures a Log.
type Option func(*Log)

func WithSink(s Sink) Option { return func(l *Log) { l.sink = s } }

func WithLogger(z *zap.Logger) Option { return func(l *Log) { l.logger = z } }

func NewLog(opts ...Option) *Log {
	l := &Log{
		byAccount: make(map[string][]int),
		byUser:    make(map[string][]int),
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	return l
}

// Append stores a batch atomically: readers see either all of it or none.
// The sink sees batches in the order they were appended. Sink failures are
// logged and do not undo the append.
func (l *Log) Append(ctx context.Context, recs ...Record) []Record {
	if len(recs) == 0 {
		return nil
	}
	stored := make([]Record, len(recs))

	l.mu.Lock()
	for i, r := range recs {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		r.Seq = uint64(len(l.records)) + 1
		r.InvolvedAccounts = append([]string(nil), r.InvolvedAccounts...)
		r.Amounts = append([]decimal.Decimal(nil), r.Amounts...)
		idx := len(l.records)
		l.records = append(l.records, r)
		if r.IBAN != "" {
			l.byAccount[r.IBAN] = append(l.byAccount[r.IBAN], idx)
		}
		if r.Email != "" {
			l.byUser[r.Email] = append(l.byUser[r.Email], idx)
		}
		stored[i] = r
	}
	if l.sink == nil {
		l.mu.Unlock()
		return stored
	}
	l.sinkMu.Lock()
	l.mu.Unlock()

	defer l.sinkMu.Unlock()
	if err := l.sink.Write(ctx, stored); err != nil {
		l.logger.Error("audit sink write failed", zap.Error(err), zap.Int("records", len(stored)))
	}
	return stored
}

// Records returns the whole stream in production order.
func (l *Log) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneAll(l.records)
}

// Seq is the sequence number of the newest record, 0 for an empty log.
func (l *Log) Seq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.records))
}

// Since returns records with Seq greater than seq, for incremental readers.
func (l *Log) Since(seq uint64) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq >= uint64(len(l.records)) {
		return nil
	}
	return cloneAll(l.records[seq:])
}

func (l *Log) ForAccount(iban string) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pick(l.byAccount[iban])
}

func (l *Log) ForUser(email string) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pick(l.byUser[email])
}

func (l *Log) pick(idx []int) []Record {
	out := make([]Record, 0, len(idx))
	for _, i := range idx {
		out = append(out, clone(l.records[i]))
	}
	return out
}

func cloneAll(in []Record) []Record {
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = clone(r)
	}
	return out
}

func clone(r Record) Record {
	r.InvolvedAccounts = append([]string(nil), r.InvolvedAccounts...)
	r.Amounts = append([]decimal.Decimal(nil), r.Amounts...)
	return r
}
