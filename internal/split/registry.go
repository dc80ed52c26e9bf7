package split

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/jask/splitpay/internal/currency"
)

// proposal is the registry's mutable record. Every field after creation is
// guarded by Registry.mu.
type proposal struct {
	id           uint64
	timestamp    int64
	amount       decimal.Decimal
	currency     currency.Code
	kind         Kind
	participants []participant
	ibans        []string

	// users lists distinct participant emails in first-appearance order.
	users     []string
	responses map[string]ResponseState

	state      State
	cause      Cause
	failedIBAN string
}

func (p *proposal) allAccepted() bool {
	for _, email := range p.users {
		if p.responses[email] != Accepted {
			return false
		}
	}
	return true
}

func (p *proposal) snapshot() Snapshot {
	s := Snapshot{
		ID:          p.id,
		Timestamp:   p.timestamp,
		Amount:      p.amount,
		Currency:    p.currency,
		Kind:        p.kind,
		IBANs:       append([]string(nil), p.ibans...),
		Shares:      make([]decimal.Decimal, len(p.participants)),
		LocalShares: make([]decimal.Decimal, len(p.participants)),
		Responses:   make(map[string]ResponseState, len(p.responses)),
		State:       p.state,
		Cause:       p.cause,
		FailedIBAN:  p.failedIBAN,
	}
	for i, pt := range p.participants {
		s.Shares[i] = pt.share
		s.LocalShares[i] = pt.local
	}
	for k, v := range p.responses {
		s.Responses[k] = v
	}
	return s
}

// Registry holds live proposals and, per user, a FIFO queue of the proposals
// still waiting on that user's answer. Proposal ids are assigned here and are
// strictly increasing.
type Registry struct {
	mu       sync.Mutex
	nextID   uint64
	live     map[uint64]*proposal
	resolved map[uint64]*proposal
	queues   map[string][]uint64
}

func NewRegistry() *Registry {
	return &Registry{
		live:     make(map[uint64]*proposal),
		resolved: make(map[uint64]*proposal),
		queues:   make(map[string][]uint64),
	}
}

// register assigns an id, queues the proposal for each participant user and
// marks it live. p must be fully built; nothing can fail after this point.
func (r *Registry) register(p *proposal) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	p.id = r.nextID
	p.state = AwaitingResponses
	r.live[p.id] = p
	for _, email := range p.users {
		r.queues[email] = append(r.queues[email], p.id)
	}
	return p.id
}

// verdict is what the caller must do after a response is recorded.
type verdict int

const (
	verdictWait verdict = iota
	verdictCommit
	verdictReject
)

// respond records email's decision on their oldest pending proposal. On a
// rejection or a final acceptance the proposal leaves the live set before
// the lock is released, so no other response can reach it.
func (r *Registry) respond(resp Response) (*proposal, verdict, error) {
	if resp.Decision != Accept && resp.Decision != Reject {
		return nil, verdictWait, fmt.Errorf("decision %d: %w", resp.Decision, ErrInvalidDecision)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if resp.Target != 0 {
		if p := r.lookup(resp.Target); p != nil {
			if st, ok := p.responses[resp.Email]; ok && st != Pending {
				return nil, verdictWait, fmt.Errorf("proposal %d: %w", resp.Target, ErrDuplicateResponse)
			}
		}
	}

	queue := r.queues[resp.Email]
	if len(queue) == 0 {
		if id := r.answered(resp.Email); id != 0 {
			return nil, verdictWait, fmt.Errorf("proposal %d: %w", id, ErrDuplicateResponse)
		}
		return nil, verdictWait, fmt.Errorf("%s: %w", resp.Email, ErrNoPendingProposal)
	}
	// Queues only ever hold live ids whose response from this user is pending.
	p := r.live[queue[0]]
	r.dequeue(resp.Email, p.id)

	if resp.Decision == Reject {
		p.responses[resp.Email] = Rejected
		p.state = Aborted
		p.cause = CauseRejected
		r.retire(p)
		return p, verdictReject, nil
	}

	p.responses[resp.Email] = Accepted
	if !p.allAccepted() {
		return p, verdictWait, nil
	}
	p.state = Committing
	r.retire(p)
	return p, verdictCommit, nil
}

// finish sets the terminal state of a proposal that was committing.
func (r *Registry) finish(p *proposal, state State, cause Cause, failedIBAN string) {
	r.mu.Lock()
	p.state = state
	p.cause = cause
	p.failedIBAN = failedIBAN
	r.mu.Unlock()
}

// retire moves p out of the live set and out of every queue.
func (r *Registry) retire(p *proposal) {
	delete(r.live, p.id)
	r.resolved[p.id] = p
	for _, email := range p.users {
		r.dequeue(email, p.id)
	}
}

func (r *Registry) dequeue(email string, id uint64) {
	q := r.queues[email]
	for i, qid := range q {
		if qid == id {
			q = append(q[:i:i], q[i+1:]...)
			break
		}
	}
	if len(q) == 0 {
		delete(r.queues, email)
		return
	}
	r.queues[email] = q
}

// answered returns the oldest live proposal email has already answered, or 0.
func (r *Registry) answered(email string) uint64 {
	var oldest uint64
	for id, p := range r.live {
		if st, ok := p.responses[email]; ok && st != Pending && (oldest == 0 || id < oldest) {
			oldest = id
		}
	}
	return oldest
}

func (r *Registry) lookup(id uint64) *proposal {
	if p, ok := r.live[id]; ok {
		return p
	}
	return r.resolved[id]
}

// Snapshot returns a copy of a live or resolved proposal.
func (r *Registry) Snapshot(id uint64) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.lookup(id)
	if p == nil {
		return Snapshot{}, false
	}
	return p.snapshot(), true
}

// Pending lists the ids waiting on email's answer, oldest first.
func (r *Registry) Pending(email string) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.queues[email]...)
}

// Live counts proposals still awaiting responses.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
