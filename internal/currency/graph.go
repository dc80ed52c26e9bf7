package currency

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// RatePrecision is the number of fractional digits kept for every stored rate.
	RatePrecision int32 = 20
	// AmountPrecision is the number of fractional digits kept for converted amounts.
	AmountPrecision int32 = 14
	// DisplayPrecision is the granularity amounts are shown with.
	DisplayPrecision int32 = 2
)

var (
	ErrNoConversionPath = errors.New("no conversion path")
	ErrInvalidRate      = errors.New("invalid exchange rate")
)

// Code is an opaque currency code such as "RON" or "EUR".
type Code string

// Normalize upper-cases and trims a code read from input.
func Normalize(s string) Code {
	return Code(strings.ToUpper(strings.TrimSpace(s)))
}

// Rate is one directly quoted exchange rate: 1 From buys Rate To.
type Rate struct {
	From Code
	To   Code
	Rate decimal.Decimal
}

// Graph holds the conversion closure derived from a set of direct quotes.
// It is immutable once built and safe for concurrent use.
type Graph struct {
	rates      map[Code]map[Code]decimal.Decimal
	currencies []Code
}

// NewGraph inserts every quote and its reciprocal, then closes the table under
// transitive composition. A later quote for the same pair replaces an earlier one.
func NewGraph(direct []Rate) (*Graph, error) {
	g := &Graph{rates: make(map[Code]map[Code]decimal.Decimal)}
	seen := make(map[Code]struct{})
	for i, r := range direct {
		if r.From == "" || r.To == "" {
			return nil, fmt.Errorf("rate %d: %w: empty currency", i, ErrInvalidRate)
		}
		if !r.Rate.IsPositive() {
			return nil, fmt.Errorf("rate %d %s->%s: %w: %s", i, r.From, r.To, ErrInvalidRate, r.Rate)
		}
		if r.From == r.To {
			if !r.Rate.Equal(decimal.NewFromInt(1)) {
				return nil, fmt.Errorf("rate %d %s->%s: %w: self rate must be 1", i, r.From, r.To, ErrInvalidRate)
			}
			continue
		}
		g.set(r.From, r.To, r.Rate.Round(RatePrecision))
		g.set(r.To, r.From, decimal.NewFromInt(1).DivRound(r.Rate, RatePrecision))
		seen[r.From] = struct{}{}
		seen[r.To] = struct{}{}
	}

	for c := range seen {
		g.currencies = append(g.currencies, c)
	}
	sort.Slice(g.currencies, func(i, j int) bool { return g.currencies[i] < g.currencies[j] })

	g.close()
	return g, nil
}

func (g *Graph) set(from, to Code, rate decimal.Decimal) {
	row, ok := g.rates[from]
	if !ok {
		row = make(map[Code]decimal.Decimal)
		g.rates[from] = row
	}
	row[to] = rate
}

func (g *Graph) lookup(from, to Code) (decimal.Decimal, bool) {
	row, ok := g.rates[from]
	if !ok {
		return decimal.Zero, false
	}
	r, ok := row[to]
	return r, ok
}

// close runs a Warshall-style product closure in sorted currency order.
// Known rates are never overwritten, so direct quotes always win over derived ones.
func (g *Graph) close() {
	for _, k := range g.currencies {
		for _, i := range g.currencies {
			if i == k {
				continue
			}
			ik, ok := g.lookup(i, k)
			if !ok {
				continue
			}
			for _, j := range g.currencies {
				if j == i || j == k {
					continue
				}
				if _, known := g.lookup(i, j); known {
					continue
				}
				kj, ok := g.lookup(k, j)
				if !ok {
					continue
				}
				g.set(i, j, ik.Mul(kj).Round(RatePrecision))
			}
		}
	}
}

// Rate returns the closure rate from one currency to another.
func (g *Graph) Rate(from, to Code) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	r, ok := g.lookup(from, to)
	if !ok {
		return decimal.Zero, fmt.Errorf("%s -> %s: %w", from, to, ErrNoConversionPath)
	}
	return r, nil
}

// Convert returns amount expressed in the target currency, rounded to
// AmountPrecision. Same-currency conversion returns amount unchanged.
func (g *Graph) Convert(amount decimal.Decimal, from, to Code) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	r, err := g.Rate(from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(r).Round(AmountPrecision), nil
}

// Currencies lists every currency reachable in the graph, sorted.
func (g *Graph) Currencies() []Code {
	out := make([]Code, len(g.currencies))
	copy(out, g.currencies)
	return out
}

// Knows reports whether c appeared in any quote.
func (g *Graph) Knows(c Code) bool {
	_, ok := g.rates[c]
	return ok
}

// Display formats an amount at display granularity.
func Display(amount decimal.Decimal) string {
	return amount.StringFixed(DisplayPrecision)
}
