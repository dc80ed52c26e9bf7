package service

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jask/splitpay/internal/currency"
	"github.com/jask/splitpay/internal/split"
)

// ErrUnknownCommand is reported for script lines naming no known operation.
var ErrUnknownCommand = errors.New("unknown command")

// ReplayResult summarises one script run. Aborted splits are outcomes, not
// errors; Errors only holds lines that could not be applied.
type ReplayResult struct {
	Applied  int
	Errors   []error
	Outcomes []split.Result
}

// Replay applies an operation script. Columns: timestamp, command, args...
//
//	100,split,equal,300,RON,RO01 RO02 RO03
//	101,split,custom,50,EUR,RO01 RO02,20 30
//	102,accept,ana@bank.test[,proposal id]
//	103,reject,dan@bank.test
//	104,addFunds,RO01,25.5
//	105,setMinBalance,RO01,10
//	106,addInterest,RO01
//	107,changeInterestRate,RO01,0.03
//	108,convert,10,EUR,RON
//
// Lines starting with # are ignored. A bad line is recorded and skipped.
func (s *BankService) Replay(ctx context.Context, r io.Reader) (ReplayResult, error) {
	res := ReplayResult{}
	csvr := csv.NewReader(bufio.NewReader(r))
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1
	csvr.Comment = '#'

	line := 0
	for {
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.StartLine
			}
			res.Errors = append(res.Errors, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		// comments and blank lines are skipped by the reader
		line, _ = csvr.FieldPos(0)
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if len(rec) < 2 {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: expected timestamp and command", line))
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d timestamp: %w", line, err))
			continue
		}
		outcome, err := s.apply(ctx, ts, strings.TrimSpace(rec[1]), trimAll(rec[2:]))
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d %s: %w", line, rec[1], err))
			continue
		}
		if outcome != nil {
			res.Outcomes = append(res.Outcomes, *outcome)
		}
		res.Applied++
	}
	return res, nil
}

// ReplayAll runs independent scripts concurrently, one goroutine per script.
// Scripts that touch the same accounts still serialise on account locks.
func (s *BankService) ReplayAll(ctx context.Context, scripts ...io.Reader) ([]ReplayResult, error) {
	results := make([]ReplayResult, len(scripts))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range scripts {
		i, r := i, r
		g.Go(func() error {
			res, err := s.Replay(gctx, r)
			results[i] = res
			if err != nil {
				return fmt.Errorf("script %d: %w", i, err)
			}
			return nil
		})
	}
	return results, g.Wait()
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

func (s *BankService) apply(ctx context.Context, ts int64, command string, args []string) (*split.Result, error) {
	switch strings.ToLower(command) {
	case "split", "splitpayment":
		req, err := parseSplit(ts, args)
		if err != nil {
			return nil, err
		}
		_, err = s.ProposeSplit(ctx, req)
		return nil, err

	case "accept", "acceptsplitpayment", "reject", "rejectsplitpayment":
		if len(args) < 1 || args[0] == "" {
			return nil, fmt.Errorf("expected email")
		}
		resp := split.Response{Email: args[0], Decision: split.Accept}
		if strings.HasPrefix(strings.ToLower(command), "reject") {
			resp.Decision = split.Reject
		}
		if len(args) > 1 && args[1] != "" {
			target, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("proposal id: %w", err)
			}
			resp.Target = target
		}
		result, err := s.RespondToSplit(ctx, resp)
		if err != nil {
			return nil, err
		}
		if !result.State.Terminal() {
			return nil, nil
		}
		return &result, nil

	case "addfunds":
		if len(args) < 2 {
			return nil, fmt.Errorf("expected iban and amount")
		}
		amount, err := decimal.NewFromString(args[1])
		if err != nil {
			return nil, fmt.Errorf("amount: %w", err)
		}
		return nil, s.AddFunds(ctx, ts, args[0], amount)

	case "setminbalance", "setminimumbalance":
		if len(args) < 2 {
			return nil, fmt.Errorf("expected iban and amount")
		}
		amount, err := decimal.NewFromString(args[1])
		if err != nil {
			return nil, fmt.Errorf("amount: %w", err)
		}
		return nil, s.SetMinBalance(args[0], amount)

	case "addinterest":
		if len(args) < 1 {
			return nil, fmt.Errorf("expected iban")
		}
		_, err := s.AddInterest(ctx, ts, args[0])
		return nil, err

	case "changeinterestrate":
		if len(args) < 2 {
			return nil, fmt.Errorf("expected iban and rate")
		}
		rate, err := decimal.NewFromString(args[1])
		if err != nil {
			return nil, fmt.Errorf("rate: %w", err)
		}
		return nil, s.ChangeInterestRate(ctx, ts, args[0], rate)

	case "convert":
		if len(args) < 3 {
			return nil, fmt.Errorf("expected amount, from and to")
		}
		amount, err := decimal.NewFromString(args[0])
		if err != nil {
			return nil, fmt.Errorf("amount: %w", err)
		}
		from, to := currency.Normalize(args[1]), currency.Normalize(args[2])
		out, err := s.ConvertCurrency(amount, from, to)
		if err != nil {
			return nil, err
		}
		s.Logger.Info("converted",
			zap.Int64("timestamp", ts),
			zap.String("amount", amount.String()),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("result", currency.Display(out)),
		)
		return nil, nil

	default:
		return nil, fmt.Errorf("%q: %w", command, ErrUnknownCommand)
	}
}

func parseSplit(ts int64, args []string) (split.Request, error) {
	if len(args) < 4 {
		return split.Request{}, fmt.Errorf("expected kind, amount, currency and ibans")
	}
	kind, err := split.ParseKind(args[0])
	if err != nil {
		return split.Request{}, err
	}
	amount, err := decimal.NewFromString(args[1])
	if err != nil {
		return split.Request{}, fmt.Errorf("amount: %w", err)
	}
	req := split.Request{
		Timestamp: ts,
		Amount:    amount,
		Currency:  currency.Normalize(args[2]),
		Kind:      kind,
		IBANs:     strings.Fields(args[3]),
	}
	if kind == split.KindCustom {
		if len(args) < 5 {
			return split.Request{}, fmt.Errorf("custom split needs shares: %w", split.ErrParticipantCountMismatch)
		}
		for _, f := range strings.Fields(args[4]) {
			share, err := decimal.NewFromString(f)
			if err != nil {
				return split.Request{}, fmt.Errorf("share %q: %w", f, err)
			}
			req.Shares = append(req.Shares, share)
		}
	}
	return req, nil
}
