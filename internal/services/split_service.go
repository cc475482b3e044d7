package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"splitter/internal/core"
	"splitter/internal/log"
)

var (
	ErrInvalidTotal         = errors.New("total must be a finite number within range")
	ErrTooManyParticipants  = errors.New("too many participants")
	ErrMissingParticipantID = errors.New("participant id is required")
	ErrDuplicateParticipant = errors.New("duplicate participant id")
)

// Options tunes the split service limits
type Options struct {
	MaxParticipants  int
	BatchConcurrency int
}

// Preview is a computed split ready to be shown or handed back to a caller
type Preview struct {
	Requested core.Policy
	Applied   core.Policy
	Total     float64
	// Problem is what the validator reports for the same input; nil when valid
	Problem  *core.SplitProblem
	FellBack bool
	Clamped  bool
	Shares   []core.Share
	Cents    []core.Money
}

// Stats are running counters exposed on /metrics
type Stats struct {
	Previews    int64
	Validations int64
	Problems    int64
	Fallbacks   int64
	Clamps      int64
}

// SplitService runs the split validator and engine for the HTTP API and the worker
type SplitService struct {
	opts   Options
	logger *log.StructuredLogger

	previews    atomic.Int64
	validations atomic.Int64
	problems    atomic.Int64
	fallbacks   atomic.Int64
	clamps      atomic.Int64
}

func NewSplitService(opts Options, logger *log.Logger) *SplitService {
	if opts.MaxParticipants <= 0 {
		opts.MaxParticipants = 500
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 4
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &SplitService{
		opts:   opts,
		logger: log.NewStructuredLogger(logger.WithComponent(log.ComponentSplit)),
	}
}

// Preview validates the request and computes its shares and cents.
// Inconsistent policy inputs do not fail; they are reported in Preview.Problem
// and resolved by the engine's fallback rules. Only structurally broken
// requests return an error.
func (s *SplitService) Preview(ctx context.Context, req core.SplitRequest) (Preview, error) {
	if err := s.checkRequest(req); err != nil {
		return Preview{}, err
	}

	problem := req.Validate()
	res := req.Calculate()

	p := Preview{
		Requested: req.Policy,
		Applied:   res.Applied,
		Total:     req.Total,
		Problem:   problem,
		FellBack:  res.FellBack,
		Clamped:   res.Clamped,
		Shares:    res.Shares,
		Cents:     core.AllocateCents(res.Shares),
	}

	s.previews.Add(1)
	if problem != nil {
		s.problems.Add(1)
	}
	if res.FellBack {
		s.fallbacks.Add(1)
	}
	if res.Clamped {
		s.clamps.Add(1)
	}

	s.logger.LogSplitCalculated(ctx, log.OpPreview, log.NewFields().
		WithSplit(req.Policy.String(), req.Total, len(req.Participants)).
		WithOutcome(res.Applied.String(), res.FellBack, res.Clamped).
		WithProblem(problem.String()))

	return p, nil
}

// Validate runs only the validator. A nil problem means the inputs are valid.
func (s *SplitService) Validate(ctx context.Context, req core.SplitRequest) (*core.SplitProblem, error) {
	if err := s.checkRequest(req); err != nil {
		return nil, err
	}
	s.validations.Add(1)
	problem := req.Validate()
	if problem != nil {
		s.problems.Add(1)
	}
	return problem, nil
}

// CalculateBatch previews several requests concurrently. Results keep the input order.
// The first failing request cancels the rest.
func (s *SplitService) CalculateBatch(ctx context.Context, reqs []core.SplitRequest) ([]Preview, error) {
	out := make([]Preview, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.BatchConcurrency)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := s.Preview(gctx, req)
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.LogError(ctx, "Batch split failed", err, log.OpBatch,
			log.NewFields().WithComponent(log.ComponentSplit))
		return nil, err
	}
	return out, nil
}

// Stats returns a snapshot of the service counters
func (s *SplitService) Stats() Stats {
	return Stats{
		Previews:    s.previews.Load(),
		Validations: s.validations.Load(),
		Problems:    s.problems.Load(),
		Fallbacks:   s.fallbacks.Load(),
		Clamps:      s.clamps.Load(),
	}
}

// MaxParticipants returns the configured participant limit
func (s *SplitService) MaxParticipants() int {
	return s.opts.MaxParticipants
}

func (s *SplitService) checkRequest(req core.SplitRequest) error {
	if math.IsNaN(req.Total) || math.IsInf(req.Total, 0) {
		return ErrInvalidTotal
	}
	if math.Abs(req.Total) > core.MaxAmount {
		return fmt.Errorf("%w: %g exceeds %g", ErrInvalidTotal, req.Total, core.MaxAmount)
	}
	if len(req.Participants) > s.opts.MaxParticipants {
		return fmt.Errorf("%w: %d > %d", ErrTooManyParticipants, len(req.Participants), s.opts.MaxParticipants)
	}
	seen := make(map[string]struct{}, len(req.Participants))
	for i, p := range req.Participants {
		if p.ID == "" {
			return fmt.Errorf("%w: participant %d", ErrMissingParticipantID, i)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateParticipant, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}
