// Package core holds the expense splitting domain.
//
// This file implements the split engine. Each policy is a strategy that turns a
// total and an ordered participant list into one share per participant. The
// engine never fails: inconsistent inputs fall back to an equal split or are
// clamped so that shares still add up to the total.
package core

import "math"

type (
	// Participant is one person taking part in an expense.
	// Percentage and CustomAmount are optional; nil means "not declared".
	Participant struct {
		ID           string
		Name         string
		Percentage   *float64 // 0-100, Percentage policy only
		CustomAmount *float64 // Custom Amount policy only
	}

	// Share is the amount attributed to a participant.
	Share struct {
		ParticipantID string
		Amount        float64
	}

	// SplitRequest groups the inputs of one calculation.
	SplitRequest struct {
		Total        float64
		Policy       Policy
		Participants []Participant
	}

	// SplitResult is the outcome of a calculation.
	SplitResult struct {
		Shares []Share
		// Applied is the policy whose arithmetic produced Shares.
		Applied Policy
		// FellBack is set when Percentage inputs did not sum to 100
		// and the total was divided equally instead.
		FellBack bool
		// Clamped is set when declared custom amounts exceeded the total
		// and were scaled down.
		Clamped bool
	}
)

// splitter is the strategy interface for a single policy.
type splitter interface {
	split(total float64, participants []Participant) SplitResult
}

type equalSplitter struct{}

func (equalSplitter) split(total float64, participants []Participant) SplitResult {
	return SplitResult{Shares: equalShares(total, participants), Applied: PolicyEqual}
}

type percentageSplitter struct{}

func (percentageSplitter) split(total float64, participants []Participant) SplitResult {
	if !percentagesComplete(participants) {
		return SplitResult{Shares: equalShares(total, participants), Applied: PolicyEqual, FellBack: true}
	}
	shares := make([]Share, len(participants))
	for i, p := range participants {
		shares[i] = Share{ParticipantID: p.ID, Amount: total * (declared(p.Percentage) / 100)}
	}
	return SplitResult{Shares: shares, Applied: PolicyPercentage}
}

type customAmountSplitter struct{}

func (customAmountSplitter) split(total float64, participants []Participant) SplitResult {
	shares := make([]Share, len(participants))
	sum := sumCustomAmounts(participants)

	if sum > total && sum > 0 {
		factor := total / sum
		for i, p := range participants {
			shares[i] = Share{ParticipantID: p.ID}
			if p.CustomAmount != nil {
				shares[i].Amount = declared(p.CustomAmount) * factor
			}
		}
		return SplitResult{Shares: shares, Applied: PolicyCustomAmount, Clamped: true}
	}

	undeclared := 0
	for _, p := range participants {
		if p.CustomAmount == nil {
			undeclared++
		}
	}
	var each float64
	if undeclared > 0 {
		each = (total - sum) / float64(undeclared)
	}
	for i, p := range participants {
		shares[i] = Share{ParticipantID: p.ID, Amount: each}
		if p.CustomAmount != nil {
			shares[i].Amount = declared(p.CustomAmount)
		}
	}
	return SplitResult{Shares: shares, Applied: PolicyCustomAmount}
}

var splitStrategies = map[Policy]splitter{
	PolicyEqual:        equalSplitter{},
	PolicyPercentage:   percentageSplitter{},
	PolicyCustomAmount: customAmountSplitter{},
}

// CalculateSplits returns one share per participant, in input order.
// An empty participant list yields an empty result for every policy.
func CalculateSplits(total float64, policy Policy, participants []Participant) []Share {
	return Calculate(total, policy, participants).Shares
}

// Calculate is CalculateSplits with details about fallback and clamping.
func Calculate(total float64, policy Policy, participants []Participant) SplitResult {
	effective := policy.Effective()
	if len(participants) == 0 {
		return SplitResult{Shares: []Share{}, Applied: effective}
	}
	return splitStrategies[effective].split(total, participants)
}

// Calculate runs the engine on the request.
func (r SplitRequest) Calculate() SplitResult {
	return Calculate(r.Total, r.Policy, r.Participants)
}

func equalShares(total float64, participants []Participant) []Share {
	shares := make([]Share, len(participants))
	if len(participants) == 0 {
		return shares
	}
	each := total / float64(len(participants))
	for i, p := range participants {
		shares[i] = Share{ParticipantID: p.ID, Amount: each}
	}
	return shares
}

// declared reads an optional policy input. Missing, non-finite and negative
// values count as 0.
func declared(v *float64) float64 {
	if v == nil {
		return 0
	}
	f := *v
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

// sumPercentages adds the declared percentages left to right.
// The validator uses the same helper so both agree on the exact sum.
func sumPercentages(participants []Participant) float64 {
	var sum float64
	for _, p := range participants {
		sum += declared(p.Percentage)
	}
	return sum
}

func sumCustomAmounts(participants []Participant) float64 {
	var sum float64
	for _, p := range participants {
		sum += declared(p.CustomAmount)
	}
	return sum
}

// percentagesComplete reports whether the declared percentages sum to exactly 100.
func percentagesComplete(participants []Participant) bool {
	return sumPercentages(participants) == 100
}

// SumShares adds share amounts in order.
func SumShares(shares []Share) float64 {
	var sum float64
	for _, s := range shares {
		sum += s.Amount
	}
	return sum
}
