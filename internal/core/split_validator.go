package core

import "fmt"

// ProblemKind classifies a validation problem for logging.
type ProblemKind string

const (
	ProblemPercentageTotal      ProblemKind = "percentage_total"
	ProblemCustomAmountExceeded ProblemKind = "custom_amount_exceeded"
)

// SplitProblem describes why split inputs are inconsistent.
// Message is meant for end users; it is not an error code.
type SplitProblem struct {
	Kind    ProblemKind
	Message string
}

func (p *SplitProblem) String() string {
	if p == nil {
		return ""
	}
	return p.Message
}

// ValidateSplitData checks the policy-specific inputs against the total.
// It returns nil when the inputs are valid. Equal and unknown policies are always valid.
//
// The checks mirror the engine exactly: inputs accepted here never make
// CalculateSplits fall back to an equal split or clamp custom amounts.
func ValidateSplitData(policy Policy, total float64, participants []Participant) *SplitProblem {
	switch policy.Effective() {
	case PolicyPercentage:
		if !percentagesComplete(participants) {
			return &SplitProblem{
				Kind:    ProblemPercentageTotal,
				Message: "Total percentage must be 100%",
			}
		}
	case PolicyCustomAmount:
		if sumCustomAmounts(participants) > total {
			return &SplitProblem{
				Kind:    ProblemCustomAmountExceeded,
				Message: fmt.Sprintf("Total custom amounts cannot exceed %.2f", total),
			}
		}
	}
	return nil
}

// Validate runs the validator on the request.
func (r SplitRequest) Validate() *SplitProblem {
	return ValidateSplitData(r.Policy, r.Total, r.Participants)
}
