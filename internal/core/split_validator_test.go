package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSplitData(t *testing.T) {
	tests := []struct {
		name         string
		policy       Policy
		total        float64
		participants []Participant
		wantKind     ProblemKind
		wantMessage  string
	}{
		{
			name:         "equal split is always valid",
			policy:       PolicyEqual,
			total:        100,
			participants: people("alice", "bob"),
		},
		{
			name:   "unknown policy is always valid",
			policy: ParsePolicy("Shares"),
			total:  100,
			participants: []Participant{
				{ID: "alice", Percentage: pct(10)},
				{ID: "bob", CustomAmount: amount(500)},
			},
		},
		{
			name:   "percentages summing to 100",
			policy: PolicyPercentage,
			total:  200,
			participants: []Participant{
				{ID: "alice", Percentage: pct(70)},
				{ID: "bob", Percentage: pct(30)},
			},
		},
		{
			name:   "percentages summing to 80",
			policy: PolicyPercentage,
			total:  100,
			participants: []Participant{
				{ID: "alice", Percentage: pct(60)},
				{ID: "bob", Percentage: pct(20)},
			},
			wantKind:    ProblemPercentageTotal,
			wantMessage: "Total percentage must be 100%",
		},
		{
			name:   "missing percentage counts as zero",
			policy: PolicyPercentage,
			total:  100,
			participants: []Participant{
				{ID: "alice", Percentage: pct(100)},
				{ID: "bob"},
			},
		},
		{
			name:   "custom amounts under the total",
			policy: PolicyCustomAmount,
			total:  100,
			participants: []Participant{
				{ID: "alice", CustomAmount: amount(30)},
				{ID: "bob"},
			},
		},
		{
			name:   "custom amounts equal to the total",
			policy: PolicyCustomAmount,
			total:  100,
			participants: []Participant{
				{ID: "alice", CustomAmount: amount(40)},
				{ID: "bob", CustomAmount: amount(60)},
			},
		},
		{
			name:   "custom amounts over the total",
			policy: PolicyCustomAmount,
			total:  100,
			participants: []Participant{
				{ID: "alice", CustomAmount: amount(120)},
				{ID: "bob"},
			},
			wantKind:    ProblemCustomAmountExceeded,
			wantMessage: "Total custom amounts cannot exceed 100.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problem := ValidateSplitData(tt.policy, tt.total, tt.participants)
			if tt.wantMessage == "" {
				assert.Nil(t, problem)
				return
			}
			require.NotNil(t, problem)
			assert.Equal(t, tt.wantKind, problem.Kind)
			assert.Equal(t, tt.wantMessage, problem.Message)
			assert.Equal(t, tt.wantMessage, problem.String())
		})
	}
}

func TestValidateSplitData_AgreesWithEngineOnScenarios(t *testing.T) {
	invalid := []Participant{
		{ID: "alice", Percentage: pct(60)},
		{ID: "bob", Percentage: pct(20)},
	}
	assert.NotNil(t, ValidateSplitData(PolicyPercentage, 100, invalid))
	res := Calculate(100, PolicyPercentage, invalid)
	assert.True(t, res.FellBack)
	assert.Equal(t, []float64{50, 50}, amounts(res.Shares))

	req := SplitRequest{Total: 100, Policy: PolicyCustomAmount, Participants: []Participant{
		{ID: "alice", CustomAmount: amount(120)},
		{ID: "bob"},
	}}
	assert.NotNil(t, req.Validate())
	res = req.Calculate()
	assert.True(t, res.Clamped)
	assert.InDelta(t, 100, SumShares(res.Shares), 0.01)
	assert.Equal(t, 0.0, res.Shares[1].Amount)
}

func TestSplitProblem_NilString(t *testing.T) {
	var p *SplitProblem
	assert.Equal(t, "", p.String())
}
