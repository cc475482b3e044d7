package core

// Policy selects how an expense total is divided among participants.
type Policy int

const (
	// PolicyUnknown is any name that does not match a known policy.
	// It is split exactly like PolicyEqual.
	PolicyUnknown Policy = iota
	PolicyEqual
	PolicyPercentage
	PolicyCustomAmount
)

// Policy names as exchanged with callers. Matching is exact and case-sensitive.
const (
	EqualSplitName   = "Equal Split"
	PercentageName   = "Percentage"
	CustomAmountName = "Custom Amount"
)

// ParsePolicy maps a policy name to its Policy. Unrecognized names yield PolicyUnknown.
func ParsePolicy(name string) Policy {
	switch name {
	case EqualSplitName:
		return PolicyEqual
	case PercentageName:
		return PolicyPercentage
	case CustomAmountName:
		return PolicyCustomAmount
	default:
		return PolicyUnknown
	}
}

// String returns the caller-facing name of the policy.
func (p Policy) String() string {
	switch p {
	case PolicyEqual:
		return EqualSplitName
	case PolicyPercentage:
		return PercentageName
	case PolicyCustomAmount:
		return CustomAmountName
	default:
		return "unknown"
	}
}

// Effective returns the policy that is actually applied: PolicyUnknown splits as PolicyEqual.
func (p Policy) Effective() Policy {
	switch p {
	case PolicyPercentage, PolicyCustomAmount:
		return p
	default:
		return PolicyEqual
	}
}

// PolicyNames lists the known policy names in display order.
func PolicyNames() []string {
	return []string{EqualSplitName, PercentageName, CustomAmountName}
}
