package core

import (
	"bytes"
	"encoding/json"
)

// Amount is an optional policy input as it arrives over the wire. It accepts
// JSON numbers and numeric strings ("12,50"); anything else, null included,
// leaves it undeclared.
type Amount struct {
	value *float64
}

// NewAmount returns a declared amount.
func NewAmount(v float64) Amount {
	return Amount{value: &v}
}

// Ptr returns the value, nil when undeclared.
func (a Amount) Ptr() *float64 {
	return a.value
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	a.value = nil
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		a.value = &f
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if v, err := ParseAmount(s); err == nil {
			a.value = &v
		}
	}
	return nil
}

// MarshalJSON writes undeclared amounts as null.
func (a Amount) MarshalJSON() ([]byte, error) {
	if a.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*a.value)
}
