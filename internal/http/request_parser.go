// This file decodes split requests from JSON bodies. Policy inputs are read
// leniently: a value that is neither a number nor a numeric string counts as
// not declared, the same as an absent key.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"splitter/internal/core"
)

// MaxBodyBytes caps the size of any request body.
const MaxBodyBytes = 1 << 20

var (
	ErrEmptyBody    = errors.New("request body is empty")
	ErrMissingTotal = errors.New("total is required and must be numeric")
)

type participantBody struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Percentage   core.Amount `json:"percentage"`
	CustomAmount core.Amount `json:"customAmount"`
}

type splitRequestBody struct {
	Total        core.Amount       `json:"total"`
	Policy       string            `json:"policy"`
	Participants []participantBody `json:"participants"`
}

// splitInput is a decoded split request plus the policy name as sent.
type splitInput struct {
	core.SplitRequest
	PolicyName string
}

func (b splitRequestBody) toInput() (splitInput, error) {
	if b.Total.Ptr() == nil {
		return splitInput{}, ErrMissingTotal
	}
	policyName := strings.TrimSpace(b.Policy)
	in := splitInput{
		SplitRequest: core.SplitRequest{
			Total:        *b.Total.Ptr(),
			Policy:       core.ParsePolicy(policyName),
			Participants: make([]core.Participant, len(b.Participants)),
		},
		PolicyName: policyName,
	}
	for i, p := range b.Participants {
		in.Participants[i] = core.Participant{
			ID:           sanitizeInput(p.ID),
			Name:         sanitizeInput(p.Name),
			Percentage:   p.Percentage.Ptr(),
			CustomAmount: p.CustomAmount.Ptr(),
		}
	}
	return in, nil
}

// readBody reads at most MaxBodyBytes from the request.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}
	return body, nil
}

// DecodeSplitRequest parses a single split request body.
func DecodeSplitRequest(w http.ResponseWriter, r *http.Request) (splitInput, error) {
	body, err := readBody(w, r)
	if err != nil {
		return splitInput{}, err
	}
	var req splitRequestBody
	if err := json.Unmarshal(body, &req); err != nil {
		return splitInput{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return req.toInput()
}

// DecodeBatchRequest parses {"requests": [...]} into split inputs, keeping order.
func DecodeBatchRequest(w http.ResponseWriter, r *http.Request, limit int) ([]splitInput, error) {
	body, err := readBody(w, r)
	if err != nil {
		return nil, err
	}
	var batch struct {
		Requests []splitRequestBody `json:"requests"`
	}
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(batch.Requests) == 0 {
		return nil, errors.New("requests must not be empty")
	}
	if limit > 0 && len(batch.Requests) > limit {
		return nil, fmt.Errorf("too many requests in batch: %d > %d", len(batch.Requests), limit)
	}
	out := make([]splitInput, len(batch.Requests))
	for i, b := range batch.Requests {
		in, err := b.toInput()
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		out[i] = in
	}
	return out, nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
