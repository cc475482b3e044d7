package http

import (
	"errors"
	"net/http"

	"splitter/internal/core"
	"splitter/internal/services"
)

type shareResponse struct {
	ParticipantID string  `json:"participantId"`
	Name          string  `json:"name,omitempty"`
	Amount        float64 `json:"amount"`
	Cents         int64   `json:"cents"`
	Display       string  `json:"display"`
}

type problemResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type previewResponse struct {
	Policy        string           `json:"policy"`
	AppliedPolicy string           `json:"appliedPolicy"`
	Total         float64          `json:"total"`
	TotalCents    int64            `json:"totalCents"`
	Valid         bool             `json:"valid"`
	Problem       *problemResponse `json:"problem,omitempty"`
	FellBack      bool             `json:"fellBack"`
	Clamped       bool             `json:"clamped"`
	Shares        []shareResponse  `json:"shares"`
}

type validateResponse struct {
	Valid   bool             `json:"valid"`
	Problem *problemResponse `json:"problem,omitempty"`
}

type batchResponse struct {
	Results []previewResponse `json:"results"`
}

type limitsResponse struct {
	MaxParticipants int     `json:"maxParticipants"`
	MaxBatchSize    int     `json:"maxBatchSize"`
	MaxTotal        float64 `json:"maxTotal"`
}

type policyResponse struct {
	Name      string `json:"name"`
	Known     bool   `json:"known"`
	Effective string `json:"effective"`
}

func toProblemResponse(p *core.SplitProblem) *problemResponse {
	if p == nil {
		return nil
	}
	return &problemResponse{Kind: string(p.Kind), Message: p.Message}
}

// toPreviewResponse renders a preview. Shares follow participant order, so
// names are looked up by index.
func toPreviewResponse(in splitInput, p services.Preview) previewResponse {
	resp := previewResponse{
		Policy:        in.PolicyName,
		AppliedPolicy: p.Applied.String(),
		Total:         p.Total,
		TotalCents:    core.ToCents(p.Total).Cents,
		Valid:         p.Problem == nil,
		Problem:       toProblemResponse(p.Problem),
		FellBack:      p.FellBack,
		Clamped:       p.Clamped,
		Shares:        make([]shareResponse, len(p.Shares)),
	}
	for i, s := range p.Shares {
		resp.Shares[i] = shareResponse{
			ParticipantID: s.ParticipantID,
			Name:          in.Participants[i].Name,
			Amount:        s.Amount,
			Cents:         p.Cents[i].Cents,
			Display:       p.Cents[i].String(),
		}
	}
	return resp
}

// decodeStatus maps a request decoding error to a status code.
func decodeStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// statusForError maps service errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrDuplicateParticipant),
		errors.Is(err, services.ErrTooManyParticipants):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrInvalidTotal),
		errors.Is(err, services.ErrMissingParticipantID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
