package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"splitter/internal/core"
)

// ParticipantMessage is one participant of a split request. Policy inputs
// that are not numeric are read as undeclared.
type ParticipantMessage struct {
	ID           string      `json:"id"`
	Name         string      `json:"name,omitempty"`
	Percentage   core.Amount `json:"percentage"`
	CustomAmount core.Amount `json:"customAmount"`
}

// SplitRequestMessage asks the worker to split an expense total
type SplitRequestMessage struct {
	RequestID    string               `json:"requestId"`
	ExpenseID    string               `json:"expenseId,omitempty"`
	Total        float64              `json:"total"`
	Policy       string               `json:"policy"`
	Participants []ParticipantMessage `json:"participants"`
	Timestamp    time.Time            `json:"timestamp"`
}

// ShareMessage is the amount attributed to one participant
type ShareMessage struct {
	ParticipantID string  `json:"participantId"`
	Amount        float64 `json:"amount"`
	Cents         int64   `json:"cents"`
}

// SplitResultMessage is published for every consumed split request. Error is
// set when the request could not be split at all; Problem when its policy
// inputs were inconsistent and the engine fell back or clamped.
type SplitResultMessage struct {
	RequestID     string         `json:"requestId"`
	ExpenseID     string         `json:"expenseId,omitempty"`
	Policy        string         `json:"policy"`
	AppliedPolicy string         `json:"appliedPolicy,omitempty"`
	Total         float64        `json:"total"`
	TotalCents    int64          `json:"totalCents,omitempty"`
	Valid         bool           `json:"valid"`
	Problem       string         `json:"problem,omitempty"`
	FellBack      bool           `json:"fellBack"`
	Clamped       bool           `json:"clamped"`
	Error         string         `json:"error,omitempty"`
	Shares        []ShareMessage `json:"shares"`
	Timestamp     time.Time      `json:"timestamp"`
}

// SplitRequestMessageFromJSON decodes a request. A missing request ID is
// replaced by a fresh one so results can always be correlated in logs.
func SplitRequestMessageFromJSON(data []byte) (*SplitRequestMessage, error) {
	var msg SplitRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode split request: %w", err)
	}
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	return &msg, nil
}

// ToJSON converts the message to JSON bytes
func (m *SplitRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ToSplitRequest maps the message onto the engine's input
func (m *SplitRequestMessage) ToSplitRequest() core.SplitRequest {
	req := core.SplitRequest{
		Total:        m.Total,
		Policy:       core.ParsePolicy(m.Policy),
		Participants: make([]core.Participant, len(m.Participants)),
	}
	for i, p := range m.Participants {
		req.Participants[i] = core.Participant{
			ID:           p.ID,
			Name:         p.Name,
			Percentage:   p.Percentage.Ptr(),
			CustomAmount: p.CustomAmount.Ptr(),
		}
	}
	return req
}

// NewSplitResultMessage starts the result for a request
func NewSplitResultMessage(req *SplitRequestMessage) *SplitResultMessage {
	return &SplitResultMessage{
		RequestID: req.RequestID,
		ExpenseID: req.ExpenseID,
		Policy:    req.Policy,
		Total:     req.Total,
		Shares:    []ShareMessage{},
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *SplitResultMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SplitResultMessageFromJSON decodes a result
func SplitResultMessageFromJSON(data []byte) (*SplitResultMessage, error) {
	var msg SplitResultMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode split result: %w", err)
	}
	return &msg, nil
}
