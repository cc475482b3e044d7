package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splitter/internal/core"
	"splitter/internal/log"
	"splitter/internal/middleware/trace"
	"splitter/internal/services"
)

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	var buf bytes.Buffer
	logger := log.New(log.Config{Level: slog.LevelDebug, Component: log.ComponentApp, Output: &buf})
	if opts.Logger == nil {
		opts.Logger = logger
	}
	if opts.RateLimitPerMinute == 0 {
		opts.RateLimitPerMinute = 1000
	}
	srv, err := NewServer(":0", services.NewSplitService(services.Options{MaxParticipants: 10}, logger), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decodePreview(t *testing.T, rr *httptest.ResponseRecorder) previewResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp previewResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func amounts(resp previewResponse) []float64 {
	out := make([]float64, len(resp.Shares))
	for i, s := range resp.Shares {
		out[i] = s.Amount
	}
	return out
}

func TestPreview_Scenarios(t *testing.T) {
	srv := newTestServer(t, Options{})

	tests := []struct {
		name     string
		body     string
		want     []float64
		valid    bool
		fellBack bool
		clamped  bool
		applied  string
	}{
		{
			name:    "equal split",
			body:    `{"total":100,"policy":"Equal Split","participants":[{"id":"alice"},{"id":"bob"}]}`,
			want:    []float64{50, 50},
			valid:   true,
			applied: "Equal Split",
		},
		{
			name:    "percentage",
			body:    `{"total":200,"policy":"Percentage","participants":[{"id":"alice","percentage":70},{"id":"bob","percentage":30}]}`,
			want:    []float64{140, 60},
			valid:   true,
			applied: "Percentage",
		},
		{
			name:     "percentage not summing to 100 falls back",
			body:     `{"total":100,"policy":"Percentage","participants":[{"id":"alice","percentage":60},{"id":"bob","percentage":20}]}`,
			want:     []float64{50, 50},
			fellBack: true,
			applied:  "Equal Split",
		},
		{
			name:    "custom amount remainder",
			body:    `{"total":100,"policy":"Custom Amount","participants":[{"id":"alice","customAmount":30},{"id":"bob"}]}`,
			want:    []float64{30, 70},
			valid:   true,
			applied: "Custom Amount",
		},
		{
			name:    "custom amount clamped",
			body:    `{"total":100,"policy":"Custom Amount","participants":[{"id":"alice","customAmount":120},{"id":"bob"}]}`,
			want:    []float64{100, 0},
			clamped: true,
			applied: "Custom Amount",
		},
		{
			name:    "no participants",
			body:    `{"total":100,"policy":"Equal Split","participants":[]}`,
			want:    []float64{},
			valid:   true,
			applied: "Equal Split",
		},
		{
			name:    "unknown policy splits equally",
			body:    `{"total":90,"policy":"Whatever","participants":[{"id":"a"},{"id":"b"},{"id":"c"}]}`,
			want:    []float64{30, 30, 30},
			valid:   true,
			applied: "Equal Split",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := decodePreview(t, do(srv, http.MethodPost, "/api/v1/splits/preview", tt.body))
			got := amounts(resp)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], got[i], 0.01)
			}
			assert.Equal(t, tt.valid, resp.Valid)
			assert.Equal(t, tt.fellBack, resp.FellBack)
			assert.Equal(t, tt.clamped, resp.Clamped)
			assert.Equal(t, tt.applied, resp.AppliedPolicy)
		})
	}
}

func TestPreview_ResponseShape(t *testing.T) {
	srv := newTestServer(t, Options{})

	rr := do(srv, http.MethodPost, "/api/v1/splits/preview",
		`{"total":100,"policy":"Percentage","participants":[{"id":"alice","name":"Alice","percentage":60},{"id":"bob","percentage":20}]}`)
	resp := decodePreview(t, rr)

	assert.Equal(t, "Percentage", resp.Policy)
	require.NotNil(t, resp.Problem)
	assert.Equal(t, "percentage_total", resp.Problem.Kind)
	assert.Equal(t, "Total percentage must be 100%", resp.Problem.Message)
	assert.Equal(t, "alice", resp.Shares[0].ParticipantID)
	assert.Equal(t, "Alice", resp.Shares[0].Name)
	assert.Equal(t, int64(5000), resp.Shares[0].Cents)
	assert.Equal(t, int64(10000), resp.TotalCents)
	assert.Equal(t, "50.00", resp.Shares[0].Display)
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get(trace.RequestIDHeader))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	empty := do(srv, http.MethodPost, "/api/v1/splits/preview", `{"total":5,"policy":"Equal Split"}`)
	assert.Contains(t, empty.Body.String(), `"shares":[]`)
}

func TestPreview_CentsAddUp(t *testing.T) {
	srv := newTestServer(t, Options{})

	resp := decodePreview(t, do(srv, http.MethodPost, "/api/v1/splits/preview",
		`{"total":100,"policy":"Equal Split","participants":[{"id":"a"},{"id":"b"},{"id":"c"}]}`))
	var cents int64
	for _, s := range resp.Shares {
		cents += s.Cents
	}
	assert.Equal(t, int64(10000), cents)
	assert.Equal(t, int64(3334), resp.Shares[0].Cents)
}

func TestPreview_LenientPolicyFields(t *testing.T) {
	srv := newTestServer(t, Options{})

	t.Run("non-numeric percentage counts as missing", func(t *testing.T) {
		resp := decodePreview(t, do(srv, http.MethodPost, "/api/v1/splits/preview",
			`{"total":100,"policy":"Percentage","participants":[{"id":"a","percentage":"abc"},{"id":"b","percentage":100}]}`))
		assert.True(t, resp.Valid)
		assert.InDelta(t, 0, resp.Shares[0].Amount, 1e-9)
		assert.InDelta(t, 100, resp.Shares[1].Amount, 1e-9)
	})

	t.Run("numeric strings with comma", func(t *testing.T) {
		resp := decodePreview(t, do(srv, http.MethodPost, "/api/v1/splits/preview",
			`{"total":"100,00","policy":"Custom Amount","participants":[{"id":"a","customAmount":"12,50"},{"id":"b"}]}`))
		assert.InDelta(t, 12.5, resp.Shares[0].Amount, 1e-9)
		assert.InDelta(t, 87.5, resp.Shares[1].Amount, 1e-9)
	})

	t.Run("null custom amount absorbs remainder", func(t *testing.T) {
		resp := decodePreview(t, do(srv, http.MethodPost, "/api/v1/splits/preview",
			`{"total":10,"policy":"Custom Amount","participants":[{"id":"a","customAmount":4},{"id":"b","customAmount":null}]}`))
		assert.InDelta(t, 6, resp.Shares[1].Amount, 1e-9)
	})
}

func TestPreview_Errors(t *testing.T) {
	srv := newTestServer(t, Options{})

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"empty body", "", http.StatusBadRequest},
		{"invalid json", `{"total":`, http.StatusBadRequest},
		{"missing total", `{"policy":"Equal Split","participants":[{"id":"a"}]}`, http.StatusBadRequest},
		{"non-numeric total", `{"total":"abc","participants":[{"id":"a"}]}`, http.StatusBadRequest},
		{"total too large for cents", `{"total":1e20,"participants":[{"id":"a"},{"id":"b"}]}`, http.StatusBadRequest},
		{"missing participant id", `{"total":1,"participants":[{"name":"x"}]}`, http.StatusBadRequest},
		{"duplicate participant", `{"total":1,"participants":[{"id":"a"},{"id":"a"}]}`, http.StatusUnprocessableEntity},
		{"too many participants", `{"total":1,"participants":[` + participantsJSON(11) + `]}`, http.StatusUnprocessableEntity},
		{"body too large", `{"total":1,"policy":"` + strings.Repeat("x", MaxBodyBytes) + `"}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/splits/preview", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()
			srv.Handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			var body errorBody
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, rr.Header().Get(trace.RequestIDHeader), body.RequestID)
		})
	}
}

func participantsJSON(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = `{"id":"p` + string(rune('a'+i)) + `"}`
	}
	return strings.Join(parts, ",")
}

func TestValidate(t *testing.T) {
	srv := newTestServer(t, Options{})

	rr := do(srv, http.MethodPost, "/api/v1/splits/validate",
		`{"total":50,"policy":"Custom Amount","participants":[{"id":"a","customAmount":30},{"id":"b","customAmount":30}]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp validateResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Valid)
	require.NotNil(t, resp.Problem)
	assert.Equal(t, "Total custom amounts cannot exceed 50.00", resp.Problem.Message)

	rr = do(srv, http.MethodPost, "/api/v1/splits/validate",
		`{"total":100,"policy":"Percentage","participants":[{"id":"a","percentage":70},{"id":"b","percentage":30}]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"valid":true}`, rr.Body.String())
}

func TestBatch(t *testing.T) {
	srv := newTestServer(t, Options{MaxBatchSize: 3})

	rr := do(srv, http.MethodPost, "/api/v1/splits/batch", `{"requests":[
		{"total":100,"policy":"Equal Split","participants":[{"id":"a"},{"id":"b"}]},
		{"total":200,"policy":"Percentage","participants":[{"id":"a","percentage":70},{"id":"b","percentage":30}]}
	]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp batchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.InDelta(t, 50, resp.Results[0].Shares[0].Amount, 1e-9)
	assert.InDelta(t, 140, resp.Results[1].Shares[0].Amount, 1e-9)

	rr = do(srv, http.MethodPost, "/api/v1/splits/batch", `{"requests":[
		{"total":1,"participants":[{"id":"a"}]},
		{"total":1,"participants":[{"id":"x"},{"id":"x"}]}
	]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(srv, http.MethodPost, "/api/v1/splits/batch", `{"requests":[]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(srv, http.MethodPost, "/api/v1/splits/batch", `{"requests":[{"total":1},{"total":1},{"total":1},{"total":1}]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPolicies(t *testing.T) {
	srv := newTestServer(t, Options{})

	rr := do(srv, http.MethodGet, "/api/v1/policies", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Policies []policyResponse `json:"policies"`
		Limits   limitsResponse   `json:"limits"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Policies, 3)
	assert.Equal(t, "Equal Split", list.Policies[0].Name)
	assert.True(t, list.Policies[2].Known)
	assert.Equal(t, 10, list.Limits.MaxParticipants)
	assert.Equal(t, 100, list.Limits.MaxBatchSize)
	assert.Equal(t, core.MaxAmount, list.Limits.MaxTotal)

	rr = do(srv, http.MethodGet, "/api/v1/policies/Percentage", "")
	assert.JSONEq(t, `{"name":"Percentage","known":true,"effective":"Percentage"}`, rr.Body.String())

	rr = do(srv, http.MethodGet, "/api/v1/policies/Bogus", "")
	assert.JSONEq(t, `{"name":"Bogus","known":false,"effective":"Equal Split"}`, rr.Body.String())
}

func TestRoutingErrors(t *testing.T) {
	srv := newTestServer(t, Options{})

	rr := do(srv, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), `"error":"not found"`)

	rr = do(srv, http.MethodGet, "/api/v1/splits/preview", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "POST", rr.Header().Get("Allow"))
	assert.Contains(t, rr.Body.String(), `"error":"method not allowed"`)
	assert.Contains(t, rr.Body.String(), `"requestId"`)

	rr = do(srv, http.MethodPost, "/healthz", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "GET", rr.Header().Get("Allow"))
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, Options{RateLimitPerMinute: 2})
	body := `{"total":1,"participants":[{"id":"a"}]}`

	for i := 0; i < 2; i++ {
		rr := do(srv, http.MethodPost, "/api/v1/splits/preview", body)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := do(srv, http.MethodPost, "/api/v1/splits/preview", body)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// reads are not limited
	rr = do(srv, http.MethodGet, "/api/v1/policies", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHealthReadyMetrics(t *testing.T) {
	srv := newTestServer(t, Options{})

	assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/readyz", "").Code)

	do(srv, http.MethodPost, "/api/v1/splits/preview",
		`{"total":100,"policy":"Percentage","participants":[{"id":"a","percentage":10}]}`)

	rr := do(srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "split_previews_total 1")
	assert.Contains(t, body, "split_fallbacks_total 1")
	assert.Contains(t, body, "http_requests_total")

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.Equal(t, http.StatusServiceUnavailable, do(srv, http.MethodGet, "/readyz", "").Code)
	// second call is a no-op
	assert.NoError(t, srv.Shutdown(context.Background()))
}

func TestRecoverPanics(t *testing.T) {
	srv := newTestServer(t, Options{})
	h := srv.recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rr.Body.String())
}

func TestNewServer_RejectsBadProxies(t *testing.T) {
	_, err := NewServer(":0", services.NewSplitService(services.Options{}, nil), Options{TrustedProxies: []string{"nope"}})
	assert.Error(t, err)

	_, err = NewServer(":0", nil, Options{})
	assert.Error(t, err)
}
