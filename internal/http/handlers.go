package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"splitter/internal/core"
	"splitter/internal/log"
	"splitter/internal/middleware/trace"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Payload(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).String(),
	}).Write(w)
}

// handleReady reports whether the server accepts new work. It turns
// unavailable as soon as shutdown starts.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	httpStatus := http.StatusOK
	checks := map[string]any{
		"split_service": "ok",
		"rate_limiter": map[string]any{
			"active_clients": s.rateLimiter.ActiveClients(),
			"status":         "ok",
		},
	}
	if s.draining.Load() {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
		checks["server"] = "shutting down"
	}

	NewJSONResponse().Status(httpStatus).Payload(map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// handleMetrics provides application metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	stats := s.splits.Stats()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	traceMetrics := s.traceMiddleware.GetMetrics()
	uptime := time.Since(s.started)

	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "# HELP http_requests_total Total number of HTTP requests\n")
	fmt.Fprintf(w, "# TYPE http_requests_total counter\n")
	fmt.Fprintf(w, "http_requests_total %d\n\n", traceMetrics.TotalRequests)

	fmt.Fprintf(w, "# HELP http_errors_total HTTP responses with an error status\n")
	fmt.Fprintf(w, "# TYPE http_errors_total counter\n")
	fmt.Fprintf(w, "http_errors_total{class=\"4xx\"} %d\n", traceMetrics.ClientErrors)
	fmt.Fprintf(w, "http_errors_total{class=\"5xx\"} %d\n\n", traceMetrics.ServerErrors)

	fmt.Fprintf(w, "# HELP split_previews_total Split previews computed\n")
	fmt.Fprintf(w, "# TYPE split_previews_total counter\n")
	fmt.Fprintf(w, "split_previews_total %d\n\n", stats.Previews)

	fmt.Fprintf(w, "# HELP split_validations_total Validation-only requests\n")
	fmt.Fprintf(w, "# TYPE split_validations_total counter\n")
	fmt.Fprintf(w, "split_validations_total %d\n\n", stats.Validations)

	fmt.Fprintf(w, "# HELP split_problems_total Requests whose policy inputs were inconsistent\n")
	fmt.Fprintf(w, "# TYPE split_problems_total counter\n")
	fmt.Fprintf(w, "split_problems_total %d\n\n", stats.Problems)

	fmt.Fprintf(w, "# HELP split_fallbacks_total Percentage splits that fell back to equal\n")
	fmt.Fprintf(w, "# TYPE split_fallbacks_total counter\n")
	fmt.Fprintf(w, "split_fallbacks_total %d\n\n", stats.Fallbacks)

	fmt.Fprintf(w, "# HELP split_clamps_total Custom amount splits scaled down to the total\n")
	fmt.Fprintf(w, "# TYPE split_clamps_total counter\n")
	fmt.Fprintf(w, "split_clamps_total %d\n\n", stats.Clamps)

	fmt.Fprintf(w, "# HELP rate_limit_hits_total Total rate limit hits\n")
	fmt.Fprintf(w, "# TYPE rate_limit_hits_total counter\n")
	fmt.Fprintf(w, "rate_limit_hits_total %d\n\n", rateLimitMetrics.TotalHits)

	fmt.Fprintf(w, "# HELP active_rate_limit_clients Currently tracked rate limit clients\n")
	fmt.Fprintf(w, "# TYPE active_rate_limit_clients gauge\n")
	fmt.Fprintf(w, "active_rate_limit_clients %d\n\n", rateLimitMetrics.ClientCount)

	fmt.Fprintf(w, "# HELP uptime_seconds Application uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE uptime_seconds gauge\n")
	fmt.Fprintf(w, "uptime_seconds %.0f\n\n", uptime.Seconds())
}

// handleListPolicies lists the known policies and the request limits that
// apply to every split call.
func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	names := core.PolicyNames()
	out := make([]policyResponse, len(names))
	for i, name := range names {
		out[i] = describePolicy(name)
	}
	NewJSONResponse().Payload(map[string]any{
		"policies": out,
		"limits": limitsResponse{
			MaxParticipants: s.splits.MaxParticipants(),
			MaxBatchSize:    s.maxBatchSize,
			MaxTotal:        core.MaxAmount,
		},
	}).Write(w)
}

// handleDescribePolicy tells how a policy name would be applied. Unknown
// names are not an error: they split equally.
func (s *Server) handleDescribePolicy(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Payload(describePolicy(chi.URLParam(r, "name"))).Write(w)
}

func describePolicy(name string) policyResponse {
	p := core.ParsePolicy(name)
	return policyResponse{
		Name:      name,
		Known:     p != core.PolicyUnknown,
		Effective: p.Effective().String(),
	}
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	in, err := DecodeSplitRequest(w, r)
	if err != nil {
		s.writeError(w, r, decodeStatus(err), err, log.OpParse)
		return
	}

	p, err := s.splits.Preview(ctx, in.SplitRequest)
	if err != nil {
		s.writeError(w, r, statusForError(err), err, log.OpPreview)
		return
	}
	NewJSONResponse().Payload(toPreviewResponse(in, p)).Write(w)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	in, err := DecodeSplitRequest(w, r)
	if err != nil {
		s.writeError(w, r, decodeStatus(err), err, log.OpParse)
		return
	}

	problem, err := s.splits.Validate(ctx, in.SplitRequest)
	if err != nil {
		s.writeError(w, r, statusForError(err), err, log.OpValidate)
		return
	}
	NewJSONResponse().Payload(validateResponse{
		Valid:   problem == nil,
		Problem: toProblemResponse(problem),
	}).Write(w)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inputs, err := DecodeBatchRequest(w, r, s.maxBatchSize)
	if err != nil {
		s.writeError(w, r, decodeStatus(err), err, log.OpParse)
		return
	}

	reqs := make([]core.SplitRequest, len(inputs))
	for i, in := range inputs {
		reqs[i] = in.SplitRequest
	}
	previews, err := s.splits.CalculateBatch(ctx, reqs)
	if err != nil {
		s.writeError(w, r, statusForError(err), err, log.OpBatch)
		return
	}

	resp := batchResponse{Results: make([]previewResponse, len(previews))}
	for i, p := range previews {
		resp.Results[i] = toPreviewResponse(inputs[i], p)
	}
	NewJSONResponse().Payload(resp).Write(w)
}

// writeError logs a failed request and writes the JSON error body.
// Client errors log at warn, server errors at error.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error, op string) {
	ctx := r.Context()
	logger := log.FromContext(ctx)
	fields := log.NewFields().WithOperation(op).WithError(err).
		WithHTTPRequest(r.Method, r.URL.Path, "", r.UserAgent())
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "Request failed", fields.ToSlice()...)
	} else {
		logger.WarnContext(ctx, "Request rejected", fields.ToSlice()...)
	}

	var resp *JSONResponseBuilder
	switch {
	case status >= http.StatusInternalServerError:
		resp = InternalServerError("internal error")
	case status == http.StatusBadRequest:
		resp = BadRequestError(err.Error())
	case status == http.StatusUnprocessableEntity:
		resp = UnprocessableEntityError(err.Error())
	default:
		resp = ErrorResponse(status, err.Error())
	}
	resp.RequestID(trace.GetRequestID(ctx)).Write(w)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	NotFoundError("not found").RequestID(trace.GetRequestID(r.Context())).Write(w)
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	MethodNotAllowedError(s.allowedMethods(r.URL.Path)).
		RequestID(trace.GetRequestID(r.Context())).Write(w)
}

// writeRateLimited is the limiter's rejection handler.
func (s *Server) writeRateLimited(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log.FromContext(ctx).WithComponent(log.ComponentRateLimit).WarnContext(ctx, "Rate limit exceeded",
		log.NewFields().WithClientIP(s.ipResolver.ExtractClientIP(r)).
			WithHTTPRequest(r.Method, r.URL.Path, "", r.UserAgent()).ToSlice()...)
	TooManyRequestsError().RequestID(trace.GetRequestID(ctx)).Write(w)
}

// recoverPanics turns a handler panic into a 500.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ctx := r.Context()
				log.FromContext(ctx).ErrorContext(ctx, "Handler panic",
					log.FieldError, fmt.Sprint(rec),
					log.FieldErrorType, log.ErrorTypeInternal,
					log.FieldPath, r.URL.Path)
				InternalServerError("internal error").RequestID(trace.GetRequestID(ctx)).Write(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
