package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/rhuss/codeexec/pkg/api"
	"github.com/rhuss/codeexec/pkg/transport"
)

// Adapter serves the execution API over HTTP.
// It routes requests to the appropriate handler and serializes responses.
type Adapter struct {
	executor transport.Executor
	history  transport.ExecutionHistory // nil if history is disabled
	mux      *http.ServeMux
	config   Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64

	// LegacyMaxTimeout caps the timeout of the plain-text endpoints, which
	// clamp rather than reject oversized values. Zero means no cap.
	LegacyMaxTimeout int
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize:      32 << 20, // 32 MB
		LegacyMaxTimeout: 120,
	}
}

// NewAdapter creates an HTTP adapter for the given Executor.
// The ExecutionHistory is optional; when nil, the /v1/executions endpoints
// return 501. Middleware is applied to the Executor in the given order.
func NewAdapter(executor transport.Executor, history transport.ExecutionHistory, cfg Config, middlewares ...transport.Middleware) *Adapter {
	if len(middlewares) > 0 {
		executor = transport.Chain(middlewares...)(executor)
	}

	a := &Adapter{
		executor: executor,
		history:  history,
		mux:      http.NewServeMux(),
		config:   cfg,
	}

	a.mux.HandleFunc("POST /v1/exec", a.handleExecute)
	a.mux.HandleFunc("POST /v1/exec/batch", a.handleExecuteBatch)
	a.mux.HandleFunc("POST /v1/coverage", a.handleCoverage)
	a.mux.HandleFunc("GET /v1/executions", a.handleListExecutions)
	a.mux.HandleFunc("GET /v1/executions/{id}", a.handleGetExecution)
	a.mux.HandleFunc("DELETE /v1/executions/{id}", a.handleDeleteExecution)

	a.mux.HandleFunc("POST /py_exec", a.handleLegacyExec(true))
	a.mux.HandleFunc("POST /any_exec", a.handleLegacyExec(false))
	a.mux.HandleFunc("POST /py_coverage", a.handleLegacyCoverage)

	a.mux.HandleFunc("GET /healthz", a.handleHealth(false))
	a.mux.HandleFunc("GET /readyz", a.handleHealth(true))

	return a
}

// Handle registers an additional handler on the adapter's mux, e.g. the
// metrics endpoint or the MCP server.
func (a *Adapter) Handle(pattern string, h http.Handler) {
	a.mux.Handle(pattern, h)
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest. The returned handler includes
// HTTP-level middleware for request ID propagation.
func (a *Adapter) Handler() http.Handler {
	return httpRequestIDMiddleware(a.mux)
}

// Mux returns the bare mux, without request ID handling.
func (a *Adapter) Mux() *http.ServeMux {
	return a.mux
}

// httpRequestIDMiddleware propagates the X-Request-ID header. A missing ID
// is generated so every response carries one.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = transport.NewRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(transport.ContextWithRequestID(r.Context(), id)))
	})
}

// handleExecute handles POST /v1/exec.
func (a *Adapter) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req api.ExecutionRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	res, err := a.executor.Execute(r.Context(), &req)
	if err != nil {
		a.writeHandlerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleExecuteBatch handles POST /v1/exec/batch.
func (a *Adapter) handleExecuteBatch(w http.ResponseWriter, r *http.Request) {
	var req api.BatchExecutionRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	if req.SourceCodes == nil || req.TestCodes == nil {
		transport.WriteAPIError(w, api.NewInvalidRequestError("source_codes", "source_codes and test_codes are required"))
		return
	}

	res, err := a.executor.ExecuteBatch(r.Context(), &req)
	if err != nil {
		a.writeHandlerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCoverage handles POST /v1/coverage.
func (a *Adapter) handleCoverage(w http.ResponseWriter, r *http.Request) {
	var req api.CoverageRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	res, err := a.executor.Coverage(r.Context(), &req)
	if err != nil {
		a.writeHandlerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleLegacyExec handles POST /py_exec (python only) and POST /any_exec.
// The response is always plain text; invalid requests are reported in the
// text body as a failed run, the way the original endpoints did.
func (a *Adapter) handleLegacyExec(pythonOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.LegacyRequest
		if !a.decodeLegacy(w, r, &req) {
			return
		}

		lang := req.Lang
		if pythonOnly {
			lang = api.LanguagePython
		}

		res, err := a.executor.Execute(r.Context(), &api.ExecutionRequest{
			SourceCode:     req.Code,
			Language:       lang,
			TimeoutSeconds: a.legacyTimeout(req.Timeout),
		})
		if err != nil {
			apiErr := transport.AsAPIError(err)
			if apiErr.Type == api.ErrorTypeInvalidRequest {
				writeText(w, http.StatusOK, "1\n"+apiErr.Message)
				return
			}
			a.writeLegacyError(w, r, apiErr)
			return
		}
		writeText(w, http.StatusOK, api.LegacyText(res))
	}
}

// handleLegacyCoverage handles POST /py_coverage. The body is the coverage
// percentage, or -1.
func (a *Adapter) handleLegacyCoverage(w http.ResponseWriter, r *http.Request) {
	var req api.LegacyRequest
	if !a.decodeLegacy(w, r, &req) {
		return
	}

	res, err := a.executor.Coverage(r.Context(), &api.CoverageRequest{
		Code:           req.Code,
		TimeoutSeconds: a.legacyTimeout(req.Timeout),
	})
	if err != nil {
		apiErr := transport.AsAPIError(err)
		if apiErr.Type == api.ErrorTypeInvalidRequest {
			writeText(w, http.StatusOK, "-1")
			return
		}
		a.writeLegacyError(w, r, apiErr)
		return
	}
	writeText(w, http.StatusOK, strconv.Itoa(res.Coverage))
}

func (a *Adapter) legacyTimeout(s api.LegacySeconds) int {
	secs := int(s)
	if a.config.LegacyMaxTimeout > 0 && secs > a.config.LegacyMaxTimeout {
		return a.config.LegacyMaxTimeout
	}
	return secs
}

// handleHealth serves /healthz (always 200 while the process is up) and
// /readyz (503 unless every dependency is healthy).
func (a *Adapter) handleHealth(readiness bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := a.executor.Health(r.Context())
		status := http.StatusOK
		if readiness && h.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, h)
	}
}

// handleGetExecution handles GET /v1/executions/{id}.
func (a *Adapter) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	if !a.requireHistory(w, "execution retrieval") {
		return
	}

	id := r.PathValue("id")
	if !api.ValidateExecutionID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "malformed execution ID"))
		return
	}

	res, err := a.history.GetExecution(r.Context(), id)
	if err != nil {
		a.writeHandlerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDeleteExecution handles DELETE /v1/executions/{id}.
func (a *Adapter) handleDeleteExecution(w http.ResponseWriter, r *http.Request) {
	if !a.requireHistory(w, "execution deletion") {
		return
	}

	id := r.PathValue("id")
	if !api.ValidateExecutionID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "malformed execution ID"))
		return
	}

	if err := a.history.DeleteExecution(r.Context(), id); err != nil {
		a.writeHandlerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "object": "execution.deleted", "deleted": true})
}

// handleListExecutions handles GET /v1/executions.
func (a *Adapter) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if !a.requireHistory(w, "execution listing") {
		return
	}

	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	list, err := a.history.ListExecutions(r.Context(), opts)
	if err != nil {
		a.writeHandlerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *Adapter) requireHistory(w http.ResponseWriter, what string) bool {
	if a.history != nil {
		return true
	}
	transport.WriteErrorResponse(w,
		api.NewInvalidRequestError("", what+" is not available (no storage configured)"),
		http.StatusNotImplemented,
	)
	return false
}

// parseListOptions extracts pagination and filter parameters from the query string.
func parseListOptions(r *http.Request) (transport.ListOptions, *api.APIError) {
	q := r.URL.Query()
	opts := transport.ListOptions{
		After:  q.Get("after"),
		Before: q.Get("before"),
		Order:  q.Get("order"),
		Status: api.ExecutionStatus(q.Get("status")),
	}

	if opts.After != "" && opts.Before != "" {
		return opts, api.NewInvalidRequestError("after", "cannot use both 'after' and 'before' cursors")
	}

	if opts.Order != "" && opts.Order != "asc" && opts.Order != "desc" {
		return opts, api.NewInvalidRequestError("order", "order must be 'asc' or 'desc'")
	}
	if opts.Order == "" {
		opts.Order = "desc"
	}

	switch opts.Status {
	case "", api.StatusPass, api.StatusFail, api.StatusTimeout, api.StatusError:
	default:
		return opts, api.NewInvalidRequestError("status", "status must be one of pass, fail, timeout, error")
	}

	if lang := q.Get("language"); lang != "" {
		canonical, ok := api.NormalizeLanguage(lang)
		if !ok {
			return opts, api.NewInvalidRequestError("language", fmt.Sprintf("unsupported language %q", lang))
		}
		opts.Language = canonical
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return opts, api.NewInvalidRequestError("limit", "limit must be a positive integer")
		}
		opts.Limit = limit
	}

	return opts, nil
}

// decodeJSON validates the content type, limits the body size and decodes
// it into v. On failure it writes the error response and returns false.
func (a *Adapter) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
				http.StatusUnsupportedMediaType,
			)
			return false
		}
	}

	if apiErr, status := a.decodeBody(w, r, v); apiErr != nil {
		transport.WriteErrorResponse(w, apiErr, status)
		return false
	}
	return true
}

// decodeLegacy decodes a plain-text endpoint body. The original clients
// sent no Content-Type, so none is required.
func (a *Adapter) decodeLegacy(w http.ResponseWriter, r *http.Request, v any) bool {
	if apiErr, status := a.decodeBody(w, r, v); apiErr != nil {
		writeText(w, status, "1\n"+apiErr.Message)
		return false
	}
	return true
}

func (a *Adapter) decodeBody(w http.ResponseWriter, r *http.Request, v any) (*api.APIError, int) {
	if a.config.MaxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	}

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			return api.NewInvalidRequestError("body",
				fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)), http.StatusRequestEntityTooLarge
		case errors.Is(err, io.EOF):
			return api.NewInvalidRequestError("body", "request body is empty"), http.StatusBadRequest
		default:
			return api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()), http.StatusBadRequest
		}
	}
	return nil, 0
}

// writeHandlerError writes a JSON error for an executor or history failure.
// Non-API errors are logged and reported as server errors.
func (a *Adapter) writeHandlerError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := transport.AsAPIError(err)
	if apiErr.Type == api.ErrorTypeServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", transport.RequestIDFromContext(r.Context()),
			"error", err,
		)
	}
	transport.WriteAPIError(w, apiErr)
}

func (a *Adapter) writeLegacyError(w http.ResponseWriter, r *http.Request, apiErr *api.APIError) {
	if apiErr.Type == api.ErrorTypeServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", transport.RequestIDFromContext(r.Context()),
			"error", apiErr.Message,
		)
	}
	writeText(w, transport.HTTPStatusFromError(apiErr), "1\n"+apiErr.Message)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body)
}
