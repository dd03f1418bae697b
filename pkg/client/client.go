package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rhuss/codeexec/pkg/api"
	"github.com/rhuss/codeexec/pkg/debug"
)

// DefaultTimeout bounds a whole round trip when no other timeout is set.
// Large batches run for minutes on the service side.
const DefaultTimeout = 10 * time.Minute

// Client talks to a code execution service rooted at a base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	tracing    bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. The client is copied, not mutated.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		cp := *hc
		c.httpClient = &cp
	}
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout bounds each request. Zero disables the client-side timeout so
// only the context applies.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithTracing wraps the transport with OpenTelemetry instrumentation so
// trace context propagates to the service.
func WithTracing() Option {
	return func(c *Client) { c.tracing = true }
}

// New creates a client for the service at baseURL, e.g. http://127.0.0.1:8000.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("base URL %q must be an absolute http(s) URL", baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.tracing {
		base := c.httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		c.httpClient.Transport = otelhttp.NewTransport(base)
	}
	return c, nil
}

// BaseURL returns the normalized service address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ExecTest runs code followed by test in the default language.
func (c *Client) ExecTest(ctx context.Context, code, test string) (*api.ExecutionResult, error) {
	return c.ExecTestMultiPLE(ctx, code, test, api.LanguagePython)
}

// ExecTestMultiPLE runs code followed by test in the given language.
func (c *Client) ExecTestMultiPLE(ctx context.Context, code, test, language string) (*api.ExecutionResult, error) {
	return c.Execute(ctx, &api.ExecutionRequest{
		SourceCode: code,
		TestCode:   test,
		Language:   language,
	})
}

// Execute submits a fully specified request.
func (c *Client) Execute(ctx context.Context, req *api.ExecutionRequest) (*api.ExecutionResult, error) {
	var res api.ExecutionResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/exec", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ExecTestBatched runs each codes[i] followed by tests[i] and returns one
// result per pair, in order. An empty language selects the service default.
func (c *Client) ExecTestBatched(ctx context.Context, codes, tests []string, language string) ([]*api.ExecutionResult, error) {
	if len(codes) != len(tests) {
		return nil, fmt.Errorf("%w: %d codes, %d tests", ErrBatchLengthMismatch, len(codes), len(tests))
	}
	// The service rejects missing arrays, so nil is sent as [].
	if codes == nil {
		codes = []string{}
	}
	if tests == nil {
		tests = []string{}
	}

	var res api.BatchExecutionResult
	req := &api.BatchExecutionRequest{SourceCodes: codes, TestCodes: tests, Language: language}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/exec/batch", req, &res); err != nil {
		return nil, err
	}
	if len(res.Results) != len(codes) {
		return nil, fmt.Errorf("%w: sent %d, got %d", ErrResultCountMismatch, len(codes), len(res.Results))
	}
	return res.Results, nil
}

// Coverage measures the line coverage of a Python program. The service
// reports -1 when the program failed.
func (c *Client) Coverage(ctx context.Context, code string) (int, error) {
	var res api.CoverageResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/coverage", &api.CoverageRequest{Code: code}, &res); err != nil {
		return 0, err
	}
	return res.Coverage, nil
}

// Health fetches the service's liveness report.
func (c *Client) Health(ctx context.Context) (*api.HealthStatus, error) {
	var h api.HealthStatus
	if err := c.doJSON(ctx, http.MethodGet, "/healthz", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// GetExecution fetches a stored execution by ID.
func (c *Client) GetExecution(ctx context.Context, id string) (*api.ExecutionResult, error) {
	var res api.ExecutionResult
	if err := c.doJSON(ctx, http.MethodGet, "/v1/executions/"+url.PathEscape(id), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListParams filters and pages ListExecutions. Zero values are omitted.
type ListParams struct {
	After    string
	Limit    int
	Language string
	Status   api.ExecutionStatus
	Order    string
}

func (p ListParams) query() string {
	q := url.Values{}
	if p.After != "" {
		q.Set("after", p.After)
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Language != "" {
		q.Set("language", p.Language)
	}
	if p.Status != "" {
		q.Set("status", string(p.Status))
	}
	if p.Order != "" {
		q.Set("order", p.Order)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// ListExecutions returns one page of stored executions.
func (c *Client) ListExecutions(ctx context.Context, p ListParams) (*api.ExecutionList, error) {
	var list api.ExecutionList
	if err := c.doJSON(ctx, http.MethodGet, "/v1/executions"+p.query(), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// PyExec runs Python code through the plain-text /py_exec endpoint.
// timeoutSecs <= 0 leaves the service default in place.
func (c *Client) PyExec(ctx context.Context, code string, timeoutSecs int) (*api.ExecutionResult, error) {
	return c.legacyExec(ctx, "/py_exec", api.LegacyRequest{Code: code, Timeout: api.LegacySeconds(timeoutSecs)})
}

// AnyExec runs code in lang through the plain-text /any_exec endpoint.
func (c *Client) AnyExec(ctx context.Context, code, lang string, timeoutSecs int) (*api.ExecutionResult, error) {
	return c.legacyExec(ctx, "/any_exec", api.LegacyRequest{Code: code, Lang: lang, Timeout: api.LegacySeconds(timeoutSecs)})
}

func (c *Client) legacyExec(ctx context.Context, path string, req api.LegacyRequest) (*api.ExecutionResult, error) {
	body, err := c.do(ctx, http.MethodPost, path, req)
	if err != nil {
		return nil, err
	}
	res, err := api.ParseLegacyText(string(body))
	if err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", path, err)
	}
	return res, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	body, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// do sends one request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, in any) ([]byte, error) {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	debug.Log("client", "sending request", "method", method, "path", path)
	start := time.Now()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	debug.Log("client", "response received",
		"path", path,
		"status", resp.StatusCode,
		"request_id", resp.Header.Get("X-Request-ID"),
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, mapHTTPError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", path, err)
	}
	return data, nil
}
