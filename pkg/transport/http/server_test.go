package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	gohttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/codeexec/pkg/api"
)

// slowExecutor delays every execution, for shutdown tests.
type slowExecutor struct {
	mockExecutor
	delay time.Duration
}

func (s *slowExecutor) Execute(ctx context.Context, req *api.ExecutionRequest) (*api.ExecutionResult, error) {
	select {
	case <-time.After(s.delay):
		return echoResult(req.SourceCode), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	return bytes.NewReader(data)
}

func startServer(t *testing.T, srv *Server) (string, context.CancelFunc) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.ServeOn(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return "http://" + ln.Addr().String(), cancel
}

func TestServerStartsAndAcceptsRequests(t *testing.T) {
	srv := NewServer(&mockExecutor{}, nil, WithAddr("127.0.0.1:0"))
	base, _ := startServer(t, srv)

	resp, err := gohttp.Post(base+"/v1/exec", "application/json",
		jsonBody(t, api.ExecutionRequest{SourceCode: "hello"}))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != gohttp.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, gohttp.StatusOK)
	}

	var got api.ExecutionResult
	json.NewDecoder(resp.Body).Decode(&got)
	if got.Stdout != "hello" {
		t.Errorf("stdout = %q, want hello", got.Stdout)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestServerGracefulShutdown(t *testing.T) {
	srv := NewServer(&slowExecutor{delay: 200 * time.Millisecond}, nil,
		WithAddr("127.0.0.1:0"),
		WithShutdownTimeout(5*time.Second),
	)
	base, cancel := startServer(t, srv)

	responseCh := make(chan int, 1)
	go func() {
		resp, err := gohttp.Post(base+"/v1/exec", "application/json", strings.NewReader(`{"source_code":"slow"}`))
		if err != nil {
			responseCh <- 0
			return
		}
		defer resp.Body.Close()
		responseCh <- resp.StatusCode
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	if status := <-responseCh; status != gohttp.StatusOK {
		t.Errorf("slow request status = %d, want %d", status, gohttp.StatusOK)
	}
}

func TestServerMetricsAndMounts(t *testing.T) {
	mounted := gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
		io.WriteString(w, "mounted")
	})
	srv := NewServer(&mockExecutor{}, nil, WithMount("/mcp", mounted))
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/exec", strings.NewReader(`{"source_code":"x"}`)))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != gohttp.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `codeexec_requests_total{method="POST",route="POST /v1/exec",status="2xx"}`) {
		t.Errorf("metrics output missing request counter for POST /v1/exec")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/mcp", nil))
	if rec.Body.String() != "mounted" {
		t.Errorf("mount body = %q", rec.Body.String())
	}
}

func TestServerHTTPMiddleware(t *testing.T) {
	var order []string
	mw := func(name string) func(gohttp.Handler) gohttp.Handler {
		return func(next gohttp.Handler) gohttp.Handler {
			return gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	srv := NewServer(&mockExecutor{}, nil,
		WithHTTPMiddleware(mw("outer")),
		WithHTTPMiddleware(mw("inner")),
		WithMetricsPath(""),
	)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Errorf("middleware order = %v", order)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != gohttp.StatusNotFound {
		t.Errorf("disabled metrics: status = %d, want 404", rec.Code)
	}
}

func TestServerFunctionalOptions(t *testing.T) {
	srv := NewServer(&mockExecutor{}, nil,
		WithAddr(":9999"),
		WithMaxBodySize(1024),
		WithShutdownTimeout(10*time.Second),
		WithTimeouts(5*time.Second, time.Minute),
		WithTracing(true),
	)

	if srv.config.Addr != ":9999" {
		t.Errorf("addr = %q, want %q", srv.config.Addr, ":9999")
	}
	if srv.config.MaxBodySize != 1024 {
		t.Errorf("max body size = %d, want %d", srv.config.MaxBodySize, 1024)
	}
	if srv.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout = %v, want %v", srv.config.ShutdownTimeout, 10*time.Second)
	}
	if srv.httpServer.ReadTimeout != 5*time.Second || srv.httpServer.WriteTimeout != time.Minute {
		t.Errorf("timeouts = %v/%v", srv.httpServer.ReadTimeout, srv.httpServer.WriteTimeout)
	}
}
