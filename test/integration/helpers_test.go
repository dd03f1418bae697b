// Package integration runs the execution service end to end.
//
// Tests start a real server with the process runner and in-memory history
// using net/http/httptest, then drive it through pkg/client. Tests needing
// an interpreter that is not installed are skipped.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"testing"

	"github.com/rhuss/codeexec/pkg/api"
	"github.com/rhuss/codeexec/pkg/client"
	"github.com/rhuss/codeexec/pkg/engine"
	"github.com/rhuss/codeexec/pkg/runner"
	"github.com/rhuss/codeexec/pkg/storage/memory"
	transporthttp "github.com/rhuss/codeexec/pkg/transport/http"
)

// baseURL is the address of the server shared by all tests.
var baseURL string

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	workDir, err := os.MkdirTemp("", "codeexec-integration-")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer os.RemoveAll(workDir)

	handler, err := newService(workDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "starting service: %v\n", err)
		return 1
	}
	ts := httptest.NewServer(handler)
	defer ts.Close()
	baseURL = ts.URL

	return m.Run()
}

// newService wires the process runner, the engine and in-memory history the
// way the server binary does with default config.
func newService(workDir string) (http.Handler, error) {
	// npx would fetch tsx from the network; use a local tsx when present.
	overrides := map[string]runner.LanguageOverride{}
	if path, err := exec.LookPath("tsx"); err == nil {
		overrides[api.LanguageTypeScript] = runner.LanguageOverride{Command: []string{path}}
	}
	table, err := runner.NewTable(overrides)
	if err != nil {
		return nil, err
	}

	r, err := runner.NewProcessRunner(runner.ProcessConfig{
		Languages:      table,
		WorkDir:        workDir,
		MaxConcurrent:  4,
		MaxOutputBytes: 64 << 10,
	})
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(r, memory.New(100), engine.Config{
		Validation: api.DefaultValidationConfig(),
	})
	if err != nil {
		return nil, err
	}

	srv := transporthttp.NewServer(eng, eng,
		transporthttp.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return srv.Handler(), nil
}

// newClient returns a client for the shared server.
func newClient(t *testing.T) *client.Client {
	t.Helper()
	c, err := client.New(baseURL)
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}
	return c
}

// requireLanguage skips the test when the interpreter for lang is missing.
func requireLanguage(t *testing.T, lang string) {
	t.Helper()
	bin := map[string]string{
		api.LanguagePython:     "python3",
		api.LanguageJavaScript: "node",
		api.LanguageTypeScript: "tsx",
	}[lang]
	if _, err := exec.LookPath(bin); err != nil {
		t.Skipf("%s not installed, skipping %s test", bin, lang)
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatal(err)
	}
	return send(t, http.MethodPost, url, &buf)
}

func getURL(t *testing.T, url string) *http.Response {
	t.Helper()
	return send(t, http.MethodGet, url, nil)
}

func send(t *testing.T, method, url string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

// readBody drains and closes the body.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding %s response: %v", resp.Request.URL.Path, err)
	}
}
