// Package mcpserver exposes program execution as Model Context Protocol
// tools served over streamable HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/codeexec/pkg/api"
	"github.com/rhuss/codeexec/pkg/debug"
	"github.com/rhuss/codeexec/pkg/transport"
)

// ExecuteCodeInput is the argument of the execute_code tool.
type ExecuteCodeInput struct {
	SourceCode     string `json:"source_code" jsonschema:"program source to run"`
	TestCode       string `json:"test_code,omitempty" jsonschema:"test snippet appended after the source; a failing assertion fails the run"`
	Language       string `json:"language,omitempty" jsonschema:"language identifier such as python, ts or javascript (default python)"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"per-run timeout in seconds"`
}

// ExecuteBatchInput is the argument of the execute_batch tool.
type ExecuteBatchInput struct {
	SourceCodes    []string `json:"source_codes" jsonschema:"programs to run"`
	TestCodes      []string `json:"test_codes" jsonschema:"test snippets, one per program"`
	Language       string   `json:"language,omitempty" jsonschema:"language identifier for every program (default python)"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty" jsonschema:"per-run timeout in seconds"`
}

// CoverageInput is the argument of the measure_coverage tool.
type CoverageInput struct {
	Code           string `json:"code" jsonschema:"Python program to measure"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"run timeout in seconds"`
}

// New builds an MCP server whose tools call exec.
func New(exec transport.Executor, version string) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{Name: "codeexec", Version: version},
		nil,
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "execute_code",
		Description: "Runs a program followed by its test code and reports pass or fail with captured stdout and stderr.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in ExecuteCodeInput) (*mcp.CallToolResult, api.ExecutionResult, error) {
		debug.Log("mcp", "execute_code called", "language", in.Language)
		res, err := exec.Execute(ctx, &api.ExecutionRequest{
			SourceCode:     in.SourceCode,
			TestCode:       in.TestCode,
			Language:       in.Language,
			TimeoutSeconds: in.TimeoutSeconds,
		})
		if err != nil {
			return nil, api.ExecutionResult{}, err
		}
		return textResult(res), *res, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "execute_batch",
		Description: "Runs several programs, each paired with its test code, and returns one result per program in order.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in ExecuteBatchInput) (*mcp.CallToolResult, api.BatchExecutionResult, error) {
		debug.Log("mcp", "execute_batch called", "size", len(in.SourceCodes), "language", in.Language)
		if in.SourceCodes == nil {
			in.SourceCodes = []string{}
		}
		if in.TestCodes == nil {
			in.TestCodes = make([]string, len(in.SourceCodes))
		}
		res, err := exec.ExecuteBatch(ctx, &api.BatchExecutionRequest{
			SourceCodes:    in.SourceCodes,
			TestCodes:      in.TestCodes,
			Language:       in.Language,
			TimeoutSeconds: in.TimeoutSeconds,
		})
		if err != nil {
			return nil, api.BatchExecutionResult{}, err
		}
		return textResult(res), *res, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "measure_coverage",
		Description: "Runs a Python program under coverage and returns the total line coverage percentage, or -1 on failure.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in CoverageInput) (*mcp.CallToolResult, api.CoverageResult, error) {
		res, err := exec.Coverage(ctx, &api.CoverageRequest{Code: in.Code, TimeoutSeconds: in.TimeoutSeconds})
		if err != nil {
			return nil, api.CoverageResult{}, err
		}
		return textResult(res), *res, nil
	})

	return server
}

// Handler serves server over the streamable HTTP transport.
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}

// textResult renders v as JSON text content for clients that ignore
// structured output.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
