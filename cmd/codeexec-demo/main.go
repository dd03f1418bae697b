// Command codeexec-demo sends a fixed set of pass/fail programs to a running
// code execution service and prints each result.
//
//	codeexec-demo --base-url http://127.0.0.1:8000
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rhuss/codeexec/pkg/client"
)

const (
	codePass = `
assert True
`
	codeFail = `
assert False, "This should fail"
`
	codeTSPass = `
console.log("Hello, World!");
`
	// needs to exit 1 to fail
	codeTSFail = `
console.error("This should fail");
process.exit(1);
`
)

func main() {
	if err := run(); err != nil {
		slog.Error("demo failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	baseURL := flag.String("base-url", "http://127.0.0.1:8000", "execution service address")
	token := flag.String("token", os.Getenv("CODEEXEC_TOKEN"), "bearer token, if the service requires one")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall deadline")
	flag.Parse()

	var opts []client.Option
	if *token != "" {
		opts = append(opts, client.WithToken(*token))
	}
	c, err := client.New(*baseURL, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Println("###### Testing simple pass/fail cases ######")
	for _, code := range []string{codePass, codeFail} {
		res, err := c.ExecTest(ctx, code, "")
		if err != nil {
			return err
		}
		printJSON(res)
	}

	fmt.Println("###### Testing multiple pass/fail cases with Python ######")
	if err := single(ctx, c, "python", codePass, codeFail); err != nil {
		return err
	}

	fmt.Println("###### Testing batched pass/fail cases with Python ######")
	if err := batch(ctx, c, "", []string{codePass, codeFail, codePass, codeFail, codePass}); err != nil {
		return err
	}

	fmt.Println("###### Testing multiple pass/fail cases with TypeScript. also capture stdout/stderr ######")
	if err := single(ctx, c, "ts", codeTSPass, codeTSFail); err != nil {
		return err
	}

	fmt.Println("###### Testing multiple pass/fail cases with JavaScript. also capture stdout/stderr ######")
	if err := single(ctx, c, "javascript", codeTSPass, codeTSFail); err != nil {
		return err
	}

	fmt.Println("###### Testing batched pass/fail cases with TypeScript ######")
	return batch(ctx, c, "ts", []string{codeTSPass, codeTSFail, codeTSPass, codeTSFail, codeTSPass})
}

func single(ctx context.Context, c *client.Client, lang string, codes ...string) error {
	for _, code := range codes {
		res, err := c.ExecTestMultiPLE(ctx, code, "", lang)
		if err != nil {
			return err
		}
		printJSON(res)
	}
	return nil
}

func batch(ctx context.Context, c *client.Client, lang string, codes []string) error {
	tests := make([]string, len(codes))
	results, err := c.ExecTestBatched(ctx, codes, tests, lang)
	if err != nil {
		return err
	}
	printJSON(results)
	if len(results) != len(codes) {
		return fmt.Errorf("batch returned %d results for %d programs", len(results), len(codes))
	}
	return nil
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
