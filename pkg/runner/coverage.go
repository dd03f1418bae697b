package runner

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rhuss/codeexec/pkg/api"
	"github.com/rhuss/codeexec/pkg/debug"
)

// Coverage runs a Python program under the coverage tool and returns the
// total line coverage percentage. It returns -1 with a nil error when the
// program does not pass or the report cannot be read.
func (r *ProcessRunner) Coverage(ctx context.Context, code string, timeout time.Duration) (int, error) {
	release, err := r.limiter.acquire(ctx)
	if err != nil {
		return -1, fmt.Errorf("waiting for run permit: %w", err)
	}
	defer release()

	dir, err := os.MkdirTemp(r.cfg.WorkDir, "cov-*")
	if err != nil {
		return -1, fmt.Errorf("creating run dir: %w", err)
	}
	defer os.RemoveAll(dir)

	prog := filepath.Join(dir, "main.py")
	if err := os.WriteFile(prog, []byte(code), 0o644); err != nil {
		return -1, fmt.Errorf("writing program: %w", err)
	}
	data := filepath.Join(dir, ".coverage")

	run, err := r.runCommand(ctx, dir, []string{r.cfg.CoverageCommand, "run", "--data-file", data, prog}, timeout)
	if err != nil {
		return -1, err
	}
	if run.Status != api.StatusPass {
		debug.Log("runner", "coverage run did not pass", "status", run.Status, "exit_code", run.ExitCode)
		return -1, nil
	}

	report, err := r.runCommand(ctx, dir, []string{r.cfg.CoverageCommand, "report", "--data-file", data}, r.cfg.CoverageReportTimeout)
	if err != nil {
		return -1, err
	}
	if report.Status != api.StatusPass {
		debug.Log("runner", "coverage report failed", "status", report.Status, "stderr", debug.Truncate(report.Stderr, 200))
		return -1, nil
	}

	pct, ok := ParseCoverageReport(report.Stdout)
	if !ok {
		return -1, nil
	}
	return pct, nil
}

// ParseCoverageReport extracts the percentage from the text report printed by
// "coverage report". The value is the fourth column of the first line after
// the dashed separator. A report without a separator yields 0. The boolean is
// false when the line after the separator cannot be parsed.
func ParseCoverageReport(report string) (int, bool) {
	sc := bufio.NewScanner(strings.NewReader(report))
	afterSeparator := false
	for sc.Scan() {
		line := sc.Text()
		if !afterSeparator {
			if strings.HasPrefix(line, "---------") {
				afterSeparator = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return -1, false
		}
		pct, err := strconv.ParseUint(strings.TrimRight(fields[3], "%"), 10, 8)
		if err != nil {
			return -1, false
		}
		return int(pct), true
	}
	return 0, true
}
