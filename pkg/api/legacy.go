package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// LegacyRequest is the body accepted by /py_exec, /any_exec and /py_coverage.
type LegacyRequest struct {
	Code    string        `json:"code"`
	Lang    string        `json:"lang,omitempty"`
	Timeout LegacySeconds `json:"timeout,omitempty"`
}

// LegacySeconds is a timeout in seconds that decodes from either a JSON
// number or a JSON string holding a number. Unparseable values decode to 0
// so the server default applies.
type LegacySeconds int

// UnmarshalJSON implements json.Unmarshaler.
func (s *LegacySeconds) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(str))
		if err != nil || n < 0 {
			*s = 0
			return nil
		}
		*s = LegacySeconds(n)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("timeout must be a number or numeric string: %w", err)
	}
	if n < 0 {
		n = 0
	}
	*s = LegacySeconds(n)
	return nil
}

// LegacyText renders a result in the plain-text form: "0\n" followed by
// stdout on pass, "1\nTimeout" on timeout, "1\n" followed by stderr otherwise.
func LegacyText(r *ExecutionResult) string {
	switch r.Status {
	case StatusPass:
		return "0\n" + r.Stdout
	case StatusTimeout:
		return "1\nTimeout"
	default:
		return "1\n" + r.Stderr
	}
}

// ParseLegacyText converts a plain-text body back into a result. Only
// Status, Passed and the matching output stream are populated.
func ParseLegacyText(body string) (*ExecutionResult, error) {
	code, rest, _ := strings.Cut(body, "\n")
	res := &ExecutionResult{}
	switch code {
	case "0":
		res.SetStatus(StatusPass)
		res.Stdout = rest
	case "1":
		if rest == "Timeout" {
			res.SetStatus(StatusTimeout)
			res.ExitCode = -1
		} else {
			res.SetStatus(StatusFail)
			res.ExitCode = 1
		}
		res.Stderr = rest
	default:
		return nil, fmt.Errorf("malformed legacy status line %q", code)
	}
	return res, nil
}
