package api

import (
	"strings"

	"github.com/google/uuid"
)

const executionIDPrefix = "exec_"

// NewExecutionID generates a new execution ID with the "exec_" prefix
// followed by a random UUID in hex form.
func NewExecutionID() string {
	return executionIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidateExecutionID reports whether id has the shape produced by NewExecutionID.
func ValidateExecutionID(id string) bool {
	hex, ok := strings.CutPrefix(id, executionIDPrefix)
	if !ok || len(hex) != 32 {
		return false
	}
	_, err := uuid.Parse(hex)
	return err == nil
}
