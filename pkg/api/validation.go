package api

import "fmt"

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxCodeSize    int
	MaxBatchSize   int
	MaxTimeoutSecs int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxCodeSize:    1 << 20, // 1MB
		MaxBatchSize:   256,
		MaxTimeoutSecs: 120,
	}
}

// ValidateExecution checks an ExecutionRequest and normalizes its language
// in place. It returns an *APIError describing the first failure, or nil.
// Empty source and test code are allowed.
func ValidateExecution(req *ExecutionRequest, cfg ValidationConfig) *APIError {
	lang, ok := NormalizeLanguage(req.Language)
	if !ok {
		return NewInvalidRequestError("language", fmt.Sprintf("unsupported language %q", req.Language))
	}
	req.Language = lang

	if cfg.MaxCodeSize > 0 && len(req.SourceCode)+len(req.TestCode) > cfg.MaxCodeSize {
		return NewInvalidRequestError("source_code",
			fmt.Sprintf("program exceeds maximum size of %d bytes", cfg.MaxCodeSize))
	}

	return validateTimeout(req.TimeoutSeconds, cfg)
}

// ValidateBatch checks a BatchExecutionRequest and normalizes its language
// in place. The source and test slices must have the same length.
func ValidateBatch(req *BatchExecutionRequest, cfg ValidationConfig) *APIError {
	lang, ok := NormalizeLanguage(req.Language)
	if !ok {
		return NewInvalidRequestError("language", fmt.Sprintf("unsupported language %q", req.Language))
	}
	req.Language = lang

	if len(req.SourceCodes) != len(req.TestCodes) {
		return NewInvalidRequestError("test_codes",
			fmt.Sprintf("test_codes has %d entries, source_codes has %d", len(req.TestCodes), len(req.SourceCodes)))
	}

	if cfg.MaxBatchSize > 0 && len(req.SourceCodes) > cfg.MaxBatchSize {
		return NewInvalidRequestError("source_codes",
			fmt.Sprintf("batch exceeds maximum of %d programs", cfg.MaxBatchSize))
	}

	if cfg.MaxCodeSize > 0 {
		for i := range req.SourceCodes {
			if len(req.SourceCodes[i])+len(req.TestCodes[i]) > cfg.MaxCodeSize {
				return NewInvalidRequestError(fmt.Sprintf("source_codes[%d]", i),
					fmt.Sprintf("program exceeds maximum size of %d bytes", cfg.MaxCodeSize))
			}
		}
	}

	return validateTimeout(req.TimeoutSeconds, cfg)
}

func validateTimeout(secs int, cfg ValidationConfig) *APIError {
	if secs < 0 {
		return NewInvalidRequestError("timeout_seconds", "timeout_seconds must not be negative")
	}
	if cfg.MaxTimeoutSecs > 0 && secs > cfg.MaxTimeoutSecs {
		return NewInvalidRequestError("timeout_seconds",
			fmt.Sprintf("timeout_seconds exceeds maximum of %d", cfg.MaxTimeoutSecs))
	}
	return nil
}
