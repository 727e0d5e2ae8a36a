package client

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies provider errors for the submission fallback logic.
type ErrorCategory string

const (
	// Retriable: the fallback chain advances to the next model.
	CategoryModelError     ErrorCategory = "model_error"
	CategoryBackendFailure ErrorCategory = "backend_failure"

	// Non-retriable: surfaced to the caller immediately.
	CategoryValidation          ErrorCategory = "validation"
	CategoryPolicyViolation     ErrorCategory = "policy_violation"
	CategoryRateLimited         ErrorCategory = "rate_limited"
	CategoryInsufficientCredits ErrorCategory = "insufficient_credits"
)

// ProviderError is a typed error returned by provider calls.
type ProviderError struct {
	Category ErrorCategory
	Code     int
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s, code %d): %s", e.Category, e.Code, e.Message)
}

// Retriable reports whether the error should advance the model fallback chain.
func (e *ProviderError) Retriable() bool {
	return e.Category == CategoryModelError || e.Category == CategoryBackendFailure
}

// AsProviderError unwraps err into a *ProviderError if possible.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// categorize maps a provider API code to an error category.
// Codes follow the generation API's convention: 4xx mirror HTTP semantics,
// 455 is maintenance, 500 is a generation backend failure.
func categorize(code int) ErrorCategory {
	switch code {
	case 400, 413:
		return CategoryValidation
	case 402:
		return CategoryInsufficientCredits
	case 429:
		return CategoryRateLimited
	case 451:
		return CategoryPolicyViolation
	case 455:
		return CategoryBackendFailure
	case 500:
		return CategoryModelError
	default:
		return CategoryBackendFailure
	}
}

// UserMessage maps an error category to the fixed user-facing message.
func UserMessage(cat ErrorCategory) string {
	switch cat {
	case CategoryValidation:
		return "The generation request was rejected by the provider. Please adjust the prompt and try again."
	case CategoryPolicyViolation:
		return "The prompt was blocked by the provider's content policy."
	case CategoryRateLimited:
		return "Request limit exceeded. Please try again later."
	case CategoryInsufficientCredits:
		return "Insufficient provider credits."
	case CategoryModelError, CategoryBackendFailure:
		return "Generation failed. Please try again."
	default:
		return "Generation failed. Please try again."
	}
}
