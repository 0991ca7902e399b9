package security

import "errors"

// Error taxonomy for the chatbot service. Handlers wrap these with context
// via fmt.Errorf and %w; callers classify with errors.Is.
var (
	// ErrInvalidInput marks input rejected before any external call.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited marks a request rejected by the fixed-window limiter.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrNoContentExtracted is returned when a source document yields no
	// sections. It is non-fatal: retrieval is disabled and the service
	// answers with a stock reply.
	ErrNoContentExtracted = errors.New("no content extracted")

	// ErrEmbeddingFailed marks an embedding API failure. Index construction
	// aborts; the caller decides whether to retry or serve without retrieval.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrGenerationFailed marks a generation API failure. Never retried.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrConfigurationMissing is fatal at startup (e.g. missing API key).
	ErrConfigurationMissing = errors.New("configuration missing")
)

// SafeMessage renders an error for end users. In production mode known error
// kinds map to generic messages and everything else is hidden behind a
// catch-all; in development the full error text is returned to help
// debugging. The detailed error is always logged separately by the caller.
func SafeMessage(err error, production bool) string {
	if err == nil {
		return ""
	}
	if !production {
		return err.Error()
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "The input provided was invalid. Please try again."
	case errors.Is(err, ErrRateLimited):
		return "Too many requests. Please try again later."
	default:
		return "An unexpected error occurred. Please try again later."
	}
}
