package security

import (
	"fmt"
	"regexp"
	"strings"
)

// Input bounds for chat queries.
const (
	MinQueryLength = 1
	MaxQueryLength = 4000
)

// harmfulPatterns is the denylist applied to every chat query before any
// external call: script tags, shell-exec-like tokens, and destructive SQL.
var harmfulPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)system\s*\(`),
	regexp.MustCompile(`(?i)exec\s*\(`),
	regexp.MustCompile(`(?i)eval\s*\(`),
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)DROP\s+TABLE`),
	regexp.MustCompile(`(?i)DELETE\s+FROM`),
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,50}$`)

// Redaction patterns for outbound text.
var (
	apiKeyPattern = regexp.MustCompile(`[A-Za-z0-9_-]{20,}`)
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
)

// ValidateQuery checks a chat query against length bounds and the denylist.
// It returns the whitespace-trimmed query on success and an error wrapping
// ErrInvalidInput on rejection.
func ValidateQuery(query string) (string, error) {
	trimmed := strings.TrimSpace(query)
	if len(trimmed) < MinQueryLength {
		return "", fmt.Errorf("%w: query is empty", ErrInvalidInput)
	}
	if len(trimmed) > MaxQueryLength {
		return "", fmt.Errorf("%w: query exceeds %d characters", ErrInvalidInput, MaxQueryLength)
	}
	for _, p := range harmfulPatterns {
		if p.MatchString(trimmed) {
			return "", fmt.Errorf("%w: query contains potentially harmful content", ErrInvalidInput)
		}
	}
	return trimmed, nil
}

// ValidateUsername enforces the username shape: 3-50 characters of letters,
// digits, underscores, and hyphens.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: username must be 3-50 characters and contain only letters, numbers, underscores, and hyphens", ErrInvalidInput)
	}
	return nil
}

// SanitizeOutput redacts substrings resembling API keys or email addresses
// from model output before it is sent to a client.
func SanitizeOutput(output string) string {
	sanitized := emailPattern.ReplaceAllString(output, "[EMAIL REDACTED]")
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "[REDACTED]")
	return sanitized
}
