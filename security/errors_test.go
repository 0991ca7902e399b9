package security

import (
	"fmt"
	"strings"
	"testing"
)

func TestSafeMessageProduction(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "invalid input",
			err:  fmt.Errorf("%w: query is empty", ErrInvalidInput),
			want: "The input provided was invalid. Please try again.",
		},
		{
			name: "rate limited",
			err:  fmt.Errorf("%w: retry after 30s", ErrRateLimited),
			want: "Too many requests. Please try again later.",
		},
		{
			name: "generation failure hides detail",
			err:  fmt.Errorf("%w: api key sk-internal rejected", ErrGenerationFailed),
			want: "An unexpected error occurred. Please try again later.",
		},
		{
			name: "unknown error hides detail",
			err:  fmt.Errorf("dial tcp 10.1.2.3:443: connection refused"),
			want: "An unexpected error occurred. Please try again later.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SafeMessage(tt.err, true)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if strings.Contains(got, tt.err.Error()) && tt.err.Error() != got {
				t.Errorf("production message leaks error detail: %q", got)
			}
		})
	}
}

func TestSafeMessageDevelopment(t *testing.T) {
	err := fmt.Errorf("%w: chromem: collection missing", ErrEmbeddingFailed)
	if got := SafeMessage(err, false); got != err.Error() {
		t.Errorf("got %q, want the full error text", got)
	}
}

func TestSafeMessageNil(t *testing.T) {
	if got := SafeMessage(nil, true); got != "" {
		t.Errorf("got %q for nil error, want empty", got)
	}
}
