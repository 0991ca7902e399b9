package security

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Auditor writes structured security events, separate from application logs.
// Events are JSON lines carrying an event type and the client identifier so
// operators can trace rejections and external failures per caller.
type Auditor struct {
	log zerolog.Logger
}

// NewAuditor creates an auditor writing JSON events to w.
func NewAuditor(w io.Writer) *Auditor {
	return &Auditor{
		log: zerolog.New(w).With().Timestamp().Str("log", "security").Logger(),
	}
}

// NewFileAuditor creates an auditor appending to the given file, falling
// back to stderr when the file cannot be opened.
func NewFileAuditor(path string) *Auditor {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		a := NewAuditor(os.Stderr)
		a.log.Error().Err(err).Str("path", path).Msg("audit log unavailable, using stderr")
		return a
	}
	return NewAuditor(f)
}

func (a *Auditor) record(level zerolog.Level, event, identifier, msg string) {
	a.log.WithLevel(level).
		Str("event", event).
		Str("identifier", identifier).
		Msg(msg)
}

// Info records an informational security event (e.g. a served request).
func (a *Auditor) Info(event, identifier, msg string) {
	a.record(zerolog.InfoLevel, event, identifier, msg)
}

// Warn records a rejection event (validation failure, rate limit).
func (a *Auditor) Warn(event, identifier, msg string) {
	a.record(zerolog.WarnLevel, event, identifier, msg)
}

// Error records an external dependency failure observed on the request path.
func (a *Auditor) Error(event, identifier, msg string) {
	a.record(zerolog.ErrorLevel, event, identifier, msg)
}
