package security

import (
	"fmt"
	"sync"
	"time"
)

// window tracks calls for one identifier within the current period.
type window struct {
	count   int
	resetAt time.Time
}

// Limiter is a keyed fixed-window rate limiter. Each identifier (client IP,
// websocket connection id) gets an independent counter that resets after the
// configured period. The counter map is mutex-protected and safe for
// concurrent use across request goroutines.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	maxCalls int
	period   time.Duration

	// now is overridable so tests can supply a fake clock.
	now func() time.Time
}

// NewLimiter creates a limiter allowing maxCalls per identifier per period.
func NewLimiter(maxCalls int, period time.Duration) *Limiter {
	return &Limiter{
		windows:  make(map[string]*window),
		maxCalls: maxCalls,
		period:   period,
		now:      time.Now,
	}
}

// Allow records a call for the identifier. It returns true when the call is
// within the limit. When the limit is exceeded it returns false together
// with the duration until the window resets, which is always positive.
func (l *Limiter) Allow(identifier string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[identifier]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.period)}
		l.windows[identifier] = w
	}

	if w.count >= l.maxCalls {
		return false, w.resetAt.Sub(now)
	}
	w.count++
	return true, 0
}

// Check is the error-returning form of Allow, used on the request path.
func (l *Limiter) Check(identifier string) error {
	ok, retryAfter := l.Allow(identifier)
	if !ok {
		return fmt.Errorf("%w: retry after %s", ErrRateLimited, retryAfter.Round(time.Second))
	}
	return nil
}
