package types

import "time"

// Logger defines the structured logging interface used throughout the
// dispatcher. Worker entrypoints wrap *slog.Logger to satisfy it.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// Clock abstracts time for testability. Retry eligibility is evaluated
// against Clock.Now at retry time, never against state captured at first
// dispatch.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }
