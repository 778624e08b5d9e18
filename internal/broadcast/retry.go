package broadcast

import (
	"context"
	"time"

	"cbdispatch/internal/types"
)

// maxBackoff caps the doubling schedule at five minutes.
const maxBackoff = 300 * time.Second

// BackoffDelay computes the re-enqueue delay for the given 0-based retry
// attempt: min(2^n, 300) seconds. Evaluated purely from the attempt count,
// independent of how much of the expiry window remains.
func BackoffDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	// 2^9 = 512 already exceeds the cap; shifting further risks overflow.
	if retryCount > 8 {
		return maxBackoff
	}
	delay := time.Duration(1<<uint(retryCount)) * time.Second
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

// Give-up reasons recorded when retries stop.
const (
	GiveUpExpired    = "expired"
	GiveUpSuperseded = "superseded"
)

// RetryDecision is the outcome of a retry-eligibility evaluation.
type RetryDecision struct {
	ShouldRetry bool
	// Reason is set when ShouldRetry is false.
	Reason string
	// Superseding is the newer sibling event, set only when the reason is
	// supersession.
	Superseding *types.BroadcastEvent
}

// latestEventGetter is the slice of the event repository the retry check
// needs: the ability to re-query the newest sibling of an event.
type latestEventGetter interface {
	GetLatestForMessage(ctx context.Context, messageID string) (*types.BroadcastEvent, error)
}

// RetryChecker evaluates whether a dispatch unit should keep retrying.
// The check re-queries current truth on every call rather than trusting
// state captured at first dispatch, and is side-effect-free, so calling it
// on every attempt is safe. Its verdict is monotonic in time: expiry and
// supersession are never un-done.
type RetryChecker struct {
	events latestEventGetter
	clock  types.Clock
}

// NewRetryChecker creates a RetryChecker.
func NewRetryChecker(events latestEventGetter, clock types.Clock) *RetryChecker {
	return &RetryChecker{events: events, clock: clock}
}

// Check decides whether further retries of the event's dispatch are still
// worthwhile. Give-up happens when the event's transmitted expiry has passed
// or when a newer event for the same message exists. A database failure
// during the check is returned as an error; the caller treats it like any
// other transient fault rather than guessing either way.
func (c *RetryChecker) Check(ctx context.Context, event *types.BroadcastEvent) (RetryDecision, error) {
	if event.Expired(c.clock.Now()) {
		return RetryDecision{Reason: GiveUpExpired}, nil
	}

	latest, err := c.events.GetLatestForMessage(ctx, event.BroadcastMessageID)
	if err != nil {
		return RetryDecision{}, err
	}
	if latest.ID != event.ID {
		return RetryDecision{Reason: GiveUpSuperseded, Superseding: latest}, nil
	}

	return RetryDecision{ShouldRetry: true}, nil
}
