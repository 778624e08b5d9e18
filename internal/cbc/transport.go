package cbc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"cbdispatch/internal/types"

	"github.com/sony/gobreaker/v2"
)

// maxResponseBytes bounds how much of a CBC response body is read when
// checking for an embedded error. CBC acknowledgements are tiny.
const maxResponseBytes = 64 * 1024

// Transport posts wire payloads to cell broadcast centre endpoints with
// primary/failover routing. Each endpoint gets its own circuit breaker so a
// flapping primary does not mask a healthy failover.
//
// One Transport is shared by every provider client, and dispatch units run
// concurrently, so the breaker map is guarded by a mutex.
type Transport struct {
	client    *http.Client
	userAgent string
	logger    types.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*http.Response]
}

// NewTransport creates a Transport using the given http client and user agent.
func NewTransport(httpClient *http.Client, userAgent string, logger types.Logger) *Transport {
	return &Transport{
		client:    httpClient,
		userAgent: userAgent,
		logger:    logger,
		breakers:  make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
}

func (t *Transport) breakerFor(endpoint string) *gobreaker.CircuitBreaker[*http.Response] {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cb, ok := t.breakers[endpoint]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	t.breakers[endpoint] = cb
	return cb
}

// Invoke posts body to the primary endpoint and, if that fails for any
// reason, to the failover. A failure on the primary is logged and swallowed;
// only when both endpoints fail does Invoke return an error, and that error
// is always retryable from the caller's point of view.
func (t *Transport) Invoke(ctx context.Context, primary, failover string, body []byte) error {
	primaryErr := t.post(ctx, primary, body)
	if primaryErr == nil {
		return nil
	}
	t.logger.Warn("primary CBC endpoint failed, trying failover",
		"primary", primary, "failover", failover, "error", primaryErr)

	failoverErr := t.post(ctx, failover, body)
	if failoverErr == nil {
		return nil
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeProviderRetryable,
		"both CBC endpoints failed",
		failoverErr,
		map[string]any{
			"primary":        primary,
			"primary_error":  primaryErr.Error(),
			"failover":       failover,
			"failover_error": failoverErr.Error(),
		},
	)
}

func (t *Transport) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.breakerFor(endpoint).Execute(func() (*http.Response, error) {
		r, doErr := t.client.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		if r.StatusCode < 200 || r.StatusCode > 299 {
			r.Body.Close()
			return nil, fmt.Errorf("endpoint returned %d", r.StatusCode)
		}
		return r, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Some CBCs acknowledge with 200 but report a fault in the body.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if embedded := embeddedError(raw); embedded != "" {
		return fmt.Errorf("endpoint acknowledged with embedded error: %s", embedded)
	}
	return nil
}

// embeddedError returns the error message carried in an otherwise successful
// response body, or "" when the body carries none (or is not JSON).
func embeddedError(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var ack struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &ack); err != nil {
		return ""
	}
	return ack.Error
}
