package types

// DispatchMessage is the SQS payload representing one dispatch unit: the
// delivery of one broadcast event to one provider. Each unit is independently
// schedulable and independently retried; providers for the same event run in
// parallel with no ordering guarantee between them. JSON tags use snake_case
// to match the queue contract.
type DispatchMessage struct {
	BroadcastEventID string   `json:"broadcast_event_id"`
	Provider         Provider `json:"provider"`

	// RetryCount carries the attempt number across the publish-subscribe
	// cycle. Incremented by the dispatcher before each re-enqueue; the
	// backoff schedule is evaluated purely from this count.
	RetryCount int `json:"retry_count"`

	// TraceID correlates the fan-out of one broadcast event across providers.
	TraceID string `json:"trace_id"`
}
