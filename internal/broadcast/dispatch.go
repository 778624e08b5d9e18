package broadcast

import (
	"context"
	"time"

	"cbdispatch/internal/cbc"
	"cbdispatch/internal/types"
)

// ProviderMessageStore is the slice of the provider message repository the
// dispatch handler uses.
type ProviderMessageStore interface {
	EnsureExists(ctx context.Context, eventID string, provider types.Provider, withSequence bool) (*types.BroadcastProviderMessage, bool, error)
	ListForEvents(ctx context.Context, eventIDs []string, provider types.Provider) (map[string]*types.BroadcastProviderMessage, error)
	SetStatus(ctx context.Context, id string, status types.ProviderMessageStatus) error
}

// Requeuer schedules a dispatch unit's own retry after a backoff delay.
type Requeuer interface {
	Requeue(ctx context.Context, msg types.DispatchMessage, delay time.Duration, reason string) error
}

// ClientRegistry resolves the client for a provider.
type ClientRegistry interface {
	Get(provider types.Provider) (cbc.ProviderClient, error)
}

// DispatchHandler processes one dispatch unit: the delivery of one broadcast
// event to one provider. Units retry indefinitely on delivery failure; the
// only bounds are the event's transmitted expiry and supersession by a newer
// event, evaluated fresh before every re-enqueue.
type DispatchHandler struct {
	events           EventStore
	messages         MessageStore
	providerMessages ProviderMessageStore
	registry         ClientRegistry
	queue            Requeuer
	checker          *RetryChecker
	metrics          DispatchMetrics
	clock            types.Clock
	logger           types.Logger
}

// NewDispatchHandler creates a DispatchHandler.
func NewDispatchHandler(
	events EventStore,
	messages MessageStore,
	providerMessages ProviderMessageStore,
	registry ClientRegistry,
	queue Requeuer,
	checker *RetryChecker,
	metrics DispatchMetrics,
	clock types.Clock,
	logger types.Logger,
) *DispatchHandler {
	return &DispatchHandler{
		events:           events,
		messages:         messages,
		providerMessages: providerMessages,
		registry:         registry,
		queue:            queue,
		checker:          checker,
		metrics:          metrics,
		clock:            clock,
		logger:           logger,
	}
}

// Dispatch executes one dispatch unit. A nil return means the unit is done
// with the queue: delivered, retry already re-enqueued, or given up on
// purpose. A non-nil return means the task queue should redrive the message
// (transient infrastructure faults) or alert (fatal configuration and
// payload errors).
func (h *DispatchHandler) Dispatch(ctx context.Context, task types.DispatchMessage) error {
	event, err := h.events.Get(ctx, task.BroadcastEventID)
	if err != nil {
		return err
	}
	msg, err := h.messages.Get(ctx, event.BroadcastMessageID)
	if err != nil {
		return err
	}

	pm, created, err := h.providerMessages.EnsureExists(ctx, event.ID, task.Provider, cbc.Sequenced(task.Provider))
	if err != nil {
		return err
	}
	if !created && pm.Status == types.ProviderMessageAck {
		// A replayed message for a delivery that already succeeded.
		h.logger.Info("provider already acknowledged this event, skipping",
			"broadcast_event_id", event.ID,
			"provider", string(task.Provider),
			"trace_id", task.TraceID,
		)
		h.metrics.RecordDispatch(ctx, task.Provider, types.OutcomeSkipped)
		return nil
	}

	client, err := h.registry.Get(task.Provider)
	if err != nil {
		return h.fail(ctx, task, pm, err)
	}

	channel := msg.Channel
	if channel == "" {
		channel = types.ChannelTest
	}
	payload := cbc.EventPayload{
		Event:   event,
		Channel: channel,
		Number:  pm.MessageNumber,
	}

	start := h.clock.Now()
	sendErr := h.send(ctx, client, event, payload)
	h.metrics.RecordLatency(ctx, task.Provider, h.clock.Now().Sub(start))

	if sendErr == nil {
		if err := h.providerMessages.SetStatus(ctx, pm.ID, types.ProviderMessageAck); err != nil {
			return err
		}
		h.logger.Info("broadcast event delivered",
			"broadcast_event_id", event.ID,
			"provider", string(task.Provider),
			"retry_count", task.RetryCount,
			"trace_id", task.TraceID,
		)
		h.metrics.RecordDispatch(ctx, task.Provider, types.OutcomeSuccess)
		return nil
	}

	if types.IsRetryableDelivery(sendErr) {
		return h.retryOrGiveUp(ctx, task, event, sendErr)
	}
	return h.fail(ctx, task, pm, sendErr)
}

// send routes the payload by the event's message type. Update and cancel
// payloads reference every earlier event of the message, oldest first.
func (h *DispatchHandler) send(ctx context.Context, client cbc.ProviderClient, event *types.BroadcastEvent, payload cbc.EventPayload) error {
	switch event.MessageType {
	case types.MessageTypeAlert:
		return client.CreateAndSend(ctx, payload)
	case types.MessageTypeUpdate:
		previous, err := h.earlierReferences(ctx, event, client.Provider())
		if err != nil {
			return err
		}
		return client.UpdateAndSend(ctx, payload, previous)
	case types.MessageTypeCancel:
		previous, err := h.earlierReferences(ctx, event, client.Provider())
		if err != nil {
			return err
		}
		return client.Cancel(ctx, payload, previous)
	default:
		return types.NewAppError(types.ErrCodeProviderPayload,
			"broadcast event has unknown message type", nil)
	}
}

// earlierReferences builds the reference list from every event of the
// message sent strictly before this one. For the sequenced provider family
// each reference carries the earlier event's own message number, read from
// that event's provider message row.
func (h *DispatchHandler) earlierReferences(ctx context.Context, event *types.BroadcastEvent, provider types.Provider) ([]cbc.Reference, error) {
	earlier, err := h.events.ListEarlierForMessage(ctx, event.BroadcastMessageID, event.SentAt)
	if err != nil {
		return nil, err
	}
	if len(earlier) == 0 {
		return nil, nil
	}

	var numbers map[string]*types.BroadcastProviderMessage
	if cbc.Sequenced(provider) {
		ids := make([]string, 0, len(earlier))
		for _, ev := range earlier {
			ids = append(ids, ev.ID)
		}
		numbers, err = h.providerMessages.ListForEvents(ctx, ids, provider)
		if err != nil {
			return nil, err
		}
	}

	refs := make([]cbc.Reference, 0, len(earlier))
	for _, ev := range earlier {
		ref := cbc.Reference{EventID: ev.ID, Sent: ev.SentAt}
		if pm, ok := numbers[ev.ID]; ok {
			ref.Number = pm.MessageNumber
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// retryOrGiveUp runs the retry-eligibility check and either re-enqueues the
// unit with backoff or gives up. Give-up is a deliberate, logged completion
// of the unit, not a crash: the provider message stays in sending so
// operational tooling can see the delivery never finished.
func (h *DispatchHandler) retryOrGiveUp(ctx context.Context, task types.DispatchMessage, event *types.BroadcastEvent, cause error) error {
	decision, err := h.checker.Check(ctx, event)
	if err != nil {
		return err
	}

	if decision.ShouldRetry {
		delay := BackoffDelay(task.RetryCount)
		if err := h.queue.Requeue(ctx, task, delay, "delivery failed"); err != nil {
			return err
		}
		h.logger.Warn("delivery failed, retry scheduled",
			"broadcast_event_id", event.ID,
			"provider", string(task.Provider),
			"retry_count", task.RetryCount,
			"delay_seconds", int(delay.Seconds()),
			"trace_id", task.TraceID,
			"error", cause,
		)
		h.metrics.RecordDispatch(ctx, task.Provider, types.OutcomeRetrying)
		return nil
	}

	fields := []any{
		"broadcast_event_id", event.ID,
		"provider", string(task.Provider),
		"retry_count", task.RetryCount,
		"reason", decision.Reason,
		"trace_id", task.TraceID,
		"error", cause,
	}
	if decision.Superseding != nil {
		fields = append(fields,
			"superseded_by", decision.Superseding.ID,
			"superseded_by_type", string(decision.Superseding.MessageType),
		)
	}
	h.logger.Info("giving up delivery", fields...)
	h.metrics.RecordDispatch(ctx, task.Provider, types.OutcomeGaveUp)
	return nil
}

// fail records a fatal outcome. The provider message moves to returned-error
// so users see the delivery failed, and the error escapes to the task
// queue's alerting path because no retry will ever succeed.
func (h *DispatchHandler) fail(ctx context.Context, task types.DispatchMessage, pm *types.BroadcastProviderMessage, cause error) error {
	if err := h.providerMessages.SetStatus(ctx, pm.ID, types.ProviderMessageErr); err != nil {
		h.logger.Error("failed to record provider message error status",
			"provider_message_id", pm.ID,
			"error", err,
		)
	}
	h.logger.Error("fatal dispatch failure",
		"broadcast_event_id", task.BroadcastEventID,
		"provider", string(task.Provider),
		"trace_id", task.TraceID,
		"error", cause,
	)
	h.metrics.RecordDispatch(ctx, task.Provider, types.OutcomeFailed)
	return cause
}
