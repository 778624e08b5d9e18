package broadcast

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"cbdispatch/internal/types"
)

// MessageStore is the slice of the broadcast message repository the
// orchestrator uses.
type MessageStore interface {
	Get(ctx context.Context, id string) (*types.BroadcastMessage, error)
	SetStatus(ctx context.Context, id string, status types.BroadcastStatus, actorID string, at time.Time) error
	SetChannel(ctx context.Context, id string, channel types.BroadcastChannel) error
}

// EventStore is the slice of the broadcast event repository the orchestrator
// and dispatch handler use.
type EventStore interface {
	Create(ctx context.Context, ev *types.BroadcastEvent) error
	Get(ctx context.Context, id string) (*types.BroadcastEvent, error)
	GetLatestForMessage(ctx context.Context, messageID string) (*types.BroadcastEvent, error)
	ListEarlierForMessage(ctx context.Context, messageID string, before time.Time) ([]*types.BroadcastEvent, error)
}

// ServiceStore reads the owning service's broadcast settings.
type ServiceStore interface {
	Get(ctx context.Context, serviceID string) (*types.ServiceBroadcastSettings, error)
}

// Enqueuer schedules dispatch units for immediate processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg types.DispatchMessage, reason string) error
}

// Orchestrator drives broadcast message lifecycle transitions. Transitions
// that transmit (going live, cancelling) append a broadcast event and fan
// one dispatch unit out per enabled provider; the rest only move status.
type Orchestrator struct {
	messages MessageStore
	events   EventStore
	services ServiceStore
	queue    Enqueuer
	clock    types.Clock
	logger   types.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	messages MessageStore,
	events EventStore,
	services ServiceStore,
	queue Enqueuer,
	clock types.Clock,
	logger types.Logger,
) *Orchestrator {
	return &Orchestrator{
		messages: messages,
		events:   events,
		services: services,
		queue:    queue,
		clock:    clock,
		logger:   logger,
	}
}

// SubmitForApproval moves a draft or rejected message into the approval queue.
func (o *Orchestrator) SubmitForApproval(ctx context.Context, messageID, actorID string) error {
	return o.transition(ctx, messageID, actorID, types.StatusPendingApproval)
}

// ReturnToDraft sends a pending message back for re-editing.
func (o *Orchestrator) ReturnToDraft(ctx context.Context, messageID, actorID string) error {
	return o.transition(ctx, messageID, actorID, types.StatusDraft)
}

// Reject declines a pending message.
func (o *Orchestrator) Reject(ctx context.Context, messageID, actorID string) error {
	return o.transition(ctx, messageID, actorID, types.StatusRejected)
}

// Complete marks a live message whose transmission window has closed.
func (o *Orchestrator) Complete(ctx context.Context, messageID string) error {
	return o.transition(ctx, messageID, "", types.StatusCompleted)
}

// MarkTechnicalFailure records that transmission of a live message failed
// beyond recovery.
func (o *Orchestrator) MarkTechnicalFailure(ctx context.Context, messageID string) error {
	return o.transition(ctx, messageID, "", types.StatusTechnicalFailure)
}

func (o *Orchestrator) transition(ctx context.Context, messageID, actorID string, to types.BroadcastStatus) error {
	msg, err := o.messages.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if err := CheckTransition(msg.Status, to); err != nil {
		return err
	}
	if err := o.messages.SetStatus(ctx, messageID, to, actorID, o.clock.Now()); err != nil {
		return err
	}
	o.logger.Info("broadcast message transitioned",
		"broadcast_message_id", messageID,
		"from", string(msg.Status),
		"to", string(to),
		"actor_id", actorID,
	)
	return nil
}

// Approve takes a pending message live. It validates the guards (no
// self-approval outside trial mode, at least one area), transitions the
// message to broadcasting, appends the transmitted event, and fans dispatch
// units out across the service's enabled providers. If any guard fails no
// event is created and nothing is enqueued.
//
// The appended event is an alert for a message going live for the first time
// and an update when the message already has transmitted events (an amended
// message passing back through approval).
func (o *Orchestrator) Approve(ctx context.Context, messageID, approverID string) (*types.BroadcastEvent, error) {
	msg, err := o.messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	settings, err := o.services.Get(ctx, msg.ServiceID)
	if err != nil {
		return nil, err
	}

	if approverID == msg.CreatedBy && !settings.TrialMode {
		return nil, types.NewAppError(types.ErrCodeValidationSelfApproval,
			"broadcast messages cannot be approved by their creator", nil)
	}
	if msg.Areas.Empty() {
		return nil, types.NewAppError(types.ErrCodeValidationNoAreas,
			"broadcast messages without selected areas cannot be approved", nil)
	}
	if err := CheckTransition(msg.Status, types.StatusBroadcasting); err != nil {
		return nil, err
	}

	latest, err := o.latestEvent(ctx, messageID)
	if err != nil {
		return nil, err
	}

	messageType := types.MessageTypeAlert
	if latest != nil {
		messageType = types.MessageTypeUpdate
	}

	// The channel is fixed at the first alert and reused verbatim afterwards.
	if msg.Channel == "" {
		msg.Channel = settings.Channel
		if msg.Channel == "" {
			msg.Channel = types.ChannelTest
		}
		if err := o.messages.SetChannel(ctx, messageID, msg.Channel); err != nil {
			return nil, err
		}
	}

	now := o.clock.Now()
	event := &types.BroadcastEvent{
		ID:                    uuid.NewString(),
		BroadcastMessageID:    messageID,
		MessageType:           messageType,
		SentAt:                o.nextSentAt(now, latest),
		Content:               types.TransmittedContent{Body: msg.Content},
		Areas:                 msg.Areas,
		TransmittedFinishesAt: msg.FinishesAt,
		Reference:             msg.Reference,
	}
	if err := o.events.Create(ctx, event); err != nil {
		return nil, err
	}
	if err := o.messages.SetStatus(ctx, messageID, types.StatusBroadcasting, approverID, now); err != nil {
		return nil, err
	}

	o.logger.Info("broadcast message approved",
		"broadcast_message_id", messageID,
		"broadcast_event_id", event.ID,
		"message_type", string(event.MessageType),
		"channel", string(msg.Channel),
		"approved_by", approverID,
	)

	if err := o.fanOut(ctx, msg, settings, event); err != nil {
		return nil, err
	}
	return event, nil
}

// Cancel stops a live message. It appends a cancel event and fans dispatch
// units out so every provider is told to stop transmitting.
func (o *Orchestrator) Cancel(ctx context.Context, messageID, actorID string) (*types.BroadcastEvent, error) {
	msg, err := o.messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(msg.Status, types.StatusCancelled); err != nil {
		return nil, err
	}
	settings, err := o.services.Get(ctx, msg.ServiceID)
	if err != nil {
		return nil, err
	}

	latest, err := o.latestEvent(ctx, messageID)
	if err != nil {
		return nil, err
	}

	now := o.clock.Now()
	event := &types.BroadcastEvent{
		ID:                    uuid.NewString(),
		BroadcastMessageID:    messageID,
		MessageType:           types.MessageTypeCancel,
		SentAt:                o.nextSentAt(now, latest),
		Content:               types.TransmittedContent{Body: msg.Content},
		Areas:                 msg.Areas,
		TransmittedFinishesAt: msg.FinishesAt,
		Reference:             msg.Reference,
	}
	if err := o.events.Create(ctx, event); err != nil {
		return nil, err
	}
	if err := o.messages.SetStatus(ctx, messageID, types.StatusCancelled, actorID, now); err != nil {
		return nil, err
	}

	o.logger.Info("broadcast message cancelled",
		"broadcast_message_id", messageID,
		"broadcast_event_id", event.ID,
		"cancelled_by", actorID,
	)

	if err := o.fanOut(ctx, msg, settings, event); err != nil {
		return nil, err
	}
	return event, nil
}

// latestEvent returns the newest event of a message, or nil when the message
// has never transmitted.
func (o *Orchestrator) latestEvent(ctx context.Context, messageID string) (*types.BroadcastEvent, error) {
	latest, err := o.events.GetLatestForMessage(ctx, messageID)
	if err != nil {
		if types.ErrorCodeOf(err) == types.ErrCodeNotFoundEvent {
			return nil, nil
		}
		return nil, err
	}
	return latest, nil
}

// nextSentAt guarantees strictly increasing sent_at within one message.
// Supersession resolves "the newest event" by sent_at, so ties are never
// acceptable; a clock reading at or behind the latest event is nudged just
// past it.
func (o *Orchestrator) nextSentAt(now time.Time, latest *types.BroadcastEvent) time.Time {
	if latest != nil && !now.After(latest.SentAt) {
		return latest.SentAt.Add(time.Millisecond)
	}
	return now
}

// fanOut enqueues one dispatch unit per enabled provider. Stubbed messages
// (training and trial mode services) run the full lifecycle but transmit
// nothing; the skip is logged per provider so the audit trail shows what
// would have been sent.
func (o *Orchestrator) fanOut(ctx context.Context, msg *types.BroadcastMessage, settings *types.ServiceBroadcastSettings, event *types.BroadcastEvent) error {
	if msg.Stubbed {
		for _, provider := range settings.Providers {
			o.logger.Info("stubbed broadcast, not transmitting",
				"broadcast_event_id", event.ID,
				"broadcast_message_id", msg.ID,
				"provider", string(provider),
			)
		}
		return nil
	}
	if len(settings.Providers) == 0 {
		o.logger.Warn("service has no providers enabled, nothing to dispatch",
			"broadcast_event_id", event.ID,
			"service_id", settings.ServiceID,
		)
		return nil
	}

	traceID := uuid.NewString()
	g, gctx := errgroup.WithContext(ctx)
	for _, provider := range settings.Providers {
		provider := provider
		g.Go(func() error {
			return o.queue.Enqueue(gctx, types.DispatchMessage{
				BroadcastEventID: event.ID,
				Provider:         provider,
				TraceID:          traceID,
			}, "initial dispatch")
		})
	}
	return g.Wait()
}
