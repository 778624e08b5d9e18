package types

import "time"

// Polygon is one simplified coordinate ring, ordered [lat, lon] per vertex.
// Simplification happens upstream in the geometry pipeline; by the time a
// polygon reaches this subsystem it is already reduced to a transmittable
// vertex count.
type Polygon [][]float64

// AreaList pairs human-readable area names with their simplified polygons.
// The two fields are always written together; a message never carries names
// without geometry or geometry without names.
type AreaList struct {
	Names          []string  `json:"names"`
	SimplePolygons []Polygon `json:"simple_polygons"`
}

// Empty reports whether the selection contains no transmittable area.
func (a AreaList) Empty() bool {
	return len(a.Names) == 0 || len(a.SimplePolygons) == 0
}

// BroadcastMessage is the aggregate root for one alert campaign. Its draft
// and approval state is mutable; once the status goes live the content,
// areas, and schedule are frozen and only the status itself moves.
type BroadcastMessage struct {
	ID         string `json:"id"`
	ServiceID  string `json:"service_id"`
	TemplateID string `json:"template_id,omitempty"`
	// TemplateVersion is meaningful only when TemplateID is set.
	TemplateVersion int    `json:"template_version,omitempty"`
	Content         string `json:"content"`
	Reference       string `json:"reference"`

	Areas  AreaList        `json:"areas"`
	Status BroadcastStatus `json:"status"`

	// Channel is fixed when the first alert event is created and reused for
	// every later event of this message, even if the owning service's default
	// channel changes mid-incident.
	Channel BroadcastChannel `json:"channel,omitempty"`

	// Stubbed messages belong to services in training or trial mode: the full
	// lifecycle runs and events are recorded, but nothing is transmitted.
	Stubbed bool `json:"stubbed"`

	StartsAt   time.Time `json:"starts_at"`
	FinishesAt time.Time `json:"finishes_at"`

	CreatedBy   string `json:"created_by"`
	ApprovedBy  string `json:"approved_by,omitempty"`
	CancelledBy string `json:"cancelled_by,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	ApprovedAt  time.Time `json:"approved_at,omitempty"`
	CancelledAt time.Time `json:"cancelled_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// TransmittedContent is the content snapshot carried by a broadcast event.
type TransmittedContent struct {
	Body string `json:"body"`
}

// BroadcastEvent is one immutable transmitted lifecycle moment of a broadcast
// message: the alert itself, an amendment, or a cancellation. Events are
// append-only and ordered by SentAt within their message; supersession logic
// depends on that ordering being strict.
type BroadcastEvent struct {
	ID                 string             `json:"id"`
	BroadcastMessageID string             `json:"broadcast_message_id"`
	MessageType        MessageType        `json:"message_type"`
	SentAt             time.Time          `json:"sent_at"`
	Content            TransmittedContent `json:"transmitted_content"`
	Areas              AreaList           `json:"transmitted_areas"`
	// TransmittedFinishesAt is the expiry the providers were told; retry
	// eligibility is evaluated against this, not the message's live schedule.
	TransmittedFinishesAt time.Time `json:"transmitted_finishes_at"`
	Reference             string    `json:"reference"`
}

// Expired reports whether the event's transmitted expiry has passed at t.
func (e *BroadcastEvent) Expired(t time.Time) bool {
	return e.TransmittedFinishesAt.Before(t)
}

// BroadcastProviderMessage tracks one delivery of one broadcast event to one
// provider. At most one row exists per (event, provider) pair; the row is
// created when dispatch begins and its status is updated in place as attempts
// progress. Status writes are idempotent.
type BroadcastProviderMessage struct {
	ID               string                `json:"id"`
	BroadcastEventID string                `json:"broadcast_event_id"`
	Provider         Provider              `json:"provider"`
	Status           ProviderMessageStatus `json:"status"`
	// MessageNumber is populated only for providers whose wire format embeds
	// a sequence number. Drawn once from the shared database sequence when the
	// row is created, so retries reuse the number already assigned.
	MessageNumber *int64    `json:"message_number,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// ServiceBroadcastSettings is the slice of service configuration this
// subsystem consumes: which providers the service transmits through and which
// handset channel its alerts go out on. Supplied by the service configuration
// collaborator.
type ServiceBroadcastSettings struct {
	ServiceID string `json:"service_id"`
	// TrialMode services may self-approve and their messages are stubbed.
	TrialMode bool `json:"trial_mode"`
	// Channel is empty when the service has no explicit channel configured;
	// alerts then go out on the test channel.
	Channel   BroadcastChannel `json:"channel,omitempty"`
	Providers []Provider       `json:"providers"`
}
