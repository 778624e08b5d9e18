package types

// BroadcastStatus represents the lifecycle state of a broadcast message.
// These values MUST match the CHECK constraint on the broadcast_message table.
type BroadcastStatus string

const (
	StatusDraft            BroadcastStatus = "draft"
	StatusPendingApproval  BroadcastStatus = "pending-approval"
	StatusRejected         BroadcastStatus = "rejected"
	StatusBroadcasting     BroadcastStatus = "broadcasting"
	StatusCompleted        BroadcastStatus = "completed"
	StatusCancelled        BroadcastStatus = "cancelled"
	StatusTechnicalFailure BroadcastStatus = "technical-failure"
)

// Terminal reports whether the status admits no further transitions.
func (s BroadcastStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusTechnicalFailure:
		return true
	}
	return false
}

// Live reports whether the message has left the editable draft/approval cycle.
// Content, areas, and schedule are immutable once a message is live.
func (s BroadcastStatus) Live() bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusRejected:
		return false
	}
	return true
}

// MessageType identifies the kind of broadcast event transmitted to providers.
type MessageType string

const (
	MessageTypeAlert  MessageType = "alert"
	MessageTypeUpdate MessageType = "update"
	MessageTypeCancel MessageType = "cancel"
)

// Provider identifies a mobile network operator's Cell Broadcast Centre.
type Provider string

const (
	ProviderEE       Provider = "ee"
	ProviderO2       Provider = "o2"
	ProviderThree    Provider = "three"
	ProviderVodafone Provider = "vodafone"
)

// AllProviders lists every supported operator. Used by the registry and by
// validators checking a service's enabled provider set.
var AllProviders = []Provider{ProviderEE, ProviderO2, ProviderThree, ProviderVodafone}

// ProviderMessageStatus enumerates the valid states of a per-provider delivery
// record. A dispatch unit that gives up leaves the record in "sending" so that
// operational tooling can detect stuck deliveries; it is never deleted.
type ProviderMessageStatus string

const (
	ProviderMessageSending ProviderMessageStatus = "sending"
	ProviderMessageAck     ProviderMessageStatus = "returned-ack"
	ProviderMessageErr     ProviderMessageStatus = "returned-error"
)

// BroadcastChannel is the handset channel an alert is transmitted on.
// The channel is decided once when the first alert event is created and is
// reused verbatim for later update/cancel events of the same message.
type BroadcastChannel string

const (
	ChannelTest       BroadcastChannel = "test"
	ChannelOperator   BroadcastChannel = "operator"
	ChannelSevere     BroadcastChannel = "severe"
	ChannelGovernment BroadcastChannel = "government"
)

// DispatchOutcome categorizes the result of one dispatch unit invocation for
// metrics reporting. GaveUp is an expected, non-alarming outcome of the retry
// design and must stay distinguishable from Failed (a real provider outage).
type DispatchOutcome string

const (
	OutcomeSuccess  DispatchOutcome = "success"
	OutcomeRetrying DispatchOutcome = "retrying"
	OutcomeGaveUp   DispatchOutcome = "gave_up"
	OutcomeFailed   DispatchOutcome = "failed"
	OutcomeSkipped  DispatchOutcome = "skipped"
)

// Metric names and dimensions for CloudWatch telemetry.
const (
	MetricNamespace       = "BroadcastDispatch"
	MetricDispatchAttempt = "DispatchAttempt"
	DimProvider           = "Provider"
	DimOutcome            = "Outcome"
)
