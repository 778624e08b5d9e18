// Package cbc implements the provider clients for the mobile network
// operators' Cell Broadcast Centres. It handles per-family wire encoding
// (the CAP-modeled one-to-many format and the sequenced IBAG format),
// language inference, and primary/failover delivery through a shared
// transport.
//
// The two client families share one contract; they differ only in their
// encode strategy, composed into a common client rather than inherited.
package cbc

import (
	"context"
	"fmt"
	"time"

	"cbdispatch/internal/types"
)

// Family identifies a provider wire format. The value doubles as the
// message_format field on every payload.
type Family string

const (
	// FamilyCAP is the one-to-many format used by ee, o2, and three.
	FamilyCAP Family = "cap"
	// FamilyIBAG is the sequenced format used by vodafone. Every payload
	// carries a message number drawn from the shared provider sequence.
	FamilyIBAG Family = "ibag"
)

// FamilyFor returns the wire format family of a provider.
func FamilyFor(p types.Provider) Family {
	if p == types.ProviderVodafone {
		return FamilyIBAG
	}
	return FamilyCAP
}

// Sequenced reports whether the provider's wire format embeds a message
// number. Only these providers consume the shared sequence counter.
func Sequenced(p types.Provider) bool {
	return FamilyFor(p) == FamilyIBAG
}

// EventPayload is the canonical input to a send operation: the event
// snapshot, the channel fixed at alert time, and, for the sequenced family,
// the message number already assigned to this (event, provider) pair.
type EventPayload struct {
	Event   *types.BroadcastEvent
	Channel types.BroadcastChannel
	// Number is required for the sequenced family and ignored by the
	// one-to-many family.
	Number *int64
}

// Reference identifies one earlier transmitted event of the same broadcast
// message. Update and cancel payloads carry a reference for every earlier
// event, oldest first. Number is the earlier event's own message number and
// is set only for the sequenced family.
type Reference struct {
	EventID string
	Sent    time.Time
	Number  *int64
}

// SequenceSource draws values from the shared provider sequence counter.
// Implementations must be atomic and serializable (a database sequence);
// the number is never computed client-side.
type SequenceSource interface {
	Next(ctx context.Context) (int64, error)
}

// ProviderClient is the contract every operator client satisfies.
//
// CreateAndSend and UpdateAndSend infer the payload language from the alert
// content; Cancel never does (cancels carry no free text). A delivery that
// fails on both the primary and failover endpoints returns a retryable
// AppError; payload construction problems return a fatal one.
type ProviderClient interface {
	Provider() types.Provider
	SendLinkTest(ctx context.Context) error
	CreateAndSend(ctx context.Context, alert EventPayload) error
	UpdateAndSend(ctx context.Context, update EventPayload, previous []Reference) error
	Cancel(ctx context.Context, cancel EventPayload, previous []Reference) error
}

// FormatSequenceNumber renders a sequence value in the wire text format:
// base-16, lowercase, left-zero-padded to exactly 8 characters.
// For example, 123 formats as "0000007b".
func FormatSequenceNumber(n int64) string {
	return fmt.Sprintf("%08x", n)
}

// formatCBCTime renders a timestamp in the CAP-style datetime format the
// proxies expect. The trailing "-00:00" is a literal, not a computed offset,
// so it is appended rather than produced by the layout.
func formatCBCTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05") + "-00:00"
}
