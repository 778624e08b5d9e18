package cbc

import (
	"context"
	"encoding/json"
	"fmt"

	"cbdispatch/internal/types"

	"github.com/google/uuid"
)

// Client implements ProviderClient for one mobile network operator. The
// per-family behavior lives entirely in the encoder; everything else
// (marshalling, endpoint routing, logging) is shared.
type Client struct {
	provider types.Provider
	encoder  encoder
	invoker  Invoker
	primary  string
	failover string
	sequence SequenceSource
	clock    types.Clock
	logger   types.Logger
}

// Invoker delivers an encoded payload with primary/failover routing.
// Satisfied by *Transport.
type Invoker interface {
	Invoke(ctx context.Context, primary, failover string, body []byte) error
}

// NewClient builds the client for one provider. sequence may be nil for the
// one-to-many family; the sequenced family requires it and NewClient panics
// if it is missing, since that is a wiring mistake not a runtime condition.
func NewClient(
	provider types.Provider,
	invoker Invoker,
	primary, failover string,
	sequence SequenceSource,
	clock types.Clock,
	logger types.Logger,
) *Client {
	var enc encoder
	switch FamilyFor(provider) {
	case FamilyIBAG:
		if sequence == nil {
			panic(fmt.Sprintf("cbc: provider %s requires a sequence source", provider))
		}
		enc = &ibagEncoder{languages: defaultLanguages}
	default:
		enc = &capEncoder{languages: defaultLanguages}
	}
	return &Client{
		provider: provider,
		encoder:  enc,
		invoker:  invoker,
		primary:  primary,
		failover: failover,
		sequence: sequence,
		clock:    clock,
		logger:   logger,
	}
}

func (c *Client) Provider() types.Provider { return c.provider }

// SendLinkTest posts a connectivity probe with a throwaway identifier. The
// sequenced family draws a real sequence value for the probe so the CBC sees
// numbers it can ingest.
func (c *Client) SendLinkTest(ctx context.Context) error {
	var number *int64
	if Sequenced(c.provider) {
		n, err := c.sequence.Next(ctx)
		if err != nil {
			return err
		}
		number = &n
	}
	payload := c.encoder.EncodeLinkTest(uuid.NewString(), number, c.clock.Now())
	return c.send(ctx, "link-test", payload)
}

// CreateAndSend transmits the first event of a broadcast message.
func (c *Client) CreateAndSend(ctx context.Context, alert EventPayload) error {
	payload, err := c.encoder.EncodeAlert(alert)
	if err != nil {
		return err
	}
	return c.send(ctx, "alert", payload)
}

// UpdateAndSend transmits a content change, referencing every earlier event.
func (c *Client) UpdateAndSend(ctx context.Context, update EventPayload, previous []Reference) error {
	payload, err := c.encoder.EncodeUpdate(update, previous)
	if err != nil {
		return err
	}
	return c.send(ctx, "update", payload)
}

// Cancel stops transmission, referencing every earlier event.
func (c *Client) Cancel(ctx context.Context, cancel EventPayload, previous []Reference) error {
	payload, err := c.encoder.EncodeCancel(cancel, previous)
	if err != nil {
		return err
	}
	return c.send(ctx, "cancel", payload)
}

func (c *Client) send(ctx context.Context, operation string, payload *wirePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeProviderPayload,
			"failed to marshal CBC payload", err)
	}

	c.logger.Info("sending to CBC",
		"provider", string(c.provider),
		"operation", operation,
		"identifier", payload.Identifier,
		"message_format", payload.MessageFormat)

	if err := c.invoker.Invoke(ctx, c.primary, c.failover, body); err != nil {
		return err
	}

	c.logger.Info("CBC accepted payload",
		"provider", string(c.provider),
		"operation", operation,
		"identifier", payload.Identifier)
	return nil
}
