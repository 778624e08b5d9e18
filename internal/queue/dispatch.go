// Package queue provides the SQS-based producer that schedules dispatch
// units. The queue is the only suspension point in the subsystem: a retry is
// a brand new delayed message, never a sleeping worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"cbdispatch/internal/types"
)

// sqsMaxDelaySeconds is the maximum DelaySeconds SQS supports (15 minutes).
// The backoff schedule caps at 300 seconds, well inside this limit, but the
// producer clamps anyway so a miscomputed delay can never be rejected.
const sqsMaxDelaySeconds = 900

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Dispatcher publishes DispatchMessages to the broadcast dispatch queue,
// either immediately (initial fan-out) or after a backoff delay (retry).
type Dispatcher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewDispatcher creates a Dispatcher targeting the given SQS queue.
func NewDispatcher(client SQSSender, queueURL string, logger types.Logger) *Dispatcher {
	return &Dispatcher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Enqueue publishes a dispatch unit for immediate processing. Used by the
// orchestrator when fanning out a freshly created broadcast event across the
// service's enabled providers.
func (d *Dispatcher) Enqueue(ctx context.Context, msg types.DispatchMessage, reason string) error {
	return d.send(ctx, msg, 0, reason)
}

// Requeue increments the message's RetryCount and publishes it again with
// the given delay. The increment happens BEFORE serialization so the next
// consumer sees an accurate attempt number and applies the correct backoff.
func (d *Dispatcher) Requeue(ctx context.Context, msg types.DispatchMessage, delay time.Duration, reason string) error {
	msg.RetryCount++
	return d.send(ctx, msg, delay, reason)
}

// send serializes the DispatchMessage to JSON and dispatches it to the queue
// with the given delay, clamped to the SQS maximum.
func (d *Dispatcher) send(ctx context.Context, msg types.DispatchMessage, delay time.Duration, reason string) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to marshal dispatch message", err)
	}

	delaySec := int32(delay.Seconds())
	if delaySec > sqsMaxDelaySeconds {
		delaySec = sqsMaxDelaySeconds
	}
	if delaySec < 0 {
		delaySec = 0
	}

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(d.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySec,
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	}

	if _, err := d.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue,
			fmt.Sprintf("failed to send dispatch message to %s", d.queueURL), err)
	}

	d.logger.Info("dispatch message enqueued",
		"queue_url", d.queueURL,
		"broadcast_event_id", msg.BroadcastEventID,
		"provider", string(msg.Provider),
		"retry_count", msg.RetryCount,
		"delay_seconds", delaySec,
		"trace_id", msg.TraceID,
		"reason", reason,
	)

	return nil
}
