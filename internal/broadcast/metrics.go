package broadcast

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"cbdispatch/internal/types"
)

// DispatchMetrics records dispatch unit outcomes for operational dashboards.
// Give-up must stay distinguishable from failure: the former is an expected
// outcome of the retry design, the latter is a provider outage.
type DispatchMetrics interface {
	RecordDispatch(ctx context.Context, provider types.Provider, outcome types.DispatchOutcome)
	RecordLatency(ctx context.Context, provider types.Provider, duration time.Duration)
	RecordQueueLag(ctx context.Context, lag time.Duration)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchDispatchMetrics implements DispatchMetrics.
var _ DispatchMetrics = (*CloudWatchDispatchMetrics)(nil)

// CloudWatchDispatchMetrics implements DispatchMetrics by publishing to AWS
// CloudWatch. Metric publication never fails a dispatch unit; errors are
// logged and swallowed.
type CloudWatchDispatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchDispatchMetrics creates a CloudWatchDispatchMetrics publishing
// to the given namespace.
func NewCloudWatchDispatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchDispatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchDispatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordDispatch emits a DispatchAttempt count with Provider and Outcome dimensions.
func (m *CloudWatchDispatchMetrics) RecordDispatch(ctx context.Context, provider types.Provider, outcome types.DispatchOutcome) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricDispatchAttempt),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(types.DimProvider),
						Value: aws.String(string(provider)),
					},
					{
						Name:  aws.String(types.DimOutcome),
						Value: aws.String(string(outcome)),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record dispatch metric",
			"error", err.Error(),
			"provider", string(provider),
			"outcome", string(outcome),
		)
	}
}

// RecordLatency emits the wall time one dispatch attempt took, in
// milliseconds, with the Provider dimension.
func (m *CloudWatchDispatchMetrics) RecordLatency(ctx context.Context, provider types.Provider, duration time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricDispatchAttempt + "Latency"),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(types.DimProvider),
						Value: aws.String(string(provider)),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record latency metric",
			"error", err.Error(),
			"provider", string(provider),
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// RecordQueueLag emits the time between SQS enqueue and worker processing
// start, covering backlog and delay-second scheduling.
func (m *CloudWatchDispatchMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("DispatchQueueLag"),
				Value:      aws.Float64(float64(lag.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record queue lag metric",
			"error", err.Error(),
			"lag_ms", lag.Milliseconds(),
		)
	}
}

// NoopDispatchMetrics discards every metric. Used by CLI tooling where
// CloudWatch wiring would be noise.
type NoopDispatchMetrics struct{}

func (NoopDispatchMetrics) RecordDispatch(context.Context, types.Provider, types.DispatchOutcome) {}
func (NoopDispatchMetrics) RecordLatency(context.Context, types.Provider, time.Duration)          {}
func (NoopDispatchMetrics) RecordQueueLag(context.Context, time.Duration)                         {}
