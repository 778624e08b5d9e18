// Package main is the entrypoint for the Broadcast Worker Lambda function.
//
// The worker consumes dispatch units from the broadcast dispatch SQS queue.
// Each unit is the delivery of one broadcast event to one mobile network
// operator's Cell Broadcast Centre, retried with backoff until it succeeds,
// the event expires, or a newer event supersedes it.
//
// Cold start:
//  1. Initialize structured logger.
//  2. Load and validate configuration (fail fast).
//  3. Load AWS SDK configuration, honoring a LocalStack endpoint override.
//  4. Open the pgx connection pool and build repositories.
//  5. Build the CBC transport, provider client registry, and SQS dispatcher.
//  6. Register the handler and call lambda.Start.
//
// Handler flow per SQS message:
//  1. Unmarshal the DispatchMessage.
//  2. Run the dispatch unit (idempotent provider message creation, encode,
//     primary/failover delivery, retry-eligibility check on failure).
//  3. Report failures through partial batch responses so SQS redrives only
//     the affected messages.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"cbdispatch/internal/broadcast"
	"cbdispatch/internal/cbc"
	"cbdispatch/internal/config"
	"cbdispatch/internal/db"
	"cbdispatch/internal/queue"
	"cbdispatch/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies Info/Warn/Error directly but its With returns
// *slog.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// sequenceSource adapts the provider message repository's NextSequence to
// the cbc.SequenceSource contract used by link tests for the sequenced
// provider family.
type sequenceSource struct {
	repo *db.BroadcastProviderMessageRepository
}

func (s *sequenceSource) Next(ctx context.Context) (int64, error) {
	return s.repo.NextSequence(ctx)
}

// Handler holds the dependencies for the broadcast worker Lambda handler.
type Handler struct {
	dispatch *broadcast.DispatchHandler
	metrics  broadcast.DispatchMetrics
	logger   types.Logger
}

// Handle processes an SQS event containing one or more dispatch units.
// Lambda SQS integration uses partial batch responses: messages that fail
// processing are returned in batchItemFailures so SQS redrives only them.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	var task types.DispatchMessage
	if err := json.Unmarshal([]byte(record.Body), &task); err != nil {
		// Permanent parse failure, redriving cannot fix it.
		h.logger.Error("failed to unmarshal dispatch message",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		return nil
	}

	if sentTimestamp, ok := record.Attributes["SentTimestamp"]; ok {
		if sent, err := parseMillisTimestamp(sentTimestamp); err == nil {
			h.metrics.RecordQueueLag(ctx, time.Since(sent))
		}
	}

	return h.dispatch.Dispatch(ctx, task)
}

// parseMillisTimestamp parses a millisecond-epoch string into a time.Time.
// Used for the SQS SentTimestamp attribute to calculate queue lag.
func parseMillisTimestamp(ms string) (time.Time, error) {
	var millis int64
	if _, err := fmt.Sscanf(ms, "%d", &millis); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis), nil
}

func main() {
	logger := &slogAdapter{logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err.Error())
		os.Exit(1)
	}

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS configuration", "error", err.Error())
		os.Exit(1)
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to open database pool", "error", err.Error())
		os.Exit(1)
	}

	clock := types.RealClock{}
	eventRepo := db.NewBroadcastEventRepository(pool)
	messageRepo := db.NewBroadcastMessageRepository(pool)
	providerMessageRepo := db.NewBroadcastProviderMessageRepository(pool)

	transport := cbc.NewTransport(&http.Client{Timeout: cfg.CBC.Timeout}, cfg.CBC.UserAgent, logger)
	registry := cbc.NewRegistry(cfg.CBC, transport, &sequenceSource{repo: providerMessageRepo}, clock, logger)

	dispatcher := queue.NewDispatcher(sqsClient, cfg.AWS.DispatchQueue, logger)
	metrics := broadcast.NewCloudWatchDispatchMetrics(cwClient, cfg.AWS.MetricNamespace, logger)
	checker := broadcast.NewRetryChecker(eventRepo, clock)

	handler := &Handler{
		dispatch: broadcast.NewDispatchHandler(
			eventRepo,
			messageRepo,
			providerMessageRepo,
			registry,
			dispatcher,
			checker,
			metrics,
			clock,
			logger,
		),
		metrics: metrics,
		logger:  logger,
	}

	logger.Info("broadcast worker starting",
		"environment", cfg.Environment,
		"queue_url", cfg.AWS.DispatchQueue,
	)

	lambda.Start(handler.Handle)
}

// newPool opens a pgx connection pool with the configured tuning parameters.
func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	return pgxpool.NewWithConfig(ctx, poolCfg)
}
