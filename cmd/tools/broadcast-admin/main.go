// Package main implements the broadcast-admin CLI tool for driving broadcast
// message lifecycle transitions directly, bypassing the surrounding platform.
//
// This tool is intended for local development and operational intervention:
// approving a message stuck in review during an incident rehearsal, or
// cancelling a live broadcast when the owning service is unreachable. It
// wires the same orchestrator the platform uses, so every guard (no
// self-approval outside trial mode, area presence, transition validity)
// still applies.
//
// Usage:
//
//	go run ./cmd/tools/broadcast-admin --action=approve --message=<id> --actor=<user-id>
//	go run ./cmd/tools/broadcast-admin --action=cancel --message=<id> --actor=<user-id>
//
// Actions: submit, return-to-draft, reject, approve, cancel, complete, fail.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"cbdispatch/internal/broadcast"
	"cbdispatch/internal/config"
	"cbdispatch/internal/db"
	"cbdispatch/internal/queue"
	"cbdispatch/internal/types"
)

type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

func main() {
	actionFlag := flag.String("action", "", "lifecycle action: submit, return-to-draft, reject, approve, cancel, complete, fail")
	messageFlag := flag.String("message", "", "broadcast message id")
	actorFlag := flag.String("actor", "", "acting user id (required for submit, return-to-draft, reject, approve, cancel)")
	timeoutFlag := flag.Duration("timeout", 30*time.Second, "overall operation timeout")
	flag.Parse()

	if *actionFlag == "" || *messageFlag == "" {
		fmt.Fprintln(os.Stderr, "usage: broadcast-admin --action=<action> --message=<id> [--actor=<user-id>]")
		os.Exit(2)
	}

	logger := &slogAdapter{logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: connect database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: load AWS config: %v\n", err)
		os.Exit(1)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	orch := broadcast.NewOrchestrator(
		db.NewBroadcastMessageRepository(pool),
		db.NewBroadcastEventRepository(pool),
		db.NewServiceSettingsRepository(pool),
		queue.NewDispatcher(sqsClient, cfg.AWS.DispatchQueue, logger),
		types.RealClock{},
		logger,
	)

	messageID, actorID := *messageFlag, *actorFlag
	switch *actionFlag {
	case "submit":
		err = orch.SubmitForApproval(ctx, messageID, actorID)
	case "return-to-draft":
		err = orch.ReturnToDraft(ctx, messageID, actorID)
	case "reject":
		err = orch.Reject(ctx, messageID, actorID)
	case "approve":
		var event *types.BroadcastEvent
		event, err = orch.Approve(ctx, messageID, actorID)
		if err == nil {
			fmt.Printf("approved, broadcast event %s\n", event.ID)
		}
	case "cancel":
		var event *types.BroadcastEvent
		event, err = orch.Cancel(ctx, messageID, actorID)
		if err == nil {
			fmt.Printf("cancelled, broadcast event %s\n", event.ID)
		}
	case "complete":
		err = orch.Complete(ctx, messageID)
	case "fail":
		err = orch.MarkTechnicalFailure(ctx, messageID)
	default:
		fmt.Fprintf(os.Stderr, "unknown action %q\n", *actionFlag)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
