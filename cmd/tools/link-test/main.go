// Package main implements the link-test CLI tool for probing Cell Broadcast
// Centre connectivity directly, bypassing the Lambda worker.
//
// This tool is intended for local development and operational debugging after
// endpoint or credential changes. It builds the same provider client registry
// the worker uses and sends one link-test payload per requested provider. In
// watch mode it keeps probing on each provider's cadence until interrupted.
//
// Usage:
//
//	go run ./cmd/tools/link-test
//	go run ./cmd/tools/link-test --provider=vodafone
//	go run ./cmd/tools/link-test --watch
//
// Configuration (CBC endpoints, DATABASE_URL for the sequenced provider's
// message number sequence) is read from environment variables or a .env file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"cbdispatch/internal/broadcast"
	"cbdispatch/internal/cbc"
	"cbdispatch/internal/config"
	"cbdispatch/internal/db"
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

type sequenceSource struct {
	repo *db.BroadcastProviderMessageRepository
}

func (s *sequenceSource) Next(ctx context.Context) (int64, error) {
	return s.repo.NextSequence(ctx)
}

func main() {
	providerFlag := flag.String("provider", "", "probe a single provider (ee, o2, three, vodafone); default all")
	timeoutFlag := flag.Duration("timeout", 30*time.Second, "overall probe timeout (one-shot mode)")
	watchFlag := flag.Bool("watch", false, "keep probing on each provider's link-test cadence until interrupted")
	flag.Parse()

	logger := &slogAdapter{logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if !*watchFlag {
		ctx, cancel = context.WithTimeout(ctx, *timeoutFlag)
		defer cancel()
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: connect database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	transport := cbc.NewTransport(&http.Client{Timeout: cfg.CBC.Timeout}, cfg.CBC.UserAgent, logger)
	registry := cbc.NewRegistry(
		cfg.CBC,
		transport,
		&sequenceSource{repo: db.NewBroadcastProviderMessageRepository(pool)},
		types.RealClock{},
		logger,
	)
	runner := broadcast.NewLinkTestRunner(registry, logger)

	providers := registry.Providers()
	if *providerFlag != "" {
		providers = []types.Provider{types.Provider(*providerFlag)}
	}

	if *watchFlag {
		watch(ctx, runner, providers)
		return
	}
	for _, provider := range providers {
		runner.Run(ctx, provider)
	}
}

// watch probes each provider immediately and then on its own cadence until
// the context is cancelled.
func watch(ctx context.Context, runner *broadcast.LinkTestRunner, providers []types.Provider) {
	var wg sync.WaitGroup
	for _, provider := range providers {
		provider := provider
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Run(ctx, provider)
			ticker := time.NewTicker(cbc.LinkTestInterval(provider))
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					runner.Run(ctx, provider)
				}
			}
		}()
	}
	wg.Wait()
}
