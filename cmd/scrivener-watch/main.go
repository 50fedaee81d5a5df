// Package main implements a small poller that watches article
// generation until every tracked article reaches a terminal state.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/scrivenerhq/scrivener/internal/clock/system"
	"github.com/scrivenerhq/scrivener/internal/logging"
	"github.com/scrivenerhq/scrivener/internal/reconciler"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "Service base URL")
	apiKey := flag.String("api-key", "", "API key when the service runs with auth")
	fast := flag.Duration("fast-interval", 5*time.Second, "Poll cadence for recent articles")
	slow := flag.Duration("slow-interval", 60*time.Second, "Poll cadence for older articles")
	window := flag.Duration("recent-window", 60*time.Second, "Age at which an article stops being recent")
	flag.Parse()

	ids := flag.Args()
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "usage: scrivener-watch [flags] article-id [article-id...]")
		os.Exit(2)
	}

	logger, err := logging.New(true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	client := reconciler.NewHTTPClient(*addr, *apiKey, 15*time.Second)
	rec := reconciler.New(client, clock, reconciler.Config{
		FastInterval: *fast,
		SlowInterval: *slow,
		RecentWindow: *window,
	}, logger.Named("reconciler"))

	now := clock.Now()
	for _, id := range ids {
		rec.Track(id, now)
	}

	go func() {
		_ = rec.Run(ctx)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("interrupted", zap.Int("outstanding", rec.Outstanding()))
			return
		case <-ticker.C:
			if rec.Outstanding() == 0 {
				for id, row := range rec.View() {
					if row.ErrorText != "" {
						logger.Info("article finished",
							zap.String("article_id", id),
							zap.String("status", string(row.JobStatus)),
							zap.String("error", row.ErrorText),
						)
						continue
					}
					logger.Info("article finished",
						zap.String("article_id", id),
						zap.String("status", string(row.JobStatus)),
						zap.String("title", row.Title),
					)
				}
				return
			}
		}
	}
}
