// Command chitter is the polling daemon: on a cron schedule it ingests new
// posts from every configured source, compiles the digest, and rewrites the
// RSS feed.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adhocore/gronx"

	"github.com/seabird/chitter/internal/config"
	"github.com/seabird/chitter/internal/domain"
	"github.com/seabird/chitter/internal/metadata"
	"github.com/seabird/chitter/internal/rss"
	"github.com/seabird/chitter/internal/runlock"
	"github.com/seabird/chitter/internal/sqlite"
	"github.com/seabird/chitter/internal/timeline"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	}))

	if len(cfg.Sources) == 0 {
		return fmt.Errorf("no sources configured")
	}
	if !gronx.IsValid(cfg.Poller.Cron) {
		return fmt.Errorf("invalid poller cron expression: %s", cfg.Poller.Cron)
	}

	store, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	logger.Info("store opened", "path", cfg.Database.Path)

	fetcher := metadata.NewFetcher(nil, cfg.Metadata.RequestsPerSecond)
	client := timeline.NewClient(cfg.Timeline.BaseURL, cfg.Timeline.Token)

	ingestor, err := domain.NewIngestor(domain.IngestorConfig{
		Timeline:   client,
		Metadata:   fetcher,
		Links:      store,
		Watermarks: store,
		PageSize:   cfg.Timeline.PageSize,
		Logger:     logger.With("component", "ingestor"),
	})
	if err != nil {
		return fmt.Errorf("create ingestor: %w", err)
	}

	compiler := domain.NewCompiler(store, store, fetcher, logger.With("component", "compiler"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	poller := &poller{
		cfg:      cfg,
		store:    store,
		ingestor: ingestor,
		compiler: compiler,
		logger:   logger.With("component", "poller"),
	}

	logger.Info("poller started", "cron", cfg.Poller.Cron, "sources", len(cfg.Sources))
	return poller.loop(ctx)
}

type poller struct {
	cfg      *config.Config
	store    *sqlite.Store
	ingestor *domain.Ingestor
	compiler *domain.Compiler
	logger   *slog.Logger
}

// loop sleeps until each cron tick and runs one full pass per tick.
func (p *poller) loop(ctx context.Context) error {
	for {
		next, err := gronx.NextTickAfter(p.cfg.Poller.Cron, time.Now(), false)
		if err != nil {
			return fmt.Errorf("compute next tick: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Until(next)):
		}

		if err := p.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("run failed", "error", err)
		}
	}
}

// runOnce executes ingest, compile, and RSS write under the run lock. A
// rate-limited ingest sleeps the configured backoff once and resumes the
// remaining pass; already-advanced watermarks keep committed progress. The
// compile cutoff persists with the digest and moves only when a compile
// pass completes, so a tick that aborts before compiling loses nothing.
func (p *poller) runOnce(ctx context.Context) error {
	lock, err := runlock.Acquire(p.cfg.Lock.Path)
	if errors.Is(err, runlock.ErrHeld) {
		p.logger.Warn("another run holds the lock, skipping tick", "path", p.cfg.Lock.Path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	defer lock.Release()

	marks, err := p.store.Watermarks(ctx)
	if err != nil {
		return fmt.Errorf("load watermarks: %w", err)
	}
	// Captured before ingest: the compile cutoff may not advance past
	// activity polled during this run.
	bound := domain.CompileCutoff(marks)

	sources := p.cfg.ParsedSources()
	err = p.ingestor.Run(ctx, sources)
	if errors.Is(err, domain.ErrRateLimited) {
		backoff := time.Duration(p.cfg.Poller.BackoffMinutes) * time.Minute
		p.logger.Warn("rate limited, backing off", "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		err = p.ingestor.Run(ctx, sources)
	}
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	appended, err := p.compiler.Compile(ctx, bound, p.cfg.Feed.MinCount)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	if len(appended) == 0 {
		return nil
	}

	entries, err := p.store.Entries(ctx)
	if err != nil {
		return fmt.Errorf("load digest: %w", err)
	}
	if err := rss.Write(p.cfg.Feed.Path, p.cfg.Feed.Title, p.cfg.Feed.Link, entries, p.cfg.Feed.MaxItems); err != nil {
		return fmt.Errorf("write rss: %w", err)
	}

	p.logger.Info("feed updated", "appended", len(appended), "total", len(entries), "path", p.cfg.Feed.Path)
	return nil
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
