package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Compiler turns qualifying link-store entries into digest entries. It runs
// incrementally: URLs already in the digest are never reprocessed, so running
// it twice over the same data appends nothing the second time.
type Compiler struct {
	links    LinkStore
	digest   DigestStore
	metadata MetadataFetcher
	logger   *slog.Logger
	now      func() time.Time
}

// NewCompiler builds a feed compiler.
func NewCompiler(links LinkStore, digest DigestStore, metadata MetadataFetcher, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{
		links:    links,
		digest:   digest,
		metadata: metadata,
		logger:   logger,
		now:      time.Now,
	}
}

// Compile appends a digest entry for every URL active since the last
// completed pass with at least minCount distinct sharers that is not already
// in the digest, oldest eligible first. The query window starts at the
// cutoff persisted with the digest; bound is the ceiling the cutoff may
// advance to, captured from the watermarks before the ingestion run began.
// A metadata failure skips just that URL and holds the cutoff at its
// last-seen time, so the candidate is queried again on a later pass. The
// appended entries are returned.
func (c *Compiler) Compile(ctx context.Context, bound time.Time, minCount int) ([]DigestEntry, error) {
	cutoff, err := c.digest.Cutoff(ctx)
	if err != nil {
		return nil, fmt.Errorf("load compile cutoff: %w", err)
	}

	aggs, err := c.links.Query(ctx, cutoff, minCount, false)
	if err != nil {
		return nil, fmt.Errorf("query qualifying urls: %w", err)
	}

	var (
		appended []DigestEntry
		heldAt   time.Time
	)
	for _, agg := range aggs {
		seen, err := c.digest.Contains(ctx, agg.URL)
		if err != nil {
			return appended, fmt.Errorf("check digest for %s: %w", agg.URL, err)
		}
		if seen {
			continue
		}

		meta, err := c.metadata.Fetch(ctx, agg.URL)
		if err != nil {
			c.logger.Warn("metadata lookup failed, skipping candidate", "url", agg.URL, "error", err)
			// Candidates arrive last-seen ascending, so the first
			// skip is the oldest.
			if heldAt.IsZero() {
				heldAt = agg.LastSeen
			}
			continue
		}

		entry := DigestEntry{
			Title:       meta.Title,
			Link:        agg.URL,
			Description: fmt.Sprintf("[Saved by %s]\t%s", strings.Join(agg.Users, ", "), meta.Description),
			PublishedAt: c.now(),
		}
		if err := c.digest.Append(ctx, entry); err != nil {
			return appended, fmt.Errorf("append digest entry for %s: %w", agg.URL, err)
		}
		appended = append(appended, entry)
	}

	next := bound
	if !heldAt.IsZero() && heldAt.Before(next) {
		next = heldAt
	}
	if next.After(cutoff) {
		if err := c.digest.SetCutoff(ctx, next); err != nil {
			return appended, fmt.Errorf("persist compile cutoff: %w", err)
		}
	}

	if len(appended) > 0 {
		c.logger.Info("digest compiled", "appended", len(appended), "candidates", len(aggs))
	}
	return appended, nil
}
