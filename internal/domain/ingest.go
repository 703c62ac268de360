package domain

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"time"
)

// DefaultSelfLinkPattern matches links back into the platform itself. Shares
// of such links are noise (threads, profiles) and are never recorded.
const DefaultSelfLinkPattern = `^https?://(?:www\.)?twitter\.com`

// IngestorConfig carries everything the ingestion pipeline needs at
// construction time.
type IngestorConfig struct {
	Timeline   Timeline
	Metadata   MetadataFetcher
	Links      LinkStore
	Watermarks WatermarkStore

	// SelfLinkPattern overrides DefaultSelfLinkPattern when non-empty.
	SelfLinkPattern string

	// PageSize is the page size passed to the timeline. Defaults to 200.
	PageSize int

	Logger *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Ingestor polls sources in priority order, records shares and contexts in
// the link store, and advances watermarks per source.
type Ingestor struct {
	timeline Timeline
	metadata MetadataFetcher
	links    LinkStore
	marks    WatermarkStore
	selfLink *regexp.Regexp
	pageSize int
	logger   *slog.Logger
	now      func() time.Time
}

// NewIngestor validates the configuration and builds the pipeline.
func NewIngestor(cfg IngestorConfig) (*Ingestor, error) {
	if cfg.Timeline == nil || cfg.Metadata == nil || cfg.Links == nil || cfg.Watermarks == nil {
		return nil, fmt.Errorf("ingestor: timeline, metadata, links, and watermarks are all required")
	}

	pattern := cfg.SelfLinkPattern
	if pattern == "" {
		pattern = DefaultSelfLinkPattern
	}
	selfLink, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("ingestor: compile self-link pattern: %w", err)
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Ingestor{
		timeline: cfg.Timeline,
		metadata: cfg.Metadata,
		links:    cfg.Links,
		marks:    cfg.Watermarks,
		selfLink: selfLink,
		pageSize: pageSize,
		logger:   logger,
		now:      now,
	}, nil
}

// Run polls every source once, in priority order. A rate-limit signal stops
// the run without advancing the interrupted source's watermark; the error
// wraps ErrRateLimited so the caller can back off and resume. Store write
// failures abort the run before any watermark for the affected source moves.
func (g *Ingestor) Run(ctx context.Context, sources []Source) error {
	marks, err := g.marks.Watermarks(ctx)
	if err != nil {
		return fmt.Errorf("load watermarks: %w", err)
	}

	byID := make(map[string]SourceWatermark, len(marks))
	for _, m := range marks {
		byID[m.SourceID] = m
	}

	// Resolve each URL once per run, however many posts carry it.
	cache := make(map[string]*Metadata)

	for _, src := range Prioritize(sources, byID) {
		var sinceID int64
		if m, ok := byID[src.ID]; ok && m.LastSeenID != nil {
			sinceID = *m.LastSeenID
		}

		if err := g.ingestSource(ctx, src, sinceID, cache); err != nil {
			return fmt.Errorf("source %s: %w", src.ID, err)
		}
	}

	return nil
}

func (g *Ingestor) ingestSource(ctx context.Context, src Source, sinceID int64, cache map[string]*Metadata) error {
	posts, err := g.timeline.FetchPosts(ctx, src, sinceID, g.pageSize)
	if err != nil {
		return fmt.Errorf("fetch posts since %d: %w", sinceID, err)
	}

	var maxSeen int64
	for _, post := range posts {
		if err := g.ingestPost(ctx, src, post, cache); err != nil {
			return err
		}
		if post.ID > maxSeen {
			maxSeen = post.ID
		}
	}

	if err := g.marks.Advance(ctx, src.ID, maxSeen, g.now()); err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}

	g.logger.Info("source ingested", "source", src.ID, "posts", len(posts), "max_seen", maxSeen)
	return nil
}

func (g *Ingestor) ingestPost(ctx context.Context, src Source, post Post, cache map[string]*Metadata) error {
	for _, raw := range candidateURLs(post) {
		if g.selfLink.MatchString(raw) {
			continue
		}

		resolved := g.resolve(ctx, src, post, raw, cache)
		if g.selfLink.MatchString(resolved) {
			continue
		}

		now := g.now()
		if err := g.links.RecordShare(ctx, resolved, post.Author, now); err != nil {
			return fmt.Errorf("record share of %s from post %d: %w", resolved, post.ID, err)
		}

		rec := ContextRecord{
			PostID: post.ID,
			URL:    resolved,
			User:   post.Author,
			Text:   post.Text,
			Sub:    subStatuses(post),
		}
		if err := g.links.RecordContext(ctx, rec); err != nil {
			return fmt.Errorf("record context of %s from post %d: %w", resolved, post.ID, err)
		}
	}
	return nil
}

// resolve substitutes the canonical URL when the metadata lookup succeeds and
// yields an absolute URL. A failed lookup or a relative canonical keeps the
// original URL; the share event is never lost to a bad page.
func (g *Ingestor) resolve(ctx context.Context, src Source, post Post, raw string, cache map[string]*Metadata) string {
	meta, ok := cache[raw]
	if !ok {
		var err error
		meta, err = g.metadata.Fetch(ctx, raw)
		if err != nil {
			g.logger.Warn("metadata lookup failed, keeping unresolved url",
				"source", src.ID, "post_id", post.ID, "url", raw, "error", err)
			meta = nil
		}
		cache[raw] = meta
	}

	if meta == nil || meta.CanonicalURL == "" {
		return raw
	}

	parsed, err := url.Parse(meta.CanonicalURL)
	if err != nil || !parsed.IsAbs() {
		return raw
	}
	return meta.CanonicalURL
}

// candidateURLs gathers a post's own links plus the links of any reshared or
// quoted sub-post, deduplicated within the post: citing the same link twice
// is still one share from that user.
func candidateURLs(post Post) []string {
	var all []string
	all = append(all, post.URLs...)
	if post.Reshared != nil {
		all = append(all, post.Reshared.URLs...)
	}
	if post.Quoted != nil {
		all = append(all, post.Quoted.URLs...)
	}

	seen := make(map[string]struct{}, len(all))
	urls := all[:0]
	for _, u := range all {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls
}

func subStatuses(post Post) []SubStatus {
	var subs []SubStatus
	for _, sub := range []*Post{post.Reshared, post.Quoted} {
		if sub == nil {
			continue
		}
		subs = append(subs, SubStatus{ID: sub.ID, User: sub.Author, Text: sub.Text})
	}
	return subs
}

// Prioritize orders sources for ingestion: never-polled sources first, then
// ascending last-seen post id so thinly covered sources are serviced before
// well-covered ones within a rate-limited budget. Staler last-poll time
// breaks ties.
func Prioritize(sources []Source, marks map[string]SourceWatermark) []Source {
	ordered := make([]Source, len(sources))
	copy(ordered, sources)

	sort.SliceStable(ordered, func(i, j int) bool {
		mi, iOK := marks[ordered[i].ID]
		mj, jOK := marks[ordered[j].ID]

		iSeen := iOK && mi.LastSeenID != nil
		jSeen := jOK && mj.LastSeenID != nil
		if iSeen != jSeen {
			return !iSeen
		}
		if iSeen && *mi.LastSeenID != *mj.LastSeenID {
			return *mi.LastSeenID < *mj.LastSeenID
		}
		return mi.LastUpdatedAt.Before(mj.LastUpdatedAt)
	})

	return ordered
}
