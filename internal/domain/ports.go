package domain

import (
	"context"
	"errors"
	"time"
)

// ErrRateLimited is returned by a Timeline when the upstream API refuses
// further requests. It suspends the whole remaining run; the caller backs off
// and retries later.
var ErrRateLimited = errors.New("timeline rate limited")

// LinkStore defines persistence for shared URLs and their contexts.
type LinkStore interface {
	// RecordShare creates the URL record if absent and attributes it to
	// user. Calling it again with the same (url, user) pair never inflates
	// the count. The user set, count, and last-seen time update atomically.
	RecordShare(ctx context.Context, url, user string, now time.Time) error

	// RecordContext appends a context record. It is a no-op, not an error,
	// if a record for the same (post id, url) pair already exists.
	RecordContext(ctx context.Context, rec ContextRecord) error

	// Query returns all URLs with last_seen >= since and count >= minCount,
	// ordered by last_seen ascending, joined with their context records
	// when includeContext is set.
	Query(ctx context.Context, since time.Time, minCount int, includeContext bool) ([]Aggregate, error)

	// Search returns URLs containing substr (case-sensitive), with the
	// context join, ordered by last_seen ascending.
	Search(ctx context.Context, substr string) ([]Aggregate, error)
}

// WatermarkStore defines persistence for per-source ingestion cursors.
type WatermarkStore interface {
	// Watermarks returns the cursor state for every known source.
	Watermarks(ctx context.Context) ([]SourceWatermark, error)

	// Advance records a completed poll for a source: last_updated_at is set
	// to now unconditionally, and last_seen_id is raised to maxSeen only if
	// it exceeds the stored value. maxSeen <= 0 means no posts were seen.
	Advance(ctx context.Context, sourceID string, maxSeen int64, now time.Time) error
}

// DigestStore defines persistence for the append-only compiled digest.
type DigestStore interface {
	// Contains reports whether a digest entry for link already exists.
	Contains(ctx context.Context, link string) (bool, error)

	// Append adds one entry. Appending a link already in the digest is a
	// no-op.
	Append(ctx context.Context, e DigestEntry) error

	// Entries returns the full digest, oldest first.
	Entries(ctx context.Context) ([]DigestEntry, error)

	// Cutoff returns the persisted compile cutoff: the lower bound of the
	// next compile pass's query window. Zero before any pass completed.
	Cutoff(ctx context.Context) (time.Time, error)

	// SetCutoff persists the compile cutoff. Only a completed compile
	// pass writes it.
	SetCutoff(ctx context.Context, t time.Time) error
}

// Timeline fetches new posts for a source. Implementations may return
// ErrRateLimited (wrapped) when the upstream API throttles us.
type Timeline interface {
	FetchPosts(ctx context.Context, src Source, sinceID int64, pageSize int) ([]Post, error)
}

// MetadataFetcher resolves a page URL to its canonical location and display
// metadata. Any error (unreachable, not HTML, timeout) means the URL could
// not be resolved; callers degrade rather than fail.
type MetadataFetcher interface {
	Fetch(ctx context.Context, pageURL string) (*Metadata, error)
}
