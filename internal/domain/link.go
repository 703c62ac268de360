package domain

import "time"

// Aggregate is one stored URL with everything attributed to it: the distinct
// users who shared it, the share count, and (optionally) the context records
// that caused it to be stored.
type Aggregate struct {
	URL string

	// Users are the distinct sharers. Count always equals len(Users).
	Users []string
	Count int

	// LastSeen is the time of the most recent share of this URL.
	LastSeen time.Time

	// Contexts is populated only when a query asks for the context join.
	Contexts []ContextRecord
}

// ContextRecord is the original post surrounding one share of a URL. Records
// are append-only and keyed by (post id, url), so recording the same pair
// twice is a no-op.
type ContextRecord struct {
	PostID int64
	URL    string
	User   string
	Text   string

	// Sub holds the nested original posts (reshared or quoted), in the
	// order they appeared on the post.
	Sub []SubStatus
}

// SourceWatermark is the per-source ingestion cursor: the highest post id
// already ingested and the time of the last completed poll.
type SourceWatermark struct {
	SourceID string

	// LastSeenID is nil for a source that has never been polled.
	LastSeenID *int64

	LastUpdatedAt time.Time
}

// DigestEntry is one compiled feed item. The digest is append-only: entries
// are never mutated or removed once written.
type DigestEntry struct {
	Title       string
	Link        string
	Description string
	PublishedAt time.Time
}

// Metadata is the result of resolving a page URL: its canonical location and
// display fields.
type Metadata struct {
	CanonicalURL string
	Title        string
	Description  string
}

// CompileCutoff returns the newest LastUpdatedAt across the given watermarks.
// Captured before an ingestion run begins, it is the ceiling the persisted
// compile cutoff may advance to after that run's compile pass, so activity
// polled during the run stays inside the next window.
func CompileCutoff(marks []SourceWatermark) time.Time {
	var cutoff time.Time
	for _, m := range marks {
		if m.LastUpdatedAt.After(cutoff) {
			cutoff = m.LastUpdatedAt
		}
	}
	return cutoff
}
