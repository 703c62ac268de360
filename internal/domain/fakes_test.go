package domain

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// fakeLinks is an in-memory LinkStore for pipeline tests.
type fakeLinks struct {
	users    map[string][]string // url -> sharers, insertion order
	lastSeen map[string]time.Time
	contexts map[string]ContextRecord // keyed by (post id, url)

	shareErr error
}

func newFakeLinks() *fakeLinks {
	return &fakeLinks{
		users:    map[string][]string{},
		lastSeen: map[string]time.Time{},
		contexts: map[string]ContextRecord{},
	}
}

func (f *fakeLinks) RecordShare(_ context.Context, url, user string, now time.Time) error {
	if f.shareErr != nil {
		return f.shareErr
	}
	for _, u := range f.users[url] {
		if u == user {
			f.lastSeen[url] = now
			return nil
		}
	}
	f.users[url] = append(f.users[url], user)
	f.lastSeen[url] = now
	return nil
}

func (f *fakeLinks) RecordContext(_ context.Context, rec ContextRecord) error {
	key := fmt.Sprintf("%d-%s", rec.PostID, rec.URL)
	if _, ok := f.contexts[key]; ok {
		return nil
	}
	f.contexts[key] = rec
	return nil
}

func (f *fakeLinks) Query(_ context.Context, since time.Time, minCount int, includeContext bool) ([]Aggregate, error) {
	var aggs []Aggregate
	for url, users := range f.users {
		if len(users) < minCount || f.lastSeen[url].Before(since) {
			continue
		}
		agg := Aggregate{URL: url, Users: users, Count: len(users), LastSeen: f.lastSeen[url]}
		if includeContext {
			for _, rec := range f.contexts {
				if rec.URL == url {
					agg.Contexts = append(agg.Contexts, rec)
				}
			}
		}
		aggs = append(aggs, agg)
	}
	sort.Slice(aggs, func(i, j int) bool { return aggs[i].LastSeen.Before(aggs[j].LastSeen) })
	return aggs, nil
}

func (f *fakeLinks) Search(ctx context.Context, substr string) ([]Aggregate, error) {
	return f.Query(ctx, time.Time{}, 1, true)
}

// fakeMarks is an in-memory WatermarkStore.
type fakeMarks struct {
	marks map[string]SourceWatermark
}

func newFakeMarks() *fakeMarks {
	return &fakeMarks{marks: map[string]SourceWatermark{}}
}

func (f *fakeMarks) Watermarks(_ context.Context) ([]SourceWatermark, error) {
	var out []SourceWatermark
	for _, m := range f.marks {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeMarks) Advance(_ context.Context, sourceID string, maxSeen int64, now time.Time) error {
	mark := f.marks[sourceID]
	mark.SourceID = sourceID
	mark.LastUpdatedAt = now
	if maxSeen > 0 && (mark.LastSeenID == nil || maxSeen > *mark.LastSeenID) {
		mark.LastSeenID = &maxSeen
	}
	f.marks[sourceID] = mark
	return nil
}

// fakeTimeline serves canned posts per source and records the since ids it
// was asked for.
type fakeTimeline struct {
	posts    map[string][]Post
	errs     map[string]error
	sinceIDs map[string]int64
}

func newFakeTimeline() *fakeTimeline {
	return &fakeTimeline{
		posts:    map[string][]Post{},
		errs:     map[string]error{},
		sinceIDs: map[string]int64{},
	}
}

func (f *fakeTimeline) FetchPosts(_ context.Context, src Source, sinceID int64, _ int) ([]Post, error) {
	f.sinceIDs[src.ID] = sinceID
	if err := f.errs[src.ID]; err != nil {
		return nil, err
	}
	var fresh []Post
	for _, p := range f.posts[src.ID] {
		if p.ID > sinceID {
			fresh = append(fresh, p)
		}
	}
	return fresh, nil
}

// fakeMetadata answers lookups from a table and counts calls per URL.
type fakeMetadata struct {
	meta  map[string]*Metadata
	errs  map[string]error
	calls map[string]int
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{
		meta:  map[string]*Metadata{},
		errs:  map[string]error{},
		calls: map[string]int{},
	}
}

func (f *fakeMetadata) Fetch(_ context.Context, pageURL string) (*Metadata, error) {
	f.calls[pageURL]++
	if err := f.errs[pageURL]; err != nil {
		return nil, err
	}
	if m, ok := f.meta[pageURL]; ok {
		return m, nil
	}
	return &Metadata{CanonicalURL: pageURL, Title: pageURL}, nil
}

// fakeDigest is an in-memory DigestStore.
type fakeDigest struct {
	entries []DigestEntry
	seen    map[string]bool
	cutoff  time.Time
}

func newFakeDigest() *fakeDigest {
	return &fakeDigest{seen: map[string]bool{}}
}

func (f *fakeDigest) Contains(_ context.Context, link string) (bool, error) {
	return f.seen[link], nil
}

func (f *fakeDigest) Append(_ context.Context, e DigestEntry) error {
	if f.seen[e.Link] {
		return nil
	}
	f.seen[e.Link] = true
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeDigest) Entries(_ context.Context) ([]DigestEntry, error) {
	return f.entries, nil
}

func (f *fakeDigest) Cutoff(_ context.Context) (time.Time, error) {
	return f.cutoff, nil
}

func (f *fakeDigest) SetCutoff(_ context.Context, t time.Time) error {
	f.cutoff = t
	return nil
}
