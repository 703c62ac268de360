package domain

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedShares(t *testing.T, links *fakeLinks, url string, users []string, at time.Time) {
	t.Helper()
	for _, u := range users {
		if err := links.RecordShare(context.Background(), url, u, at); err != nil {
			t.Fatalf("seed share: %v", err)
		}
	}
}

func TestCompileAppendsQualifyingURLs(t *testing.T) {
	t.Parallel()

	links := newFakeLinks()
	seedShares(t, links, "http://a.example", []string{"alice", "bob"}, time.Unix(100, 0))
	seedShares(t, links, "http://lonely.example", []string{"alice"}, time.Unix(100, 0))

	meta := newFakeMetadata()
	meta.meta["http://a.example"] = &Metadata{Title: "A Page", Description: "about a"}

	digest := newFakeDigest()
	c := NewCompiler(links, digest, meta, nil)

	appended, err := c.Compile(context.Background(), time.Unix(150, 0), 2)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(appended) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(appended))
	}

	e := appended[0]
	if e.Link != "http://a.example" || e.Title != "A Page" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	want := "[Saved by alice, bob]\tabout a"
	if e.Description != want {
		t.Fatalf("expected description %q, got %q", want, e.Description)
	}
}

func TestCompileIsIdempotent(t *testing.T) {
	t.Parallel()

	links := newFakeLinks()
	seedShares(t, links, "http://a.example", []string{"alice", "bob"}, time.Unix(100, 0))

	digest := newFakeDigest()
	c := NewCompiler(links, digest, newFakeMetadata(), nil)

	ctx := context.Background()
	bound := time.Unix(50, 0)
	first, err := c.Compile(ctx, bound, 2)
	if err != nil {
		t.Fatalf("first compile: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 entry on first pass, got %d", len(first))
	}
	if !digest.cutoff.Equal(bound) {
		t.Fatalf("clean pass should advance the cutoff to %v, got %v", bound, digest.cutoff)
	}

	second, err := c.Compile(ctx, bound, 2)
	if err != nil {
		t.Fatalf("second compile: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second pass appended %d entries, want 0", len(second))
	}
	if len(digest.entries) != 1 {
		t.Fatalf("digest grew to %d entries", len(digest.entries))
	}
}

func TestCompileSkipsFailedMetadataAndRetriesLater(t *testing.T) {
	t.Parallel()

	links := newFakeLinks()
	seedShares(t, links, "http://up.example", []string{"alice", "bob"}, time.Unix(100, 0))
	seedShares(t, links, "http://down.example", []string{"carol", "dan"}, time.Unix(200, 0))

	meta := newFakeMetadata()
	meta.errs["http://down.example"] = errors.New("unreachable")

	digest := newFakeDigest()
	c := NewCompiler(links, digest, meta, nil)

	// The ingest watermarks already sit past all of this activity.
	ctx := context.Background()
	appended, err := c.Compile(ctx, time.Unix(300, 0), 2)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(appended) != 1 || appended[0].Link != "http://up.example" {
		t.Fatalf("expected only the reachable url, got %+v", appended)
	}
	if !digest.cutoff.Equal(time.Unix(200, 0)) {
		t.Fatalf("cutoff must be held at the skipped candidate's last seen, got %v", digest.cutoff)
	}

	// The page recovers while further ingest passes keep moving the
	// watermarks; the held cutoff keeps the candidate in the window.
	delete(meta.errs, "http://down.example")
	appended, err = c.Compile(ctx, time.Unix(900, 0), 2)
	if err != nil {
		t.Fatalf("second compile: %v", err)
	}
	if len(appended) != 1 || appended[0].Link != "http://down.example" {
		t.Fatalf("expected retry to append the recovered url, got %+v", appended)
	}
	if !digest.cutoff.Equal(time.Unix(900, 0)) {
		t.Fatalf("clean pass should release the cutoff to the bound, got %v", digest.cutoff)
	}
}

func TestCompileHonorsCutoff(t *testing.T) {
	t.Parallel()

	links := newFakeLinks()
	seedShares(t, links, "http://old.example", []string{"alice", "bob"}, time.Unix(100, 0))
	seedShares(t, links, "http://new.example", []string{"carol", "dan"}, time.Unix(500, 0))

	digest := newFakeDigest()
	digest.cutoff = time.Unix(300, 0)
	c := NewCompiler(links, digest, newFakeMetadata(), nil)

	appended, err := c.Compile(context.Background(), time.Unix(600, 0), 2)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(appended) != 1 || appended[0].Link != "http://new.example" {
		t.Fatalf("expected only activity after the cutoff, got %+v", appended)
	}
}

func TestIngestThenCompileFlow(t *testing.T) {
	t.Parallel()

	tl := newFakeTimeline()
	tl.posts["s"] = []Post{
		{ID: 1, Author: "alice", Text: "read http://a.example", URLs: []string{"http://a.example"}},
		{ID: 2, Author: "bob", Text: "also http://a.example", URLs: []string{"http://a.example"}},
	}

	links := newFakeLinks()
	marks := newFakeMarks()
	meta := newFakeMetadata()
	digest := newFakeDigest()

	clock := time.Unix(1000, 0)
	ing, err := NewIngestor(IngestorConfig{
		Timeline:   tl,
		Metadata:   meta,
		Links:      links,
		Watermarks: marks,
		Now:        func() time.Time { return clock },
	})
	if err != nil {
		t.Fatalf("NewIngestor: %v", err)
	}
	c := NewCompiler(links, digest, meta, nil)

	ctx := context.Background()
	sources := []Source{{ID: "s", User: "s"}}

	// One tick: bound captured before ingest, then ingest and compile.
	tick := func() []DigestEntry {
		t.Helper()
		current, err := marks.Watermarks(ctx)
		if err != nil {
			t.Fatalf("watermarks: %v", err)
		}
		bound := CompileCutoff(current)
		if err := ing.Run(ctx, sources); err != nil {
			t.Fatalf("ingest: %v", err)
		}
		appended, err := c.Compile(ctx, bound, 2)
		if err != nil {
			t.Fatalf("compile: %v", err)
		}
		return appended
	}

	// Tick 1: the page is down, so the url qualifies but is skipped.
	meta.errs["http://a.example"] = errors.New("unreachable")
	if appended := tick(); len(appended) != 0 {
		t.Fatalf("tick 1 appended %d entries, want 0", len(appended))
	}

	// Tick 2: nothing new on the timeline, the page has recovered. The
	// watermark bound has moved past the url's last-seen time, but the
	// held cutoff must still pick it up.
	clock = clock.Add(15 * time.Minute)
	delete(meta.errs, "http://a.example")
	appended := tick()
	if len(appended) != 1 || appended[0].Link != "http://a.example" {
		t.Fatalf("recovered url not appended on the next tick: %+v", appended)
	}

	// Tick 3: steady state appends nothing.
	clock = clock.Add(15 * time.Minute)
	if appended := tick(); len(appended) != 0 {
		t.Fatalf("steady-state tick appended %d entries", len(appended))
	}
	if len(digest.entries) != 1 {
		t.Fatalf("digest holds %d entries, want 1", len(digest.entries))
	}
}

func TestCompileCutoff(t *testing.T) {
	t.Parallel()

	marks := []SourceWatermark{
		{SourceID: "a", LastUpdatedAt: time.Unix(100, 0)},
		{SourceID: "b", LastUpdatedAt: time.Unix(300, 0)},
		{SourceID: "c", LastUpdatedAt: time.Unix(200, 0)},
	}
	if got := CompileCutoff(marks); !got.Equal(time.Unix(300, 0)) {
		t.Fatalf("expected cutoff 300, got %v", got)
	}
	if got := CompileCutoff(nil); !got.IsZero() {
		t.Fatalf("expected zero cutoff with no watermarks, got %v", got)
	}
}
