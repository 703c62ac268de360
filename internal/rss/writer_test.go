package rss

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/seabird/chitter/internal/domain"
)

func sampleEntries() []domain.DigestEntry {
	return []domain.DigestEntry{
		{Title: "Oldest", Link: "http://old.example", Description: "d1", PublishedAt: time.Unix(100, 0)},
		{Title: "Middle", Link: "http://mid.example", Description: "d2", PublishedAt: time.Unix(200, 0)},
		{Title: "Newest", Link: "http://new.example", Description: "d3", PublishedAt: time.Unix(300, 0)},
	}
}

func TestWriteNewestFirst(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "feed.xml")
	if err := Write(path, "test feed", "http://site.example", sampleEntries(), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read feed: %v", err)
	}
	doc := string(raw)

	if !strings.Contains(doc, "<title>test feed</title>") {
		t.Fatalf("feed title missing: %s", doc)
	}
	newest := strings.Index(doc, "Newest")
	oldest := strings.Index(doc, "Oldest")
	if newest == -1 || oldest == -1 || newest > oldest {
		t.Fatalf("expected newest item first, got: %s", doc)
	}
}

func TestWriteCapsItems(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "feed.xml")
	if err := Write(path, "test feed", "http://site.example", sampleEntries(), 2); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read feed: %v", err)
	}
	doc := string(raw)

	if strings.Contains(doc, "Oldest") {
		t.Fatalf("cap should drop the oldest entry: %s", doc)
	}
	if !strings.Contains(doc, "Newest") || !strings.Contains(doc, "Middle") {
		t.Fatalf("cap dropped the wrong entries: %s", doc)
	}
}

func TestWriteReplacesExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "feed.xml")
	if err := Write(path, "test feed", "http://site.example", sampleEntries()[:1], 0); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := Write(path, "test feed", "http://site.example", sampleEntries(), 0); err != nil {
		t.Fatalf("second write: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read feed: %v", err)
	}
	if !strings.Contains(string(raw), "Newest") {
		t.Fatalf("feed not rewritten: %s", raw)
	}
}
