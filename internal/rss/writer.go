// Package rss renders the persisted digest as an RSS 2.0 document.
package rss

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/feeds"

	"github.com/seabird/chitter/internal/domain"
)

// Write renders entries to an RSS file at path, newest first, capped at
// maxItems (0 means no cap). The file is replaced atomically so readers
// never see a partial feed.
func Write(path, title, siteURL string, entries []domain.DigestEntry, maxItems int) error {
	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: siteURL},
		Description: title,
		Created:     time.Now(),
	}

	// The digest is stored oldest first; readers want reverse chron.
	for i := len(entries) - 1; i >= 0; i-- {
		if maxItems > 0 && len(feed.Items) >= maxItems {
			break
		}
		e := entries[i]
		feed.Items = append(feed.Items, &feeds.Item{
			Title:       e.Title,
			Link:        &feeds.Link{Href: e.Link},
			Description: e.Description,
			Created:     e.PublishedAt,
		})
	}

	doc, err := feed.ToRss()
	if err != nil {
		return fmt.Errorf("render rss: %w", err)
	}

	tmp := path + ".tmp"
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create feed dir: %w", err)
		}
	}
	if err := os.WriteFile(tmp, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("write feed: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace feed: %w", err)
	}
	return nil
}
