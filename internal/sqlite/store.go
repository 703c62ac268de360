// Package sqlite persists the link store, per-source watermarks, and the
// compiled digest in a single SQLite database file.
package sqlite

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/seabird/chitter/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS urls (
	url       TEXT PRIMARY KEY,
	count     INTEGER NOT NULL DEFAULT 0,
	last_seen INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS url_users (
	url  TEXT NOT NULL,
	user TEXT NOT NULL,
	PRIMARY KEY (url, user)
);

CREATE TABLE IF NOT EXISTS context (
	key     TEXT PRIMARY KEY,
	post_id TEXT NOT NULL,
	url     TEXT NOT NULL,
	user    TEXT NOT NULL,
	text    TEXT NOT NULL,
	sub     TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS context_url ON context (url);

CREATE TABLE IF NOT EXISTS watermarks (
	source_id       TEXT PRIMARY KEY,
	last_seen_id    INTEGER,
	last_updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS compile_state (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS digest (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	link         TEXT NOT NULL UNIQUE,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL,
	published_at INTEGER NOT NULL
);
`

// Store implements domain.LinkStore, domain.WatermarkStore, and
// domain.DigestStore over one database file. It supports a single writing
// process; callers serialize full runs with an advisory lock.
type Store struct {
	db *sql.DB
}

var (
	_ domain.LinkStore      = (*Store)(nil)
	_ domain.WatermarkStore = (*Store)(nil)
	_ domain.DigestStore    = (*Store)(nil)
)

// Open creates the database file (and its directory) if needed, applies the
// schema, and returns a ready Store.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordShare attributes url to user. The membership insert, count
// recomputation, and last-seen update happen in one transaction.
func (s *Store) RecordShare(ctx context.Context, url, user string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO urls (url, last_seen) VALUES (?, ?) ON CONFLICT (url) DO NOTHING`,
		url, now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert url: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO url_users (url, user) VALUES (?, ?) ON CONFLICT (url, user) DO NOTHING`,
		url, user,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE urls
		SET count = (SELECT COUNT(*) FROM url_users WHERE url = ?),
		    last_seen = ?
		WHERE url = ?`,
		url, now.Unix(), url,
	)
	if err != nil {
		return fmt.Errorf("update count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RecordContext appends a context record, keyed by (post id, url hash) so the
// same pair inserts exactly once.
func (s *Store) RecordContext(ctx context.Context, rec domain.ContextRecord) error {
	sub, err := json.Marshal(rec.Sub)
	if err != nil {
		return fmt.Errorf("marshal sub statuses: %w", err)
	}
	if rec.Sub == nil {
		sub = []byte("[]")
	}

	key := contextKey(rec.PostID, rec.URL)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO context (key, post_id, url, user, text, sub)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO NOTHING`,
		key, fmt.Sprintf("%d", rec.PostID), rec.URL, rec.User, rec.Text, string(sub),
	)
	if err != nil {
		return fmt.Errorf("insert context %s: %w", key, err)
	}
	return nil
}

func contextKey(postID int64, url string) string {
	return fmt.Sprintf("%d-%x", postID, md5.Sum([]byte(url)))
}

// Query returns urls with last_seen >= since and count >= minCount, ordered
// by last_seen ascending.
func (s *Store) Query(ctx context.Context, since time.Time, minCount int, includeContext bool) ([]domain.Aggregate, error) {
	query := sq.Select("url", "count", "last_seen").
		From("urls").
		Where(sq.GtOrEq{"last_seen": since.Unix()}).
		Where(sq.GtOrEq{"count": minCount}).
		OrderBy("last_seen ASC")

	return s.aggregates(ctx, query, includeContext)
}

// Search returns urls containing substr, with the context join. The match is
// a case-sensitive substring test, not a pattern.
func (s *Store) Search(ctx context.Context, substr string) ([]domain.Aggregate, error) {
	query := sq.Select("url", "count", "last_seen").
		From("urls").
		Where(sq.Expr("instr(url, ?) > 0", substr)).
		OrderBy("last_seen ASC")

	return s.aggregates(ctx, query, true)
}

func (s *Store) aggregates(ctx context.Context, query sq.SelectBuilder, includeContext bool) ([]domain.Aggregate, error) {
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query urls: %w", err)
	}
	defer rows.Close()

	var aggs []domain.Aggregate
	for rows.Next() {
		var (
			agg      domain.Aggregate
			lastSeen int64
		)
		if err := rows.Scan(&agg.URL, &agg.Count, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan url row: %w", err)
		}
		agg.LastSeen = time.Unix(lastSeen, 0).UTC()
		aggs = append(aggs, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate urls: %w", err)
	}

	for i := range aggs {
		users, err := s.urlUsers(ctx, aggs[i].URL)
		if err != nil {
			return nil, err
		}
		aggs[i].Users = users

		if includeContext {
			contexts, err := s.urlContexts(ctx, aggs[i].URL)
			if err != nil {
				return nil, err
			}
			aggs[i].Contexts = contexts
		}
	}

	return aggs, nil
}

func (s *Store) urlUsers(ctx context.Context, url string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user FROM url_users WHERE url = ? ORDER BY rowid`, url)
	if err != nil {
		return nil, fmt.Errorf("query users of %s: %w", url, err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var user string
		if err := rows.Scan(&user); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (s *Store) urlContexts(ctx context.Context, url string) ([]domain.ContextRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, url, user, text, sub FROM context WHERE url = ? ORDER BY rowid`, url)
	if err != nil {
		return nil, fmt.Errorf("query contexts of %s: %w", url, err)
	}
	defer rows.Close()

	var recs []domain.ContextRecord
	for rows.Next() {
		var (
			rec    domain.ContextRecord
			postID string
			sub    string
		)
		if err := rows.Scan(&postID, &rec.URL, &rec.User, &rec.Text, &sub); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		rec.PostID, err = strconv.ParseInt(postID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse context post id %q: %w", postID, err)
		}
		if err := json.Unmarshal([]byte(sub), &rec.Sub); err != nil {
			return nil, fmt.Errorf("unmarshal sub statuses: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contexts: %w", err)
	}
	return recs, nil
}

// Watermarks returns the cursor state for every known source.
func (s *Store) Watermarks(ctx context.Context) ([]domain.SourceWatermark, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, last_seen_id, last_updated_at FROM watermarks`)
	if err != nil {
		return nil, fmt.Errorf("query watermarks: %w", err)
	}
	defer rows.Close()

	var marks []domain.SourceWatermark
	for rows.Next() {
		var (
			mark     domain.SourceWatermark
			lastSeen sql.NullInt64
			updated  int64
		)
		if err := rows.Scan(&mark.SourceID, &lastSeen, &updated); err != nil {
			return nil, fmt.Errorf("scan watermark: %w", err)
		}
		if lastSeen.Valid {
			mark.LastSeenID = &lastSeen.Int64
		}
		mark.LastUpdatedAt = time.Unix(updated, 0).UTC()
		marks = append(marks, mark)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watermarks: %w", err)
	}
	return marks, nil
}

// Advance upserts a source's watermark: last_updated_at moves to now
// unconditionally, last_seen_id only ever increases.
func (s *Store) Advance(ctx context.Context, sourceID string, maxSeen int64, now time.Time) error {
	seen := sql.NullInt64{Int64: maxSeen, Valid: maxSeen > 0}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watermarks (source_id, last_seen_id, last_updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (source_id) DO UPDATE SET
			last_updated_at = excluded.last_updated_at,
			last_seen_id = CASE
				WHEN excluded.last_seen_id IS NOT NULL
				     AND (watermarks.last_seen_id IS NULL
				          OR excluded.last_seen_id > watermarks.last_seen_id)
				THEN excluded.last_seen_id
				ELSE watermarks.last_seen_id
			END`,
		sourceID, seen, now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("advance watermark for %s: %w", sourceID, err)
	}
	return nil
}

// Contains reports whether link is already in the digest.
func (s *Store) Contains(ctx context.Context, link string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM digest WHERE link = ?)`, link,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check digest for %s: %w", link, err)
	}
	return exists, nil
}

// Append adds one digest entry; a link already present is left untouched.
func (s *Store) Append(ctx context.Context, e domain.DigestEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO digest (link, title, description, published_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (link) DO NOTHING`,
		e.Link, e.Title, e.Description, e.PublishedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append digest entry %s: %w", e.Link, err)
	}
	return nil
}

const cutoffKey = "cutoff"

// Cutoff returns the persisted compile cutoff, or the zero time before the
// first completed compile pass.
func (s *Store) Cutoff(ctx context.Context) (time.Time, error) {
	var unix int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM compile_state WHERE key = ?`, cutoffKey,
	).Scan(&unix)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load compile cutoff: %w", err)
	}
	return time.Unix(unix, 0).UTC(), nil
}

// SetCutoff persists the compile cutoff.
func (s *Store) SetCutoff(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO compile_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		cutoffKey, t.Unix(),
	)
	if err != nil {
		return fmt.Errorf("persist compile cutoff: %w", err)
	}
	return nil
}

// Entries returns the full digest, oldest first.
func (s *Store) Entries(ctx context.Context) ([]domain.DigestEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT link, title, description, published_at FROM digest ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query digest: %w", err)
	}
	defer rows.Close()

	var entries []domain.DigestEntry
	for rows.Next() {
		var (
			e         domain.DigestEntry
			published int64
		)
		if err := rows.Scan(&e.Link, &e.Title, &e.Description, &published); err != nil {
			return nil, fmt.Errorf("scan digest entry: %w", err)
		}
		e.PublishedAt = time.Unix(published, 0).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate digest: %w", err)
	}
	return entries, nil
}
