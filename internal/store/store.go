package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crawlstack/crawlgraph/internal/page"
	"github.com/crawlstack/crawlgraph/pkg/hashutil"
)

/*
Responsibilities

- Persist every page, link, resource, and JS event the crawl discovers.
- Serve the frontier-independent queue view: which pages still need
  crawling, optionally scoped to one domain.
- Support the three startup modes: a fresh scan, an update pass that
  resets one domain, and a continue pass that resumes as-is.

Knows nothing about HTTP, HTML, or crawl order; it only persists rows
and answers which of them are uncrawled.
*/

// Store is a SQLite-backed repository for the crawl graph.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if necessary) the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &Store{db: db}, nil
}

// Ensure creates every table and index the store needs if they don't
// already exist.
func (s *Store) Ensure(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddPage inserts a newly discovered, not-yet-crawled page row. If the
// URL is already known (by url_hash), AddPage is a no-op and returns the
// existing row's id. parentURL is the page this one was discovered from,
// empty for seed and sitemap entries.
func (s *Store) AddPage(ctx context.Context, rawURL, normalizedURL, domain string, depth int, parentURL string) (int64, error) {
	urlHash, err := hashutil.HashBytes([]byte(rawURL), hashutil.HashAlgoSHA256)
	if err != nil {
		return 0, fmt.Errorf("hash url: %w", err)
	}
	normalizedHash, err := hashutil.HashBytes([]byte(normalizedURL), hashutil.HashAlgoSHA256)
	if err != nil {
		return 0, fmt.Errorf("hash normalized url: %w", err)
	}

	var scheme, path, query, fragment string
	if parsed, parseErr := url.Parse(rawURL); parseErr == nil {
		scheme = parsed.Scheme
		path = parsed.Path
		query = parsed.RawQuery
		fragment = parsed.Fragment
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (
			url, url_hash, normalized_url, normalized_url_hash, domain,
			scheme, path, query_string, fragment, parent_url, depth
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url_hash) DO NOTHING
	`,
		rawURL, urlHash, normalizedURL, normalizedHash, domain,
		nullableString(scheme), nullableString(path), nullableString(query),
		nullableString(fragment), nullableString(parentURL), depth,
	)
	if err != nil {
		return 0, fmt.Errorf("insert page: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		if id, err := res.LastInsertId(); err == nil {
			return id, nil
		}
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM pages WHERE url_hash = ?`, urlHash).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup existing page: %w", err)
	}
	return id, nil
}

// UpdatePageCrawl writes the result of crawling a page back to its row,
// matched by url_hash.
func (s *Store) UpdatePageCrawl(ctx context.Context, u page.Update) error {
	fetchedAt := u.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}

	var redirectURL any
	if u.RedirectURL != "" {
		redirectURL = u.RedirectURL
	} else if u.FinalURL != "" && u.FinalURL != u.URL {
		redirectURL = u.FinalURL
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE pages SET
			status_code = ?, content_type = ?, is_crawled = 1, error_message = ?,
			title = ?, meta_description = ?, meta_keywords = ?, meta_robots = ?,
			canonical_url = ?, og_title = ?, og_description = ?, og_image = ?,
			og_type = ?, twitter_card = ?, html_lang = ?, fetched_at = ?,
			redirect_url = ?, redirect_chain = ?, response_time_ms = ?,
			content_length = ?, encoding = ?,
			crawl_count = crawl_count + 1,
			first_crawled_at = COALESCE(first_crawled_at, ?),
			last_crawled_at = ?
		WHERE url_hash = ?
	`,
		u.StatusCode, u.ContentType, nullableString(u.ErrorMessage),
		nullableString(u.Title), nullableString(u.MetaDescription), nullableString(u.MetaKeywords),
		nullableString(u.MetaRobots), nullableString(u.CanonicalURL), nullableString(u.OGTitle),
		nullableString(u.OGDescription), nullableString(u.OGImage), nullableString(u.OGType),
		nullableString(u.TwitterCard), nullableString(u.HTMLLang), fetchedAt,
		redirectURL, nullableString(u.RedirectChain), nullableInt64(u.ResponseTimeMs),
		nullableInt64(u.ContentLength), nullableString(u.Encoding),
		fetchedAt, fetchedAt,
		u.URLHash,
	)
	if err != nil {
		return fmt.Errorf("update page crawl: %w", err)
	}
	return nil
}

// AddLink records one outbound link from sourcePageID. Duplicate links
// from the same source to the same target are silently ignored.
func (s *Store) AddLink(ctx context.Context, sourcePageID int64, link page.Link) error {
	targetHash, err := hashutil.HashBytes([]byte(link.TargetURL), hashutil.HashAlgoSHA256)
	if err != nil {
		return fmt.Errorf("hash target url: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO links (
			source_page_id, target_url, target_url_hash, link_type, anchor_text,
			title, rel, aria_label, is_internal, is_external, is_follow,
			context, onclick_code
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_page_id, target_url_hash) DO NOTHING
	`,
		sourcePageID, link.TargetURL, targetHash, string(link.Kind), nullableString(link.Text),
		nullableString(link.Title), nullableString(link.Rel), nullableString(link.AriaLabel),
		boolToInt(link.IsInternal), boolToInt(link.IsExternal), boolToInt(link.IsFollow),
		nullableString(link.Context), nullableString(link.OnclickCode),
	)
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

// AddResource records one asset reference from sourcePageID.
func (s *Store) AddResource(ctx context.Context, sourcePageID int64, resource page.Resource) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resources (source_page_id, url, kind, source_tag, source_attr, alt_text, keyword_tag)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		sourcePageID, resource.URL, string(resource.Kind), resource.SourceTag, resource.SourceAttr,
		nullableString(resource.AltText), nullableString(resource.KeywordTag),
	)
	if err != nil {
		return fmt.Errorf("insert resource: %w", err)
	}
	return nil
}

// AddJavascriptEvent records one onclick/script JS-URL match from sourcePageID.
func (s *Store) AddJavascriptEvent(ctx context.Context, sourcePageID int64, event page.JavascriptEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO javascript_events (source_page_id, kind, source, target_url)
		VALUES (?, ?, ?, ?)
	`, sourcePageID, event.Kind, nullableString(event.Source), nullableString(event.TargetURL))
	if err != nil {
		return fmt.Errorf("insert javascript event: %w", err)
	}
	return nil
}

// UncrawledPage is one row returned by NextUncrawled: enough to resume
// fetching without a second round trip.
type UncrawledPage struct {
	ID     int64
	URL    string
	Domain string
	Depth  int
}

// NextUncrawled returns the shallowest not-yet-crawled page, oldest
// first among pages of equal depth, optionally
// scoped to one domain (empty string means any domain). Returns
// (UncrawledPage{}, false, nil) once the queue is empty.
func (s *Store) NextUncrawled(ctx context.Context, domain string) (UncrawledPage, bool, error) {
	query := `SELECT id, url, domain, depth FROM pages WHERE is_crawled = 0`
	args := []any{}
	if domain != "" {
		query += ` AND domain = ?`
		args = append(args, domain)
	}
	query += ` ORDER BY depth ASC, discovered_at ASC LIMIT 1`

	var row UncrawledPage
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&row.ID, &row.URL, &row.Domain, &row.Depth)
	if err == sql.ErrNoRows {
		return UncrawledPage{}, false, nil
	}
	if err != nil {
		return UncrawledPage{}, false, fmt.Errorf("next uncrawled: %w", err)
	}
	return row, true, nil
}

// UncrawledPages returns every not-yet-crawled row, ordered the same way
// NextUncrawled would hand them out one at a time. Used to pre-load a
// worker pool's queue in a single pass rather than polling row-by-row.
func (s *Store) UncrawledPages(ctx context.Context, domain string) ([]UncrawledPage, error) {
	query := `SELECT id, url, domain, depth FROM pages WHERE is_crawled = 0`
	args := []any{}
	if domain != "" {
		query += ` AND domain = ?`
		args = append(args, domain)
	}
	query += ` ORDER BY depth ASC, discovered_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("uncrawled pages: %w", err)
	}
	defer rows.Close()

	var result []UncrawledPage
	for rows.Next() {
		var row UncrawledPage
		if err := rows.Scan(&row.ID, &row.URL, &row.Domain, &row.Depth); err != nil {
			return nil, fmt.Errorf("uncrawled pages scan: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// ResetDomain marks every page under host as not-crawled again, clearing
// its prior crawl results, for the "update" startup mode.
func (s *Store) ResetDomain(ctx context.Context, host string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pages SET
			is_crawled = 0, status_code = NULL, content_type = NULL, error_message = NULL,
			title = NULL, meta_description = NULL, meta_keywords = NULL, meta_robots = NULL,
			canonical_url = NULL, og_title = NULL, og_description = NULL, og_image = NULL,
			og_type = NULL, twitter_card = NULL, html_lang = NULL, fetched_at = NULL,
			redirect_url = NULL, redirect_chain = NULL, response_time_ms = NULL,
			content_length = NULL, encoding = NULL
		WHERE domain = ?
	`, host)
	if err != nil {
		return fmt.Errorf("reset domain: %w", err)
	}
	return nil
}

// DeleteDomain removes every page, link, resource, and JS event under
// host, for the "new scan" startup mode's destructive purge.
func (s *Store) DeleteDomain(ctx context.Context, host string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete domain: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM javascript_events WHERE source_page_id IN (SELECT id FROM pages WHERE domain = ?)
	`, host); err != nil {
		return fmt.Errorf("delete javascript events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM resources WHERE source_page_id IN (SELECT id FROM pages WHERE domain = ?)
	`, host); err != nil {
		return fmt.Errorf("delete resources: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM links WHERE source_page_id IN (SELECT id FROM pages WHERE domain = ?)
	`, host); err != nil {
		return fmt.Errorf("delete links: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE domain = ?`, host); err != nil {
		return fmt.Errorf("delete pages: %w", err)
	}

	return tx.Commit()
}

// DistinctDomains returns every domain with at least one page on record.
func (s *Store) DistinctDomains(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT domain FROM pages ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("distinct domains: %w", err)
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

// CountLinksFrom returns how many distinct links have been recorded
// from sourcePageID.
func (s *Store) CountLinksFrom(ctx context.Context, sourcePageID int64) (int, error) {
	return s.scalarCountInt64(ctx, `SELECT COUNT(*) FROM links WHERE source_page_id = ?`, sourcePageID)
}

// CountPages returns the total number of page rows on record, optionally
// scoped to one host (empty string means all domains).
func (s *Store) CountPages(ctx context.Context, host string) (int, error) {
	if host == "" {
		return s.scalarCount(ctx, `SELECT COUNT(*) FROM pages`)
	}
	return s.scalarCountArg(ctx, `SELECT COUNT(*) FROM pages WHERE domain = ?`, host)
}

// CountCrawled returns how many pages have been crawled, optionally
// scoped to one host (empty string means all domains).
func (s *Store) CountCrawled(ctx context.Context, host string) (int, error) {
	if host == "" {
		return s.scalarCount(ctx, `SELECT COUNT(*) FROM pages WHERE is_crawled = 1`)
	}
	return s.scalarCountArg(ctx, `SELECT COUNT(*) FROM pages WHERE is_crawled = 1 AND domain = ?`, host)
}

// CountUncrawled returns how many pages are still pending, optionally
// scoped to one host (empty string means all domains).
func (s *Store) CountUncrawled(ctx context.Context, host string) (int, error) {
	if host == "" {
		return s.scalarCount(ctx, `SELECT COUNT(*) FROM pages WHERE is_crawled = 0`)
	}
	return s.scalarCountArg(ctx, `SELECT COUNT(*) FROM pages WHERE is_crawled = 0 AND domain = ?`, host)
}

func (s *Store) scalarCount(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (s *Store) scalarCountArg(ctx context.Context, query, arg string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (s *Store) scalarCountInt64(ctx context.Context, query string, arg int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt64(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
