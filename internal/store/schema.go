package store

const schemaSQL = `
CREATE TABLE IF NOT EXISTS pages (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    url                   TEXT NOT NULL UNIQUE,
    url_hash              TEXT NOT NULL UNIQUE,
    normalized_url         TEXT NOT NULL,
    normalized_url_hash   TEXT NOT NULL UNIQUE,
    domain                TEXT NOT NULL,
    scheme                TEXT,
    path                  TEXT,
    query_string          TEXT,
    fragment              TEXT,
    parent_url            TEXT,
    depth                 INTEGER NOT NULL DEFAULT 0,
    status_code           INTEGER,
    content_type          TEXT,
    is_crawled            INTEGER NOT NULL DEFAULT 0,
    error_message         TEXT,
    title                 TEXT,
    meta_description      TEXT,
    meta_keywords         TEXT,
    meta_robots           TEXT,
    canonical_url         TEXT,
    og_title              TEXT,
    og_description        TEXT,
    og_image              TEXT,
    og_type               TEXT,
    twitter_card          TEXT,
    html_lang             TEXT,
    redirect_url          TEXT,
    redirect_chain        TEXT,
    response_time_ms      INTEGER,
    content_length        INTEGER,
    encoding              TEXT,
    crawl_count           INTEGER NOT NULL DEFAULT 0,
    discovered_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    first_crawled_at      DATETIME,
    last_crawled_at       DATETIME,
    fetched_at            DATETIME
);

CREATE INDEX IF NOT EXISTS idx_pages_url_hash ON pages(url_hash);
CREATE INDEX IF NOT EXISTS idx_pages_normalized_url_hash ON pages(normalized_url_hash);
CREATE INDEX IF NOT EXISTS idx_pages_is_crawled ON pages(is_crawled);
CREATE INDEX IF NOT EXISTS idx_pages_domain ON pages(domain);

CREATE TABLE IF NOT EXISTS links (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    source_page_id     INTEGER NOT NULL,
    target_url         TEXT NOT NULL,
    target_url_hash    TEXT NOT NULL,
    link_type          TEXT NOT NULL,
    anchor_text        TEXT,
    title              TEXT,
    rel                TEXT,
    aria_label         TEXT,
    is_internal        INTEGER NOT NULL DEFAULT 0,
    is_external        INTEGER NOT NULL DEFAULT 0,
    is_follow          INTEGER NOT NULL DEFAULT 1,
    context            TEXT,
    onclick_code       TEXT,
    discovered_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (source_page_id) REFERENCES pages(id),
    UNIQUE(source_page_id, target_url_hash)
);

CREATE INDEX IF NOT EXISTS idx_links_target_url_hash ON links(target_url_hash);
CREATE INDEX IF NOT EXISTS idx_links_link_type ON links(link_type);

CREATE TABLE IF NOT EXISTS resources (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    source_page_id    INTEGER NOT NULL,
    url               TEXT NOT NULL,
    kind              TEXT NOT NULL,
    source_tag        TEXT NOT NULL,
    source_attr       TEXT NOT NULL,
    alt_text          TEXT,
    keyword_tag       TEXT,
    discovered_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (source_page_id) REFERENCES pages(id)
);

CREATE INDEX IF NOT EXISTS idx_resources_source_page ON resources(source_page_id);
CREATE INDEX IF NOT EXISTS idx_resources_kind ON resources(kind);

CREATE TABLE IF NOT EXISTS javascript_events (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    source_page_id    INTEGER NOT NULL,
    kind              TEXT NOT NULL,
    source            TEXT,
    target_url        TEXT,
    discovered_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (source_page_id) REFERENCES pages(id)
);

CREATE INDEX IF NOT EXISTS idx_javascript_events_source_page ON javascript_events(source_page_id);
`
