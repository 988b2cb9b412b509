package store

// schemaVersion is bumped whenever schema gains new structures.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS posts (
    url                 TEXT PRIMARY KEY,
    text                TEXT NOT NULL DEFAULT '',
    author_handle       TEXT NOT NULL DEFAULT '',
    author_display_name TEXT NOT NULL DEFAULT '',
    author_avatar_url   TEXT NOT NULL DEFAULT '',
    author_url          TEXT NOT NULL DEFAULT '',
    media               TEXT NOT NULL DEFAULT '',
    engagement          TEXT NOT NULL DEFAULT '',
    created_at          TEXT NOT NULL DEFAULT '',
    saved_at            INTEGER NOT NULL,
    raw_embed_html      TEXT NOT NULL DEFAULT '',
    provider            TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_posts_saved_at ON posts(saved_at);
CREATE INDEX IF NOT EXISTS idx_posts_author_handle ON posts(author_handle);
CREATE INDEX IF NOT EXISTS idx_posts_text ON posts(text);

CREATE TABLE IF NOT EXISTS kv (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
