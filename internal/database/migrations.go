package database

const schema = `
CREATE TABLE IF NOT EXISTS generated_images (
    id TEXT PRIMARY KEY,
    seed INTEGER NOT NULL,
    model TEXT NOT NULL,
    prompt TEXT NOT NULL,
    style TEXT NOT NULL DEFAULT '',
    aspect_ratio TEXT NOT NULL DEFAULT '',
    output_format TEXT NOT NULL DEFAULT '',
    output_quality INTEGER NOT NULL DEFAULT 0,
    is_preview INTEGER NOT NULL DEFAULT 1,
    content_type TEXT NOT NULL DEFAULT '',
    parent_id TEXT NOT NULL DEFAULT '',
    media_id INTEGER NOT NULL DEFAULT 0,
    created DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS edit_sessions (
    id TEXT PRIMARY KEY,
    filename TEXT NOT NULL DEFAULT '',
    format TEXT NOT NULL DEFAULT '',
    operations TEXT NOT NULL DEFAULT '[]',
    media_id INTEGER NOT NULL DEFAULT 0,
    created DATETIME NOT NULL,
    updated DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_generated_images_seed ON generated_images (seed);
CREATE INDEX IF NOT EXISTS idx_generated_images_created ON generated_images (created);
`
