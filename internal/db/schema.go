package db

// Schema creates the SQLCipher tables. Every statement is idempotent.
// Timestamps are unix nanoseconds (UTC). Note ids are UUIDv7 strings, so
// ORDER BY id DESC is newest first.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    email TEXT NOT NULL UNIQUE,
    avatar TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notes (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL CHECK(length(content) <= 1048576),
    author_id TEXT NOT NULL REFERENCES users(id),
    favorite_count INTEGER NOT NULL DEFAULT 0 CHECK(favorite_count >= 0),
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_author_id ON notes(author_id, id DESC);

-- favorited-by set; rowid order is insertion order
CREATE TABLE IF NOT EXISTS note_favorites (
    note_id TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
    user_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (note_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_note_favorites_user_id ON note_favorites(user_id);
`

// Migrations contains idempotent ALTER TABLE statements for schema evolution.
// SQLite ADD COLUMN errors when the column exists; Migrate ignores that error.
const Migrations = `
ALTER TABLE users ADD COLUMN avatar TEXT NOT NULL DEFAULT '';
`
