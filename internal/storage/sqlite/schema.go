// ABOUTME: SQLite database schema for the turn ledger and window index
// ABOUTME: Timestamps are stored as UTC unix nanoseconds for ordering
package sqlite

// SchemaVersion is bumped on incompatible schema changes
const SchemaVersion = 1

// Schema contains the core tables
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    user_id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
    user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
    conversation_id TEXT NOT NULL,
    turn_index INTEGER NOT NULL CHECK (turn_index >= 0),
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (user_id, conversation_id, turn_index)
);

CREATE TABLE IF NOT EXISTS windows (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    window_id TEXT NOT NULL UNIQUE,
    user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
    conversation_id TEXT NOT NULL,
    start_index INTEGER NOT NULL,
    end_index INTEGER NOT NULL,
    turn_count INTEGER NOT NULL,
    text TEXT NOT NULL,
    text_hash TEXT NOT NULL,
    embedding BLOB,
    state TEXT NOT NULL DEFAULT 'draft' CHECK (state IN ('draft', 'pending', 'ready')),
    test_group INTEGER NOT NULL DEFAULT 0,
    first_turn_at INTEGER NOT NULL,
    last_turn_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    embed_attempts INTEGER NOT NULL DEFAULT 0,
    embed_error TEXT,
    CHECK (end_index >= start_index),
    CHECK (turn_count = end_index - start_index + 1),
    UNIQUE (user_id, conversation_id, start_index, end_index)
);

CREATE INDEX IF NOT EXISTS idx_windows_conversation ON windows(user_id, conversation_id, last_turn_at);
CREATE INDEX IF NOT EXISTS idx_windows_state ON windows(state, created_at);
CREATE INDEX IF NOT EXISTS idx_windows_hash ON windows(user_id, text_hash);

CREATE TABLE IF NOT EXISTS analytics_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    test_group INTEGER NOT NULL DEFAULT 0,
    event_name TEXT NOT NULL,
    data TEXT,
    stat INTEGER,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_user ON analytics_events(user_id, created_at);
`

// FTSSchema contains the full-text index over window text, kept in sync by triggers
const FTSSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS windows_fts USING fts5(
    text,
    content='windows',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS windows_ai AFTER INSERT ON windows BEGIN
    INSERT INTO windows_fts(rowid, text) VALUES (new.id, new.text);
END;

CREATE TRIGGER IF NOT EXISTS windows_ad AFTER DELETE ON windows BEGIN
    INSERT INTO windows_fts(windows_fts, rowid, text) VALUES ('delete', old.id, old.text);
END;

CREATE TRIGGER IF NOT EXISTS windows_au AFTER UPDATE OF text ON windows BEGIN
    INSERT INTO windows_fts(windows_fts, rowid, text) VALUES ('delete', old.id, old.text);
    INSERT INTO windows_fts(rowid, text) VALUES (new.id, new.text);
END;
`
