package store

// Schema contains the SQL schema definitions
const Schema = `
-- Accounts table
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    imap_host TEXT NOT NULL,
    imap_port INTEGER NOT NULL,
    username TEXT NOT NULL,
    password TEXT NOT NULL,
    auth_method TEXT NOT NULL DEFAULT 'PLAIN',
    folders TEXT NOT NULL DEFAULT '[]',
    is_connected INTEGER NOT NULL DEFAULT 0,
    last_sync TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Messages table; one row per (message_id, account_id)
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    message_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    folder TEXT NOT NULL,
    sender TEXT,
    recipients_to TEXT,
    recipients_cc TEXT,
    recipients_bcc TEXT,
    subject TEXT,
    sent_date TEXT NOT NULL,
    received_date TEXT NOT NULL,
    body TEXT,
    headers TEXT,
    flags TEXT,
    analytics TEXT,
    processed INTEGER NOT NULL DEFAULT 0,
    stored_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE,
    UNIQUE(message_id, account_id)
);

-- Indexes for common lookups
CREATE INDEX IF NOT EXISTS idx_messages_account_id ON messages(account_id);
CREATE INDEX IF NOT EXISTS idx_messages_folder ON messages(account_id, folder);
CREATE INDEX IF NOT EXISTS idx_messages_sent_date ON messages(sent_date);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender);

-- Full-text search index
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    subject,
    sender,
    body,
    content='messages',
    content_rowid='id'
);

-- Triggers keeping the external-content FTS index in step with messages.
-- The 'delete' command form is required: FTS5 needs the old column values
-- to remove index entries, and they are gone from the content table by the
-- time an AFTER trigger runs.
CREATE TRIGGER IF NOT EXISTS messages_fts_insert AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, subject, sender, body)
    VALUES (new.id, new.subject, new.sender, new.body);
END;

CREATE TRIGGER IF NOT EXISTS messages_fts_update AFTER UPDATE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, subject, sender, body)
    VALUES ('delete', old.id, old.subject, old.sender, old.body);
    INSERT INTO messages_fts(rowid, subject, sender, body)
    VALUES (new.id, new.subject, new.sender, new.body);
END;

CREATE TRIGGER IF NOT EXISTS messages_fts_delete AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, subject, sender, body)
    VALUES ('delete', old.id, old.subject, old.sender, old.body);
END;
`
