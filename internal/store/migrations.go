package store

type migration struct {
	version int
	sql     string
}

// migrations must stay ordered by version, starting at 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	email_identity TEXT NOT NULL UNIQUE,
	password_hash  TEXT NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS emails (
	id      TEXT PRIMARY KEY,
	sender  TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL DEFAULT '',
	body    TEXT NOT NULL DEFAULT '',
	date    BIGINT NOT NULL DEFAULT 0,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_emails_user ON emails(user_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
