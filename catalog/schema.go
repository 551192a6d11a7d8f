package catalog

// schemaSQL returns the full catalog DDL. Grounded on the teacher's
// store/schema.go split of "one function returning the whole DDL
// string", generalized from the teacher's chunks/entities/communities
// shape to documents/segments/segment_doc/index_errors/tasks.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id             TEXT PRIMARY KEY,
	internal_id        INTEGER,
	shard_id           INTEGER NOT NULL DEFAULT 0,
	status             TEXT NOT NULL DEFAULT 'uploaded',
	current_segment_id INTEGER,
	simhash_hi         INTEGER NOT NULL DEFAULT 0,
	simhash_lo         INTEGER NOT NULL DEFAULT 0,
	title              TEXT,
	author             TEXT,
	created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_documents_shard_status ON documents(shard_id, status);
CREATE INDEX IF NOT EXISTS idx_documents_segment ON documents(current_segment_id);

CREATE TABLE IF NOT EXISTS segments (
	segment_id        INTEGER PRIMARY KEY AUTOINCREMENT,
	shard_id          INTEGER NOT NULL,
	level             INTEGER NOT NULL,
	status            TEXT NOT NULL DEFAULT 'building',
	path              TEXT NOT NULL DEFAULT '',
	doc_count         INTEGER NOT NULL DEFAULT 0,
	shingle_count     INTEGER NOT NULL DEFAULT 0,
	size_bytes        INTEGER NOT NULL DEFAULT 0,
	reserved          INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_compacted_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_segments_shard_level_status ON segments(shard_id, level, status);

CREATE TABLE IF NOT EXISTS segment_doc (
	segment_id INTEGER NOT NULL,
	doc_id     TEXT NOT NULL,
	shard_id   INTEGER NOT NULL,
	PRIMARY KEY (segment_id, doc_id)
);

CREATE INDEX IF NOT EXISTS idx_segment_doc_doc ON segment_doc(doc_id);

CREATE TABLE IF NOT EXISTS index_errors (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id     TEXT NOT NULL,
	stage      TEXT NOT NULL,
	code       TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tasks (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	task_type    TEXT NOT NULL,
	payload_json TEXT NOT NULL DEFAULT '{}',
	attempts     INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'pending',
	error        TEXT,
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, id);

CREATE TABLE IF NOT EXISTS schema_version (
	version    INTEGER PRIMARY KEY,
	applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
