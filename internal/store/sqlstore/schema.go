package sqlstore

// Timestamps are stored as unix nanoseconds so both dialects share one encoding.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id          TEXT PRIMARY KEY,
		content     TEXT NOT NULL,
		source_app  TEXT NOT NULL,
		session_id  TEXT NOT NULL,
		capture_id  TEXT NOT NULL,
		created_at  BIGINT NOT NULL,
		embedding   {{BLOB}} NOT NULL,
		entities    TEXT NOT NULL,
		relations   TEXT NOT NULL,
		deleted_at  BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_created ON memories (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_session ON memories (session_id)`,
	`CREATE TABLE IF NOT EXISTS entities (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		normalized_name TEXT NOT NULL,
		kind            TEXT NOT NULL,
		facts           TEXT NOT NULL,
		first_seen      BIGINT NOT NULL,
		last_seen       BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS entity_edges (
		id          TEXT PRIMARY KEY,
		source_id   TEXT NOT NULL REFERENCES entities(id),
		target_id   TEXT NOT NULL REFERENCES entities(id),
		relation    TEXT NOT NULL,
		weight      DOUBLE PRECISION NOT NULL,
		provenance  TEXT NOT NULL,
		first_seen  BIGINT NOT NULL,
		last_seen   BIGINT NOT NULL,
		UNIQUE (source_id, target_id, relation)
	)`,
	`CREATE TABLE IF NOT EXISTS chat_summaries (
		session_id     TEXT PRIMARY KEY,
		source_app     TEXT NOT NULL,
		summary        TEXT NOT NULL,
		fragment_count INTEGER NOT NULL,
		updated_at     BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS master_memory (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		summary    TEXT NOT NULL,
		revision   INTEGER NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
}
