package sqlstore

// schema is portable between SQLite and Postgres: timestamps are unix
// nanoseconds, booleans are 0/1 integers.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		is_published INTEGER NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS project_items (
		project_id TEXT NOT NULL REFERENCES projects(id),
		item_key TEXT NOT NULL,
		points_needed BIGINT NOT NULL DEFAULT 0,
		position INTEGER NOT NULL,
		PRIMARY KEY (project_id, item_key)
	)`,
	`CREATE TABLE IF NOT EXISTS candidates (
		kind INTEGER NOT NULL,
		id TEXT NOT NULL,
		project_id TEXT NOT NULL REFERENCES projects(id),
		creator_id TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (kind, id)
	)`,
	`CREATE TABLE IF NOT EXISTS candidate_values (
		kind INTEGER NOT NULL,
		candidate_id TEXT NOT NULL,
		item_key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (kind, candidate_id, item_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_candidate_values_key
		ON candidate_values (item_key, kind, candidate_id)`,
	// kind 2 is an item-proposal; its hash covers the key, so one per (project, key, value)
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_candidates_item_hash
		ON candidates (project_id, content_hash)
		WHERE kind = 2`,
	`CREATE TABLE IF NOT EXISTS vote_allocations (
		id TEXT PRIMARY KEY,
		voter_id TEXT NOT NULL,
		project_id TEXT NOT NULL REFERENCES projects(id),
		item_key TEXT NOT NULL,
		weight BIGINT NOT NULL CHECK (weight > 0),
		project_proposal_id TEXT,
		item_proposal_id TEXT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		deleted_at BIGINT,
		CHECK ((project_proposal_id IS NULL) <> (item_proposal_id IS NULL))
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_vote_allocations_live
		ON vote_allocations (voter_id, project_id, item_key)
		WHERE deleted_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_vote_allocations_item
		ON vote_allocations (project_id, item_key, deleted_at)`,
	`CREATE TABLE IF NOT EXISTS leadership_records (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		item_key TEXT NOT NULL,
		seq BIGINT NOT NULL,
		project_proposal_id TEXT,
		item_proposal_id TEXT,
		created_at BIGINT NOT NULL,
		is_not_leading INTEGER NOT NULL DEFAULT 0,
		superseded_at BIGINT,
		CHECK ((project_proposal_id IS NULL) <> (item_proposal_id IS NULL)),
		UNIQUE (project_id, item_key, seq)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_leadership_live
		ON leadership_records (project_id, item_key)
		WHERE is_not_leading = 0`,
	`CREATE INDEX IF NOT EXISTS idx_leadership_lookup
		ON leadership_records (project_id, item_key, is_not_leading)`,
}
