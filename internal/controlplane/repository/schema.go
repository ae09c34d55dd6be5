package repository

// schema is applied once at startup; statements are idempotent
// (CREATE TABLE IF NOT EXISTS) so repeated opens of the same store are safe.
const schema = `
CREATE TABLE IF NOT EXISTS issues (
	id TEXT PRIMARY KEY,
	uuid TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	parent_id TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS specs (
	id TEXT PRIMARY KEY,
	uuid TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	file_path TEXT NOT NULL DEFAULT '',
	parent_id TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS relationships (
	id TEXT PRIMARY KEY,
	uuid TEXT NOT NULL UNIQUE,
	from_id TEXT NOT NULL,
	from_type TEXT NOT NULL,
	to_id TEXT NOT NULL,
	to_type TEXT NOT NULL,
	type TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_id, type);
CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_id, type);

CREATE TABLE IF NOT EXISTS feedback (
	id TEXT PRIMARY KEY,
	uuid TEXT NOT NULL UNIQUE,
	from_id TEXT NOT NULL,
	to_id TEXT NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	dismissed INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_to ON feedback(to_id);

CREATE TABLE IF NOT EXISTS streams (
	id TEXT PRIMARY KEY,
	issue_id TEXT NOT NULL,
	target_branch TEXT NOT NULL,
	base_commit TEXT NOT NULL DEFAULT '',
	head_commit TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	worktree_path TEXT,
	position INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_streams_issue ON streams(issue_id);

CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	stream_id TEXT NOT NULL,
	issue_id TEXT,
	agent_kind TEXT NOT NULL,
	mode TEXT NOT NULL,
	prompt TEXT NOT NULL DEFAULT '',
	parent_exec_id TEXT,
	session_id TEXT,
	before_commit TEXT NOT NULL DEFAULT '',
	after_commit TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	session_mode TEXT NOT NULL DEFAULT 'discrete',
	session_end_mode TEXT NOT NULL DEFAULT 'waiting',
	idle_timeout_ms INTEGER NOT NULL DEFAULT 0,
	end_on_disconnect INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	started_at TIMESTAMP,
	completed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_executions_stream ON executions(stream_id);
CREATE INDEX IF NOT EXISTS idx_executions_issue ON executions(issue_id);

CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	issue_id TEXT NOT NULL,
	execution_id TEXT NOT NULL,
	commit_sha TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	changed_files INTEGER NOT NULL DEFAULT 0,
	additions INTEGER NOT NULL DEFAULT 0,
	deletions INTEGER NOT NULL DEFAULT 0,
	review_state TEXT NOT NULL,
	reviewer TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	landed INTEGER NOT NULL DEFAULT 0,
	is_current INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_issue ON checkpoints(issue_id);

CREATE TABLE IF NOT EXISTS merge_queue_entries (
	target TEXT NOT NULL,
	execution_id TEXT NOT NULL,
	status TEXT NOT NULL,
	position INTEGER NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	agent_id TEXT NOT NULL DEFAULT '',
	inserted_at TIMESTAMP NOT NULL,
	PRIMARY KEY (target, execution_id)
);

CREATE TABLE IF NOT EXISTS safety_tags (
	name TEXT PRIMARY KEY,
	commit_sha TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`
