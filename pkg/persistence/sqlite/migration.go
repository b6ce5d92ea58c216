package sqlite

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				ref TEXT NOT NULL,
				version TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				nodes TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				PRIMARY KEY (ref, version)
			);

			CREATE TABLE projects (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				workflow_ref TEXT NOT NULL,
				workflow_version TEXT NOT NULL,
				association_id TEXT NOT NULL DEFAULT '',
				association_type TEXT NOT NULL DEFAULT ''
			);

			CREATE TABLE triggers (
				id TEXT PRIMARY KEY,
				project_id TEXT NOT NULL UNIQUE,
				type TEXT NOT NULL CHECK (type IN ('WEBHOOK', 'CRON')),
				schedule TEXT,
				webhook TEXT,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);

			CREATE INDEX idx_triggers_type ON triggers(type);
		`,
		2: `
			CREATE TABLE web_requests (
				id TEXT PRIMARY KEY,
				project_id TEXT NOT NULL DEFAULT '',
				trigger_id TEXT NOT NULL DEFAULT '',
				workflow_ref TEXT NOT NULL DEFAULT '',
				workflow_version TEXT NOT NULL DEFAULT '',
				user_agent TEXT NOT NULL DEFAULT '',
				payload TEXT,
				status_code TEXT NOT NULL,
				error_msg TEXT NOT NULL DEFAULT '',
				request_time TIMESTAMP NOT NULL
			);

			CREATE INDEX idx_web_requests_project ON web_requests(project_id, request_time DESC);

			CREATE TABLE trigger_events (
				id TEXT PRIMARY KEY,
				trigger_id TEXT NOT NULL,
				project_id TEXT NOT NULL,
				trigger_type TEXT NOT NULL,
				web_request_id TEXT NOT NULL DEFAULT '',
				payload TEXT,
				parameters TEXT NOT NULL,
				occurred_at TIMESTAMP NOT NULL
			);

			CREATE TABLE parameters (
				id TEXT PRIMARY KEY,
				type TEXT NOT NULL,
				value TEXT
			);
		`,
		3: `
			CREATE TABLE workflow_instances (
				id TEXT PRIMARY KEY,
				serial INTEGER NOT NULL,
				project_id TEXT NOT NULL,
				workflow_ref TEXT NOT NULL,
				workflow_version TEXT NOT NULL,
				trigger_id TEXT NOT NULL UNIQUE,
				trigger_type TEXT NOT NULL,
				status TEXT NOT NULL,
				start_time TIMESTAMP,
				end_time TIMESTAMP,
				suspended_time TIMESTAMP,
				version INTEGER NOT NULL,
				created_at TIMESTAMP NOT NULL
			);

			CREATE INDEX idx_workflow_instances_workflow ON workflow_instances(workflow_ref, serial DESC);

			CREATE TABLE task_instances (
				id TEXT PRIMARY KEY,
				instance_id TEXT NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
				trigger_id TEXT NOT NULL,
				node_ref TEXT NOT NULL,
				node_type TEXT NOT NULL,
				task_type TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				attempt INTEGER NOT NULL DEFAULT 0,
				parameters TEXT,
				error_msg TEXT NOT NULL DEFAULT '',
				start_time TIMESTAMP,
				end_time TIMESTAMP,
				updated_at TIMESTAMP NOT NULL,
				UNIQUE (instance_id, node_ref)
			);
		`,
	}
}
