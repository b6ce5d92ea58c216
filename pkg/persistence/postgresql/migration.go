package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				ref VARCHAR(255) NOT NULL,
				version VARCHAR(64) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				nodes JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (ref, version)
			);

			CREATE TABLE projects (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL UNIQUE,
				workflow_ref VARCHAR(255) NOT NULL,
				workflow_version VARCHAR(64) NOT NULL,
				association_id VARCHAR(255) NOT NULL DEFAULT '',
				association_type VARCHAR(64) NOT NULL DEFAULT ''
			);

			CREATE TABLE triggers (
				id VARCHAR(255) PRIMARY KEY,
				project_id VARCHAR(255) NOT NULL UNIQUE,
				type VARCHAR(16) NOT NULL CHECK (type IN ('WEBHOOK', 'CRON')),
				schedule VARCHAR(255),
				webhook JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_triggers_type ON triggers(type);
		`,
		2: `
			CREATE TABLE web_requests (
				id VARCHAR(255) PRIMARY KEY,
				project_id VARCHAR(255) NOT NULL DEFAULT '',
				trigger_id VARCHAR(255) NOT NULL DEFAULT '',
				workflow_ref VARCHAR(255) NOT NULL DEFAULT '',
				workflow_version VARCHAR(64) NOT NULL DEFAULT '',
				user_agent TEXT NOT NULL DEFAULT '',
				payload JSONB,
				status_code VARCHAR(32) NOT NULL,
				error_msg TEXT NOT NULL DEFAULT '',
				request_time TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_web_requests_project ON web_requests(project_id, request_time DESC);

			CREATE TABLE trigger_events (
				id VARCHAR(255) PRIMARY KEY,
				trigger_id VARCHAR(255) NOT NULL,
				project_id VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(16) NOT NULL,
				web_request_id VARCHAR(255) NOT NULL DEFAULT '',
				payload JSONB,
				parameters JSONB NOT NULL,
				occurred_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE parameters (
				id VARCHAR(255) PRIMARY KEY,
				type VARCHAR(16) NOT NULL,
				value JSONB
			);
		`,
		3: `
			CREATE TABLE workflow_instances (
				id VARCHAR(255) PRIMARY KEY,
				serial BIGINT NOT NULL,
				project_id VARCHAR(255) NOT NULL,
				workflow_ref VARCHAR(255) NOT NULL,
				workflow_version VARCHAR(64) NOT NULL,
				trigger_id VARCHAR(255) NOT NULL UNIQUE,
				trigger_type VARCHAR(16) NOT NULL,
				status VARCHAR(32) NOT NULL,
				start_time TIMESTAMP WITH TIME ZONE,
				end_time TIMESTAMP WITH TIME ZONE,
				suspended_time TIMESTAMP WITH TIME ZONE,
				version BIGINT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_instances_workflow ON workflow_instances(workflow_ref, serial DESC);

			CREATE TABLE task_instances (
				id VARCHAR(255) PRIMARY KEY,
				instance_id VARCHAR(255) NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
				trigger_id VARCHAR(255) NOT NULL,
				node_ref VARCHAR(255) NOT NULL,
				node_type VARCHAR(32) NOT NULL,
				task_type VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(32) NOT NULL,
				attempt INT NOT NULL DEFAULT 0,
				parameters JSONB,
				error_msg TEXT NOT NULL DEFAULT '',
				start_time TIMESTAMP WITH TIME ZONE,
				end_time TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (instance_id, node_ref)
			);
		`,
	}
}
