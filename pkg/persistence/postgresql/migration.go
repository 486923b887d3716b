package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create jobs table
			CREATE TABLE jobs (
				id VARCHAR(64) PRIMARY KEY,
				type VARCHAR(32) NOT NULL,
				suspended_type VARCHAR(32) NOT NULL DEFAULT '',
				handler_type VARCHAR(64) NOT NULL,
				handler_configuration TEXT NOT NULL DEFAULT '',
				execution_id VARCHAR(64) NOT NULL,
				process_instance_id VARCHAR(64) NOT NULL,
				process_definition_id VARCHAR(255) NOT NULL DEFAULT '',
				due_date TIMESTAMP WITH TIME ZONE,
				lock_owner VARCHAR(255) NOT NULL DEFAULT '',
				lock_expiration TIMESTAMP WITH TIME ZONE,
				retries INTEGER NOT NULL,
				exception_message TEXT NOT NULL DEFAULT '',
				tenant_id VARCHAR(255) NOT NULL DEFAULT '',
				repeat_expression VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_jobs_acquisition ON jobs(tenant_id, type, due_date);
			CREATE INDEX idx_jobs_lock_expiration ON jobs(tenant_id, lock_expiration);
			CREATE INDEX idx_jobs_execution_id ON jobs(execution_id);
			CREATE INDEX idx_jobs_process_instance_id ON jobs(process_instance_id);
		`,
		2: `
			-- Migration 2: jobs that ran out of retries
			CREATE TABLE dead_letter_jobs (
				id VARCHAR(64) PRIMARY KEY,
				type VARCHAR(32) NOT NULL,
				suspended_type VARCHAR(32) NOT NULL DEFAULT '',
				handler_type VARCHAR(64) NOT NULL,
				handler_configuration TEXT NOT NULL DEFAULT '',
				execution_id VARCHAR(64) NOT NULL,
				process_instance_id VARCHAR(64) NOT NULL,
				process_definition_id VARCHAR(255) NOT NULL DEFAULT '',
				due_date TIMESTAMP WITH TIME ZONE,
				lock_owner VARCHAR(255) NOT NULL DEFAULT '',
				lock_expiration TIMESTAMP WITH TIME ZONE,
				retries INTEGER NOT NULL,
				exception_message TEXT NOT NULL DEFAULT '',
				tenant_id VARCHAR(255) NOT NULL DEFAULT '',
				repeat_expression VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				failed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_dead_letter_jobs_tenant_id ON dead_letter_jobs(tenant_id);
		`,
		3: `
			-- Migration 3: failed attempts drive the retry backoff
			ALTER TABLE jobs ADD COLUMN attempts INTEGER NOT NULL DEFAULT 0;
			ALTER TABLE dead_letter_jobs ADD COLUMN attempts INTEGER NOT NULL DEFAULT 0;
		`,
	}
}
