package db

// migrations is ordered; the version is the 1-based index. Statements stick
// to the SQL subset shared by Postgres and SQLite.
var migrations = [][]string{
	{
		`CREATE TABLE workspace_members (
			workspace_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (workspace_id, user_id)
		)`,

		`CREATE TABLE sending_accounts (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			email TEXT NOT NULL,
			emails_sent_today INTEGER NOT NULL DEFAULT 0,
			emails_sent_this_hour INTEGER NOT NULL DEFAULT 0,
			daily_send_limit INTEGER NOT NULL,
			hourly_send_limit INTEGER NOT NULL,
			reputation_score DOUBLE PRECISION NOT NULL DEFAULT 100,
			last_sent_at TIMESTAMP
		)`,

		`CREATE TABLE campaigns (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			name TEXT NOT NULL,
			campaign_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'draft',
			sending_account_id TEXT REFERENCES sending_accounts(id),
			activated_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX idx_campaigns_workspace ON campaigns(workspace_id, status)`,

		`CREATE TABLE prospects (
			id TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL REFERENCES campaigns(id),
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			linkedin_id TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			contacted_at TIMESTAMP,
			last_message_sent_at TIMESTAMP,
			replied_at TIMESTAMP,
			error_message TEXT NOT NULL DEFAULT '',
			funnel_tracking TEXT NOT NULL DEFAULT '{}',
			version INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX idx_prospects_campaign ON prospects(campaign_id, status)`,
		`CREATE INDEX idx_prospects_uncontacted ON prospects(status, contacted_at)`,

		`CREATE TABLE send_queue (
			id TEXT PRIMARY KEY,
			prospect_id TEXT NOT NULL REFERENCES prospects(id),
			campaign_id TEXT NOT NULL REFERENCES campaigns(id),
			step TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			last_error TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX idx_send_queue_pending ON send_queue(prospect_id, step, status)`,
	},
}
