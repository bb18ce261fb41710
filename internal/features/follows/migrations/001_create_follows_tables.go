package migrations

import (
	"feedkeeper/internal/core"
)

// Migration001CreateFollowsTables creates the document, local and sync tables
var Migration001CreateFollowsTables = core.Migration{
	Version:     1,
	Name:        "create_follows_tables",
	Description: "Create follow documents, local state and sync item tables",
	UpSQL: `
		-- follows.json and one feeds/<id>.json per follow
		CREATE TABLE IF NOT EXISTS follow_files (
			path TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		-- process-local values such as poll state
		CREATE TABLE IF NOT EXISTS follow_local (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		-- fragments shared with other clients
		CREATE TABLE IF NOT EXISTS follow_sync_items (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS follow_sync_items;
		DROP TABLE IF EXISTS follow_local;
		DROP TABLE IF EXISTS follow_files;
	`,
}
