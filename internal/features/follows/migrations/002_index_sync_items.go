package migrations

import (
	"feedkeeper/internal/core"
)

// Migration002IndexSyncItems speeds up reading sync changes newer than a point in time
var Migration002IndexSyncItems = core.Migration{
	Version:     2,
	Name:        "index_sync_items",
	Description: "Index sync items by update time",
	UpSQL: `
		CREATE INDEX IF NOT EXISTS idx_follow_sync_items_updated_at ON follow_sync_items(updated_at);
	`,
	DownSQL: `
		DROP INDEX IF EXISTS idx_follow_sync_items_updated_at;
	`,
}
