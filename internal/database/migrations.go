package database

// Migration represents one schema change
type Migration struct {
	Version string
	Up      string
}

var migrations = []Migration{
	{
		Version: "001_instances",
		Up: `
			CREATE TABLE IF NOT EXISTS instances (
				name TEXT PRIMARY KEY,
				install_dir TEXT NOT NULL,
				installed_version TEXT NOT NULL DEFAULT '',
				target_version TEXT NOT NULL DEFAULT 'LATEST',
				autostart INTEGER NOT NULL DEFAULT 0,
				autoupdate INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'Stopped',
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)
		`,
	},
	{
		Version: "002_players",
		Up: `
			CREATE TABLE IF NOT EXISTS players (
				xuid TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				last_seen DATETIME NOT NULL,
				last_instance TEXT NOT NULL DEFAULT ''
			)
		`,
	},
	{
		Version: "003_activity_log",
		Up: `
			CREATE TABLE IF NOT EXISTS activity_log (
				id TEXT PRIMARY KEY,
				timestamp DATETIME NOT NULL,
				instance TEXT NOT NULL DEFAULT '',
				action TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				metadata TEXT NOT NULL DEFAULT '{}',
				success INTEGER NOT NULL DEFAULT 1,
				error_message TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_activity_instance ON activity_log(instance, timestamp);
		`,
	},
}
