package checkpoint

import "fmt"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS checkpoints (
		key TEXT PRIMARY KEY,
		stage TEXT NOT NULL,
		cluster_key TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_checkpoints_created_at
		ON checkpoints(created_at)`,

	`CREATE TABLE IF NOT EXISTS bulletins (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		feed_id TEXT NOT NULL,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		model TEXT,
		total_units INTEGER NOT NULL DEFAULT 0,
		total_threads INTEGER NOT NULL DEFAULT 0,
		analyzed_threads INTEGER NOT NULL DEFAULT 0,
		body TEXT NOT NULL,
		timings TEXT,
		file_path TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_bulletins_feed_id
		ON bulletins(feed_id, id)`,
}

// migrate applies all schema migrations in order.
func (s *Store) migrate() error {
	for i, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
