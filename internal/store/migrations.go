package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Runs table - one row per pipeline invocation
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL CHECK(kind IN ('events', 'evidence')),
			video TEXT NOT NULL,
			params TEXT NOT NULL DEFAULT '{}',
			event_count INTEGER NOT NULL DEFAULT 0,
			archive_digest TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Events table - run-scoped projection of the evidence index
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			event_id TEXT NOT NULL,
			video TEXT NOT NULL,
			class TEXT NOT NULL,
			roi_id TEXT NOT NULL,
			start_time_s REAL NOT NULL,
			end_time_s REAL NOT NULL,
			clip_path TEXT NOT NULL DEFAULT '',
			snapshot_path TEXT NOT NULL DEFAULT '',
			snapshot_bbox_path TEXT NOT NULL DEFAULT ''
		)`,

		// Indexes for better query performance
		`CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_class ON events(class)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
