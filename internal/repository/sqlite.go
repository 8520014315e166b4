package repository

import (
	"database/sql"
	"fmt"
	"log"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS attributes (
			collection TEXT NOT NULL,
			item_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			value BLOB NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (collection, item_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS action_state (
			collection TEXT NOT NULL,
			item_id INTEGER NOT NULL,
			last_action_at INTEGER NOT NULL DEFAULT 0,
			daily_steps INTEGER NOT NULL DEFAULT 0,
			quest_id TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (collection, item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pending_requests (
			request_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			collection TEXT NOT NULL,
			item_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_requests(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			collection TEXT NOT NULL,
			item_id INTEGER NOT NULL,
			values_json TEXT NOT NULL,
			captured_at INTEGER NOT NULL,
			hash TEXT NOT NULL,
			PRIMARY KEY (collection, item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS oracle_throttle (
			collection TEXT NOT NULL,
			item_id INTEGER NOT NULL,
			last_update_at INTEGER NOT NULL,
			PRIMARY KEY (collection, item_id)
		)`,
	},
	sizeQuery: `SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`,
}

// NewSQLiteStore creates a trait store backed by SQLite.
// dbPath is the path to the SQLite database file (e.g., "./data/traits.db")
func NewSQLiteStore(dbPath string) (*SQLStore, error) {
	// WAL mode for concurrent readers, busy timeout for the single writer
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports 1 writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Keep connection alive

	store, err := newSQLStore(db, sqliteDialect)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[SQLiteStore] Initialized with database: %s", dbPath)
	return store, nil
}
