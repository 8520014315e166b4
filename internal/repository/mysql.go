package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS attributes (
			collection VARCHAR(191) NOT NULL,
			item_id BIGINT NOT NULL,
			name VARCHAR(64) NOT NULL,
			value LONGBLOB NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (collection, item_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS action_state (
			collection VARCHAR(191) NOT NULL,
			item_id BIGINT NOT NULL,
			last_action_at BIGINT NOT NULL DEFAULT 0,
			daily_steps BIGINT NOT NULL DEFAULT 0,
			quest_id VARCHAR(191) NOT NULL DEFAULT '',
			PRIMARY KEY (collection, item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pending_requests (
			request_id VARCHAR(191) PRIMARY KEY,
			kind VARCHAR(32) NOT NULL,
			collection VARCHAR(191) NOT NULL,
			item_id BIGINT NOT NULL,
			status VARCHAR(16) NOT NULL,
			created_at BIGINT NOT NULL,
			INDEX idx_pending_status (status, created_at)
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			collection VARCHAR(191) NOT NULL,
			item_id BIGINT NOT NULL,
			values_json LONGTEXT NOT NULL,
			captured_at BIGINT NOT NULL,
			hash VARCHAR(64) NOT NULL,
			PRIMARY KEY (collection, item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS oracle_throttle (
			collection VARCHAR(191) NOT NULL,
			item_id BIGINT NOT NULL,
			last_update_at BIGINT NOT NULL,
			PRIMARY KEY (collection, item_id)
		)`,
	},
	onDuplicateKey: true,
	sizeQuery: `SELECT SUM(data_length + index_length) FROM information_schema.tables
		WHERE table_schema = DATABASE()`,
}

// NewMySQLStore creates a trait store on an open MySQL connection pool.
func NewMySQLStore(db *sql.DB) (*SQLStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	store, err := newSQLStore(db, mysqlDialect)
	if err != nil {
		return nil, err
	}

	log.Println("[MySQLStore] Initialized")
	return store, nil
}
