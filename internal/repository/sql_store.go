package repository

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"traitfusion-api/internal/model"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name string

	// schema is executed statement by statement on startup.
	schema []string

	// onDuplicateKey selects MySQL's upsert syntax instead of ON CONFLICT.
	onDuplicateKey bool

	// numberedParams rewrites ? placeholders to $1..$n.
	numberedParams bool

	// sizeQuery returns the approximate database size in bytes.
	sizeQuery string
}

func (d dialect) rebind(query string) string {
	if !d.numberedParams {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// upsert builds an insert-or-update statement for table.
func (d dialect) upsert(table string, cols, keys []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}

	var sets []string
	for _, c := range cols {
		if isKey[c] {
			continue
		}
		if d.onDuplicateKey {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
		} else {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders)
	if d.onDuplicateKey {
		query += " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	} else {
		query += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(keys, ", "), strings.Join(sets, ", "))
	}
	return d.rebind(query)
}

// SQLStore implements Store on database/sql. The SQLite, PostgreSQL and
// MySQL constructors share it.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	for _, stmt := range d.schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return &SQLStore{db: db, dialect: d}, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// GetAttribute returns the raw value of an attribute.
func (s *SQLStore) GetAttribute(ctx context.Context, key model.AttributeKey) ([]byte, bool, error) {
	query := s.dialect.rebind(`SELECT value FROM attributes WHERE collection = ? AND item_id = ? AND name = ?`)

	var value []byte
	err := s.db.QueryRowContext(ctx, query, key.Collection, int64(key.ItemID), string(key.Name)).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get attribute %s: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

// ListAttributes returns every stored attribute of an item.
func (s *SQLStore) ListAttributes(ctx context.Context, collection string, itemID uint64) ([]model.Attribute, error) {
	query := s.dialect.rebind(`
		SELECT name, value, updated_at FROM attributes
		WHERE collection = ? AND item_id = ?
		ORDER BY name`)

	rows, err := s.db.QueryContext(ctx, query, collection, int64(itemID))
	if err != nil {
		return nil, fmt.Errorf("failed to list attributes: %w", err)
	}
	defer rows.Close()

	attrs := []model.Attribute{}
	for rows.Next() {
		var name string
		var value []byte
		var updatedAt int64
		if err := rows.Scan(&name, &value, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attribute: %w", err)
		}
		attrs = append(attrs, model.Attribute{
			AttributeKey: model.AttributeKey{Collection: collection, ItemID: itemID, Name: model.AttributeName(name)},
			Value:        value,
			UpdatedAt:    fromUnix(updatedAt),
		})
	}
	return attrs, rows.Err()
}

// GetActionState returns the engine session state of an item.
func (s *SQLStore) GetActionState(ctx context.Context, collection string, itemID uint64) (model.ActionState, error) {
	query := s.dialect.rebind(`
		SELECT last_action_at, daily_steps, quest_id FROM action_state
		WHERE collection = ? AND item_id = ?`)

	state := model.ActionState{Collection: collection, ItemID: itemID}
	var lastAction, steps int64
	err := s.db.QueryRowContext(ctx, query, collection, int64(itemID)).Scan(&lastAction, &steps, &state.QuestID)
	if err != nil {
		if err == sql.ErrNoRows {
			return state, nil
		}
		return state, fmt.Errorf("failed to get action state: %w", err)
	}
	state.LastActionAt = fromUnix(lastAction)
	state.DailySteps = uint64(steps)
	return state, nil
}

// GetSnapshot returns the latest snapshot of an item.
func (s *SQLStore) GetSnapshot(ctx context.Context, collection string, itemID uint64) (*model.Snapshot, error) {
	query := s.dialect.rebind(`
		SELECT values_json, captured_at, hash FROM snapshots
		WHERE collection = ? AND item_id = ?`)

	var valuesJSON, hashHex string
	var capturedAt int64
	err := s.db.QueryRowContext(ctx, query, collection, int64(itemID)).Scan(&valuesJSON, &capturedAt, &hashHex)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	snap := &model.Snapshot{Collection: collection, ItemID: itemID, CapturedAt: fromUnix(capturedAt)}
	if err := json.Unmarshal([]byte(valuesJSON), &snap.Values); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot values: %w", err)
	}
	if snap.Hash, err = parseHash(hashHex); err != nil {
		return nil, err
	}
	return snap, nil
}

// GetPendingRequest returns a request record in any status.
func (s *SQLStore) GetPendingRequest(ctx context.Context, requestID string) (*model.PendingRequest, error) {
	return getPendingRequest(ctx, s.db, s.dialect, requestID)
}

func getPendingRequest(ctx context.Context, q queryer, d dialect, requestID string) (*model.PendingRequest, error) {
	query := d.rebind(`
		SELECT kind, collection, item_id, status, created_at FROM pending_requests
		WHERE request_id = ?`)

	req := &model.PendingRequest{RequestID: requestID}
	var kind, status string
	var itemID, createdAt int64
	err := q.QueryRowContext(ctx, query, requestID).Scan(&kind, &req.Collection, &itemID, &status, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pending request: %w", err)
	}
	req.Kind = model.RequestKind(kind)
	req.Status = model.RequestStatus(status)
	req.ItemID = uint64(itemID)
	req.CreatedAt = fromUnix(createdAt)
	return req, nil
}

// GetOracleLastUpdate returns the shared oracle timestamp of an item.
func (s *SQLStore) GetOracleLastUpdate(ctx context.Context, collection string, itemID uint64) (time.Time, error) {
	query := s.dialect.rebind(`SELECT last_update_at FROM oracle_throttle WHERE collection = ? AND item_id = ?`)

	var at int64
	err := s.db.QueryRowContext(ctx, query, collection, int64(itemID)).Scan(&at)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to get oracle timestamp: %w", err)
	}
	return fromUnix(at), nil
}

// WithTx runs fn inside a single database transaction.
func (s *SQLStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx, dialect: s.dialect}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ExpirePendingRequests marks stale pending requests as expired.
func (s *SQLStore) ExpirePendingRequests(ctx context.Context, kinds []model.RequestKind, olderThan time.Time) (int64, error) {
	if len(kinds) == 0 {
		return 0, nil
	}

	args := []interface{}{string(model.RequestExpired), string(model.RequestPending), olderThan.Unix()}
	for _, k := range kinds {
		args = append(args, string(k))
	}
	query := s.dialect.rebind(fmt.Sprintf(`
		UPDATE pending_requests SET status = ?
		WHERE status = ? AND created_at < ? AND kind IN (%s)`,
		strings.TrimSuffix(strings.Repeat("?, ", len(kinds)), ", ")))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending requests: %w", err)
	}
	return result.RowsAffected()
}

// ResetDailySteps zeroes every item's daily step count.
func (s *SQLStore) ResetDailySteps(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE action_state SET daily_steps = 0 WHERE daily_steps <> 0`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset daily steps: %w", err)
	}
	return result.RowsAffected()
}

// GetStats returns row counts and the approximate database size.
func (s *SQLStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})
	stats["backend"] = s.dialect.name

	for _, table := range []string{"attributes", "action_state", "snapshots"} {
		var count int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			return nil, err
		}
		stats["total_"+table] = count
	}

	var pending int64
	query := s.dialect.rebind(`SELECT COUNT(*) FROM pending_requests WHERE status = ?`)
	if err := s.db.QueryRowContext(ctx, query, string(model.RequestPending)).Scan(&pending); err != nil {
		return nil, err
	}
	stats["pending_requests"] = pending

	if s.dialect.sizeQuery != "" {
		var size sql.NullInt64
		if err := s.db.QueryRowContext(ctx, s.dialect.sizeQuery).Scan(&size); err == nil && size.Valid {
			stats["db_size_bytes"] = size.Int64
		}
	}

	dbStats := s.db.Stats()
	stats["connections"] = map[string]interface{}{
		"open":     dbStats.OpenConnections,
		"in_use":   dbStats.InUse,
		"idle":     dbStats.Idle,
		"max_open": dbStats.MaxOpenConnections,
	}
	return stats, nil
}

// Close closes the database connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// sqlTx implements Tx on a *sql.Tx.
type sqlTx struct {
	tx      *sql.Tx
	dialect dialect
}

func (t *sqlTx) PutAttribute(ctx context.Context, attr model.Attribute) error {
	query := t.dialect.upsert("attributes",
		[]string{"collection", "item_id", "name", "value", "updated_at"},
		[]string{"collection", "item_id", "name"})

	value := attr.Value
	if value == nil {
		value = []byte{}
	}
	_, err := t.tx.ExecContext(ctx, query, attr.Collection, int64(attr.ItemID), string(attr.Name), value, toUnix(attr.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to put attribute %s: %w", attr.AttributeKey, err)
	}
	return nil
}

func (t *sqlTx) PutActionState(ctx context.Context, state model.ActionState) error {
	query := t.dialect.upsert("action_state",
		[]string{"collection", "item_id", "last_action_at", "daily_steps", "quest_id"},
		[]string{"collection", "item_id"})

	_, err := t.tx.ExecContext(ctx, query, state.Collection, int64(state.ItemID),
		toUnix(state.LastActionAt), int64(state.DailySteps), state.QuestID)
	if err != nil {
		return fmt.Errorf("failed to put action state: %w", err)
	}
	return nil
}

func (t *sqlTx) InsertPendingRequest(ctx context.Context, req model.PendingRequest) error {
	existing, err := getPendingRequest(ctx, t.tx, t.dialect, req.RequestID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateRequest, req.RequestID)
	}

	status := req.Status
	if status == "" {
		status = model.RequestPending
	}
	query := t.dialect.rebind(`
		INSERT INTO pending_requests (request_id, kind, collection, item_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err = t.tx.ExecContext(ctx, query, req.RequestID, string(req.Kind), req.Collection,
		int64(req.ItemID), string(status), toUnix(req.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert pending request: %w", err)
	}
	return nil
}

func (t *sqlTx) TakePendingRequest(ctx context.Context, requestID string) (bool, error) {
	query := t.dialect.rebind(`UPDATE pending_requests SET status = ? WHERE request_id = ? AND status = ?`)
	result, err := t.tx.ExecContext(ctx, query, string(model.RequestFulfilled), requestID, string(model.RequestPending))
	if err != nil {
		return false, fmt.Errorf("failed to take pending request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (t *sqlTx) PutSnapshot(ctx context.Context, snap model.Snapshot) error {
	valuesJSON, err := json.Marshal(snap.Values)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot values: %w", err)
	}

	query := t.dialect.upsert("snapshots",
		[]string{"collection", "item_id", "values_json", "captured_at", "hash"},
		[]string{"collection", "item_id"})
	_, err = t.tx.ExecContext(ctx, query, snap.Collection, int64(snap.ItemID),
		string(valuesJSON), toUnix(snap.CapturedAt), hex.EncodeToString(snap.Hash[:]))
	if err != nil {
		return fmt.Errorf("failed to put snapshot: %w", err)
	}
	return nil
}

func (t *sqlTx) PutOracleLastUpdate(ctx context.Context, collection string, itemID uint64, at time.Time) error {
	query := t.dialect.upsert("oracle_throttle",
		[]string{"collection", "item_id", "last_update_at"},
		[]string{"collection", "item_id"})
	if _, err := t.tx.ExecContext(ctx, query, collection, int64(itemID), toUnix(at)); err != nil {
		return fmt.Errorf("failed to put oracle timestamp: %w", err)
	}
	return nil
}

func parseHash(s string) (model.Hash, error) {
	var h model.Hash
	if err := h.UnmarshalText([]byte(s)); err != nil {
		return h, fmt.Errorf("invalid snapshot hash %q: %w", s, err)
	}
	return h, nil
}

// Ensure SQLStore implements Store
var _ Store = (*SQLStore)(nil)
