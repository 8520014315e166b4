package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"traitfusion-api/internal/service"
)

// MySQLLedger implements the ledger and the registry on MySQL tables.
type MySQLLedger struct {
	db *sql.DB
}

var mysqlLedgerSchema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_balances (
		account VARCHAR(191) PRIMARY KEY,
		balance BIGINT UNSIGNED NOT NULL DEFAULT 0,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS registry_items (
		item_id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		owner VARCHAR(191) NOT NULL,
		created_at BIGINT NOT NULL,
		INDEX idx_registry_owner (owner)
	)`,
}

// OpenMySQL opens and pings a MySQL pool.
func OpenMySQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}
	return db, nil
}

// NewMySQLLedger creates the ledger tables if needed.
func NewMySQLLedger(db *sql.DB) (*MySQLLedger, error) {
	for _, stmt := range mysqlLedgerSchema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create ledger schema: %w", err)
		}
	}
	log.Println("[MySQLLedger] Initialized")
	return &MySQLLedger{db: db}, nil
}

// Mint credits amount to account.
func (l *MySQLLedger) Mint(ctx context.Context, account string, amount uint64) error {
	if account == "" {
		return fmt.Errorf("%w: empty account", service.ErrInvalidArgument)
	}
	query := `INSERT INTO ledger_balances (account, balance, updated_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE balance = balance + VALUES(balance), updated_at = VALUES(updated_at)`

	if _, err := l.db.ExecContext(ctx, query, account, amount, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to mint: %w", err)
	}
	return nil
}

// Burn debits amount from account. The balance never goes negative.
func (l *MySQLLedger) Burn(ctx context.Context, account string, amount uint64) error {
	query := `UPDATE ledger_balances SET balance = balance - ?, updated_at = ?
		WHERE account = ? AND balance >= ?`

	res, err := l.db.ExecContext(ctx, query, amount, time.Now().Unix(), account, amount)
	if err != nil {
		return fmt.Errorf("failed to burn: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to burn: %w", err)
	}
	if n == 0 && amount > 0 {
		return fmt.Errorf("%w: %s cannot burn %d", service.ErrInsufficientFunds, account, amount)
	}
	return nil
}

// BalanceOf returns the balance of account.
func (l *MySQLLedger) BalanceOf(ctx context.Context, account string) (uint64, error) {
	var balance uint64
	err := l.db.QueryRowContext(ctx, `SELECT balance FROM ledger_balances WHERE account = ?`, account).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// OwnerOf returns the owner of an item.
func (l *MySQLLedger) OwnerOf(ctx context.Context, itemID uint64) (string, error) {
	var owner string
	err := l.db.QueryRowContext(ctx, `SELECT owner FROM registry_items WHERE item_id = ?`, itemID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: item %d", service.ErrNotFound, itemID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get owner: %w", err)
	}
	return owner, nil
}

// MintItem creates a new item owned by owner.
func (l *MySQLLedger) MintItem(ctx context.Context, owner string) (uint64, error) {
	if owner == "" {
		return 0, fmt.Errorf("%w: empty owner", service.ErrInvalidArgument)
	}
	res, err := l.db.ExecContext(ctx, `INSERT INTO registry_items (owner, created_at) VALUES (?, ?)`, owner, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to mint item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read item id: %w", err)
	}
	return uint64(id), nil
}

// Ensure MySQLLedger implements the service interfaces
var (
	_ service.Ledger   = (*MySQLLedger)(nil)
	_ service.Registry = (*MySQLLedger)(nil)
	_ service.Minter   = (*MySQLLedger)(nil)
)
