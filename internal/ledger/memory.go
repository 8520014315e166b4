package ledger

import (
	"context"
	"fmt"
	"sync"

	"traitfusion-api/internal/service"
)

// MemoryLedger is an in-process reward-token ledger.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]uint64
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]uint64)}
}

// Mint credits amount to account.
func (l *MemoryLedger) Mint(ctx context.Context, account string, amount uint64) error {
	if account == "" {
		return fmt.Errorf("%w: empty account", service.ErrInvalidArgument)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
	return nil
}

// Burn debits amount from account.
func (l *MemoryLedger) Burn(ctx context.Context, account string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[account] < amount {
		return fmt.Errorf("%w: %s has %d, burning %d", service.ErrInsufficientFunds, account, l.balances[account], amount)
	}
	l.balances[account] -= amount
	return nil
}

// BalanceOf returns the balance of account.
func (l *MemoryLedger) BalanceOf(ctx context.Context, account string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}

// MemoryRegistry is an in-process collectible registry.
type MemoryRegistry struct {
	mu     sync.RWMutex
	owners map[uint64]string
	nextID uint64
}

// NewMemoryRegistry creates an empty registry. Item ids start at 1.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{owners: make(map[uint64]string), nextID: 1}
}

// OwnerOf returns the owner of an item.
func (r *MemoryRegistry) OwnerOf(ctx context.Context, itemID uint64) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, ok := r.owners[itemID]
	if !ok {
		return "", fmt.Errorf("%w: item %d", service.ErrNotFound, itemID)
	}
	return owner, nil
}

// MintItem creates a new item owned by owner.
func (r *MemoryRegistry) MintItem(ctx context.Context, owner string) (uint64, error) {
	if owner == "" {
		return 0, fmt.Errorf("%w: empty owner", service.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.owners[id] = owner
	return id, nil
}

// Transfer changes the owner of an existing item.
func (r *MemoryRegistry) Transfer(ctx context.Context, itemID uint64, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.owners[itemID]; !ok {
		return fmt.Errorf("%w: item %d", service.ErrNotFound, itemID)
	}
	r.owners[itemID] = to
	return nil
}

// Ensure the stand-ins satisfy the service interfaces
var (
	_ service.Ledger   = (*MemoryLedger)(nil)
	_ service.Registry = (*MemoryRegistry)(nil)
	_ service.Minter   = (*MemoryRegistry)(nil)
)
