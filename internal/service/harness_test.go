package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"traitfusion-api/internal/cache"
	"traitfusion-api/internal/model"
	"traitfusion-api/internal/notify"
	"traitfusion-api/internal/repository"
)

const (
	engineID = "engine"
	oracleID = "oracle"
	bridgeID = "bridge"
	alice    = "alice"
	bob      = "bob"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]uint64
}

func (l *fakeLedger) Mint(ctx context.Context, account string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
	return nil
}

func (l *fakeLedger) Burn(ctx context.Context, account string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[account] < amount {
		return ErrInsufficientFunds
	}
	l.balances[account] -= amount
	return nil
}

func (l *fakeLedger) BalanceOf(ctx context.Context, account string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}

type fakeRegistry struct {
	mu     sync.Mutex
	owners map[uint64]string
	next   uint64
}

func (r *fakeRegistry) OwnerOf(ctx context.Context, itemID uint64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[itemID]
	if !ok {
		return "", fmt.Errorf("%w: item %d", ErrNotFound, itemID)
	}
	return owner, nil
}

func (r *fakeRegistry) MintItem(ctx context.Context, owner string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.owners[r.next] = owner
	return r.next, nil
}

type fakeRandomness struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeRandomness) RequestRandom(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("rand-%d", len(f.ids)+1)
	f.ids = append(f.ids, id)
	return id, nil
}

// flakyStore fails every commit while fail is set.
type flakyStore struct {
	repository.Store
	fail bool
}

var errCommit = errors.New("commit failed")

func (s *flakyStore) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if s.fail {
		return errCommit
	}
	return s.Store.WithTx(ctx, fn)
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	now      time.Time
	store    *flakyStore
	cache    *cache.MemoryCache
	events   *notify.Recorder
	roles    *Roles
	ledger   *fakeLedger
	registry *fakeRegistry
	random   *fakeRandomness
	attrs    *AttributeStore
	engine   *Engine
	snaps    *SnapshotService
	oracle   *OracleAdapter
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "traits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	memCache := cache.NewMemoryCache()
	t.Cleanup(func() { memCache.Close() })

	h := &harness{
		t:        t,
		ctx:      context.Background(),
		now:      t0,
		store:    &flakyStore{Store: store},
		cache:    memCache,
		events:   notify.NewRecorder(0),
		roles:    NewRoles(),
		ledger:   &fakeLedger{balances: map[string]uint64{}},
		registry: &fakeRegistry{owners: map[uint64]string{}},
		random:   &fakeRandomness{},
	}
	h.roles.Grant(RoleEngine, engineID)
	h.roles.Grant(RoleOracle, oracleID)
	h.roles.Grant(RoleBridge, bridgeID)

	clock := func() time.Time { return h.now }
	h.attrs = NewAttributeStore(AttributeStoreConfig{
		Store:     h.store,
		Cache:     memCache,
		Roles:     h.roles,
		Publisher: h.events,
		Clock:     clock,
	})
	h.engine = NewEngine(EngineDeps{
		Identity:   engineID,
		Config:     DefaultGameConfig(),
		Attributes: h.attrs,
		Store:      h.store,
		Registry:   h.registry,
		Minter:     h.registry,
		Ledger:     h.ledger,
		Randomness: h.random,
		Roles:      h.roles,
		Clock:      clock,
	})
	h.snaps = NewSnapshotService(h.engine, h.store, h.roles)
	h.oracle = NewOracleAdapter(h.engine, h.store, h.roles)
	return h
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

// newItem creates an item with default base attributes owned by owner.
func (h *harness) newItem(owner string) uint64 {
	h.t.Helper()
	id, err := h.engine.CreateItem(h.ctx, engineID, owner, nil)
	require.NoError(h.t, err)
	return id
}

func (h *harness) getUint(itemID uint64, name model.AttributeName) uint64 {
	h.t.Helper()
	v, err := h.attrs.GetUint(h.ctx, h.engine.Collection(), itemID, name)
	require.NoError(h.t, err)
	return v
}

func (h *harness) getText(itemID uint64, name model.AttributeName) string {
	h.t.Helper()
	v, err := h.attrs.GetText(h.ctx, h.engine.Collection(), itemID, name)
	require.NoError(h.t, err)
	return v
}

func (h *harness) setUint(itemID uint64, name model.AttributeName, v uint64) {
	h.t.Helper()
	require.NoError(h.t, h.attrs.SetUint(h.ctx, engineID, h.engine.Collection(), itemID, name, v))
}

func (h *harness) balance(account string) uint64 {
	h.t.Helper()
	b, err := h.ledger.BalanceOf(h.ctx, account)
	require.NoError(h.t, err)
	return b
}

func (h *harness) fund(account string, amount uint64) {
	h.t.Helper()
	require.NoError(h.t, h.ledger.Mint(h.ctx, account, amount))
}

func (h *harness) state(itemID uint64) model.ActionState {
	h.t.Helper()
	st, err := h.engine.ActionState(h.ctx, itemID)
	require.NoError(h.t, err)
	return st
}

func roll(v int64) []*big.Int {
	return []*big.Int{big.NewInt(v)}
}
