package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traitfusion-api/internal/service"
)

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	require.NoError(t, l.Mint(ctx, "alice", 30))
	assert.ErrorIs(t, l.Mint(ctx, "", 1), service.ErrInvalidArgument)

	err := l.Burn(ctx, "alice", 31)
	assert.ErrorIs(t, err, service.ErrInsufficientFunds)
	assert.ErrorIs(t, err, service.ErrInsufficientResource)

	require.NoError(t, l.Burn(ctx, "alice", 30))
	balance, err := l.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, balance)

	balance, err = l.BalanceOf(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestMemoryRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry()

	first, err := r.MintItem(ctx, "alice")
	require.NoError(t, err)
	second, err := r.MintItem(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(2), second)

	_, err = r.MintItem(ctx, "")
	assert.ErrorIs(t, err, service.ErrInvalidArgument)

	owner, err := r.OwnerOf(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	_, err = r.OwnerOf(ctx, 99)
	assert.ErrorIs(t, err, service.ErrNotFound)

	require.NoError(t, r.Transfer(ctx, first, "carol"))
	owner, err = r.OwnerOf(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "carol", owner)
	assert.ErrorIs(t, r.Transfer(ctx, 99, "carol"), service.ErrNotFound)
}
