package service

import (
	"context"
	"time"
)

// Registry is the collectible registry. It owns item identity and ownership.
type Registry interface {
	OwnerOf(ctx context.Context, itemID uint64) (string, error)
}

// Minter creates new items in the registry.
type Minter interface {
	MintItem(ctx context.Context, owner string) (uint64, error)
}

// Ledger is the fungible reward-token ledger.
type Ledger interface {
	Mint(ctx context.Context, account string, amount uint64) error
	Burn(ctx context.Context, account string, amount uint64) error
	BalanceOf(ctx context.Context, account string) (uint64, error)
}

// RandomnessSource issues randomness requests. Fulfillment arrives later
// through Engine.FulfillRandomness, exactly once per request id.
type RandomnessSource interface {
	RequestRandom(ctx context.Context) (string, error)
}

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}
