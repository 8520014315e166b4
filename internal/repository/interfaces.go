package repository

import (
	"context"
	"errors"
	"time"

	"traitfusion-api/internal/model"
)

// ErrDuplicateRequest is returned when a request identifier was already recorded.
// Identifiers are never reused, even after they have been consumed.
var ErrDuplicateRequest = errors.New("request id already recorded")

// Reader defines the read side of the trait store.
type Reader interface {
	// GetAttribute returns the raw value of an attribute and whether it exists.
	GetAttribute(ctx context.Context, key model.AttributeKey) ([]byte, bool, error)

	// ListAttributes returns every stored attribute of an item ordered by name.
	ListAttributes(ctx context.Context, collection string, itemID uint64) ([]model.Attribute, error)

	// GetActionState returns the engine session state of an item.
	// A missing record yields the zero state.
	GetActionState(ctx context.Context, collection string, itemID uint64) (model.ActionState, error)

	// GetSnapshot returns the latest snapshot of an item, or nil if none exists.
	GetSnapshot(ctx context.Context, collection string, itemID uint64) (*model.Snapshot, error)

	// GetPendingRequest returns a request record in any status, or nil if unknown.
	GetPendingRequest(ctx context.Context, requestID string) (*model.PendingRequest, error)

	// GetOracleLastUpdate returns the shared oracle timestamp of an item.
	GetOracleLastUpdate(ctx context.Context, collection string, itemID uint64) (time.Time, error)
}

// Tx is the write side of one unit of work. Everything written through a Tx
// commits or rolls back together.
type Tx interface {
	PutAttribute(ctx context.Context, attr model.Attribute) error
	PutActionState(ctx context.Context, state model.ActionState) error

	// InsertPendingRequest records a new request. Returns ErrDuplicateRequest
	// if the identifier was seen before.
	InsertPendingRequest(ctx context.Context, req model.PendingRequest) error

	// TakePendingRequest marks a pending request fulfilled. It reports false
	// when the request is unknown or no longer pending.
	TakePendingRequest(ctx context.Context, requestID string) (bool, error)

	PutSnapshot(ctx context.Context, snap model.Snapshot) error
	PutOracleLastUpdate(ctx context.Context, collection string, itemID uint64, at time.Time) error
}

// Store defines trait store data access methods.
type Store interface {
	Reader

	// WithTx runs fn inside a single transaction.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// ExpirePendingRequests marks pending requests of the given kinds created
	// before olderThan as expired.
	ExpirePendingRequests(ctx context.Context, kinds []model.RequestKind, olderThan time.Time) (int64, error)

	// ResetDailySteps zeroes the daily step count of every item.
	ResetDailySteps(ctx context.Context) (int64, error)

	// GetStats returns statistics about the store.
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Close closes the underlying database.
	Close() error
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
