package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"traitfusion-api/internal/model"
	"traitfusion-api/internal/repository"
)

// SnapshotService captures hashed attribute snapshots and announces
// cross-ledger transfers. Nothing is moved; the snapshot is the contract.
type SnapshotService struct {
	engine *Engine
	store  repository.Reader
	roles  *Roles
}

// NewSnapshotService creates a snapshot service over the engine's collection.
func NewSnapshotService(engine *Engine, store repository.Reader, roles *Roles) *SnapshotService {
	return &SnapshotService{
		engine: engine,
		store:  store,
		roles:  roles,
	}
}

// CreateSnapshot captures SnapshotAttributes of an owned item and overwrites
// the previous snapshot.
func (s *SnapshotService) CreateSnapshot(ctx context.Context, caller string, itemID uint64) (*model.Snapshot, error) {
	var snap *model.Snapshot

	err := s.engine.updateItem(ctx, itemID, func(u *UnitOfWork) error {
		if err := s.engine.requireOwner(u.Context(), caller, itemID); err != nil {
			return err
		}

		values := make([]model.SnapshotValue, 0, len(model.SnapshotAttributes))
		for _, name := range model.SnapshotAttributes {
			raw, err := u.GetRaw(name)
			if err != nil {
				return err
			}
			values = append(values, model.SnapshotValue{Name: name, Value: raw})
		}

		snap = &model.Snapshot{
			Collection: u.Collection(),
			ItemID:     itemID,
			Values:     values,
			CapturedAt: u.Now(),
		}
		snap.Hash = SnapshotHash(values, snap.CapturedAt)

		stored := *snap
		u.Stage(func(ctx context.Context, tx repository.Tx) error {
			return tx.PutSnapshot(ctx, stored)
		})
		u.Emit(model.Event{
			Type:   model.EventSnapshotCreated,
			Actor:  caller,
			Fields: map[string]string{"hash": snap.Hash.Hex()},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Snapshot] Item %d captured %s", itemID, snap.Hash.Hex())
	return snap, nil
}

// GetSnapshot returns the latest snapshot of an item.
func (s *SnapshotService) GetSnapshot(ctx context.Context, itemID uint64) (*model.Snapshot, error) {
	collection := s.engine.Collection()
	unlock := s.engine.attrs.Locker().RLock(ctx, collection, itemID)
	defer unlock()

	snap, err := s.store.GetSnapshot(ctx, collection, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if snap == nil || snap.Hash.IsZero() {
		return nil, fmt.Errorf("%w: no snapshot for item %d", ErrNotFound, itemID)
	}
	return snap, nil
}

// VerifySnapshot recomputes the hash of the stored snapshot.
func (s *SnapshotService) VerifySnapshot(ctx context.Context, itemID uint64) (bool, *model.Snapshot, error) {
	snap, err := s.GetSnapshot(ctx, itemID)
	if err != nil {
		return false, nil, err
	}
	return SnapshotHash(snap.Values, snap.CapturedAt) == snap.Hash, snap, nil
}

// TransferRequest describes an outbound cross-ledger transfer.
type TransferRequest struct {
	ItemID      uint64 `json:"item_id"`
	Destination string `json:"destination"`
	TargetChain string `json:"target_chain"`
}

// InitiateTransfer announces a transfer of the latest snapshot. The caller
// needs the bridge role and the item needs a snapshot.
func (s *SnapshotService) InitiateTransfer(ctx context.Context, caller string, req TransferRequest) (*model.Snapshot, error) {
	if err := s.roles.Require(RoleBridge, caller); err != nil {
		return nil, err
	}
	req.Destination = strings.TrimSpace(req.Destination)
	req.TargetChain = strings.TrimSpace(req.TargetChain)
	if req.Destination == "" || req.TargetChain == "" {
		return nil, fmt.Errorf("%w: destination and target chain are required", ErrInvalidArgument)
	}

	var snap *model.Snapshot
	err := s.engine.updateItem(ctx, req.ItemID, func(u *UnitOfWork) error {
		stored, err := s.store.GetSnapshot(u.Context(), u.Collection(), req.ItemID)
		if err != nil {
			return fmt.Errorf("failed to load snapshot: %w", err)
		}
		if stored == nil || stored.Hash.IsZero() {
			return fmt.Errorf("%w: no snapshot for item %d", ErrNotFound, req.ItemID)
		}
		snap = stored

		u.Emit(model.Event{
			Type:  model.EventTransferInitiated,
			Actor: caller,
			Fields: map[string]string{
				"destination":  req.Destination,
				"target_chain": req.TargetChain,
				"hash":         stored.Hash.Hex(),
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Snapshot] Transfer of item %d to %s on %s initiated by %s", req.ItemID, req.Destination, req.TargetChain, caller)
	return snap, nil
}
