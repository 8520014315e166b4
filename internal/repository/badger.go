package repository

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"traitfusion-api/internal/model"
)

const (
	prefixAttr     = "attr:"
	prefixState    = "state:"
	prefixRequest  = "req:"
	prefixSnapshot = "snap:"
	prefixThrottle = "throttle:"
)

// badgerAttribute is the stored form of an attribute value.
type badgerAttribute struct {
	Value     []byte `json:"v"`
	UpdatedAt int64  `json:"t"`
}

// BadgerStore implements Store on an embedded Badger key/value database.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a Badger database in dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open Badger: %w", err)
	}

	log.Printf("[BadgerStore] Initialized with directory: %s", dir)
	return &BadgerStore{db: db}, nil
}

func itemPrefix(prefix, collection string, itemID uint64) string {
	return fmt.Sprintf("%s%s:%020d:", prefix, collection, itemID)
}

func attrKey(key model.AttributeKey) []byte {
	return []byte(itemPrefix(prefixAttr, key.Collection, key.ItemID) + string(key.Name))
}

func itemKey(prefix, collection string, itemID uint64) []byte {
	return []byte(strings.TrimSuffix(itemPrefix(prefix, collection, itemID), ":"))
}

func requestKey(requestID string) []byte {
	return []byte(prefixRequest + requestID)
}

// getJSON decodes the value at key into v. It reports false if key is absent.
func getJSON(txn *badger.Txn, key []byte, v interface{}) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// GetAttribute returns the raw value of an attribute.
func (s *BadgerStore) GetAttribute(ctx context.Context, key model.AttributeKey) ([]byte, bool, error) {
	var rec badgerAttribute
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, attrKey(key), &rec)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get attribute %s: %w", key, err)
	}
	if !found {
		return nil, false, nil
	}
	if rec.Value == nil {
		rec.Value = []byte{}
	}
	return rec.Value, true, nil
}

// ListAttributes returns every stored attribute of an item.
func (s *BadgerStore) ListAttributes(ctx context.Context, collection string, itemID uint64) ([]model.Attribute, error) {
	prefix := []byte(itemPrefix(prefixAttr, collection, itemID))
	attrs := []model.Attribute{}

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			name := string(bytes.TrimPrefix(item.Key(), prefix))

			var rec badgerAttribute
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			attrs = append(attrs, model.Attribute{
				AttributeKey: model.AttributeKey{Collection: collection, ItemID: itemID, Name: model.AttributeName(name)},
				Value:        rec.Value,
				UpdatedAt:    fromUnix(rec.UpdatedAt),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list attributes: %w", err)
	}

	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Name < attrs[j].Name })
	return attrs, nil
}

// GetActionState returns the engine session state of an item.
func (s *BadgerStore) GetActionState(ctx context.Context, collection string, itemID uint64) (model.ActionState, error) {
	state := model.ActionState{Collection: collection, ItemID: itemID}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := getJSON(txn, itemKey(prefixState, collection, itemID), &state)
		return err
	})
	if err != nil {
		return state, fmt.Errorf("failed to get action state: %w", err)
	}
	return state, nil
}

// GetSnapshot returns the latest snapshot of an item.
func (s *BadgerStore) GetSnapshot(ctx context.Context, collection string, itemID uint64) (*model.Snapshot, error) {
	var snap model.Snapshot
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, itemKey(prefixSnapshot, collection, itemID), &snap)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &snap, nil
}

// GetPendingRequest returns a request record in any status.
func (s *BadgerStore) GetPendingRequest(ctx context.Context, requestID string) (*model.PendingRequest, error) {
	var req model.PendingRequest
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, requestKey(requestID), &req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get pending request: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &req, nil
}

// GetOracleLastUpdate returns the shared oracle timestamp of an item.
func (s *BadgerStore) GetOracleLastUpdate(ctx context.Context, collection string, itemID uint64) (time.Time, error) {
	var at int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(itemKey(prefixThrottle, collection, itemID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt oracle timestamp")
			}
			at = int64(binary.BigEndian.Uint64(val))
			return nil
		})
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get oracle timestamp: %w", err)
	}
	return fromUnix(at), nil
}

// WithTx runs fn inside a single Badger read-write transaction.
func (s *BadgerStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

// ExpirePendingRequests marks stale pending requests as expired.
func (s *BadgerStore) ExpirePendingRequests(ctx context.Context, kinds []model.RequestKind, olderThan time.Time) (int64, error) {
	wanted := make(map[model.RequestKind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}

	var expired int64
	err := s.db.Update(func(txn *badger.Txn) error {
		updates, err := scanRequests(txn, func(req *model.PendingRequest) bool {
			return req.Status == model.RequestPending && wanted[req.Kind] && req.CreatedAt.Before(olderThan)
		})
		if err != nil {
			return err
		}
		for _, req := range updates {
			req.Status = model.RequestExpired
			if err := setJSON(txn, requestKey(req.RequestID), req); err != nil {
				return err
			}
		}
		expired = int64(len(updates))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending requests: %w", err)
	}
	return expired, nil
}

func scanRequests(txn *badger.Txn, match func(*model.PendingRequest) bool) ([]*model.PendingRequest, error) {
	prefix := []byte(prefixRequest)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var out []*model.PendingRequest
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var req model.PendingRequest
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &req)
		}); err != nil {
			return nil, err
		}
		if match(&req) {
			out = append(out, &req)
		}
	}
	return out, nil
}

// ResetDailySteps zeroes every item's daily step count.
func (s *BadgerStore) ResetDailySteps(ctx context.Context) (int64, error) {
	var reset int64
	err := s.db.Update(func(txn *badger.Txn) error {
		prefix := []byte(prefixState)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		var states []model.ActionState
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var st model.ActionState
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &st)
			}); err != nil {
				it.Close()
				return err
			}
			if st.DailySteps != 0 {
				states = append(states, st)
			}
		}
		it.Close()

		for _, st := range states {
			st.DailySteps = 0
			if err := setJSON(txn, itemKey(prefixState, st.Collection, st.ItemID), st); err != nil {
				return err
			}
		}
		reset = int64(len(states))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reset daily steps: %w", err)
	}
	return reset, nil
}

// GetStats returns key counts per prefix and the on-disk size.
func (s *BadgerStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})
	stats["backend"] = "badger"

	counts := map[string]int64{}
	var pending int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			switch {
			case strings.HasPrefix(key, prefixAttr):
				counts["total_attributes"]++
			case strings.HasPrefix(key, prefixState):
				counts["total_action_state"]++
			case strings.HasPrefix(key, prefixSnapshot):
				counts["total_snapshots"]++
			}
		}

		reqs, err := scanRequests(txn, func(req *model.PendingRequest) bool {
			return req.Status == model.RequestPending
		})
		pending = int64(len(reqs))
		return err
	})
	if err != nil {
		return nil, err
	}

	for k, v := range counts {
		stats[k] = v
	}
	stats["pending_requests"] = pending

	lsm, vlog := s.db.Size()
	stats["db_size_bytes"] = lsm + vlog
	return stats, nil
}

// Close closes the Badger database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerTx implements Tx on a Badger transaction.
type badgerTx struct {
	txn *badger.Txn
}

func (t *badgerTx) PutAttribute(ctx context.Context, attr model.Attribute) error {
	rec := badgerAttribute{Value: attr.Value, UpdatedAt: toUnix(attr.UpdatedAt)}
	if rec.Value == nil {
		rec.Value = []byte{}
	}
	if err := setJSON(t.txn, attrKey(attr.AttributeKey), rec); err != nil {
		return fmt.Errorf("failed to put attribute %s: %w", attr.AttributeKey, err)
	}
	return nil
}

func (t *badgerTx) PutActionState(ctx context.Context, state model.ActionState) error {
	state.LastActionAt = atSecond(state.LastActionAt)
	if err := setJSON(t.txn, itemKey(prefixState, state.Collection, state.ItemID), state); err != nil {
		return fmt.Errorf("failed to put action state: %w", err)
	}
	return nil
}

func (t *badgerTx) InsertPendingRequest(ctx context.Context, req model.PendingRequest) error {
	var existing model.PendingRequest
	found, err := getJSON(t.txn, requestKey(req.RequestID), &existing)
	if err != nil {
		return fmt.Errorf("failed to check pending request: %w", err)
	}
	if found {
		return fmt.Errorf("%w: %s", ErrDuplicateRequest, req.RequestID)
	}

	if req.Status == "" {
		req.Status = model.RequestPending
	}
	req.CreatedAt = atSecond(req.CreatedAt)
	if err := setJSON(t.txn, requestKey(req.RequestID), req); err != nil {
		return fmt.Errorf("failed to insert pending request: %w", err)
	}
	return nil
}

func (t *badgerTx) TakePendingRequest(ctx context.Context, requestID string) (bool, error) {
	var req model.PendingRequest
	found, err := getJSON(t.txn, requestKey(requestID), &req)
	if err != nil {
		return false, fmt.Errorf("failed to take pending request: %w", err)
	}
	if !found || req.Status != model.RequestPending {
		return false, nil
	}

	req.Status = model.RequestFulfilled
	if err := setJSON(t.txn, requestKey(requestID), req); err != nil {
		return false, fmt.Errorf("failed to take pending request: %w", err)
	}
	return true, nil
}

func (t *badgerTx) PutSnapshot(ctx context.Context, snap model.Snapshot) error {
	snap.CapturedAt = atSecond(snap.CapturedAt)
	if err := setJSON(t.txn, itemKey(prefixSnapshot, snap.Collection, snap.ItemID), snap); err != nil {
		return fmt.Errorf("failed to put snapshot: %w", err)
	}
	return nil
}

func (t *badgerTx) PutOracleLastUpdate(ctx context.Context, collection string, itemID uint64, at time.Time) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(toUnix(at)))
	if err := t.txn.Set(itemKey(prefixThrottle, collection, itemID), buf[:]); err != nil {
		return fmt.Errorf("failed to put oracle timestamp: %w", err)
	}
	return nil
}

// atSecond stores times the way the SQL backends do: UTC unix seconds.
func atSecond(t time.Time) time.Time {
	return fromUnix(toUnix(t))
}

// Ensure BadgerStore implements Store
var _ Store = (*BadgerStore)(nil)
