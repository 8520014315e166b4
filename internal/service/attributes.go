package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"traitfusion-api/internal/cache"
	"traitfusion-api/internal/model"
	"traitfusion-api/internal/notify"
	"traitfusion-api/internal/repository"
)

// AttributeStoreConfig holds the dependencies of an AttributeStore.
type AttributeStoreConfig struct {
	Store     repository.Store
	Cache     cache.Cache
	CacheTTL  time.Duration
	Roles     *Roles
	Locker    *ItemLocker
	Publisher notify.Publisher
	Clock     Clock
}

// AttributeStore is the generic per-item key/value trait store.
// Writes need the engine role; reads are open to everyone.
type AttributeStore struct {
	store     repository.Store
	cache     cache.Cache
	cacheTTL  time.Duration
	roles     *Roles
	locker    *ItemLocker
	publisher notify.Publisher
	now       Clock

	mu      sync.RWMutex
	schemas map[string]model.Schema
}

// NewAttributeStore creates an attribute store over cfg.Store.
func NewAttributeStore(cfg AttributeStoreConfig) *AttributeStore {
	if cfg.Cache == nil {
		cfg.Cache = cache.Noop{}
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Roles == nil {
		cfg.Roles = NewRoles()
	}
	if cfg.Locker == nil {
		cfg.Locker = NewItemLocker()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = notify.LogPublisher{}
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock
	}

	return &AttributeStore{
		store:     cfg.Store,
		cache:     cfg.Cache,
		cacheTTL:  cfg.CacheTTL,
		roles:     cfg.Roles,
		locker:    cfg.Locker,
		publisher: cfg.Publisher,
		now:       cfg.Clock,
		schemas:   make(map[string]model.Schema),
	}
}

// RegisterSchema sets the attribute-name domain of a collection.
func (s *AttributeStore) RegisterSchema(schema model.Schema) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[schema.Collection] = schema
}

// Schema returns the registered schema of a collection.
func (s *AttributeStore) Schema(collection string) (model.Schema, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schema, ok := s.schemas[collection]
	return schema, ok
}

func (s *AttributeStore) kindOf(collection string, name model.AttributeName) (model.ValueKind, error) {
	schema, ok := s.Schema(collection)
	if !ok {
		return "", fmt.Errorf("%w: collection %q has no schema", ErrUnknownAttribute, collection)
	}
	kind, ok := schema.Kind(name)
	if !ok {
		return "", fmt.Errorf("%w: %q in collection %q", ErrUnknownAttribute, name, collection)
	}
	return kind, nil
}

func (s *AttributeStore) checkTypedWrite(collection string, name model.AttributeName, want model.ValueKind) error {
	kind, err := s.kindOf(collection, name)
	if err != nil {
		return err
	}
	if kind != model.KindRaw && kind != want {
		return fmt.Errorf("%w: attribute %q holds %s, not %s", ErrDecode, name, kind, want)
	}
	return nil
}

// Locker returns the per-item locker shared with the other components.
func (s *AttributeStore) Locker() *ItemLocker {
	return s.locker
}

// SetRaw overwrites an attribute with opaque bytes.
func (s *AttributeStore) SetRaw(ctx context.Context, caller, collection string, itemID uint64, name model.AttributeName, value []byte) error {
	return s.Update(ctx, caller, collection, itemID, func(u *UnitOfWork) error {
		return u.SetRaw(name, value)
	})
}

// SetUint overwrites an attribute with the canonical encoding of v.
func (s *AttributeStore) SetUint(ctx context.Context, caller, collection string, itemID uint64, name model.AttributeName, v uint64) error {
	return s.Update(ctx, caller, collection, itemID, func(u *UnitOfWork) error {
		return u.SetUint(name, v)
	})
}

// SetText overwrites an attribute with the canonical encoding of v.
func (s *AttributeStore) SetText(ctx context.Context, caller, collection string, itemID uint64, name model.AttributeName, v string) error {
	return s.Update(ctx, caller, collection, itemID, func(u *UnitOfWork) error {
		return u.SetText(name, v)
	})
}

// GetRaw returns the stored bytes, or an empty slice if never written.
func (s *AttributeStore) GetRaw(ctx context.Context, collection string, itemID uint64, name model.AttributeName) ([]byte, error) {
	if _, err := s.kindOf(collection, name); err != nil {
		return nil, err
	}

	unlock := s.locker.RLock(ctx, collection, itemID)
	defer unlock()

	return s.readThrough(ctx, model.AttributeKey{Collection: collection, ItemID: itemID, Name: name})
}

// GetUint decodes an unsigned integer. Unset attributes read as 0.
func (s *AttributeStore) GetUint(ctx context.Context, collection string, itemID uint64, name model.AttributeName) (uint64, error) {
	raw, err := s.GetRaw(ctx, collection, itemID, name)
	if err != nil {
		return 0, err
	}
	return DecodeUint(raw)
}

// GetText decodes a text value. Unset attributes read as "".
func (s *AttributeStore) GetText(ctx context.Context, collection string, itemID uint64, name model.AttributeName) (string, error) {
	raw, err := s.GetRaw(ctx, collection, itemID, name)
	if err != nil {
		return "", err
	}
	return DecodeText(raw)
}

// ListAttributes returns every stored attribute of an item.
func (s *AttributeStore) ListAttributes(ctx context.Context, collection string, itemID uint64) ([]model.Attribute, error) {
	unlock := s.locker.RLock(ctx, collection, itemID)
	defer unlock()

	attrs, err := s.store.ListAttributes(ctx, collection, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attributes: %w", err)
	}
	return attrs, nil
}

// ComputeDigest hashes the raw values of names, concatenated in the given
// order. Unset attributes contribute nothing.
func (s *AttributeStore) ComputeDigest(ctx context.Context, collection string, itemID uint64, names ...model.AttributeName) (model.Hash, error) {
	for _, name := range names {
		if _, err := s.kindOf(collection, name); err != nil {
			return model.Hash{}, err
		}
	}

	unlock := s.locker.RLock(ctx, collection, itemID)
	defer unlock()

	parts := make([][]byte, 0, len(names))
	for _, name := range names {
		raw, err := s.readThrough(ctx, model.AttributeKey{Collection: collection, ItemID: itemID, Name: name})
		if err != nil {
			return model.Hash{}, err
		}
		parts = append(parts, raw)
	}
	return Keccak256(parts...), nil
}

func (s *AttributeStore) readThrough(ctx context.Context, key model.AttributeKey) ([]byte, error) {
	cacheKey := key.String()
	if cached, err := s.cache.Get(ctx, cacheKey); err == nil {
		return cached, nil
	}

	raw, _, err := s.store.GetAttribute(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read attribute %s: %w", key, err)
	}
	if raw == nil {
		raw = []byte{}
	}

	if err := s.cache.Set(ctx, cacheKey, raw, s.cacheTTL); err != nil {
		log.Printf("[AttributeStore] Cache set failed for %s: %v", cacheKey, err)
	}
	return raw, nil
}

// Update runs fn as one unit of work on a single item. The item stays locked
// while fn runs; staged writes commit in one store transaction and events are
// published only after the commit. If fn or the commit fails, nothing is
// written and compensations registered with OnRollback run in reverse order.
func (s *AttributeStore) Update(ctx context.Context, caller, collection string, itemID uint64, fn func(u *UnitOfWork) error) (err error) {
	lockedCtx, unlock, err := s.locker.Lock(ctx, collection, itemID)
	if err != nil {
		return err
	}
	defer unlock()

	u := &UnitOfWork{
		ctx:        lockedCtx,
		store:      s,
		caller:     caller,
		collection: collection,
		itemID:     itemID,
		now:        s.now().Truncate(time.Second), // stores keep whole seconds
		writes:     make(map[model.AttributeName][]byte),
	}

	defer func() {
		if err != nil {
			u.rollback()
		}
	}()

	if err = fn(u); err != nil {
		return err
	}
	if err = u.commit(); err != nil {
		return err
	}

	u.publish()
	return nil
}

// UnitOfWork stages the effects of one action on one item.
type UnitOfWork struct {
	ctx        context.Context
	store      *AttributeStore
	caller     string
	collection string
	itemID     uint64
	now        time.Time

	writes    map[model.AttributeName][]byte
	order     []model.AttributeName
	ops       []func(ctx context.Context, tx repository.Tx) error
	events    []model.Event
	rollbacks []func(ctx context.Context) error
}

// Context returns the context of the unit of work. It marks the item as held,
// so re-entering the same item through it fails with ErrReentrantCall.
func (u *UnitOfWork) Context() context.Context { return u.ctx }

// Now returns the time the unit of work started.
func (u *UnitOfWork) Now() time.Time { return u.now }

// Caller returns the identity the unit of work runs as.
func (u *UnitOfWork) Caller() string { return u.caller }

// Collection returns the collection of the locked item.
func (u *UnitOfWork) Collection() string { return u.collection }

// ItemID returns the locked item.
func (u *UnitOfWork) ItemID() uint64 { return u.itemID }

func (u *UnitOfWork) key(name model.AttributeName) model.AttributeKey {
	return model.AttributeKey{Collection: u.collection, ItemID: u.itemID, Name: name}
}

// GetRaw reads an attribute, seeing writes staged earlier in this unit.
func (u *UnitOfWork) GetRaw(name model.AttributeName) ([]byte, error) {
	if _, err := u.store.kindOf(u.collection, name); err != nil {
		return nil, err
	}
	if v, ok := u.writes[name]; ok {
		return v, nil
	}

	raw, _, err := u.store.store.GetAttribute(u.ctx, u.key(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read attribute %s: %w", name, err)
	}
	if raw == nil {
		raw = []byte{}
	}
	return raw, nil
}

// GetUint reads an unsigned integer attribute.
func (u *UnitOfWork) GetUint(name model.AttributeName) (uint64, error) {
	raw, err := u.GetRaw(name)
	if err != nil {
		return 0, err
	}
	v, err := DecodeUint(raw)
	if err != nil {
		return 0, fmt.Errorf("attribute %s: %w", name, err)
	}
	return v, nil
}

// GetText reads a text attribute.
func (u *UnitOfWork) GetText(name model.AttributeName) (string, error) {
	raw, err := u.GetRaw(name)
	if err != nil {
		return "", err
	}
	v, err := DecodeText(raw)
	if err != nil {
		return "", fmt.Errorf("attribute %s: %w", name, err)
	}
	return v, nil
}

// SetRaw stages an attribute write.
func (u *UnitOfWork) SetRaw(name model.AttributeName, value []byte) error {
	if err := u.store.roles.Require(RoleEngine, u.caller); err != nil {
		return err
	}
	if _, err := u.store.kindOf(u.collection, name); err != nil {
		return err
	}
	u.stageWrite(name, value)
	return nil
}

// SetUint stages the canonical encoding of v.
func (u *UnitOfWork) SetUint(name model.AttributeName, v uint64) error {
	if err := u.store.roles.Require(RoleEngine, u.caller); err != nil {
		return err
	}
	if err := u.store.checkTypedWrite(u.collection, name, model.KindUint); err != nil {
		return err
	}
	u.stageWrite(name, EncodeUint(v))
	return nil
}

// SetText stages the canonical encoding of v.
func (u *UnitOfWork) SetText(name model.AttributeName, v string) error {
	if err := u.store.roles.Require(RoleEngine, u.caller); err != nil {
		return err
	}
	if err := u.store.checkTypedWrite(u.collection, name, model.KindText); err != nil {
		return err
	}
	u.stageWrite(name, EncodeText(v))
	return nil
}

func (u *UnitOfWork) stageWrite(name model.AttributeName, value []byte) {
	if _, ok := u.writes[name]; !ok {
		u.order = append(u.order, name)
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	u.writes[name] = copied
}

// Stage adds a repository write to the commit transaction.
func (u *UnitOfWork) Stage(op func(ctx context.Context, tx repository.Tx) error) {
	u.ops = append(u.ops, op)
}

// Emit queues an event for publication after commit.
func (u *UnitOfWork) Emit(e model.Event) {
	if e.Collection == "" {
		e.Collection = u.collection
	}
	if e.ItemID == 0 {
		e.ItemID = u.itemID
	}
	if e.At.IsZero() {
		e.At = u.now
	}
	u.events = append(u.events, e)
}

// OnRollback registers a compensation for an external effect already made.
func (u *UnitOfWork) OnRollback(fn func(ctx context.Context) error) {
	u.rollbacks = append(u.rollbacks, fn)
}

func (u *UnitOfWork) commit() error {
	if len(u.order) == 0 && len(u.ops) == 0 {
		return nil
	}

	err := u.store.store.WithTx(u.ctx, func(tx repository.Tx) error {
		for _, op := range u.ops {
			if err := op(u.ctx, tx); err != nil {
				return err
			}
		}
		for _, name := range u.order {
			attr := model.Attribute{AttributeKey: u.key(name), Value: u.writes[name], UpdatedAt: u.now}
			if err := tx.PutAttribute(u.ctx, attr); err != nil {
				return fmt.Errorf("failed to write attribute %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(u.order) > 0 {
		keys := make([]string, 0, len(u.order))
		for _, name := range u.order {
			keys = append(keys, u.key(name).String())
		}
		if err := u.store.cache.Delete(context.WithoutCancel(u.ctx), keys...); err != nil {
			log.Printf("[AttributeStore] Cache invalidation failed for item %d: %v", u.itemID, err)
		}
	}
	return nil
}

func (u *UnitOfWork) rollback() {
	ctx := context.WithoutCancel(u.ctx)
	for i := len(u.rollbacks) - 1; i >= 0; i-- {
		if err := u.rollbacks[i](ctx); err != nil {
			log.Printf("[AttributeStore] Compensation failed for item %s/%d: %v", u.collection, u.itemID, err)
		}
	}
}

func (u *UnitOfWork) publish() {
	events := make([]model.Event, 0, len(u.order)+len(u.events))
	for _, name := range u.order {
		events = append(events, model.Event{
			Type:       model.EventAttributeChanged,
			Collection: u.collection,
			ItemID:     u.itemID,
			Actor:      u.caller,
			Name:       name,
			Value:      u.writes[name],
			At:         u.now,
		})
	}
	events = append(events, u.events...)
	if len(events) == 0 {
		return
	}

	if err := u.store.publisher.Publish(context.WithoutCancel(u.ctx), events...); err != nil {
		log.Printf("[AttributeStore] Failed to publish %d events for item %d: %v", len(events), u.itemID, err)
	}
}

// errAborted stops a unit of work without surfacing an error to async callers.
var errAborted = errors.New("unit of work aborted")
