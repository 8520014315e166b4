package service

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"traitfusion-api/internal/model"
	"traitfusion-api/internal/repository"
)

// OracleCategory is a kind of off-chain data point.
type OracleCategory string

const (
	CategoryFitness OracleCategory = "fitness"
	CategoryGPS     OracleCategory = "gps"
	CategoryWeather OracleCategory = "weather"
)

// Minimum time between requests for an item, per category.
const (
	FitnessInterval = time.Hour
	GPSInterval     = 30 * time.Minute
	WeatherInterval = time.Hour
)

// ParseOracleCategory validates a category name.
func ParseOracleCategory(s string) (OracleCategory, error) {
	switch c := OracleCategory(s); c {
	case CategoryFitness, CategoryGPS, CategoryWeather:
		return c, nil
	}
	return "", fmt.Errorf("%w: unknown oracle category %q", ErrInvalidArgument, s)
}

// Interval returns the minimum request interval of c.
func (c OracleCategory) Interval() time.Duration {
	if c == CategoryGPS {
		return GPSInterval
	}
	return FitnessInterval
}

// RequestKind returns the pending-request kind of c.
func (c OracleCategory) RequestKind() model.RequestKind {
	switch c {
	case CategoryGPS:
		return model.RequestOracleGPS
	case CategoryWeather:
		return model.RequestOracleWeather
	}
	return model.RequestOracleFitness
}

// OracleRequestID derives the opaque id of a request from the item, the
// category and the request time.
func OracleRequestID(itemID uint64, category OracleCategory, at time.Time) string {
	var item, ts [8]byte
	binary.BigEndian.PutUint64(item[:], itemID)
	binary.BigEndian.PutUint64(ts[:], uint64(at.Unix()))
	h := Keccak256(item[:], []byte(category), ts[:])
	return hex.EncodeToString(h[:])
}

// OracleAdapter maps oracle request ids to items and forwards fulfilled data
// to the engine. All three categories share one last-update timestamp per
// item, so a fulfilled GPS update also throttles fitness and weather.
type OracleAdapter struct {
	engine *Engine
	store  repository.Reader
	roles  *Roles
}

// NewOracleAdapter creates an oracle adapter for the engine's collection.
func NewOracleAdapter(engine *Engine, store repository.Reader, roles *Roles) *OracleAdapter {
	return &OracleAdapter{
		engine: engine,
		store:  store,
		roles:  roles,
	}
}

// Request issues a data request for an owned item.
func (a *OracleAdapter) Request(ctx context.Context, caller string, itemID uint64, category OracleCategory) (string, error) {
	if _, err := ParseOracleCategory(string(category)); err != nil {
		return "", err
	}

	var requestID string
	err := a.engine.updateItem(ctx, itemID, func(u *UnitOfWork) error {
		if err := a.engine.requireOwner(u.Context(), caller, itemID); err != nil {
			return err
		}

		last, err := a.store.GetOracleLastUpdate(u.Context(), u.Collection(), itemID)
		if err != nil {
			return fmt.Errorf("failed to read oracle throttle: %w", err)
		}
		if next := last.Add(category.Interval()); !last.IsZero() && u.Now().Before(next) {
			return fmt.Errorf("%w: next %s request at %s", ErrCooldownActive, category, next.Format(time.RFC3339))
		}

		requestID = OracleRequestID(itemID, category, u.Now())
		req := model.PendingRequest{
			RequestID:  requestID,
			Kind:       category.RequestKind(),
			Collection: u.Collection(),
			ItemID:     itemID,
			Status:     model.RequestPending,
			CreatedAt:  u.Now(),
		}
		u.Stage(func(ctx context.Context, tx repository.Tx) error {
			err := tx.InsertPendingRequest(ctx, req)
			if errors.Is(err, repository.ErrDuplicateRequest) {
				return fmt.Errorf("%w: %s request already issued this second", ErrCooldownActive, category)
			}
			return err
		})
		return nil
	})
	if err != nil {
		return "", err
	}

	log.Printf("[Oracle] Issued %s request %s for item %d", category, requestID, itemID)
	return requestID, nil
}

// FulfillSteps delivers a step count.
func (a *OracleAdapter) FulfillSteps(ctx context.Context, caller, requestID string, steps uint64) error {
	return a.fulfill(ctx, caller, requestID, CategoryFitness, func(u *UnitOfWork) error {
		return a.engine.applySteps(u, steps)
	})
}

// FulfillGPS delivers a GPS zone name.
func (a *OracleAdapter) FulfillGPS(ctx context.Context, caller, requestID, zone string) error {
	return a.fulfill(ctx, caller, requestID, CategoryGPS, func(u *UnitOfWork) error {
		return a.engine.applyGPSZone(u, zone)
	})
}

// FulfillWeather delivers a weather condition.
func (a *OracleAdapter) FulfillWeather(ctx context.Context, caller, requestID, weather string) error {
	return a.fulfill(ctx, caller, requestID, CategoryWeather, func(u *UnitOfWork) error {
		return a.engine.applyWeather(u, weather)
	})
}

// fulfill consumes the request, applies the update and refreshes the shared
// throttle in one unit of work. Unknown or consumed ids are ignored.
func (a *OracleAdapter) fulfill(ctx context.Context, caller, requestID string, category OracleCategory, apply func(u *UnitOfWork) error) error {
	if err := a.roles.Require(RoleOracle, caller); err != nil {
		return err
	}

	req, err := pendingRequest(ctx, a.store, requestID, category.RequestKind())
	if err != nil {
		return err
	}
	if req == nil || req.Collection != a.engine.Collection() {
		log.Printf("[Oracle] Ignoring %s fulfillment for unknown request %s", category, requestID)
		return nil
	}

	err = a.engine.updateItem(ctx, req.ItemID, func(u *UnitOfWork) error {
		takeRequest(u, requestID)
		if err := apply(u); err != nil {
			return err
		}
		now := u.Now()
		u.Stage(func(ctx context.Context, tx repository.Tx) error {
			return tx.PutOracleLastUpdate(ctx, u.Collection(), u.ItemID(), now)
		})
		return nil
	})
	if errors.Is(err, errAborted) {
		log.Printf("[Oracle] Request %s was already consumed", requestID)
		return nil
	}
	return err
}
