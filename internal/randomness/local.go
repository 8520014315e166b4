// Package randomness provides a local stand-in for the randomness beacon.
package randomness

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"traitfusion-api/internal/service"
	"traitfusion-api/pkg/uid"
)

// Fulfiller receives the random values of a request.
type Fulfiller func(ctx context.Context, requestID string, values []*big.Int) error

// Config holds LocalBeacon settings.
type Config struct {
	// Delay before a request is fulfilled.
	Delay time.Duration

	// Values is the number of random words delivered per request.
	Values int

	// Retries is how often an unknown request is retried. The requester
	// records the request id only after RequestRandom returns.
	Retries int
}

// LocalBeacon issues uuid request ids and later delivers crypto/rand values
// to its fulfiller, once per request.
type LocalBeacon struct {
	cfg Config

	mu      sync.RWMutex
	fulfill Fulfiller
	closed  bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLocalBeacon creates a beacon. Call SetFulfiller before the first request.
func NewLocalBeacon(cfg Config) *LocalBeacon {
	if cfg.Delay <= 0 {
		cfg.Delay = 2 * time.Second
	}
	if cfg.Values <= 0 {
		cfg.Values = 1
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	return &LocalBeacon{cfg: cfg, stop: make(chan struct{})}
}

// SetFulfiller sets the callback that receives random values.
func (b *LocalBeacon) SetFulfiller(f Fulfiller) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fulfill = f
}

// RequestRandom issues a new request and schedules its fulfillment.
func (b *LocalBeacon) RequestRandom(ctx context.Context) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return "", errors.New("randomness beacon is closed")
	}
	if b.fulfill == nil {
		return "", errors.New("randomness beacon has no fulfiller")
	}

	id := uid.New()
	b.wg.Add(1)
	go b.deliver(id, b.fulfill)
	return id, nil
}

func (b *LocalBeacon) deliver(id string, fulfill Fulfiller) {
	defer b.wg.Done()

	values, err := randomValues(b.cfg.Values)
	if err != nil {
		log.Printf("[Randomness] Failed to generate values for %s: %v", id, err)
		return
	}

	for attempt := 0; attempt <= b.cfg.Retries; attempt++ {
		select {
		case <-time.After(b.cfg.Delay):
		case <-b.stop:
			log.Printf("[Randomness] Dropping request %s on shutdown", id)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = fulfill(ctx, id, values)
		cancel()

		if err == nil {
			return
		}
		if !errors.Is(err, service.ErrUnknownRequest) {
			break
		}
	}
	log.Printf("[Randomness] Failed to fulfill request %s: %v", id, err)
}

func randomValues(n int) ([]*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 256)
	values := make([]*big.Int, 0, n)
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to read random value: %w", err)
		}
		values = append(values, v)
	}
	return values, nil
}

// Close stops pending deliveries and waits for in-flight callbacks.
func (b *LocalBeacon) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.stopOnce.Do(func() { close(b.stop) })
	b.wg.Wait()
	return nil
}

var _ service.RandomnessSource = (*LocalBeacon)(nil)
