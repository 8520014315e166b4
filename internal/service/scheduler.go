package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"traitfusion-api/internal/model"
	"traitfusion-api/internal/repository"
)

// SchedulerConfig holds the schedules of the maintenance jobs.
type SchedulerConfig struct {
	// DailyResetSpec is the cron expression of the daily step reset.
	// Default: "@daily"
	DailyResetSpec string

	// JanitorSpec is the cron expression of the oracle request janitor.
	// Default: "@every 10m"
	JanitorSpec string

	// OracleRequestTTL is how long an oracle request may stay pending.
	// Default: 24 hours
	OracleRequestTTL time.Duration

	// JobTimeout bounds a single run.
	JobTimeout time.Duration
}

// DefaultSchedulerConfig returns the default maintenance schedule.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		DailyResetSpec:   "@daily",
		JanitorSpec:      "@every 10m",
		OracleRequestTTL: 24 * time.Hour,
		JobTimeout:       5 * time.Minute,
	}
}

// Scheduler runs the periodic maintenance jobs of the trait store.
type Scheduler struct {
	store     repository.Store
	config    SchedulerConfig
	now       Clock
	cron      *cron.Cron
	isRunning bool
	mu        sync.Mutex
}

// NewScheduler creates a new scheduler. Jobs are registered by Start.
func NewScheduler(store repository.Store, config SchedulerConfig, clock Clock) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.DailyResetSpec == "" {
		config.DailyResetSpec = defaults.DailyResetSpec
	}
	if config.JanitorSpec == "" {
		config.JanitorSpec = defaults.JanitorSpec
	}
	if config.OracleRequestTTL == 0 {
		config.OracleRequestTTL = defaults.OracleRequestTTL
	}
	if config.JobTimeout == 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	if clock == nil {
		clock = systemClock
	}

	return &Scheduler{
		store:  store,
		config: config,
		now:    clock,
		cron:   cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start registers the jobs and begins running them.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	if _, err := s.cron.AddFunc(s.config.DailyResetSpec, s.runJob("daily-reset", s.RunDailyReset)); err != nil {
		return fmt.Errorf("invalid daily reset schedule %q: %w", s.config.DailyResetSpec, err)
	}
	if _, err := s.cron.AddFunc(s.config.JanitorSpec, s.runJob("oracle-janitor", s.RunJanitor)); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", s.config.JanitorSpec, err)
	}

	s.cron.Start()
	s.isRunning = true

	log.Printf("[Scheduler] Started - Daily reset: %s, Janitor: %s, Oracle TTL: %v",
		s.config.DailyResetSpec, s.config.JanitorSpec, s.config.OracleRequestTTL)
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	<-s.cron.Stop().Done()
	s.isRunning = false
	log.Printf("[Scheduler] Stopped")
}

func (s *Scheduler) runJob(name string, job func(ctx context.Context) (int64, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
		defer cancel()

		n, err := job(ctx)
		if err != nil {
			log.Printf("[Scheduler] Job %s failed: %v", name, err)
			return
		}
		log.Printf("[Scheduler] Job %s affected %d records", name, n)
	}
}

// RunDailyReset zeroes the daily step count of every item.
func (s *Scheduler) RunDailyReset(ctx context.Context) (int64, error) {
	return s.store.ResetDailySteps(ctx)
}

// RunJanitor expires oracle requests pending longer than OracleRequestTTL.
// Expired ids stay recorded and can never be fulfilled.
func (s *Scheduler) RunJanitor(ctx context.Context) (int64, error) {
	var kinds []model.RequestKind
	for _, k := range model.RequestKinds {
		if k.IsOracle() {
			kinds = append(kinds, k)
		}
	}
	return s.store.ExpirePendingRequests(ctx, kinds, s.now().Add(-s.config.OracleRequestTTL))
}
