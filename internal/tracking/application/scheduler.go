package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"livestock-cloud/internal/observability/metrics"
	telemetry "livestock-cloud/internal/telemetry/domain"
	tracking "livestock-cloud/internal/tracking/domain"
)

// DefaultPollInterval matches the refresh cadence of the tracking clients.
const DefaultPollInterval = 16 * time.Second

// LiveFeed is the last surfaced feed of a farm.
type LiveFeed struct {
	FarmID    string        `json:"farm_id"`
	Readings  []LiveReading `json:"readings"`
	Lost      []string      `json:"lost"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Scheduler drives reconciliation passes. A pass is started only after the
// previous one returned, so passes never overlap.
type Scheduler struct {
	engine      *Engine
	farms       FarmProvider
	interval    time.Duration
	passTimeout time.Duration
	logger      *log.Logger

	mu   sync.RWMutex
	live map[string]LiveFeed
}

// SchedulerOption customizes the scheduler.
type SchedulerOption func(*Scheduler)

// WithPassTimeout bounds a single tick.
func WithPassTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.passTimeout = d
		}
	}
}

// NewScheduler constructs a Scheduler.
func NewScheduler(engine *Engine, farms FarmProvider, interval time.Duration, logger *log.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if engine == nil {
		return nil, errors.New("tracking scheduler: nil engine")
	}
	if farms == nil {
		return nil, errors.New("tracking scheduler: nil farm provider")
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Scheduler{
		engine:   engine,
		farms:    farms,
		interval: interval,
		logger:   logger,
		live:     make(map[string]LiveFeed),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start runs a pass immediately and then every interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Printf("tracking tick error: %v", err)
			}
			timer.Reset(s.interval)
		}
	}
}

// Tick runs one reconciliation pass for every farm. The feed is fetched once
// and shared; a fetch failure leaves every cached live feed untouched.
func (s *Scheduler) Tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ObservePass(metrics.ResultError, 0)
			err = fmt.Errorf("tracking scheduler: recovered panic: %v", r)
		}
	}()

	if s.passTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.passTimeout)
		defer cancel()
	}

	farms, err := s.farms.ListFarms(ctx)
	if err != nil {
		return err
	}
	if len(farms) == 0 {
		return nil
	}
	feeds, err := s.engine.Fetch(ctx)
	if err != nil {
		metrics.ObservePass(metrics.ResultError, 0)
		return err
	}
	for _, farm := range farms {
		pass, ok := s.reconcileFarm(ctx, farm, feeds)
		if !ok {
			continue
		}
		s.store(pass)
	}
	return nil
}

// LiveFeed returns the last surfaced feed of farmID.
func (s *Scheduler) LiveFeed(farmID string) (LiveFeed, bool) {
	if s == nil {
		return LiveFeed{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	feed, ok := s.live[farmID]
	return feed, ok
}

func (s *Scheduler) reconcileFarm(ctx context.Context, farm tracking.Farm, feeds []telemetry.RawFeed) (pass Pass, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ObservePass(metrics.ResultError, 0)
			s.logger.Printf("tracking pass panic: farm=%s err=%v", farm.ID, r)
			ok = false
		}
	}()
	return s.engine.Reconcile(ctx, farm, feeds), true
}

func (s *Scheduler) store(pass Pass) {
	feed := LiveFeed{
		FarmID:    pass.FarmID,
		Readings:  pass.Live,
		Lost:      pass.Lost,
		UpdatedAt: pass.At,
	}
	s.mu.Lock()
	s.live[pass.FarmID] = feed
	s.mu.Unlock()
}
