// Package recovery closes voice notes that stopped making progress.
//
// A vocal that sits in an in-flight status past the stale window after at
// least MinAttempts attempts is marked as a final processing failure: it moves
// to REVIEW_REQUIRED with type PROCESSING_ERROR and a review item is raised.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/otherjamesbrown/intake/pkg/intake"
	"github.com/otherjamesbrown/intake/pkg/logging"
	"github.com/otherjamesbrown/intake/pkg/observability"
	"github.com/otherjamesbrown/intake/pkg/pipeline"
)

// Config controls the sweep cadence and what counts as stale.
type Config struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	StaleAfter    time.Duration `yaml:"stale_after"`
	MinAttempts   int           `yaml:"min_attempts"`
	BatchSize     int           `yaml:"batch_size"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval: 5 * time.Minute,
		StaleAfter:    15 * time.Minute,
		MinAttempts:   3,
		BatchSize:     100,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("stale window must be positive")
	}
	if c.MinAttempts < 1 {
		return fmt.Errorf("min attempts must be at least 1")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	return nil
}

// Store lists stale vocals.
type Store interface {
	ListStaleVocals(ctx context.Context, staleBefore time.Time, minAttempts, limit int) ([]*intake.Vocal, error)
}

// Marker closes a vocal. *pipeline.Pipeline satisfies it.
type Marker interface {
	MarkProcessingFailure(ctx context.Context, orgID, vocalID, step, message string, isFinal bool) pipeline.Outcome
}

// Result summarises one sweep.
type Result struct {
	Scanned int
	Failed  int
	Skipped int
	Errors  int
}

// Sweeper periodically marks stale vocals as failed.
type Sweeper struct {
	store   Store
	marker  Marker
	cfg     Config
	now     func() time.Time
	metrics *observability.Metrics
	logger  logging.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithMetrics records sweep counts.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// WithLogger sets a custom logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// NewSweeper creates a sweeper.
func NewSweeper(store Store, marker Marker, cfg Config, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:  store,
		marker: marker,
		cfg:    cfg,
		now:    time.Now,
		logger: logging.MustGlobal(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.BatchSize <= 0 {
		s.cfg.BatchSize = DefaultConfig().BatchSize
	}
	s.logger = s.logger.With(logging.F("component", "recovery"))
	return s
}

// Run sweeps every SweepInterval until ctx is cancelled. Sweep errors are
// logged; only cancellation stops the loop.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("Recovery sweep started",
		logging.F("interval", s.cfg.SweepInterval),
		logging.F("stale_after", s.cfg.StaleAfter),
		logging.F("min_attempts", s.cfg.MinAttempts))

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Recovery sweep stopped")
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Recovery sweep failed", logging.Err(err))
			}
		}
	}
}

// RunOnce sweeps a single batch. An error listing candidates aborts the
// sweep; an error on one vocal is counted and the sweep moves on.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	staleBefore := s.now().Add(-s.cfg.StaleAfter)

	vocals, err := s.store.ListStaleVocals(ctx, staleBefore, s.cfg.MinAttempts, s.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list stale vocals: %w", err)
	}

	for _, v := range vocals {
		if ctx.Err() != nil {
			break
		}
		res.Scanned++

		step := pipeline.StepForStatus(v.Status)
		message := fmt.Sprintf("stale after %d attempts", v.ProcessingAttempts)
		out := s.marker.MarkProcessingFailure(ctx, v.OrgID, v.ID, step, message, true)

		switch out.Kind {
		case pipeline.OutcomeReviewRequired:
			res.Failed++
		case pipeline.OutcomeFailed:
			res.Errors++
			s.logger.Warn("Failed to close stale vocal",
				logging.F("org_id", v.OrgID), logging.F("vocal_id", v.ID), logging.Err(out.Err))
		default:
			res.Skipped++
		}
	}

	s.metrics.RecordSweep(res.Failed, res.Errors)
	if res.Scanned > 0 {
		s.logger.Info("Recovery sweep finished",
			logging.F("scanned", res.Scanned),
			logging.F("failed", res.Failed),
			logging.F("skipped", res.Skipped),
			logging.F("errors", res.Errors))
	}
	return res, nil
}
