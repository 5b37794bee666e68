// Package scheduler runs ingestion batches on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/pipeline"
)

// DefaultSchedule runs the batch daily at 06:00.
const DefaultSchedule = "0 6 * * *"

// ErrRunInProgress is returned by RunNow while another run is still going.
var ErrRunInProgress = errors.New("a batch run is already in progress")

// Fetcher produces the raw payloads for one batch.
type Fetcher interface {
	Fetch(ctx context.Context) ([]*models.RawPayload, error)
}

// Committer is implemented by fetchers that keep offering payloads until told the batch
// holding them was written.
type Committer interface {
	Commit()
}

// BatchRunner ingests payloads and retries incomplete articles.
type BatchRunner interface {
	RunBatch(ctx context.Context, payloads []*models.RawPayload) (*pipeline.BatchReport, error)
	Reprocess(ctx context.Context, limit int) (*pipeline.ReprocessReport, error)
}

// Scheduler triggers fetch-and-ingest runs. Runs never overlap: a tick that fires while
// a run is in progress is skipped.
type Scheduler struct {
	fetcher Fetcher
	runner  BatchRunner
	cron    *cron.Cron
	timeout time.Duration
	// reprocess runs Reprocess after each batch when set.
	reprocess bool
	running   atomic.Bool
	logger    *zap.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTimeout bounds each run. Zero means two hours.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// WithReprocess retries pending articles after every batch.
func WithReprocess(enabled bool) Option {
	return func(s *Scheduler) { s.reprocess = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New returns a Scheduler that feeds runner from fetcher.
func New(fetcher Fetcher, runner BatchRunner, opts ...Option) *Scheduler {
	s := &Scheduler{
		fetcher: fetcher,
		runner:  runner,
		cron:    cron.New(),
		timeout: 2 * time.Hour,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.timeout <= 0 {
		s.timeout = 2 * time.Hour
	}
	return s
}

// Start schedules runs using a standard five-field cron expression. An empty schedule
// uses DefaultSchedule.
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.RunNow(ctx); err != nil {
			if errors.Is(err, ErrRunInProgress) {
				s.logger.Warn("Skipping scheduled batch, previous run still in progress")
				return
			}
			s.logger.Error("Scheduled batch failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Info("Batch scheduler started", zap.String("schedule", schedule))
	return nil
}

// Stop stops scheduling and waits for a running job to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Stopped scheduler without waiting for the running batch")
	}
	s.logger.Info("Batch scheduler stopped")
}

// Running reports whether a run is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// RunNow fetches and ingests one batch synchronously. It returns ErrRunInProgress when
// another run has not finished.
func (s *Scheduler) RunNow(ctx context.Context) (*pipeline.BatchReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	start := time.Now()
	payloads, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch payloads: %w", err)
	}
	if len(payloads) == 0 {
		s.logger.Info("No new payloads to ingest")
	}

	report, err := s.runner.RunBatch(ctx, payloads)
	if err != nil {
		return report, err
	}
	if c, ok := s.fetcher.(Committer); ok {
		if n := report.Unwritten(); n > 0 {
			s.logger.Warn("Keeping fetched payloads for the next run", zap.Int("unwritten", n))
		} else {
			c.Commit()
		}
	}

	if s.reprocess {
		rep, err := s.runner.Reprocess(ctx, 0)
		if err != nil {
			s.logger.Warn("Reprocess after batch failed", zap.Error(err))
		} else if rep.Attempted > 0 {
			s.logger.Info("Reprocessed pending articles",
				zap.Int("completed", rep.Completed),
				zap.Int("still_pending", rep.StillPending))
		}
	}
	s.logger.Info("Run finished",
		zap.String("run_id", report.RunID),
		zap.Int("stored", report.Stored),
		zap.Duration("duration", time.Since(start)))
	return report, nil
}
