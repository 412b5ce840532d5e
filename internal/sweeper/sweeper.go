// Package sweeper periodically deletes artifacts older than the retention window from the bucket
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	"github.com/UnendingLoop/ImageAugmentor/internal/mwlogger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "augmentor_sweep_runs_total",
		Help: "Number of sweep passes.",
	})
	sweepDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "augmentor_sweep_deleted_total",
		Help: "Artifacts deleted by the sweeper.",
	})
	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "augmentor_sweep_errors_total",
		Help: "Listing and deletion failures during sweeps.",
	})
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "augmentor_sweep_duration_seconds",
		Help:    "Duration of one sweep pass.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// Storage - операции хранилища, нужные для очистки
type Storage interface {
	List(ctx context.Context) ([]model.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// Result - итог одного прохода
type Result struct {
	Listed   int
	Deleted  int
	Errors   int
	Duration time.Duration
}

type Sweeper struct {
	storage   Storage
	interval  time.Duration
	retention time.Duration
	now       func() time.Time

	mu sync.Mutex // проходы не пересекаются
}

func New(strg Storage, interval, retention time.Duration) *Sweeper {
	return &Sweeper{
		storage:   strg,
		interval:  interval,
		retention: retention,
		now:       time.Now,
	}
}

// Start runs one pass right away and then one per interval until ctx is done. Blocks.
func (s *Sweeper) Start(ctx context.Context) {
	logger := mwlogger.LoggerFromContext(ctx)
	logger.Info().
		Dur("interval", s.interval).
		Dur("retention", s.retention).
		Msg("Sweeper started")

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce deletes every object last modified strictly before now-retention.
// A failed deletion is logged and the pass goes on.
func (s *Sweeper) RunOnce(ctx context.Context) (res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := mwlogger.LoggerFromContext(ctx)
	start := time.Now()

	defer func() {
		res.Duration = time.Since(start)
		sweepRunsTotal.Inc()
		sweepDeletedTotal.Add(float64(res.Deleted))
		sweepErrorsTotal.Add(float64(res.Errors))
		sweepDuration.Observe(res.Duration.Seconds())
	}()

	objects, err := s.storage.List(ctx)
	if err != nil {
		res.Errors++
		logger.Error().Err(err).Msg("Sweep: failed to list bucket")
		return res
	}
	res.Listed = len(objects)

	cutoff := s.now().Add(-s.retention)
	for _, obj := range objects {
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		if err := s.storage.Delete(ctx, obj.Key); err != nil {
			res.Errors++
			logger.Error().Err(err).Str("key", obj.Key).Msg("Sweep: failed to delete artifact")
			continue
		}
		res.Deleted++
	}

	logger.Info().
		Int("listed", res.Listed).
		Int("deleted", res.Deleted).
		Int("errors", res.Errors).
		Dur("duration", time.Since(start)).
		Msg("Sweep finished")
	return res
}
