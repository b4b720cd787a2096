package credit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// MaintenanceChannel is the Redis channel that triggers an immediate
// maintenance pass.
const MaintenanceChannel = "credits:maintenance"

type maintainer interface {
	CleanupExpiredTransactions(ctx context.Context, retention time.Duration) (int64, error)
	ScanBalanceDrift(ctx context.Context, limit int, fix bool) ([]BalanceDrift, error)
}

// WorkerConfig configures the maintenance loop.
type WorkerConfig struct {
	Interval       time.Duration
	Retention      time.Duration
	DriftScanLimit int
}

// MaintenanceReport summarizes one pass.
type MaintenanceReport struct {
	Deleted      int64 `json:"deleted"`
	Drifted      int   `json:"drifted"`
	CleanupErr   error `json:"-"`
	DriftScanErr error `json:"-"`
}

// Worker runs ledger maintenance in the background: cleanup of stale
// non-ledger rows and repair of drifted balances.
type Worker struct {
	svc      maintainer
	cfg      WorkerConfig
	wake     chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new maintenance worker
func NewWorker(svc maintainer, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 90 * 24 * time.Hour
	}
	if cfg.DriftScanLimit <= 0 {
		cfg.DriftScanLimit = 100
	}
	return &Worker{
		svc:    svc,
		cfg:    cfg,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start begins the background worker
func (w *Worker) Start() {
	log.Info().Dur("interval", w.cfg.Interval).Msg("Starting ledger maintenance worker...")
	go w.loop()
}

// Stop gracefully stops the background worker and waits for the current
// pass to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		log.Info().Msg("Stopping ledger maintenance worker...")
		close(w.stopCh)
	})
	<-w.done
}

// Wake requests an immediate pass; it never blocks.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	// Run once immediately on startup
	w.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
		case <-w.wake:
		case <-w.stopCh:
			return
		}
		w.RunOnce(context.Background())
	}
}

// RunOnce performs a single maintenance pass.
func (w *Worker) RunOnce(parent context.Context) MaintenanceReport {
	ctx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()

	var report MaintenanceReport

	log.Debug().Msg("Starting ledger maintenance...")

	deleted, err := w.svc.CleanupExpiredTransactions(ctx, w.cfg.Retention)
	if err != nil {
		report.CleanupErr = err
		log.Error().Err(err).Msg("Failed to clean up expired transactions")
	} else if deleted > 0 {
		report.Deleted = deleted
		log.Info().Int64("count", deleted).Msg("Cleaned up expired transactions")
	}

	drift, err := w.svc.ScanBalanceDrift(ctx, w.cfg.DriftScanLimit, true)
	if err != nil {
		report.DriftScanErr = err
		log.Error().Err(err).Msg("Failed to repair balance drift")
	}
	report.Drifted = len(drift)
	if len(drift) > 0 {
		log.Warn().Int("count", len(drift)).Msg("Repaired drifted balances")
	}

	log.Debug().Msg("Finished ledger maintenance")
	return report
}

// SubscribeWakeups wakes w whenever a message arrives on MaintenanceChannel.
// The ticker stays the main trigger; a nil client is a no-op.
func SubscribeWakeups(ctx context.Context, rdb *redis.Client, w *Worker) {
	if rdb == nil {
		return
	}
	sub := rdb.Subscribe(ctx, MaintenanceChannel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			w.Wake()
		}
	}
}
