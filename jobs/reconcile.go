package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/logistics-ledger/internal/jobs"
	"github.com/odyssey-erp/logistics-ledger/internal/ledger"
	"github.com/odyssey-erp/logistics-ledger/internal/shared"
)

const defaultSweepParallelism = 4

// Reconciler is the slice of the ledger engine the reconcile jobs need.
type Reconciler interface {
	Reconcile(ctx context.Context, ledgerID int64) (ledger.ReconcileResult, error)
	ListLedgerIDs(ctx context.Context) ([]int64, error)
}

// SweepSummary reports the outcome of a reconcile sweep.
type SweepSummary struct {
	Checked      int
	Drifted      int
	Inconsistent int
	Skipped      int
}

// ReconcileJob repairs stored ledger amounts that disagree with their
// transactions.
type ReconcileJob struct {
	Engine      Reconciler
	Locker      ledger.Locker
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Parallelism int
	// LockWait bounds how long a sweep waits for another sweep to finish.
	LockWait time.Duration
}

// NewReconcileJob initialises the reconcile handlers.
func NewReconcileJob(engine Reconciler, locker ledger.Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{
		Engine:      engine,
		Locker:      locker,
		Logger:      logger,
		Metrics:     metrics,
		Parallelism: defaultSweepParallelism,
		LockWait:    time.Second,
	}
}

// HandleOne processes TaskLedgerReconcile.
func (j *ReconcileJob) HandleOne(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Engine == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.LedgerID <= 0 {
		return fmt.Errorf("reconcile: bad payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskLedgerReconcile)
	defer func() { err = tracker.End(err) }()

	result, err := j.Engine.Reconcile(ctx, payload.LedgerID)
	switch {
	case errors.Is(err, ledger.ErrLedgerNotFound):
		j.logger().Info("reconcile skipped, ledger gone", slog.Int64("ledger_id", payload.LedgerID))
		return nil
	case errors.Is(err, ledger.ErrInconsistentLedger):
		j.logger().Error("ledger cannot be reconciled", slog.Int64("ledger_id", payload.LedgerID), slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	case err != nil:
		return err
	}
	if result.Drifted {
		j.Metrics.AddDrift(TaskLedgerReconcile, 1)
	}
	return nil
}

// HandleAll processes TaskLedgerReconcileAll.
func (j *ReconcileJob) HandleAll(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Engine == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcileAllPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("reconcile: bad payload: %w", asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskLedgerReconcileAll)
	defer func() { err = tracker.End(err) }()

	summary, err := j.Sweep(ctx, payload.Parallelism)
	if err != nil {
		return err
	}
	j.Metrics.AddDrift(TaskLedgerReconcileAll, summary.Drifted)
	return nil
}

// Sweep reconciles every ledger with at most parallelism in flight. Only one
// sweep runs at a time; a second caller gives up after LockWait.
func (j *ReconcileJob) Sweep(ctx context.Context, parallelism int) (SweepSummary, error) {
	var summary SweepSummary
	if parallelism <= 0 {
		parallelism = j.Parallelism
	}
	if parallelism <= 0 {
		parallelism = defaultSweepParallelism
	}
	logger := j.logger().With(slog.String("job", TaskLedgerReconcileAll))

	if j.Locker != nil {
		waitCtx, cancel := context.WithTimeout(ctx, j.lockWait())
		release, err := j.Locker.Lock(waitCtx, shared.ReconcileSweepLockKey())
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			logger.Info("sweep already running, skipping")
			return summary, nil
		}
		defer release()
	}

	start := time.Now()
	ids, err := j.Engine.ListLedgerIDs(ctx)
	if err != nil {
		logger.Error("list ledgers", slog.Any("error", err))
		return summary, err
	}
	logger.Info("starting reconcile sweep", slog.Int("ledgers", len(ids)), slog.Int("parallelism", parallelism))

	var checked, drifted, inconsistent, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			result, err := j.Engine.Reconcile(gctx, id)
			switch {
			case errors.Is(err, ledger.ErrLedgerNotFound):
				skipped.Add(1)
				return nil
			case errors.Is(err, ledger.ErrInconsistentLedger):
				inconsistent.Add(1)
				logger.Error("ledger cannot be reconciled", slog.Int64("ledger_id", id), slog.Any("error", err))
				return nil
			case err != nil:
				return fmt.Errorf("reconcile ledger %d: %w", id, err)
			}
			checked.Add(1)
			if result.Drifted {
				drifted.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	summary = SweepSummary{
		Checked:      int(checked.Load()),
		Drifted:      int(drifted.Load()),
		Inconsistent: int(inconsistent.Load()),
		Skipped:      int(skipped.Load()),
	}
	if err != nil {
		logger.Error("reconcile sweep aborted", slog.Any("error", err))
		return summary, err
	}
	logger.Info("completed reconcile sweep",
		slog.Int("checked", summary.Checked),
		slog.Int("drifted", summary.Drifted),
		slog.Int("inconsistent", summary.Inconsistent),
		slog.Int("skipped", summary.Skipped),
		slog.Duration("duration", time.Since(start)),
	)
	return summary, nil
}

func (j *ReconcileJob) lockWait() time.Duration {
	if j.LockWait > 0 {
		return j.LockWait
	}
	return time.Second
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
