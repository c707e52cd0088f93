package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReconcile recomputes one ledger's derived amounts.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskLedgerReconcileAll sweeps every ledger.
	TaskLedgerReconcileAll = "ledger:reconcile_all"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// ReconcilePayload names the ledger to reconcile.
type ReconcilePayload struct {
	LedgerID int64 `json:"ledger_id"`
}

// ReconcileAllPayload tunes a sweep. Zero values fall back to job defaults.
type ReconcileAllPayload struct {
	Parallelism int `json:"parallelism,omitempty"`
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewReconcileTask constructs a single-ledger reconcile task.
func NewReconcileTask(ledgerID int64) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcilePayload{LedgerID: ledgerID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// NewReconcileAllTask constructs a sweep task.
func NewReconcileAllTask(parallelism int) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcileAllPayload{Parallelism: parallelism})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcileAll, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
