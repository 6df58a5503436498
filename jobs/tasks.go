package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInventoryIntegrityScan runs the integrity checker and optional repair.
	TaskInventoryIntegrityScan = "inventory:integrity_scan"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// IntegrityScanPayload configures one integrity scan run.
type IntegrityScanPayload struct {
	AutoRepair bool `json:"auto_repair"`
}

// NewIntegrityScanTask constructs an Asynq task for the integrity scan.
func NewIntegrityScanTask(payload IntegrityScanPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryIntegrityScan, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs an Asynq task pruning old idempotency keys.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
