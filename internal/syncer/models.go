package syncer

import (
	"context"
	"errors"
	"time"

	"example.com/eventbrite-sync/internal/reconcile"
)

// ErrRunFailed reports a run that completed but whose remote fetch failed.
var ErrRunFailed = errors.New("sync run failed")

// Reconciler is the single operation every trigger ends up calling.
type Reconciler interface {
	Sync(ctx context.Context) (reconcile.Result, error)
}

// SyncInput carries parameters into a sync run.
type SyncInput struct {
	Reason string `json:"reason"`
}

// SyncOutcome captures a finished run and where it executed.
type SyncOutcome struct {
	WorkflowID  string           `json:"workflow_id"`
	RunID       string           `json:"run_id"`
	Result      reconcile.Result `json:"result"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Succeeded reports whether the run mirrored remote state.
func (o SyncOutcome) Succeeded() bool {
	return o.Error == ""
}
