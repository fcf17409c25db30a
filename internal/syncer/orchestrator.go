package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/eventbrite-sync/internal/reconcile"
)

// Orchestrator abstracts how sync runs are executed. Production uses a
// Temporal workflow runner; LocalOrchestrator runs in-process when Temporal is
// not configured.
type Orchestrator interface {
	RunSync(ctx context.Context, input SyncInput) (SyncOutcome, error)
	RunSyncAsync(ctx context.Context, input SyncInput) (string, error)
}

// asyncRunTimeout bounds background runs started without a caller deadline.
const asyncRunTimeout = 10 * time.Minute

// runOnce executes the reconciler and records metrics. The outcome is filled
// even when err is non-nil so callers can still report expiry counts.
func runOnce(ctx context.Context, rec Reconciler, metrics *Metrics, logger *slog.Logger, reason string) (SyncOutcome, error) {
	started := time.Now().UTC()
	res, err := rec.Sync(ctx)
	metrics.Observe(res, err)
	outcome := SyncOutcome{
		Result:      res,
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
	}
	if err != nil {
		outcome.Error = err.Error()
		if !errors.Is(err, reconcile.ErrSyncInProgress) {
			logger.Error("sync run failed", "reason", reason, "error", err)
		}
		return outcome, err
	}
	logger.Info("sync run completed", "reason", reason,
		"created", res.Created, "updated", res.Updated, "expired", res.Expired, "failed", res.Failed)
	return outcome, nil
}

// LocalOrchestrator runs syncs directly against the reconciler.
type LocalOrchestrator struct {
	reconciler Reconciler
	metrics    *Metrics
	logger     *slog.Logger
	inflight   sync.WaitGroup
}

func NewLocalOrchestrator(rec Reconciler, metrics *Metrics, logger *slog.Logger) *LocalOrchestrator {
	return &LocalOrchestrator{reconciler: rec, metrics: metrics, logger: logger.With("component", "sync.local")}
}

func (o *LocalOrchestrator) RunSync(ctx context.Context, input SyncInput) (SyncOutcome, error) {
	runID := uuid.NewString()
	outcome, err := runOnce(ctx, o.reconciler, o.metrics, o.logger.With("run_id", runID), input.Reason)
	outcome.WorkflowID = "local"
	outcome.RunID = runID
	return outcome, err
}

// RunSyncAsync starts a run in the background and returns its run id.
func (o *LocalOrchestrator) RunSyncAsync(_ context.Context, input SyncInput) (string, error) {
	runID := uuid.NewString()
	logger := o.logger.With("run_id", runID)
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), asyncRunTimeout)
		defer cancel()
		if _, err := runOnce(ctx, o.reconciler, o.metrics, logger, input.Reason); errors.Is(err, reconcile.ErrSyncInProgress) {
			logger.Warn("sync skipped, another run is active", "reason", input.Reason)
		}
	}()
	return runID, nil
}

// Wait blocks until every run started by RunSyncAsync has returned.
func (o *LocalOrchestrator) Wait() {
	o.inflight.Wait()
}
