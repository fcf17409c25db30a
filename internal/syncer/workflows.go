package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	temporalworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"example.com/eventbrite-sync/internal/reconcile"
)

const (
	syncTaskQueue    = "eventsync-task-queue"
	syncWorkflowName = "eventsync.sync"
	syncActivityName = "eventsync.sync.events"
	// A fixed id keeps at most one run alive across every process.
	syncWorkflowID = "eventsync-sync-events"
)

// SyncActivities hosts the activity implementation around the reconciler.
type SyncActivities struct {
	reconciler Reconciler
	metrics    *Metrics
	logger     *slog.Logger
}

func NewSyncActivities(rec Reconciler, metrics *Metrics, logger *slog.Logger) *SyncActivities {
	return &SyncActivities{reconciler: rec, metrics: metrics, logger: logger}
}

// SyncEventsActivity runs one reconciliation. A failed fetch is returned in the
// outcome rather than as an activity error so the counts reach the caller.
func (a *SyncActivities) SyncEventsActivity(ctx context.Context, input SyncInput) (SyncOutcome, error) {
	info := activity.GetInfo(ctx)
	logger := a.logger.With("workflow_id", info.WorkflowExecution.ID, "run_id", info.WorkflowExecution.RunID)
	outcome, err := runOnce(ctx, a.reconciler, a.metrics, logger, input.Reason)
	if errors.Is(err, reconcile.ErrSyncInProgress) {
		return outcome, temporal.NewNonRetryableApplicationError(err.Error(), "SyncInProgress", err)
	}
	return outcome, nil
}

// SyncEventsWorkflow wraps the activity. No retries: the scheduler decides when
// to try again.
func SyncEventsWorkflow(ctx workflow.Context, input SyncInput) (SyncOutcome, error) {
	logger := workflow.GetLogger(ctx)
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	logger.Info("sync workflow started", "reason", input.Reason)
	var outcome SyncOutcome
	if err := workflow.ExecuteActivity(ctx, syncActivityName, input).Get(ctx, &outcome); err != nil {
		logger.Error("sync activity failed", "error", err)
		return outcome, err
	}
	logger.Info("sync workflow finished", "reason", input.Reason, "created", outcome.Result.Created,
		"updated", outcome.Result.Updated, "expired", outcome.Result.Expired, "error", outcome.Error)
	return outcome, nil
}

// RegisterSyncWorker wires up the Temporal worker consuming the sync task queue.
func RegisterSyncWorker(c client.Client, rec Reconciler, metrics *Metrics, logger *slog.Logger) temporalworker.Worker {
	w := temporalworker.New(c, syncTaskQueue, temporalworker.Options{})
	w.RegisterWorkflowWithOptions(SyncEventsWorkflow, workflow.RegisterOptions{Name: syncWorkflowName})
	activities := NewSyncActivities(rec, metrics, logger.With("component", "sync.activities"))
	w.RegisterActivityWithOptions(activities.SyncEventsActivity, activity.RegisterOptions{Name: syncActivityName})
	return w
}

// TemporalOrchestrator starts workflows through the Temporal client so every sync flows through the same pipeline.
type TemporalOrchestrator struct {
	client client.Client
	logger *slog.Logger
}

func NewTemporalOrchestrator(c client.Client, logger *slog.Logger) *TemporalOrchestrator {
	return &TemporalOrchestrator{client: c, logger: logger.With("component", "sync.orchestrator")}
}

func startOptions() client.StartWorkflowOptions {
	return client.StartWorkflowOptions{
		ID:                                       syncWorkflowID,
		TaskQueue:                                syncTaskQueue,
		WorkflowIDReusePolicy:                    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
		WorkflowExecutionTimeout:                 30 * time.Minute,
	}
}

func (o *TemporalOrchestrator) start(ctx context.Context, input SyncInput) (client.WorkflowRun, error) {
	we, err := o.client.ExecuteWorkflow(ctx, startOptions(), syncWorkflowName, input)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return nil, reconcile.ErrSyncInProgress
		}
		o.logger.Error("start workflow failed", "reason", input.Reason, "error", err)
		return nil, err
	}
	return we, nil
}

func (o *TemporalOrchestrator) RunSync(ctx context.Context, input SyncInput) (SyncOutcome, error) {
	we, err := o.start(ctx, input)
	if err != nil {
		return SyncOutcome{}, err
	}
	var outcome SyncOutcome
	err = we.Get(ctx, &outcome)
	outcome.WorkflowID = we.GetID()
	outcome.RunID = we.GetRunID()
	if err != nil {
		var appErr *temporal.ApplicationError
		if errors.As(err, &appErr) && appErr.Type() == "SyncInProgress" {
			return outcome, reconcile.ErrSyncInProgress
		}
		o.logger.Error("wait workflow failed", "workflow_id", we.GetID(), "error", err)
		return outcome, err
	}
	if !outcome.Succeeded() {
		return outcome, fmt.Errorf("%w: %s", ErrRunFailed, outcome.Error)
	}
	o.logger.Info("workflow completed", "workflow_id", outcome.WorkflowID, "run_id", outcome.RunID, "reason", input.Reason)
	return outcome, nil
}

func (o *TemporalOrchestrator) RunSyncAsync(ctx context.Context, input SyncInput) (string, error) {
	we, err := o.start(ctx, input)
	if err != nil {
		return "", err
	}
	o.logger.Info("workflow dispatched", "workflow_id", we.GetID(), "run_id", we.GetRunID(), "reason", input.Reason)
	return we.GetRunID(), nil
}

// SyncTaskQueue exposes the queue name so callers can reference it in metrics/tests.
func SyncTaskQueue() string {
	return syncTaskQueue
}
