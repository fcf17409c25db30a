package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"example.com/eventbrite-sync/internal/logging"
	"example.com/eventbrite-sync/internal/reconcile"
)

// MockReconciler is a mock implementation of Reconciler
type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Sync(ctx context.Context) (reconcile.Result, error) {
	args := m.Called(ctx)
	return args.Get(0).(reconcile.Result), args.Error(1)
}

func newWorkflowEnv(t *testing.T, rec Reconciler) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflowWithOptions(SyncEventsWorkflow, workflow.RegisterOptions{Name: syncWorkflowName})
	activities := NewSyncActivities(rec, nil, logging.Discard())
	env.RegisterActivityWithOptions(activities.SyncEventsActivity, activity.RegisterOptions{Name: syncActivityName})
	return env
}

func TestSyncEventsWorkflow_Success(t *testing.T) {
	rec := new(MockReconciler)
	rec.On("Sync", mock.Anything).Return(reconcile.Result{Created: 1, Updated: 2, Expired: 3}, nil).Once()
	env := newWorkflowEnv(t, rec)

	env.ExecuteWorkflow(SyncEventsWorkflow, SyncInput{Reason: "test"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var outcome SyncOutcome
	require.NoError(t, env.GetWorkflowResult(&outcome))
	assert.True(t, outcome.Succeeded())
	assert.Equal(t, 1, outcome.Result.Created)
	assert.Equal(t, 3, outcome.Result.Expired)
	rec.AssertExpectations(t)
}

func TestSyncEventsWorkflow_FetchFailureKeepsCounts(t *testing.T) {
	rec := new(MockReconciler)
	rec.On("Sync", mock.Anything).
		Return(reconcile.Result{Expired: 4}, fmt.Errorf("%w: timeout", reconcile.ErrFetch)).Once()
	env := newWorkflowEnv(t, rec)

	env.ExecuteWorkflow(SyncEventsWorkflow, SyncInput{Reason: "test"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var outcome SyncOutcome
	require.NoError(t, env.GetWorkflowResult(&outcome))
	assert.False(t, outcome.Succeeded())
	assert.Contains(t, outcome.Error, "timeout")
	assert.Equal(t, 4, outcome.Result.Expired)
}

func TestSyncEventsWorkflow_BusyIsNotRetried(t *testing.T) {
	rec := new(MockReconciler)
	rec.On("Sync", mock.Anything).Return(reconcile.Result{}, reconcile.ErrSyncInProgress).Once()
	env := newWorkflowEnv(t, rec)

	env.ExecuteWorkflow(SyncEventsWorkflow, SyncInput{Reason: "test"})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "SyncInProgress", appErr.Type())
	rec.AssertNumberOfCalls(t, "Sync", 1)
}

func TestLocalOrchestrator_RunSync(t *testing.T) {
	rec := new(MockReconciler)
	rec.On("Sync", mock.Anything).Return(reconcile.Result{Created: 1}, nil).Once()
	rec.On("Sync", mock.Anything).Return(reconcile.Result{Expired: 2}, fmt.Errorf("%w: down", reconcile.ErrFetch)).Once()
	metrics := NewMetrics()
	orch := NewLocalOrchestrator(rec, metrics, logging.Discard())

	outcome, err := orch.RunSync(context.Background(), SyncInput{Reason: "test"})
	require.NoError(t, err)
	assert.Equal(t, "local", outcome.WorkflowID)
	assert.NotEmpty(t, outcome.RunID)
	assert.Equal(t, 1, outcome.Result.Created)

	outcome, err = orch.RunSync(context.Background(), SyncInput{Reason: "test"})
	assert.ErrorIs(t, err, reconcile.ErrFetch)
	assert.False(t, outcome.Succeeded())
	assert.Equal(t, 2, outcome.Result.Expired)

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	runs := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "eventsync_runs_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			runs[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"success": 1, "failed": 1}, runs)
}

func TestLocalOrchestrator_RunSyncAsync(t *testing.T) {
	rec := new(MockReconciler)
	release := make(chan struct{})
	var finished atomic.Bool
	rec.On("Sync", mock.Anything).Return(reconcile.Result{}, nil).Run(func(mock.Arguments) {
		<-release
		finished.Store(true)
	}).Once()
	orch := NewLocalOrchestrator(rec, nil, logging.Discard())

	id, err := orch.RunSyncAsync(context.Background(), SyncInput{Reason: "test"})

	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.False(t, finished.Load())

	waited := make(chan struct{})
	go func() {
		orch.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("Wait returned while a run was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait never returned")
	}
	assert.True(t, finished.Load())
	rec.AssertExpectations(t)
}

func TestScheduler(t *testing.T) {
	orch := new(MockOrchestrator)
	_, err := NewScheduler("not a schedule", orch, logging.Discard())
	assert.Error(t, err)

	orch.On("RunSyncAsync", mock.Anything, SyncInput{Reason: "schedule"}).Return("run-1", nil).Once()
	orch.On("RunSyncAsync", mock.Anything, SyncInput{Reason: "schedule"}).Return("", reconcile.ErrSyncInProgress).Once()
	s, err := NewScheduler("@every 1h", orch, logging.Discard())
	require.NoError(t, err)

	s.Dispatch()
	s.Dispatch()

	orch.AssertExpectations(t)
}

func singleRunStart() any {
	return mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
		return o.ID == syncWorkflowID && o.TaskQueue == syncTaskQueue && o.WorkflowExecutionErrorWhenAlreadyStarted
	})
}

func workflowRun(outcome SyncOutcome, err error) *mocks.WorkflowRun {
	run := new(mocks.WorkflowRun)
	run.On("GetID").Return(syncWorkflowID)
	run.On("GetRunID").Return("run-1")
	run.On("Get", mock.Anything, mock.Anything).Return(err).Run(func(args mock.Arguments) {
		*args.Get(1).(*SyncOutcome) = outcome
	})
	return run
}

func TestTemporalOrchestrator_RunSync(t *testing.T) {
	c := new(mocks.Client)
	run := workflowRun(SyncOutcome{Result: reconcile.Result{Created: 2}}, nil)
	c.On("ExecuteWorkflow", mock.Anything, singleRunStart(), syncWorkflowName, SyncInput{Reason: "test"}).
		Return(run, nil).Once()
	orch := NewTemporalOrchestrator(c, logging.Discard())

	outcome, err := orch.RunSync(context.Background(), SyncInput{Reason: "test"})

	require.NoError(t, err)
	assert.Equal(t, syncWorkflowID, outcome.WorkflowID)
	assert.Equal(t, "run-1", outcome.RunID)
	assert.Equal(t, 2, outcome.Result.Created)
	c.AssertExpectations(t)
}

func TestTemporalOrchestrator_AlreadyStartedIsBusy(t *testing.T) {
	c := new(mocks.Client)
	c.On("ExecuteWorkflow", mock.Anything, singleRunStart(), syncWorkflowName, mock.Anything).
		Return(nil, serviceerror.NewWorkflowExecutionAlreadyStarted("already running", "", "run-0"))
	orch := NewTemporalOrchestrator(c, logging.Discard())

	_, err := orch.RunSync(context.Background(), SyncInput{Reason: "test"})
	assert.ErrorIs(t, err, reconcile.ErrSyncInProgress)

	_, err = orch.RunSyncAsync(context.Background(), SyncInput{Reason: "schedule"})
	assert.ErrorIs(t, err, reconcile.ErrSyncInProgress)
}

func TestTemporalOrchestrator_ActivityBusyIsBusy(t *testing.T) {
	c := new(mocks.Client)
	busy := temporal.NewNonRetryableApplicationError("sync already in progress", "SyncInProgress", nil)
	run := workflowRun(SyncOutcome{}, fmt.Errorf("workflow execution error: %w", busy))
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, syncWorkflowName, mock.Anything).Return(run, nil)
	orch := NewTemporalOrchestrator(c, logging.Discard())

	_, err := orch.RunSync(context.Background(), SyncInput{Reason: "test"})

	assert.ErrorIs(t, err, reconcile.ErrSyncInProgress)
}

func TestTemporalOrchestrator_FailedOutcome(t *testing.T) {
	c := new(mocks.Client)
	run := workflowRun(SyncOutcome{Result: reconcile.Result{Expired: 1}, Error: "fetch remote events: refused"}, nil)
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, syncWorkflowName, mock.Anything).Return(run, nil)
	orch := NewTemporalOrchestrator(c, logging.Discard())

	outcome, err := orch.RunSync(context.Background(), SyncInput{Reason: "test"})

	assert.ErrorIs(t, err, ErrRunFailed)
	assert.Contains(t, err.Error(), "refused")
	assert.Equal(t, 1, outcome.Result.Expired)
}

func TestServer_ConcurrentTemporalRunConflicts(t *testing.T) {
	c := new(mocks.Client)
	c.On("ExecuteWorkflow", mock.Anything, singleRunStart(), syncWorkflowName, mock.Anything).
		Return(nil, serviceerror.NewWorkflowExecutionAlreadyStarted("already running", "", "run-0"))
	orch := NewTemporalOrchestrator(c, logging.Discard())
	srv := NewServer(newTestContentStore(t), orch, nil, testPostType, logging.Discard()).Router()

	rec, _ := do(t, srv, http.MethodPost, "/api-sync-events", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
}
