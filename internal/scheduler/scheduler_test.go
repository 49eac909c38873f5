package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/syneagent/syne/internal/scheduler"
	"github.com/syneagent/syne/internal/store"
	"github.com/syneagent/syne/internal/store/memstore"
)

type fakeVersionChecker struct{ message string }

func (f fakeVersionChecker) Check(ctx context.Context) (string, error) { return f.message, nil }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestOnceTaskDeletedAfterSuccessfulExecution(t *testing.T) {
	s := memstore.New()
	createdBy := uuid.New()
	next := time.Now().Add(-time.Second)
	task, err := s.InsertTask(context.Background(), store.ScheduledTask{
		Name:          "one-shot reminder",
		ScheduleType:  store.ScheduleOnce,
		ScheduleValue: next.Format(time.RFC3339),
		Payload:       "remind me to drink water",
		Enabled:       true,
		NextRun:       &next,
		CreatedBy:     createdBy,
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var executedPayload string
	var executedCreatedBy uuid.UUID
	onExecute := func(ctx context.Context, taskID uuid.UUID, payload string, cb uuid.UUID) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		executedPayload = payload
		executedCreatedBy = cb
		return "done", nil
	}

	sched := scheduler.NewScheduler(s, onExecute, nil, nil)
	sched.Tick(context.Background())

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return executedPayload != ""
	})

	mu.Lock()
	require.Equal(t, "remind me to drink water", executedPayload)
	require.Equal(t, createdBy, executedCreatedBy)
	mu.Unlock()

	waitFor(t, time.Second, func() bool {
		remaining, err := s.ListDueTasks(context.Background(), time.Now().Add(time.Hour).Unix())
		require.NoError(t, err)
		return len(remaining) == 0
	})
	_ = task.ID
}

func TestIntervalTaskAdvancesNextRunOnSuccess(t *testing.T) {
	s := memstore.New()
	next := time.Now().Add(-time.Second)
	task, err := s.InsertTask(context.Background(), store.ScheduledTask{
		Name:          "heartbeat",
		ScheduleType:  store.ScheduleInterval,
		ScheduleValue: "3600",
		Payload:       "status check",
		Enabled:       true,
		NextRun:       &next,
	})
	require.NoError(t, err)

	onExecute := func(ctx context.Context, taskID uuid.UUID, payload string, cb uuid.UUID) (string, error) {
		return "ok", nil
	}
	sched := scheduler.NewScheduler(s, onExecute, nil, nil)
	sched.Tick(context.Background())

	waitFor(t, time.Second, func() bool {
		due, err := s.ListDueTasks(context.Background(), time.Now().Unix())
		require.NoError(t, err)
		return len(due) == 0
	})

	future, err := s.ListDueTasks(context.Background(), time.Now().Add(2*time.Hour).Unix())
	require.NoError(t, err)
	require.Len(t, future, 1)
	require.True(t, future[0].NextRun.After(time.Now().Add(time.Hour-time.Minute)))
	_ = task.ID
}

func TestFailedExecutionLeavesTaskDueForRetry(t *testing.T) {
	s := memstore.New()
	next := time.Now().Add(-time.Second)
	_, err := s.InsertTask(context.Background(), store.ScheduledTask{
		Name:          "flaky",
		ScheduleType:  store.ScheduleOnce,
		ScheduleValue: next.Format(time.RFC3339),
		Payload:       "will fail",
		Enabled:       true,
		NextRun:       &next,
	})
	require.NoError(t, err)

	var calls int
	var mu sync.Mutex
	onExecute := func(ctx context.Context, taskID uuid.UUID, payload string, cb uuid.UUID) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return "", assertErr
	}
	sched := scheduler.NewScheduler(s, onExecute, nil, nil)
	sched.Tick(context.Background())

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	})

	// Task must still be due — a failed run is never deleted or disabled.
	due, err := s.ListDueTasks(context.Background(), time.Now().Unix())
	require.NoError(t, err)
	require.Len(t, due, 1)
}

func TestUpdateCheckPayloadDeliversWithoutReenteringCallback(t *testing.T) {
	s := memstore.New()
	createdBy := uuid.New()
	next := time.Now().Add(-time.Second)
	_, err := s.InsertTask(context.Background(), store.ScheduledTask{
		Name:          "update check",
		ScheduleType:  store.ScheduleInterval,
		ScheduleValue: "86400",
		Payload:       store.ReservedUpdateCheckPayload,
		Enabled:       true,
		NextRun:       &next,
		CreatedBy:     createdBy,
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var delivered string
	var onExecuteCalled bool

	onExecute := func(ctx context.Context, taskID uuid.UUID, payload string, cb uuid.UUID) (string, error) {
		mu.Lock()
		onExecuteCalled = true
		mu.Unlock()
		return "", nil
	}
	deliver := func(ctx context.Context, cb uuid.UUID, message string) {
		mu.Lock()
		defer mu.Unlock()
		delivered = message
		require.Equal(t, createdBy, cb)
	}

	sched := scheduler.NewScheduler(s, onExecute, deliver, fakeVersionChecker{message: "schema up to date"})
	sched.Tick(context.Background())

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered != ""
	})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "schema up to date", delivered)
	require.False(t, onExecuteCalled, "reserved update-check payload must not re-enter the generic callback")
}

var assertErr = errString("synthetic failure")

type errString string

func (e errString) Error() string { return string(e) }
