// Package scheduler implements the single background poll loop that
// re-enters the Conversation Manager for durable, time-triggered tasks.
// Grounded on the cron-lane dispatch idea in cmd/gateway_cron.go
// (makeCronJobHandler routes a due job back through the agent loop rather
// than running it inline) generalized to once/interval/cron scheduling,
// with the Trace/lane-concurrency machinery dropped since no lane
// abstraction exists outside that one cron handler. Cron next-run math
// uses github.com/adhocore/gronx (an unwired dependency in the retrieved
// pack, wired here as cron_next's implementation).
package scheduler

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/syneagent/syne/internal/store"
)

// pollInterval matches the fixed 30s tick.
const pollInterval = 30 * time.Second

// TaskExecuteFunc re-enters the Conversation Manager as if created_by had
// sent payload, returning the model's response text.
type TaskExecuteFunc func(ctx context.Context, taskID uuid.UUID, payload string, createdBy uuid.UUID) (string, error)

// DeliverFunc forwards a system-generated message (currently only the
// update-check result) to the user who owns it.
type DeliverFunc func(ctx context.Context, createdBy uuid.UUID, message string)

// VersionChecker backs the reserved update-check task. internal/upgrade's
// SchemaVersionChecker is the production implementation.
type VersionChecker interface {
	Check(ctx context.Context) (string, error)
}

// Scheduler owns the one poll loop per process. It never blocks the next
// tick on a slow callback — every due task runs in its own goroutine.
type Scheduler struct {
	store        store.Store
	onExecute    TaskExecuteFunc
	deliver      DeliverFunc
	versionCheck VersionChecker
}

func NewScheduler(s store.Store, onExecute TaskExecuteFunc, deliver DeliverFunc, versionCheck VersionChecker) *Scheduler {
	return &Scheduler{store: s, onExecute: onExecute, deliver: deliver, versionCheck: versionCheck}
}

// Run blocks, ticking every pollInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one poll iteration synchronously with respect to dispatch (every
// due task is launched before Tick returns, though each still runs in its
// own goroutine). Exported so callers needing an out-of-band poll — tests,
// or a manual "run due tasks now" admin hook — don't have to wait out
// pollInterval.
func (s *Scheduler) Tick(ctx context.Context) {
	due, err := s.store.ListDueTasks(ctx, time.Now().Unix())
	if err != nil {
		slog.Error("scheduler: list due tasks", "error", err)
		return
	}
	for _, task := range due {
		go s.runTask(ctx, task)
	}
}

// runTask executes one due task and, only on success, advances its
// schedule. On failure the row is left untouched so the next tick retries
// it — tasks are never auto-disabled.
func (s *Scheduler) runTask(ctx context.Context, task store.ScheduledTask) {
	var err error
	if task.Payload == store.ReservedUpdateCheckPayload {
		err = s.runUpdateCheck(ctx, task)
	} else if s.onExecute != nil {
		_, err = s.onExecute(ctx, task.ID, task.Payload, task.CreatedBy)
	}
	if err != nil {
		slog.Error("scheduler: task execution failed", "task_id", task.ID, "name", task.Name, "error", err)
		return
	}
	s.advance(ctx, task)
}

func (s *Scheduler) runUpdateCheck(ctx context.Context, task store.ScheduledTask) error {
	if s.versionCheck == nil {
		return nil
	}
	message, err := s.versionCheck.Check(ctx)
	if err != nil {
		return err
	}
	if s.deliver != nil {
		s.deliver(ctx, task.CreatedBy, message)
	}
	return nil
}

// advance applies the after-execution rule for each schedule type: delete
// once tasks, or recompute next_run for interval/cron tasks.
func (s *Scheduler) advance(ctx context.Context, task store.ScheduledTask) {
	switch task.ScheduleType {
	case store.ScheduleOnce:
		if err := s.store.DeleteTask(ctx, task.ID); err != nil {
			slog.Error("scheduler: delete completed once-task", "task_id", task.ID, "error", err)
		}
	case store.ScheduleInterval:
		seconds, err := strconv.ParseInt(task.ScheduleValue, 10, 64)
		if err != nil {
			slog.Error("scheduler: invalid interval schedule_value", "task_id", task.ID, "value", task.ScheduleValue, "error", err)
			return
		}
		now := time.Now()
		next := now.Add(time.Duration(seconds) * time.Second).Unix()
		if err := s.store.UpdateTaskAfterRun(ctx, task.ID, &next, now.Unix()); err != nil {
			slog.Error("scheduler: update interval task", "task_id", task.ID, "error", err)
		}
	case store.ScheduleCron:
		now := time.Now()
		nextTime, err := gronx.NextTickAfter(task.ScheduleValue, now, false)
		if err != nil {
			slog.Error("scheduler: invalid cron schedule_value", "task_id", task.ID, "value", task.ScheduleValue, "error", err)
			return
		}
		next := nextTime.Unix()
		if err := s.store.UpdateTaskAfterRun(ctx, task.ID, &next, now.Unix()); err != nil {
			slog.Error("scheduler: update cron task", "task_id", task.ID, "error", err)
		}
	}
}
