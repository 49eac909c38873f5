package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syneagent/syne/internal/store"
)

// ScheduleTaskArgs is schedule_task's argument shape.
type ScheduleTaskArgs struct {
	Name          string `json:"name" jsonschema:"required,description=Short label for this scheduled task"`
	ScheduleType  string `json:"schedule_type" jsonschema:"required,enum=once,enum=interval,enum=cron,description=once: schedule_value is a RFC3339 timestamp; interval: schedule_value is seconds; cron: schedule_value is a 5-field cron expression"`
	ScheduleValue string `json:"schedule_value" jsonschema:"required"`
	Payload       string `json:"payload" jsonschema:"required,description=Message text delivered back into the conversation when the task fires"`
}

// ScheduleTaskTool dispatches a durable, time-triggered re-entry into the
// conversation loop. Grounded on store.ScheduledTask's CRUD surface; the
// model supplies schedule_type/schedule_value directly rather than
// through a cron-builder DSL, matching the store's own wire shape.
type ScheduleTaskTool struct {
	store store.Store
}

func NewScheduleTaskTool(s store.Store) *ScheduleTaskTool { return &ScheduleTaskTool{store: s} }

func (t *ScheduleTaskTool) Name() string        { return "schedule_task" }
func (t *ScheduleTaskTool) Description() string { return "Schedule a one-time, interval, or cron task that re-enters the conversation with a message when it fires" }
func (t *ScheduleTaskTool) RequiredAccessLevel() store.AccessLevel { return "" }

func (t *ScheduleTaskTool) Schema() map[string]any {
	schema, err := generateSchema[ScheduleTaskArgs]()
	if err != nil {
		return nil
	}
	return schema
}

func (t *ScheduleTaskTool) Execute(ctx context.Context, call Call) (*Result, error) {
	name, _ := call.Args["name"].(string)
	scheduleType, _ := call.Args["schedule_type"].(string)
	scheduleValue, _ := call.Args["schedule_value"].(string)
	payload, _ := call.Args["payload"].(string)
	if name == "" || scheduleType == "" || scheduleValue == "" || payload == "" {
		return ErrorResult("name, schedule_type, schedule_value, and payload are all required"), nil
	}

	var nextRun time.Time
	switch store.ScheduleType(scheduleType) {
	case store.ScheduleOnce:
		parsed, err := time.Parse(time.RFC3339, scheduleValue)
		if err != nil {
			return ErrorResult("schedule_value for a once task must be an RFC3339 timestamp"), nil
		}
		nextRun = parsed
	case store.ScheduleInterval:
		seconds, err := time.ParseDuration(scheduleValue + "s")
		if err != nil {
			return ErrorResult("schedule_value for an interval task must be a whole number of seconds"), nil
		}
		nextRun = time.Now().Add(seconds)
	case store.ScheduleCron:
		// Validated and resolved to a concrete next_run by the scheduler's
		// own cron_next on first tick; an immediate retry bounds the
		// window before the first real occurrence is computed.
		nextRun = time.Now().Add(pollRetryWindow)
	default:
		return ErrorResult("schedule_type must be one of: once, interval, cron"), nil
	}

	var userID uuid.UUID
	if call.UserID != "" {
		if parsed, err := uuid.Parse(call.UserID); err == nil {
			userID = parsed
		}
	}

	task, err := t.store.InsertTask(ctx, store.ScheduledTask{
		Name:          name,
		ScheduleType:  store.ScheduleType(scheduleType),
		ScheduleValue: scheduleValue,
		Payload:       payload,
		Enabled:       true,
		NextRun:       &nextRun,
		CreatedBy:     userID,
	})
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return NewResult(fmt.Sprintf("Scheduled task %q (%s) as %s, next run %s", task.Name, task.ID, task.ScheduleType, nextRun.Format(time.RFC3339))), nil
}

// pollRetryWindow keeps a newly-created cron task's placeholder next_run
// within one scheduler tick so it is picked up promptly and re-resolved to
// its real cron-derived occurrence on first execution.
const pollRetryWindow = 30 * time.Second

// ListScheduledTasksArgs is list_scheduled_tasks' argument shape.
type ListScheduledTasksArgs struct{}

// ListScheduledTasksTool lists tasks due now or in the near future, since
// store.Store exposes no unconditional list-all — only ListDueTasks.
// Reusing it with a generous horizon keeps this tool from needing its own
// store method.
type ListScheduledTasksTool struct {
	store store.Store
}

func NewListScheduledTasksTool(s store.Store) *ListScheduledTasksTool {
	return &ListScheduledTasksTool{store: s}
}

func (t *ListScheduledTasksTool) Name() string        { return "list_scheduled_tasks" }
func (t *ListScheduledTasksTool) Description() string { return "List scheduled tasks due within the next 30 days" }
func (t *ListScheduledTasksTool) RequiredAccessLevel() store.AccessLevel { return "" }

func (t *ListScheduledTasksTool) Schema() map[string]any {
	schema, err := generateSchema[ListScheduledTasksArgs]()
	if err != nil {
		return nil
	}
	return schema
}

func (t *ListScheduledTasksTool) Execute(ctx context.Context, call Call) (*Result, error) {
	horizon := time.Now().AddDate(0, 0, 30).Unix()
	tasks, err := t.store.ListDueTasks(ctx, horizon)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	if len(tasks) == 0 {
		return SilentResult("no scheduled tasks due within 30 days"), nil
	}
	var b strings.Builder
	for _, task := range tasks {
		fmt.Fprintf(&b, "%s: %s (%s, next run %s)\n", task.ID, task.Name, task.ScheduleType, task.NextRun.Format(time.RFC3339))
	}
	return SilentResult(strings.TrimRight(b.String(), "\n")), nil
}

// CancelScheduledTaskArgs is cancel_scheduled_task's argument shape.
type CancelScheduledTaskArgs struct {
	TaskID string `json:"task_id" jsonschema:"required,description=The scheduled task id returned by schedule_task or list_scheduled_tasks"`
}

// CancelScheduledTaskTool deletes a scheduled task outright; there is no
// soft-disable in store.Store's CRUD surface.
type CancelScheduledTaskTool struct {
	store store.Store
}

func NewCancelScheduledTaskTool(s store.Store) *CancelScheduledTaskTool {
	return &CancelScheduledTaskTool{store: s}
}

func (t *CancelScheduledTaskTool) Name() string        { return "cancel_scheduled_task" }
func (t *CancelScheduledTaskTool) Description() string { return "Cancel a scheduled task by id" }
func (t *CancelScheduledTaskTool) RequiredAccessLevel() store.AccessLevel { return "" }

func (t *CancelScheduledTaskTool) Schema() map[string]any {
	schema, err := generateSchema[CancelScheduledTaskArgs]()
	if err != nil {
		return nil
	}
	return schema
}

func (t *CancelScheduledTaskTool) Execute(ctx context.Context, call Call) (*Result, error) {
	raw, _ := call.Args["task_id"].(string)
	taskID, err := uuid.Parse(raw)
	if err != nil {
		return ErrorResult("task_id must be a valid scheduled task id"), nil
	}
	if err := t.store.DeleteTask(ctx, taskID); err != nil {
		return ErrorResult(err.Error()), nil
	}
	return SilentResult(fmt.Sprintf("cancelled scheduled task %s", taskID)), nil
}
