package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MEKXH/opsdesk/internal/vendor"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

type CreateTaskInput struct {
	Title       string `json:"title" jsonschema:"required,description=Short task title"`
	Description string `json:"description,omitempty" jsonschema:"description=Task details"`
	Assignee    string `json:"assignee,omitempty" jsonschema:"description=Person responsible for the task"`
	Due         string `json:"due,omitempty" jsonschema:"description=Due date as RFC3339 timestamp or YYYY-MM-DD"`
}

type ListTasksInput struct {
	Assignee string `json:"assignee,omitempty" jsonschema:"description=Only tasks assigned to this person"`
	Status   string `json:"status,omitempty" jsonschema:"description=Only tasks in this status, e.g. open or done"`
	Limit    int    `json:"limit,omitempty" jsonschema:"description=Maximum number of tasks to return (default 20)"`
}

type taskToolImpl struct {
	tracker vendor.TaskTracker
}

func (t *taskToolImpl) create(ctx context.Context, input *CreateTaskInput) (string, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return "", fmt.Errorf("title is required")
	}
	task := vendor.Task{
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Assignee:    strings.TrimSpace(input.Assignee),
	}
	if raw := strings.TrimSpace(input.Due); raw != "" {
		due, err := parseDate(raw)
		if err != nil {
			return "", fmt.Errorf("invalid due: %w", err)
		}
		task.Due = due
	}

	created, err := t.tracker.CreateTask(ctx, task)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Task created: id=%s title=%q status=%s", created.ID, created.Title, created.Status), nil
}

func (t *taskToolImpl) list(ctx context.Context, input *ListTasksInput) (string, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	tasks, err := t.tracker.ListTasks(ctx, vendor.TaskQuery{
		Assignee: strings.TrimSpace(input.Assignee),
		Status:   strings.TrimSpace(input.Status),
		Limit:    limit,
	})
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return "No tasks found.", nil
	}

	var sb strings.Builder
	for _, task := range tasks {
		fmt.Fprintf(&sb, "- [%s] %s (id=%s", task.Status, task.Title, task.ID)
		if task.Assignee != "" {
			fmt.Fprintf(&sb, ", assignee=%s", task.Assignee)
		}
		if !task.Due.IsZero() {
			fmt.Fprintf(&sb, ", due=%s", task.Due.Format("2006-01-02"))
		}
		sb.WriteString(")\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// NewCreateTaskTool creates a tool that adds a task to the tracker.
func NewCreateTaskTool(tracker vendor.TaskTracker) (tool.InvokableTool, error) {
	impl := &taskToolImpl{tracker: tracker}
	return utils.InferTool("create_task", "Create a task in the task tracker.", impl.create)
}

// NewListTasksTool creates a read-only task listing tool.
func NewListTasksTool(tracker vendor.TaskTracker) (tool.InvokableTool, error) {
	impl := &taskToolImpl{tracker: tracker}
	return utils.InferTool("list_tasks", "List tasks from the task tracker, newest first.", impl.list)
}

func parseDate(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", raw)
}
