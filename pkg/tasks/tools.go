package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/selcan/mira/pkg/toolexec"
)

// confirmGate applies the confirmation gate when the execution bundle
// carries one. Task tools are not gated by default but honor the
// permissions file when the user gates them.
func confirmGate(ctx context.Context, tool string, args map[string]interface{}) error {
	if ec := toolexec.ExecContextFrom(ctx); ec != nil && ec.Confirm != nil {
		return ec.Confirm.Check(tool, args)
	}
	return nil
}

// RegisterTools registers the task tools with the executor. All three
// answer in prose so dispatched calls read as replies.
func (m *Manager) RegisterTools(executor *toolexec.Executor) error {
	tools := []toolexec.ToolSpec{
		{
			Name:        "task_add",
			Description: "Add a task to the to-do list with an optional due date and priority",
			Required:    []string{"text"},
			Parameters: map[string]toolexec.ParamSpec{
				"text":     {Type: "string", Description: "What the task is"},
				"due":      {Type: "string", Description: "Due date in YYYY-MM-DD form"},
				"priority": {Type: "string", Description: "Task priority", Enum: []string{"low", "medium", "high"}},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				if err := confirmGate(ctx, "task_add", args); err != nil {
					return nil, err
				}

				text, _ := args["text"].(string)
				due, _ := args["due"].(string)
				priority, _ := args["priority"].(string)

				task, err := m.Add(ctx, text, due, priority)
				if err != nil {
					if errors.Is(err, ErrInvalid) {
						return nil, toolexec.Validationf("%v", err)
					}
					return nil, err
				}

				var details []string
				if task.Due != "" {
					details = append(details, fmt.Sprintf("due %s", task.Due))
				}
				if task.Priority != "" {
					details = append(details, fmt.Sprintf("priority %s", task.Priority))
				}

				reply := fmt.Sprintf("Added task %s: %s", shortID(task.ID), task.Text)
				if len(details) > 0 {
					reply += " (" + strings.Join(details, ", ") + ")"
				}
				return reply, nil
			},
		},
		{
			Name:        "task_list",
			Description: "List open tasks, soonest due first",
			Parameters: map[string]toolexec.ParamSpec{
				"all": {Type: "boolean", Description: "Include completed tasks"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				all, _ := args["all"].(bool)

				list := m.List(all)
				if len(list) == 0 {
					if all {
						return "You have no tasks.", nil
					}
					return "You have no open tasks.", nil
				}

				today := m.clock().Format(DueLayout)
				noun := "tasks"
				if len(list) == 1 {
					noun = "task"
				}
				kind := "open "
				if all {
					kind = ""
				}

				var b strings.Builder
				fmt.Fprintf(&b, "You have %d %s%s:", len(list), kind, noun)
				for _, task := range list {
					b.WriteString("\n")
					b.WriteString(describeTask(task, today))
				}
				return b.String(), nil
			},
		},
		{
			Name:        "task_done",
			Description: "Mark a task done by its id or a unique id prefix",
			Required:    []string{"id"},
			Parameters: map[string]toolexec.ParamSpec{
				"id": {Type: "string", Description: "Task id as shown by task_list"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				if err := confirmGate(ctx, "task_done", args); err != nil {
					return nil, err
				}

				id, _ := args["id"].(string)

				task, err := m.Complete(ctx, id)
				if err != nil {
					if errors.Is(err, ErrNotFound) {
						return nil, toolexec.NotFoundf("%v", err)
					}
					if errors.Is(err, ErrInvalid) {
						return nil, toolexec.Validationf("%v", err)
					}
					return nil, err
				}

				return fmt.Sprintf("Done: %s", task.Text), nil
			},
		},
	}

	for _, tool := range tools {
		if err := executor.Register(tool); err != nil {
			return fmt.Errorf("failed to register %s: %w", tool.Name, err)
		}
	}

	m.logger.Info().Msg("Task tools registered")
	return nil
}
