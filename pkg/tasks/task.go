// Package tasks keeps the to-do list on a durable JSONL log and fires
// due-date reminders. The log is the source of truth; completing a task
// rewrites it atomically.
package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/selcan/mira/pkg/store"
)

// DueLayout is the calendar-date form due dates use. Dates in this form
// compare lexicographically in chronological order.
const DueLayout = "2006-01-02"

var (
	// ErrInvalid marks task input the caller can fix
	ErrInvalid = errors.New("invalid task")
	// ErrNotFound marks lookups that matched no task
	ErrNotFound = errors.New("task not found")
)

// Task is one to-do item on the task log
type Task struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Due       string `json:"due,omitempty"`
	Priority  string `json:"priority,omitempty"`
	Done      bool   `json:"done"`
	CreatedAt int64  `json:"created_at"`
	DoneAt    int64  `json:"done_at,omitempty"`
}

var priorityRank = map[string]int{"high": 0, "medium": 1, "low": 2}

func validPriority(p string) bool {
	_, ok := priorityRank[p]
	return ok
}

func rankPriority(p string) int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// buildTask validates the fields and assembles a new open task
func buildTask(text, due, priority string, now time.Time) (Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Task{}, fmt.Errorf("%w: text is required", ErrInvalid)
	}

	due = strings.TrimSpace(due)
	if due != "" {
		if _, err := time.Parse(DueLayout, due); err != nil {
			return Task{}, fmt.Errorf("%w: due date must be YYYY-MM-DD, got %q", ErrInvalid, due)
		}
	}

	priority = strings.ToLower(strings.TrimSpace(priority))
	if priority != "" && !validPriority(priority) {
		return Task{}, fmt.Errorf("%w: priority must be low, medium, or high, got %q", ErrInvalid, priority)
	}

	id, err := gonanoid.New()
	if err != nil {
		return Task{}, fmt.Errorf("failed to generate task id: %w", err)
	}

	return Task{
		ID:        id,
		Text:      text,
		Due:       due,
		Priority:  priority,
		CreatedAt: now.Unix(),
	}, nil
}

// loadTasks reads the task log, skipping records without an id or text.
// Malformed lines were already quarantined by the store.
func loadTasks(path string) ([]Task, error) {
	raw, err := store.ReadJSONL(path)
	if err != nil {
		return nil, err
	}

	tasks := make([]Task, 0, len(raw))
	for _, line := range raw {
		var task Task
		if err := json.Unmarshal(line, &task); err != nil {
			continue
		}
		if task.ID == "" || task.Text == "" {
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// sortTasks orders for listing: open before done, earliest due first
// with undated tasks last, then priority, then insertion order.
func sortTasks(list []Task) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Done != b.Done {
			return !a.Done
		}
		if a.Due != b.Due {
			if a.Due == "" {
				return false
			}
			if b.Due == "" {
				return true
			}
			return a.Due < b.Due
		}
		if ra, rb := rankPriority(a.Priority), rankPriority(b.Priority); ra != rb {
			return ra < rb
		}
		return a.CreatedAt < b.CreatedAt
	})
}

func countOpen(list []Task) int {
	open := 0
	for _, task := range list {
		if !task.Done {
			open++
		}
	}
	return open
}

// shortID trims a task id to the display length accepted back as a
// unique prefix by Complete
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// describeTask renders one list line: short id, priority tag, text, and
// the due date relative to today
func describeTask(task Task, today string) string {
	var b strings.Builder
	b.WriteString("- ")
	b.WriteString(shortID(task.ID))
	if task.Priority != "" {
		fmt.Fprintf(&b, " [%s]", task.Priority)
	}
	b.WriteString(" ")
	b.WriteString(task.Text)
	switch {
	case task.Done:
		b.WriteString(" (done)")
	case task.Due == "":
	case task.Due < today:
		fmt.Fprintf(&b, " (due %s, overdue)", task.Due)
	case task.Due == today:
		b.WriteString(" (due today)")
	default:
		fmt.Fprintf(&b, " (due %s)", task.Due)
	}
	return b.String()
}
