package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"

	"github.com/selcan/mira/internal/observability"
	"github.com/selcan/mira/internal/tracing"
	"github.com/selcan/mira/pkg/store"
)

const logFileName = "tasks.jsonl"

// Config configures the task manager
type Config struct {
	Dir    string
	Logger zerolog.Logger
	Clock  func() time.Time
}

// Manager owns the task log. The full set is held in memory; mutations
// persist before they are visible.
type Manager struct {
	path   string
	logger zerolog.Logger
	clock  func() time.Time

	mu        sync.RWMutex
	tasks     []Task
	listeners []func()
}

// NewManager loads the task log from cfg.Dir, creating it when absent
func NewManager(cfg Config) (*Manager, error) {
	observability.EnsureRegistered()

	if cfg.Dir == "" {
		return nil, errors.New("tasks directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create tasks directory: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	m := &Manager{
		path:   filepath.Join(cfg.Dir, logFileName),
		logger: cfg.Logger,
		clock:  clock,
	}

	tasks, err := loadTasks(m.path)
	if err != nil {
		return nil, fmt.Errorf("failed to load task log: %w", err)
	}
	m.tasks = tasks
	observability.SetTasksOpen(countOpen(tasks))

	m.logger.Info().Int("count", len(tasks)).Msg("Task log loaded")
	return m, nil
}

// Add validates and appends a new task to the log
func (m *Manager) Add(ctx context.Context, text, due, priority string) (Task, error) {
	ctx, span := tracing.StartSpan(ctx, "mira.tasks", "tasks.add")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	task, err := buildTask(text, due, priority, m.clock())
	if err != nil {
		return Task{}, err
	}

	m.mu.Lock()
	if err := store.AppendJSONL(m.path, task); err != nil {
		m.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Task{}, fmt.Errorf("failed to persist task: %w", err)
	}
	m.tasks = append(m.tasks, task)
	open := countOpen(m.tasks)
	m.mu.Unlock()

	observability.SetTasksOpen(open)
	m.notifyChanged()

	logger.Info().Str("task_id", task.ID).Str("due", task.Due).Msg("Task added")
	return task, nil
}

// Complete marks a task done by id or unique id prefix and rewrites the
// log. Completing an already-done task is a no-op.
func (m *Manager) Complete(ctx context.Context, id string) (Task, error) {
	ctx, span := tracing.StartSpan(ctx, "mira.tasks", "tasks.complete")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	id = strings.TrimSpace(id)
	if id == "" {
		return Task{}, fmt.Errorf("%w: id is required", ErrInvalid)
	}

	m.mu.Lock()
	idx, err := m.findLocked(id)
	if err != nil {
		m.mu.Unlock()
		return Task{}, err
	}
	if m.tasks[idx].Done {
		task := m.tasks[idx]
		m.mu.Unlock()
		return task, nil
	}

	m.tasks[idx].Done = true
	m.tasks[idx].DoneAt = m.clock().Unix()
	if err := m.rewriteLocked(); err != nil {
		m.tasks[idx].Done = false
		m.tasks[idx].DoneAt = 0
		m.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Task{}, fmt.Errorf("failed to persist task: %w", err)
	}
	task := m.tasks[idx]
	open := countOpen(m.tasks)
	m.mu.Unlock()

	observability.SetTasksOpen(open)
	m.notifyChanged()

	logger.Info().Str("task_id", task.ID).Msg("Task completed")
	return task, nil
}

// List returns tasks in list order, open only unless includeDone is set
func (m *Manager) List(includeDone bool) []Task {
	m.mu.RLock()
	list := make([]Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		if task.Done && !includeDone {
			continue
		}
		list = append(list, task)
	}
	m.mu.RUnlock()

	sortTasks(list)
	return list
}

// Open returns the open tasks in list order
func (m *Manager) Open() []Task {
	return m.List(false)
}

// Subscribe registers fn to run after every successful mutation.
// Listeners are called outside the manager lock.
func (m *Manager) Subscribe(fn func()) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *Manager) notifyChanged() {
	m.mu.RLock()
	listeners := make([]func(), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, fn := range listeners {
		fn()
	}
}

// findLocked resolves id exactly, then as a unique prefix
func (m *Manager) findLocked(id string) (int, error) {
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			return i, nil
		}
	}

	match := -1
	for i := range m.tasks {
		if strings.HasPrefix(m.tasks[i].ID, id) {
			if match >= 0 {
				return -1, fmt.Errorf("%w: id %q matches multiple tasks", ErrInvalid, id)
			}
			match = i
		}
	}
	if match < 0 {
		return -1, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return match, nil
}

func (m *Manager) rewriteLocked() error {
	entries := make([]interface{}, len(m.tasks))
	for i := range m.tasks {
		entries[i] = m.tasks[i]
	}
	return store.RewriteJSONL(m.path, entries)
}
