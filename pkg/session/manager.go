package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/selcan/mira/internal/observability"
	"github.com/selcan/mira/internal/tracing"
	"github.com/selcan/mira/pkg/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Message represents a single conversation turn
type Message struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Entry represents a message with its session key
type Entry struct {
	SessionKey string  `json:"sessionKey"`
	Message    Message `json:"message"`
}

// Manager persists conversations as JSONL files, one per session key.
// Corrupt lines found while loading are quarantined by the store layer,
// so a torn write never takes the whole conversation down. The first
// append creates the file, there is no separate create step.
type Manager struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// New creates a session manager rooted at dir. An empty dir defaults
// to ~/.mira/sessions.
func New(dir string) (*Manager, error) {
	observability.EnsureRegistered()

	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".mira", "sessions")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	m := &Manager{dir: dir, writeLocks: make(map[string]*sync.Mutex)}
	log.Info().Str("dir", dir).Msg("Session manager initialized")
	m.updateActiveSessionsMetric()
	return m, nil
}

// begin opens a span for one session operation. The returned context
// carries the session key and the logger the trace fields.
func begin(ctx context.Context, op, sessionKey string, extra ...attribute.KeyValue) (context.Context, trace.Span, zerolog.Logger) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, sessionKey)

	attrs := append([]attribute.KeyValue{attribute.String("session_key", sessionKey)}, extra...)
	ctx, span := tracing.StartSpan(ctx, "mira.session", op, attrs...)
	return ctx, span, tracing.LoggerFromContext(ctx, log.Logger)
}

// spanErr marks the span failed and passes err through unchanged
func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// validateKey rejects session keys that could escape the sessions directory
func (m *Manager) validateKey(sessionKey string) error {
	switch {
	case sessionKey == "":
		return fmt.Errorf("session key cannot be empty")
	case strings.Contains(sessionKey, ".."):
		return fmt.Errorf("session key cannot contain '..'")
	case strings.ContainsAny(sessionKey, `/\`):
		return fmt.Errorf("session key cannot contain path separators")
	case strings.Contains(sessionKey, "\x00"):
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

func (m *Manager) path(sessionKey string) string {
	return filepath.Join(m.dir, sessionKey+".jsonl")
}

func (m *Manager) updateActiveSessionsMetric() {
	sessions, err := m.List()
	if err != nil {
		return
	}
	observability.SetActiveSessions(len(sessions))
}

func (m *Manager) lockFor(sessionKey string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	lock := m.writeLocks[sessionKey]
	if lock == nil {
		lock = &sync.Mutex{}
		m.writeLocks[sessionKey] = lock
	}
	return lock
}

func (m *Manager) releaseLock(sessionKey string) {
	m.locksMu.Lock()
	delete(m.writeLocks, sessionKey)
	m.locksMu.Unlock()
}

// Append appends a message to a session
func (m *Manager) Append(sessionKey string, message Message) error {
	return m.AppendWithContext(context.Background(), sessionKey, message)
}

// AppendWithContext appends a message to a session with tracing context.
// The session file is created on first append.
func (m *Manager) AppendWithContext(ctx context.Context, sessionKey string, message Message) error {
	ctx, span, logger := begin(ctx, "session.append", sessionKey,
		attribute.String("role", message.Role))
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordSessionSave(time.Since(start)) }()

	if err := m.validateKey(sessionKey); err != nil {
		return spanErr(span, err)
	}
	if message.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}
	if message.Content == "" {
		return fmt.Errorf("message content cannot be empty")
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	lock := m.lockFor(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	entry := Entry{SessionKey: sessionKey, Message: message}
	if err := store.AppendJSONL(m.path(sessionKey), entry); err != nil {
		return spanErr(span, fmt.Errorf("failed to append message: %w", err))
	}

	logger.Debug().Str("role", message.Role).Msg("Message appended")
	return nil
}

// Load loads all messages from a session
func (m *Manager) Load(sessionKey string) ([]Entry, error) {
	return m.LoadWithContext(context.Background(), sessionKey)
}

// LoadWithContext loads all messages from a session with tracing context.
// Syntactically corrupt lines are quarantined by the store layer; lines that
// parse but fail message validation are skipped with a warning.
func (m *Manager) LoadWithContext(ctx context.Context, sessionKey string) ([]Entry, error) {
	ctx, span, logger := begin(ctx, "session.load", sessionKey)
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordSessionLoad(time.Since(start)) }()

	if err := m.validateKey(sessionKey); err != nil {
		return nil, spanErr(span, err)
	}

	lines, err := store.ReadJSONL(m.path(sessionKey))
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("failed to read session file: %w", err))
	}

	entries := make([]Entry, 0, len(lines))
	for i, line := range lines {
		var entry Entry
		switch err := json.Unmarshal(line, &entry); {
		case err != nil:
			logger.Warn().Int("line", i+1).Err(err).Msg("Failed to parse entry, skipping")
		case entry.Message.Role == "" || entry.Message.Content == "":
			logger.Warn().Int("line", i+1).Msg("Invalid entry, skipping")
		default:
			entries = append(entries, entry)
		}
	}

	logger.Debug().Int("messages", len(entries)).Msg("Session loaded")
	return entries, nil
}

// Delete deletes a session file
func (m *Manager) Delete(sessionKey string) error {
	return m.DeleteWithContext(context.Background(), sessionKey)
}

// DeleteWithContext deletes a session file and its quarantine sidecar.
func (m *Manager) DeleteWithContext(ctx context.Context, sessionKey string) error {
	ctx, span, logger := begin(ctx, "session.delete", sessionKey)
	defer span.End()

	if err := m.validateKey(sessionKey); err != nil {
		return spanErr(span, err)
	}

	lock := m.lockFor(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	sessionPath := m.path(sessionKey)
	if err := os.Remove(sessionPath); err != nil && !os.IsNotExist(err) {
		return spanErr(span, fmt.Errorf("failed to delete session file: %w", err))
	}
	if err := os.Remove(store.QuarantinePath(sessionPath)); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Msg("Failed to delete quarantine file")
	}

	m.releaseLock(sessionKey)
	m.updateActiveSessionsMetric()

	logger.Info().Msg("Session deleted")
	return nil
}

// List returns the keys of every stored session
func (m *Manager) List() ([]string, error) {
	dirents, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var sessions []string
	for _, de := range dirents {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		sessions = append(sessions, strings.TrimSuffix(name, ".jsonl"))
	}
	return sessions, nil
}

// Repair rewrites a session file keeping only valid entries. Load does
// the filtering, including key validation.
func (m *Manager) Repair(sessionKey string) error {
	entries, err := m.Load(sessionKey)
	if err != nil {
		return err
	}

	lock := m.lockFor(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	keep := make([]interface{}, len(entries))
	for i, entry := range entries {
		keep[i] = entry
	}
	if err := store.RewriteJSONL(m.path(sessionKey), keep); err != nil {
		return fmt.Errorf("failed to rewrite session file: %w", err)
	}

	log.Info().
		Str("session_key", sessionKey).
		Int("entries", len(entries)).
		Msg("Session repaired")
	return nil
}

// Info returns metadata about a session
func (m *Manager) Info(sessionKey string) (map[string]interface{}, error) {
	if err := m.validateKey(sessionKey); err != nil {
		return nil, err
	}

	fi, err := os.Stat(m.path(sessionKey))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("session does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat session file: %w", err)
	}

	entries, err := m.Load(sessionKey)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"sessionKey":   sessionKey,
		"size":         fi.Size(),
		"lastModified": fi.ModTime(),
		"messageCount": len(entries),
	}, nil
}

// Dir returns the sessions directory
func (m *Manager) Dir() string {
	return m.dir
}

// Close drops all per-session write locks
func (m *Manager) Close() error {
	m.locksMu.Lock()
	m.writeLocks = make(map[string]*sync.Mutex)
	m.locksMu.Unlock()

	log.Info().Msg("Session manager closed")
	return nil
}
