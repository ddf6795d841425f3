package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/selcan/mira/pkg/store"
)

const (
	DefaultRetentionAge = 30 * 24 * time.Hour
	DefaultMaxEntries   = 500
)

// Retention sweeps the sessions directory: conversations untouched for
// longer than the retention age are deleted, oversized ones are trimmed
// to their most recent entries.
type Retention struct {
	manager    *Manager
	maxAge     time.Duration
	maxEntries int
	interval   time.Duration
	stopCh     chan struct{}
	mu         sync.Mutex
	running    bool
}

// NewRetention creates a retention sweeper for the given manager
func NewRetention(manager *Manager, maxAge time.Duration) *Retention {
	if maxAge == 0 {
		maxAge = DefaultRetentionAge
	}

	return &Retention{
		manager:    manager,
		maxAge:     maxAge,
		maxEntries: DefaultMaxEntries,
		interval:   24 * time.Hour,
		stopCh:     make(chan struct{}),
	}
}

// Start starts the background sweep loop
func (r *Retention) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("retention sweep is already running")
	}

	r.running = true
	r.stopCh = make(chan struct{})
	go r.run()

	log.Info().
		Dur("max_age", r.maxAge).
		Int("max_entries", r.maxEntries).
		Msg("Session retention started")

	return nil
}

// Stop stops the background sweep loop
func (r *Retention) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return fmt.Errorf("retention sweep is not running")
	}

	close(r.stopCh)
	r.running = false

	log.Info().Msg("Session retention stopped")

	return nil
}

// IsRunning reports whether the sweep loop is active
func (r *Retention) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Retention) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if err := r.Sweep(); err != nil {
		log.Error().Err(err).Msg("Session sweep failed")
	}

	for {
		select {
		case <-ticker.C:
			if err := r.Sweep(); err != nil {
				log.Error().Err(err).Msg("Session sweep failed")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Sweep applies retention to every session once
func (r *Retention) Sweep() error {
	sessions, err := r.manager.List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	now := time.Now()
	deleted := 0
	trimmed := 0

	for _, sessionKey := range sessions {
		info, err := r.manager.Info(sessionKey)
		if err != nil {
			log.Warn().
				Str("session_key", sessionKey).
				Err(err).
				Msg("Failed to get session info")
			continue
		}

		lastModified, ok := info["lastModified"].(time.Time)
		if ok && now.Sub(lastModified) >= r.maxAge {
			if err := r.manager.Delete(sessionKey); err != nil {
				log.Error().
					Str("session_key", sessionKey).
					Err(err).
					Msg("Failed to delete expired session")
				continue
			}
			deleted++
			continue
		}

		didTrim, err := r.trim(sessionKey)
		if err != nil {
			log.Warn().
				Str("session_key", sessionKey).
				Err(err).
				Msg("Failed to trim session")
			continue
		}
		if didTrim {
			trimmed++
		}
	}

	if deleted > 0 || trimmed > 0 {
		log.Info().
			Int("deleted", deleted).
			Int("trimmed", trimmed).
			Msg("Session sweep completed")
	}

	return nil
}

// trim rewrites a session keeping only the most recent maxEntries entries
func (r *Retention) trim(sessionKey string) (bool, error) {
	if r.maxEntries <= 0 {
		return false, nil
	}

	entries, err := r.manager.Load(sessionKey)
	if err != nil {
		return false, err
	}
	if len(entries) <= r.maxEntries {
		return false, nil
	}

	keep := entries[len(entries)-r.maxEntries:]

	lock := r.manager.lockFor(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	rewritten := make([]interface{}, len(keep))
	for i, entry := range keep {
		rewritten[i] = entry
	}

	if err := store.RewriteJSONL(r.manager.path(sessionKey), rewritten); err != nil {
		return false, err
	}

	log.Debug().
		Str("session_key", sessionKey).
		Int("before", len(entries)).
		Int("after", len(keep)).
		Msg("Session trimmed")

	return true, nil
}

// SetMaxEntries updates the per-session entry cap
func (r *Retention) SetMaxEntries(maxEntries int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxEntries = maxEntries
}

// SetMaxAge updates the retention age
func (r *Retention) SetMaxAge(maxAge time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxAge = maxAge
}
