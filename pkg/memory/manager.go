package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/selcan/mira/internal/observability"
	"github.com/selcan/mira/internal/tracing"
	"github.com/selcan/mira/pkg/store"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

const (
	factsFileName = "facts.jsonl"
	indexFileName = "index.db"

	embedBatchSize = 16
	embedWorkers   = 4
)

// SearchResult is one scored fact from a hybrid search
type SearchResult struct {
	FactID       string   `json:"fact_id"`
	Text         string   `json:"text"`
	Score        float64  `json:"score"`
	VectorScore  *float64 `json:"vector_score,omitempty"`
	KeywordScore *float64 `json:"keyword_score,omitempty"`
}

// SearchOptions configures search behavior
type SearchOptions struct {
	Limit         int     `json:"limit"`
	VectorWeight  float64 `json:"vector_weight"`
	KeywordWeight float64 `json:"keyword_weight"`
	MinScore      float64 `json:"min_score"`
}

// Status reports the current state of the memory manager
type Status struct {
	TotalFacts            int        `json:"total_facts"`
	VectorEnabled         bool       `json:"vector_enabled"`
	IsDirty               bool       `json:"is_dirty"`
	IsSyncing             bool       `json:"is_syncing"`
	EmbeddingCacheHitRate *float64   `json:"embedding_cache_hit_rate,omitempty"`
	LastSyncTime          *time.Time `json:"last_sync_time,omitempty"`
}

// Manager owns the fact log and the derived search index. The JSONL
// log is the source of truth; the sqlite index (FTS plus optional
// vector table) is rebuilt from it whenever it goes dirty.
type Manager struct {
	db        *sql.DB
	dir       string
	factsPath string
	logger    zerolog.Logger
	embedder  Embedder
	watcher   *logWatcher

	mu           sync.RWMutex
	isDirty      bool
	isSyncing    bool
	lastSyncTime *time.Time
	stats        struct {
		cacheHits   int
		cacheMisses int
	}
}

// Config holds memory manager configuration
type Config struct {
	// Dir is where the fact log and index live
	Dir    string
	Logger zerolog.Logger

	// Embedder is optional; without it search is keyword-only
	Embedder Embedder
}

// NewManager opens the fact log and index under cfg.Dir
func NewManager(cfg Config) (*Manager, error) {
	observability.EnsureRegistered()

	if cfg.Dir == "" {
		return nil, errors.New("memory directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create memory directory: %w", err)
	}

	dbPath := filepath.Join(cfg.Dir, indexFileName)
	db, err := sql.Open("sqlite3", dbPath+"?_fts5=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	m := &Manager{
		db:        db,
		dir:       cfg.Dir,
		factsPath: filepath.Join(cfg.Dir, factsFileName),
		logger:    cfg.Logger,
		embedder:  cfg.Embedder,
		isDirty:   true,
	}

	if err := m.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	watcher, err := newLogWatcher(cfg.Logger, func() {
		m.MarkDirty()
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Watch(cfg.Dir); err != nil {
		watcher.Stop()
		db.Close()
		return nil, fmt.Errorf("failed to watch memory directory: %w", err)
	}

	m.watcher = watcher

	m.logger.Info().Str("dir", cfg.Dir).Bool("vector", cfg.Embedder != nil).
		Msg("Memory manager initialized")
	return m, nil
}

func (m *Manager) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS facts (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			indexed_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_facts_hash ON facts(content_hash);

		CREATE VIRTUAL TABLE IF NOT EXISTS facts_fts USING fts5(
			fact_id UNINDEXED,
			text,
			tokenize='porter unicode61'
		);

		CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			dimension INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cache_created ON embedding_cache(created_at);
	`

	if _, err := m.db.Exec(schema); err != nil {
		return err
	}

	if m.embedder != nil {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS embeddings USING vec0(
				fact_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, m.embedder.Dimension())

		if _, err := m.db.Exec(vectorSchema); err != nil {
			return fmt.Errorf("failed to create vector table: %w", err)
		}
	}

	return nil
}

// Remember appends a fact to the log and invalidates the index
func (m *Manager) Remember(ctx context.Context, text string) (Fact, error) {
	ctx, span := tracing.StartSpan(ctx, "mira.memory", "memory.remember")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	text = strings.TrimSpace(text)
	if text == "" {
		return Fact{}, errors.New("fact text is required")
	}

	id, err := gonanoid.New()
	if err != nil {
		return Fact{}, fmt.Errorf("failed to generate fact id: %w", err)
	}

	fact := Fact{
		ID:        id,
		Text:      text,
		CreatedAt: time.Now().Unix(),
	}

	if err := store.AppendJSONL(m.factsPath, fact); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Fact{}, fmt.Errorf("failed to persist fact: %w", err)
	}

	m.MarkDirty()

	logger.Info().Str("fact_id", fact.ID).Msg("Fact remembered")
	return fact, nil
}

// Forget removes every fact whose text contains the query, or whose id
// equals it. The log is rewritten; the index catches up on the next
// sync.
func (m *Manager) Forget(ctx context.Context, query string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "mira.memory", "memory.forget")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	query = strings.TrimSpace(query)
	if query == "" {
		return 0, errors.New("forget query is required")
	}

	facts, err := loadFacts(m.factsPath)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to load facts: %w", err)
	}

	needle := strings.ToLower(query)
	kept := make([]interface{}, 0, len(facts))
	removed := 0
	for _, f := range facts {
		if f.ID == query || strings.Contains(strings.ToLower(f.Text), needle) {
			removed++
			continue
		}
		kept = append(kept, f)
	}

	if removed == 0 {
		return 0, nil
	}

	if err := store.RewriteJSONL(m.factsPath, kept); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to rewrite fact log: %w", err)
	}

	m.MarkDirty()

	logger.Info().Int("removed", removed).Msg("Facts forgotten")
	return removed, nil
}

// Search performs hybrid search over remembered facts
func (m *Manager) Search(query string, opts *SearchOptions) ([]SearchResult, error) {
	return m.SearchWithContext(context.Background(), query, opts)
}

// SearchWithContext performs hybrid search with context propagation.
// A dirty index is synced first. When only one of the two methods is
// available or working, its results are used alone.
func (m *Manager) SearchWithContext(ctx context.Context, query string, opts *SearchOptions) ([]SearchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"mira.memory",
		"memory.search",
		attribute.String("query", query),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, m.logger)
	start := time.Now()
	defer func() { observability.RecordMemorySearch(time.Since(start)) }()

	if strings.TrimSpace(query) == "" {
		return []SearchResult{}, nil
	}

	if opts == nil {
		opts = &SearchOptions{
			Limit:         20,
			VectorWeight:  0.7,
			KeywordWeight: 0.3,
		}
	}

	m.mu.RLock()
	dirty := m.isDirty
	m.mu.RUnlock()

	if dirty {
		if err := m.Sync(); err != nil {
			logger.Warn().Err(err).Msg("Sync failed before search")
		}
	}

	var vectorResults []vectorSearchResult
	var keywordResults []keywordSearchResult
	var vectorErr, keywordErr error

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if m.embedder != nil {
			vectorResults, vectorErr = m.vectorSearch(ctx, query, 200)
		}
	}()

	go func() {
		defer wg.Done()
		keywordResults, keywordErr = m.keywordSearch(query, 200)
	}()

	wg.Wait()

	if vectorErr != nil {
		logger.Warn().Err(vectorErr).Msg("Vector search failed, using keyword only")
	}
	if keywordErr != nil {
		logger.Warn().Err(keywordErr).Msg("Keyword search failed, using vector only")
	}

	if vectorErr != nil && keywordErr != nil {
		span.RecordError(vectorErr)
		span.RecordError(keywordErr)
		span.SetStatus(codes.Error, "both search methods failed")
		return nil, fmt.Errorf("both search methods failed")
	}

	results := m.mergeResults(vectorResults, keywordResults, opts)

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	logger.Debug().
		Str("query", query).
		Int("results", len(results)).
		Msg("Memory search completed")

	return results, nil
}

// Recall is search tuned for conversational use: a small result set
// with the default weights.
func (m *Manager) Recall(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}
	return m.SearchWithContext(ctx, query, &SearchOptions{
		Limit:         limit,
		VectorWeight:  0.7,
		KeywordWeight: 0.3,
	})
}

// ContextFor returns remembered facts relevant to the prompt, one per
// line, for injection into a model's system context.
func (m *Manager) ContextFor(ctx context.Context, prompt string) (string, error) {
	results, err := m.Recall(ctx, prompt, 5)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, r := range results {
		b.WriteString("- ")
		b.WriteString(r.Text)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

type vectorSearchResult struct {
	factID     string
	similarity float64
}

type keywordSearchResult struct {
	factID    string
	bm25Score float64
}

func (m *Manager) vectorSearch(ctx context.Context, query string, limit int) ([]vectorSearchResult, error) {
	embedding, err := m.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT
			fact_id,
			vec_distance_cosine(embedding, ?) as distance
		FROM embeddings
		ORDER BY distance ASC
		LIMIT ?
	`, string(embeddingJSON), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []vectorSearchResult
	for rows.Next() {
		var factID string
		var distance float64
		if err := rows.Scan(&factID, &distance); err != nil {
			return nil, err
		}

		results = append(results, vectorSearchResult{
			factID:     factID,
			similarity: 1.0 - distance,
		})
	}

	return results, nil
}

var ftsTokenPattern = regexp.MustCompile(`[\pL\pN]+`)

// ftsQuery turns free text into an FTS5 OR query so punctuation in
// user input cannot break the MATCH syntax
func ftsQuery(query string) string {
	tokens := ftsTokenPattern.FindAllString(query, -1)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + tok + `"`
	}
	return strings.Join(quoted, " OR ")
}

func (m *Manager) keywordSearch(query string, limit int) ([]keywordSearchResult, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := m.db.Query(`
		SELECT fact_id, bm25(facts_fts) as score
		FROM facts_fts
		WHERE facts_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []keywordSearchResult
	for rows.Next() {
		var factID string
		var score float64
		if err := rows.Scan(&factID, &score); err != nil {
			return nil, err
		}

		// BM25 scores are negative, convert to positive
		results = append(results, keywordSearchResult{
			factID:    factID,
			bm25Score: -score,
		})
	}

	return results, nil
}

// mergeResults combines vector and keyword results into one ranking
func (m *Manager) mergeResults(vectorResults []vectorSearchResult, keywordResults []keywordSearchResult, opts *SearchOptions) []SearchResult {
	vectorMap := make(map[string]float64)
	keywordMap := make(map[string]float64)

	var maxKeyword float64
	for _, r := range vectorResults {
		vectorMap[r.factID] = r.similarity
	}
	for _, r := range keywordResults {
		keywordMap[r.factID] = r.bm25Score
		if r.bm25Score > maxKeyword {
			maxKeyword = r.bm25Score
		}
	}

	factIDs := make(map[string]bool)
	for id := range vectorMap {
		factIDs[id] = true
	}
	for id := range keywordMap {
		factIDs[id] = true
	}

	type scoredResult struct {
		factID       string
		score        float64
		vectorScore  *float64
		keywordScore *float64
	}

	var scored []scoredResult
	for factID := range factIDs {
		var normalizedVector, normalizedKeyword float64

		// Map cosine similarity [-1, 1] to [0, 1]
		if vectorScore, ok := vectorMap[factID]; ok {
			normalizedVector = (vectorScore + 1) / 2
		}

		if keywordScore, ok := keywordMap[factID]; ok && maxKeyword > 0 {
			normalizedKeyword = keywordScore / maxKeyword
		}

		combinedScore := (normalizedVector * opts.VectorWeight) + (normalizedKeyword * opts.KeywordWeight)

		if opts.MinScore > 0 && combinedScore < opts.MinScore {
			continue
		}

		var vecPtr, keyPtr *float64
		if _, ok := vectorMap[factID]; ok {
			v := normalizedVector
			vecPtr = &v
		}
		if _, ok := keywordMap[factID]; ok {
			k := normalizedKeyword
			keyPtr = &k
		}

		scored = append(scored, scoredResult{
			factID:       factID,
			score:        combinedScore,
			vectorScore:  vecPtr,
			keywordScore: keyPtr,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	results := make([]SearchResult, 0, len(scored))
	for _, s := range scored {
		var text string
		err := m.db.QueryRow("SELECT text FROM facts WHERE id = ?", s.factID).Scan(&text)
		if err != nil {
			m.logger.Warn().Err(err).Str("fact_id", s.factID).Msg("Failed to fetch fact text")
			continue
		}

		results = append(results, SearchResult{
			FactID:       s.factID,
			Text:         text,
			Score:        s.score,
			VectorScore:  s.vectorScore,
			KeywordScore: s.keywordScore,
		})
	}

	return results
}

// Sync rebuilds the index from the fact log: new or changed facts are
// indexed, facts gone from the log are pruned, embeddings are fetched
// in parallel batches.
func (m *Manager) Sync() error {
	ctx := context.Background()
	ctx, span := tracing.StartSpan(ctx, "mira.memory", "memory.sync")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	m.mu.Lock()
	if m.isSyncing {
		m.mu.Unlock()
		span.SetStatus(codes.Error, "sync already in progress")
		return errors.New("sync already in progress")
	}
	m.isSyncing = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.isSyncing = false
		m.isDirty = false
		now := time.Now()
		m.lastSyncTime = &now
		m.mu.Unlock()
	}()

	start := time.Now()

	facts, err := loadFacts(m.factsPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to load fact log: %w", err)
	}

	indexed, err := m.indexedHashes()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to read index state: %w", err)
	}

	var toIndex []Fact
	live := make(map[string]bool, len(facts))
	for _, f := range facts {
		live[f.ID] = true
		if indexed[f.ID] != hashText(f.Text) {
			toIndex = append(toIndex, f)
		}
	}

	var toPrune []string
	for id := range indexed {
		if !live[id] {
			toPrune = append(toPrune, id)
		}
	}

	if err := m.pruneFacts(toPrune); err != nil {
		logger.Warn().Err(err).Msg("Failed to prune removed facts")
		span.RecordError(err)
	}

	if err := m.indexFacts(toIndex); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to index facts: %w", err)
	}

	if m.embedder != nil && len(toIndex) > 0 {
		if err := m.embedFacts(ctx, toIndex); err != nil {
			// Unembedded facts still match by keyword.
			logger.Warn().Err(err).Msg("Embedding failed, affected facts are keyword-only")
			span.RecordError(err)
		}
	}

	logger.Info().
		Int("facts", len(facts)).
		Int("indexed", len(toIndex)).
		Int("pruned", len(toPrune)).
		Dur("duration", time.Since(start)).
		Msg("Memory sync completed")

	observability.SetMemoryEntries(len(facts))

	return nil
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// indexedHashes returns fact id -> content hash for the whole index
func (m *Manager) indexedHashes() (map[string]string, error) {
	rows, err := m.db.Query("SELECT id, content_hash FROM facts")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, err
		}
		hashes[id] = hash
	}
	return hashes, rows.Err()
}

// pruneFacts removes index rows for facts no longer in the log
func (m *Manager) pruneFacts(ids []string) error {
	for _, id := range ids {
		if _, err := m.db.Exec("DELETE FROM facts WHERE id = ?", id); err != nil {
			return err
		}
		if _, err := m.db.Exec("DELETE FROM facts_fts WHERE fact_id = ?", id); err != nil {
			return err
		}
		if m.embedder != nil {
			if _, err := m.db.Exec("DELETE FROM embeddings WHERE fact_id = ?", id); err != nil {
				return err
			}
		}
	}
	return nil
}

// indexFacts writes fact rows and their FTS entries in one transaction
func (m *Manager) indexFacts(facts []Fact) error {
	if len(facts) == 0 {
		return nil
	}

	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, f := range facts {
		if _, err := tx.Exec("DELETE FROM facts WHERE id = ?", f.ID); err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM facts_fts WHERE fact_id = ?", f.ID); err != nil {
			return err
		}

		if _, err := tx.Exec(
			"INSERT INTO facts (id, text, content_hash, created_at, indexed_at) VALUES (?, ?, ?, ?, ?)",
			f.ID, f.Text, hashText(f.Text), f.CreatedAt, now,
		); err != nil {
			return err
		}
		if _, err := tx.Exec(
			"INSERT INTO facts_fts (fact_id, text) VALUES (?, ?)",
			f.ID, f.Text,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// embedFacts fills the vector table for the given facts. Cached
// embeddings are reused; the rest are fetched in parallel batches and
// written sequentially once all batches land.
func (m *Manager) embedFacts(ctx context.Context, facts []Fact) error {
	var misses []Fact
	for _, f := range facts {
		hash := hashText(f.Text)

		var cached []byte
		err := m.db.QueryRow("SELECT embedding FROM embedding_cache WHERE content_hash = ?", hash).Scan(&cached)
		if err != nil {
			misses = append(misses, f)
			continue
		}

		var embedding []float32
		if err := json.Unmarshal(cached, &embedding); err != nil {
			misses = append(misses, f)
			continue
		}

		m.mu.Lock()
		m.stats.cacheHits++
		m.mu.Unlock()

		if err := m.storeVector(f.ID, embedding); err != nil {
			return err
		}
	}

	if len(misses) == 0 {
		return nil
	}

	vectors := make([][]float32, len(misses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedWorkers)

	for batchStart := 0; batchStart < len(misses); batchStart += embedBatchSize {
		batchEnd := batchStart + embedBatchSize
		if batchEnd > len(misses) {
			batchEnd = len(misses)
		}
		start, end := batchStart, batchEnd

		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, f := range misses[start:end] {
				texts = append(texts, f.Text)
			}

			embeddings, err := m.embedder.GenerateEmbeddings(gctx, texts)
			if err != nil {
				return err
			}

			copy(vectors[start:end], embeddings)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	m.mu.Lock()
	m.stats.cacheMisses += len(misses)
	m.mu.Unlock()

	now := time.Now().Unix()
	for i, f := range misses {
		embeddingJSON, err := json.Marshal(vectors[i])
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}

		if _, err := m.db.Exec(
			"INSERT OR REPLACE INTO embedding_cache (content_hash, embedding, dimension, created_at) VALUES (?, ?, ?, ?)",
			hashText(f.Text), embeddingJSON, len(vectors[i]), now,
		); err != nil {
			return fmt.Errorf("failed to cache embedding: %w", err)
		}

		if err := m.storeVector(f.ID, vectors[i]); err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) storeVector(factID string, embedding []float32) error {
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	if _, err := m.db.Exec(
		"INSERT OR REPLACE INTO embeddings (fact_id, embedding) VALUES (?, ?)",
		factID, string(embeddingJSON),
	); err != nil {
		return fmt.Errorf("failed to store vector: %w", err)
	}

	return nil
}

// Status returns current manager state
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var status Status
	status.VectorEnabled = m.embedder != nil
	status.IsDirty = m.isDirty
	status.IsSyncing = m.isSyncing
	status.LastSyncTime = m.lastSyncTime

	m.db.QueryRow("SELECT COUNT(*) FROM facts").Scan(&status.TotalFacts)

	total := m.stats.cacheHits + m.stats.cacheMisses
	if total > 0 {
		rate := float64(m.stats.cacheHits) / float64(total)
		status.EmbeddingCacheHitRate = &rate
	}

	return status
}

// Close stops the watcher and closes the index
func (m *Manager) Close() error {
	m.logger.Info().Msg("Closing memory manager")

	if m.watcher != nil {
		m.watcher.Stop()
	}

	return m.db.Close()
}

// MarkDirty flags the index for rebuild on the next search
func (m *Manager) MarkDirty() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isDirty = true
}
