package quantics

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/strataquant/strata/internal/observability"
	"github.com/strataquant/strata/pkg/analysis"
	"github.com/strataquant/strata/pkg/stats"
)

// ResultCache stores successful statistic results in SQLite with a
// bounded lifetime, so repeated questions about the same range skip the
// remote call. Failures are never cached.
type ResultCache struct {
	db     *sql.DB
	ttl    time.Duration
	logger zerolog.Logger
}

// NewResultCache opens the cache database at path, creating it if needed.
func NewResultCache(path string, ttl time.Duration, logger zerolog.Logger) (*ResultCache, error) {
	if path == "" {
		return nil, errors.New("cache path is required")
	}
	if ttl <= 0 {
		return nil, errors.New("cache ttl must be positive")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS results (
			request_hash TEXT PRIMARY KEY,
			statistic TEXT NOT NULL,
			result BLOB NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_results_created ON results(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	return &ResultCache{db: db, ttl: ttl, logger: logger}, nil
}

// Close closes the cache database.
func (rc *ResultCache) Close() error {
	return rc.db.Close()
}

// cacheKey derives the lookup key for one request. Struct field order is
// fixed, so the JSON encoding is stable across calls.
func cacheKey(statistic string, req *analysis.Request) (string, error) {
	encoded, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(append([]byte(statistic+"\n"), encoded...))
	return hex.EncodeToString(sum[:]), nil
}

// Get returns the cached result for the request, or false when no live
// entry exists. Expired entries are dropped on sight.
func (rc *ResultCache) Get(statistic string, req *analysis.Request) (*Result, bool) {
	hash, err := cacheKey(statistic, req)
	if err != nil {
		return nil, false
	}

	var blob []byte
	var createdAt int64
	err = rc.db.QueryRow(
		"SELECT result, created_at FROM results WHERE request_hash = ?", hash,
	).Scan(&blob, &createdAt)
	if err != nil {
		observability.RecordResultCacheLookup(false)
		return nil, false
	}

	if time.Since(time.Unix(createdAt, 0)) > rc.ttl {
		if _, err := rc.db.Exec("DELETE FROM results WHERE request_hash = ?", hash); err != nil {
			rc.logger.Warn().Err(err).Msg("Failed to drop expired cache entry")
		}
		observability.RecordResultCacheLookup(false)
		return nil, false
	}

	var result Result
	if err := json.Unmarshal(blob, &result); err != nil {
		observability.RecordResultCacheLookup(false)
		return nil, false
	}

	observability.RecordResultCacheLookup(true)
	return &result, true
}

// Put stores a successful result under the request's key.
func (rc *ResultCache) Put(statistic string, req *analysis.Request, result *Result) error {
	if result == nil || !result.Success {
		return nil
	}

	hash, err := cacheKey(statistic, req)
	if err != nil {
		return err
	}

	blob, err := json.Marshal(result)
	if err != nil {
		return err
	}

	_, err = rc.db.Exec(
		"INSERT OR REPLACE INTO results (request_hash, statistic, result, created_at) VALUES (?, ?, ?, ?)",
		hash, statistic, blob, time.Now().Unix(),
	)
	return err
}

// Prune deletes entries older than the cache lifetime and reports how
// many were removed.
func (rc *ResultCache) Prune() (int64, error) {
	cutoff := time.Now().Add(-rc.ttl).Unix()

	res, err := rc.db.Exec("DELETE FROM results WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CachedExecutor wraps an Executor with a read-through result cache.
type CachedExecutor struct {
	client Executor
	cache  *ResultCache
	logger zerolog.Logger
}

// NewCachedExecutor creates a caching wrapper around client.
func NewCachedExecutor(client Executor, cache *ResultCache, logger zerolog.Logger) *CachedExecutor {
	return &CachedExecutor{client: client, cache: cache, logger: logger}
}

// Execute consults the cache before dispatching to the underlying client.
func (ce *CachedExecutor) Execute(ctx context.Context, desc stats.Descriptor, req *analysis.Request) (*Result, error) {
	if cached, ok := ce.cache.Get(desc.Name, req); ok {
		ce.logger.Debug().Str("statistic", desc.Name).Msg("Serving cached result")
		return cached, nil
	}

	result, err := ce.client.Execute(ctx, desc, req)
	if err != nil {
		return nil, err
	}

	if err := ce.cache.Put(desc.Name, req, result); err != nil {
		ce.logger.Warn().Err(err).Msg("Failed to cache result")
	}

	return result, nil
}
