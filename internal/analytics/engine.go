package analytics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/lumalytics/luma/internal/metrics"
	"github.com/lumalytics/luma/internal/query"
	"github.com/lumalytics/luma/internal/storage"
	"go.uber.org/zap"
)

// Config tunes the analytics engines.
type Config struct {
	// DefaultTimeWindow bounds consecutive funnel steps when the request
	// leaves the window unset.
	DefaultTimeWindow time.Duration

	// MaxSegments caps breakdown result size.
	MaxSegments int

	// MaxEntities caps per-entity grouped scans.
	MaxEntities int

	// CacheTTL bounds cached result staleness.
	CacheTTL time.Duration
}

// DefaultConfig returns the stock engine configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTimeWindow: 7 * 24 * time.Hour,
		MaxSegments:       20,
		MaxEntities:       50000,
		CacheTTL:          5 * time.Minute,
	}
}

// Engine computes funnel, trend, retention and path analyses against the
// event store. It is stateless; every computation is request-scoped and
// safe to run concurrently.
type Engine struct {
	store   storage.Executor
	schema  *query.Schema
	cache   storage.Cache
	logger  *zap.Logger
	metrics *metrics.Metrics
	cfg     Config
}

// NewEngine constructs an analytics engine. cache may be a NoopCache;
// correctness never depends on it.
func NewEngine(store storage.Executor, schema *query.Schema, cache storage.Cache, logger *zap.Logger, m *metrics.Metrics, cfg Config) *Engine {
	if schema == nil {
		schema = query.DefaultSchema()
	}
	if cache == nil {
		cache = storage.NoopCache{}
	}
	if cfg.DefaultTimeWindow <= 0 {
		cfg.DefaultTimeWindow = 7 * 24 * time.Hour
	}
	if cfg.MaxSegments <= 0 {
		cfg.MaxSegments = 20
	}
	if cfg.MaxEntities <= 0 {
		cfg.MaxEntities = 50000
	}
	return &Engine{
		store:   store,
		schema:  schema,
		cache:   cache,
		logger:  logger,
		metrics: m,
		cfg:     cfg,
	}
}

// InvalidateCache drops every cached analytics result.
func (e *Engine) InvalidateCache(ctx context.Context) error {
	return e.cache.InvalidateAll(ctx)
}

// requestKey hashes the request shape into a stable cache key.
func requestKey(kind string, req any) string {
	b, err := json.Marshal(req)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(append([]byte(kind+":"), b...))
	return kind + ":" + hex.EncodeToString(sum[:])
}

// cacheLookup fills dest from the cache when possible.
func (e *Engine) cacheLookup(ctx context.Context, kind, key string, dest any) bool {
	if key == "" {
		return false
	}
	b, ok := e.cache.Get(ctx, key)
	if ok {
		ok = json.Unmarshal(b, dest) == nil
	}
	e.metrics.RecordCache(kind, ok)
	return ok
}

// cacheStore saves a computed result, best effort.
func (e *Engine) cacheStore(ctx context.Context, key string, value any) {
	if key == "" {
		return
	}
	if b, err := json.Marshal(value); err == nil {
		e.cache.Set(ctx, key, b, e.cfg.CacheTTL)
	}
}

// runQuery dispatches one store query with metrics bookkeeping.
func (e *Engine) runQuery(ctx context.Context, engine string, spec storage.QuerySpec) ([]storage.Row, error) {
	started := time.Now()
	rows, err := e.store.Query(ctx, spec)
	if err != nil {
		e.metrics.RecordStoreQuery(engine, "error", 0, time.Since(started))
		return nil, err
	}
	e.metrics.RecordStoreQuery(engine, "ok", len(rows), time.Since(started))
	return rows, nil
}

// PropertyValues returns up to limit distinct values for a property, for
// filter autocomplete. Purely cosmetic enrichment: failures are logged and
// swallowed, degrading to an empty result.
func (e *Engine) PropertyValues(ctx context.Context, source, property string, limit int) []string {
	if property == "" {
		return nil
	}
	if limit <= 0 || limit > 200 {
		limit = 25
	}

	expr := e.schema.PropertyExpr(property)
	spec := storage.QuerySpec{
		SQL: "SELECT DISTINCT " + expr + " AS value FROM " + e.schema.TableFor(source) +
			" WHERE " + expr + " != '' ORDER BY value LIMIT ?",
		Args: []any{limit},
	}

	rows, err := e.runQuery(ctx, "property_values", spec)
	if err != nil {
		e.logger.Warn("property value lookup failed", zap.String("property", property), zap.Error(err))
		return nil
	}

	values := make([]string, 0, len(rows))
	for _, row := range rows {
		if v := rowString(row["value"]); v != "" {
			values = append(values, v)
		}
	}
	return values
}

// timeRangePredicate bounds a query to the inclusive date range.
func timeRangePredicate(s *query.Schema, r dateBounds) (string, []any) {
	return s.TimestampColumn + " >= toDateTime(?) AND " + s.TimestampColumn + " < toDateTime(?)",
		[]any{r.start.Format("2006-01-02 15:04:05"), r.end.Format("2006-01-02 15:04:05")}
}
