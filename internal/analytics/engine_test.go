package analytics

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lumalytics/luma/internal/models"
	"github.com/lumalytics/luma/internal/storage"
)

// fakeExecutor records every dispatched query and answers through respond.
// Safe for concurrent use; the engines fan out.
type fakeExecutor struct {
	mu      sync.Mutex
	queries []storage.QuerySpec
	respond func(spec storage.QuerySpec) ([]storage.Row, error)
}

func (f *fakeExecutor) Query(ctx context.Context, spec storage.QuerySpec) ([]storage.Row, error) {
	f.mu.Lock()
	f.queries = append(f.queries, spec)
	f.mu.Unlock()
	if f.respond == nil {
		return nil, nil
	}
	return f.respond(spec)
}

func (f *fakeExecutor) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// fakeCache is a map-backed storage.Cache.
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	return b, ok
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

func (c *fakeCache) InvalidateAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string][]byte)
	return nil
}

func newTestEngine(store storage.Executor, cache storage.Cache) *Engine {
	return NewEngine(store, nil, cache, zap.NewNop(), nil, DefaultConfig())
}

func argsContain(spec storage.QuerySpec, want any) bool {
	for _, a := range spec.Args {
		if a == want {
			return true
		}
	}
	return false
}

func TestComputeFunnel_ResultsAreCached(t *testing.T) {
	store := &fakeExecutor{
		respond: func(spec storage.QuerySpec) ([]storage.Row, error) {
			return []storage.Row{
				{"entity": "u1", "ts": []int64{100, 200}, "step_0": []bool{true, false}, "step_1": []bool{false, true}},
			}, nil
		},
	}
	cache := newFakeCache()
	e := newTestEngine(store, cache)

	req := FunnelRequest{
		Steps: []models.FunnelStepSpec{
			{Event: "signup"}, {Event: "purchase"},
		},
		DateRange: models.DateRange{Start: "2024-01-01", End: "2024-01-31"},
		Metric:    models.MetricSpec{Type: models.MetricUniqueEntities},
	}

	first, err := e.ComputeFunnel(context.Background(), req)
	if err != nil {
		t.Fatalf("first compute: %v", err)
	}
	if store.queryCount() != 1 {
		t.Fatalf("expected 1 store query, got %d", store.queryCount())
	}

	second, err := e.ComputeFunnel(context.Background(), req)
	if err != nil {
		t.Fatalf("second compute: %v", err)
	}
	if store.queryCount() != 1 {
		t.Fatalf("cached result must not query the store again, got %d queries", store.queryCount())
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatalf("cached result differs: %s vs %s", a, b)
	}
}

func TestInvalidateCache(t *testing.T) {
	cache := newFakeCache()
	cache.Set(context.Background(), "k", []byte("v"), time.Minute)

	e := newTestEngine(&fakeExecutor{}, cache)
	if err := e.InvalidateCache(context.Background()); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok := cache.Get(context.Background(), "k"); ok {
		t.Fatal("cache entry survived invalidation")
	}
}

func TestPropertyValues_SwallowsStoreErrors(t *testing.T) {
	store := &fakeExecutor{
		respond: func(spec storage.QuerySpec) ([]storage.Row, error) {
			return nil, &storage.StoreError{Err: context.DeadlineExceeded}
		},
	}
	e := newTestEngine(store, nil)

	values := e.PropertyValues(context.Background(), "", "plan", 10)
	if values != nil {
		t.Fatalf("enrichment failure must degrade to empty, got %v", values)
	}
}

func TestPropertyValues(t *testing.T) {
	store := &fakeExecutor{
		respond: func(spec storage.QuerySpec) ([]storage.Row, error) {
			return []storage.Row{
				{"value": "free"}, {"value": "pro"}, {"value": ""},
			}, nil
		},
	}
	e := newTestEngine(store, nil)

	values := e.PropertyValues(context.Background(), "", "plan", 10)
	if len(values) != 2 || values[0] != "free" || values[1] != "pro" {
		t.Fatalf("got %v", values)
	}
}

func TestParseDateRange(t *testing.T) {
	bounds, err := parseDateRange(models.DateRange{Start: "2024-01-01", End: "2024-01-02"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// End is exclusive: the whole final day is included.
	if bounds.end.Sub(bounds.start) != 48*time.Hour {
		t.Fatalf("bounds span: got %v", bounds.end.Sub(bounds.start))
	}

	if _, err := parseDateRange(models.DateRange{Start: "2024-01-02", End: "2024-01-01"}); err == nil {
		t.Fatal("expected error for inverted range")
	}
	if _, err := parseDateRange(models.DateRange{Start: "", End: "2024-01-01"}); err == nil {
		t.Fatal("expected error for missing start")
	}
	if _, err := parseDateRange(models.DateRange{Start: "01/02/2024", End: "2024-01-03"}); err == nil {
		t.Fatal("expected error for malformed date")
	}
}

func TestRankSegments(t *testing.T) {
	segs := []rankedSegment{
		{name: "b", value: 5},
		{name: "a", value: 5},
		{name: "c", value: 10},
		{name: "d", value: 1},
	}
	ranked := rankSegments(segs, 3)
	if len(ranked) != 3 {
		t.Fatalf("cap: got %d", len(ranked))
	}
	if ranked[0].name != "c" || ranked[1].name != "a" || ranked[2].name != "b" {
		t.Fatalf("order: got %v", ranked)
	}
}
