package storage

import (
	"context"
	"time"

	"github.com/lumalytics/luma/internal/models"
)

// =============================================
// EVENT STORE ADAPTER
// =============================================

// Row is a single column-labeled result row.
type Row map[string]any

// QuerySpec is a store-native query produced by the analytics engines from
// compiled predicate/aggregation/segment fragments.
type QuerySpec struct {
	SQL  string
	Args []any
}

// Executor runs read queries against the columnar event store. The engines
// depend only on filtering, grouping, per-entity array aggregation and
// column-labeled rows; everything dialect-specific stays behind this
// interface.
type Executor interface {
	Query(ctx context.Context, spec QuerySpec) ([]Row, error)
}

// EventWriter appends tracked events to the store.
type EventWriter interface {
	InsertEvents(ctx context.Context, events []*models.Event) error
}

// =============================================
// CACHE
// =============================================

// Cache is the optional result cache collaborator, keyed by request shape.
// Implementations must swallow their own failures: a broken cache degrades
// to a miss, never to an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	InvalidateAll(ctx context.Context) error
}

// =============================================
// CHART / DASHBOARD REPOSITORIES
// =============================================

// ChartRepo persists saved chart configurations.
type ChartRepo interface {
	ListAll(ctx context.Context) ([]*models.Chart, error)
	GetByID(ctx context.Context, id string) (*models.Chart, error)
	Upsert(ctx context.Context, c *models.Chart) error
	Delete(ctx context.Context, id string) error
}

// DashboardRepo persists dashboards referencing saved charts.
type DashboardRepo interface {
	ListAll(ctx context.Context) ([]*models.Dashboard, error)
	GetByID(ctx context.Context, id string) (*models.Dashboard, error)
	Upsert(ctx context.Context, d *models.Dashboard) error
	Delete(ctx context.Context, id string) error
}
