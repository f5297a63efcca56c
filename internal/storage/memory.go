package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lumalytics/luma/internal/models"
)

// InMemoryChartRepo provides chart storage without PostgreSQL.
type InMemoryChartRepo struct {
	mu     sync.RWMutex
	charts map[string]*models.Chart
}

func NewInMemoryChartRepo() *InMemoryChartRepo {
	return &InMemoryChartRepo{charts: make(map[string]*models.Chart)}
}

func (r *InMemoryChartRepo) ListAll(ctx context.Context) ([]*models.Chart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Chart, 0, len(r.charts))
	for _, c := range r.charts {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *InMemoryChartRepo) GetByID(ctx context.Context, id string) (*models.Chart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.charts[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *InMemoryChartRepo) Upsert(ctx context.Context, c *models.Chart) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = time.Now().UTC()

	cp := *c
	r.charts[c.ID] = &cp
	return nil
}

func (r *InMemoryChartRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.charts, id)
	return nil
}

// InMemoryDashboardRepo provides dashboard storage without PostgreSQL.
type InMemoryDashboardRepo struct {
	mu         sync.RWMutex
	dashboards map[string]*models.Dashboard
}

func NewInMemoryDashboardRepo() *InMemoryDashboardRepo {
	return &InMemoryDashboardRepo{dashboards: make(map[string]*models.Dashboard)}
}

func (r *InMemoryDashboardRepo) ListAll(ctx context.Context) ([]*models.Dashboard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Dashboard, 0, len(r.dashboards))
	for _, d := range r.dashboards {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *InMemoryDashboardRepo) GetByID(ctx context.Context, id string) (*models.Dashboard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.dashboards[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r *InMemoryDashboardRepo) Upsert(ctx context.Context, d *models.Dashboard) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
		d.CreatedAt = time.Now().UTC()
	}
	d.UpdatedAt = time.Now().UTC()

	cp := *d
	r.dashboards[d.ID] = &cp
	return nil
}

func (r *InMemoryDashboardRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.dashboards, id)
	return nil
}
