package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lumalytics/luma/internal/models"
)

// PostgresChartRepo implements ChartRepo using PostgreSQL. The chart spec
// is stored as opaque JSONB; its shape is the compute endpoints' concern.
type PostgresChartRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresChartRepo(pool *pgxpool.Pool) *PostgresChartRepo {
	return &PostgresChartRepo{pool: pool}
}

func (r *PostgresChartRepo) ListAll(ctx context.Context) ([]*models.Chart, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, type, spec, created_at, updated_at
		FROM charts ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list charts: %w", err)
	}
	defer rows.Close()

	var charts []*models.Chart
	for rows.Next() {
		var c models.Chart
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.Spec, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		charts = append(charts, &c)
	}
	return charts, rows.Err()
}

func (r *PostgresChartRepo) GetByID(ctx context.Context, id string) (*models.Chart, error) {
	var c models.Chart
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, type, spec, created_at, updated_at
		FROM charts WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Type, &c.Spec, &c.CreatedAt, &c.UpdatedAt)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chart: %w", err)
	}
	return &c, nil
}

func (r *PostgresChartRepo) Upsert(ctx context.Context, c *models.Chart) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = time.Now().UTC()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO charts (id, name, type, spec, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			spec = EXCLUDED.spec,
			updated_at = EXCLUDED.updated_at
	`, c.ID, c.Name, c.Type, c.Spec, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert chart: %w", err)
	}
	return nil
}

func (r *PostgresChartRepo) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM charts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete chart: %w", err)
	}
	return nil
}

// PostgresDashboardRepo implements DashboardRepo using PostgreSQL.
type PostgresDashboardRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresDashboardRepo(pool *pgxpool.Pool) *PostgresDashboardRepo {
	return &PostgresDashboardRepo{pool: pool}
}

func (r *PostgresDashboardRepo) ListAll(ctx context.Context) ([]*models.Dashboard, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, chart_ids, created_at, updated_at
		FROM dashboards ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dashboards: %w", err)
	}
	defer rows.Close()

	var dashboards []*models.Dashboard
	for rows.Next() {
		var d models.Dashboard
		if err := rows.Scan(&d.ID, &d.Name, &d.ChartIDs, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		dashboards = append(dashboards, &d)
	}
	return dashboards, rows.Err()
}

func (r *PostgresDashboardRepo) GetByID(ctx context.Context, id string) (*models.Dashboard, error) {
	var d models.Dashboard
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, chart_ids, created_at, updated_at
		FROM dashboards WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.ChartIDs, &d.CreatedAt, &d.UpdatedAt)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dashboard: %w", err)
	}
	return &d, nil
}

func (r *PostgresDashboardRepo) Upsert(ctx context.Context, d *models.Dashboard) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
		d.CreatedAt = time.Now().UTC()
	}
	d.UpdatedAt = time.Now().UTC()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO dashboards (id, name, chart_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			chart_ids = EXCLUDED.chart_ids,
			updated_at = EXCLUDED.updated_at
	`, d.ID, d.Name, d.ChartIDs, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert dashboard: %w", err)
	}
	return nil
}

func (r *PostgresDashboardRepo) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM dashboards WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dashboard: %w", err)
	}
	return nil
}
