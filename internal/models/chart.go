package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ===========================================
// SAVED CHARTS
// ===========================================

// ChartType enumerates the analysis kinds a chart can reference.
type ChartType string

const (
	ChartFunnel    ChartType = "funnel"
	ChartTrend     ChartType = "trend"
	ChartRetention ChartType = "retention"
	ChartPaths     ChartType = "paths"
)

// Chart is a saved analysis configuration. Spec holds the declarative
// request body for the matching compute endpoint; the engine never reads
// charts, it only receives the decoded spec per request.
type Chart struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      ChartType       `json:"type"`
	Spec      json.RawMessage `json:"spec"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Validate checks required chart fields.
func (c *Chart) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("chart name is required")
	}
	switch c.Type {
	case ChartFunnel, ChartTrend, ChartRetention, ChartPaths:
	default:
		return fmt.Errorf("unknown chart type %q", c.Type)
	}
	if len(c.Spec) == 0 {
		return fmt.Errorf("chart spec is required")
	}
	return nil
}

// ===========================================
// DASHBOARDS
// ===========================================

// Dashboard is an ordered collection of chart references.
type Dashboard struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ChartIDs  []string  `json:"chart_ids,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks required dashboard fields.
func (d *Dashboard) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("dashboard name is required")
	}
	return nil
}
