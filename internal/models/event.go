package models

import (
	"fmt"
	"time"
)

// ===========================================
// TRACKED EVENT
// ===========================================

// Event is a single tracked product event as written to the event store.
// Properties beyond the flat columns live in the JSON blob column.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Identity. UserID may be empty for anonymous traffic; DeviceID is the
	// fallback identifier.
	UserID   string `json:"user_id,omitempty"`
	DeviceID string `json:"device_id,omitempty"`

	// Event info
	Name   string `json:"name"`
	Source string `json:"source,omitempty"` // logical event table, e.g. "events"

	// Context
	SessionID string `json:"session_id,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// Geo (filled by ingest enrichment when enabled)
	GeoCountry string `json:"geo_country,omitempty"`
	GeoRegion  string `json:"geo_region,omitempty"`
	GeoCity    string `json:"geo_city,omitempty"`

	// Free-form properties
	Properties map[string]string `json:"properties,omitempty"`
}

// Validate checks the minimum fields required to store an event.
func (e *Event) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("event name is required")
	}
	if e.UserID == "" && e.DeviceID == "" {
		return fmt.Errorf("user_id or device_id is required")
	}
	return nil
}
