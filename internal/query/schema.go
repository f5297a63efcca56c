package query

import (
	"fmt"
	"strings"
)

// Schema describes how logical analytics concepts map onto the physical
// event table: which expression identifies an entity, which properties are
// flat columns, and where everything else is extracted from.
type Schema struct {
	// Table is the fully qualified events table, e.g. "analytics.events".
	Table string

	// EntityExpr yields a stable per-entity identifier, falling back to the
	// device identifier when no logged-in identifier exists.
	EntityExpr string

	// TimestampColumn and EventColumn name the ordering and event-name
	// columns.
	TimestampColumn string
	EventColumn     string

	// PropertiesColumn is the JSON blob column holding non-flat properties.
	PropertiesColumn string

	// FlatColumns are logical properties stored as real columns.
	FlatColumns map[string]bool
}

// DefaultSchema returns the stock mapping for the bundled events table.
func DefaultSchema() *Schema {
	return &Schema{
		Table:            "analytics.events",
		EntityExpr:       "if(user_id != '', user_id, device_id)",
		TimestampColumn:  "event_time",
		EventColumn:      "event",
		PropertiesColumn: "properties",
		FlatColumns: map[string]bool{
			"event":       true,
			"user_id":     true,
			"device_id":   true,
			"session_id":  true,
			"geo_country": true,
			"geo_region":  true,
			"geo_city":    true,
			"user_agent":  true,
			"source":      true,
		},
	}
}

// PropertyExpr resolves a logical property name to a SQL expression: either
// the flat column itself or an extraction from the properties blob. Callers
// never need to know which.
func (s *Schema) PropertyExpr(property string) string {
	if s.FlatColumns[property] {
		return property
	}
	return fmt.Sprintf("JSONExtractString(%s, '%s')", s.PropertiesColumn, escapeStringLiteral(property))
}

// TableFor maps a logical source name to a physical table. An empty source
// selects the default table.
func (s *Schema) TableFor(source string) string {
	if source == "" {
		return s.Table
	}
	if i := strings.IndexByte(s.Table, '.'); i >= 0 {
		return s.Table[:i+1] + source
	}
	return source
}

func escapeStringLiteral(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}
