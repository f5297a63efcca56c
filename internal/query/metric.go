package query

import (
	"math"
	"strconv"
	"strings"

	"github.com/lumalytics/luma/internal/models"
)

// CompileMetric translates a MetricSpec into an aggregation expression.
// Property-requiring metrics fail fast with a ConfigurationError before any
// query is dispatched.
//
// Numeric policy: sum treats non-numeric stored values as zero;
// average/min/max exclude them from the aggregate instead. Zero is neutral
// for a sum but would corrupt the others, so the asymmetry is deliberate.
func CompileMetric(s *Schema, m models.MetricSpec) (Fragment, error) {
	if m.RequiresProperty() && m.Property == "" {
		return Fragment{}, Configf("metric %q requires a property", m.Type)
	}

	switch m.Type {
	case models.MetricTotal:
		return Fragment{SQL: "count()"}, nil
	case models.MetricUniqueEntities:
		return Fragment{SQL: "uniqExact(" + s.EntityExpr + ")"}, nil
	case models.MetricCountDistinct:
		return Fragment{SQL: "uniqExact(" + s.PropertyExpr(m.Property) + ")"}, nil
	case models.MetricSum:
		return Fragment{SQL: "sum(toFloat64OrZero(" + s.PropertyExpr(m.Property) + "))"}, nil
	case models.MetricAverage:
		return Fragment{SQL: "avg(toFloat64OrNull(" + s.PropertyExpr(m.Property) + "))"}, nil
	case models.MetricMin:
		return Fragment{SQL: "min(toFloat64OrNull(" + s.PropertyExpr(m.Property) + "))"}, nil
	case models.MetricMax:
		return Fragment{SQL: "max(toFloat64OrNull(" + s.PropertyExpr(m.Property) + "))"}, nil
	}
	return Fragment{}, Configf("unknown metric type %q", m.Type)
}

// ValidateMetric runs the same pre-dispatch check without building SQL.
func ValidateMetric(m models.MetricSpec) error {
	_, err := CompileMetric(DefaultSchema(), m)
	return err
}

// Fold accumulates a metric over individually fetched rows. The funnel
// engine uses it when step values are derived from an already grouped
// per-entity scan rather than a store-side aggregate. The numeric coercion
// policy matches CompileMetric exactly.
type Fold struct {
	spec models.MetricSpec

	rows     int
	entities map[string]bool
	distinct map[string]bool
	sum      float64
	count    int
	min      float64
	max      float64
}

// NewFold creates a fold for the given metric spec.
func NewFold(spec models.MetricSpec) *Fold {
	return &Fold{
		spec:     spec,
		entities: make(map[string]bool),
		distinct: make(map[string]bool),
		min:      math.Inf(1),
		max:      math.Inf(-1),
	}
}

// Add feeds one matching row into the fold. value is the raw stored value
// of the metric property (ignored for total/unique_entities).
func (f *Fold) Add(entity, value string) {
	f.rows++
	f.entities[entity] = true
	f.distinct[value] = true

	num, numeric := parseNumeric(value)
	switch f.spec.Type {
	case models.MetricSum:
		// Non-numeric sums as zero.
		f.sum += num
	case models.MetricAverage:
		if numeric {
			f.sum += num
			f.count++
		}
	case models.MetricMin:
		if numeric && num < f.min {
			f.min = num
		}
	case models.MetricMax:
		if numeric && num > f.max {
			f.max = num
		}
	}
}

// Value returns the folded metric.
func (f *Fold) Value() float64 {
	switch f.spec.Type {
	case models.MetricTotal:
		return float64(f.rows)
	case models.MetricUniqueEntities:
		return float64(len(f.entities))
	case models.MetricCountDistinct:
		return float64(len(f.distinct))
	case models.MetricSum:
		return f.sum
	case models.MetricAverage:
		if f.count == 0 {
			return 0
		}
		return f.sum / float64(f.count)
	case models.MetricMin:
		if math.IsInf(f.min, 1) {
			return 0
		}
		return f.min
	case models.MetricMax:
		if math.IsInf(f.max, -1) {
			return 0
		}
		return f.max
	}
	return 0
}

func parseNumeric(v string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
