package models

// ===========================================
// FILTERS
// ===========================================

// FilterOperator enumerates the supported property comparison operators.
type FilterOperator string

const (
	OpEquals             FilterOperator = "equals"
	OpNotEquals          FilterOperator = "not_equals"
	OpContains           FilterOperator = "contains"
	OpNotContains        FilterOperator = "not_contains"
	OpStartsWith         FilterOperator = "starts_with"
	OpEndsWith           FilterOperator = "ends_with"
	OpRegex              FilterOperator = "regex"
	OpIn                 FilterOperator = "in"
	OpNotIn              FilterOperator = "not_in"
	OpGreaterThan        FilterOperator = "greater_than"
	OpLessThan           FilterOperator = "less_than"
	OpGreaterThanOrEqual FilterOperator = "greater_than_or_equal"
	OpLessThanOrEqual    FilterOperator = "less_than_or_equal"
	OpBetween            FilterOperator = "between"
	OpIsEmpty            FilterOperator = "is_empty"
	OpIsNotEmpty         FilterOperator = "is_not_empty"
)

// PropertyFilter is a single condition on one event property.
// Value2 is only meaningful for the "between" operator; "in"/"not_in"
// treat Value as a comma-separated list.
type PropertyFilter struct {
	Property string         `json:"property"`
	Operator FilterOperator `json:"operator"`
	Value    string         `json:"value"`
	Value2   string         `json:"value2,omitempty"`
}

// FilterLogic combines multiple filters.
type FilterLogic string

const (
	LogicAnd FilterLogic = "AND"
	LogicOr  FilterLogic = "OR"
)

// FilterGroup is an ordered list of filters plus combination logic.
// An empty filter list always matches.
type FilterGroup struct {
	Filters []PropertyFilter `json:"filters,omitempty"`
	Logic   FilterLogic      `json:"logic,omitempty"`
}

// ===========================================
// METRICS
// ===========================================

// MetricType enumerates the supported aggregation kinds.
type MetricType string

const (
	MetricTotal          MetricType = "total"
	MetricUniqueEntities MetricType = "unique_entities"
	MetricCountDistinct  MetricType = "count_distinct"
	MetricSum            MetricType = "sum"
	MetricAverage        MetricType = "average"
	MetricMin            MetricType = "min"
	MetricMax            MetricType = "max"
)

// MetricSpec selects how step/series values are aggregated. Property is
// required for every type except total and unique_entities.
type MetricSpec struct {
	Type     MetricType `json:"type"`
	Property string     `json:"property,omitempty"`
}

// RequiresProperty reports whether this metric type needs a property.
func (m MetricSpec) RequiresProperty() bool {
	switch m.Type {
	case MetricTotal, MetricUniqueEntities:
		return false
	}
	return true
}

// ===========================================
// BREAKDOWN
// ===========================================

// Granularity buckets a date-valued property or a trend series.
type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityWeekly  Granularity = "weekly"
	GranularityMonthly Granularity = "monthly"
)

// BreakdownProperty is one component of a composite segment key.
// Granularity is only honored for date/time-valued properties.
type BreakdownProperty struct {
	Property    string      `json:"property"`
	Granularity Granularity `json:"granularity,omitempty"`
}

// BreakdownSpec is an ordered list of up to 3 breakdown properties.
type BreakdownSpec []BreakdownProperty

// ===========================================
// DATE RANGE
// ===========================================

// DateRange bounds a computation, inclusive of both days ("2006-01-02").
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ===========================================
// FUNNEL
// ===========================================

// FunnelStepSpec defines one stage of an ordered conversion sequence.
type FunnelStepSpec struct {
	Source  string      `json:"source"`
	Event   string      `json:"event"`
	Name    string      `json:"name,omitempty"`
	Filters FilterGroup `json:"filters,omitempty"`
}

// FunnelStepResult is the computed outcome for a single funnel step.
// Step 1 always reports ConversionRate 100 and DropOffRate 0.
type FunnelStepResult struct {
	Step           int     `json:"step"`
	StepName       string  `json:"step_name"`
	MetricValue    float64 `json:"metric_value"`
	ConversionRate float64 `json:"conversion_rate"`
	DropOffRate    float64 `json:"drop_off_rate"`
	Segment        string  `json:"segment,omitempty"`
}

// FunnelBreakdown is one segment's full funnel, ranked by step-1 metric.
type FunnelBreakdown struct {
	SegmentName string             `json:"segment_name"`
	Steps       []FunnelStepResult `json:"steps"`
}

// ===========================================
// TRENDS
// ===========================================

// TrendCombination is one (source, event, filters) line of a trend chart.
type TrendCombination struct {
	Source  string      `json:"source"`
	Event   string      `json:"event"`
	Name    string      `json:"name,omitempty"`
	Filters FilterGroup `json:"filters,omitempty"`
}

// TrendPoint is a single bucketed value.
type TrendPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// TrendSeries is the full series for one combination.
type TrendSeries struct {
	Name   string       `json:"name"`
	Points []TrendPoint `json:"points"`
}

// TrendBreakdown is one segment's series within a single combination.
type TrendBreakdown struct {
	SegmentName string       `json:"segment_name"`
	Series      []TrendPoint `json:"series"`
}

// ===========================================
// RETENTION
// ===========================================

// RetentionConfig drives a cohort retention computation.
type RetentionConfig struct {
	Source          string    `json:"source"`
	ActivationEvent string    `json:"activation_event"`
	ReturnEvent     string    `json:"return_event"`
	DateRange       DateRange `json:"date_range"`
	Periods         []int     `json:"periods,omitempty"` // days; defaults applied by the engine
	SegmentProperty string    `json:"segment_property,omitempty"`
	SegmentValue    string    `json:"segment_value,omitempty"`
}

// RetentionPoint is retention at a single day offset.
type RetentionPoint struct {
	Day           int     `json:"day"`
	Retained      int     `json:"retained"`
	RetentionRate float64 `json:"retention_rate"`
}

// RetentionCohort is one cohort's curve. Zero-size cohorts are never emitted.
type RetentionCohort struct {
	CohortDate string           `json:"cohort_date"`
	CohortSize int              `json:"cohort_size"`
	Points     []RetentionPoint `json:"points"`
}

// ===========================================
// PATHS
// ===========================================

// PathConfig drives a path/sequence analysis starting from StartEvent.
type PathConfig struct {
	Source         string    `json:"source"`
	StartEvent     string    `json:"start_event"`
	EndEvent       string    `json:"end_event,omitempty"`
	OnlyReachEnd   bool      `json:"only_reach_end,omitempty"`
	DateRange      DateRange `json:"date_range"`
	MaxDepth       int       `json:"max_depth,omitempty"`  // default 5
	TopPaths       int       `json:"top_paths,omitempty"`  // default 10
	ExcludedEvents []string  `json:"excluded_events,omitempty"`
}

// PathSequence is a deduplicated journey shared by Count entities.
// Sequences are always length >= 2 with no consecutive repeats.
type PathSequence struct {
	Sequence   []string `json:"sequence"`
	Count      int      `json:"count"`
	Percentage float64  `json:"percentage"`
}

// PathNode is a traversal-graph node keyed by (event, position) so a
// revisited event never collapses distinct positions into one node.
type PathNode struct {
	ID         string  `json:"id"` // "<position>:<event>"
	Event      string  `json:"event"`
	Position   int     `json:"position"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// PathEdge is a directed traversal-graph edge between positioned nodes.
type PathEdge struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// PathResult bundles the full path analysis output.
type PathResult struct {
	Nodes         []PathNode     `json:"nodes"`
	Edges         []PathEdge     `json:"edges"`
	Sequences     []PathSequence `json:"sequences"`
	TotalEntities int            `json:"total_entities"`
}
