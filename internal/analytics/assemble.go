package analytics

import (
	"sort"
	"time"

	"github.com/lumalytics/luma/internal/models"
	"github.com/lumalytics/luma/internal/query"
)

// This file is the shared result-assembly layer: raw row coercion, derived
// statistics, and segment ranking.

// dateBounds is a parsed date range; end is exclusive (start of the day
// after the inclusive end date).
type dateBounds struct {
	start time.Time
	end   time.Time
}

func parseDateRange(r models.DateRange) (dateBounds, error) {
	if r.Start == "" || r.End == "" {
		return dateBounds{}, query.Configf("date range start and end are required")
	}
	start, err := time.Parse("2006-01-02", r.Start)
	if err != nil {
		return dateBounds{}, query.Configf("invalid start date %q", r.Start)
	}
	end, err := time.Parse("2006-01-02", r.End)
	if err != nil {
		return dateBounds{}, query.Configf("invalid end date %q", r.End)
	}
	if end.Before(start) {
		return dateBounds{}, query.Configf("end date precedes start date")
	}
	return dateBounds{start: start, end: end.AddDate(0, 0, 1)}, nil
}

// ---- Row value coercion ----
//
// The store adapter scans generically, so numeric columns arrive as
// whatever width the store chose. These helpers normalize.

func rowString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case *string:
		if x != nil {
			return *x
		}
	}
	return ""
}

func rowFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case *float64:
		if x != nil {
			return *x
		}
	case uint64:
		return float64(x)
	case uint32:
		return float64(x)
	case int64:
		return float64(x)
	case int32:
		return float64(x)
	case int:
		return float64(x)
	case uint8:
		return float64(x)
	}
	return 0
}

func rowTime(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	return time.Time{}
}

func rowStringSlice(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, len(x))
		for i, e := range x {
			out[i] = rowString(e)
		}
		return out
	}
	return nil
}

func rowInt64Slice(v any) []int64 {
	switch x := v.(type) {
	case []int64:
		return x
	case []uint64:
		out := make([]int64, len(x))
		for i, e := range x {
			out[i] = int64(e)
		}
		return out
	case []uint32:
		out := make([]int64, len(x))
		for i, e := range x {
			out[i] = int64(e)
		}
		return out
	case []int32:
		out := make([]int64, len(x))
		for i, e := range x {
			out[i] = int64(e)
		}
		return out
	case []any:
		out := make([]int64, len(x))
		for i, e := range x {
			out[i] = int64(rowFloat(e))
		}
		return out
	}
	return nil
}

func rowBoolSlice(v any) []bool {
	switch x := v.(type) {
	case []bool:
		return x
	case []uint8:
		out := make([]bool, len(x))
		for i, e := range x {
			out[i] = e != 0
		}
		return out
	case []int64:
		out := make([]bool, len(x))
		for i, e := range x {
			out[i] = e != 0
		}
		return out
	case []any:
		out := make([]bool, len(x))
		for i, e := range x {
			out[i] = rowFloat(e) != 0
		}
		return out
	}
	return nil
}

func rowTimeSlice(v any) []time.Time {
	switch x := v.(type) {
	case []time.Time:
		return x
	case []any:
		out := make([]time.Time, len(x))
		for i, e := range x {
			out[i] = rowTime(e)
		}
		return out
	}
	return nil
}

// ---- Derived statistics ----

// conversionRate computes metric[i] / metric[1] * 100; step 1 is always
// 100 and a zero base yields 0.
func conversionRate(first, current float64) float64 {
	if first == 0 {
		return 0
	}
	return current / first * 100
}

// dropOffRate computes (metric[i-1] - metric[i]) / metric[i-1] * 100 for
// steps past the first; a zero previous step yields 0.
func dropOffRate(prev, current float64) float64 {
	if prev == 0 {
		return 0
	}
	return (prev - current) / prev * 100
}

// assembleFunnelSteps turns per-step metric values into the typed result,
// applying the step-1 invariants (conversion 100, drop-off 0).
func assembleFunnelSteps(steps []models.FunnelStepSpec, values []float64, segment string) []models.FunnelStepResult {
	out := make([]models.FunnelStepResult, len(steps))
	var first float64
	if len(values) > 0 {
		first = values[0]
	}
	for i, spec := range steps {
		name := spec.Name
		if name == "" {
			name = spec.Event
		}
		r := models.FunnelStepResult{
			Step:        i + 1,
			StepName:    name,
			MetricValue: values[i],
			Segment:     segment,
		}
		if i == 0 {
			r.ConversionRate = 100
			r.DropOffRate = 0
		} else {
			r.ConversionRate = conversionRate(first, values[i])
			r.DropOffRate = dropOffRate(values[i-1], values[i])
		}
		out[i] = r
	}
	return out
}

// rankedSegment pairs a segment name with its ranking value.
type rankedSegment struct {
	name  string
	value float64
}

// rankSegments sorts segments descending by value and caps the list.
// Ties break lexicographically so results are deterministic.
func rankSegments(segs []rankedSegment, cap int) []rankedSegment {
	sort.SliceStable(segs, func(i, j int) bool {
		if segs[i].value != segs[j].value {
			return segs[i].value > segs[j].value
		}
		return segs[i].name < segs[j].name
	})
	if len(segs) > cap {
		segs = segs[:cap]
	}
	return segs
}
