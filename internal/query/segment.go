package query

import (
	"strings"

	"github.com/lumalytics/luma/internal/models"
)

// SegmentSeparator joins composite segment key components. Splitting a key
// on it recovers the components in the caller's original property order.
const SegmentSeparator = " | "

// MaxBreakdownProperties bounds the composite key width.
const MaxBreakdownProperties = 3

// CompileSegment translates an ordered breakdown into a single composite
// key expression plus the "all components non-empty" predicate used to
// exclude rows that would land in an unnamed segment.
//
// Components with weekly/monthly granularity are bucketed to the start of
// their week/month first; daily is a no-op. Date-bucketed components are
// exempt from the non-empty check.
func CompileSegment(s *Schema, breakdown models.BreakdownSpec) (keyExpr, nonEmptyPred string, err error) {
	if len(breakdown) == 0 {
		return "", "", Configf("breakdown requires at least one property")
	}
	if len(breakdown) > MaxBreakdownProperties {
		return "", "", Configf("breakdown supports at most %d properties", MaxBreakdownProperties)
	}

	components := make([]string, 0, len(breakdown))
	var nonEmpty []string

	for _, b := range breakdown {
		if b.Property == "" {
			return "", "", Configf("breakdown property must not be empty")
		}
		expr := s.PropertyExpr(b.Property)

		switch b.Granularity {
		case models.GranularityWeekly:
			components = append(components, "toString(toStartOfWeek(parseDateTimeBestEffortOrZero("+expr+")))")
		case models.GranularityMonthly:
			components = append(components, "toString(toStartOfMonth(parseDateTimeBestEffortOrZero("+expr+")))")
		default:
			components = append(components, expr)
			nonEmpty = append(nonEmpty, expr+" != ''")
		}
	}

	if len(components) == 1 {
		keyExpr = components[0]
	} else {
		joined := strings.Join(components, ", '"+SegmentSeparator+"', ")
		keyExpr = "concat(" + joined + ")"
	}

	nonEmptyPred = "1=1"
	if len(nonEmpty) > 0 {
		nonEmptyPred = strings.Join(nonEmpty, " AND ")
	}
	return keyExpr, nonEmptyPred, nil
}

// SplitSegmentKey parses a composite segment key back into its components,
// in the same order the breakdown properties were given.
func SplitSegmentKey(key string) []string {
	return strings.Split(key, SegmentSeparator)
}
