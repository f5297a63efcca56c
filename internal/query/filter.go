package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lumalytics/luma/internal/models"
)

// Fragment is a compiled SQL snippet with its bound arguments.
type Fragment struct {
	SQL  string
	Args []any
}

// CompileFilterGroup translates a FilterGroup into a boolean predicate over
// event rows, plus the set of logical properties the predicate references.
//
// Filters with an empty property are silently dropped. An empty group
// compiles to "1=1". When OR combines more than one filter the whole
// fragment is parenthesized so it composes safely under an outer AND.
func CompileFilterGroup(s *Schema, g models.FilterGroup) (Fragment, []string) {
	var (
		parts []string
		args  []any
		props []string
	)

	for _, f := range g.Filters {
		if f.Property == "" {
			continue
		}
		frag := compileFilter(s, f)
		if frag.SQL == "" {
			continue
		}
		parts = append(parts, frag.SQL)
		args = append(args, frag.Args...)
		props = append(props, f.Property)
	}

	if len(parts) == 0 {
		return Fragment{SQL: "1=1"}, nil
	}

	logic := " AND "
	if g.Logic == models.LogicOr {
		logic = " OR "
	}

	sql := strings.Join(parts, logic)
	if g.Logic == models.LogicOr && len(parts) > 1 {
		sql = "(" + sql + ")"
	}
	return Fragment{SQL: sql, Args: args}, props
}

func compileFilter(s *Schema, f models.PropertyFilter) Fragment {
	expr := s.PropertyExpr(f.Property)

	switch f.Operator {
	case models.OpEquals:
		return Fragment{SQL: "lowerUTF8(" + expr + ") = lowerUTF8(?)", Args: []any{f.Value}}
	case models.OpNotEquals:
		return Fragment{SQL: "lowerUTF8(" + expr + ") != lowerUTF8(?)", Args: []any{f.Value}}
	case models.OpContains:
		return Fragment{SQL: "positionCaseInsensitiveUTF8(" + expr + ", ?) > 0", Args: []any{f.Value}}
	case models.OpNotContains:
		return Fragment{SQL: "positionCaseInsensitiveUTF8(" + expr + ", ?) = 0", Args: []any{f.Value}}
	case models.OpStartsWith:
		return Fragment{SQL: "startsWith(lowerUTF8(" + expr + "), lowerUTF8(?))", Args: []any{f.Value}}
	case models.OpEndsWith:
		return Fragment{SQL: "endsWith(lowerUTF8(" + expr + "), lowerUTF8(?))", Args: []any{f.Value}}
	case models.OpRegex:
		// Case-insensitive by convention.
		return Fragment{SQL: "match(" + expr + ", ?)", Args: []any{"(?i)" + f.Value}}
	case models.OpIn, models.OpNotIn:
		return compileListFilter(expr, f)
	case models.OpGreaterThan:
		return numericFilter(expr, ">", f.Value)
	case models.OpLessThan:
		return numericFilter(expr, "<", f.Value)
	case models.OpGreaterThanOrEqual:
		return numericFilter(expr, ">=", f.Value)
	case models.OpLessThanOrEqual:
		return numericFilter(expr, "<=", f.Value)
	case models.OpBetween:
		// A between with no upper bound matches nothing. Deliberate edge
		// case, not an error.
		if f.Value2 == "" {
			return Fragment{SQL: "0=1"}
		}
		return Fragment{
			SQL:  "toFloat64OrZero(" + expr + ") BETWEEN ? AND ?",
			Args: []any{coerceFloat(f.Value), coerceFloat(f.Value2)},
		}
	case models.OpIsEmpty:
		return Fragment{SQL: expr + " = ''"}
	case models.OpIsNotEmpty:
		return Fragment{SQL: expr + " != ''"}
	}
	return Fragment{}
}

func compileListFilter(expr string, f models.PropertyFilter) Fragment {
	values := splitList(f.Value)
	if len(values) == 0 {
		if f.Operator == models.OpNotIn {
			return Fragment{SQL: "1=1"}
		}
		return Fragment{SQL: "0=1"}
	}

	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "lowerUTF8(?)"
		args[i] = v
	}

	op := "IN"
	if f.Operator == models.OpNotIn {
		op = "NOT IN"
	}
	sql := fmt.Sprintf("lowerUTF8(%s) %s (%s)", expr, op, strings.Join(placeholders, ", "))
	return Fragment{SQL: sql, Args: args}
}

// numericFilter coerces the stored value to a float, treating non-numeric
// values as 0. Lossy by contract.
func numericFilter(expr, op, value string) Fragment {
	return Fragment{
		SQL:  "toFloat64OrZero(" + expr + ") " + op + " ?",
		Args: []any{coerceFloat(value)},
	}
}

func coerceFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
