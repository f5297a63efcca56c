package query_test

import (
	"strings"
	"testing"

	"github.com/lumalytics/luma/internal/models"
	"github.com/lumalytics/luma/internal/query"
)

func compile(t *testing.T, f models.PropertyFilter) query.Fragment {
	t.Helper()
	frag, _ := query.CompileFilterGroup(query.DefaultSchema(), models.FilterGroup{
		Filters: []models.PropertyFilter{f},
	})
	return frag
}

func TestCompileFilterGroup_Empty(t *testing.T) {
	frag, props := query.CompileFilterGroup(query.DefaultSchema(), models.FilterGroup{})
	if frag.SQL != "1=1" {
		t.Fatalf("empty group: got %q", frag.SQL)
	}
	if len(frag.Args) != 0 || len(props) != 0 {
		t.Fatalf("empty group must bind nothing, got args=%v props=%v", frag.Args, props)
	}
}

func TestCompileFilterGroup_DropsEmptyProperty(t *testing.T) {
	frag, _ := query.CompileFilterGroup(query.DefaultSchema(), models.FilterGroup{
		Filters: []models.PropertyFilter{
			{Property: "", Operator: models.OpEquals, Value: "x"},
		},
	})
	if frag.SQL != "1=1" {
		t.Fatalf("group of property-less filters must match everything, got %q", frag.SQL)
	}
}

func TestCompileFilter_EqualsCaseInsensitive(t *testing.T) {
	frag := compile(t, models.PropertyFilter{Property: "geo_country", Operator: models.OpEquals, Value: "US"})
	if frag.SQL != "lowerUTF8(geo_country) = lowerUTF8(?)" {
		t.Fatalf("equals: got %q", frag.SQL)
	}
	if len(frag.Args) != 1 || frag.Args[0] != "US" {
		t.Fatalf("equals args: got %v", frag.Args)
	}
}

func TestCompileFilter_BlobPropertyExtraction(t *testing.T) {
	frag := compile(t, models.PropertyFilter{Property: "plan", Operator: models.OpEquals, Value: "pro"})
	if !strings.Contains(frag.SQL, "JSONExtractString(properties, 'plan')") {
		t.Fatalf("non-flat property must extract from blob, got %q", frag.SQL)
	}
}

func TestCompileFilter_NumericComparisonCoerces(t *testing.T) {
	frag := compile(t, models.PropertyFilter{Property: "amount", Operator: models.OpGreaterThan, Value: "9.5"})
	if !strings.Contains(frag.SQL, "toFloat64OrZero(") || !strings.Contains(frag.SQL, "> ?") {
		t.Fatalf("greater_than: got %q", frag.SQL)
	}
	if frag.Args[0] != 9.5 {
		t.Fatalf("greater_than arg: got %v", frag.Args)
	}
}

func TestCompileFilter_BetweenMissingUpperBoundMatchesNothing(t *testing.T) {
	frag := compile(t, models.PropertyFilter{Property: "amount", Operator: models.OpBetween, Value: "1"})
	if frag.SQL != "0=1" {
		t.Fatalf("between without value2: got %q", frag.SQL)
	}
}

func TestCompileFilter_Between(t *testing.T) {
	frag := compile(t, models.PropertyFilter{Property: "amount", Operator: models.OpBetween, Value: "1", Value2: "10"})
	if !strings.Contains(frag.SQL, "BETWEEN ? AND ?") {
		t.Fatalf("between: got %q", frag.SQL)
	}
	if frag.Args[0] != 1.0 || frag.Args[1] != 10.0 {
		t.Fatalf("between args: got %v", frag.Args)
	}
}

func TestCompileFilter_InList(t *testing.T) {
	frag := compile(t, models.PropertyFilter{Property: "plan", Operator: models.OpIn, Value: "pro, free ,"})
	if len(frag.Args) != 2 {
		t.Fatalf("in list must trim and drop empties, got %v", frag.Args)
	}
	if !strings.Contains(frag.SQL, "IN (lowerUTF8(?), lowerUTF8(?))") {
		t.Fatalf("in: got %q", frag.SQL)
	}
}

func TestCompileFilter_EmptyInList(t *testing.T) {
	in := compile(t, models.PropertyFilter{Property: "plan", Operator: models.OpIn, Value: " , "})
	if in.SQL != "0=1" {
		t.Fatalf("empty in list must match nothing, got %q", in.SQL)
	}
	notIn := compile(t, models.PropertyFilter{Property: "plan", Operator: models.OpNotIn, Value: ""})
	if notIn.SQL != "1=1" {
		t.Fatalf("empty not_in list must match everything, got %q", notIn.SQL)
	}
}

func TestCompileFilter_RegexCaseInsensitive(t *testing.T) {
	frag := compile(t, models.PropertyFilter{Property: "plan", Operator: models.OpRegex, Value: "^pro"})
	if frag.Args[0] != "(?i)^pro" {
		t.Fatalf("regex must be case-insensitive by convention, got %v", frag.Args)
	}
}

func TestCompileFilter_Emptiness(t *testing.T) {
	empty := compile(t, models.PropertyFilter{Property: "plan", Operator: models.OpIsEmpty})
	if !strings.HasSuffix(empty.SQL, " = ''") || len(empty.Args) != 0 {
		t.Fatalf("is_empty: got %q args=%v", empty.SQL, empty.Args)
	}
	notEmpty := compile(t, models.PropertyFilter{Property: "plan", Operator: models.OpIsNotEmpty})
	if !strings.HasSuffix(notEmpty.SQL, " != ''") {
		t.Fatalf("is_not_empty: got %q", notEmpty.SQL)
	}
}

func TestCompileFilterGroup_OrParenthesized(t *testing.T) {
	frag, props := query.CompileFilterGroup(query.DefaultSchema(), models.FilterGroup{
		Logic: models.LogicOr,
		Filters: []models.PropertyFilter{
			{Property: "plan", Operator: models.OpEquals, Value: "pro"},
			{Property: "plan", Operator: models.OpEquals, Value: "team"},
		},
	})
	if !strings.HasPrefix(frag.SQL, "(") || !strings.HasSuffix(frag.SQL, ")") {
		t.Fatalf("multi-filter OR must parenthesize, got %q", frag.SQL)
	}
	if !strings.Contains(frag.SQL, " OR ") {
		t.Fatalf("expected OR join, got %q", frag.SQL)
	}
	if len(props) != 2 {
		t.Fatalf("expected both properties referenced, got %v", props)
	}
}

func TestCompileFilterGroup_AndNotParenthesized(t *testing.T) {
	frag, _ := query.CompileFilterGroup(query.DefaultSchema(), models.FilterGroup{
		Filters: []models.PropertyFilter{
			{Property: "plan", Operator: models.OpEquals, Value: "pro"},
			{Property: "geo_country", Operator: models.OpEquals, Value: "US"},
		},
	})
	if strings.HasPrefix(frag.SQL, "(") {
		t.Fatalf("AND group needs no outer parens, got %q", frag.SQL)
	}
	if !strings.Contains(frag.SQL, " AND ") {
		t.Fatalf("expected AND join, got %q", frag.SQL)
	}
}
