package query_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/lumalytics/luma/internal/models"
	"github.com/lumalytics/luma/internal/query"
)

func TestCompileSegment_SingleProperty(t *testing.T) {
	key, nonEmpty, err := query.CompileSegment(query.DefaultSchema(), models.BreakdownSpec{
		{Property: "geo_country"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "geo_country" {
		t.Fatalf("single flat property needs no concat, got %q", key)
	}
	if nonEmpty != "geo_country != ''" {
		t.Fatalf("non-empty predicate: got %q", nonEmpty)
	}
}

func TestCompileSegment_CompositeKey(t *testing.T) {
	key, nonEmpty, err := query.CompileSegment(query.DefaultSchema(), models.BreakdownSpec{
		{Property: "geo_country"},
		{Property: "plan"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(key, "concat(") || !strings.Contains(key, "' | '") {
		t.Fatalf("composite key must join with the separator, got %q", key)
	}
	if !strings.Contains(nonEmpty, " AND ") {
		t.Fatalf("both components must be checked non-empty, got %q", nonEmpty)
	}
}

func TestCompileSegment_TooManyProperties(t *testing.T) {
	_, _, err := query.CompileSegment(query.DefaultSchema(), models.BreakdownSpec{
		{Property: "a"}, {Property: "b"}, {Property: "c"}, {Property: "d"},
	})
	var cfgErr *query.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError for 4 properties, got %v", err)
	}
}

func TestCompileSegment_EmptyBreakdown(t *testing.T) {
	_, _, err := query.CompileSegment(query.DefaultSchema(), nil)
	if err == nil {
		t.Fatal("expected error for empty breakdown")
	}
}

func TestCompileSegment_DateBucketing(t *testing.T) {
	key, nonEmpty, err := query.CompileSegment(query.DefaultSchema(), models.BreakdownSpec{
		{Property: "signup_date", Granularity: models.GranularityWeekly},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(key, "toStartOfWeek(") {
		t.Fatalf("weekly granularity must bucket, got %q", key)
	}
	// Bucketed components never produce empty strings, so the predicate
	// must not exclude anything.
	if nonEmpty != "1=1" {
		t.Fatalf("date-bucketed component is exempt from non-empty check, got %q", nonEmpty)
	}
}

func TestCompileSegment_MonthlyBucketing(t *testing.T) {
	key, _, err := query.CompileSegment(query.DefaultSchema(), models.BreakdownSpec{
		{Property: "signup_date", Granularity: models.GranularityMonthly},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(key, "toStartOfMonth(") {
		t.Fatalf("monthly granularity must bucket, got %q", key)
	}
}

func TestCompileSegment_MixedBucketedAndPlain(t *testing.T) {
	_, nonEmpty, err := query.CompileSegment(query.DefaultSchema(), models.BreakdownSpec{
		{Property: "signup_date", Granularity: models.GranularityMonthly},
		{Property: "geo_country"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nonEmpty != "geo_country != ''" {
		t.Fatalf("only the plain component is checked, got %q", nonEmpty)
	}
}

func TestSplitSegmentKey(t *testing.T) {
	parts := query.SplitSegmentKey("US | pro | 2024-01-01")
	if len(parts) != 3 || parts[0] != "US" || parts[1] != "pro" || parts[2] != "2024-01-01" {
		t.Fatalf("split: got %v", parts)
	}
}
