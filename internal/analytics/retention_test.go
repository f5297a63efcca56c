package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lumalytics/luma/internal/models"
	"github.com/lumalytics/luma/internal/query"
	"github.com/lumalytics/luma/internal/storage"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestComputeRetention_RequiresEvents(t *testing.T) {
	e := newTestEngine(&fakeExecutor{}, nil)
	_, err := e.ComputeRetention(context.Background(), models.RetentionConfig{
		ActivationEvent: "signup",
		DateRange:       models.DateRange{Start: "2024-01-01", End: "2024-01-31"},
	})
	var cfgErr *query.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestComputeRetention_CohortCurve(t *testing.T) {
	// 10 entities activate on the same day, 4 of them return the next day.
	store := &fakeExecutor{
		respond: func(spec storage.QuerySpec) ([]storage.Row, error) {
			switch {
			case argsContain(spec, "signup"):
				rows := make([]storage.Row, 0, 10)
				for i := 0; i < 10; i++ {
					rows = append(rows, storage.Row{
						"entity": fmt.Sprintf("u%d", i),
						"cohort": date(2024, 1, 1),
					})
				}
				return rows, nil
			case argsContain(spec, "open"):
				rows := make([]storage.Row, 0, 4)
				for i := 0; i < 4; i++ {
					rows = append(rows, storage.Row{
						"entity": fmt.Sprintf("u%d", i),
						"dates":  []time.Time{date(2024, 1, 2)},
					})
				}
				return rows, nil
			}
			return nil, nil
		},
	}
	e := newTestEngine(store, nil)

	cohorts, err := e.ComputeRetention(context.Background(), models.RetentionConfig{
		ActivationEvent: "signup",
		ReturnEvent:     "open",
		DateRange:       models.DateRange{Start: "2024-01-01", End: "2024-01-31"},
		Periods:         []int{1, 7},
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if store.queryCount() != 2 {
		t.Fatalf("expected activation + return queries, got %d", store.queryCount())
	}

	if len(cohorts) != 1 {
		t.Fatalf("cohorts: got %d", len(cohorts))
	}
	c := cohorts[0]
	if c.CohortDate != "2024-01-01" || c.CohortSize != 10 {
		t.Fatalf("cohort: %+v", c)
	}
	if len(c.Points) != 2 {
		t.Fatalf("points: %+v", c.Points)
	}
	if c.Points[0].Day != 1 || c.Points[0].Retained != 4 || c.Points[0].RetentionRate != 40 {
		t.Fatalf("day 1: %+v", c.Points[0])
	}
	if c.Points[1].Day != 7 || c.Points[1].Retained != 0 || c.Points[1].RetentionRate != 0 {
		t.Fatalf("day 7: %+v", c.Points[1])
	}
}

func TestComputeRetention_EarliestActivationDefinesCohort(t *testing.T) {
	cohorts := map[string]time.Time{
		"u1": date(2024, 1, 1),
		"u2": date(2024, 1, 3),
	}
	returns := map[string][]time.Time{
		// Return before the cohort date is ignored; same-day return is day 0.
		"u1": {date(2023, 12, 31), date(2024, 1, 1), date(2024, 1, 4)},
		"u2": {date(2024, 1, 4)},
	}

	out := buildRetentionCohorts(cohorts, returns, []int{0, 1, 3})
	if len(out) != 2 {
		t.Fatalf("cohorts: %+v", out)
	}

	first := out[0]
	if first.CohortDate != "2024-01-01" || first.CohortSize != 1 {
		t.Fatalf("first cohort: %+v", first)
	}
	if first.Points[0].Retained != 1 { // day 0
		t.Fatalf("day 0: %+v", first.Points[0])
	}
	if first.Points[1].Retained != 0 { // day 1
		t.Fatalf("day 1: %+v", first.Points[1])
	}
	if first.Points[2].Retained != 1 { // day 3
		t.Fatalf("day 3: %+v", first.Points[2])
	}

	second := out[1]
	if second.CohortDate != "2024-01-03" || second.Points[1].Retained != 1 {
		t.Fatalf("second cohort: %+v", second)
	}
}

func TestComputeRetention_SegmentRestriction(t *testing.T) {
	var sawSegmentFilter bool
	store := &fakeExecutor{
		respond: func(spec storage.QuerySpec) ([]storage.Row, error) {
			if strings.Contains(spec.SQL, "lowerUTF8(") && argsContain(spec, "pro") {
				sawSegmentFilter = true
			}
			return nil, nil
		},
	}
	e := newTestEngine(store, nil)

	_, err := e.ComputeRetention(context.Background(), models.RetentionConfig{
		ActivationEvent: "signup",
		ReturnEvent:     "open",
		DateRange:       models.DateRange{Start: "2024-01-01", End: "2024-01-31"},
		SegmentProperty: "plan",
		SegmentValue:    "pro",
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !sawSegmentFilter {
		t.Fatal("segment property/value must restrict the queries")
	}
}
