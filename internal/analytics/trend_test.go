package analytics

import (
	"context"
	"errors"
	"testing"

	"github.com/lumalytics/luma/internal/models"
	"github.com/lumalytics/luma/internal/query"
	"github.com/lumalytics/luma/internal/storage"
)

func TestEnumerateBuckets_Daily(t *testing.T) {
	bounds, _ := parseDateRange(models.DateRange{Start: "2024-01-01", End: "2024-01-03"})
	buckets := enumerateBuckets(bounds, models.GranularityDaily)
	if len(buckets) != 3 || buckets[0] != "2024-01-01" || buckets[2] != "2024-01-03" {
		t.Fatalf("daily buckets: %v", buckets)
	}
}

func TestEnumerateBuckets_WeeklyAligned(t *testing.T) {
	// 2024-01-03 is a Wednesday; the containing week starts Sunday 2023-12-31.
	bounds, _ := parseDateRange(models.DateRange{Start: "2024-01-03", End: "2024-01-10"})
	buckets := enumerateBuckets(bounds, models.GranularityWeekly)
	if len(buckets) != 2 || buckets[0] != "2023-12-31" || buckets[1] != "2024-01-07" {
		t.Fatalf("weekly buckets: %v", buckets)
	}
}

func TestEnumerateBuckets_Monthly(t *testing.T) {
	bounds, _ := parseDateRange(models.DateRange{Start: "2024-01-15", End: "2024-03-02"})
	buckets := enumerateBuckets(bounds, models.GranularityMonthly)
	if len(buckets) != 3 || buckets[0] != "2024-01-01" || buckets[2] != "2024-03-01" {
		t.Fatalf("monthly buckets: %v", buckets)
	}
}

func TestComputeTrends_ZeroFillsMissingBuckets(t *testing.T) {
	store := &fakeExecutor{
		respond: func(spec storage.QuerySpec) ([]storage.Row, error) {
			return []storage.Row{
				{"bucket": "2024-01-02", "value": uint64(5)},
			}, nil
		},
	}
	e := newTestEngine(store, nil)

	series, err := e.ComputeTrends(context.Background(), TrendRequest{
		Combinations: []models.TrendCombination{{Event: "page_view"}},
		DateRange:    models.DateRange{Start: "2024-01-01", End: "2024-01-03"},
		Granularity:  models.GranularityDaily,
		Metric:       models.MetricSpec{Type: models.MetricTotal},
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(series) != 1 {
		t.Fatalf("series: got %d", len(series))
	}
	if series[0].Name != "page_view" {
		t.Fatalf("series name falls back to event, got %q", series[0].Name)
	}

	points := series[0].Points
	if len(points) != 3 {
		t.Fatalf("points: got %d", len(points))
	}
	if points[0].Value != 0 || points[1].Value != 5 || points[2].Value != 0 {
		t.Fatalf("zero fill: %+v", points)
	}
}

func TestComputeTrends_OneSeriesPerCombination(t *testing.T) {
	store := &fakeExecutor{
		respond: func(spec storage.QuerySpec) ([]storage.Row, error) {
			switch {
			case argsContain(spec, "signup"):
				return []storage.Row{{"bucket": "2024-01-01", "value": uint64(2)}}, nil
			case argsContain(spec, "purchase"):
				return []storage.Row{{"bucket": "2024-01-01", "value": uint64(1)}}, nil
			}
			return nil, nil
		},
	}
	e := newTestEngine(store, nil)

	series, err := e.ComputeTrends(context.Background(), TrendRequest{
		Combinations: []models.TrendCombination{
			{Event: "signup"},
			{Event: "purchase", Name: "Purchases"},
		},
		DateRange: models.DateRange{Start: "2024-01-01", End: "2024-01-01"},
		Metric:    models.MetricSpec{Type: models.MetricTotal},
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if store.queryCount() != 2 {
		t.Fatalf("one query per combination, got %d", store.queryCount())
	}
	if len(series) != 2 {
		t.Fatalf("series: got %d", len(series))
	}
	// Order matches the request, not query completion.
	if series[0].Name != "signup" || series[1].Name != "Purchases" {
		t.Fatalf("series order/names: %q, %q", series[0].Name, series[1].Name)
	}
	if series[0].Points[0].Value != 2 || series[1].Points[0].Value != 1 {
		t.Fatalf("series values: %+v / %+v", series[0].Points, series[1].Points)
	}
}

func TestComputeTrends_FailFast(t *testing.T) {
	wantErr := &storage.StoreError{Err: context.DeadlineExceeded}
	store := &fakeExecutor{
		respond: func(spec storage.QuerySpec) ([]storage.Row, error) {
			if argsContain(spec, "purchase") {
				return nil, wantErr
			}
			return []storage.Row{{"bucket": "2024-01-01", "value": uint64(1)}}, nil
		},
	}
	e := newTestEngine(store, nil)

	_, err := e.ComputeTrends(context.Background(), TrendRequest{
		Combinations: []models.TrendCombination{
			{Event: "signup"}, {Event: "purchase"},
		},
		DateRange: models.DateRange{Start: "2024-01-01", End: "2024-01-01"},
		Metric:    models.MetricSpec{Type: models.MetricTotal},
	})
	var storeErr *storage.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("any failing combination aborts the request, got %v", err)
	}
}

func TestComputeTrendBreakdown_SingleCombinationOnly(t *testing.T) {
	e := newTestEngine(&fakeExecutor{}, nil)

	_, err := e.ComputeTrendBreakdown(context.Background(), TrendRequest{
		Combinations: []models.TrendCombination{{Event: "a"}, {Event: "b"}},
		DateRange:    models.DateRange{Start: "2024-01-01", End: "2024-01-02"},
		Metric:       models.MetricSpec{Type: models.MetricTotal},
		Breakdown:    models.BreakdownSpec{{Property: "geo_country"}},
	})
	var cfgErr *query.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestComputeTrendBreakdown_RankedSegmentSeries(t *testing.T) {
	store := &fakeExecutor{
		respond: func(spec storage.QuerySpec) ([]storage.Row, error) {
			return []storage.Row{
				{"bucket": "2024-01-01", "seg": "US", "value": uint64(3)},
				{"bucket": "2024-01-02", "seg": "US", "value": uint64(4)},
				{"bucket": "2024-01-01", "seg": "DE", "value": uint64(10)},
				{"bucket": "2024-01-01", "seg": "", "value": uint64(99)},
			}, nil
		},
	}
	e := newTestEngine(store, nil)

	breakdowns, err := e.ComputeTrendBreakdown(context.Background(), TrendRequest{
		Combinations: []models.TrendCombination{{Event: "page_view"}},
		DateRange:    models.DateRange{Start: "2024-01-01", End: "2024-01-02"},
		Metric:       models.MetricSpec{Type: models.MetricTotal},
		Breakdown:    models.BreakdownSpec{{Property: "geo_country"}},
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	if len(breakdowns) != 2 {
		t.Fatalf("unnamed segment must be dropped, got %d segments", len(breakdowns))
	}
	// DE total 10 beats US total 7.
	if breakdowns[0].SegmentName != "DE" || breakdowns[1].SegmentName != "US" {
		t.Fatalf("segment order: %q, %q", breakdowns[0].SegmentName, breakdowns[1].SegmentName)
	}
	us := breakdowns[1].Series
	if len(us) != 2 || us[0].Value != 3 || us[1].Value != 4 {
		t.Fatalf("US series: %+v", us)
	}
	de := breakdowns[0].Series
	if len(de) != 2 || de[0].Value != 10 || de[1].Value != 0 {
		t.Fatalf("DE series must zero-fill, got %+v", de)
	}
}
