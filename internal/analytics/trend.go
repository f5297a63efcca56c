package analytics

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumalytics/luma/internal/models"
	"github.com/lumalytics/luma/internal/query"
	"github.com/lumalytics/luma/internal/storage"
)

// TrendRequest describes a metric-over-time computation for one or more
// event combinations.
type TrendRequest struct {
	Combinations []models.TrendCombination `json:"combinations"`
	DateRange    models.DateRange          `json:"date_range"`
	Granularity  models.Granularity        `json:"granularity"`
	Metric       models.MetricSpec         `json:"metric"`
	Breakdown    models.BreakdownSpec      `json:"breakdown,omitempty"`
}

func (e *Engine) validateTrend(req TrendRequest) (dateBounds, error) {
	if len(req.Combinations) == 0 {
		return dateBounds{}, query.Configf("a trend requires at least 1 combination")
	}
	for i, c := range req.Combinations {
		if c.Event == "" {
			return dateBounds{}, query.Configf("trend combination %d has no event", i+1)
		}
	}
	switch req.Granularity {
	case models.GranularityDaily, models.GranularityWeekly, models.GranularityMonthly:
	case "":
		// daily applied by caller via normalizeGranularity
	default:
		return dateBounds{}, query.Configf("unknown granularity %q", req.Granularity)
	}
	if err := query.ValidateMetric(req.Metric); err != nil {
		return dateBounds{}, err
	}
	return parseDateRange(req.DateRange)
}

func normalizeGranularity(g models.Granularity) models.Granularity {
	if g == "" {
		return models.GranularityDaily
	}
	return g
}

// ComputeTrends computes one bucketed series per combination. Combinations
// are independent and run concurrently; any failure aborts the request.
func (e *Engine) ComputeTrends(ctx context.Context, req TrendRequest) ([]models.TrendSeries, error) {
	bounds, err := e.validateTrend(req)
	if err != nil {
		return nil, err
	}
	req.Breakdown = nil
	req.Granularity = normalizeGranularity(req.Granularity)

	key := requestKey("trend", req)
	var cached []models.TrendSeries
	if e.cacheLookup(ctx, "trend", key, &cached) {
		return cached, nil
	}

	started := time.Now()
	buckets := enumerateBuckets(bounds, req.Granularity)
	out := make([]models.TrendSeries, len(req.Combinations))

	g, gctx := errgroup.WithContext(ctx)
	for i := range req.Combinations {
		i := i
		g.Go(func() error {
			comb := req.Combinations[i]
			values, err := e.trendValues(gctx, comb, bounds, req.Granularity, req.Metric)
			if err != nil {
				return err
			}
			name := comb.Name
			if name == "" {
				name = comb.Event
			}
			out[i] = models.TrendSeries{Name: name, Points: fillSeries(values, buckets)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.metrics.RecordComputation("trend", "error", time.Since(started))
		return nil, err
	}
	e.metrics.RecordComputation("trend", "ok", time.Since(started))

	e.cacheStore(ctx, key, out)
	return out, nil
}

// ComputeTrendBreakdown computes ranked per-segment series for a single
// combination. Breakdown and cross-combination comparison are mutually
// exclusive within one request.
func (e *Engine) ComputeTrendBreakdown(ctx context.Context, req TrendRequest) ([]models.TrendBreakdown, error) {
	bounds, err := e.validateTrend(req)
	if err != nil {
		return nil, err
	}
	if len(req.Breakdown) == 0 {
		return nil, query.Configf("trend breakdown requires breakdown properties")
	}
	if len(req.Combinations) != 1 {
		return nil, query.Configf("trend breakdown requires exactly 1 combination")
	}
	req.Granularity = normalizeGranularity(req.Granularity)

	keyExpr, nonEmpty, err := query.CompileSegment(e.schema, req.Breakdown)
	if err != nil {
		return nil, err
	}

	key := requestKey("trend_breakdown", req)
	var cached []models.TrendBreakdown
	if e.cacheLookup(ctx, "trend_breakdown", key, &cached) {
		return cached, nil
	}

	started := time.Now()
	comb := req.Combinations[0]
	metricFrag, err := query.CompileMetric(e.schema, req.Metric)
	if err != nil {
		return nil, err
	}

	frag, _ := query.CompileFilterGroup(e.schema, comb.Filters)
	rangeSQL, rangeArgs := timeRangePredicate(e.schema, bounds)

	sql := "SELECT toString(" + bucketExpr(e.schema, req.Granularity) + ") AS bucket, " +
		keyExpr + " AS seg, " +
		metricFrag.SQL + " AS value" +
		" FROM " + e.schema.TableFor(comb.Source) +
		" WHERE " + rangeSQL +
		" AND " + e.schema.EventColumn + " = ?" +
		" AND " + frag.SQL +
		" AND " + nonEmpty +
		" GROUP BY bucket, seg" +
		" ORDER BY bucket, seg"

	args := append([]any{}, metricFrag.Args...)
	args = append(args, rangeArgs...)
	args = append(args, comb.Event)
	args = append(args, frag.Args...)

	rows, err := e.runQuery(ctx, "trend", storage.QuerySpec{SQL: sql, Args: args})
	if err != nil {
		e.metrics.RecordComputation("trend", "error", time.Since(started))
		return nil, err
	}

	perSegment := make(map[string]map[string]float64)
	totals := make(map[string]float64)
	for _, row := range rows {
		seg := rowString(row["seg"])
		if seg == "" {
			continue
		}
		if perSegment[seg] == nil {
			perSegment[seg] = make(map[string]float64)
		}
		v := rowFloat(row["value"])
		perSegment[seg][rowString(row["bucket"])] = v
		totals[seg] += v
	}

	ranked := make([]rankedSegment, 0, len(perSegment))
	for seg := range perSegment {
		ranked = append(ranked, rankedSegment{name: seg, value: totals[seg]})
	}
	ranked = rankSegments(ranked, e.cfg.MaxSegments)

	buckets := enumerateBuckets(bounds, req.Granularity)
	out := make([]models.TrendBreakdown, 0, len(ranked))
	for _, rs := range ranked {
		out = append(out, models.TrendBreakdown{
			SegmentName: rs.name,
			Series:      fillSeries(perSegment[rs.name], buckets),
		})
	}

	e.metrics.RecordComputation("trend", "ok", time.Since(started))
	e.cacheStore(ctx, key, out)
	return out, nil
}

func (e *Engine) trendValues(ctx context.Context, comb models.TrendCombination, bounds dateBounds, g models.Granularity, metric models.MetricSpec) (map[string]float64, error) {
	metricFrag, err := query.CompileMetric(e.schema, metric)
	if err != nil {
		return nil, err
	}

	frag, _ := query.CompileFilterGroup(e.schema, comb.Filters)
	rangeSQL, rangeArgs := timeRangePredicate(e.schema, bounds)

	sql := "SELECT toString(" + bucketExpr(e.schema, g) + ") AS bucket, " +
		metricFrag.SQL + " AS value" +
		" FROM " + e.schema.TableFor(comb.Source) +
		" WHERE " + rangeSQL +
		" AND " + e.schema.EventColumn + " = ?" +
		" AND " + frag.SQL +
		" GROUP BY bucket" +
		" ORDER BY bucket"

	args := append([]any{}, metricFrag.Args...)
	args = append(args, rangeArgs...)
	args = append(args, comb.Event)
	args = append(args, frag.Args...)

	rows, err := e.runQuery(ctx, "trend", storage.QuerySpec{SQL: sql, Args: args})
	if err != nil {
		return nil, err
	}

	values := make(map[string]float64, len(rows))
	for _, row := range rows {
		values[rowString(row["bucket"])] = rowFloat(row["value"])
	}
	return values, nil
}

// bucketExpr maps a granularity onto the store's date truncation.
func bucketExpr(s *query.Schema, g models.Granularity) string {
	switch g {
	case models.GranularityWeekly:
		return "toStartOfWeek(" + s.TimestampColumn + ")"
	case models.GranularityMonthly:
		return "toStartOfMonth(" + s.TimestampColumn + ")"
	default:
		return "toDate(" + s.TimestampColumn + ")"
	}
}

// enumerateBuckets lists every bucket start date in the range so series
// can be zero-filled. Weekly buckets start on Sunday to match the store's
// truncation; monthly buckets on the first of the month.
func enumerateBuckets(bounds dateBounds, g models.Granularity) []string {
	cur := bounds.start
	switch g {
	case models.GranularityWeekly:
		cur = cur.AddDate(0, 0, -int(cur.Weekday()))
	case models.GranularityMonthly:
		cur = time.Date(cur.Year(), cur.Month(), 1, 0, 0, 0, 0, cur.Location())
	}

	var out []string
	for cur.Before(bounds.end) {
		out = append(out, cur.Format("2006-01-02"))
		switch g {
		case models.GranularityWeekly:
			cur = cur.AddDate(0, 0, 7)
		case models.GranularityMonthly:
			cur = cur.AddDate(0, 1, 0)
		default:
			cur = cur.AddDate(0, 0, 1)
		}
	}
	return out
}

// fillSeries produces an ordered series over all buckets, zero-filling
// buckets the store returned no row for.
func fillSeries(values map[string]float64, buckets []string) []models.TrendPoint {
	out := make([]models.TrendPoint, len(buckets))
	for i, b := range buckets {
		out[i] = models.TrendPoint{Date: b, Value: values[b]}
	}
	return out
}
