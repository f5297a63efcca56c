package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumalytics/luma/internal/models"
	"github.com/lumalytics/luma/internal/query"
	"github.com/lumalytics/luma/internal/storage"
)

// defaultRetentionPeriods is used when a request names no periods.
var defaultRetentionPeriods = []int{1, 3, 7, 14, 30}

// ComputeRetention computes per-cohort retention curves. A cohort is every
// entity whose earliest activation in range fell on the same date; retention
// at period p is the share of the cohort that performed the return event
// exactly p days after activation.
func (e *Engine) ComputeRetention(ctx context.Context, cfg models.RetentionConfig) ([]models.RetentionCohort, error) {
	if cfg.ActivationEvent == "" || cfg.ReturnEvent == "" {
		return nil, query.Configf("retention requires an activation and a return event")
	}
	bounds, err := parseDateRange(cfg.DateRange)
	if err != nil {
		return nil, err
	}
	periods := cfg.Periods
	if len(periods) == 0 {
		periods = defaultRetentionPeriods
	}
	for _, p := range periods {
		if p < 0 {
			return nil, query.Configf("retention period %d is negative", p)
		}
	}

	key := requestKey("retention", cfg)
	var cached []models.RetentionCohort
	if e.cacheLookup(ctx, "retention", key, &cached) {
		return cached, nil
	}

	started := time.Now()

	maxPeriod := 0
	for _, p := range periods {
		if p > maxPeriod {
			maxPeriod = p
		}
	}

	var (
		cohorts map[string]time.Time   // entity -> earliest activation date
		returns map[string][]time.Time // entity -> return dates
	)

	// The activation and return scans are independent; run both at once.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cohorts, err = e.fetchActivations(gctx, cfg, bounds)
		return err
	})
	g.Go(func() error {
		var err error
		returns, err = e.fetchReturns(gctx, cfg, bounds, maxPeriod)
		return err
	})
	if err := g.Wait(); err != nil {
		e.metrics.RecordComputation("retention", "error", time.Since(started))
		return nil, err
	}

	out := buildRetentionCohorts(cohorts, returns, periods)

	e.metrics.RecordComputation("retention", "ok", time.Since(started))
	e.cacheStore(ctx, key, out)
	return out, nil
}

// retentionSegmentFilter turns the optional single-property restriction
// into a filter group; equality semantics match the filter compiler's.
func retentionSegmentFilter(cfg models.RetentionConfig) models.FilterGroup {
	if cfg.SegmentProperty == "" {
		return models.FilterGroup{}
	}
	return models.FilterGroup{Filters: []models.PropertyFilter{{
		Property: cfg.SegmentProperty,
		Operator: models.OpEquals,
		Value:    cfg.SegmentValue,
	}}}
}

func (e *Engine) fetchActivations(ctx context.Context, cfg models.RetentionConfig, bounds dateBounds) (map[string]time.Time, error) {
	s := e.schema
	frag, _ := query.CompileFilterGroup(s, retentionSegmentFilter(cfg))
	rangeSQL, rangeArgs := timeRangePredicate(s, bounds)

	sql := "SELECT " + s.EntityExpr + " AS entity, min(toDate(" + s.TimestampColumn + ")) AS cohort" +
		" FROM " + s.TableFor(cfg.Source) +
		" WHERE " + rangeSQL +
		" AND " + s.EventColumn + " = ?" +
		" AND " + frag.SQL +
		" GROUP BY entity" +
		fmt.Sprintf(" LIMIT %d", e.cfg.MaxEntities)

	args := append([]any{}, rangeArgs...)
	args = append(args, cfg.ActivationEvent)
	args = append(args, frag.Args...)

	rows, err := e.runQuery(ctx, "retention", storage.QuerySpec{SQL: sql, Args: args})
	if err != nil {
		return nil, err
	}

	out := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		entity := rowString(row["entity"])
		cohort := rowTime(row["cohort"])
		if entity == "" || cohort.IsZero() {
			continue
		}
		out[entity] = cohort
	}
	return out, nil
}

// fetchReturns scans return events from the range start out to the largest
// period past the range end, so late-range cohorts still see their curves.
func (e *Engine) fetchReturns(ctx context.Context, cfg models.RetentionConfig, bounds dateBounds, maxPeriod int) (map[string][]time.Time, error) {
	s := e.schema
	frag, _ := query.CompileFilterGroup(s, retentionSegmentFilter(cfg))
	extended := dateBounds{start: bounds.start, end: bounds.end.AddDate(0, 0, maxPeriod)}
	rangeSQL, rangeArgs := timeRangePredicate(s, extended)

	sql := "SELECT " + s.EntityExpr + " AS entity, groupArray(toDate(" + s.TimestampColumn + ")) AS dates" +
		" FROM " + s.TableFor(cfg.Source) +
		" WHERE " + rangeSQL +
		" AND " + s.EventColumn + " = ?" +
		" AND " + frag.SQL +
		" GROUP BY entity" +
		fmt.Sprintf(" LIMIT %d", e.cfg.MaxEntities)

	args := append([]any{}, rangeArgs...)
	args = append(args, cfg.ReturnEvent)
	args = append(args, frag.Args...)

	rows, err := e.runQuery(ctx, "retention", storage.QuerySpec{SQL: sql, Args: args})
	if err != nil {
		return nil, err
	}

	out := make(map[string][]time.Time, len(rows))
	for _, row := range rows {
		entity := rowString(row["entity"])
		if entity == "" {
			continue
		}
		out[entity] = rowTimeSlice(row["dates"])
	}
	return out, nil
}

func buildRetentionCohorts(cohorts map[string]time.Time, returns map[string][]time.Time, periods []int) []models.RetentionCohort {
	type cohortAcc struct {
		size     int
		retained map[int]map[string]bool // period -> entities seen at that offset
	}
	acc := make(map[string]*cohortAcc)

	wanted := make(map[int]bool, len(periods))
	for _, p := range periods {
		wanted[p] = true
	}

	for entity, cohortDate := range cohorts {
		dateKey := cohortDate.Format("2006-01-02")
		a, ok := acc[dateKey]
		if !ok {
			a = &cohortAcc{retained: make(map[int]map[string]bool)}
			acc[dateKey] = a
		}
		a.size++

		for _, rd := range returns[entity] {
			if rd.Before(cohortDate) {
				continue
			}
			offset := int(rd.Sub(cohortDate).Hours() / 24)
			if !wanted[offset] {
				continue
			}
			if a.retained[offset] == nil {
				a.retained[offset] = make(map[string]bool)
			}
			a.retained[offset][entity] = true
		}
	}

	dates := make([]string, 0, len(acc))
	for d := range acc {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	out := make([]models.RetentionCohort, 0, len(dates))
	for _, d := range dates {
		a := acc[d]
		if a.size == 0 {
			continue
		}
		points := make([]models.RetentionPoint, len(periods))
		for i, p := range periods {
			retained := len(a.retained[p])
			points[i] = models.RetentionPoint{
				Day:           p,
				Retained:      retained,
				RetentionRate: float64(retained) / float64(a.size) * 100,
			}
		}
		out = append(out, models.RetentionCohort{CohortDate: d, CohortSize: a.size, Points: points})
	}
	return out
}
