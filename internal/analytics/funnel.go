package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lumalytics/luma/internal/models"
	"github.com/lumalytics/luma/internal/query"
	"github.com/lumalytics/luma/internal/storage"
)

// FunnelRequest describes an ordered multi-step conversion analysis.
type FunnelRequest struct {
	Steps             []models.FunnelStepSpec `json:"steps"`
	DateRange         models.DateRange        `json:"date_range"`
	TimeWindowSeconds int64                   `json:"time_window_seconds,omitempty"`
	Metric            models.MetricSpec       `json:"metric"`
	Breakdown         models.BreakdownSpec    `json:"breakdown,omitempty"`
}

func (e *Engine) funnelWindow(req FunnelRequest) int64 {
	if req.TimeWindowSeconds > 0 {
		return req.TimeWindowSeconds
	}
	return int64(e.cfg.DefaultTimeWindow / time.Second)
}

func (e *Engine) validateFunnel(req FunnelRequest) (dateBounds, error) {
	if len(req.Steps) < 2 {
		return dateBounds{}, query.Configf("a funnel requires at least 2 steps")
	}
	for i, s := range req.Steps {
		if s.Event == "" {
			return dateBounds{}, query.Configf("funnel step %d has no event", i+1)
		}
	}
	if err := query.ValidateMetric(req.Metric); err != nil {
		return dateBounds{}, err
	}
	return parseDateRange(req.DateRange)
}

// ComputeFunnel computes step-by-step conversion for an ordered list of
// steps. A homogeneous-source funnel runs as one windowed grouped query;
// heterogeneous sources fall back to per-step queries correlated by entity.
func (e *Engine) ComputeFunnel(ctx context.Context, req FunnelRequest) ([]models.FunnelStepResult, error) {
	bounds, err := e.validateFunnel(req)
	if err != nil {
		return nil, err
	}
	req.Breakdown = nil

	key := requestKey("funnel", req)
	var cached []models.FunnelStepResult
	if e.cacheLookup(ctx, "funnel", key, &cached) {
		return cached, nil
	}

	started := time.Now()
	var steps []models.FunnelStepResult
	if singleSource(req.Steps) {
		steps, err = e.windowedFunnel(ctx, req, bounds)
	} else {
		steps, err = e.sequentialFunnel(ctx, req, bounds)
	}
	if err != nil {
		e.metrics.RecordComputation("funnel", "error", time.Since(started))
		return nil, err
	}
	e.metrics.RecordComputation("funnel", "ok", time.Since(started))

	e.cacheStore(ctx, key, steps)
	return steps, nil
}

// ComputeFunnelBreakdown computes the funnel independently per composite
// segment, ranked by step-1 metric value descending and capped.
func (e *Engine) ComputeFunnelBreakdown(ctx context.Context, req FunnelRequest) ([]models.FunnelBreakdown, error) {
	bounds, err := e.validateFunnel(req)
	if err != nil {
		return nil, err
	}
	if len(req.Breakdown) == 0 {
		return nil, query.Configf("funnel breakdown requires breakdown properties")
	}
	if _, _, err := query.CompileSegment(e.schema, req.Breakdown); err != nil {
		return nil, err
	}

	key := requestKey("funnel_breakdown", req)
	var cached []models.FunnelBreakdown
	if e.cacheLookup(ctx, "funnel_breakdown", key, &cached) {
		return cached, nil
	}

	started := time.Now()
	var out []models.FunnelBreakdown
	if singleSource(req.Steps) {
		out, err = e.windowedFunnelBreakdown(ctx, req, bounds)
	} else {
		out, err = e.sequentialFunnelBreakdown(ctx, req, bounds)
	}
	if err != nil {
		e.metrics.RecordComputation("funnel", "error", time.Since(started))
		return nil, err
	}
	e.metrics.RecordComputation("funnel", "ok", time.Since(started))

	e.cacheStore(ctx, key, out)
	return out, nil
}

func singleSource(steps []models.FunnelStepSpec) bool {
	first := steps[0].Source
	for _, s := range steps[1:] {
		if s.Source != first {
			return false
		}
	}
	return true
}

// ---- Windowed single-source strategy ----

// entityScan is one entity's fetched event history: parallel arrays of
// timestamps, per-step match flags, metric property values and segment
// keys, all in store insertion order.
type entityScan struct {
	entity string
	ts     []int64
	flags  [][]bool
	vals   []string
	segs   []string
}

// stepPredicate compiles one step's event + filters into a row predicate.
func stepPredicate(s *query.Schema, step models.FunnelStepSpec) (string, []any) {
	frag, _ := query.CompileFilterGroup(s, step.Filters)
	sql := "(" + s.EventColumn + " = ? AND " + frag.SQL + ")"
	args := make([]any, 0, len(frag.Args)+1)
	args = append(args, step.Event)
	args = append(args, frag.Args...)
	return sql, args
}

// fetchEntityScans runs the single grouped query behind the windowed
// strategy and decodes one scan per entity.
func (e *Engine) fetchEntityScans(ctx context.Context, req FunnelRequest, bounds dateBounds) ([]entityScan, error) {
	s := e.schema
	table := s.TableFor(req.Steps[0].Source)

	preds := make([]string, len(req.Steps))
	predArgs := make([][]any, len(req.Steps))
	for i, step := range req.Steps {
		preds[i], predArgs[i] = stepPredicate(s, step)
	}

	needVals := req.Metric.RequiresProperty()

	selectCols := []string{
		s.EntityExpr + " AS entity",
		"groupArray(toUnixTimestamp(" + s.TimestampColumn + ")) AS ts",
	}
	var selectArgs []any
	for i := range req.Steps {
		selectCols = append(selectCols, fmt.Sprintf("groupArray(if(%s, 1, 0)) AS step_%d", preds[i], i))
		selectArgs = append(selectArgs, predArgs[i]...)
	}
	if needVals {
		selectCols = append(selectCols, "groupArray(toString("+s.PropertyExpr(req.Metric.Property)+")) AS vals")
	}

	var segPred string
	if len(req.Breakdown) > 0 {
		keyExpr, nonEmpty, err := query.CompileSegment(s, req.Breakdown)
		if err != nil {
			return nil, err
		}
		selectCols = append(selectCols, "groupArray("+keyExpr+") AS seg")
		segPred = nonEmpty
	}

	rangeSQL, rangeArgs := timeRangePredicate(s, bounds)
	whereParts := []string{rangeSQL, "(" + strings.Join(preds, " OR ") + ")"}
	whereArgs := append([]any{}, rangeArgs...)
	for i := range req.Steps {
		whereArgs = append(whereArgs, predArgs[i]...)
	}
	if segPred != "" {
		whereParts = append(whereParts, segPred)
	}

	sql := "SELECT " + strings.Join(selectCols, ", ") +
		" FROM " + table +
		" WHERE " + strings.Join(whereParts, " AND ") +
		" GROUP BY entity" +
		fmt.Sprintf(" LIMIT %d", e.cfg.MaxEntities)

	args := append(selectArgs, whereArgs...)
	rows, err := e.runQuery(ctx, "funnel", storage.QuerySpec{SQL: sql, Args: args})
	if err != nil {
		return nil, err
	}

	scans := make([]entityScan, 0, len(rows))
	for _, row := range rows {
		scan := entityScan{
			entity: rowString(row["entity"]),
			ts:     rowInt64Slice(row["ts"]),
			flags:  make([][]bool, len(req.Steps)),
			vals:   rowStringSlice(row["vals"]),
			segs:   rowStringSlice(row["seg"]),
		}
		for i := range req.Steps {
			scan.flags[i] = rowBoolSlice(row[fmt.Sprintf("step_%d", i)])
		}
		scans = append(scans, scan)
	}
	return scans, nil
}

// funnelLevel walks one entity's events in timestamp order and returns the
// highest consecutive step count satisfied within the window, plus the
// segment key of the step-1 match. Equal timestamps keep store insertion
// order (stable sort) and can never satisfy the "strictly after" rule for
// the next step.
func funnelLevel(scan entityScan, stepCount int, windowSec int64) (int, string) {
	n := len(scan.ts)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scan.ts[order[a]] < scan.ts[order[b]] })

	level := 0
	var lastTs int64
	var segment string

	for _, k := range order {
		if level >= stepCount {
			break
		}
		if k >= len(scan.flags[level]) || !scan.flags[level][k] {
			continue
		}
		if level > 0 {
			if scan.ts[k] <= lastTs {
				continue
			}
			if windowSec > 0 && scan.ts[k]-lastTs > windowSec {
				continue
			}
		} else if k < len(scan.segs) {
			segment = scan.segs[k]
		}
		lastTs = scan.ts[k]
		level++
	}
	return level, segment
}

// foldStepMetrics computes each step's metric over rows matching that
// step's own filter, restricted to entities whose funnel level reaches it.
func foldStepMetrics(scans []entityScan, levels []int, metric models.MetricSpec, stepCount int) []float64 {
	folds := make([]*query.Fold, stepCount)
	for i := range folds {
		folds[i] = query.NewFold(metric)
	}

	for si, scan := range scans {
		for step := 0; step < levels[si]; step++ {
			for k, matched := range scan.flags[step] {
				if !matched {
					continue
				}
				val := ""
				if k < len(scan.vals) {
					val = scan.vals[k]
				}
				folds[step].Add(scan.entity, val)
			}
		}
	}

	values := make([]float64, stepCount)
	for i, f := range folds {
		values[i] = f.Value()
	}
	return values
}

func (e *Engine) windowedFunnel(ctx context.Context, req FunnelRequest, bounds dateBounds) ([]models.FunnelStepResult, error) {
	scans, err := e.fetchEntityScans(ctx, req, bounds)
	if err != nil {
		return nil, err
	}

	window := e.funnelWindow(req)
	levels := make([]int, len(scans))
	for i, scan := range scans {
		levels[i], _ = funnelLevel(scan, len(req.Steps), window)
	}

	values := foldStepMetrics(scans, levels, req.Metric, len(req.Steps))
	return assembleFunnelSteps(req.Steps, values, ""), nil
}

func (e *Engine) windowedFunnelBreakdown(ctx context.Context, req FunnelRequest, bounds dateBounds) ([]models.FunnelBreakdown, error) {
	scans, err := e.fetchEntityScans(ctx, req, bounds)
	if err != nil {
		return nil, err
	}

	window := e.funnelWindow(req)

	// Partition entities by the segment of their step-1 match.
	type segGroup struct {
		scans  []entityScan
		levels []int
	}
	groups := make(map[string]*segGroup)
	for _, scan := range scans {
		level, segment := funnelLevel(scan, len(req.Steps), window)
		if level == 0 || segment == "" {
			continue
		}
		g, ok := groups[segment]
		if !ok {
			g = &segGroup{}
			groups[segment] = g
		}
		g.scans = append(g.scans, scan)
		g.levels = append(g.levels, level)
	}

	valuesBySeg := make(map[string][]float64, len(groups))
	ranked := make([]rankedSegment, 0, len(groups))
	for segment, g := range groups {
		values := foldStepMetrics(g.scans, g.levels, req.Metric, len(req.Steps))
		valuesBySeg[segment] = values
		ranked = append(ranked, rankedSegment{name: segment, value: values[0]})
	}
	ranked = rankSegments(ranked, e.cfg.MaxSegments)

	out := make([]models.FunnelBreakdown, 0, len(ranked))
	for _, rs := range ranked {
		out = append(out, models.FunnelBreakdown{
			SegmentName: rs.name,
			Steps:       assembleFunnelSteps(req.Steps, valuesBySeg[rs.name], rs.name),
		})
	}
	return out, nil
}

// ---- Sequential multi-source strategy ----

// stepRows fetches the raw matching rows for one step, optionally
// restricted to a running entity set.
func (e *Engine) stepRows(ctx context.Context, req FunnelRequest, bounds dateBounds, idx int, entities []string, withSegment bool) ([]storage.Row, error) {
	s := e.schema
	step := req.Steps[idx]

	frag, _ := query.CompileFilterGroup(s, step.Filters)
	rangeSQL, rangeArgs := timeRangePredicate(s, bounds)

	selectCols := []string{s.EntityExpr + " AS entity"}
	if req.Metric.RequiresProperty() {
		selectCols = append(selectCols, "toString("+s.PropertyExpr(req.Metric.Property)+") AS value")
	}
	var segPred string
	if withSegment {
		keyExpr, nonEmpty, err := query.CompileSegment(s, req.Breakdown)
		if err != nil {
			return nil, err
		}
		selectCols = append(selectCols, keyExpr+" AS seg")
		segPred = nonEmpty
	}

	whereParts := []string{rangeSQL, s.EventColumn + " = ?", frag.SQL}
	args := append([]any{}, rangeArgs...)
	args = append(args, step.Event)
	args = append(args, frag.Args...)
	if segPred != "" {
		whereParts = append(whereParts, segPred)
	}
	if entities != nil {
		whereParts = append(whereParts, s.EntityExpr+" IN (?)")
		args = append(args, entities)
	}

	sql := "SELECT " + strings.Join(selectCols, ", ") +
		" FROM " + s.TableFor(step.Source) +
		" WHERE " + strings.Join(whereParts, " AND ") +
		fmt.Sprintf(" LIMIT %d", e.cfg.MaxEntities)

	return e.runQuery(ctx, "funnel", storage.QuerySpec{SQL: sql, Args: args})
}

func sortedEntities(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for entity := range set {
		out = append(out, entity)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) sequentialFunnel(ctx context.Context, req FunnelRequest, bounds dateBounds) ([]models.FunnelStepResult, error) {
	values := make([]float64, len(req.Steps))
	shortCircuitAt := -1

	var running map[string]bool
	for i := range req.Steps {
		var filter []string
		if i > 0 {
			filter = sortedEntities(running)
		}
		rows, err := e.stepRows(ctx, req, bounds, i, filter, false)
		if err != nil {
			return nil, err
		}

		fold := query.NewFold(req.Metric)
		next := make(map[string]bool)
		for _, row := range rows {
			entity := rowString(row["entity"])
			if i > 0 && !running[entity] {
				continue
			}
			next[entity] = true
			fold.Add(entity, rowString(row["value"]))
		}

		values[i] = fold.Value()
		running = next

		// Once nobody is left, every later step is zero; do not issue
		// further queries.
		if len(running) == 0 {
			shortCircuitAt = i
			break
		}
	}

	steps := assembleFunnelSteps(req.Steps, values, "")
	applyShortCircuit(steps, shortCircuitAt)
	return steps, nil
}

// applyShortCircuit forces the contract for steps past an exhausted
// running set: metric 0, conversion 0, drop-off 100.
func applyShortCircuit(steps []models.FunnelStepResult, at int) {
	if at < 0 {
		return
	}
	for i := at + 1; i < len(steps); i++ {
		steps[i].MetricValue = 0
		steps[i].ConversionRate = 0
		steps[i].DropOffRate = 100
	}
}

func (e *Engine) sequentialFunnelBreakdown(ctx context.Context, req FunnelRequest, bounds dateBounds) ([]models.FunnelBreakdown, error) {
	// Step 1 fixes each entity's segment; later steps are queried once
	// across the union of all running sets and partitioned back through
	// the segment map.
	rows, err := e.stepRows(ctx, req, bounds, 0, nil, true)
	if err != nil {
		return nil, err
	}

	type segState struct {
		values  []float64
		running map[string]bool
		done    int // index of the step whose running set emptied, -1 otherwise
	}

	entitySegment := make(map[string]string)
	states := make(map[string]*segState)
	folds := make(map[string]*query.Fold)

	for _, row := range rows {
		entity := rowString(row["entity"])
		segment := rowString(row["seg"])
		if segment == "" {
			continue
		}
		if prev, ok := entitySegment[entity]; ok && prev != segment {
			continue // an entity belongs to its first observed segment
		}
		entitySegment[entity] = segment

		st, ok := states[segment]
		if !ok {
			st = &segState{values: make([]float64, len(req.Steps)), running: make(map[string]bool), done: -1}
			states[segment] = st
			folds[segment] = query.NewFold(req.Metric)
		}
		st.running[entity] = true
		folds[segment].Add(entity, rowString(row["value"]))
	}
	for segment, st := range states {
		st.values[0] = folds[segment].Value()
	}

	for i := 1; i < len(req.Steps); i++ {
		union := make(map[string]bool)
		for _, st := range states {
			if st.done >= 0 {
				continue
			}
			for entity := range st.running {
				union[entity] = true
			}
		}
		if len(union) == 0 {
			break
		}

		rows, err := e.stepRows(ctx, req, bounds, i, sortedEntities(union), false)
		if err != nil {
			return nil, err
		}

		stepFolds := make(map[string]*query.Fold)
		nextSets := make(map[string]map[string]bool)
		for _, row := range rows {
			entity := rowString(row["entity"])
			segment := entitySegment[entity]
			if segment == "" {
				continue
			}
			st := states[segment]
			if st == nil || st.done >= 0 || !st.running[entity] {
				continue
			}
			if stepFolds[segment] == nil {
				stepFolds[segment] = query.NewFold(req.Metric)
				nextSets[segment] = make(map[string]bool)
			}
			nextSets[segment][entity] = true
			stepFolds[segment].Add(entity, rowString(row["value"]))
		}

		for segment, st := range states {
			if st.done >= 0 {
				continue
			}
			if f, ok := stepFolds[segment]; ok {
				st.values[i] = f.Value()
				st.running = nextSets[segment]
			} else {
				st.running = nil
			}
			if len(st.running) == 0 {
				st.done = i
			}
		}
	}

	ranked := make([]rankedSegment, 0, len(states))
	for segment, st := range states {
		ranked = append(ranked, rankedSegment{name: segment, value: st.values[0]})
	}
	ranked = rankSegments(ranked, e.cfg.MaxSegments)

	out := make([]models.FunnelBreakdown, 0, len(ranked))
	for _, rs := range ranked {
		st := states[rs.name]
		steps := assembleFunnelSteps(req.Steps, st.values, rs.name)
		applyShortCircuit(steps, st.done)
		out = append(out, models.FunnelBreakdown{SegmentName: rs.name, Steps: steps})
	}
	return out, nil
}
