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

const (
	defaultPathDepth = 5
	defaultTopPaths  = 10
)

// ComputePaths reconstructs the most common event journeys starting from a
// configured event, as ranked sequences plus a positioned traversal graph.
func (e *Engine) ComputePaths(ctx context.Context, cfg models.PathConfig) (*models.PathResult, error) {
	if cfg.StartEvent == "" {
		return nil, query.Configf("path analysis requires a start event")
	}
	if cfg.OnlyReachEnd && cfg.EndEvent == "" {
		return nil, query.Configf("only_reach_end requires an end event")
	}
	bounds, err := parseDateRange(cfg.DateRange)
	if err != nil {
		return nil, err
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultPathDepth
	}
	if cfg.TopPaths <= 0 {
		cfg.TopPaths = defaultTopPaths
	}

	key := requestKey("paths", cfg)
	var cached *models.PathResult
	if e.cacheLookup(ctx, "paths", key, &cached) && cached != nil {
		return cached, nil
	}

	started := time.Now()
	histories, err := e.fetchPathHistories(ctx, cfg, bounds)
	if err != nil {
		e.metrics.RecordComputation("paths", "error", time.Since(started))
		return nil, err
	}

	result := assemblePaths(cfg, histories)

	e.metrics.RecordComputation("paths", "ok", time.Since(started))
	e.cacheStore(ctx, key, result)
	return result, nil
}

// pathHistory is one qualifying entity's full in-range event stream.
type pathHistory struct {
	ts     []int64
	events []string
}

// fetchPathHistories pulls every in-range event of each entity that
// performed the start event (and the end event, when required).
func (e *Engine) fetchPathHistories(ctx context.Context, cfg models.PathConfig, bounds dateBounds) ([]pathHistory, error) {
	s := e.schema
	table := s.TableFor(cfg.Source)
	rangeSQL, rangeArgs := timeRangePredicate(s, bounds)

	qualifier := "(SELECT " + s.EntityExpr + " FROM " + table +
		" WHERE " + rangeSQL + " AND " + s.EventColumn + " = ?)"

	whereParts := []string{rangeSQL, s.EntityExpr + " IN " + qualifier}
	args := append([]any{}, rangeArgs...)
	args = append(args, rangeArgs...)
	args = append(args, cfg.StartEvent)

	if cfg.OnlyReachEnd {
		whereParts = append(whereParts, s.EntityExpr+" IN "+qualifier)
		args = append(args, rangeArgs...)
		args = append(args, cfg.EndEvent)
	}

	sql := "SELECT " + s.EntityExpr + " AS entity" +
		", groupArray(toUnixTimestamp(" + s.TimestampColumn + ")) AS ts" +
		", groupArray(" + s.EventColumn + ") AS events" +
		" FROM " + table +
		" WHERE " + strings.Join(whereParts, " AND ") +
		" GROUP BY entity" +
		fmt.Sprintf(" LIMIT %d", e.cfg.MaxEntities)

	rows, err := e.runQuery(ctx, "paths", storage.QuerySpec{SQL: sql, Args: args})
	if err != nil {
		return nil, err
	}

	out := make([]pathHistory, 0, len(rows))
	for _, row := range rows {
		out = append(out, pathHistory{
			ts:     rowInt64Slice(row["ts"]),
			events: rowStringSlice(row["events"]),
		})
	}
	return out, nil
}

// cleanSequence orders one entity's events, drops excluded events, and
// collapses consecutive duplicates. Deduplication runs before any depth
// slicing; doing it after would change which events land in the window.
func cleanSequence(h pathHistory, excluded map[string]bool) []string {
	order := make([]int, len(h.ts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return h.ts[order[a]] < h.ts[order[b]] })

	out := make([]string, 0, len(order))
	for _, k := range order {
		if k >= len(h.events) {
			continue
		}
		ev := h.events[k]
		if excluded[ev] {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == ev {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// extractWindow slices up to maxDepth steps starting at the first start
// event; sequences shorter than 2 steps qualify nothing.
func extractWindow(seq []string, start string, maxDepth int) []string {
	for i, ev := range seq {
		if ev != start {
			continue
		}
		end := i + maxDepth
		if end > len(seq) {
			end = len(seq)
		}
		window := seq[i:end]
		if len(window) < 2 {
			return nil
		}
		return window
	}
	return nil
}

func containsEvent(seq []string, ev string) bool {
	for _, e := range seq {
		if e == ev {
			return true
		}
	}
	return false
}

func assemblePaths(cfg models.PathConfig, histories []pathHistory) *models.PathResult {
	excluded := make(map[string]bool, len(cfg.ExcludedEvents))
	for _, ev := range cfg.ExcludedEvents {
		excluded[ev] = true
	}

	total := len(histories)

	counts := make(map[string]int)
	for _, h := range histories {
		window := extractWindow(cleanSequence(h, excluded), cfg.StartEvent, cfg.MaxDepth)
		if window == nil {
			continue
		}
		if cfg.OnlyReachEnd && !containsEvent(window, cfg.EndEvent) {
			continue
		}
		counts[strings.Join(window, "\x00")]++
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > cfg.TopPaths {
		keys = keys[:cfg.TopPaths]
	}

	result := &models.PathResult{TotalEntities: total}

	nodeCounts := make(map[string]*models.PathNode)
	edgeCounts := make(map[[2]string]int)

	for _, k := range keys {
		seq := strings.Split(k, "\x00")
		count := counts[k]
		result.Sequences = append(result.Sequences, models.PathSequence{
			Sequence:   seq,
			Count:      count,
			Percentage: percentOf(count, total),
		})

		for pos, ev := range seq {
			id := fmt.Sprintf("%d:%s", pos, ev)
			node, ok := nodeCounts[id]
			if !ok {
				node = &models.PathNode{ID: id, Event: ev, Position: pos}
				nodeCounts[id] = node
			}
			node.Count += count
			if pos > 0 {
				prev := fmt.Sprintf("%d:%s", pos-1, seq[pos-1])
				edgeCounts[[2]string{prev, id}] += count
			}
		}
	}

	for _, node := range nodeCounts {
		node.Percentage = percentOf(node.Count, total)
		result.Nodes = append(result.Nodes, *node)
	}
	sort.Slice(result.Nodes, func(i, j int) bool {
		if result.Nodes[i].Position != result.Nodes[j].Position {
			return result.Nodes[i].Position < result.Nodes[j].Position
		}
		return result.Nodes[i].Event < result.Nodes[j].Event
	})

	for pair, count := range edgeCounts {
		result.Edges = append(result.Edges, models.PathEdge{
			Source:     pair[0],
			Target:     pair[1],
			Count:      count,
			Percentage: percentOf(count, total),
		})
	}
	sort.Slice(result.Edges, func(i, j int) bool {
		if result.Edges[i].Source != result.Edges[j].Source {
			return result.Edges[i].Source < result.Edges[j].Source
		}
		return result.Edges[i].Target < result.Edges[j].Target
	})

	return result
}

func percentOf(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total) * 100
}
