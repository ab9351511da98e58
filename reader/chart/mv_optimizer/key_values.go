package mv_optimizer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/metrico/chartql/reader/chart/chart_utils"
	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/utils/logger"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

// minViewIntervals is the number of view buckets the date range must span for the view to be worth it.
const minViewIntervals = 3

// KeyValuesCall is one distinct-values lookup: the keys to fetch and the config to fetch them with.
type KeyValuesCall struct {
	Config *model.ChartConfig `json:"chartConfig"`
	Keys   []string           `json:"keys"`
}

// OptimizeGetKeyValuesCalls spreads the keys over the views having them as dimension columns. Views reading
// fewer rows are preferred, and keys no view covers stay on the source config.
func (o *Optimizer) OptimizeGetKeyValuesCalls(ctx context.Context, cfg *model.ChartConfig, keys []string,
	source model.Source) []KeyValuesCall {
	type viewKeys struct {
		mv          model.MaterializedViewConfiguration
		keys        []string
		isValid     bool
		rowEstimate float64
	}
	var supported []*viewKeys
	for _, mv := range source.MaterializedViews {
		ok, err := supportsDateRange(mv, cfg)
		if err != nil {
			logger.Warn("Skipping view ", mvID(mv), ": ", err)
			continue
		}
		if !ok || math.Floor(chart_utils.IntervalsInDateRange(cfg.DateRange, mv.MinGranularity)) < minViewIntervals {
			continue
		}
		dimensions := chart_utils.SplitAndTrimWithBracket(mv.DimensionColumns)
		var inView []string
		for _, k := range keys {
			if slices.Contains(dimensions, k) {
				inView = append(inView, k)
			}
		}
		if len(inView) > 0 {
			supported = append(supported, &viewKeys{mv: mv, keys: inView})
		}
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, v := range supported {
		g.Go(func() error {
			selects := make([]string, len(v.keys))
			for i, k := range v.keys {
				// dimension columns need no -Merge combinator
				selects[i] = fmt.Sprintf("groupUniqArray(1)(%s) AS param%d", k, i)
			}
			explained := viewConfig(cfg, v.mv)
			explained.Select = model.RawSelect(strings.Join(selects, ", "))
			estimate := o.validate(gCtx, explained)
			v.isValid = estimate.IsValid
			v.rowEstimate = rowsOrInf(estimate.RowEstimate)
			return nil
		})
	}
	_ = g.Wait()

	valid := make([]*viewKeys, 0, len(supported))
	for _, v := range supported {
		if v.isValid {
			valid = append(valid, v)
		}
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].rowEstimate < valid[j].rowEstimate
	})

	uncovered := slices.Clone(keys)
	var res []KeyValuesCall
	for _, v := range valid {
		var mvKeys []string
		for _, k := range v.keys {
			if idx := slices.Index(uncovered, k); idx >= 0 {
				mvKeys = append(mvKeys, k)
				uncovered = slices.Delete(uncovered, idx, idx+1)
			}
		}
		if len(mvKeys) > 0 {
			res = append(res, KeyValuesCall{Config: viewConfig(cfg, v.mv), Keys: mvKeys})
		}
	}
	if len(uncovered) > 0 {
		res = append(res, KeyValuesCall{Config: cfg.Clone(), Keys: uncovered})
	}
	return res
}

func viewConfig(cfg *model.ChartConfig, mv model.MaterializedViewConfiguration) *model.ChartConfig {
	res := cfg.Clone()
	res.TimestampValueExpression = mv.TimestampColumn
	res.From = model.TableRef{DatabaseName: mv.DatabaseName, TableName: mv.TableName}
	return res
}
